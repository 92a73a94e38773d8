package mirror

import (
	"time"

	"github.com/moneyprotocol/engineering-sub002/internal/fees"
	"github.com/moneyprotocol/engineering-sub002/internal/fixed"
	"github.com/moneyprotocol/engineering-sub002/internal/model"
	"github.com/moneyprotocol/engineering-sub002/internal/vault"
)

// Field names one entry of the mirrored state.
type Field string

// Base fields, read from chain.
const (
	FieldPrice                             Field = "price"
	FieldNumberOfVaults                    Field = "number_of_vaults"
	FieldTotal                             Field = "total"
	FieldTotalRedistributed                Field = "total_redistributed"
	FieldVaultBeforeRedistribution         Field = "vault_before_redistribution"
	FieldRiskiestVaultBeforeRedistribution Field = "riskiest_vault_before_redistribution"
	FieldAccountBalance                    Field = "account_balance"
	FieldBPDBalance                        Field = "bpd_balance"
	FieldMPBalance                         Field = "mp_balance"
	FieldCollateralSurplusBalance          Field = "collateral_surplus_balance"
	FieldBPDInStabilityPool                Field = "bpd_in_stability_pool"
	FieldStabilityDeposit                  Field = "stability_deposit"
	FieldRemainingStabilityPoolMPReward    Field = "remaining_stability_pool_mp_reward"
	FieldMPStake                           Field = "mp_stake"
	FieldTotalStakedMP                     Field = "total_staked_mp"
	FieldFeesInNormalMode                  Field = "fees_in_normal_mode"
	FieldBlockTimestamp                    Field = "block_timestamp"
)

// Derived fields, recomputed on every update.
const (
	FieldVault                         Field = "vault"
	FieldFees                          Field = "fees"
	FieldBorrowingRate                 Field = "borrowing_rate"
	FieldRedemptionRate                Field = "redemption_rate"
	FieldHaveUndercollateralizedVaults Field = "have_undercollateralized_vaults"
	FieldRecoveryMode                  Field = "recovery_mode"
)

// BaseFields lists every base field in reduction order.
var BaseFields = []Field{
	FieldPrice,
	FieldNumberOfVaults,
	FieldTotal,
	FieldTotalRedistributed,
	FieldVaultBeforeRedistribution,
	FieldRiskiestVaultBeforeRedistribution,
	FieldAccountBalance,
	FieldBPDBalance,
	FieldMPBalance,
	FieldCollateralSurplusBalance,
	FieldBPDInStabilityPool,
	FieldStabilityDeposit,
	FieldRemainingStabilityPoolMPReward,
	FieldMPStake,
	FieldTotalStakedMP,
	FieldFeesInNormalMode,
	FieldBlockTimestamp,
}

// silentFields change nearly every block and nobody reacts to them
// individually. They are refreshed without a log line and never trigger a
// notification on their own.
var silentFields = map[Field]bool{
	FieldRemainingStabilityPoolMPReward: true,
	FieldBlockTimestamp:                 true,
}

// IsSilent reports whether f is refreshed silently.
func IsSilent(f Field) bool { return silentFields[f] }

// Base is the state read from chain.
type Base struct {
	Price                             fixed.Decimal                   `json:"price"`
	NumberOfVaults                    uint64                          `json:"number_of_vaults"`
	Total                             vault.Vault                     `json:"total"`
	TotalRedistributed                vault.Vault                     `json:"total_redistributed"`
	VaultBeforeRedistribution         vault.WithPendingRedistribution `json:"vault_before_redistribution"`
	RiskiestVaultBeforeRedistribution vault.WithPendingRedistribution `json:"riskiest_vault_before_redistribution"`
	AccountBalance                    fixed.Decimal                   `json:"account_balance"`
	BPDBalance                        fixed.Decimal                   `json:"bpd_balance"`
	MPBalance                         fixed.Decimal                   `json:"mp_balance"`
	CollateralSurplusBalance          fixed.Decimal                   `json:"collateral_surplus_balance"`
	BPDInStabilityPool                fixed.Decimal                   `json:"bpd_in_stability_pool"`
	StabilityDeposit                  model.StabilityDeposit          `json:"stability_deposit"`
	RemainingStabilityPoolMPReward    fixed.Decimal                   `json:"remaining_stability_pool_mp_reward"`
	MPStake                           model.MPStake                   `json:"mp_stake"`
	TotalStakedMP                     fixed.Decimal                   `json:"total_staked_mp"`
	FeesInNormalMode                  fees.Fees                       `json:"fees_in_normal_mode"`
	BlockTimestamp                    time.Time                       `json:"block_timestamp"`
}

// Partial is a base-state update. Nil fields were not read this cycle and
// keep their current value.
type Partial struct {
	Price                             *fixed.Decimal
	NumberOfVaults                    *uint64
	Total                             *vault.Vault
	TotalRedistributed                *vault.Vault
	VaultBeforeRedistribution         *vault.WithPendingRedistribution
	RiskiestVaultBeforeRedistribution *vault.WithPendingRedistribution
	AccountBalance                    *fixed.Decimal
	BPDBalance                        *fixed.Decimal
	MPBalance                         *fixed.Decimal
	CollateralSurplusBalance          *fixed.Decimal
	BPDInStabilityPool                *fixed.Decimal
	StabilityDeposit                  *model.StabilityDeposit
	RemainingStabilityPoolMPReward    *fixed.Decimal
	MPStake                           *model.MPStake
	TotalStakedMP                     *fixed.Decimal
	FeesInNormalMode                  *fees.Fees
	BlockTimestamp                    *time.Time
}

// Full returns a Partial that sets every field of b.
func Full(b Base) Partial {
	return Partial{
		Price:                             &b.Price,
		NumberOfVaults:                    &b.NumberOfVaults,
		Total:                             &b.Total,
		TotalRedistributed:                &b.TotalRedistributed,
		VaultBeforeRedistribution:         &b.VaultBeforeRedistribution,
		RiskiestVaultBeforeRedistribution: &b.RiskiestVaultBeforeRedistribution,
		AccountBalance:                    &b.AccountBalance,
		BPDBalance:                        &b.BPDBalance,
		MPBalance:                         &b.MPBalance,
		CollateralSurplusBalance:          &b.CollateralSurplusBalance,
		BPDInStabilityPool:                &b.BPDInStabilityPool,
		StabilityDeposit:                  &b.StabilityDeposit,
		RemainingStabilityPoolMPReward:    &b.RemainingStabilityPoolMPReward,
		MPStake:                           &b.MPStake,
		TotalStakedMP:                     &b.TotalStakedMP,
		FeesInNormalMode:                  &b.FeesInNormalMode,
		BlockTimestamp:                    &b.BlockTimestamp,
	}
}

// Missing lists the fields p does not set.
func (p Partial) Missing() []Field {
	set := []bool{
		p.Price != nil,
		p.NumberOfVaults != nil,
		p.Total != nil,
		p.TotalRedistributed != nil,
		p.VaultBeforeRedistribution != nil,
		p.RiskiestVaultBeforeRedistribution != nil,
		p.AccountBalance != nil,
		p.BPDBalance != nil,
		p.MPBalance != nil,
		p.CollateralSurplusBalance != nil,
		p.BPDInStabilityPool != nil,
		p.StabilityDeposit != nil,
		p.RemainingStabilityPoolMPReward != nil,
		p.MPStake != nil,
		p.TotalStakedMP != nil,
		p.FeesInNormalMode != nil,
		p.BlockTimestamp != nil,
	}
	var missing []Field
	for i, ok := range set {
		if !ok {
			missing = append(missing, BaseFields[i])
		}
	}
	return missing
}

// Derived is computed from Base and the current time.
type Derived struct {
	Vault                         vault.UserVault `json:"vault"`
	Fees                          fees.Fees       `json:"fees"`
	BorrowingRate                 fixed.Decimal   `json:"borrowing_rate"`
	RedemptionRate                fixed.Decimal   `json:"redemption_rate"`
	HaveUndercollateralizedVaults bool            `json:"have_undercollateralized_vaults"`
	RecoveryMode                  bool            `json:"recovery_mode"`
}

// State is a complete, consistent snapshot. Consumers never see a
// partially applied update.
type State struct {
	Base
	Derived
}

// derive computes the derived state of b at now.
func derive(b Base, now time.Time) Derived {
	recoveryMode := b.Total.CollateralRatioIsBelowCritical(b.Price)
	f := b.FeesInNormalMode.WithRecoveryMode(recoveryMode)
	riskiest := b.RiskiestVaultBeforeRedistribution.ApplyRedistribution(b.TotalRedistributed)

	return Derived{
		Vault:                         b.VaultBeforeRedistribution.ApplyRedistribution(b.TotalRedistributed),
		Fees:                          f,
		BorrowingRate:                 f.BorrowingRate(now),
		RedemptionRate:                f.RedemptionRate(fixed.Zero, now),
		HaveUndercollateralizedVaults: !riskiest.IsEmpty() && riskiest.CollateralRatioIsBelowMinimum(b.Price),
		RecoveryMode:                  recoveryMode,
	}
}
