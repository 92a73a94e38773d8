package mirror

import (
	"log/slog"
	"time"

	"github.com/moneyprotocol/engineering-sub002/internal/fees"
	"github.com/moneyprotocol/engineering-sub002/internal/fixed"
	"github.com/moneyprotocol/engineering-sub002/internal/model"
	"github.com/moneyprotocol/engineering-sub002/internal/vault"
)

// FieldSet lists changed fields in reduction order.
type FieldSet []Field

// Has reports whether f is in the set.
func (s FieldSet) Has(f Field) bool {
	for _, x := range s {
		if x == f {
			return true
		}
	}
	return false
}

// Loud returns the fields that are not silent.
func (s FieldSet) Loud() FieldSet {
	var out FieldSet
	for _, f := range s {
		if !IsSilent(f) {
			out = append(out, f)
		}
	}
	return out
}

// Strings returns the field names.
func (s FieldSet) Strings() []string {
	out := make([]string, len(s))
	for i, f := range s {
		out[i] = string(f)
	}
	return out
}

type reducer struct {
	logger  *slog.Logger
	changed FieldSet
}

// reduceField returns old when the update is absent or equal, so unchanged
// values keep their identity; otherwise it records the change.
func reduceField[T any](r *reducer, field Field, old T, update *T, equal func(a, b T) bool) T {
	if update == nil || equal(old, *update) {
		return old
	}
	r.changed = append(r.changed, field)
	if !IsSilent(field) {
		r.logger.Debug(string(field)+" updated", "value", *update)
	}
	return *update
}

func decimalEqual(a, b fixed.Decimal) bool { return a.Eq(b) }
func strictEqual[T comparable](a, b T) bool { return a == b }
func timeEqual(a, b time.Time) bool         { return a.Equal(b) }

func (r *reducer) reduceBase(old Base, p Partial) Base {
	return Base{
		Price:                             reduceField(r, FieldPrice, old.Price, p.Price, decimalEqual),
		NumberOfVaults:                    reduceField(r, FieldNumberOfVaults, old.NumberOfVaults, p.NumberOfVaults, strictEqual[uint64]),
		Total:                             reduceField(r, FieldTotal, old.Total, p.Total, vault.Vault.Equal),
		TotalRedistributed:                reduceField(r, FieldTotalRedistributed, old.TotalRedistributed, p.TotalRedistributed, vault.Vault.Equal),
		VaultBeforeRedistribution:         reduceField(r, FieldVaultBeforeRedistribution, old.VaultBeforeRedistribution, p.VaultBeforeRedistribution, vault.WithPendingRedistribution.Equal),
		RiskiestVaultBeforeRedistribution: reduceField(r, FieldRiskiestVaultBeforeRedistribution, old.RiskiestVaultBeforeRedistribution, p.RiskiestVaultBeforeRedistribution, vault.WithPendingRedistribution.Equal),
		AccountBalance:                    reduceField(r, FieldAccountBalance, old.AccountBalance, p.AccountBalance, decimalEqual),
		BPDBalance:                        reduceField(r, FieldBPDBalance, old.BPDBalance, p.BPDBalance, decimalEqual),
		MPBalance:                         reduceField(r, FieldMPBalance, old.MPBalance, p.MPBalance, decimalEqual),
		CollateralSurplusBalance:          reduceField(r, FieldCollateralSurplusBalance, old.CollateralSurplusBalance, p.CollateralSurplusBalance, decimalEqual),
		BPDInStabilityPool:                reduceField(r, FieldBPDInStabilityPool, old.BPDInStabilityPool, p.BPDInStabilityPool, decimalEqual),
		StabilityDeposit:                  reduceField(r, FieldStabilityDeposit, old.StabilityDeposit, p.StabilityDeposit, model.StabilityDeposit.Equal),
		RemainingStabilityPoolMPReward:    reduceField(r, FieldRemainingStabilityPoolMPReward, old.RemainingStabilityPoolMPReward, p.RemainingStabilityPoolMPReward, decimalEqual),
		MPStake:                           reduceField(r, FieldMPStake, old.MPStake, p.MPStake, model.MPStake.Equal),
		TotalStakedMP:                     reduceField(r, FieldTotalStakedMP, old.TotalStakedMP, p.TotalStakedMP, decimalEqual),
		FeesInNormalMode:                  reduceField(r, FieldFeesInNormalMode, old.FeesInNormalMode, p.FeesInNormalMode, fees.Fees.Equal),
		BlockTimestamp:                    reduceField(r, FieldBlockTimestamp, old.BlockTimestamp, p.BlockTimestamp, timeEqual),
	}
}

func (r *reducer) reduceDerived(old, next Derived) Derived {
	return Derived{
		Vault:                         reduceField(r, FieldVault, old.Vault, &next.Vault, vault.UserVault.Equal),
		Fees:                          reduceField(r, FieldFees, old.Fees, &next.Fees, fees.Fees.Equal),
		BorrowingRate:                 reduceField(r, FieldBorrowingRate, old.BorrowingRate, &next.BorrowingRate, decimalEqual),
		RedemptionRate:                reduceField(r, FieldRedemptionRate, old.RedemptionRate, &next.RedemptionRate, decimalEqual),
		HaveUndercollateralizedVaults: reduceField(r, FieldHaveUndercollateralizedVaults, old.HaveUndercollateralizedVaults, &next.HaveUndercollateralizedVaults, strictEqual[bool]),
		RecoveryMode:                  reduceField(r, FieldRecoveryMode, old.RecoveryMode, &next.RecoveryMode, strictEqual[bool]),
	}
}
