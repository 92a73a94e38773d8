// Package model defines the account-level entities mirrored from chain and
// the records persisted to the change journal.
// Amounts read from chain use fixed.Decimal; journal records use
// shopspring/decimal so they map onto NUMERIC columns.
package model

import (
	"encoding/json"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/moneyprotocol/engineering-sub002/internal/fixed"
)

// StabilityDeposit is a user's position in the stability pool.
type StabilityDeposit struct {
	InitialBPD     fixed.Decimal  `json:"initial_bpd"`
	CurrentBPD     fixed.Decimal  `json:"current_bpd"`
	CollateralGain fixed.Decimal  `json:"collateral_gain"`
	MPReward       fixed.Decimal  `json:"mp_reward"`
	FrontendTag    common.Address `json:"frontend_tag"`
}

// IsEmpty reports whether the deposit holds nothing and earned nothing.
func (s StabilityDeposit) IsEmpty() bool {
	return s.InitialBPD.IsZero() && s.CurrentBPD.IsZero() &&
		s.CollateralGain.IsZero() && s.MPReward.IsZero()
}

func (s StabilityDeposit) Equal(o StabilityDeposit) bool {
	return s.InitialBPD.Eq(o.InitialBPD) &&
		s.CurrentBPD.Eq(o.CurrentBPD) &&
		s.CollateralGain.Eq(o.CollateralGain) &&
		s.MPReward.Eq(o.MPReward) &&
		s.FrontendTag == o.FrontendTag
}

// MPStake is a user's governance-token stake and the fee gains it earned.
type MPStake struct {
	StakedMP       fixed.Decimal `json:"staked_mp"`
	CollateralGain fixed.Decimal `json:"collateral_gain"`
	BPDGain        fixed.Decimal `json:"bpd_gain"`
}

func (s MPStake) IsEmpty() bool {
	return s.StakedMP.IsZero() && s.CollateralGain.IsZero() && s.BPDGain.IsZero()
}

func (s MPStake) Equal(o MPStake) bool {
	return s.StakedMP.Eq(o.StakedMP) && s.CollateralGain.Eq(o.CollateralGain) && s.BPDGain.Eq(o.BPDGain)
}

// ChangeRecord is an immutable journal entry written for every mirror
// notification. Once created, records are never modified or deleted.
type ChangeRecord struct {
	ID              string          `json:"id" db:"id"`
	Fields          []string        `json:"fields" db:"fields"`
	Price           decimal.Decimal `json:"price" db:"price"`
	TotalCollateral decimal.Decimal `json:"total_collateral" db:"total_collateral"`
	TotalDebt       decimal.Decimal `json:"total_debt" db:"total_debt"`
	BorrowingRate   decimal.Decimal `json:"borrowing_rate" db:"borrowing_rate"`
	RedemptionRate  decimal.Decimal `json:"redemption_rate" db:"redemption_rate"`
	RecoveryMode    bool            `json:"recovery_mode" db:"recovery_mode"`
	State           json.RawMessage `json:"state" db:"state"`
	RecordedAt      time.Time       `json:"recorded_at" db:"recorded_at"`
}

// Snapshot is the latest full mirror state as JSON.
type Snapshot struct {
	State     json.RawMessage `json:"state" db:"state"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}
