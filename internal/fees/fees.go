// Package fees computes the time-decayed base rate and the borrowing and
// redemption rates derived from it.
//
// Fees never change stored state. The base rate only moves on chain, after
// a fee-charging operation; between such operations it decays by
// MinuteDecayFactor per elapsed whole minute.
package fees

import (
	"time"

	"github.com/moneyprotocol/engineering-sub002/internal/fixed"
	"github.com/moneyprotocol/engineering-sub002/internal/vault"
)

var (
	// MinuteDecayFactor gives the base rate a half-life of 12 hours.
	MinuteDecayFactor = fixed.MustParse("0.999037758833783")

	// Beta weighs the redeemed fraction of supply in the redemption rate.
	Beta = fixed.FromInt(2)

	// IssuanceFactor gives the reward issuance curve a half-life of one year.
	IssuanceFactor = fixed.MustParse("0.999998681227695")
)

// maxDecayMinutes caps the exponent at 1000 years, as the contracts do.
const maxDecayMinutes = 525_600_000

// Fees is the fee state read from chain.
type Fees struct {
	BaseRateAtLastUpdate fixed.Decimal `json:"base_rate_at_last_update"`
	LastUpdateTime       time.Time     `json:"last_update_time"`
	RecoveryMode         bool          `json:"recovery_mode"`
}

// New returns fee state for a base rate last written at lastUpdate.
func New(baseRate fixed.Decimal, lastUpdate time.Time, recoveryMode bool) Fees {
	return Fees{BaseRateAtLastUpdate: baseRate, LastUpdateTime: lastUpdate, RecoveryMode: recoveryMode}
}

// WithRecoveryMode returns a copy with the recovery-mode flag replaced.
func (f Fees) WithRecoveryMode(recoveryMode bool) Fees {
	f.RecoveryMode = recoveryMode
	return f
}

// Equal compares all fields exactly.
func (f Fees) Equal(o Fees) bool {
	return f.BaseRateAtLastUpdate.Eq(o.BaseRateAtLastUpdate) &&
		f.LastUpdateTime.Equal(o.LastUpdateTime) &&
		f.RecoveryMode == o.RecoveryMode
}

// elapsedMinutes floors the time since the last update to whole minutes.
// A clock behind the last update counts as zero.
func elapsedMinutes(since time.Duration) uint32 {
	if since <= 0 {
		return 0
	}
	minutes := int64(since / time.Minute)
	if minutes > maxDecayMinutes {
		return maxDecayMinutes
	}
	return uint32(minutes)
}

// BaseRate returns the base rate decayed to now.
func (f Fees) BaseRate(now time.Time) fixed.Decimal {
	decay := MinuteDecayFactor.Pow(elapsedMinutes(now.Sub(f.LastUpdateTime)))
	return decay.Mul(f.BaseRateAtLastUpdate)
}

// BorrowingRate is the decayed base rate clamped to
// [MinimumBorrowingRate, MaximumBorrowingRate], or zero in recovery mode.
func (f Fees) BorrowingRate(now time.Time) fixed.Decimal {
	if f.RecoveryMode {
		return fixed.Zero
	}
	return fixed.Max(vault.MinimumBorrowingRate, fixed.Min(vault.MaximumBorrowingRate, f.BaseRate(now)))
}

// RedemptionRate is the fee charged for redeeming redeemedFraction of the
// total supply in one transaction:
//
//	min(1, MinimumRedemptionRate + baseRate + Beta·redeemedFraction²)
func (f Fees) RedemptionRate(redeemedFraction fixed.Decimal, now time.Time) fixed.Decimal {
	rate := vault.MinimumRedemptionRate.Add(f.BaseRate(now))
	if redeemedFraction.NonZero() {
		rate = rate.Add(Beta.Mul(redeemedFraction.Mul(redeemedFraction)))
	}
	return fixed.Min(rate, fixed.One)
}

// CumulativeIssuanceFraction is the share of the reward supply issued after
// elapsed time: 1 - IssuanceFactor^minutes. It never decreases and stays
// strictly below one.
func CumulativeIssuanceFraction(elapsed time.Duration) fixed.Decimal {
	remaining := IssuanceFactor.Pow(elapsedMinutes(elapsed))
	if remaining.IsZero() {
		remaining = fixed.Epsilon
	}
	return fixed.One.Sub(remaining)
}
