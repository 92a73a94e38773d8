// Package vault models collateralized debt positions ("vaults"), their
// ratio math, the change descriptors that transform one vault into another,
// and the lazy redistribution accumulator that applies liquidation losses to
// every open vault without touching it.
//
// Every function in this package is pure. A Vault is a value; no method
// modifies its receiver.
package vault

import (
	"fmt"

	"github.com/moneyprotocol/engineering-sub002/internal/fixed"
)

var (
	// CriticalCollateralRatio is the total collateral ratio below which the
	// system enters recovery mode.
	CriticalCollateralRatio = fixed.MustParse("1.5")

	// MinimumCollateralRatio is the ratio below which a vault can be liquidated.
	MinimumCollateralRatio = fixed.MustParse("1.1")

	// LiquidationReserve is the fixed debt buffer paid to a liquidator.
	LiquidationReserve = fixed.FromInt(200)

	// MinimumNetDebt is the smallest net debt an open vault may carry.
	MinimumNetDebt = fixed.FromInt(1800)

	// MinimumDebt is the smallest total debt an open vault may carry.
	MinimumDebt = LiquidationReserve.Add(MinimumNetDebt)

	MinimumBorrowingRate  = fixed.MustParse("0.005")
	MaximumBorrowingRate  = fixed.MustParse("0.05")
	MinimumRedemptionRate = fixed.MustParse("0.005")

	nominalRatioPrecision = fixed.FromInt(100)
)

// Vault is a collateral/debt pair. The zero value is the empty vault, the
// canonical "no position" value.
type Vault struct {
	Collateral fixed.Decimal `json:"collateral"`
	Debt       fixed.Decimal `json:"debt"`
}

// Empty is the vault with no collateral and no debt.
var Empty = Vault{}

// New returns a vault with the given collateral and debt.
func New(collateral, debt fixed.Decimal) Vault {
	return Vault{Collateral: collateral, Debt: debt}
}

// IsEmpty reports whether both collateral and debt are zero.
func (v Vault) IsEmpty() bool {
	return v.Collateral.IsZero() && v.Debt.IsZero()
}

// NetDebt is the debt minus the liquidation reserve. It is only meaningful
// when Debt >= LiquidationReserve and clamps to zero otherwise.
func (v Vault) NetDebt() fixed.Decimal {
	if v.Debt.Lt(LiquidationReserve) {
		return fixed.Zero
	}
	return v.Debt.Sub(LiquidationReserve)
}

// NominalCollateralRatio is collateral·100/debt. It is price-independent
// and orders the external sorted vault list. Infinity when debt is zero.
func (v Vault) NominalCollateralRatio() fixed.Decimal {
	return v.Collateral.MulDiv(nominalRatioPrecision, v.Debt)
}

// CollateralRatio is collateral·price/debt, Infinity when debt is zero.
func (v Vault) CollateralRatio(price fixed.Decimal) fixed.Decimal {
	return v.Collateral.MulDiv(price, v.Debt)
}

func (v Vault) CollateralRatioIsBelowMinimum(price fixed.Decimal) bool {
	return v.CollateralRatio(price).Lt(MinimumCollateralRatio)
}

func (v Vault) CollateralRatioIsBelowCritical(price fixed.Decimal) bool {
	return v.CollateralRatio(price).Lt(CriticalCollateralRatio)
}

// IsOpenableInRecoveryMode reports whether a vault with this ratio may be
// opened while the system is in recovery mode.
func (v Vault) IsOpenableInRecoveryMode(price fixed.Decimal) bool {
	return v.CollateralRatio(price).Gte(CriticalCollateralRatio)
}

// Equal compares collateral and debt exactly.
func (v Vault) Equal(o Vault) bool {
	return v.Collateral.Eq(o.Collateral) && v.Debt.Eq(o.Debt)
}

func (v Vault) String() string {
	return fmt.Sprintf("{ collateral: %s, debt: %s }", v.Collateral, v.Debt)
}

// Add returns the componentwise sum.
func (v Vault) Add(o Vault) Vault {
	return Vault{Collateral: v.Collateral.Add(o.Collateral), Debt: v.Debt.Add(o.Debt)}
}

func (v Vault) AddCollateral(collateral fixed.Decimal) Vault {
	return Vault{Collateral: v.Collateral.Add(collateral), Debt: v.Debt}
}

func (v Vault) AddDebt(debt fixed.Decimal) Vault {
	return Vault{Collateral: v.Collateral, Debt: v.Debt.Add(debt)}
}

// Subtract returns the componentwise difference, clamped at zero.
func (v Vault) Subtract(o Vault) Vault {
	return Vault{Collateral: clampedSub(v.Collateral, o.Collateral), Debt: clampedSub(v.Debt, o.Debt)}
}

func (v Vault) SubtractCollateral(collateral fixed.Decimal) Vault {
	return Vault{Collateral: clampedSub(v.Collateral, collateral), Debt: v.Debt}
}

func (v Vault) SubtractDebt(debt fixed.Decimal) Vault {
	return Vault{Collateral: v.Collateral, Debt: clampedSub(v.Debt, debt)}
}

// Multiply scales both components, truncating at 18 digits.
func (v Vault) Multiply(multiplier fixed.Decimal) Vault {
	return Vault{Collateral: v.Collateral.Mul(multiplier), Debt: v.Debt.Mul(multiplier)}
}

func (v Vault) SetCollateral(collateral fixed.Decimal) Vault {
	return Vault{Collateral: collateral, Debt: v.Debt}
}

func (v Vault) SetDebt(debt fixed.Decimal) Vault {
	return Vault{Collateral: v.Collateral, Debt: debt}
}

func clampedSub(a, b fixed.Decimal) fixed.Decimal {
	if a.Gt(b) {
		return a.Sub(b)
	}
	return fixed.Zero
}
