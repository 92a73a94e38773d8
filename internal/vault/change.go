package vault

import (
	"fmt"

	"github.com/moneyprotocol/engineering-sub002/internal/fixed"
)

// Change describes a transition from one vault to another. It is one of
// Creation, Closure, Adjustment or InvalidCreation. A nil Change means
// "no change".
type Change interface {
	changeType() string
}

// CreationParams are the arguments of an open-vault transaction. BorrowBPD
// is the pre-fee amount.
type CreationParams struct {
	DepositCollateral fixed.Decimal
	BorrowBPD         fixed.Decimal
}

// ClosureParams are the amounts a close-vault transaction moves. RepayBPD is
// zero when the vault carried no net debt.
type ClosureParams struct {
	WithdrawCollateral fixed.Decimal
	RepayBPD           fixed.Decimal
}

type Creation struct {
	Params CreationParams
}

type Closure struct {
	Params ClosureParams
}

// Side names the vault component an adjustment forces to exactly zero.
type Side string

const (
	SideNone       Side = ""
	SideCollateral Side = "collateral"
	SideDebt       Side = "debt"
)

// Adjustment moves collateral and/or debt of an open vault. When SetToZero
// names a side, replay sets that side to exactly zero instead of
// subtracting, so earlier truncations can't leave a 1-wei residue.
type Adjustment struct {
	Params    AdjustmentParams
	SetToZero Side
}

// InvalidCreationReason is the error kind carried by an InvalidCreation.
type InvalidCreationReason string

const MissingLiquidationReserve InvalidCreationReason = "missing_liquidation_reserve"

// InvalidCreation is returned instead of a Creation when the target vault
// cannot be opened. The target is kept so it can be reported.
type InvalidCreation struct {
	Invalid Vault
	Reason  InvalidCreationReason
}

// Err returns the domain error matching the reason.
func (c InvalidCreation) Err() error {
	return fmt.Errorf("%w (target %s)", ErrMissingLiquidationReserve, c.Invalid)
}

func (Creation) changeType() string        { return "creation" }
func (Closure) changeType() string         { return "closure" }
func (Adjustment) changeType() string      { return "adjustment" }
func (InvalidCreation) changeType() string { return "invalid_creation" }

// TypeOf returns the wire name of a change, or "" for nil.
func TypeOf(c Change) string {
	if c == nil {
		return ""
	}
	return c.changeType()
}

// ApplyFee returns x·(1+rate), truncated.
func ApplyFee(rate, x fixed.Decimal) fixed.Decimal {
	return x.Mul(fixed.One.Add(rate))
}

// UnapplyFee is the inverse of ApplyFee under truncation: it rounds up so
// that ApplyFee(rate, UnapplyFee(rate, x)) >= x. At zero rate it is exact.
func UnapplyFee(rate, x fixed.Decimal) fixed.Decimal {
	return x.DivCeil(fixed.One.Add(rate))
}

// WhatChanged returns the change that transforms v into that at the given
// borrowing rate, or nil if they are equal. Debt increases are expressed as
// pre-fee amounts.
func (v Vault) WhatChanged(that Vault, borrowingRate fixed.Decimal) Change {
	switch {
	case v.Equal(that):
		return nil

	case v.IsEmpty():
		if that.Debt.Lt(MinimumDebt) {
			return InvalidCreation{Invalid: that, Reason: MissingLiquidationReserve}
		}
		return Creation{Params: CreationParams{
			DepositCollateral: that.Collateral,
			BorrowBPD:         UnapplyFee(borrowingRate, that.NetDebt()),
		}}

	case that.IsEmpty():
		return Closure{Params: ClosureParams{
			WithdrawCollateral: v.Collateral,
			RepayBPD:           v.NetDebt(),
		}}
	}

	var params AdjustmentParams
	if !v.Collateral.Eq(that.Collateral) {
		params.Collateral = v.collateralChange(that)
	}
	if !v.Debt.Eq(that.Debt) {
		params.Debt = v.debtChange(that, borrowingRate)
	}

	setToZero := SideNone
	switch {
	case that.Debt.IsZero() && !params.Debt.IsZero():
		setToZero = SideDebt
	case that.Collateral.IsZero() && !params.Collateral.IsZero():
		setToZero = SideCollateral
	}
	return Adjustment{Params: params, SetToZero: setToZero}
}

func (v Vault) collateralChange(that Vault) CollateralChange {
	if that.Collateral.Gt(v.Collateral) {
		return Deposit(that.Collateral.Sub(v.Collateral))
	}
	return Withdraw(v.Collateral.Sub(that.Collateral))
}

func (v Vault) debtChange(that Vault, borrowingRate fixed.Decimal) DebtChange {
	if that.Debt.Gt(v.Debt) {
		return Borrow(UnapplyFee(borrowingRate, that.Debt.Sub(v.Debt)))
	}
	return Repay(v.Debt.Sub(that.Debt))
}

// Apply replays a change onto v. A nil change returns v unchanged. Applying
// a creation onto a non-empty vault, or a closure onto an empty one, fails
// with an error wrapping ErrDomainInvariant.
func (v Vault) Apply(change Change, borrowingRate fixed.Decimal) (Vault, error) {
	switch c := change.(type) {
	case nil:
		return v, nil

	case InvalidCreation:
		if !v.IsEmpty() {
			return v, ErrCreateOntoExisting
		}
		return c.Invalid, nil

	case Creation:
		if !v.IsEmpty() {
			return v, ErrCreateOntoExisting
		}
		created := New(c.Params.DepositCollateral, LiquidationReserve.Add(ApplyFee(borrowingRate, c.Params.BorrowBPD)))
		if created.Debt.Lt(MinimumDebt) {
			return v, fmt.Errorf("%w: debt %s", ErrMissingLiquidationReserve, created.Debt)
		}
		return created, nil

	case Closure:
		if v.IsEmpty() {
			return v, ErrCloseEmpty
		}
		return Empty, nil

	case Adjustment:
		return v.adjust(c, borrowingRate), nil
	}
	return v, fmt.Errorf("%w: %T", ErrUnknownChange, change)
}

func (v Vault) adjust(c Adjustment, borrowingRate fixed.Decimal) Vault {
	collateralIncrease, collateralDecrease := c.Params.Collateral.split()
	debtIncrease, debtDecrease := c.Params.Debt.split()
	debtIncrease = ApplyFee(borrowingRate, debtIncrease)

	switch c.SetToZero {
	case SideCollateral:
		return v.SetCollateral(fixed.Zero).AddDebt(debtIncrease).SubtractDebt(debtDecrease)
	case SideDebt:
		return v.SetDebt(fixed.Zero).AddCollateral(collateralIncrease).SubtractCollateral(collateralDecrease)
	}
	return v.Add(New(collateralIncrease, debtIncrease)).Subtract(New(collateralDecrease, debtDecrease))
}
