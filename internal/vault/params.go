package vault

import (
	"github.com/moneyprotocol/engineering-sub002/internal/fixed"
)

type direction uint8

const (
	none direction = iota
	increase
	decrease
)

// CollateralChange is either a deposit or a withdrawal, never both. Build
// one with Deposit or Withdraw; the zero value means "collateral untouched".
type CollateralChange struct {
	dir    direction
	amount fixed.Decimal
}

// DebtChange is either a borrow (pre-fee) or a repayment, never both. Build
// one with Borrow or Repay; the zero value means "debt untouched".
type DebtChange struct {
	dir    direction
	amount fixed.Decimal
}

// Deposit adds collateral. A zero amount yields no change.
func Deposit(amount fixed.Decimal) CollateralChange {
	return CollateralChange{dir: directionOf(amount, increase), amount: amount}
}

// Withdraw removes collateral. A zero amount yields no change.
func Withdraw(amount fixed.Decimal) CollateralChange {
	return CollateralChange{dir: directionOf(amount, decrease), amount: amount}
}

// Borrow increases debt by amount plus the borrowing fee.
func Borrow(amount fixed.Decimal) DebtChange {
	return DebtChange{dir: directionOf(amount, increase), amount: amount}
}

// Repay decreases debt.
func Repay(amount fixed.Decimal) DebtChange {
	return DebtChange{dir: directionOf(amount, decrease), amount: amount}
}

func directionOf(amount fixed.Decimal, dir direction) direction {
	if amount.IsZero() {
		return none
	}
	return dir
}

func (c CollateralChange) IsZero() bool { return c.dir == none }
func (c DebtChange) IsZero() bool       { return c.dir == none }

// Deposit returns the deposited amount and true if c is a deposit.
func (c CollateralChange) Deposit() (fixed.Decimal, bool) { return c.amount, c.dir == increase }

// Withdrawal returns the withdrawn amount and true if c is a withdrawal.
func (c CollateralChange) Withdrawal() (fixed.Decimal, bool) { return c.amount, c.dir == decrease }

// Borrowing returns the pre-fee borrowed amount and true if c is a borrow.
func (c DebtChange) Borrowing() (fixed.Decimal, bool) { return c.amount, c.dir == increase }

// Repayment returns the repaid amount and true if c is a repayment.
func (c DebtChange) Repayment() (fixed.Decimal, bool) { return c.amount, c.dir == decrease }

func (c CollateralChange) split() (inc, dec fixed.Decimal) {
	return splitAmount(c.dir, c.amount)
}

func (c DebtChange) split() (inc, dec fixed.Decimal) {
	return splitAmount(c.dir, c.amount)
}

func splitAmount(dir direction, amount fixed.Decimal) (inc, dec fixed.Decimal) {
	switch dir {
	case increase:
		return amount, fixed.Zero
	case decrease:
		return fixed.Zero, amount
	}
	return fixed.Zero, fixed.Zero
}

// AdjustmentParams combine an optional collateral change and an optional
// debt change.
type AdjustmentParams struct {
	Collateral CollateralChange
	Debt       DebtChange
}

// IsZero reports whether the adjustment moves nothing.
func (p AdjustmentParams) IsZero() bool {
	return p.Collateral.IsZero() && p.Debt.IsZero()
}

// Create opens a vault from creation parameters at the given borrowing rate.
func Create(params CreationParams, borrowingRate fixed.Decimal) (Vault, error) {
	return Empty.Apply(Creation{Params: params}, borrowingRate)
}

// Recreate returns the creation parameters that reproduce v at the given
// borrowing rate. It fails if v cannot be opened.
func Recreate(v Vault, borrowingRate fixed.Decimal) (CreationParams, error) {
	switch c := Empty.WhatChanged(v, borrowingRate).(type) {
	case Creation:
		return c.Params, nil
	case InvalidCreation:
		return CreationParams{}, c.Err()
	}
	return CreationParams{}, ErrNotCreation
}

// Adjust applies adjustment parameters to v.
func (v Vault) Adjust(params AdjustmentParams, borrowingRate fixed.Decimal) (Vault, error) {
	if params.IsZero() {
		return v, ErrEmptyAdjustment
	}
	return v.Apply(Adjustment{Params: params}, borrowingRate)
}

// AdjustTo returns the adjustment parameters that move v to target.
func (v Vault) AdjustTo(target Vault, borrowingRate fixed.Decimal) (AdjustmentParams, error) {
	if c, ok := v.WhatChanged(target, borrowingRate).(Adjustment); ok {
		return c.Params, nil
	}
	return AdjustmentParams{}, ErrNotAdjustment
}
