package vault

import (
	"encoding/json"
	"fmt"

	"github.com/moneyprotocol/engineering-sub002/internal/fixed"
)

// wireParams is the flat JSON form shared by every change type. Absent
// amounts are omitted, never sent as zero.
type wireParams struct {
	DepositCollateral  *fixed.Decimal `json:"deposit_collateral,omitempty"`
	WithdrawCollateral *fixed.Decimal `json:"withdraw_collateral,omitempty"`
	BorrowBPD          *fixed.Decimal `json:"borrow_bpd,omitempty"`
	RepayBPD           *fixed.Decimal `json:"repay_bpd,omitempty"`
}

type wireChange struct {
	Type         string                `json:"type"`
	Params       *wireParams           `json:"params,omitempty"`
	SetToZero    Side                  `json:"set_to_zero,omitempty"`
	InvalidVault *Vault                `json:"invalid_vault,omitempty"`
	Reason       InvalidCreationReason `json:"reason,omitempty"`
}

func nonZero(d fixed.Decimal) *fixed.Decimal {
	if d.IsZero() {
		return nil
	}
	return &d
}

func valueOf(d *fixed.Decimal) fixed.Decimal {
	if d == nil {
		return fixed.Zero
	}
	return *d
}

// MarshalChange encodes a change as JSON. A nil change encodes as null.
func MarshalChange(c Change) ([]byte, error) {
	if c == nil {
		return []byte("null"), nil
	}
	w := wireChange{Type: c.changeType()}
	switch c := c.(type) {
	case Creation:
		w.Params = &wireParams{
			DepositCollateral: nonZero(c.Params.DepositCollateral),
			BorrowBPD:         nonZero(c.Params.BorrowBPD),
		}
	case Closure:
		w.Params = &wireParams{
			WithdrawCollateral: nonZero(c.Params.WithdrawCollateral),
			RepayBPD:           nonZero(c.Params.RepayBPD),
		}
	case Adjustment:
		p := &wireParams{}
		if amount, ok := c.Params.Collateral.Deposit(); ok {
			p.DepositCollateral = &amount
		}
		if amount, ok := c.Params.Collateral.Withdrawal(); ok {
			p.WithdrawCollateral = &amount
		}
		if amount, ok := c.Params.Debt.Borrowing(); ok {
			p.BorrowBPD = &amount
		}
		if amount, ok := c.Params.Debt.Repayment(); ok {
			p.RepayBPD = &amount
		}
		w.Params = p
		w.SetToZero = c.SetToZero
	case InvalidCreation:
		invalid := c.Invalid
		w.InvalidVault = &invalid
		w.Reason = c.Reason
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownChange, c)
	}
	return json.Marshal(w)
}

// UnmarshalChange decodes a change. Conflicting amounts (deposit and
// withdraw, or borrow and repay) are rejected with ErrConflictingChange.
func UnmarshalChange(data []byte) (Change, error) {
	var w wireChange
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("vault: decode change: %w", err)
	}
	p := w.Params
	if p == nil {
		p = &wireParams{}
	}

	switch w.Type {
	case "":
		return nil, nil
	case "creation":
		if p.WithdrawCollateral != nil || p.RepayBPD != nil {
			return nil, fmt.Errorf("%w: creation can't withdraw or repay", ErrConflictingChange)
		}
		return Creation{Params: CreationParams{
			DepositCollateral: valueOf(p.DepositCollateral),
			BorrowBPD:         valueOf(p.BorrowBPD),
		}}, nil
	case "closure":
		if p.DepositCollateral != nil || p.BorrowBPD != nil {
			return nil, fmt.Errorf("%w: closure can't deposit or borrow", ErrConflictingChange)
		}
		return Closure{Params: ClosureParams{
			WithdrawCollateral: valueOf(p.WithdrawCollateral),
			RepayBPD:           valueOf(p.RepayBPD),
		}}, nil
	case "adjustment":
		if p.DepositCollateral != nil && p.WithdrawCollateral != nil {
			return nil, fmt.Errorf("%w: both deposit and withdraw", ErrConflictingChange)
		}
		if p.BorrowBPD != nil && p.RepayBPD != nil {
			return nil, fmt.Errorf("%w: both borrow and repay", ErrConflictingChange)
		}
		var params AdjustmentParams
		if p.DepositCollateral != nil {
			params.Collateral = Deposit(*p.DepositCollateral)
		} else {
			params.Collateral = Withdraw(valueOf(p.WithdrawCollateral))
		}
		if p.BorrowBPD != nil {
			params.Debt = Borrow(*p.BorrowBPD)
		} else {
			params.Debt = Repay(valueOf(p.RepayBPD))
		}
		switch w.SetToZero {
		case SideNone, SideCollateral, SideDebt:
		default:
			return nil, fmt.Errorf("%w: bad set_to_zero %q", ErrConflictingChange, w.SetToZero)
		}
		return Adjustment{Params: params, SetToZero: w.SetToZero}, nil
	case "invalid_creation":
		var invalid Vault
		if w.InvalidVault != nil {
			invalid = *w.InvalidVault
		}
		return InvalidCreation{Invalid: invalid, Reason: w.Reason}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownChange, w.Type)
}
