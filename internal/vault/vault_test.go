package vault

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"github.com/moneyprotocol/engineering-sub002/internal/fixed"
)

func d(s string) fixed.Decimal {
	return fixed.MustParse(s)
}

func randomAmount(r *rand.Rand) fixed.Decimal {
	if r.Intn(5) == 0 {
		return fixed.Zero
	}
	return d(fmt.Sprintf("%d.%09d", r.Intn(100000), r.Intn(1_000_000_000)))
}

func randomVault(r *rand.Rand) Vault {
	return New(randomAmount(r), randomAmount(r))
}

func randomRate(r *rand.Rand, max int) fixed.Decimal {
	return d(fmt.Sprintf("0.%04d", r.Intn(max+1)))
}

func within(a, b, tolerance fixed.Decimal) bool {
	if a.Gt(b) {
		return a.Sub(b).Lte(tolerance)
	}
	return b.Sub(a).Lte(tolerance)
}

// --- Ratio math ---

func TestNominalCollateralRatio(t *testing.T) {
	v := New(d("1"), d("111"))
	if got := v.NominalCollateralRatio(); got.String() != "0.9009009009009009" {
		t.Errorf("unexpected NICR %s", got)
	}
	if !New(d("1"), fixed.Zero).NominalCollateralRatio().IsInfinite() {
		t.Error("debt-free vault should have infinite NICR")
	}
}

func TestCollateralRatioThresholds(t *testing.T) {
	price := d("200")
	v := New(d("10"), d("1500")) // ratio 1.333...
	if v.CollateralRatioIsBelowMinimum(price) {
		t.Error("1.33 is not below 1.1")
	}
	if !v.CollateralRatioIsBelowCritical(price) {
		t.Error("1.33 is below 1.5")
	}
	if v.IsOpenableInRecoveryMode(price) {
		t.Error("1.33 should not be openable in recovery mode")
	}
	if !New(d("1"), fixed.Zero).IsOpenableInRecoveryMode(price) {
		t.Error("debt-free vault is always safe")
	}
}

func TestNetDebt(t *testing.T) {
	if got := New(d("1"), d("2010")).NetDebt(); !got.Eq(d("1810")) {
		t.Errorf("expected 1810, got %s", got)
	}
	if got := New(d("1"), d("150")).NetDebt(); !got.IsZero() {
		t.Errorf("net debt should clamp at zero, got %s", got)
	}
}

func TestSubtractClampsAtZero(t *testing.T) {
	got := New(d("1"), d("100")).Subtract(New(d("2"), d("50")))
	if !got.Equal(New(fixed.Zero, d("50"))) {
		t.Errorf("unexpected %s", got)
	}
}

// --- Change algebra ---

func TestApplyNilReturnsSameVault(t *testing.T) {
	v := New(d("1"), d("111"))
	got, err := v.Apply(nil, MinimumBorrowingRate)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.Equal(v) || got.Collateral.BigInt().Cmp(v.Collateral.BigInt()) != 0 {
		t.Errorf("expected identical vault, got %s", got)
	}
}

func TestWhatChanged_Creation(t *testing.T) {
	target := New(d("10"), d("2010"))
	change := Empty.WhatChanged(target, fixed.Zero)
	c, ok := change.(Creation)
	if !ok {
		t.Fatalf("expected creation, got %T", change)
	}
	if !c.Params.DepositCollateral.Eq(d("10")) || !c.Params.BorrowBPD.Eq(d("1810")) {
		t.Errorf("unexpected params %+v", c.Params)
	}
}

func TestWhatChanged_InvalidCreationBelowMinimumNetDebt(t *testing.T) {
	target := New(d("10"), d("1999.99"))
	change := Empty.WhatChanged(target, MinimumBorrowingRate)
	c, ok := change.(InvalidCreation)
	if !ok {
		t.Fatalf("expected invalid creation, got %T", change)
	}
	if c.Reason != MissingLiquidationReserve {
		t.Errorf("unexpected reason %q", c.Reason)
	}
	if !errors.Is(c.Err(), ErrDomainInvariant) {
		t.Errorf("expected domain invariant error, got %v", c.Err())
	}
}

func TestWhatChanged_Closure(t *testing.T) {
	change := New(d("5"), d("100")).WhatChanged(Empty, fixed.Zero)
	c, ok := change.(Closure)
	if !ok {
		t.Fatalf("expected closure, got %T", change)
	}
	if !c.Params.WithdrawCollateral.Eq(d("5")) || !c.Params.RepayBPD.IsZero() {
		t.Errorf("closure of a vault without net debt should not repay: %+v", c.Params)
	}
}

func TestWhatChanged_SetToZero(t *testing.T) {
	change := New(d("5"), d("2500")).WhatChanged(New(d("6"), fixed.Zero), fixed.Zero)
	adj, ok := change.(Adjustment)
	if !ok {
		t.Fatalf("expected adjustment, got %T", change)
	}
	if adj.SetToZero != SideDebt {
		t.Errorf("expected debt forced to zero, got %q", adj.SetToZero)
	}
	// A 1-wei dust residue on the source must not survive replay.
	dusty := New(d("5"), d("2500.000000000000000001"))
	got, err := dusty.Apply(adj, fixed.Zero)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.Equal(New(d("6"), fixed.Zero)) {
		t.Errorf("expected exact zero debt, got %s", got)
	}
}

func TestApply_ProgrammerErrors(t *testing.T) {
	open := New(d("1"), d("2000"))
	if _, err := open.Apply(Creation{Params: CreationParams{DepositCollateral: d("1"), BorrowBPD: d("1800")}}, fixed.Zero); !errors.Is(err, ErrCreateOntoExisting) {
		t.Errorf("expected ErrCreateOntoExisting, got %v", err)
	}
	if _, err := Empty.Apply(Closure{}, fixed.Zero); !errors.Is(err, ErrCloseEmpty) {
		t.Errorf("expected ErrCloseEmpty, got %v", err)
	}
	if _, err := Create(CreationParams{DepositCollateral: d("1"), BorrowBPD: d("100")}, fixed.Zero); !errors.Is(err, ErrDomainInvariant) {
		t.Errorf("expected domain invariant error for tiny creation, got %v", err)
	}
	if _, err := open.Adjust(AdjustmentParams{}, fixed.Zero); !errors.Is(err, ErrEmptyAdjustment) {
		t.Errorf("expected ErrEmptyAdjustment, got %v", err)
	}
	if _, err := open.AdjustTo(Empty, fixed.Zero); !errors.Is(err, ErrNotAdjustment) {
		t.Errorf("expected ErrNotAdjustment, got %v", err)
	}
}

func TestConstructorsDropZeroAmounts(t *testing.T) {
	if !Deposit(fixed.Zero).IsZero() || !Repay(fixed.Zero).IsZero() {
		t.Error("zero amounts should mean no change")
	}
	if _, ok := Withdraw(d("1")).Deposit(); ok {
		t.Error("a withdrawal is never a deposit")
	}
}

// --- Properties ---

func TestRoundTripAtZeroFee(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	for i := 0; i < 2000; i++ {
		a, b := randomVault(r), randomVault(r)
		if a.IsEmpty() {
			continue
		}
		got, err := a.Apply(a.WhatChanged(b, fixed.Zero), fixed.Zero)
		if err != nil {
			t.Fatalf("%s -> %s: %v", a, b, err)
		}
		if !got.Equal(b) {
			t.Fatalf("%s -> %s: round trip gave %s", a, b, got)
		}
	}
}

func TestRoundTripWithFee(t *testing.T) {
	r := rand.New(rand.NewSource(2))
	tolerance := d("0.000000001")
	for i := 0; i < 2000; i++ {
		a, b := randomVault(r), randomVault(r)
		fee := randomRate(r, 5000)
		change := a.WhatChanged(b, fee)
		if _, invalid := change.(InvalidCreation); invalid {
			continue
		}
		got, err := a.Apply(change, fee)
		if err != nil {
			t.Fatalf("%s -> %s at %s: %v", a, b, fee, err)
		}
		if !within(got.Collateral, b.Collateral, tolerance) || !within(got.Debt, b.Debt, tolerance) {
			t.Fatalf("%s -> %s at %s: round trip gave %s", a, b, fee, got)
		}
	}
}

func TestWhatChangedNeverCarriesZeroFields(t *testing.T) {
	r := rand.New(rand.NewSource(3))
	for i := 0; i < 2000; i++ {
		a, b := randomVault(r), randomVault(r)
		adj, ok := a.WhatChanged(b, randomRate(r, 500)).(Adjustment)
		if !ok {
			continue
		}
		if adj.Params.IsZero() {
			t.Fatalf("%s -> %s: empty adjustment", a, b)
		}
		for _, amount := range adjustmentAmounts(adj.Params) {
			if amount.IsZero() {
				t.Fatalf("%s -> %s: zero-valued field in %+v", a, b, adj)
			}
		}
		if a.Collateral.Eq(b.Collateral) != adj.Params.Collateral.IsZero() {
			t.Fatalf("%s -> %s: collateral side mismatch", a, b)
		}
	}
}

func adjustmentAmounts(p AdjustmentParams) []fixed.Decimal {
	var out []fixed.Decimal
	if x, ok := p.Collateral.Deposit(); ok {
		out = append(out, x)
	}
	if x, ok := p.Collateral.Withdrawal(); ok {
		out = append(out, x)
	}
	if x, ok := p.Debt.Borrowing(); ok {
		out = append(out, x)
	}
	if x, ok := p.Debt.Repayment(); ok {
		out = append(out, x)
	}
	return out
}

func TestCreateRecreateKeepsMinimumDebt(t *testing.T) {
	r := rand.New(rand.NewSource(4))
	for i := 0; i < 1000; i++ {
		v := New(randomAmount(r), MinimumDebt.Add(randomAmount(r)))
		rate := randomRate(r, 500) // up to MaximumBorrowingRate
		params, err := Recreate(v, rate)
		if err != nil {
			t.Fatalf("recreate %s: %v", v, err)
		}
		created, err := Create(params, rate)
		if err != nil {
			t.Fatalf("create %+v: %v", params, err)
		}
		if created.Debt.Lt(MinimumDebt) {
			t.Fatalf("created debt %s below minimum", created.Debt)
		}
	}
	if _, err := Recreate(New(d("1"), MinimumDebt), MaximumBorrowingRate); err != nil {
		t.Fatalf("recreate at exact minimum: %v", err)
	}
}
