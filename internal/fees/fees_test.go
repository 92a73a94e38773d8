package fees

import (
	"testing"
	"time"

	"github.com/moneyprotocol/engineering-sub002/internal/fixed"
	"github.com/moneyprotocol/engineering-sub002/internal/vault"
)

func d(s string) fixed.Decimal {
	return fixed.MustParse(s)
}

var t0 = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestBaseRate_DecaysByWholeMinutes(t *testing.T) {
	f := New(d("0.04"), t0, false)
	if !f.BaseRate(t0.Add(59 * time.Second)).Eq(d("0.04")) {
		t.Error("less than a minute must not decay")
	}
	oneMinute := f.BaseRate(t0.Add(time.Minute))
	if !oneMinute.Eq(d("0.04").Mul(MinuteDecayFactor)) {
		t.Errorf("unexpected one-minute decay %s", oneMinute)
	}
	if !f.BaseRate(t0.Add(119 * time.Second)).Eq(oneMinute) {
		t.Error("fractional minutes must be floored")
	}
	halved := f.BaseRate(t0.Add(12 * time.Hour))
	if halved.Lt(d("0.0199")) || halved.Gt(d("0.0201")) {
		t.Errorf("expected ~0.02 after 12h, got %s", halved)
	}
}

func TestBaseRate_ClockBehindLastUpdate(t *testing.T) {
	f := New(d("0.04"), t0, false)
	if !f.BaseRate(t0.Add(-time.Hour)).Eq(d("0.04")) {
		t.Error("negative elapsed time must not decay")
	}
}

func TestBaseRate_IsMonotonic(t *testing.T) {
	f := New(d("0.05"), t0, false)
	prev := f.BaseRate(t0)
	for m := 1; m < 5000; m += 37 {
		cur := f.BaseRate(t0.Add(time.Duration(m) * time.Minute))
		if cur.Gt(prev) {
			t.Fatalf("base rate grew at minute %d: %s > %s", m, cur, prev)
		}
		prev = cur
	}
}

func TestBorrowingRate_Clamped(t *testing.T) {
	tests := []struct {
		base string
		want fixed.Decimal
	}{
		{"0", vault.MinimumBorrowingRate},
		{"0.001", vault.MinimumBorrowingRate},
		{"0.02", d("0.02")},
		{"0.3", vault.MaximumBorrowingRate},
	}
	for _, tt := range tests {
		got := New(d(tt.base), t0, false).BorrowingRate(t0)
		if !got.Eq(tt.want) {
			t.Errorf("base %s: expected %s, got %s", tt.base, tt.want, got)
		}
	}
}

func TestBorrowingRate_RecoveryModeOverridesFloor(t *testing.T) {
	f := New(d("0.03"), t0, false)
	if !f.BorrowingRate(t0).Eq(d("0.03")) {
		t.Fatalf("expected 0.03 outside recovery mode, got %s", f.BorrowingRate(t0))
	}
	if got := f.WithRecoveryMode(true).BorrowingRate(t0); !got.IsZero() {
		t.Errorf("recovery mode must force zero borrowing rate, got %s", got)
	}
	if f.RecoveryMode {
		t.Error("WithRecoveryMode must not modify the receiver")
	}
}

func TestRedemptionRate(t *testing.T) {
	f := New(fixed.Zero, t0, false)
	tests := []struct {
		fraction string
		want     string
	}{
		{"0", "0.005"},
		{"0.1", "0.025"},
		{"0.5", "0.505"},
		{"1", "1"},
	}
	for _, tt := range tests {
		if got := f.RedemptionRate(d(tt.fraction), t0); !got.Eq(d(tt.want)) {
			t.Errorf("fraction %s: expected %s, got %s", tt.fraction, tt.want, got)
		}
	}
	withBase := New(d("0.01"), t0, true).RedemptionRate(fixed.Zero, t0)
	if !withBase.Eq(d("0.015")) {
		t.Errorf("expected base rate to add on, got %s", withBase)
	}
}

func TestRedemptionRate_IsConvex(t *testing.T) {
	f := New(fixed.Zero, t0, false)
	small := f.RedemptionRate(d("0.1"), t0).Sub(vault.MinimumRedemptionRate)
	double := f.RedemptionRate(d("0.2"), t0).Sub(vault.MinimumRedemptionRate)
	if !double.Eq(small.Mul(d("4"))) {
		t.Errorf("doubling the fraction should quadruple the premium: %s vs %s", small, double)
	}
}

func TestCumulativeIssuanceFraction(t *testing.T) {
	if !CumulativeIssuanceFraction(0).IsZero() {
		t.Error("nothing is issued at deployment")
	}
	year := 365 * 24 * time.Hour
	half := CumulativeIssuanceFraction(year)
	if half.Lt(d("0.49")) || half.Gt(d("0.51")) {
		t.Errorf("expected ~0.5 after one year, got %s", half)
	}
	prev := fixed.Zero
	for elapsed := time.Hour; elapsed < 20*year; elapsed *= 2 {
		cur := CumulativeIssuanceFraction(elapsed)
		if cur.Lt(prev) {
			t.Fatalf("issuance fraction decreased at %s", elapsed)
		}
		prev = cur
	}
	if !CumulativeIssuanceFraction(200 * year).Lt(fixed.One) {
		t.Error("issuance fraction must stay below one")
	}
}

func TestEqual(t *testing.T) {
	a := New(d("0.01"), t0, false)
	if !a.Equal(New(d("0.010"), t0.In(time.FixedZone("X", 3600)), false)) {
		t.Error("equal fee states compared unequal")
	}
	if a.Equal(a.WithRecoveryMode(true)) {
		t.Error("recovery mode flag ignored by Equal")
	}
}
