package fixed

import (
	"encoding/json"
	"errors"
	"math/big"
	"testing"

	"github.com/holiman/uint256"
)

func d(s string) Decimal {
	return MustParse(s)
}

// --- Construction ---

func TestParse_IntegerIsExact(t *testing.T) {
	got := d("1800")
	want := new(big.Int).Mul(big.NewInt(1800), oneInt)
	if got.BigInt().Cmp(want) != 0 {
		t.Errorf("expected mantissa %s, got %s", want, got.BigInt())
	}
}

func TestParse_DecimalString(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"1.5", "1.5"},
		{"0.005", "0.005"},
		{"0.999037758833783000", "0.999037758833783"},
		{"200", "200"},
		{".25", "0.25"},
		{"2e-3", "0.002"},
		{"0", "0"},
	}
	for _, tt := range tests {
		if got := d(tt.in).String(); got != tt.want {
			t.Errorf("Parse(%q).String() = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParse_TruncatesBeyondPrecision(t *testing.T) {
	got := d("0.1234567890123456789999")
	if got.String() != "0.123456789012345678" {
		t.Errorf("expected truncation at 18 digits, got %s", got)
	}
}

func TestParse_Malformed(t *testing.T) {
	for _, in := range []string{"", "abc", "1.2.3", "-1", "+1", "1,5", "1e79", "2e59", "1e1000000000"} {
		_, err := Parse(in)
		if !errors.Is(err, ErrFormat) {
			t.Errorf("Parse(%q): expected ErrFormat, got %v", in, err)
		}
		var fe *FormatError
		if !errors.As(err, &fe) {
			t.Errorf("Parse(%q): expected *FormatError, got %T", in, err)
		}
	}
}

func TestParse_ExtremeExponents(t *testing.T) {
	if got := d("1e-1000000000"); !got.IsZero() {
		t.Errorf("expected a tiny value to truncate to zero, got %s", got)
	}
	if got := d("1e-19"); !got.IsZero() {
		t.Errorf("expected 1e-19 to truncate to zero, got %s", got)
	}
	if got := d("1e59"); got.BigInt().Cmp(new(big.Int).Exp(big.NewInt(10), big.NewInt(77), nil)) != 0 {
		t.Errorf("1e59 mantissa = %s", got.BigInt())
	}
}

func TestFromFloat(t *testing.T) {
	got, err := FromFloat(1.1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.Eq(d("1.1")) {
		t.Errorf("expected 1.1, got %s", got)
	}
	if _, err := FromFloat(-1); !errors.Is(err, ErrFormat) {
		t.Errorf("expected ErrFormat for negative float, got %v", err)
	}
	if got, _ := FromFloat(1.5e-19); !got.IsZero() {
		t.Errorf("expected digits past the 18th place to truncate, got %s", got)
	}
}

func TestFromBigIntAndUint256(t *testing.T) {
	raw := big.NewInt(1500)
	got, err := FromBigInt(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.String() != "0.0000000000000015" {
		t.Errorf("unexpected value %s", got)
	}
	if _, err := FromBigInt(big.NewInt(-1)); !errors.Is(err, ErrFormat) {
		t.Errorf("expected ErrFormat for negative mantissa, got %v", err)
	}
	word := uint256.NewInt(7)
	if !FromUint256(word).Eq(Decimal{v: big.NewInt(7)}) {
		t.Errorf("FromUint256 mismatch")
	}
	if !FromUint256(new(uint256.Int).SetAllOne()).IsInfinite() {
		t.Errorf("max uint256 should be Infinity")
	}
}

// --- Arithmetic ---

func TestMulTruncates(t *testing.T) {
	third := One.Div(d("3"))
	if third.String() != "0.333333333333333333" {
		t.Fatalf("1/3 = %s", third)
	}
	got := third.Mul(d("3"))
	if got.String() != "0.999999999999999999" {
		t.Errorf("expected truncated product, got %s", got)
	}
}

func TestDivCeilRoundsUp(t *testing.T) {
	got := One.DivCeil(d("3"))
	if got.String() != "0.333333333333333334" {
		t.Errorf("expected ceiling division, got %s", got)
	}
	// Inverse of truncating Mul: never nets less than the original.
	rate := d("1.005")
	x := d("1800")
	if x.DivCeil(rate).Mul(rate).Lt(x) {
		t.Errorf("DivCeil followed by Mul must not under-shoot")
	}
}

func TestInfinitySaturates(t *testing.T) {
	if !Infinity.Add(One).IsInfinite() {
		t.Error("Infinity + 1 should stay Infinity")
	}
	if !Infinity.Sub(One).IsInfinite() {
		t.Error("Infinity - 1 should stay Infinity")
	}
	if !Infinity.Mul(d("2")).IsInfinite() || !d("0.5").Mul(Infinity).IsInfinite() {
		t.Error("Infinity times a positive value should stay Infinity")
	}
	if !Zero.Mul(Infinity).IsZero() {
		t.Error("zero times Infinity should be zero")
	}
	if !d("1e59").Mul(d("1e59")).IsInfinite() {
		t.Error("an overflowing product should saturate")
	}
	if !d("1e59").MulDiv(d("1e59"), One).IsInfinite() {
		t.Error("an overflowing MulDiv should saturate")
	}
}

func TestDivisionByZeroIsInfinity(t *testing.T) {
	if !One.Div(Zero).IsInfinite() {
		t.Error("Div by zero should be Infinity")
	}
	if !One.DivCeil(Zero).IsInfinite() {
		t.Error("DivCeil by zero should be Infinity")
	}
	if !One.MulDiv(d("100"), Zero).IsInfinite() {
		t.Error("MulDiv by zero should be Infinity")
	}
	if Infinity.String() != "∞" {
		t.Errorf("Infinity renders as %q", Infinity.String())
	}
}

func TestMulDivAvoidsIntermediateTruncation(t *testing.T) {
	got := d("10").MulDiv(One, d("3"))
	if got.String() != "3.333333333333333333" {
		t.Errorf("unexpected MulDiv result %s", got)
	}
	ratio := d("1").MulDiv(d("100"), d("111"))
	if ratio.String() != "0.9009009009009009" {
		t.Errorf("unexpected nominal ratio %s", ratio)
	}
}

func TestSubPanicsWhenNegative(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic on negative subtraction")
		}
	}()
	_ = One.Sub(d("2"))
}

func TestPow(t *testing.T) {
	if !d("2").Pow(10).Eq(d("1024")) {
		t.Errorf("2^10 = %s", d("2").Pow(10))
	}
	if !d("0.5").Pow(0).Eq(One) {
		t.Error("x^0 should be 1")
	}
	factor := d("0.999037758833783")
	prev := One
	for n := uint32(1); n < 2000; n *= 3 {
		cur := factor.Pow(n)
		if !cur.Lt(prev) {
			t.Fatalf("decay not strictly decreasing at n=%d: %s >= %s", n, cur, prev)
		}
		prev = cur
	}
	halfLife := factor.Pow(720)
	if halfLife.Lt(d("0.49")) || halfLife.Gt(d("0.51")) {
		t.Errorf("expected ~12h half-life, got %s", halfLife)
	}
}

func TestComparisons(t *testing.T) {
	a, b := d("1.1"), d("1.5")
	if !a.Lt(b) || !a.Lte(b) || a.Gt(b) || a.Gte(b) || a.Eq(b) {
		t.Error("comparison mismatch")
	}
	if !Zero.IsZero() || Zero.NonZero() || !(Decimal{}).Eq(Zero) {
		t.Error("zero helpers mismatch")
	}
	if !Min(b, a, d("3")).Eq(a) || !Max(a, b, d("0.2")).Eq(b) {
		t.Error("min/max mismatch")
	}
}

func TestJSONRoundTrip(t *testing.T) {
	type wrapper struct {
		Price Decimal `json:"price"`
		Ratio Decimal `json:"ratio"`
	}
	in := wrapper{Price: d("200.25"), Ratio: Infinity}
	data, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `{"price":"200.25","ratio":"∞"}` {
		t.Errorf("unexpected JSON %s", data)
	}
	var out wrapper
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !out.Price.Eq(in.Price) || !out.Ratio.IsInfinite() {
		t.Errorf("round trip mismatch: %+v", out)
	}
	var bare Decimal
	if err := json.Unmarshal([]byte(`1.25`), &bare); err != nil || !bare.Eq(d("1.25")) {
		t.Errorf("bare number: %v %s", err, bare)
	}
	if err := json.Unmarshal([]byte(`"x"`), &bare); !errors.Is(err, ErrFormat) {
		t.Errorf("expected ErrFormat, got %v", err)
	}
}
