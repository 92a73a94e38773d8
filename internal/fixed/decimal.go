// Package fixed implements the unsigned base-18 fixed-point number used for
// every collateral, debt, price and rate value in the mirror.
//
// A Decimal wraps an integer mantissa scaled by 10^18, exactly like the
// on-chain contracts store their values, so that client-side arithmetic can
// be made to agree bit-for-bit with the contracts. Addition and subtraction
// are exact; multiplication and division truncate toward zero at 18 digits.
// Division by zero yields Infinity rather than failing, because the
// collateral ratio of a debt-free vault is a meaningful "safe" value.
//
// Decimals are immutable: no method ever modifies its receiver or arguments.
package fixed

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/big"
	"strings"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// Precision is the number of fractional digits carried by a Decimal.
const Precision = 18

// maxMantissaDigits is the number of decimal digits of the largest uint256.
const maxMantissaDigits = 78

var (
	oneInt     = new(big.Int).Exp(big.NewInt(10), big.NewInt(Precision), nil)
	halfInt    = new(big.Int).Rsh(oneInt, 1)
	zeroInt    = new(big.Int)
	maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
)

var (
	// Zero is the additive identity. The zero value of Decimal equals Zero.
	Zero = Decimal{}

	// One is 1.0.
	One = Decimal{v: oneInt}

	// Epsilon is the smallest positive value, 1e-18.
	Epsilon = Decimal{v: big.NewInt(1)}

	// Infinity is the "no upper bound" sentinel returned by divisions by
	// zero. Its mantissa is the largest uint256, matching the contracts.
	Infinity = Decimal{v: maxUint256}
)

// ErrFormat is matched (via errors.Is) by every FormatError.
var ErrFormat = errors.New("fixed: bad decimal format")

// FormatError reports malformed numeric input rejected at construction.
type FormatError struct {
	Input  string
	Reason string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("fixed: bad decimal format %q: %s", e.Input, e.Reason)
}

// Is makes errors.Is(err, ErrFormat) true for any *FormatError.
func (e *FormatError) Is(target error) bool {
	return target == ErrFormat
}

// Decimal is an unsigned fixed-point number with 18 fractional digits.
type Decimal struct {
	v *big.Int
}

// Parse constructs a Decimal from an integer string ("1800"), a decimal
// string ("1.5"), or scientific notation ("2e-3"). Digits beyond the 18th
// fractional place are truncated. "∞" parses as Infinity.
func Parse(s string) (Decimal, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "∞" {
		return Infinity, nil
	}
	if trimmed == "" {
		return Zero, &FormatError{Input: s, Reason: "empty"}
	}
	if trimmed[0] == '-' || trimmed[0] == '+' {
		return Zero, &FormatError{Input: s, Reason: "sign not allowed"}
	}
	d, err := decimal.NewFromString(trimmed)
	if err != nil {
		return Zero, &FormatError{Input: s, Reason: err.Error()}
	}
	return fromShopspring(s, d)
}

// MustParse is like Parse but panics on malformed input. Intended for
// package-level constants.
func MustParse(s string) Decimal {
	d, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return d
}

// FromInt returns n as a Decimal. It panics if n is negative.
func FromInt(n int64) Decimal {
	if n < 0 {
		panic(fmt.Sprintf("fixed: negative integer %d", n))
	}
	return Decimal{v: new(big.Int).Mul(big.NewInt(n), oneInt)}
}

// FromFloat converts a native number. Digits beyond the 18th fractional
// place are truncated, as in Parse.
func FromFloat(f float64) (Decimal, error) {
	repr := fmt.Sprintf("%g", f)
	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return Zero, &FormatError{Input: repr, Reason: "not a finite non-negative number"}
	}
	return fromShopspring(repr, decimal.NewFromFloat(f))
}

// FromBigInt wraps a raw 18-digit mantissa (a "wei" amount) as read from
// the chain.
func FromBigInt(mantissa *big.Int) (Decimal, error) {
	if mantissa == nil {
		return Zero, nil
	}
	if mantissa.Sign() < 0 {
		return Zero, &FormatError{Input: mantissa.String(), Reason: "negative mantissa"}
	}
	if mantissa.Cmp(maxUint256) > 0 {
		return Zero, &FormatError{Input: mantissa.String(), Reason: "mantissa exceeds 256 bits"}
	}
	return Decimal{v: new(big.Int).Set(mantissa)}, nil
}

// FromUint256 wraps a raw 256-bit word as a Decimal mantissa.
func FromUint256(word *uint256.Int) Decimal {
	if word == nil {
		return Zero
	}
	return Decimal{v: word.ToBig()}
}

func fromShopspring(input string, d decimal.Decimal) (Decimal, error) {
	if d.IsNegative() {
		return Zero, &FormatError{Input: input, Reason: "negative value"}
	}
	coefficient := d.Coefficient()
	if coefficient.Sign() == 0 {
		return Zero, nil
	}
	// The mantissa is coefficient·10^(exponent+Precision). Bound the shift
	// before building the power of ten.
	shift := int64(d.Exponent()) + Precision
	digits := int64(len(coefficient.String()))
	switch {
	case shift+digits > maxMantissaDigits:
		return Zero, &FormatError{Input: input, Reason: "value out of range"}
	case shift+digits <= 0:
		return Zero, nil
	}
	mantissa := d.Shift(Precision).BigInt()
	if mantissa.Cmp(maxUint256) > 0 {
		return Zero, &FormatError{Input: input, Reason: "value out of range"}
	}
	return Decimal{v: mantissa}, nil
}

// saturate caps v at Infinity.
func saturate(v *big.Int) Decimal {
	if v.Cmp(maxUint256) > 0 {
		return Infinity
	}
	return Decimal{v: v}
}

func (d Decimal) raw() *big.Int {
	if d.v == nil {
		return zeroInt
	}
	return d.v
}

// BigInt returns a copy of the raw mantissa.
func (d Decimal) BigInt() *big.Int {
	return new(big.Int).Set(d.raw())
}

// Add returns d + o, saturating at Infinity.
func (d Decimal) Add(o Decimal) Decimal {
	if d.IsInfinite() || o.IsInfinite() {
		return Infinity
	}
	return saturate(new(big.Int).Add(d.raw(), o.raw()))
}

// Sub returns d - o. Decimals are unsigned, so a negative result is a
// programming error and panics; use Vault's clamped arithmetic when the
// difference may go below zero.
func (d Decimal) Sub(o Decimal) Decimal {
	if d.Lt(o) {
		panic(fmt.Sprintf("fixed: %s - %s is negative", d, o))
	}
	if d.IsInfinite() && !o.IsInfinite() {
		return Infinity
	}
	return Decimal{v: new(big.Int).Sub(d.raw(), o.raw())}
}

// Mul returns d·o truncated at 18 digits, saturating at Infinity. Zero
// times Infinity is zero.
func (d Decimal) Mul(o Decimal) Decimal {
	if d.IsZero() || o.IsZero() {
		return Zero
	}
	if d.IsInfinite() || o.IsInfinite() {
		return Infinity
	}
	product := new(big.Int).Mul(d.raw(), o.raw())
	return saturate(product.Quo(product, oneInt))
}

// Div returns d/o truncated at 18 digits, or Infinity when o is zero.
func (d Decimal) Div(o Decimal) Decimal {
	if o.IsZero() {
		return Infinity
	}
	numerator := new(big.Int).Mul(d.raw(), oneInt)
	return Decimal{v: numerator.Quo(numerator, o.raw())}
}

// DivCeil returns d/o rounded up at 18 digits, or Infinity when o is zero.
// It is the exact inverse of Mul under truncation: for any x,
// x.DivCeil(o).Mul(o) >= x.
func (d Decimal) DivCeil(o Decimal) Decimal {
	if o.IsZero() {
		return Infinity
	}
	numerator := new(big.Int).Mul(d.raw(), oneInt)
	numerator.Add(numerator, o.raw())
	numerator.Sub(numerator, big.NewInt(1))
	return Decimal{v: numerator.Quo(numerator, o.raw())}
}

// MulDiv returns d·m/div with a double-width intermediate, truncating only
// once at the end. Infinity when div is zero.
func (d Decimal) MulDiv(m, div Decimal) Decimal {
	if div.IsZero() {
		return Infinity
	}
	product := new(big.Int).Mul(d.raw(), m.raw())
	return saturate(product.Quo(product, div.raw()))
}

// Pow returns d^n by repeated squaring, rounding each intermediate product
// half-up, which mirrors the contracts' decPow.
func (d Decimal) Pow(n uint32) Decimal {
	switch n {
	case 0:
		return One
	case 1:
		return d
	}
	x := new(big.Int).Set(d.raw())
	y := new(big.Int).Set(oneInt)
	for ; n > 1; n >>= 1 {
		if n&1 == 1 {
			y = roundedMul(x, y)
		}
		x = roundedMul(x, x)
	}
	return Decimal{v: roundedMul(x, y)}
}

func roundedMul(x, y *big.Int) *big.Int {
	product := new(big.Int).Mul(x, y)
	product.Add(product, halfInt)
	return product.Quo(product, oneInt)
}

// Cmp compares d and o and returns -1, 0 or +1.
func (d Decimal) Cmp(o Decimal) int { return d.raw().Cmp(o.raw()) }

func (d Decimal) Eq(o Decimal) bool  { return d.Cmp(o) == 0 }
func (d Decimal) Lt(o Decimal) bool  { return d.Cmp(o) < 0 }
func (d Decimal) Lte(o Decimal) bool { return d.Cmp(o) <= 0 }
func (d Decimal) Gt(o Decimal) bool  { return d.Cmp(o) > 0 }
func (d Decimal) Gte(o Decimal) bool { return d.Cmp(o) >= 0 }

// IsZero reports whether d == 0.
func (d Decimal) IsZero() bool { return d.raw().Sign() == 0 }

// NonZero reports whether d != 0.
func (d Decimal) NonZero() bool { return !d.IsZero() }

// IsInfinite reports whether d is the Infinity sentinel.
func (d Decimal) IsInfinite() bool { return d.raw().Cmp(maxUint256) == 0 }

// Min returns the smallest of its arguments.
func Min(a Decimal, rest ...Decimal) Decimal {
	for _, b := range rest {
		if b.Lt(a) {
			a = b
		}
	}
	return a
}

// Max returns the largest of its arguments.
func Max(a Decimal, rest ...Decimal) Decimal {
	for _, b := range rest {
		if b.Gt(a) {
			a = b
		}
	}
	return a
}

// Shopspring converts d to an arbitrary-precision shopspring decimal, for
// NUMERIC columns and human-facing formatting.
func (d Decimal) Shopspring() decimal.Decimal {
	return decimal.NewFromBigInt(d.raw(), -Precision)
}

// Float64 returns an inexact float, for metrics only.
func (d Decimal) Float64() float64 {
	return d.Shopspring().InexactFloat64()
}

// String renders d without trailing fractional zeros ("1.5", "200"), and
// Infinity as "∞".
func (d Decimal) String() string {
	if d.IsInfinite() {
		return "∞"
	}
	integer, fraction := new(big.Int).QuoRem(d.raw(), oneInt, new(big.Int))
	if fraction.Sign() == 0 {
		return integer.String()
	}
	digits := fraction.String()
	digits = strings.Repeat("0", Precision-len(digits)) + digits
	return integer.String() + "." + strings.TrimRight(digits, "0")
}

// MarshalJSON encodes d as a JSON string to avoid float precision loss.
func (d Decimal) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON accepts a JSON string or a bare JSON number.
func (d *Decimal) UnmarshalJSON(data []byte) error {
	var s string
	if len(data) > 0 && data[0] == '"' {
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
	} else {
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return &FormatError{Input: string(data), Reason: "not a number"}
		}
		s = n.String()
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
