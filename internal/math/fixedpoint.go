// internal/math/fixedpoint.go
package math

import (
	"errors"
	"fmt"
	"math"
	"math/big"

	"github.com/shopspring/decimal"
)

// RoundingMode selects how a Number is reduced to an integer at a target exponent.
type RoundingMode int

const (
	RoundHalfEven RoundingMode = iota // Banker's rounding
	RoundDown
	RoundUp
)

func (m RoundingMode) String() string {
	switch m {
	case RoundHalfEven:
		return "HalfEven"
	case RoundDown:
		return "Down"
	case RoundUp:
		return "Up"
	default:
		return "Unknown"
	}
}

// Precision is the number of fractional digits kept by Div.
const Precision int32 = 15

// ErrOverflow is returned by every checked operation that leaves the
// representable range.
var ErrOverflow = errors.New("arithmetic overflow")

var (
	// maxNumber is (2^192 - 1) * 10^-Precision.
	maxNumber = decimal.NewFromBigInt(
		new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 192), big.NewInt(1)),
		-Precision,
	)
	maxUint64 = new(big.Int).SetUint64(math.MaxUint64)
)

// Number is a non-negative decimal value mantissa * 10^exponent.
// All monetary arithmetic goes through Number; the zero value is 0.
type Number struct {
	d decimal.Decimal
}

var (
	Zero = Number{}
	One  = FromUint64(1)
)

// FromUint64 returns v * 10^0.
func FromUint64(v uint64) Number {
	return Number{d: decimal.NewFromBigInt(new(big.Int).SetUint64(v), 0)}
}

// FromDecimal returns mantissa * 10^exponent.
func FromDecimal(mantissa int64, exponent int32) Number {
	return Number{d: decimal.New(mantissa, exponent)}
}

// FromBigDecimal returns mantissa * 10^exponent for an arbitrary-size mantissa.
func FromBigDecimal(mantissa *big.Int, exponent int32) Number {
	return Number{d: decimal.NewFromBigInt(mantissa, exponent)}
}

// FromBps converts basis points into a ratio (10000 bps == 1).
func FromBps(bps uint64) Number {
	return Number{d: decimal.NewFromBigInt(new(big.Int).SetUint64(bps), -4)}
}

// Parse reads a decimal string such as "1.25".
func Parse(s string) (Number, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Zero, fmt.Errorf("parse number %q: %w", s, err)
	}
	if d.IsNegative() {
		return Zero, fmt.Errorf("parse number %q: negative value", s)
	}
	return Number{d: d}, nil
}

// MustParse is Parse for constants and tests.
func MustParse(s string) Number {
	n, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return n
}

// Mantissa returns the integer coefficient.
func (n Number) Mantissa() *big.Int { return n.d.Coefficient() }

// Exponent returns the base-10 exponent of the coefficient.
func (n Number) Exponent() int32 { return n.d.Exponent() }

func (n Number) Add(o Number) Number { return Number{d: n.d.Add(o.d)} }

// Mul truncates the product to Precision fractional digits.
func (n Number) Mul(o Number) Number { return Number{d: n.d.Mul(o.d).Truncate(Precision)} }

// Div truncates the quotient to Precision fractional digits. Division by
// zero panics; use CheckedDiv where the divisor is untrusted.
func (n Number) Div(o Number) Number {
	q, _ := n.d.QuoRem(o.d, Precision)
	return Number{d: q}
}

func (n Number) CheckedAdd(o Number) (Number, error) {
	r := n.d.Add(o.d)
	if r.GreaterThan(maxNumber) {
		return Zero, fmt.Errorf("%s + %s: %w", n, o, ErrOverflow)
	}
	return Number{d: r}, nil
}

func (n Number) CheckedSub(o Number) (Number, error) {
	if n.d.LessThan(o.d) {
		return Zero, fmt.Errorf("%s - %s: %w", n, o, ErrOverflow)
	}
	return Number{d: n.d.Sub(o.d)}, nil
}

func (n Number) CheckedMul(o Number) (Number, error) {
	r := n.d.Mul(o.d).Truncate(Precision)
	if r.GreaterThan(maxNumber) {
		return Zero, fmt.Errorf("%s * %s: %w", n, o, ErrOverflow)
	}
	return Number{d: r}, nil
}

func (n Number) CheckedDiv(o Number) (Number, error) {
	if o.d.IsZero() {
		return Zero, fmt.Errorf("%s / 0: %w", n, ErrOverflow)
	}
	q := n.Div(o)
	if q.d.GreaterThan(maxNumber) {
		return Zero, fmt.Errorf("%s / %s: %w", n, o, ErrOverflow)
	}
	return q, nil
}

func (n Number) SaturatingAdd(o Number) Number {
	r := n.d.Add(o.d)
	if r.GreaterThan(maxNumber) {
		return Number{d: maxNumber}
	}
	return Number{d: r}
}

// SaturatingSub clamps at zero.
func (n Number) SaturatingSub(o Number) Number {
	if n.d.LessThanOrEqual(o.d) {
		return Zero
	}
	return Number{d: n.d.Sub(o.d)}
}

func (n Number) SaturatingMul(o Number) Number {
	r := n.d.Mul(o.d).Truncate(Precision)
	if r.GreaterThan(maxNumber) {
		return Number{d: maxNumber}
	}
	return Number{d: r}
}

func (n Number) Cmp(o Number) int { return n.d.Cmp(o.d) }
func (n Number) Equal(o Number) bool { return n.d.Equal(o.d) }
func (n Number) LessThan(o Number) bool { return n.d.LessThan(o.d) }
func (n Number) GreaterThan(o Number) bool { return n.d.GreaterThan(o.d) }
func (n Number) GreaterOrEqual(o Number) bool { return n.d.GreaterThanOrEqual(o.d) }
func (n Number) IsZero() bool { return n.d.IsZero() }
func (n Number) String() string { return n.d.String() }

// Float64 is lossy and only meant for metrics.
func (n Number) Float64() float64 {
	f, _ := n.d.Float64()
	return f
}

func Max(a, b Number) Number {
	if a.d.GreaterThan(b.d) {
		return a
	}
	return b
}

func Min(a, b Number) Number {
	if a.d.LessThan(b.d) {
		return a
	}
	return b
}

// AsUint64 returns the integer k such that k * 10^exponent approximates n
// under the given rounding mode.
func (n Number) AsUint64(exponent int32, mode RoundingMode) (uint64, error) {
	shifted := n.d.Shift(-exponent)

	var rounded decimal.Decimal
	switch mode {
	case RoundUp:
		rounded = shifted.RoundCeil(0)
	case RoundDown:
		rounded = shifted.RoundFloor(0)
	default:
		rounded = shifted.RoundBank(0)
	}

	v := rounded.BigInt()
	if v.Sign() < 0 || v.Cmp(maxUint64) > 0 {
		return 0, fmt.Errorf("%s as u64 at 10^%d: %w", n, exponent, ErrOverflow)
	}
	return v.Uint64(), nil
}

// MarshalJSON encodes the value as a decimal string.
func (n Number) MarshalJSON() ([]byte, error) {
	return n.d.MarshalJSON()
}

func (n *Number) UnmarshalJSON(data []byte) error {
	var d decimal.Decimal
	if err := d.UnmarshalJSON(data); err != nil {
		return err
	}
	if d.IsNegative() {
		return fmt.Errorf("number %s: negative value", d)
	}
	n.d = d
	return nil
}

// MarshalText lets Number appear in TOML and as map keys.
func (n Number) MarshalText() ([]byte, error) {
	return []byte(n.d.String()), nil
}

func (n *Number) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*n = parsed
	return nil
}
