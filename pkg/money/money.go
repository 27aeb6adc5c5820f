// Package money provides the exact fixed-precision arithmetic used by every
// component that touches prices, sizes, or P&L. Binary floating point never
// participates; values cross the JSON boundary as strings and are parsed
// with decimal.NewFromString.
package money

import (
	"database/sql/driver"
	"fmt"

	"github.com/shopspring/decimal"
)

// DefaultScale is the number of decimal places results are rounded to when a
// caller does not request a specific scale.
const DefaultScale = 8

// Money wraps shopspring/decimal.Decimal with the kernel's explicit error
// contract: ArithmeticOverflow on division by zero, never a panic or NaN.
type Money struct {
	d decimal.Decimal
}

// Zero is the additive identity.
var Zero = Money{d: decimal.Zero}

// ErrArithmeticOverflow is returned for division by zero and for operations
// that would otherwise silently lose precision via binary floats.
type ErrArithmeticOverflow struct {
	Op     string
	Reason string
}

func (e *ErrArithmeticOverflow) Error() string {
	return fmt.Sprintf("money: arithmetic overflow in %s: %s", e.Op, e.Reason)
}

// New constructs a Money from an integer number of the kernel's smallest
// unit at the given scale, e.g. New(12345, 2) == 123.45.
func New(value int64, exp int32) Money {
	return Money{d: decimal.New(value, exp)}
}

// FromInt constructs a Money with zero fractional part.
func FromInt(value int64) Money {
	return Money{d: decimal.NewFromInt(value)}
}

// Parse parses a decimal string. This is the only sanctioned way external
// JSON numerics (broker quotes, option greeks) enter the system: callers
// must read them as strings and call Parse, never json.Unmarshal into a
// float64.
func Parse(s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, &ErrArithmeticOverflow{Op: "parse", Reason: err.Error()}
	}
	return Money{d: d}, nil
}

// MustParse parses a decimal string and panics on failure. Reserved for
// constants known at compile time (tests, default configuration).
func MustParse(s string) Money {
	m, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return m
}

func (m Money) String() string { return m.d.String() }

// StringFixed renders the value with exactly scale digits after the point.
func (m Money) StringFixed(scale int32) string { return m.d.StringFixed(scale) }

func (m Money) Add(o Money) Money { return Money{d: m.d.Add(o.d)} }
func (m Money) Sub(o Money) Money { return Money{d: m.d.Sub(o.d)} }
func (m Money) Mul(o Money) Money { return Money{d: m.d.Mul(o.d)} }
func (m Money) Neg() Money        { return Money{d: m.d.Neg()} }
func (m Money) Abs() Money        { return Money{d: m.d.Abs()} }

// Div divides m by o at DefaultScale using half-even (banker's) rounding.
// Returns ErrArithmeticOverflow if o is zero.
func (m Money) Div(o Money) (Money, error) {
	return m.DivRound(o, DefaultScale)
}

// DivRound divides m by o, rounding the result to scale digits using
// half-to-even (banker's) rounding. decimal.Decimal's own DivRound rounds
// half-away-from-zero, so the quotient is first truncated two guard digits
// past scale; a nonzero remainder adds one sticky digit beyond those, so
// the final RoundBank sees a tie only when the exact quotient is a tie.
// Returns ErrArithmeticOverflow if o is zero.
func (m Money) DivRound(o Money, scale int32) (Money, error) {
	if o.d.IsZero() {
		return Money{}, &ErrArithmeticOverflow{Op: "div", Reason: "division by zero"}
	}
	guard, rem := m.d.QuoRem(o.d, scale+2)
	if !rem.IsZero() {
		guard = guard.Add(decimal.New(int64(m.d.Sign()*o.d.Sign()), -(scale + 3)))
	}
	return Money{d: guard.RoundBank(scale)}, nil
}

// MustDiv divides m by o and panics on division by zero. Reserved for
// callers that have already validated the divisor is non-zero.
func (m Money) MustDiv(o Money) Money {
	res, err := m.Div(o)
	if err != nil {
		panic(err)
	}
	return res
}

func (m Money) Cmp(o Money) int           { return m.d.Cmp(o.d) }
func (m Money) Equal(o Money) bool        { return m.d.Equal(o.d) }
func (m Money) LessThan(o Money) bool     { return m.d.LessThan(o.d) }
func (m Money) LessOrEqual(o Money) bool  { return m.d.LessThanOrEqual(o.d) }
func (m Money) GreaterThan(o Money) bool  { return m.d.GreaterThan(o.d) }
func (m Money) GreaterOrEqual(o Money) bool {
	return m.d.GreaterThanOrEqual(o.d)
}
func (m Money) IsZero() bool     { return m.d.IsZero() }
func (m Money) IsNegative() bool { return m.d.IsNegative() }
func (m Money) IsPositive() bool { return m.d.IsPositive() }

// InexactFloat64 escapes the kernel for display-only contexts (log fields,
// metrics gauges). Never use the result in further money arithmetic.
func (m Money) InexactFloat64() float64 { return m.d.InexactFloat64() }

// Decimal exposes the underlying decimal.Decimal for interop with libraries
// (e.g. gonum/stat) that need a float64 series derived from, but not
// re-fed into, money arithmetic.
func (m Money) Decimal() decimal.Decimal { return m.d }

// MarshalJSON serializes as a JSON string, preserving scale exactly.
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(`"` + m.d.String() + `"`), nil
}

// UnmarshalJSON parses a JSON string (or bare numeric literal, for
// tolerance of loosely-typed upstream documents) into a Money.
func (m *Money) UnmarshalJSON(data []byte) error {
	var d decimal.Decimal
	if err := d.UnmarshalJSON(data); err != nil {
		return err
	}
	m.d = d
	return nil
}

// Value implements driver.Valuer for interop with Firestore's native type
// mapping (stored as a string document field).
func (m Money) Value() (driver.Value, error) { return m.d.String(), nil }

// Mean returns the arithmetic mean of a series at DefaultScale, or Zero for
// an empty series.
func Mean(xs []Money) Money {
	if len(xs) == 0 {
		return Zero
	}
	sum := Zero
	for _, x := range xs {
		sum = sum.Add(x)
	}
	return sum.MustDiv(FromInt(int64(len(xs))))
}
