// Package primitives provides type-safe numeric and temporal primitives used
// across the simulator. Fractional values entering from the CLI or data files
// use decimal arithmetic; pool math itself runs on scaled big integers (see
// bigint.go) and only crosses into decimals at the boundary.
package primitives

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

var (
	// ErrDivisionByZero indicates attempted division by zero
	ErrDivisionByZero = errors.New("division by zero")
	// ErrInvalidDecimal indicates an invalid decimal value
	ErrInvalidDecimal = errors.New("invalid decimal value")
)

// Decimal wraps shopspring/decimal.Decimal for precise boundary arithmetic.
// Fees ("0.0004"), volume multipliers, and registry precision multipliers are
// carried as Decimal until they are scaled into the integer domain.
type Decimal struct {
	value decimal.Decimal
}

// NewDecimal creates a Decimal from an int64 value.
func NewDecimal(value int64) Decimal {
	return Decimal{value: decimal.NewFromInt(value)}
}

// NewDecimalFromFloat creates a Decimal from a float64 value.
// Note: Use this sparingly; prefer NewDecimalFromString for external data.
func NewDecimalFromFloat(value float64) Decimal {
	return Decimal{value: decimal.NewFromFloat(value)}
}

// NewDecimalFromString creates a Decimal from a string representation.
// Returns error if the string is not a valid decimal number.
func NewDecimalFromString(value string) (Decimal, error) {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return Decimal{}, fmt.Errorf("%w: %s", ErrInvalidDecimal, err)
	}
	return Decimal{value: d}, nil
}

// MustDecimalFromString creates a Decimal from a string, panicking on error.
// Only use for known-valid constants in tests or initialization.
func MustDecimalFromString(value string) Decimal {
	d, err := NewDecimalFromString(value)
	if err != nil {
		panic(err)
	}
	return d
}

// Zero returns a Decimal representing zero.
func Zero() Decimal {
	return Decimal{value: decimal.Zero}
}

// One returns a Decimal representing one.
func One() Decimal {
	return Decimal{value: decimal.NewFromInt(1)}
}

// Add returns the sum of two Decimals.
func (d Decimal) Add(other Decimal) Decimal {
	return Decimal{value: d.value.Add(other.value)}
}

// Sub returns the difference of two Decimals.
func (d Decimal) Sub(other Decimal) Decimal {
	return Decimal{value: d.value.Sub(other.value)}
}

// Mul returns the product of two Decimals.
func (d Decimal) Mul(other Decimal) Decimal {
	return Decimal{value: d.value.Mul(other.value)}
}

// Div returns the quotient of two Decimals.
// Returns error if dividing by zero.
func (d Decimal) Div(other Decimal) (Decimal, error) {
	if other.value.IsZero() {
		return Decimal{}, ErrDivisionByZero
	}
	return Decimal{value: d.value.Div(other.value)}, nil
}

// Abs returns the absolute value of the Decimal.
func (d Decimal) Abs() Decimal {
	return Decimal{value: d.value.Abs()}
}

// IsZero returns true if the Decimal is zero.
func (d Decimal) IsZero() bool {
	return d.value.IsZero()
}

// IsNegative returns true if the Decimal is negative.
func (d Decimal) IsNegative() bool {
	return d.value.IsNegative()
}

// IsPositive returns true if the Decimal is positive.
func (d Decimal) IsPositive() bool {
	return d.value.IsPositive()
}

// GreaterThan returns true if d > other.
func (d Decimal) GreaterThan(other Decimal) bool {
	return d.value.GreaterThan(other.value)
}

// LessThan returns true if d < other.
func (d Decimal) LessThan(other Decimal) bool {
	return d.value.LessThan(other.value)
}

// Equal returns true if d == other.
func (d Decimal) Equal(other Decimal) bool {
	return d.value.Equal(other.value)
}

// ScaledInt returns the Decimal multiplied by 10^exp, truncated toward zero
// to an integer. A fee of "0.0004" scaled by 10 yields 4_000_000, the
// on-chain representation with denominator 10^10.
func (d Decimal) ScaledInt(exp int32) *big.Int {
	return d.value.Shift(exp).Truncate(0).BigInt()
}

// FromScaledInt creates a Decimal from an integer scaled by 10^exp.
func FromScaledInt(v *big.Int, exp int32) Decimal {
	return Decimal{value: decimal.NewFromBigInt(v, -exp)}
}

// Float64 returns the float64 representation of the Decimal.
// Use only for display or hand-off to float-domain solvers.
func (d Decimal) Float64() float64 {
	f, _ := d.value.Float64()
	return f
}

// String returns the string representation of the Decimal.
func (d Decimal) String() string {
	return d.value.String()
}
