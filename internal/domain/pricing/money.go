// Package pricing implements the quote engine shared by every purchase,
// renewal and add-on flow: discount resolution, proration, price composition
// and the consistency check performed before a charge.
//
// All arithmetic is integer arithmetic over kopeks. Nothing in this package
// performs I/O except Resolver, which loads the discount inputs of a user.
package pricing

import (
	"math"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Money is an amount in minor currency units (kopeks).
type Money int64

// ErrNegativePrice is returned when a price is negative. A negative unit price
// would under-charge, so callers must treat it as a programming error.
var ErrNegativePrice = errors.New("negative price")

// ErrOverflow is returned when an amount does not fit into Money.
var ErrOverflow = errors.New("amount overflow")

// Decimal returns the amount in major units (rubles).
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(int64(m), -2)
}

// String renders the amount in major units with two decimal places.
func (m Money) String() string {
	return m.Decimal().StringFixed(2)
}

// FromDecimal converts an amount in major units to Money, truncating
// anything below one kopek.
func FromDecimal(d decimal.Decimal) Money {
	return Money(d.Shift(2).Truncate(0).IntPart())
}

// Mul multiplies m by n, reporting overflow. n must not be negative.
func (m Money) Mul(n int64) (Money, error) {
	if m == 0 || n == 0 {
		return 0, nil
	}
	if n < 0 || int64(m) > math.MaxInt64/n {
		return 0, ErrOverflow
	}
	return m * Money(n), nil
}

// Add sums amounts, reporting overflow.
func Add(a, b Money) (Money, error) {
	if b > 0 && a > math.MaxInt64-b {
		return 0, ErrOverflow
	}
	return a + b, nil
}
