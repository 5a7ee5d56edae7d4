// Package money holds the fixed-point helpers used for every dollar amount.
// Amounts are decimal.Decimal values carried at two fraction digits.
package money

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Places is the number of fraction digits kept for dollar amounts.
const Places = 2

var (
	ErrEmptyAmount    = errors.New("amount is empty")
	ErrInvalidAmount  = errors.New("amount is not a number")
	ErrTooManyDigits  = errors.New("amount has more than two decimal places")
	ErrNegativeAmount = errors.New("amount must not be negative")
)

var half = decimal.New(5, -(Places + 1))

// Round rounds d to cents, half-up (toward positive infinity on a tie).
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Add(half).RoundFloor(Places)
}

// IsCents reports whether d has no more than two significant fraction digits.
func IsCents(d decimal.Decimal) bool {
	return d.Equal(d.Truncate(Places))
}

// FromCents builds an amount from an integer number of cents.
func FromCents(cents int64) decimal.Decimal {
	return decimal.New(cents, -Places)
}

// MustParse parses a literal amount and panics on failure. Intended for
// constants and tests.
func MustParse(s string) decimal.Decimal {
	d, err := Parse(s)
	if err != nil {
		panic(fmt.Sprintf("money: %q: %v", s, err))
	}
	return d
}

// Parse reads a human-written dollar amount such as "$1,234.50" or "800".
// More than two fraction digits is an error rather than a silent rounding.
func Parse(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "$")
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, ErrEmptyAmount
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	if d.Exponent() < -Places && !IsCents(d) {
		return decimal.Zero, ErrTooManyDigits
	}
	return d.Truncate(Places), nil
}

// ParseNonNegative is Parse plus a sign check.
func ParseNonNegative(s string) (decimal.Decimal, error) {
	d, err := Parse(s)
	if err != nil {
		return d, err
	}
	if d.IsNegative() {
		return decimal.Zero, ErrNegativeAmount
	}
	return d, nil
}

// Format renders d as "$4,300.00" (or "-$0.01").
func Format(d decimal.Decimal) string {
	sign := ""
	if d.IsNegative() {
		sign = "-"
		d = d.Neg()
	}
	fixed := Round(d).StringFixed(Places)
	whole, frac, _ := strings.Cut(fixed, ".")

	var b strings.Builder
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	return sign + "$" + b.String() + "." + frac
}

// Min returns the smaller of a and b.
func Min(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}

// Max returns the larger of a and b.
func Max(a, b decimal.Decimal) decimal.Decimal {
	if a.GreaterThan(b) {
		return a
	}
	return b
}
