// Package money keeps ledger amounts in integer minor units and converts them to
// display units only at the boundary.
package money

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

// Minor is a signed amount expressed in the minor unit of its currency.
type Minor int64

var (
	// ErrUnknownCurrency indicates the code is not a known ISO-4217 currency.
	ErrUnknownCurrency = errors.New("money: unknown currency")
	// ErrPrecision indicates a display amount carries more decimals than the currency allows.
	ErrPrecision = errors.New("money: amount exceeds currency precision")
	// ErrOutOfRange indicates an amount that does not fit in minor units.
	ErrOutOfRange = errors.New("money: amount out of range")
)

var (
	maxMinor = decimal.NewFromInt(math.MaxInt64)
	minMinor = decimal.NewFromInt(math.MinInt64)
)

// NormalizeCurrency upper-cases and validates an ISO-4217 code.
func NormalizeCurrency(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	unit, err := currency.ParseISO(code)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrUnknownCurrency, code)
	}
	return unit.String(), nil
}

// Scale returns the number of minor-unit digits for the currency.
func Scale(code string) (int32, error) {
	unit, err := currency.ParseISO(strings.ToUpper(code))
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrUnknownCurrency, code)
	}
	scale, _ := currency.Standard.Rounding(unit)
	return int32(scale), nil
}

// FromDecimal converts a display amount into minor units, rejecting sub-minor precision.
func FromDecimal(amount decimal.Decimal, code string) (Minor, error) {
	scale, err := Scale(code)
	if err != nil {
		return 0, err
	}
	shifted := amount.Shift(scale)
	if !shifted.Equal(shifted.Truncate(0)) {
		return 0, fmt.Errorf("%w: %s %s", ErrPrecision, amount.String(), code)
	}
	if shifted.GreaterThan(maxMinor) || shifted.LessThan(minMinor) {
		return 0, fmt.Errorf("%w: %s %s", ErrOutOfRange, amount.String(), code)
	}
	return Minor(shifted.IntPart()), nil
}

// Parse converts a decimal string in display units into minor units.
func Parse(raw, code string) (Minor, error) {
	amount, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("money: parse %q: %w", raw, err)
	}
	return FromDecimal(amount, code)
}

// Decimal converts minor units into display units for the currency.
func (m Minor) Decimal(code string) decimal.Decimal {
	scale, err := Scale(code)
	if err != nil {
		scale = 2
	}
	return decimal.New(int64(m), -scale)
}

// Format renders the amount in display units with the currency's fixed scale.
func (m Minor) Format(code string) string {
	scale, err := Scale(code)
	if err != nil {
		scale = 2
	}
	return m.Decimal(code).StringFixed(scale)
}

// Abs returns the absolute value.
func (m Minor) Abs() Minor {
	if m < 0 {
		return -m
	}
	return m
}

// Split returns amount*parts/full truncated toward zero. The caller owns the remainder.
// The product is computed exactly, so any amount splits without overflow while |parts| <= |full|.
func Split(amount Minor, parts, full int64) Minor {
	if full == 0 {
		return 0
	}
	q, _ := decimal.NewFromInt(int64(amount)).Mul(decimal.NewFromInt(parts)).QuoRem(decimal.NewFromInt(full), 0)
	return Minor(q.IntPart())
}
