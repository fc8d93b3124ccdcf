package domain

import (
	"errors"
	"math"

	"github.com/shopspring/decimal"
)

// MinorUnits is the number of decimal places every supported currency uses.
const MinorUnits = 2

var (
	ErrAmountPrecision = errors.New("amount must have at most two decimal places")
	ErrAmountRange     = errors.New("amount is out of range")
)

var centsFactor = decimal.New(1, MinorUnits)

// ParseAmount converts a decimal currency amount into cents. It rejects amounts
// with more precision than the currency's minor unit instead of rounding them.
func ParseAmount(d decimal.Decimal) (int64, error) {
	if !d.Equal(d.Round(MinorUnits)) {
		return 0, ErrAmountPrecision
	}
	cents := d.Mul(centsFactor)
	if cents.GreaterThan(decimal.NewFromInt(math.MaxInt64)) || cents.LessThan(decimal.NewFromInt(math.MinInt64)) {
		return 0, ErrAmountRange
	}
	return cents.IntPart(), nil
}

// AmountDecimal converts cents back to a decimal currency amount.
func AmountDecimal(cents int64) decimal.Decimal {
	return decimal.New(cents, -MinorUnits)
}

// FormatAmount renders cents as a fixed two-place string, e.g. "1234.50".
func FormatAmount(cents int64) string {
	return AmountDecimal(cents).StringFixed(MinorUnits)
}
