// Package mathutil provides common decimal helpers for dollar and rate math.
package mathutil

import (
	"math"

	"github.com/iwvelando/indirect-rates/pkg/constants"
	"github.com/shopspring/decimal"
)

// Round rounds a value to two decimals, i.e. to represent real currency.
// Used for display and logical comparisons, never for stored totals.
func Round(val decimal.Decimal) decimal.Decimal {
	return val.Round(2)
}

// Mean returns the arithmetic mean of values, zero for an empty slice.
func Mean(values []decimal.Decimal) decimal.Decimal {
	if len(values) == 0 {
		return decimal.Zero
	}
	return decimal.Sum(decimal.Zero, values...).DivRound(decimal.NewFromInt(int64(len(values))), constants.RateDivisionPrecision)
}

// Ratio divides num by den. The second return value is false when den is zero,
// in which case the ratio is undefined rather than zero.
func Ratio(num, den decimal.Decimal) (decimal.Decimal, bool) {
	if den.IsZero() {
		return decimal.Zero, false
	}
	return num.DivRound(den, constants.RateDivisionPrecision), true
}

// NullRatio is Ratio wrapped in a NullDecimal.
func NullRatio(num, den decimal.Decimal) decimal.NullDecimal {
	r, ok := Ratio(num, den)
	return decimal.NullDecimal{Decimal: r, Valid: ok}
}

// RelativeDifference returns |a-b|/|b|, or +Inf when b is zero and a is not.
func RelativeDifference(a, b decimal.Decimal) float64 {
	if b.IsZero() {
		if a.IsZero() {
			return 0
		}
		return math.Inf(1)
	}
	f, _ := a.Sub(b).Abs().Div(b.Abs()).Float64()
	return f
}

// FromFloat converts a float to a decimal, rejecting NaN and infinities.
func FromFloat(f float64) (decimal.Decimal, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return decimal.Zero, false
	}
	return decimal.NewFromFloat(f), true
}
