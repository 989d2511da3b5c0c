// Package format renders dollar amounts and rates for human-readable output.
package format

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Undefined is printed wherever a rate or reference value is absent.
const Undefined = "n/a"

// Currency returns a currency string with a dollar sign and thousands separators (e.g., "-$1,234.56").
func Currency(amount decimal.Decimal) string {
	formatted := formatPositiveCurrency(amount.Abs())
	if amount.IsNegative() && formatted != "0.00" {
		return "-$" + formatted
	}
	return "$" + formatted
}

// Percent renders a rate as a percentage with two decimals (0.2834 -> "28.34%").
func Percent(rate decimal.NullDecimal) string {
	if !rate.Valid {
		return Undefined
	}
	return rate.Decimal.Shift(2).StringFixed(2) + "%"
}

// Rate renders a rate with four decimals (0.28341 -> "0.2834").
func Rate(rate decimal.NullDecimal) string {
	if !rate.Valid {
		return Undefined
	}
	return rate.Decimal.StringFixed(4)
}

func formatPositiveCurrency(value decimal.Decimal) string {
	formatted := value.StringFixed(2)
	parts := strings.SplitN(formatted, ".", 2)
	intPart := parts[0]
	decPart := "00"
	if len(parts) == 2 {
		decPart = parts[1]
	}

	if len(intPart) > 3 {
		var builder strings.Builder
		for i, digit := range intPart {
			if i > 0 && (len(intPart)-i)%3 == 0 {
				builder.WriteByte(',')
			}
			builder.WriteRune(digit)
		}
		intPart = builder.String()
	}

	return intPart + "." + decPart
}
