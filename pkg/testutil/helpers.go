// Package testutil provides common utility functions for testing.
package testutil

import (
	"github.com/iwvelando/indirect-rates/internal/rates"
	"github.com/iwvelando/indirect-rates/internal/report"
	"github.com/iwvelando/indirect-rates/pkg/period"
	"github.com/shopspring/decimal"
)

// FindScenario finds a scenario by name in the outputs slice.
// Returns a pointer to the output if found, nil otherwise.
func FindScenario(outputs []report.Output, name string) *report.Output {
	for i := range outputs {
		if outputs[i].Scenario == name {
			return &outputs[i]
		}
	}
	return nil
}

// FindRate finds a computed rate series by name. Returns nil if not found.
func FindRate(out *report.Output, name string) *rates.Series {
	if out == nil {
		return nil
	}
	for i := range out.Series {
		if out.Series[i].Name == name {
			return &out.Series[i]
		}
	}
	return nil
}

// RateAt returns the rate of the named series in period p, or an invalid
// value when the rate, the period or the rate value is missing.
func RateAt(out *report.Output, name, p string) decimal.NullDecimal {
	s := FindRate(out, name)
	if s == nil {
		return decimal.NullDecimal{}
	}
	parsed, err := period.Parse(p)
	if err != nil {
		return decimal.NullDecimal{}
	}
	point, ok := s.At(parsed)
	if !ok {
		return decimal.NullDecimal{}
	}
	return point.Rate
}
