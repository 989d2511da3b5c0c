// Package validation provides configuration validation utilities.
package validation

import (
	"fmt"
	"slices"
)

// ValidateRunParameters rejects run parameters no run can proceed with.
func ValidateRunParameters(forecastMonths, runRateMonths, fiscalYearStartMonth int) error {
	if forecastMonths < 0 {
		return fmt.Errorf("forecastMonths must not be negative, got %d", forecastMonths)
	}
	if runRateMonths < 1 {
		return fmt.Errorf("runRateMonths must be at least 1, got %d", runRateMonths)
	}
	if fiscalYearStartMonth < 1 || fiscalYearStartMonth > 12 {
		return fmt.Errorf("fiscalYearStartMonth must be between 1 and 12, got %d", fiscalYearStartMonth)
	}
	return nil
}

// RunParameterWarnings flags run parameters that are valid but unusual.
func RunParameterWarnings(forecastMonths, runRateMonths int) []string {
	var warnings []string
	if forecastMonths == 0 {
		warnings = append(warnings, "forecastMonths is 0; only actual periods will be reported")
	}
	if runRateMonths > 12 {
		warnings = append(warnings, fmt.Sprintf("runRateMonths %d spans more than a year; the run-rate will lag recent changes", runRateMonths))
	}
	return warnings
}

// ValidateRateNames flags rate names that are blank or repeated and
// unallowable pools that are also used as a rate name.
func ValidateRateNames(names []string, unallowablePools []string) []string {
	var warnings []string
	seen := make(map[string]bool, len(names))
	for i, name := range names {
		if name == "" {
			warnings = append(warnings, fmt.Sprintf("rate %d has no name", i+1))
			continue
		}
		if seen[name] {
			warnings = append(warnings, fmt.Sprintf("rate '%s' is defined more than once", name))
		}
		seen[name] = true
		if slices.Contains(unallowablePools, name) {
			warnings = append(warnings, fmt.Sprintf("rate '%s' shares its name with an unallowable pool", name))
		}
	}
	return warnings
}
