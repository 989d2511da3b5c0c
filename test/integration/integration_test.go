package integration

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/iwvelando/indirect-rates/internal/config"
	"github.com/iwvelando/indirect-rates/internal/forecast"
	"github.com/iwvelando/indirect-rates/internal/ingest"
	"github.com/iwvelando/indirect-rates/internal/report"
	"github.com/iwvelando/indirect-rates/pkg/mathutil"
	"github.com/iwvelando/indirect-rates/pkg/testutil"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	testConfigPath = "../test_config.yaml"
	testDataDir    = "../data"
)

// runTestForecast loads the test configuration and inputs exactly as the run
// command does.
func runTestForecast(t *testing.T, mutate func(*config.Configuration)) []report.Output {
	t.Helper()

	// Create a no-op logger to avoid debug output during testing
	logger := zap.NewNop()

	conf, err := config.LoadConfiguration(testConfigPath)
	if err != nil {
		t.Fatalf("LoadConfiguration() error = %v", err)
	}
	if mutate != nil {
		mutate(conf)
	}

	inputs, warnings, err := ingest.ReadDir(testDataDir)
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}

	outputs, err := forecast.GetForecast(context.Background(), logger, *conf, forecast.Request{
		Inputs:   inputs,
		Warnings: warnings,
		RunID:    "integration",
	})
	if err != nil {
		t.Fatalf("GetForecast() error = %v", err)
	}
	return outputs
}

func ratio(t *testing.T, pool, base string) decimal.Decimal {
	t.Helper()
	r, ok := mathutil.Ratio(decimal.RequireFromString(pool), decimal.RequireFromString(base))
	if !ok {
		t.Fatalf("Ratio(%s, %s) undefined", pool, base)
	}
	return r
}

// TestMainIntegrationBaseline checks the rates computed from the fixture inputs.
func TestMainIntegrationBaseline(t *testing.T) {
	outputs := runTestForecast(t, nil)

	expectedScenarios := []string{"Base", "Lose", "Win"}
	if len(outputs) != len(expectedScenarios) {
		t.Fatalf("Expected %d scenarios, got %d", len(expectedScenarios), len(outputs))
	}
	for i, expected := range expectedScenarios {
		if outputs[i].Scenario != expected {
			t.Errorf("Expected scenario %s, got %s", expected, outputs[i].Scenario)
		}
	}

	baselineChecks := []struct {
		scenario string
		rate     string
		period   string
		expected decimal.Decimal
	}{
		// Actuals: the SUB entity row is excluded.
		{"Base", "Fringe", "2025-01", ratio(t, "10000", "50000")},
		{"Base", "Fringe", "2025-02", ratio(t, "11000", "50000")},
		{"Base", "Overhead", "2025-03", ratio(t, "20000", "50000")},
		{"Base", "G&A", "2025-01", ratio(t, "9000", "88500")},
		{"Base", "G&A", "2025-02", ratio(t, "9000", "89500")},

		// Projection: trailing three-month run rate.
		{"Base", "Fringe", "2025-09", ratio(t, "10000", "50000")},
		{"Base", "G&A", "2025-04", ratio(t, "9000", "88500")},

		// Win adds Overhead and direct labor from May.
		{"Win", "Overhead", "2025-04", ratio(t, "20000", "50000")},
		{"Win", "Overhead", "2025-05", ratio(t, "22000", "60000")},
		{"Win", "Fringe", "2025-05", ratio(t, "10000", "60000")},

		// Lose removes P2 labor and trims Fringe and G&A from June.
		{"Lose", "Fringe", "2025-05", ratio(t, "10000", "50000")},
		{"Lose", "Fringe", "2025-06", ratio(t, "9000", "30000")},
		{"Lose", "G&A", "2025-06", ratio(t, "8500", "67500")},
	}

	for _, check := range baselineChecks {
		out := testutil.FindScenario(outputs, check.scenario)
		if out == nil {
			t.Errorf("Scenario '%s' not found in results", check.scenario)
			continue
		}
		got := testutil.RateAt(out, check.rate, check.period)
		if !got.Valid {
			t.Errorf("Scenario '%s' has no %s rate at '%s'", check.scenario, check.rate, check.period)
			continue
		}
		if !got.Decimal.Equal(check.expected) {
			t.Errorf("Scenario '%s' %s at '%s': expected %s, got %s",
				check.scenario, check.rate, check.period, check.expected, got.Decimal)
		}
	}
}

// TestAssumptionsRecord checks that every output explains how it was produced.
func TestAssumptionsRecord(t *testing.T) {
	outputs := runTestForecast(t, nil)

	for _, out := range outputs {
		a := out.Assumptions
		if a.RunID != "integration" {
			t.Errorf("%s: expected run id 'integration', got %q", out.Scenario, a.RunID)
		}
		if a.Entity != "HQ" || a.RunRateMonths != 3 || a.ForecastMonths != 6 || a.FiscalYearStartMonth != 10 {
			t.Errorf("%s: unexpected run parameters %+v", out.Scenario, a)
		}
		if a.LastActualPeriod.String() != "2025-03" || a.HorizonEnd.String() != "2025-09" {
			t.Errorf("%s: expected actuals through 2025-03 and horizon 2025-09, got %s and %s",
				out.Scenario, a.LastActualPeriod, a.HorizonEnd)
		}
	}

	if win := testutil.FindScenario(outputs, "Win"); win == nil || win.Assumptions.EventsApplied != 2 {
		t.Errorf("Expected two Win events applied")
	}
	if lose := testutil.FindScenario(outputs, "Lose"); lose == nil || lose.Assumptions.EventsApplied != 3 {
		t.Errorf("Expected three Lose events applied")
	}
}

// TestReferenceComparison checks budget variance and threshold flags.
func TestReferenceComparison(t *testing.T) {
	outputs := runTestForecast(t, nil)
	base := testutil.FindScenario(outputs, "Base")
	if base == nil {
		t.Fatal("Base scenario missing")
	}

	var checkedVariance, breaches int
	for _, r := range base.Comparison {
		if r.RateName == "Fringe" && r.Period.String() == "2025-01" {
			if !r.Variance.Valid || !r.Variance.Decimal.Equal(decimal.RequireFromString("-0.01")) {
				t.Errorf("Expected Fringe January variance -0.01, got %v", r.Variance)
			}
			if !r.ProvisionalVariance.Valid || !r.ProvisionalVariance.Decimal.IsZero() {
				t.Errorf("Expected Fringe January provisional variance 0, got %v", r.ProvisionalVariance)
			}
			checkedVariance++
		}
		if r.ThresholdBreached {
			breaches++
			if r.RateName != "Fringe" || r.Period.String() != "2025-02" {
				t.Errorf("Unexpected threshold breach: %s %s", r.RateName, r.Period)
			}
		}
	}
	if checkedVariance != 1 {
		t.Errorf("Expected one Fringe January comparison record, got %d", checkedVariance)
	}
	if breaches != 1 {
		t.Errorf("Expected exactly one threshold breach, got %d", breaches)
	}
}

// TestDisclosures checks that excluded dollars are reported, never dropped.
func TestDisclosures(t *testing.T) {
	outputs := runTestForecast(t, nil)
	base := testutil.FindScenario(outputs, "Base")
	if base == nil {
		t.Fatal("Base scenario missing")
	}

	col, ok := base.Unallowable.Column("Unallowable")
	if !ok {
		t.Fatal("Expected an Unallowable disclosure column")
	}
	for i, v := range col {
		if !v.Valid || !v.Decimal.Equal(decimal.NewFromInt(500)) {
			t.Errorf("Unallowable row %d: expected 500, got %v", i, v)
		}
	}

	found := false
	for _, w := range base.Warnings {
		if strings.Contains(w, "7000") {
			found = true
		}
	}
	if !found {
		t.Errorf("Expected a warning for unmapped account 7000, got %v", base.Warnings)
	}
}

// TestCSVOutputFormat tests the long-format CSV rendering
func TestCSVOutputFormat(t *testing.T) {
	outputs := runTestForecast(t, nil)

	var buf bytes.Buffer
	if err := report.WriteCSV(&buf, outputs); err != nil {
		t.Fatalf("WriteCSV() error = %v", err)
	}

	scanner := bufio.NewScanner(&buf)
	if !scanner.Scan() {
		t.Fatalf("Could not read CSV header")
	}
	header := scanner.Text()
	for _, part := range []string{"Scenario", "Rate", "Period", "ActualRate", "Budget", "Variance", "ThresholdBreached"} {
		if !strings.Contains(header, part) {
			t.Errorf("CSV header missing expected part: %s", part)
		}
	}
	columns := len(strings.Split(header, ","))

	lineCount := 0
	for scanner.Scan() {
		line := scanner.Text()
		parts := strings.Split(line, ",")
		if len(parts) != columns {
			t.Errorf("CSV line should have %d parts, got %d: %s", columns, len(parts), line)
		}
		lineCount++
	}
	if err := scanner.Err(); err != nil {
		t.Errorf("Error reading CSV: %v", err)
	}

	// Three scenarios, three rates, nine periods.
	if lineCount != 3*3*9 {
		t.Errorf("Expected %d CSV rows, got %d", 3*3*9, lineCount)
	}
}

// TestPrettyOutputFormat tests the human-readable rendering
func TestPrettyOutputFormat(t *testing.T) {
	outputs := runTestForecast(t, nil)

	var buf bytes.Buffer
	if err := report.WritePretty(&buf, outputs); err != nil {
		t.Fatalf("WritePretty() error = %v", err)
	}
	text := buf.String()
	for _, want := range []string{"Base", "Lose", "Win", "Fringe", "Overhead", "G&A"} {
		if !strings.Contains(text, want) {
			t.Errorf("Pretty output missing %q", want)
		}
	}
}

// TestJSONOutputFormat tests that the JSON rendering is valid and complete
func TestJSONOutputFormat(t *testing.T) {
	outputs := runTestForecast(t, nil)

	var buf bytes.Buffer
	if err := report.WriteJSON(&buf, outputs); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}

	var decoded []map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("JSON output does not parse: %v", err)
	}
	if len(decoded) != 3 {
		t.Fatalf("Expected 3 scenarios in JSON, got %d", len(decoded))
	}
	for _, key := range []string{"scenario", "assumptions", "rates", "comparison", "unallowable", "warnings"} {
		if _, ok := decoded[0][key]; !ok {
			t.Errorf("JSON output missing key %q", key)
		}
	}
}

// TestReportPack tests writing the per-scenario file set
func TestReportPack(t *testing.T) {
	outputs := runTestForecast(t, nil)

	dir := t.TempDir()
	written, err := report.WritePack(dir, outputs)
	if err != nil {
		t.Fatalf("WritePack() error = %v", err)
	}
	if len(written) == 0 {
		t.Fatal("Expected report files to be written")
	}
	for _, path := range written {
		if !strings.HasPrefix(path, dir) {
			t.Errorf("File %s written outside %s", path, dir)
		}
		if _, err := os.Stat(path); err != nil {
			t.Errorf("Expected %s to exist: %v", path, err)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "Win")); err != nil {
		t.Errorf("Expected a Win directory: %v", err)
	}
}

// TestConfigurationVariations exercises run parameter overrides end to end
func TestConfigurationVariations(t *testing.T) {
	tests := []struct {
		name          string
		mutate        func(*config.Configuration)
		wantScenarios int
		wantHorizon   string
	}{
		{
			name:          "Single scenario",
			mutate:        func(c *config.Configuration) { c.Run.Scenario = "Lose" },
			wantScenarios: 1,
			wantHorizon:   "2025-09",
		},
		{
			name:          "No projection",
			mutate:        func(c *config.Configuration) { c.Run.ForecastMonths = 0 },
			wantScenarios: 3,
			wantHorizon:   "2025-03",
		},
		{
			name:          "Long horizon",
			mutate:        func(c *config.Configuration) { c.Run.ForecastMonths = 24 },
			wantScenarios: 3,
			wantHorizon:   "2027-03",
		},
		{
			name: "All entities",
			mutate: func(c *config.Configuration) {
				c.Run.Entity = ""
			},
			wantScenarios: 3,
			wantHorizon:   "2025-09",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			outputs := runTestForecast(t, tt.mutate)
			if len(outputs) != tt.wantScenarios {
				t.Fatalf("Expected %d scenarios, got %d", tt.wantScenarios, len(outputs))
			}
			if got := outputs[0].Assumptions.HorizonEnd.String(); got != tt.wantHorizon {
				t.Errorf("Expected horizon %s, got %s", tt.wantHorizon, got)
			}
		})
	}

	// Without the entity filter the SUB Fringe dollars count.
	outputs := runTestForecast(t, func(c *config.Configuration) { c.Run.Entity = "" })
	got := testutil.RateAt(testutil.FindScenario(outputs, "Base"), "Fringe", "2025-01")
	if want := ratio(t, "15000", "50000"); !got.Valid || !got.Decimal.Equal(want) {
		t.Errorf("Expected all-entity Fringe January %s, got %v", want, got)
	}
}
