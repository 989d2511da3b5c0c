package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/iwvelando/indirect-rates/internal/compare"
	"github.com/iwvelando/indirect-rates/pkg/constants"
	"github.com/iwvelando/indirect-rates/pkg/format"
	"github.com/iwvelando/indirect-rates/pkg/period"
	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// WritePretty writes a human-readable rather than machine-readable report.
func WritePretty(w io.Writer, outputs []Output) error {
	p := message.NewPrinter(language.English)
	money := func(d decimal.Decimal) string {
		return p.Sprintf("$%.2f", d.InexactFloat64())
	}

	var b strings.Builder
	for i, out := range outputs {
		a := out.Assumptions
		fmt.Fprintf(&b, "--- Results for scenario %s ---\n", out.Scenario)
		fmt.Fprintf(&b, "Last actual %s, run-rate %d months, horizon %d months, fiscal year starts month %d\n",
			a.LastActualPeriod, a.RunRateMonths, a.ForecastMonths, a.FiscalYearStartMonth)
		if a.RunID != "" {
			fmt.Fprintf(&b, "Run %s\n", a.RunID)
		}
		if a.EventsApplied > 0 || a.EventsSkipped > 0 {
			fmt.Fprintf(&b, "Scenario events applied: %d, skipped: %d\n", a.EventsApplied, a.EventsSkipped)
		}

		for _, s := range out.Series {
			fmt.Fprintf(&b, "\nRate %s (base %s, cascade order %d", s.Name, s.Base, s.Tier)
			if len(s.Included) > 0 {
				fmt.Fprintf(&b, ", includes %s", strings.Join(s.Included, ", "))
			}
			b.WriteString(")\n")
			b.WriteString("Period  | Pool $ | Base $ | Rate | YTD | Budget | Variance | Notes\n")
			b.WriteString("______  | ______ | ______ | ____ | ___ | ______ | ________ | _____\n")
			for _, rec := range recordsFor(out, s.Name) {
				point, _ := s.At(rec.Period)
				var notes []string
				if rec.Projected {
					notes = append(notes, "projected")
				}
				if rec.ThresholdBreached {
					notes = append(notes, "over threshold "+format.Percent(rec.Threshold))
				}
				fmt.Fprintf(&b, "%s | %s | %s | %s | %s | %s | %s | %s\n",
					rec.Period, money(point.Pool), money(point.Base),
					format.Percent(rec.Actual), format.Percent(rec.YTD),
					format.Percent(rec.Budget), format.Percent(rec.Variance),
					strings.Join(notes, ","))
			}
		}

		if len(out.Unallowable.Columns) > 0 {
			b.WriteString("\nUnallowable costs excluded from pools:\n")
			for j, pool := range out.Unallowable.Columns {
				fmt.Fprintf(&b, "  %s: %s\n", pool, money(columnTotal(out.Unallowable, j)))
			}
		}
		if len(out.Warnings) > 0 {
			b.WriteString("\nWarnings:\n")
			for _, warning := range out.Warnings {
				fmt.Fprintf(&b, "  - %s\n", warning)
			}
		}
		if i < len(outputs)-1 {
			b.WriteString("\n")
		}
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func columnTotal(t Table, col int) decimal.Decimal {
	total := decimal.Zero
	for _, row := range t.Rows {
		if row.Values[col].Valid {
			total = total.Add(row.Values[col].Decimal)
		}
	}
	return total
}

// rateHeader is the long-form CSV layout of per-rate results.
var rateHeader = []string{
	"Scenario", "Rate", "Period", "Pool$", "Base$", "ActualRate", "YTDRate",
	"Budget", "Provisional", "Threshold", "Variance", "ProvisionalVariance",
	"ThresholdBreached", "Projected",
}

func nullString(d decimal.NullDecimal) string {
	if !d.Valid {
		return ""
	}
	return d.Decimal.String()
}

func recordsFor(out Output, rate string) []compare.RateRecord {
	var records []compare.RateRecord
	for _, rec := range out.Comparison {
		if rec.RateName == rate {
			records = append(records, rec)
		}
	}
	return records
}

func rateRows(out Output) [][]string {
	var rows [][]string
	for _, s := range out.Series {
		for _, rec := range recordsFor(out, s.Name) {
			point, _ := s.At(rec.Period)
			rows = append(rows, []string{
				out.Scenario, s.Name, rec.Period.String(),
				point.Pool.String(), point.Base.String(),
				nullString(rec.Actual), nullString(rec.YTD),
				nullString(rec.Budget), nullString(rec.Provisional), nullString(rec.Threshold),
				nullString(rec.Variance), nullString(rec.ProvisionalVariance),
				strconv.FormatBool(rec.ThresholdBreached), strconv.FormatBool(rec.Projected),
			})
		}
	}
	return rows
}

// WriteCSV writes every scenario's per-rate results in long form.
func WriteCSV(w io.Writer, outputs []Output) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(rateHeader); err != nil {
		return err
	}
	for _, out := range outputs {
		if err := cw.WriteAll(rateRows(out)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteJSON writes every output as an indented JSON array.
func WriteJSON(w io.Writer, outputs []Output) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(outputs)
}

// writeTable writes a period-aligned table as CSV.
func writeTable(w io.Writer, t Table) error {
	cw := csv.NewWriter(w)
	header := append([]string{constants.ColPeriod}, t.Columns...)
	header = append(header, "Projected")
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, row := range t.Rows {
		record := make([]string, 0, len(row.Values)+2)
		record = append(record, row.Period.String())
		for _, v := range row.Values {
			record = append(record, nullString(v))
		}
		record = append(record, strconv.FormatBool(row.Projected))
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func writeImpacts(w io.Writer, out Output) error {
	var rateNames []string
	for _, s := range out.Series {
		rateNames = append(rateNames, s.Name)
	}
	cw := csv.NewWriter(w)
	header := []string{constants.ColPeriod, constants.ColProject, "TCI$"}
	for _, name := range rateNames {
		header = append(header, name+"$")
	}
	header = append(header, "LoadedCost$", "Projected")
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, impact := range out.ProjectImpacts {
		record := []string{impact.Period.String(), impact.Project, impact.TCI.String()}
		for _, name := range rateNames {
			record = append(record, impact.Allocated[name].String())
		}
		record = append(record, impact.LoadedCost.String(), strconv.FormatBool(impact.Projected))
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// SafeName makes a scenario name usable as a directory name.
func SafeName(name string) string {
	mapped := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, name)
	mapped = strings.Trim(mapped, "_")
	if mapped == "" {
		return "scenario"
	}
	return mapped
}

// WritePack writes an output pack: one directory per scenario holding
// rates.csv, pools.csv, bases.csv, project_impacts.csv and assumptions.json,
// plus a combined rates.csv and the default scenario's assumptions.json at
// the top level.
func WritePack(dir string, outputs []Output) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory %s: %w", dir, err)
	}

	var written []string
	write := func(path string, fn func(io.Writer) error) error {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", path, err)
		}
		if err := fn(f); err != nil {
			_ = f.Close()
			return fmt.Errorf("failed to write %s: %w", path, err)
		}
		if err := f.Close(); err != nil {
			return fmt.Errorf("failed to close %s: %w", path, err)
		}
		written = append(written, path)
		return nil
	}

	for _, out := range outputs {
		scenarioDir := filepath.Join(dir, SafeName(out.Scenario))
		if err := os.MkdirAll(scenarioDir, 0o755); err != nil {
			return written, fmt.Errorf("failed to create scenario directory %s: %w", scenarioDir, err)
		}
		files := []struct {
			name string
			fn   func(io.Writer) error
		}{
			{"rates.csv", func(w io.Writer) error { return WriteCSV(w, []Output{out}) }},
			{"pools.csv", func(w io.Writer) error { return writeTable(w, out.Pools) }},
			{"bases.csv", func(w io.Writer) error { return writeTable(w, out.Bases) }},
			{"project_impacts.csv", func(w io.Writer) error { return writeImpacts(w, out) }},
			{"assumptions.json", func(w io.Writer) error { return writeAssumptions(w, out.Assumptions) }},
		}
		for _, file := range files {
			if err := write(filepath.Join(scenarioDir, file.name), file.fn); err != nil {
				return written, err
			}
		}
	}

	if len(outputs) == 0 {
		return written, nil
	}
	if err := write(filepath.Join(dir, "rates.csv"), func(w io.Writer) error { return WriteCSV(w, outputs) }); err != nil {
		return written, err
	}
	primary := outputs[0]
	for _, out := range outputs {
		if out.Scenario == constants.DefaultScenario {
			primary = out
			break
		}
	}
	if err := write(filepath.Join(dir, "assumptions.json"), func(w io.Writer) error {
		return writeAssumptions(w, primary.Assumptions)
	}); err != nil {
		return written, err
	}
	sort.Strings(written)
	return written, nil
}

func writeAssumptions(w io.Writer, a Assumptions) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(a)
}

// Periods returns the periods of a table in order.
func (t Table) Periods() []period.Period {
	out := make([]period.Period, len(t.Rows))
	for i, row := range t.Rows {
		out[i] = row.Period
	}
	return out
}
