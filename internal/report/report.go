// Package report assembles per-scenario rate results into period-aligned
// tables with an assumptions record, and writes them as pretty text, CSV,
// JSON or an output pack directory.
package report

import (
	"github.com/iwvelando/indirect-rates/internal/compare"
	"github.com/iwvelando/indirect-rates/internal/ledger"
	"github.com/iwvelando/indirect-rates/internal/projection"
	"github.com/iwvelando/indirect-rates/internal/rates"
	"github.com/iwvelando/indirect-rates/pkg/period"
	"github.com/iwvelando/indirect-rates/pkg/series"
	"github.com/shopspring/decimal"
)

// Table is a period-indexed table with one column per series.
type Table struct {
	Columns []string `json:"columns"`
	Rows    []Row    `json:"rows"`
}

// Row is one period of a Table. Values align with Table.Columns.
type Row struct {
	Period    period.Period         `json:"period"`
	Projected bool                  `json:"projected"`
	Values    []decimal.NullDecimal `json:"values"`
}

// Column returns the values of the named column, or false when absent.
func (t Table) Column(name string) ([]decimal.NullDecimal, bool) {
	idx := -1
	for i, c := range t.Columns {
		if c == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, false
	}
	out := make([]decimal.NullDecimal, len(t.Rows))
	for i, row := range t.Rows {
		out[i] = row.Values[idx]
	}
	return out, true
}

// EventRecord is the audit form of a scenario event.
type EventRecord struct {
	Scenario        string          `json:"scenario"`
	EffectivePeriod period.Period   `json:"effectivePeriod"`
	Type            string          `json:"type,omitempty"`
	Project         string          `json:"project,omitempty"`
	Target          string          `json:"target"`
	Delta           decimal.Decimal `json:"delta"`
	Notes           string          `json:"notes,omitempty"`
}

// NewEventRecord converts a ledger event.
func NewEventRecord(e ledger.ScenarioEvent) EventRecord {
	return EventRecord{
		Scenario:        e.Scenario,
		EffectivePeriod: e.EffectivePeriod,
		Type:            e.Type,
		Project:         e.Project,
		Target:          e.Target.String(),
		Delta:           e.Delta,
		Notes:           e.Notes,
	}
}

// Assumptions records every parameter needed to regenerate or explain a
// scenario's numbers.
type Assumptions struct {
	RunID                string   `json:"runId,omitempty"`
	Scenario             string   `json:"scenario"`
	Scenarios            []string `json:"scenarios"`
	Method               string   `json:"method"`
	RunRateMonths        int      `json:"runRateMonths"`
	ForecastMonths       int      `json:"forecastMonths"`
	FiscalYearStartMonth int      `json:"fiscalYearStartMonth"`
	Entity               string   `json:"entity,omitempty"`

	FirstPeriod      period.Period `json:"firstPeriod"`
	LastActualPeriod period.Period `json:"lastActualPeriod"`
	HorizonEnd       period.Period `json:"horizonEnd"`

	EventsApplied int           `json:"eventsApplied"`
	EventsSkipped int           `json:"eventsSkipped"`
	Events        []EventRecord `json:"events,omitempty"`

	RunRates         []projection.RunRate `json:"runRates"`
	Rates            []rates.Definition   `json:"rates"`
	UnallowablePools []string             `json:"unallowablePools,omitempty"`

	Budget      compare.Table `json:"budget"`
	Provisional compare.Table `json:"provisional"`
	Threshold   compare.Table `json:"threshold"`
}

// Output is everything produced for one scenario.
type Output struct {
	Scenario    string      `json:"scenario"`
	Assumptions Assumptions `json:"assumptions"`

	// Pools, Bases and Rates are aligned on the same periods.
	Pools Table `json:"pools"`
	Bases Table `json:"bases"`
	Rates Table `json:"rates"`

	// Series carries pool, cascaded base, rate and YTD rate per rate name.
	Series         []rates.Series        `json:"series"`
	Comparison     []compare.RateRecord  `json:"comparison"`
	ProjectImpacts []rates.ProjectImpact `json:"projectImpacts,omitempty"`

	// Unallowable and Unmapped disclose dollars excluded from every pool.
	Unallowable Table `json:"unallowable"`
	Unmapped    Table `json:"unmapped"`

	Warnings []string `json:"warnings"`
}

// Parts are the computed pieces Assemble packages.
type Parts struct {
	Scenario    string
	Assumptions Assumptions
	Timeline    []period.Period
	LastActual  period.Period

	Pools       series.Table
	Bases       series.Table
	Unallowable series.Table

	// FilledPools and FilledBases mark cells at or before LastActual taken
	// from a run rate; their rows are reported as projected.
	FilledPools series.Table
	FilledBases series.Table

	Unmapped    series.Table

	Series         []rates.Series
	Comparison     []compare.RateRecord
	ProjectImpacts []rates.ProjectImpact
	Warnings       []string
}

// Assemble aligns every table on the timeline and de-duplicates warnings
// while keeping their order.
func Assemble(parts Parts) Output {
	out := Output{
		Scenario:       parts.Scenario,
		Assumptions:    parts.Assumptions,
		Pools:          tableFrom(parts.Pools, parts.Timeline, parts.LastActual, parts.FilledPools),
		Bases:          tableFrom(parts.Bases, parts.Timeline, parts.LastActual, parts.FilledBases),
		Rates:          rateTable(parts.Series, parts.Timeline),
		Series:         parts.Series,
		Comparison:     parts.Comparison,
		ProjectImpacts: parts.ProjectImpacts,
		Unallowable:    tableFrom(parts.Unallowable, actualPeriods(parts.Timeline, parts.LastActual), parts.LastActual, series.Table{}),
		Unmapped:       tableFrom(parts.Unmapped, actualPeriods(parts.Timeline, parts.LastActual), parts.LastActual, series.Table{}),
		Warnings:       dedupe(parts.Warnings),
	}
	out.Assumptions.Scenario = parts.Scenario
	return out
}

func actualPeriods(timeline []period.Period, lastActual period.Period) []period.Period {
	var out []period.Period
	for _, p := range timeline {
		if !p.After(lastActual) {
			out = append(out, p)
		}
	}
	return out
}

// tableFrom marks a row projected past lastActual or when any of its cells
// is in filled.
func tableFrom(t series.Table, timeline []period.Period, lastActual period.Period, filled series.Table) Table {
	table := Table{Columns: t.Names(), Rows: make([]Row, 0, len(timeline))}
	for _, p := range timeline {
		projected := p.After(lastActual) || len(filled.NamesAt(p)) > 0
		row := Row{Period: p, Projected: projected, Values: make([]decimal.NullDecimal, len(table.Columns))}
		for i, name := range table.Columns {
			v, ok := t.Value(p, name)
			row.Values[i] = decimal.NullDecimal{Decimal: v, Valid: ok}
		}
		table.Rows = append(table.Rows, row)
	}
	return table
}

// rateTable marks a row projected when any of its rate points is.
func rateTable(computed []rates.Series, timeline []period.Period) Table {
	table := Table{Rows: make([]Row, 0, len(timeline))}
	for _, s := range computed {
		table.Columns = append(table.Columns, s.Name)
	}
	for _, p := range timeline {
		row := Row{Period: p, Values: make([]decimal.NullDecimal, len(computed))}
		for i, s := range computed {
			if point, ok := s.At(p); ok {
				row.Values[i] = point.Rate
				row.Projected = row.Projected || point.Projected
			}
		}
		table.Rows = append(table.Rows, row)
	}
	return table
}

func dedupe(warnings []string) []string {
	seen := make(map[string]struct{}, len(warnings))
	out := make([]string, 0, len(warnings))
	for _, w := range warnings {
		if _, ok := seen[w]; ok {
			continue
		}
		seen[w] = struct{}{}
		out = append(out, w)
	}
	return out
}
