// Package projection extends aggregated series past the last actual period
// with a flat trailing-mean run-rate.
package projection

import (
	"errors"
	"fmt"
	"slices"

	"github.com/iwvelando/indirect-rates/pkg/mathutil"
	"github.com/iwvelando/indirect-rates/pkg/period"
	"github.com/iwvelando/indirect-rates/pkg/series"
	"github.com/shopspring/decimal"
)

// ErrNoActuals is returned when there is nothing to project from.
var ErrNoActuals = errors.New("no actual periods found; cannot forecast")

// RunRate records how a series' projected value was produced.
type RunRate struct {
	Name        string          `json:"name"`
	LastActual  period.Period   `json:"lastActual"`
	WindowStart period.Period   `json:"windowStart"`
	WindowEnd   period.Period   `json:"windowEnd"`
	Months      int             `json:"months"`
	Mean        decimal.Decimal `json:"mean"`
}

// Options controls a projection.
type Options struct {
	// RunRateMonths is the trailing window length. Values below one are
	// treated as one.
	RunRateMonths int

	// ForecastMonths is the number of periods projected past the last actual.
	ForecastMonths int

	// Expected names series that must be projected even with no data.
	Expected []string

	// LastActual pins the global last actual period and ends every window
	// there. Used to extend per-project series consistently with the totals.
	// A pinned series with no actual inside its window is not projected.
	LastActual period.Period
}

// Result is a projected table with its provenance.
type Result struct {
	// Table holds actual and projected cells for every series.
	Table series.Table

	// Timeline runs from the first actual period to the horizon end.
	Timeline []period.Period

	// LastActual is the last period with any actual data.
	LastActual period.Period

	// RunRates is the provenance of every series, sorted by name.
	RunRates []RunRate

	// Filled holds the cells at or before LastActual that a stale series took
	// from its run rate rather than from actuals.
	Filled series.Table
}

// IsProjected reports whether p lies beyond the last actual period.
func (r Result) IsProjected(p period.Period) bool {
	return p.After(r.LastActual)
}

// Horizon returns the projected periods.
func (r Result) Horizon() []period.Period {
	var out []period.Period
	for _, p := range r.Timeline {
		if r.IsProjected(p) {
			out = append(out, p)
		}
	}
	return out
}

// Project extends every series of t. For each series the window is the
// RunRateMonths calendar months ending at the series' last actual period,
// clipped at its first actual period; months without a cell count as zero.
// The window mean is repeated unchanged for every later period up to the
// horizon.
func Project(t series.Table, opts Options) (Result, []string, error) {
	months := max(opts.RunRateMonths, 1)
	pinned := !opts.LastActual.IsZero()

	periods := t.Periods()
	globalLast, ok := period.Max(periods)
	globalFirst, _ := period.Min(periods)
	if pinned {
		globalLast = opts.LastActual
		if !ok || globalFirst.After(globalLast) {
			globalFirst = globalLast
		}
	} else if !ok {
		return Result{}, nil, ErrNoActuals
	}

	horizonEnd := globalLast.AddMonths(max(opts.ForecastMonths, 0))
	result := Result{
		Timeline:   period.Range(globalFirst, horizonEnd),
		LastActual: globalLast,
	}

	names := t.Names()
	for _, name := range opts.Expected {
		if !slices.Contains(names, name) {
			names = append(names, name)
		}
	}
	slices.Sort(names)

	var warnings []string
	b := series.NewBuilder()
	filled := series.NewBuilder()
	for _, name := range names {
		own := t.PeriodsOf(name)
		if pinned {
			own = slices.DeleteFunc(own, func(p period.Period) bool { return p.After(globalLast) })
		}
		if len(own) == 0 {
			if !pinned {
				warnings = append(warnings, fmt.Sprintf("no actual periods for %s; projecting zero", name))
			}
			for _, p := range result.Timeline {
				b.Set(p, name, decimal.Zero)
			}
			result.RunRates = append(result.RunRates, RunRate{Name: name})
			continue
		}

		first, last := own[0], own[len(own)-1]
		if pinned && last.Before(globalLast.AddMonths(-(months - 1))) {
			// Nothing inside the window: keep the actuals and project nothing.
			for _, p := range own {
				b.Set(p, name, t.Get(p, name))
			}
			result.RunRates = append(result.RunRates, RunRate{Name: name, LastActual: last})
			continue
		}
		if pinned {
			last = globalLast
		} else if last.Before(globalLast) {
			warnings = append(warnings, fmt.Sprintf("%s has no actuals after %s; run-rate fills %s onward",
				name, last, last.Next()))
		}

		start := last.AddMonths(-(months - 1))
		if start.Before(first) {
			start = first
		}
		window := period.Range(start, last)
		values := make([]decimal.Decimal, len(window))
		for i, p := range window {
			values[i] = t.Get(p, name)
		}
		mean := mathutil.Mean(values)
		if !pinned && len(window) < months {
			warnings = append(warnings, fmt.Sprintf("%s has %d of %d run-rate months; averaging what exists",
				name, len(window), months))
		}

		for _, p := range result.Timeline {
			if p.After(last) {
				b.Set(p, name, mean)
				if !p.After(globalLast) {
					filled.Set(p, name, mean)
				}
			} else if v, ok := t.Value(p, name); ok {
				b.Set(p, name, v)
			}
		}
		result.RunRates = append(result.RunRates, RunRate{
			Name:        name,
			LastActual:  own[len(own)-1],
			WindowStart: start,
			WindowEnd:   last,
			Months:      len(window),
			Mean:        mean,
		})
	}

	result.Table = b.Build()
	result.Filled = filled.Build()
	return result, warnings, nil
}
