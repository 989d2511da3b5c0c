package rates

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/iwvelando/indirect-rates/internal/aggregate"
	"github.com/iwvelando/indirect-rates/pkg/mathutil"
	"github.com/iwvelando/indirect-rates/pkg/period"
	"github.com/iwvelando/indirect-rates/pkg/series"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// Point is one period of a computed rate.
type Point struct {
	Period period.Period   `json:"period"`
	Pool   decimal.Decimal `json:"pool"`

	// Base includes the pool dollars of every included lower-tier rate.
	Base decimal.Decimal     `json:"base"`
	Rate decimal.NullDecimal `json:"rate"`
	YTD  decimal.NullDecimal `json:"ytdRate"`

	Projected bool `json:"projected"`
}

// Series is the computed time series of one rate.
type Series struct {
	Name     string   `json:"name"`
	Tier     int      `json:"cascadeOrder"`
	Base     string   `json:"base"`
	Included []string `json:"includedRates,omitempty"`
	Points   []Point  `json:"points"`
}

// At returns the point for p.
func (s Series) At(p period.Period) (Point, bool) {
	for _, point := range s.Points {
		if point.Period == p {
			return point, true
		}
	}
	return Point{}, false
}

// Input is everything the engine reads for one scenario.
type Input struct {
	// Pools holds (period, pool) dollars after projection and scenario deltas.
	Pools series.Table

	// Bases holds (period, base key) dollars including derived TL and TCI.
	Bases series.Table

	// RunRatePools and RunRateBases hold cells at or before LastActual that
	// were filled from a run rate. Rates reading them are marked projected.
	RunRatePools series.Table
	RunRateBases series.Table

	Timeline             []period.Period
	LastActual           period.Period
	FiscalYearStartMonth time.Month
}

// readsRunRate reports whether def's pools or base in p include a cell filled
// from a run rate.
func (in Input) readsRunRate(def Definition, p period.Period) bool {
	for _, name := range in.RunRatePools.NamesAt(p) {
		if slices.Contains(def.Pools, name) {
			return true
		}
	}
	for _, name := range in.RunRateBases.NamesAt(p) {
		if aggregate.BaseIncludes(def.BaseSeries(), name) {
			return true
		}
	}
	return false
}

// Compute evaluates every rate tier by tier. A tier's base adds the pool
// dollars of its included lower-tier rates when the base cascades. Rates
// sharing a tier run concurrently; each writes only its own slot, so the
// result does not depend on scheduling. The configuration must have passed
// Validate.
func (c Config) Compute(ctx context.Context, in Input) ([]Series, []string, error) {
	tiers := c.tiers()
	results := make([][]Series, len(tiers))
	notes := make([][][]string, len(tiers))
	poolDollars := make(map[string][]decimal.Decimal, len(c.Rates))
	projected := make(map[string][]bool, len(c.Rates))

	for t, tier := range tiers {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		results[t] = make([]Series, len(tier))
		notes[t] = make([][]string, len(tier))

		g, gctx := errgroup.WithContext(ctx)
		for i, def := range tier {
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				results[t][i], notes[t][i] = c.computeRate(def, in, poolDollars, projected)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, nil, err
		}

		// Publish this tier's pool dollars only after the whole tier finished.
		for _, s := range results[t] {
			pools := make([]decimal.Decimal, len(s.Points))
			flags := make([]bool, len(s.Points))
			for i, point := range s.Points {
				pools[i] = point.Pool
				flags[i] = point.Projected
			}
			poolDollars[s.Name] = pools
			projected[s.Name] = flags
		}
	}

	var out []Series
	var warnings []string
	for t := range tiers {
		out = append(out, results[t]...)
		for _, w := range notes[t] {
			warnings = append(warnings, w...)
		}
	}
	return out, warnings, nil
}

// computeRate reads poolDollars and projected for lower tiers only.
func (c Config) computeRate(def Definition, in Input, poolDollars map[string][]decimal.Decimal, projected map[string][]bool) (Series, []string) {
	included := c.Dependencies(def)
	s := Series{
		Name:     def.Name,
		Tier:     def.CascadeOrder,
		Base:     def.BaseSeries(),
		Included: included,
		Points:   make([]Point, len(in.Timeline)),
	}

	var undefined, negative []string
	cumPool, cumBase := decimal.Zero, decimal.Zero
	for i, p := range in.Timeline {
		if i > 0 && !period.SameFiscalYear(in.Timeline[i-1], p, in.FiscalYearStartMonth) {
			cumPool, cumBase = decimal.Zero, decimal.Zero
		}

		pool := in.Pools.Sum(p, def.Pools...)
		base := in.Bases.Get(p, def.BaseSeries())
		estimated := p.After(in.LastActual) || in.readsRunRate(def, p)
		for _, ref := range included {
			base = base.Add(poolDollars[ref][i])
			estimated = estimated || projected[ref][i]
		}
		cumPool = cumPool.Add(pool)
		cumBase = cumBase.Add(base)

		rate := mathutil.NullRatio(pool, base)
		if !rate.Valid {
			undefined = append(undefined, p.String())
		}
		if base.IsNegative() {
			negative = append(negative, p.String())
		}

		s.Points[i] = Point{
			Period:    p,
			Pool:      pool,
			Base:      base,
			Rate:      rate,
			YTD:       mathutil.NullRatio(cumPool, cumBase),
			Projected: estimated,
		}
	}

	var warnings []string
	if len(undefined) > 0 {
		warnings = append(warnings, fmt.Sprintf("%s base %s is zero in %s; rate undefined and excluded",
			def.Name, def.BaseSeries(), strings.Join(undefined, ", ")))
	}
	if len(negative) > 0 {
		warnings = append(warnings, fmt.Sprintf("%s base %s is negative in %s; check scenario deltas and projections",
			def.Name, def.BaseSeries(), strings.Join(negative, ", ")))
	}
	return s, warnings
}
