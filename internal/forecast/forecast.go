// Package forecast runs the indirect rate pipeline: it plans which scenarios
// to evaluate, builds the projected baseline once, and analyzes every scenario
// against it.
package forecast

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/iwvelando/indirect-rates/internal/aggregate"
	"github.com/iwvelando/indirect-rates/internal/compare"
	"github.com/iwvelando/indirect-rates/internal/config"
	"github.com/iwvelando/indirect-rates/internal/ledger"
	"github.com/iwvelando/indirect-rates/internal/mapping"
	"github.com/iwvelando/indirect-rates/internal/projection"
	"github.com/iwvelando/indirect-rates/internal/rates"
	"github.com/iwvelando/indirect-rates/internal/report"
	"github.com/iwvelando/indirect-rates/internal/scenario"
	"github.com/iwvelando/indirect-rates/pkg/constants"
	"github.com/iwvelando/indirect-rates/pkg/period"
	"github.com/iwvelando/indirect-rates/pkg/series"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Projected series of pools and bases share one table while projecting so
// that both get the same timeline.
const (
	poolPrefix = "pool:"
	basePrefix = "base:"
)

// Request is one run's inputs.
type Request struct {
	Inputs ledger.Inputs

	// Warnings raised while loading the inputs.
	Warnings []string

	// RunID is stamped into every assumptions record when set.
	RunID string
}

// Plan is a validated run: everything needed to analyze its scenarios.
type Plan struct {
	Conf       config.Configuration
	Inputs     ledger.Inputs
	Rates      rates.Config
	Mapper     *mapping.Mapper
	Scenarios  []string
	References compare.References
	RunID      string
	Warnings   []string
}

// NewPlan validates the configuration and inputs and decides which scenarios
// to run. Every configuration error is returned here, before any numbers are
// computed.
func NewPlan(logger *zap.Logger, conf config.Configuration, req Request) (*Plan, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	if err := conf.Validate(); err != nil {
		return nil, fmt.Errorf("invalid run parameters: %w", err)
	}

	mapper, err := mapping.NewMapper(req.Inputs.AccountMap)
	if err != nil {
		return nil, err
	}

	rc := conf.RateConfig()
	rateWarnings, err := rc.Validate(mapper)
	if err != nil {
		return nil, err
	}

	plan := &Plan{
		Conf:      conf,
		Inputs:    req.Inputs,
		Rates:     rc,
		Mapper:    mapper,
		Scenarios: scenario.Plan(conf.Run.Scenario, req.Inputs.Scenarios, req.Inputs.Events),
		RunID:     req.RunID,
	}
	plan.Warnings = append(plan.Warnings, req.Warnings...)
	plan.Warnings = append(plan.Warnings, rateWarnings...)

	known := mapper.Pools()
	for _, pool := range rc.Pools() {
		if !slices.Contains(known, pool) {
			known = append(known, pool)
		}
	}
	for _, name := range plan.Scenarios {
		events := scenario.Select(req.Inputs.Events, name)
		if err := scenario.Validate(events, known); err != nil {
			return nil, err
		}
		if len(events) == 0 && name != constants.DefaultScenario && !slices.Contains(req.Inputs.Scenarios, name) {
			plan.Warnings = append(plan.Warnings, fmt.Sprintf("scenario %s has no events; results equal the baseline", name))
		}
	}

	var refWarnings []string
	plan.References, refWarnings = compare.NewReferences(req.Inputs.ReferenceRates)
	plan.Warnings = append(plan.Warnings, refWarnings...)

	logger.Debug(fmt.Sprintf("planned %d scenario(s): %s", len(plan.Scenarios), strings.Join(plan.Scenarios, ", ")),
		zap.String("op", "forecast.NewPlan"),
	)
	return plan, nil
}

// Baseline is the aggregated and projected state every scenario starts from.
type Baseline struct {
	// Actual is the aggregated frame before projection.
	Actual aggregate.Frame

	// Projected carries actual cells plus run-rate cells up to the horizon.
	Projected aggregate.Frame

	// FilledPools and FilledBases are the cells at or before LastActual that
	// stale series took from their run rate.
	FilledPools series.Table
	FilledBases series.Table

	Timeline    []period.Period
	FirstActual period.Period
	LastActual  period.Period
	RunRates    []projection.RunRate
	Warnings    []string
}

// BuildBaseline aggregates the inputs and projects every series.
func (p *Plan) BuildBaseline(logger *zap.Logger) (Baseline, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	actual, warnings := aggregate.Aggregate(p.Inputs, p.Mapper, aggregate.Options{
		Entity:           p.Conf.Run.Entity,
		UnallowablePools: p.Rates.UnallowablePools,
		GLBases:          p.Rates.GLBases(),
	})

	projected, projectionWarnings, err := projection.Project(combine(actual.Pools, actual.Bases), projection.Options{
		RunRateMonths:  p.Conf.Run.RunRateMonths,
		ForecastMonths: p.Conf.Run.ForecastMonths,
		Expected:       p.expectedSeries(),
	})
	if err != nil {
		return Baseline{}, err
	}
	warnings = append(warnings, projectionWarnings...)

	projects, _, err := projection.Project(actual.Projects, projection.Options{
		RunRateMonths:  p.Conf.Run.RunRateMonths,
		ForecastMonths: p.Conf.Run.ForecastMonths,
		LastActual:     projected.LastActual,
	})
	if err != nil {
		return Baseline{}, err
	}

	pools, bases := split(projected.Table)
	filledPools, filledBases := split(projected.Filled)
	baseline := Baseline{
		Actual: actual,
		Projected: aggregate.Frame{
			Pools:       pools,
			Bases:       bases,
			Projects:    projects.Table,
			Unmapped:    actual.Unmapped,
			Unallowable: actual.Unallowable,
		},
		FilledPools: filledPools,
		FilledBases: filledBases,
		Timeline:    projected.Timeline,
		FirstActual: projected.Timeline[0],
		LastActual:  projected.LastActual,
		RunRates:    projected.RunRates,
		Warnings:    warnings,
	}

	logger.Debug(fmt.Sprintf("baseline covers %s through %s with last actual %s",
		baseline.FirstActual, baseline.Timeline[len(baseline.Timeline)-1], baseline.LastActual),
		zap.String("op", "forecast.BuildBaseline"),
	)
	return baseline, nil
}

// expectedSeries lists series projected even without data: every rate pool
// that is not unallowable, every ledger base component, and every GL base.
func (p *Plan) expectedSeries() []string {
	var out []string
	for _, pool := range p.Rates.Pools() {
		if !slices.Contains(p.Rates.UnallowablePools, pool) {
			out = append(out, poolPrefix+pool)
		}
	}
	for _, c := range ledger.Components {
		out = append(out, basePrefix+c.BaseKey())
	}
	for _, gl := range p.Rates.GLBases() {
		out = append(out, basePrefix+aggregate.GLBaseKey(gl.Rate))
	}
	return out
}

func combine(pools, bases series.Table) series.Table {
	return pools.Rename(func(name string) (string, bool) { return poolPrefix + name, true }).Edit().
		Merge(bases.Rename(func(name string) (string, bool) { return basePrefix + name, true })).
		Build()
}

func split(t series.Table) (pools, bases series.Table) {
	pools = t.Rename(func(name string) (string, bool) { return strings.CutPrefix(name, poolPrefix) })
	bases = t.Rename(func(name string) (string, bool) { return strings.CutPrefix(name, basePrefix) })
	return pools, bases
}

// Analyze evaluates every planned scenario against one shared baseline.
// Scenarios run concurrently; outputs keep the planned order.
func Analyze(ctx context.Context, logger *zap.Logger, plan *Plan) ([]report.Output, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	baseline, err := plan.BuildBaseline(logger)
	if err != nil {
		return nil, err
	}

	outputs := make([]report.Output, len(plan.Scenarios))
	g, gctx := errgroup.WithContext(ctx)
	for i, name := range plan.Scenarios {
		g.Go(func() error {
			out, err := plan.analyzeScenario(gctx, logger, baseline, name)
			if err != nil {
				return fmt.Errorf("scenario %s: %w", name, err)
			}
			outputs[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return outputs, nil
}

func (p *Plan) analyzeScenario(ctx context.Context, logger *zap.Logger, baseline Baseline, name string) (report.Output, error) {
	logger.Debug(fmt.Sprintf("analyzing scenario %s", name),
		zap.String("op", "forecast.Analyze"),
	)

	events := scenario.Select(p.Inputs.Events, name)
	frame, applied, scenarioWarnings := scenario.Apply(baseline.Projected, baseline.Timeline, events, p.Rates.GLBases())
	bases := aggregate.StandardBases(frame.Bases)

	computed, rateWarnings, err := p.Rates.Compute(ctx, rates.Input{
		Pools:                frame.Pools,
		Bases:                bases,
		RunRatePools:         baseline.FilledPools,
		RunRateBases:         baseline.FilledBases,
		Timeline:             baseline.Timeline,
		LastActual:           baseline.LastActual,
		FiscalYearStartMonth: p.Conf.FiscalYearStart(),
	})
	if err != nil {
		return report.Output{}, err
	}

	records, compareWarnings := compare.Compare(computed, p.References)
	if breaches := compare.Breaches(records); len(breaches) > 0 {
		logger.Info(fmt.Sprintf("scenario %s has %d rate(s) over threshold", name, len(breaches)),
			zap.String("op", "forecast.Analyze"),
		)
	}
	impacts := p.Rates.ApplyToProjects(computed, frame.Projects, baseline.LastActual)

	var warnings []string
	warnings = append(warnings, p.Warnings...)
	warnings = append(warnings, baseline.Warnings...)
	warnings = append(warnings, scenarioWarnings...)
	warnings = append(warnings, rateWarnings...)
	warnings = append(warnings, compareWarnings...)

	return report.Assemble(report.Parts{
		Scenario:       name,
		Assumptions:    p.assumptions(baseline, applied),
		Timeline:       baseline.Timeline,
		LastActual:     baseline.LastActual,
		Pools:          frame.Pools,
		Bases:          bases,
		FilledPools:    baseline.FilledPools,
		FilledBases:    baseline.FilledBases,
		Unallowable:    baseline.Actual.Unallowable,
		Unmapped:       baseline.Actual.Unmapped,
		Series:         computed,
		Comparison:     records,
		ProjectImpacts: impacts,
		Warnings:       warnings,
	}), nil
}

func (p *Plan) assumptions(baseline Baseline, applied scenario.Applied) report.Assumptions {
	a := report.Assumptions{
		RunID:                p.RunID,
		Scenarios:            p.Scenarios,
		Method:               constants.RunRateMethod,
		RunRateMonths:        p.Conf.Run.RunRateMonths,
		ForecastMonths:       p.Conf.Run.ForecastMonths,
		FiscalYearStartMonth: p.Conf.Run.FiscalYearStartMonth,
		Entity:               p.Conf.Run.Entity,
		FirstPeriod:          baseline.FirstActual,
		LastActualPeriod:     baseline.LastActual,
		HorizonEnd:           baseline.Timeline[len(baseline.Timeline)-1],
		EventsApplied:        len(applied.Applied),
		EventsSkipped:        len(applied.Skipped),
		RunRates:             baseline.RunRates,
		Rates:                p.Rates.Rates,
		UnallowablePools:     p.Rates.UnallowablePools,
		Budget:               p.References.Budget,
		Provisional:          p.References.Provisional,
		Threshold:            p.References.Threshold,
	}
	for _, event := range applied.Applied {
		a.Events = append(a.Events, report.NewEventRecord(event))
	}
	return a
}

// GetForecast plans and analyzes every scenario of a run.
func GetForecast(ctx context.Context, logger *zap.Logger, conf config.Configuration, req Request) ([]report.Output, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	plan, err := NewPlan(logger, conf, req)
	if err != nil {
		return nil, err
	}
	outputs, err := Analyze(ctx, logger, plan)
	if err != nil {
		if errors.Is(err, projection.ErrNoActuals) {
			logger.Warn("no actual periods in the inputs",
				zap.String("op", "forecast.GetForecast"),
			)
		}
		return nil, err
	}

	logger.Info(fmt.Sprintf("computed %d scenario(s) through %s", len(outputs), outputs[0].Assumptions.HorizonEnd),
		zap.String("op", "forecast.GetForecast"),
	)
	return outputs, nil
}
