package scenario

import (
	"errors"
	"testing"

	"github.com/iwvelando/indirect-rates/internal/aggregate"
	"github.com/iwvelando/indirect-rates/internal/ledger"
	"github.com/iwvelando/indirect-rates/pkg/constants"
	"github.com/iwvelando/indirect-rates/pkg/period"
	"github.com/iwvelando/indirect-rates/pkg/series"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func p(s string) period.Period {
	return period.MustParse(s)
}

func poolEvent(scenario, effective, pool string, delta int64) ledger.ScenarioEvent {
	return ledger.ScenarioEvent{
		Scenario:        scenario,
		EffectivePeriod: p(effective),
		Target:          ledger.Target{Kind: ledger.TargetPool, Name: pool},
		Delta:           decimal.NewFromInt(delta),
	}
}

func testFrame() (aggregate.Frame, []period.Period) {
	timeline := period.Range(p("2025-01"), p("2025-06"))
	pools := series.NewBuilder()
	bases := series.NewBuilder()
	for _, tp := range timeline {
		pools.Add(tp, "Fringe", decimal.NewFromInt(1000))
		bases.Add(tp, constants.BaseDL, decimal.NewFromInt(5000))
	}
	return aggregate.Frame{Pools: pools.Build(), Bases: bases.Build(), Projects: series.NewBuilder().Build()}, timeline
}

func TestPlan(t *testing.T) {
	events := []ledger.ScenarioEvent{
		poolEvent("Win", "2025-01", "Fringe", 1),
		poolEvent("", "2025-01", "Fringe", 1),
		poolEvent("Lose", "2025-01", "Fringe", 1),
	}

	tests := []struct {
		name      string
		requested string
		declared  []string
		events    []ledger.ScenarioEvent
		expected  []string
	}{
		{name: "requested wins", requested: "Win", events: events, expected: []string{"Win"}},
		{name: "sorted unique", events: events, expected: []string{"Base", "Lose", "Win"}},
		{name: "declared without deltas", declared: []string{"Hold"}, expected: []string{"Hold"}},
		{name: "no events", expected: []string{"Base"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Plan(tt.requested, tt.declared, tt.events))
		})
	}
}

func TestSelect(t *testing.T) {
	events := []ledger.ScenarioEvent{
		poolEvent("Win", "2025-01", "Fringe", 1),
		poolEvent("", "2025-02", "Fringe", 2),
		poolEvent("Win", "2025-03", "Fringe", 3),
	}
	assert.Len(t, Select(events, "Win"), 2)
	assert.Len(t, Select(events, constants.DefaultScenario), 1)
	assert.Empty(t, Select(events, "Lose"))
}

func TestValidateUnknownPool(t *testing.T) {
	events := []ledger.ScenarioEvent{
		poolEvent("Win", "2025-01", "Fringe", 1),
		poolEvent("Win", "2025-02", "Materials", 1),
	}
	err := Validate(events, []string{"Overhead", "Fringe"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownPool))

	var unknown *UnknownPoolError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "Materials", unknown.Pool)
	assert.Equal(t, []string{"Fringe", "Overhead"}, unknown.Known)

	assert.NoError(t, Validate(events[:1], []string{"Fringe"}))
}

func TestApplyAffectsEffectivePeriodAndLater(t *testing.T) {
	frame, timeline := testFrame()
	out, applied, warnings := Apply(frame, timeline, []ledger.ScenarioEvent{poolEvent("Win", "2025-03", "Fringe", 250)}, nil)
	assert.Empty(t, warnings)
	assert.Len(t, applied.Applied, 1)

	for _, tp := range timeline {
		want := decimal.NewFromInt(1000)
		if !tp.Before(p("2025-03")) {
			want = decimal.NewFromInt(1250)
		}
		assert.True(t, out.Pools.Get(tp, "Fringe").Equal(want), "Fringe at %s = %s", tp, out.Pools.Get(tp, "Fringe"))
	}
	assert.True(t, frame.Pools.Get(p("2025-06"), "Fringe").Equal(decimal.NewFromInt(1000)), "input frame is untouched")
}

func TestApplyIsOrderIndependent(t *testing.T) {
	frame, timeline := testFrame()
	a := poolEvent("Win", "2025-02", "Fringe", 100)
	b := poolEvent("Win", "2025-04", "Fringe", -40)
	c := ledger.ScenarioEvent{
		Scenario:        "Win",
		EffectivePeriod: p("2025-03"),
		Project:         "P9",
		Target:          ledger.Target{Kind: ledger.TargetComponent, Name: constants.ColDirectLabor},
		Delta:           decimal.NewFromInt(700),
	}

	first, _, _ := Apply(frame, timeline, []ledger.ScenarioEvent{a, b, c}, nil)
	second, _, _ := Apply(frame, timeline, []ledger.ScenarioEvent{c, b, a}, nil)
	assert.True(t, first.Pools.Equal(second.Pools))
	assert.True(t, first.Bases.Equal(second.Bases))
	assert.True(t, first.Projects.Equal(second.Projects))

	assert.True(t, first.Pools.Get(p("2025-05"), "Fringe").Equal(decimal.NewFromInt(1060)))
	assert.True(t, first.Bases.Get(p("2025-03"), constants.BaseDL).Equal(decimal.NewFromInt(5700)))
	assert.True(t, first.Bases.Get(p("2025-02"), constants.BaseDL).Equal(decimal.NewFromInt(5000)))
	assert.True(t, first.Projects.Get(p("2025-06"), aggregate.ProjectKey("P9", constants.BaseDL)).Equal(decimal.NewFromInt(700)))
}

func TestApplySkipsEventsBeyondHorizon(t *testing.T) {
	frame, timeline := testFrame()
	out, applied, warnings := Apply(frame, timeline, []ledger.ScenarioEvent{poolEvent("Win", "2026-01", "Fringe", 5)}, nil)
	assert.Len(t, applied.Skipped, 1)
	assert.Len(t, warnings, 1)
	assert.True(t, out.Pools.Equal(frame.Pools))
}

func TestApplyAdjustsGLDerivedBases(t *testing.T) {
	frame, timeline := testFrame()
	glBases := []aggregate.GLBase{
		{Rate: "Fringe", Base: constants.BaseDL, Accounts: []string{"4000"}},
		{Rate: "G&A", Base: constants.BaseTCI, Accounts: []string{"4000", "4100"}},
		{Rate: "Hours", Base: constants.BaseDLH, Accounts: []string{"4900"}},
	}
	component := func(name string, delta int64) ledger.ScenarioEvent {
		return ledger.ScenarioEvent{
			Scenario:        "Win",
			EffectivePeriod: p("2025-04"),
			Target:          ledger.Target{Kind: ledger.TargetComponent, Name: name},
			Delta:           decimal.NewFromInt(delta),
		}
	}

	out, applied, warnings := Apply(frame, timeline, []ledger.ScenarioEvent{
		component(constants.ColDirectLabor, 500),
		component(constants.ColSubk, 200),
	}, glBases)
	assert.Empty(t, warnings)
	assert.Len(t, applied.Applied, 2)

	tests := []struct {
		key    string
		before int64
		after  int64
	}{
		{key: aggregate.GLBaseKey("Fringe"), before: 0, after: 500},
		{key: aggregate.GLBaseKey("G&A"), before: 0, after: 700},
		{key: aggregate.GLBaseKey("Hours"), before: 0, after: 0},
		{key: constants.BaseDL, before: 5000, after: 5500},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			assert.True(t, out.Bases.Get(p("2025-03"), tt.key).Equal(decimal.NewFromInt(tt.before)),
				"%s at 2025-03 = %s", tt.key, out.Bases.Get(p("2025-03"), tt.key))
			assert.True(t, out.Bases.Get(p("2025-06"), tt.key).Equal(decimal.NewFromInt(tt.after)),
				"%s at 2025-06 = %s", tt.key, out.Bases.Get(p("2025-06"), tt.key))
		})
	}
}
