// Package scenario selects what-if scenarios and overlays their persistent
// dollar adjustments onto projected series.
package scenario

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/iwvelando/indirect-rates/internal/aggregate"
	"github.com/iwvelando/indirect-rates/internal/ledger"
	"github.com/iwvelando/indirect-rates/pkg/constants"
	"github.com/iwvelando/indirect-rates/pkg/period"
)

// ErrUnknownPool is wrapped by every UnknownPoolError.
var ErrUnknownPool = errors.New("scenario event targets an unknown pool")

// UnknownPoolError reports an event adjusting a pool no mapping or rate defines.
type UnknownPoolError struct {
	Scenario        string
	EffectivePeriod period.Period
	Pool            string
	Known           []string
}

func (e *UnknownPoolError) Error() string {
	return fmt.Sprintf("scenario %s event effective %s targets pool %q; known pools are %s",
		e.Scenario, e.EffectivePeriod, e.Pool, strings.Join(e.Known, ", "))
}

func (e *UnknownPoolError) Unwrap() error {
	return ErrUnknownPool
}

// Plan returns the scenarios to evaluate. A requested name wins; otherwise
// every scenario declared in the events file is evaluated in sorted order,
// and with no events at all the single default scenario runs.
func Plan(requested string, declared []string, events []ledger.ScenarioEvent) []string {
	if requested = strings.TrimSpace(requested); requested != "" {
		return []string{requested}
	}

	seen := make(map[string]struct{})
	add := func(name string) {
		name = strings.TrimSpace(name)
		if name == "" {
			name = constants.DefaultScenario
		}
		seen[name] = struct{}{}
	}
	for _, name := range declared {
		add(name)
	}
	for _, event := range events {
		add(event.Scenario)
	}
	if len(seen) == 0 {
		return []string{constants.DefaultScenario}
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Select returns the events belonging to scenario, in input order.
func Select(events []ledger.ScenarioEvent, scenario string) []ledger.ScenarioEvent {
	var out []ledger.ScenarioEvent
	for _, event := range events {
		name := event.Scenario
		if name == "" {
			name = constants.DefaultScenario
		}
		if name == scenario {
			out = append(out, event)
		}
	}
	return out
}

// Validate fails on the first event whose pool target is not in knownPools.
func Validate(events []ledger.ScenarioEvent, knownPools []string) error {
	for _, event := range events {
		if event.Target.Kind != ledger.TargetPool {
			continue
		}
		if !slices.Contains(knownPools, event.Target.Name) {
			known := slices.Clone(knownPools)
			sort.Strings(known)
			return &UnknownPoolError{
				Scenario:        event.Scenario,
				EffectivePeriod: event.EffectivePeriod,
				Pool:            event.Target.Name,
				Known:           known,
			}
		}
	}
	return nil
}

// Applied summarizes which events took effect.
type Applied struct {
	Applied []ledger.ScenarioEvent
	Skipped []ledger.ScenarioEvent
}

// Apply adds every event's delta to its target series for the effective
// period and every later period of timeline. Deltas are additive, so the
// result does not depend on event order. Component deltas adjust the base
// totals, every GL-derived base whose declared base sums that component, and,
// when the event names a project, that project's series too. Events effective
// after the timeline are skipped with a warning.
func Apply(frame aggregate.Frame, timeline []period.Period, events []ledger.ScenarioEvent, glBases []aggregate.GLBase) (aggregate.Frame, Applied, []string) {
	var applied Applied
	var warnings []string
	if len(events) == 0 {
		return frame, applied, nil
	}

	end, ok := period.Max(timeline)
	pools := frame.Pools.Edit()
	bases := frame.Bases.Edit()
	projects := frame.Projects.Edit()

	for _, event := range events {
		if !ok || event.EffectivePeriod.After(end) {
			applied.Skipped = append(applied.Skipped, event)
			warnings = append(warnings, fmt.Sprintf("scenario %s event %s effective %s is beyond the forecast horizon; skipped",
				event.Scenario, event.Target, event.EffectivePeriod))
			continue
		}

		var baseKey string
		var glKeys []string
		if event.Target.Kind == ledger.TargetComponent {
			baseKey = ledger.Component(event.Target.Name).BaseKey()
			for _, gl := range glBases {
				if aggregate.BaseIncludes(gl.Base, baseKey) {
					glKeys = append(glKeys, aggregate.GLBaseKey(gl.Rate))
				}
			}
		}
		for _, p := range timeline {
			if p.Before(event.EffectivePeriod) {
				continue
			}
			switch event.Target.Kind {
			case ledger.TargetPool:
				pools.Add(p, event.Target.Name, event.Delta)
			case ledger.TargetComponent:
				bases.Add(p, baseKey, event.Delta)
				for _, key := range glKeys {
					bases.Add(p, key, event.Delta)
				}
				if event.Project != "" {
					projects.Add(p, aggregate.ProjectKey(event.Project, baseKey), event.Delta)
				}
			}
		}
		applied.Applied = append(applied.Applied, event)
	}

	frame.Pools = pools.Build()
	frame.Bases = bases.Build()
	frame.Projects = projects.Build()
	return frame, applied, warnings
}
