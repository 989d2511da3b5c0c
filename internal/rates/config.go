// Package rates validates cascading rate definitions and computes per-period
// and fiscal year-to-date indirect rates.
package rates

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/iwvelando/indirect-rates/internal/aggregate"
	"github.com/iwvelando/indirect-rates/internal/mapping"
	"github.com/iwvelando/indirect-rates/pkg/constants"
)

var (
	// ErrCascadeCycle is wrapped when rate bases depend on each other in a loop
	// or on a rate that is not computed strictly earlier.
	ErrCascadeCycle = errors.New("cascade dependency cycle")

	// ErrInvalidDefinition is wrapped for every other malformed definition.
	ErrInvalidDefinition = errors.New("invalid rate definition")
)

// ConfigError is a fatal rate configuration problem naming the rates and
// accounts involved.
type ConfigError struct {
	Rates    []string
	Accounts []string
	Reason   string
	Err      error
}

func (e *ConfigError) Error() string {
	var b strings.Builder
	b.WriteString("rate configuration error")
	if len(e.Rates) > 0 {
		fmt.Fprintf(&b, " in %s", strings.Join(e.Rates, " -> "))
	}
	if len(e.Accounts) > 0 {
		fmt.Fprintf(&b, " (accounts %s)", strings.Join(e.Accounts, ", "))
	}
	fmt.Fprintf(&b, ": %s", e.Reason)
	return b.String()
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// ValidBases lists the base keys a definition may declare.
var ValidBases = []string{
	constants.BaseDL,
	constants.BaseTL,
	constants.BaseTCI,
	constants.BaseDLH,
	constants.BaseSubk,
	constants.BaseODC,
	constants.BaseTravel,
}

// Definition declares one indirect rate.
type Definition struct {
	Name         string   `json:"name" yaml:"name"`
	Pools        []string `json:"pools" yaml:"pools"`
	Base         string   `json:"base" yaml:"base"`
	CascadeOrder int      `json:"cascadeOrder" yaml:"cascadeOrder"`

	// BaseAccounts, when set, sums the base from these GL accounts instead of
	// the project ledger.
	BaseAccounts []string `json:"baseAccounts,omitempty" yaml:"baseAccounts,omitempty"`

	// IncludeRates names the lower-tier rates whose pool dollars enter a
	// cascading base. Empty means every lower-tier rate.
	IncludeRates []string `json:"includeRates,omitempty" yaml:"includeRates,omitempty"`

	// Cascading overrides the default for the base type: TCI cascades, every
	// other base does not.
	Cascading *bool `json:"cascading,omitempty" yaml:"cascading,omitempty"`
}

// IsCascading reports whether prior-tier pool dollars enter this rate's base.
func (d Definition) IsCascading() bool {
	if d.Cascading != nil {
		return *d.Cascading
	}
	return d.Base == constants.BaseTCI
}

// BaseSeries names the raw base series this rate divides by.
func (d Definition) BaseSeries() string {
	if len(d.BaseAccounts) > 0 {
		return aggregate.GLBaseKey(d.Name)
	}
	return d.Base
}

// Config is the full set of rate definitions of a run.
type Config struct {
	Rates []Definition `json:"rates" yaml:"rates"`

	// UnallowablePools never enter any numerator.
	UnallowablePools []string `json:"unallowablePools,omitempty" yaml:"unallowablePools,omitempty"`
}

// Pools returns every pool named by any definition, sorted.
func (c Config) Pools() []string {
	var pools []string
	for _, d := range c.Rates {
		for _, pool := range d.Pools {
			if !slices.Contains(pools, pool) {
				pools = append(pools, pool)
			}
		}
	}
	sort.Strings(pools)
	return pools
}

// GLBases returns the explicit base-account sets to aggregate.
func (c Config) GLBases() []aggregate.GLBase {
	var out []aggregate.GLBase
	for _, d := range c.Rates {
		if len(d.BaseAccounts) > 0 {
			out = append(out, aggregate.GLBase{Rate: d.Name, Base: d.Base, Accounts: d.BaseAccounts})
		}
	}
	return out
}

func (c Config) byName() map[string]Definition {
	out := make(map[string]Definition, len(c.Rates))
	for _, d := range c.Rates {
		out[d.Name] = d
	}
	return out
}

// Dependencies returns the rates whose pool dollars enter d's base.
func (c Config) Dependencies(d Definition) []string {
	if !d.IsCascading() {
		return nil
	}
	if len(d.IncludeRates) > 0 {
		return slices.Clone(d.IncludeRates)
	}
	var deps []string
	for _, other := range c.Rates {
		if other.CascadeOrder < d.CascadeOrder {
			deps = append(deps, other.Name)
		}
	}
	return deps
}

// Validate checks every definition before any computation. The mapper, when
// not nil, is used to detect accounts feeding both a rate's pools and its
// explicit base. Unknown pools are reported as warnings.
func (c Config) Validate(mapper *mapping.Mapper) ([]string, error) {
	if len(c.Rates) == 0 {
		return nil, &ConfigError{Reason: "no rates are defined", Err: ErrInvalidDefinition}
	}

	seen := make(map[string]struct{}, len(c.Rates))
	for _, d := range c.Rates {
		if strings.TrimSpace(d.Name) == "" {
			return nil, &ConfigError{Reason: "a rate has no name", Err: ErrInvalidDefinition}
		}
		if _, dup := seen[d.Name]; dup {
			return nil, &ConfigError{Rates: []string{d.Name}, Reason: "rate is defined more than once", Err: ErrInvalidDefinition}
		}
		seen[d.Name] = struct{}{}

		if len(d.Pools) == 0 {
			return nil, &ConfigError{Rates: []string{d.Name}, Reason: "rate has no pools", Err: ErrInvalidDefinition}
		}
		if !slices.Contains(ValidBases, d.Base) {
			return nil, &ConfigError{Rates: []string{d.Name},
				Reason: fmt.Sprintf("base %q is not one of %s", d.Base, strings.Join(ValidBases, ", ")), Err: ErrInvalidDefinition}
		}
		if d.CascadeOrder < 0 {
			return nil, &ConfigError{Rates: []string{d.Name}, Reason: "cascade order must not be negative", Err: ErrInvalidDefinition}
		}
		if len(d.IncludeRates) > 0 && !d.IsCascading() {
			return nil, &ConfigError{Rates: []string{d.Name},
				Reason: fmt.Sprintf("base %s does not cascade but includes rates %s", d.Base, strings.Join(d.IncludeRates, ", ")),
				Err:    ErrInvalidDefinition}
		}
	}

	byName := c.byName()
	for _, d := range c.Rates {
		for _, ref := range d.IncludeRates {
			if _, ok := byName[ref]; !ok {
				return nil, &ConfigError{Rates: []string{d.Name},
					Reason: fmt.Sprintf("includes unknown rate %q", ref), Err: ErrInvalidDefinition}
			}
		}
	}

	if cycle := c.findCycle(); cycle != nil {
		return nil, &ConfigError{Rates: cycle, Reason: "rate bases depend on each other", Err: ErrCascadeCycle}
	}

	for _, d := range c.Rates {
		for _, ref := range c.Dependencies(d) {
			if byName[ref].CascadeOrder >= d.CascadeOrder {
				return nil, &ConfigError{Rates: []string{d.Name, ref},
					Reason: fmt.Sprintf("%s (tier %d) may only include rates from strictly lower tiers, but %s is tier %d",
						d.Name, d.CascadeOrder, ref, byName[ref].CascadeOrder),
					Err: ErrCascadeCycle}
			}
		}
	}

	var warnings []string
	if mapper != nil {
		for _, d := range c.Rates {
			for _, pool := range d.Pools {
				if !mapper.HasPool(pool) {
					warnings = append(warnings, fmt.Sprintf("rate %s pool %s has no mapped accounts", d.Name, pool))
				}
				if slices.Contains(c.UnallowablePools, pool) {
					warnings = append(warnings, fmt.Sprintf("rate %s pool %s is unallowable and always zero", d.Name, pool))
				}
			}
			if len(d.BaseAccounts) == 0 {
				continue
			}
			var overlap []string
			for _, account := range mapper.AccountsForPools(d.Pools) {
				if slices.Contains(d.BaseAccounts, account) {
					overlap = append(overlap, account)
				}
			}
			if len(overlap) > 0 {
				return warnings, &ConfigError{Rates: []string{d.Name}, Accounts: overlap,
					Reason: "accounts feed both the pool and the base of the same rate", Err: mapping.ErrAccountConflict}
			}
		}
	}
	return warnings, nil
}

// findCycle returns the rates of a dependency cycle, first rate repeated at
// the end, or nil when the graph is acyclic.
func (c Config) findCycle() []string {
	const (
		unvisited = iota
		visiting
		done
	)
	byName := c.byName()
	state := make(map[string]int, len(c.Rates))
	var stack []string
	var cycle []string

	var visit func(name string) bool
	visit = func(name string) bool {
		state[name] = visiting
		stack = append(stack, name)
		for _, dep := range c.Dependencies(byName[name]) {
			switch state[dep] {
			case visiting:
				i := slices.Index(stack, dep)
				cycle = append(slices.Clone(stack[i:]), dep)
				return true
			case unvisited:
				if visit(dep) {
					return true
				}
			}
		}
		stack = stack[:len(stack)-1]
		state[name] = done
		return false
	}

	for _, d := range c.Rates {
		if state[d.Name] == unvisited && visit(d.Name) {
			return cycle
		}
	}
	return nil
}

// tiers groups definitions by ascending cascade order, keeping input order
// within a tier.
func (c Config) tiers() [][]Definition {
	orders := make([]int, 0, len(c.Rates))
	grouped := make(map[int][]Definition)
	for _, d := range c.Rates {
		if _, ok := grouped[d.CascadeOrder]; !ok {
			orders = append(orders, d.CascadeOrder)
		}
		grouped[d.CascadeOrder] = append(grouped[d.CascadeOrder], d)
	}
	sort.Ints(orders)
	out := make([][]Definition, 0, len(orders))
	for _, order := range orders {
		out = append(out, grouped[order])
	}
	return out
}
