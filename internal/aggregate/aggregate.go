// Package aggregate sums mapped GL actuals and direct project costs into the
// per-period pool and base series the rate engine consumes.
package aggregate

import (
	"fmt"
	"sort"
	"strings"

	"github.com/iwvelando/indirect-rates/internal/ledger"
	"github.com/iwvelando/indirect-rates/internal/mapping"
	"github.com/iwvelando/indirect-rates/pkg/constants"
	"github.com/iwvelando/indirect-rates/pkg/format"
	"github.com/iwvelando/indirect-rates/pkg/mathutil"
	"github.com/iwvelando/indirect-rates/pkg/period"
	"github.com/iwvelando/indirect-rates/pkg/series"
)

// projectSeparator joins a project and a base key into one series name.
const projectSeparator = "::"

// GLBase asks for a rate base summed from an explicit set of GL accounts
// instead of the project ledger.
type GLBase struct {
	// Rate is the rate the base belongs to; the series is named GL:<Rate>.
	Rate string

	// Base is the declared base key the GL total is reconciled against.
	Base string

	Accounts []string
}

// Options controls aggregation.
type Options struct {
	// Entity restricts GL actuals to matching rows when set.
	Entity string

	// UnallowablePools are pools whose dollars never enter a numerator.
	UnallowablePools []string

	GLBases []GLBase
}

// Frame is the aggregated view of one run's inputs.
type Frame struct {
	// Pools holds (period, pool) numerator dollars.
	Pools series.Table

	// Bases holds (period, base key) raw base components: DL, DLH, Subk, ODC,
	// Travel and any GL:<rate> series.
	Bases series.Table

	// Projects holds per-project component series; see ProjectKey.
	Projects series.Table

	// Unmapped holds (period, account) dollars with no pool.
	Unmapped series.Table

	// Unallowable holds (period, pool) dollars excluded for compliance.
	Unallowable series.Table
}

// ProjectKey names a per-project component series.
func ProjectKey(project, baseKey string) string {
	return project + projectSeparator + baseKey
}

// SplitProjectKey reverses ProjectKey.
func SplitProjectKey(name string) (project, baseKey string, ok bool) {
	i := strings.LastIndex(name, projectSeparator)
	if i < 0 {
		return "", "", false
	}
	return name[:i], name[i+len(projectSeparator):], true
}

// GLBaseKey names the series summed for rate's explicit base accounts.
func GLBaseKey(rate string) string {
	return constants.GLBasePrefix + rate
}

// FilterEntity restricts records to entity. An empty entity keeps every row.
func FilterEntity(records []ledger.ActualRecord, entity string, hasEntity bool) ([]ledger.ActualRecord, []string) {
	if entity == "" {
		return records, nil
	}
	if !hasEntity {
		return records, []string{fmt.Sprintf("entity filter %q requested but %s has no %s column; using all rows",
			entity, constants.GLActualsFile, constants.ColEntity)}
	}

	filtered := make([]ledger.ActualRecord, 0, len(records))
	for _, record := range records {
		if strings.EqualFold(strings.TrimSpace(record.Entity), entity) {
			filtered = append(filtered, record)
		}
	}
	var warnings []string
	if len(filtered) == 0 {
		warnings = append(warnings, fmt.Sprintf("entity filter %q matched no GL rows", entity))
	}
	return filtered, warnings
}

// Aggregate filters GL actuals by entity, maps them to pools and sums every
// series. Direct costs are not entity scoped. The result does not depend on
// the order of input rows.
func Aggregate(inputs ledger.Inputs, mapper *mapping.Mapper, opts Options) (Frame, []string) {
	actuals, warnings := FilterEntity(inputs.Actuals, opts.Entity, inputs.HasEntity)
	mapped := mapper.MapActuals(actuals, opts.UnallowablePools)
	warnings = append(warnings, mapped.Warnings...)

	pools := series.NewBuilder()
	for _, row := range mapped.Mapped {
		pools.Add(row.Period, row.Pool, row.Amount)
	}
	unallowable := series.NewBuilder()
	for _, row := range mapped.Unallowable {
		unallowable.Add(row.Period, row.Pool, row.Amount)
	}
	unmapped := series.NewBuilder()
	for _, row := range mapped.Unmapped {
		unmapped.Add(row.Period, strings.TrimSpace(row.Account), row.Amount)
	}

	bases := series.NewBuilder()
	projects := series.NewBuilder()
	for _, record := range inputs.DirectCosts {
		for _, c := range ledger.Components {
			bases.Add(record.Period, c.BaseKey(), record.Amount(c))
			projects.Add(record.Period, ProjectKey(record.Project, c.BaseKey()), record.Amount(c))
		}
	}
	ledgerBases := bases.Build()

	combined := ledgerBases.Edit()
	for _, gl := range opts.GLBases {
		key := GLBaseKey(gl.Rate)
		accounts := make(map[string]struct{}, len(gl.Accounts))
		for _, account := range gl.Accounts {
			accounts[strings.TrimSpace(account)] = struct{}{}
		}
		for _, record := range actuals {
			if _, ok := accounts[strings.TrimSpace(record.Account)]; ok {
				combined.Add(record.Period, key, record.Amount)
			}
		}
		for _, p := range ledgerBases.Periods() {
			combined.Touch(p, key)
		}
	}
	frame := Frame{
		Pools:       pools.Build(),
		Bases:       combined.Build(),
		Projects:    projects.Build(),
		Unmapped:    unmapped.Build(),
		Unallowable: unallowable.Build(),
	}

	warnings = append(warnings, reconcile(frame.Bases, opts.GLBases)...)
	return frame, warnings
}

// reconcile compares GL-derived bases with the project ledger equivalent.
func reconcile(bases series.Table, glBases []GLBase) []string {
	var warnings []string
	ledgerTotals := StandardBases(bases)
	for _, gl := range glBases {
		if gl.Base == constants.BaseDLH || !ledgerTotals.Has(gl.Base) {
			continue
		}
		glTotal := bases.Total(GLBaseKey(gl.Rate))
		ledgerTotal := ledgerTotals.Total(gl.Base)
		if !ledgerTotal.IsPositive() {
			continue
		}
		diff := mathutil.RelativeDifference(glTotal, ledgerTotal)
		if diff > constants.ReconciliationTolerance {
			warnings = append(warnings, fmt.Sprintf(
				"GL-derived %s base for %s (%s) differs from project ledger (%s) by %.1f%%; reconcile GL direct accounts with project direct costs",
				gl.Base, gl.Rate, format.Currency(glTotal), format.Currency(ledgerTotal), diff*100))
		}
	}
	return warnings
}

// derivedBases lists the raw components each derived base sums.
var derivedBases = map[string][]string{
	constants.BaseTL:  {constants.BaseDL},
	constants.BaseTCI: {constants.BaseDL, constants.BaseSubk, constants.BaseODC, constants.BaseTravel},
}

// BaseIncludes reports whether the declared base key sums the raw component
// key: DL enters DL, TL and TCI; Subk, ODC and Travel enter TCI.
func BaseIncludes(base, component string) bool {
	if base == component {
		return true
	}
	for _, c := range derivedBases[base] {
		if c == component {
			return true
		}
	}
	return false
}

// StandardBases adds the derived TL and TCI series to a table of raw base
// components. TL equals DL; TCI is DL + Subk + ODC + Travel before any
// cascading addition. Other series are carried over unchanged.
func StandardBases(components series.Table) series.Table {
	b := components.Edit()
	periods := components.Periods()
	for _, p := range periods {
		for base, parts := range derivedBases {
			b.Set(p, base, components.Sum(p, parts...))
		}
	}
	return b.Build()
}

// Projects lists the distinct project names of a per-project table, sorted.
func Projects(projects series.Table) []string {
	seen := make(map[string]struct{})
	for _, name := range projects.Names() {
		if project, _, ok := SplitProjectKey(name); ok {
			seen[project] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for project := range seen {
		out = append(out, project)
	}
	sort.Strings(out)
	return out
}

// ProjectBases returns one project's component series keyed by base key, with
// TL and TCI derived.
func ProjectBases(projects series.Table, project string) series.Table {
	b := series.NewBuilder()
	for _, name := range projects.Names() {
		owner, key, ok := SplitProjectKey(name)
		if !ok || owner != project {
			continue
		}
		for _, p := range projects.PeriodsOf(name) {
			b.Add(p, key, projects.Get(p, name))
		}
	}
	return StandardBases(b.Build())
}

// LastActual returns the latest period carrying any pool or base actual.
func (f Frame) LastActual() (period.Period, bool) {
	periods := append(f.Pools.Periods(), f.Bases.Periods()...)
	return period.Max(periods)
}

// FirstActual returns the earliest period carrying any pool or base actual.
func (f Frame) FirstActual() (period.Period, bool) {
	periods := append(f.Pools.Periods(), f.Bases.Periods()...)
	return period.Min(periods)
}
