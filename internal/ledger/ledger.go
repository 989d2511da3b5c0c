// Package ledger defines the immutable input records of a rate run: GL
// actuals, the account map, direct project costs, scenario events and
// reference rates. Records are built once by the importer and never mutated.
package ledger

import (
	"github.com/iwvelando/indirect-rates/pkg/constants"
	"github.com/iwvelando/indirect-rates/pkg/period"
	"github.com/shopspring/decimal"
)

// ActualRecord is one GL_Actuals.csv row. Amount is cost-positive.
type ActualRecord struct {
	Period  period.Period
	Account string
	Amount  decimal.Decimal
	Entity  string
}

// AccountMapping is one Account_Map.csv row.
type AccountMapping struct {
	Account       string
	Pool          string
	BaseCategory  string
	IsUnallowable bool
	Notes         string
}

// Component names a raw direct-cost column.
type Component string

// Direct cost components, named by their CSV columns.
const (
	DirectLabor    Component = constants.ColDirectLabor
	DirectLaborHrs Component = constants.ColDirectLaborHrs
	Subk           Component = constants.ColSubk
	ODC            Component = constants.ColODC
	Travel         Component = constants.ColTravel
)

// Components lists every direct-cost component in CSV column order.
var Components = []Component{DirectLabor, DirectLaborHrs, Subk, ODC, Travel}

// BaseKey returns the base-series name a component aggregates into.
func (c Component) BaseKey() string {
	switch c {
	case DirectLabor:
		return constants.BaseDL
	case DirectLaborHrs:
		return constants.BaseDLH
	case Subk:
		return constants.BaseSubk
	case ODC:
		return constants.BaseODC
	case Travel:
		return constants.BaseTravel
	default:
		return string(c)
	}
}

// ParseComponent resolves a CSV column name to a component.
func ParseComponent(s string) (Component, bool) {
	for _, c := range Components {
		if string(c) == s {
			return c, true
		}
	}
	return "", false
}

// DirectCostRecord is one Direct_Costs_By_Project.csv row.
type DirectCostRecord struct {
	Period         period.Period
	Project        string
	DirectLabor    decimal.Decimal
	DirectLaborHrs decimal.Decimal
	Subk           decimal.Decimal
	ODC            decimal.Decimal
	Travel         decimal.Decimal
}

// Amount returns the value of the given component.
func (r DirectCostRecord) Amount(c Component) decimal.Decimal {
	switch c {
	case DirectLabor:
		return r.DirectLabor
	case DirectLaborHrs:
		return r.DirectLaborHrs
	case Subk:
		return r.Subk
	case ODC:
		return r.ODC
	case Travel:
		return r.Travel
	default:
		return decimal.Zero
	}
}

// TargetKind tells whether a scenario event adjusts a pool or a direct component.
type TargetKind string

const (
	TargetPool      TargetKind = "pool"
	TargetComponent TargetKind = "component"
)

// Target is the series a scenario event adjusts.
type Target struct {
	Kind TargetKind
	Name string // pool name, or component column name
}

func (t Target) String() string {
	return string(t.Kind) + ":" + t.Name
}

// ScenarioEvent is one persistent, period-effective dollar adjustment.
type ScenarioEvent struct {
	Scenario        string
	EffectivePeriod period.Period
	Type            string
	Project         string
	Target          Target
	Delta           decimal.Decimal
	Notes           string
}

// ReferenceRate is one stored budget, provisional or threshold rate value.
type ReferenceRate struct {
	RateType string
	Rate     string
	Period   period.Period
	Value    decimal.Decimal
}

// Inputs bundles every record of a run.
type Inputs struct {
	Actuals        []ActualRecord
	AccountMap     []AccountMapping
	DirectCosts    []DirectCostRecord
	Events         []ScenarioEvent
	ReferenceRates []ReferenceRate

	// Scenarios lists the scenario names declared in the events file in order
	// of first appearance, including scenarios whose rows carry no deltas.
	Scenarios []string

	// HasEntity reports whether the GL actuals carried an Entity column.
	HasEntity bool
}
