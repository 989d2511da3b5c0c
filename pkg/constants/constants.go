// Package constants provides shared constants for the indirect-rates application.
package constants

import "time"

// PeriodLayout is the format expected for periods in CSV inputs and is also the
// output period format.
const PeriodLayout = "2006-01"

// Calendar constants
const (
	// MonthsPerYear is the number of months in a year
	MonthsPerYear = 12

	// DefaultFiscalYearStartMonth is the first month of the fiscal year when
	// the configuration does not set one (October, the federal fiscal year).
	DefaultFiscalYearStartMonth = 10
)

// Run parameter defaults
const (
	// DefaultForecastMonths is the number of months projected past the last actual
	DefaultForecastMonths = 12

	// DefaultRunRateMonths is the trailing window used for run-rate projection
	DefaultRunRateMonths = 3

	// DefaultScenario is the scenario name used for events without one
	DefaultScenario = "Base"

	// RunRateMethod names the projection policy in the assumptions record
	RunRateMethod = "trailing_mean_run_rate"
)

// Input file names
const (
	GLActualsFile      = "GL_Actuals.csv"
	AccountMapFile     = "Account_Map.csv"
	DirectCostsFile    = "Direct_Costs_By_Project.csv"
	ScenarioEventsFile = "Scenario_Events.csv"
	ReferenceRatesFile = "Reference_Rates.csv"
)

// Input column names. These are part of the external contract and must not be
// renamed.
const (
	ColPeriod          = "Period"
	ColAccount         = "Account"
	ColAmount          = "Amount"
	ColEntity          = "Entity"
	ColPool            = "Pool"
	ColBaseCategory    = "BaseCategory"
	ColIsUnallowable   = "IsUnallowable"
	ColNotes           = "Notes"
	ColProject         = "Project"
	ColDirectLabor     = "DirectLabor$"
	ColDirectLaborHrs  = "DirectLaborHrs"
	ColSubk            = "Subk"
	ColODC             = "ODC"
	ColTravel          = "Travel"
	ColScenario        = "Scenario"
	ColEffectivePeriod = "EffectivePeriod"
	ColType            = "Type"
	ColRateType        = "RateType"
	ColRate            = "Rate"
	ColValue           = "Value"

	// DeltaPrefix starts every scenario adjustment column
	DeltaPrefix = "Delta"

	// DeltaPoolPrefix starts every pool adjustment column, e.g. DeltaPoolFringe
	DeltaPoolPrefix = "DeltaPool"
)

// Base keys
const (
	BaseDL     = "DL"
	BaseDLH    = "DLH"
	BaseTL     = "TL"
	BaseTCI    = "TCI"
	BaseSubk   = "Subk"
	BaseODC    = "ODC"
	BaseTravel = "Travel"

	// GLBasePrefix names series summed from an explicit base-account set
	GLBasePrefix = "GL:"
)

// Reference rate types
const (
	ReferenceBudget      = "budget"
	ReferenceProvisional = "provisional"
	ReferenceThreshold   = "threshold"
)

// Output format constants
const (
	// OutputFormatPretty is the human-readable output format
	OutputFormatPretty = "pretty"

	// OutputFormatCSV is the CSV output format
	OutputFormatCSV = "csv"

	// OutputFormatJSON is the machine-readable output format
	OutputFormatJSON = "json"
)

// Configuration file constants
const (
	// DefaultConfigFile is the default configuration file name
	DefaultConfigFile = "config.yaml"

	// ExampleConfigFile is the example configuration file name
	ExampleConfigFile = "config.yaml.example"

	// DefaultServerConfigFile is the default server configuration file name
	DefaultServerConfigFile = "server-config.yaml"
)

// Server configuration defaults
const (
	// DefaultServerAddress is the default HTTP listen address for the API
	DefaultServerAddress = ":8080"

	// DefaultMaxUploadSizeBytes is the default maximum upload size for CSV bundles (32 MB)
	DefaultMaxUploadSizeBytes int64 = 32 * 1024 * 1024

	// DefaultRequestTimeout bounds one forecast request
	DefaultRequestTimeout = 60 * time.Second
)

// Validation constants
const (
	// ReconciliationTolerance is the relative difference between a GL-derived
	// base and the project ledger above which a warning is raised
	ReconciliationTolerance = 0.05

	// RateDivisionPrecision is the number of decimal places kept when dividing
	// pool dollars by base dollars
	RateDivisionPrecision = 16
)
