// Package synth generates a synthetic but internally consistent input set for
// demonstrations and load tests.
package synth

import (
	"encoding/csv"
	"fmt"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strconv"

	"github.com/iwvelando/indirect-rates/internal/ledger"
	"github.com/iwvelando/indirect-rates/pkg/constants"
	"github.com/iwvelando/indirect-rates/pkg/mathutil"
	"github.com/iwvelando/indirect-rates/pkg/period"
	"github.com/shopspring/decimal"
	"gonum.org/v1/gonum/stat/distuv"
)

// Options controls the generated dataset.
type Options struct {
	Start    period.Period
	Months   int
	Projects int
	Seed     uint64
}

// Accounts of the generated chart.
const (
	FringeAccount      = "6000"
	OverheadAccount    = "6100"
	GAAccount          = "6200"
	UnallowableAccount = "6999"
)

// Pool loadings applied to the generated bases.
const (
	fringeLoading   = 0.28
	overheadLoading = 0.55
	gaLoading       = 0.12
)

type generator struct {
	src rand.Source

	// err holds the first non-finite amount produced.
	err error
}

// normal draws one sample from N(mu, sigma).
func (g *generator) normal(mu, sigma float64) float64 {
	return distuv.Normal{Mu: mu, Sigma: sigma, Src: g.src}.Rand()
}

// money rounds v to cents. A NaN or infinite v records an error and yields zero.
func (g *generator) money(v float64) decimal.Decimal {
	amount, ok := mathutil.FromFloat(v)
	if !ok {
		if g.err == nil {
			g.err = fmt.Errorf("generated a non-finite amount %v", v)
		}
		return decimal.Zero
	}
	return amount.Round(2)
}

// Generate builds the dataset. The same options always produce the same inputs.
func Generate(opts Options) (ledger.Inputs, error) {
	if opts.Months < 1 {
		return ledger.Inputs{}, fmt.Errorf("months must be at least 1, got %d", opts.Months)
	}
	if opts.Projects < 2 {
		return ledger.Inputs{}, fmt.Errorf("at least 2 projects are needed for the Win and Lose scenarios, got %d", opts.Projects)
	}
	if opts.Start.IsZero() {
		return ledger.Inputs{}, fmt.Errorf("start period is required")
	}

	g := &generator{src: rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15)}
	periods := period.Range(opts.Start, opts.Start.AddMonths(opts.Months-1))
	projects := make([]string, opts.Projects)
	for i := range projects {
		projects[i] = fmt.Sprintf("P%03d", i+1)
	}

	inputs := ledger.Inputs{
		AccountMap: []ledger.AccountMapping{
			{Account: FringeAccount, Pool: "Fringe", BaseCategory: constants.BaseTL, Notes: "Benefits/Fringe"},
			{Account: OverheadAccount, Pool: "Overhead", BaseCategory: constants.BaseDL, Notes: "Indirect ops"},
			{Account: GAAccount, Pool: "G&A", BaseCategory: constants.BaseTCI, Notes: "Admin"},
			{Account: UnallowableAccount, Pool: "Unallowable", IsUnallowable: true, Notes: "Unallowables"},
		},
	}

	for _, p := range periods {
		season := 1 + 0.08*math.Sin(float64(p.Month-1)/12*2*math.Pi)
		var dl, tci float64
		for _, project := range projects {
			labor := math.Max(g.normal(250_000, 35_000)*season, 50_000)
			hours := labor / g.normal(110, 10)
			subk := math.Max(g.normal(60_000, 15_000), 0)
			odc := math.Max(g.normal(20_000, 5_000), 0)
			travel := math.Max(g.normal(10_000, 4_000), 0)
			dl += labor
			tci += labor + subk + odc + travel

			inputs.DirectCosts = append(inputs.DirectCosts, ledger.DirectCostRecord{
				Period:         p,
				Project:        project,
				DirectLabor:    g.money(labor),
				DirectLaborHrs: g.money(hours),
				Subk:           g.money(subk),
				ODC:            g.money(odc),
				Travel:         g.money(travel),
			})
		}

		inputs.Actuals = append(inputs.Actuals,
			ledger.ActualRecord{Period: p, Account: FringeAccount, Amount: g.money(dl*fringeLoading + g.normal(0, 12_000))},
			ledger.ActualRecord{Period: p, Account: OverheadAccount, Amount: g.money(dl*overheadLoading + g.normal(0, 18_000))},
			ledger.ActualRecord{Period: p, Account: GAAccount, Amount: g.money(tci*gaLoading + g.normal(0, 10_000))},
			ledger.ActualRecord{Period: p, Account: UnallowableAccount, Amount: g.money(g.normal(4_000, 1_000))},
		)
	}

	effective := periods[len(periods)*6/10]
	inputs.Scenarios = []string{constants.DefaultScenario, "Win", "Lose"}
	inputs.Events = append(inputs.Events,
		events("Win", effective, "WIN", projects[0], "New award adds base with small pool lift", map[string]int64{
			string(ledger.DirectLabor): 90_000, string(ledger.DirectLaborHrs): 800, string(ledger.Subk): 25_000,
			string(ledger.ODC): 8_000, string(ledger.Travel): 3_000,
			"Fringe": 4_000, "Overhead": 6_000, "G&A": 2_000,
		})...)
	inputs.Events = append(inputs.Events,
		events("Lose", effective, "LOSE", projects[1], "Loss reduces base while pools stay", map[string]int64{
			string(ledger.DirectLabor): -110_000, string(ledger.DirectLaborHrs): -900, string(ledger.Subk): -30_000,
			string(ledger.ODC): -10_000, string(ledger.Travel): -4_000,
		})...)
	if g.err != nil {
		return ledger.Inputs{}, g.err
	}
	return inputs, nil
}

// eventOrder fixes the fan-out order of one event row.
var eventOrder = []string{
	string(ledger.DirectLabor), string(ledger.DirectLaborHrs), string(ledger.Subk),
	string(ledger.ODC), string(ledger.Travel), "Fringe", "Overhead", "G&A",
}

func events(scenario string, effective period.Period, kind, project, notes string, deltas map[string]int64) []ledger.ScenarioEvent {
	var out []ledger.ScenarioEvent
	for _, name := range eventOrder {
		delta, ok := deltas[name]
		if !ok {
			continue
		}
		target := ledger.Target{Kind: ledger.TargetPool, Name: name}
		if _, isComponent := ledger.ParseComponent(name); isComponent {
			target.Kind = ledger.TargetComponent
		}
		out = append(out, ledger.ScenarioEvent{
			Scenario:        scenario,
			EffectivePeriod: effective,
			Type:            kind,
			Project:         project,
			Target:          target,
			Delta:           decimal.NewFromInt(delta),
			Notes:           notes,
		})
	}
	return out
}

// Write stores inputs as the canonical CSV files under dir and returns the
// paths written.
func Write(dir string, inputs ledger.Inputs) ([]string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	files := []struct {
		name    string
		records [][]string
	}{
		{constants.DirectCostsFile, directCostRecords(inputs)},
		{constants.AccountMapFile, accountMapRecords(inputs)},
		{constants.GLActualsFile, actualRecords(inputs)},
		{constants.ScenarioEventsFile, eventRecords(inputs)},
	}

	var written []string
	for _, f := range files {
		path := filepath.Join(dir, f.name)
		if err := writeCSV(path, f.records); err != nil {
			return written, err
		}
		written = append(written, path)
	}
	return written, nil
}

func writeCSV(path string, records [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	w := csv.NewWriter(f)
	if err := w.WriteAll(records); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}

func directCostRecords(inputs ledger.Inputs) [][]string {
	records := [][]string{{
		constants.ColPeriod, constants.ColProject, constants.ColDirectLabor, constants.ColDirectLaborHrs,
		constants.ColSubk, constants.ColODC, constants.ColTravel,
	}}
	for _, r := range inputs.DirectCosts {
		records = append(records, []string{
			r.Period.String(), r.Project, r.DirectLabor.StringFixed(2), r.DirectLaborHrs.StringFixed(2),
			r.Subk.StringFixed(2), r.ODC.StringFixed(2), r.Travel.StringFixed(2),
		})
	}
	return records
}

func accountMapRecords(inputs ledger.Inputs) [][]string {
	records := [][]string{{
		constants.ColAccount, constants.ColPool, constants.ColBaseCategory, constants.ColIsUnallowable, constants.ColNotes,
	}}
	for _, m := range inputs.AccountMap {
		records = append(records, []string{m.Account, m.Pool, m.BaseCategory, strconv.FormatBool(m.IsUnallowable), m.Notes})
	}
	return records
}

func actualRecords(inputs ledger.Inputs) [][]string {
	records := [][]string{{constants.ColPeriod, constants.ColAccount, constants.ColAmount}}
	for _, r := range inputs.Actuals {
		records = append(records, []string{r.Period.String(), r.Account, r.Amount.StringFixed(2)})
	}
	return records
}

// poolColumns names the pool adjustment column of each generated pool.
var poolColumns = map[string]string{
	"Fringe":   constants.DeltaPoolPrefix + "Fringe",
	"Overhead": constants.DeltaPoolPrefix + "Overhead",
	"G&A":      constants.DeltaPoolPrefix + "GA",
}

// eventRecords writes one row per scenario. Scenarios without events keep a
// row so they are still declared.
func eventRecords(inputs ledger.Inputs) [][]string {
	header := []string{constants.ColScenario, constants.ColEffectivePeriod, constants.ColType, constants.ColProject}
	column := make(map[string]int)
	for _, name := range eventOrder {
		col := constants.DeltaPrefix + name
		if pool, ok := poolColumns[name]; ok {
			col = pool
		}
		column[name] = len(header)
		header = append(header, col)
	}
	notesCol := len(header)
	header = append(header, constants.ColNotes)

	records := [][]string{header}
	rows := make(map[string][]string)
	for _, e := range inputs.Events {
		row, ok := rows[e.Scenario]
		if !ok {
			row = make([]string, len(header))
			row[0], row[1], row[2], row[3], row[notesCol] = e.Scenario, e.EffectivePeriod.String(), e.Type, e.Project, e.Notes
			rows[e.Scenario] = row
		}
		row[column[e.Target.Name]] = e.Delta.String()
	}

	var effective string
	if len(inputs.Events) > 0 {
		effective = inputs.Events[0].EffectivePeriod.String()
	}
	for _, scenario := range inputs.Scenarios {
		row, ok := rows[scenario]
		if !ok {
			row = make([]string, len(header))
			row[0], row[1], row[2], row[notesCol] = scenario, effective, "ADJUST", "No changes"
		}
		records = append(records, row)
	}
	return records
}
