// Package ingest reads the canonical CSV inputs into ledger records. The
// importers upstream own validation and repair; this package only rejects
// input that would otherwise put garbage into financial output.
package ingest

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/iwvelando/indirect-rates/internal/ledger"
	"github.com/iwvelando/indirect-rates/pkg/constants"
	"github.com/iwvelando/indirect-rates/pkg/period"
	"github.com/shopspring/decimal"
)

// ErrMissingColumn is returned when a required CSV column is absent.
var ErrMissingColumn = errors.New("missing required column")

// RowError carries the location of a malformed value.
type RowError struct {
	File   string
	Row    int // 1-based data row, header excluded
	Column string
	Value  string
	Err    error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("%s row %d column %s: invalid value %q: %v", e.File, e.Row, e.Column, e.Value, e.Err)
}

func (e *RowError) Unwrap() error {
	return e.Err
}

// table is a parsed CSV file with header lookup.
type table struct {
	file    string
	columns map[string]int
	header  []string
	rows    [][]string
}

func readTable(file string, r io.Reader) (*table, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", file, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%s: empty file", file)
	}

	header := records[0]
	columns := make(map[string]int, len(header))
	for i, name := range header {
		name = strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))
		header[i] = name
		columns[name] = i
	}
	return &table{file: file, columns: columns, header: header, rows: records[1:]}, nil
}

func (t *table) require(names ...string) error {
	var missing []string
	for _, name := range names {
		if _, ok := t.columns[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%s: %w: %s", t.file, ErrMissingColumn, strings.Join(missing, ", "))
	}
	return nil
}

func (t *table) has(name string) bool {
	_, ok := t.columns[name]
	return ok
}

func (t *table) cell(row []string, name string) string {
	i, ok := t.columns[name]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func (t *table) period(row []string, idx int, name string) (period.Period, error) {
	raw := t.cell(row, name)
	p, err := period.Parse(raw)
	if err != nil {
		return period.Period{}, &RowError{File: t.file, Row: idx + 1, Column: name, Value: raw, Err: err}
	}
	return p, nil
}

// amount parses a required decimal cell.
func (t *table) amount(row []string, idx int, name string) (decimal.Decimal, error) {
	raw := t.cell(row, name)
	d, err := ParseAmount(raw)
	if err != nil {
		return decimal.Zero, &RowError{File: t.file, Row: idx + 1, Column: name, Value: raw, Err: err}
	}
	return d, nil
}

// optionalAmount parses a decimal cell where blank means zero.
func (t *table) optionalAmount(row []string, idx int, name string) (decimal.Decimal, bool, error) {
	raw := t.cell(row, name)
	if raw == "" {
		return decimal.Zero, false, nil
	}
	d, err := t.amount(row, idx, name)
	return d, err == nil, err
}

// ParseAmount parses a dollar or hour amount. Thousands separators and a
// leading dollar sign are tolerated; NaN, infinities and blanks are not.
func ParseAmount(raw string) (decimal.Decimal, error) {
	cleaned := strings.TrimSpace(raw)
	if cleaned == "" {
		return decimal.Zero, fmt.Errorf("empty amount")
	}
	negative := false
	if strings.HasPrefix(cleaned, "(") && strings.HasSuffix(cleaned, ")") {
		negative = true
		cleaned = strings.TrimSuffix(strings.TrimPrefix(cleaned, "("), ")")
	}
	cleaned = strings.ReplaceAll(cleaned, ",", "")
	cleaned = strings.Replace(cleaned, "$", "", 1)
	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, err
	}
	if negative {
		d = d.Neg()
	}
	return d, nil
}

// ParseBool accepts the spellings spreadsheet exports produce for flags.
func ParseBool(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "0", "n", "no", "false", "f":
		return false, nil
	case "1", "y", "yes", "true", "t":
		return true, nil
	}
	return strconv.ParseBool(raw)
}

// ReadActuals reads GL_Actuals.csv. The second return value reports whether the
// optional Entity column was present.
func ReadActuals(r io.Reader) ([]ledger.ActualRecord, bool, error) {
	t, err := readTable(constants.GLActualsFile, r)
	if err != nil {
		return nil, false, err
	}
	if err := t.require(constants.ColPeriod, constants.ColAccount, constants.ColAmount); err != nil {
		return nil, false, err
	}

	records := make([]ledger.ActualRecord, 0, len(t.rows))
	for i, row := range t.rows {
		p, err := t.period(row, i, constants.ColPeriod)
		if err != nil {
			return nil, false, err
		}
		amount, err := t.amount(row, i, constants.ColAmount)
		if err != nil {
			return nil, false, err
		}
		records = append(records, ledger.ActualRecord{
			Period:  p,
			Account: t.cell(row, constants.ColAccount),
			Amount:  amount,
			Entity:  t.cell(row, constants.ColEntity),
		})
	}
	return records, t.has(constants.ColEntity), nil
}

// ReadAccountMap reads Account_Map.csv.
func ReadAccountMap(r io.Reader) ([]ledger.AccountMapping, []string, error) {
	t, err := readTable(constants.AccountMapFile, r)
	if err != nil {
		return nil, nil, err
	}
	if err := t.require(constants.ColAccount, constants.ColPool); err != nil {
		return nil, nil, err
	}

	var warnings []string
	if !t.has(constants.ColIsUnallowable) {
		warnings = append(warnings, fmt.Sprintf("%s has no %s column; treating every account as allowable",
			constants.AccountMapFile, constants.ColIsUnallowable))
	}

	mappings := make([]ledger.AccountMapping, 0, len(t.rows))
	for i, row := range t.rows {
		raw := t.cell(row, constants.ColIsUnallowable)
		unallowable, err := ParseBool(raw)
		if err != nil {
			return nil, nil, &RowError{File: t.file, Row: i + 1, Column: constants.ColIsUnallowable, Value: raw, Err: err}
		}
		account := t.cell(row, constants.ColAccount)
		if account == "" {
			warnings = append(warnings, fmt.Sprintf("%s row %d has no account; skipped", constants.AccountMapFile, i+1))
			continue
		}
		mappings = append(mappings, ledger.AccountMapping{
			Account:       account,
			Pool:          t.cell(row, constants.ColPool),
			BaseCategory:  t.cell(row, constants.ColBaseCategory),
			IsUnallowable: unallowable,
			Notes:         t.cell(row, constants.ColNotes),
		})
	}
	return mappings, warnings, nil
}

// ReadDirectCosts reads Direct_Costs_By_Project.csv. Missing component columns
// default to zero with a warning.
func ReadDirectCosts(r io.Reader) ([]ledger.DirectCostRecord, []string, error) {
	t, err := readTable(constants.DirectCostsFile, r)
	if err != nil {
		return nil, nil, err
	}
	if err := t.require(constants.ColPeriod); err != nil {
		return nil, nil, err
	}

	var warnings []string
	if !t.has(constants.ColProject) {
		warnings = append(warnings, fmt.Sprintf("%s missing %s; defaulting to UNKNOWN", constants.DirectCostsFile, constants.ColProject))
	}
	for _, c := range ledger.Components {
		if !t.has(string(c)) {
			warnings = append(warnings, fmt.Sprintf("%s missing %s; defaulting to zero", constants.DirectCostsFile, c))
		}
	}

	records := make([]ledger.DirectCostRecord, 0, len(t.rows))
	for i, row := range t.rows {
		p, err := t.period(row, i, constants.ColPeriod)
		if err != nil {
			return nil, nil, err
		}
		project := t.cell(row, constants.ColProject)
		if project == "" {
			project = "UNKNOWN"
		}
		values := make(map[ledger.Component]decimal.Decimal, len(ledger.Components))
		for _, c := range ledger.Components {
			v, _, err := t.optionalAmount(row, i, string(c))
			if err != nil {
				return nil, nil, err
			}
			values[c] = v
		}
		records = append(records, ledger.DirectCostRecord{
			Period:         p,
			Project:        project,
			DirectLabor:    values[ledger.DirectLabor],
			DirectLaborHrs: values[ledger.DirectLaborHrs],
			Subk:           values[ledger.Subk],
			ODC:            values[ledger.ODC],
			Travel:         values[ledger.Travel],
		})
	}
	return records, warnings, nil
}

// legacyPoolAliases maps pool suffixes of older event files to pool names that
// cannot appear in a column header.
var legacyPoolAliases = map[string]string{
	"GA": "G&A",
}

// deltaTarget resolves a Delta* column header to its target.
func deltaTarget(column string) (ledger.Target, bool) {
	if strings.HasPrefix(column, constants.DeltaPoolPrefix) {
		name := strings.TrimSpace(strings.TrimPrefix(column, constants.DeltaPoolPrefix))
		if name == "" {
			return ledger.Target{}, false
		}
		if alias, ok := legacyPoolAliases[name]; ok {
			name = alias
		}
		return ledger.Target{Kind: ledger.TargetPool, Name: name}, true
	}
	c, ok := ledger.ParseComponent(strings.TrimPrefix(column, constants.DeltaPrefix))
	if !ok {
		return ledger.Target{}, false
	}
	return ledger.Target{Kind: ledger.TargetComponent, Name: string(c)}, true
}

// ReadScenarioEvents reads Scenario_Events.csv. Each row fans out into one
// event per non-blank, non-zero Delta* cell. The returned scenario list holds
// every scenario named in the file, in order of first appearance.
func ReadScenarioEvents(r io.Reader) ([]ledger.ScenarioEvent, []string, []string, error) {
	t, err := readTable(constants.ScenarioEventsFile, r)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := t.require(constants.ColEffectivePeriod); err != nil {
		return nil, nil, nil, err
	}

	var warnings []string
	type deltaColumn struct {
		name   string
		target ledger.Target
	}
	var deltas []deltaColumn
	for _, name := range t.header {
		if !strings.HasPrefix(name, constants.DeltaPrefix) {
			continue
		}
		target, ok := deltaTarget(name)
		if !ok {
			warnings = append(warnings, fmt.Sprintf("%s column %s is not a known adjustment; ignored", constants.ScenarioEventsFile, name))
			continue
		}
		deltas = append(deltas, deltaColumn{name: name, target: target})
	}

	var events []ledger.ScenarioEvent
	var scenarios []string
	seen := make(map[string]struct{})
	for i, row := range t.rows {
		scenario := t.cell(row, constants.ColScenario)
		if scenario == "" {
			scenario = constants.DefaultScenario
		}
		if _, ok := seen[scenario]; !ok {
			seen[scenario] = struct{}{}
			scenarios = append(scenarios, scenario)
		}

		effective, err := t.period(row, i, constants.ColEffectivePeriod)
		if err != nil {
			return nil, nil, nil, err
		}
		for _, col := range deltas {
			delta, present, err := t.optionalAmount(row, i, col.name)
			if err != nil {
				return nil, nil, nil, err
			}
			if !present || delta.IsZero() {
				continue
			}
			events = append(events, ledger.ScenarioEvent{
				Scenario:        scenario,
				EffectivePeriod: effective,
				Type:            t.cell(row, constants.ColType),
				Project:         t.cell(row, constants.ColProject),
				Target:          col.target,
				Delta:           delta,
				Notes:           t.cell(row, constants.ColNotes),
			})
		}
	}
	return events, scenarios, warnings, nil
}

// ReadReferenceRates reads Reference_Rates.csv (RateType,Rate,Period,Value).
func ReadReferenceRates(r io.Reader) ([]ledger.ReferenceRate, error) {
	t, err := readTable(constants.ReferenceRatesFile, r)
	if err != nil {
		return nil, err
	}
	if err := t.require(constants.ColRateType, constants.ColRate, constants.ColPeriod, constants.ColValue); err != nil {
		return nil, err
	}

	refs := make([]ledger.ReferenceRate, 0, len(t.rows))
	for i, row := range t.rows {
		rateType := strings.ToLower(t.cell(row, constants.ColRateType))
		switch rateType {
		case constants.ReferenceBudget, constants.ReferenceProvisional, constants.ReferenceThreshold:
		default:
			return nil, &RowError{File: t.file, Row: i + 1, Column: constants.ColRateType, Value: rateType,
				Err: fmt.Errorf("expected %s, %s or %s", constants.ReferenceBudget, constants.ReferenceProvisional, constants.ReferenceThreshold)}
		}
		p, err := t.period(row, i, constants.ColPeriod)
		if err != nil {
			return nil, err
		}
		v, err := t.amount(row, i, constants.ColValue)
		if err != nil {
			return nil, err
		}
		refs = append(refs, ledger.ReferenceRate{
			RateType: rateType,
			Rate:     t.cell(row, constants.ColRate),
			Period:   p,
			Value:    v,
		})
	}
	return refs, nil
}

// Opener opens an input file by its canonical name. A missing file is
// reported with an error wrapping fs.ErrNotExist.
type Opener func(name string) (io.ReadCloser, error)

// DirOpener opens input files from a directory.
func DirOpener(dir string) Opener {
	return func(name string) (io.ReadCloser, error) {
		return os.Open(filepath.Join(dir, name))
	}
}

// BytesOpener opens input files held in memory, keyed by canonical name.
func BytesOpener(files map[string][]byte) Opener {
	return func(name string) (io.ReadCloser, error) {
		data, ok := files[name]
		if !ok {
			return nil, fmt.Errorf("%s: %w", name, fs.ErrNotExist)
		}
		return io.NopCloser(bytes.NewReader(data)), nil
	}
}

// ReadDir loads every input file from dir.
func ReadDir(dir string) (ledger.Inputs, []string, error) {
	return Read(DirOpener(dir))
}

// Read loads every input file through open. GL actuals, the account map and
// direct costs are required; scenario events and reference rates are optional.
func Read(open Opener) (ledger.Inputs, []string, error) {
	var inputs ledger.Inputs
	var warnings []string

	err := withFile(open, constants.GLActualsFile, true, func(r io.Reader) error {
		var err error
		inputs.Actuals, inputs.HasEntity, err = ReadActuals(r)
		return err
	})
	if err != nil {
		return inputs, nil, err
	}

	err = withFile(open, constants.AccountMapFile, true, func(r io.Reader) error {
		var w []string
		var err error
		inputs.AccountMap, w, err = ReadAccountMap(r)
		warnings = append(warnings, w...)
		return err
	})
	if err != nil {
		return inputs, nil, err
	}

	err = withFile(open, constants.DirectCostsFile, true, func(r io.Reader) error {
		var w []string
		var err error
		inputs.DirectCosts, w, err = ReadDirectCosts(r)
		warnings = append(warnings, w...)
		return err
	})
	if err != nil {
		return inputs, nil, err
	}

	err = withFile(open, constants.ScenarioEventsFile, false, func(r io.Reader) error {
		var w []string
		var err error
		inputs.Events, inputs.Scenarios, w, err = ReadScenarioEvents(r)
		warnings = append(warnings, w...)
		return err
	})
	if err != nil {
		return inputs, nil, err
	}

	err = withFile(open, constants.ReferenceRatesFile, false, func(r io.Reader) error {
		var err error
		inputs.ReferenceRates, err = ReadReferenceRates(r)
		return err
	})
	if err != nil {
		return inputs, nil, err
	}

	return inputs, warnings, nil
}

func withFile(open Opener, name string, required bool, fn func(io.Reader) error) error {
	f, err := open(name)
	if err != nil {
		if !required && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("missing required input %s: %w", name, err)
	}
	defer func() {
		_ = f.Close()
	}()
	return fn(f)
}
