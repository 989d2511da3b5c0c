package report

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/iwvelando/indirect-rates/internal/compare"
	"github.com/iwvelando/indirect-rates/internal/rates"
	"github.com/iwvelando/indirect-rates/pkg/period"
	"github.com/iwvelando/indirect-rates/pkg/series"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	jan = period.MustParse("2025-01")
	feb = period.MustParse("2025-02")
)

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func testOutput(scenario string) Output {
	fringe := rates.Series{
		Name: "Fringe",
		Base: "DL",
		Points: []rates.Point{
			{Period: jan, Pool: d("100000"), Base: d("50000"), Rate: decimal.NewNullDecimal(d("2")), YTD: decimal.NewNullDecimal(d("2"))},
			{Period: feb, Pool: d("100000"), Base: d("0"), YTD: decimal.NewNullDecimal(d("4")), Projected: true},
		},
	}
	refs, _ := compare.NewReferences(nil)
	records, _ := compare.Compare([]rates.Series{fringe}, refs)

	return Assemble(Parts{
		Scenario:    scenario,
		Assumptions: Assumptions{RunRateMonths: 3, ForecastMonths: 1, FiscalYearStartMonth: 10, LastActualPeriod: jan},
		Timeline:    []period.Period{jan, feb},
		LastActual:  jan,
		Pools:       series.NewBuilder().Set(jan, "Fringe", d("100000")).Set(feb, "Fringe", d("100000")).Build(),
		Bases:       series.NewBuilder().Set(jan, "DL", d("50000")).Set(feb, "DL", d("0")).Build(),
		Unallowable: series.NewBuilder().Set(jan, "Unallowable", d("1234.5")).Build(),
		Unmapped:    series.NewBuilder().Build(),
		Series:      []rates.Series{fringe},
		Comparison:  records,
		ProjectImpacts: []rates.ProjectImpact{{
			Period: jan, Project: "P1", TCI: d("50000"),
			Allocated:  map[string]decimal.Decimal{"Fringe": d("100000")},
			LoadedCost: d("150000"),
		}},
		Warnings: []string{"a", "b", "a"},
	})
}

func TestAssemble(t *testing.T) {
	out := testOutput("Base")

	assert.Equal(t, "Base", out.Assumptions.Scenario)
	assert.Equal(t, []string{"a", "b"}, out.Warnings)
	assert.Equal(t, []period.Period{jan, feb}, out.Pools.Periods())
	assert.Equal(t, out.Pools.Periods(), out.Bases.Periods())
	assert.Equal(t, out.Pools.Periods(), out.Rates.Periods())

	col, ok := out.Rates.Column("Fringe")
	require.True(t, ok)
	assert.True(t, col[0].Decimal.Equal(d("2")))
	assert.False(t, col[1].Valid, "zero base leaves the rate undefined")
	assert.True(t, out.Rates.Rows[1].Projected)

	// Disclosure tables only cover actual periods.
	assert.Len(t, out.Unallowable.Rows, 1)
	_, ok = out.Rates.Column("Overhead")
	assert.False(t, ok)
}

func TestAssembleMarksRunRateFilledRows(t *testing.T) {
	mar := period.MustParse("2025-03")
	fringe := rates.Series{
		Name: "Fringe",
		Points: []rates.Point{
			{Period: jan, Rate: decimal.NewNullDecimal(d("0.2"))},
			{Period: feb, Rate: decimal.NewNullDecimal(d("0.2")), Projected: true},
			{Period: mar, Rate: decimal.NewNullDecimal(d("0.2"))},
		},
	}
	pools := series.NewBuilder()
	for _, p := range []period.Period{jan, feb, mar} {
		pools.Set(p, "Fringe", d("100"))
	}

	out := Assemble(Parts{
		Scenario:    "Base",
		Timeline:    []period.Period{jan, feb, mar},
		LastActual:  mar,
		Pools:       pools.Build(),
		Bases:       series.NewBuilder().Build(),
		FilledPools: series.NewBuilder().Set(feb, "Fringe", d("100")).Build(),
		Series:      []rates.Series{fringe},
	})

	for i, want := range []bool{false, true, false} {
		assert.Equal(t, want, out.Pools.Rows[i].Projected, "pools row %d", i)
		assert.Equal(t, want, out.Rates.Rows[i].Projected, "rates row %d", i)
	}
}

func TestWritePretty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WritePretty(&buf, []Output{testOutput("Base"), testOutput("Win")}))
	output := buf.String()

	for _, want := range []string{
		"--- Results for scenario Base ---",
		"--- Results for scenario Win ---",
		"Rate Fringe (base DL, cascade order 0)",
		"$100,000.00",
		"200.00%",
		"n/a",
		"projected",
		"Unallowable: $1,234.50",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("WritePretty output missing %q", want)
		}
	}
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, []Output{testOutput("Base"), testOutput("Win")}))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 5)
	assert.Equal(t, rateHeader, rows[0])
	assert.Equal(t, []string{"Base", "Fringe", "2025-01", "100000", "50000", "2", "2", "", "", "", "", "", "false", "false"}, rows[1])
	assert.Equal(t, "", rows[2][5], "undefined rate is blank")
	assert.Equal(t, "Win", rows[3][0])
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, []Output{testOutput("Base")}))

	var decoded []map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	require.Len(t, decoded, 1)
	assert.Equal(t, "Base", decoded[0]["scenario"])
	assumptions := decoded[0]["assumptions"].(map[string]any)
	assert.Equal(t, "2025-01", assumptions["lastActualPeriod"])
	assert.EqualValues(t, 3, assumptions["runRateMonths"])
}

func TestWritePack(t *testing.T) {
	dir := t.TempDir()
	written, err := WritePack(dir, []Output{testOutput("Win/Big"), testOutput("Base")})
	require.NoError(t, err)
	assert.Len(t, written, 12)

	for _, name := range []string{"rates.csv", "pools.csv", "bases.csv", "project_impacts.csv", "assumptions.json"} {
		assert.FileExists(t, filepath.Join(dir, "Win_Big", name))
		assert.FileExists(t, filepath.Join(dir, "Base", name))
	}

	raw, err := os.ReadFile(filepath.Join(dir, "assumptions.json"))
	require.NoError(t, err)
	var a Assumptions
	require.NoError(t, json.Unmarshal(raw, &a))
	assert.Equal(t, "Base", a.Scenario)

	impacts, err := os.ReadFile(filepath.Join(dir, "Base", "project_impacts.csv"))
	require.NoError(t, err)
	assert.Contains(t, string(impacts), "Period,Project,TCI$,Fringe$,LoadedCost$,Projected")
	assert.Contains(t, string(impacts), "2025-01,P1,50000,100000,150000,false")
}

func TestSafeName(t *testing.T) {
	assert.Equal(t, "Win_Big", SafeName("Win/Big"))
	assert.Equal(t, "scenario", SafeName("///"))
	assert.Equal(t, "G_A", SafeName("G&A"))
}
