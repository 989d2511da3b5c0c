// Package compare joins computed rates against budget, provisional and
// threshold reference rates.
package compare

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/iwvelando/indirect-rates/internal/ledger"
	"github.com/iwvelando/indirect-rates/internal/rates"
	"github.com/iwvelando/indirect-rates/pkg/constants"
	"github.com/iwvelando/indirect-rates/pkg/period"
	"github.com/shopspring/decimal"
)

// Table maps rate name to period to a reference value.
type Table map[string]map[period.Period]decimal.Decimal

// Lookup returns the value for rate in p, null when absent.
func (t Table) Lookup(rate string, p period.Period) decimal.NullDecimal {
	v, ok := t[rate][p]
	return decimal.NullDecimal{Decimal: v, Valid: ok}
}

func (t Table) set(rate string, p period.Period, v decimal.Decimal) {
	if t[rate] == nil {
		t[rate] = make(map[period.Period]decimal.Decimal)
	}
	t[rate][p] = v
}

// References holds the three reference series.
type References struct {
	Budget      Table `json:"budget"`
	Provisional Table `json:"provisional"`
	Threshold   Table `json:"threshold"`
}

// NewReferences indexes reference rows by type. A repeated (type, rate,
// period) keeps the last value with a warning.
func NewReferences(rows []ledger.ReferenceRate) (References, []string) {
	refs := References{Budget: Table{}, Provisional: Table{}, Threshold: Table{}}
	var warnings []string
	for _, row := range rows {
		var t Table
		switch strings.ToLower(row.RateType) {
		case constants.ReferenceBudget:
			t = refs.Budget
		case constants.ReferenceProvisional:
			t = refs.Provisional
		case constants.ReferenceThreshold:
			t = refs.Threshold
		default:
			warnings = append(warnings, fmt.Sprintf("unknown reference rate type %q for %s; ignored", row.RateType, row.Rate))
			continue
		}
		if _, dup := t[row.Rate][row.Period]; dup {
			warnings = append(warnings, fmt.Sprintf("duplicate %s reference for %s in %s; last value wins",
				strings.ToLower(row.RateType), row.Rate, row.Period))
		}
		t.set(row.Rate, row.Period, row.Value)
	}
	return refs, warnings
}

// MarshalJSON renders a Table keyed by rate then period string.
func (t Table) MarshalJSON() ([]byte, error) {
	out := make(map[string]map[string]decimal.Decimal, len(t))
	for name, values := range t {
		byPeriod := make(map[string]decimal.Decimal, len(values))
		for p, v := range values {
			byPeriod[p.String()] = v
		}
		out[name] = byPeriod
	}
	return json.Marshal(out)
}

// RateRecord is one (rate, period) comparison row.
type RateRecord struct {
	Period   period.Period       `json:"period"`
	RateName string              `json:"rateName"`
	Actual   decimal.NullDecimal `json:"actual"`
	YTD      decimal.NullDecimal `json:"ytd"`

	Budget      decimal.NullDecimal `json:"budget"`
	Provisional decimal.NullDecimal `json:"provisional"`
	Threshold   decimal.NullDecimal `json:"threshold"`

	// Variance is Actual - Budget; positive means over budget.
	Variance decimal.NullDecimal `json:"variance"`

	// ProvisionalVariance is Actual - Provisional.
	ProvisionalVariance decimal.NullDecimal `json:"provisionalVariance"`

	ThresholdBreached bool `json:"thresholdBreached"`
	Projected         bool `json:"projected"`
}

// Compare builds one record per rate and period. Absent references leave
// their fields null; an undefined actual rate leaves every variance null and
// never breaches.
func Compare(computed []rates.Series, refs References) ([]RateRecord, []string) {
	var records []RateRecord
	var missing []string
	for _, s := range computed {
		hasBudget := false
		for _, point := range s.Points {
			r := RateRecord{
				Period:      point.Period,
				RateName:    s.Name,
				Actual:      point.Rate,
				YTD:         point.YTD,
				Budget:      refs.Budget.Lookup(s.Name, point.Period),
				Provisional: refs.Provisional.Lookup(s.Name, point.Period),
				Threshold:   refs.Threshold.Lookup(s.Name, point.Period),
				Projected:   point.Projected,
			}
			hasBudget = hasBudget || r.Budget.Valid
			if r.Actual.Valid {
				r.Variance = difference(r.Actual, r.Budget)
				r.ProvisionalVariance = difference(r.Actual, r.Provisional)
				r.ThresholdBreached = r.Threshold.Valid && r.Actual.Decimal.GreaterThan(r.Threshold.Decimal)
			}
			records = append(records, r)
		}
		if !hasBudget && len(refs.Budget) > 0 {
			missing = append(missing, s.Name)
		}
	}

	var warnings []string
	if len(missing) > 0 {
		warnings = append(warnings, fmt.Sprintf("no budget rates for %s", strings.Join(missing, ", ")))
	}
	return records, warnings
}

func difference(a, b decimal.NullDecimal) decimal.NullDecimal {
	if !a.Valid || !b.Valid {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(a.Decimal.Sub(b.Decimal))
}

// Breaches returns the records whose actual rate exceeds its threshold.
func Breaches(records []RateRecord) []RateRecord {
	var out []RateRecord
	for _, r := range records {
		if r.ThresholdBreached {
			out = append(out, r)
		}
	}
	return out
}
