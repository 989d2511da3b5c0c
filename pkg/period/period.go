// Package period provides the canonical year-month value used to index every
// series, along with ordering, month arithmetic and fiscal-year bucketing.
package period

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/iwvelando/indirect-rates/pkg/constants"
)

// Layout is the format expected for periods and is also the output format.
const Layout = constants.PeriodLayout

// dateLayout is accepted on input so importers that emit full dates still parse.
const dateLayout = "2006-01-02"

// Period is a calendar month. The zero value is not a valid period.
type Period struct {
	Year  int
	Month time.Month
}

// New returns the period for the given year and month.
func New(year int, month time.Month) Period {
	return Period{Year: year, Month: month}
}

// Parse parses a YYYY-MM (or YYYY-MM-DD) string. Anything else is rejected so
// malformed periods never reach financial output.
func Parse(s string) (Period, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return Period{}, fmt.Errorf("empty period")
	}
	layout := Layout
	if len(trimmed) == len(dateLayout) {
		layout = dateLayout
	}
	t, err := time.Parse(layout, trimmed)
	if err != nil {
		return Period{}, fmt.Errorf("invalid period %q, expected YYYY-MM: %w", s, err)
	}
	return Period{Year: t.Year(), Month: t.Month()}, nil
}

// MustParse parses a period and panics on error.
// This is intended for use in tests where the period string is known to be valid.
func MustParse(s string) Period {
	p, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return p
}

// IsZero reports whether p is the zero value.
func (p Period) IsZero() bool {
	return p.Year == 0 && p.Month == 0
}

// String formats the period as YYYY-MM.
func (p Period) String() string {
	return fmt.Sprintf("%04d-%02d", p.Year, int(p.Month))
}

// MarshalText implements encoding.TextMarshaler so periods can key JSON maps.
func (p Period) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Period) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

func (p Period) index() int {
	return p.Year*constants.MonthsPerYear + int(p.Month) - 1
}

func fromIndex(i int) Period {
	year := i / constants.MonthsPerYear
	month := i % constants.MonthsPerYear
	if month < 0 {
		month += constants.MonthsPerYear
		year--
	}
	return Period{Year: year, Month: time.Month(month + 1)}
}

// Compare returns -1, 0 or +1 depending on whether p is before, equal to or
// after other.
func (p Period) Compare(other Period) int {
	a, b := p.index(), other.index()
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// Before reports whether p is strictly before other.
func (p Period) Before(other Period) bool {
	return p.index() < other.index()
}

// After reports whether p is strictly after other.
func (p Period) After(other Period) bool {
	return p.index() > other.index()
}

// AddMonths returns the period offset by the given number of months.
func (p Period) AddMonths(months int) Period {
	return fromIndex(p.index() + months)
}

// Next returns the following month.
func (p Period) Next() Period {
	return p.AddMonths(1)
}

// MonthsUntil returns the number of months from p to other (negative when
// other is earlier).
func (p Period) MonthsUntil(other Period) int {
	return other.index() - p.index()
}

// FiscalYear returns the fiscal-year label for a fiscal year starting in
// startMonth. A fiscal year is labelled by the calendar year in which it ends,
// so with startMonth=10, 2025-10 belongs to FY2026.
func (p Period) FiscalYear(startMonth time.Month) int {
	if startMonth <= time.January || startMonth > time.December {
		return p.Year
	}
	if p.Month >= startMonth {
		return p.Year + 1
	}
	return p.Year
}

// FiscalYearStart returns the first period of the fiscal year containing p.
func (p Period) FiscalYearStart(startMonth time.Month) Period {
	if startMonth < time.January || startMonth > time.December {
		startMonth = time.January
	}
	if p.Month >= startMonth {
		return Period{Year: p.Year, Month: startMonth}
	}
	return Period{Year: p.Year - 1, Month: startMonth}
}

// SameFiscalYear reports whether both periods fall in the same fiscal year.
func SameFiscalYear(a, b Period, startMonth time.Month) bool {
	return a.FiscalYearStart(startMonth) == b.FiscalYearStart(startMonth)
}

// Range returns every period from start through end inclusive. An empty slice
// is returned when end is before start.
func Range(start, end Period) []Period {
	n := start.MonthsUntil(end) + 1
	if n <= 0 {
		return nil
	}
	out := make([]Period, n)
	for i := range out {
		out[i] = start.AddMonths(i)
	}
	return out
}

// Sort sorts periods ascending in place.
func Sort(periods []Period) {
	slices.SortFunc(periods, Period.Compare)
}

// Min returns the earliest period, or false for an empty slice.
func Min(periods []Period) (Period, bool) {
	if len(periods) == 0 {
		return Period{}, false
	}
	out := periods[0]
	for _, p := range periods[1:] {
		if p.Before(out) {
			out = p
		}
	}
	return out, true
}

// Max returns the latest period, or false for an empty slice.
func Max(periods []Period) (Period, bool) {
	if len(periods) == 0 {
		return Period{}, false
	}
	out := periods[0]
	for _, p := range periods[1:] {
		if p.After(out) {
			out = p
		}
	}
	return out, true
}
