// Package series provides the (period, name) keyed dollar table every stage of
// the rate pipeline reads and produces. Tables are immutable once built; any
// change goes through a Builder and yields a new Table.
package series

import (
	"slices"

	"github.com/iwvelando/indirect-rates/pkg/period"
	"github.com/shopspring/decimal"
)

// Key identifies one cell.
type Key struct {
	Period period.Period
	Name   string
}

// Table maps (period, name) to a decimal amount.
type Table struct {
	cells map[Key]decimal.Decimal
}

// Builder accumulates cells. Addition on decimals is exact, so the resulting
// totals do not depend on the order rows were added in.
type Builder struct {
	cells map[Key]decimal.Decimal
}

// NewBuilder returns an empty builder.
func NewBuilder() *Builder {
	return &Builder{cells: make(map[Key]decimal.Decimal)}
}

// Add accumulates amount into the (p, name) cell, creating it if needed.
func (b *Builder) Add(p period.Period, name string, amount decimal.Decimal) *Builder {
	k := Key{Period: p, Name: name}
	b.cells[k] = b.cells[k].Add(amount)
	return b
}

// Set overwrites the (p, name) cell.
func (b *Builder) Set(p period.Period, name string, amount decimal.Decimal) *Builder {
	b.cells[Key{Period: p, Name: name}] = amount
	return b
}

// Touch makes sure the (p, name) cell exists without changing its value.
func (b *Builder) Touch(p period.Period, name string) *Builder {
	k := Key{Period: p, Name: name}
	if _, ok := b.cells[k]; !ok {
		b.cells[k] = decimal.Zero
	}
	return b
}

// Merge adds every cell of t into the builder.
func (b *Builder) Merge(t Table) *Builder {
	for k, v := range t.cells {
		b.cells[k] = b.cells[k].Add(v)
	}
	return b
}

// Build freezes the builder into a Table. The builder must not be reused.
func (b *Builder) Build() Table {
	out := Table{cells: b.cells}
	b.cells = nil
	return out
}

// Edit returns a builder seeded with a copy of the table's cells.
func (t Table) Edit() *Builder {
	b := NewBuilder()
	for k, v := range t.cells {
		b.cells[k] = v
	}
	return b
}

// Len returns the number of cells.
func (t Table) Len() int {
	return len(t.cells)
}

// Value returns the (p, name) amount and whether the cell exists.
func (t Table) Value(p period.Period, name string) (decimal.Decimal, bool) {
	v, ok := t.cells[Key{Period: p, Name: name}]
	return v, ok
}

// Get returns the (p, name) amount, zero when the cell is absent.
func (t Table) Get(p period.Period, name string) decimal.Decimal {
	return t.cells[Key{Period: p, Name: name}]
}

// Sum returns the total of the named series in period p.
func (t Table) Sum(p period.Period, names ...string) decimal.Decimal {
	total := decimal.Zero
	for _, name := range names {
		total = total.Add(t.Get(p, name))
	}
	return total
}

// Has reports whether the table has any cell for name.
func (t Table) Has(name string) bool {
	for k := range t.cells {
		if k.Name == name {
			return true
		}
	}
	return false
}

// Names returns the distinct series names, sorted.
func (t Table) Names() []string {
	seen := make(map[string]struct{})
	for k := range t.cells {
		seen[k.Name] = struct{}{}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Periods returns the distinct periods that carry at least one cell, sorted.
func (t Table) Periods() []period.Period {
	seen := make(map[period.Period]struct{})
	for k := range t.cells {
		seen[k.Period] = struct{}{}
	}
	periods := make([]period.Period, 0, len(seen))
	for p := range seen {
		periods = append(periods, p)
	}
	period.Sort(periods)
	return periods
}

// NamesAt returns the sorted names carrying a cell in period p.
func (t Table) NamesAt(p period.Period) []string {
	var names []string
	for k := range t.cells {
		if k.Period == p {
			names = append(names, k.Name)
		}
	}
	slices.Sort(names)
	return names
}

// PeriodsOf returns the sorted periods carrying a cell for name.
func (t Table) PeriodsOf(name string) []period.Period {
	var periods []period.Period
	for k := range t.cells {
		if k.Name == name {
			periods = append(periods, k.Period)
		}
	}
	period.Sort(periods)
	return periods
}

// Equal reports whether both tables have the same cells with equal amounts.
func (t Table) Equal(other Table) bool {
	if len(t.cells) != len(other.cells) {
		return false
	}
	for k, v := range t.cells {
		ov, ok := other.cells[k]
		if !ok || !v.Equal(ov) {
			return false
		}
	}
	return true
}

// Total sums every cell of name across all periods.
func (t Table) Total(name string) decimal.Decimal {
	total := decimal.Zero
	for k, v := range t.cells {
		if k.Name == name {
			total = total.Add(v)
		}
	}
	return total
}

// Rename returns the cells whose name fn accepts, under the name fn returns.
// Cells renamed onto the same key are summed.
func (t Table) Rename(fn func(name string) (string, bool)) Table {
	b := NewBuilder()
	for k, v := range t.cells {
		if name, ok := fn(k.Name); ok {
			b.Add(k.Period, name, v)
		}
	}
	return b.Build()
}
