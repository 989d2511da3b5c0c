package rates

import (
	"github.com/iwvelando/indirect-rates/internal/aggregate"
	"github.com/iwvelando/indirect-rates/pkg/constants"
	"github.com/iwvelando/indirect-rates/pkg/mathutil"
	"github.com/iwvelando/indirect-rates/pkg/period"
	"github.com/iwvelando/indirect-rates/pkg/series"
	"github.com/shopspring/decimal"
)

// ProjectImpact is the indirect cost a project absorbs in one period.
type ProjectImpact struct {
	Period  period.Period `json:"period"`
	Project string        `json:"project"`

	// Allocated maps rate name to the dollars that rate loads onto the project.
	Allocated map[string]decimal.Decimal `json:"allocated"`

	TCI        decimal.Decimal `json:"tci"`
	LoadedCost decimal.Decimal `json:"loadedCost"`
	Projected  bool            `json:"projected"`
}

// ApplyToProjects loads each project's direct costs with the computed rates.
// A project's base for a rate is its own component total for the declared
// base, plus what the included lower-tier rates allocated to it when the base
// cascades. Undefined rates allocate nothing. Rates with an explicit GL base
// are applied to the project's ledger component of the same base type.
func (c Config) ApplyToProjects(computed []Series, projects series.Table, lastActual period.Period) []ProjectImpact {
	byName := c.byName()
	var impacts []ProjectImpact

	for _, project := range aggregate.Projects(projects) {
		bases := aggregate.ProjectBases(projects, project)
		for _, p := range bases.Periods() {
			exact := make(map[string]decimal.Decimal, len(computed))
			allocated := make(map[string]decimal.Decimal, len(computed))
			total := decimal.Zero

			for _, s := range computed {
				point, ok := s.At(p)
				if !ok || !point.Rate.Valid {
					exact[s.Name] = decimal.Zero
					allocated[s.Name] = decimal.Zero
					continue
				}
				def := byName[s.Name]
				base := bases.Get(p, def.Base)
				for _, ref := range s.Included {
					base = base.Add(exact[ref])
				}
				amount := base.Mul(point.Rate.Decimal)
				exact[s.Name] = amount
				allocated[s.Name] = mathutil.Round(amount)
				total = total.Add(amount)
			}

			tci := bases.Get(p, constants.BaseTCI)
			impacts = append(impacts, ProjectImpact{
				Period:     p,
				Project:    project,
				Allocated:  allocated,
				TCI:        tci,
				LoadedCost: mathutil.Round(tci.Add(total)),
				Projected:  p.After(lastActual),
			})
		}
	}
	return impacts
}
