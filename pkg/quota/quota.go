// Package quota owns the per-tenant plan tiers, the frozen processor price
// table, and the quota check the Admission Service consults before creating
// a new run (spec.md §4.1, §4.8).
package quota

// Plan is a subscription tier name.
type Plan string

const (
	PlanFree Plan = "free"
	PlanPro  Plan = "pro"
	PlanTeam Plan = "team"
)

// Limits is one plan's monthly quota.
type Limits struct {
	MaxRuns      int
	MaxCostCents int
}

// PlanLimits is the frozen plan→limits table. Values are this repo's
// resolution of spec.md §9's Open Question ("what are PLAN_QUOTAS' concrete
// tiers") — see DESIGN.md.
var PlanLimits = map[Plan]Limits{
	PlanFree: {MaxRuns: 100, MaxCostCents: 5_000},
	PlanPro:  {MaxRuns: 5_000, MaxCostCents: 250_000},
	PlanTeam: {MaxRuns: 50_000, MaxCostCents: 2_500_000},
}

// LimitsFor returns the limits for a plan, defaulting to PlanFree's limits
// for an unrecognized or empty plan string.
func LimitsFor(plan Plan) Limits {
	if l, ok := PlanLimits[plan]; ok {
		return l
	}
	return PlanLimits[PlanFree]
}

// PriceTable is the frozen per-processor price in cents (spec.md §4.8).
var PriceTable = map[string]int{
	"asset-fingerprint": 50,
	"image-metadata":    100,
	"ocr-text":          150,
}

// PriceFor returns the price in cents for a processor name, or 0 if unknown.
func PriceFor(processorName string) int {
	return PriceTable[processorName]
}
