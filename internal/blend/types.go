package blend

import (
	"fmt"
	"time"

	"github.com/croptimal/blend-service/internal/catalog"
)

// Weights parameterizes one objective: minimize
// Cost*totalCost + Env*totalEnvironmentalRisk. The solver is pure and
// stateless in everything but these weights, which is what makes the
// per-weighting runs safe to parallelize.
type Weights struct {
	Cost float64 `json:"cost"`
	Env  float64 `json:"env"`
}

// Requirement is one per-acre nutrient target, produced by an external
// agronomic calculation. Only numeric sanity is checked here.
type Requirement struct {
	Nutrient catalog.Nutrient `json:"nutrient"`
	Rate     float64          `json:"rate"` // lbs/acre
}

// PricedProduct is a catalog product joined with its resolved current price.
type PricedProduct struct {
	Product      catalog.Product `json:"product"`
	PricePerUnit float64         `json:"pricePerUnit"`
	Currency     string          `json:"currency"`
	Provider     string          `json:"provider"`
	ObservedAt   time.Time       `json:"observedAt"`
	Stale        bool            `json:"stale"`
}

// Input is one engine invocation: priced candidates, per-acre requirements,
// and an optional per-acre budget.
type Input struct {
	Products      []PricedProduct
	Requirements  []Requirement
	BudgetPerAcre *float64
}

// Solution is the engine's per-acre answer for a single objective weighting.
// Infeasibility is a first-class outcome, not an error.
type Solution struct {
	Feasible bool

	// Quantities maps product code to purchase rate in units/acre.
	// Only nonzero entries are present.
	Quantities map[string]float64

	CostPerAcre float64
	EnvRisk     float64
	Delivered   map[catalog.Nutrient]float64

	Weights Weights

	// MinFeasibleBudgetPerAcre is set on infeasible solutions when a budget
	// exists that would make the problem feasible.
	MinFeasibleBudgetPerAcre *float64
	InfeasibleReason         string
}

// Exclusion reasons reported on every ranking response.
const (
	ExclusionUnavailable  = "unavailable"
	ExclusionStaleCeiling = "stale_ceiling"
)

// Exclusion records a product removed from the candidate catalog before
// optimization, so recommendations stay auditable.
type Exclusion struct {
	ProductCode    string     `json:"productCode"`
	Reason         string     `json:"reason"`
	Detail         string     `json:"detail,omitempty"`
	LastObservedAt *time.Time `json:"lastObservedAt,omitempty"`
}

// Request is a full strategy-ranking request.
type Request struct {
	Requirements []Requirement     `json:"requirements"`
	Acres        float64           `json:"acres"`
	Budget       *float64          `json:"budget,omitempty"` // total for the field
	Products     []catalog.Product `json:"products"`

	// Preference orders the response: "cost" (default) or "environment".
	Preference string `json:"preference,omitempty"`

	// CropPrice is the expected sale price per yield unit, used for
	// breakeven yield. Zero disables breakeven reporting.
	CropPrice float64 `json:"cropPrice,omitempty"`

	// YieldResponse converts delivered nutrients (lbs/acre) into expected
	// revenue per acre. Injected by the caller; never owned by this core.
	YieldResponse YieldFunc `json:"-"`
}

// YieldFunc is an externally supplied yield-response curve returning
// expected revenue per acre for a nutrient delivery vector.
type YieldFunc func(delivered map[catalog.Nutrient]float64) float64

// Preference values.
const (
	PreferenceCost        = "cost"
	PreferenceEnvironment = "environment"
)

// Strategy labels, in canonical solve order.
const (
	LabelCostMinimal = "cost_minimal"
	LabelEcoMinimal  = "eco_minimal"
	LabelBalanced    = "balanced"
)

// Line is one purchased product within a strategy.
type Line struct {
	ProductCode  string  `json:"productCode"`
	ProductName  string  `json:"productName"`
	Unit         string  `json:"unit"`
	Rate         float64 `json:"rate"`     // units/acre
	Quantity     float64 `json:"quantity"` // units for the whole field
	PricePerUnit float64 `json:"pricePerUnit"`
	CostPerAcre  float64 `json:"costPerAcre"`
	Cost         float64 `json:"cost"` // for the whole field
	Provider     string  `json:"provider"`
	PriceStale   bool    `json:"priceStale"`
}

// Strategy is one labeled purchasing strategy in a ranking response.
type Strategy struct {
	Label       string  `json:"label"`
	Recommended bool    `json:"recommended"`
	Feasible    bool    `json:"feasible"`
	Weights     Weights `json:"weights"`

	Lines       []Line  `json:"lines,omitempty"`
	CostPerAcre float64 `json:"costPerAcre"`
	TotalCost   float64 `json:"totalCost"`

	Delivered map[catalog.Nutrient]float64 `json:"delivered,omitempty"` // lbs/acre
	Required  map[catalog.Nutrient]float64 `json:"required,omitempty"`  // lbs/acre

	// Infeasible strategies report the minimum total budget that would have
	// worked, when one exists.
	MinFeasibleBudget *float64 `json:"minFeasibleBudget,omitempty"`
	InfeasibleReason  string   `json:"infeasibleReason,omitempty"`

	ROI            *float64 `json:"roi,omitempty"`
	BreakevenYield *float64 `json:"breakevenYield,omitempty"`
	EnvRisk        float64  `json:"envRisk"`
	EnvImpactIndex float64  `json:"envImpactIndex"`
}

// Ranking is the ordered strategy set for one request, best first.
type Ranking struct {
	Strategies []Strategy  `json:"strategies"`
	Exclusions []Exclusion `json:"exclusions,omitempty"`
}

// ErrInvalidRequest is returned when a ranking request fails validation.
// Rejection happens synchronously at the request boundary, before any
// price resolution or solving.
type ErrInvalidRequest struct {
	Field  string
	Reason string
}

func (e ErrInvalidRequest) Error() string {
	return e.Field + ": " + e.Reason
}

// ErrSolverFailure indicates numerical non-convergence that survived the
// relaxed-tolerance retry. It points at a data problem, not a business
// outcome, and is surfaced as a hard error.
type ErrSolverFailure struct {
	Weights Weights
	Reason  string
}

func (e ErrSolverFailure) Error() string {
	return fmt.Sprintf("solver failed (cost=%g env=%g): %s", e.Weights.Cost, e.Weights.Env, e.Reason)
}
