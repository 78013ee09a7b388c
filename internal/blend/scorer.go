package blend

import "math"

// Scorer annotates ranked strategies with economic and environmental
// scores. Scoring is strictly additive: blends, costs, and feasibility
// are never altered, so scores can be recomputed or extended without
// touching the optimizer.
type Scorer struct{}

func NewScorer() *Scorer {
	return &Scorer{}
}

// Score fills ROI, BreakevenYield, and EnvImpactIndex in place.
// Infeasible strategies keep zero scores.
func (s *Scorer) Score(strategies []Strategy, req *Request) {
	s.scoreEconomics(strategies, req)
	s.scoreEnvironment(strategies)
}

func (s *Scorer) scoreEconomics(strategies []Strategy, req *Request) {
	for i := range strategies {
		st := &strategies[i]
		if !st.Feasible || st.CostPerAcre <= 0 {
			continue
		}

		if req.YieldResponse != nil {
			revenue := req.YieldResponse(st.Delivered)
			roi := roundMoney((revenue - st.CostPerAcre) / st.CostPerAcre)
			st.ROI = &roi
		}

		if req.CropPrice > 0 {
			breakeven := roundRate(st.CostPerAcre / req.CropPrice)
			st.BreakevenYield = &breakeven
		}
	}
}

// scoreEnvironment min-max normalizes risk across the feasible strategies
// of this run onto [0,1]. The index compares strategies for one field, not
// across requests. A lone feasible strategy scores 0.
func (s *Scorer) scoreEnvironment(strategies []Strategy) {
	minRisk := math.Inf(1)
	maxRisk := math.Inf(-1)
	feasible := 0
	for i := range strategies {
		if !strategies[i].Feasible {
			continue
		}
		feasible++
		minRisk = math.Min(minRisk, strategies[i].EnvRisk)
		maxRisk = math.Max(maxRisk, strategies[i].EnvRisk)
	}
	if feasible == 0 {
		return
	}

	span := maxRisk - minRisk
	for i := range strategies {
		st := &strategies[i]
		if !st.Feasible {
			continue
		}
		if span <= 0 {
			st.EnvImpactIndex = 0
			continue
		}
		st.EnvImpactIndex = (st.EnvRisk - minRisk) / span
	}
}
