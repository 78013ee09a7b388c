package blend

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/croptimal/blend-service/internal/catalog"
)

// Engine solves the blend linear program for a single objective weighting.
// It is stateless per call: concurrent Solve invocations share nothing
// mutable, so callers may run weightings in parallel freely.
type Engine struct {
	cfg     *Config
	metrics *MetricsRecorder
	logger  *zerolog.Logger
}

// NewEngine creates a blend engine.
func NewEngine(cfg *Config) *Engine {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	logger := log.With().Str("component", "blend_engine").Logger()
	return &Engine{
		cfg:     cfg,
		metrics: NewMetricsRecorder(),
		logger:  &logger,
	}
}

// Solve finds non-negative purchase rates (units/acre) that deliver the
// required nutrients within budget, minimizing the weighted cost/risk
// objective. Infeasible inputs come back as a Solution with Feasible=false
// and, when one exists, the minimum budget that would have worked.
func (e *Engine) Solve(ctx context.Context, in *Input, w Weights) (*Solution, error) {
	start := time.Now()
	label := objectiveLabel(w)
	outcome := "feasible"
	defer func() {
		e.metrics.RecordSolve(label, outcome, time.Since(start).Seconds())
	}()

	if w.Cost < 0 || w.Env < 0 || w.Cost+w.Env <= 0 {
		outcome = "invalid"
		return nil, ErrInvalidRequest{Field: "weights", Reason: "must be non-negative and not both zero"}
	}

	products := sortedByCode(in.Products)
	required := requiredRates(in.Requirements)

	if len(products) == 0 || len(required) == 0 {
		outcome = "infeasible"
		sol := &Solution{
			Feasible:         false,
			Weights:          w,
			InfeasibleReason: "no priced products or no nutrient requirements",
		}
		return sol, nil
	}

	// MinRate is enforced semi-continuously: an LP lower bound would force
	// every candidate into the blend, so products landing below their
	// practical minimum are dropped and the LP re-solved.
	active := products
	for {
		if err := ctx.Err(); err != nil {
			outcome = "cancelled"
			return nil, err
		}

		x, err := e.solveWeighted(active, required, in.BudgetPerAcre, w)
		if err == errInfeasible {
			outcome = "infeasible"
			return e.infeasibleSolution(products, required, w)
		}
		if err != nil {
			outcome = "error"
			return nil, err
		}

		drop := -1
		for i, p := range active {
			min := p.Product.MinRate
			if min > 0 && x[i] > e.cfg.SolverEps*100 && x[i] < min-e.cfg.SolverEps*100 {
				drop = i
				break
			}
		}
		if drop < 0 {
			return e.buildSolution(active, x, w), nil
		}

		e.logger.Debug().
			Str("product", active[drop].Product.Code).
			Float64("rate", x[drop]).
			Float64("min_rate", active[drop].Product.MinRate).
			Msg("Dropping product below practical minimum rate")
		next := make([]PricedProduct, 0, len(active)-1)
		next = append(next, active[:drop]...)
		next = append(next, active[drop+1:]...)
		active = next

		if len(active) == 0 {
			outcome = "infeasible"
			return e.infeasibleSolution(products, required, w)
		}
	}
}

// solveWeighted runs the weighted LP and the deterministic tie-break passes
// over a fixed product set. The returned rates align with products.
func (e *Engine) solveWeighted(products []PricedProduct, required map[catalog.Nutrient]float64, budget *float64, w Weights) ([]float64, error) {
	n := len(products)
	obj := make([]float64, n)
	for i, p := range products {
		obj[i] = w.Cost*p.PricePerUnit + w.Env*p.Product.RiskCoeff
	}

	base := e.baseConstraints(products, required, budget)

	x, opt, err := e.runLP(obj, base, w)
	if err != nil {
		return nil, err
	}

	// Tie-break 1: fewer distinct non-zero products. Greedily exclude
	// candidates in code order whenever the objective stays within
	// tolerance of optimal.
	bound := e.tieBound(opt)
	excluded := make([]bool, n)
	for changed := true; changed; {
		changed = false
		for i := 0; i < n; i++ {
			if excluded[i] || x[i] <= e.cfg.SolverEps*100 {
				continue
			}
			excluded[i] = true
			trial := withExclusions(base, excluded)
			x2, opt2, err2 := e.runLPQuiet(obj, trial)
			if err2 == nil && opt2 <= bound {
				x = x2
				changed = true
			} else {
				excluded[i] = false
			}
		}
	}

	// Pin every zero column before the later passes: the mass and risk
	// objectives run within tolerance slack of the optimum and must not
	// reintroduce residual rates for products already settled at zero.
	for i := 0; i < n; i++ {
		if x[i] <= e.cfg.SolverEps*100 {
			excluded[i] = true
		}
	}

	cons := withExclusions(base, excluded)
	objBound := constraint{coeffs: obj, op: conLE, rhs: bound}

	// Tie-break 2: lowest total delivered mass, objective held at optimal.
	mass := make([]float64, n)
	for i := range mass {
		mass[i] = 1
	}
	if x2, massOpt, err2 := e.runLPQuiet(mass, append(cloneCons(cons), objBound)); err2 == nil {
		x = x2

		// Tie-break 3: lowest environmental risk, mass also held.
		risk := make([]float64, n)
		for i, p := range products {
			risk[i] = p.Product.RiskCoeff
		}
		massBound := constraint{coeffs: mass, op: conLE, rhs: e.tieBound(massOpt)}
		if x3, _, err3 := e.runLPQuiet(risk, append(cloneCons(cons), objBound, massBound)); err3 == nil {
			x = x3
		}
	}

	return x, nil
}

// baseConstraints builds the nutrient, budget, and max-rate rows.
func (e *Engine) baseConstraints(products []PricedProduct, required map[catalog.Nutrient]float64, budget *float64) []constraint {
	n := len(products)
	var cons []constraint

	for _, nutrient := range catalog.Nutrients {
		rate, ok := required[nutrient]
		if !ok {
			continue
		}
		coeffs := make([]float64, n)
		for i, p := range products {
			coeffs[i] = p.Product.Analysis.Of(nutrient)
		}
		cons = append(cons, constraint{
			coeffs: coeffs,
			op:     conGE,
			rhs:    rate * (1 - e.cfg.DeficitTolerance),
		})
	}

	if budget != nil {
		coeffs := make([]float64, n)
		for i, p := range products {
			coeffs[i] = p.PricePerUnit
		}
		cons = append(cons, constraint{coeffs: coeffs, op: conLE, rhs: *budget})
	}

	for i, p := range products {
		if p.Product.MaxRate > 0 {
			coeffs := make([]float64, n)
			coeffs[i] = 1
			cons = append(cons, constraint{coeffs: coeffs, op: conLE, rhs: p.Product.MaxRate})
		}
	}

	return cons
}

// runLP solves with the configured tolerance, retrying once relaxed on
// iteration blow-up. Non-convergence after the retry is a hard error.
func (e *Engine) runLP(obj []float64, cons []constraint, w Weights) ([]float64, float64, error) {
	x, opt, err := solveLP(obj, cons, e.cfg.SolverMaxIters, e.cfg.SolverEps)
	if err == errIterLimit || err == errUnbounded {
		e.logger.Warn().
			Float64("w_cost", w.Cost).
			Float64("w_env", w.Env).
			Msg("Solver did not converge, retrying with relaxed tolerance")
		x, opt, err = solveLP(obj, cons, e.cfg.SolverMaxIters, e.cfg.RelaxedEps)
	}
	switch err {
	case nil:
		return x, opt, nil
	case errInfeasible:
		return nil, 0, errInfeasible
	default:
		return nil, 0, ErrSolverFailure{Weights: w, Reason: err.Error()}
	}
}

// runLPQuiet solves a tie-break LP; failures there fall back to the
// previous iterate instead of failing the request.
func (e *Engine) runLPQuiet(obj []float64, cons []constraint) ([]float64, float64, error) {
	x, opt, err := solveLP(obj, cons, e.cfg.SolverMaxIters, e.cfg.SolverEps)
	if err == errIterLimit {
		x, opt, err = solveLP(obj, cons, e.cfg.SolverMaxIters, e.cfg.RelaxedEps)
	}
	return x, opt, err
}

// infeasibleSolution computes the minimum budget that would make the
// nutrient targets reachable, by re-minimizing pure cost with the budget
// row dropped. MinRate is enforced the same way Solve enforces it: below-
// minimum products are dropped and the LP re-solved, so the reported
// floor is one an actual blend can hit.
func (e *Engine) infeasibleSolution(products []PricedProduct, required map[catalog.Nutrient]float64, w Weights) (*Solution, error) {
	sol := &Solution{Feasible: false, Weights: w}
	threshold := e.cfg.SolverEps * 100

	active := products
	for {
		price := make([]float64, len(active))
		for i, p := range active {
			price[i] = p.PricePerUnit
		}
		cons := e.baseConstraints(active, required, nil)

		x, minCost, err := e.runLPQuiet(price, cons)
		if err != nil {
			sol.InfeasibleReason = "nutrient targets unreachable with available products"
			return sol, nil
		}

		drop := -1
		for i, p := range active {
			min := p.Product.MinRate
			if min > 0 && x[i] > threshold && x[i] < min-threshold {
				drop = i
				break
			}
		}
		if drop < 0 {
			sol.MinFeasibleBudgetPerAcre = &minCost
			sol.InfeasibleReason = "budget below minimum cost of meeting nutrient targets"
			return sol, nil
		}

		next := make([]PricedProduct, 0, len(active)-1)
		next = append(next, active[:drop]...)
		next = append(next, active[drop+1:]...)
		active = next

		if len(active) == 0 {
			sol.InfeasibleReason = "nutrient targets unreachable with available products"
			return sol, nil
		}
	}
}

// buildSolution assembles the per-acre result from the final LP point.
func (e *Engine) buildSolution(products []PricedProduct, x []float64, w Weights) *Solution {
	sol := &Solution{
		Feasible:   true,
		Quantities: make(map[string]float64),
		Delivered:  make(map[catalog.Nutrient]float64),
		Weights:    w,
	}

	threshold := e.cfg.SolverEps * 100
	for i, p := range products {
		qty := x[i]
		if qty <= threshold {
			continue
		}
		sol.Quantities[p.Product.Code] = qty
		sol.CostPerAcre += p.PricePerUnit * qty
		sol.EnvRisk += p.Product.RiskCoeff * qty
		for _, nutrient := range catalog.Nutrients {
			if content := p.Product.Analysis.Of(nutrient); content > 0 {
				sol.Delivered[nutrient] += content * qty
			}
		}
	}
	return sol
}

// tieBound returns the objective ceiling within which alternate optima are
// treated as ties. The absolute floor keeps zero-cost optima workable.
func (e *Engine) tieBound(opt float64) float64 {
	abs := e.cfg.TieTolerance
	if scaled := opt * e.cfg.TieTolerance; scaled > abs {
		abs = scaled
	}
	return opt + abs
}

func sortedByCode(products []PricedProduct) []PricedProduct {
	out := append([]PricedProduct(nil), products...)
	sort.Slice(out, func(i, j int) bool {
		return out[i].Product.Code < out[j].Product.Code
	})
	return out
}

// requiredRates collapses the requirement list to one positive rate per
// nutrient, keeping the largest when duplicated.
func requiredRates(reqs []Requirement) map[catalog.Nutrient]float64 {
	out := make(map[catalog.Nutrient]float64)
	for _, r := range reqs {
		if r.Rate <= 0 {
			continue
		}
		if r.Rate > out[r.Nutrient] {
			out[r.Nutrient] = r.Rate
		}
	}
	return out
}

// withExclusions appends a qty <= 0 row for each excluded column.
func withExclusions(base []constraint, excluded []bool) []constraint {
	cons := cloneCons(base)
	for i, ex := range excluded {
		if !ex {
			continue
		}
		coeffs := make([]float64, len(excluded))
		coeffs[i] = 1
		cons = append(cons, constraint{coeffs: coeffs, op: conLE, rhs: 0})
	}
	return cons
}

func cloneCons(cons []constraint) []constraint {
	return append([]constraint(nil), cons...)
}

func objectiveLabel(w Weights) string {
	switch {
	case w.Env == 0:
		return "cost"
	case w.Cost == 0:
		return "env"
	default:
		return "balanced"
	}
}
