package blend

import (
	"context"
	"errors"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/croptimal/blend-service/internal/catalog"
	"github.com/croptimal/blend-service/internal/pricing"
)

// PriceResolver is the slice of the price repository the ranker needs.
type PriceResolver interface {
	GetCurrentPrice(ctx context.Context, productCode string) (pricing.Quote, error)
	Refresh(ctx context.Context, productCode string) (*pricing.Observation, error)
}

// Ranker runs the engine under the three canonical objective weightings and
// assembles the labeled, deduplicated, scored strategy set.
type Ranker struct {
	engine  *Engine
	prices  PriceResolver
	scorer  *Scorer
	cfg     *Config
	metrics *MetricsRecorder
	logger  *zerolog.Logger
}

// NewRanker creates a strategy ranker over the given engine and price
// resolver.
func NewRanker(engine *Engine, prices PriceResolver, cfg *Config) *Ranker {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	logger := log.With().Str("component", "strategy_ranker").Logger()
	return &Ranker{
		engine:  engine,
		prices:  prices,
		scorer:  NewScorer(),
		cfg:     cfg,
		metrics: NewMetricsRecorder(),
		logger:  &logger,
	}
}

// Rank produces the ordered strategy set for one request. Invalid input is
// rejected synchronously; provider trouble degrades the catalog (reported
// as exclusions) but never fails the request; infeasibility comes back as
// strategies with Feasible=false.
func (r *Ranker) Rank(ctx context.Context, req *Request) (*Ranking, error) {
	start := time.Now()

	if err := r.validate(req); err != nil {
		return nil, err
	}

	// Price refreshes get their own deadline; once it passes, the ranking
	// proceeds with the best available (possibly stale) prices rather than
	// failing. Availability over accuracy.
	refreshCtx, cancelRefresh := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.RankTimeout)
	defer cancelRefresh()

	priced, exclusions, err := r.resolvePrices(ctx, refreshCtx, req.Products)
	if err != nil {
		return nil, err
	}

	budgetPerAcre := (*float64)(nil)
	if req.Budget != nil {
		perAcre := *req.Budget / req.Acres
		budgetPerAcre = &perAcre
	}
	input := &Input{
		Products:      priced,
		Requirements:  req.Requirements,
		BudgetPerAcre: budgetPerAcre,
	}

	weightings := []struct {
		label string
		w     Weights
	}{
		{LabelCostMinimal, Weights{Cost: 1, Env: 0}},
		{LabelEcoMinimal, Weights{Cost: 0, Env: 1}},
		{LabelBalanced, Weights{Cost: r.cfg.BalancedCostWeight, Env: r.cfg.BalancedEnvWeight}},
	}

	// The engine is stateless, so the weightings solve in parallel.
	// Caller cancellation abandons these solves; shared price flights
	// above were already detached and keep running for other callers.
	solutions := make([]*Solution, len(weightings))
	g, gctx := errgroup.WithContext(ctx)
	for i := range weightings {
		g.Go(func() error {
			sol, err := r.engine.Solve(gctx, input, weightings[i].w)
			if err != nil {
				return err
			}
			solutions[i] = sol
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	priceByCode := make(map[string]PricedProduct, len(priced))
	for _, p := range priced {
		priceByCode[p.Product.Code] = p
	}
	required := requiredRates(req.Requirements)

	var strategies []Strategy
	for i, sol := range solutions {
		if r.duplicateOfAny(sol, solutions[:i]) {
			continue
		}
		strategies = append(strategies, r.buildStrategy(weightings[i].label, sol, req, priceByCode, required))
	}

	r.scorer.Score(strategies, req)
	r.order(strategies, req.Preference)
	if len(strategies) > 0 {
		strategies[0].Recommended = true
	}

	ranking := &Ranking{Strategies: strategies, Exclusions: exclusions}
	r.metrics.RecordRanking(time.Since(start).Seconds(), len(strategies), len(exclusions))
	r.logger.Info().
		Int("strategies", len(strategies)).
		Int("exclusions", len(exclusions)).
		Dur("duration", time.Since(start)).
		Msg("Ranked blend strategies")
	return ranking, nil
}

func (r *Ranker) validate(req *Request) error {
	if req.Acres <= 0 {
		return ErrInvalidRequest{Field: "acres", Reason: "must be positive"}
	}
	if len(req.Requirements) == 0 {
		return ErrInvalidRequest{Field: "requirements", Reason: "must have at least one nutrient requirement"}
	}
	positive := false
	for _, rq := range req.Requirements {
		if !rq.Nutrient.Valid() {
			return ErrInvalidRequest{Field: "requirements", Reason: "unknown nutrient kind " + string(rq.Nutrient)}
		}
		if rq.Rate < 0 {
			return ErrInvalidRequest{Field: "requirements", Reason: "rate cannot be negative"}
		}
		if rq.Rate > 0 {
			positive = true
		}
	}
	if !positive {
		return ErrInvalidRequest{Field: "requirements", Reason: "at least one rate must be positive"}
	}
	if len(req.Products) == 0 {
		return ErrInvalidRequest{Field: "products", Reason: "candidate catalog cannot be empty"}
	}
	if len(req.Products) > r.cfg.MaxProducts {
		return ErrInvalidRequest{Field: "products", Reason: "exceeds maximum candidate catalog size"}
	}
	for i := range req.Products {
		if err := req.Products[i].Validate(); err != nil {
			return ErrInvalidRequest{Field: "products", Reason: err.Error()}
		}
	}
	if req.Budget != nil && *req.Budget < 0 {
		return ErrInvalidRequest{Field: "budget", Reason: "cannot be negative"}
	}
	if req.Preference != "" && req.Preference != PreferenceCost && req.Preference != PreferenceEnvironment {
		return ErrInvalidRequest{Field: "preference", Reason: "must be \"cost\" or \"environment\""}
	}
	if req.CropPrice < 0 {
		return ErrInvalidRequest{Field: "cropPrice", Reason: "cannot be negative"}
	}
	return nil
}

// resolvePrices joins the candidate catalog with current prices. Stale
// quotes trigger an opportunistic refresh bounded by refreshCtx; products
// with nothing usable are excluded, never guessed at.
func (r *Ranker) resolvePrices(ctx, refreshCtx context.Context, products []catalog.Product) ([]PricedProduct, []Exclusion, error) {
	sorted := append([]catalog.Product(nil), products...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Code < sorted[j].Code })

	var priced []PricedProduct
	var exclusions []Exclusion

	for _, product := range sorted {
		quote, err := r.prices.GetCurrentPrice(ctx, product.Code)

		var unavailable pricing.ErrPriceUnavailable
		if errors.As(err, &unavailable) {
			// The refresh budget is shared across all products in the
			// request; once it is spent the rest are excluded outright.
			if cerr := refreshCtx.Err(); cerr != nil {
				exclusions = append(exclusions, exclusionFor(product.Code, unavailable, cerr))
				continue
			}
			obs, rerr := r.prices.Refresh(refreshCtx, product.Code)
			if rerr != nil {
				exclusions = append(exclusions, exclusionFor(product.Code, unavailable, rerr))
				continue
			}
			priced = append(priced, pricedFromObservation(product, obs))
			continue
		}
		if err != nil {
			return nil, nil, err
		}

		if quote.Stale && refreshCtx.Err() == nil {
			if obs, rerr := r.prices.Refresh(refreshCtx, product.Code); rerr == nil {
				priced = append(priced, pricedFromObservation(product, obs))
				continue
			}
			// Refresh failed: the stale value still beats no value.
		}

		priced = append(priced, PricedProduct{
			Product:      product,
			PricePerUnit: quote.PricePerUnit,
			Currency:     quote.Currency,
			Provider:     quote.Provider,
			ObservedAt:   quote.ObservedAt,
			Stale:        quote.Stale,
		})
	}

	return priced, exclusions, nil
}

func exclusionFor(code string, unavailable pricing.ErrPriceUnavailable, refreshErr error) Exclusion {
	ex := Exclusion{
		ProductCode:    code,
		Reason:         ExclusionUnavailable,
		Detail:         refreshErr.Error(),
		LastObservedAt: unavailable.LastObservedAt,
	}
	if unavailable.LastObservedAt != nil {
		ex.Reason = ExclusionStaleCeiling
	}
	return ex
}

func pricedFromObservation(product catalog.Product, obs *pricing.Observation) PricedProduct {
	return PricedProduct{
		Product:      product,
		PricePerUnit: obs.PricePerUnit,
		Currency:     obs.Currency,
		Provider:     obs.Provider,
		ObservedAt:   obs.ObservedAt,
	}
}

// duplicateOfAny reports whether sol converges to the same blend as an
// earlier weighting's solution, within the dedupe tolerance.
func (r *Ranker) duplicateOfAny(sol *Solution, earlier []*Solution) bool {
	for _, other := range earlier {
		if other == nil || sol.Feasible != other.Feasible {
			continue
		}
		if !sol.Feasible {
			if equalBudgetPtr(sol.MinFeasibleBudgetPerAcre, other.MinFeasibleBudgetPerAcre, r.cfg.DedupeTolerance) {
				return true
			}
			continue
		}
		if sameBlend(sol.Quantities, other.Quantities, r.cfg.DedupeTolerance) {
			return true
		}
	}
	return false
}

func sameBlend(a, b map[string]float64, tol float64) bool {
	for code, qty := range a {
		if math.Abs(qty-b[code]) > tol {
			return false
		}
	}
	for code, qty := range b {
		if _, ok := a[code]; !ok && qty > tol {
			return false
		}
	}
	return true
}

func equalBudgetPtr(a, b *float64, tol float64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return math.Abs(*a-*b) <= tol
}

// buildStrategy converts a per-acre Solution into the output Strategy,
// scaling to the field and rounding at this boundary only.
func (r *Ranker) buildStrategy(label string, sol *Solution, req *Request, priced map[string]PricedProduct, required map[catalog.Nutrient]float64) Strategy {
	s := Strategy{
		Label:    label,
		Feasible: sol.Feasible,
		Weights:  sol.Weights,
		EnvRisk:  sol.EnvRisk,
	}

	s.Required = make(map[catalog.Nutrient]float64, len(required))
	for nutrient, rate := range required {
		s.Required[nutrient] = roundRate(rate)
	}

	if !sol.Feasible {
		s.InfeasibleReason = sol.InfeasibleReason
		if sol.MinFeasibleBudgetPerAcre != nil {
			total := roundMoney(*sol.MinFeasibleBudgetPerAcre * req.Acres)
			s.MinFeasibleBudget = &total
		}
		return s
	}

	codes := make([]string, 0, len(sol.Quantities))
	for code := range sol.Quantities {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	for _, code := range codes {
		rate := sol.Quantities[code]
		p := priced[code]
		s.Lines = append(s.Lines, Line{
			ProductCode:  code,
			ProductName:  p.Product.Name,
			Unit:         p.Product.Unit,
			Rate:         roundRate(rate),
			Quantity:     roundRate(rate * req.Acres),
			PricePerUnit: roundMoney(p.PricePerUnit),
			CostPerAcre:  roundMoney(p.PricePerUnit * rate),
			Cost:         roundMoney(p.PricePerUnit * rate * req.Acres),
			Provider:     p.Provider,
			PriceStale:   p.Stale,
		})
	}

	s.CostPerAcre = roundMoney(sol.CostPerAcre)
	s.TotalCost = roundMoney(sol.CostPerAcre * req.Acres)

	s.Delivered = make(map[catalog.Nutrient]float64, len(sol.Delivered))
	for nutrient, lbs := range sol.Delivered {
		s.Delivered[nutrient] = roundRate(lbs)
	}

	return s
}

// order arranges strategies best-first. Cost-minimal leads unless the
// caller asked for environment-first ranking.
func (r *Ranker) order(strategies []Strategy, preference string) {
	lead := LabelCostMinimal
	if preference == PreferenceEnvironment {
		lead = LabelEcoMinimal
	}
	sort.SliceStable(strategies, func(i, j int) bool {
		return strategies[i].Label == lead && strategies[j].Label != lead
	})
}
