package blend

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/croptimal/blend-service/internal/catalog"
	"github.com/croptimal/blend-service/internal/pricing"
)

// fakeResolver is a map-backed PriceResolver for ranker tests.
type fakeResolver struct {
	quotes       map[string]pricing.Quote
	unavailable  map[string]pricing.ErrPriceUnavailable
	refreshObs   map[string]*pricing.Observation
	refreshErr   map[string]error
	refreshCalls map[string]int
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{
		quotes:       make(map[string]pricing.Quote),
		unavailable:  make(map[string]pricing.ErrPriceUnavailable),
		refreshObs:   make(map[string]*pricing.Observation),
		refreshErr:   make(map[string]error),
		refreshCalls: make(map[string]int),
	}
}

func (f *fakeResolver) GetCurrentPrice(_ context.Context, productCode string) (pricing.Quote, error) {
	if unavailable, ok := f.unavailable[productCode]; ok {
		return pricing.Quote{}, unavailable
	}
	if quote, ok := f.quotes[productCode]; ok {
		return quote, nil
	}
	return pricing.Quote{}, pricing.ErrPriceUnavailable{ProductCode: productCode}
}

func (f *fakeResolver) Refresh(_ context.Context, productCode string) (*pricing.Observation, error) {
	f.refreshCalls[productCode]++
	if err, ok := f.refreshErr[productCode]; ok {
		return nil, err
	}
	if obs, ok := f.refreshObs[productCode]; ok {
		return obs, nil
	}
	return nil, pricing.ErrPriceUnavailable{ProductCode: productCode}
}

func freshQuote(code string, price float64) pricing.Quote {
	return pricing.Quote{
		ProductCode:  code,
		PricePerUnit: price,
		Currency:     "USD",
		ObservedAt:   time.Now(),
		Provider:     "static",
	}
}

func testRanker(resolver PriceResolver) *Ranker {
	cfg := DefaultConfig()
	return NewRanker(NewEngine(cfg), resolver, cfg)
}

func nitrogenRequest() *Request {
	return &Request{
		Requirements: []Requirement{{Nutrient: catalog.NutrientN, Rate: 150}},
		Acres:        100,
		Products:     []catalog.Product{testUrea().Product, testAnhydrous().Product},
	}
}

func TestRankCostMinimalRecommendedByDefault(t *testing.T) {
	resolver := newFakeResolver()
	resolver.quotes["UREA-46"] = freshQuote("UREA-46", 420)
	resolver.quotes["ANHYD-82"] = freshQuote("ANHYD-82", 520)

	ranking, err := testRanker(resolver).Rank(context.Background(), nitrogenRequest())
	require.NoError(t, err)
	require.NotEmpty(t, ranking.Strategies)

	first := ranking.Strategies[0]
	assert.Equal(t, LabelCostMinimal, first.Label)
	assert.True(t, first.Recommended)
	require.True(t, first.Feasible)

	// Anhydrous delivers nitrogen cheapest; field totals scale by acres.
	require.Len(t, first.Lines, 1)
	line := first.Lines[0]
	assert.Equal(t, "ANHYD-82", line.ProductCode)
	assert.InDelta(t, 0.1, line.Rate, 1e-9)       // 150/1640 rounded to 0.1
	assert.InDelta(t, 9.1, line.Quantity, 1e-9)   // rate * 100 acres, rounded
	assert.InDelta(t, 47.56, first.CostPerAcre, 1e-9)
	assert.InDelta(t, 4756.10, first.TotalCost, 1e-9)

	for _, s := range ranking.Strategies[1:] {
		assert.False(t, s.Recommended)
	}
	assert.Empty(t, ranking.Exclusions)
}

func TestRankDeduplicatesConvergedWeightings(t *testing.T) {
	resolver := newFakeResolver()
	resolver.quotes["UREA-46"] = freshQuote("UREA-46", 420)
	resolver.quotes["ANHYD-82"] = freshQuote("ANHYD-82", 520)

	ranking, err := testRanker(resolver).Rank(context.Background(), nitrogenRequest())
	require.NoError(t, err)

	// cost_minimal and balanced both converge to anhydrous-only here, so
	// only two distinct strategies survive.
	labels := make(map[string]bool)
	for _, s := range ranking.Strategies {
		assert.False(t, labels[s.Label], "duplicate label %s", s.Label)
		labels[s.Label] = true
	}
	assert.Len(t, ranking.Strategies, 2)
	assert.True(t, labels[LabelCostMinimal])
	assert.True(t, labels[LabelEcoMinimal])
}

func TestRankEnvironmentPreferenceLeadsWithEcoMinimal(t *testing.T) {
	resolver := newFakeResolver()
	resolver.quotes["UREA-46"] = freshQuote("UREA-46", 420)
	resolver.quotes["ANHYD-82"] = freshQuote("ANHYD-82", 520)

	req := nitrogenRequest()
	req.Preference = PreferenceEnvironment

	ranking, err := testRanker(resolver).Rank(context.Background(), req)
	require.NoError(t, err)
	require.NotEmpty(t, ranking.Strategies)
	assert.Equal(t, LabelEcoMinimal, ranking.Strategies[0].Label)
	assert.True(t, ranking.Strategies[0].Recommended)
}

func TestRankInfeasibleBudgetIsResultNotError(t *testing.T) {
	resolver := newFakeResolver()
	resolver.quotes["UREA-46"] = freshQuote("UREA-46", 420)
	resolver.quotes["ANHYD-82"] = freshQuote("ANHYD-82", 520)

	req := nitrogenRequest()
	budget := 4000.0 // minimum is ~$4756 for 100 acres
	req.Budget = &budget

	ranking, err := testRanker(resolver).Rank(context.Background(), req)
	require.NoError(t, err)
	require.NotEmpty(t, ranking.Strategies)

	for _, s := range ranking.Strategies {
		assert.False(t, s.Feasible)
		assert.NotEmpty(t, s.InfeasibleReason)
	}
	require.NotNil(t, ranking.Strategies[0].MinFeasibleBudget)
	assert.InDelta(t, 4756.10, *ranking.Strategies[0].MinFeasibleBudget, 0.01)
}

func TestRankExcludesUnavailableProduct(t *testing.T) {
	resolver := newFakeResolver()
	resolver.quotes["UREA-46"] = freshQuote("UREA-46", 420)
	resolver.unavailable["ANHYD-82"] = pricing.ErrPriceUnavailable{ProductCode: "ANHYD-82"}

	ranking, err := testRanker(resolver).Rank(context.Background(), nitrogenRequest())
	require.NoError(t, err)

	require.Len(t, ranking.Exclusions, 1)
	assert.Equal(t, "ANHYD-82", ranking.Exclusions[0].ProductCode)
	assert.Equal(t, ExclusionUnavailable, ranking.Exclusions[0].Reason)

	// The refresh attempt happened before excluding.
	assert.Equal(t, 1, resolver.refreshCalls["ANHYD-82"])

	// Ranking proceeds on the remaining product.
	require.NotEmpty(t, ranking.Strategies)
	require.True(t, ranking.Strategies[0].Feasible)
	assert.Equal(t, "UREA-46", ranking.Strategies[0].Lines[0].ProductCode)
}

func TestRankExcludesProductPastStaleCeiling(t *testing.T) {
	resolver := newFakeResolver()
	resolver.quotes["UREA-46"] = freshQuote("UREA-46", 420)

	lastSeen := time.Now().Add(-10 * 24 * time.Hour)
	resolver.unavailable["ANHYD-82"] = pricing.ErrPriceUnavailable{
		ProductCode:    "ANHYD-82",
		LastObservedAt: &lastSeen,
	}

	ranking, err := testRanker(resolver).Rank(context.Background(), nitrogenRequest())
	require.NoError(t, err)

	require.Len(t, ranking.Exclusions, 1)
	ex := ranking.Exclusions[0]
	assert.Equal(t, ExclusionStaleCeiling, ex.Reason)
	require.NotNil(t, ex.LastObservedAt)
	assert.True(t, ex.LastObservedAt.Equal(lastSeen))
}

func TestRankRecoversUnavailableProductViaRefresh(t *testing.T) {
	resolver := newFakeResolver()
	resolver.quotes["UREA-46"] = freshQuote("UREA-46", 420)
	resolver.unavailable["ANHYD-82"] = pricing.ErrPriceUnavailable{ProductCode: "ANHYD-82"}
	resolver.refreshObs["ANHYD-82"] = &pricing.Observation{
		ProductCode:  "ANHYD-82",
		PricePerUnit: 520,
		Currency:     "USD",
		ObservedAt:   time.Now(),
		Provider:     "agmarket",
	}

	ranking, err := testRanker(resolver).Rank(context.Background(), nitrogenRequest())
	require.NoError(t, err)

	assert.Empty(t, ranking.Exclusions)
	require.NotEmpty(t, ranking.Strategies)
	assert.Equal(t, "ANHYD-82", ranking.Strategies[0].Lines[0].ProductCode)
	assert.Equal(t, "agmarket", ranking.Strategies[0].Lines[0].Provider)
}

// hangingResolver reports every product unavailable and blocks refreshes
// until the caller's context expires.
type hangingResolver struct {
	refreshCalls atomic.Int64
}

func (h *hangingResolver) GetCurrentPrice(_ context.Context, productCode string) (pricing.Quote, error) {
	return pricing.Quote{}, pricing.ErrPriceUnavailable{ProductCode: productCode}
}

func (h *hangingResolver) Refresh(ctx context.Context, _ string) (*pricing.Observation, error) {
	h.refreshCalls.Add(1)
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestRankRefreshDeadlineSharedAcrossProducts(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RankTimeout = 50 * time.Millisecond
	resolver := &hangingResolver{}
	ranker := NewRanker(NewEngine(cfg), resolver, cfg)

	start := time.Now()
	ranking, err := ranker.Rank(context.Background(), nitrogenRequest())
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)

	// Both products end up excluded. The first refresh consumed the
	// shared deadline, so the second product is excluded without another
	// provider attempt.
	require.Len(t, ranking.Exclusions, 2)
	assert.Equal(t, int64(1), resolver.refreshCalls.Load())
	for _, s := range ranking.Strategies {
		assert.False(t, s.Feasible)
	}
}

func TestRankServesStaleWhenRefreshFails(t *testing.T) {
	resolver := newFakeResolver()
	stale := freshQuote("UREA-46", 420)
	stale.ObservedAt = time.Now().Add(-36 * time.Hour)
	stale.Stale = true
	resolver.quotes["UREA-46"] = stale
	resolver.refreshErr["UREA-46"] = errors.New("provider down")

	req := nitrogenRequest()
	req.Products = []catalog.Product{testUrea().Product}

	ranking, err := testRanker(resolver).Rank(context.Background(), req)
	require.NoError(t, err)

	assert.Empty(t, ranking.Exclusions)
	require.NotEmpty(t, ranking.Strategies)
	require.True(t, ranking.Strategies[0].Feasible)
	assert.True(t, ranking.Strategies[0].Lines[0].PriceStale)
	assert.Equal(t, 1, resolver.refreshCalls["UREA-46"])
}

func TestRankValidation(t *testing.T) {
	resolver := newFakeResolver()
	ranker := testRanker(resolver)

	tests := []struct {
		name  string
		edit  func(*Request)
		field string
	}{
		{"zero acres", func(r *Request) { r.Acres = 0 }, "acres"},
		{"no requirements", func(r *Request) { r.Requirements = nil }, "requirements"},
		{"unknown nutrient", func(r *Request) {
			r.Requirements = []Requirement{{Nutrient: "S", Rate: 20}}
		}, "requirements"},
		{"negative rate", func(r *Request) {
			r.Requirements = []Requirement{{Nutrient: catalog.NutrientN, Rate: -5}}
		}, "requirements"},
		{"all rates zero", func(r *Request) {
			r.Requirements = []Requirement{{Nutrient: catalog.NutrientN, Rate: 0}}
		}, "requirements"},
		{"no products", func(r *Request) { r.Products = nil }, "products"},
		{"negative budget", func(r *Request) {
			budget := -10.0
			r.Budget = &budget
		}, "budget"},
		{"bad preference", func(r *Request) { r.Preference = "cheapest" }, "preference"},
		{"negative crop price", func(r *Request) { r.CropPrice = -3 }, "cropPrice"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := nitrogenRequest()
			tt.edit(req)

			_, err := ranker.Rank(context.Background(), req)
			var invalid ErrInvalidRequest
			require.ErrorAs(t, err, &invalid)
			assert.Equal(t, tt.field, invalid.Field)
			// No provider traffic on rejected requests.
			assert.Empty(t, resolver.refreshCalls)
		})
	}
}

func TestRankRejectsOversizedCatalog(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxProducts = 1
	ranker := NewRanker(NewEngine(cfg), newFakeResolver(), cfg)

	_, err := ranker.Rank(context.Background(), nitrogenRequest())
	var invalid ErrInvalidRequest
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "products", invalid.Field)
}
