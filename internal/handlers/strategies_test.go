package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/croptimal/blend-service/internal/blend"
	"github.com/croptimal/blend-service/internal/catalog"
	"github.com/croptimal/blend-service/internal/pricing"
	"github.com/croptimal/blend-service/internal/providers"
)

// setupRouter wires a fresh catalog, static price provider, and ranker into
// the handler globals and returns a router with the internal routes mounted.
func setupRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cat, err := catalog.New([]catalog.Product{
		{
			Code:      "UREA-46",
			Name:      "Urea 46-0-0",
			Category:  catalog.CategoryNitrogen,
			Unit:      "ton",
			Analysis:  catalog.Analysis{N: 920},
			RiskCoeff: 1.2,
		},
		{
			Code:      "MOP-60",
			Name:      "Muriate of Potash",
			Category:  catalog.CategoryPotash,
			Unit:      "ton",
			Analysis:  catalog.Analysis{K: 1200},
			RiskCoeff: 0.9,
		},
	})
	require.NoError(t, err)

	static := providers.NewStaticProvider("static", map[string]float64{
		"UREA-46": 420,
		"MOP-60":  390,
	})
	repo := pricing.NewRepository(pricing.NewMemStore(), []pricing.Provider{static}, pricing.DefaultConfig())

	engine := blend.NewEngine(blend.DefaultConfig())
	ranker := blend.NewRanker(engine, repo, blend.DefaultConfig())

	InitBlend(ranker, cat)
	InitPrices(repo)

	r := gin.New()
	r.POST("/internal/blend/strategies", RankStrategies)
	r.POST("/internal/prices/refresh", RefreshAllPrices)
	r.GET("/internal/prices/:productCode", GetPrice)
	r.POST("/internal/prices/:productCode/refresh", RefreshPrice)
	return r
}

func doJSON(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRankStrategiesSuccess(t *testing.T) {
	r := setupRouter(t)

	w := doJSON(r, http.MethodPost, "/internal/blend/strategies", `{
		"requirements": [{"nutrient": "N", "rate": 150}],
		"acres": 100,
		"productCodes": ["UREA-46"]
	}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var ranking blend.Ranking
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ranking))
	require.NotEmpty(t, ranking.Strategies)
	assert.True(t, ranking.Strategies[0].Recommended)
	assert.True(t, ranking.Strategies[0].Feasible)
	require.Len(t, ranking.Strategies[0].Lines, 1)
	assert.Equal(t, "UREA-46", ranking.Strategies[0].Lines[0].ProductCode)
}

func TestRankStrategiesDefaultsToFullCatalog(t *testing.T) {
	r := setupRouter(t)

	w := doJSON(r, http.MethodPost, "/internal/blend/strategies", `{
		"requirements": [{"nutrient": "N", "rate": 150}, {"nutrient": "K", "rate": 60}],
		"acres": 50
	}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var ranking blend.Ranking
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ranking))
	require.NotEmpty(t, ranking.Strategies)

	codes := make(map[string]bool)
	for _, line := range ranking.Strategies[0].Lines {
		codes[line.ProductCode] = true
	}
	assert.True(t, codes["UREA-46"])
	assert.True(t, codes["MOP-60"])
}

func TestRankStrategiesBindError(t *testing.T) {
	r := setupRouter(t)

	// Missing acres.
	w := doJSON(r, http.MethodPost, "/internal/blend/strategies", `{
		"requirements": [{"nutrient": "N", "rate": 150}]
	}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRankStrategiesUnknownProductCode(t *testing.T) {
	r := setupRouter(t)

	w := doJSON(r, http.MethodPost, "/internal/blend/strategies", `{
		"requirements": [{"nutrient": "N", "rate": 150}],
		"acres": 100,
		"productCodes": ["NOPE-1"]
	}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "NOPE-1")
}

func TestRankStrategiesValidationError(t *testing.T) {
	r := setupRouter(t)

	w := doJSON(r, http.MethodPost, "/internal/blend/strategies", `{
		"requirements": [{"nutrient": "S", "rate": 10}],
		"acres": 100
	}`)
	require.Equal(t, http.StatusBadRequest, w.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "requirements", resp["field"])
}

func TestRankStrategiesUninitialized(t *testing.T) {
	gin.SetMode(gin.TestMode)
	InitBlend(nil, nil)
	t.Cleanup(func() { InitBlend(nil, nil) })

	r := gin.New()
	r.POST("/internal/blend/strategies", RankStrategies)

	w := doJSON(r, http.MethodPost, "/internal/blend/strategies", `{
		"requirements": [{"nutrient": "N", "rate": 150}],
		"acres": 100
	}`)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
