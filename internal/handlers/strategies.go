package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/croptimal/blend-service/internal/blend"
	"github.com/croptimal/blend-service/internal/catalog"
)

// ============================================================================
// Blend Strategy Endpoints
// ============================================================================

// NutrientRequirement is one per-acre nutrient target in a strategy request.
type NutrientRequirement struct {
	Nutrient string  `json:"nutrient" binding:"required"`
	Rate     float64 `json:"rate" binding:"min=0"`
}

// StrategiesRequest represents the strategy ranking request
type StrategiesRequest struct {
	Requirements []NutrientRequirement `json:"requirements" binding:"required,min=1,dive"`
	Acres        float64               `json:"acres" binding:"required,gt=0"`
	Budget       *float64              `json:"budget,omitempty"`

	// ProductCodes restricts the candidate catalog; empty means every
	// loaded product.
	ProductCodes []string `json:"productCodes,omitempty"`

	Preference string  `json:"preference,omitempty"`
	CropPrice  float64 `json:"cropPrice,omitempty"`
}

// Global instances (initialized by the application)
var (
	strategyRanker *blend.Ranker
	productCatalog *catalog.Catalog
)

// InitBlend initializes the strategy handlers.
// This should be called during application startup.
func InitBlend(ranker *blend.Ranker, cat *catalog.Catalog) {
	strategyRanker = ranker
	productCatalog = cat
}

// RankStrategies handles blend strategy ranking
// POST /internal/blend/strategies
func RankStrategies(c *gin.Context) {
	var req StrategiesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if strategyRanker == nil || productCatalog == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Blend engine not initialized"})
		return
	}

	products, err := candidateProducts(req.ProductCodes)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	blendReq := &blend.Request{
		Requirements: make([]blend.Requirement, len(req.Requirements)),
		Acres:        req.Acres,
		Budget:       req.Budget,
		Products:     products,
		Preference:   req.Preference,
		CropPrice:    req.CropPrice,
	}
	for i, r := range req.Requirements {
		blendReq.Requirements[i] = blend.Requirement{
			Nutrient: catalog.Nutrient(r.Nutrient),
			Rate:     r.Rate,
		}
	}

	ranking, err := strategyRanker.Rank(c.Request.Context(), blendReq)
	if err != nil {
		var invalid blend.ErrInvalidRequest
		if errors.As(err, &invalid) {
			c.JSON(http.StatusBadRequest, gin.H{"error": invalid.Error(), "field": invalid.Field})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, ranking)
}

// candidateProducts resolves the requested product codes against the loaded
// catalog, defaulting to the full catalog.
func candidateProducts(codes []string) ([]catalog.Product, error) {
	if len(codes) == 0 {
		return productCatalog.Products(), nil
	}
	products := make([]catalog.Product, 0, len(codes))
	for _, code := range codes {
		product, ok := productCatalog.Get(code)
		if !ok {
			return nil, errors.New("unknown product code " + code)
		}
		products = append(products, product)
	}
	return products, nil
}
