package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/croptimal/blend-service/internal/pricing"
)

// ============================================================================
// Price Endpoints
// ============================================================================

// Global price repository (initialized by the application)
var priceRepository *pricing.Repository

// InitPrices initializes the price handlers.
// This should be called during application startup.
func InitPrices(repo *pricing.Repository) {
	priceRepository = repo
}

// RefreshAllRequest represents the batch refresh request
type RefreshAllRequest struct {
	// Category restricts the refresh to one product category; empty means
	// the whole catalog.
	Category string `json:"category,omitempty"`
}

// GetPrice returns the current quote for a product
// GET /internal/prices/:productCode
func GetPrice(c *gin.Context) {
	if priceRepository == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Price repository not initialized"})
		return
	}

	productCode := c.Param("productCode")
	quote, err := priceRepository.GetCurrentPrice(c.Request.Context(), productCode)
	if err != nil {
		var unavailable pricing.ErrPriceUnavailable
		if errors.As(err, &unavailable) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":          unavailable.Error(),
				"productCode":    unavailable.ProductCode,
				"lastObservedAt": unavailable.LastObservedAt,
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, quote)
}

// RefreshPrice forces a provider refresh for one product
// POST /internal/prices/:productCode/refresh
func RefreshPrice(c *gin.Context) {
	if priceRepository == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Price repository not initialized"})
		return
	}

	productCode := c.Param("productCode")
	obs, err := priceRepository.Refresh(c.Request.Context(), productCode)
	if err != nil {
		var unavailable pricing.ErrPriceUnavailable
		if errors.As(err, &unavailable) {
			c.JSON(http.StatusBadGateway, gin.H{
				"error":       unavailable.Error(),
				"productCode": unavailable.ProductCode,
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, obs)
}

// RefreshAllPrices refreshes every catalog product, optionally filtered by
// category
// POST /internal/prices/refresh
func RefreshAllPrices(c *gin.Context) {
	if priceRepository == nil || productCatalog == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Price repository not initialized"})
		return
	}

	var req RefreshAllRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	codes := productCatalog.Codes()
	if req.Category != "" {
		filtered := productCatalog.FilterCategory(req.Category)
		if len(filtered) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "no products in category " + req.Category})
			return
		}
		codes = codes[:0]
		for _, p := range filtered {
			codes = append(codes, p.Code)
		}
	}

	summary := priceRepository.RefreshAll(c.Request.Context(), codes)
	c.JSON(http.StatusOK, summary)
}
