package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/croptimal/blend-service/internal/httpx"
	"github.com/croptimal/blend-service/internal/httpx/ratelimit"
	"github.com/croptimal/blend-service/internal/pricing"
)

// AgMarketConfig configures the agricultural market data API adapter.
type AgMarketConfig struct {
	BaseURL string
	APIKey  string

	// RateLimit overrides the default outbound rate limit when set.
	RateLimit *ratelimit.PartialConfig
}

// AgMarketProvider fetches quotes from an agricultural commodity price API
// over the rate-limited retrying HTTP client.
type AgMarketProvider struct {
	cfg    AgMarketConfig
	client *httpx.Client
}

// agMarketQuote is the provider's wire format.
type agMarketQuote struct {
	ProductCode string  `json:"product_code"`
	Price       float64 `json:"price"`
	Currency    string  `json:"currency"`
	Timestamp   string  `json:"timestamp"`
}

// NewAgMarketProvider creates an adapter for the given API endpoint.
func NewAgMarketProvider(cfg AgMarketConfig) *AgMarketProvider {
	rlConfig := ratelimit.DefaultConfig()
	if cfg.RateLimit != nil {
		rlConfig = ratelimit.WithOverrides(*cfg.RateLimit)
	}
	return &AgMarketProvider{
		cfg:    cfg,
		client: httpx.NewClient(rlConfig),
	}
}

// Slug returns the provider identifier.
func (p *AgMarketProvider) Slug() string {
	return "agmarket"
}

// FetchPrice fetches the current quote for a product code.
func (p *AgMarketProvider) FetchPrice(ctx context.Context, productCode string) (*pricing.Quote, error) {
	endpoint := fmt.Sprintf("%s/v1/prices/%s", p.cfg.BaseURL, url.PathEscape(productCode))
	if p.cfg.APIKey != "" {
		endpoint += "?api_key=" + url.QueryEscape(p.cfg.APIKey)
	}

	data, err := p.client.GetBytes(ctx, endpoint)
	if err != nil {
		return nil, &pricing.ProviderError{Provider: p.Slug(), ProductCode: productCode, Err: err}
	}

	var wire agMarketQuote
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, &pricing.ProviderError{
			Provider:    p.Slug(),
			ProductCode: productCode,
			Err:         fmt.Errorf("malformed response: %w", err),
		}
	}

	if wire.Price <= 0 {
		return nil, &pricing.ProviderError{
			Provider:    p.Slug(),
			ProductCode: productCode,
			Err:         fmt.Errorf("non-positive price %v", wire.Price),
		}
	}

	observedAt := time.Now()
	if wire.Timestamp != "" {
		if ts, err := time.Parse(time.RFC3339, wire.Timestamp); err == nil {
			observedAt = ts
		}
	}

	return &pricing.Quote{
		ProductCode:  productCode,
		PricePerUnit: wire.Price,
		Currency:     wire.Currency,
		ObservedAt:   observedAt,
		Provider:     p.Slug(),
	}, nil
}
