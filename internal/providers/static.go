package providers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/croptimal/blend-service/internal/pricing"
)

// StaticProvider serves prices from a fixed in-memory table with a fixed
// clock. It is fully deterministic: the required mock provider for tests,
// and the CLI fallback when no external source is configured.
type StaticProvider struct {
	mu     sync.RWMutex
	slug   string
	prices map[string]float64
	clock  func() time.Time
}

// NewStaticProvider creates a static provider over the given price table.
func NewStaticProvider(slug string, prices map[string]float64) *StaticProvider {
	table := make(map[string]float64, len(prices))
	for code, price := range prices {
		table[code] = price
	}
	return &StaticProvider{
		slug:   slug,
		prices: table,
		clock:  time.Now,
	}
}

// WithClock fixes the provider's observation timestamp source.
func (p *StaticProvider) WithClock(clock func() time.Time) *StaticProvider {
	p.clock = clock
	return p
}

// Slug returns the provider identifier.
func (p *StaticProvider) Slug() string {
	return p.slug
}

// SetPrice updates one entry in the price table.
func (p *StaticProvider) SetPrice(productCode string, price float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prices[productCode] = price
}

// FetchPrice returns the table price for the product, or an error when the
// product is unknown.
func (p *StaticProvider) FetchPrice(ctx context.Context, productCode string) (*pricing.Quote, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.RLock()
	price, ok := p.prices[productCode]
	p.mu.RUnlock()

	if !ok {
		return nil, &pricing.ProviderError{
			Provider:    p.slug,
			ProductCode: productCode,
			Err:         fmt.Errorf("product not listed"),
		}
	}

	return &pricing.Quote{
		ProductCode:  productCode,
		PricePerUnit: price,
		Currency:     "USD",
		ObservedAt:   p.clock(),
		Provider:     p.slug,
	}, nil
}
