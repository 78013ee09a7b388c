package providers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/croptimal/blend-service/internal/pricing"
)

func TestStaticProviderDeterministic(t *testing.T) {
	fixed := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	provider := NewStaticProvider("static", map[string]float64{"UREA-46": 420}).
		WithClock(func() time.Time { return fixed })

	for i := 0; i < 5; i++ {
		quote, err := provider.FetchPrice(context.Background(), "UREA-46")
		require.NoError(t, err)
		assert.Equal(t, 420.0, quote.PricePerUnit)
		assert.Equal(t, "USD", quote.Currency)
		assert.Equal(t, "static", quote.Provider)
		assert.True(t, quote.ObservedAt.Equal(fixed))
	}
}

func TestStaticProviderUnknownProduct(t *testing.T) {
	provider := NewStaticProvider("static", nil)

	_, err := provider.FetchPrice(context.Background(), "NOPE")
	var perr *pricing.ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "static", perr.Provider)
	assert.Equal(t, "NOPE", perr.ProductCode)
}

func TestStaticProviderSetPrice(t *testing.T) {
	provider := NewStaticProvider("static", map[string]float64{"UREA-46": 420})
	provider.SetPrice("UREA-46", 435)

	quote, err := provider.FetchPrice(context.Background(), "UREA-46")
	require.NoError(t, err)
	assert.Equal(t, 435.0, quote.PricePerUnit)
}

func TestStaticProviderHonorsCancellation(t *testing.T) {
	provider := NewStaticProvider("static", map[string]float64{"UREA-46": 420})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := provider.FetchPrice(ctx, "UREA-46")
	assert.True(t, errors.Is(err, context.Canceled))
}
