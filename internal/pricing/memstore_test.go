package pricing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func obsAt(code string, price float64, observedAt time.Time) Observation {
	return Observation{
		ProductCode:  code,
		PricePerUnit: price,
		Currency:     "USD",
		ObservedAt:   observedAt,
		Provider:     "static",
	}
}

func TestMemStoreLatestFollowsInserts(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	base := time.Now()

	require.NoError(t, store.Insert(ctx, obsAt("UREA-46", 400, base)))
	require.NoError(t, store.Insert(ctx, obsAt("UREA-46", 420, base.Add(time.Hour))))

	latest, err := store.Latest(ctx, "UREA-46")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, 420.0, latest.PricePerUnit)
	assert.True(t, latest.ObservedAt.Equal(base.Add(time.Hour)))
}

func TestMemStoreLatestMissingProduct(t *testing.T) {
	latest, err := NewMemStore().Latest(context.Background(), "NOPE")
	require.NoError(t, err)
	assert.Nil(t, latest)
}

func TestMemStoreRejectsInvalidObservations(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	now := time.Now()

	tests := []struct {
		name string
		obs  Observation
	}{
		{"empty code", obsAt("", 400, now)},
		{"zero price", obsAt("UREA-46", 0, now)},
		{"negative price", obsAt("UREA-46", -5, now)},
		{"zero timestamp", obsAt("UREA-46", 400, time.Time{})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := store.Insert(ctx, tt.obs)
			var invalid ErrInvalidObservation
			assert.ErrorAs(t, err, &invalid)
		})
	}
}

func TestMemStoreRejectsBackwardsTimestamp(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	base := time.Now()

	require.NoError(t, store.Insert(ctx, obsAt("UREA-46", 400, base)))

	err := store.Insert(ctx, obsAt("UREA-46", 410, base.Add(-time.Minute)))
	var invalid ErrInvalidObservation
	require.ErrorAs(t, err, &invalid)

	// The history is untouched by the rejected insert.
	latest, err := store.Latest(ctx, "UREA-46")
	require.NoError(t, err)
	assert.Equal(t, 400.0, latest.PricePerUnit)
	assert.Len(t, store.History("UREA-46"), 1)
}

func TestMemStoreEqualTimestampAccepted(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	base := time.Now()

	require.NoError(t, store.Insert(ctx, obsAt("UREA-46", 400, base)))
	require.NoError(t, store.Insert(ctx, obsAt("UREA-46", 405, base)))

	latest, err := store.Latest(ctx, "UREA-46")
	require.NoError(t, err)
	assert.Equal(t, 405.0, latest.PricePerUnit)
}

func TestMemStoreLatestBatch(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	base := time.Now()

	require.NoError(t, store.Insert(ctx, obsAt("UREA-46", 420, base)))
	require.NoError(t, store.Insert(ctx, obsAt("MOP-60", 390, base)))

	batch, err := store.LatestBatch(ctx, []string{"UREA-46", "MOP-60", "MISSING"})
	require.NoError(t, err)
	assert.Len(t, batch, 2)
	assert.Equal(t, 420.0, batch["UREA-46"].PricePerUnit)
	assert.Equal(t, 390.0, batch["MOP-60"].PricePerUnit)
	assert.NotContains(t, batch, "MISSING")
}
