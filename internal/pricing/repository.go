package pricing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"
)

// Repository serves current prices from the observation store and
// coordinates refreshes across providers. It is the only shared mutable
// state in the service; all access is safe for concurrent use.
type Repository struct {
	store     ObservationStore
	providers []Provider
	cfg       *Config
	sf        flightGroup

	metrics *MetricsRecorder
	logger  *zerolog.Logger

	// now is swappable in tests; everything time-based flows through it.
	now func() time.Time
}

// flightGroup coalesces concurrent refreshes of the same product.
// We use a custom type instead of golang.org/x/sync/singleflight so the
// provider call can run detached: one caller cancelling must not fail
// the flight for everyone attached to it. Each caller waits on its own
// context, so a cancelled caller leaves early while the flight finishes
// and persists its result.
type flightGroup struct {
	mu    sync.Mutex
	calls map[string]*flightCall
}

type flightCall struct {
	done chan struct{}
	obs  *Observation
	err  error
}

// NewRepository creates a price repository over the given store and
// provider chain. Providers are tried in slice order; order them by
// priority when wiring.
func NewRepository(store ObservationStore, providers []Provider, cfg *Config) *Repository {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	logger := log.With().Str("component", "price_repository").Logger()

	return &Repository{
		store:     store,
		providers: providers,
		cfg:       cfg,
		metrics:   NewMetricsRecorder(),
		logger:    &logger,
		now:       time.Now,
	}
}

// GetCurrentPrice returns the freshest observation for a product as a Quote.
// Quotes older than the freshness window are returned with Stale set rather
// than blocking on provider I/O; observations older than the unavailable
// ceiling yield ErrPriceUnavailable and the product must be excluded from
// optimization.
func (r *Repository) GetCurrentPrice(ctx context.Context, productCode string) (Quote, error) {
	obs, err := r.store.Latest(ctx, productCode)
	if err != nil {
		return Quote{}, fmt.Errorf("failed to read latest observation: %w", err)
	}
	if obs == nil {
		r.metrics.RecordUnavailable()
		return Quote{}, ErrPriceUnavailable{ProductCode: productCode}
	}

	age := r.now().Sub(obs.ObservedAt)
	if age > r.cfg.UnavailableCeiling {
		r.metrics.RecordUnavailable()
		observedAt := obs.ObservedAt
		return Quote{}, ErrPriceUnavailable{ProductCode: productCode, LastObservedAt: &observedAt}
	}

	q := Quote{
		ProductCode:  obs.ProductCode,
		PricePerUnit: obs.PricePerUnit,
		Currency:     obs.Currency,
		ObservedAt:   obs.ObservedAt,
		Provider:     obs.Provider,
		Stale:        age > r.cfg.FreshnessWindow,
	}
	if q.Stale {
		r.metrics.RecordStaleServed()
	}
	return q, nil
}

// Refresh fetches a fresh price for one product, persisting and returning
// the new observation. At most one refresh per product runs at a time;
// concurrent callers attach to the in-flight result instead of issuing
// duplicate provider calls. Waiting is bounded by ctx: when it expires the
// caller gets ctx.Err() while the flight keeps running to completion.
func (r *Repository) Refresh(ctx context.Context, productCode string) (*Observation, error) {
	obs, err, shared := r.sf.do(ctx, productCode, func() (*Observation, error) {
		return r.refreshLocked(productCode)
	})
	if shared {
		r.metrics.RecordSharedFlight()
	}
	return obs, err
}

// refreshLocked performs the actual provider walk. It runs inside the
// single-flight call on a detached context so the shared result survives
// individual caller cancellation.
func (r *Repository) refreshLocked(productCode string) (*Observation, error) {
	var attempts []ProviderAttempt

	for _, p := range r.providers {
		fetchCtx, cancel := context.WithTimeout(context.Background(), r.cfg.ProviderTimeout)
		start := r.now()
		quote, err := p.FetchPrice(fetchCtx, productCode)
		cancel()
		elapsed := r.now().Sub(start).Seconds()

		if err != nil {
			// Timed out or failed providers are skipped, not retried,
			// within the same refresh call.
			r.metrics.RecordFetch(p.Slug(), "error", elapsed)
			r.logger.Warn().
				Err(err).
				Str("provider", p.Slug()).
				Str("product", productCode).
				Msg("Provider fetch failed")
			attempts = append(attempts, ProviderAttempt{Provider: p.Slug(), Err: err.Error()})
			continue
		}

		if quote == nil || quote.PricePerUnit <= 0 {
			r.metrics.RecordFetch(p.Slug(), "malformed", elapsed)
			r.logger.Warn().
				Str("provider", p.Slug()).
				Str("product", productCode).
				Msg("Provider returned malformed quote")
			attempts = append(attempts, ProviderAttempt{Provider: p.Slug(), Err: "malformed quote"})
			continue
		}

		obs := Observation{
			ProductCode:  productCode,
			PricePerUnit: quote.PricePerUnit,
			Currency:     quote.Currency,
			ObservedAt:   quote.ObservedAt,
			Provider:     p.Slug(),
		}
		if obs.Currency == "" {
			obs.Currency = "USD"
		}
		if obs.ObservedAt.IsZero() {
			obs.ObservedAt = r.now()
		}

		insertCtx, cancel := context.WithTimeout(context.Background(), r.cfg.ProviderTimeout)
		err = r.store.Insert(insertCtx, obs)
		cancel()
		if err != nil {
			if _, ok := err.(ErrInvalidObservation); ok {
				// A fresher observation landed first; serve that instead.
				r.logger.Debug().
					Str("product", productCode).
					Msg("Observation superseded during refresh")
				latest, lerr := r.store.Latest(context.Background(), productCode)
				if lerr == nil && latest != nil {
					r.metrics.RecordFetch(p.Slug(), "success", elapsed)
					return latest, nil
				}
			}
			return nil, fmt.Errorf("failed to persist observation: %w", err)
		}

		r.metrics.RecordFetch(p.Slug(), "success", elapsed)
		r.logger.Info().
			Str("provider", p.Slug()).
			Str("product", productCode).
			Float64("price", obs.PricePerUnit).
			Msg("Refreshed price")
		return &obs, nil
	}

	var lastObserved *time.Time
	if latest, err := r.store.Latest(context.Background(), productCode); err == nil && latest != nil {
		lastObserved = &latest.ObservedAt
	}
	r.metrics.RecordUnavailable()
	return nil, ErrPriceUnavailable{
		ProductCode:    productCode,
		LastObservedAt: lastObserved,
		Attempts:       attempts,
	}
}

// RefreshAll refreshes a batch of products with bounded concurrency.
// Per-product failures go into the summary; the batch itself never fails.
func (r *Repository) RefreshAll(ctx context.Context, productCodes []string) BatchSummary {
	start := r.now()
	summary := BatchSummary{
		RunID:     uuid.NewString(),
		Requested: len(productCodes),
		Failed:    make(map[string]string),
	}

	sem := semaphore.NewWeighted(int64(r.cfg.RefreshConcurrency))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, code := range productCodes {
		if err := sem.Acquire(ctx, 1); err != nil {
			mu.Lock()
			summary.Failed[code] = err.Error()
			mu.Unlock()
			continue
		}

		wg.Add(1)
		go func(productCode string) {
			defer sem.Release(1)
			defer wg.Done()

			_, err := r.Refresh(ctx, productCode)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				summary.Failed[productCode] = err.Error()
			} else {
				summary.Refreshed = append(summary.Refreshed, productCode)
			}
		}(code)
	}

	wg.Wait()
	summary.Duration = r.now().Sub(start)
	r.metrics.RecordBatch(summary.Duration.Seconds(), len(summary.Failed))

	r.logger.Info().
		Str("run_id", summary.RunID).
		Int("requested", summary.Requested).
		Int("refreshed", len(summary.Refreshed)).
		Int("failed", len(summary.Failed)).
		Dur("duration", summary.Duration).
		Msg("Batch price refresh completed")

	return summary
}

// do executes fn under single-flight for key. The bool result reports
// whether the caller attached to an existing flight. fn runs in its own
// goroutine regardless of what happens to the callers' contexts.
func (g *flightGroup) do(ctx context.Context, key string, fn func() (*Observation, error)) (*Observation, error, bool) {
	g.mu.Lock()
	if g.calls == nil {
		g.calls = make(map[string]*flightCall)
	}

	call, shared := g.calls[key]
	if !shared {
		call = &flightCall{done: make(chan struct{})}
		g.calls[key] = call
		go func() {
			call.obs, call.err = fn()
			g.mu.Lock()
			delete(g.calls, key)
			g.mu.Unlock()
			close(call.done)
		}()
	}
	g.mu.Unlock()

	select {
	case <-call.done:
		return call.obs, call.err, shared
	case <-ctx.Done():
		return nil, ctx.Err(), shared
	}
}
