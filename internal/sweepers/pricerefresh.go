package sweepers

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/croptimal/blend-service/internal/catalog"
	"github.com/croptimal/blend-service/internal/pricing"
)

// PriceRefreshSweeper periodically refreshes prices for the whole catalog so
// callers rarely hit the staleness path on the request path.
type PriceRefreshSweeper struct {
	repo     *pricing.Repository
	catalog  *catalog.Catalog
	logger   *zerolog.Logger
	interval time.Duration
	stopChan chan struct{}
}

// NewPriceRefreshSweeper creates a new sweeper over the given repository and
// catalog
func NewPriceRefreshSweeper(repo *pricing.Repository, cat *catalog.Catalog, logger *zerolog.Logger, interval time.Duration) *PriceRefreshSweeper {
	return &PriceRefreshSweeper{
		repo:     repo,
		catalog:  cat,
		logger:   logger,
		interval: interval,
		stopChan: make(chan struct{}),
	}
}

// Start begins the periodic refresh sweep
func (s *PriceRefreshSweeper) Start(ctx context.Context) {
	s.logger.Info().
		Dur("interval", s.interval).
		Int("products", s.catalog.Len()).
		Msg("Starting price refresh sweeper")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("Price refresh sweeper stopping (context cancelled)")
			return
		case <-s.stopChan:
			s.logger.Info().Msg("Price refresh sweeper stopping (stop signal)")
			return
		case <-ticker.C:
			s.RefreshCatalog(ctx)
		}
	}
}

// Stop signals the sweeper to stop
func (s *PriceRefreshSweeper) Stop() {
	close(s.stopChan)
}

// RefreshCatalog runs one batch refresh over every catalog product.
// Per-product failures are summarized, never fatal.
func (s *PriceRefreshSweeper) RefreshCatalog(ctx context.Context) {
	summary := s.repo.RefreshAll(ctx, s.catalog.Codes())

	event := s.logger.Info()
	if len(summary.Failed) > 0 {
		event = s.logger.Warn()
	}
	event.
		Str("run_id", summary.RunID).
		Int("requested", summary.Requested).
		Int("refreshed", len(summary.Refreshed)).
		Int("failed", len(summary.Failed)).
		Dur("duration", summary.Duration).
		Msg("Swept catalog price refresh")
}
