package pricing

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Observation is a single time-stamped price observation for a product.
// Observations are append-only; the freshest one per product is the current
// price.
type Observation struct {
	ProductCode  string    `json:"productCode"`
	PricePerUnit float64   `json:"pricePerUnit"`
	Currency     string    `json:"currency"`
	ObservedAt   time.Time `json:"observedAt"`
	Provider     string    `json:"provider"`
}

// Quote is an observation as served to callers, annotated with freshness.
type Quote struct {
	ProductCode  string    `json:"productCode"`
	PricePerUnit float64   `json:"pricePerUnit"`
	Currency     string    `json:"currency"`
	ObservedAt   time.Time `json:"observedAt"`
	Provider     string    `json:"provider"`

	// Stale is set when the observation is older than the freshness window
	// but still inside the unavailable ceiling. Stale quotes are served
	// rather than blocking callers on provider I/O.
	Stale bool `json:"stale"`
}

// Provider is one external price source. Providers are pluggable and tried
// in registry priority order; each must return a positive price or an error.
type Provider interface {
	// Slug returns the stable identifier recorded on observations.
	Slug() string

	// FetchPrice fetches the current price for a product. Implementations
	// must honor ctx cancellation; the repository applies a per-call timeout.
	FetchPrice(ctx context.Context, productCode string) (*Quote, error)
}

// ObservationStore persists price observations. Implementations must reject
// non-positive prices and out-of-order timestamps per product.
type ObservationStore interface {
	Insert(ctx context.Context, obs Observation) error
	Latest(ctx context.Context, productCode string) (*Observation, error)
	LatestBatch(ctx context.Context, productCodes []string) (map[string]Observation, error)
}

// BatchSummary reports the outcome of a RefreshAll run. Individual product
// failures are isolated here, never fatal to the batch.
type BatchSummary struct {
	RunID     string            `json:"runId"`
	Requested int               `json:"requested"`
	Refreshed []string          `json:"refreshed"`
	Failed    map[string]string `json:"failed,omitempty"`
	Duration  time.Duration     `json:"duration"`
}

// ErrPriceUnavailable is returned when no usable price exists for a product:
// either every provider failed and there is no history, or the last
// observation is older than the unavailable ceiling. Callers exclude the
// product from optimization; this is never a request-level failure.
type ErrPriceUnavailable struct {
	ProductCode    string
	LastObservedAt *time.Time
	Attempts       []ProviderAttempt
}

// ProviderAttempt records one failed provider call during a refresh.
type ProviderAttempt struct {
	Provider string
	Err      string
}

func (e ErrPriceUnavailable) Error() string {
	msg := fmt.Sprintf("price unavailable for product %q", e.ProductCode)
	if e.LastObservedAt != nil {
		msg += fmt.Sprintf(" (last observed %s)", e.LastObservedAt.UTC().Format(time.RFC3339))
	}
	if len(e.Attempts) > 0 {
		parts := make([]string, 0, len(e.Attempts))
		for _, a := range e.Attempts {
			parts = append(parts, a.Provider+": "+a.Err)
		}
		msg += ": " + strings.Join(parts, "; ")
	}
	return msg
}

// ErrInvalidObservation is returned when an observation is rejected at
// ingestion.
type ErrInvalidObservation struct {
	ProductCode string
	Reason      string
}

func (e ErrInvalidObservation) Error() string {
	return fmt.Sprintf("invalid observation for product %q: %s", e.ProductCode, e.Reason)
}

// ProviderError wraps a provider-level failure with its origin.
type ProviderError struct {
	Provider    string
	ProductCode string
	Err         error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s: product %q: %v", e.Provider, e.ProductCode, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Config holds the repository's freshness and refresh policy. The windows
// are deliberately configuration, not constants; operators tune them per
// market.
type Config struct {
	// FreshnessWindow is the age past which a quote is flagged stale.
	FreshnessWindow time.Duration `mapstructure:"freshness_window"`

	// UnavailableCeiling is the age past which a product is excluded from
	// optimization entirely rather than served stale.
	UnavailableCeiling time.Duration `mapstructure:"unavailable_ceiling"`

	// ProviderTimeout bounds a single provider fetch.
	ProviderTimeout time.Duration `mapstructure:"provider_timeout"`

	// RefreshConcurrency bounds concurrent product refreshes in RefreshAll.
	RefreshConcurrency int `mapstructure:"refresh_concurrency"`

	// SweepInterval is how often the background sweeper refreshes the
	// catalog.
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// DefaultConfig returns the default pricing policy.
func DefaultConfig() *Config {
	return &Config{
		FreshnessWindow:    24 * time.Hour,
		UnavailableCeiling: 7 * 24 * time.Hour,
		ProviderTimeout:    5 * time.Second,
		RefreshConcurrency: 4,
		SweepInterval:      6 * time.Hour,
	}
}

// Validate validates the pricing configuration.
func (c *Config) Validate() error {
	if c.FreshnessWindow <= 0 {
		return ErrInvalidConfig{Field: "freshness_window", Reason: "must be positive"}
	}
	if c.UnavailableCeiling <= c.FreshnessWindow {
		return ErrInvalidConfig{Field: "unavailable_ceiling", Reason: "must exceed freshness_window"}
	}
	if c.ProviderTimeout <= 0 {
		return ErrInvalidConfig{Field: "provider_timeout", Reason: "must be positive"}
	}
	if c.RefreshConcurrency < 1 {
		return ErrInvalidConfig{Field: "refresh_concurrency", Reason: "must be at least 1"}
	}
	return nil
}

// ErrInvalidConfig is returned when the pricing configuration is invalid.
type ErrInvalidConfig struct {
	Field  string
	Reason string
}

func (e ErrInvalidConfig) Error() string {
	return e.Field + ": " + e.Reason
}
