package pricing

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// fetchTotal tracks provider fetch outcomes per provider.
	fetchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pricing_provider_fetch_total",
		Help: "Total number of provider price fetches by provider and outcome",
	}, []string{"provider", "outcome"})

	// fetchDuration tracks provider fetch latency.
	fetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pricing_provider_fetch_duration_seconds",
		Help:    "Provider price fetch duration by provider",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"provider"})

	// refreshShared tracks callers that attached to an in-flight refresh.
	refreshShared = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pricing_refresh_shared_total",
		Help: "Total number of refresh calls coalesced into an in-flight refresh",
	})

	// staleServed tracks quotes served past the freshness window.
	staleServed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pricing_stale_quotes_served_total",
		Help: "Total number of quotes served with the stale flag set",
	})

	// unavailableTotal tracks products reported unavailable.
	unavailableTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pricing_unavailable_products_total",
		Help: "Total number of price lookups that found no usable observation",
	})

	// batchDuration tracks RefreshAll run duration.
	batchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pricing_refresh_batch_duration_seconds",
		Help:    "Duration of batch price refresh runs",
		Buckets: []float64{0.5, 1, 5, 10, 30, 60, 300},
	})

	// batchFailures tracks per-product failures inside batch runs.
	batchFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pricing_refresh_batch_failures_total",
		Help: "Total number of per-product failures during batch refresh runs",
	})
)

// MetricsRecorder provides methods to record pricing metrics.
type MetricsRecorder struct{}

// NewMetricsRecorder creates a new metrics recorder.
func NewMetricsRecorder() *MetricsRecorder {
	return &MetricsRecorder{}
}

// RecordFetch records a provider fetch attempt.
func (m *MetricsRecorder) RecordFetch(provider, outcome string, durationSeconds float64) {
	fetchTotal.WithLabelValues(provider, outcome).Inc()
	fetchDuration.WithLabelValues(provider).Observe(durationSeconds)
}

// RecordSharedFlight records a refresh caller attaching to an in-flight call.
func (m *MetricsRecorder) RecordSharedFlight() {
	refreshShared.Inc()
}

// RecordStaleServed records a quote served past the freshness window.
func (m *MetricsRecorder) RecordStaleServed() {
	staleServed.Inc()
}

// RecordUnavailable records a lookup with no usable observation.
func (m *MetricsRecorder) RecordUnavailable() {
	unavailableTotal.Inc()
}

// RecordBatch records a completed batch refresh run.
func (m *MetricsRecorder) RecordBatch(durationSeconds float64, failed int) {
	batchDuration.Observe(durationSeconds)
	batchFailures.Add(float64(failed))
}
