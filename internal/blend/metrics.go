package blend

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// solveDuration tracks LP solve time per objective.
	solveDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "blend_solve_duration_seconds",
		Help:    "Blend LP solve duration by objective",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}, []string{"objective"})

	// solveTotal tracks solve outcomes per objective.
	solveTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "blend_solve_total",
		Help: "Total number of blend solves by objective and outcome",
	}, []string{"objective", "outcome"})

	// rankDuration tracks full strategy-ranking request duration.
	rankDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "blend_rank_duration_seconds",
		Help:    "Strategy ranking request duration",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
	})

	// strategiesReturned tracks the distinct strategy count per ranking.
	strategiesReturned = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "blend_rank_strategies_count",
		Help:    "Number of distinct strategies returned per ranking",
		Buckets: []float64{1, 2, 3, 4},
	})

	// excludedProducts tracks catalog exclusions per ranking.
	excludedProducts = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "blend_rank_excluded_products_count",
		Help:    "Number of products excluded from the catalog per ranking",
		Buckets: []float64{0, 1, 2, 5, 10, 50},
	})
)

// MetricsRecorder provides methods to record blend metrics.
type MetricsRecorder struct{}

// NewMetricsRecorder creates a new metrics recorder.
func NewMetricsRecorder() *MetricsRecorder {
	return &MetricsRecorder{}
}

// RecordSolve records one engine solve.
func (m *MetricsRecorder) RecordSolve(objective, outcome string, durationSeconds float64) {
	solveDuration.WithLabelValues(objective).Observe(durationSeconds)
	solveTotal.WithLabelValues(objective, outcome).Inc()
}

// RecordRanking records one completed ranking request.
func (m *MetricsRecorder) RecordRanking(durationSeconds float64, strategies, exclusions int) {
	rankDuration.Observe(durationSeconds)
	strategiesReturned.Observe(float64(strategies))
	excludedProducts.Observe(float64(exclusions))
}
