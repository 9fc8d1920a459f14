package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "compass_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "compass_http_request_duration_seconds",
			Help: "HTTP request duration in seconds",
		},
		[]string{"method", "route"},
	)

	// TurnsTotal counts orchestrated turns by outcome: opening, ok, degraded, error.
	TurnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "compass_turns_total",
			Help: "Turns served, by mode and outcome",
		},
		[]string{"mode", "outcome"},
	)

	// ReportsTotal counts finalize calls by outcome: ok, error.
	ReportsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "compass_reports_total",
			Help: "Final reports generated, by mode and outcome",
		},
		[]string{"mode", "outcome"},
	)

	GeneratorLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "compass_generator_latency_seconds",
			Help:    "Latency of a single generator call",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 8),
		},
		[]string{"provider", "kind"},
	)

	// RetryAttempts counts generator attempts by result: ok, rate_limited, fatal.
	RetryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "compass_generator_attempts_total",
			Help: "Generator attempts made under the retry policy",
		},
		[]string{"result"},
	)

	RetryBackoff = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "compass_retry_backoff_seconds",
			Help:    "Backoff slept before a retry",
			Buckets: []float64{1, 2, 3, 4, 6, 8, 12, 16},
		},
	)

	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "compass_active_sessions",
			Help: "Sessions started and not yet reset in this process",
		},
	)
)
