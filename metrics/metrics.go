// Package metrics holds the Prometheus collectors for the rate limiter,
// provider calls and agent retries.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "bookshelf"

// Rate limiter metrics.
var (
	LimiterAdmissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "limiter_admissions_total",
			Help:      "Capacity checks by result",
		},
		[]string{"result"}, // "admitted" / "deferred" / "rejected"
	)

	LimiterWaitSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "limiter_wait_seconds",
			Help:      "Time spent waiting for window capacity",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)

	LimiterPausesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "limiter_pauses_total",
			Help:      "Process-wide pauses triggered by provider rate limits",
		},
		[]string{"source"}, // "retry_after" / "default"
	)

	LimiterWindowTokens = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "limiter_window_tokens",
			Help:      "Tokens recorded in the current sliding window",
		},
	)
)

// LLM call metrics.
var (
	LLMRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_requests_total",
			Help:      "Total number of LLM requests",
		},
		[]string{"provider", "model", "status"},
	)

	LLMRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_request_duration_seconds",
			Help:      "LLM request duration in seconds",
			Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"provider", "model"},
	)

	LLMTokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_tokens_total",
			Help:      "Total tokens consumed",
		},
		[]string{"provider", "model", "type"}, // "input" / "output"
	)

	RetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_total",
			Help:      "Agent retries by reason",
		},
		[]string{"agent", "reason"},
	)

	FallbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fallbacks_total",
			Help:      "Agents that degraded to their fallback payload",
		},
		[]string{"agent"},
	)
)

// Pipeline metrics.
var (
	StageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of generation stages",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"stage"},
	)

	SectionsWrittenTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sections_written_total",
			Help:      "Sections streamed to completion",
		},
	)
)

// Collectors returns every collector in this package.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		LimiterAdmissionsTotal,
		LimiterWaitSeconds,
		LimiterPausesTotal,
		LimiterWindowTokens,
		LLMRequestsTotal,
		LLMRequestDuration,
		LLMTokensTotal,
		RetriesTotal,
		FallbacksTotal,
		StageDuration,
		SectionsWrittenTotal,
	}
}

// Register registers all collectors with reg. Collectors already registered
// with reg are skipped, so calling it twice is harmless.
func Register(reg prometheus.Registerer) error {
	for _, c := range Collectors() {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}

// MustRegister is Register that panics on error. Must be called once from main.
func MustRegister(reg prometheus.Registerer) {
	if err := Register(reg); err != nil {
		panic(err)
	}
}
