package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// RequestsTotal counts HTTP requests by method, path, status.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "importer_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// RequestDurationSeconds measures request latency.
	RequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "importer_request_duration_seconds",
			Help:    "Request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// ParsesTotal counts listing parses by source, phase and outcome.
	ParsesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "importer_parses_total",
			Help: "Listing parse attempts",
		},
		[]string{"source", "phase", "outcome"},
	)

	// ParseDurationSeconds measures parse latency per source and phase.
	ParseDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "importer_parse_duration_seconds",
			Help:    "Parse duration in seconds",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 40, 60, 90},
		},
		[]string{"source", "phase"},
	)

	// ImportsTotal counts committed, duplicate and failed imports.
	ImportsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "importer_imports_total",
			Help: "Import outcomes",
		},
		[]string{"outcome"},
	)

	// ExternalCallsTotal counts data API calls by endpoint and outcome.
	ExternalCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "importer_external_calls_total",
			Help: "External data API calls",
		},
		[]string{"endpoint", "outcome"},
	)

	// ExternalBreakerState is 0 closed, 1 open, 2 half-open.
	ExternalBreakerState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "importer_external_breaker_state",
			Help: "Circuit breaker state of the external data client",
		},
	)

	// ExternalQuotaUsed tracks the current month's API usage.
	ExternalQuotaUsed = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "importer_external_quota_used",
			Help: "External data API calls used this month",
		},
	)

	// ExternalCoalescedTotal counts calls served by an identical
	// in-flight request instead of the network.
	ExternalCoalescedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "importer_external_coalesced_total",
			Help: "External calls coalesced into an in-flight request",
		},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestDurationSeconds,
		ParsesTotal,
		ParseDurationSeconds,
		ImportsTotal,
		ExternalCallsTotal,
		ExternalBreakerState,
		ExternalQuotaUsed,
		ExternalCoalescedTotal,
	)
}
