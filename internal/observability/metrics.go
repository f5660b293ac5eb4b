package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RidesCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_lifecycle", Name: "rides_created_total", Help: "Total rides created"})

	TransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_lifecycle", Name: "transitions_total", Help: "Committed ride transitions by operation"},
		[]string{"operation", "status"},
	)
	ConflictsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_lifecycle", Name: "conflicts_total", Help: "Optimistic-concurrency losses by operation"},
		[]string{"operation"},
	)
	SinkFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_lifecycle", Name: "sink_failures_total", Help: "Best-effort sink failures by sink"},
		[]string{"sink"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_lifecycle", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ride_lifecycle",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
