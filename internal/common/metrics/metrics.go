// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RouterRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nlq_router_requests_total",
			Help: "Total inbound ask requests by outcome",
		},
		[]string{"outcome"}, // success, degraded, error
	)

	RouteDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nlq_route_decisions_total",
			Help: "Route decisions by source",
		},
		[]string{"source"},
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nlq_stage_duration_seconds",
			Help:    "Duration of each pipeline stage",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stage"},
	)

	StageErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nlq_stage_errors_total",
			Help: "Pipeline stage failures by error code",
		},
		[]string{"stage", "error_code"},
	)

	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nlq_cache_hits_total",
			Help: "Cache hits per layer",
		},
		[]string{"layer"},
	)

	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nlq_cache_misses_total",
			Help: "Cache misses per layer",
		},
		[]string{"layer"},
	)

	CacheTTLSeconds = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nlq_cache_ttl_seconds",
			Help: "Effective adaptive TTL per cache layer",
		},
		[]string{"layer"},
	)

	SecurityRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nlq_security_rejections_total",
			Help: "Query builder security rejections by error code",
		},
		[]string{"error_code"},
	)

	RecoveryActions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nlq_recovery_actions_total",
			Help: "Error recovery actions by originating error code",
		},
		[]string{"error_code", "action"},
	)
)
