package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// APIRequestsTotal counts upstream calls by method and status class (2xx, 4xx, 5xx, transport, parse)
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventclub_api_requests_total",
			Help: "Total number of upstream API calls",
		},
		[]string{"method", "status_class"},
	)

	// APIRequestDuration tracks upstream call latency
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "eventclub_api_request_duration_seconds",
			Help:    "Upstream API call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// FailoversTotal counts failover escalations by reason
	FailoversTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventclub_failovers_total",
			Help: "Total number of failover navigations",
		},
		[]string{"reason"},
	)

	// FallbackSubstitutionsTotal counts substitute payloads served instead of live data
	FallbackSubstitutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventclub_fallback_substitutions_total",
			Help: "Total number of mock or stale payloads served",
		},
		[]string{"endpoint", "source"},
	)

	// HealthProbesTotal counts liveness probes by result
	HealthProbesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventclub_health_probes_total",
			Help: "Total number of liveness probes",
		},
		[]string{"result"},
	)

	// ServerHealthy is 1 while the monitor considers the backend healthy
	ServerHealthy = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "eventclub_server_healthy",
			Help: "Backend health as seen by the heartbeat monitor",
		},
	)

	// HealthConsecutiveFailures mirrors the monitor's failure streak
	HealthConsecutiveFailures = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "eventclub_health_consecutive_failures",
			Help: "Consecutive failed liveness probes",
		},
	)

	// GatewayRequestsTotal counts inbound gateway requests
	GatewayRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventclub_gateway_requests_total",
			Help: "Total number of gateway requests",
		},
		[]string{"method", "status"},
	)

	// GatewayRateLimited counts requests rejected by the edge limiter
	GatewayRateLimited = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "eventclub_gateway_rate_limited_total",
			Help: "Total number of gateway requests rejected by rate limiting",
		},
	)
)

// StatusClass buckets an HTTP status for low-cardinality labels.
func StatusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	case status >= 200:
		return "2xx"
	default:
		return "none"
	}
}

func BoolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
