// Package observability provides Prometheus metrics and HTTP middleware
// for monitoring the stride server.
package observability

import "github.com/prometheus/client_golang/prometheus"

// RequestBuckets defines histogram buckets suited for CRUD request
// latencies, ranging from 5ms to 10s.
var RequestBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

var (
	// RequestsTotal counts all HTTP requests by method and status class.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stride_requests_total",
			Help: "Total requests",
		},
		[]string{"method", "status"},
	)

	// RequestDuration records HTTP request duration in seconds by method.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stride_request_duration_seconds",
			Help:    "Request duration",
			Buckets: RequestBuckets,
		},
		[]string{"method"},
	)

	// AuthResolvedTotal counts successful authentications by credential method.
	AuthResolvedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stride_auth_resolved_total",
			Help: "Authentications by credential method",
		},
		[]string{"method"},
	)

	// AuthRejectedTotal counts gateway rejections. The outcome label
	// distinguishes expired credentials from invalid ones even though
	// both surface as a generic 401.
	AuthRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stride_auth_rejected_total",
			Help: "Gateway rejections",
		},
		[]string{"outcome"},
	)

	// DelegationDeniedTotal counts acting-on-behalf-of requests refused
	// for lack of a grant.
	DelegationDeniedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "stride_delegation_denied_total",
			Help: "Delegation denials",
		},
	)

	// PermissionDeniedTotal counts route-level permission gate denials.
	PermissionDeniedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stride_permission_denied_total",
			Help: "Permission gate denials",
		},
		[]string{"permission"},
	)

	// PoolLeaseRetriesTotal counts application pool lease retries after
	// exhaustion.
	PoolLeaseRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "stride_pool_lease_retries_total",
			Help: "Application pool lease retries",
		},
	)

	// PoolLeaseFailuresTotal counts leases abandoned after the retry budget.
	PoolLeaseFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "stride_pool_lease_failures_total",
			Help: "Application pool lease failures",
		},
	)

	// OIDCClientsCached tracks the number of cached relying-party clients.
	OIDCClientsCached = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "stride_oidc_clients_cached",
			Help: "Cached OIDC relying-party clients",
		},
	)

	// OIDCDiscoveryFailuresTotal counts failed provider discoveries.
	OIDCDiscoveryFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stride_oidc_discovery_failures_total",
			Help: "OIDC provider discovery failures",
		},
		[]string{"provider"},
	)

	// RateLimitRejectedTotal counts requests rejected by the auth-route
	// rate limiter.
	RateLimitRejectedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "stride_ratelimit_rejected_total",
			Help: "Rate limit rejections",
		},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		AuthResolvedTotal,
		AuthRejectedTotal,
		DelegationDeniedTotal,
		PermissionDeniedTotal,
		PoolLeaseRetriesTotal,
		PoolLeaseFailuresTotal,
		OIDCClientsCached,
		OIDCDiscoveryFailuresTotal,
		RateLimitRejectedTotal,
	)
}
