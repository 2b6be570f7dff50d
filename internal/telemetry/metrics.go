// Package telemetry provides observability primitives for the sidecar.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus collectors for the sidecar.
type Metrics struct {
	RequestsTotal         *prometheus.CounterVec
	RequestDuration       *prometheus.HistogramVec
	ActiveRequests        prometheus.Gauge
	TokensProcessed       *prometheus.CounterVec // labels: model, kind (prompt|completion|reasoning)
	ProviderErrors        *prometheus.CounterVec // labels: provider, code
	CircuitBreakerState   *prometheus.GaugeVec   // labels: provider (0=closed, 1=open, 2=half_open)
	CircuitBreakerRejects *prometheus.CounterVec // labels: provider
}

// NewMetrics creates and registers all metrics with the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cheval",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"method", "path", "status"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:                       "cheval",
			Name:                            "request_duration_seconds",
			Help:                            "HTTP request duration in seconds.",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 0,
		}, []string{"method", "path"}),

		ActiveRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "cheval",
			Name:      "active_requests",
			Help:      "Number of currently active requests.",
		}),

		TokensProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cheval",
			Name:      "tokens_processed_total",
			Help:      "Total tokens processed, by model and kind.",
		}, []string{"model", "kind"}),

		ProviderErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cheval",
			Name:      "provider_errors_total",
			Help:      "Total provider invocation failures, by provider and error code.",
		}, []string{"provider", "code"}),

		CircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "cheval",
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state per provider (0=closed, 1=open, 2=half_open).",
		}, []string{"provider"}),

		CircuitBreakerRejects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cheval",
			Name:      "circuit_breaker_rejects_total",
			Help:      "Total requests rejected by an open circuit breaker.",
		}, []string{"provider"}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.ActiveRequests,
		m.TokensProcessed,
		m.ProviderErrors,
		m.CircuitBreakerState,
		m.CircuitBreakerRejects,
	)

	return m
}
