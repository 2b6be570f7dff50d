// Package server implements the HTTP transport layer for the Cheval sidecar.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/trace"

	"github.com/loa-finn/cheval/internal/circuitbreaker"
	"github.com/loa-finn/cheval/internal/config"
	"github.com/loa-finn/cheval/internal/hmacauth"
	"github.com/loa-finn/cheval/internal/provider"
	"github.com/loa-finn/cheval/internal/retry"
	"github.com/loa-finn/cheval/internal/telemetry"
)

// ReadyChecker reports whether the system is ready to serve traffic.
type ReadyChecker func(ctx context.Context) error

// Deps holds all dependencies for the HTTP server.
type Deps struct {
	HMAC           *hmacauth.Verifier // nil => CHEVAL_HMAC_SECRET unconfigured
	Nonces         *hmacauth.NonceCache
	NonceTTL       time.Duration
	Pool           *provider.Pool
	Breakers       *circuitbreaker.Registry
	Pricing        []config.PricingEntry
	DefaultRetry   retry.Policy
	LedgerPath     string
	DailySpendPath string
	Metrics        *telemetry.Metrics // nil = no Prometheus metrics
	MetricsHandler http.Handler       // nil = no /metrics endpoint
	Tracer         trace.Tracer       // nil = no distributed tracing
	ReadyCheck     ReadyChecker       // nil = always ready
	StartedAt      time.Time
}

// New creates an http.Handler with all routes and middleware wired.
func New(deps Deps) http.Handler {
	s := &server{deps: deps}

	r := chi.NewRouter()

	r.Use(s.securityHeaders)
	r.Use(s.recovery)
	r.Use(s.requestID)
	r.Use(s.logging)
	if deps.Metrics != nil {
		r.Use(metricsMiddleware(deps.Metrics))
	}
	if deps.Tracer != nil {
		r.Use(tracingMiddleware(deps.Tracer))
	}

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	r.Group(func(r chi.Router) {
		r.Use(s.hmacAdmission)
		r.Post("/invoke", s.handleInvoke)
		r.Post("/invoke/stream", s.handleInvokeStream)
	})

	return r
}

type server struct {
	deps Deps
}
