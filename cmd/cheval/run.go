package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/dnscache"
	"go.opentelemetry.io/otel/trace"

	"github.com/loa-finn/cheval/internal/circuitbreaker"
	"github.com/loa-finn/cheval/internal/cheval"
	"github.com/loa-finn/cheval/internal/config"
	"github.com/loa-finn/cheval/internal/hmacauth"
	"github.com/loa-finn/cheval/internal/provider"
	"github.com/loa-finn/cheval/internal/retry"
	"github.com/loa-finn/cheval/internal/server"
	"github.com/loa-finn/cheval/internal/telemetry"
)

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	slog.Info("starting cheval", "version", version, "addr", cfg.Server.Addr)

	if cfg.HMAC.Secret == "" {
		slog.Warn("no HMAC secret configured; every /invoke and /invoke/stream request will be rejected")
	}

	dnsResolver := &dnscache.Resolver{}
	go func() {
		t := time.NewTicker(5 * time.Minute)
		defer t.Stop()
		for range t.C {
			dnsResolver.Refresh(true)
		}
	}()

	pool := provider.NewPool(dnsResolver)

	ctx := context.Background()
	for _, p := range cfg.Providers {
		if !p.IsEnabled() {
			slog.Info("provider skipped (disabled)", "name", p.Name)
			continue
		}
		ref := cheval.ProviderRef{
			Name:             p.Name,
			Type:             p.Type,
			BaseURL:          p.BaseURL,
			APIKey:           p.ResolvedAPIKey(),
			ConnectTimeoutMs: p.ConnectTimeoutMs,
			ReadTimeoutMs:    p.ReadTimeoutMs,
			TotalTimeoutMs:   p.TotalTimeoutMs,
			Hosting:          p.Hosting,
			Region:           p.Region,
			Project:          p.Project,
		}
		if _, err := pool.GetOrCreate(ctx, ref); err != nil {
			slog.Warn("provider pre-warm failed", "name", p.Name, "error", err)
			continue
		}
		slog.Info("provider pre-warmed", "name", p.Name, "type", p.Type, "hosting", p.Hosting)
	}

	breakers := circuitbreaker.NewRegistry(circuitbreaker.DefaultConfig(cfg.Ledger.RunDir))

	var verifier *hmacauth.Verifier
	if cfg.HMAC.Secret != "" {
		verifier = hmacauth.NewVerifier(cfg.HMAC.Secret, cfg.HMAC.PrevSecret, time.Duration(cfg.HMAC.SkewSeconds)*time.Second)
	}
	nonceCacheSize := cfg.HMAC.NonceCacheSize
	if nonceCacheSize == 0 {
		nonceCacheSize = 10_000
	}
	nonces := hmacauth.NewNonceCache(nonceCacheSize)

	defaultRetry := retry.Policy{
		MaxRetries:    cfg.Retry.MaxRetries,
		BaseDelayMs:   cfg.Retry.BaseDelayMs,
		MaxDelayMs:    cfg.Retry.MaxDelayMs,
		JitterPercent: cfg.Retry.JitterPercent,
	}

	var metrics *telemetry.Metrics
	var metricsHandler http.Handler
	if cfg.Telemetry.Metrics.Enabled {
		promRegistry := prometheus.NewRegistry()
		promRegistry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		promRegistry.MustRegister(collectors.NewGoCollector())
		metrics = telemetry.NewMetrics(promRegistry)
		metricsHandler = promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{})
		slog.Info("prometheus metrics enabled")
	}

	var tracer trace.Tracer
	var tracingShutdown func(context.Context) error
	if cfg.Telemetry.Tracing.Enabled {
		endpoint := cfg.Telemetry.Tracing.Endpoint
		if endpoint == "" {
			endpoint = "localhost:4317"
		}
		sampleRate := cfg.Telemetry.Tracing.SampleRate
		if sampleRate == 0 {
			sampleRate = 0.1
		}
		shutdown, err := telemetry.SetupTracing(ctx, endpoint, sampleRate)
		if err != nil {
			slog.Warn("tracing setup failed, continuing without tracing", "error", err)
		} else {
			tracingShutdown = shutdown
			tracer = telemetry.Tracer("cheval/server")
			slog.Info("opentelemetry tracing enabled", "endpoint", endpoint, "sample_rate", sampleRate)
		}
	}

	startedAt := time.Now()
	handler := server.New(server.Deps{
		HMAC:           verifier,
		Nonces:         nonces,
		NonceTTL:       2 * time.Duration(cfg.HMAC.SkewSeconds) * time.Second,
		Pool:           pool,
		Breakers:       breakers,
		Pricing:        cfg.Pricing,
		DefaultRetry:   defaultRetry,
		LedgerPath:     cfg.Ledger.Path,
		DailySpendPath: cfg.Ledger.DailySpendPath,
		Metrics:        metrics,
		MetricsHandler: metricsHandler,
		Tracer:         tracer,
		StartedAt:      startedAt,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	slog.Info("cheval ready", "addr", cfg.Server.Addr, "endpoints", []string{"POST /invoke", "POST /invoke/stream"})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("shutting down", "signal", sig)
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	if err := pool.CloseAll(shutdownCtx); err != nil {
		slog.Error("provider pool shutdown error", "error", err)
	}

	if tracingShutdown != nil {
		if err := tracingShutdown(shutdownCtx); err != nil {
			slog.Error("tracing shutdown error", "error", err)
		}
	}

	slog.Info("cheval stopped")
	return nil
}
