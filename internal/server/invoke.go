package server

import (
	"context"
	"encoding/json"
	"time"

	"github.com/loa-finn/cheval/internal/cheval"
	"github.com/loa-finn/cheval/internal/provider"
	"github.com/loa-finn/cheval/internal/retry"
	"github.com/loa-finn/cheval/internal/translate"
	"github.com/loa-finn/cheval/internal/usage"

	"net/http"
)

// handleInvoke implements the blocking /invoke pipeline of spec §4.11,
// steps 3-9 (HMAC verification and nonce admission already ran in
// hmacAdmission).
func (s *server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	traceID := cheval.TraceIDFromContext(r.Context())

	var req cheval.CanonicalRequest
	if err := json.Unmarshal(bodyFromContext(r.Context()), &req); err != nil {
		writeChevalError(w, invalidRequest("INVALID_JSON"))
		return
	}
	if req.Metadata.TraceID == "" {
		req.Metadata.TraceID = traceID
	}

	if !provider.IsSupportedType(req.Provider.Type) || req.Provider.Name == "" || req.Provider.BaseURL == "" {
		writeChevalError(w, invalidRequest("MISSING_PROVIDER"))
		return
	}

	breaker := s.deps.Breakers.GetOrCreate(req.Provider.Name)
	state, err := breaker.CheckState()
	if err != nil {
		writeChevalError(w, internalError(err.Error()))
		return
	}
	if state == cheval.BreakerOpen {
		if s.deps.Metrics != nil {
			s.deps.Metrics.CircuitBreakerRejects.WithLabelValues(req.Provider.Name).Inc()
		}
		writeChevalError(w, &cheval.ChevalError{
			Code:      cheval.CodeProviderError,
			Message:   "circuit breaker open for provider " + req.Provider.Name,
			Retryable: true,
		})
		return
	}
	if state == cheval.BreakerHalfOpen {
		if err := breaker.IncrementProbe(); err != nil {
			writeChevalError(w, internalError(err.Error()))
			return
		}
	}

	client, err := s.deps.Pool.GetOrCreate(r.Context(), req.Provider)
	if err != nil {
		writeChevalError(w, internalError(err.Error()))
		return
	}

	wireBody, err := translate.Build(&req)
	if err != nil {
		writeChevalError(w, invalidRequest(err.Error()))
		return
	}

	policy := resolveRetryPolicy(req.Retry, s.deps.DefaultRetry)

	var latencyMs int64
	raw, cerr := retry.Invoke(r.Context(), policy, func(ctx context.Context, attempt int) ([]byte, error) {
		attemptStart := time.Now()
		body, err := client.Do(ctx, wireBody)
		latencyMs = time.Since(attemptStart).Milliseconds()
		return body, err
	})

	if cerr != nil {
		breaker.RecordFailure()
		if s.deps.Metrics != nil {
			s.deps.Metrics.ProviderErrors.WithLabelValues(req.Provider.Name, string(cerr.Code)).Inc()
		}
		writeChevalError(w, cerr)
		return
	}
	breaker.RecordSuccess()

	result, err := translate.Normalize(raw, req.Provider.Type, req.Metadata.TraceID, latencyMs)
	if err != nil {
		writeChevalError(w, internalError(err.Error()))
		return
	}

	usageSource := cheval.UsageActual
	if !translate.HasUsage(raw) {
		usageSource = cheval.UsageEstimated
		result.Usage.PromptTokens = provider.EstimateMessageTokens(translate.MessageText(req.Messages))
		result.Usage.CompletionTokens = provider.EstimateTokens(result.Content)
	}

	enriched, pricingSource, err := usage.Enrich(result, s.deps.Pricing, req.Provider.Name)
	if err != nil {
		enriched = result
		pricingSource = cheval.PricingUnknown
	}

	go usage.Record(req.Metadata.TraceID, req.Provider.Name, req.Model, enriched.Usage, latencyMs, s.deps.LedgerPath, s.deps.DailySpendPath, pricingSource, usageSource)

	writeJSON(w, http.StatusOK, enriched)
}

// resolveRetryPolicy falls back to the server-wide default retry policy
// when the caller's request carries the zero value (no retry block sent).
func resolveRetryPolicy(reqPolicy cheval.RetryPolicy, def retry.Policy) retry.Policy {
	if reqPolicy.MaxRetries == 0 && reqPolicy.BaseDelayMs == 0 && reqPolicy.MaxDelayMs == 0 {
		return def
	}
	return retry.Policy{
		MaxRetries:           reqPolicy.MaxRetries,
		BaseDelayMs:          reqPolicy.BaseDelayMs,
		MaxDelayMs:           reqPolicy.MaxDelayMs,
		JitterPercent:        reqPolicy.JitterPercent,
		RetryableStatusCodes: reqPolicy.RetryableStatusCodes,
	}
}
