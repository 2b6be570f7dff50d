// Package oneshot implements the single request/response invocation mode of
// spec.md §2 ("One-shot invocation mode"): the same build/invoke/normalize
// pipeline as the HTTP sidecar, run synchronously on the calling goroutine
// with no transport layer. It deliberately shares only the pure functions
// (translate, retry classification, usage enrichment) with internal/server,
// never its chi routing or middleware.
package oneshot

import (
	"context"
	"encoding/json"
	"time"

	"github.com/loa-finn/cheval/internal/circuitbreaker"
	"github.com/loa-finn/cheval/internal/cheval"
	"github.com/loa-finn/cheval/internal/config"
	"github.com/loa-finn/cheval/internal/hmacauth"
	"github.com/loa-finn/cheval/internal/provider"
	"github.com/loa-finn/cheval/internal/retry"
	"github.com/loa-finn/cheval/internal/translate"
	"github.com/loa-finn/cheval/internal/usage"
)

// ExitCode mirrors spec.md §4.8/§7's one-shot exit code table.
type ExitCode int

const (
	ExitSuccess        ExitCode = 0
	ExitProviderError  ExitCode = 1
	ExitNetworkError   ExitCode = 2
	ExitHMACFailure    ExitCode = 3
	ExitInvalidRequest ExitCode = 4
	ExitInternal       ExitCode = 5
)

// oneshotMethod and oneshotPath stand in for the HTTP method/path that
// anchor the HMAC canonical string in server mode. One-shot requests sign
// the whole record rather than a method+path+body tuple, but reusing
// hmacauth.BuildCanonical keeps a single canonicalization implementation
// instead of a second bespoke one for this mode.
const (
	oneshotMethod = "ONESHOT"
	oneshotPath   = "/invoke"
)

// Deps wires the subsystems a one-shot invocation needs. HMAC may be nil,
// in which case a request carrying an hmac envelope is rejected outright
// (mirrors the server's HMAC_NOT_CONFIGURED behavior) and a request with no
// envelope proceeds unauthenticated.
type Deps struct {
	HMAC           *hmacauth.Verifier
	Pool           *provider.Pool
	Breakers       *circuitbreaker.Registry
	Pricing        []config.PricingEntry
	DefaultRetry   retry.Policy
	LedgerPath     string
	DailySpendPath string
}

// Result is what Run hands back to its caller: the exit code plus whatever
// JSON payload (a CanonicalResult on success, a ChevalError otherwise)
// should be written to the caller's stdout.
type Result struct {
	Code    ExitCode
	Payload any
}

// Run executes the full pipeline against a single raw CanonicalRequest body
// and returns the exit code the CLI should surface, along with the payload
// to print. It never itself writes to stdout/stderr or calls os.Exit,
// keeping it independently testable.
func Run(ctx context.Context, deps Deps, raw []byte) Result {
	var req cheval.CanonicalRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return errResult(ExitInvalidRequest, cheval.CodeInvalidRequest, "INVALID_JSON")
	}

	if req.HMAC != nil {
		if deps.HMAC == nil {
			return errResult(ExitHMACFailure, cheval.CodeHMACInvalid, "HMAC_NOT_CONFIGURED")
		}
		if !verifyEnvelope(deps.HMAC, req) {
			return errResult(ExitHMACFailure, cheval.CodeHMACInvalid, "HMAC_INVALID")
		}
	}

	if !provider.IsSupportedType(req.Provider.Type) || req.Provider.Name == "" || req.Provider.BaseURL == "" {
		return errResult(ExitInvalidRequest, cheval.CodeInvalidRequest, "MISSING_PROVIDER")
	}

	breaker := deps.Breakers.GetOrCreate(req.Provider.Name)
	state, err := breaker.CheckState()
	if err != nil {
		return errResult(ExitInternal, cheval.CodeInternal, err.Error())
	}
	if state == cheval.BreakerOpen {
		return Result{Code: ExitProviderError, Payload: &cheval.ChevalError{
			Code:      cheval.CodeProviderError,
			Message:   "circuit breaker open for provider " + req.Provider.Name,
			Retryable: true,
		}}
	}
	if state == cheval.BreakerHalfOpen {
		if err := breaker.IncrementProbe(); err != nil {
			return errResult(ExitInternal, cheval.CodeInternal, err.Error())
		}
	}

	client, err := deps.Pool.GetOrCreate(ctx, req.Provider)
	if err != nil {
		return errResult(ExitInternal, cheval.CodeInternal, err.Error())
	}

	wireBody, err := translate.Build(&req)
	if err != nil {
		return errResult(ExitInvalidRequest, cheval.CodeInvalidRequest, err.Error())
	}

	policy := resolveRetryPolicy(req.Retry, deps.DefaultRetry)

	var latencyMs int64
	raw, cerr := retry.Invoke(ctx, policy, func(ctx context.Context, attempt int) ([]byte, error) {
		start := time.Now()
		body, err := client.Do(ctx, wireBody)
		latencyMs = time.Since(start).Milliseconds()
		return body, err
	})
	if cerr != nil {
		breaker.RecordFailure()
		return Result{Code: exitForCode(cerr.Code), Payload: cerr}
	}
	breaker.RecordSuccess()

	result, err := translate.Normalize(raw, req.Provider.Type, req.Metadata.TraceID, latencyMs)
	if err != nil {
		return errResult(ExitInternal, cheval.CodeInternal, err.Error())
	}

	usageSource := cheval.UsageActual
	if !translate.HasUsage(raw) {
		usageSource = cheval.UsageEstimated
		result.Usage.PromptTokens = provider.EstimateMessageTokens(translate.MessageText(req.Messages))
		result.Usage.CompletionTokens = provider.EstimateTokens(result.Content)
	}

	enriched, pricingSource, err := usage.Enrich(result, deps.Pricing, req.Provider.Name)
	if err != nil {
		enriched = result
		pricingSource = cheval.PricingUnknown
	}

	// One-shot mode is synchronous and blocking (spec.md §5): the ledger
	// write happens before Run returns, unlike the server's fire-and-forget
	// goroutine, since there is no later response write to race against.
	usage.Record(req.Metadata.TraceID, req.Provider.Name, req.Model, enriched.Usage, latencyMs, deps.LedgerPath, deps.DailySpendPath, pricingSource, usageSource)

	return Result{Code: ExitSuccess, Payload: enriched}
}

func verifyEnvelope(v *hmacauth.Verifier, req cheval.CanonicalRequest) bool {
	envelope := *req.HMAC
	req.HMAC = nil
	body, err := json.Marshal(req)
	if err != nil {
		return false
	}
	return v.Verify(oneshotMethod, oneshotPath, body, envelope.Signature, envelope.Nonce, req.Metadata.TraceID, envelope.IssuedAt)
}

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

func exitForCode(code cheval.ErrorCode) ExitCode {
	switch code {
	case cheval.CodeProviderError:
		return ExitProviderError
	case cheval.CodeNetworkError:
		return ExitNetworkError
	case cheval.CodeHMACInvalid:
		return ExitHMACFailure
	case cheval.CodeInvalidRequest:
		return ExitInvalidRequest
	default:
		return ExitInternal
	}
}

func errResult(exit ExitCode, code cheval.ErrorCode, message string) Result {
	return Result{Code: exit, Payload: &cheval.ChevalError{Code: code, Message: message}}
}
