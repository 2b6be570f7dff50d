// Package cheval defines the domain types shared by every subsystem of the
// sidecar. This package has no project imports -- it is the dependency root.
package cheval

import (
	"context"
	"encoding/json"
)

// --- Canonical request/result schema ---

// Message is a single chat turn in a CanonicalRequest.
type Message struct {
	Role       string          `json:"role"`
	Content    json.RawMessage `json:"content,omitempty"`
	ToolCalls  json.RawMessage `json:"tool_calls,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
	Name       string          `json:"name,omitempty"`
}

// Options carries optional sampling parameters passed through verbatim.
type Options struct {
	Temperature *float64        `json:"temperature,omitempty"`
	TopP        *float64        `json:"top_p,omitempty"`
	MaxTokens   *int            `json:"max_tokens,omitempty"`
	Stop        json.RawMessage `json:"stop,omitempty"`
	ToolChoice  json.RawMessage `json:"tool_choice,omitempty"`
}

// ProviderRef names the upstream provider a request targets. Hosting/Region/
// Project are additive (see SPEC_FULL.md §3.1): unset Hosting means direct
// API-key auth against BaseURL, matching spec.md's provider shape exactly.
type ProviderRef struct {
	Name            string `json:"name"`
	Type            string `json:"type"` // "openai" | "openai-compatible"
	BaseURL         string `json:"base_url"`
	APIKey          string `json:"api_key"`
	ConnectTimeoutMs int   `json:"connect_timeout_ms,omitempty"`
	ReadTimeoutMs    int   `json:"read_timeout_ms,omitempty"`
	TotalTimeoutMs   int   `json:"total_timeout_ms,omitempty"`
	Hosting         string `json:"hosting,omitempty"` // "", "azure", "vertex"
	Region          string `json:"region,omitempty"`
	Project         string `json:"project,omitempty"`
}

// RetryPolicy is the per-request retry configuration.
type RetryPolicy struct {
	MaxRetries           int   `json:"max_retries"`
	BaseDelayMs          int   `json:"base_delay_ms"`
	MaxDelayMs           int   `json:"max_delay_ms"`
	JitterPercent        int   `json:"jitter_percent"`
	RetryableStatusCodes []int `json:"retryable_status_codes"`
}

// Metadata carries the caller's trace identifier through the pipeline.
type Metadata struct {
	TraceID string `json:"trace_id"`
}

// HMACEnvelope signs a one-shot CanonicalRequest end to end.
type HMACEnvelope struct {
	Signature string `json:"signature"`
	Nonce     string `json:"nonce"`
	IssuedAt  string `json:"issued_at"`
}

// CanonicalRequest is the stable internal schema isolating providers from callers.
type CanonicalRequest struct {
	Model    string          `json:"model"`
	Messages []Message       `json:"messages"`
	Options  *Options        `json:"options,omitempty"`
	Tools    json.RawMessage `json:"tools,omitempty"`
	Provider ProviderRef     `json:"provider"`
	Retry    RetryPolicy     `json:"retry"`
	Metadata Metadata        `json:"metadata"`
	HMAC     *HMACEnvelope   `json:"hmac,omitempty"`
}

// Cost holds the string-encoded micro-USD cost breakdown added to Usage
// once pricing resolves. All four fields are always present together.
type Cost struct {
	InputCostMicro     string `json:"input_cost_micro"`
	OutputCostMicro    string `json:"output_cost_micro"`
	ReasoningCostMicro string `json:"reasoning_cost_micro"`
	TotalCostMicro     string `json:"total_cost_micro"`
}

// Usage reports token counts and, once enriched, cost.
type Usage struct {
	PromptTokens     int   `json:"prompt_tokens"`
	CompletionTokens int   `json:"completion_tokens"`
	ReasoningTokens  int   `json:"reasoning_tokens"`
	Cost             *Cost `json:"cost,omitempty"`
}

// ResultMetadata identifies the model and request that produced a CanonicalResult.
type ResultMetadata struct {
	Model             string `json:"model"`
	ProviderRequestID string `json:"provider_request_id,omitempty"`
	LatencyMs         int64  `json:"latency_ms"`
	TraceID           string `json:"trace_id"`
}

// ToolCall is a single synthesized tool invocation.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function ToolFunction `json:"function"`
}

// ToolFunction is the function payload of a ToolCall.
type ToolFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// CanonicalResult is the stable internal schema returned to the caller.
type CanonicalResult struct {
	Content   string         `json:"content"`
	Thinking  *string        `json:"thinking"`
	ToolCalls []ToolCall     `json:"tool_calls"`
	Usage     Usage          `json:"usage"`
	Metadata  ResultMetadata `json:"metadata"`
}

// --- Structured error envelope ---

// ErrorCode enumerates the wire-level ChevalError codes.
type ErrorCode string

const (
	CodeProviderError  ErrorCode = "provider_error"
	CodeNetworkError   ErrorCode = "network_error"
	CodeHMACInvalid    ErrorCode = "hmac_invalid"
	CodeInvalidRequest ErrorCode = "invalid_request"
	CodeInternal       ErrorCode = "internal"
)

// ChevalError is the structured error returned at the HTTP/CLI boundary.
type ChevalError struct {
	Code         ErrorCode `json:"code"`
	Message      string    `json:"message"`
	ProviderCode string    `json:"provider_code,omitempty"`
	StatusCode   int       `json:"status_code,omitempty"`
	Retryable    bool      `json:"retryable"`
}

func (e *ChevalError) Error() string { return string(e.Code) + ": " + e.Message }

// HTTPStatus maps a ChevalError code to the HTTP status spec §7 requires.
func (e *ChevalError) HTTPStatus() int {
	switch e.Code {
	case CodeInvalidRequest:
		return 400
	case CodeHMACInvalid:
		return 403
	case CodeProviderError, CodeNetworkError:
		return 502
	default:
		return 500
	}
}

// MarshalJSON emits the exact envelope shape of spec.md §6, including the
// constant "error": "ChevalError" tag.
func (e *ChevalError) MarshalJSON() ([]byte, error) {
	type wire struct {
		Error        string    `json:"error"`
		Code         ErrorCode `json:"code"`
		Message      string    `json:"message"`
		ProviderCode string    `json:"provider_code,omitempty"`
		StatusCode   int       `json:"status_code,omitempty"`
		Retryable    bool      `json:"retryable"`
	}
	return json.Marshal(wire{
		Error:        "ChevalError",
		Code:         e.Code,
		Message:      e.Message,
		ProviderCode: e.ProviderCode,
		StatusCode:   e.StatusCode,
		Retryable:    e.Retryable,
	})
}

// --- Ledger and circuit-breaker on-disk records ---

// PricingSource names where a LedgerEntry's pricing came from.
type PricingSource string

const (
	PricingConfig  PricingSource = "config"
	PricingDefault PricingSource = "default"
	PricingUnknown PricingSource = "unknown"
)

// UsageSource distinguishes actual provider-reported usage from an estimate.
type UsageSource string

const (
	UsageActual    UsageSource = "actual"
	UsageEstimated UsageSource = "estimated"
)

// LedgerEntry is one immutable, append-only line of the cost ledger.
type LedgerEntry struct {
	TraceID         string        `json:"trace_id"`
	Agent           string        `json:"agent"`
	Provider        string        `json:"provider"`
	Model           string        `json:"model"`
	InputTokens     int           `json:"input_tokens"`
	OutputTokens    int           `json:"output_tokens"`
	ReasoningTokens int           `json:"reasoning_tokens"`
	CostMicroUSD    int64         `json:"cost_micro_usd"`
	PricingSource   PricingSource `json:"pricing_source"`
	LatencyMs       int64         `json:"latency_ms"`
	UsageSource     UsageSource   `json:"usage_source"`
	TS              string        `json:"ts"`
}

// BreakerState enumerates circuit-breaker states.
type BreakerState string

const (
	BreakerClosed   BreakerState = "CLOSED"
	BreakerOpen     BreakerState = "OPEN"
	BreakerHalfOpen BreakerState = "HALF_OPEN"
)

// CircuitBreakerState is the on-disk record for one provider's breaker.
type CircuitBreakerState struct {
	Provider       string       `json:"provider"`
	State          BreakerState `json:"state"`
	FailureCount   int          `json:"failure_count"`
	LastFailureTS  *float64     `json:"last_failure_ts"`
	OpenedAt       *float64     `json:"opened_at"`
	HalfOpenProbes int          `json:"half_open_probes"`
}

// PricingEntry holds integer micro-USD rates per million tokens.
type PricingEntry struct {
	InputMicroPerMillion     int64 `json:"input_micro_per_million"`
	OutputMicroPerMillion    int64 `json:"output_micro_per_million"`
	ReasoningMicroPerMillion int64 `json:"reasoning_micro_per_million"`
}

// --- Provider interface ---

// Provider is the interface every upstream adapter implements. Narrowed from
// the teacher's multi-tenant gateway surface to exactly the two operations
// this spec's Non-goals leave in scope (see SPEC_FULL.md §9): no Embeddings,
// ListModels, or HealthCheck.
type Provider interface {
	Name() string
	ChatCompletion(ctx context.Context, req *CanonicalRequest) (*CanonicalResult, error)
	ChatCompletionStream(ctx context.Context, req *CanonicalRequest) (<-chan StreamChunk, error)
}

// StreamChunk is one decoded SSE event forwarded to the caller.
type StreamChunk struct {
	Event SSEEvent
	Done  bool
	Err   error
}

// SSEEvent is a single Server-Sent Event as defined by spec.md §4.6.
type SSEEvent struct {
	EventType string
	Data      string
	ID        string
	Retry     *int
}

// --- Context helpers ---

type contextKey int

const ctxKeyTraceID contextKey = 0

// ContextWithTraceID returns a context carrying the given trace ID.
func ContextWithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyTraceID, id)
}

// TraceIDFromContext extracts the trace ID stored by ContextWithTraceID.
func TraceIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyTraceID).(string)
	return id
}
