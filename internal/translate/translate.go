// Package translate builds provider wire requests from a CanonicalRequest
// and normalizes provider wire responses back into a CanonicalResult.
package translate

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/loa-finn/cheval/internal/cheval"
)

// wireMessage is one chat turn in the OpenAI-compatible wire format.
type wireMessage struct {
	Role       string          `json:"role"`
	Content    json.RawMessage `json:"content,omitempty"`
	ToolCalls  json.RawMessage `json:"tool_calls,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
	Name       string          `json:"name,omitempty"`
}

// wireRequest is the OpenAI chat-completions compatible request body emitted
// by Build.
type wireRequest struct {
	Model       string          `json:"model"`
	Messages    []wireMessage   `json:"messages"`
	Temperature *float64        `json:"temperature,omitempty"`
	TopP        *float64        `json:"top_p,omitempty"`
	MaxTokens   *int            `json:"max_tokens,omitempty"`
	Stop        json.RawMessage `json:"stop,omitempty"`
	Tools       json.RawMessage `json:"tools,omitempty"`
	ToolChoice  json.RawMessage `json:"tool_choice,omitempty"`
}

var emptyContent = json.RawMessage(`""`)

// Build converts a CanonicalRequest into the JSON body sent to a provider.
func Build(req *cheval.CanonicalRequest) ([]byte, error) {
	out := wireRequest{
		Model:    req.Model,
		Messages: make([]wireMessage, 0, len(req.Messages)),
		Tools:    req.Tools,
	}
	if req.Options != nil {
		out.Temperature = req.Options.Temperature
		out.TopP = req.Options.TopP
		out.MaxTokens = req.Options.MaxTokens
		out.Stop = req.Options.Stop
		out.ToolChoice = req.Options.ToolChoice
	}

	for _, m := range req.Messages {
		wm := wireMessage{
			Role:       m.Role,
			ToolCalls:  m.ToolCalls,
			ToolCallID: m.ToolCallID,
			Name:       m.Name,
		}
		switch {
		case len(m.Content) > 0:
			wm.Content = m.Content
		case m.Role == "assistant" && len(m.ToolCalls) > 0:
			// Assistant turns that only carry tool calls omit content entirely.
		default:
			wm.Content = emptyContent
		}
		out.Messages = append(out.Messages, wm)
	}

	return json.Marshal(out)
}

// Normalize parses a raw provider response body into a CanonicalResult.
// providerType gates thinking-field extraction: only "openai-compatible"
// responses ever surface a reasoning_content field as Thinking.
func Normalize(raw []byte, providerType, traceID string, latencyMs int64) (*cheval.CanonicalResult, error) {
	root := gjson.ParseBytes(raw)
	choices := root.Get("choices")

	result := &cheval.CanonicalResult{
		Metadata: cheval.ResultMetadata{
			Model:             root.Get("model").String(),
			ProviderRequestID: root.Get("id").String(),
			LatencyMs:         latencyMs,
			TraceID:           traceID,
		},
	}

	if !choices.Exists() || !choices.IsArray() || len(choices.Array()) == 0 {
		return result, nil
	}

	first := choices.Array()[0]
	message := first.Get("message")

	result.Content = message.Get("content").String()
	result.Thinking = extractThinking(message, providerType)
	result.ToolCalls = extractToolCalls(message.Get("tool_calls"))
	result.Usage = extractUsage(root.Get("usage"))

	return result, nil
}

func extractThinking(message gjson.Result, providerType string) *string {
	if providerType != "openai-compatible" {
		return nil
	}
	rc := message.Get("reasoning_content")
	if !rc.Exists() || rc.Type != gjson.String {
		return nil
	}
	trimmed := strings.TrimSpace(rc.String())
	if trimmed == "" {
		return nil
	}
	v := rc.String()
	return &v
}

func extractToolCalls(raw gjson.Result) []cheval.ToolCall {
	if !raw.Exists() || !raw.IsArray() {
		return nil
	}

	var calls []cheval.ToolCall
	for _, entry := range raw.Array() {
		if !entry.IsObject() {
			slog.Warn("translate: skipping non-object tool_calls entry")
			continue
		}
		name := entry.Get("function.name")
		if !name.Exists() || name.String() == "" {
			slog.Warn("translate: skipping tool_calls entry missing function.name")
			continue
		}

		id := entry.Get("id").String()
		if id == "" {
			id = synthesizeToolCallID(entry.Raw)
		}
		args := entry.Get("function.arguments")
		argStr := "{}"
		if args.Exists() && args.String() != "" {
			argStr = args.String()
		}

		calls = append(calls, cheval.ToolCall{
			ID:   id,
			Type: "function",
			Function: cheval.ToolFunction{
				Name:      name.String(),
				Arguments: argStr,
			},
		})
	}
	return calls
}

func synthesizeToolCallID(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])[:8]
}

func extractUsage(raw gjson.Result) cheval.Usage {
	return cheval.Usage{
		PromptTokens:     int(raw.Get("prompt_tokens").Int()),
		CompletionTokens: int(raw.Get("completion_tokens").Int()),
		ReasoningTokens:  int(raw.Get("reasoning_tokens").Int()),
	}
}

// HasUsage reports whether raw carries a usage object at all, distinguishing
// a provider that omits usage entirely (caller should estimate) from one
// that reports it with all-zero fields.
func HasUsage(raw []byte) bool {
	return gjson.GetBytes(raw, "usage").Exists()
}

// MessageText flattens a request's messages into plain-text content for
// token estimation. A message whose content isn't a JSON string (e.g. a
// multi-part content-block array) falls back to its raw JSON text as a
// rough stand-in -- estimation only needs a length proxy, not parsed text.
func MessageText(msgs []cheval.Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		if len(m.Content) == 0 {
			continue
		}
		var s string
		if err := json.Unmarshal(m.Content, &s); err == nil {
			out = append(out, s)
			continue
		}
		out = append(out, string(m.Content))
	}
	return out
}
