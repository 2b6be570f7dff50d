package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/loa-finn/cheval/internal/cheval"
	"github.com/loa-finn/cheval/internal/provider"
	"github.com/loa-finn/cheval/internal/sse"
	"github.com/loa-finn/cheval/internal/translate"
)

var sseCT = []string{"text/event-stream"}

// handleInvokeStream implements /invoke/stream: the provider's raw SSE byte
// stream is re-decoded and re-framed to the caller with identical event
// semantics. Per the streaming endpoint's open mid-stream-retry question,
// a network failure after the stream has started is surfaced by simply
// ending the stream -- there is no retry, since partial data has already
// reached the caller.
func (s *server) handleInvokeStream(w http.ResponseWriter, r *http.Request) {
	var req cheval.CanonicalRequest
	if err := json.Unmarshal(bodyFromContext(r.Context()), &req); err != nil {
		writeChevalError(w, invalidRequest("INVALID_JSON"))
		return
	}
	if req.Metadata.TraceID == "" {
		req.Metadata.TraceID = cheval.TraceIDFromContext(r.Context())
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

	resp, err := client.DoStream(r.Context(), wireBody)
	if err != nil {
		breaker.RecordFailure()
		writeChevalError(w, toStreamChevalError(err))
		return
	}
	defer resp.Body.Close()
	breaker.RecordSuccess()

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeChevalError(w, internalError("streaming unsupported by response writer"))
		return
	}

	w.Header()["Content-Type"] = sseCT
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	decoder := sse.NewDecoder()
	buf := make([]byte, 4096)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			for _, ev := range decoder.Feed(buf[:n]) {
				writeSSEEvent(w, ev)
			}
			flusher.Flush()
		}
		if readErr != nil {
			if ev := decoder.Flush(); ev != nil {
				writeSSEEvent(w, *ev)
				flusher.Flush()
			}
			return
		}
	}
}

func toStreamChevalError(err error) *cheval.ChevalError {
	if apiErr, ok := err.(*provider.APIError); ok {
		return &cheval.ChevalError{
			Code:       cheval.CodeProviderError,
			Message:    apiErr.Error(),
			StatusCode: apiErr.StatusCode,
		}
	}
	return &cheval.ChevalError{Code: cheval.CodeNetworkError, Message: err.Error(), Retryable: false}
}

func writeSSEEvent(w http.ResponseWriter, ev cheval.SSEEvent) {
	var b strings.Builder
	if ev.ID != "" {
		b.WriteString("id: ")
		b.WriteString(ev.ID)
		b.WriteByte('\n')
	}
	if ev.EventType != "" && ev.EventType != "message" {
		b.WriteString("event: ")
		b.WriteString(ev.EventType)
		b.WriteByte('\n')
	}
	for _, line := range strings.Split(ev.Data, "\n") {
		b.WriteString("data: ")
		b.WriteString(line)
		b.WriteByte('\n')
	}
	if ev.Retry != nil {
		b.WriteString("retry: ")
		b.WriteString(strconv.Itoa(*ev.Retry))
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	fmt.Fprint(w, b.String())
}
