package server

import (
	"bufio"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestInvokeStream_HappyPathFramesEvents(t *testing.T) {
	t.Parallel()
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		w.Write([]byte("data: {\"choices\":[{\"delta\":{\"content\":\"hi\"}}]}\n\n"))
		flusher.Flush()
		w.Write([]byte("data: [DONE]\n\n"))
		flusher.Flush()
	}))
	defer upstream.Close()

	h := New(newTestDeps(t))
	body := []byte(`{"model":"gpt-4o","messages":[],"provider":{"name":"stream-test","type":"openai","base_url":"` + upstream.URL + `","api_key":"k"}}`)
	req := signedRequest(t, http.MethodPost, "/invoke/stream", body)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content-type = %q, want text/event-stream", ct)
	}

	var dataLines []string
	scanner := bufio.NewScanner(strings.NewReader(w.Body.String()))
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "data: ") {
			dataLines = append(dataLines, strings.TrimPrefix(line, "data: "))
		}
	}
	if len(dataLines) != 2 {
		t.Fatalf("got %d data lines, want 2: %v", len(dataLines), dataLines)
	}
	if dataLines[1] != "[DONE]" {
		t.Fatalf("last data line = %q, want [DONE]", dataLines[1])
	}
}

func TestInvokeStream_ProviderNonOKReturnsChevalError(t *testing.T) {
	t.Parallel()
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"bad key"}`))
	}))
	defer upstream.Close()

	h := New(newTestDeps(t))
	body := []byte(`{"model":"gpt-4o","messages":[],"provider":{"name":"stream-bad","type":"openai","base_url":"` + upstream.URL + `","api_key":"k"}}`)
	req := signedRequest(t, http.MethodPost, "/invoke/stream", body)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502, body=%s", w.Code, w.Body.String())
	}
}

func TestInvokeStream_MissingProvider(t *testing.T) {
	t.Parallel()
	h := New(newTestDeps(t))
	body := []byte(`{"model":"gpt-4o","messages":[]}`)
	req := signedRequest(t, http.MethodPost, "/invoke/stream", body)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}
