package server

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/loa-finn/cheval/internal/circuitbreaker"
	"github.com/loa-finn/cheval/internal/hmacauth"
	"github.com/loa-finn/cheval/internal/provider"
	"github.com/loa-finn/cheval/internal/retry"
)

const testSecret = "test-secret"

func newTestDeps(t *testing.T) Deps {
	t.Helper()
	return Deps{
		HMAC:     hmacauth.NewVerifier(testSecret, "", 5*time.Minute),
		Nonces:   hmacauth.NewNonceCache(1024),
		NonceTTL: 5 * time.Minute,
		Pool:     provider.NewPool(nil),
		Breakers: circuitbreaker.NewRegistry(circuitbreaker.DefaultConfig(t.TempDir())),
		DefaultRetry: retry.Policy{
			MaxRetries:  2,
			BaseDelayMs: 1,
			MaxDelayMs:  2,
		},
		LedgerPath: t.TempDir() + "/ledger.jsonl",
		StartedAt:  time.Now(),
	}
}

// signHMAC reproduces hmacauth's unexported sign() so tests can build valid
// signatures without depending on package internals.
func signHMAC(secret, canonical string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(canonical))
	return hex.EncodeToString(mac.Sum(nil))
}

func signedRequest(t *testing.T, method, path string, body []byte) *http.Request {
	t.Helper()
	nonce := "nonce-" + method + path + time.Now().String()
	issuedAt := time.Now().UTC().Format(time.RFC3339Nano)
	traceID := "trace-1"
	canonical := hmacauth.BuildCanonical(method, path, body, issuedAt, nonce, traceID)
	sig := signHMAC(testSecret, canonical)

	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("x-cheval-signature", sig)
	req.Header.Set("x-cheval-nonce", nonce)
	req.Header.Set("x-cheval-issued-at", issuedAt)
	req.Header.Set("x-cheval-trace-id", traceID)
	return req
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	h := New(newTestDeps(t))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
}

func TestReadyz_NoCheckerAlwaysReady(t *testing.T) {
	t.Parallel()
	h := New(newTestDeps(t))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
}

func TestInvoke_MissingHeaders(t *testing.T) {
	t.Parallel()
	h := New(newTestDeps(t))
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/invoke", bytes.NewReader([]byte(`{}`)))
	h.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", w.Code)
	}
}

func TestInvoke_UnconfiguredHMAC(t *testing.T) {
	t.Parallel()
	deps := newTestDeps(t)
	deps.HMAC = nil
	h := New(deps)
	w := httptest.NewRecorder()
	req := signedRequest(t, http.MethodPost, "/invoke", []byte(`{}`))
	h.ServeHTTP(w, req)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
}

func TestInvoke_BadSignatureRejected(t *testing.T) {
	t.Parallel()
	h := New(newTestDeps(t))
	w := httptest.NewRecorder()
	req := signedRequest(t, http.MethodPost, "/invoke", []byte(`{}`))
	req.Header.Set("x-cheval-signature", "deadbeef")
	h.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", w.Code)
	}
}

// TestInvoke_SignatureBoundToPath verifies a signature computed for /invoke
// is rejected on /invoke/stream, since the canonical signing string embeds
// the exact request path.
func TestInvoke_SignatureBoundToPath(t *testing.T) {
	t.Parallel()
	h := New(newTestDeps(t))
	body := []byte(`{}`)
	req := signedRequest(t, http.MethodPost, "/invoke", body)
	req.URL.Path = "/invoke/stream"

	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403 (HMAC_INVALID)", w.Code)
	}
}

func TestInvoke_ReplayedNonceRejected(t *testing.T) {
	t.Parallel()
	h := New(newTestDeps(t))
	body := []byte(`{"model":"gpt-4o","messages":[],"provider":{"name":"x","type":"openai","base_url":"http://127.0.0.1:0"}}`)

	req1 := signedRequest(t, http.MethodPost, "/invoke", body)
	w1 := httptest.NewRecorder()
	h.ServeHTTP(w1, req1)

	req2 := httptest.NewRequest(http.MethodPost, "/invoke", bytes.NewReader(body))
	req2.Header = req1.Header.Clone()
	w2 := httptest.NewRecorder()
	h.ServeHTTP(w2, req2)
	if w2.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403 (replay)", w2.Code)
	}
}

func TestInvoke_MissingProvider(t *testing.T) {
	t.Parallel()
	h := New(newTestDeps(t))
	body := []byte(`{"model":"gpt-4o","messages":[]}`)
	req := signedRequest(t, http.MethodPost, "/invoke", body)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestInvoke_HappyPath(t *testing.T) {
	t.Parallel()
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"id": "chatcmpl-1",
			"model": "gpt-4o",
			"choices": [{"message": {"role": "assistant", "content": "hi there"}}],
			"usage": {"prompt_tokens": 10, "completion_tokens": 5}
		}`))
	}))
	defer upstream.Close()

	h := New(newTestDeps(t))
	body := []byte(`{"model":"gpt-4o","messages":[{"role":"user","content":"hi"}],"provider":{"name":"test","type":"openai","base_url":"` + upstream.URL + `","api_key":"k"}}`)
	req := signedRequest(t, http.MethodPost, "/invoke", body)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", w.Code, w.Body.String())
	}
}

func TestInvoke_ProviderErrorPropagated(t *testing.T) {
	t.Parallel()
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"bad request"}`))
	}))
	defer upstream.Close()

	h := New(newTestDeps(t))
	body := []byte(`{"model":"gpt-4o","messages":[],"provider":{"name":"test2","type":"openai","base_url":"` + upstream.URL + `","api_key":"k"}}`)
	req := signedRequest(t, http.MethodPost, "/invoke", body)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502, body=%s", w.Code, w.Body.String())
	}
}
