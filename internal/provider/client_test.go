package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/loa-finn/cheval/internal/cheval"
)

func TestClient_Do_Success(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q, want Bearer test-key", got)
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c, err := NewClient(context.Background(), cheval.ProviderRef{
		Name: "openai", Type: "openai", BaseURL: srv.URL, APIKey: "test-key",
	}, nil)
	if err != nil {
		t.Fatal(err)
	}

	body, err := c.Do(context.Background(), []byte(`{}`))
	if err != nil {
		t.Fatal(err)
	}
	if string(body) != `{"ok":true}` {
		t.Fatalf("body = %q", body)
	}
}

func TestClient_Do_NonOKReturnsAPIError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":"rate limited"}`))
	}))
	defer srv.Close()

	c, err := NewClient(context.Background(), cheval.ProviderRef{
		Name: "openai", Type: "openai", BaseURL: srv.URL, APIKey: "test-key",
	}, nil)
	if err != nil {
		t.Fatal(err)
	}

	_, err = c.Do(context.Background(), []byte(`{}`))
	var apiErr *APIError
	if err == nil {
		t.Fatal("expected error")
	}
	if ae, ok := err.(*APIError); !ok {
		t.Fatalf("err = %T, want *APIError", err)
	} else {
		apiErr = ae
	}
	if apiErr.HTTPStatus() != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", apiErr.HTTPStatus())
	}
}

func TestClient_UnsupportedTypeErrors(t *testing.T) {
	t.Parallel()
	_, err := NewClient(context.Background(), cheval.ProviderRef{Name: "x", Type: "bogus"}, nil)
	if err == nil {
		t.Fatal("expected error for unsupported type")
	}
}
