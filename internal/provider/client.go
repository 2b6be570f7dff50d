package provider

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/dnscache"

	"github.com/loa-finn/cheval/internal/cheval"
	"github.com/loa-finn/cheval/internal/cloudauth"
)

// Client is the shared OpenAI-compatible HTTP client: one dnscache-backed
// transport per provider, wrapped in an auth RoundTripper chosen by the
// provider's hosting mode (direct API key, or GCP OAuth for Vertex).
type Client struct {
	ref     cheval.ProviderRef
	baseURL string
	http    *http.Client
	defs    Defaults
}

// NewClient builds a Client for ref. resolver may be nil (falls back to the
// standard dialer); ctx is only used to acquire GCP ADC credentials when
// ref.Hosting == "vertex".
func NewClient(ctx context.Context, ref cheval.ProviderRef, resolver *dnscache.Resolver) (*Client, error) {
	defs, err := GetDefaults(ref.Type)
	if err != nil {
		return nil, err
	}
	connect, read, total := defs.Timeouts()
	if ref.ConnectTimeoutMs > 0 {
		connect = time.Duration(ref.ConnectTimeoutMs) * time.Millisecond
	}
	if ref.ReadTimeoutMs > 0 {
		read = time.Duration(ref.ReadTimeoutMs) * time.Millisecond
	}
	if ref.TotalTimeoutMs > 0 {
		total = time.Duration(ref.TotalTimeoutMs) * time.Millisecond
	}

	transport := NewTransport(resolver, true, connect)

	var rt http.RoundTripper = transport
	switch {
	case ref.Hosting == "vertex":
		gcp, err := cloudauth.NewGCPOAuthTransport(ctx, transport, "https://www.googleapis.com/auth/cloud-platform")
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", ref.Name, err)
		}
		rt = gcp
	default:
		rt = &cloudauth.APIKeyTransport{Key: ref.APIKey, HeaderName: defs.AuthHeader, Prefix: defs.AuthPrefix, Base: transport}
	}

	return &Client{
		ref:     ref,
		baseURL: ResolveChatURL(ref.BaseURL, defs),
		http:    &http.Client{Transport: rt, Timeout: read + total},
		defs:    defs,
	}, nil
}

// Do sends a pre-built wire request body and returns the raw response bytes
// on 200, or an *APIError otherwise.
func (c *Client) Do(ctx context.Context, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("provider %s: create request: %w", c.ref.Name, err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range c.defs.ExtraHeaders {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &NetworkError{Provider: c.ref.Name, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, ParseAPIError(c.ref.Name, resp)
	}
	return io.ReadAll(resp.Body)
}

// DoStream sends a streaming chat completion request and returns the live
// response body for the caller to decode as SSE.
func (c *Client) DoStream(ctx context.Context, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("provider %s: create request: %w", c.ref.Name, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	for k, v := range c.defs.ExtraHeaders {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &NetworkError{Provider: c.ref.Name, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, ParseAPIError(c.ref.Name, resp)
	}
	return resp, nil
}

// CloseIdleConnections releases pooled connections for this client.
func (c *Client) CloseIdleConnections() {
	c.http.CloseIdleConnections()
}

// NetworkError wraps a transport-level failure (DNS, dial, TLS, timeout)
// that never reached the provider's HTTP layer.
type NetworkError struct {
	Provider string
	Err      error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("provider %s: network error: %v", e.Provider, e.Err)
}
func (e *NetworkError) Unwrap() error { return e.Err }
