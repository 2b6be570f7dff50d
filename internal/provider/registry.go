// Package provider resolves per-type provider defaults, builds the shared
// HTTP client chain for OpenAI-compatible upstreams, and pools one client
// per configured provider. Grounded on original_source/adapters/
// provider_registry.go and the teacher's provider/openai client.
package provider

import (
	"fmt"
	"time"
)

// Defaults holds the fixed-per-type request shape: timeouts, the chat
// endpoint path, and the auth header convention.
type Defaults struct {
	ConnectTimeoutMs int
	ReadTimeoutMs    int
	TotalTimeoutMs   int
	ChatPath         string
	AuthHeader       string
	AuthPrefix       string
	ExtraHeaders     map[string]string
}

// Only "openai" and "openai-compatible" are supported provider types for
// this sidecar -- the original registry also lists "anthropic", but
// spec.md's provider shape names only these two, so anthropic's distinct
// auth header/chat path convention has no caller in this system.
var typeDefaults = map[string]Defaults{
	"openai": {
		ConnectTimeoutMs: 5_000,
		ReadTimeoutMs:    60_000,
		TotalTimeoutMs:   300_000,
		ChatPath:         "/chat/completions",
		AuthHeader:       "Authorization",
		AuthPrefix:       "Bearer ",
	},
	"openai-compatible": {
		ConnectTimeoutMs: 5_000,
		ReadTimeoutMs:    60_000,
		TotalTimeoutMs:   300_000,
		ChatPath:         "/chat/completions",
		AuthHeader:       "Authorization",
		AuthPrefix:       "Bearer ",
	},
}

// IsSupportedType reports whether typ is a provider type this sidecar knows
// how to call.
func IsSupportedType(typ string) bool {
	_, ok := typeDefaults[typ]
	return ok
}

// GetDefaults returns the fixed request shape for typ, or an error if typ is
// unsupported.
func GetDefaults(typ string) (Defaults, error) {
	d, ok := typeDefaults[typ]
	if !ok {
		return Defaults{}, fmt.Errorf("provider: unsupported type %q", typ)
	}
	return d, nil
}

// ResolveAuthHeaders returns the header name/value pair to attach for a
// direct API-key auth provider (hosting == "" or "azure"). Vertex-hosted
// providers use GCP OAuth instead (see client.go) and never call this.
func ResolveAuthHeaders(d Defaults, apiKey string) (name, value string) {
	return d.AuthHeader, d.AuthPrefix + apiKey
}

// ResolveChatURL joins baseURL with the type's chat completion path.
func ResolveChatURL(baseURL string, d Defaults) string {
	for len(baseURL) > 0 && baseURL[len(baseURL)-1] == '/' {
		baseURL = baseURL[:len(baseURL)-1]
	}
	return baseURL + d.ChatPath
}

// Timeouts converts a Defaults' millisecond fields to time.Duration.
func (d Defaults) Timeouts() (connect, read, total time.Duration) {
	return time.Duration(d.ConnectTimeoutMs) * time.Millisecond,
		time.Duration(d.ReadTimeoutMs) * time.Millisecond,
		time.Duration(d.TotalTimeoutMs) * time.Millisecond
}
