// Package config handles YAML configuration loading for the sidecar, plus
// (in resolver.go) standalone {env:}/{file:} secret-interpolation and
// redaction helpers for a config tree; Load does not call them.
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"go.yaml.in/yaml/v3"
)

// Config is the top-level sidecar configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	HMAC      HMACConfig      `yaml:"hmac"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Providers []ProviderEntry `yaml:"providers"`
	Pricing   []PricingEntry  `yaml:"pricing"`
	Retry     RetryConfig     `yaml:"retry"`
	Ledger    LedgerConfig    `yaml:"ledger"`
}

// HMACConfig holds Phase-3 request-authentication settings.
type HMACConfig struct {
	Secret         string `yaml:"secret"`           // ${VAR} expanded by Load; {env:}/{file:} tokens are not resolved
	PrevSecret     string `yaml:"prev_secret"`      // ${VAR} expanded by Load; {env:}/{file:} tokens are not resolved
	SkewSeconds    int    `yaml:"skew_seconds"`     // default 30
	NonceCacheSize int    `yaml:"nonce_cache_size"` // default 10000
}

// PricingEntry is one model's pricing row in the config file.
type PricingEntry struct {
	Model                    string `yaml:"model"`
	InputMicroPerMillion     int64  `yaml:"input_micro_per_million"`
	OutputMicroPerMillion    int64  `yaml:"output_micro_per_million"`
	ReasoningMicroPerMillion int64  `yaml:"reasoning_micro_per_million"`
}

// RetryConfig holds the default retry/backoff policy applied when a request
// does not specify its own.
type RetryConfig struct {
	MaxRetries    int `yaml:"max_retries"`
	BaseDelayMs   int `yaml:"base_delay_ms"`
	MaxDelayMs    int `yaml:"max_delay_ms"`
	JitterPercent int `yaml:"jitter_percent"`
}

// LedgerConfig locates the on-disk cost ledger and daily-spend files.
type LedgerConfig struct {
	Path           string `yaml:"path"`             // default data/hounfour/cost-ledger.jsonl
	DailySpendPath string `yaml:"daily_spend_path"` // default .run/daily-spend.json
	RunDir         string `yaml:"run_dir"`          // default .run
}

// TelemetryConfig holds observability settings.
type TelemetryConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

// MetricsConfig controls Prometheus metrics.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// TracingConfig controls OpenTelemetry tracing.
type TracingConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Endpoint   string  `yaml:"endpoint"`    // OTLP gRPC endpoint
	SampleRate float64 `yaml:"sample_rate"` // 0.0 to 1.0
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// ProviderEntry is a provider definition in the config file.
type ProviderEntry struct {
	Name             string     `yaml:"name"`
	Type             string     `yaml:"type"` // "openai" | "openai-compatible"
	BaseURL          string     `yaml:"base_url"`
	APIKey           string     `yaml:"api_key"`
	Enabled          *bool      `yaml:"enabled"`
	ConnectTimeoutMs int        `yaml:"connect_timeout_ms"`
	ReadTimeoutMs    int        `yaml:"read_timeout_ms"`
	TotalTimeoutMs   int        `yaml:"total_timeout_ms"`
	Hosting          string     `yaml:"hosting"` // "", "azure", "vertex"
	Region           string     `yaml:"region"`  // GCP region for Vertex AI
	Project          string     `yaml:"project"` // GCP project ID for Vertex AI
	Auth             *AuthEntry `yaml:"auth"`    // explicit auth; inferred from api_key when absent
}

// AuthEntry configures provider authentication.
type AuthEntry struct {
	Type   string `yaml:"type"`    // "api_key", "gcp_oauth"
	APIKey string `yaml:"api_key"` // explicit key (overrides top-level api_key)
}

// IsEnabled reports whether the provider is enabled (defaults to true when nil).
func (p ProviderEntry) IsEnabled() bool {
	return p.Enabled == nil || *p.Enabled
}

// ResolvedAuthType returns the auth type, inferring from context when Auth is nil.
// Returns "gcp_oauth" for Vertex hosting, "api_key" otherwise.
func (p ProviderEntry) ResolvedAuthType() string {
	if p.Auth != nil && p.Auth.Type != "" {
		return p.Auth.Type
	}
	if p.Hosting == "vertex" {
		return "gcp_oauth"
	}
	return "api_key"
}

// ResolvedAPIKey returns the API key, preferring Auth.APIKey over top-level APIKey.
func (p ProviderEntry) ResolvedAPIKey() string {
	if p.Auth != nil && p.Auth.APIKey != "" {
		return p.Auth.APIKey
	}
	return p.APIKey
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnv replaces ${VAR} patterns with environment variable values. This
// is the plain substitution pass applied to the whole file before YAML
// parsing. {env:}/{file:} interpolation (resolver.go) is a separate API that
// Load does not apply.
func expandEnv(data []byte) []byte {
	return envPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		varName := string(match[2 : len(match)-1])
		if val, ok := os.LookupEnv(varName); ok {
			return []byte(val)
		}
		return match
	})
}

// Load reads and parses a YAML config file, expanding ${VAR} environment
// references and filling in the sidecar's defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	data = expandEnv(data)

	cfg := &Config{
		Server: ServerConfig{
			Addr:            ":3001",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    120 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		HMAC: HMACConfig{
			SkewSeconds:    30,
			NonceCacheSize: 10_000,
		},
		Retry: RetryConfig{
			MaxRetries:    3,
			BaseDelayMs:   500,
			MaxDelayMs:    8_000,
			JitterPercent: 20,
		},
		Ledger: LedgerConfig{
			Path:           "data/hounfour/cost-ledger.jsonl",
			DailySpendPath: ".run/daily-spend.json",
			RunDir:         ".run",
		},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}
