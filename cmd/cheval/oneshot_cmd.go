package main

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/loa-finn/cheval/internal/circuitbreaker"
	"github.com/loa-finn/cheval/internal/config"
	"github.com/loa-finn/cheval/internal/hmacauth"
	"github.com/loa-finn/cheval/internal/oneshot"
	"github.com/loa-finn/cheval/internal/provider"
	"github.com/loa-finn/cheval/internal/retry"
)

// runOneshot wires and executes a single CanonicalRequest invocation (spec.md
// §2's "one-shot invocation mode"), writing the JSON payload to out and
// returning the process exit code the spec's one-shot table assigns to the
// outcome. The YAML config file is read the same way the server mode reads
// it; the spec treats that config-file loader as an external collaborator,
// not core sidecar behavior, so this wiring lives in cmd, not internal/oneshot.
func runOneshot(configPath string, raw []byte, out io.Writer) (int, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return int(oneshot.ExitInternal), err
	}

	var verifier *hmacauth.Verifier
	if cfg.HMAC.Secret != "" {
		verifier = hmacauth.NewVerifier(cfg.HMAC.Secret, cfg.HMAC.PrevSecret, time.Duration(cfg.HMAC.SkewSeconds)*time.Second)
	}

	deps := oneshot.Deps{
		HMAC:     verifier,
		Pool:     provider.NewPool(nil),
		Breakers: circuitbreaker.NewRegistry(circuitbreaker.DefaultConfig(cfg.Ledger.RunDir)),
		Pricing:  cfg.Pricing,
		DefaultRetry: retry.Policy{
			MaxRetries:    cfg.Retry.MaxRetries,
			BaseDelayMs:   cfg.Retry.BaseDelayMs,
			MaxDelayMs:    cfg.Retry.MaxDelayMs,
			JitterPercent: cfg.Retry.JitterPercent,
		},
		LedgerPath:     cfg.Ledger.Path,
		DailySpendPath: cfg.Ledger.DailySpendPath,
	}

	res := oneshot.Run(context.Background(), deps, raw)

	data, err := json.Marshal(res.Payload)
	if err != nil {
		return int(oneshot.ExitInternal), err
	}
	data = append(data, '\n')
	if _, err := out.Write(data); err != nil {
		return int(oneshot.ExitInternal), err
	}

	return int(res.Code), nil
}
