package main

import (
	"fmt"
	"io"
	"time"

	"github.com/loa-finn/cheval/internal/circuitbreaker"
	"github.com/loa-finn/cheval/internal/config"
)

// staleBreakerAge is how old a circuit-breaker state file must be before
// runSweep removes it. The breaker treats a missing file as a fresh CLOSED
// state on next read, so this is pure housekeeping, not a correctness
// requirement.
const staleBreakerAge = 24 * time.Hour

// runSweep loads configPath for its run_dir and removes stale circuit-breaker
// state files under it, reporting the count removed to out. Intended to run
// as a periodic offline job (e.g. a cron alongside the sidecar), not from the
// sidecar's own process.
func runSweep(configPath string, out io.Writer) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	removed, err := circuitbreaker.Sweep(cfg.Ledger.RunDir, staleBreakerAge)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "removed %d stale circuit-breaker state file(s) from %s\n", removed, cfg.Ledger.RunDir)
	return nil
}
