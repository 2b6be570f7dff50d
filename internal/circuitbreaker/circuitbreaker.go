// Package circuitbreaker implements the per-provider, file-persisted circuit
// breaker of spec.md §4.4: a CLOSED/OPEN/HALF_OPEN state machine whose state
// survives process restarts because every transition is written to
// .run/circuit-breaker-{provider}.json under an exclusive lock.
package circuitbreaker

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/loa-finn/cheval/internal/cheval"
	"github.com/loa-finn/cheval/internal/filelock"
)

// Config holds the breaker's trip/reset parameters.
type Config struct {
	FailureThreshold  int           // consecutive failures before tripping OPEN
	ResetTimeout      time.Duration // time OPEN must elapse before a HALF_OPEN probe
	HalfOpenMaxProbes int           // probes allowed while HALF_OPEN
	CountWindow       time.Duration // failures older than this reset the streak
	RunDir            string        // directory holding circuit-breaker-*.json files
}

// DefaultConfig mirrors the original sidecar's defaults.
func DefaultConfig(runDir string) Config {
	return Config{
		FailureThreshold:  5,
		ResetTimeout:      60 * time.Second,
		HalfOpenMaxProbes: 1,
		CountWindow:       300 * time.Second,
		RunDir:            runDir,
	}
}

// Breaker is a single provider's file-backed circuit breaker. Every method
// re-reads the state file before acting and rewrites it afterward: the
// in-memory mutex only serializes this process's own goroutines against each
// other. A concurrent process doing the same is an accepted, documented race
// (spec.md §9) -- worst case a handful of extra probes slip through.
type Breaker struct {
	mu       sync.Mutex
	provider string
	cfg      Config
}

func newBreaker(provider string, cfg Config) *Breaker {
	return &Breaker{provider: provider, cfg: cfg}
}

func (b *Breaker) statePath() string {
	return filepath.Join(b.cfg.RunDir, fmt.Sprintf("circuit-breaker-%s.json", b.provider))
}

func (b *Breaker) defaultState() cheval.CircuitBreakerState {
	return cheval.CircuitBreakerState{
		Provider: b.provider,
		State:    cheval.BreakerClosed,
	}
}

// read returns the persisted state, or the default CLOSED state on any
// missing file, unreadable JSON, or provider-name mismatch -- a corrupt or
// foreign state file must never block traffic.
func (b *Breaker) read() cheval.CircuitBreakerState {
	data, err := os.ReadFile(b.statePath())
	if err != nil {
		return b.defaultState()
	}
	var s cheval.CircuitBreakerState
	if err := json.Unmarshal(data, &s); err != nil {
		return b.defaultState()
	}
	if s.Provider != b.provider || s.State == "" {
		return b.defaultState()
	}
	return s
}

func (b *Breaker) write(s cheval.CircuitBreakerState) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return filelock.WriteExclusive(b.statePath(), data)
}

func tsPtr(t time.Time) *float64 {
	v := float64(t.UnixNano()) / 1e9
	return &v
}

func tsTime(v float64) time.Time {
	return time.Unix(0, int64(v*1e9))
}

// CheckState returns the effective state for a request about to be made,
// performing the OPEN -> HALF_OPEN timeout transition (and persisting it) if
// due. A HALF_OPEN state whose probe budget is exhausted reports OPEN
// without writing, matching the original's "refuse without penalizing
// further" behavior.
func (b *Breaker) CheckState() (cheval.BreakerState, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := b.read()
	now := time.Now()

	switch s.State {
	case cheval.BreakerOpen:
		if s.OpenedAt != nil && now.Sub(tsTime(*s.OpenedAt)) >= b.cfg.ResetTimeout {
			s.State = cheval.BreakerHalfOpen
			s.HalfOpenProbes = 0
			if err := b.write(s); err != nil {
				return "", err
			}
			return cheval.BreakerHalfOpen, nil
		}
		return cheval.BreakerOpen, nil

	case cheval.BreakerHalfOpen:
		if s.HalfOpenProbes >= b.cfg.HalfOpenMaxProbes {
			return cheval.BreakerOpen, nil
		}
		return cheval.BreakerHalfOpen, nil

	default:
		return cheval.BreakerClosed, nil
	}
}

// IncrementProbe records that a HALF_OPEN probe request was dispatched. A
// no-op outside HALF_OPEN.
func (b *Breaker) IncrementProbe() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := b.read()
	if s.State != cheval.BreakerHalfOpen {
		return nil
	}
	s.HalfOpenProbes++
	return b.write(s)
}

// RecordFailure applies a failed call to the breaker and returns the
// resulting state.
func (b *Breaker) RecordFailure() (cheval.BreakerState, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := b.read()
	now := time.Now()

	switch s.State {
	case cheval.BreakerHalfOpen:
		s.State = cheval.BreakerOpen
		s.OpenedAt = tsPtr(now)
		s.HalfOpenProbes = 0
		s.LastFailureTS = tsPtr(now)
		if err := b.write(s); err != nil {
			return "", err
		}
		return cheval.BreakerOpen, nil

	case cheval.BreakerClosed:
		if s.LastFailureTS != nil {
			if now.Sub(tsTime(*s.LastFailureTS)) > b.cfg.CountWindow {
				s.FailureCount = 0
			}
		}
		s.FailureCount++
		s.LastFailureTS = tsPtr(now)
		if s.FailureCount >= b.cfg.FailureThreshold {
			s.State = cheval.BreakerOpen
			s.OpenedAt = tsPtr(now)
			if err := b.write(s); err != nil {
				return "", err
			}
			return cheval.BreakerOpen, nil
		}
		if err := b.write(s); err != nil {
			return "", err
		}
		return cheval.BreakerClosed, nil

	default: // OPEN
		s.LastFailureTS = tsPtr(now)
		if err := b.write(s); err != nil {
			return "", err
		}
		return cheval.BreakerOpen, nil
	}
}

// RecordSuccess applies a successful call to the breaker and returns the
// resulting state: a HALF_OPEN probe that succeeds resets fully to CLOSED, a
// CLOSED streak resets its failure count, and OPEN is left untouched (a
// success can't occur while OPEN -- CheckState would have refused the call
// before it was ever dispatched).
func (b *Breaker) RecordSuccess() (cheval.BreakerState, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := b.read()

	switch s.State {
	case cheval.BreakerHalfOpen:
		reset := b.defaultState()
		if err := b.write(reset); err != nil {
			return "", err
		}
		return cheval.BreakerClosed, nil

	case cheval.BreakerClosed:
		if s.FailureCount > 0 {
			s.FailureCount = 0
			s.LastFailureTS = nil
			if err := b.write(s); err != nil {
				return "", err
			}
		}
		return cheval.BreakerClosed, nil

	default:
		return s.State, nil
	}
}
