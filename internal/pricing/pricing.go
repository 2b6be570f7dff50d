// Package pricing implements the integer micro-USD cost math of spec.md
// §4.1: a token count times a per-million rate, divided by 1,000,000, with
// the remainder tracked separately so that sub-micro costs are never
// silently dropped over a long session.
package pricing

import (
	"math/bits"
	"sync"

	"github.com/loa-finn/cheval/internal/cheval"
)

const perMillion = 1_000_000

// CostMicro returns the integer micro-USD cost of tokens at the given
// per-million-token rate, plus the truncated remainder. Both tokens and
// priceMicroPerMillion must be nonnegative. An overflowing product is
// reported as cheval.ErrBudgetOverflow (BUDGET_OVERFLOW) rather than
// silently wrapping.
func CostMicro(tokens, priceMicroPerMillion int64) (cost, remainder int64, err error) {
	if tokens < 0 || priceMicroPerMillion < 0 {
		return 0, 0, cheval.ErrBudgetOverflow
	}
	hi, lo := bits.Mul64(uint64(tokens), uint64(priceMicroPerMillion))
	if hi != 0 {
		return 0, 0, cheval.ErrBudgetOverflow
	}
	q, r := bits.Div64(hi, lo, perMillion)
	if q > uint64(1<<63-1) {
		return 0, 0, cheval.ErrBudgetOverflow
	}
	return int64(q), int64(r), nil
}

// Breakdown is the per-component cost of a single CanonicalResult.
type Breakdown struct {
	InputCostMicro     int64
	OutputCostMicro    int64
	ReasoningCostMicro int64
	TotalCostMicro     int64
}

// CalculateTotalCost sums the independent input/output/reasoning components.
// A zero reasoning rate (the default when unspecified) contributes zero cost.
func CalculateTotalCost(inputTokens, outputTokens, reasoningTokens int64, p cheval.PricingEntry) (Breakdown, int64, int64, int64, error) {
	inCost, inRem, err := CostMicro(inputTokens, p.InputMicroPerMillion)
	if err != nil {
		return Breakdown{}, 0, 0, 0, err
	}
	outCost, outRem, err := CostMicro(outputTokens, p.OutputMicroPerMillion)
	if err != nil {
		return Breakdown{}, 0, 0, 0, err
	}
	reasonCost, reasonRem, err := CostMicro(reasoningTokens, p.ReasoningMicroPerMillion)
	if err != nil {
		return Breakdown{}, 0, 0, 0, err
	}
	total := inCost + outCost + reasonCost
	return Breakdown{
		InputCostMicro:     inCost,
		OutputCostMicro:    outCost,
		ReasoningCostMicro: reasonCost,
		TotalCostMicro:     total,
	}, inRem, outRem, reasonRem, nil
}

// RemainderAccumulator keeps a running fractional-remainder balance per
// scope key (e.g. a trace ID or a calendar day), guarded by a mutex exactly
// as circuitbreaker.Breaker guards its state.
type RemainderAccumulator struct {
	mu         sync.Mutex
	remainders map[string]int64
}

// NewRemainderAccumulator returns an empty accumulator.
func NewRemainderAccumulator() *RemainderAccumulator {
	return &RemainderAccumulator{remainders: make(map[string]int64)}
}

// Add folds a new remainder into scope's running balance and returns the
// integer carry (additional whole micro-USD units to bill now). The
// fractional residue below 1,000,000 is retained for the next call.
func (a *RemainderAccumulator) Add(scope string, remainder int64) (carry int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	sum := a.remainders[scope] + remainder
	carry = sum / perMillion
	a.remainders[scope] = sum % perMillion
	return carry
}

// Residue returns the current fractional balance for scope without mutating it.
func (a *RemainderAccumulator) Residue(scope string) int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.remainders[scope]
}
