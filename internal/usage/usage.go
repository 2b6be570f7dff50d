// Package usage enriches a CanonicalResult with cost once pricing resolves,
// and best-effort records completed invocations to the cost ledger.
//
// Enrichment is pure and never mutates its input. Recording is fire-and-
// forget: ledger failures are logged and swallowed, never surfaced to the
// caller. This package contains no budget-enforcement logic of any kind —
// it reports cost, it never blocks, downgrades, or rejects a request on
// the basis of spend.
package usage

import (
	"log/slog"
	"strconv"
	"time"

	"github.com/loa-finn/cheval/internal/cheval"
	"github.com/loa-finn/cheval/internal/config"
	"github.com/loa-finn/cheval/internal/ledger"
	"github.com/loa-finn/cheval/internal/pricing"
)

// remainders carries the fractional micro-USD balance left over from each
// CostMicro division, keyed by provider/model, so repeated small charges
// against the same rate eventually add up to a whole billed unit instead of
// being truncated away on every single request.
var remainders = pricing.NewRemainderAccumulator()

func remainderScope(provider, model string) string {
	return provider + "/" + model
}

// ResolvePricing finds the rate for (provider, model): a config override
// takes precedence over the built-in default table. The second return value
// is false when neither source has an entry.
func ResolvePricing(cfg []config.PricingEntry, provider, model string) (cheval.PricingEntry, bool) {
	for _, p := range cfg {
		if p.Model == model {
			return cheval.PricingEntry{
				InputMicroPerMillion:     p.InputMicroPerMillion,
				OutputMicroPerMillion:    p.OutputMicroPerMillion,
				ReasoningMicroPerMillion: p.ReasoningMicroPerMillion,
			}, true
		}
	}
	return findDefaultPricing(provider, model)
}

// Enrich resolves pricing for result's provider/model and, when found,
// returns a new CanonicalResult with usage.cost populated, plus the source
// the rate came from (config override, built-in default, or unknown when no
// rate resolves). result is never mutated; when no pricing is found the
// returned value is a shallow copy of the input with cost left nil.
func Enrich(result *cheval.CanonicalResult, cfg []config.PricingEntry, provider string) (*cheval.CanonicalResult, cheval.PricingSource, error) {
	out := *result
	rate, ok := ResolvePricing(cfg, provider, result.Metadata.Model)
	if !ok {
		return &out, cheval.PricingUnknown, nil
	}

	breakdown, inRem, outRem, reasonRem, err := pricing.CalculateTotalCost(
		int64(result.Usage.PromptTokens),
		int64(result.Usage.CompletionTokens),
		int64(result.Usage.ReasoningTokens),
		rate,
	)
	if err != nil {
		return nil, cheval.PricingUnknown, err
	}

	// Fold this request's truncated remainder into the running per-scope
	// balance; a nonzero carry means the accumulated residue has crossed a
	// whole micro-USD unit, which is billed now rather than lost.
	carry := remainders.Add(remainderScope(provider, result.Metadata.Model), inRem+outRem+reasonRem)
	breakdown.TotalCostMicro += carry

	out.Usage.Cost = &cheval.Cost{
		InputCostMicro:     strconv.FormatInt(breakdown.InputCostMicro, 10),
		OutputCostMicro:    strconv.FormatInt(breakdown.OutputCostMicro, 10),
		ReasoningCostMicro: strconv.FormatInt(breakdown.ReasoningCostMicro, 10),
		TotalCostMicro:     strconv.FormatInt(breakdown.TotalCostMicro, 10),
	}
	return &out, pricingSourceFor(cfg, result.Metadata.Model), nil
}

// pricingSourceFor reports which table a rate for model would come from, so
// callers can record provenance without re-deriving the rate itself.
func pricingSourceFor(cfg []config.PricingEntry, model string) cheval.PricingSource {
	for _, p := range cfg {
		if p.Model == model {
			return cheval.PricingConfig
		}
	}
	return cheval.PricingDefault
}

const recordingAgent = "cheval-sidecar"

// Record appends a LedgerEntry for a completed invocation and folds its cost
// into the daily-spend counter. Any failure is logged at warning level and
// otherwise swallowed -- this never returns an error to its caller by
// design. pricingSource and usageSource record where the cost rate and the
// token counts actually came from; Record never re-derives them since only
// the caller (which ran Enrich and knows whether the provider's response
// carried a usage block) has that context. dailySpendPath may be empty, in
// which case the daily-spend counter is left untouched.
func Record(traceID, provider, model string, u cheval.Usage, latencyMs int64, ledgerPath, dailySpendPath string, pricingSource cheval.PricingSource, usageSource cheval.UsageSource) {
	var costMicro int64
	if u.Cost != nil {
		if v, err := strconv.ParseInt(u.Cost.TotalCostMicro, 10, 64); err == nil {
			costMicro = v
		}
	}

	entry := cheval.LedgerEntry{
		TraceID:         traceID,
		Agent:           recordingAgent,
		Provider:        provider,
		Model:           model,
		InputTokens:     u.PromptTokens,
		OutputTokens:    u.CompletionTokens,
		ReasoningTokens: u.ReasoningTokens,
		CostMicroUSD:    costMicro,
		PricingSource:   pricingSource,
		LatencyMs:       latencyMs,
		UsageSource:     usageSource,
		TS:              time.Now().UTC().Format(time.RFC3339),
	}

	if err := ledger.Append(entry, ledgerPath); err != nil {
		slog.Warn("usage: failed to record ledger entry", "trace_id", traceID, "error", err)
	}

	if dailySpendPath == "" {
		return
	}
	if _, err := ledger.UpdateDailySpend(costMicro, dailySpendPath); err != nil {
		slog.Warn("usage: failed to update daily spend", "trace_id", traceID, "error", err)
	}
}
