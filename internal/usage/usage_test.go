package usage

import (
	"path/filepath"
	"strconv"
	"testing"

	"github.com/loa-finn/cheval/internal/cheval"
	"github.com/loa-finn/cheval/internal/config"
	"github.com/loa-finn/cheval/internal/ledger"
)

func TestResolvePricing_ConfigOverrideWins(t *testing.T) {
	t.Parallel()
	cfg := []config.PricingEntry{{Model: "gpt-4o", InputMicroPerMillion: 1, OutputMicroPerMillion: 2}}
	got, ok := ResolvePricing(cfg, "openai", "gpt-4o")
	if !ok {
		t.Fatal("expected pricing to resolve")
	}
	if got.InputMicroPerMillion != 1 || got.OutputMicroPerMillion != 2 {
		t.Fatalf("got %+v, want config override", got)
	}
}

func TestResolvePricing_FallsBackToDefaultTable(t *testing.T) {
	t.Parallel()
	got, ok := ResolvePricing(nil, "openai", "gpt-4o")
	if !ok {
		t.Fatal("expected default pricing to resolve")
	}
	if got.InputMicroPerMillion != 2_500_000 || got.OutputMicroPerMillion != 10_000_000 {
		t.Fatalf("got %+v, want gpt-4o defaults", got)
	}
}

func TestResolvePricing_UnknownModelNotFound(t *testing.T) {
	t.Parallel()
	if _, ok := ResolvePricing(nil, "unknown", "unknown-model"); ok {
		t.Fatal("expected no pricing for unknown model")
	}
}

func TestEnrich_PopulatesCostWithoutMutatingInput(t *testing.T) {
	t.Parallel()
	result := &cheval.CanonicalResult{
		Usage:    cheval.Usage{PromptTokens: 1000, CompletionTokens: 500},
		Metadata: cheval.ResultMetadata{Model: "gpt-4o"},
	}

	enriched, source, err := Enrich(result, nil, "openai")
	if err != nil {
		t.Fatal(err)
	}
	if result.Usage.Cost != nil {
		t.Fatal("Enrich must not mutate its input")
	}
	if enriched.Usage.Cost == nil {
		t.Fatal("expected cost to be populated")
	}
	if enriched.Usage.Cost.InputCostMicro != "2500" {
		t.Fatalf("input cost = %s, want 2500", enriched.Usage.Cost.InputCostMicro)
	}
	if enriched.Usage.Cost.OutputCostMicro != "5000" {
		t.Fatalf("output cost = %s, want 5000", enriched.Usage.Cost.OutputCostMicro)
	}
	if source != cheval.PricingDefault {
		t.Fatalf("source = %s, want default", source)
	}
}

func TestEnrich_ConfigOverrideReportsConfigSource(t *testing.T) {
	t.Parallel()
	result := &cheval.CanonicalResult{
		Usage:    cheval.Usage{PromptTokens: 1000, CompletionTokens: 500},
		Metadata: cheval.ResultMetadata{Model: "gpt-4o"},
	}
	cfg := []config.PricingEntry{{Model: "gpt-4o", InputMicroPerMillion: 1, OutputMicroPerMillion: 2}}

	_, source, err := Enrich(result, cfg, "openai")
	if err != nil {
		t.Fatal(err)
	}
	if source != cheval.PricingConfig {
		t.Fatalf("source = %s, want config", source)
	}
}

func TestEnrich_NoPricingLeavesCostNil(t *testing.T) {
	t.Parallel()
	result := &cheval.CanonicalResult{
		Usage:    cheval.Usage{PromptTokens: 10},
		Metadata: cheval.ResultMetadata{Model: "unknown-model"},
	}
	enriched, source, err := Enrich(result, nil, "unknown")
	if err != nil {
		t.Fatal(err)
	}
	if enriched.Usage.Cost != nil {
		t.Fatal("expected no cost for unpriced model")
	}
	if source != cheval.PricingUnknown {
		t.Fatalf("source = %s, want unknown", source)
	}
}

func TestEnrich_AccumulatesFractionalRemainderAcrossCalls(t *testing.T) {
	t.Parallel()
	// A rate of 0.3 micro-USD per token truncates to 0 on every single call;
	// across four calls the accumulated remainder must cross a whole micro
	// and get billed, rather than four truncated zeros losing it for good.
	cfg := []config.PricingEntry{{Model: "remainder-test-model", InputMicroPerMillion: 300_000}}
	result := &cheval.CanonicalResult{
		Usage:    cheval.Usage{PromptTokens: 1},
		Metadata: cheval.ResultMetadata{Model: "remainder-test-model"},
	}

	var totalBilled int64
	for i := 0; i < 4; i++ {
		enriched, _, err := Enrich(result, cfg, "remainder-test-provider")
		if err != nil {
			t.Fatal(err)
		}
		v, err := strconv.ParseInt(enriched.Usage.Cost.TotalCostMicro, 10, 64)
		if err != nil {
			t.Fatal(err)
		}
		totalBilled += v
	}
	if totalBilled != 1 {
		t.Fatalf("billed total across 4 calls = %d, want 1 (truncated remainders must carry, not vanish)", totalBilled)
	}
}

func TestRecord_AppendsLedgerEntry(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "ledger.jsonl")
	spendPath := filepath.Join(t.TempDir(), "daily-spend.json")

	u := cheval.Usage{
		PromptTokens:     10,
		CompletionTokens: 5,
		Cost:             &cheval.Cost{TotalCostMicro: "42"},
	}
	Record("trace-1", "openai", "gpt-4o", u, 123, path, spendPath, cheval.PricingDefault, cheval.UsageActual)

	entries, err := ledger.ReadAll(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	if entries[0].TraceID != "trace-1" || entries[0].CostMicroUSD != 42 {
		t.Fatalf("entry = %+v", entries[0])
	}
	if entries[0].UsageSource != cheval.UsageActual {
		t.Fatalf("usage_source = %s, want actual", entries[0].UsageSource)
	}
}

func TestRecord_EstimatedUsageSourcePersisted(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "ledger.jsonl")
	spendPath := filepath.Join(t.TempDir(), "daily-spend.json")

	Record("trace-3", "openai", "gpt-4o", cheval.Usage{PromptTokens: 7}, 0, path, spendPath, cheval.PricingUnknown, cheval.UsageEstimated)

	entries, err := ledger.ReadAll(path)
	if err != nil {
		t.Fatal(err)
	}
	if entries[0].UsageSource != cheval.UsageEstimated {
		t.Fatalf("usage_source = %s, want estimated", entries[0].UsageSource)
	}
}

func TestRecord_UpdatesDailySpend(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "ledger.jsonl")
	spendPath := filepath.Join(t.TempDir(), "daily-spend.json")

	u := cheval.Usage{Cost: &cheval.Cost{TotalCostMicro: "100"}}
	Record("trace-4", "openai", "gpt-4o", u, 0, path, spendPath, cheval.PricingDefault, cheval.UsageActual)
	Record("trace-5", "openai", "gpt-4o", u, 0, path, spendPath, cheval.PricingDefault, cheval.UsageActual)

	total, err := ledger.UpdateDailySpend(0, spendPath)
	if err != nil {
		t.Fatal(err)
	}
	if total != 200 {
		t.Fatalf("daily spend = %d, want 200 after two 100-micro records", total)
	}
}

func TestRecord_EmptyDailySpendPathSkipsUpdate(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "ledger.jsonl")

	u := cheval.Usage{Cost: &cheval.Cost{TotalCostMicro: "100"}}
	Record("trace-6", "openai", "gpt-4o", u, 0, path, "", cheval.PricingDefault, cheval.UsageActual)
}

func TestRecord_SwallowsFailureSilently(t *testing.T) {
	t.Parallel()
	// A directory path cannot be opened for append; Record must not panic
	// or otherwise surface this to the caller.
	dir := t.TempDir()
	Record("trace-2", "openai", "gpt-4o", cheval.Usage{}, 0, dir, dir, cheval.PricingUnknown, cheval.UsageActual)
}
