package usage

import "github.com/loa-finn/cheval/internal/cheval"

// defaultPricing is the built-in fallback table consulted when the config
// file carries no override for a (provider, model) pair. Rates are integer
// micro-USD per million tokens, matching the original sidecar's hardcoded
// defaults.
var defaultPricing = map[string]map[string]cheval.PricingEntry{
	"openai": {
		"gpt-4o":      {InputMicroPerMillion: 2_500_000, OutputMicroPerMillion: 10_000_000},
		"gpt-4o-mini": {InputMicroPerMillion: 150_000, OutputMicroPerMillion: 600_000},
		"o1":          {InputMicroPerMillion: 15_000_000, OutputMicroPerMillion: 60_000_000, ReasoningMicroPerMillion: 60_000_000},
	},
}

func findDefaultPricing(provider, model string) (cheval.PricingEntry, bool) {
	byModel, ok := defaultPricing[provider]
	if !ok {
		return cheval.PricingEntry{}, false
	}
	entry, ok := byModel[model]
	return entry, ok
}
