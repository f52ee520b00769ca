package metering

import "waooaw-plant/pkg/config"

// Pricing maps a model name to its per-1K-token USD rates.
type Pricing map[string]config.ModelRate

func NewPricing(cfg *config.Config) Pricing {
	p := make(Pricing, len(cfg.Pricing))
	for model, rate := range cfg.Pricing {
		p[model] = rate
	}
	return p
}

// EffectiveEstimatedCostUSD resolves the cost of a call. An explicit positive
// estimate wins; otherwise the cost is derived from token counts and the
// model's rates. An unknown model prices at 0.0 — work is never blocked just
// because pricing is unconfigured.
func (p Pricing) EffectiveEstimatedCostUSD(estimateUSD float64, tokensIn, tokensOut int64, model string) float64 {
	if estimateUSD > 0 {
		return estimateUSD
	}

	rate, ok := p[model]
	if !ok {
		return 0.0
	}

	return float64(tokensIn)/1000*rate.InputPer1K + float64(tokensOut)/1000*rate.OutputPer1K
}
