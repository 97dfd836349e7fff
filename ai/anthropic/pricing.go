package anthropic

import (
	"regexp"
	"strings"
)

// ModelPricing contains per-token pricing information for Claude models
// Prices are in USD per million tokens
type ModelPricing struct {
	InputPrice  float64 // USD per 1M input tokens
	OutputPrice float64 // USD per 1M output tokens
}

// modelPricing is keyed by model family; dated snapshots and -latest aliases
// resolve to their family through canonicalModel
// Source: https://www.anthropic.com/pricing
var modelPricing = map[string]ModelPricing{
	"claude-sonnet-4":   {InputPrice: 3.00, OutputPrice: 15.00},
	"claude-opus-4":     {InputPrice: 15.00, OutputPrice: 75.00},
	"claude-3-7-sonnet": {InputPrice: 3.00, OutputPrice: 15.00},
	"claude-3-5-sonnet": {InputPrice: 3.00, OutputPrice: 15.00},
	"claude-3-5-haiku":  {InputPrice: 0.80, OutputPrice: 4.00},
	"claude-3-opus":     {InputPrice: 15.00, OutputPrice: 75.00},
	"claude-3-sonnet":   {InputPrice: 3.00, OutputPrice: 15.00},
	"claude-3-haiku":    {InputPrice: 0.25, OutputPrice: 1.25},
}

// DefaultPricingFallback is the fallback cost per request when model pricing is unknown
const DefaultPricingFallback = 0.01

var snapshotSuffix = regexp.MustCompile(`-(\d{8}|latest)$`)

// canonicalModel strips the snapshot date or -latest alias from a model name
func canonicalModel(model string) string {
	return snapshotSuffix.ReplaceAllString(strings.TrimPrefix(model, "anthropic/"), "")
}

// GetPricing returns pricing information for a model, if available
func GetPricing(model string) (ModelPricing, bool) {
	pricing, found := modelPricing[canonicalModel(model)]
	return pricing, found
}

// CalculateCost computes the cost of an API call based on token usage
// Returns cost in USD
func CalculateCost(model string, inputTokens, outputTokens int) float64 {
	pricing, found := GetPricing(model)
	if !found {
		return DefaultPricingFallback
	}

	inputCost := (float64(inputTokens) / 1_000_000.0) * pricing.InputPrice
	outputCost := (float64(outputTokens) / 1_000_000.0) * pricing.OutputPrice
	return inputCost + outputCost
}
