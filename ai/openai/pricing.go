package openai

import (
	"regexp"
	"strings"
)

// ModelPricing is USD per million tokens
type ModelPricing struct {
	PromptPrice     float64
	CompletionPrice float64
}

// modelPricing is keyed by OpenRouter name. Plain OpenAI names ("gpt-4o") and
// dated snapshots ("gpt-4o-2024-08-06") resolve through canonicalModel.
var modelPricing = map[string]ModelPricing{
	"openai/gpt-4o":        {PromptPrice: 2.50, CompletionPrice: 10.00},
	"openai/gpt-4o-mini":   {PromptPrice: 0.15, CompletionPrice: 0.60},
	"openai/gpt-4.1":       {PromptPrice: 2.00, CompletionPrice: 8.00},
	"openai/gpt-4.1-mini":  {PromptPrice: 0.40, CompletionPrice: 1.60},
	"openai/gpt-4-turbo":   {PromptPrice: 10.00, CompletionPrice: 30.00},
	"openai/gpt-3.5-turbo": {PromptPrice: 0.50, CompletionPrice: 1.50},

	"anthropic/claude-3.5-sonnet": {PromptPrice: 3.00, CompletionPrice: 15.00},
	"anthropic/claude-3.5-haiku":  {PromptPrice: 0.80, CompletionPrice: 4.00},
	"anthropic/claude-3-opus":     {PromptPrice: 15.00, CompletionPrice: 75.00},
	"anthropic/claude-3-haiku":    {PromptPrice: 0.25, CompletionPrice: 1.25},

	"google/gemini-pro-1.5":   {PromptPrice: 1.25, CompletionPrice: 5.00},
	"google/gemini-flash-1.5": {PromptPrice: 0.075, CompletionPrice: 0.30},

	"meta-llama/llama-3.1-70b-instruct": {PromptPrice: 0.52, CompletionPrice: 0.75},
	"meta-llama/llama-3.1-8b-instruct":  {PromptPrice: 0.055, CompletionPrice: 0.055},
	"mistralai/mistral-nemo":            {PromptPrice: 0.035, CompletionPrice: 0.08},
}

// DefaultPricingFallback is charged per request when the model is not in the table
const DefaultPricingFallback = 0.01

var dateSuffix = regexp.MustCompile(`-\d{4}-\d{2}-\d{2}$`)

// canonicalModel maps a request model name onto a modelPricing key
func canonicalModel(model string) string {
	model = dateSuffix.ReplaceAllString(strings.ToLower(model), "")
	if model != "" && !strings.Contains(model, "/") {
		model = "openai/" + model
	}
	return model
}

// GetPricing returns pricing information for a model, if available
func GetPricing(model string) (ModelPricing, bool) {
	pricing, found := modelPricing[canonicalModel(model)]
	return pricing, found
}

// CalculateCost returns the USD cost of one request
func CalculateCost(model string, promptTokens, completionTokens int) float64 {
	pricing, found := GetPricing(model)
	if !found {
		return DefaultPricingFallback
	}
	return float64(promptTokens)/1_000_000*pricing.PromptPrice +
		float64(completionTokens)/1_000_000*pricing.CompletionPrice
}
