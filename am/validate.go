package am

import (
	"github.com/teranos/chainable/chain"
	"github.com/teranos/chainable/errors"
)

// Provider names accepted in chain.provider
var knownProviders = map[string]bool{
	"":           true,
	"auto":       true,
	"local":      true,
	"openai":     true,
	"openrouter": true,
	"anthropic":  true,
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if !knownProviders[c.Chain.Provider] {
		return errors.WithHint(
			errors.Newf("chain.provider %q is not recognised", c.Chain.Provider),
			"use one of: auto, local, openai, openrouter, anthropic")
	}

	// nil = default window, 0 = no previous context, negative = invalid
	if c.Chain.MaxContextWindow != nil && *c.Chain.MaxContextWindow < 0 {
		return errors.Newf("chain.max_context_window must be >= 0, got %d", *c.Chain.MaxContextWindow)
	}

	if c.Chain.OnStepError != "" {
		if _, err := chain.ParseStepErrorPolicy(c.Chain.OnStepError); err != nil {
			return errors.Wrap(err, "chain.on_step_error")
		}
	}
	if c.Chain.ReplyMode != "" {
		if _, err := chain.ParseReplyMode(c.Chain.ReplyMode); err != nil {
			return errors.Wrap(err, "chain.reply_mode")
		}
	}

	// 0 = unlimited
	if c.Chain.RequestsPerMinute < 0 {
		return errors.Newf("chain.requests_per_minute must be >= 0, got %d", c.Chain.RequestsPerMinute)
	}

	// Validate local inference configuration only when enabled
	if c.LocalInference.Enabled {
		if c.LocalInference.BaseURL == "" {
			return errors.New("local_inference.base_url cannot be empty when enabled")
		}
		if c.LocalInference.Model == "" {
			return errors.New("local_inference.model cannot be empty when enabled")
		}
		if c.LocalInference.TimeoutSeconds <= 0 {
			return errors.Newf("local_inference.timeout_seconds must be > 0, got %d", c.LocalInference.TimeoutSeconds)
		}
		if c.LocalInference.API != "" && c.LocalInference.API != LocalAPIChat && c.LocalInference.API != LocalAPIGenerate {
			return errors.Newf("local_inference.api must be %q or %q, got %q", LocalAPIChat, LocalAPIGenerate, c.LocalInference.API)
		}
		if c.LocalInference.ContextSize != nil && *c.LocalInference.ContextSize <= 0 {
			return errors.Newf("local_inference.context_size must be > 0, got %d (omit for model default)", *c.LocalInference.ContextSize)
		}
	}

	if err := validateSampling("openai", c.OpenAI.Temperature, c.OpenAI.MaxTokens); err != nil {
		return err
	}
	if err := validateSampling("openrouter", c.OpenRouter.Temperature, c.OpenRouter.MaxTokens); err != nil {
		return err
	}
	if err := validateSampling("anthropic", c.Anthropic.Temperature, nil); err != nil {
		return err
	}
	if c.Anthropic.MaxTokens < 0 {
		return errors.Newf("anthropic.max_tokens must be >= 0, got %d", c.Anthropic.MaxTokens)
	}

	return nil
}

func validateSampling(section string, temperature *float64, maxTokens *int) error {
	if temperature != nil && (*temperature < 0 || *temperature > 2) {
		return errors.Newf("%s.temperature must be between 0 and 2, got %g", section, *temperature)
	}
	if maxTokens != nil && *maxTokens < 1 {
		return errors.Newf("%s.max_tokens must be >= 1, got %d (omit for model default)", section, *maxTokens)
	}
	return nil
}

// RequireCredentials checks that the named provider can authenticate.
// Local inference needs none.
func (c *Config) RequireCredentials(provider string) error {
	switch provider {
	case "openai":
		if c.OpenAI.APIKey == "" {
			return errors.WithHint(errors.New("openai API key not configured"),
				"set api_key under [openai] in am.toml, or export OPENAI_API_KEY")
		}
	case "openrouter":
		if c.OpenRouter.APIKey == "" {
			return errors.WithHint(errors.New("openrouter API key not configured"),
				"set api_key under [openrouter] in am.toml, or export OPENROUTER_API_KEY")
		}
	case "anthropic":
		if c.Anthropic.APIKey == "" {
			return errors.WithHint(errors.New("anthropic API key not configured"),
				"set api_key under [anthropic] in am.toml, or export ANTHROPIC_API_KEY")
		}
	case "local":
		if !c.LocalInference.Enabled {
			return errors.WithHint(errors.New("local inference is disabled"),
				"set enabled = true under [local_inference] in am.toml")
		}
	default:
		return errors.NewInvalidRequestError("unknown provider %q", provider)
	}
	return nil
}
