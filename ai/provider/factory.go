// Package provider turns configured model APIs into chain invokers: provider
// selection, the local inference client and the chain.Invoker adapters.
package provider

import (
	"context"
	"database/sql"
	"strings"

	"go.uber.org/zap"

	"github.com/teranos/chainable/ai/anthropic"
	"github.com/teranos/chainable/ai/openai"
	"github.com/teranos/chainable/am"
	"github.com/teranos/chainable/errors"
)

// Provider represents an LLM provider type
type Provider string

const (
	// ProviderLocal uses local inference (Ollama, LocalAI)
	ProviderLocal Provider = "local"
	// ProviderOpenAI uses the OpenAI API or a compatible gateway
	ProviderOpenAI Provider = "openai"
	// ProviderOpenRouter uses OpenRouter.ai API
	ProviderOpenRouter Provider = "openrouter"
	// ProviderAnthropic uses direct Anthropic API
	ProviderAnthropic Provider = "anthropic"
	// ProviderAuto automatically selects based on configuration
	ProviderAuto Provider = "auto"
)

// AIClient interface for all LLM providers
type AIClient interface {
	Chat(ctx context.Context, req openai.ChatRequest) (*openai.ChatResponse, error)
}

// ClientConfig holds common configuration for creating AI clients
type ClientConfig struct {
	DB            *sql.DB
	Logger        *zap.SugaredLogger
	OperationType string
	EntityType    string
	EntityID      string

	// Model overrides the configured model of whichever provider is chosen
	Model string
}

// NewAIClient creates an AI client for provider.
// ProviderAuto picks the first usable one: local (if enabled), anthropic,
// openai, then openrouter (by API key presence).
func NewAIClient(cfg *am.Config, provider Provider, clientCfg ClientConfig) (AIClient, error) {
	resolved, err := Resolve(cfg, provider)
	if err != nil {
		return nil, err
	}
	if err := cfg.RequireCredentials(string(resolved)); err != nil {
		return nil, err
	}

	switch resolved {
	case ProviderLocal:
		return newLocalClient(cfg, clientCfg), nil
	case ProviderAnthropic:
		return newAnthropicClient(cfg, clientCfg), nil
	case ProviderOpenRouter:
		return newOpenRouterClient(cfg, clientCfg), nil
	default:
		return newOpenAIClient(cfg, clientCfg), nil
	}
}

// Resolve turns ProviderAuto into a concrete provider; others pass through
func Resolve(cfg *am.Config, provider Provider) (Provider, error) {
	if provider != ProviderAuto && provider != "" {
		return provider, nil
	}

	available := GetAvailableProviders(cfg)
	if len(available) == 0 {
		return "", errors.WithHint(
			errors.New("no model provider configured"),
			"enable [local_inference] or set one of ANTHROPIC_API_KEY, OPENAI_API_KEY, OPENROUTER_API_KEY")
	}
	return available[0], nil
}

// GetAvailableProviders returns the configured providers in auto-selection order
func GetAvailableProviders(cfg *am.Config) []Provider {
	var providers []Provider

	if cfg.LocalInference.Enabled && cfg.LocalInference.BaseURL != "" {
		providers = append(providers, ProviderLocal)
	}
	if cfg.Anthropic.APIKey != "" {
		providers = append(providers, ProviderAnthropic)
	}
	if cfg.OpenAI.APIKey != "" {
		providers = append(providers, ProviderOpenAI)
	}
	if cfg.OpenRouter.APIKey != "" {
		providers = append(providers, ProviderOpenRouter)
	}

	return providers
}

// ParseProvider converts a string to a Provider type
func ParseProvider(s string) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "local", "ollama", "localai":
		return ProviderLocal, nil
	case "openai", "gpt":
		return ProviderOpenAI, nil
	case "openrouter", "or":
		return ProviderOpenRouter, nil
	case "anthropic", "claude":
		return ProviderAnthropic, nil
	case "auto", "":
		return ProviderAuto, nil
	default:
		return "", errors.NewInvalidRequestError("unknown provider: %s (valid: local, openai, openrouter, anthropic, auto)", s)
	}
}

func pick(override, configured string) string {
	if override != "" {
		return override
	}
	return configured
}

// newLocalClient creates a local inference client
func newLocalClient(cfg *am.Config, clientCfg ClientConfig) AIClient {
	local := cfg.LocalInference
	local.Model = pick(clientCfg.Model, local.Model)
	return NewLocalProvider(local, clientCfg)
}

// newAnthropicClient creates an Anthropic API client
func newAnthropicClient(cfg *am.Config, clientCfg ClientConfig) AIClient {
	return anthropic.NewClient(anthropic.Config{
		APIKey:        cfg.Anthropic.APIKey,
		BaseURL:       cfg.Anthropic.BaseURL,
		Model:         pick(clientCfg.Model, cfg.Anthropic.Model),
		Temperature:   cfg.Anthropic.Temperature,
		MaxTokens:     cfg.Anthropic.MaxTokens,
		Logger:        clientCfg.Logger,
		DB:            clientCfg.DB,
		OperationType: clientCfg.OperationType,
		EntityType:    clientCfg.EntityType,
		EntityID:      clientCfg.EntityID,
	})
}

// newOpenAIClient creates an OpenAI API client
func newOpenAIClient(cfg *am.Config, clientCfg ClientConfig) AIClient {
	return openai.NewClient(openai.Config{
		APIKey:              cfg.OpenAI.APIKey,
		BaseURL:             cfg.OpenAI.BaseURL,
		Model:               pick(clientCfg.Model, cfg.OpenAI.Model),
		Temperature:         cfg.OpenAI.Temperature,
		MaxTokens:           cfg.OpenAI.MaxTokens,
		ProviderName:        string(ProviderOpenAI),
		AllowPrivateNetwork: cfg.OpenAI.AllowPrivateNetwork,
		Logger:              clientCfg.Logger,
		DB:                  clientCfg.DB,
		OperationType:       clientCfg.OperationType,
		EntityType:          clientCfg.EntityType,
		EntityID:            clientCfg.EntityID,
	})
}

// newOpenRouterClient creates an OpenRouter API client; OpenRouter speaks the OpenAI protocol
func newOpenRouterClient(cfg *am.Config, clientCfg ClientConfig) AIClient {
	return openai.NewClient(openai.Config{
		APIKey:        cfg.OpenRouter.APIKey,
		BaseURL:       openai.OpenRouterBaseURL,
		Model:         pick(clientCfg.Model, cfg.OpenRouter.Model),
		Temperature:   cfg.OpenRouter.Temperature,
		MaxTokens:     cfg.OpenRouter.MaxTokens,
		ProviderName:  string(ProviderOpenRouter),
		Logger:        clientCfg.Logger,
		DB:            clientCfg.DB,
		OperationType: clientCfg.OperationType,
		EntityType:    clientCfg.EntityType,
		EntityID:      clientCfg.EntityID,
	})
}

// Verify interfaces are implemented
var _ AIClient = (*openai.Client)(nil)
var _ AIClient = (*anthropic.Client)(nil)
var _ AIClient = (*LocalProvider)(nil)
