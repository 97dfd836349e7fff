package am

import (
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment overrides (CHAINABLE_CHAIN_PROVIDER, ...)
const EnvPrefix = "CHAINABLE"

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	// Chain engine defaults
	v.SetDefault("chain.provider", "auto")
	v.SetDefault("chain.max_context_window", 5)
	v.SetDefault("chain.on_step_error", "continue")
	v.SetDefault("chain.reply_mode", "json")
	v.SetDefault("chain.requests_per_minute", 0) // Unlimited
	v.SetDefault("chain.system_prompt", "")
	v.SetDefault("chain.transcript", false)

	// Local Inference (Ollama) defaults
	v.SetDefault("local_inference.enabled", false)
	v.SetDefault("local_inference.base_url", "http://localhost:11434")
	v.SetDefault("local_inference.model", "llama3.2:3b")
	v.SetDefault("local_inference.api", LocalAPIChat)
	v.SetDefault("local_inference.timeout_seconds", 600)

	// OpenAI defaults
	v.SetDefault("openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("openai.model", "gpt-4o-mini")
	v.SetDefault("openai.temperature", 0.7)

	// OpenRouter defaults
	v.SetDefault("openrouter.model", "openai/gpt-4o-mini")
	v.SetDefault("openrouter.temperature", 0.7)

	// Anthropic defaults
	v.SetDefault("anthropic.base_url", "https://api.anthropic.com/v1")
	v.SetDefault("anthropic.model", "claude-sonnet-4-20250514")
	v.SetDefault("anthropic.max_tokens", 4096)

	// Output defaults
	v.SetDefault("output.dir", ".")
	v.SetDefault("output.store_runs", false)
}

// BindSensitiveEnvVars explicitly binds sensitive configuration to environment variables.
// The conventional provider variables work alongside the CHAINABLE_ prefixed ones.
func BindSensitiveEnvVars(v *viper.Viper) {
	v.BindEnv("openai.api_key", EnvPrefix+"_OPENAI_API_KEY", "OPENAI_API_KEY")
	v.BindEnv("openrouter.api_key", EnvPrefix+"_OPENROUTER_API_KEY", "OPENROUTER_API_KEY")
	v.BindEnv("anthropic.api_key", EnvPrefix+"_ANTHROPIC_API_KEY", "ANTHROPIC_API_KEY")

	v.BindEnv("database.path", EnvPrefix+"_DATABASE_PATH")
	v.BindEnv("local_inference.base_url", EnvPrefix+"_LOCAL_INFERENCE_BASE_URL")
}
