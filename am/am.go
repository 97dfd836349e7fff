// Package am ("as configured") holds chainable's configuration: the am.toml
// schema, defaults, layered loading through viper, validation and hot reload.
package am

import (
	"fmt"
	"os"
	"path/filepath"
)

// Config represents the chainable configuration
type Config struct {
	Chain          ChainConfig          `mapstructure:"chain" json:"chain" yaml:"chain" toml:"chain"`
	LocalInference LocalInferenceConfig `mapstructure:"local_inference" json:"local_inference" yaml:"local_inference" toml:"local_inference"`
	OpenAI         OpenAIConfig         `mapstructure:"openai" json:"openai" yaml:"openai" toml:"openai"`
	OpenRouter     OpenRouterConfig     `mapstructure:"openrouter" json:"openrouter" yaml:"openrouter" toml:"openrouter"`
	Anthropic      AnthropicConfig      `mapstructure:"anthropic" json:"anthropic" yaml:"anthropic" toml:"anthropic"`
	Output         OutputConfig         `mapstructure:"output" json:"output" yaml:"output" toml:"output"`
	Database       DatabaseConfig       `mapstructure:"database" json:"database" yaml:"database" toml:"database"`
}

// ChainConfig holds engine defaults; a chain document overrides them per run
type ChainConfig struct {
	// Provider is local, openai, openrouter, anthropic or auto
	Provider string `mapstructure:"provider" json:"provider" yaml:"provider" toml:"provider"`

	// MaxContextWindow: nil = 5, 0 = no previous context
	MaxContextWindow *int `mapstructure:"max_context_window" json:"max_context_window,omitempty" yaml:"max_context_window,omitempty" toml:"max_context_window,omitempty"`

	OnStepError string `mapstructure:"on_step_error" json:"on_step_error" yaml:"on_step_error" toml:"on_step_error"` // continue | abort
	ReplyMode   string `mapstructure:"reply_mode" json:"reply_mode" yaml:"reply_mode" toml:"reply_mode"`             // json | text

	// RequestsPerMinute throttles model calls (0 = unlimited)
	RequestsPerMinute int    `mapstructure:"requests_per_minute" json:"requests_per_minute" yaml:"requests_per_minute" toml:"requests_per_minute"`
	SystemPrompt      string `mapstructure:"system_prompt" json:"system_prompt" yaml:"system_prompt" toml:"system_prompt"`

	// Transcript sends the whole conversation instead of the context window
	Transcript bool `mapstructure:"transcript" json:"transcript" yaml:"transcript" toml:"transcript"`
}

// LocalInferenceConfig configures local model inference (Ollama, LocalAI, etc.)
type LocalInferenceConfig struct {
	Enabled bool   `mapstructure:"enabled" json:"enabled" yaml:"enabled" toml:"enabled"`
	BaseURL string `mapstructure:"base_url" json:"base_url" yaml:"base_url" toml:"base_url"` // e.g., "http://localhost:11434" for Ollama
	Model   string `mapstructure:"model" json:"model" yaml:"model" toml:"model"`

	// API is chat (/v1/chat/completions) or generate (/api/generate)
	API            string `mapstructure:"api" json:"api" yaml:"api" toml:"api"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds" json:"timeout_seconds" yaml:"timeout_seconds" toml:"timeout_seconds"`

	// ContextSize sets Ollama's num_ctx (nil = model default)
	ContextSize *int `mapstructure:"context_size" json:"context_size,omitempty" yaml:"context_size,omitempty" toml:"context_size,omitempty"`
}

// OpenAIConfig configures the OpenAI API, or any gateway speaking its protocol
type OpenAIConfig struct {
	APIKey      string   `mapstructure:"api_key" json:"api_key" yaml:"api_key" toml:"api_key"`
	BaseURL     string   `mapstructure:"base_url" json:"base_url" yaml:"base_url" toml:"base_url"`
	Model       string   `mapstructure:"model" json:"model" yaml:"model" toml:"model"`
	Temperature *float64 `mapstructure:"temperature" json:"temperature,omitempty" yaml:"temperature,omitempty" toml:"temperature,omitempty"`
	MaxTokens   *int     `mapstructure:"max_tokens" json:"max_tokens,omitempty" yaml:"max_tokens,omitempty" toml:"max_tokens,omitempty"`

	// AllowPrivateNetwork permits self-hosted gateways on private addresses
	AllowPrivateNetwork bool `mapstructure:"allow_private_network" json:"allow_private_network" yaml:"allow_private_network" toml:"allow_private_network"`
}

// OpenRouterConfig configures OpenRouter.ai API access
type OpenRouterConfig struct {
	APIKey      string   `mapstructure:"api_key" json:"api_key" yaml:"api_key" toml:"api_key"`
	Model       string   `mapstructure:"model" json:"model" yaml:"model" toml:"model"` // e.g., "openai/gpt-4o-mini"
	Temperature *float64 `mapstructure:"temperature" json:"temperature,omitempty" yaml:"temperature,omitempty" toml:"temperature,omitempty"`
	MaxTokens   *int     `mapstructure:"max_tokens" json:"max_tokens,omitempty" yaml:"max_tokens,omitempty" toml:"max_tokens,omitempty"`
}

// AnthropicConfig configures direct Anthropic API access
type AnthropicConfig struct {
	APIKey      string   `mapstructure:"api_key" json:"api_key" yaml:"api_key" toml:"api_key"`
	BaseURL     string   `mapstructure:"base_url" json:"base_url" yaml:"base_url" toml:"base_url"`
	Model       string   `mapstructure:"model" json:"model" yaml:"model" toml:"model"`
	Temperature *float64 `mapstructure:"temperature" json:"temperature,omitempty" yaml:"temperature,omitempty" toml:"temperature,omitempty"`
	MaxTokens   int      `mapstructure:"max_tokens" json:"max_tokens" yaml:"max_tokens" toml:"max_tokens"`
}

// OutputConfig configures where chain results are written
type OutputConfig struct {
	Dir       string `mapstructure:"dir" json:"dir" yaml:"dir" toml:"dir"`                             // Markdown chapter files
	StoreRuns bool   `mapstructure:"store_runs" json:"store_runs" yaml:"store_runs" toml:"store_runs"` // also record runs in the database
}

// DatabaseConfig configures the SQLite database
type DatabaseConfig struct {
	Path string `mapstructure:"path" json:"path" yaml:"path" toml:"path"` // "" = ~/.chainable/chainable.db
}

// Local inference API flavours
const (
	LocalAPIChat     = "chat"
	LocalAPIGenerate = "generate"
)

// File system constants
const (
	DefaultDirPermissions  = 0755 // Standard directory permissions (rwxr-xr-x)
	DefaultFilePermissions = 0644 // Standard file permissions (rw-r--r--)

	// ConfigFileName is the name searched for in every config layer
	ConfigFileName = "am.toml"

	// DefaultDatabaseName lives in ConfigDir
	DefaultDatabaseName = "chainable.db"
)

// ConfigDir returns ~/.chainable
func ConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".chainable"
	}
	return filepath.Join(home, ".chainable")
}

// UserConfigPath returns ~/.chainable/am.toml
func UserConfigPath() string {
	return filepath.Join(ConfigDir(), ConfigFileName)
}

// GetDatabasePath returns the configured database path
func (c *Config) GetDatabasePath() string {
	if c.Database.Path == "" {
		return filepath.Join(ConfigDir(), DefaultDatabaseName)
	}
	return c.Database.Path
}

// String returns a string representation of the config with secrets left out
func (c *Config) String() string {
	return fmt.Sprintf("Config{Chain: {Provider: %s, ReplyMode: %s}, Output: %s, Database: %s}",
		c.Chain.Provider, c.Chain.ReplyMode, c.Output.Dir, c.GetDatabasePath())
}

// Redacted returns a copy with API keys masked, for display
func (c Config) Redacted() Config {
	c.OpenAI.APIKey = redact(c.OpenAI.APIKey)
	c.OpenRouter.APIKey = redact(c.OpenRouter.APIKey)
	c.Anthropic.APIKey = redact(c.Anthropic.APIKey)
	return c
}

func redact(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 8 {
		return "****"
	}
	return secret[:4] + "****" + secret[len(secret)-4:]
}
