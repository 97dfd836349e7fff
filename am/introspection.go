package am

import (
	"os"
	"sort"
	"strings"

	"github.com/teranos/chainable/errors"
)

// ConfigSource represents where a configuration value came from
type ConfigSource string

const (
	SourceDefault     ConfigSource = "default"
	SourceSystem      ConfigSource = "system"      // /etc/chainable/am.toml
	SourceUser        ConfigSource = "user"        // ~/.chainable/am.toml
	SourceProject     ConfigSource = "project"     // nearest am.toml upward
	SourceEnvironment ConfigSource = "environment" // CHAINABLE_* and provider key env vars
)

// SourceInfo tracks where a configuration value originated
type SourceInfo struct {
	Source ConfigSource // The type of config source (default, system, user, etc.)
	Path   string       // File path or environment variable name
}

// SettingInfo contains metadata about a configuration setting
type SettingInfo struct {
	Key        string       `json:"key" yaml:"key"`
	Value      interface{}  `json:"value" yaml:"value"`
	Source     ConfigSource `json:"source" yaml:"source"`
	SourcePath string       `json:"source_path,omitempty" yaml:"source_path,omitempty"`
}

// ConfigIntrospection provides metadata about the active configuration
type ConfigIntrospection struct {
	ConfigFiles []string      `json:"config_files" yaml:"config_files"`
	Settings    []SettingInfo `json:"settings" yaml:"settings"`
}

// sensitiveEnv lists the extra environment names bound in BindSensitiveEnvVars
var sensitiveEnv = map[string]string{
	"openai.api_key":     "OPENAI_API_KEY",
	"openrouter.api_key": "OPENROUTER_API_KEY",
	"anthropic.api_key":  "ANTHROPIC_API_KEY",
}

// GetConfigIntrospection returns every effective setting with the layer that set it.
// API keys are redacted.
func GetConfigIntrospection() (*ConfigIntrospection, error) {
	v, err := GetViper()
	if err != nil {
		return nil, errors.Wrap(err, "failed to load config for introspection")
	}

	introspection := &ConfigIntrospection{
		ConfigFiles: ConfigFiles(),
		Settings:    make([]SettingInfo, 0),
	}

	keys := v.AllKeys()
	sort.Strings(keys)

	for _, key := range keys {
		value := v.Get(key)
		if IsSensitiveKey(key) {
			s, _ := value.(string)
			value = redact(s)
		}

		info := sourceOf(key)
		introspection.Settings = append(introspection.Settings, SettingInfo{
			Key:        key,
			Value:      value,
			Source:     info.Source,
			SourcePath: info.Path,
		})
	}

	return introspection, nil
}

// IsSensitiveKey reports whether key holds a secret that must be masked for display
func IsSensitiveKey(key string) bool {
	return strings.HasSuffix(key, "api_key")
}

// Redact masks a secret for display, keeping its first and last four characters
func Redact(secret string) string {
	return redact(secret)
}

// sourceOf resolves the winning layer for key: environment beats files beats defaults
func sourceOf(key string) SourceInfo {
	envKey := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
	if os.Getenv(envKey) != "" {
		return SourceInfo{Source: SourceEnvironment, Path: envKey}
	}
	if alt, ok := sensitiveEnv[key]; ok && os.Getenv(alt) != "" {
		return SourceInfo{Source: SourceEnvironment, Path: alt}
	}
	if info, ok := ConfigSources[key]; ok {
		return info
	}
	return SourceInfo{Source: SourceDefault, Path: "built-in default"}
}
