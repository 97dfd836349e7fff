package am

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/viper"

	"github.com/teranos/chainable/errors"
)

// SystemConfigPath is the lowest-precedence config file
const SystemConfigPath = "/etc/chainable/am.toml"

var (
	loadMu        sync.Mutex
	globalConfig  *Config
	viperInstance *viper.Viper

	// ConfigSources records which layer set each dotted key during the last load
	ConfigSources = map[string]SourceInfo{}
)

// configLayer is one config file in precedence order
type configLayer struct {
	source ConfigSource
	path   string
}

// Load reads the chainable configuration using Viper.
// Precedence (lowest to highest): defaults < system < user < project < env vars
func Load() (*Config, error) {
	loadMu.Lock()
	defer loadMu.Unlock()

	if globalConfig != nil {
		return globalConfig, nil
	}

	v, err := initViper()
	if err != nil {
		return nil, err
	}

	config, err := LoadWithViper(v)
	if err != nil {
		return nil, err
	}

	globalConfig = config
	return globalConfig, nil
}

// GetViper returns the Viper instance for advanced configuration access
func GetViper() (*viper.Viper, error) {
	loadMu.Lock()
	defer loadMu.Unlock()
	return initViper()
}

// LoadWithViper loads configuration using a provided Viper instance
func LoadWithViper(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}
	return &config, nil
}

// LoadFromFile loads configuration from a specific file path, on top of defaults
func LoadFromFile(configPath string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)
	v.SetConfigFile(configPath)
	v.SetConfigType("toml")

	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "failed to read config file %s", configPath)
	}

	config, err := LoadWithViper(v)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load config from %s", configPath)
	}
	return config, nil
}

// Reset clears the cached configuration (useful for testing and hot reload)
func Reset() {
	loadMu.Lock()
	defer loadMu.Unlock()
	globalConfig = nil
	viperInstance = nil
	ConfigSources = map[string]SourceInfo{}
}

// initViper initializes Viper with configuration sources and defaults.
// Callers hold loadMu.
func initViper() (*viper.Viper, error) {
	if viperInstance != nil {
		return viperInstance, nil
	}

	v := viper.New()

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	BindSensitiveEnvVars(v)

	SetDefaults(v)

	sources := map[string]SourceInfo{}
	if err := mergeConfigFiles(v, configLayers(), sources); err != nil {
		return nil, err
	}

	ConfigSources = sources
	viperInstance = v
	return v, nil
}

// configLayers lists the config files to merge, lowest precedence first
func configLayers() []configLayer {
	layers := []configLayer{
		{source: SourceSystem, path: SystemConfigPath},
		{source: SourceUser, path: UserConfigPath()},
	}
	if wd, err := os.Getwd(); err == nil {
		if project := findProjectConfig(wd); project != "" && project != UserConfigPath() {
			layers = append(layers, configLayer{source: SourceProject, path: project})
		}
	}
	return layers
}

// ConfigFiles returns the config files that exist, lowest precedence first
func ConfigFiles() []string {
	var files []string
	for _, layer := range configLayers() {
		if _, err := os.Stat(layer.path); err == nil {
			files = append(files, layer.path)
		}
	}
	return files
}

// findProjectConfig searches for am.toml by walking up from dir.
// Returns the path to the first file found, or empty string if none found.
func findProjectConfig(dir string) string {
	for {
		candidate := filepath.Join(dir, ConfigFileName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// mergeConfigFiles merges each existing layer into v and records where every key came from.
// MergeConfigMap keeps environment variables above file values.
func mergeConfigFiles(v *viper.Viper, layers []configLayer, sources map[string]SourceInfo) error {
	for _, layer := range layers {
		if _, err := os.Stat(layer.path); err != nil {
			continue
		}

		fileViper := viper.New()
		fileViper.SetConfigFile(layer.path)
		fileViper.SetConfigType("toml")
		if err := fileViper.ReadInConfig(); err != nil {
			return errors.WithHintf(
				errors.Wrapf(err, "failed to parse %s config", layer.source),
				"fix or remove %s", layer.path)
		}

		settings := fileViper.AllSettings()
		if err := v.MergeConfigMap(settings); err != nil {
			return errors.Wrapf(err, "failed to merge %s", layer.path)
		}
		markSettingsFromSource(settings, "", layer.source, layer.path, sources)
	}
	return nil
}

// markSettingsFromSource records source for every leaf key under settings
func markSettingsFromSource(settings map[string]interface{}, prefix string, source ConfigSource, path string, sources map[string]SourceInfo) {
	for key, value := range settings {
		fullKey := key
		if prefix != "" {
			fullKey = prefix + "." + key
		}
		if nested, ok := value.(map[string]interface{}); ok {
			markSettingsFromSource(nested, fullKey, source, path, sources)
			continue
		}
		sources[fullKey] = SourceInfo{Source: source, Path: path}
	}
}

// Get returns a configuration value using dot notation
func Get(key string) (interface{}, error) {
	v, err := GetViper()
	if err != nil {
		return nil, err
	}
	if !v.IsSet(key) {
		return nil, errors.NewNotFoundError("config key %s", key)
	}
	return v.Get(key), nil
}
