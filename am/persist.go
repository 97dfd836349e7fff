package am

import (
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/teranos/chainable/errors"
	"github.com/teranos/chainable/logger"
)

// SetValue writes key = value into the TOML file at configPath, creating it if needed.
// The raw value is typed as bool, int, float or string in that order, and the
// resulting file must still load and validate before anything is written.
func SetValue(configPath, key, raw string) error {
	if !IsKnownKey(key) {
		return errors.WithHint(
			errors.NewNotFoundError("unknown config key %s", key),
			"run 'chainable am show' to list available keys")
	}

	config, err := readTOMLMap(configPath)
	if err != nil {
		return err
	}

	parts := strings.Split(key, ".")
	section := config
	for _, part := range parts[:len(parts)-1] {
		next, ok := section[part].(map[string]interface{})
		if !ok {
			next = make(map[string]interface{})
			section[part] = next
		}
		section = next
	}
	section[parts[len(parts)-1]] = inferValue(raw)

	data, err := toml.Marshal(config)
	if err != nil {
		return errors.Wrap(err, "failed to marshal config")
	}

	if err := validateTOML(data); err != nil {
		return errors.Wrapf(err, "refusing to set %s", key)
	}

	if err := os.MkdirAll(filepath.Dir(configPath), DefaultDirPermissions); err != nil {
		return errors.Wrap(err, "failed to create config directory")
	}
	if err := createBackup(configPath); err != nil {
		return errors.Wrap(err, "failed to create backup")
	}
	if err := os.WriteFile(configPath, data, DefaultFilePermissions); err != nil {
		return errors.Wrapf(err, "failed to write %s", configPath)
	}

	Reset()
	return nil
}

// readTOMLMap loads a TOML file as a generic map; a missing file is empty
func readTOMLMap(configPath string) (map[string]interface{}, error) {
	config := make(map[string]interface{})

	data, err := os.ReadFile(configPath)
	if os.IsNotExist(err) {
		return config, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", configPath)
	}

	if err := toml.Unmarshal(data, &config); err != nil {
		return nil, errors.WithHintf(
			errors.Wrapf(err, "failed to parse %s", configPath),
			"fix the file by hand or restore %s.back1", configPath)
	}
	return config, nil
}

// validateTOML loads data over the defaults and runs Validate
func validateTOML(data []byte) error {
	tmp, err := os.CreateTemp("", "chainable-am-*.toml")
	if err != nil {
		return errors.Wrap(err, "failed to create temp file")
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrap(err, "failed to write temp file")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "failed to close temp file")
	}

	config, err := LoadFromFile(tmp.Name())
	if err != nil {
		return err
	}
	return config.Validate()
}

// inferValue types a command-line value: bool, then int, then float, else string
func inferValue(raw string) interface{} {
	switch strings.ToLower(raw) {
	case "true":
		return true
	case "false":
		return false
	}
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}
	return raw
}

// IsKnownKey reports whether key names a leaf field of Config
func IsKnownKey(key string) bool {
	t := reflect.TypeOf(Config{})
	for _, part := range strings.Split(key, ".") {
		field, ok := fieldByTag(t, part)
		if !ok {
			return false
		}
		t = field.Type
		if t.Kind() == reflect.Ptr {
			t = t.Elem()
		}
	}
	return t.Kind() != reflect.Struct
}

func fieldByTag(t reflect.Type, name string) (reflect.StructField, bool) {
	if t.Kind() != reflect.Struct {
		return reflect.StructField{}, false
	}
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if strings.Split(field.Tag.Get("mapstructure"), ",")[0] == name {
			return field, true
		}
	}
	return reflect.StructField{}, false
}

// createBackup creates rotating backups (.back1, .back2, .back3) before modifying config
func createBackup(configPath string) error {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil
	}

	back3 := configPath + ".back3"
	back2 := configPath + ".back2"
	back1 := configPath + ".back1"

	if err := os.Remove(back3); err != nil && !os.IsNotExist(err) {
		logger.Warnw("Failed to delete old backup", "path", back3, "error", err)
	}

	if _, err := os.Stat(back2); err == nil {
		if err := os.Rename(back2, back3); err != nil {
			return errors.Wrap(err, "failed to rotate .back2 to .back3")
		}
	}
	if _, err := os.Stat(back1); err == nil {
		if err := os.Rename(back1, back2); err != nil {
			return errors.Wrap(err, "failed to rotate .back1 to .back2")
		}
	}

	content, err := os.ReadFile(configPath)
	if err != nil {
		return errors.Wrap(err, "failed to read config for backup")
	}
	if err := os.WriteFile(back1, content, DefaultFilePermissions); err != nil {
		return errors.Wrap(err, "failed to create .back1")
	}

	return nil
}
