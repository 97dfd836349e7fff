package am

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pelletier/go-toml/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/chainable/errors"
)

func readBack(t *testing.T, path string) map[string]interface{} {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var m map[string]interface{}
	require.NoError(t, toml.Unmarshal(data, &m))
	return m
}

func TestSetValue_CreatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", ConfigFileName)

	require.NoError(t, SetValue(path, "chain.provider", "anthropic"))
	require.NoError(t, SetValue(path, "chain.max_context_window", "3"))
	require.NoError(t, SetValue(path, "chain.transcript", "true"))
	require.NoError(t, SetValue(path, "openai.temperature", "0.2"))

	chain := readBack(t, path)["chain"].(map[string]interface{})
	assert.Equal(t, "anthropic", chain["provider"])
	assert.Equal(t, int64(3), chain["max_context_window"])
	assert.Equal(t, true, chain["transcript"])

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, 3, *cfg.Chain.MaxContextWindow)
	assert.Equal(t, 0.2, *cfg.OpenAI.Temperature)
}

func TestSetValue_KeepsOtherSettings(t *testing.T) {
	path := filepath.Join(t.TempDir(), ConfigFileName)
	require.NoError(t, os.WriteFile(path, []byte("[anthropic]\nmodel = \"claude-3-5-haiku-latest\"\n"), 0644))

	require.NoError(t, SetValue(path, "anthropic.max_tokens", "1024"))

	anthropic := readBack(t, path)["anthropic"].(map[string]interface{})
	assert.Equal(t, "claude-3-5-haiku-latest", anthropic["model"])
	assert.Equal(t, int64(1024), anthropic["max_tokens"])
}

func TestSetValue_Rejects(t *testing.T) {
	path := filepath.Join(t.TempDir(), ConfigFileName)

	t.Run("unknown key", func(t *testing.T) {
		err := SetValue(path, "chain.nope", "1")
		require.Error(t, err)
		assert.True(t, errors.IsNotFoundError(err))
	})

	t.Run("section is not a leaf", func(t *testing.T) {
		require.Error(t, SetValue(path, "chain", "1"))
	})

	t.Run("invalid value", func(t *testing.T) {
		err := SetValue(path, "chain.on_step_error", "retry")
		require.Error(t, err)
		_, statErr := os.Stat(path)
		assert.True(t, os.IsNotExist(statErr), "invalid config must not be written")
	})
}

func TestSetValue_RotatesBackups(t *testing.T) {
	path := filepath.Join(t.TempDir(), ConfigFileName)

	for _, provider := range []string{"openai", "anthropic", "local", "openrouter", "auto"} {
		require.NoError(t, SetValue(path, "chain.provider", provider))
	}

	back1, err := os.ReadFile(path + ".back1")
	require.NoError(t, err)
	assert.Contains(t, string(back1), "openrouter")

	back3, err := os.ReadFile(path + ".back3")
	require.NoError(t, err)
	assert.Contains(t, string(back3), "anthropic")

	_, err = os.Stat(path + ".back4")
	assert.True(t, os.IsNotExist(err))
}

func TestInferValue(t *testing.T) {
	assert.Equal(t, true, inferValue("true"))
	assert.Equal(t, false, inferValue("FALSE"))
	assert.Equal(t, int64(1), inferValue("1"))
	assert.Equal(t, 0.5, inferValue("0.5"))
	assert.Equal(t, "gpt-4o", inferValue("gpt-4o"))
}

func TestIsKnownKey(t *testing.T) {
	assert.True(t, IsKnownKey("chain.provider"))
	assert.True(t, IsKnownKey("chain.max_context_window"))
	assert.True(t, IsKnownKey("local_inference.context_size"))
	assert.True(t, IsKnownKey("database.path"))
	assert.False(t, IsKnownKey("chain"))
	assert.False(t, IsKnownKey("chain.provider.extra"))
	assert.False(t, IsKnownKey("pulse.workers"))
}
