package chainfile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/chainable/chain"
	"github.com/teranos/chainable/errors"
)

const yamlChain = `
name: pip-story
description: A short story
requires: ">= 0.3.0"
model: llama3.2
max_context_window: 2
on_step_error: abort
context:
  name: Pip
  traits:
    - brave
prompts:
  - Tell a story about {{name}}.
  - Continue.
output:
  dir: stories
`

const tomlChain = `
name = "pip-story"
reply_mode = "text"
prompts = ["Tell a story about {{name}}.", "Continue."]

[context]
name = "Pip"

[output]
name = "pip"
`

func TestParse_YAML(t *testing.T) {
	doc, err := Parse([]byte(yamlChain), FormatYAML)
	require.NoError(t, err)

	assert.Equal(t, "pip-story", doc.Name)
	assert.Equal(t, "llama3.2", doc.Model)
	assert.Equal(t, []string{"Tell a story about {{name}}.", "Continue."}, doc.Prompts)
	assert.Equal(t, "Pip", doc.Context["name"])
	assert.Equal(t, "stories", doc.Output.Dir)
	require.NotNil(t, doc.MaxContextWindow)
	assert.Equal(t, 2, *doc.MaxContextWindow)

	opts, err := doc.EngineOptions()
	require.NoError(t, err)
	assert.Equal(t, chain.StepErrorAbort, opts.OnStepError)
	assert.Equal(t, 2, *opts.MaxContextWindow)
	assert.Nil(t, opts.Schema)
}

func TestParse_TOML(t *testing.T) {
	doc, err := Parse([]byte(tomlChain), FormatTOML)
	require.NoError(t, err)

	assert.Equal(t, "pip-story", doc.Name)
	assert.Len(t, doc.Prompts, 2)
	assert.Equal(t, "pip", doc.OutputName("chain"))
	assert.Nil(t, doc.MaxContextWindow)

	opts, err := doc.EngineOptions()
	require.NoError(t, err)
	assert.Equal(t, chain.ReplyText, opts.ReplyMode)
}

func TestParse_Invalid(t *testing.T) {
	_, err := Parse([]byte("prompts: [unclosed"), FormatYAML)
	assert.Error(t, err)

	_, err = Parse([]byte("prompts = "), FormatTOML)
	assert.Error(t, err)

	_, err = Parse([]byte("{}"), Format("json"))
	assert.Error(t, err)
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()

	yamlPath := filepath.Join(dir, "story.yml")
	require.NoError(t, os.WriteFile(yamlPath, []byte(yamlChain), 0644))
	doc, err := Load(yamlPath)
	require.NoError(t, err)
	assert.Equal(t, "pip-story", doc.Name)

	tomlPath := filepath.Join(dir, "story.toml")
	require.NoError(t, os.WriteFile(tomlPath, []byte(tomlChain), 0644))
	doc, err = Load(tomlPath)
	require.NoError(t, err)
	assert.Equal(t, "Pip", doc.Vars()["name"])

	_, err = Load(filepath.Join(dir, "story.txt"))
	assert.True(t, errors.IsInvalidRequestError(err))

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		doc     Document
		version string
		wantErr string
	}{
		{"ok", Document{Prompts: []string{"a"}}, "1.0.0", ""},
		{"no prompts", Document{}, "1.0.0", "no prompts"},
		{"blank prompt", Document{Prompts: []string{"a", "  "}}, "1.0.0", "prompt 2 is empty"},
		{"bad policy", Document{Prompts: []string{"a"}, OnStepError: "retry"}, "1.0.0", "on_step_error"},
		{"negative window", Document{Prompts: []string{"a"}, MaxContextWindow: intPtr(-1)}, "1.0.0", "max_context_window"},
		{"requires satisfied", Document{Prompts: []string{"a"}, Requires: ">= 0.3.0"}, "0.4.1", ""},
		{"requires unsatisfied", Document{Prompts: []string{"a"}, Requires: ">= 2.0.0"}, "0.4.1", "requires chainable"},
		{"requires skipped for dev", Document{Prompts: []string{"a"}, Requires: ">= 2.0.0"}, "dev", ""},
		{"bad constraint", Document{Prompts: []string{"a"}, Requires: "not-a-version"}, "1.0.0", "invalid requires"},
		{"temperature range", Document{Prompts: []string{"a"}, Temperature: floatPtr(3)}, "1.0.0", "temperature"},
		{"max tokens", Document{Prompts: []string{"a"}, MaxTokens: intPtr(0)}, "1.0.0", "max_tokens"},
		{"name with spaces", Document{Prompts: []string{"a"}, Name: "pip story"}, "1.0.0", ""},
		{"name escaping output dir", Document{Prompts: []string{"a"}, Name: "../../escaped"}, "1.0.0", "name \"../../escaped\""},
		{"output name with directory", Document{Prompts: []string{"a"}, Output: OutputSpec{Name: "sub/pip"}}, "1.0.0", "output.name"},
		{"absolute output name", Document{Prompts: []string{"a"}, Output: OutputSpec{Name: "/etc/pip"}}, "1.0.0", "output.name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.doc.Validate(tt.version)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestJSONSchema(t *testing.T) {
	doc := Document{Schema: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"title": map[string]any{"type": "string"},
		},
		"required": []any{"title"},
	}}

	schema, err := doc.JSONSchema()
	require.NoError(t, err)
	require.NotNil(t, schema)
	assert.Equal(t, "object", schema.Type)
	assert.Equal(t, []string{"title"}, schema.Required)
	assert.Contains(t, schema.Properties, "title")

	empty, err := (&Document{}).JSONSchema()
	require.NoError(t, err)
	assert.Nil(t, empty)

	_, err = (&Document{Schema: map[string]any{"type": 12}}).JSONSchema()
	assert.Error(t, err)
}

func TestOutputName(t *testing.T) {
	assert.Equal(t, "fallback", (&Document{}).OutputName("fallback"))
	assert.Equal(t, "n", (&Document{Name: "n"}).OutputName("fallback"))
	assert.Equal(t, "o", (&Document{Name: "n", Output: OutputSpec{Name: "o"}}).OutputName("fallback"))
}

func intPtr(i int) *int { return &i }

func floatPtr(f float64) *float64 { return &f }
