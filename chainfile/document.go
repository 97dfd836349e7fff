// Package chainfile loads chain documents: a named, ordered list of prompt
// templates plus the context and options to run them with.
//
// Documents are YAML or TOML:
//
//	name: pip-story
//	requires: ">= 0.3.0"
//	context:
//	  name: Pip
//	prompts:
//	  - Tell a story about {{name}}.
//	  - Continue.
//	output:
//	  name: pip
package chainfile

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/Masterminds/semver/v3"
	"github.com/google/jsonschema-go/jsonschema"
	"gopkg.in/yaml.v3"

	"github.com/teranos/chainable/chain"
	"github.com/teranos/chainable/errors"
	"github.com/teranos/chainable/sink"
)

// Format identifies a document encoding
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// FormatFromPath picks the format from a file extension
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".toml":
		return FormatTOML, nil
	default:
		return "", errors.NewInvalidRequestError("unsupported chain file extension %q (use .yaml, .yml or .toml)", filepath.Ext(path))
	}
}

// Document is a chain definition
type Document struct {
	// Name identifies the chain and is the default output base name
	Name string `yaml:"name" toml:"name"`

	// Description explains what the chain produces
	Description string `yaml:"description,omitempty" toml:"description"`

	// Requires is a semver constraint on the chainable version (e.g. ">= 0.3.0")
	Requires string `yaml:"requires,omitempty" toml:"requires"`

	// Provider and Model override configuration defaults
	Provider string `yaml:"provider,omitempty" toml:"provider"`
	Model    string `yaml:"model,omitempty" toml:"model"`

	// SystemPrompt is sent with every invocation
	SystemPrompt string `yaml:"system_prompt,omitempty" toml:"system_prompt"`

	// Temperature controls randomness (0.0-2.0)
	Temperature *float64 `yaml:"temperature,omitempty" toml:"temperature"`

	// MaxTokens limits each reply
	MaxTokens *int `yaml:"max_tokens,omitempty" toml:"max_tokens"`

	// MaxContextWindow bounds the previous-context block (nil = engine default)
	MaxContextWindow *int `yaml:"max_context_window,omitempty" toml:"max_context_window"`

	// OnStepError is "continue" (default) or "abort"
	OnStepError string `yaml:"on_step_error,omitempty" toml:"on_step_error"`

	// ReplyMode is "json" (default) or "text"
	ReplyMode string `yaml:"reply_mode,omitempty" toml:"reply_mode"`

	// ContextHeader and ContextTrailer override the previous-context framing
	ContextHeader  string `yaml:"context_header,omitempty" toml:"context_header"`
	ContextTrailer string `yaml:"context_trailer,omitempty" toml:"context_trailer"`

	// Schema is a JSON Schema; when set every step runs in schema-validated mode
	Schema map[string]any `yaml:"schema,omitempty" toml:"schema"`

	// Context holds the variables available to every template
	Context map[string]any `yaml:"context,omitempty" toml:"context"`

	// Prompts are the templates, run in order
	Prompts []string `yaml:"prompts" toml:"prompts"`

	Output OutputSpec `yaml:"output,omitempty" toml:"output"`
}

// OutputSpec controls where results are written
type OutputSpec struct {
	Dir  string `yaml:"dir,omitempty" toml:"dir"`
	Name string `yaml:"name,omitempty" toml:"name"`
}

// Load reads and decodes a chain file, picking the format from its extension
func Load(path string) (*Document, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read chain file %s", path)
	}
	doc, err := Parse(data, format)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid chain file %s", path)
	}
	return doc, nil
}

// Parse decodes a document from data
func Parse(data []byte, format Format) (*Document, error) {
	var doc Document
	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, errors.Wrap(err, "failed to parse YAML")
		}
	case FormatTOML:
		if _, err := toml.Decode(string(data), &doc); err != nil {
			return nil, errors.Wrap(err, "failed to parse TOML")
		}
	default:
		return nil, errors.NewInvalidRequestError("unknown format %q", format)
	}
	return &doc, nil
}

// Validate checks the document against the running version.
// Empty or "dev" versions skip the requires check.
func (d *Document) Validate(version string) error {
	if len(d.Prompts) == 0 {
		return errors.WithHint(
			errors.NewInvalidRequestError("chain has no prompts"),
			"add at least one entry under 'prompts'")
	}
	for i, p := range d.Prompts {
		if strings.TrimSpace(p) == "" {
			return errors.NewInvalidRequestError("prompt %d is empty", i+1)
		}
	}

	if d.Temperature != nil && (*d.Temperature < 0.0 || *d.Temperature > 2.0) {
		return errors.NewInvalidRequestError("temperature must be between 0.0 and 2.0, got %f", *d.Temperature)
	}
	if d.MaxTokens != nil && *d.MaxTokens < 1 {
		return errors.NewInvalidRequestError("max_tokens must be positive, got %d", *d.MaxTokens)
	}

	for _, f := range [][2]string{{"name", d.Name}, {"output.name", d.Output.Name}} {
		if f[1] != "" && !sink.IsPlainName(f[1]) {
			return errors.WithHint(
				errors.NewInvalidRequestError("%s %q must not contain a path", f[0], f[1]),
				"use output.dir or --out to choose the directory")
		}
	}

	if _, err := d.EngineOptions(); err != nil {
		return err
	}

	if d.Requires != "" {
		if err := checkRequires(d.Requires, version); err != nil {
			return err
		}
	}
	return nil
}

// checkRequires verifies version satisfies constraint
func checkRequires(constraint, version string) error {
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return errors.Wrapf(err, "invalid requires constraint %q", constraint)
	}

	if version == "" || version == "dev" {
		return nil
	}
	v, err := semver.NewVersion(version)
	if err != nil {
		// Untagged builds report a commit; nothing to compare against
		return nil
	}

	if !c.Check(v) {
		return errors.WithHint(
			errors.Newf("chain requires chainable %s, but running %s", constraint, version),
			"upgrade chainable or relax the chain's 'requires' constraint")
	}
	return nil
}

// EngineOptions converts the document's run settings to chain.Options.
// Logger, Observer and ErrorHandler are left for the caller.
func (d *Document) EngineOptions() (chain.Options, error) {
	policy, err := chain.ParseStepErrorPolicy(d.OnStepError)
	if err != nil {
		return chain.Options{}, err
	}
	mode, err := chain.ParseReplyMode(d.ReplyMode)
	if err != nil {
		return chain.Options{}, err
	}
	schema, err := d.JSONSchema()
	if err != nil {
		return chain.Options{}, err
	}

	opts := chain.Options{
		MaxContextWindow: d.MaxContextWindow,
		OnStepError:      policy,
		ReplyMode:        mode,
		Schema:           schema,
		ContextHeader:    d.ContextHeader,
		ContextTrailer:   d.ContextTrailer,
	}
	if err := opts.Validate(); err != nil {
		return chain.Options{}, err
	}
	return opts, nil
}

// JSONSchema converts the schema section to a *jsonschema.Schema (nil when absent)
func (d *Document) JSONSchema() (*jsonschema.Schema, error) {
	if len(d.Schema) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(d.Schema)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode schema")
	}
	var schema jsonschema.Schema
	if err := json.Unmarshal(data, &schema); err != nil {
		return nil, errors.Wrap(err, "invalid schema")
	}
	if _, err := schema.Resolve(nil); err != nil {
		return nil, errors.Wrap(err, "invalid schema")
	}
	return &schema, nil
}

// Vars returns a copy of the document context as chain variables
func (d *Document) Vars() chain.Vars {
	vars := make(chain.Vars, len(d.Context))
	for k, v := range d.Context {
		vars[k] = v
	}
	return vars
}

// OutputName returns the output base name: output.name, then name, then fallback
func (d *Document) OutputName(fallback string) string {
	if d.Output.Name != "" {
		return d.Output.Name
	}
	if d.Name != "" {
		return d.Name
	}
	return fallback
}
