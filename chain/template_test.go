package chain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSubstitute(t *testing.T) {
	tests := []struct {
		name     string
		template string
		vars     Vars
		want     string
	}{
		{"single", "Hello {{name}}!", Vars{"name": "Pip"}, "Hello Pip!"},
		{"repeated", "{{a}}-{{a}}", Vars{"a": "x"}, "x-x"},
		{"missing left verbatim", "{{a}} {{b}}", Vars{"a": "1"}, "1 {{b}}"},
		{"nil vars", "{{a}}", nil, "{{a}}"},
		{"no placeholders", "plain text", Vars{"a": "x"}, "plain text"},
		{"empty", "", Vars{"a": "x"}, ""},
		{"number", "n={{n}}", Vars{"n": 42}, "n=42"},
		{"float", "f={{f}}", Vars{"f": 1.5}, "f=1.5"},
		{"bool", "{{b}}", Vars{"b": true}, "true"},
		{"nil value", "{{x}}", Vars{"x": nil}, "null"},
		{"object", "{{o}}", Vars{"o": map[string]any{"k": 1}}, "{\n  \"k\": 1\n}"},
		{"not re-scanned", "{{a}}", Vars{"a": "{{b}}", "b": "no"}, "{{b}}"},
		{"spaces not a placeholder", "{{ a }}", Vars{"a": "x"}, "{{ a }}"},
		{"hyphen not a placeholder", "{{a-b}}", Vars{"a-b": "x"}, "{{a-b}}"},
		{"underscore and digits", "{{user_1}}", Vars{"user_1": "u"}, "u"},
		{"triple braces", "{{{a}}}", Vars{"a": "x"}, "{x}"},
		{"html not escaped", "{{h}}", Vars{"h": map[string]string{"t": "<b>&"}}, "{\n  \"t\": \"<b>&\"\n}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Substitute(tt.template, tt.vars))
		})
	}
}

func TestTemplate_Placeholders(t *testing.T) {
	tmpl := Parse("{{a}} then {{b}} then {{a}}")
	assert.Equal(t, []string{"a", "b", "a"}, tmpl.Placeholders())
	assert.Equal(t, []string{"b"}, tmpl.Missing(Vars{"a": 1}))
	assert.Equal(t, "{{a}} then {{b}} then {{a}}", tmpl.Raw())

	assert.Empty(t, Placeholders("nothing here"))
}

func TestTemplate_ExecuteIsRepeatable(t *testing.T) {
	tmpl := Parse("Hi {{who}}")
	assert.Equal(t, "Hi A", tmpl.Execute(Vars{"who": "A"}))
	assert.Equal(t, "Hi B", tmpl.Execute(Vars{"who": "B"}))
}
