package chain

import (
	"regexp"
	"strings"
)

// Vars is the flat set of named values available to every template of a run
type Vars map[string]any

// placeholderPattern matches {{identifier}}
var placeholderPattern = regexp.MustCompile(`\{\{(\w+)\}\}`)

// Template is a parsed prompt template
type Template struct {
	raw      string
	segments []segment
}

// segment is either a literal run of text or a placeholder
type segment struct {
	literal bool
	content string // literal text, or the placeholder key
	token   string // the full {{key}} token, kept for unresolved placeholders
}

// Parse splits raw into literal and placeholder segments.
// Every string is a valid template; text that looks almost like a placeholder
// is treated as literal.
func Parse(raw string) *Template {
	t := &Template{raw: raw}

	matches := placeholderPattern.FindAllStringSubmatchIndex(raw, -1)
	if len(matches) == 0 {
		if raw != "" {
			t.segments = []segment{{literal: true, content: raw}}
		}
		return t
	}

	lastEnd := 0
	for _, match := range matches {
		// match[0]:match[1] is {{key}}, match[2]:match[3] is key
		start, end := match[0], match[1]
		if start > lastEnd {
			t.segments = append(t.segments, segment{literal: true, content: raw[lastEnd:start]})
		}
		t.segments = append(t.segments, segment{
			content: raw[match[2]:match[3]],
			token:   raw[start:end],
		})
		lastEnd = end
	}
	if lastEnd < len(raw) {
		t.segments = append(t.segments, segment{literal: true, content: raw[lastEnd:]})
	}

	return t
}

// Execute replaces every placeholder with its value from vars rendered via
// Stringify. Keys missing from vars are left as the original {{key}} token.
// Substituted text is not re-scanned.
func (t *Template) Execute(vars Vars) string {
	var b strings.Builder
	b.Grow(len(t.raw))

	for _, seg := range t.segments {
		if seg.literal {
			b.WriteString(seg.content)
			continue
		}
		value, ok := vars[seg.content]
		if !ok {
			b.WriteString(seg.token)
			continue
		}
		b.WriteString(Stringify(value))
	}

	return b.String()
}

// Placeholders returns the placeholder keys in order of appearance, duplicates included
func (t *Template) Placeholders() []string {
	var keys []string
	for _, seg := range t.segments {
		if !seg.literal {
			keys = append(keys, seg.content)
		}
	}
	return keys
}

// Missing returns the distinct placeholder keys that vars cannot resolve
func (t *Template) Missing(vars Vars) []string {
	var missing []string
	seen := make(map[string]bool)
	for _, key := range t.Placeholders() {
		if _, ok := vars[key]; ok || seen[key] {
			continue
		}
		seen[key] = true
		missing = append(missing, key)
	}
	return missing
}

// Raw returns the original template string
func (t *Template) Raw() string {
	return t.raw
}

// Substitute is Parse(template).Execute(vars)
func Substitute(template string, vars Vars) string {
	return Parse(template).Execute(vars)
}

// Placeholders returns the placeholder keys of template in order of appearance
func Placeholders(template string) []string {
	return Parse(template).Placeholders()
}
