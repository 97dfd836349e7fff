package chain

import (
	"encoding/json"
	"regexp"
	"strings"
)

// fencedJSONPattern matches a ```json fenced block and captures its body
var fencedJSONPattern = regexp.MustCompile("(?is)```json[ \\t]*\\r?\\n(.*?)```")

// Interpret turns raw reply text into a Result.
//
// Order of attempts:
//  1. the first ```json fenced block, parsed as JSON
//  2. the whole reply, when it is a JSON object or array
//  3. the text itself as a Raw result
//
// Bare JSON scalars ("42", "true") stay raw; a reply that happens to be a
// number is still prose.
func Interpret(text string) Result {
	if m := fencedJSONPattern.FindStringSubmatch(text); m != nil {
		if v, ok := decodeJSON(m[1]); ok {
			return Structured(v)
		}
	}

	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		if v, ok := decodeJSON(trimmed); ok {
			return Structured(v)
		}
	}

	return Raw(text)
}

// decodeJSON parses s as a single JSON value. Trailing content fails the parse.
func decodeJSON(s string) (any, bool) {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil || v == nil {
		return nil, false
	}
	return v, true
}
