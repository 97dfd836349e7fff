package chain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/teranos/chainable/errors"
)

// Kind tags the variant held by a Result
type Kind int

const (
	// KindNull marks a step whose invocation failed
	KindNull Kind = iota
	// KindRaw holds reply text that was not (or could not be) parsed
	KindRaw
	// KindStructured holds decoded JSON data
	KindStructured
)

// String returns the lowercase kind name used in storage and logs
func (k Kind) String() string {
	switch k {
	case KindRaw:
		return "raw"
	case KindStructured:
		return "structured"
	default:
		return "null"
	}
}

// ParseKind converts a stored kind name back to a Kind
func ParseKind(s string) (Kind, error) {
	switch s {
	case "null", "":
		return KindNull, nil
	case "raw":
		return KindRaw, nil
	case "structured":
		return KindStructured, nil
	default:
		return KindNull, errors.Newf("unknown result kind %q", s)
	}
}

// Result is the value produced by one chain step: null, raw text or structured data.
// The zero value is Null.
type Result struct {
	kind  Kind
	text  string
	value any
}

// Null returns the result recorded for a failed step
func Null() Result {
	return Result{kind: KindNull}
}

// Raw wraps reply text
func Raw(text string) Result {
	return Result{kind: KindRaw, text: text}
}

// Structured wraps decoded data. Structured(nil) is Null.
func Structured(value any) Result {
	if value == nil {
		return Null()
	}
	return Result{kind: KindStructured, value: value}
}

// Kind reports which variant r holds
func (r Result) Kind() Kind { return r.kind }

// IsNull reports whether r records a failed step
func (r Result) IsNull() bool { return r.kind == KindNull }

// Text returns the raw reply text (empty unless Kind is KindRaw)
func (r Result) Text() string { return r.text }

// Value returns the structured value for KindStructured, the text for KindRaw and nil for KindNull
func (r Result) Value() any {
	switch r.kind {
	case KindStructured:
		return r.value
	case KindRaw:
		return r.text
	default:
		return nil
	}
}

// String renders r as prompt-insertable text (see Stringify)
func (r Result) String() string {
	switch r.kind {
	case KindRaw:
		return r.text
	case KindStructured:
		return Stringify(r.value)
	default:
		return "null"
	}
}

// MarshalJSON emits null, the raw text as a JSON string, or the structured value
func (r Result) MarshalJSON() ([]byte, error) {
	switch r.kind {
	case KindRaw:
		return json.Marshal(r.text)
	case KindStructured:
		return json.Marshal(r.value)
	default:
		return []byte("null"), nil
	}
}

// Stringify converts any step result or context value into prompt text.
// nil renders as "null", strings as themselves, scalars in their natural form
// and everything else as two-space indented JSON with sorted map keys.
func Stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case Result:
		return val.String()
	case string:
		return val
	case []byte:
		return string(val)
	case json.RawMessage:
		var buf bytes.Buffer
		if err := json.Indent(&buf, val, "", "  "); err != nil {
			return string(val)
		}
		return buf.String()
	case bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64, json.Number:
		return encodeJSON(val, false)
	default:
		return encodeJSON(val, true)
	}
}

// encodeJSON marshals without HTML escaping; prompts are not HTML
func encodeJSON(v any, indent bool) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if indent {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(v); err != nil {
		return fmt.Sprintf("%v", v)
	}
	return strings.TrimSuffix(buf.String(), "\n")
}
