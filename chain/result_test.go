package chain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStringify(t *testing.T) {
	assert.Equal(t, "null", Stringify(nil))
	assert.Equal(t, "text", Stringify("text"))
	assert.Equal(t, "bytes", Stringify([]byte("bytes")))
	assert.Equal(t, "7", Stringify(7))
	assert.Equal(t, "false", Stringify(false))
	assert.Equal(t, "[\n  1,\n  2\n]", Stringify([]int{1, 2}))
	assert.Equal(t, "{\n  \"a\": 1\n}", Stringify(json.RawMessage(`{"a":1}`)))
	assert.Equal(t, "null", Stringify(Null()))
	assert.Equal(t, "r", Stringify(Raw("r")))

	// map keys are sorted
	assert.Equal(t, "{\n  \"a\": 2,\n  \"b\": 1\n}", Stringify(map[string]int{"b": 1, "a": 2}))
}

func TestResult_Variants(t *testing.T) {
	var zero Result
	assert.True(t, zero.IsNull())
	assert.Equal(t, KindNull, zero.Kind())
	assert.Nil(t, zero.Value())

	raw := Raw("hello")
	assert.Equal(t, KindRaw, raw.Kind())
	assert.Equal(t, "hello", raw.Text())
	assert.Equal(t, "hello", raw.Value())

	s := Structured(map[string]any{"k": "v"})
	assert.Equal(t, KindStructured, s.Kind())
	assert.Equal(t, "{\n  \"k\": \"v\"\n}", s.String())

	assert.True(t, Structured(nil).IsNull())
}

func TestResult_MarshalJSON(t *testing.T) {
	data, err := json.Marshal([]Result{Null(), Raw("a\"b"), Structured(map[string]any{"n": 1})})
	require.NoError(t, err)
	assert.JSONEq(t, `[null, "a\"b", {"n": 1}]`, string(data))
}

func TestKind_RoundTrip(t *testing.T) {
	for _, k := range []Kind{KindNull, KindRaw, KindStructured} {
		parsed, err := ParseKind(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, parsed)
	}
	_, err := ParseKind("bogus")
	assert.Error(t, err)
}

func TestInterpret(t *testing.T) {
	tests := []struct {
		name string
		text string
		kind Kind
		want any
	}{
		{"fenced object", "Here:\n```json\n{\"k\":1}\n```\nthanks", KindStructured, map[string]any{"k": float64(1)}},
		{"fenced uppercase tag", "```JSON\n[1,2]\n```", KindStructured, []any{float64(1), float64(2)}},
		{"bare object", "  {\"a\": \"b\"}  ", KindStructured, map[string]any{"a": "b"}},
		{"bare array", "[true]", KindStructured, []any{true}},
		{"bare scalar stays raw", "42", KindRaw, "42"},
		{"prose", "Once upon a time", KindRaw, "Once upon a time"},
		{"broken fence falls back", "```json\n{oops\n```", KindRaw, "```json\n{oops\n```"},
		{"trailing garbage", "{\"a\":1} and more", KindRaw, "{\"a\":1} and more"},
		{"trailing bracket", "{\"k\":1}]", KindRaw, "{\"k\":1}]"},
		{"trailing brace", "{\"k\":1}}", KindRaw, "{\"k\":1}}"},
		{"extra closing brackets", "[1]]]", KindRaw, "[1]]]"},
		{"fenced trailing bracket", "```json\n[1]]\n```", KindRaw, "```json\n[1]]\n```"},
		{"fenced null stays raw", "```json\nnull\n```", KindRaw, "```json\nnull\n```"},
		{"first fence wins", "```json\n{\"n\":1}\n```\n```json\n{\"n\":2}\n```", KindStructured, map[string]any{"n": float64(1)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Interpret(tt.text)
			assert.Equal(t, tt.kind, r.Kind())
			assert.Equal(t, tt.want, r.Value())
		})
	}
}

func TestInterpret_StringifyRoundTrip(t *testing.T) {
	original := map[string]any{"title": "T", "tags": []any{"a", "b"}}
	r := Interpret(Stringify(original))
	require.Equal(t, KindStructured, r.Kind())
	assert.Equal(t, original, r.Value())
}
