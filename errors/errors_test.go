package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrap(t *testing.T) {
	original := New("original")
	wrapped := Wrap(original, "wrapped")

	assert.Contains(t, wrapped.Error(), "wrapped")
	assert.Contains(t, wrapped.Error(), "original")
	assert.True(t, Is(wrapped, original))
}

func TestWithHint(t *testing.T) {
	err := WithHint(New("missing key"), "set openai.api_key")

	hints := GetAllHints(err)
	require.Len(t, hints, 1)
	assert.Equal(t, "set openai.api_key", hints[0])
}

func TestStackTrace(t *testing.T) {
	err := New("with stack")
	assert.Contains(t, fmt.Sprintf("%+v", err), "errors_test.go")
}

func TestNilHandling(t *testing.T) {
	assert.Nil(t, Wrap(nil, "context"))
	assert.Nil(t, Wrapf(nil, "context %d", 1))
	assert.Nil(t, WithHint(nil, "hint"))
}

func TestSentinelHelpers(t *testing.T) {
	t.Run("not found", func(t *testing.T) {
		err := NewNotFoundError("run %s", "abc")
		assert.True(t, IsNotFoundError(err))
		assert.Contains(t, err.Error(), "run abc")
		assert.False(t, IsNotFoundError(New("something else")))
		assert.False(t, IsNotFoundError(nil))
	})

	t.Run("invalid request", func(t *testing.T) {
		err := NewInvalidRequestError("max_context_window must be >= 0, got %d", -1)
		assert.True(t, IsInvalidRequestError(err))
		assert.Contains(t, err.Error(), "got -1")
	})

	t.Run("service unavailable survives wrapping", func(t *testing.T) {
		err := Wrap(Wrap(ErrServiceUnavailable, "local inference"), "step 2")
		assert.True(t, IsServiceUnavailableError(err))
	})
}

func ExampleWrap() {
	baseErr := New("connection refused")
	err := Wrap(baseErr, "failed to reach model server")
	fmt.Println(err)
	// Output: failed to reach model server: connection refused
}
