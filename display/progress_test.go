package display

import (
	"bufio"
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/pterm/pterm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/chainable/chain"
	"github.com/teranos/chainable/errors"
)

func TestMain(m *testing.M) {
	pterm.DisableStyling()
	m.Run()
}

func TestCLIObserver(t *testing.T) {
	var buf bytes.Buffer
	o := NewCLIObserverWithWriter(&buf, 0)

	o.StepStarted(0, 3, "Tell a story about Pip.")
	o.StepFinished(0, 3, chain.Raw("Pip woke up."), nil)
	o.StepFinished(1, 3, chain.Null(), errors.New("boom"))
	o.Complete(RunSummary{Name: "pip", Steps: 3, Failed: []int{1}, Location: "out/pip.md"})

	out := buf.String()
	assert.Contains(t, out, "Step 1/3")
	assert.NotContains(t, out, "Tell a story", "prompts are only shown when verbose")
	assert.Contains(t, out, "(raw, 12 chars)")
	assert.Contains(t, out, "Step 2/3 failed: boom")
	assert.Contains(t, out, "pip: 2/3 steps succeeded (failed: 2)")
	assert.Contains(t, out, "out/pip.md")
}

func TestCLIObserver_Verbose(t *testing.T) {
	var buf bytes.Buffer
	o := NewCLIObserverWithWriter(&buf, 2)

	o.StepStarted(0, 1, "Tell a\n\nstory")
	o.StepFinished(0, 1, chain.Structured(map[string]any{"mood": "happy"}), nil)
	o.Info("using provider local")
	o.Complete(RunSummary{Name: "pip", Steps: 1, RunID: "run-1"})

	out := buf.String()
	assert.Contains(t, out, "Step 1/1: Tell a story")
	assert.Contains(t, out, `"mood": "happy"`)
	assert.Contains(t, out, "using provider local")
	assert.Contains(t, out, "pip: 1/1 steps succeeded")
	assert.Contains(t, out, "run-1")
}

func TestJSONObserver(t *testing.T) {
	var buf bytes.Buffer
	o := NewJSONObserverWithWriter(&buf)
	fixed := time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC)
	o.now = func() time.Time { return fixed }

	o.StepStarted(0, 2, "prompt one")
	o.StepFinished(0, 2, chain.Structured(map[string]any{"a": 1.0}), nil)
	o.StepFinished(1, 2, chain.Null(), errors.New("timeout"))
	o.Complete(RunSummary{Name: "pip", Steps: 2, Failed: []int{1}, Duration: 1500 * time.Millisecond})

	var events []ProgressEvent
	scanner := bufio.NewScanner(&buf)
	for scanner.Scan() {
		var ev ProgressEvent
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &ev))
		events = append(events, ev)
	}
	require.Len(t, events, 4)

	assert.Equal(t, "step_started", events[0].Type)
	assert.Equal(t, "prompt one", events[0].Data["prompt"])
	assert.True(t, events[0].Timestamp.Equal(fixed))

	assert.Equal(t, "structured", events[1].Data["kind"])
	assert.Equal(t, map[string]interface{}{"a": 1.0}, events[1].Data["result"])

	assert.Equal(t, "null", events[2].Data["kind"])
	assert.Nil(t, events[2].Data["result"])
	assert.Equal(t, "timeout", events[2].Data["error"])

	assert.Equal(t, "complete", events[3].Type)
	assert.Equal(t, float64(1500), events[3].Data["duration_ms"])
	assert.Equal(t, []interface{}{1.0}, events[3].Data["failed"])
}

func TestPreview(t *testing.T) {
	assert.Equal(t, "a b c", preview("a\n b\t\tc"))

	long := preview(string(bytes.Repeat([]byte("x"), 200)))
	assert.Equal(t, previewLength, len([]rune(long)))
}

type brokenWriter struct{}

func (brokenWriter) Write([]byte) (int, error) { return 0, errors.New("broken pipe") }

func TestJSONObserver_WriteError(t *testing.T) {
	o := NewJSONObserverWithWriter(brokenWriter{})
	assert.NoError(t, o.Err())

	o.Info("hello")
	o.Complete(RunSummary{Name: "pip"})

	err := o.Err()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "info event")
	assert.Contains(t, err.Error(), "broken pipe")
}
