package display

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/pterm/pterm"

	"github.com/teranos/chainable/chain"
	"github.com/teranos/chainable/errors"
)

// Reporter is a chain.Observer that also reports run-level events
type Reporter interface {
	chain.Observer
	Info(message string)
	Complete(summary RunSummary)
	Error(stage string, err error)
}

// RunSummary describes a finished run
type RunSummary struct {
	Name     string        `json:"name"`
	RunID    string        `json:"run_id,omitempty"`
	Steps    int           `json:"steps"`
	Failed   []int         `json:"failed,omitempty"`
	Location string        `json:"location,omitempty"`
	Duration time.Duration `json:"duration_ns"`
}

// ProgressEvent represents a structured JSON progress event
type ProgressEvent struct {
	Type      string                 `json:"type"`      // "step_started", "step_finished", "complete", "error", "info"
	Timestamp time.Time              `json:"timestamp"` // When this event occurred
	Data      map[string]interface{} `json:"data"`      // Event-specific data
}

// previewLength bounds prompt and result previews in terminal output
const previewLength = 72

// CLIObserver outputs pretty-printed progress to the terminal using pterm
type CLIObserver struct {
	out       io.Writer
	verbosity int
}

// NewCLIObserverWithWriter creates a terminal reporter writing to out
func NewCLIObserverWithWriter(out io.Writer, verbosity int) *CLIObserver {
	return &CLIObserver{out: out, verbosity: verbosity}
}

// StepStarted prints a step announcement
func (o *CLIObserver) StepStarted(step, total int, prompt string) {
	label := fmt.Sprintf("Step %d/%d", step+1, total)
	if o.verbosity >= 1 {
		pterm.Fprintln(o.out, fmt.Sprintf("🔄 %s: %s", pterm.LightCyan(label), preview(prompt)))
		return
	}
	pterm.Fprintln(o.out, fmt.Sprintf("🔄 %s", pterm.LightCyan(label)))
}

// StepFinished prints the step outcome; verbose mode shows the result
func (o *CLIObserver) StepFinished(step, total int, result chain.Result, err error) {
	label := fmt.Sprintf("Step %d/%d", step+1, total)
	if err != nil {
		pterm.Error.WithWriter(o.out).Printfln("%s failed: %v", label, err)
		return
	}

	text := result.String()
	pterm.Fprintln(o.out, fmt.Sprintf("✅ %s %s", label,
		pterm.Gray(fmt.Sprintf("(%s, %d chars)", result.Kind(), len(text)))))
	if o.verbosity >= 2 {
		pterm.Fprintln(o.out, text)
	}
}

// Info prints an informational message in verbose mode
func (o *CLIObserver) Info(message string) {
	if o.verbosity >= 1 {
		pterm.Info.WithWriter(o.out).Println(message)
	}
}

// Complete prints the run summary
func (o *CLIObserver) Complete(summary RunSummary) {
	ok := summary.Steps - len(summary.Failed)
	if len(summary.Failed) > 0 {
		steps := make([]string, len(summary.Failed))
		for i, s := range summary.Failed {
			steps[i] = fmt.Sprint(s + 1)
		}
		pterm.Warning.WithWriter(o.out).Printfln("%s: %d/%d steps succeeded (failed: %s)",
			summary.Name, ok, summary.Steps, strings.Join(steps, ", "))
	} else {
		pterm.Success.WithWriter(o.out).Printfln("%s: %d/%d steps succeeded", summary.Name, ok, summary.Steps)
	}
	if summary.Location != "" {
		pterm.Fprintln(o.out, fmt.Sprintf("   %s %s", pterm.Gray("written to"), summary.Location))
	}
	if o.verbosity >= 1 && summary.RunID != "" {
		pterm.Fprintln(o.out, fmt.Sprintf("   %s %s", pterm.Gray("run id"), summary.RunID))
	}
}

// Error prints an error
func (o *CLIObserver) Error(stage string, err error) {
	pterm.Error.WithWriter(o.out).Printfln("Error in %s: %v", stage, err)
}

// JSONObserver outputs structured JSON events, one per line
type JSONObserver struct {
	mu      sync.Mutex
	encoder *json.Encoder
	now     func() time.Time
	err     error
}

// NewJSONObserverWithWriter creates a JSON reporter writing to out
func NewJSONObserverWithWriter(out io.Writer) *JSONObserver {
	return &JSONObserver{encoder: json.NewEncoder(out), now: time.Now}
}

func (o *JSONObserver) emit(eventType string, data map[string]interface{}) {
	o.mu.Lock()
	defer o.mu.Unlock()
	err := o.encoder.Encode(ProgressEvent{
		Type:      eventType,
		Timestamp: o.now(),
		Data:      data,
	})
	if err != nil && o.err == nil {
		o.err = errors.Wrapf(err, "failed to emit %s event", eventType)
	}
}

// Err returns the first event that could not be written, if any
func (o *JSONObserver) Err() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.err
}

// StepStarted emits a step_started event
func (o *JSONObserver) StepStarted(step, total int, prompt string) {
	o.emit("step_started", map[string]interface{}{
		"step":   step,
		"total":  total,
		"prompt": prompt,
	})
}

// StepFinished emits a step_finished event carrying the result or error
func (o *JSONObserver) StepFinished(step, total int, result chain.Result, err error) {
	data := map[string]interface{}{
		"step":   step,
		"total":  total,
		"kind":   result.Kind().String(),
		"result": result,
	}
	if err != nil {
		data["error"] = err.Error()
	}
	o.emit("step_finished", data)
}

// Info emits an info event
func (o *JSONObserver) Info(message string) {
	o.emit("info", map[string]interface{}{"message": message})
}

// Complete emits a complete event
func (o *JSONObserver) Complete(summary RunSummary) {
	o.emit("complete", map[string]interface{}{
		"name":        summary.Name,
		"run_id":      summary.RunID,
		"steps":       summary.Steps,
		"failed":      summary.Failed,
		"location":    summary.Location,
		"duration_ms": summary.Duration.Milliseconds(),
	})
}

// Error emits an error event
func (o *JSONObserver) Error(stage string, err error) {
	o.emit("error", map[string]interface{}{
		"stage": stage,
		"error": err.Error(),
	})
}

// preview collapses whitespace and truncates s for one-line display
func preview(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if len([]rune(s)) <= previewLength {
		return s
	}
	return string([]rune(s)[:previewLength-1]) + "…"
}

var (
	_ Reporter = (*CLIObserver)(nil)
	_ Reporter = (*JSONObserver)(nil)
)
