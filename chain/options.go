package chain

import (
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	"go.uber.org/zap"

	"github.com/teranos/chainable/errors"
)

// Defaults for Options fields left unset
const (
	DefaultMaxContextWindow = 5
	DefaultContextHeader    = "Previous story parts:"
	DefaultContextTrailer   = "Now, continue the story:"
)

// StepErrorPolicy decides what happens after a step's invocation fails
type StepErrorPolicy string

const (
	// StepErrorContinue records null for the failed step and runs the rest (default)
	StepErrorContinue StepErrorPolicy = "continue"
	// StepErrorAbort stops the run after the failed step and returns the partial output
	StepErrorAbort StepErrorPolicy = "abort"
)

// ParseStepErrorPolicy converts a config/document value to a StepErrorPolicy.
// The empty string selects the default.
func ParseStepErrorPolicy(s string) (StepErrorPolicy, error) {
	switch StepErrorPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", StepErrorContinue:
		return StepErrorContinue, nil
	case StepErrorAbort:
		return StepErrorAbort, nil
	default:
		return "", errors.NewInvalidRequestError("unknown on_step_error %q (valid: continue, abort)", s)
	}
}

// ReplyMode controls how raw-text replies are interpreted
type ReplyMode string

const (
	// ReplyJSON extracts structured data from replies when possible (default)
	ReplyJSON ReplyMode = "json"
	// ReplyText keeps every reply as raw text
	ReplyText ReplyMode = "text"
)

// ParseReplyMode converts a config/document value to a ReplyMode.
// The empty string selects the default.
func ParseReplyMode(s string) (ReplyMode, error) {
	switch ReplyMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ReplyJSON:
		return ReplyJSON, nil
	case ReplyText:
		return ReplyText, nil
	default:
		return "", errors.NewInvalidRequestError("unknown reply mode %q (valid: json, text)", s)
	}
}

// Options configures an Engine
type Options struct {
	// MaxContextWindow is how many of the most recent prior results are folded
	// into each prompt. nil = DefaultMaxContextWindow, 0 = no previous-context block.
	MaxContextWindow *int

	// OnStepError is the failure policy (default StepErrorContinue)
	OnStepError StepErrorPolicy

	// ReplyMode applies to raw-text mode only (default ReplyJSON)
	ReplyMode ReplyMode

	// Schema selects schema-validated mode; it is passed to every invocation
	Schema *jsonschema.Schema

	// ContextHeader and ContextTrailer frame the previous-context block
	ContextHeader  string
	ContextTrailer string

	// ErrorHandler receives every step failure (optional)
	ErrorHandler func(*StepError)

	// Observer is notified around each step (optional)
	Observer Observer

	// Logger for diagnostics (nil = nop)
	Logger *zap.SugaredLogger
}

// Validate checks option ranges
func (o Options) Validate() error {
	if o.MaxContextWindow != nil && *o.MaxContextWindow < 0 {
		return errors.NewInvalidRequestError("max_context_window must be >= 0, got %d", *o.MaxContextWindow)
	}
	switch o.OnStepError {
	case "", StepErrorContinue, StepErrorAbort:
	default:
		return errors.NewInvalidRequestError("unknown on_step_error %q", o.OnStepError)
	}
	switch o.ReplyMode {
	case "", ReplyJSON, ReplyText:
	default:
		return errors.NewInvalidRequestError("unknown reply mode %q", o.ReplyMode)
	}
	return nil
}

// withDefaults fills unset fields
func (o Options) withDefaults() Options {
	if o.MaxContextWindow == nil {
		w := DefaultMaxContextWindow
		o.MaxContextWindow = &w
	}
	if o.OnStepError == "" {
		o.OnStepError = StepErrorContinue
	}
	if o.ReplyMode == "" {
		o.ReplyMode = ReplyJSON
	}
	if o.ContextHeader == "" {
		o.ContextHeader = DefaultContextHeader
	}
	if o.ContextTrailer == "" {
		o.ContextTrailer = DefaultContextTrailer
	}
	if o.Observer == nil {
		o.Observer = NopObserver{}
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop().Sugar()
	}
	return o
}
