package chain

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/teranos/chainable/errors"
	"github.com/teranos/chainable/logger"
)

// Invoker calls a model once for a fully assembled prompt.
// schema is nil in raw-text mode. In schema-validated mode the invoker must
// return data satisfying schema or an error.
type Invoker interface {
	Invoke(ctx context.Context, prompt string, schema *jsonschema.Schema) (Result, error)
}

// InvokerFunc adapts a function to Invoker
type InvokerFunc func(ctx context.Context, prompt string, schema *jsonschema.Schema) (Result, error)

// Invoke calls f
func (f InvokerFunc) Invoke(ctx context.Context, prompt string, schema *jsonschema.Schema) (Result, error) {
	return f(ctx, prompt, schema)
}

// TextInvoker adapts a plain prompt -> text function, the common shape of model clients
func TextInvoker(fn func(ctx context.Context, prompt string) (string, error)) Invoker {
	return InvokerFunc(func(ctx context.Context, prompt string, _ *jsonschema.Schema) (Result, error) {
		text, err := fn(ctx, prompt)
		if err != nil {
			return Null(), err
		}
		return Raw(text), nil
	})
}

// StepError describes one failed step
type StepError struct {
	Step   int    // 0-based step index
	Prompt string // the assembled prompt that was sent
	Err    error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %d: %v", e.Step, e.Err)
}

// Unwrap returns the invoker's error
func (e *StepError) Unwrap() error { return e.Err }

// Is makes every StepError match errors.ErrStepFailed
func (e *StepError) Is(target error) bool { return target == errors.ErrStepFailed }

// Entry is one (index, result) pair handed to sinks
type Entry struct {
	Index  int // 0-based step index
	Result Result
}

// Output holds the two parallel sequences produced by a run
type Output struct {
	Prompts []string
	Results []Result
}

// Len returns the number of steps recorded
func (o *Output) Len() int { return len(o.Results) }

// Entries returns the results paired with their step index, in order
func (o *Output) Entries() []Entry {
	entries := make([]Entry, len(o.Results))
	for i, r := range o.Results {
		entries[i] = Entry{Index: i, Result: r}
	}
	return entries
}

// Failed returns the indexes of null results
func (o *Output) Failed() []int {
	var failed []int
	for i, r := range o.Results {
		if r.IsNull() {
			failed = append(failed, i)
		}
	}
	return failed
}

// Engine runs prompt chains. An Engine holds no per-run state and may be shared
// by concurrent runs; each run's steps are strictly sequential.
type Engine struct {
	opts Options
}

// New validates opts and returns an Engine
func New(opts Options) (*Engine, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &Engine{opts: opts.withDefaults()}, nil
}

// Run is a convenience for New(opts) followed by Engine.Run
func Run(ctx context.Context, vars Vars, invoker Invoker, templates []string, opts Options) (*Output, error) {
	engine, err := New(opts)
	if err != nil {
		return nil, err
	}
	return engine.Run(ctx, vars, invoker, templates)
}

// Run executes templates in order against invoker.
//
// Every template yields exactly one prompt and one result. A failed invocation
// records Null and, under StepErrorContinue, the run goes on. The returned
// error is non-nil only for setup problems, or for the first failed step under
// StepErrorAbort (in which case the partial output is returned with it).
func (e *Engine) Run(ctx context.Context, vars Vars, invoker Invoker, templates []string) (*Output, error) {
	if invoker == nil {
		return nil, errors.NewInvalidRequestError("chain invoker is nil")
	}

	parsed := make([]*Template, len(templates))
	for i, raw := range templates {
		parsed[i] = Parse(raw)
	}

	log := logger.FromContext(ctx, e.opts.Logger)
	total := len(parsed)
	out := &Output{
		Prompts: make([]string, 0, total),
		Results: make([]Result, 0, total),
	}

	for i, tmpl := range parsed {
		if missing := tmpl.Missing(vars); len(missing) > 0 {
			log.Debugw("Unresolved placeholders left verbatim",
				logger.FieldStep, i, "placeholders", missing)
		}

		prompt := e.preparePrompt(tmpl, vars, out.Results)
		out.Prompts = append(out.Prompts, prompt)
		e.opts.Observer.StepStarted(i, total, prompt)

		start := time.Now()
		result, err := e.invoke(ctx, invoker, prompt)
		if err != nil {
			stepErr := &StepError{Step: i, Prompt: prompt, Err: err}
			out.Results = append(out.Results, Null())

			log.Errorw("Chain step failed",
				logger.FieldStep, i,
				logger.FieldTotal, total,
				logger.FieldDurationMS, time.Since(start).Milliseconds(),
				logger.FieldError, err)
			if e.opts.ErrorHandler != nil {
				e.opts.ErrorHandler(stepErr)
			}
			e.opts.Observer.StepFinished(i, total, Null(), stepErr)

			if e.opts.OnStepError == StepErrorAbort {
				return out, stepErr
			}
			continue
		}

		out.Results = append(out.Results, result)
		log.Debugw("Chain step finished",
			logger.FieldStep, i,
			logger.FieldTotal, total,
			logger.FieldResultKind, result.Kind().String(),
			logger.FieldPromptLen, len(prompt),
			logger.FieldDurationMS, time.Since(start).Milliseconds())
		e.opts.Observer.StepFinished(i, total, result, nil)
	}

	return out, nil
}

// preparePrompt substitutes vars and prepends the previous-context block
func (e *Engine) preparePrompt(tmpl *Template, vars Vars, prior []Result) string {
	prompt := tmpl.Execute(vars)

	window := *e.opts.MaxContextWindow
	if window == 0 || len(prior) == 0 {
		return prompt
	}

	recent := prior
	if len(recent) > window {
		recent = recent[len(recent)-window:]
	}
	parts := make([]string, len(recent))
	for i, r := range recent {
		parts[i] = r.String()
	}

	return e.opts.ContextHeader + "\n\n" +
		strings.Join(parts, "\n\n") + "\n\n" +
		e.opts.ContextTrailer + "\n" +
		prompt
}

// invoke performs the step's single invocation and interprets raw replies.
// A panicking invoker is reported as that step's failure.
func (e *Engine) invoke(ctx context.Context, invoker Invoker, prompt string) (result Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			result, err = Null(), errors.Newf("invoker panicked: %v", r)
		}
	}()

	result, err = invoker.Invoke(ctx, prompt, e.opts.Schema)
	if err != nil {
		return Null(), err
	}

	if e.opts.Schema == nil && e.opts.ReplyMode == ReplyJSON && result.Kind() == KindRaw {
		result = Interpret(result.Text())
	}
	return result, nil
}
