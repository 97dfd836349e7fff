package provider

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/teranos/chainable/ai/openai"
	"github.com/teranos/chainable/chain"
	"github.com/teranos/chainable/errors"
)

// InvokerConfig holds per-request settings applied to every step
type InvokerConfig struct {
	SystemPrompt string
	Model        string   // "" = client default
	Temperature  *float64 // nil = client default
	MaxTokens    *int     // nil = client default
	Logger       *zap.SugaredLogger
}

// Invoker adapts an AIClient to chain.Invoker.
// Each invocation is a single stateless request; the engine supplies prior
// context through the prompt itself.
type Invoker struct {
	client AIClient
	config InvokerConfig
	logger *zap.SugaredLogger

	mu       sync.Mutex
	resolved map[*jsonschema.Schema]*jsonschema.Resolved
}

// NewInvoker wraps client
func NewInvoker(client AIClient, cfg InvokerConfig) *Invoker {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Invoker{
		client:   client,
		config:   cfg,
		logger:   logger,
		resolved: make(map[*jsonschema.Schema]*jsonschema.Resolved),
	}
}

// Invoke implements chain.Invoker.
// Without a schema the reply comes back as chain.Raw for the engine to interpret.
// With a schema the reply must be JSON that validates, or the step fails.
func (inv *Invoker) Invoke(ctx context.Context, prompt string, schema *jsonschema.Schema) (chain.Result, error) {
	result, _, err := inv.complete(ctx, nil, prompt, schema)
	return result, err
}

// complete sends one request with the given history and decodes the reply.
// The raw reply text is returned alongside the result for transcript keeping.
func (inv *Invoker) complete(ctx context.Context, history []openai.Turn, prompt string, schema *jsonschema.Schema) (chain.Result, string, error) {
	req := inv.request(history, prompt)

	var resolved *jsonschema.Resolved
	if schema != nil {
		var err error
		if resolved, err = inv.resolve(schema); err != nil {
			return chain.Null(), "", err
		}
		req.JSONMode = true
		req.SystemPrompt = withSchemaInstruction(req.SystemPrompt, schema)
	}

	resp, err := inv.client.Chat(ctx, req)
	if err != nil {
		return chain.Null(), "", err
	}

	if resolved == nil {
		return chain.Raw(resp.Content), resp.Content, nil
	}

	result := chain.Interpret(resp.Content)
	if result.Kind() != chain.KindStructured {
		return chain.Null(), resp.Content, errors.Mark(
			errors.Newf("reply is not JSON: %.80q", resp.Content), errors.ErrSchemaViolation)
	}
	if err := resolved.Validate(result.Value()); err != nil {
		return chain.Null(), resp.Content, errors.Mark(
			errors.Wrap(err, "reply does not match schema"), errors.ErrSchemaViolation)
	}

	inv.logger.Debugw("Structured reply validated", "content_length", len(resp.Content))
	return result, resp.Content, nil
}

func (inv *Invoker) request(history []openai.Turn, prompt string) openai.ChatRequest {
	req := openai.ChatRequest{
		SystemPrompt: inv.config.SystemPrompt,
		UserPrompt:   prompt,
		History:      history,
		Temperature:  inv.config.Temperature,
		MaxTokens:    inv.config.MaxTokens,
	}
	if inv.config.Model != "" {
		model := inv.config.Model
		req.Model = &model
	}
	return req
}

// resolve caches resolved schemas; a chain passes the same schema to every step
func (inv *Invoker) resolve(schema *jsonschema.Schema) (*jsonschema.Resolved, error) {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	if r, ok := inv.resolved[schema]; ok {
		return r, nil
	}
	r, err := schema.Resolve(nil)
	if err != nil {
		return nil, errors.Wrap(err, "invalid schema")
	}
	inv.resolved[schema] = r
	return r, nil
}

func withSchemaInstruction(system string, schema *jsonschema.Schema) string {
	data, err := json.Marshal(schema)
	if err != nil {
		return system
	}
	instruction := "Reply with JSON that conforms to this JSON Schema:\n" + string(data)
	if system == "" {
		return instruction
	}
	return system + "\n\n" + instruction
}

// WithRateLimit spaces invocations to at most perMinute per minute.
// perMinute <= 0 returns inv unchanged.
func WithRateLimit(inv chain.Invoker, perMinute int) chain.Invoker {
	if perMinute <= 0 {
		return inv
	}
	limiter := rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1)
	return chain.InvokerFunc(func(ctx context.Context, prompt string, schema *jsonschema.Schema) (chain.Result, error) {
		if err := limiter.Wait(ctx); err != nil {
			return chain.Null(), errors.Wrap(err, "rate limit wait")
		}
		return inv.Invoke(ctx, prompt, schema)
	})
}

// Transcript is an invoker that keeps the whole conversation and replays it
// with every request, instead of relying on the engine's context window.
// Failed turns are not added to the transcript.
type Transcript struct {
	*Invoker

	mu      sync.Mutex
	history []openai.Turn
}

// NewTranscript creates a transcript-keeping invoker
func NewTranscript(client AIClient, cfg InvokerConfig) *Transcript {
	return &Transcript{Invoker: NewInvoker(client, cfg)}
}

// Invoke implements chain.Invoker
func (t *Transcript) Invoke(ctx context.Context, prompt string, schema *jsonschema.Schema) (chain.Result, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	history := make([]openai.Turn, len(t.history))
	copy(history, t.history)

	result, content, err := t.complete(ctx, history, prompt, schema)
	if err != nil {
		return result, err
	}

	t.history = append(t.history,
		openai.Turn{Role: openai.RoleUser, Content: prompt},
		openai.Turn{Role: openai.RoleAssistant, Content: content},
	)
	return result, nil
}

// History returns a copy of the turns recorded so far
func (t *Transcript) History() []openai.Turn {
	t.mu.Lock()
	defer t.mu.Unlock()
	history := make([]openai.Turn, len(t.history))
	copy(history, t.history)
	return history
}

// Reset clears the transcript
func (t *Transcript) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.history = nil
}

var (
	_ chain.Invoker = (*Invoker)(nil)
	_ chain.Invoker = (*Transcript)(nil)
)
