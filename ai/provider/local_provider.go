package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/chainable/ai/openai"
	"github.com/teranos/chainable/ai/tracker"
	"github.com/teranos/chainable/am"
	"github.com/teranos/chainable/errors"
	"github.com/teranos/chainable/internal/httpclient"
)

// LocalProvider talks to a local inference server.
// Supports Ollama, LocalAI, or any OpenAI-compatible local endpoint; Ollama's
// /api/generate is used when the config selects the generate API.
type LocalProvider struct {
	baseURL      string
	httpClient   *httpclient.SaferClient
	config       am.LocalInferenceConfig
	clientCfg    ClientConfig
	usageTracker *tracker.UsageTracker
	logger       *zap.SugaredLogger
}

// NewLocalProvider creates a provider for local inference
func NewLocalProvider(cfg am.LocalInferenceConfig, clientCfg ClientConfig) *LocalProvider {
	if cfg.API == "" {
		cfg.API = am.LocalAPIChat
	}
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = openai.DefaultTimeoutSeconds
	}

	logger := clientCfg.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	var usageTracker *tracker.UsageTracker
	if clientCfg.DB != nil {
		usageTracker = tracker.NewUsageTracker(clientCfg.DB, logger)
	}

	// Local servers live on loopback or the LAN by definition
	blockPrivateIP := false
	return &LocalProvider{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		httpClient: httpclient.NewSaferClientWithOptions(time.Duration(cfg.TimeoutSeconds)*time.Second, httpclient.SaferClientOptions{
			BlockPrivateIP: &blockPrivateIP,
		}),
		config:       cfg,
		clientCfg:    clientCfg,
		usageTracker: usageTracker,
		logger:       logger,
	}
}

// ChatCompletionRequest matches OpenAI API format (Ollama is compatible)
type ChatCompletionRequest struct {
	Model          string                 `json:"model"`
	Messages       []openai.Message       `json:"messages"`
	Stream         bool                   `json:"stream"`
	Temperature    *float64               `json:"temperature,omitempty"`
	MaxTokens      *int                   `json:"max_tokens,omitempty"`
	ResponseFormat *openai.ResponseFormat `json:"response_format,omitempty"`
	Options        *CompletionOpts        `json:"options,omitempty"` // Ollama-specific options
}

// CompletionOpts are Ollama runtime options
type CompletionOpts struct {
	Temperature *float64 `json:"temperature,omitempty"`
	MaxTokens   *int     `json:"num_predict,omitempty"` // Ollama uses num_predict
	NumCtx      *int     `json:"num_ctx,omitempty"`     // Context window size (Ollama default: 4096)
}

// GenerateRequest is Ollama's /api/generate body
type GenerateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	System  string          `json:"system,omitempty"`
	Stream  bool            `json:"stream"`
	Format  string          `json:"format,omitempty"`
	Options *CompletionOpts `json:"options,omitempty"`
}

// GenerateResponse is the non-streaming /api/generate reply
type GenerateResponse struct {
	Model           string `json:"model"`
	Response        string `json:"response"`
	Done            bool   `json:"done"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
}

// Chat implements AIClient for local inference
func (lp *LocalProvider) Chat(ctx context.Context, req openai.ChatRequest) (*openai.ChatResponse, error) {
	model := lp.config.Model
	if req.Model != nil && *req.Model != "" {
		model = *req.Model
	}

	lp.logger.Debugw("Local inference request",
		"model", model,
		"api", lp.config.API,
		"history_turns", len(req.History),
		"json_mode", req.JSONMode,
	)

	requestTime := time.Now()
	var (
		resp *openai.ChatResponse
		err  error
	)
	if lp.config.API == am.LocalAPIGenerate {
		resp, err = lp.generate(ctx, model, req)
	} else {
		resp, err = lp.chat(ctx, model, req)
	}

	lp.track(requestTime, model, req, resp, err)
	if err != nil {
		lp.logger.Warnw("Local inference failed", "error", err, "model", model, "base_url", lp.baseURL)
		return nil, errors.Wrap(err, "local inference error")
	}
	return resp, nil
}

func (lp *LocalProvider) options(req openai.ChatRequest) *CompletionOpts {
	opts := &CompletionOpts{
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		NumCtx:      lp.config.ContextSize,
	}
	if opts.Temperature == nil && opts.MaxTokens == nil && opts.NumCtx == nil {
		return nil
	}
	return opts
}

// chat uses the OpenAI-compatible endpoint (works for Ollama, LocalAI, etc.)
func (lp *LocalProvider) chat(ctx context.Context, model string, req openai.ChatRequest) (*openai.ChatResponse, error) {
	body := ChatCompletionRequest{
		Model:       model,
		Messages:    req.Messages(),
		Stream:      false,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Options:     lp.options(req),
	}
	if req.JSONMode {
		body.ResponseFormat = &openai.ResponseFormat{Type: "json_object"}
	}

	var completion openai.ChatCompletionResponse
	if err := lp.post(ctx, "/v1/chat/completions", body, &completion); err != nil {
		return nil, err
	}
	if len(completion.Choices) == 0 {
		return nil, errors.New("no completion choices returned")
	}

	return &openai.ChatResponse{
		Content: strings.TrimSpace(completion.Choices[0].Message.Content),
		Model:   model,
		Usage:   completion.Usage,
	}, nil
}

// generate uses Ollama's single-prompt endpoint. History turns are flattened
// into the prompt since the endpoint has no message list.
func (lp *LocalProvider) generate(ctx context.Context, model string, req openai.ChatRequest) (*openai.ChatResponse, error) {
	prompt := req.UserPrompt
	if len(req.History) > 0 {
		var sb strings.Builder
		for _, turn := range req.History {
			fmt.Fprintf(&sb, "%s: %s\n\n", turn.Role, turn.Content)
		}
		sb.WriteString(openai.RoleUser + ": " + req.UserPrompt)
		prompt = sb.String()
	}

	body := GenerateRequest{
		Model:   model,
		Prompt:  prompt,
		System:  req.SystemPrompt,
		Stream:  false,
		Options: lp.options(req),
	}
	if req.JSONMode {
		body.Format = "json"
	}

	var generated GenerateResponse
	if err := lp.post(ctx, "/api/generate", body, &generated); err != nil {
		return nil, err
	}

	return &openai.ChatResponse{
		Content: strings.TrimSpace(generated.Response),
		Model:   model,
		Usage: openai.Usage{
			PromptTokens:     generated.PromptEvalCount,
			CompletionTokens: generated.EvalCount,
			TotalTokens:      generated.PromptEvalCount + generated.EvalCount,
		},
	}, nil
}

func (lp *LocalProvider) post(ctx context.Context, path string, body, out interface{}) error {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return errors.Wrap(err, "failed to marshal request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, lp.baseURL+path, bytes.NewBuffer(jsonData))
	if err != nil {
		return errors.Wrap(err, "failed to create request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := lp.httpClient.Do(httpReq)
	if err != nil {
		return errors.WithHintf(
			errors.Wrap(errors.Mark(err, errors.ErrServiceUnavailable), "request failed"),
			"is the local inference server running at %s?", lp.baseURL)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		err := errors.Newf("local inference returned status %d: %s", resp.StatusCode, string(respBody))
		if resp.StatusCode >= http.StatusInternalServerError {
			err = errors.Mark(err, errors.ErrServiceUnavailable)
		}
		return err
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(err, "failed to decode response")
	}
	return nil
}

// track records the request with zero cost; local inference has no API bill
func (lp *LocalProvider) track(requestTime time.Time, model string, req openai.ChatRequest, resp *openai.ChatResponse, reqErr error) {
	if lp.usageTracker == nil {
		return
	}

	responseTime := time.Now()
	cost := 0.0
	usage := &tracker.ModelUsage{
		OperationType:     lp.clientCfg.OperationType,
		EntityType:        lp.clientCfg.EntityType,
		EntityID:          lp.clientCfg.EntityID,
		ModelName:         model,
		ModelProvider:     string(ProviderLocal),
		ModelConfig:       tracker.NewModelConfig(req.Temperature, req.MaxTokens, req.JSONMode),
		RequestTimestamp:  requestTime,
		ResponseTimestamp: &responseTime,
		Cost:              &cost,
		Success:           reqErr == nil,
	}
	if resp != nil && resp.Usage.TotalTokens > 0 {
		total := resp.Usage.TotalTokens
		usage.TokensUsed = &total
	}
	if reqErr != nil {
		msg := reqErr.Error()
		usage.ErrorMessage = &msg
	}

	if err := lp.usageTracker.TrackUsage(usage); err != nil {
		lp.logger.Warnw("Failed to track usage", "error", err, "model", model)
	}
}

// Model returns the configured local model name
func (lp *LocalProvider) Model() string {
	return lp.config.Model
}

// String identifies the provider in logs
func (lp *LocalProvider) String() string {
	return fmt.Sprintf("local(%s @ %s)", lp.config.Model, lp.baseURL)
}

// SetHTTPClient allows overriding the HTTP client for testing
func (lp *LocalProvider) SetHTTPClient(client *http.Client) {
	lp.httpClient = httpclient.WrapClient(client)
}
