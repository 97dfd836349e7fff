// Package openai is a client for OpenAI-compatible chat completion APIs:
// OpenAI itself, OpenRouter and any gateway speaking the same protocol.
package openai

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/chainable/ai/tracker"
	"github.com/teranos/chainable/errors"
	"github.com/teranos/chainable/internal/httpclient"
)

const (
	// DefaultModel is the fallback model when none is specified
	DefaultModel = "gpt-4o-mini"

	// DefaultBaseURL is the OpenAI API root
	DefaultBaseURL = "https://api.openai.com/v1"

	// OpenRouterBaseURL is the OpenRouter API root
	OpenRouterBaseURL = "https://openrouter.ai/api/v1"

	// DefaultTemperature matches the creative default used for story chains
	DefaultTemperature = 0.7

	// DefaultTimeoutSeconds bounds a single request
	DefaultTimeoutSeconds = 120
)

// Client represents an OpenAI-compatible chat completions client
type Client struct {
	apiKey       string
	baseURL      string
	httpClient   *httpclient.SaferClient
	config       Config
	usageTracker *tracker.UsageTracker
	logger       *zap.SugaredLogger
}

// Config holds AI client configuration
type Config struct {
	APIKey         string
	BaseURL        string   // "" = DefaultBaseURL
	Model          string   // "" = DefaultModel
	Temperature    *float64 // nil = DefaultTemperature
	MaxTokens      *int     // nil = let the server decide
	TimeoutSeconds int      // 0 = DefaultTimeoutSeconds

	// ProviderName labels usage records and errors ("openai", "openrouter")
	ProviderName string

	// AllowPrivateNetwork permits self-hosted gateways on private addresses
	AllowPrivateNetwork bool

	Logger        *zap.SugaredLogger // Structured logger (nil = nop logger)
	DB            *sql.DB            // Database for usage tracking (optional)
	OperationType string             // Operation type for tracking context (e.g., "chain-step")
	EntityType    string             // Entity type for tracking context (e.g., "chain")
	EntityID      string             // Entity ID for tracking context (e.g., run ID)
}

// NewClient creates a new client with defaults applied
func NewClient(config Config) *Client {
	if config.Model == "" {
		config.Model = DefaultModel
	}
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	if config.Temperature == nil {
		defaultTemp := DefaultTemperature
		config.Temperature = &defaultTemp
	}
	if config.TimeoutSeconds <= 0 {
		config.TimeoutSeconds = DefaultTimeoutSeconds
	}
	if config.ProviderName == "" {
		config.ProviderName = "openai"
	}

	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	var usageTracker *tracker.UsageTracker
	if config.DB != nil {
		usageTracker = tracker.NewUsageTracker(config.DB, logger)
	}

	// SSRF-safer HTTP client: private IPs, localhost and odd schemes blocked
	// unless the gateway is explicitly self-hosted
	blockPrivateIP := !config.AllowPrivateNetwork
	saferClient := httpclient.NewSaferClientWithOptions(time.Duration(config.TimeoutSeconds)*time.Second, httpclient.SaferClientOptions{
		BlockPrivateIP: &blockPrivateIP,
	})

	return &Client{
		apiKey:       config.APIKey,
		baseURL:      strings.TrimSuffix(config.BaseURL, "/"),
		httpClient:   saferClient,
		config:       config,
		usageTracker: usageTracker,
		logger:       logger,
	}
}

// CreateChatCompletion sends a single chat completion request
func (c *Client) CreateChatCompletion(ctx context.Context, req ChatCompletionRequest) (*ChatCompletionResponse, error) {
	reqBody, err := json.Marshal(req)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create request")
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	// X-Title shows up in the OpenRouter dashboard; other servers ignore it
	if c.config.OperationType != "" {
		httpReq.Header.Set("X-Title", fmt.Sprintf("chainable/%s", c.config.OperationType))
	} else {
		httpReq.Header.Set("X-Title", "chainable")
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, errors.Wrap(errors.Mark(err, errors.ErrServiceUnavailable), "failed to send request")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read response")
	}

	if resp.StatusCode != http.StatusOK {
		err := errors.Newf("API request failed with status %d: %s", resp.StatusCode, string(respBody))
		if resp.StatusCode >= http.StatusInternalServerError {
			err = errors.Mark(err, errors.ErrServiceUnavailable)
		}
		return nil, err
	}

	var chatResp ChatCompletionResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal response")
	}

	return &chatResp, nil
}

// Chat sends one chat completion request. There is no retry: a failed
// attempt is returned to the caller as-is.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if c.config.APIKey == "" {
		return nil, errors.WithHintf(
			errors.Newf("%s API key not configured", c.config.ProviderName),
			"set the api_key in am.toml [%s] or the matching environment variable", c.config.ProviderName)
	}

	temperature := *c.config.Temperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}

	maxTokens := 0
	if c.config.MaxTokens != nil {
		maxTokens = *c.config.MaxTokens
	}
	if req.MaxTokens != nil {
		maxTokens = *req.MaxTokens
	}

	model := c.config.Model
	if req.Model != nil && *req.Model != "" {
		model = *req.Model
	}

	c.logger.Debugw("AI Chat Request",
		"provider", c.config.ProviderName,
		"model", model,
		"temperature", temperature,
		"max_tokens", maxTokens,
		"history_turns", len(req.History),
		"json_mode", req.JSONMode,
	)

	completionReq := ChatCompletionRequest{
		Model:       model,
		Messages:    req.Messages(),
		Temperature: temperature,
		MaxTokens:   maxTokens,
	}
	if req.JSONMode {
		completionReq.ResponseFormat = &ResponseFormat{Type: "json_object"}
	}

	requestTime := time.Now()
	resp, err := c.CreateChatCompletion(ctx, completionReq)
	if err != nil {
		c.logger.Warnw("Chat completion failed",
			"provider", c.config.ProviderName,
			"error", err,
			"model", model,
			"url", c.baseURL+"/chat/completions")
		c.trackFailedRequest(requestTime, model, temperature, maxTokens, req.JSONMode, err)
		return nil, errors.Wrapf(err, "%s API error", c.config.ProviderName)
	}

	if len(resp.Choices) == 0 {
		err := errors.Newf("no response choices from %s", c.config.ProviderName)
		c.trackFailedRequest(requestTime, model, temperature, maxTokens, req.JSONMode, err)
		return nil, err
	}

	responseText := resp.Choices[0].Message.Content

	c.logger.Debugw("Chat completion response",
		"content_length", len(responseText),
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
		"total_tokens", resp.Usage.TotalTokens,
	)

	c.trackSuccess(requestTime, model, temperature, maxTokens, req.JSONMode, resp.Usage)

	return &ChatResponse{
		Content: strings.TrimSpace(responseText),
		Model:   model,
		Usage:   resp.Usage,
	}, nil
}

// trackSuccess records a successful request with its cost
func (c *Client) trackSuccess(requestTime time.Time, model string, temperature float64, maxTokens int, jsonMode bool, u Usage) {
	if c.usageTracker == nil {
		return
	}

	responseTime := time.Now()
	tokensUsed := u.TotalTokens
	cost := CalculateCost(model, u.PromptTokens, u.CompletionTokens)

	usage := &tracker.ModelUsage{
		OperationType:     c.config.OperationType,
		EntityType:        c.config.EntityType,
		EntityID:          c.config.EntityID,
		ModelName:         model,
		ModelProvider:     c.config.ProviderName,
		ModelConfig:       tracker.NewModelConfig(&temperature, optionalInt(maxTokens), jsonMode),
		RequestTimestamp:  requestTime,
		ResponseTimestamp: &responseTime,
		TokensUsed:        &tokensUsed,
		Cost:              &cost,
		Success:           true,
	}

	if err := c.usageTracker.TrackUsage(usage); err != nil {
		c.logger.Warnw("Failed to track usage", "error", err, "model", model, "tokens", tokensUsed)
	}
}

// trackFailedRequest tracks a failed API request
func (c *Client) trackFailedRequest(requestTime time.Time, model string, temperature float64, maxTokens int, jsonMode bool, err error) {
	if c.usageTracker == nil {
		return
	}

	responseTime := time.Now()
	errMsg := err.Error()

	usage := &tracker.ModelUsage{
		OperationType:     c.config.OperationType,
		EntityType:        c.config.EntityType,
		EntityID:          c.config.EntityID,
		ModelName:         model,
		ModelProvider:     c.config.ProviderName,
		ModelConfig:       tracker.NewModelConfig(&temperature, optionalInt(maxTokens), jsonMode),
		RequestTimestamp:  requestTime,
		ResponseTimestamp: &responseTime,
		Success:           false,
		ErrorMessage:      &errMsg,
	}

	if trackErr := c.usageTracker.TrackUsage(usage); trackErr != nil {
		c.logger.Warnw("Failed to track failed request", "error", trackErr, "model", model, "original_error", errMsg)
	}
}

func optionalInt(v int) *int {
	if v == 0 {
		return nil
	}
	return &v
}

// IsConfigured returns true if the client has a valid API key
func (c *Client) IsConfigured() bool {
	return c.config.APIKey != ""
}

// Model returns the default model
func (c *Client) Model() string {
	return c.config.Model
}

// SetHTTPClient allows overriding the HTTP client for testing
// ⚠️ WARNING: Only use this in tests. Production code should use the default SSRF-safer client.
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = httpclient.WrapClient(client)
}
