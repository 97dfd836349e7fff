// Package anthropic is a client for the Anthropic Messages API.
package anthropic

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

	"github.com/teranos/chainable/ai/openai"
	"github.com/teranos/chainable/ai/tracker"
	"github.com/teranos/chainable/errors"
	"github.com/teranos/chainable/internal/httpclient"
)

const (
	// DefaultModel is the default Claude model
	DefaultModel = "claude-sonnet-4-20250514"

	// DefaultBaseURL is the Anthropic API endpoint
	DefaultBaseURL = "https://api.anthropic.com/v1"

	// APIVersion is the required Anthropic API version header
	APIVersion = "2023-06-01"

	// DefaultMaxTokens is sent when nothing else is configured; the API requires one
	DefaultMaxTokens = 4096

	// jsonInstruction is appended to the system prompt in JSON mode,
	// since the Messages API has no response_format switch
	jsonInstruction = "Respond with a single JSON object and nothing else."
)

// Client represents an Anthropic API client
type Client struct {
	baseURL      string
	httpClient   *httpclient.SaferClient
	config       Config
	usageTracker *tracker.UsageTracker
	logger       *zap.SugaredLogger
}

// Config holds Anthropic client configuration
type Config struct {
	APIKey         string
	BaseURL        string   // "" = DefaultBaseURL
	Model          string   // "" = DefaultModel
	Temperature    *float64 // nil = openai.DefaultTemperature
	MaxTokens      int      // 0 = DefaultMaxTokens
	TimeoutSeconds int      // 0 = openai.DefaultTimeoutSeconds

	Logger        *zap.SugaredLogger // Structured logger (nil = nop logger)
	DB            *sql.DB            // Database for automatic cost/usage tracking
	OperationType string             // Operation type for tracking context
	EntityType    string             // Entity type for tracking context
	EntityID      string             // Entity ID for tracking context
}

// NewClient creates a new Anthropic API client
func NewClient(config Config) *Client {
	if config.Model == "" {
		config.Model = DefaultModel
	}
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	if config.Temperature == nil {
		temp := openai.DefaultTemperature
		config.Temperature = &temp
	}
	if config.MaxTokens <= 0 {
		config.MaxTokens = DefaultMaxTokens
	}
	if config.TimeoutSeconds <= 0 {
		config.TimeoutSeconds = openai.DefaultTimeoutSeconds
	}

	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	var usageTracker *tracker.UsageTracker
	if config.DB != nil {
		usageTracker = tracker.NewUsageTracker(config.DB, logger)
	}

	return &Client{
		baseURL:      strings.TrimSuffix(config.BaseURL, "/"),
		httpClient:   httpclient.NewSaferClient(time.Duration(config.TimeoutSeconds) * time.Second),
		config:       config,
		usageTracker: usageTracker,
		logger:       logger,
	}
}

// MessagesRequest represents a request to the Anthropic Messages API
type MessagesRequest struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	Messages    []Message `json:"messages"`
	System      string    `json:"system,omitempty"`
	Temperature float64   `json:"temperature"`
}

// Message represents a message in the conversation
type Message struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

// MessagesResponse represents the response from the Messages API
type MessagesResponse struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	Role         string         `json:"role"`
	Content      []ContentBlock `json:"content"`
	Model        string         `json:"model"`
	StopReason   string         `json:"stop_reason"`
	StopSequence *string        `json:"stop_sequence,omitempty"`
	Usage        Usage          `json:"usage"`
}

// ContentBlock represents a content block in the response
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// Usage represents token usage information
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// buildRequest maps the shared chat request onto the Messages API shape.
// System turns in the history are folded into the system prompt.
func buildRequest(req openai.ChatRequest, model string, temperature float64, maxTokens int) MessagesRequest {
	system := []string{}
	if req.SystemPrompt != "" {
		system = append(system, req.SystemPrompt)
	}

	messages := make([]Message, 0, len(req.History)+1)
	for _, turn := range req.History {
		if turn.Role == openai.RoleSystem {
			system = append(system, turn.Content)
			continue
		}
		messages = append(messages, Message{Role: turn.Role, Content: turn.Content})
	}
	messages = append(messages, Message{Role: openai.RoleUser, Content: req.UserPrompt})

	if req.JSONMode {
		system = append(system, jsonInstruction)
	}

	return MessagesRequest{
		Model:       model,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		System:      strings.Join(system, "\n\n"),
		Messages:    messages,
	}
}

// Chat sends one Messages API request. Failed attempts are not retried.
func (c *Client) Chat(ctx context.Context, req openai.ChatRequest) (*openai.ChatResponse, error) {
	if c.config.APIKey == "" {
		return nil, errors.WithHint(
			errors.New("anthropic API key not configured"),
			"set api_key in am.toml [anthropic] or ANTHROPIC_API_KEY")
	}

	temperature := *c.config.Temperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}

	maxTokens := c.config.MaxTokens
	if req.MaxTokens != nil {
		maxTokens = *req.MaxTokens
	}

	model := c.config.Model
	if req.Model != nil && *req.Model != "" {
		model = *req.Model
	}

	c.logger.Debugw("Anthropic Chat Request",
		"model", model,
		"temperature", temperature,
		"max_tokens", maxTokens,
		"history_turns", len(req.History),
		"json_mode", req.JSONMode,
	)

	requestTime := time.Now()
	resp, err := c.createMessages(ctx, buildRequest(req, model, temperature, maxTokens))
	if err != nil {
		c.logger.Warnw("Anthropic request failed", "error", err, "model", model)
		c.track(requestTime, model, temperature, maxTokens, req.JSONMode, nil, err)
		return nil, errors.Wrap(err, "anthropic API error")
	}

	var content strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			content.WriteString(block.Text)
		}
	}

	c.logger.Debugw("Anthropic response",
		"content_length", content.Len(),
		"stop_reason", resp.StopReason,
		"input_tokens", resp.Usage.InputTokens,
		"output_tokens", resp.Usage.OutputTokens,
	)

	c.track(requestTime, model, temperature, maxTokens, req.JSONMode, &resp.Usage, nil)

	return &openai.ChatResponse{
		Content: strings.TrimSpace(content.String()),
		Model:   model,
		Usage: openai.Usage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
	}, nil
}

// createMessages sends a request to the Anthropic Messages API
func (c *Client) createMessages(ctx context.Context, req MessagesRequest) (*MessagesResponse, error) {
	reqBody, err := json.Marshal(req)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create request")
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.config.APIKey)
	httpReq.Header.Set("anthropic-version", APIVersion)

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
		// 529 is Anthropic's "overloaded"
		if resp.StatusCode == 529 || resp.StatusCode == http.StatusServiceUnavailable {
			err = errors.Mark(err, errors.ErrServiceUnavailable)
		}
		return nil, err
	}

	var messagesResp MessagesResponse
	if err := json.Unmarshal(respBody, &messagesResp); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal response")
	}

	return &messagesResp, nil
}

// track records the request outcome; usage is nil on failure
func (c *Client) track(requestTime time.Time, model string, temperature float64, maxTokens int, jsonMode bool, u *Usage, reqErr error) {
	if c.usageTracker == nil {
		return
	}

	responseTime := time.Now()
	usage := &tracker.ModelUsage{
		OperationType:     c.config.OperationType,
		EntityType:        c.config.EntityType,
		EntityID:          c.config.EntityID,
		ModelName:         model,
		ModelProvider:     "anthropic",
		ModelConfig:       tracker.NewModelConfig(&temperature, &maxTokens, jsonMode),
		RequestTimestamp:  requestTime,
		ResponseTimestamp: &responseTime,
		Success:           reqErr == nil,
	}
	if u != nil {
		total := u.InputTokens + u.OutputTokens
		cost := CalculateCost(model, u.InputTokens, u.OutputTokens)
		usage.TokensUsed = &total
		usage.Cost = &cost
	}
	if reqErr != nil {
		msg := reqErr.Error()
		usage.ErrorMessage = &msg
	}

	if err := c.usageTracker.TrackUsage(usage); err != nil {
		c.logger.Warnw("Failed to track usage", "error", err, "model", model)
	}
}

// IsConfigured returns true if the client has a valid API key
func (c *Client) IsConfigured() bool {
	return c.config.APIKey != ""
}

// Model returns the default model
func (c *Client) Model() string {
	return c.config.Model
}

// String identifies the client in logs
func (c *Client) String() string {
	return fmt.Sprintf("anthropic(%s)", c.config.Model)
}

// SetHTTPClient allows overriding the HTTP client for testing
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = httpclient.WrapClient(client)
}
