// Package llm provides provider-agnostic text generation. A Client binds a
// model identifier from the model.Registry to a registered Provider and adds
// retry for transient failures.
package llm

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/c360studio/concepteng/metrics"
	"github.com/c360studio/concepteng/model"
	"github.com/google/uuid"
)

// Client generates text with one configured model.
type Client struct {
	modelName   string
	endpoint    *model.EndpointConfig
	backend     Backend
	httpClient  *http.Client
	retryConfig RetryConfig
	logger      *slog.Logger
	recorder    metrics.Recorder
}

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"`    // "system", "user", or "assistant"
	Content string `json:"content"` // Message content
}

// Request defines an LLM completion request.
type Request struct {
	// Messages is the chat history to send to the LLM.
	Messages []Message

	// Temperature controls randomness. nil uses endpoint default, 0 is deterministic.
	Temperature *float64

	// MaxTokens limits response length. 0 uses endpoint default.
	MaxTokens int
}

// TokenUsage represents token consumption details for an LLM call.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response contains the LLM completion result.
type Response struct {
	// RequestID uniquely identifies this LLM call for log correlation.
	RequestID string

	// Content is the generated text.
	Content string

	// Model is the actual model that was used.
	Model string

	// Usage contains detailed token consumption metrics.
	Usage TokenUsage

	// FinishReason indicates why generation stopped.
	FinishReason string
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(client *Client) {
		client.httpClient = c
	}
}

// WithRetryConfig sets the retry configuration.
func WithRetryConfig(cfg RetryConfig) ClientOption {
	return func(client *Client) {
		client.retryConfig = cfg
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(client *Client) {
		client.logger = logger
	}
}

// WithRecorder sets the metrics recorder. Defaults to metrics.Default().
func WithRecorder(r metrics.Recorder) ClientOption {
	return func(client *Client) {
		client.recorder = r
	}
}

// NewClient resolves modelName to an endpoint and provider. It fails with an
// UnsupportedModelError when either lookup fails, so misconfiguration
// surfaces before any prompt is sent.
func NewClient(registry *model.Registry, modelName string, opts ...ClientOption) (*Client, error) {
	c := &Client{
		modelName:   modelName,
		retryConfig: DefaultRetryConfig(),
		httpClient: &http.Client{
			Timeout: 180 * time.Second, // Allow time for LLM responses
		},
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}
	if c.recorder == nil {
		c.recorder = metrics.Default()
	}
	if c.retryConfig.MaxAttempts < 1 {
		c.retryConfig.MaxAttempts = 1
	}

	if registry == nil {
		return nil, &UnsupportedModelError{Model: modelName, Reason: "no model registry"}
	}
	ep := registry.GetEndpoint(modelName)
	if ep == nil {
		return nil, &UnsupportedModelError{Model: modelName}
	}
	provider := GetProvider(ep.Provider)
	if provider == nil {
		return nil, &UnsupportedModelError{
			Model:  modelName,
			Reason: fmt.Sprintf("provider %q is not registered", ep.Provider),
		}
	}

	backend, err := provider.NewBackend(ep, BackendOptions{
		HTTPClient: c.httpClient,
		Logger:     c.logger,
	})
	if err != nil {
		return nil, &UnsupportedModelError{Model: modelName, Reason: err.Error()}
	}

	c.endpoint = ep
	c.backend = backend
	return c, nil
}

// Model returns the model identifier the client was built for.
func (c *Client) Model() string {
	return c.modelName
}

// Generate sends prompt as a single user message.
func (c *Client) Generate(ctx context.Context, prompt string, temperature float64) (string, error) {
	resp, err := c.Complete(ctx, Request{
		Messages:    []Message{{Role: "user", Content: prompt}},
		Temperature: &temperature,
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// Complete sends a completion request, retrying transient failures.
func (c *Client) Complete(ctx context.Context, req Request) (*Response, error) {
	if len(req.Messages) == 0 {
		return nil, fmt.Errorf("at least one message is required")
	}

	requestID := uuid.New().String()
	startedAt := time.Now()

	resp, attempts, err := c.completeWithRetry(ctx, req)
	c.recorder.ObserveGeneration(c.modelName, err == nil, time.Since(startedAt).Seconds())
	if err != nil {
		c.logger.Warn("LLM request failed",
			"request_id", requestID,
			"model", c.modelName,
			"attempts", attempts,
			"error", err)
		return nil, fmt.Errorf("generate with %s: %w", c.modelName, err)
	}

	resp.RequestID = requestID
	c.recorder.AddTokens(c.modelName, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
	c.logger.Debug("LLM request complete",
		"request_id", requestID,
		"model", resp.Model,
		"attempts", attempts,
		"total_tokens", resp.Usage.TotalTokens,
		"finish_reason", resp.FinishReason,
		"duration_ms", time.Since(startedAt).Milliseconds())

	return resp, nil
}

// completeWithRetry attempts a request with retry logic and returns the attempt count.
func (c *Client) completeWithRetry(ctx context.Context, req Request) (*Response, int, error) {
	var lastErr error

	for attempt := 1; attempt <= c.retryConfig.MaxAttempts; attempt++ {
		resp, err := c.backend.Complete(ctx, req)
		if err == nil {
			return resp, attempt, nil
		}

		lastErr = err

		// Only transient errors are worth another attempt
		if !IsTransient(err) {
			return nil, attempt, err
		}

		if attempt < c.retryConfig.MaxAttempts {
			backoff := c.retryConfig.backoff(attempt)
			c.logger.Debug("Request failed, retrying",
				"attempt", attempt,
				"max_attempts", c.retryConfig.MaxAttempts,
				"backoff", backoff,
				"error", err)

			select {
			case <-ctx.Done():
				return nil, attempt, ctx.Err()
			case <-time.After(backoff):
			}
		}
	}

	return nil, c.retryConfig.MaxAttempts, lastErr
}
