package providers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"

	"github.com/c360studio/concepteng/llm"
	"github.com/c360studio/concepteng/model"
	openai "github.com/sashabaranov/go-openai"
)

// OpenAIProvider serves OpenAI chat and completion models through the
// go-openai SDK. OpenRouter and other compatible gateways work by setting
// the endpoint URL.
type OpenAIProvider struct{}

func init() {
	llm.RegisterProvider(&OpenAIProvider{})
}

// Name returns the provider identifier.
func (o *OpenAIProvider) Name() string {
	return "openai"
}

// NewBackend creates an SDK client for the endpoint.
func (o *OpenAIProvider) NewBackend(ep *model.EndpointConfig, opts llm.BackendOptions) (llm.Backend, error) {
	if ep.Model == "" {
		return nil, fmt.Errorf("openai endpoint has no model")
	}

	cfg := openai.DefaultConfig(os.Getenv("OPENAI_API_KEY"))
	if ep.URL != "" {
		cfg.BaseURL = ep.URL
	}
	if opts.HTTPClient != nil {
		cfg.HTTPClient = opts.HTTPClient
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &openAIBackend{
		client:   openai.NewClientWithConfig(cfg),
		endpoint: ep,
		logger:   logger,
	}, nil
}

type openAIBackend struct {
	client   *openai.Client
	endpoint *model.EndpointConfig
	logger   *slog.Logger
}

// Complete dispatches to the chat or completions API depending on the endpoint mode.
func (b *openAIBackend) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = b.endpoint.MaxTokens
	}

	b.logger.Debug("Sending LLM request",
		"provider", "openai",
		"model", b.endpoint.Model,
		"mode", b.endpoint.Mode,
		"messages", len(req.Messages))

	if b.endpoint.Mode == model.ModeCompletion {
		return b.complete(ctx, req, maxTokens)
	}
	return b.chat(ctx, req, maxTokens)
}

func (b *openAIBackend) chat(ctx context.Context, req llm.Request, maxTokens int) (*llm.Response, error) {
	messages := make([]openai.ChatCompletionMessage, len(req.Messages))
	for i, msg := range req.Messages {
		messages[i] = openai.ChatCompletionMessage{Role: msg.Role, Content: msg.Content}
	}

	resp, err := b.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       b.endpoint.Model,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: sdkTemperature(req.Temperature),
	})
	if err != nil {
		return nil, classifyOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, llm.NewFatalError(fmt.Errorf("no choices in response"))
	}

	return &llm.Response{
		Content: resp.Choices[0].Message.Content,
		Model:   resp.Model,
		Usage: llm.TokenUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
		FinishReason: string(resp.Choices[0].FinishReason),
	}, nil
}

func (b *openAIBackend) complete(ctx context.Context, req llm.Request, maxTokens int) (*llm.Response, error) {
	var prompt string
	for i, msg := range req.Messages {
		if i > 0 {
			prompt += "\n\n"
		}
		prompt += msg.Content
	}

	resp, err := b.client.CreateCompletion(ctx, openai.CompletionRequest{
		Model:       b.endpoint.Model,
		Prompt:      prompt,
		MaxTokens:   maxTokens,
		Temperature: sdkTemperature(req.Temperature),
	})
	if err != nil {
		return nil, classifyOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, llm.NewFatalError(fmt.Errorf("no choices in response"))
	}

	return &llm.Response{
		Content:      resp.Choices[0].Text,
		Model:        resp.Model,
		FinishReason: resp.Choices[0].FinishReason,
	}, nil
}

// sdkTemperature converts a requested temperature for the SDK. The SDK drops
// a zero temperature from the request body, so zero is sent as the smallest
// positive float32.
func sdkTemperature(t *float64) float32 {
	if t == nil {
		return 0
	}
	if *t == 0 {
		return math.SmallestNonzeroFloat32
	}
	return float32(*t)
}

// classifyOpenAIError maps SDK errors onto transient and fatal errors.
func classifyOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return llm.ClassifyStatus(apiErr.HTTPStatusCode, fmt.Errorf("openai API error (status %d): %w", apiErr.HTTPStatusCode, err))
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return llm.ClassifyStatus(reqErr.HTTPStatusCode, fmt.Errorf("openai request error (status %d): %w", reqErr.HTTPStatusCode, err))
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	// Anything else is a transport failure
	return llm.NewTransientError(fmt.Errorf("openai request failed: %w", err))
}
