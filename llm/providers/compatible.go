package providers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/c360studio/concepteng/llm"
)

const chatCompletionsPath = "/chat/completions"

// CompatibleCodec speaks the OpenAI chat completions wire format served by
// local runtimes. One codec is registered per runtime so each can carry
// its own default address and key variable.
type CompatibleCodec struct {
	// Provider is the registry name, e.g. "ollama".
	Provider string
	// DefaultURL is used when an endpoint leaves its URL empty.
	DefaultURL string
	// KeyEnv names the environment variable holding an optional bearer token.
	KeyEnv string
}

func init() {
	llm.RegisterProvider(llm.NewHTTPProvider(&CompatibleCodec{
		Provider:   "ollama",
		DefaultURL: "http://localhost:11434/v1",
		KeyEnv:     "OPENAI_API_KEY",
	}))
	llm.RegisterProvider(llm.NewHTTPProvider(&CompatibleCodec{
		Provider:   "vllm",
		DefaultURL: "http://localhost:8000/v1",
		KeyEnv:     "VLLM_API_KEY",
	}))
}

// Name returns the provider identifier.
func (c *CompatibleCodec) Name() string {
	return c.Provider
}

// BuildURL appends the chat completions path unless the base already names it.
func (c *CompatibleCodec) BuildURL(baseURL, _ string) string {
	if baseURL == "" {
		baseURL = c.DefaultURL
	}
	base := strings.TrimRight(baseURL, "/")
	if strings.HasSuffix(base, chatCompletionsPath) {
		return base
	}
	return base + chatCompletionsPath
}

// SetHeaders sets the bearer token when one is configured.
func (c *CompatibleCodec) SetHeaders(req *http.Request) {
	if c.KeyEnv == "" {
		return
	}
	if key := os.Getenv(c.KeyEnv); key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
}

type compatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// BuildRequestBody encodes a non-streaming chat request. A nil temperature
// leaves the runtime default in place; zero is sent as zero.
func (c *CompatibleCodec) BuildRequestBody(model string, messages []llm.Message, temperature *float64, maxTokens int) ([]byte, error) {
	body := struct {
		Model       string          `json:"model"`
		Messages    []compatMessage `json:"messages"`
		Temperature *float64        `json:"temperature,omitempty"`
		MaxTokens   int             `json:"max_tokens,omitempty"`
		Stream      bool            `json:"stream"`
	}{
		Model:       model,
		Messages:    make([]compatMessage, 0, len(messages)),
		Temperature: temperature,
		MaxTokens:   maxTokens,
	}
	for _, m := range messages {
		body.Messages = append(body.Messages, compatMessage{Role: m.Role, Content: m.Content})
	}
	return json.Marshal(body)
}

// ParseResponse reads the first choice of a chat completion. The model
// named in the request is reported when the runtime omits it.
func (c *CompatibleCodec) ParseResponse(body []byte, model string) (*llm.Response, error) {
	var payload struct {
		Model   string `json:"model"`
		Choices []struct {
			Message      compatMessage `json:"message"`
			FinishReason string        `json:"finish_reason"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
			TotalTokens      int `json:"total_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("parse %s response: %w", c.Provider, err)
	}
	if len(payload.Choices) == 0 {
		return nil, fmt.Errorf("%s response has no choices", c.Provider)
	}

	out := &llm.Response{
		Content:      payload.Choices[0].Message.Content,
		Model:        payload.Model,
		FinishReason: payload.Choices[0].FinishReason,
		Usage: llm.TokenUsage{
			PromptTokens:     payload.Usage.PromptTokens,
			CompletionTokens: payload.Usage.CompletionTokens,
			TotalTokens:      payload.Usage.TotalTokens,
		},
	}
	if out.Model == "" {
		out.Model = model
	}
	return out, nil
}
