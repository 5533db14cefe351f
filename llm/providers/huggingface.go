package providers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/c360studio/concepteng/llm"
)

// minHFTemperature is the smallest temperature the Inference API accepts.
const minHFTemperature = 0.01

// HuggingFaceCodec implements the Hugging Face hosted Inference API for
// text-generation and text2text-generation models.
type HuggingFaceCodec struct{}

func init() {
	llm.RegisterProvider(llm.NewHTTPProvider(&HuggingFaceCodec{}))
}

// Name returns the provider identifier.
func (h *HuggingFaceCodec) Name() string {
	return "huggingface"
}

// BuildURL constructs the per-model inference endpoint.
func (h *HuggingFaceCodec) BuildURL(baseURL, model string) string {
	if baseURL == "" {
		baseURL = "https://api-inference.huggingface.co"
	}
	baseURL = strings.TrimSuffix(baseURL, "/")
	return baseURL + "/models/" + model
}

// SetHeaders adds the hub token.
func (h *HuggingFaceCodec) SetHeaders(req *http.Request) {
	token := os.Getenv("HUGGINGFACEHUB_API_TOKEN")
	if token == "" {
		token = os.Getenv("HF_TOKEN")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

type hfRequest struct {
	Inputs     string       `json:"inputs"`
	Parameters hfParameters `json:"parameters"`
	Options    hfOptions    `json:"options"`
}

type hfParameters struct {
	Temperature    *float64 `json:"temperature,omitempty"`
	MaxNewTokens   int      `json:"max_new_tokens,omitempty"`
	ReturnFullText bool     `json:"return_full_text"`
}

type hfOptions struct {
	WaitForModel bool `json:"wait_for_model"`
}

// BuildRequestBody flattens the messages into a single prompt.
func (h *HuggingFaceCodec) BuildRequestBody(_ string, messages []llm.Message, temperature *float64, maxTokens int) ([]byte, error) {
	parts := make([]string, 0, len(messages))
	for _, msg := range messages {
		parts = append(parts, msg.Content)
	}

	if temperature != nil && *temperature < minHFTemperature {
		t := minHFTemperature
		temperature = &t
	}

	return json.Marshal(hfRequest{
		Inputs: strings.Join(parts, "\n\n"),
		Parameters: hfParameters{
			Temperature:  temperature,
			MaxNewTokens: maxTokens,
		},
		Options: hfOptions{WaitForModel: true},
	})
}

type hfGeneration struct {
	GeneratedText string `json:"generated_text"`
}

// ParseResponse accepts either a list of generations or a single object.
func (h *HuggingFaceCodec) ParseResponse(body []byte, model string) (*llm.Response, error) {
	var list []hfGeneration
	if err := json.Unmarshal(body, &list); err != nil {
		var single hfGeneration
		if err2 := json.Unmarshal(body, &single); err2 != nil {
			return nil, fmt.Errorf("parse huggingface response: %w", err)
		}
		list = []hfGeneration{single}
	}
	if len(list) == 0 {
		return nil, fmt.Errorf("no generations in response")
	}

	return &llm.Response{
		Content:      list[0].GeneratedText,
		Model:        model,
		FinishReason: "stop",
	}, nil
}
