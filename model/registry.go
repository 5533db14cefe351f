// Package model maps model identifiers to the endpoints that serve them.
package model

import (
	"encoding/json"
	"sort"
	"sync"
)

// Endpoint modes.
const (
	ModeChat       = "chat"
	ModeCompletion = "completion"
)

// Registry maps model identifiers (as named in a concept) to endpoints.
type Registry struct {
	mu        sync.RWMutex
	endpoints map[string]*EndpointConfig
	defaults  *DefaultsConfig
}

// EndpointConfig defines an available model endpoint.
type EndpointConfig struct {
	// Provider is the backend family (openai, ollama, anthropic, huggingface).
	Provider string `json:"provider" yaml:"provider"`

	// URL is the API base URL. Empty uses the provider default.
	URL string `json:"url,omitempty" yaml:"url,omitempty"`

	// Model is the identifier sent to the provider.
	Model string `json:"model" yaml:"model"`

	// Mode selects chat or plain completion style requests. Empty means chat.
	Mode string `json:"mode,omitempty" yaml:"mode,omitempty"`

	// MaxTokens caps the completion length. 0 uses the provider default.
	MaxTokens int `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`
}

// DefaultsConfig holds default model settings.
type DefaultsConfig struct {
	Model string `json:"model"`
}

// NewRegistry creates a registry over the given endpoints.
func NewRegistry(endpoints map[string]*EndpointConfig) *Registry {
	if endpoints == nil {
		endpoints = make(map[string]*EndpointConfig)
	}
	return &Registry{
		endpoints: endpoints,
		defaults:  &DefaultsConfig{Model: "gpt-4"},
	}
}

// NewDefaultRegistry creates a registry with the models concepts are
// commonly evaluated against.
func NewDefaultRegistry() *Registry {
	return &Registry{
		endpoints: map[string]*EndpointConfig{
			"gpt-4": {
				Provider: "openai",
				Model:    "gpt-4",
			},
			"gpt-3.5-turbo": {
				Provider: "openai",
				Model:    "gpt-3.5-turbo",
			},
			"text-curie-001": {
				Provider:  "openai",
				Model:     "text-curie-001",
				Mode:      ModeCompletion,
				MaxTokens: 256,
			},
			"meta-llama/Llama-2-70b-chat-hf": {
				Provider:  "huggingface",
				Model:     "meta-llama/Llama-2-70b-chat-hf",
				MaxTokens: 512,
			},
			"google/flan-t5-xxl": {
				Provider:  "huggingface",
				Model:     "google/flan-t5-xxl",
				MaxTokens: 256,
			},
			"claude-sonnet": {
				Provider: "anthropic",
				Model:    "claude-sonnet-4-20250514",
			},
			"llama3.2": {
				Provider: "ollama",
				URL:      "http://localhost:11434/v1",
				Model:    "llama3.2",
			},
		},
		defaults: &DefaultsConfig{
			Model: "gpt-4",
		},
	}
}

// GetEndpoint returns the endpoint configuration for a model name.
// Returns nil if the model is not configured.
func (r *Registry) GetEndpoint(modelName string) *EndpointConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.endpoints[modelName]
}

// SetEndpoint updates or adds an endpoint configuration.
func (r *Registry) SetEndpoint(name string, cfg *EndpointConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.endpoints == nil {
		r.endpoints = make(map[string]*EndpointConfig)
	}
	r.endpoints[name] = cfg
}

// DefaultModel returns the model used when none is named.
func (r *Registry) DefaultModel() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.defaults == nil {
		return ""
	}
	return r.defaults.Model
}

// SetDefault sets the default model.
func (r *Registry) SetDefault(model string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.defaults == nil {
		r.defaults = &DefaultsConfig{}
	}
	r.defaults.Model = model
}

// ListEndpoints returns all configured model names in sorted order.
func (r *Registry) ListEndpoints() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.endpoints))
	for name := range r.endpoints {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// MarshalJSON implements json.Marshaler for the registry.
func (r *Registry) MarshalJSON() ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return json.Marshal(RegistryConfig{
		Endpoints: r.endpoints,
		Defaults:  r.defaults,
	})
}

// UnmarshalJSON implements json.Unmarshaler for the registry.
func (r *Registry) UnmarshalJSON(data []byte) error {
	var tmp RegistryConfig
	if err := json.Unmarshal(data, &tmp); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.endpoints = tmp.Endpoints
	r.defaults = tmp.Defaults
	return nil
}
