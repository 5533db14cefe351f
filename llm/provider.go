package llm

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"sync"

	"github.com/c360studio/concepteng/model"
)

// Generator is the narrow text-generation contract the reasoning chains
// depend on: a rendered prompt and a temperature in, a completion out.
type Generator interface {
	Generate(ctx context.Context, prompt string, temperature float64) (string, error)
}

// GeneratorFunc adapts a function to the Generator interface.
type GeneratorFunc func(ctx context.Context, prompt string, temperature float64) (string, error)

// Generate calls f.
func (f GeneratorFunc) Generate(ctx context.Context, prompt string, temperature float64) (string, error) {
	return f(ctx, prompt, temperature)
}

// Backend performs a single completion request against one endpoint.
// Backends classify their errors as transient or fatal and never retry.
type Backend interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

// BackendOptions carries shared dependencies into a backend.
type BackendOptions struct {
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Provider builds backends for one family of endpoints.
type Provider interface {
	// Name returns the provider identifier (e.g., "openai", "ollama").
	Name() string

	// NewBackend binds the provider to an endpoint.
	NewBackend(ep *model.EndpointConfig, opts BackendOptions) (Backend, error)
}

// providerRegistry holds registered providers.
var (
	providerRegistry = make(map[string]Provider)
	providerMu       sync.RWMutex
)

// RegisterProvider adds a provider to the registry.
func RegisterProvider(p Provider) {
	providerMu.Lock()
	defer providerMu.Unlock()
	providerRegistry[p.Name()] = p
}

// GetProvider retrieves a provider by name.
func GetProvider(name string) Provider {
	providerMu.RLock()
	defer providerMu.RUnlock()
	return providerRegistry[name]
}

// ListProviders returns all registered provider names.
func ListProviders() []string {
	providerMu.RLock()
	defer providerMu.RUnlock()

	names := make([]string, 0, len(providerRegistry))
	for name := range providerRegistry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
