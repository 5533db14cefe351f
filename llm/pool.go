package llm

import (
	"sync"

	"github.com/c360studio/concepteng/model"
)

// Pool hands out one Client per model name, built on first use.
type Pool struct {
	registry *model.Registry
	opts     []ClientOption

	mu      sync.Mutex
	clients map[string]*Client
}

// NewPool returns a pool resolving models through registry. opts apply to
// every client it builds.
func NewPool(registry *model.Registry, opts ...ClientOption) *Pool {
	return &Pool{
		registry: registry,
		opts:     opts,
		clients:  make(map[string]*Client),
	}
}

// Client returns the client for modelName. Unknown models fail with an
// UnsupportedModelError and are not cached.
func (p *Pool) Client(modelName string) (*Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.clients[modelName]; ok {
		return c, nil
	}
	c, err := NewClient(p.registry, modelName, p.opts...)
	if err != nil {
		return nil, err
	}
	p.clients[modelName] = c
	return c, nil
}

// Generator returns the client for modelName as a Generator.
func (p *Pool) Generator(modelName string) (Generator, error) {
	c, err := p.Client(modelName)
	if err != nil {
		return nil, err
	}
	return c, nil
}
