package dialectic

import (
	"sync"

	"github.com/c360studio/concepteng/chain"
	"github.com/c360studio/concepteng/llm"
)

// GeneratorSource resolves a model name to a generator. *llm.Pool is one.
type GeneratorSource interface {
	Generator(modelName string) (llm.Generator, error)
}

// Engines keeps one Engine per model, so callers holding concepts that
// name different models share a single chain library.
type Engines struct {
	chains *chain.Library
	source GeneratorSource
	opts   []Option

	mu      sync.Mutex
	engines map[string]*Engine
}

// NewEngines returns an engine set over lib and source.
func NewEngines(lib *chain.Library, source GeneratorSource, opts ...Option) *Engines {
	return &Engines{
		chains:  lib,
		source:  source,
		opts:    opts,
		engines: make(map[string]*Engine),
	}
}

// For returns the engine for modelName.
func (s *Engines) For(modelName string) (*Engine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.engines[modelName]; ok {
		return e, nil
	}
	gen, err := s.source.Generator(modelName)
	if err != nil {
		return nil, err
	}
	e := NewEngine(s.chains, gen, s.opts...)
	s.engines[modelName] = e
	return e, nil
}

// Chains returns the library the engines run.
func (s *Engines) Chains() *chain.Library {
	return s.chains
}
