// Package testutil provides test doubles for the llm package.
package testutil

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
)

// MockGenerator is a thread-safe scripted llm.Generator.
//
// Usage:
//
//	// Answer, then rationale
//	mock := &MockGenerator{Responses: []string{"True", "Because it orbits the sun."}}
//
//	// Route by prompt content
//	mock := &MockGenerator{Respond: func(prompt string) (string, error) {
//	    if strings.HasSuffix(prompt, "Answer:") {
//	        return "False", nil
//	    }
//	    return "It does not clear its orbit.", nil
//	}}
//
//	// Error response
//	mock := &MockGenerator{Err: errors.New("connection failed")}
type MockGenerator struct {
	mu sync.Mutex

	// Responses are returned in sequence. Respond takes precedence when set.
	Responses []string

	// Respond computes a response from the prompt.
	Respond func(prompt string) (string, error)

	// Err is returned by every call when set.
	Err error

	// FailOn makes the Nth call (1-based) return Err instead of a response.
	FailOn int

	prompts       []string
	temperatures  []float64
	responseIndex int
}

// Generate implements llm.Generator.
func (m *MockGenerator) Generate(ctx context.Context, prompt string, temperature float64) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return "", err
	}

	m.prompts = append(m.prompts, prompt)
	m.temperatures = append(m.temperatures, temperature)
	call := len(m.prompts)

	if m.Err != nil && (m.FailOn == 0 || m.FailOn == call) {
		return "", m.Err
	}
	if m.Respond != nil {
		return m.Respond(prompt)
	}
	if m.responseIndex < len(m.Responses) {
		resp := m.Responses[m.responseIndex]
		m.responseIndex++
		return resp, nil
	}
	return "", fmt.Errorf("mock generator: no response scripted for call %d", call)
}

// Prompts returns every prompt received, in order.
func (m *MockGenerator) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.prompts...)
}

// Temperatures returns every temperature received, in order.
func (m *MockGenerator) Temperatures() []float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]float64(nil), m.temperatures...)
}

// CallCount returns the number of Generate calls.
func (m *MockGenerator) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.prompts)
}

// Reset clears recorded calls and rewinds the response script.
func (m *MockGenerator) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prompts = nil
	m.temperatures = nil
	m.responseIndex = 0
}

// DeterministicGenerator answers as a pure function of the prompt, standing
// in for a model sampled at temperature zero. Prompts ending in "Answer:"
// receive one of the verdicts; everything else receives a rationale that
// names a hash of the prompt.
type DeterministicGenerator struct{}

// Generate implements llm.Generator.
func (DeterministicGenerator) Generate(_ context.Context, prompt string, _ float64) (string, error) {
	h := fnv.New32a()
	_, _ = h.Write([]byte(prompt))
	sum := h.Sum32()

	if strings.HasSuffix(strings.TrimSpace(prompt), "Answer:") {
		return []string{"True", "False", "Unknown"}[sum%3], nil
	}
	return fmt.Sprintf("Rationale %08x.", sum), nil
}
