package model

import (
	"encoding/json"
	"testing"
)

func TestNewDefaultRegistry(t *testing.T) {
	r := NewDefaultRegistry()

	for _, name := range []string{
		"gpt-4",
		"gpt-3.5-turbo",
		"text-curie-001",
		"meta-llama/Llama-2-70b-chat-hf",
		"google/flan-t5-xxl",
	} {
		if r.GetEndpoint(name) == nil {
			t.Errorf("expected endpoint for %s", name)
		}
	}

	if got := r.DefaultModel(); got != "gpt-4" {
		t.Errorf("expected default gpt-4, got %q", got)
	}
	if ep := r.GetEndpoint("text-curie-001"); ep.Mode != ModeCompletion {
		t.Errorf("expected completion mode for text-curie-001, got %q", ep.Mode)
	}
	if ep := r.GetEndpoint("google/flan-t5-xxl"); ep.Provider != "huggingface" {
		t.Errorf("expected huggingface provider, got %q", ep.Provider)
	}
}

func TestRegistryGetEndpoint(t *testing.T) {
	r := NewRegistry(map[string]*EndpointConfig{
		"local": {Provider: "ollama", URL: "http://localhost:11434/v1", Model: "llama3.2"},
	})

	ep := r.GetEndpoint("local")
	if ep == nil {
		t.Fatal("expected endpoint for local")
	}
	if ep.Model != "llama3.2" {
		t.Errorf("expected model llama3.2, got %q", ep.Model)
	}
	if r.GetEndpoint("nonexistent") != nil {
		t.Error("expected nil for unknown model")
	}
}

func TestRegistrySetEndpoint(t *testing.T) {
	r := NewRegistry(nil)
	r.SetEndpoint("mock", &EndpointConfig{Provider: "ollama", Model: "mock"})

	if r.GetEndpoint("mock") == nil {
		t.Fatal("expected endpoint after SetEndpoint")
	}
	if got := r.ListEndpoints(); len(got) != 1 || got[0] != "mock" {
		t.Errorf("unexpected endpoint list %v", got)
	}
}

func TestRegistrySetDefault(t *testing.T) {
	r := NewRegistry(nil)
	r.SetDefault("llama3.2")
	if got := r.DefaultModel(); got != "llama3.2" {
		t.Errorf("expected llama3.2, got %q", got)
	}
}

func TestRegistryListEndpointsSorted(t *testing.T) {
	r := NewRegistry(map[string]*EndpointConfig{
		"b": {Provider: "ollama"},
		"a": {Provider: "ollama"},
		"c": {Provider: "ollama"},
	})

	got := r.ListEndpoints()
	want := []string{"a", "b", "c"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestRegistryJSONRoundtrip(t *testing.T) {
	original := NewDefaultRegistry()

	data, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var restored Registry
	if err := json.Unmarshal(data, &restored); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if got, want := len(restored.ListEndpoints()), len(original.ListEndpoints()); got != want {
		t.Errorf("expected %d endpoints, got %d", want, got)
	}
	if restored.DefaultModel() != original.DefaultModel() {
		t.Errorf("default model mismatch: %q vs %q", restored.DefaultModel(), original.DefaultModel())
	}
}
