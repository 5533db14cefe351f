// Package main implements a mock LLM server for offline runs of concepteng.
// It serves OpenAI-compatible /v1/chat/completions responses so the real
// client stack (registry, provider codec, retries) can run without a model.
//
// Usage:
//
//	mock-llm -script /path/to/script.yaml -port 11434
//
// Point a registry endpoint at it with provider "ollama" and url
// "http://localhost:11434/v1".
//
// A script is a list of rules matched in order against the last message of
// each request. A rule matches when every criterion it sets holds:
//
//	rules:
//	  - name: ceres
//	    contains: "What is the name of that"
//	    responses: ["Ceres", "Pluto"]
//
// The Nth match of a rule returns its Nth response; after that the last
// response repeats. Prompts no rule matches are answered deterministically:
// decision prompts ending in "Answer:" get a verdict and anything else gets
// a rationale, both chosen by a hash of the prompt.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c360studio/concepteng/llm/testutil"
)

// --- OpenAI-compatible types ---

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
	Usage   chatUsage    `json:"usage"`
}

type chatChoice struct {
	Index        int         `json:"index"`
	Message      chatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// --- Script ---

// rule answers prompts matching all of its set criteria.
type rule struct {
	Name      string   `yaml:"name"`
	Model     string   `yaml:"model,omitempty"`
	Contains  string   `yaml:"contains,omitempty"`
	Suffix    string   `yaml:"suffix,omitempty"`
	Responses []string `yaml:"responses"`
}

func (r *rule) matches(model, prompt string) bool {
	if r.Model != "" && r.Model != model {
		return false
	}
	if r.Contains != "" && !strings.Contains(prompt, r.Contains) {
		return false
	}
	if r.Suffix != "" && !strings.HasSuffix(strings.TrimSpace(prompt), r.Suffix) {
		return false
	}
	return true
}

type script struct {
	Rules []rule `yaml:"rules"`
}

// loadScript reads and checks a rule script.
func loadScript(path string) (*script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}
	var s script
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse script %s: %w", path, err)
	}
	for i, r := range s.Rules {
		if r.Name == "" {
			s.Rules[i].Name = "rule-" + strconv.Itoa(i+1)
		}
		if len(r.Responses) == 0 {
			return nil, fmt.Errorf("rule %s has no responses", s.Rules[i].Name)
		}
		if r.Model == "" && r.Contains == "" && r.Suffix == "" {
			return nil, fmt.Errorf("rule %s matches every prompt", s.Rules[i].Name)
		}
	}
	return &s, nil
}

// --- Server ---

// capturedRequest stores the key fields of an incoming request for test verification.
type capturedRequest struct {
	Model     string        `json:"model"`
	Rule      string        `json:"rule"`
	Messages  []chatMessage `json:"messages"`
	CallIndex int           `json:"call_index"` // 1-indexed per-rule call number
	Timestamp int64         `json:"timestamp"`
}

// fallbackRule names prompts answered by the deterministic generator.
const fallbackRule = "deterministic"

type server struct {
	rules  []rule
	calls  atomic.Int64
	logger *slog.Logger

	mu        sync.Mutex
	ruleCalls map[string]int
	requests  map[string][]capturedRequest
}

func newServer(s *script, logger *slog.Logger) *server {
	var rules []rule
	if s != nil {
		rules = s.Rules
	}
	return &server{
		rules:     rules,
		logger:    logger,
		ruleCalls: make(map[string]int),
		requests:  make(map[string][]capturedRequest),
	}
}

func (s *server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /v1/chat/completions", s.handleChatCompletions)
	mux.HandleFunc("GET /v1/models", s.handleModels)
	mux.HandleFunc("GET /stats", s.handleStats)
	mux.HandleFunc("GET /requests", s.handleRequests)
	return mux
}

func main() {
	scriptPath := flag.String("script", "", "rule script (YAML); deterministic answers only when empty")
	port := flag.Int("port", 11434, "port to listen on")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	// Allow env var override
	if env := os.Getenv("MOCK_LLM_SCRIPT"); env != "" && *scriptPath == "" {
		*scriptPath = env
	}

	var sc *script
	if *scriptPath != "" {
		var err error
		sc, err = loadScript(*scriptPath)
		if err != nil {
			logger.Error("Failed to load script", "path", *scriptPath, "error", err)
			os.Exit(1)
		}
		logger.Info("Loaded script", "path", *scriptPath, "rules", len(sc.Rules))
	}

	s := newServer(sc, logger)
	addr := fmt.Sprintf(":%d", *port)
	srv := &http.Server{Addr: addr, Handler: s.routes(), ReadHeaderTimeout: 10 * time.Second}
	logger.Info("Mock LLM server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil {
		logger.Error("Server failed", "error", err)
		os.Exit(1)
	}
}

// answer picks the reply for prompt and records the request.
func (s *server) answer(req chatRequest) (string, string, error) {
	prompt := req.Messages[len(req.Messages)-1].Content

	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.rules {
		r := &s.rules[i]
		if !r.matches(req.Model, prompt) {
			continue
		}
		idx := s.ruleCalls[r.Name]
		s.ruleCalls[r.Name] = idx + 1
		s.capture(r.Name, req, idx+1)
		if idx >= len(r.Responses) {
			idx = len(r.Responses) - 1 // repeat last response
		}
		return r.Responses[idx], r.Name, nil
	}

	s.ruleCalls[fallbackRule]++
	s.capture(fallbackRule, req, s.ruleCalls[fallbackRule])
	content, err := testutil.DeterministicGenerator{}.Generate(context.Background(), prompt, 0)
	return content, fallbackRule, err
}

// capture stores a request for the /requests endpoint. Callers hold s.mu.
func (s *server) capture(ruleName string, req chatRequest, callIndex int) {
	s.requests[ruleName] = append(s.requests[ruleName], capturedRequest{
		Model:     req.Model,
		Rule:      ruleName,
		Messages:  req.Messages,
		CallIndex: callIndex,
		Timestamp: time.Now().UnixMilli(),
	})
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}
	if len(req.Messages) == 0 {
		http.Error(w, "messages are required", http.StatusBadRequest)
		return
	}

	callNum := s.calls.Add(1)
	content, ruleName, err := s.answer(req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.logger.Debug("Answered", "call", callNum, "model", req.Model, "rule", ruleName, "bytes", len(content))

	prompt := req.Messages[len(req.Messages)-1].Content
	resp := chatResponse{
		ID:      fmt.Sprintf("mock-%d", callNum),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   req.Model,
		Choices: []chatChoice{
			{
				Index:        0,
				Message:      chatMessage{Role: "assistant", Content: content},
				FinishReason: "stop",
			},
		},
		Usage: chatUsage{
			PromptTokens:     len(prompt) / 4, // rough estimate
			CompletionTokens: len(content) / 4,
			TotalTokens:      (len(prompt) + len(content)) / 4,
		},
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleModels lists the mock as a single Ollama-compatible model.
func (s *server) handleModels(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"object": "list",
		"data": []map[string]string{
			{"id": "mock", "object": "model", "owned_by": "mock-llm"},
		},
	})
}

// handleStats returns total_calls and a calls_by_rule breakdown.
func (s *server) handleStats(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	byRule := make(map[string]int, len(s.ruleCalls))
	for name, n := range s.ruleCalls {
		byRule[name] = n
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"total_calls":   s.calls.Load(),
		"calls_by_rule": byRule,
	})
}

// handleRequests returns captured requests, optionally filtered by the rule
// and call (1-indexed) query parameters.
func (s *server) handleRequests(w http.ResponseWriter, r *http.Request) {
	ruleFilter := r.URL.Query().Get("rule")
	callFilter, _ := strconv.Atoi(r.URL.Query().Get("call"))

	s.mu.Lock()
	result := make(map[string][]capturedRequest)
	for name, reqs := range s.requests {
		if ruleFilter != "" && name != ruleFilter {
			continue
		}
		for _, req := range reqs {
			if callFilter == 0 || req.CallIndex == callFilter {
				result[name] = append(result[name], req)
			}
		}
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{"requests_by_rule": result})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
