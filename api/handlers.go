package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/c360studio/concepteng/benchmark"
	"github.com/c360studio/concepteng/chain"
	"github.com/c360studio/concepteng/concept"
	"github.com/c360studio/concepteng/dialectic"
	"github.com/c360studio/concepteng/experiment"
	"github.com/c360studio/concepteng/llm"
	"github.com/c360studio/concepteng/storage"
)

// ConceptInput is a concept as sent by clients. Omitted model and
// temperature take the concept defaults; an explicit 0 temperature is kept.
type ConceptInput struct {
	ID          string   `json:"id"`
	Label       string   `json:"label"`
	Variable    string   `json:"variable,omitempty"`
	Definition  string   `json:"definition"`
	Reference   string   `json:"reference,omitempty"`
	ModelName   string   `json:"model_name,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
}

// Concept converts the input, filling defaults.
func (in ConceptInput) Concept() concept.Concept {
	c := concept.New(in.ID, in.Label, in.Definition)
	c.Variable = in.Variable
	c.Reference = in.Reference
	if in.ModelName != "" {
		c.ModelName = in.ModelName
	}
	if in.Temperature != nil {
		c.Temperature = *in.Temperature
	}
	return c
}

// ClassifyRequest is the body of POST /v1/classify.
type ClassifyRequest struct {
	Concept ConceptInput   `json:"concept"`
	Entity  concept.Entity `json:"entity"`
}

// ProposeRequest is the body of POST /v1/counterexamples.
type ProposeRequest struct {
	Concept ConceptInput `json:"concept"`
}

// CounterexampleRequest is the body of POST /v1/counterexamples/validate
// and POST /v1/revisions.
type CounterexampleRequest struct {
	Concept        ConceptInput `json:"concept"`
	Counterexample string       `json:"counterexample"`
	Description    string       `json:"description,omitempty"`
}

// SessionRequest is the body of POST /v1/sessions.
type SessionRequest struct {
	Concept       ConceptInput   `json:"concept"`
	Entity        concept.Entity `json:"entity"`
	MaxIterations int            `json:"max_iterations,omitempty"`
	OnFalse       string         `json:"on_false,omitempty"`
}

// ChainsResponse is the response for GET /v1/chains.
type ChainsResponse struct {
	Chains []string `json:"chains"`
}

// ExperimentsResponse is the response for GET /v1/experiments.
type ExperimentsResponse struct {
	Keys  []string `json:"keys"`
	Total int      `json:"total"`
}

// engineFor validates c and returns the engine for its model, writing the
// error response itself when it fails.
func (s *Server) engineFor(w http.ResponseWriter, r *http.Request, c concept.Concept) (*dialectic.Engine, bool) {
	if err := c.Validate(); err != nil {
		s.writeError(w, r, http.StatusBadRequest, err.Error())
		return nil, false
	}
	e, err := s.engines.For(c.ModelName)
	if err != nil {
		s.fail(w, r, "resolve model", err)
		return nil, false
	}
	return e, true
}

func (s *Server) handleClassify(w http.ResponseWriter, r *http.Request) {
	var req ClassifyRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Entity.Label == "" {
		s.writeError(w, r, http.StatusBadRequest, "entity.label is required")
		return
	}
	c := req.Concept.Concept()
	engine, ok := s.engineFor(w, r, c)
	if !ok {
		return
	}
	result, err := engine.Classify(r.Context(), c, req.Entity)
	if err != nil {
		s.fail(w, r, "classify", err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handlePropose(w http.ResponseWriter, r *http.Request) {
	var req ProposeRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	c := req.Concept.Concept()
	engine, ok := s.engineFor(w, r, c)
	if !ok {
		return
	}
	result, err := engine.ProposeCounterexample(r.Context(), c)
	if err != nil {
		s.fail(w, r, "propose counterexample", err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	s.handleCounterexample(w, r, "validate counterexample",
		func(ctx context.Context, e *dialectic.Engine, c concept.Concept, req CounterexampleRequest) (any, error) {
			return e.ValidateCounterexample(ctx, c, req.Counterexample, req.Description)
		})
}

func (s *Server) handleRevise(w http.ResponseWriter, r *http.Request) {
	s.handleCounterexample(w, r, "revise definition",
		func(ctx context.Context, e *dialectic.Engine, c concept.Concept, req CounterexampleRequest) (any, error) {
			return e.ReviseDefinition(ctx, c, req.Counterexample, req.Description)
		})
}

func (s *Server) handleCounterexample(w http.ResponseWriter, r *http.Request, op string,
	run func(context.Context, *dialectic.Engine, concept.Concept, CounterexampleRequest) (any, error)) {
	var req CounterexampleRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Counterexample == "" {
		s.writeError(w, r, http.StatusBadRequest, "counterexample is required")
		return
	}
	c := req.Concept.Concept()
	engine, ok := s.engineFor(w, r, c)
	if !ok {
		return
	}
	result, err := run(r.Context(), engine, c, req)
	if err != nil {
		s.fail(w, r, op, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	var req SessionRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Entity.Label == "" {
		s.writeError(w, r, http.StatusBadRequest, "entity.label is required")
		return
	}
	c := req.Concept.Concept()
	engine, ok := s.engineFor(w, r, c)
	if !ok {
		return
	}

	opts := dialectic.SessionOptions{
		MaxIterations: s.maxIterations,
		OnFalse:       s.onFalse,
		Describe:      s.describe,
		Logger:        s.logger,
	}
	if req.MaxIterations != 0 {
		opts.MaxIterations = req.MaxIterations
	}
	if req.OnFalse != "" {
		opts.OnFalse = dialectic.OnFalse(req.OnFalse)
	}
	session, err := dialectic.NewSession(engine, opts)
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	transcript, err := session.Run(r.Context(), c, req.Entity)
	if err != nil {
		s.fail(w, r, "session", err)
		return
	}
	s.writeJSON(w, http.StatusOK, transcript)
}

func (s *Server) handleListChains(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, ChainsResponse{Chains: s.engines.Chains().Names()})
}

func (s *Server) handleGetChain(w http.ResponseWriter, r *http.Request) {
	spec, err := s.engines.Chains().Spec(r.PathValue("name"))
	if err != nil {
		s.fail(w, r, "get chain", err)
		return
	}
	s.writeJSON(w, http.StatusOK, spec)
}

func (s *Server) handleGetBenchmark(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w, r) {
		return
	}
	b, err := benchmark.Load(r.Context(), s.store, r.PathValue("concept"))
	if err != nil {
		s.fail(w, r, "load benchmark", err)
		return
	}
	s.writeJSON(w, http.StatusOK, b)
}

// handleListExperiments handles GET /v1/experiments.
// Query parameters:
//   - model: only runs of this model
//   - concept: only runs of this concept id
func (s *Server) handleListExperiments(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w, r) {
		return
	}
	q := r.URL.Query()
	keys, err := experiment.List(r.Context(), s.store, q.Get("model"), q.Get("concept"))
	if err != nil {
		s.fail(w, r, "list experiments", err)
		return
	}
	if keys == nil {
		keys = []string{}
	}
	s.writeJSON(w, http.StatusOK, ExperimentsResponse{Keys: keys, Total: len(keys)})
}

func (s *Server) handleGetExperiment(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w, r) {
		return
	}
	doc, err := experiment.Load(r.Context(), s.store, "experiments/"+r.PathValue("key"))
	if err != nil {
		s.fail(w, r, "load experiment", err)
		return
	}
	s.writeJSON(w, http.StatusOK, doc)
}

func (s *Server) requireStore(w http.ResponseWriter, r *http.Request) bool {
	if s.store == nil {
		s.writeError(w, r, http.StatusNotImplemented, "no document store configured")
		return false
	}
	return true
}

// fail logs err and writes the matching status.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("Request failed", "request_id", requestID(r.Context()), "op", op, "error", err)
	}
	s.writeError(w, r, status, op+": "+err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, llm.ErrUnsupportedModel),
		errors.Is(err, storage.ErrInvalidKey):
		return http.StatusBadRequest
	case errors.Is(err, storage.ErrNotFound),
		errors.Is(err, chain.ErrUnknownChain):
		return http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, chain.ErrGenerationFailure),
		errors.Is(err, chain.ErrStepFailure),
		errors.Is(err, concept.ErrInvalidVerdict),
		errors.Is(err, concept.ErrEmptyDefinition):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
