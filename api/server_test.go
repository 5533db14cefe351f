package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/concepteng/api"
	"github.com/c360studio/concepteng/benchmark"
	"github.com/c360studio/concepteng/chain"
	"github.com/c360studio/concepteng/concept"
	"github.com/c360studio/concepteng/dialectic"
	"github.com/c360studio/concepteng/experiment"
	"github.com/c360studio/concepteng/llm"
	"github.com/c360studio/concepteng/llm/testutil"
	"github.com/c360studio/concepteng/storage"
)

type sourceFunc func(string) (llm.Generator, error)

func (f sourceFunc) Generator(name string) (llm.Generator, error) { return f(name) }

// newTestServer serves gen for gpt-4 and rejects every other model.
func newTestServer(t *testing.T, gen llm.Generator, opts ...api.Option) *httptest.Server {
	t.Helper()
	lib, err := chain.DefaultLibrary()
	require.NoError(t, err)
	engines := dialectic.NewEngines(lib, sourceFunc(func(name string) (llm.Generator, error) {
		if name != "gpt-4" {
			return nil, &llm.UnsupportedModelError{Model: name}
		}
		return gen, nil
	}))
	ts := httptest.NewServer(api.NewServer(engines, opts...).Handler())
	t.Cleanup(ts.Close)
	return ts
}

func post(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func get(t *testing.T, url string) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

var planet = api.ConceptInput{
	ID:         "planet",
	Label:      "planet",
	Definition: "a celestial body that orbits the sun and has cleared its orbit",
}

func TestClassifyEndpoint(t *testing.T) {
	gen := &testutil.MockGenerator{Responses: []string{"False", "Pluto has not cleared its orbit."}}
	ts := newTestServer(t, gen)

	resp := post(t, ts.URL+"/v1/classify", api.ClassifyRequest{
		Concept: planet,
		Entity:  concept.Entity{ID: "Q339", Label: "Pluto", Description: "dwarf planet"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get(api.RequestIDHeader))

	got := decodeBody[concept.Classification](t, resp)
	assert.Equal(t, concept.VerdictFalse, got.Verdict)
	assert.Equal(t, "Pluto has not cleared its orbit.", got.Rationale)
	assert.Equal(t, "Pluto", got.Entity.Label)
	assert.Equal(t, []float64{concept.DefaultTemperature, concept.DefaultTemperature}, gen.Temperatures())
}

func TestExplicitZeroTemperature(t *testing.T) {
	gen := &testutil.MockGenerator{Responses: []string{"True", "It orbits."}}
	ts := newTestServer(t, gen)

	zero := 0.0
	c := planet
	c.Temperature = &zero
	resp := post(t, ts.URL+"/v1/classify", api.ClassifyRequest{Concept: c, Entity: concept.Entity{Label: "Mars"}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []float64{0, 0}, gen.Temperatures())
}

func TestCounterexampleEndpoints(t *testing.T) {
	gen := &testutil.MockGenerator{Respond: func(prompt string) (string, error) {
		switch {
		case strings.HasSuffix(prompt, "Rationale:"):
			return "Because.", nil
		case strings.Contains(prompt, "Is this a valid counterexample?"):
			return "True", nil
		case strings.HasSuffix(prompt, "Revised definition:"):
			return "a celestial body that orbits the sun and is massive enough to be round", nil
		default:
			return "Ceres", nil
		}
	}}
	ts := newTestServer(t, gen)

	resp := post(t, ts.URL+"/v1/counterexamples", api.ProposeRequest{Concept: planet})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	proposal := decodeBody[concept.CounterexampleProposal](t, resp)
	assert.Equal(t, "Ceres", proposal.Counterexample)

	resp = post(t, ts.URL+"/v1/counterexamples/validate", api.CounterexampleRequest{
		Concept: planet, Counterexample: "Ceres",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	validation := decodeBody[concept.CounterexampleValidation](t, resp)
	assert.Equal(t, "Ceres", validation.Counterexample)
	assert.Equal(t, concept.DefaultDescription, validation.Description)
	assert.Equal(t, concept.VerdictTrue, validation.Verdict)

	resp = post(t, ts.URL+"/v1/revisions", api.CounterexampleRequest{
		Concept: planet, Counterexample: "Ceres", Description: "dwarf planet in the asteroid belt",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	revision := decodeBody[concept.DefinitionRevision](t, resp)
	assert.Equal(t, "a celestial body that orbits the sun and is massive enough to be round", revision.Definition)
	assert.Equal(t, "Because.", revision.Rationale)

	resp = post(t, ts.URL+"/v1/revisions", api.CounterexampleRequest{Concept: planet})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "counterexample is required")
}

func TestBadRequests(t *testing.T) {
	ts := newTestServer(t, &testutil.MockGenerator{})

	tests := []struct {
		name   string
		path   string
		body   string
		status int
	}{
		{"malformed json", "/v1/classify", `{"concept":`, http.StatusBadRequest},
		{"unknown field", "/v1/classify", `{"concept":{},"entity":{},"extra":1}`, http.StatusBadRequest},
		{"missing entity", "/v1/classify", `{"concept":{"id":"planet","label":"planet","definition":"d"}}`, http.StatusBadRequest},
		{"empty definition", "/v1/counterexamples", `{"concept":{"id":"planet","label":"planet","definition":" "}}`, http.StatusBadRequest},
		{"unsupported model", "/v1/counterexamples", `{"concept":{"id":"planet","label":"planet","definition":"d","model_name":"gpt-17"}}`, http.StatusBadRequest},
		{"bad on_false", "/v1/sessions", `{"concept":{"id":"planet","label":"planet","definition":"d"},"entity":{"label":"Pluto"},"on_false":"ignore"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(ts.URL+tt.path, "application/json", strings.NewReader(tt.body))
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, tt.status, resp.StatusCode)
			body := decodeBody[api.ErrorResponse](t, resp)
			assert.NotEmpty(t, body.Error)
			assert.Equal(t, resp.Header.Get(api.RequestIDHeader), body.RequestID)
		})
	}
}

func TestGenerationFailureIsBadGateway(t *testing.T) {
	ts := newTestServer(t, &testutil.MockGenerator{Err: errors.New("upstream down")})

	resp := post(t, ts.URL+"/v1/counterexamples", api.ProposeRequest{Concept: planet})
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestSessionEndpoint(t *testing.T) {
	gen := &testutil.MockGenerator{Respond: func(prompt string) (string, error) {
		if strings.HasSuffix(prompt, "Rationale:") {
			return "Because.", nil
		}
		if strings.HasSuffix(prompt, "Answer:") {
			return "Unknown", nil
		}
		return "Ceres", nil
	}}
	ts := newTestServer(t, gen)

	resp := post(t, ts.URL+"/v1/sessions", api.SessionRequest{
		Concept: planet,
		Entity:  concept.Entity{Label: "Pluto"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	tr := decodeBody[dialectic.Transcript](t, resp)
	assert.NotEmpty(t, tr.StopReason)
	assert.NotEmpty(t, tr.Events)
	assert.Equal(t, planet.Definition, tr.History[0])
}

func TestChainEndpoints(t *testing.T) {
	ts := newTestServer(t, &testutil.MockGenerator{})

	resp := get(t, ts.URL+"/v1/chains")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	names := decodeBody[api.ChainsResponse](t, resp)
	assert.Contains(t, names.Chains, chain.Classify)

	resp = get(t, ts.URL+"/v1/chains/"+chain.Classify)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	spec := decodeBody[chain.Spec](t, resp)
	assert.Equal(t, "in_extension", spec.Decision.OutputKey)

	resp = get(t, ts.URL+"/v1/chains/nonsense")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDocumentEndpoints(t *testing.T) {
	store := storage.NewMemory()
	ctx := context.Background()

	b := &benchmark.Benchmark{
		TargetConceptID: "planet",
		Limit:           2,
		CreatedAt:       time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Positive: benchmark.Section{Query: "POS", Records: []benchmark.Record{
			{ID: "Q111", Name: "Mars", Description: "planet", Label: benchmark.LabelPositive},
		}},
		Negative: benchmark.Section{Query: "NEG", Records: []benchmark.Record{
			{ID: "Q405", Name: "Moon", Description: "satellite", Label: benchmark.LabelNegative},
		}},
	}
	_, err := b.Save(ctx, store)
	require.NoError(t, err)

	lib, err := chain.DefaultLibrary()
	require.NoError(t, err)
	exp := experiment.New(planet.Concept(), b)
	exp.Sample(2, rand.New(rand.NewPCG(1, 1)))
	require.NoError(t, exp.Run(ctx, dialectic.NewEngine(lib, testutil.DeterministicGenerator{})))
	key, err := exp.Save(ctx, store)
	require.NoError(t, err)

	ts := newTestServer(t, &testutil.MockGenerator{}, api.WithStore(store))

	resp := get(t, ts.URL+"/v1/benchmarks/planet")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	gotBench := decodeBody[benchmark.Benchmark](t, resp)
	assert.Equal(t, 2, gotBench.Size())

	resp = get(t, ts.URL+"/v1/benchmarks/comet")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = get(t, ts.URL+"/v1/experiments?concept=planet")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decodeBody[api.ExperimentsResponse](t, resp)
	assert.Equal(t, []string{key}, list.Keys)

	resp = get(t, ts.URL+"/v1/"+key)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	doc := decodeBody[experiment.Document](t, resp)
	assert.Equal(t, exp.ID, doc.ID)
	assert.Len(t, doc.Results, 2)
}

func TestDocumentEndpointsWithoutStore(t *testing.T) {
	ts := newTestServer(t, &testutil.MockGenerator{})
	resp := get(t, ts.URL+"/v1/experiments")
	assert.Equal(t, http.StatusNotImplemented, resp.StatusCode)
}

func TestHealthMetricsAndCORS(t *testing.T) {
	metricsHandler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("# metrics"))
	})
	ts := newTestServer(t, &testutil.MockGenerator{},
		api.WithMetricsHandler(metricsHandler),
		api.WithCORSOrigins([]string{"http://localhost:3000"}),
	)

	resp := get(t, ts.URL+"/healthz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = get(t, ts.URL+"/metrics")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/healthz", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set(api.RequestIDHeader, "req-42")
	allowed, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer allowed.Body.Close()
	assert.Equal(t, "http://localhost:3000", allowed.Header.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "req-42", allowed.Header.Get(api.RequestIDHeader))

	req.Header.Set("Origin", "http://evil.test")
	denied, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer denied.Body.Close()
	assert.Empty(t, denied.Header.Get("Access-Control-Allow-Origin"))
}
