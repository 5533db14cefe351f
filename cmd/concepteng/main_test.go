package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/concepteng/benchmark"
	"github.com/c360studio/concepteng/concept"
	"github.com/c360studio/concepteng/config"
	"github.com/c360studio/concepteng/dialectic"
	"github.com/c360studio/concepteng/experiment"
	"github.com/c360studio/concepteng/llm"
	"github.com/c360studio/concepteng/llm/testutil"
	"github.com/c360studio/concepteng/storage"
)

type sourceFunc func(string) (llm.Generator, error)

func (f sourceFunc) Generator(name string) (llm.Generator, error) { return f(name) }

const planetDoc = `id: planet
label: planet
definition: a celestial body that orbits the sun and has cleared its orbit
`

// respond answers each default chain prompt with a fixed reply.
func respond(prompt string) (string, error) {
	p := strings.TrimSpace(prompt)
	switch {
	case strings.HasSuffix(p, "Rationale:"):
		return "Because.", nil
	case strings.HasSuffix(p, "Revised definition:"):
		return "a celestial body that orbits the sun and is massive enough to be round", nil
	case strings.Contains(p, "Is this a valid counterexample?"):
		return "True", nil
	case strings.Contains(p, "What is the name of that"):
		return "Ceres", nil
	case strings.Contains(p, "Entity: neg-"):
		return "False", nil
	default:
		return "True", nil
	}
}

type harness struct {
	t     *testing.T
	dir   string
	env   map[string]string
	store storage.Store
	gen   llm.Generator
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return &harness{
		t:     t,
		dir:   t.TempDir(),
		env:   map[string]string{},
		store: storage.NewMemory(),
		gen:   &testutil.MockGenerator{Respond: respond},
	}
}

func (h *harness) deps(withSource bool) deps {
	d := deps{
		loaderOpts: []config.LoaderOption{
			config.WithWorkDir(h.dir),
			config.WithHomeDir(h.dir),
			config.WithEnv(func(k string) (string, bool) {
				v, ok := h.env[k]
				return v, ok
			}),
		},
		appOpts: []AppOption{WithStore(h.store)},
	}
	if withSource {
		d.appOpts = append(d.appOpts, WithGeneratorSource(sourceFunc(func(name string) (llm.Generator, error) {
			if name != concept.DefaultModel {
				return nil, &llm.UnsupportedModelError{Model: name}
			}
			return h.gen, nil
		})))
	}
	return d
}

func (h *harness) file(name, content string) string {
	h.t.Helper()
	path := filepath.Join(h.dir, name)
	require.NoError(h.t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func (h *harness) run(stdin string, args ...string) (string, error) {
	return h.runWith(h.deps(true), stdin, args...)
}

func (h *harness) runWith(d deps, stdin string, args ...string) (string, error) {
	h.t.Helper()
	cmd := rootCmd(d)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	h := newHarness(t)
	out, err := h.run("", "version")
	require.NoError(t, err)
	assert.Equal(t, "concepteng version 0.1.0 (build: dev)\n", out)
}

func TestClassifyCommand(t *testing.T) {
	h := newHarness(t)
	path := h.file("planet.yaml", planetDoc)

	out, err := h.run("", "classify", "-f", path, "-e", "Mars", "--id", "Q111", "--description", "fourth planet")
	require.NoError(t, err)

	var got concept.Classification
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, concept.VerdictTrue, got.Verdict)
	assert.Equal(t, "Because.", got.Rationale)
	assert.Equal(t, "Q111", got.Entity.ID)
	assert.Contains(t, h.gen.(*testutil.MockGenerator).Prompts()[0], "Description: fourth planet.")
}

func TestClassifyCommandRequiresFlags(t *testing.T) {
	h := newHarness(t)
	path := h.file("planet.yaml", planetDoc)

	_, err := h.run("", "classify", "-f", path)
	assert.Error(t, err)
	assert.Equal(t, 0, h.gen.(*testutil.MockGenerator).CallCount())
}

func TestModelFlagOverridesConcept(t *testing.T) {
	h := newHarness(t)
	path := h.file("planet.yaml", planetDoc)

	_, err := h.run("", "--model", "gpt-17", "propose", "-f", path)
	assert.ErrorIs(t, err, llm.ErrUnsupportedModel)
}

func TestCounterexampleCommands(t *testing.T) {
	h := newHarness(t)
	path := h.file("planet.yaml", planetDoc)

	out, err := h.run("", "propose", "-f", path)
	require.NoError(t, err)
	var proposal concept.CounterexampleProposal
	require.NoError(t, json.Unmarshal([]byte(out), &proposal))
	assert.Equal(t, "Ceres", proposal.Counterexample)

	out, err = h.run("", "validate", "-f", path, "-x", "Ceres")
	require.NoError(t, err)
	var validation concept.CounterexampleValidation
	require.NoError(t, json.Unmarshal([]byte(out), &validation))
	assert.Equal(t, concept.VerdictTrue, validation.Verdict)

	out, err = h.run("", "revise", "-f", path, "-x", "Ceres")
	require.NoError(t, err)
	var revision concept.DefinitionRevision
	require.NoError(t, json.Unmarshal([]byte(out), &revision))
	assert.Equal(t, "a celestial body that orbits the sun and is massive enough to be round", revision.Definition)

	// without --write the document is untouched
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, planetDoc, string(data))
}

func TestReviseWritesConcept(t *testing.T) {
	h := newHarness(t)
	path := h.file("planet.yaml", planetDoc)

	_, err := h.run("", "revise", "-f", path, "-x", "Ceres", "--write")
	require.NoError(t, err)

	revised, err := config.LoadConcept(path)
	require.NoError(t, err)
	assert.Equal(t, "a celestial body that orbits the sun and is massive enough to be round", revised.Definition)
	assert.Equal(t, "planet", revised.ID)
}

func TestSessionCommand(t *testing.T) {
	h := newHarness(t)
	path := h.file("planet.yaml", planetDoc)

	out, err := h.run("", "session", "-f", path, "-e", "Mars", "--max-iterations", "2")
	require.NoError(t, err)

	var tr dialectic.Transcript
	require.NoError(t, json.Unmarshal([]byte(out), &tr))
	assert.Equal(t, dialectic.StopMaxIterations, tr.StopReason)
	assert.Equal(t, 2, tr.Iterations)
	assert.Len(t, tr.History, 3)
}

func TestSessionInteractiveRejection(t *testing.T) {
	h := newHarness(t)
	path := h.file("planet.yaml", planetDoc)

	out, err := h.run("n\n", "session", "-f", path, "-e", "Mars", "--interactive", "--write")
	require.NoError(t, err)

	var tr dialectic.Transcript
	require.NoError(t, json.Unmarshal([]byte(out), &tr))
	assert.Equal(t, dialectic.StopRejected, tr.StopReason)
	assert.Equal(t, tr.Initial.Definition, tr.Final.Definition)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, planetDoc, string(data))
}

func TestPromptAccept(t *testing.T) {
	var prompts bytes.Buffer
	accept := promptAccept(strings.NewReader("y\nNo\n"), &prompts)
	c := concept.New("planet", "planet", "old")
	rev := concept.DefinitionRevision{Definition: "new", Rationale: "why"}

	ok, err := accept(context.Background(), c, rev)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = accept(context.Background(), c, rev)
	require.NoError(t, err)
	assert.False(t, ok)

	// end of input rejects
	ok, err = accept(context.Background(), c, rev)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Contains(t, prompts.String(), "Proposed: new")
}

func seedBenchmark(t *testing.T, store storage.Store) {
	t.Helper()
	b := &benchmark.Benchmark{TargetConceptID: "planet", Limit: 8}
	for i := 0; i < 4; i++ {
		b.Positive.Records = append(b.Positive.Records, benchmark.Record{
			ID: fmt.Sprintf("P%d", i), Name: fmt.Sprintf("pos-%d", i), Label: benchmark.LabelPositive,
		})
		b.Negative.Records = append(b.Negative.Records, benchmark.Record{
			ID: fmt.Sprintf("N%d", i), Name: fmt.Sprintf("neg-%d", i), Label: benchmark.LabelNegative,
		})
	}
	_, err := b.Save(context.Background(), store)
	require.NoError(t, err)
}

func TestExperimentCommands(t *testing.T) {
	h := newHarness(t)
	seedBenchmark(t, h.store)
	path := h.file("planet.yaml", planetDoc)

	out, err := h.run("", "experiment", "run", "-f", path, "-n", "6", "--seed", "7", "-p", "2")
	require.NoError(t, err)

	var summary struct {
		Key        string             `json:"key"`
		SampleSize int                `json:"sample_size"`
		Metrics    experiment.Metrics `json:"metrics"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &summary))
	assert.Equal(t, 6, summary.SampleSize)
	assert.Equal(t, 1.0, summary.Metrics.Accuracy)
	assert.True(t, strings.HasPrefix(summary.Key, "experiments/gpt-4/planet/"))

	out, err = h.run("", "experiment", "list", "--concept-id", "planet")
	require.NoError(t, err)
	assert.Equal(t, summary.Key+"\n", out)

	out, err = h.run("", "experiment", "show", summary.Key)
	require.NoError(t, err)
	var doc experiment.Document
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	assert.Len(t, doc.Results, 6)
}

func TestExperimentRequiresBenchmark(t *testing.T) {
	h := newHarness(t)
	path := h.file("planet.yaml", planetDoc)

	_, err := h.run("", "experiment", "run", "-f", path)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestExperimentRejectsBadSampleFlags(t *testing.T) {
	h := newHarness(t)
	seedBenchmark(t, h.store)
	path := h.file("planet.yaml", planetDoc)

	_, err := h.run("", "experiment", "run", "-f", path, "--sample=-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sample size")

	_, err = h.run("", "experiment", "run", "-f", path, "--parallelism=0")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parallelism")

	keys, err := experiment.List(context.Background(), h.store, "", "")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestBenchmarkShow(t *testing.T) {
	h := newHarness(t)
	seedBenchmark(t, h.store)

	out, err := h.run("", "benchmark", "show", "planet")
	require.NoError(t, err)
	var b benchmark.Benchmark
	require.NoError(t, json.Unmarshal([]byte(out), &b))
	assert.Equal(t, 8, b.Size())
}

func TestChainsCommands(t *testing.T) {
	h := newHarness(t)

	out, err := h.run("", "chains", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "classify\n")
	assert.Contains(t, out, "revise_definition\n")

	out, err = h.run("", "chains", "show", "classify")
	require.NoError(t, err)
	assert.Contains(t, out, "output_key: in_extension")

	_, err = h.run("", "chains", "show", "nope")
	assert.Error(t, err)
}

func TestConfigShowAppliesEnvironment(t *testing.T) {
	h := newHarness(t)
	h.env["CONCEPTENG_SAMPLE_SIZE"] = "12"

	out, err := h.run("", "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "sample_size: 12")
}

func TestConfigInitCreatesUserConfig(t *testing.T) {
	h := newHarness(t)

	_, err := h.run("", "config", "init")
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(h.dir, config.UserConfigDir, config.UserConfigFile))
	assert.NoError(t, err)
}

// TestClassifyAgainstCompatibleServer runs the real client stack against an
// OpenAI-compatible endpoint declared in a registry file.
func TestClassifyAgainstCompatibleServer(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		var req struct {
			Model    string `json:"model"`
			Messages []struct {
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Messages) == 0 {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		calls.Add(1)
		content, _ := respond(req.Messages[len(req.Messages)-1].Content)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"model": req.Model,
			"choices": []map[string]any{{
				"message":       map[string]string{"role": "assistant", "content": content},
				"finish_reason": "stop",
			}},
		})
	}))
	defer srv.Close()

	h := newHarness(t)
	registry := h.file("models.json", fmt.Sprintf(
		`{"endpoints": {"gpt-4": {"provider": "ollama", "url": %q, "model": "mock"}}}`, srv.URL+"/v1"))
	h.env["CONCEPTENG_MODEL_REGISTRY"] = registry
	path := h.file("planet.yaml", planetDoc)

	out, err := h.runWith(h.deps(false), "", "classify", "-f", path, "-e", "Mars")
	require.NoError(t, err)

	var got concept.Classification
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, concept.VerdictTrue, got.Verdict)
	assert.Equal(t, int32(2), calls.Load())
}
