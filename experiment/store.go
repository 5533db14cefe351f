package experiment

import (
	"context"
	"fmt"
	"time"

	"github.com/c360studio/concepteng/concept"
	"github.com/c360studio/concepteng/metrics"
	"github.com/c360studio/concepteng/storage"
)

// timestampLayout sorts lexically and resolves to the nanosecond.
const timestampLayout = "20060102T150405.000000000Z"

// Document is the persisted form of a completed run.
type Document struct {
	ID               string          `json:"id" yaml:"id"`
	CreatedAt        time.Time       `json:"created_at" yaml:"created_at"`
	Concept          concept.Concept `json:"concept" yaml:"concept"`
	BenchmarkConcept string          `json:"benchmark_concept_id" yaml:"benchmark_concept_id"`
	BenchmarkCreated time.Time       `json:"benchmark_created_at" yaml:"benchmark_created_at"`
	SampleSize       int             `json:"sample_size" yaml:"sample_size"`
	Results          []Result        `json:"results" yaml:"results"`
	ConfusionMatrix  ConfusionMatrix `json:"confusion_matrix" yaml:"confusion_matrix"`
	Metrics          Metrics         `json:"metrics" yaml:"metrics"`
}

// Key returns the storage key for a run of model on conceptID at t.
func Key(model, conceptID string, t time.Time) string {
	return storage.Key("experiments", model, conceptID, t.UTC().Format(timestampLayout))
}

// Document assembles the persisted form of the current results.
func (e *Experiment) Document(at time.Time) (*Document, error) {
	cm, err := e.ConfusionMatrix()
	if err != nil {
		return nil, err
	}
	doc := &Document{
		ID:              e.ID,
		CreatedAt:       at.UTC(),
		Concept:         e.Concept,
		SampleSize:      len(e.Sampled),
		Results:         e.Results,
		ConfusionMatrix: cm,
		Metrics:         cm.Metrics(),
	}
	if e.Benchmark != nil {
		doc.BenchmarkConcept = e.Benchmark.TargetConceptID
		doc.BenchmarkCreated = e.Benchmark.CreatedAt
	}
	if doc.Results == nil {
		doc.Results = []Result{}
	}
	return doc, nil
}

// Save persists the results under a key unique to this call and returns it.
func (e *Experiment) Save(ctx context.Context, store storage.Store) (string, error) {
	if e.Results == nil {
		return "", fmt.Errorf("save experiment: no results, call Run first")
	}
	now := time.Now()
	doc, err := e.Document(now)
	if err != nil {
		return "", fmt.Errorf("save experiment: %w", err)
	}
	key := Key(e.Concept.ModelName, e.Concept.ID, now)
	if err := store.Put(ctx, key, doc); err != nil {
		return "", fmt.Errorf("save experiment: %w", err)
	}
	metrics.Default().SetExperimentAccuracy(e.Concept.ModelName, e.Concept.ID, doc.Metrics.Accuracy)
	return key, nil
}

// Load reads a saved run.
func Load(ctx context.Context, store storage.Store, key string) (*Document, error) {
	var doc Document
	if err := store.Get(ctx, key, &doc); err != nil {
		return nil, fmt.Errorf("load experiment: %w", err)
	}
	return &doc, nil
}

// List returns the keys of saved runs in key order, so runs of one model
// and concept come oldest first. Empty model or conceptID match any.
func List(ctx context.Context, store storage.Store, model, conceptID string) ([]string, error) {
	modelPart, conceptPart := "*", "*"
	if model != "" {
		modelPart = storage.Slug(model)
	}
	if conceptID != "" {
		conceptPart = storage.Slug(conceptID)
	}
	return store.List(ctx, "experiments/"+modelPart+"/"+conceptPart+"/*")
}
