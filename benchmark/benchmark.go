// Package benchmark retrieves labeled positive and negative entity sets for
// a concept from a knowledge graph and persists them as benchmark documents.
package benchmark

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/c360studio/concepteng/concept"
	"github.com/c360studio/concepteng/storage"
)

// Ground-truth labels.
const (
	LabelPositive = "positive"
	LabelNegative = "negative"
)

// DefaultLimit is the benchmark size used when none is given.
const DefaultLimit = 100

// Record is one labeled entity.
type Record struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description" yaml:"description"`
	Article     string `json:"article,omitempty" yaml:"article,omitempty"`
	Label       string `json:"label" yaml:"label"`
}

// Entity returns the record as an entity to classify.
func (r Record) Entity() concept.Entity {
	return concept.Entity{ID: r.ID, Label: r.Name, Description: r.Description}
}

// Section holds the records produced by one query.
type Section struct {
	Query   string   `json:"query" yaml:"query"`
	Records []Record `json:"records" yaml:"records"`
}

// Benchmark is a labeled entity set for one target concept.
type Benchmark struct {
	TargetConceptID string    `json:"target_concept_id" yaml:"target_concept_id"`
	Limit           int       `json:"limit" yaml:"limit"`
	CreatedAt       time.Time `json:"created_at" yaml:"created_at"`
	Positive        Section   `json:"positive" yaml:"positive"`
	Negative        Section   `json:"negative" yaml:"negative"`
}

// Size returns the total number of records.
func (b *Benchmark) Size() int {
	return len(b.Positive.Records) + len(b.Negative.Records)
}

// Key returns the storage key benchmarks for conceptID are saved under.
func Key(conceptID string) string {
	return storage.Key("benchmarks", conceptID)
}

// Save writes the benchmark under Key(TargetConceptID), replacing any
// earlier snapshot.
func (b *Benchmark) Save(ctx context.Context, store storage.Store) (string, error) {
	if b.TargetConceptID == "" {
		return "", fmt.Errorf("benchmark has no target concept")
	}
	key := Key(b.TargetConceptID)
	if err := store.Put(ctx, key, b); err != nil {
		return "", fmt.Errorf("save benchmark: %w", err)
	}
	return key, nil
}

// Load reads the benchmark saved for conceptID.
func Load(ctx context.Context, store storage.Store, conceptID string) (*Benchmark, error) {
	var b Benchmark
	if err := store.Get(ctx, Key(conceptID), &b); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("no benchmark for concept %s: %w", conceptID, err)
		}
		return nil, fmt.Errorf("load benchmark: %w", err)
	}
	return &b, nil
}
