// Package experiment evaluates a concept definition against a benchmark:
// sample labeled entities, classify each one, and score the predictions.
package experiment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/c360studio/concepteng/benchmark"
	"github.com/c360studio/concepteng/concept"
	"github.com/c360studio/concepteng/metrics"
)

// ErrNoSample is returned by Run when Sample has not been called.
var ErrNoSample = errors.New("experiment has no sample")

// Classifier decides whether an entity falls under a concept.
type Classifier interface {
	Classify(ctx context.Context, c concept.Concept, e concept.Entity) (concept.Classification, error)
}

// Result is the outcome for one sampled entity.
type Result struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description" yaml:"description"`
	Actual      string `json:"actual" yaml:"actual"`
	Predicted   string `json:"predicted" yaml:"predicted"`
	Rationale   string `json:"rationale" yaml:"rationale"`
}

// Experiment pairs a concept with a benchmark snapshot. Sample, Run and
// Save are meant to be called in that order.
type Experiment struct {
	ID        string
	Concept   concept.Concept
	Benchmark *benchmark.Benchmark
	Sampled   []benchmark.Record
	Results   []Result
}

// New returns an experiment for c over b.
func New(c concept.Concept, b *benchmark.Benchmark) *Experiment {
	return &Experiment{
		ID:        uuid.New().String(),
		Concept:   c,
		Benchmark: b,
	}
}

// Sample draws up to n records without replacement: min(positives, n/2)
// positives, then negatives to fill the remainder. A small pool is simply
// exhausted, and a negative n draws nothing. A nil rng uses a time-seeded
// source.
func (e *Experiment) Sample(n int, rng *rand.Rand) []benchmark.Record {
	n = max(n, 0)
	if rng == nil {
		rng = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0))
	}

	nPos := min(len(e.Benchmark.Positive.Records), n/2)
	nNeg := min(len(e.Benchmark.Negative.Records), n-nPos)

	sample := make([]benchmark.Record, 0, nPos+nNeg)
	sample = append(sample, draw(e.Benchmark.Positive.Records, nPos, rng)...)
	sample = append(sample, draw(e.Benchmark.Negative.Records, nNeg, rng)...)

	e.Sampled = sample
	e.Results = nil
	return sample
}

func draw(pool []benchmark.Record, k int, rng *rand.Rand) []benchmark.Record {
	if k <= 0 {
		return nil
	}
	idx := rng.Perm(len(pool))[:k]
	out := make([]benchmark.Record, k)
	for i, j := range idx {
		out[i] = pool[j]
	}
	return out
}

type runConfig struct {
	descriptions bool
	parallelism  int
	logger       *slog.Logger
}

// RunOption configures Run.
type RunOption func(*runConfig)

// WithDescriptions controls whether stored descriptions are passed to the
// classifier. Without them every entity gets the default description.
func WithDescriptions(on bool) RunOption {
	return func(c *runConfig) { c.descriptions = on }
}

// WithParallelism bounds concurrent classifications. Values below 1 mean 1.
func WithParallelism(n int) RunOption {
	return func(c *runConfig) { c.parallelism = n }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) RunOption {
	return func(c *runConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// Run classifies every sampled record and replaces Results. Classifications
// may run concurrently; results keep the sample order. The first failure
// cancels the rest and leaves Results untouched.
func (e *Experiment) Run(ctx context.Context, clf Classifier, opts ...RunOption) error {
	cfg := runConfig{descriptions: true, parallelism: 1, logger: slog.Default()}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.parallelism < 1 {
		cfg.parallelism = 1
	}
	if e.Sampled == nil {
		return ErrNoSample
	}

	done := metrics.TimeOp("experiment_run")
	results := make([]Result, len(e.Sampled))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.parallelism)
	for i, rec := range e.Sampled {
		g.Go(func() error {
			entity := rec.Entity()
			if !cfg.descriptions {
				entity.Description = ""
			}
			cl, err := clf.Classify(gctx, e.Concept, entity)
			if err != nil {
				return fmt.Errorf("classify %s (%s): %w", rec.Name, rec.ID, err)
			}
			results[i] = Result{
				ID:          rec.ID,
				Name:        rec.Name,
				Description: rec.Description,
				Actual:      rec.Label,
				Predicted:   predictedLabel(cl.Verdict),
				Rationale:   cl.Rationale,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		done(false)
		return err
	}
	done(true)

	e.Results = results
	cfg.logger.Info("Experiment run complete",
		"concept", e.Concept.ID,
		"model", e.Concept.ModelName,
		"entities", len(results))
	return nil
}

func predictedLabel(v concept.Verdict) string {
	switch v {
	case concept.VerdictTrue:
		return benchmark.LabelPositive
	case concept.VerdictFalse:
		return benchmark.LabelNegative
	default:
		return LabelUnknown
	}
}

// ConfusionMatrix tallies the current results.
func (e *Experiment) ConfusionMatrix() (ConfusionMatrix, error) {
	actual := make([]string, len(e.Results))
	predicted := make([]string, len(e.Results))
	for i, r := range e.Results {
		actual[i] = r.Actual
		predicted[i] = r.Predicted
	}
	return NewConfusionMatrix(actual, predicted)
}
