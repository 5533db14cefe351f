// Package dialectic implements the four operations of the conceptual
// engineering loop: classify an entity, propose a counterexample, validate
// it, and revise the definition. Each operation runs one zero-shot chain of
// thought and none of them changes the concept it is given.
package dialectic

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/c360studio/concepteng/chain"
	"github.com/c360studio/concepteng/concept"
	"github.com/c360studio/concepteng/llm"
	"github.com/c360studio/concepteng/metrics"
)

// Engine runs the dialectic operations against a text generator.
type Engine struct {
	chains *chain.Library
	gen    llm.Generator
	logger *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewEngine returns an engine using the chains in lib.
func NewEngine(lib *chain.Library, gen llm.Generator, opts ...Option) *Engine {
	e := &Engine{
		chains: lib,
		gen:    gen,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Classify asks whether entity falls under the concept's current definition.
func (e *Engine) Classify(ctx context.Context, c concept.Concept, entity concept.Entity) (concept.Classification, error) {
	decision, rationale, err := e.run(ctx, chain.Classify, c, map[string]string{
		"entity":      entity.Label,
		"description": entity.DescriptionOrDefault(),
	})
	if err != nil {
		return concept.Classification{}, err
	}

	verdict, err := e.verdict(chain.Classify, decision)
	if err != nil {
		return concept.Classification{}, fmt.Errorf("classify %s: %w", entity.Label, err)
	}

	return concept.Classification{
		Entity:    entity,
		Verdict:   verdict,
		Rationale: rationale,
	}, nil
}

// ProposeCounterexample plays the opponent: it names an entity it claims
// belongs to the concept although the definition excludes it.
func (e *Engine) ProposeCounterexample(ctx context.Context, c concept.Concept) (concept.CounterexampleProposal, error) {
	name, rationale, err := e.run(ctx, chain.ProposeCounterexample, c, nil)
	if err != nil {
		return concept.CounterexampleProposal{}, err
	}
	return concept.CounterexampleProposal{
		Counterexample: name,
		Rationale:      rationale,
	}, nil
}

// ValidateCounterexample judges whether counterexample defeats the current
// definition. An empty description is replaced with the default description.
func (e *Engine) ValidateCounterexample(ctx context.Context, c concept.Concept, counterexample, description string) (concept.CounterexampleValidation, error) {
	description = concept.Entity{Description: description}.DescriptionOrDefault()

	decision, rationale, err := e.run(ctx, chain.ValidateCounterexample, c, map[string]string{
		"counterexample": counterexample,
		"description":    description,
	})
	if err != nil {
		return concept.CounterexampleValidation{}, err
	}

	verdict, err := e.verdict(chain.ValidateCounterexample, decision)
	if err != nil {
		return concept.CounterexampleValidation{}, fmt.Errorf("validate %s: %w", counterexample, err)
	}

	return concept.CounterexampleValidation{
		Counterexample: counterexample,
		Description:    description,
		Verdict:        verdict,
		Rationale:      rationale,
	}, nil
}

// ReviseDefinition proposes a definition that accounts for counterexample.
// The concept is unchanged; commit the result with DefinitionRevision.Apply.
func (e *Engine) ReviseDefinition(ctx context.Context, c concept.Concept, counterexample, description string) (concept.DefinitionRevision, error) {
	description = concept.Entity{Description: description}.DescriptionOrDefault()

	definition, rationale, err := e.run(ctx, chain.ReviseDefinition, c, map[string]string{
		"counterexample": counterexample,
		"description":    description,
	})
	if err != nil {
		return concept.DefinitionRevision{}, err
	}
	if definition == "" {
		return concept.DefinitionRevision{}, fmt.Errorf("revise for %s: %w", counterexample, concept.ErrEmptyDefinition)
	}

	return concept.DefinitionRevision{
		Counterexample: counterexample,
		Description:    description,
		Definition:     definition,
		Rationale:      rationale,
	}, nil
}

// run executes the named chain with the concept's bindings plus extra and
// returns the decision and explanation outputs.
func (e *Engine) run(ctx context.Context, op string, c concept.Concept, extra map[string]string) (string, string, error) {
	done := metrics.TimeOp(op)

	if err := c.Validate(); err != nil {
		done(false)
		return "", "", fmt.Errorf("%s: %w", op, err)
	}

	zs, err := e.chains.Get(op)
	if err != nil {
		done(false)
		return "", "", err
	}

	vars := c.Bindings()
	for k, v := range extra {
		vars[k] = v
	}

	e.logger.Debug("Running dialectic operation",
		"op", op,
		"concept", c.ID,
		"model", c.ModelName,
		"temperature", c.Temperature)

	out, err := zs.Run(ctx, e.gen, c.Temperature, vars)
	if err != nil {
		done(false)
		e.logger.Warn("Dialectic operation failed", "op", op, "concept", c.ID, "error", err)
		return "", "", fmt.Errorf("%s: %w", op, err)
	}

	done(true)
	return out[zs.DecisionKey()], out[zs.ExplanationKey()], nil
}

func (e *Engine) verdict(op, raw string) (concept.Verdict, error) {
	v, err := concept.ParseVerdict(raw)
	if err != nil {
		metrics.Default().IncVerdict(op, "invalid")
		return "", err
	}
	metrics.Default().IncVerdict(op, v.String())
	return v, nil
}
