// Package chain composes templated generation steps into reasoning chains.
//
// A Chain runs its steps strictly in order. Each step may reference the
// chain's external inputs and the outputs of every earlier step, so a step
// sees the committed text of the steps before it. The zero-shot chain of
// thought used throughout this module is a two-step chain: a decision step,
// then an explanation step that receives the decision and justifies it.
package chain

import (
	"context"
	"fmt"

	"github.com/c360studio/concepteng/llm"
)

// Chain is an ordered sequence of steps with declared inputs and outputs.
type Chain struct {
	steps   []*Step
	inputs  []string
	outputs []string
}

// New checks that each step's inputs are available from the external inputs
// or earlier outputs, and that every declared output is produced or passed through.
func New(steps []*Step, inputs, outputs []string) (*Chain, error) {
	if len(steps) == 0 {
		return nil, fmt.Errorf("chain needs at least one step")
	}

	known := make(map[string]bool, len(inputs)+len(steps))
	for _, in := range inputs {
		known[in] = true
	}

	for i, step := range steps {
		for _, v := range step.inputVariables {
			if !known[v] {
				return nil, fmt.Errorf("step %d (%s): input %q is neither a chain input nor an earlier output", i+1, step.outputKey, v)
			}
		}
		if known[step.outputKey] {
			return nil, fmt.Errorf("step %d: output key %q shadows an existing variable", i+1, step.outputKey)
		}
		known[step.outputKey] = true
	}

	for _, out := range outputs {
		if !known[out] {
			return nil, fmt.Errorf("declared output %q is never produced", out)
		}
	}

	return &Chain{
		steps:   steps,
		inputs:  append([]string(nil), inputs...),
		outputs: append([]string(nil), outputs...),
	}, nil
}

// Inputs returns the external inputs the chain requires.
func (c *Chain) Inputs() []string {
	return append([]string(nil), c.inputs...)
}

// Outputs returns the variables the chain exposes.
func (c *Chain) Outputs() []string {
	return append([]string(nil), c.outputs...)
}

// Steps returns the chain's steps in execution order.
func (c *Chain) Steps() []*Step {
	return append([]*Step(nil), c.steps...)
}

// Run executes the steps in order. Inputs beyond those declared are ignored.
// The first failing step aborts the chain and no partial outputs are returned.
func (c *Chain) Run(ctx context.Context, gen llm.Generator, temperature float64, inputs map[string]string) (map[string]string, error) {
	var missing []string
	vars := make(map[string]string, len(c.inputs)+len(c.steps))
	for _, in := range c.inputs {
		v, ok := inputs[in]
		if !ok {
			missing = append(missing, in)
			continue
		}
		vars[in] = v
	}
	if len(missing) > 0 {
		return nil, &InputError{Missing: missing}
	}

	for i, step := range c.steps {
		out, err := step.Run(ctx, gen, temperature, vars)
		if err != nil {
			return nil, &StepError{Index: i, OutputKey: step.outputKey, Err: err}
		}
		vars[step.outputKey] = out
	}

	result := make(map[string]string, len(c.outputs))
	for _, out := range c.outputs {
		result[out] = vars[out]
	}
	return result, nil
}
