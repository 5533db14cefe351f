package chain_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/concepteng/chain"
	"github.com/c360studio/concepteng/llm/testutil"
)

func TestNewStep(t *testing.T) {
	tests := []struct {
		name     string
		inputs   []string
		template string
		output   string
		wantErr  bool
	}{
		{name: "valid", inputs: []string{"term"}, template: "Define {term}.", output: "definition"},
		{name: "escaped braces", inputs: []string{"x"}, template: "{{literal}} {x}", output: "y"},
		{name: "undeclared placeholder", inputs: []string{"term"}, template: "{term} {entity}", output: "y", wantErr: true},
		{name: "duplicate input", inputs: []string{"term", "term"}, template: "{term}", output: "y", wantErr: true},
		{name: "unclosed placeholder", inputs: []string{"term"}, template: "{term", output: "y", wantErr: true},
		{name: "stray closing brace", inputs: []string{"term"}, template: "term}", output: "y", wantErr: true},
		{name: "invalid name", inputs: []string{"term"}, template: "{a b}", output: "y", wantErr: true},
		{name: "empty template", inputs: []string{"term"}, template: " ", output: "y", wantErr: true},
		{name: "empty output key", inputs: []string{"term"}, template: "{term}", output: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := chain.NewStep(tt.inputs, tt.template, tt.output)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestStepRender(t *testing.T) {
	step, err := chain.NewStep([]string{"term", "entity"}, "Is {entity} a(n) {term}? {{yes}}", "answer")
	require.NoError(t, err)

	assert.Equal(t, []string{"entity", "term"}, step.Placeholders())

	out, err := step.Render(map[string]string{"term": "planet", "entity": "Pluto"})
	require.NoError(t, err)
	assert.Equal(t, "Is Pluto a(n) planet? {yes}", out)

	_, err = step.Render(map[string]string{"term": "planet"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, chain.ErrMissingVariable))

	var mve *chain.MissingVariableError
	require.ErrorAs(t, err, &mve)
	assert.Equal(t, "entity", mve.Variable)
}

func TestStepRunTrimsAndWrapsErrors(t *testing.T) {
	step, err := chain.NewStep([]string{"term"}, "Define {term}.", "definition")
	require.NoError(t, err)

	gen := &testutil.MockGenerator{Responses: []string{"  A body orbiting a star.\n"}}
	out, err := step.Run(context.Background(), gen, 0.3, map[string]string{"term": "planet"})
	require.NoError(t, err)
	assert.Equal(t, "A body orbiting a star.", out)
	assert.Equal(t, []string{"Define planet."}, gen.Prompts())
	assert.Equal(t, []float64{0.3}, gen.Temperatures())

	boom := errors.New("service down")
	failing := &testutil.MockGenerator{Err: boom}
	_, err = step.Run(context.Background(), failing, 0, map[string]string{"term": "planet"})
	require.Error(t, err)
	assert.ErrorIs(t, err, chain.ErrGenerationFailure)
	assert.ErrorIs(t, err, boom)
}

func twoStepChain(t *testing.T) *chain.Chain {
	t.Helper()
	first, err := chain.NewStep([]string{"term"}, "Q: {term}? Answer:", "answer")
	require.NoError(t, err)
	second, err := chain.NewStep([]string{"term", "answer"}, "Q: {term}? Answer: {answer} Why?", "why")
	require.NoError(t, err)
	c, err := chain.New([]*chain.Step{first, second}, []string{"term"}, []string{"answer", "why"})
	require.NoError(t, err)
	return c
}

func TestChainRunFeedsEarlierOutputsForward(t *testing.T) {
	c := twoStepChain(t)
	gen := &testutil.MockGenerator{Responses: []string{"True", "Because."}}

	out, err := c.Run(context.Background(), gen, 0.1, map[string]string{"term": "planet", "extra": "ignored"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"answer": "True", "why": "Because."}, out)

	prompts := gen.Prompts()
	require.Len(t, prompts, 2)
	assert.Equal(t, "Q: planet? Answer:", prompts[0])
	assert.Equal(t, "Q: planet? Answer: True Why?", prompts[1])
}

func TestChainRunMissingInput(t *testing.T) {
	c := twoStepChain(t)
	gen := &testutil.MockGenerator{}

	_, err := c.Run(context.Background(), gen, 0, map[string]string{})
	require.Error(t, err)
	assert.ErrorIs(t, err, chain.ErrChainInput)

	var ie *chain.InputError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, []string{"term"}, ie.Missing)
	assert.Zero(t, gen.CallCount())
}

func TestChainRunStopsAtFirstFailingStep(t *testing.T) {
	c := twoStepChain(t)
	boom := errors.New("rate limited")
	gen := &testutil.MockGenerator{Responses: []string{"True"}, Err: boom, FailOn: 1}

	out, err := c.Run(context.Background(), gen, 0, map[string]string{"term": "planet"})
	require.Error(t, err)
	assert.Nil(t, out)
	assert.ErrorIs(t, err, chain.ErrStepFailure)
	assert.ErrorIs(t, err, chain.ErrGenerationFailure)
	assert.ErrorIs(t, err, boom)

	var se *chain.StepError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 0, se.Index)
	assert.Equal(t, "answer", se.OutputKey)
	assert.Equal(t, 1, gen.CallCount())
}

func TestNewChainRejectsUnsatisfiableSteps(t *testing.T) {
	needsAnswer, err := chain.NewStep([]string{"answer"}, "{answer}", "why")
	require.NoError(t, err)

	_, err = chain.New([]*chain.Step{needsAnswer}, []string{"term"}, []string{"why"})
	assert.Error(t, err)

	shadow, err := chain.NewStep([]string{"term"}, "{term}", "term")
	require.NoError(t, err)
	_, err = chain.New([]*chain.Step{shadow}, []string{"term"}, []string{"term"})
	assert.Error(t, err)

	ok, err := chain.NewStep([]string{"term"}, "{term}", "answer")
	require.NoError(t, err)
	_, err = chain.New([]*chain.Step{ok}, []string{"term"}, []string{"missing"})
	assert.Error(t, err)

	_, err = chain.New(nil, nil, nil)
	assert.Error(t, err)
}
