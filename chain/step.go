package chain

import (
	"context"
	"fmt"
	"strings"

	"github.com/c360studio/concepteng/llm"
)

// Step is a single templated generation: named inputs fill a template, the
// rendered prompt goes to the generator, and the completion becomes the
// value of OutputKey.
type Step struct {
	inputVariables []string
	template       string
	outputKey      string
	segments       []segment
	placeholders   []string
}

// NewStep parses the template and checks that every placeholder it uses is a
// declared input variable.
func NewStep(inputVariables []string, template, outputKey string) (*Step, error) {
	if strings.TrimSpace(outputKey) == "" {
		return nil, fmt.Errorf("output key is required")
	}
	if strings.TrimSpace(template) == "" {
		return nil, fmt.Errorf("step %q: template is required", outputKey)
	}

	declared := make(map[string]bool, len(inputVariables))
	for _, v := range inputVariables {
		if declared[v] {
			return nil, fmt.Errorf("step %q: input variable %q declared twice", outputKey, v)
		}
		declared[v] = true
	}

	segments, err := parseTemplate(template)
	if err != nil {
		return nil, fmt.Errorf("step %q: %w", outputKey, err)
	}

	var placeholders []string
	seen := make(map[string]bool)
	for _, seg := range segments {
		if !seg.placeholder || seen[seg.text] {
			continue
		}
		if !declared[seg.text] {
			return nil, fmt.Errorf("step %q: template references undeclared variable %q", outputKey, seg.text)
		}
		seen[seg.text] = true
		placeholders = append(placeholders, seg.text)
	}

	return &Step{
		inputVariables: append([]string(nil), inputVariables...),
		template:       template,
		outputKey:      outputKey,
		segments:       segments,
		placeholders:   placeholders,
	}, nil
}

// InputVariables returns the declared inputs.
func (s *Step) InputVariables() []string {
	return append([]string(nil), s.inputVariables...)
}

// OutputKey returns the name the step's completion is stored under.
func (s *Step) OutputKey() string {
	return s.outputKey
}

// Template returns the raw template text.
func (s *Step) Template() string {
	return s.template
}

// Placeholders returns the distinct placeholders in order of first use.
func (s *Step) Placeholders() []string {
	return append([]string(nil), s.placeholders...)
}

// Render fills every placeholder from vars.
func (s *Step) Render(vars map[string]string) (string, error) {
	var sb strings.Builder
	for _, seg := range s.segments {
		if !seg.placeholder {
			sb.WriteString(seg.text)
			continue
		}
		v, ok := vars[seg.text]
		if !ok {
			return "", &MissingVariableError{Variable: seg.text, OutputKey: s.outputKey}
		}
		sb.WriteString(v)
	}
	return sb.String(), nil
}

// Run renders the prompt and invokes the generator once. The completion is
// returned with surrounding whitespace removed.
func (s *Step) Run(ctx context.Context, gen llm.Generator, temperature float64, vars map[string]string) (string, error) {
	prompt, err := s.Render(vars)
	if err != nil {
		return "", err
	}

	out, err := gen.Generate(ctx, prompt, temperature)
	if err != nil {
		return "", &GenerationError{OutputKey: s.outputKey, Err: err}
	}
	return strings.TrimSpace(out), nil
}
