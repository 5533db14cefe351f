package chain

import (
	"fmt"
	"os"
	"slices"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// StageSpec declares one step of a zero-shot chain of thought.
type StageSpec struct {
	InputVariables []string `yaml:"input_variables" json:"input_variables" validate:"required,min=1,unique,dive,required"`
	Template       string   `yaml:"template" json:"template" validate:"required"`
	OutputKey      string   `yaml:"output_key" json:"output_key" validate:"required"`
}

// Spec is the persisted form of a zero-shot chain of thought: a decision
// stage, an explanation stage that receives the decision, and the variables
// the chain exposes.
//
// Documents written with the keys rationale_generation (decision stage) and
// answer_generation (explanation stage) load as well.
type Spec struct {
	Name            string    `yaml:"name,omitempty" json:"name,omitempty"`
	Description     string    `yaml:"description,omitempty" json:"description,omitempty"`
	Decision        StageSpec `yaml:"decision" json:"decision"`
	Explanation     StageSpec `yaml:"explanation" json:"explanation"`
	OutputVariables []string  `yaml:"output_variables" json:"output_variables" validate:"required,min=1,unique"`
}

// UnmarshalYAML accepts both the current and the legacy stage names.
func (s *Spec) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		Name                string     `yaml:"name"`
		Description         string     `yaml:"description"`
		Decision            *StageSpec `yaml:"decision"`
		Explanation         *StageSpec `yaml:"explanation"`
		RationaleGeneration *StageSpec `yaml:"rationale_generation"`
		AnswerGeneration    *StageSpec `yaml:"answer_generation"`
		OutputVariables     []string   `yaml:"output_variables"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}

	decision := raw.Decision
	if decision == nil {
		decision = raw.RationaleGeneration
	}
	explanation := raw.Explanation
	if explanation == nil {
		explanation = raw.AnswerGeneration
	}

	*s = Spec{
		Name:            raw.Name,
		Description:     raw.Description,
		OutputVariables: raw.OutputVariables,
	}
	if decision != nil {
		s.Decision = *decision
	}
	if explanation != nil {
		s.Explanation = *explanation
	}
	return nil
}

// ParseSpec decodes and validates a YAML chain document.
func ParseSpec(data []byte) (*Spec, error) {
	var spec Spec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("%w: parse: %v", ErrInvalidSpec, err)
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return &spec, nil
}

// LoadSpec reads a chain document from disk.
func LoadSpec(path string) (*Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read chain spec: %w", err)
	}
	spec, err := ParseSpec(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return spec, nil
}

// Validate checks required fields, then the shape of a zero-shot chain of
// thought: the explanation stage takes exactly the decision stage's inputs
// plus the decision, and both outputs are exposed.
func (s *Spec) Validate() error {
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSpec, err)
	}

	if _, err := NewStep(s.Decision.InputVariables, s.Decision.Template, s.Decision.OutputKey); err != nil {
		return fmt.Errorf("%w: decision stage: %v", ErrInvalidSpec, err)
	}
	explanation, err := NewStep(s.Explanation.InputVariables, s.Explanation.Template, s.Explanation.OutputKey)
	if err != nil {
		return fmt.Errorf("%w: explanation stage: %v", ErrInvalidSpec, err)
	}

	decisionKey := s.Decision.OutputKey
	if slices.Contains(s.Decision.InputVariables, decisionKey) {
		return fmt.Errorf("%w: decision output %q is also a decision input", ErrInvalidSpec, decisionKey)
	}
	if !sameSet(s.Explanation.InputVariables, append(slices.Clone(s.Decision.InputVariables), decisionKey)) {
		return fmt.Errorf("%w: explanation inputs must be the decision inputs plus %q", ErrInvalidSpec, decisionKey)
	}
	if !slices.Contains(explanation.Placeholders(), decisionKey) {
		return fmt.Errorf("%w: explanation template must reference {%s}", ErrInvalidSpec, decisionKey)
	}
	if s.Explanation.OutputKey == decisionKey {
		return fmt.Errorf("%w: both stages write %q", ErrInvalidSpec, decisionKey)
	}

	for _, key := range []string{decisionKey, s.Explanation.OutputKey} {
		if !slices.Contains(s.OutputVariables, key) {
			return fmt.Errorf("%w: output_variables must include %q", ErrInvalidSpec, key)
		}
	}
	return nil
}

// Build validates the spec and assembles its two-step chain.
func (s *Spec) Build() (*ZeroShot, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}

	decision, err := NewStep(s.Decision.InputVariables, s.Decision.Template, s.Decision.OutputKey)
	if err != nil {
		return nil, err
	}
	explanation, err := NewStep(s.Explanation.InputVariables, s.Explanation.Template, s.Explanation.OutputKey)
	if err != nil {
		return nil, err
	}

	c, err := New([]*Step{decision, explanation}, s.Decision.InputVariables, s.OutputVariables)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSpec, err)
	}
	return &ZeroShot{Chain: c, spec: *s}, nil
}

// ZeroShot is a built decision-then-explanation chain.
type ZeroShot struct {
	*Chain
	spec Spec
}

// DecisionKey names the decision stage output.
func (z *ZeroShot) DecisionKey() string {
	return z.spec.Decision.OutputKey
}

// ExplanationKey names the explanation stage output.
func (z *ZeroShot) ExplanationKey() string {
	return z.spec.Explanation.OutputKey
}

// Spec returns a copy of the document the chain was built from.
func (z *ZeroShot) Spec() Spec {
	return z.spec
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[string]bool, len(a))
	for _, v := range a {
		set[v] = true
	}
	for _, v := range b {
		if !set[v] {
			return false
		}
	}
	return true
}
