// Package concept defines the values that flow through the conceptual
// engineering loop: concepts, entities, verdicts, and the results of each
// dialectical operation.
package concept

import (
	"errors"
	"fmt"
	"strings"
)

const (
	// DefaultModel is the model used when a concept names none.
	DefaultModel = "gpt-4"

	// DefaultTemperature is the decoding temperature used when a concept names none.
	DefaultTemperature = 0.1

	// DefaultDescription stands in for an entity that has no description.
	DefaultDescription = "No description available"
)

// ErrEmptyDefinition is returned when a definition is blank.
var ErrEmptyDefinition = errors.New("definition must not be empty")

// Concept is a term plus a candidate intentional definition, read as
// "X is a <Label> if and only if <Definition>".
//
// Concept is a value. Revisions produce a new Concept through WithDefinition;
// nothing in this module mutates a Concept it was handed.
type Concept struct {
	ID    string `json:"id" yaml:"id"`
	Label string `json:"label" yaml:"label"`

	// Variable is the bound variable used in the definition's phrasing, e.g. "x".
	Variable string `json:"variable,omitempty" yaml:"variable,omitempty"`

	Definition string `json:"definition" yaml:"definition"`

	// Reference is a URL naming the source of the definition.
	Reference string `json:"reference,omitempty" yaml:"reference,omitempty"`

	ModelName   string  `json:"model_name" yaml:"model_name"`
	Temperature float64 `json:"temperature" yaml:"temperature"`
}

// New returns a concept using the default model and temperature.
func New(id, label, definition string) Concept {
	return Concept{
		ID:          id,
		Label:       label,
		Definition:  definition,
		ModelName:   DefaultModel,
		Temperature: DefaultTemperature,
	}
}

// Validate checks the fields every operation relies on.
func (c Concept) Validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return fmt.Errorf("concept id is required")
	}
	if strings.TrimSpace(c.Label) == "" {
		return fmt.Errorf("concept %s: label is required", c.ID)
	}
	if strings.TrimSpace(c.Definition) == "" {
		return fmt.Errorf("concept %s: %w", c.ID, ErrEmptyDefinition)
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("concept %s: temperature must be between 0 and 2", c.ID)
	}
	return nil
}

// WithDefinition returns a copy of c carrying the new definition.
func (c Concept) WithDefinition(definition string) (Concept, error) {
	definition = strings.TrimSpace(definition)
	if definition == "" {
		return c, ErrEmptyDefinition
	}
	c.Definition = definition
	return c, nil
}

// Bindings returns the template variables contributed by the concept.
// The term is bound under "term", "label" and "concept" since chain
// documents refer to it by each of those names.
func (c Concept) Bindings() map[string]string {
	return map[string]string{
		"term":       c.Label,
		"label":      c.Label,
		"concept":    c.Label,
		"definition": c.Definition,
		"variable":   c.Variable,
	}
}

// Entity is a candidate member of a concept's extension.
type Entity struct {
	ID          string `json:"id" yaml:"id"`
	Label       string `json:"label" yaml:"label"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// DescriptionOrDefault returns the description, or DefaultDescription when blank.
func (e Entity) DescriptionOrDefault() string {
	return describe(e.Description)
}

func describe(description string) string {
	if strings.TrimSpace(description) == "" {
		return DefaultDescription
	}
	return description
}
