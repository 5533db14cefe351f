package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/c360studio/concepteng/concept"
)

// LoadConcept reads a concept document. Keys left out of the document
// keep the concept defaults, so an explicit temperature of 0 survives.
func LoadConcept(path string) (concept.Concept, error) {
	return loadConcept(path, concept.DefaultModel, concept.DefaultTemperature)
}

// LoadConcept reads a concept document, defaulting model and temperature
// from the model section instead of the built-in values.
func (c *Config) LoadConcept(path string) (concept.Concept, error) {
	return loadConcept(path, c.Model.Default, c.Model.DefaultTemperature())
}

func loadConcept(path, model string, temperature float64) (concept.Concept, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return concept.Concept{}, fmt.Errorf("read concept %s: %w", path, err)
	}
	c, err := parseConcept(data, model, temperature)
	if err != nil {
		return concept.Concept{}, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// ParseConcept decodes and validates a concept document.
func ParseConcept(data []byte) (concept.Concept, error) {
	return parseConcept(data, concept.DefaultModel, concept.DefaultTemperature)
}

func parseConcept(data []byte, model string, temperature float64) (concept.Concept, error) {
	c := concept.Concept{
		ModelName:   model,
		Temperature: temperature,
	}
	if err := yaml.Unmarshal(data, &c); err != nil {
		return concept.Concept{}, fmt.Errorf("parse concept: %w", err)
	}
	if c.ModelName == "" {
		c.ModelName = concept.DefaultModel
	}
	if err := c.Validate(); err != nil {
		return concept.Concept{}, err
	}
	return c, nil
}

// Queries holds the SPARQL text that builds a concept's benchmark.
type Queries struct {
	ConceptID string `yaml:"concept_id" validate:"required"`
	Positive  string `yaml:"positive" validate:"required"`
	Negative  string `yaml:"negative" validate:"required"`
	// Limit is the combined benchmark size (0 = config default)
	Limit int `yaml:"limit,omitempty" validate:"gte=0"`
}

// LoadQueries reads a benchmark query document.
func LoadQueries(path string) (*Queries, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read queries %s: %w", path, err)
	}
	var q Queries
	if err := yaml.Unmarshal(data, &q); err != nil {
		return nil, fmt.Errorf("parse queries %s: %w", path, err)
	}
	q.Positive = strings.TrimSpace(q.Positive)
	q.Negative = strings.TrimSpace(q.Negative)
	if err := validate.Struct(&q); err != nil {
		return nil, fmt.Errorf("invalid queries %s: %w", path, err)
	}
	return &q, nil
}
