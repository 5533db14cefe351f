// Package config provides configuration loading and management for concepteng.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/c360studio/concepteng/concept"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Config represents the complete concepteng configuration
type Config struct {
	Model      ModelConfig      `yaml:"model"`
	Chains     ChainsConfig     `yaml:"chains"`
	Storage    StorageConfig    `yaml:"storage"`
	Wikidata   WikidataConfig   `yaml:"wikidata"`
	Wikipedia  WikipediaConfig  `yaml:"wikipedia"`
	Experiment ExperimentConfig `yaml:"experiment"`
	Dialectic  DialecticConfig  `yaml:"dialectic"`
	Server     ServerConfig     `yaml:"server"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// ModelConfig configures the LLM model settings
type ModelConfig struct {
	// Default is the model used when a concept names none (e.g., "gpt-4")
	Default string `yaml:"default" validate:"required"`
	// Temperature is the default decoding temperature (0.0-2.0). nil leaves
	// the setting to lower layers; an explicit 0 is kept.
	Temperature *float64 `yaml:"temperature,omitempty" validate:"omitempty,gte=0,lte=2"`
	// Timeout is the maximum time to wait for one model response
	Timeout time.Duration `yaml:"timeout" validate:"gte=0"`
	// Registry is an optional JSON model registry merged over the built-in one
	Registry string `yaml:"registry,omitempty"`
	// MaxAttempts bounds retries of transient model failures
	MaxAttempts int `yaml:"max_attempts" validate:"gte=0"`
}

// DefaultTemperature returns the configured temperature, or the concept
// default when none is set.
func (m ModelConfig) DefaultTemperature() float64 {
	if m.Temperature == nil {
		return concept.DefaultTemperature
	}
	return *m.Temperature
}

// ChainsConfig configures where chain documents come from
type ChainsConfig struct {
	// Dir overrides the embedded chain documents (empty = embedded only)
	Dir string `yaml:"dir,omitempty"`
	// Watch reloads documents from Dir when they change
	Watch bool `yaml:"watch"`
	// Debounce coalesces bursts of file events
	Debounce time.Duration `yaml:"debounce" validate:"gte=0"`
}

// StorageConfig selects the document store
type StorageConfig struct {
	// Backend is one of file, sqlite, nats, memory
	Backend string `yaml:"backend" validate:"oneof=file sqlite nats memory"`
	// Path is the root directory (file) or database file (sqlite)
	Path string `yaml:"path"`
	// Format is the file backend encoding, json or yaml
	Format string `yaml:"format" validate:"omitempty,oneof=json yaml"`
	// NATSURL is the server the nats backend connects to
	NATSURL string `yaml:"nats_url,omitempty"`
	// Bucket is the JetStream key-value bucket name
	Bucket string `yaml:"bucket,omitempty"`
}

// WikidataConfig configures the SPARQL client
type WikidataConfig struct {
	Endpoint  string        `yaml:"endpoint" validate:"required,url"`
	UserAgent string        `yaml:"user_agent"`
	Timeout   time.Duration `yaml:"timeout" validate:"gte=0"`
}

// WikipediaConfig configures the summary client
type WikipediaConfig struct {
	Endpoint  string `yaml:"endpoint" validate:"required,url"`
	UserAgent string `yaml:"user_agent"`
	// Format is text (plain extract) or markdown (converted HTML extract)
	Format string `yaml:"format" validate:"oneof=text markdown"`
}

// ExperimentConfig configures experiment runs
type ExperimentConfig struct {
	// SampleSize is the number of entities classified per run
	SampleSize int `yaml:"sample_size" validate:"gte=1"`
	// Parallelism bounds concurrent classifications
	Parallelism int `yaml:"parallelism" validate:"gte=1"`
	// Seed makes sampling reproducible (0 = time seeded)
	Seed uint64 `yaml:"seed"`
	// SkipDescriptions classifies entities by name only
	SkipDescriptions bool `yaml:"skip_descriptions"`
	// BenchmarkLimit is the default retrieval size for new benchmarks
	BenchmarkLimit int `yaml:"benchmark_limit" validate:"gte=1"`
}

// DialecticConfig configures the session loop
type DialecticConfig struct {
	MaxIterations int    `yaml:"max_iterations" validate:"gte=1"`
	OnFalse       string `yaml:"on_false" validate:"oneof=retry terminate"`
}

// ServerConfig configures the HTTP API
type ServerConfig struct {
	Addr        string   `yaml:"addr" validate:"required"`
	CORSOrigins []string `yaml:"cors_origins,omitempty"`
}

// MetricsConfig configures the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Model: ModelConfig{
			Default:     "gpt-4",
			Temperature: float64Ptr(concept.DefaultTemperature),
			Timeout:     3 * time.Minute,
			MaxAttempts: 3,
		},
		Chains: ChainsConfig{
			Debounce: 250 * time.Millisecond,
		},
		Storage: StorageConfig{
			Backend: "file",
			Path:    "data",
			Format:  "json",
			Bucket:  "CONCEPTENG_DOCUMENTS",
		},
		Wikidata: WikidataConfig{
			Endpoint:  "https://query.wikidata.org/sparql",
			UserAgent: "concepteng/1.0 (https://github.com/c360studio/concepteng)",
			Timeout:   60 * time.Second,
		},
		Wikipedia: WikipediaConfig{
			Endpoint:  "https://en.wikipedia.org/api/rest_v1",
			UserAgent: "concepteng/1.0 (https://github.com/c360studio/concepteng)",
			Format:    "text",
		},
		Experiment: ExperimentConfig{
			SampleSize:     40,
			Parallelism:    4,
			BenchmarkLimit: 100,
		},
		Dialectic: DialecticConfig{
			MaxIterations: 5,
			OnFalse:       "retry",
		},
		Server: ServerConfig{
			Addr: ":8080",
		},
		Metrics: MetricsConfig{
			Addr: ":9090",
		},
	}
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("invalid config: %s failed %q check", fe.Namespace(), fe.Tag())
		}
		return fmt.Errorf("invalid config: %w", err)
	}

	switch c.Storage.Backend {
	case "file", "sqlite":
		if c.Storage.Path == "" {
			return fmt.Errorf("storage.path is required for the %s backend", c.Storage.Backend)
		}
	case "nats":
		if c.Storage.NATSURL == "" {
			return fmt.Errorf("storage.nats_url is required for the nats backend")
		}
	}
	if c.Chains.Watch && c.Chains.Dir == "" {
		return fmt.Errorf("chains.watch requires chains.dir")
	}
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return fmt.Errorf("metrics.addr is required when metrics are enabled")
	}
	return nil
}

// LoadFromFile loads configuration from a YAML file
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// loadLayer decodes a YAML file into a zero Config. Fields the file leaves
// unset stay zero, so merging the layer never resets lower layers to defaults.
func loadLayer(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var layer Config
	if err := yaml.Unmarshal(data, &layer); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &layer, nil
}

// SaveToFile saves configuration to a YAML file
func (c *Config) SaveToFile(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Merge merges another config into this one (other takes precedence for non-zero values)
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	// Model
	setString(&c.Model.Default, other.Model.Default)
	if other.Model.Temperature != nil {
		c.Model.Temperature = float64Ptr(*other.Model.Temperature)
	}
	if other.Model.Timeout != 0 {
		c.Model.Timeout = other.Model.Timeout
	}
	setString(&c.Model.Registry, other.Model.Registry)
	if other.Model.MaxAttempts != 0 {
		c.Model.MaxAttempts = other.Model.MaxAttempts
	}

	// Chains
	setString(&c.Chains.Dir, other.Chains.Dir)
	if other.Chains.Watch {
		c.Chains.Watch = true
	}
	if other.Chains.Debounce != 0 {
		c.Chains.Debounce = other.Chains.Debounce
	}

	// Storage
	setString(&c.Storage.Backend, other.Storage.Backend)
	setString(&c.Storage.Path, other.Storage.Path)
	setString(&c.Storage.Format, other.Storage.Format)
	setString(&c.Storage.NATSURL, other.Storage.NATSURL)
	setString(&c.Storage.Bucket, other.Storage.Bucket)

	// Sources
	setString(&c.Wikidata.Endpoint, other.Wikidata.Endpoint)
	setString(&c.Wikidata.UserAgent, other.Wikidata.UserAgent)
	if other.Wikidata.Timeout != 0 {
		c.Wikidata.Timeout = other.Wikidata.Timeout
	}
	setString(&c.Wikipedia.Endpoint, other.Wikipedia.Endpoint)
	setString(&c.Wikipedia.UserAgent, other.Wikipedia.UserAgent)
	setString(&c.Wikipedia.Format, other.Wikipedia.Format)

	// Experiment
	if other.Experiment.SampleSize != 0 {
		c.Experiment.SampleSize = other.Experiment.SampleSize
	}
	if other.Experiment.Parallelism != 0 {
		c.Experiment.Parallelism = other.Experiment.Parallelism
	}
	if other.Experiment.Seed != 0 {
		c.Experiment.Seed = other.Experiment.Seed
	}
	if other.Experiment.SkipDescriptions {
		c.Experiment.SkipDescriptions = true
	}
	if other.Experiment.BenchmarkLimit != 0 {
		c.Experiment.BenchmarkLimit = other.Experiment.BenchmarkLimit
	}

	// Dialectic
	if other.Dialectic.MaxIterations != 0 {
		c.Dialectic.MaxIterations = other.Dialectic.MaxIterations
	}
	setString(&c.Dialectic.OnFalse, other.Dialectic.OnFalse)

	// Server and metrics
	setString(&c.Server.Addr, other.Server.Addr)
	if len(other.Server.CORSOrigins) > 0 {
		c.Server.CORSOrigins = other.Server.CORSOrigins
	}
	if other.Metrics.Enabled {
		c.Metrics.Enabled = true
	}
	setString(&c.Metrics.Addr, other.Metrics.Addr)
}

func float64Ptr(v float64) *float64 {
	return &v
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
