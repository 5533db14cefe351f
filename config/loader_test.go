package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestLoaderLayering(t *testing.T) {
	home := t.TempDir()
	project := t.TempDir()
	nested := filepath.Join(project, "concepts", "planet")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatal(err)
	}

	writeFile(t, filepath.Join(home, UserConfigDir, UserConfigFile), `
model:
  default: user-model
  timeout: 1m
experiment:
  sample_size: 10
`)
	writeFile(t, filepath.Join(project, ProjectConfigFile), `
model:
  default: project-model
storage:
  backend: memory
`)

	loader := NewLoader(nil,
		WithHomeDir(home),
		WithWorkDir(nested),
		WithEnv(envMap(map[string]string{
			"CONCEPTENG_SAMPLE_SIZE":  "12",
			"CONCEPTENG_CORS_ORIGINS": "http://a.test, http://b.test",
		})),
	)
	cfg, err := loader.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Model.Default != "project-model" {
		t.Errorf("project config should win over user config, got %s", cfg.Model.Default)
	}
	if cfg.Model.Timeout != time.Minute {
		t.Errorf("user timeout should survive, got %v", cfg.Model.Timeout)
	}
	if cfg.Storage.Backend != "memory" {
		t.Errorf("expected memory backend, got %s", cfg.Storage.Backend)
	}
	if cfg.Experiment.SampleSize != 12 {
		t.Errorf("environment should win, got sample size %d", cfg.Experiment.SampleSize)
	}
	if len(cfg.Server.CORSOrigins) != 2 || cfg.Server.CORSOrigins[1] != "http://b.test" {
		t.Errorf("unexpected cors origins %v", cfg.Server.CORSOrigins)
	}
}

func TestLoaderKeepsUserSettingsUnderProjectConfig(t *testing.T) {
	home := t.TempDir()
	project := t.TempDir()

	writeFile(t, filepath.Join(home, UserConfigDir, UserConfigFile), `
storage:
  backend: sqlite
  path: /var/lib/concepteng/docs.db
dialectic:
  on_false: terminate
`)
	writeFile(t, filepath.Join(project, ProjectConfigFile), "model:\n  default: project-model\n")

	cfg, err := NewLoader(nil,
		WithHomeDir(home),
		WithWorkDir(project),
		WithEnv(envMap(nil)),
	).Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Storage.Backend != "sqlite" {
		t.Errorf("user backend should survive the project layer, got %s", cfg.Storage.Backend)
	}
	if cfg.Storage.Path != "/var/lib/concepteng/docs.db" {
		t.Errorf("user storage path should survive, got %s", cfg.Storage.Path)
	}
	if cfg.Dialectic.OnFalse != "terminate" {
		t.Errorf("user on_false should survive, got %s", cfg.Dialectic.OnFalse)
	}
	if cfg.Model.Default != "project-model" {
		t.Errorf("expected project-model, got %s", cfg.Model.Default)
	}
	// Fields no layer sets keep their defaults.
	if cfg.Experiment.SampleSize != 40 {
		t.Errorf("expected default sample size 40, got %d", cfg.Experiment.SampleSize)
	}
}

func TestLoaderZeroTemperature(t *testing.T) {
	home := t.TempDir()
	project := t.TempDir()

	writeFile(t, filepath.Join(home, UserConfigDir, UserConfigFile), "model:\n  temperature: 0\n")
	writeFile(t, filepath.Join(project, ProjectConfigFile), "model:\n  default: project-model\n")

	cfg, err := NewLoader(nil,
		WithHomeDir(home),
		WithWorkDir(project),
		WithEnv(envMap(nil)),
	).Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Model.Temperature == nil || *cfg.Model.Temperature != 0 {
		t.Fatalf("explicit zero temperature should survive layering, got %v", cfg.Model.Temperature)
	}

	path := filepath.Join(t.TempDir(), "planet.yaml")
	writeFile(t, path, "id: planet\nlabel: planet\ndefinition: a body orbiting a star\n")
	c, err := cfg.LoadConcept(path)
	if err != nil {
		t.Fatalf("LoadConcept() error = %v", err)
	}
	if c.Temperature != 0 {
		t.Errorf("concept should inherit temperature 0, got %f", c.Temperature)
	}

	cfg, err = NewLoader(nil,
		WithHomeDir(t.TempDir()),
		WithWorkDir(t.TempDir()),
		WithEnv(envMap(map[string]string{"CONCEPTENG_TEMPERATURE": "0"})),
	).Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Model.DefaultTemperature() != 0 {
		t.Errorf("environment temperature 0 should apply, got %f", cfg.Model.DefaultTemperature())
	}
}

func TestLoaderExplicitFile(t *testing.T) {
	project := t.TempDir()
	writeFile(t, filepath.Join(project, ProjectConfigFile), "model:\n  default: project-model\n")
	explicit := filepath.Join(t.TempDir(), "custom.yaml")
	writeFile(t, explicit, "model:\n  default: explicit-model\n")

	cfg, err := NewLoader(nil,
		WithHomeDir(t.TempDir()),
		WithWorkDir(project),
		WithConfigFile(explicit),
		WithEnv(envMap(nil)),
	).Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Model.Default != "explicit-model" {
		t.Errorf("expected explicit-model, got %s", cfg.Model.Default)
	}

	_, err = NewLoader(nil,
		WithHomeDir(t.TempDir()),
		WithConfigFile(filepath.Join(project, "missing.yaml")),
		WithEnv(envMap(nil)),
	).Load()
	if err == nil {
		t.Error("expected error for a missing explicit config file")
	}
}

func TestLoaderEnvironment(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		check   func(*Config) bool
		wantErr bool
	}{
		{
			name:  "temperature",
			env:   map[string]string{"CONCEPTENG_TEMPERATURE": "0.7"},
			check: func(c *Config) bool { return c.Model.DefaultTemperature() == 0.7 },
		},
		{
			name:  "model timeout",
			env:   map[string]string{"CONCEPTENG_MODEL_TIMEOUT": "90s"},
			check: func(c *Config) bool { return c.Model.Timeout == 90*time.Second },
		},
		{
			name: "nats storage",
			env: map[string]string{
				"CONCEPTENG_STORAGE_BACKEND": "nats",
				"CONCEPTENG_NATS_URL":        "nats://localhost:4222",
			},
			check: func(c *Config) bool { return c.Storage.NATSURL == "nats://localhost:4222" },
		},
		{
			name:  "metrics flag",
			env:   map[string]string{"CONCEPTENG_METRICS_ENABLED": "true"},
			check: func(c *Config) bool { return c.Metrics.Enabled },
		},
		{
			name:  "blank values are ignored",
			env:   map[string]string{"CONCEPTENG_MODEL": "  "},
			check: func(c *Config) bool { return c.Model.Default == "gpt-4" },
		},
		{
			name:    "bad temperature",
			env:     map[string]string{"CONCEPTENG_TEMPERATURE": "warm"},
			wantErr: true,
		},
		{
			name:    "bad integer",
			env:     map[string]string{"CONCEPTENG_PARALLELISM": "many"},
			wantErr: true,
		},
		{
			name:    "override still validated",
			env:     map[string]string{"CONCEPTENG_STORAGE_BACKEND": "nats"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := NewLoader(nil,
				WithHomeDir(t.TempDir()),
				WithWorkDir(t.TempDir()),
				WithEnv(envMap(tt.env)),
			).Load()
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if !tt.check(cfg) {
				t.Errorf("override not applied: %+v", cfg)
			}
		})
	}
}

func TestEnsureUserConfig(t *testing.T) {
	home := t.TempDir()
	loader := NewLoader(nil, WithHomeDir(home), WithEnv(envMap(nil)))

	if err := loader.EnsureUserConfig(); err != nil {
		t.Fatalf("EnsureUserConfig() error = %v", err)
	}
	path := filepath.Join(home, UserConfigDir, UserConfigFile)
	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("created config unreadable: %v", err)
	}
	if cfg.Model.Default != "gpt-4" {
		t.Errorf("expected defaults, got %s", cfg.Model.Default)
	}

	// a second call leaves an edited file alone
	writeFile(t, path, "model:\n  default: edited\n")
	if err := loader.EnsureUserConfig(); err != nil {
		t.Fatal(err)
	}
	cfg, _ = LoadFromFile(path)
	if cfg.Model.Default != "edited" {
		t.Errorf("existing user config was overwritten")
	}
}
