package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	// ProjectConfigFile is the name of the project-level config file
	ProjectConfigFile = "concepteng.yaml"
	// UserConfigDir is the directory for user-level config
	UserConfigDir = ".config/concepteng"
	// UserConfigFile is the name of the user-level config file
	UserConfigFile = "config.yaml"
	// EnvPrefix prefixes every environment override
	EnvPrefix = "CONCEPTENG_"
)

// Loader handles configuration loading with layered precedence
type Loader struct {
	logger  *slog.Logger
	workDir string
	homeDir string
	file    string
	lookup  func(string) (string, bool)
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithWorkDir sets where the project config search starts.
func WithWorkDir(dir string) LoaderOption {
	return func(l *Loader) { l.workDir = dir }
}

// WithHomeDir sets the directory the user config lives under.
func WithHomeDir(dir string) LoaderOption {
	return func(l *Loader) { l.homeDir = dir }
}

// WithConfigFile replaces the project config search with an explicit file.
func WithConfigFile(path string) LoaderOption {
	return func(l *Loader) { l.file = path }
}

// WithEnv replaces os.LookupEnv for environment overrides.
func WithEnv(lookup func(string) (string, bool)) LoaderOption {
	return func(l *Loader) { l.lookup = lookup }
}

// NewLoader creates a new configuration loader
func NewLoader(logger *slog.Logger, opts ...LoaderOption) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Loader{logger: logger, lookup: os.LookupEnv}
	for _, opt := range opts {
		opt(l)
	}
	if l.workDir == "" {
		if cwd, err := os.Getwd(); err == nil {
			l.workDir = cwd
		}
	}
	if l.homeDir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			l.homeDir = home
		}
	}
	return l
}

// Load loads configuration with layered precedence:
// 1. Default config
// 2. User config (~/.config/concepteng/config.yaml)
// 3. Project config (concepteng.yaml in current or parent directories),
// or the explicit file given by WithConfigFile
// 4. CONCEPTENG_* environment variables
func (l *Loader) Load() (*Config, error) {
	config := DefaultConfig()

	userConfigPath := l.userConfigPath()
	if userConfigPath != "" {
		if userConfig, err := loadLayer(userConfigPath); err == nil {
			l.logger.Debug("Loaded user config", slog.String("path", userConfigPath))
			config.Merge(userConfig)
		} else if !errors.Is(err, fs.ErrNotExist) {
			l.logger.Warn("Failed to load user config", slog.String("path", userConfigPath), slog.String("error", err.Error()))
		}
	}

	if l.file != "" {
		fileConfig, err := loadLayer(l.file)
		if err != nil {
			return nil, err
		}
		l.logger.Debug("Loaded config file", slog.String("path", l.file))
		config.Merge(fileConfig)
	} else if projectConfigPath := l.findProjectConfig(); projectConfigPath != "" {
		if projectConfig, err := loadLayer(projectConfigPath); err == nil {
			l.logger.Debug("Loaded project config", slog.String("path", projectConfigPath))
			config.Merge(projectConfig)
		} else {
			l.logger.Warn("Failed to load project config", slog.String("path", projectConfigPath), slog.String("error", err.Error()))
		}
	} else {
		l.logger.Debug("No project config found")
	}

	if err := l.applyEnv(config); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// EnsureUserConfig creates the user config file with defaults if it doesn't exist
func (l *Loader) EnsureUserConfig() error {
	userConfigPath := l.userConfigPath()
	if userConfigPath == "" {
		return fmt.Errorf("no home directory")
	}

	if _, err := os.Stat(userConfigPath); err == nil {
		return nil
	}

	config := DefaultConfig()
	if err := config.SaveToFile(userConfigPath); err != nil {
		return err
	}

	l.logger.Info("Created default user config", slog.String("path", userConfigPath))
	return nil
}

func (l *Loader) userConfigPath() string {
	if l.homeDir == "" {
		return ""
	}
	return filepath.Join(l.homeDir, UserConfigDir, UserConfigFile)
}

// findProjectConfig searches for concepteng.yaml in the work dir and its parents
func (l *Loader) findProjectConfig() string {
	if l.workDir == "" {
		return ""
	}

	dir := l.workDir
	for {
		configPath := filepath.Join(dir, ProjectConfigFile)
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}

// applyEnv overlays CONCEPTENG_* variables onto config.
func (l *Loader) applyEnv(config *Config) error {
	strs := map[string]*string{
		"MODEL":              &config.Model.Default,
		"MODEL_REGISTRY":     &config.Model.Registry,
		"CHAINS_DIR":         &config.Chains.Dir,
		"STORAGE_BACKEND":    &config.Storage.Backend,
		"STORAGE_PATH":       &config.Storage.Path,
		"STORAGE_FORMAT":     &config.Storage.Format,
		"NATS_URL":           &config.Storage.NATSURL,
		"NATS_BUCKET":        &config.Storage.Bucket,
		"WIKIDATA_ENDPOINT":  &config.Wikidata.Endpoint,
		"WIKIPEDIA_ENDPOINT": &config.Wikipedia.Endpoint,
		"WIKIPEDIA_FORMAT":   &config.Wikipedia.Format,
		"SERVER_ADDR":        &config.Server.Addr,
		"METRICS_ADDR":       &config.Metrics.Addr,
	}
	for name, dst := range strs {
		if v, ok := l.env(name); ok {
			*dst = v
		}
	}

	if v, ok := l.env("TEMPERATURE"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%sTEMPERATURE: %w", EnvPrefix, err)
		}
		config.Model.Temperature = &f
	}
	if v, ok := l.env("MODEL_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%sMODEL_TIMEOUT: %w", EnvPrefix, err)
		}
		config.Model.Timeout = d
	}

	ints := map[string]*int{
		"SAMPLE_SIZE":    &config.Experiment.SampleSize,
		"PARALLELISM":    &config.Experiment.Parallelism,
		"MAX_ITERATIONS": &config.Dialectic.MaxIterations,
	}
	for name, dst := range ints {
		if v, ok := l.env(name); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
			}
			*dst = n
		}
	}

	if v, ok := l.env("METRICS_ENABLED"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%sMETRICS_ENABLED: %w", EnvPrefix, err)
		}
		config.Metrics.Enabled = b
	}
	if v, ok := l.env("CORS_ORIGINS"); ok {
		config.Server.CORSOrigins = splitList(v)
	}
	return nil
}

func (l *Loader) env(name string) (string, bool) {
	v, ok := l.lookup(EnvPrefix + name)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return strings.TrimSpace(v), true
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
