// Package main provides the concepteng binary entry point.
// Concepteng runs conceptual-engineering dialogues against language models:
// classifying entities under a definition, challenging it with
// counterexamples and revising it, and benchmarking definitions against
// Wikidata-derived ground truth.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	// Register LLM providers via init()
	_ "github.com/c360studio/concepteng/llm/providers"

	"github.com/c360studio/concepteng/concept"
	"github.com/c360studio/concepteng/config"
)

const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "concepteng"
)

func main() {
	// Add panic recovery
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd(deps{}).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// deps lets tests substitute configuration sources and generators.
type deps struct {
	loaderOpts []config.LoaderOption
	appOpts    []AppOption
}

// cli holds the state shared by every subcommand.
type cli struct {
	deps deps

	configPath string
	logLevel   string
	model      string

	logger *slog.Logger
	cfg    *config.Config
	app    *App
}

func rootCmd(d deps) *cobra.Command {
	c := &cli{deps: d}

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Conceptual engineering with language models",
		Long: `Concepteng runs conceptual-engineering dialogues against language models.

It provides:
- Classification of entities under a concept's definition
- Counterexample proposal, validation and definition revision
- Iterative dialectic sessions over a concept
- Benchmark retrieval from Wikidata and Wikipedia
- Classification experiments with confusion-matrix metrics
- HTTP and MCP front ends over the same operations`,
		SilenceUsage: true,
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if c.app != nil {
				return c.app.Close()
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&c.configPath, "config", "c", "", "Config file path (YAML)")
	cmd.PersistentFlags().StringVar(&c.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVarP(&c.model, "model", "m", "", "Model to use, overriding config and concept documents")

	cmd.AddCommand(
		c.classifyCmd(),
		c.proposeCmd(),
		c.validateCmd(),
		c.reviseCmd(),
		c.sessionCmd(),
		c.benchmarkCmd(),
		c.experimentCmd(),
		c.chainsCmd(),
		c.serveCmd(),
		c.mcpCmd(),
		c.configCmd(),
	)

	// Version command
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s version %s (build: %s)\n", appName, Version, BuildTime)
		},
	})

	return cmd
}

// setupLogging configures the default logger on the command's stderr.
func (c *cli) setupLogging(cmd *cobra.Command) *slog.Logger {
	if c.logger != nil {
		return c.logger
	}
	level := slog.LevelInfo
	switch strings.ToLower(c.logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	c.logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
	slog.SetDefault(c.logger)
	return c.logger
}

// loadConfig resolves the layered configuration once per invocation.
func (c *cli) loadConfig(cmd *cobra.Command) (*config.Config, error) {
	if c.cfg != nil {
		return c.cfg, nil
	}
	logger := c.setupLogging(cmd)

	opts := append([]config.LoaderOption{}, c.deps.loaderOpts...)
	if c.configPath != "" {
		opts = append(opts, config.WithConfigFile(c.configPath))
	}
	cfg, err := config.NewLoader(logger, opts...).Load()
	if err != nil {
		return nil, err
	}
	if c.model != "" {
		cfg.Model.Default = c.model
	}
	c.cfg = cfg
	return cfg, nil
}

// loadApp builds the App on first use.
func (c *cli) loadApp(cmd *cobra.Command) (*App, error) {
	if c.app != nil {
		return c.app, nil
	}
	cfg, err := c.loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	app, err := NewApp(cfg, c.logger, c.deps.appOpts...)
	if err != nil {
		return nil, err
	}
	c.app = app
	return app, nil
}

// loadConcept reads a concept document using the configured defaults.
func (c *cli) loadConcept(cmd *cobra.Command, path string) (concept.Concept, error) {
	cfg, err := c.loadConfig(cmd)
	if err != nil {
		return concept.Concept{}, err
	}
	con, err := cfg.LoadConcept(path)
	if err != nil {
		return concept.Concept{}, err
	}
	if c.model != "" {
		con.ModelName = c.model
	}
	return con, nil
}
