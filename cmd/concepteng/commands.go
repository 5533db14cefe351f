package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/c360studio/concepteng/benchmark"
	"github.com/c360studio/concepteng/concept"
	"github.com/c360studio/concepteng/config"
	"github.com/c360studio/concepteng/dialectic"
	"github.com/c360studio/concepteng/experiment"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

// writeConcept replaces a concept document with c.
func writeConcept(path string, c concept.Concept) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal concept: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write concept %s: %w", path, err)
	}
	return nil
}

// describeFlags are shared by commands that take an entity description.
type describeFlags struct {
	description string
	lookup      bool
}

func (f *describeFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.description, "description", "", "Description of the entity")
	cmd.Flags().BoolVar(&f.lookup, "lookup", false, "Look up the description on Wikipedia when none is given")
}

// resolve returns the given description, or looks one up when asked to.
// A failed lookup leaves the description empty.
func (f *describeFlags) resolve(ctx context.Context, app *App, name string) string {
	if f.description != "" || !f.lookup {
		return f.description
	}
	d, err := app.Describe(ctx, name)
	if err != nil {
		app.logger.Warn("Description lookup failed", "entity", name, "error", err)
		return ""
	}
	return d
}

func (c *cli) classifyCmd() *cobra.Command {
	var (
		conceptPath string
		entity      string
		entityID    string
		desc        describeFlags
	)
	cmd := &cobra.Command{
		Use:   "classify",
		Short: "Decide whether an entity falls under a concept",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := c.loadApp(cmd)
			if err != nil {
				return err
			}
			con, err := c.loadConcept(cmd, conceptPath)
			if err != nil {
				return err
			}
			engine, err := app.Engine(con)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			result, err := engine.Classify(ctx, con, concept.Entity{
				ID:          entityID,
				Label:       entity,
				Description: desc.resolve(ctx, app, entity),
			})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), result)
		},
	}
	cmd.Flags().StringVarP(&conceptPath, "concept", "f", "", "Concept document (YAML)")
	cmd.Flags().StringVarP(&entity, "entity", "e", "", "Name of the entity to classify")
	cmd.Flags().StringVar(&entityID, "id", "", "Identifier of the entity")
	desc.register(cmd)
	_ = cmd.MarkFlagRequired("concept")
	_ = cmd.MarkFlagRequired("entity")
	return cmd
}

func (c *cli) proposeCmd() *cobra.Command {
	var conceptPath string
	cmd := &cobra.Command{
		Use:   "propose",
		Short: "Propose a counterexample to a concept's definition",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := c.loadApp(cmd)
			if err != nil {
				return err
			}
			con, err := c.loadConcept(cmd, conceptPath)
			if err != nil {
				return err
			}
			engine, err := app.Engine(con)
			if err != nil {
				return err
			}
			result, err := engine.ProposeCounterexample(cmd.Context(), con)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), result)
		},
	}
	cmd.Flags().StringVarP(&conceptPath, "concept", "f", "", "Concept document (YAML)")
	_ = cmd.MarkFlagRequired("concept")
	return cmd
}

func (c *cli) validateCmd() *cobra.Command {
	var (
		conceptPath    string
		counterexample string
		desc           describeFlags
	)
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Judge whether a counterexample defeats a concept's definition",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := c.loadApp(cmd)
			if err != nil {
				return err
			}
			con, err := c.loadConcept(cmd, conceptPath)
			if err != nil {
				return err
			}
			engine, err := app.Engine(con)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			result, err := engine.ValidateCounterexample(ctx, con, counterexample, desc.resolve(ctx, app, counterexample))
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), result)
		},
	}
	cmd.Flags().StringVarP(&conceptPath, "concept", "f", "", "Concept document (YAML)")
	cmd.Flags().StringVarP(&counterexample, "counterexample", "x", "", "Name of the counterexample")
	desc.register(cmd)
	_ = cmd.MarkFlagRequired("concept")
	_ = cmd.MarkFlagRequired("counterexample")
	return cmd
}

func (c *cli) reviseCmd() *cobra.Command {
	var (
		conceptPath    string
		counterexample string
		write          bool
		desc           describeFlags
	)
	cmd := &cobra.Command{
		Use:   "revise",
		Short: "Propose a definition that accounts for a counterexample",
		Long: `Propose a definition that accounts for a counterexample.

The concept document is left unchanged unless --write is given.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := c.loadApp(cmd)
			if err != nil {
				return err
			}
			con, err := c.loadConcept(cmd, conceptPath)
			if err != nil {
				return err
			}
			engine, err := app.Engine(con)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			result, err := engine.ReviseDefinition(ctx, con, counterexample, desc.resolve(ctx, app, counterexample))
			if err != nil {
				return err
			}
			if write {
				revised, err := result.Apply(con)
				if err != nil {
					return err
				}
				if err := writeConcept(conceptPath, revised); err != nil {
					return err
				}
				app.logger.Info("Definition revised", "concept", con.ID, "path", conceptPath)
			}
			return printJSON(cmd.OutOrStdout(), result)
		},
	}
	cmd.Flags().StringVarP(&conceptPath, "concept", "f", "", "Concept document (YAML)")
	cmd.Flags().StringVarP(&counterexample, "counterexample", "x", "", "Name of the counterexample")
	cmd.Flags().BoolVarP(&write, "write", "w", false, "Write the revised definition back to the concept document")
	desc.register(cmd)
	_ = cmd.MarkFlagRequired("concept")
	_ = cmd.MarkFlagRequired("counterexample")
	return cmd
}

func (c *cli) sessionCmd() *cobra.Command {
	var (
		conceptPath   string
		entity        string
		entityID      string
		maxIterations int
		onFalse       string
		interactive   bool
		write         bool
		desc          describeFlags
	)
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Run a dialectic session over a concept",
		Long: `Run a dialectic session over a concept.

The session classifies the entity, then repeatedly asks for a counterexample,
validates it and revises the definition until a stop condition is reached.
With --interactive each revision must be accepted on stdin before it is
committed. The transcript is printed as JSON.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := c.loadApp(cmd)
			if err != nil {
				return err
			}
			con, err := c.loadConcept(cmd, conceptPath)
			if err != nil {
				return err
			}
			engine, err := app.Engine(con)
			if err != nil {
				return err
			}

			opts := app.SessionOptions()
			if cmd.Flags().Changed("max-iterations") {
				opts.MaxIterations = maxIterations
			}
			if onFalse != "" {
				opts.OnFalse = dialectic.OnFalse(onFalse)
			}
			if desc.lookup {
				opts.Describe = app.Describe
			}
			if interactive {
				opts.Accept = promptAccept(cmd.InOrStdin(), cmd.ErrOrStderr())
			}
			session, err := dialectic.NewSession(engine, opts)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			transcript, err := session.Run(ctx, con, concept.Entity{
				ID:          entityID,
				Label:       entity,
				Description: desc.resolve(ctx, app, entity),
			})
			if err != nil {
				if transcript != nil {
					_ = printJSON(cmd.OutOrStdout(), transcript)
				}
				return err
			}
			if write && transcript.Final.Definition != transcript.Initial.Definition {
				if err := writeConcept(conceptPath, transcript.Final); err != nil {
					return err
				}
			}
			return printJSON(cmd.OutOrStdout(), transcript)
		},
	}
	cmd.Flags().StringVarP(&conceptPath, "concept", "f", "", "Concept document (YAML)")
	cmd.Flags().StringVarP(&entity, "entity", "e", "", "Name of the entity to classify first")
	cmd.Flags().StringVar(&entityID, "id", "", "Identifier of the entity")
	cmd.Flags().IntVar(&maxIterations, "max-iterations", 0, "Number of counterexample challenges (default from config)")
	cmd.Flags().StringVar(&onFalse, "on-false", "", "What to do with refuted counterexamples (retry, terminate)")
	cmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "Ask before committing each revision")
	cmd.Flags().BoolVarP(&write, "write", "w", false, "Write the final definition back to the concept document")
	desc.register(cmd)
	_ = cmd.MarkFlagRequired("concept")
	_ = cmd.MarkFlagRequired("entity")
	return cmd
}

// promptAccept asks on out and reads y/n answers from in. End of input
// rejects.
func promptAccept(in io.Reader, out io.Writer) dialectic.AcceptFunc {
	scanner := bufio.NewScanner(in)
	return func(_ context.Context, current concept.Concept, rev concept.DefinitionRevision) (bool, error) {
		fmt.Fprintf(out, "\nCurrent:  %s\nProposed: %s\nReason:   %s\nAccept revision? [y/N] ",
			current.Definition, rev.Definition, rev.Rationale)
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return false, fmt.Errorf("read answer: %w", err)
			}
			return false, nil
		}
		switch strings.ToLower(strings.TrimSpace(scanner.Text())) {
		case "y", "yes":
			return true, nil
		default:
			return false, nil
		}
	}
}

func (c *cli) benchmarkCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "benchmark",
		Short: "Retrieve and inspect benchmarks",
	}

	var (
		queriesPath string
		limit       int
	)
	retrieve := &cobra.Command{
		Use:   "retrieve",
		Short: "Build a benchmark from Wikidata queries and store it",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := c.loadApp(cmd)
			if err != nil {
				return err
			}
			q, err := config.LoadQueries(queriesPath)
			if err != nil {
				return err
			}
			if limit > 0 {
				q.Limit = limit
			}
			b, key, err := app.RetrieveBenchmark(cmd.Context(), q)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"key":      key,
				"concept":  b.TargetConceptID,
				"positive": len(b.Positive.Records),
				"negative": len(b.Negative.Records),
			})
		},
	}
	retrieve.Flags().StringVarP(&queriesPath, "queries", "q", "", "Benchmark query document (YAML)")
	retrieve.Flags().IntVar(&limit, "limit", 0, "Combined benchmark size (default from queries or config)")
	_ = retrieve.MarkFlagRequired("queries")

	show := &cobra.Command{
		Use:   "show <concept-id>",
		Short: "Print a stored benchmark",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := c.loadApp(cmd)
			if err != nil {
				return err
			}
			store, err := app.Store(cmd.Context())
			if err != nil {
				return err
			}
			b, err := benchmark.Load(cmd.Context(), store, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), b)
		},
	}

	cmd.AddCommand(retrieve, show)
	return cmd
}

func (c *cli) experimentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "experiment",
		Short: "Run and inspect classification experiments",
	}

	var (
		conceptPath    string
		sampleSize     int
		seed           uint64
		parallelism    int
		noDescriptions bool
		full           bool
	)
	run := &cobra.Command{
		Use:   "run",
		Short: "Classify a sample of the concept's benchmark and store the results",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := c.loadApp(cmd)
			if err != nil {
				return err
			}
			con, err := c.loadConcept(cmd, conceptPath)
			if err != nil {
				return err
			}
			p := app.ExperimentParams()
			if cmd.Flags().Changed("sample") {
				p.SampleSize = sampleSize
			}
			if cmd.Flags().Changed("seed") {
				p.Seed = seed
			}
			if cmd.Flags().Changed("parallelism") {
				p.Parallelism = parallelism
			}
			if noDescriptions {
				p.Descriptions = false
			}
			doc, key, err := app.RunExperiment(cmd.Context(), con, p)
			if err != nil {
				return err
			}
			if full {
				return printJSON(cmd.OutOrStdout(), doc)
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"key":              key,
				"sample_size":      doc.SampleSize,
				"confusion_matrix": doc.ConfusionMatrix,
				"metrics":          doc.Metrics,
			})
		},
	}
	run.Flags().StringVarP(&conceptPath, "concept", "f", "", "Concept document (YAML)")
	run.Flags().IntVarP(&sampleSize, "sample", "n", 0, "Number of benchmark records to classify (default from config)")
	run.Flags().Uint64Var(&seed, "seed", 0, "Sampling seed (default from config, random when zero)")
	run.Flags().IntVarP(&parallelism, "parallelism", "p", 0, "Concurrent classifications (default from config)")
	run.Flags().BoolVar(&noDescriptions, "no-descriptions", false, "Classify by name only")
	run.Flags().BoolVar(&full, "full", false, "Print the full experiment document")
	_ = run.MarkFlagRequired("concept")

	show := &cobra.Command{
		Use:   "show <key>",
		Short: "Print a stored experiment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := c.loadApp(cmd)
			if err != nil {
				return err
			}
			store, err := app.Store(cmd.Context())
			if err != nil {
				return err
			}
			doc, err := experiment.Load(cmd.Context(), store, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), doc)
		},
	}

	var modelName, conceptID string
	list := &cobra.Command{
		Use:   "list",
		Short: "List stored experiment keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := c.loadApp(cmd)
			if err != nil {
				return err
			}
			store, err := app.Store(cmd.Context())
			if err != nil {
				return err
			}
			keys, err := experiment.List(cmd.Context(), store, modelName, conceptID)
			if err != nil {
				return err
			}
			for _, k := range keys {
				fmt.Fprintln(cmd.OutOrStdout(), k)
			}
			return nil
		},
	}
	list.Flags().StringVar(&modelName, "for-model", "", "Only experiments run with this model")
	list.Flags().StringVar(&conceptID, "concept-id", "", "Only experiments on this concept")

	cmd.AddCommand(run, show, list)
	return cmd
}

func (c *cli) chainsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chains",
		Short: "Inspect the prompt chains",
	}
	list := &cobra.Command{
		Use:   "list",
		Short: "List chain names",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := c.loadApp(cmd)
			if err != nil {
				return err
			}
			for _, name := range app.chains.Names() {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}
	show := &cobra.Command{
		Use:   "show <name>",
		Short: "Print a chain document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := c.loadApp(cmd)
			if err != nil {
				return err
			}
			spec, err := app.chains.Spec(args[0])
			if err != nil {
				return err
			}
			return printYAML(cmd.OutOrStdout(), spec)
		},
	}
	cmd.AddCommand(list, show)
	return cmd
}

func (c *cli) serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := c.loadApp(cmd)
			if err != nil {
				return err
			}
			if addr != "" {
				app.cfg.Server.Addr = addr
			}
			return app.Serve(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default from config)")
	return cmd
}

func (c *cli) mcpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the MCP tools over stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := c.loadApp(cmd)
			if err != nil {
				return err
			}
			return app.ServeMCP(cmd.Context())
		},
	}
}

func (c *cli) configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}
	show := &cobra.Command{
		Use:   "show",
		Short: "Print the resolved configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.loadConfig(cmd)
			if err != nil {
				return err
			}
			return printYAML(cmd.OutOrStdout(), cfg)
		},
	}
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Create the user config file with defaults if it does not exist",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := c.setupLogging(cmd)
			return config.NewLoader(logger, c.deps.loaderOpts...).EnsureUserConfig()
		},
	}
	cmd.AddCommand(show, initCmd)
	return cmd
}
