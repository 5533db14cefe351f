package main

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/c360studio/concepteng/api"
	"github.com/c360studio/concepteng/benchmark"
	"github.com/c360studio/concepteng/chain"
	"github.com/c360studio/concepteng/concept"
	"github.com/c360studio/concepteng/config"
	"github.com/c360studio/concepteng/dialectic"
	"github.com/c360studio/concepteng/experiment"
	"github.com/c360studio/concepteng/llm"
	"github.com/c360studio/concepteng/mcpserver"
	"github.com/c360studio/concepteng/metrics"
	"github.com/c360studio/concepteng/model"
	"github.com/c360studio/concepteng/storage"
	"github.com/c360studio/concepteng/wikidata"
	"github.com/c360studio/concepteng/wikipedia"
)

// App wires configuration into the engines, stores and lookup clients
// shared by every command.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	registry  *model.Registry
	chains    *chain.Library
	engines   *dialectic.Engines
	wikidata  *wikidata.Client
	wikipedia *wikipedia.Client
	prom      *metrics.Prometheus

	storeMu sync.Mutex
	store   storage.Store
}

// AppOption configures an App.
type AppOption func(*appOptions)

type appOptions struct {
	source dialectic.GeneratorSource
	store  storage.Store
}

// WithGeneratorSource replaces the model-backed generators.
func WithGeneratorSource(src dialectic.GeneratorSource) AppOption {
	return func(o *appOptions) { o.source = src }
}

// WithStore replaces the configured document store.
func WithStore(s storage.Store) AppOption {
	return func(o *appOptions) { o.store = s }
}

// NewApp creates a new application instance.
func NewApp(cfg *config.Config, logger *slog.Logger, opts ...AppOption) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var o appOptions
	for _, opt := range opts {
		opt(&o)
	}

	registry := model.NewDefaultRegistry()
	if cfg.Model.Registry != "" {
		loaded, err := model.LoadFromFile(cfg.Model.Registry)
		if err != nil {
			return nil, fmt.Errorf("load model registry: %w", err)
		}
		registry.MergeFromConfig(loaded.ToConfig())
	}
	registry.SetDefault(cfg.Model.Default)

	var (
		lib *chain.Library
		err error
	)
	if cfg.Chains.Dir != "" {
		lib, err = chain.LoadLibrary(cfg.Chains.Dir, logger)
	} else {
		lib, err = chain.DefaultLibrary()
	}
	if err != nil {
		return nil, fmt.Errorf("load chains: %w", err)
	}

	app := &App{
		cfg:      cfg,
		logger:   logger,
		registry: registry,
		chains:   lib,
		store:    o.store,
	}
	if cfg.Metrics.Enabled {
		app.prom = metrics.Enable()
	}

	source := o.source
	if source == nil {
		retry := llm.DefaultRetryConfig()
		retry.MaxAttempts = cfg.Model.MaxAttempts
		source = llm.NewPool(registry,
			llm.WithHTTPClient(&http.Client{Timeout: cfg.Model.Timeout}),
			llm.WithRetryConfig(retry),
			llm.WithLogger(logger),
		)
	}
	app.engines = dialectic.NewEngines(lib, source, dialectic.WithLogger(logger))

	app.wikidata = wikidata.NewClient(
		wikidata.WithEndpoint(cfg.Wikidata.Endpoint),
		wikidata.WithUserAgent(cfg.Wikidata.UserAgent),
		wikidata.WithHTTPClient(&http.Client{Timeout: cfg.Wikidata.Timeout}),
		wikidata.WithLogger(logger),
	)
	app.wikipedia = wikipedia.NewClient(
		wikipedia.WithEndpoint(cfg.Wikipedia.Endpoint),
		wikipedia.WithUserAgent(cfg.Wikipedia.UserAgent),
		wikipedia.WithFormat(wikipedia.Format(cfg.Wikipedia.Format)),
		wikipedia.WithLogger(logger),
	)
	return app, nil
}

// Store opens the configured document store on first use.
func (a *App) Store(ctx context.Context) (storage.Store, error) {
	a.storeMu.Lock()
	defer a.storeMu.Unlock()
	if a.store != nil {
		return a.store, nil
	}
	s, err := storage.Open(ctx, storage.Options{
		Backend: storage.Backend(a.cfg.Storage.Backend),
		Path:    a.cfg.Storage.Path,
		Format:  storage.Format(a.cfg.Storage.Format),
		NATSURL: a.cfg.Storage.NATSURL,
		Bucket:  a.cfg.Storage.Bucket,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", a.cfg.Storage.Backend, err)
	}
	a.store = s
	return s, nil
}

// Close releases the document store.
func (a *App) Close() error {
	a.storeMu.Lock()
	defer a.storeMu.Unlock()
	if a.store == nil {
		return nil
	}
	err := a.store.Close()
	a.store = nil
	return err
}

// Engine returns the engine for the concept's model after validating it.
func (a *App) Engine(c concept.Concept) (*dialectic.Engine, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return a.engines.For(c.ModelName)
}

// Describe looks up an entity description on Wikipedia.
func (a *App) Describe(ctx context.Context, name string) (string, error) {
	return a.wikipedia.Describe(ctx, name)
}

// SessionOptions returns the configured session defaults.
func (a *App) SessionOptions() dialectic.SessionOptions {
	return dialectic.SessionOptions{
		MaxIterations: a.cfg.Dialectic.MaxIterations,
		OnFalse:       dialectic.OnFalse(a.cfg.Dialectic.OnFalse),
		Logger:        a.logger,
	}
}

// RetrieveBenchmark builds and stores the benchmark described by q.
func (a *App) RetrieveBenchmark(ctx context.Context, q *config.Queries) (*benchmark.Benchmark, string, error) {
	limit := q.Limit
	if limit == 0 {
		limit = a.cfg.Experiment.BenchmarkLimit
	}
	store, err := a.Store(ctx)
	if err != nil {
		return nil, "", err
	}

	retriever := benchmark.NewRetriever(a.wikidata, a.wikipedia, a.logger)
	b, err := retriever.Retrieve(ctx, q.ConceptID, q.Positive, q.Negative, limit)
	if err != nil {
		return nil, "", err
	}
	key, err := b.Save(ctx, store)
	if err != nil {
		return nil, "", err
	}
	a.logger.Info("Benchmark stored", "concept", q.ConceptID, "size", b.Size(), "key", key)
	return b, key, nil
}

// ExperimentParams controls a single experiment run.
type ExperimentParams struct {
	SampleSize   int
	Seed         uint64
	Parallelism  int
	Descriptions bool
}

// ExperimentParams returns the configured experiment defaults.
func (a *App) ExperimentParams() ExperimentParams {
	return ExperimentParams{
		SampleSize:   a.cfg.Experiment.SampleSize,
		Seed:         a.cfg.Experiment.Seed,
		Parallelism:  a.cfg.Experiment.Parallelism,
		Descriptions: !a.cfg.Experiment.SkipDescriptions,
	}
}

// RunExperiment samples the stored benchmark for c, classifies the sample
// and persists the results.
func (a *App) RunExperiment(ctx context.Context, c concept.Concept, p ExperimentParams) (*experiment.Document, string, error) {
	if p.SampleSize < 1 {
		return nil, "", fmt.Errorf("sample size must be at least 1, got %d", p.SampleSize)
	}
	if p.Parallelism < 1 {
		return nil, "", fmt.Errorf("parallelism must be at least 1, got %d", p.Parallelism)
	}
	engine, err := a.Engine(c)
	if err != nil {
		return nil, "", err
	}
	store, err := a.Store(ctx)
	if err != nil {
		return nil, "", err
	}
	b, err := benchmark.Load(ctx, store, c.ID)
	if err != nil {
		return nil, "", err
	}

	seed := p.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	exp := experiment.New(c, b)
	sample := exp.Sample(p.SampleSize, rand.New(rand.NewPCG(seed, seed)))
	a.logger.Info("Running experiment",
		"concept", c.ID, "model", c.ModelName, "sample", len(sample), "seed", seed)

	if err := exp.Run(ctx, engine,
		experiment.WithParallelism(p.Parallelism),
		experiment.WithDescriptions(p.Descriptions),
		experiment.WithLogger(a.logger),
	); err != nil {
		return nil, "", err
	}
	key, err := exp.Save(ctx, store)
	if err != nil {
		return nil, "", err
	}
	doc, err := experiment.Load(ctx, store, key)
	if err != nil {
		return nil, "", err
	}
	return doc, key, nil
}

// WatchChains reloads the chain directory until ctx is cancelled when
// watching is enabled.
func (a *App) WatchChains(ctx context.Context) error {
	if !a.cfg.Chains.Watch || a.cfg.Chains.Dir == "" {
		return nil
	}
	a.logger.Info("Watching chain documents", "dir", a.cfg.Chains.Dir)
	return a.chains.Watch(ctx, a.cfg.Chains.Dir, a.cfg.Chains.Debounce)
}

// APIServer builds the HTTP API over the app's engines and store.
func (a *App) APIServer(ctx context.Context) (*api.Server, error) {
	store, err := a.Store(ctx)
	if err != nil {
		return nil, err
	}
	opts := []api.Option{
		api.WithStore(store),
		api.WithDescriber(a.Describe),
		api.WithSessionDefaults(a.cfg.Dialectic.MaxIterations, dialectic.OnFalse(a.cfg.Dialectic.OnFalse)),
		api.WithCORSOrigins(a.cfg.Server.CORSOrigins),
		api.WithLogger(a.logger),
	}
	if a.prom != nil {
		opts = append(opts, api.WithMetricsHandler(a.prom.Handler()))
	}
	return api.NewServer(a.engines, opts...), nil
}

// Serve runs the HTTP API, and the chain watcher when enabled, until ctx
// is cancelled.
func (a *App) Serve(ctx context.Context) error {
	srv, err := a.APIServer(ctx)
	if err != nil {
		return err
	}
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.WatchChains(ctx) })
	g.Go(func() error { return srv.ListenAndServe(ctx, a.cfg.Server.Addr) })
	return g.Wait()
}

// ServeMCP runs the MCP tools over stdio. Metrics, when enabled, are served
// on their own address since stdio carries the protocol.
func (a *App) ServeMCP(ctx context.Context) error {
	srv, err := mcpserver.NewServer(a.engines, Version,
		mcpserver.WithDescriber(a.Describe),
		mcpserver.WithLogger(a.logger),
	)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.WatchChains(ctx) })
	if a.prom != nil {
		g.Go(func() error { return a.prom.Serve(ctx, a.cfg.Metrics.Addr, a.logger) })
	}
	g.Go(func() error {
		// the client hanging up ends the whole group
		defer cancel()
		return srv.Run(ctx)
	})
	return g.Wait()
}
