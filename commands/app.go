package commands

import (
	"context"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"github.com/strataline/policygraph/embedding"
	"github.com/strataline/policygraph/events"
	"github.com/strataline/policygraph/graphrag"
	"github.com/strataline/policygraph/graphstore"
	"github.com/strataline/policygraph/llm"
	"github.com/strataline/policygraph/metrics"
	"github.com/strataline/policygraph/model"
	"github.com/strataline/policygraph/source"
	"github.com/strataline/policygraph/storage"
	"github.com/strataline/policygraph/workflow"
)

// App wires components over one configuration. Start connects the core
// store; the heavier stacks are built on first use so short commands do
// not touch backends they never read.
type App struct {
	rt *Runtime

	pool      *pgxpool.Pool
	store     *storage.Store
	collector *metrics.Collector

	natsConn *nats.Conn
	redis    *redis.Client
	graph    *graphstore.Store

	registry  *model.Registry
	llmClient *llm.Client
	embedder  *embedding.Client
	engine    *workflow.Engine
	retrieval *graphrag.Engine
	streamer  *events.Streamer
}

// NewApp creates an application over the loaded runtime.
func NewApp(rt *Runtime) *App {
	return &App{rt: rt}
}

// Start connects Postgres, applies pending migrations when configured,
// and prepares the store and metrics collector.
func (a *App) Start(ctx context.Context) error {
	cfg := a.rt.Config

	pool, err := storage.Connect(ctx, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	a.pool = pool

	if cfg.Database.MigrateOnStart {
		if err := storage.Migrate(ctx, pool); err != nil {
			pool.Close()
			return fmt.Errorf("migrate database: %w", err)
		}
	}

	a.store = storage.New(pool, storage.WithLogger(a.rt.Logger))

	if cfg.Metrics.Enabled {
		a.collector = metrics.NewCollector(cfg.Metrics.Namespace)
	}
	return nil
}

// Close releases every connection the app opened.
func (a *App) Close(ctx context.Context) {
	if a.natsConn != nil {
		_ = a.natsConn.Drain()
	}
	if a.graph != nil {
		_ = a.graph.Close(ctx)
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
}

// Store returns the relational store. Valid after Start.
func (a *App) Store() *storage.Store { return a.store }

// Pool returns the underlying connection pool. Valid after Start.
func (a *App) Pool() *pgxpool.Pool { return a.pool }

// Collector returns the metrics collector, nil when metrics are disabled.
func (a *App) Collector() *metrics.Collector { return a.collector }

// models returns the capability registry, built once.
func (a *App) models() *model.Registry {
	if a.registry == nil {
		a.registry = a.rt.Config.ModelRegistry()
	}
	return a.registry
}

// LLM returns the completion client, building it on first use.
func (a *App) LLM() *llm.Client {
	if a.llmClient != nil {
		return a.llmClient
	}
	cfg := a.rt.Config

	opts := []llm.ClientOption{
		llm.WithRetryConfig(cfg.RetryConfig()),
		llm.WithLogger(a.rt.Logger),
		llm.WithMetrics(a.collector),
	}
	if timeout := cfg.LLM.Timeout.Duration(); timeout > 0 {
		opts = append(opts, llm.WithHTTPClient(&http.Client{Timeout: timeout}))
	}
	if cfg.LLM.RecordCalls {
		if callStore, err := llm.NewCallStore(a.store, llm.WithStoreLogger(a.rt.Logger)); err == nil {
			opts = append(opts, llm.WithCallStore(callStore))
		}
	}

	a.llmClient = llm.NewClient(a.models(), opts...)
	return a.llmClient
}

// Embedder returns the embedding client, building it on first use.
func (a *App) Embedder() (*embedding.Client, error) {
	if a.embedder != nil {
		return a.embedder, nil
	}
	cfg := a.rt.Config

	opts := []embedding.Option{
		embedding.WithLogger(a.rt.Logger),
		embedding.WithMetrics(a.collector),
	}
	if cfg.Redis.Enabled {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		opts = append(opts, embedding.WithCache(a.redis))
	}

	client, err := embedding.NewClient(cfg.EmbeddingConfig(), opts...)
	if err != nil {
		return nil, fmt.Errorf("create embedding client: %w", err)
	}
	a.embedder = client
	return client, nil
}

// Graph returns the property graph store when projection is enabled,
// nil otherwise. Consumers degrade to relational traversal on nil.
func (a *App) Graph(ctx context.Context) (*graphstore.Store, error) {
	cfg := a.rt.Config
	if !cfg.Graph.Enabled {
		return nil, nil
	}
	if a.graph != nil {
		return a.graph, nil
	}

	store, err := graphstore.NewStore(ctx, cfg.GraphStoreConfig(), graphstore.WithLogger(a.rt.Logger))
	if err != nil {
		return nil, fmt.Errorf("connect graph store: %w", err)
	}
	a.graph = store
	return store, nil
}

// deps assembles the shared stage dependencies.
func (a *App) deps(ctx context.Context) (workflow.Deps, error) {
	embedder, err := a.Embedder()
	if err != nil {
		return workflow.Deps{}, err
	}
	graph, err := a.Graph(ctx)
	if err != nil {
		return workflow.Deps{}, err
	}

	return workflow.Deps{
		Store:    a.store,
		LLM:      a.LLM(),
		Models:   a.models(),
		Embedder: embedder,
		Graph:    graph,
		Logger:   a.rt.Logger,
		Metrics:  a.collector,
	}, nil
}

// Engine returns the workflow engine with every stage built, creating it
// on first use.
func (a *App) Engine(ctx context.Context) (*workflow.Engine, error) {
	if a.engine != nil {
		return a.engine, nil
	}
	cfg := a.rt.Config

	deps, err := a.deps(ctx)
	if err != nil {
		return nil, err
	}

	stages, err := a.rt.Registry.BuildAll(cfg.StageConfigs(), deps)
	if err != nil {
		return nil, fmt.Errorf("build stages: %w", err)
	}

	engine, err := workflow.NewEngine(a.store, stages,
		workflow.WithConfig(cfg.EngineConfig()),
		workflow.WithEngineLogger(a.rt.Logger),
		workflow.WithMetrics(a.collector),
		workflow.WithCompensations(workflow.DefaultCompensations(a.store, deps.Graph)),
	)
	if err != nil {
		return nil, fmt.Errorf("create engine: %w", err)
	}
	a.engine = engine
	return engine, nil
}

// Retrieval returns the query engine, creating it on first use.
func (a *App) Retrieval(ctx context.Context) (*graphrag.Engine, error) {
	if a.retrieval != nil {
		return a.retrieval, nil
	}

	queryCfg, err := a.rt.Config.QueryConfig()
	if err != nil {
		return nil, err
	}
	deps, err := a.deps(ctx)
	if err != nil {
		return nil, err
	}

	engine, err := graphrag.NewEngine(queryCfg, deps)
	if err != nil {
		return nil, fmt.Errorf("create retrieval engine: %w", err)
	}
	a.retrieval = engine
	return engine, nil
}

// Streamer returns the event streamer, creating it on first use. When a
// NATS URL is configured, emitted events are mirrored to JetStream.
func (a *App) Streamer(ctx context.Context) (*events.Streamer, error) {
	if a.streamer != nil {
		return a.streamer, nil
	}
	cfg := a.rt.Config

	var publisher *events.Publisher
	if cfg.NATS.URL != "" {
		conn, err := nats.Connect(cfg.NATS.URL, nats.Name("policygraph"))
		if err != nil {
			return nil, fmt.Errorf("connect NATS: %w", err)
		}
		a.natsConn = conn

		publisher, err = events.NewPublisher(ctx, conn, cfg.NATS.StreamName, a.rt.Logger)
		if err != nil {
			return nil, fmt.Errorf("create event publisher: %w", err)
		}
	}

	streamer, err := events.NewStreamer(cfg.EventsConfig(), a.store, publisher, a.rt.Logger)
	if err != nil {
		return nil, fmt.Errorf("create event streamer: %w", err)
	}
	a.streamer = streamer
	return streamer, nil
}

// Importer returns a bundle importer over the store.
func (a *App) Importer() (*source.Importer, error) {
	return source.NewImporter(a.store, a.rt.Logger, source.WithImportMetrics(a.collector))
}

// Intake builds the watch-and-run loop: watcher, importer, and engine.
func (a *App) Intake(ctx context.Context) (*source.Intake, error) {
	cfg := a.rt.Config

	watcher, err := source.NewWatcher(cfg.WatchConfig(), a.rt.Logger)
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	importer, err := a.Importer()
	if err != nil {
		return nil, err
	}
	engine, err := a.Engine(ctx)
	if err != nil {
		return nil, err
	}

	intake, err := source.NewIntake(watcher, importer, a.store, engine, a.rt.Logger)
	if err != nil {
		return nil, fmt.Errorf("create intake: %w", err)
	}
	return intake, nil
}
