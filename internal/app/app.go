// Package app builds and holds the long-lived services of the scrape
// engine, acting as the dependency injection container for the CLI.
package app

import (
	"context"
	"errors"
	"fmt"

	gcsstorage "cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/Lunyoo/adlibrary-crawler/internal/clock/system"
	"github.com/Lunyoo/adlibrary-crawler/internal/config"
	"github.com/Lunyoo/adlibrary-crawler/internal/crawler"
	"github.com/Lunyoo/adlibrary-crawler/internal/dispatcher"
	"github.com/Lunyoo/adlibrary-crawler/internal/extract"
	"github.com/Lunyoo/adlibrary-crawler/internal/hash/sha256"
	"github.com/Lunyoo/adlibrary-crawler/internal/id/uuid"
	"github.com/Lunyoo/adlibrary-crawler/internal/landing"
	"github.com/Lunyoo/adlibrary-crawler/internal/metrics"
	"github.com/Lunyoo/adlibrary-crawler/internal/ml"
	"github.com/Lunyoo/adlibrary-crawler/internal/orchestrator"
	"github.com/Lunyoo/adlibrary-crawler/internal/policy/pacing"
	"github.com/Lunyoo/adlibrary-crawler/internal/policy/ratelimit"
	"github.com/Lunyoo/adlibrary-crawler/internal/progress"
	"github.com/Lunyoo/adlibrary-crawler/internal/progress/sinks"
	memorypublisher "github.com/Lunyoo/adlibrary-crawler/internal/publisher/memory"
	pubsubpublisher "github.com/Lunyoo/adlibrary-crawler/internal/publisher/pubsub"
	queuemem "github.com/Lunyoo/adlibrary-crawler/internal/queue/memory"
	"github.com/Lunyoo/adlibrary-crawler/internal/scoring"
	"github.com/Lunyoo/adlibrary-crawler/internal/session"
	blobarchive "github.com/Lunyoo/adlibrary-crawler/internal/storage/blob"
	"github.com/Lunyoo/adlibrary-crawler/internal/storage/gcs"
	"github.com/Lunyoo/adlibrary-crawler/internal/storage/local"
	"github.com/Lunyoo/adlibrary-crawler/internal/storage/memory"
	"github.com/Lunyoo/adlibrary-crawler/internal/storage/mongo"
	"github.com/Lunyoo/adlibrary-crawler/internal/storage/postgres"
	"github.com/Lunyoo/adlibrary-crawler/internal/storage/redis"
	"github.com/Lunyoo/adlibrary-crawler/internal/store"
	"github.com/Lunyoo/adlibrary-crawler/internal/telemetry"
)

// App holds the shared services. It is built once at startup and closed
// when the command finishes.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	store        *memory.RunStore
	pool         *session.Pool
	queue        *queuemem.Queue
	orchestrator *orchestrator.Orchestrator
	dispatcher   *dispatcher.Dispatcher
	hub          *progress.Hub
	ml           *ml.Client

	// closers run in reverse order on Close.
	closers []func(context.Context) error
}

// Option customizes New; mostly used by tests.
type Option func(*options)

type options struct {
	registerer prometheus.Registerer
	factory    session.Factory
}

// WithRegisterer registers the progress collectors somewhere other than
// the default Prometheus registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithSessionFactory replaces the browser-backed session factory.
func WithSessionFactory(f session.Factory) Option {
	return func(o *options) { o.factory = f }
}

// New wires every service from cfg. It fails fast when a configured backend
// cannot be reached; whatever was already opened is closed again.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := options{registerer: prometheus.DefaultRegisterer}
	for _, opt := range opts {
		opt(&o)
	}
	a := &App{cfg: cfg, logger: logger}
	if err := a.build(ctx, o); err != nil {
		if closeErr := a.Close(context.WithoutCancel(ctx)); closeErr != nil {
			logger.Warn("cleanup after failed init", zap.Error(closeErr))
		}
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context, o options) error {
	cfg := a.cfg
	metrics.Init()

	if cfg.Tracing.Enabled {
		tp, err := telemetry.InitTracerProvider(ctx, cfg.Tracing.ServiceName)
		if err != nil {
			return fmt.Errorf("init tracing: %w", err)
		}
		a.onClose(tp.Shutdown)
	}

	factory := o.factory
	if factory == nil {
		limiter := ratelimit.New(ratelimit.Config{MinInterval: cfg.Session.MinNavigationInterval})
		var err error
		factory, err = session.NewFactory(cfg.Session.Driver, session.Config{
			Headless:          cfg.Session.Headless,
			NavigationTimeout: cfg.Session.NavigationTimeout,
			SettleDelay:       cfg.Session.SettleDelay,
			ActionTimeout:     cfg.Session.ActionTimeout,
			UserAgent:         cfg.Session.UserAgent,
			Locale:            cfg.Session.Locale,
			ExecPath:          cfg.Session.ExecPath,
		}, limiter, a.logger.Named("session"))
		if err != nil {
			return err
		}
	}
	a.pool = session.NewPool(cfg.Session.PoolSize, factory)
	a.onClose(func(context.Context) error { return a.pool.Close() })

	pipelineOpts := []extract.Option{
		extract.WithPacer(pacing.New(cfg.Extraction.MinDelay, cfg.Extraction.MaxDelay)),
		extract.WithLogger(a.logger.Named("extract")),
	}
	if cfg.Landing.Enabled {
		pipelineOpts = append(pipelineOpts, extract.WithLanding(landing.New(landing.Config{
			UserAgent:     cfg.Session.UserAgent,
			RespectRobots: cfg.Landing.RespectRobots,
			Timeout:       cfg.Landing.Timeout,
		}, a.logger.Named("landing"))))
	}
	pipeline := extract.NewPipeline(extract.Config{
		BaseURL:     cfg.Extraction.BaseURL,
		RevealSteps: cfg.Extraction.RevealSteps,
		MaxItems:    cfg.Extraction.MaxCandidates,
	}, extract.NewHashEstimator(sha256.New()), pipelineOpts...)

	clock := system.New()
	storeOpts := []memory.Option{memory.WithClock(clock)}
	archive, err := a.buildArchive(ctx)
	if err != nil {
		return err
	}
	if archive != nil {
		storeOpts = append(storeOpts, memory.WithArchive(archive))
	}
	a.store = memory.NewRunStore(storeOpts...)

	promSink, err := sinks.NewPrometheusSink(o.registerer)
	if err != nil {
		return fmt.Errorf("progress prometheus sink: %w", err)
	}
	a.hub = progress.NewHub(progress.Config{
		BufferSize:     cfg.Progress.BufferSize,
		MaxBatchEvents: cfg.Progress.BatchSize,
		MaxBatchWait:   cfg.Progress.FlushInterval,
		Logger:         a.logger.Named("progress"),
	}, sinks.NewLogSink(a.logger.Named("progress")), promSink)
	a.onClose(a.hub.Close)

	publisher, err := a.buildPublisher(ctx)
	if err != nil {
		return err
	}
	topic := ""
	if publisher != nil {
		topic = cfg.Publisher.Topic
	}

	a.queue = queuemem.NewQueue(cfg.Orchestrator.QueueDepth)
	a.orchestrator, err = orchestrator.New(orchestrator.Config{
		DefaultRegion: cfg.Extraction.DefaultRegion,
		DefaultLimit:  cfg.Scoring.DefaultLimit,
		MinScore:      cfg.Scoring.MinScore,
		Topic:         topic,
	}, orchestrator.Deps{
		Store:     a.store,
		Pool:      a.pool,
		Pipeline:  pipeline,
		Ranker:    scoring.New(cfg.Scoring.Vocabulary()),
		IDs:       uuid.New(),
		Clock:     clock,
		Pacer:     pacing.New(cfg.Orchestrator.MinUnitDelay, cfg.Orchestrator.MaxUnitDelay),
		Queue:     a.queue,
		Publisher: publisher,
		Events:    a.hub,
		Logger:    a.logger.Named("orchestrator"),
	})
	if err != nil {
		return err
	}
	a.dispatcher = dispatcher.NewWithExecutor(a.queue, cfg.Orchestrator.Workers, a.orchestrator, a.logger)

	a.ml = ml.New(ml.Config{BaseURL: cfg.ML.BaseURL, Timeout: cfg.ML.Timeout}, nil, a.logger.Named("ml"))
	return nil
}

// buildArchive opens each configured backend. The blob archive is listed
// last so faster stores answer reads first.
func (a *App) buildArchive(ctx context.Context) (crawler.ResultArchive, error) {
	arch := a.cfg.Archive
	var archives []crawler.ResultArchive

	if arch.Enabled("redis") {
		cache, err := redis.New(ctx, redis.Config{Addr: arch.Redis.Addr, TTL: arch.Redis.TTL}, a.logger.Named("redis"))
		if err != nil {
			return nil, err
		}
		a.onClose(func(context.Context) error { return cache.Close() })
		archives = append(archives, cache)
	}
	if arch.Enabled("postgres") {
		pg, err := postgres.New(ctx, postgres.Config{DSN: arch.Postgres.DSN})
		if err != nil {
			return nil, err
		}
		a.onClose(func(context.Context) error { pg.Close(); return nil })
		if err := pg.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		archives = append(archives, pg)
	}
	if arch.Enabled("mongo") {
		doc, err := mongo.New(ctx, mongo.Config{
			URI:        arch.Mongo.URI,
			Database:   arch.Mongo.Database,
			Collection: arch.Mongo.Collection,
		})
		if err != nil {
			return nil, err
		}
		a.onClose(doc.Close)
		archives = append(archives, doc)
	}
	if arch.Enabled("blob") {
		blobs, err := a.buildBlobStore(ctx)
		if err != nil {
			return nil, err
		}
		archives = append(archives, blobarchive.New(blobs, a.logger.Named("archive")))
	}

	if len(archives) == 0 {
		return nil, nil
	}
	a.logger.Info("result archive enabled", zap.Strings("backends", arch.Backends))
	return store.NewMultiArchive(archives...), nil
}

func (a *App) buildBlobStore(ctx context.Context) (crawler.BlobStore, error) {
	blob := a.cfg.Archive.Blob
	switch blob.Backend {
	case "memory":
		return memory.NewBlobStore(), nil
	case "gcs":
		client, err := gcsstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client: %w", err)
		}
		a.onClose(func(context.Context) error { return client.Close() })
		return gcs.New(client, gcs.Config{Bucket: blob.Bucket, Prefix: blob.Prefix})
	default:
		return local.New(local.Config{BaseDir: blob.BaseDir})
	}
}

func (a *App) buildPublisher(ctx context.Context) (crawler.Publisher, error) {
	switch a.cfg.Publisher.Backend {
	case "memory":
		return memorypublisher.New(), nil
	case "pubsub":
		pub, err := pubsubpublisher.Dial(ctx, a.cfg.Publisher.ProjectID, a.logger.Named("pubsub"))
		if err != nil {
			return nil, err
		}
		a.onClose(func(context.Context) error { return pub.Close() })
		return pub, nil
	default:
		return nil, nil
	}
}

func (a *App) onClose(fn func(context.Context) error) {
	a.closers = append(a.closers, fn)
}

// Logger returns the root logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Config returns the configuration the services were built from.
func (a *App) Config() config.Config { return a.cfg }

// Store returns the run store.
func (a *App) Store() *memory.RunStore { return a.store }

// Sessions returns the browsing session pool.
func (a *App) Sessions() *session.Pool { return a.pool }

// Orchestrator returns the run orchestrator.
func (a *App) Orchestrator() *orchestrator.Orchestrator { return a.orchestrator }

// ML returns the prediction service client.
func (a *App) ML() *ml.Client { return a.ml }

// Dispatcher returns the async worker fan-out.
func (a *App) Dispatcher() *dispatcher.Dispatcher { return a.dispatcher }

// Close stops the orchestrator, closes the queue and then every backend in
// reverse order of creation.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.orchestrator != nil {
		if err := a.orchestrator.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("orchestrator shutdown: %w", err))
		}
	}
	if a.queue != nil {
		a.queue.Close()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
