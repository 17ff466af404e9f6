// Package server builds the application's dependency graph and runs it.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/storage"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/serial-archiver/internal/acquire"
	"github.com/JakeFAU/serial-archiver/internal/api"
	"github.com/JakeFAU/serial-archiver/internal/clock/system"
	"github.com/JakeFAU/serial-archiver/internal/config"
	"github.com/JakeFAU/serial-archiver/internal/dispatcher"
	collyfetcher "github.com/JakeFAU/serial-archiver/internal/fetcher/colly"
	"github.com/JakeFAU/serial-archiver/internal/hash/sha256"
	"github.com/JakeFAU/serial-archiver/internal/id/uuid"
	"github.com/JakeFAU/serial-archiver/internal/jobs"
	"github.com/JakeFAU/serial-archiver/internal/novel"
	"github.com/JakeFAU/serial-archiver/internal/packager"
	"github.com/JakeFAU/serial-archiver/internal/policy/ratelimit"
	"github.com/JakeFAU/serial-archiver/internal/progress"
	progresssinks "github.com/JakeFAU/serial-archiver/internal/progress/sinks"
	logpublisher "github.com/JakeFAU/serial-archiver/internal/publisher/log"
	gcppublisher "github.com/JakeFAU/serial-archiver/internal/publisher/pubsub"
	queuememory "github.com/JakeFAU/serial-archiver/internal/queue/memory"
	gcsstorage "github.com/JakeFAU/serial-archiver/internal/storage/gcs"
	localstorage "github.com/JakeFAU/serial-archiver/internal/storage/local"
	memorystorage "github.com/JakeFAU/serial-archiver/internal/storage/memory"
	pgstore "github.com/JakeFAU/serial-archiver/internal/storage/postgres"
	s3storage "github.com/JakeFAU/serial-archiver/internal/storage/s3"
	sqlitestore "github.com/JakeFAU/serial-archiver/internal/storage/sqlite"
	"github.com/JakeFAU/serial-archiver/internal/worker"
)

// App contains the application's dependencies.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	apiServer *api.Server
	dispatch  *dispatcher.Dispatcher
	service   *jobs.Service
	hub       *progress.Hub
	queue     *queuememory.Queue
	stores    *Stores
	gcs       *storage.Client
	pubsub    *gcppublisher.Publisher
}

// Stores bundles the persistence backends selected by configuration.
type Stores struct {
	Jobs  novel.JobStore
	Cache novel.UnitCache

	pool   *pgxpool.Pool
	sqlite *sqlitestore.UnitCache
}

// Service exposes the job service, mainly for tests and the CLI.
func (a *App) Service() *jobs.Service {
	return a.service
}

// Handler exposes the HTTP handler.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run starts the workers and the HTTP server and blocks until the context
// is canceled or a termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		a.dispatch.Run(ctx)
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       a.cfg.Server.ReadTimeout(),
		WriteTimeout:      a.cfg.Server.WriteTimeout(),
	}

	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	a.queue.Close()
	<-dispatchDone

	return a.Close(shutdownCtx)
}

// Close releases every client the App opened.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("progress hub: %w", err))
		}
	}
	if a.pubsub != nil {
		if err := a.pubsub.Close(); err != nil {
			errs = append(errs, fmt.Errorf("pubsub: %w", err))
		}
	}
	if a.gcs != nil {
		if err := a.gcs.Close(); err != nil {
			errs = append(errs, fmt.Errorf("gcs client: %w", err))
		}
	}
	if err := a.stores.Close(); err != nil {
		errs = append(errs, err)
	}
	_ = a.logger.Sync() //nolint:errcheck // stderr sync fails on some terminals
	a.logger.Info("shutdown complete")
	return errors.Join(errs...)
}

// Build creates the application's dependencies from cfg. Progress metrics
// register against the default Prometheus registry.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	return build(ctx, cfg, logger, prometheus.DefaultRegisterer)
}

func build(ctx context.Context, cfg config.Config, logger *zap.Logger, reg prometheus.Registerer) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	app := &App{cfg: cfg, logger: logger}
	logger.Info("building application dependencies",
		zap.Int("port", cfg.Server.Port),
		zap.String("storage_backend", cfg.Storage.Backend),
		zap.String("database_backend", cfg.Database.Backend),
	)

	stores, err := OpenStores(ctx, cfg.Database, logger)
	if err != nil {
		return nil, app.abort(ctx, err)
	}
	app.stores = stores
	blobStore, err := app.setupStorage(ctx)
	if err != nil {
		return nil, app.abort(ctx, err)
	}
	publisher, err := app.setupPublisher(ctx)
	if err != nil {
		return nil, app.abort(ctx, err)
	}
	emitter, err := app.setupProgress(reg)
	if err != nil {
		return nil, app.abort(ctx, err)
	}

	clock := system.New()
	fetcher := NewFetcher(cfg.Fetcher, clock, logger.Named("fetcher"))
	coordinator := acquire.New(fetcher, stores.Cache, clock, logger.Named("acquire"), acquire.Config{
		Concurrency:     cfg.Acquire.Concurrency,
		MaxListingPages: cfg.Acquire.MaxListingPages,
	})

	app.queue = queuememory.NewQueue(cfg.Workers.QueueDepth)
	deps := worker.Deps{
		Queue:       app.queue,
		JobStore:    stores.Jobs,
		Fetcher:     fetcher,
		Coordinator: coordinator,
		Packager:    packager.New(fetcher, logger.Named("packager")),
		BlobStore:   blobStore,
		Publisher:   publisher,
		Hasher:      sha256.New(),
		Clock:       clock,
		Progress:    emitter,
	}
	runners := make([]dispatcher.Runner, 0, cfg.Workers.Count)
	for i := 0; i < cfg.Workers.Count; i++ {
		runners = append(runners, worker.New(deps, worker.Config{
			OutputDir:   cfg.Output.Dir,
			Concurrency: cfg.Acquire.Concurrency,
		}, logger.Named("worker").With(zap.Int("index", i))))
	}
	app.dispatch = dispatcher.New(app.queue, runners, logger.Named("dispatcher"))
	app.service = jobs.NewService(stores.Jobs, app.dispatch, uuid.New(), clock, logger.Named("jobs"))
	app.apiServer = api.NewServer(app.service, app.ready, cfg.Auth, logger.Named("api"))
	return app, nil
}

// NewFetcher builds the colly fetcher with its per-host politeness limiter.
func NewFetcher(cfg config.FetcherConfig, clock novel.Clock, logger *zap.Logger) *collyfetcher.Fetcher {
	limiter := ratelimit.New(ratelimit.Config{
		DefaultRPS:   cfg.RatePerSecond,
		DefaultBurst: cfg.Burst,
	})
	baseURLs := make(map[novel.Platform]string, len(cfg.BaseURLs))
	for tag, base := range cfg.BaseURLs {
		p, err := novel.ParsePlatform(tag)
		if err != nil {
			logger.Warn("ignoring base url for unknown platform", zap.String("platform", tag))
			continue
		}
		baseURLs[p] = base
	}
	return collyfetcher.New(collyfetcher.Config{
		UserAgent:         cfg.UserAgent,
		Cookie:            cfg.Cookie,
		DetailTimeout:     cfg.DetailTimeout(),
		UnitTimeout:       cfg.UnitTimeout(),
		MaxAttempts:       cfg.MaxAttempts,
		DetailBackoff:     cfg.DetailBackoff(),
		UnitBackoff:       cfg.UnitBackoff(),
		TimeoutRetryDelay: cfg.TimeoutRetryDelay(),
		BaseURLs:          baseURLs,
	}, limiter, clock, logger)
}

func (a *App) abort(ctx context.Context, cause error) error {
	if err := a.Close(ctx); err != nil {
		a.logger.Warn("cleanup after failed build", zap.Error(err))
	}
	return cause
}

func (a *App) ready(ctx context.Context) error {
	return a.stores.Ping(ctx)
}

// OpenStores opens the job store and unit cache selected by cfg.Backend.
// The caller owns the returned Stores and must Close them.
func OpenStores(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (*Stores, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.Backend {
	case config.BackendPostgres:
		pool, err := pgstore.NewPool(ctx, pgstore.Config{
			DSN:      cfg.Postgres.DSN,
			MaxConns: int32(cfg.Postgres.MaxConns), //nolint:gosec // small config value
		})
		if err != nil {
			return nil, fmt.Errorf("postgres init failed: %w", err)
		}
		stores := &Stores{pool: pool}
		if err := pgstore.Migrate(ctx, pool, "", ""); err != nil {
			_ = stores.Close()
			return nil, fmt.Errorf("postgres migrate failed: %w", err)
		}
		if stores.Jobs, err = pgstore.NewJobStore(pool, ""); err != nil {
			_ = stores.Close()
			return nil, err
		}
		if stores.Cache, err = pgstore.NewUnitCache(pool, ""); err != nil {
			_ = stores.Close()
			return nil, err
		}
		logger.Info("using postgres job store and unit cache")
		return stores, nil
	case config.BackendSQLite:
		cache, err := sqlitestore.Open(ctx, cfg.SQLite.Path)
		if err != nil {
			return nil, fmt.Errorf("sqlite init failed: %w", err)
		}
		logger.Info("using sqlite unit cache with in-memory job store", zap.String("path", cache.Path()))
		return &Stores{Jobs: memorystorage.NewJobStore(), Cache: cache, sqlite: cache}, nil
	default:
		logger.Info("using in-memory job store and unit cache")
		return &Stores{Jobs: memorystorage.NewJobStore(), Cache: memorystorage.NewUnitCache()}, nil
	}
}

// Close releases the database handles behind the stores.
func (s *Stores) Close() error {
	if s == nil {
		return nil
	}
	var err error
	if s.sqlite != nil {
		if cerr := s.sqlite.Close(); cerr != nil {
			err = fmt.Errorf("sqlite cache: %w", cerr)
		}
		s.sqlite = nil
	}
	if s.pool != nil {
		s.pool.Close()
		s.pool = nil
	}
	return err
}

// Ping checks the database connection when one is open.
func (s *Stores) Ping(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return nil
	}
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	return nil
}

func (a *App) setupStorage(ctx context.Context) (novel.BlobStore, error) {
	cfg := a.cfg.Storage
	switch cfg.Backend {
	case config.BackendGCS:
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		a.gcs = client
		store, err := gcsstorage.New(client, gcsstorage.Config{Bucket: cfg.GCS.Bucket, Prefix: cfg.Prefix})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.logger.Info("using GCS artifact sink", zap.String("bucket", cfg.GCS.Bucket))
		return store, nil
	case config.BackendS3:
		store, err := s3storage.New(ctx, s3storage.Config{
			Bucket:    cfg.S3.Bucket,
			Region:    cfg.S3.Region,
			Endpoint:  cfg.S3.Endpoint,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
			Prefix:    cfg.Prefix,
		})
		if err != nil {
			return nil, fmt.Errorf("s3 blob store init failed: %w", err)
		}
		a.logger.Info("using S3 artifact sink", zap.String("bucket", cfg.S3.Bucket))
		return store, nil
	case config.BackendLocal:
		store, err := localstorage.New(localstorage.Config{BaseDir: cfg.Local.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		a.logger.Info("using local artifact sink", zap.String("path", cfg.Local.BaseDir))
		return store, nil
	default:
		a.logger.Info("using in-memory artifact sink")
		return memorystorage.NewBlobStore(), nil
	}
}

func (a *App) setupPublisher(ctx context.Context) (novel.Publisher, error) {
	if !a.cfg.PubSub.Enabled {
		a.logger.Info("pubsub disabled, logging job notifications")
		return logpublisher.New(a.logger.Named("notifications")), nil
	}
	pub, err := gcppublisher.New(ctx, gcppublisher.Config{
		ProjectID: a.cfg.PubSub.ProjectID,
		TopicID:   a.cfg.PubSub.TopicID,
	})
	if err != nil {
		return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	a.pubsub = pub
	a.logger.Info("pubsub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicID),
	)
	return pub, nil
}

func (a *App) setupProgress(reg prometheus.Registerer) (progress.Emitter, error) {
	promSink, err := progresssinks.NewPrometheusSink(reg)
	if err != nil {
		return nil, fmt.Errorf("progress metrics init failed: %w", err)
	}
	a.hub = progress.NewHub(progress.Config{Logger: a.logger.Named("progress_hub")},
		progresssinks.NewLogSink(a.logger.Named("progress")),
		promSink,
	)
	return a.hub, nil
}
