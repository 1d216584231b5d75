// Package server is the composition root: it builds the pipeline stages,
// stores and HTTP surface from configuration.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/listing-crawler/internal/api"
	"github.com/JakeFAU/listing-crawler/internal/changes"
	"github.com/JakeFAU/listing-crawler/internal/clock/system"
	"github.com/JakeFAU/listing-crawler/internal/config"
	"github.com/JakeFAU/listing-crawler/internal/crawler"
	"github.com/JakeFAU/listing-crawler/internal/dispatcher"
	collyfetcher "github.com/JakeFAU/listing-crawler/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/listing-crawler/internal/fetcher/headless"
	"github.com/JakeFAU/listing-crawler/internal/hash/sha256"
	"github.com/JakeFAU/listing-crawler/internal/headless/detector"
	"github.com/JakeFAU/listing-crawler/internal/id/uuid"
	"github.com/JakeFAU/listing-crawler/internal/language"
	"github.com/JakeFAU/listing-crawler/internal/metrics"
	"github.com/JakeFAU/listing-crawler/internal/parser"
	"github.com/JakeFAU/listing-crawler/internal/policy/ratelimit"
	gcppublisher "github.com/JakeFAU/listing-crawler/internal/publisher/pubsub"
	"github.com/JakeFAU/listing-crawler/internal/requeue"
	"github.com/JakeFAU/listing-crawler/internal/scheduler"
	gcsstorage "github.com/JakeFAU/listing-crawler/internal/storage/gcs"
	localstorage "github.com/JakeFAU/listing-crawler/internal/storage/local"
	pgstore "github.com/JakeFAU/listing-crawler/internal/storage/postgres"
	"github.com/JakeFAU/listing-crawler/internal/telemetry"
	"github.com/JakeFAU/listing-crawler/internal/worker"
)

// Version is reported in traces. It is overridden at link time.
var Version = "dev"

// App holds the shared dependencies of every command.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	pool      *pgxpool.Pool
	Store     *pgstore.Store
	Blooms    *pgstore.BloomStore
	Scheduler *scheduler.Scheduler
	Clock     crawler.Clock
	IDs       crawler.IDGenerator

	closers []func(context.Context)
}

// Build connects to the database and wires the stores and scheduler. Stage
// specific collaborators are built lazily by the stage constructors.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()

	if cfg.DB.MigrateOnStart {
		if err := Migrate(cfg.DB.DSN, logger); err != nil {
			return nil, err
		}
	}

	pool, err := pgstore.Connect(ctx, pgstore.PoolConfig{
		DSN:             cfg.DB.DSN,
		MaxConns:        int32(cfg.DB.MaxConns),
		MinConns:        int32(cfg.DB.MinConns),
		MaxConnLifetime: time.Duration(cfg.DB.MaxConnLifetimeMinutes) * time.Minute,
	})
	if err != nil {
		return nil, fmt.Errorf("database init failed: %w", err)
	}
	app := &App{cfg: cfg, logger: logger, pool: pool, Clock: system.New(), IDs: uuid.New()}
	app.closers = append(app.closers, func(context.Context) { pool.Close() })

	tp, err := telemetry.InitTracerProvider(ctx, telemetry.Config{ServiceName: "listing-crawler", Version: Version})
	if err != nil {
		app.Close(ctx)
		return nil, fmt.Errorf("tracer init failed: %w", err)
	}
	app.closers = append(app.closers, func(ctx context.Context) {
		if err := tp.Shutdown(ctx); err != nil {
			logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	})

	app.Store, err = pgstore.NewStore(pool)
	if err != nil {
		app.Close(ctx)
		return nil, fmt.Errorf("store init failed: %w", err)
	}
	app.Blooms, err = pgstore.NewBloomStore(pool, pgstore.BloomDefaults{
		Capacity:  uint(cfg.Bloom.DefaultCapacity),
		ErrorRate: cfg.Bloom.DefaultErrorRate,
	})
	if err != nil {
		app.Close(ctx)
		return nil, fmt.Errorf("bloom store init failed: %w", err)
	}
	app.Scheduler, err = scheduler.New(app.Store, scheduler.Policy{
		RevisitInterval:    cfg.RevisitInterval(),
		MaxRetries:         cfg.Scheduler.MaxRetries,
		RetryBackoff:       cfg.RetryBackoff(),
		StaleAfter:         cfg.StaleAfter(),
		DiscoveredPriority: cfg.Scheduler.DiscoveredPriority,
	}, app.Clock, app.IDs, logger.Named("scheduler"))
	if err != nil {
		app.Close(ctx)
		return nil, fmt.Errorf("scheduler init failed: %w", err)
	}
	logger.Info("application dependencies built",
		zap.Int("batch_size", cfg.Scheduler.BatchSize),
		zap.String("storage_backend", cfg.Storage.Backend),
	)
	return app, nil
}

// Migrate applies every pending schema migration.
func Migrate(dsn string, logger *zap.Logger) error {
	m, err := pgstore.NewMigrator(dsn)
	if err != nil {
		return fmt.Errorf("migrator init failed: %w", err)
	}
	defer func() {
		if cerr := m.Close(); cerr != nil {
			logger.Warn("migrator close failed", zap.Error(cerr))
		}
	}()
	changed, err := m.Up()
	if err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	logger.Info("migrations applied", zap.Bool("changed", changed))
	return nil
}

// Close releases every resource in reverse order of acquisition.
func (a *App) Close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i](ctx)
	}
	a.closers = nil
}

// FetchWorker builds the scrape stage.
func (a *App) FetchWorker(ctx context.Context) (*worker.Worker, error) {
	archive, err := a.archive(ctx)
	if err != nil {
		return nil, err
	}

	deps := worker.Deps{
		Scheduler: a.Scheduler,
		Results:   a.Store,
		Probe: collyfetcher.New(collyfetcher.Config{
			UserAgent:     a.cfg.Fetch.UserAgent,
			RespectRobots: a.cfg.Fetch.RespectRobots,
			Timeout:       a.cfg.FetchTimeout(),
		}),
		Language: language.NewDetector(),
		Limiter:  ratelimit.New(ratelimit.Config{Delay: time.Duration(a.cfg.Fetch.DelaySeconds) * time.Second}),
		Clock:    a.Clock,
		IDs:      a.IDs,
	}
	if archive != nil {
		deps.Archive = archive
		deps.Hasher = sha256.New()
	}
	if a.cfg.Headless.Enabled {
		headless, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       a.cfg.Headless.MaxParallel,
			UserAgent:         a.cfg.Fetch.UserAgent,
			NavigationTimeout: time.Duration(a.cfg.Headless.NavTimeoutSec) * time.Second,
		})
		if err != nil {
			return nil, fmt.Errorf("headless fetcher init failed: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) { headless.Close() })
		deps.Headless = headless
		deps.Detector = detector.NewHeuristic(detector.Config{
			MinTextChars: a.cfg.Headless.PromotionThresh,
			Always:       a.cfg.Headless.Always,
		})
		a.logger.Info("headless rendering enabled", zap.Int("max_parallel", a.cfg.Headless.MaxParallel))
	}

	w, err := worker.New(deps, worker.Config{
		BatchSize:     a.cfg.Scheduler.BatchSize,
		Concurrency:   a.cfg.Fetch.Concurrency,
		FetchTimeout:  a.cfg.FetchTimeout(),
		ArchivePrefix: a.cfg.Storage.Prefix,
		ContentType:   a.cfg.Storage.ContentType,
	}, a.logger.Named("scrape"))
	if err != nil {
		return nil, fmt.Errorf("scrape worker init failed: %w", err)
	}
	return w, nil
}

func (a *App) archive(ctx context.Context) (crawler.BlobStore, error) {
	switch a.cfg.Storage.Backend {
	case config.StorageGCS:
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) {
			if err := client.Close(); err != nil {
				a.logger.Warn("gcs client close failed", zap.Error(err))
			}
		})
		store, err := gcsstorage.New(client, gcsstorage.Config{Bucket: a.cfg.Storage.Bucket})
		if err != nil {
			return nil, fmt.Errorf("gcs archive init failed: %w", err)
		}
		a.logger.Info("archiving pages to gcs", zap.String("bucket", a.cfg.Storage.Bucket))
		return store, nil
	case config.StorageLocal:
		store, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Storage.Local.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local archive init failed: %w", err)
		}
		a.logger.Info("archiving pages locally", zap.String("path", a.cfg.Storage.Local.BaseDir))
		return store, nil
	default:
		a.logger.Info("page archiving disabled")
		return nil, nil
	}
}

// ParseWorker builds the extraction stage.
func (a *App) ParseWorker() (*parser.Worker, error) {
	names := a.cfg.Parser.AddressFilters
	gazetteer := parser.NewGazetteer(a.Blooms, parser.FilterNames{
		PostCodes:      names.PostCodes,
		Municipalities: names.Municipalities,
		Streets:        names.Streets,
	}, a.cfg.FilterRefresh(), a.Clock, a.logger.Named("gazetteer"))

	q := a.cfg.Quality
	w, err := parser.New(parser.Deps{
		Results:   a.Store,
		Depths:    a.Store,
		Enqueuer:  a.Scheduler,
		Gazetteer: gazetteer,
		Deduper:   a.Blooms,
		Clock:     a.Clock,
		IDs:       a.IDs,
	}, parser.Config{
		DefaultMaxDepth:  a.cfg.Parser.DefaultMaxDepth,
		DiscoveredFilter: a.cfg.Parser.DiscoveredFilter,
		Weights: parser.Weights{
			Emails:      q.Emails,
			Phones:      q.Phones,
			CompanyName: q.CompanyName,
			OrgNum:      q.OrgNum,
			SocialMedia: q.SocialMedia,
			Structured:  q.Structured,
			Addresses:   q.Addresses,
			Max:         q.Max,
		},
	}, a.logger.Named("parse"))
	if err != nil {
		return nil, fmt.Errorf("parse worker init failed: %w", err)
	}
	return w, nil
}

// ChangeDetector builds the change-detection stage and its notification sinks.
func (a *App) ChangeDetector(ctx context.Context) (*changes.Detector, error) {
	var sinks []changes.Notifier
	if a.cfg.Changes.WebhookURL != "" {
		webhook, err := changes.NewWebhookNotifier(a.cfg.Changes.WebhookURL, a.cfg.WebhookTimeout())
		if err != nil {
			return nil, fmt.Errorf("webhook init failed: %w", err)
		}
		sinks = append(sinks, webhook)
	}
	if a.cfg.PubSub.ProjectID != "" {
		client, err := pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("pubsub client init failed: %w", err)
		}
		pub, err := gcppublisher.New(client.Topic(a.cfg.PubSub.TopicName))
		if err != nil {
			return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) {
			pub.Close()
			if err := client.Close(); err != nil {
				a.logger.Warn("pubsub client close failed", zap.Error(err))
			}
		})
		sinks = append(sinks, changes.NewTopicNotifier(pub))
		a.logger.Info("publishing changes to pubsub",
			zap.String("project", a.cfg.PubSub.ProjectID),
			zap.String("topic", a.cfg.PubSub.TopicName),
		)
	}
	if len(sinks) == 0 {
		a.logger.Warn("no change notification sink configured")
	}
	d, err := changes.NewDetector(a.Store, a.Clock, a.IDs, a.logger.Named("changes"), sinks...)
	if err != nil {
		return nil, fmt.Errorf("change detector init failed: %w", err)
	}
	return d, nil
}

// RequeueJob builds the periodic requeue.
func (a *App) RequeueJob() (*requeue.Job, error) {
	job, err := requeue.New(a.Store, a.Scheduler, a.Clock, requeue.Config{
		MinQuality: a.cfg.Requeue.MinQuality,
		MaxAge:     a.cfg.RevisitInterval(),
		Priority:   a.cfg.Requeue.Priority,
		Schedule:   a.cfg.Requeue.Schedule,
		RunOnStart: a.cfg.Requeue.RunOnStart,
	}, a.logger.Named("requeue"))
	if err != nil {
		return nil, fmt.Errorf("requeue job init failed: %w", err)
	}
	return job, nil
}

// APIServer builds the operations HTTP server.
func (a *App) APIServer() (*api.Server, error) {
	srv, err := api.NewServer(api.Deps{
		Queue:    a.Scheduler,
		Blooms:   a.Blooms,
		Listings: a.Store,
		DB:       a.Store,
		Clock:    a.Clock,
	}, api.Config{
		AuthEnabled: a.cfg.Auth.Enabled,
		APIKey:      a.cfg.Auth.APIKey,
	}, a.logger.Named("api"))
	if err != nil {
		return nil, fmt.Errorf("api server init failed: %w", err)
	}
	return srv, nil
}

// Loops returns the three polling loops of the pipeline.
func (a *App) Loops(ctx context.Context) ([]dispatcher.Loop, error) {
	scrape, err := a.FetchWorker(ctx)
	if err != nil {
		return nil, err
	}
	parse, err := a.ParseWorker()
	if err != nil {
		return nil, err
	}
	detect, err := a.ChangeDetector(ctx)
	if err != nil {
		return nil, err
	}
	backoff := config.PollDuration(a.cfg.Poll.ErrorBackoffSeconds)
	return []dispatcher.Loop{
		{Name: "scrape", Task: scrape, Idle: config.PollDuration(a.cfg.Poll.FetchIdleSeconds), ErrorBackoff: backoff},
		{Name: "parse", Task: parse, Idle: config.PollDuration(a.cfg.Poll.ParseIdleSeconds), ErrorBackoff: backoff},
		{Name: "changes", Task: detect, Idle: config.PollDuration(a.cfg.Poll.ChangesIdleSeconds), ErrorBackoff: backoff},
	}, nil
}

// Serve runs the pipeline loops, the requeue schedule and the HTTP server
// until ctx is canceled.
func (a *App) Serve(ctx context.Context) error {
	loops, err := a.Loops(ctx)
	if err != nil {
		return err
	}
	dispatch, err := dispatcher.New(a.logger.Named("dispatcher"), loops...)
	if err != nil {
		return fmt.Errorf("dispatcher init failed: %w", err)
	}
	job, err := a.RequeueJob()
	if err != nil {
		return err
	}
	apiServer, err := a.APIServer()
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		dispatch.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return job.Run(gctx)
	})
	g.Go(func() error {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutdown initiated")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("server shutdown error", zap.Error(err))
		}
		return nil
	})
	return g.Wait()
}
