// Package app builds and holds the long-lived services of the auditor, acting
// as its dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	gcpubsub "cloud.google.com/go/pubsub"
	gcstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-auditor/internal/aggregator"
	"github.com/JakeFAU/site-auditor/internal/analyzer"
	"github.com/JakeFAU/site-auditor/internal/audit"
	"github.com/JakeFAU/site-auditor/internal/clock"
	"github.com/JakeFAU/site-auditor/internal/config"
	"github.com/JakeFAU/site-auditor/internal/contentgap"
	"github.com/JakeFAU/site-auditor/internal/dispatcher"
	collyfetcher "github.com/JakeFAU/site-auditor/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/site-auditor/internal/fetcher/headless"
	"github.com/JakeFAU/site-auditor/internal/fetcher/hybrid"
	"github.com/JakeFAU/site-auditor/internal/hash/sha256"
	"github.com/JakeFAU/site-auditor/internal/headless/detector"
	"github.com/JakeFAU/site-auditor/internal/id/uuid"
	"github.com/JakeFAU/site-auditor/internal/pipeline"
	"github.com/JakeFAU/site-auditor/internal/policy/ratelimit"
	"github.com/JakeFAU/site-auditor/internal/policy/robots"
	pubsubpublisher "github.com/JakeFAU/site-auditor/internal/publisher/pubsub"
	queuememory "github.com/JakeFAU/site-auditor/internal/queue/memory"
	"github.com/JakeFAU/site-auditor/internal/scheduler"
	"github.com/JakeFAU/site-auditor/internal/sitemap"
	"github.com/JakeFAU/site-auditor/internal/storage/gcs"
	"github.com/JakeFAU/site-auditor/internal/storage/local"
	storagememory "github.com/JakeFAU/site-auditor/internal/storage/memory"
	"github.com/JakeFAU/site-auditor/internal/storage/postgres"
	"github.com/JakeFAU/site-auditor/internal/worker"
)

// App holds the shared services for one process.
type App struct {
	Config     config.Config
	Logger     *zap.Logger
	Store      audit.Store
	Pipeline   *pipeline.Pipeline
	Queue      *queuememory.Queue
	Dispatcher *dispatcher.Dispatcher
	IDs        audit.IDGenerator
	Clock      audit.Clock

	readiness []func(context.Context) error
	closers   []func()
}

// New wires every service from cfg. It fails fast when a configured backend
// cannot be reached.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{
		Config: cfg,
		Logger: logger,
		IDs:    uuid.New(),
		Clock:  clock.New(),
	}
	if err := a.build(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// Ready runs every readiness check.
func (a *App) Ready(ctx context.Context) error {
	for _, check := range a.readiness {
		if err := check(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Close releases services in reverse construction order.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func (a *App) build(ctx context.Context) error {
	cfg := a.Config

	store, err := a.buildStore(ctx)
	if err != nil {
		return err
	}
	a.Store = store

	blobs, err := a.buildBlobs(ctx)
	if err != nil {
		return err
	}

	publisher, err := a.buildPublisher(ctx)
	if err != nil {
		return err
	}

	httpTimeout := time.Duration(cfg.HTTP.TimeoutSeconds) * time.Second
	plain := collyfetcher.New(collyfetcher.Config{UserAgent: cfg.HTTP.UserAgent, Timeout: httpTimeout})
	var pages audit.Fetcher = plain
	if cfg.Headless.Enabled {
		headless, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       cfg.HeadlessParallel(),
			UserAgent:         cfg.HTTP.UserAgent,
			NavigationTimeout: time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
		})
		switch {
		case err != nil:
			a.Logger.Warn("headless fetcher init failed, using plain HTTP", zap.Error(err))
		case cfg.Headless.Mode == "auto":
			a.closers = append(a.closers, headless.Close)
			pages = hybrid.New(plain, headless, detector.NewHeuristic(cfg.Headless.MinTextBytes), a.Logger.Named("hybrid"))
		default:
			a.closers = append(a.closers, headless.Close)
			pages = headless
		}
	}

	var gaps audit.ContentGapAnalyzer
	if cfg.ContentGap.Enabled {
		client, err := contentgap.New(contentgap.Config{
			APIKey:  cfg.ContentGap.APIKey,
			BaseURL: cfg.ContentGap.BaseURL,
			Model:   cfg.ContentGap.Model,
			Timeout: time.Duration(cfg.ContentGap.TimeoutSeconds) * time.Second,
		}, a.Logger.Named("contentgap"))
		if err != nil {
			return fmt.Errorf("init content gap client: %w", err)
		}
		gaps = client
	}

	schedCfg := scheduler.Config{RetryBackoff: cfg.Audit.RetryBackoff(), Clock: a.Clock}
	if cfg.Crawler.RespectRobots {
		schedCfg.Robots = robots.New(robots.Config{UserAgent: cfg.HTTP.UserAgent, Timeout: httpTimeout}, a.Logger.Named("robots"))
	}
	if cfg.Crawler.RateLimitRPS > 0 {
		schedCfg.Limiter = ratelimit.New(ratelimit.Config{RPS: cfg.Crawler.RateLimitRPS, Burst: cfg.Crawler.RateLimitBurst})
	}

	rules := analyzer.New(analyzer.Config{
		MaxLinkChecks:        cfg.Analyzer.MaxLinkChecks,
		LinkCheckConcurrency: cfg.Analyzer.LinkCheckConcurrency,
		LinkCheckTimeout:     time.Duration(cfg.Analyzer.LinkCheckTimeoutMs) * time.Millisecond,
		UserAgent:            cfg.HTTP.UserAgent,
	}, sha256.New(), a.Logger.Named("analyzer"))

	a.Pipeline = pipeline.New(pipeline.Deps{
		Store: store,
		Resolver: sitemap.New(plain, sitemap.Config{
			MaxPages:      cfg.Audit.MaxPagesPerSitemap,
			MaxRawEntries: cfg.Audit.MaxRawEntries,
		}, a.Logger.Named("sitemap")),
		Crawler: scheduler.New(pages, rules, schedCfg, a.Logger.Named("scheduler")),
		Summarizer: aggregator.New(gaps, aggregator.Config{
			PartialThreshold:  cfg.Audit.PartialThresholdRatio,
			ContentGapTimeout: time.Duration(cfg.ContentGap.TimeoutSeconds) * time.Second,
		}, a.Logger.Named("aggregator")),
		Blobs:     blobs,
		Publisher: publisher,
	}, pipeline.Config{
		Crawl: scheduler.Options{
			Concurrency:     cfg.Audit.Concurrency,
			PerPageTimeout:  cfg.Audit.PerPageTimeout(),
			OverallDeadline: cfg.Audit.OverallDeadline(),
		},
		ReportPrefix: cfg.Storage.Prefix,
		NotifyTopic:  cfg.PubSub.TopicName,
	}, a.Logger.Named("pipeline"))

	a.Queue = queuememory.NewQueue(cfg.Runner.QueueDepth)
	a.closers = append(a.closers, a.Queue.Close)
	workers := make([]*worker.Worker, 0, cfg.Runner.Workers)
	for i := 0; i < cfg.Runner.Workers; i++ {
		workers = append(workers, worker.New(i, a.Queue, a.Pipeline, store, a.Logger.Named("worker")))
	}
	a.Dispatcher = dispatcher.New(a.Queue, workers, store, a.Logger.Named("dispatcher"))
	return nil
}

func (a *App) buildStore(ctx context.Context) (audit.Store, error) {
	cfg := a.Config.DB
	if cfg.DSN == "" {
		a.Logger.Info("using in-memory audit store")
		return storagememory.NewAuditStore(a.Clock), nil
	}
	store, err := postgres.NewAuditStore(ctx, postgres.Config{DSN: cfg.DSN, MaxConns: int32(cfg.MaxConns)})
	if err != nil {
		return nil, fmt.Errorf("init postgres store: %w", err)
	}
	a.closers = append(a.closers, store.Close)
	if err := store.EnsureSchema(ctx); err != nil {
		return nil, err
	}
	a.readiness = append(a.readiness, store.Ping)
	a.Logger.Info("using postgres audit store")
	return store, nil
}

func (a *App) buildBlobs(ctx context.Context) (audit.BlobStore, error) {
	cfg := a.Config.Storage
	switch cfg.Backend {
	case "memory":
		return storagememory.NewBlobStore(), nil
	case "local":
		store, err := local.New(local.Config{BaseDir: cfg.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("init local blob store: %w", err)
		}
		return store, nil
	case "gcs":
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("init gcs client: %w", err)
		}
		a.closers = append(a.closers, func() {
			if err := client.Close(); err != nil {
				a.Logger.Warn("close gcs client", zap.Error(err))
			}
		})
		store, err := gcs.New(client, gcs.Config{Bucket: cfg.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("init gcs blob store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.Backend)
	}
}

// buildPublisher returns nil when no topic is configured; the pipeline then
// skips notifications.
func (a *App) buildPublisher(ctx context.Context) (audit.Publisher, error) {
	cfg := a.Config.PubSub
	if cfg.TopicName == "" {
		return nil, nil
	}
	if cfg.ProjectID == "" {
		return nil, errors.New("pubsub.project_id is required")
	}
	client, err := gcpubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("init pubsub client: %w", err)
	}
	publisher, err := pubsubpublisher.New(client)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	a.closers = append(a.closers, func() {
		publisher.Close()
		if err := client.Close(); err != nil {
			a.Logger.Warn("close pubsub client", zap.Error(err))
		}
	})
	a.Logger.Info("publishing audit notifications", zap.String("topic", cfg.TopicName))
	return publisher, nil
}
