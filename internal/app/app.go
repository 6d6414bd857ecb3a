// Package app builds the harvester's long-lived services from configuration
// and holds them for the CLI commands.
package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-harvester/internal/clock/system"
	"github.com/JakeFAU/catalog-harvester/internal/config"
	"github.com/JakeFAU/catalog-harvester/internal/crawler"
	collyfetcher "github.com/JakeFAU/catalog-harvester/internal/fetcher/colly"
	"github.com/JakeFAU/catalog-harvester/internal/id/uuid"
	"github.com/JakeFAU/catalog-harvester/internal/metrics"
	"github.com/JakeFAU/catalog-harvester/internal/pipeline"
	"github.com/JakeFAU/catalog-harvester/internal/policy/ratelimit"
	pubmemory "github.com/JakeFAU/catalog-harvester/internal/publisher/memory"
	pubsubpublisher "github.com/JakeFAU/catalog-harvester/internal/publisher/pubsub"
	"github.com/JakeFAU/catalog-harvester/internal/storage"
	"github.com/JakeFAU/catalog-harvester/internal/storage/gcs"
	"github.com/JakeFAU/catalog-harvester/internal/storage/local"
	"github.com/JakeFAU/catalog-harvester/internal/storage/memory"
	"github.com/JakeFAU/catalog-harvester/internal/storage/postgres"
)

// App holds the services shared by every command.
type App struct {
	cfg      config.Config
	logger   *zap.Logger
	store    *storage.Staged
	ids      *uuid.Generator
	pipeline *pipeline.Pipeline
	closers  []closer
}

type closer struct {
	name  string
	close func() error
}

// New builds every service described by cfg. Anything opened before a failure
// is released before returning.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	a := &App{cfg: cfg, logger: logger, ids: uuid.New()}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	backend, err := a.newBackend(ctx)
	if err != nil {
		return nil, err
	}
	a.store, err = storage.NewStaged(backend, cfg.Storage.Prefix, logger.Named("storage"))
	if err != nil {
		return nil, fmt.Errorf("init staged store: %w", err)
	}

	pacer := ratelimit.New(ratelimit.Config{Delay: cfg.Crawler.Delay()})
	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent: cfg.HTTP.UserAgent,
		Timeout:   cfg.HTTP.Timeout(),
	}, crawler.NewFixedRetryPolicy(cfg.HTTP.MaxAttempts, cfg.HTTP.RetryDelay()), logger.Named("fetcher"))
	clock := system.New()

	discoverer, err := crawler.NewDiscoverer(fetcher, a.store, pacer, crawler.DiscovererConfig{
		BaseURL:   cfg.Crawler.BaseURL,
		Selectors: cfg.Crawler.Selectors,
	}, logger.Named("discovery"))
	if err != nil {
		return nil, fmt.Errorf("init link discovery: %w", err)
	}
	extractor, err := crawler.NewExtractor(fetcher, a.store, pacer, clock, crawler.ExtractorConfig{
		Selectors: cfg.Crawler.Selectors,
		Resume:    cfg.Crawler.Resume,
		TextMode:  crawler.TextMode(cfg.Crawler.FieldText),
	}, logger.Named("extractor"))
	if err != nil {
		return nil, fmt.Errorf("init product extraction: %w", err)
	}

	publisher, err := a.newPublisher(ctx)
	if err != nil {
		return nil, err
	}
	var sink pipeline.ProductSink
	if cfg.DB.Enabled() {
		products, err := a.newProductStore(ctx)
		if err != nil {
			return nil, err
		}
		sink = products
	}

	a.pipeline, err = pipeline.New(pipeline.Options{
		Discoverer: discoverer,
		Extractor:  extractor,
		Store:      a.store,
		Publisher:  publisher,
		Topic:      cfg.PubSub.TopicName,
		IDs:        a.ids,
		Clock:      clock,
		Sink:       sink,
		Logger:     logger.Named("pipeline"),
	})
	if err != nil {
		return nil, fmt.Errorf("init pipeline: %w", err)
	}
	logger.Info("application services initialized",
		zap.String("storage_backend", cfg.Storage.Backend),
		zap.Bool("postgres_export", cfg.DB.Enabled()),
		zap.Bool("pubsub_events", cfg.PubSub.ProjectID != ""),
		zap.String("user_agent", fetcher.UserAgent()),
	)
	return a, nil
}

func (a *App) newBackend(ctx context.Context) (storage.Backend, error) {
	switch a.cfg.Storage.Backend {
	case config.BackendMemory:
		return memory.NewBlobStore(), nil
	case config.BackendLocal:
		store, err := local.New(local.Config{BaseDir: a.cfg.Storage.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("init local storage: %w", err)
		}
		return store, nil
	case config.BackendGCS:
		gcsCfg := gcs.Config{Bucket: a.cfg.Storage.GCSBucket, Endpoint: a.cfg.Storage.GCSEndpoint}
		client, err := gcs.NewClient(ctx, gcsCfg)
		if err != nil {
			return nil, fmt.Errorf("init gcs storage: %w", err)
		}
		store, err := gcs.New(client, gcsCfg)
		if err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("init gcs storage: %w", err)
		}
		a.closers = append(a.closers, closer{name: "gcs client", close: store.Close})
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", a.cfg.Storage.Backend)
	}
}

func (a *App) newPublisher(ctx context.Context) (pipeline.Publisher, error) {
	if a.cfg.PubSub.ProjectID == "" {
		return pubmemory.New(), nil
	}
	client, err := pubsubpublisher.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("init pubsub: %w", err)
	}
	publisher, err := pubsubpublisher.New(client, a.cfg.PubSub.TopicName)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("init pubsub: %w", err)
	}
	a.closers = append(a.closers, closer{name: "pubsub client", close: publisher.Close})
	return publisher, nil
}

func (a *App) newProductStore(ctx context.Context) (*postgres.ProductStore, error) {
	products, err := postgres.NewProductStore(ctx, postgres.ProductStoreConfig{
		DSN:             a.cfg.DB.DSN,
		Table:           a.cfg.DB.Table,
		MaxConns:        a.cfg.DB.MaxConns,
		MinConns:        a.cfg.DB.MinConns,
		MaxConnLifetime: a.cfg.DB.MaxConnLifetime(),
	})
	if err != nil {
		return nil, fmt.Errorf("init postgres export: %w", err)
	}
	a.closers = append(a.closers, closer{name: "postgres pool", close: func() error {
		products.Close()
		return nil
	}})
	if err := products.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("init postgres export: %w", err)
	}
	return products, nil
}

// Config returns the configuration the App was built from.
func (a *App) Config() config.Config {
	return a.cfg
}

// Logger returns the root logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Store returns the staged artifact store.
func (a *App) Store() *storage.Staged {
	return a.store
}

// Pipeline returns the entry operations.
func (a *App) Pipeline() *pipeline.Pipeline {
	return a.pipeline
}

// Close releases every opened client in reverse order and flushes the logger.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.close(); err != nil {
			a.logger.Warn("error closing service", zap.String("service", c.name), zap.Error(err))
		}
	}
	a.closers = nil
	_ = a.logger.Sync()
}
