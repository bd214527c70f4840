// Package app builds the long-lived services a crawl run depends on and
// orchestrates the run itself.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/JakeFAU/storefront-crawler/internal/config"
	"github.com/JakeFAU/storefront-crawler/internal/sink"
	"github.com/JakeFAU/storefront-crawler/internal/sink/jsonl"
	memorysink "github.com/JakeFAU/storefront-crawler/internal/sink/memory"
	pgsink "github.com/JakeFAU/storefront-crawler/internal/sink/postgres"
	pubsubsink "github.com/JakeFAU/storefront-crawler/internal/sink/pubsub"
	"github.com/JakeFAU/storefront-crawler/internal/state"
	gcsstate "github.com/JakeFAU/storefront-crawler/internal/state/gcs"
	localstate "github.com/JakeFAU/storefront-crawler/internal/state/local"
	memorystate "github.com/JakeFAU/storefront-crawler/internal/state/memory"
	redisstate "github.com/JakeFAU/storefront-crawler/internal/state/redis"
)

// App holds the shared services for one process: the state store, the
// output sink and the cloud clients behind them.
type App struct {
	logger  *zap.Logger
	store   state.Store
	sink    sink.Sink
	closers []io.Closer
}

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// State returns the configured state store.
func (a *App) State() state.Store { return a.store }

// Sink returns the configured output sink.
func (a *App) Sink() sink.Sink { return a.sink }

// New initializes the providers selected in cfg. Client options are passed
// to the Google Cloud clients, which lets tests point them at emulators.
func New(ctx context.Context, cfg config.Config, runID string, logger *zap.Logger, opts ...option.ClientOption) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{logger: logger}
	var err error
	if a.store, err = a.setupState(ctx, cfg.State, opts); err != nil {
		a.Close()
		return nil, err
	}
	if a.sink, err = a.setupSink(ctx, cfg.Sink, runID, opts); err != nil {
		a.Close()
		return nil, err
	}
	logger.Info("application services initialized",
		zap.String("state_provider", cfg.State.Provider),
		zap.String("sink_provider", cfg.Sink.Provider),
	)
	return a, nil
}

func (a *App) setupState(ctx context.Context, cfg config.StateConfig, opts []option.ClientOption) (state.Store, error) {
	switch cfg.Provider {
	case "memory":
		a.logger.Info("using in-memory state store")
		return memorystate.New(), nil
	case "local", "":
		a.logger.Info("using local state store", zap.String("dir", cfg.Dir))
		store, err := localstate.New(localstate.Config{BaseDir: cfg.Dir})
		if err != nil {
			return nil, fmt.Errorf("local state store init failed: %w", err)
		}
		return store, nil
	case "gcs":
		if cfg.GCSBucket == "" {
			return nil, &config.Error{Field: "state.gcsBucket", Reason: "required for the gcs provider"}
		}
		client, err := storage.NewClient(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		a.closers = append(a.closers, client)
		a.logger.Info("using GCS state store", zap.String("bucket", cfg.GCSBucket))
		store, err := gcsstate.New(client, gcsstate.Config{Bucket: cfg.GCSBucket, Prefix: cfg.Prefix})
		if err != nil {
			return nil, fmt.Errorf("gcs state store init failed: %w", err)
		}
		return store, nil
	case "redis":
		prefix := cfg.Prefix
		if prefix != "" {
			prefix += ":"
		}
		store, err := redisstate.New(ctx, redisstate.Config{
			Address:  cfg.RedisAddress,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Prefix:   prefix,
		})
		if errors.Is(err, redisstate.ErrEmptyAddress) {
			return nil, &config.Error{Field: "state.redisAddress", Reason: "required for the redis provider"}
		}
		if err != nil {
			return nil, fmt.Errorf("redis state store init failed: %w", err)
		}
		a.closers = append(a.closers, store)
		a.logger.Info("using Redis state store", zap.String("address", cfg.RedisAddress))
		return store, nil
	default:
		return nil, &config.Error{Field: "state.provider", Reason: fmt.Sprintf("unknown provider %q", cfg.Provider)}
	}
}

func (a *App) setupSink(ctx context.Context, cfg config.SinkConfig, runID string, opts []option.ClientOption) (sink.Sink, error) {
	switch cfg.Provider {
	case "memory":
		a.logger.Info("using in-memory sink")
		return memorysink.New(), nil
	case "jsonl", "":
		a.logger.Info("using JSON lines sink", zap.String("path", cfg.Path))
		s, err := jsonl.New(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("jsonl sink init failed: %w", err)
		}
		return s, nil
	case "postgres":
		if cfg.PostgresDSN == "" {
			return nil, &config.Error{Field: "sink.postgresDsn", Reason: "required for the postgres provider"}
		}
		s, err := pgsink.New(ctx, pgsink.Config{DSN: cfg.PostgresDSN, Table: cfg.Table, RunID: runID})
		if err != nil {
			return nil, fmt.Errorf("postgres sink init failed: %w", err)
		}
		a.logger.Info("using Postgres sink", zap.String("table", cfg.Table))
		return s, nil
	case "pubsub":
		if cfg.PubSubProject == "" || cfg.PubSubTopic == "" {
			return nil, &config.Error{Field: "sink.pubsubTopic", Reason: "project and topic are required for the pubsub provider"}
		}
		client, err := pubsub.NewClient(ctx, cfg.PubSubProject, opts...)
		if err != nil {
			return nil, fmt.Errorf("pubsub client init failed: %w", err)
		}
		a.closers = append(a.closers, client)
		s, err := pubsubsink.New(client.Topic(cfg.PubSubTopic), runID)
		if err != nil {
			return nil, fmt.Errorf("pubsub sink init failed: %w", err)
		}
		a.logger.Info("using Pub/Sub sink",
			zap.String("project", cfg.PubSubProject),
			zap.String("topic", cfg.PubSubTopic),
		)
		return s, nil
	default:
		return nil, &config.Error{Field: "sink.provider", Reason: fmt.Sprintf("unknown provider %q", cfg.Provider)}
	}
}

// Close flushes the sink and releases every client.
func (a *App) Close() {
	if a.sink != nil {
		if err := a.sink.Close(); err != nil {
			a.logger.Warn("sink close failed", zap.Error(err))
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			a.logger.Warn("client close failed", zap.Error(err))
		}
	}
	a.closers = nil
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
}
