package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/davidschrooten/atlas-search-query/config"
	"github.com/davidschrooten/atlas-search-query/internal/api"
	"github.com/davidschrooten/atlas-search-query/internal/atlas"
	"github.com/davidschrooten/atlas-search-query/internal/cache"
	"github.com/davidschrooten/atlas-search-query/internal/content"
	"github.com/davidschrooten/atlas-search-query/internal/indexer"
	"github.com/davidschrooten/atlas-search-query/internal/logger"
	"github.com/davidschrooten/atlas-search-query/internal/metrics"
	"github.com/davidschrooten/atlas-search-query/internal/mongodb"
	"github.com/davidschrooten/atlas-search-query/internal/query"
	"github.com/davidschrooten/atlas-search-query/internal/search"
)

// documentStore is what both backends provide for queries, indexing and readiness.
type documentStore interface {
	query.Store
	indexer.Store
	api.Pinger
}

// app holds the components shared by every command.
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	store   documentStore
	indexes api.IndexManager
	indexer *indexer.Service
	redis   *redis.Client
	closers []func(context.Context) error
}

func newApp() (*app, error) {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logger.New(cfg.Logging.Env, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	metrics.Register()

	a := &app{cfg: cfg, logger: log}

	switch cfg.Search.Backend {
	case config.BackendLocal:
		engine, err := search.NewEngine(cfg.Search, cfg.MongoDB.Database, cfg.Indexes, log.Named("search"))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize search engine: %w", err)
		}
		a.store, a.indexes = engine, engine
		a.closers = append(a.closers, func(context.Context) error { return engine.Close() })
	default:
		client := mongodb.NewClient(cfg.MongoDB, log.Named("mongodb"))
		manager, err := atlas.NewClient(cfg.Atlas, cfg.MongoDB.Database, atlas.WithLogger(log.Named("atlas")))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize atlas client: %w", err)
		}
		a.store, a.indexes = client, manager
		a.closers = append(a.closers, client.Disconnect)
	}

	a.indexer = indexer.NewService(a.store, log.Named("indexer"))

	if cfg.Cache.Addr != "" {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Cache.Addr,
			Password: cfg.Cache.Password,
			DB:       cfg.Cache.DB,
		})
		a.closers = append(a.closers, func(context.Context) error { return a.redis.Close() })
	}

	return a, nil
}

// queries builds one query per configured index, keyed by index name.
func (a *app) queries() map[string]*query.Query {
	var store query.Store = a.store
	if a.redis != nil {
		store = cache.NewStore(a.store, a.redis, time.Duration(a.cfg.Cache.TTL)*time.Second, a.logger.Named("cache"))
	}

	queries := make(map[string]*query.Query, len(a.cfg.Indexes))
	for _, idx := range a.cfg.Indexes {
		domain := content.New(idx, a.logger)
		queries[idx.Name] = query.New(store, domain, query.WithIndex(idx.Name), query.WithLogger(a.logger.Named("query")))
	}
	return queries
}

func (a *app) close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			a.logger.Warn("failed to release resource", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}
