package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"pressroom/api/internal/app"
	"pressroom/api/internal/cache"
	"pressroom/api/internal/config"
	"pressroom/api/internal/dedupe"
	"pressroom/api/internal/fetch"
	"pressroom/api/internal/logging"
	"pressroom/api/internal/metrics"
	"pressroom/api/internal/search"
	"pressroom/api/internal/store"
)

// stack is everything a command needs, built once from the environment.
type stack struct {
	cfg      config.Config
	logger   *log.Logger
	db       *sql.DB
	store    *store.SQLStore
	registry *prometheus.Registry
	cache    *cache.Manager
	search   *search.Service
	gate     *dedupe.Gate
	service  *app.Service
}

func openDatabase(ctx context.Context, cfg config.Config, logger *log.Logger) (*sql.DB, store.Dialect, error) {
	db, dialect, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, "", fmt.Errorf("database connection failed: %w", err)
	}
	if !cfg.Migrate {
		return db, dialect, nil
	}
	if err := migrate(ctx, db, dialect); err != nil {
		db.Close()
		return nil, "", err
	}
	logger.Debug("migrations applied", "dialect", dialect)
	return db, dialect, nil
}

func migrate(ctx context.Context, db *sql.DB, dialect store.Dialect) error {
	migrations, err := store.Migrations(dialect)
	if err != nil {
		return err
	}
	if err := store.ApplyMigrations(ctx, db, dialect, migrations); err != nil {
		return fmt.Errorf("migrations failed: %w", err)
	}
	return nil
}

func buildStack(ctx context.Context) (*stack, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	logger := logging.New(os.Stderr, cfg.LogLevel)

	db, dialect, err := openDatabase(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	dataStore := store.NewSQLStore(db, dialect)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	fetcher := fetch.New(dataStore,
		fetch.WithBatchSize(cfg.SyncBatchSize),
		fetch.WithPageRate(cfg.SyncPagesPerSecond),
		fetch.WithLogger(logger),
		fetch.WithMetrics(m),
	)
	manager, err := cache.New(fetcher, cfg.Collections,
		cache.WithTTL(cfg.CacheTTL),
		cache.WithLogger(logger),
		cache.WithMetrics(m),
	)
	if err != nil {
		db.Close()
		return nil, err
	}

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, cfg.Collections, logger)
	}
	var resultCache *search.ResultCache
	if strings.TrimSpace(cfg.RedisURL) != "" {
		resultCache, err = search.NewResultCache(cfg.RedisURL, cfg.SearchCacheTTL)
		if err != nil {
			// search results are only cached; run without Redis
			logger.Warn("redis unavailable, search results will not be cached", "err", err)
		}
	}
	searchService := search.NewService(meiliClient, dataStore, resultCache, logger)

	gate, err := dedupe.New(searchService, cfg.Dedup, dedupe.WithLogger(logger), dedupe.WithMetrics(m))
	if err != nil {
		searchService.Close()
		db.Close()
		return nil, err
	}

	return &stack{
		cfg:      cfg,
		logger:   logger,
		db:       db,
		store:    dataStore,
		registry: registry,
		cache:    manager,
		search:   searchService,
		gate:     gate,
		service:  app.New(cfg, dataStore, manager, gate, searchService, logger),
	}, nil
}

func (s *stack) Close() {
	s.gate.Close()
	s.search.Close()
	if err := s.db.Close(); err != nil {
		s.logger.Warn("closing database", "err", err)
	}
}
