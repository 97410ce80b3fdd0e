package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/STRATINT/feedwatch/internal/accounts"
	"github.com/STRATINT/feedwatch/internal/checkpoint"
	"github.com/STRATINT/feedwatch/internal/config"
	"github.com/STRATINT/feedwatch/internal/database"
	"github.com/STRATINT/feedwatch/internal/ingestion"
	"github.com/STRATINT/feedwatch/internal/logging"
	"github.com/STRATINT/feedwatch/internal/metrics"
	"github.com/STRATINT/feedwatch/internal/models"
	"github.com/STRATINT/feedwatch/internal/platform"
	"github.com/STRATINT/feedwatch/internal/server"
)

// app holds the components shared by every command.
type app struct {
	cfg       config.Config
	logger    *slog.Logger
	collector *metrics.Collector
	store     *accounts.Store
	pool      *accounts.Pool
	activator *platform.Activator
	fetcher   *ingestion.Fetcher
}

func newApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	collector, err := metrics.NewCollector()
	if err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}

	store := accounts.NewStore(cfg.Accounts.Path)
	records, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("load accounts: %w", err)
	}

	activator := platform.NewActivator(platform.Config{
		BaseURL:     cfg.Platform.BaseURL,
		GuestURL:    cfg.Platform.GuestURL,
		BearerToken: cfg.Platform.BearerToken,
		FetchCount:  cfg.Fetch.Count,
		Logger:      logger,
	})

	pool, err := accounts.NewPool(records, accounts.PoolConfig{
		MaxFailures: cfg.Accounts.MaxFailuresPerAccount,
		Activator:   activator,
		Observer:    collector,
		Logger:      logger,
	})
	if err != nil {
		return nil, fmt.Errorf("build account pool: %w", err)
	}

	strategy, err := accounts.ParseStrategy(cfg.Accounts.RotationStrategy)
	if err != nil {
		return nil, err
	}

	fetcher := ingestion.NewFetcher(pool, ingestion.FetcherConfig{
		Strategy: strategy,
		Policy: ingestion.RetryPolicy{
			MaxAttempts: cfg.Fetch.MaxRetries,
			BaseDelay:   cfg.Fetch.RetryDelay,
			MaxDelay:    cfg.Fetch.MaxRetryDelay,
		},
		FetchTimeout: cfg.Fetch.Timeout,
		Observer:     collector,
		Logger:       logger,
	})

	logger.Info("accounts loaded",
		"path", store.Path(),
		"total", pool.Len(),
		"enabled", pool.EnabledCount(),
		"healthy", pool.HealthyCount(),
		"strategy", strategy,
	)

	return &app{
		cfg:       cfg,
		logger:    logger,
		collector: collector,
		store:     store,
		pool:      pool,
		activator: activator,
		fetcher:   fetcher,
	}, nil
}

// resolveTargets maps the configured handles to tracked entities, keeping
// configuration order. Unknown handles are logged and dropped.
func (a *app) resolveTargets(ctx context.Context) ([]models.TrackedEntity, error) {
	resolved, err := a.fetcher.Resolve(ctx, a.cfg.Targets)
	if err != nil {
		return nil, err
	}

	var entities []models.TrackedEntity
	for _, handle := range a.cfg.Targets {
		e, ok := resolved[models.EntityKey(handle)]
		if !ok {
			a.logger.Warn("tracked handle could not be resolved, skipping", "handle", handle)
			continue
		}
		entities = append(entities, e)
	}
	if len(entities) == 0 {
		return nil, fmt.Errorf("none of the %d tracked handles could be resolved", len(a.cfg.Targets))
	}
	return entities, nil
}

// openCheckpoints opens the configured checkpoint backend and returns a
// health check for it.
func (a *app) openCheckpoints(ctx context.Context) (checkpoint.Store, server.HealthCheck, error) {
	cc := a.cfg.Checkpoint

	switch cc.Backend {
	case "postgres":
		url, err := database.BuildURL(database.URLConfig{
			URL:                    cc.DatabaseURL,
			InstanceConnectionName: cc.InstanceConnectionName,
			User:                   cc.DBUser,
			Password:               cc.DBPassword,
			Name:                   cc.DBName,
		})
		if err != nil {
			return nil, nil, err
		}
		a.logger.Info("connecting to database", "url", database.Redact(url))

		dbCfg := database.DefaultConfig()
		dbCfg.URL = url
		dbCfg.Logger = a.logger
		db, err := database.Connect(ctx, dbCfg)
		if err != nil {
			return nil, nil, err
		}
		if err := database.RunMigrations(ctx, db, a.logger); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("run migrations: %w", err)
		}
		check := func(ctx context.Context) error { return database.HealthCheck(ctx, db) }
		return checkpoint.NewPostgresStore(db), check, nil

	case "redis":
		store, err := checkpoint.NewRedisStore(cc.RedisURL, cc.RedisKey)
		if err != nil {
			return nil, nil, err
		}
		if err := store.Ping(ctx); err != nil {
			store.Close()
			return nil, nil, fmt.Errorf("redis ping: %w", err)
		}
		a.logger.Info("using redis checkpoint store", "key", cc.RedisKey)
		return store, store.Ping, nil

	default:
		a.logger.Info("using file checkpoint store", "path", cc.StateFile)
		return checkpoint.NewFileStore(cc.StateFile), nil, nil
	}
}
