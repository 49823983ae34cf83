package main

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/LinSwanSaung/clinicinformationsystem-sub006/internal/clock"
	"github.com/LinSwanSaung/clinicinformationsystem-sub006/internal/config"
	"github.com/LinSwanSaung/clinicinformationsystem-sub006/internal/platform/db"
	"github.com/LinSwanSaung/clinicinformationsystem-sub006/internal/queue"
	"github.com/LinSwanSaung/clinicinformationsystem-sub006/internal/settings"
	"github.com/LinSwanSaung/clinicinformationsystem-sub006/internal/store"
	"github.com/LinSwanSaung/clinicinformationsystem-sub006/internal/store/memory"
	"github.com/LinSwanSaung/clinicinformationsystem-sub006/internal/store/postgres"
)

// app is everything a subcommand needs, built from config.
type app struct {
	store        store.Store
	settings     *settings.Cache
	orchestrator *queue.Orchestrator

	pool  *pgxpool.Pool
	redis *redis.Client
}

func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, error) {
	rt := &app{}

	switch cfg.StoreDriver {
	case config.DriverMemory:
		rt.store = memory.NewStore()
		logger.Warn().Msg("using in-memory store, state is lost on exit")
	default:
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return nil, err
		}
		rt.pool = pool
		rt.store = postgres.NewStore(pool)
		logger.Info().Msg("connected to database")
	}

	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		rt.redis = redis.NewClient(opts)
		if err := rt.redis.Ping(ctx).Err(); err != nil {
			logger.Warn().Err(err).Msg("redis unreachable, settings cache stays process-local")
			_ = rt.redis.Close()
			rt.redis = nil
		}
	}

	systemClock := clock.New()
	rt.settings = settings.NewCache(rt.store, settings.Options{
		Defaults: cfg.DefaultSettings(),
		TTL:      cfg.SettingsCacheTTL(),
		Clock:    systemClock,
		Redis:    rt.redis,
		Logger:   logger,
	})
	rt.orchestrator = queue.NewOrchestrator(rt.store, clock.NewCalendar(systemClock), rt.settings, logger, queue.Config{
		MaxAttempts: cfg.TransitionMaxAttempts,
		BatchSize:   cfg.ReconcileBatchSize,
	})
	return rt, nil
}

func (rt *app) Close() {
	if rt.redis != nil {
		_ = rt.redis.Close()
	}
	if rt.pool != nil {
		rt.pool.Close()
	}
}
