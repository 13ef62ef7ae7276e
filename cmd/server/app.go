package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/jack/qr-redirect-service/internal/config"
	"github.com/jack/qr-redirect-service/internal/filter"
	"github.com/jack/qr-redirect-service/internal/geo"
	"github.com/jack/qr-redirect-service/internal/idgen"
	"github.com/jack/qr-redirect-service/internal/repository"
	"github.com/jack/qr-redirect-service/internal/scan"
	"github.com/jack/qr-redirect-service/internal/scheduler"
	"github.com/jack/qr-redirect-service/internal/service"
)

// app holds every long-lived dependency of a command.
type app struct {
	cfg        *config.Config
	logger     zerolog.Logger
	store      repository.Store
	redis      *repository.RedisRepository // nil when REDIS_ENABLED=false
	dispatcher *scheduler.ScanDispatcher
	service    *service.RedirectService

	closers []func() error
}

func openStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (repository.Store, error) {
	if cfg.Storage.Driver != "postgres" {
		store, err := repository.OpenGorm(&cfg.Storage)
		if err != nil {
			return nil, err
		}
		logger.Info().Str("driver", cfg.Storage.Driver).Msg("connected to database")
		return store, nil
	}

	pg, err := repository.NewPostgresRepository(ctx, &cfg.Postgres)
	if err != nil {
		return nil, err
	}
	if err := pg.Migrate(ctx, logger); err != nil {
		_ = pg.Close()
		return nil, err
	}
	logger.Info().Msg("connected to PostgreSQL")
	return pg, nil
}

func newGeoProvider(cfg *config.GeoConfig) (geo.Provider, func() error, error) {
	switch cfg.Provider {
	case "ipapi":
		return geo.NewHTTPProvider(cfg.Endpoint, cfg.Timeout), nil, nil
	case "maxmind":
		p, err := geo.NewMaxMindProvider(cfg.DatabasePath)
		if err != nil {
			return nil, nil, err
		}
		return p, p.Close, nil
	default:
		return nil, nil, nil
	}
}

// newApp wires storage, caches, geolocation and the scan pipeline. The
// dispatcher is started; Close stops it before closing storage.
func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	a.store = store
	a.closers = append(a.closers, store.Close)

	deps := service.Deps{Store: store, Logger: logger}

	var geoCache geo.Cache
	if cfg.Redis.Enabled {
		redisRepo, err := repository.NewRedisRepository(&cfg.Redis)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
		logger.Info().Msg("connected to Redis")
		a.redis = redisRepo
		a.closers = append(a.closers, redisRepo.Close)
		deps.RuleCache = redisRepo
		geoCache = redisRepo
	}

	provider, closeProvider, err := newGeoProvider(&cfg.Geo)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to open geo provider: %w", err)
	}
	if closeProvider != nil {
		a.closers = append(a.closers, closeProvider)
	}
	deps.Geo = geo.NewResolver(provider, geoCache, cfg.Geo.Timeout, cfg.Geo.CacheTTL, logger)

	ids, err := idgen.New(cfg.Snowflake.Node)
	if err != nil {
		a.Close()
		return nil, err
	}
	deps.IDs = ids
	deps.Recorder = scan.NewRecorder(store, ids, logger)
	deps.Filter = filter.NewCodeFilter(cfg.Bloom.Capacity, cfg.Bloom.FalsePositiveRate)

	a.dispatcher = scheduler.NewScanDispatcher(cfg.Scan.QueueSize, cfg.Scan.Workers, cfg.Scan.JobTimeout, logger)
	a.dispatcher.Start()
	deps.Dispatcher = a.dispatcher

	a.service = service.NewRedirectService(deps, cfg)
	if err := a.service.WarmFilter(ctx); err != nil {
		logger.Warn().Err(err).Msg("code filter not warmed")
	}

	return a, nil
}

// Close drains pending scan records, then releases connections in reverse order.
func (a *app) Close() {
	if a.dispatcher != nil {
		a.dispatcher.Stop()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Error().Err(err).Msg("close failed")
		}
	}
}
