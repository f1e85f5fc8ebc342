package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"linkrescue/internal/api"
	"linkrescue/internal/cache"
	"linkrescue/internal/checker"
	"linkrescue/internal/config"
	"linkrescue/internal/storage"
	"linkrescue/internal/storage/memory"
	"linkrescue/internal/storage/postgres"
	"linkrescue/internal/storage/sqlite"
)

// app holds the wired components shared by both subcommands.
type app struct {
	store    storage.Store
	cache    *cache.TimedCache
	throttle *checker.Throttle
	checker  *checker.Checker
	sweeper  *cache.Sweeper
	server   *api.Server
	logger   *slog.Logger
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	tc := cache.New(store, cache.Options{
		LivenessTTL: cfg.LivenessTTL.Duration,
		ArchiveTTL:  cfg.ArchiveTTL.Duration,
		Logger:      logger,
	})

	probe := checker.NewLivenessProbe(tc, checker.LivenessOptions{
		Timeout:   cfg.LivenessTimeout.Duration,
		PerHost:   cfg.LivenessPerHost,
		UserAgent: cfg.UserAgent,
		Logger:    logger,
	})

	throttle := checker.NewThrottle(cfg.ArchiveThrottleDelay.Duration,
		checker.WithRatePerMinute(cfg.ArchiveRatePerMinute),
		checker.WithThrottleLogger(logger.With("component", "throttle")),
	)
	transport := checker.NewHTTPTransport(cfg.ArchiveEndpoint,
		&http.Client{Timeout: 2 * cfg.ArchiveTimeout.Duration},
		cfg.UserAgent,
	)
	archive := checker.NewArchiveClient(tc, transport, throttle, checker.ArchiveOptions{
		Timeout:    cfg.ArchiveTimeout.Duration,
		FailureTTL: cfg.ArchiveFailureTTL.Duration,
		Logger:     logger,
	})

	chk := checker.New(probe, archive, checker.Options{
		Concurrency: cfg.LivenessConcurrency,
		MaxURLs:     cfg.MaxURLsPerRun,
		Logger:      logger,
	})

	handlers := api.NewHandlers(chk, tc, logger)
	return &app{
		store:    store,
		cache:    tc,
		throttle: throttle,
		checker:  chk,
		sweeper:  cache.NewSweeper(store, cfg.CacheSweepInterval.Duration, logger),
		server:   api.NewServer(cfg.HTTPPort, handlers, logger),
		logger:   logger,
	}, nil
}

func (a *app) close() {
	a.throttle.Close()
	if err := a.store.Close(); err != nil {
		a.logger.Warn("closing cache store", "error", err)
	}
}

func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage.Store, error) {
	logger.Info("opening cache store", "driver", cfg.CacheDriver)
	switch cfg.CacheDriver {
	case "memory":
		return memory.New(0), nil
	case "sqlite":
		s, err := sqlite.New(ctx, cfg.CacheURL)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize sqlite cache: %w", err)
		}
		return s, nil
	case "postgres":
		openCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		s, err := postgres.New(openCtx, cfg.CacheURL)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize postgres cache: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown cache driver %q", cfg.CacheDriver)
	}
}
