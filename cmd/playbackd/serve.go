// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/mzazimhenga22/movieflix/internal/api"
	"github.com/mzazimhenga22/movieflix/internal/cache"
	"github.com/mzazimhenga22/movieflix/internal/captions"
	"github.com/mzazimhenga22/movieflix/internal/config"
	"github.com/mzazimhenga22/movieflix/internal/daemon"
	"github.com/mzazimhenga22/movieflix/internal/health"
	"github.com/mzazimhenga22/movieflix/internal/log"
	"github.com/mzazimhenga22/movieflix/internal/platform/httpx"
	"github.com/mzazimhenga22/movieflix/internal/prefetch"
	"github.com/mzazimhenga22/movieflix/internal/proxy"
	"github.com/mzazimhenga22/movieflix/internal/resilience"
	"github.com/mzazimhenga22/movieflix/internal/resolver"
	"github.com/mzazimhenga22/movieflix/internal/resume"
	"github.com/mzazimhenga22/movieflix/internal/scrape"
	"github.com/mzazimhenga22/movieflix/internal/session"
	"github.com/mzazimhenga22/movieflix/internal/telemetry"
	"github.com/mzazimhenga22/movieflix/internal/version"
	"github.com/mzazimhenga22/movieflix/internal/watchparty/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the playback daemon",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runServe(ctx)
	},
}

func runServe(ctx context.Context) error {
	log.Configure(log.Config{Service: "playbackd", Version: version.Version})
	logger := log.WithComponent("daemon")

	loader, cfg, err := loadConfig()
	if err != nil {
		logger.Error().Err(err).Str(log.FieldEvent, "config.load_failed").Msg("failed to load configuration")
		return fmt.Errorf("load config: %w", err)
	}
	log.Configure(log.Config{Level: cfg.LogLevel, Service: "playbackd", Version: cfg.Version})
	logger = log.WithComponent("daemon")
	logger.Info().
		Str(log.FieldEvent, "daemon.starting").
		Str("version", version.Version).
		Str("commit", version.Commit).
		Str("config", loader.Path()).
		Msg("starting playbackd")

	if err := health.PerformStartupChecks(ctx, cfg); err != nil {
		return fmt.Errorf("startup checks: %w", err)
	}

	holder := config.NewHolder(cfg, loader)
	rt, err := buildServices(ctx, cfg, holder)
	if err != nil {
		rt.close(context.Background())
		return err
	}

	mgr, err := daemon.NewManager(daemon.ServerConfigFrom(cfg), daemon.Deps{
		Logger:         logger,
		APIHandler:     rt.server.Handler(),
		MetricsAddr:    cfg.API.MetricsAddr,
		MetricsHandler: promhttp.Handler(),
	})
	if err != nil {
		rt.close(context.Background())
		return fmt.Errorf("create daemon manager: %w", err)
	}
	// Hooks run in reverse, so the API closes before the stores it uses.
	for _, c := range rt.closers {
		mgr.RegisterShutdownHook(c.name, c.fn)
	}

	app := daemon.NewApp(logger, mgr, holder, nil)
	if err := app.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

type closer struct {
	name string
	fn   daemon.ShutdownHook
}

type services struct {
	server  *api.Server
	closers []closer
}

func (rt *services) onClose(name string, fn func(context.Context) error) {
	rt.closers = append(rt.closers, closer{name: name, fn: fn})
}

// close runs registered closers in reverse; used when startup fails before
// the manager owns them.
func (rt *services) close(ctx context.Context) {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		_ = rt.closers[i].fn(ctx)
	}
}

func closeFn(c io.Closer) func(context.Context) error {
	return func(context.Context) error { return c.Close() }
}

// buildServices wires every component from cfg. The result is never nil so
// partially built resources can be released on error.
func buildServices(ctx context.Context, cfg config.AppConfig, holder *config.Holder) (*services, error) {
	rt := &services{}
	logger := log.WithComponent("daemon")

	tp, err := telemetry.NewProvider(ctx, cfg.Telemetry)
	if err != nil {
		return rt, fmt.Errorf("init telemetry: %w", err)
	}
	rt.onClose("telemetry", tp.Shutdown)

	hm := health.NewManager(version.Version)
	client := httpx.NewClient(cfg.Resolver.Timeout)

	breakers := resilience.NewRegistry("resolver", cfg.Resolver.BreakerThreshold, cfg.Resolver.BreakerReset)
	hm.RegisterChecker(health.NewBreakerChecker(breakers))
	res := resolver.New(resolver.Config{
		Client:       client,
		UserAgent:    cfg.Resolver.UserAgent,
		MaxRedirects: cfg.Resolver.MaxRedirects,
		Breakers:     breakers,
		Logger:       log.WithComponent("resolver"),
	})

	c, err := cache.New(cache.Config{
		Backend:         cfg.Cache.Backend,
		TTL:             cfg.Cache.TTL,
		CleanupInterval: cfg.Cache.TTL / 2,
		Redis:           cfg.Cache.Redis,
	}, log.WithComponent("cache"))
	if err != nil {
		return rt, fmt.Errorf("init cache: %w", err)
	}
	if rc, ok := c.(*cache.RedisCache); ok {
		hm.RegisterChecker(health.NewPingChecker("cache_redis", rc.HealthCheck))
		rt.onClose("cache", closeFn(rc))
	}

	rooms, err := store.New(ctx, store.Config{
		Backend: cfg.Rooms.Backend,
		Redis:   cfg.Rooms.Redis,
		Mongo:   cfg.Rooms.Mongo,
		Logger:  log.WithComponent("rooms"),
	})
	if err != nil {
		return rt, fmt.Errorf("init room store: %w", err)
	}
	rt.onClose("rooms", closeFn(rooms))

	positions, err := resume.NewStore(cfg.Resume.Backend, cfg.DataDir)
	if err != nil {
		return rt, fmt.Errorf("init resume store: %w", err)
	}
	rt.onClose("resume", closeFn(positions))

	var prefetcher *prefetch.Prefetcher
	if cfg.Prefetch.Enabled {
		prefetcher = prefetch.New(prefetch.Config{
			Client:                client,
			Window:                cfg.Prefetch.Window,
			MaxSegments:           cfg.Prefetch.MaxSegments,
			Concurrency:           cfg.Prefetch.Concurrency,
			AggressiveWindow:      cfg.Prefetch.AggressiveWindow,
			AggressiveMaxSegments: cfg.Prefetch.AggressiveMaxSegments,
			AggressiveConcurrency: cfg.Prefetch.AggressiveConcurrency,
			MaxInflight:           cfg.Prefetch.MaxInflight,
			RequestsPerSecond:     cfg.Prefetch.RequestsPerSecond,
			Logger:                log.WithComponent("prefetch"),
		})
	}

	var proxyHandler *proxy.Handler
	if cfg.Proxy.Enabled {
		key := []byte(cfg.Proxy.Secret)
		if len(key) == 0 {
			key = make([]byte, 32)
			if _, err := rand.Read(key); err != nil {
				return rt, fmt.Errorf("generate proxy key: %w", err)
			}
			logger.Warn().Str(log.FieldEvent, "proxy.ephemeral_key").
				Msg("no proxy.secret configured; proxy URLs are valid for this process only")
		}
		proxyHandler, err = proxy.New(proxy.Config{
			PublicBase:          cfg.Proxy.BaseURL,
			Key:                 key,
			AllowPrivateTargets: cfg.Proxy.AllowPrivateTargets,
			Logger:              log.WithComponent("proxy"),
		})
		if err != nil {
			return rt, fmt.Errorf("init proxy: %w", err)
		}
	}

	cueLoader := captions.NewLoader(captions.LoaderConfig{
		Client: client,
		Cache:  c,
		TTL:    cfg.Cache.TTL,
		Logger: log.WithComponent("captions"),
	})

	var template *session.Config
	if cfg.Scrape.Endpoint != "" {
		scraper, err := scrape.NewClient(scrape.Config{
			Endpoint: cfg.Scrape.Endpoint,
			Client:   httpx.NewClient(cfg.Scrape.Timeout),
			Logger:   log.WithComponent("scrape"),
		})
		if err != nil {
			return rt, fmt.Errorf("init scrape client: %w", err)
		}
		logger.Info().Str("endpoint", maskURL(cfg.Scrape.Endpoint)).Msg("remote playback sessions enabled")
		template = &session.Config{
			Scraper:    scraper,
			Resolver:   res,
			Client:     client,
			Prefetcher: prefetcher,
			PrefetchSchedule: prefetch.SchedulerConfig{
				MinInterval:        cfg.Prefetch.MinInterval,
				MaxInterval:        cfg.Prefetch.MaxInterval,
				AggressiveInterval: cfg.Prefetch.AggressiveInterval,
			},
			Captions:    cueLoader,
			Resume:      positions,
			SourceOrder: cfg.Scrape.SourceOrder,
			Tuning:      session.DefaultTuning(),
		}
		if proxyHandler != nil {
			template.ProxyBase = proxyHandler.Base()
			template.ProxyKey = proxyHandler.Key()
		}
	} else {
		logger.Warn().Str(log.FieldEvent, "sessions.disabled").Msg("no scrape endpoint configured; remote playback sessions disabled")
	}

	if cfg.API.Token == "" {
		logger.Warn().Str(log.FieldEvent, "auth.disabled").Msg("no API token configured; /api routes are unauthenticated")
	}

	srv, err := api.New(api.Config{
		RateLimit:      cfg.API.RateLimit,
		Token:          cfg.API.Token,
		TracingService: cfg.Telemetry.ServiceName,
	}, api.Deps{
		Resolver:        res,
		Client:          client,
		Captions:        cueLoader,
		Rooms:           rooms,
		Resume:          positions,
		Proxy:           proxyHandler,
		SessionTemplate: template,
		Settings:        holder.Settings,
		Health:          hm,
		Logger:          log.WithComponent("api"),
	})
	if err != nil {
		return rt, fmt.Errorf("init api: %w", err)
	}
	rt.server = srv
	rt.onClose("api", func(context.Context) error {
		srv.Close()
		return nil
	})
	return rt, nil
}
