// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/mzazimhenga22/movieflix/internal/config"
	"github.com/mzazimhenga22/movieflix/internal/log"
)

// App owns the long-lived runtime lifecycle (config watcher, reload wiring)
// and delegates server management to Manager.
type App struct {
	logger       zerolog.Logger
	manager      Manager
	cfgHolder    *config.Holder
	onReload     func(config.AppConfig)
	reloadSignal os.Signal
}

// NewApp creates a new App orchestrator. onReload, if set, runs after every
// successful config swap.
func NewApp(logger zerolog.Logger, manager Manager, cfgHolder *config.Holder, onReload func(config.AppConfig)) *App {
	return &App{
		logger:       logger,
		manager:      manager,
		cfgHolder:    cfgHolder,
		onReload:     onReload,
		reloadSignal: syscall.SIGHUP,
	}
}

// Run starts all owned background subsystems and blocks until ctx is cancelled or a fatal error occurs.
func (a *App) Run(ctx context.Context) error {
	if a.manager == nil {
		return ErrMissingManager
	}

	g, ctx := errgroup.WithContext(ctx)

	if a.cfgHolder != nil {
		// Config watcher is best-effort: startup should not fail if watcher cannot be started.
		if err := a.cfgHolder.StartWatcher(ctx); err != nil {
			a.logger.Warn().Err(err).Str(log.FieldEvent, "config.watcher_start_failed").Msg("failed to start config watcher")
		}
		a.manager.RegisterShutdownHook("config_watcher", func(context.Context) error {
			a.cfgHolder.Stop()
			return nil
		})

		applyCh := make(chan config.AppConfig, 1)
		a.cfgHolder.RegisterListener(applyCh)
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case next := <-applyCh:
					a.apply(next)
				}
			}
		})

		if a.reloadSignal != nil {
			g.Go(func() error {
				hupChan := make(chan os.Signal, 1)
				signal.Notify(hupChan, a.reloadSignal)
				defer signal.Stop(hupChan)

				for {
					select {
					case <-ctx.Done():
						return nil
					case <-hupChan:
						a.logger.Info().
							Str(log.FieldEvent, "config.reload_signal").
							Str("signal", a.reloadSignal.String()).
							Msg("received reload signal, reloading config")

						if err := a.cfgHolder.Reload(ctx); err != nil {
							a.logger.Warn().
								Err(err).
								Str(log.FieldEvent, "config.reload_failed").
								Msg("config reload failed")
						}
					}
				}
			})
		}
	}

	// Main server lifecycle.
	g.Go(func() error {
		err := a.manager.Start(ctx)
		if err != nil {
			_ = a.manager.Shutdown(context.Background())
		}
		return err
	})

	return g.Wait()
}

// apply pushes reloadable settings into the running process.
func (a *App) apply(next config.AppConfig) {
	if level, err := zerolog.ParseLevel(next.LogLevel); err == nil && level != zerolog.GlobalLevel() {
		zerolog.SetGlobalLevel(level)
		a.logger.Info().Str(log.FieldEvent, "config.log_level").Str("level", level.String()).Msg("log level updated")
	}
	if a.onReload != nil {
		a.onReload(next)
	}
}
