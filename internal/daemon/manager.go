// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package daemon runs the playbackd HTTP listeners and orders shutdown.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mzazimhenga22/movieflix/internal/log"
)

const (
	defaultShutdownTimeout = 10 * time.Second
	// stopBudget bounds the shutdown that follows a signal or listener failure.
	stopBudget = 30 * time.Second
)

// ShutdownHook releases a resource during graceful shutdown.
// Hooks run in reverse registration order.
type ShutdownHook func(ctx context.Context) error

// Manager owns the listeners of one daemon process.
type Manager interface {
	// Start binds every listener and blocks until ctx ends or one fails.
	Start(ctx context.Context) error
	// Shutdown drains the listeners, then runs the hooks.
	Shutdown(ctx context.Context) error
	RegisterShutdownHook(name string, hook ShutdownHook)
}

// endpoint is one bound HTTP server.
type endpoint struct {
	name string
	srv  *http.Server
	ln   net.Listener
}

type namedHook struct {
	name string
	hook ShutdownHook
}

type manager struct {
	serverCfg ServerConfig
	deps      Deps
	logger    zerolog.Logger

	mu        sync.Mutex
	started   bool
	stopping  bool
	endpoints []*endpoint
	hooks     []namedHook
}

// NewManager validates deps and returns an unstarted Manager.
func NewManager(serverCfg ServerConfig, deps Deps) (Manager, error) {
	if err := deps.Validate(); err != nil {
		return nil, fmt.Errorf("invalid dependencies: %w", err)
	}
	if serverCfg.ShutdownTimeout <= 0 {
		serverCfg.ShutdownTimeout = defaultShutdownTimeout
	}
	return &manager{
		serverCfg: serverCfg,
		deps:      deps,
		logger:    deps.Logger.With().Str(log.FieldComponent, "manager").Logger(),
	}, nil
}

// Start binds the API listener (and the metrics listener when configured)
// before serving, so address errors are returned synchronously.
func (m *manager) Start(ctx context.Context) error {
	if ctx == nil {
		return errors.New("start context is nil")
	}
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return errors.New("manager already started")
	}
	m.started = true
	m.mu.Unlock()

	api := &http.Server{
		Handler:           m.deps.APIHandler,
		ReadTimeout:       m.serverCfg.ReadTimeout,
		ReadHeaderTimeout: m.serverCfg.ReadTimeout / 2,
		WriteTimeout:      m.serverCfg.WriteTimeout,
		IdleTimeout:       m.serverCfg.IdleTimeout,
		MaxHeaderBytes:    m.serverCfg.MaxHeaderBytes,
	}
	if err := m.bind("api", m.serverCfg.ListenAddr, api); err != nil {
		return err
	}
	if m.deps.MetricsHandler != nil && m.deps.MetricsAddr != "" {
		metricsSrv := &http.Server{
			Handler:           m.deps.MetricsHandler,
			ReadHeaderTimeout: m.serverCfg.ReadTimeout / 2,
		}
		if err := m.bind("metrics", m.deps.MetricsAddr, metricsSrv); err != nil {
			m.closeListeners()
			return err
		}
	}

	errCh := make(chan error, len(m.endpoints))
	for _, ep := range m.endpoints {
		go m.serve(ep, errCh)
	}

	m.logger.Info().
		Str(log.FieldEvent, "daemon.started").
		Str("listen", m.serverCfg.ListenAddr).
		Dur("shutdown_timeout", m.serverCfg.ShutdownTimeout).
		Msg("playbackd listening")

	// Shutdown runs on a detached budget so it finishes after ctx is cancelled.
	var cause error
	select {
	case cause = <-errCh:
		m.logger.Error().Err(cause).Str(log.FieldEvent, "daemon.listener_failed").Msg("listener failed, shutting down")
	case <-ctx.Done():
		m.logger.Info().Str(log.FieldEvent, "daemon.signal").Msg("shutdown requested")
	}
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), stopBudget)
	defer cancel()
	if err := m.Shutdown(stopCtx); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}

func (m *manager) bind(name, addr string, srv *http.Server) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("%s listener %s: %w", name, addr, err)
	}
	srv.Addr = ln.Addr().String()
	m.mu.Lock()
	m.endpoints = append(m.endpoints, &endpoint{name: name, srv: srv, ln: ln})
	m.mu.Unlock()
	return nil
}

func (m *manager) closeListeners() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ep := range m.endpoints {
		_ = ep.ln.Close()
	}
	m.endpoints = nil
}

func (m *manager) serve(ep *endpoint, errCh chan<- error) {
	m.logger.Info().Str("server", ep.name).Str("addr", ep.srv.Addr).Msg("server listening")
	if err := ep.srv.Serve(ep.ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		errCh <- fmt.Errorf("%s server: %w", ep.name, err)
	}
}

// Shutdown stops accepting requests, waits for in-flight ones within the
// configured timeout and then runs the hooks newest first. Hook errors are
// collected; every hook runs.
func (m *manager) Shutdown(ctx context.Context) error {
	if ctx == nil {
		return errors.New("shutdown context is nil")
	}
	m.mu.Lock()
	switch {
	case m.stopping:
		m.mu.Unlock()
		return nil
	case !m.started:
		m.mu.Unlock()
		return ErrManagerNotStarted
	}
	m.stopping = true
	endpoints := m.endpoints
	hooks := append([]namedHook(nil), m.hooks...)
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.serverCfg.ShutdownTimeout)
	defer cancel()

	var errs []error
	for _, ep := range endpoints {
		if err := ep.srv.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s server shutdown: %w", ep.name, err))
		}
	}

	for i := len(hooks) - 1; i >= 0; i-- {
		h := hooks[i]
		start := time.Now()
		err := h.hook(ctx)
		ev := m.logger.Debug()
		if err != nil {
			ev = m.logger.Error().Err(err)
			errs = append(errs, fmt.Errorf("hook %s: %w", h.name, err))
		}
		ev.Str(log.FieldEvent, "daemon.hook").Str("hook", h.name).Dur("duration", time.Since(start)).Msg("shutdown hook finished")
	}

	if len(errs) > 0 {
		m.logger.Error().Int("errors", len(errs)).Str(log.FieldEvent, "daemon.stopped").Msg("shutdown completed with errors")
		return fmt.Errorf("shutdown: %w", errors.Join(errs...))
	}
	m.logger.Info().Str(log.FieldEvent, "daemon.stopped").Msg("playbackd stopped cleanly")
	return nil
}

// RegisterShutdownHook appends a hook; later hooks run first.
func (m *manager) RegisterShutdownHook(name string, hook ShutdownHook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, namedHook{name: name, hook: hook})
}
