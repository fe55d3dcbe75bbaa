// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package api exposes the playback core over HTTP.
package api

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/mzazimhenga22/movieflix/internal/api/middleware"
	"github.com/mzazimhenga22/movieflix/internal/captions"
	"github.com/mzazimhenga22/movieflix/internal/health"
	"github.com/mzazimhenga22/movieflix/internal/hls"
	"github.com/mzazimhenga22/movieflix/internal/log"
	"github.com/mzazimhenga22/movieflix/internal/proxy"
	"github.com/mzazimhenga22/movieflix/internal/resume"
	"github.com/mzazimhenga22/movieflix/internal/session"
	"github.com/mzazimhenga22/movieflix/internal/watchparty"
)

// Config tunes the HTTP surface.
type Config struct {
	// RateLimit is requests per minute per client on /api and /proxy. Zero
	// disables it.
	RateLimit      int
	Token          string
	TracingService string
	AllowedOrigins []string
	// SessionIdle closes remote sessions nobody has polled for this long.
	SessionIdle time.Duration
}

// Deps are the collaborators behind the routes. Nil optional deps disable
// their routes with 503.
type Deps struct {
	Resolver session.SourceResolver
	Client   hls.Doer
	Captions *captions.Loader
	Rooms    watchparty.Store
	Resume   resume.Store
	Proxy    *proxy.Handler
	// SessionTemplate is copied for every remote session; Player, UserID and
	// OnEvent are filled in per session.
	SessionTemplate *session.Config
	// Settings returns the current playback toggles.
	Settings func() session.Settings
	Health   *health.Manager
	Logger   zerolog.Logger
}

// Server owns the router and the long lived state behind it.
type Server struct {
	cfg      Config
	deps     Deps
	logger   zerolog.Logger
	router   chi.Router
	hub      *roomHub
	sessions *sessionRegistry

	closeOnce sync.Once
}

// New builds the router.
func New(cfg Config, deps Deps) (*Server, error) {
	if deps.Health == nil {
		return nil, errors.New("api: health manager is required")
	}
	if deps.Client == nil {
		return nil, errors.New("api: http client is required")
	}
	if cfg.SessionIdle <= 0 {
		cfg.SessionIdle = 10 * time.Minute
	}
	if deps.Settings == nil {
		deps.Settings = func() session.Settings { return session.Settings{} }
	}
	s := &Server{
		cfg:    cfg,
		deps:   deps,
		logger: log.WithComponent("api"),
		hub:    newRoomHub(),
	}
	s.sessions = newSessionRegistry(cfg.SessionIdle, s.logger)
	s.router = s.routes()
	return s, nil
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.router }

// Close disconnects websocket clients and closes every remote session.
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		s.hub.Close()
		s.sessions.Close()
	})
}

func (s *Server) routes() chi.Router {
	r := middleware.NewRouter(middleware.StackConfig{
		EnableCORS:            len(s.cfg.AllowedOrigins) > 0,
		AllowedOrigins:        s.cfg.AllowedOrigins,
		EnableSecurityHeaders: true,
		EnableMetrics:         true,
		TracingService:        s.cfg.TracingService,
		Logger:                &s.logger,
	})

	r.Get("/healthz", s.deps.Health.ServeHealth)
	r.Get("/readyz", s.deps.Health.ServeReady)
	r.Handle("/metrics", promhttp.Handler())

	// Players cannot attach the bearer token to segment requests; proxy
	// tokens are HMAC signed instead.
	r.Group(func(r chi.Router) {
		if s.cfg.RateLimit > 0 {
			r.Use(middleware.APIRateLimit(s.cfg.RateLimit))
		}
		r.Get("/proxy/{token}", s.handleProxy)
		r.Head("/proxy/{token}", s.handleProxy)
	})

	r.Route("/api/v1", func(r chi.Router) {
		if s.cfg.RateLimit > 0 {
			r.Use(middleware.APIRateLimit(s.cfg.RateLimit))
		}
		r.Use(middleware.BearerToken(s.cfg.Token))

		r.Post("/resolve", s.handleResolve)
		r.Post("/manifest/analyze", s.handleAnalyze)
		r.Post("/captions/parse", s.handleCaptionsParse)
		r.Post("/captions/load", s.handleCaptionsLoad)

		r.Route("/rooms", func(r chi.Router) {
			r.Post("/", s.handleCreateRoom)
			r.Get("/{id}", s.handleGetRoom)
			r.Get("/{id}/playback", s.handleGetPlayback)
			r.Put("/{id}/playback", s.handlePutPlayback)
			r.Put("/{id}/episode", s.handlePutEpisode)
			r.Get("/{id}/events", s.handleRoomEvents)
		})

		r.Route("/resume/{user}/{key}", func(r chi.Router) {
			r.Get("/", s.handleGetResume)
			r.Put("/", s.handlePutResume)
			r.Delete("/", s.handleDeleteResume)
		})

		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", s.handleCreateSession)
			r.Get("/{id}", s.handleGetSession)
			r.Delete("/{id}", s.handleDeleteSession)
			r.Post("/{id}/status", s.handleSessionStatus)
			r.Post("/{id}/error", s.handleSessionError)
			r.Put("/{id}/quality", s.handleSessionQuality)
			r.Post("/{id}/open-url", s.handleSessionOpenURL)
			r.Post("/{id}/source", s.handleSessionSource)
			r.Post("/{id}/episode", s.handleSessionEpisode)
			r.Post("/{id}/controls", s.handleSessionControls)
		})
	})
	return r
}

func (s *Server) handleProxy(w http.ResponseWriter, r *http.Request) {
	if s.deps.Proxy == nil {
		writeProblem(w, r, http.StatusServiceUnavailable, "proxy/disabled", "stream proxy is disabled")
		return
	}
	s.deps.Proxy.Serve(w, r, chi.URLParam(r, "token"))
}

func unavailable(w http.ResponseWriter, r *http.Request, what string) {
	writeProblem(w, r, http.StatusServiceUnavailable, "system/unavailable", what+" is not configured")
}
