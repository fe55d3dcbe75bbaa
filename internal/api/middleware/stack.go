// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package middleware provides HTTP middleware for the playback API.
package middleware

import (
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// StackConfig selects the optional layers of the ingress stack.
type StackConfig struct {
	EnableCORS     bool
	AllowedOrigins []string

	EnableSecurityHeaders bool
	CSP                   string

	EnableMetrics bool
	// TracingService names the otel service; empty disables tracing.
	TracingService string
	Logger         *zerolog.Logger

	// RateLimit is requests per minute per client. Zero disables it.
	RateLimit int
}

// NewRouter returns a chi router with the ingress stack applied.
func NewRouter(cfg StackConfig) *chi.Mux {
	r := chi.NewRouter()
	ApplyStack(r, cfg)
	return r
}

// ApplyStack installs the ingress middleware. Order matters: recovery and
// request ids wrap everything, CORS answers preflights before auth or rate
// limiting see them, and the access log sits inside tracing so it can carry
// trace ids.
func ApplyStack(r chi.Router, cfg StackConfig) {
	r.Use(Recoverer, RequestID)
	if cfg.EnableCORS {
		r.Use(CORS(cfg.AllowedOrigins))
	}
	if cfg.EnableSecurityHeaders {
		r.Use(SecurityHeaders(cfg.CSP))
	}
	if cfg.EnableMetrics {
		r.Use(Metrics())
	}
	if cfg.TracingService != "" {
		r.Use(OTelHTTP(cfg.TracingService))
	}
	if cfg.Logger != nil {
		r.Use(AccessLog(*cfg.Logger))
	}
	if cfg.RateLimit > 0 {
		r.Use(APIRateLimit(cfg.RateLimit))
	}
}
