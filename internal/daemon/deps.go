// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/mzazimhenga22/movieflix/internal/config"
)

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	ListenAddr  string
	ReadTimeout time.Duration
	// WriteTimeout stays zero by default: websocket rooms and proxied
	// segments are long lived responses.
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	MaxHeaderBytes  int
	ShutdownTimeout time.Duration
}

// ServerConfigFrom derives listener settings from the app config.
func ServerConfigFrom(cfg config.AppConfig) ServerConfig {
	return ServerConfig{
		ListenAddr:      cfg.API.ListenAddr,
		ReadTimeout:     10 * time.Second,
		IdleTimeout:     120 * time.Second,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: cfg.API.ShutdownTimeout,
	}
}

// Deps contains dependencies required by the daemon Manager.
type Deps struct {
	Logger     zerolog.Logger
	APIHandler http.Handler

	// MetricsAddr, when set, serves MetricsHandler on a separate listener.
	MetricsAddr    string
	MetricsHandler http.Handler
}

// Validate checks if the dependencies are valid.
func (d *Deps) Validate() error {
	if d.Logger.GetLevel() == zerolog.Disabled {
		return ErrMissingLogger
	}
	if d.APIHandler == nil {
		return ErrMissingAPIHandler
	}
	return nil
}
