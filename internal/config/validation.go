// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/rs/zerolog"

	"github.com/mzazimhenga22/movieflix/internal/watchparty/store"
)

// minProxySecretLen matches resolver.MinProxyKeyLen.
const minProxySecretLen = 16

// Validate checks cfg and reports every problem at once.
func Validate(cfg AppConfig) error {
	var errs []error
	add := func(field, format string, args ...any) {
		errs = append(errs, fmt.Errorf("%s: %s", field, fmt.Sprintf(format, args...)))
	}

	if _, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel)); err != nil {
		add("logLevel", "unknown level %q", cfg.LogLevel)
	}
	if strings.TrimSpace(cfg.API.ListenAddr) == "" {
		add("api.listenAddr", "must not be empty")
	}
	if cfg.API.RateLimit < 0 {
		add("api.rateLimit", "must be >= 0")
	}

	if cfg.Resolver.Timeout < 0 {
		add("resolver.timeout", "must be >= 0")
	}
	if cfg.Resolver.MaxRedirects < 0 {
		add("resolver.maxRedirects", "must be >= 0")
	}

	if cfg.Proxy.Enabled {
		if err := validateBaseURL(cfg.Proxy.BaseURL); err != nil {
			add("proxy.baseURL", "%v", err)
		}
		if cfg.Proxy.Secret != "" && len(cfg.Proxy.Secret) < minProxySecretLen {
			add("proxy.secret", "must be at least %d characters", minProxySecretLen)
		}
	}

	p := cfg.Prefetch
	if p.Window < 0 || p.AggressiveWindow < 0 {
		add("prefetch.window", "windows must be >= 0")
	}
	if p.MaxSegments < 0 || p.AggressiveMaxSegments < 0 || p.Concurrency < 0 || p.AggressiveConcurrency < 0 {
		add("prefetch", "segment and concurrency limits must be >= 0")
	}
	if p.MinInterval < 0 || p.MaxInterval < 0 || p.AggressiveInterval < 0 {
		add("prefetch.interval", "must be >= 0")
	}
	if p.MaxInterval > 0 && p.MaxInterval < p.MinInterval {
		add("prefetch.maxInterval", "must be >= minInterval")
	}
	if p.RequestsPerSecond < 0 {
		add("prefetch.requestsPerSecond", "must be >= 0")
	}

	switch strings.ToLower(cfg.Rooms.Backend) {
	case "", store.BackendMemory:
	case store.BackendRedis:
		if cfg.Rooms.Redis.Addr == "" {
			add("rooms.redis.addr", "required for the redis backend")
		}
	case store.BackendMongo:
		if cfg.Rooms.Mongo.URI == "" {
			add("rooms.mongo.uri", "required for the mongo backend")
		}
	default:
		add("rooms.backend", "unknown backend %q (supported: memory, redis, mongo)", cfg.Rooms.Backend)
	}

	switch cfg.Resume.Backend {
	case "", "sqlite", "memory":
	default:
		add("resume.backend", "unknown backend %q (supported: sqlite, memory)", cfg.Resume.Backend)
	}

	switch cfg.Cache.Backend {
	case "", "memory", "none":
	case "redis":
		if cfg.Cache.Redis.Addr == "" {
			add("cache.redis.addr", "required for the redis backend")
		}
	default:
		add("cache.backend", "unknown backend %q (supported: memory, redis, none)", cfg.Cache.Backend)
	}
	if cfg.Cache.TTL < 0 {
		add("cache.ttl", "must be >= 0")
	}

	if cfg.Scrape.Endpoint != "" {
		if err := validateBaseURL(cfg.Scrape.Endpoint); err != nil {
			add("scrape.endpoint", "%v", err)
		}
	}

	if cfg.Telemetry.Enabled {
		switch cfg.Telemetry.ExporterType {
		case "grpc", "http":
		default:
			add("telemetry.exporter", "unsupported exporter %q (supported: grpc, http)", cfg.Telemetry.ExporterType)
		}
		if cfg.Telemetry.SamplingRate < 0 || cfg.Telemetry.SamplingRate > 1 {
			add("telemetry.samplingRate", "must be within [0, 1]")
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
}

func validateBaseURL(raw string) error {
	if raw == "" {
		return errors.New("must not be empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("missing host")
	}
	return nil
}
