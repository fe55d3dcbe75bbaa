// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Loader handles configuration loading with precedence.
type Loader struct {
	configPath string
	version    string
	// ConsumedEnvKeys records every environment key the last Load looked at.
	ConsumedEnvKeys map[string]struct{}
}

// NewLoader creates a loader. An empty configPath means defaults plus ENV.
func NewLoader(configPath, version string) *Loader {
	return &Loader{
		configPath:      configPath,
		version:         version,
		ConsumedEnvKeys: make(map[string]struct{}),
	}
}

// Path returns the config file path, if any.
func (l *Loader) Path() string { return l.configPath }

// Load loads configuration with precedence ENV > File > Defaults and
// validates the result.
func (l *Loader) Load() (AppConfig, error) {
	cfg := Default()

	if l.configPath != "" {
		if err := l.loadFile(l.configPath, &cfg); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}

	l.mergeEnvConfig(&cfg)

	if cfg.DataDir != "" {
		if abs, err := filepath.Abs(cfg.DataDir); err == nil {
			cfg.DataDir = abs
		}
	}
	cfg.Version = l.version
	cfg.Telemetry.ServiceVersion = l.version

	if err := Validate(cfg); err != nil {
		return cfg, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// loadFile decodes a YAML file over cfg with STRICT parsing. Keys absent
// from the file keep their current value.
func (l *Loader) loadFile(path string, cfg *AppConfig) error {
	path = filepath.Clean(path)

	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("unsupported config format: %s (only YAML supported)", ext)
	}

	// #nosec G304 -- configuration file paths are provided by the operator via CLI/ENV
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		if strings.Contains(err.Error(), "field") && strings.Contains(err.Error(), "not found") {
			return fmt.Errorf("%w: %w", ErrUnknownConfigField, err)
		}
		return fmt.Errorf("strict config parse error: %w", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("config file contains multiple documents or trailing content")
	}

	cfg.DataDir = expandEnv(cfg.DataDir)
	cfg.Rooms.Redis.Password = expandEnv(cfg.Rooms.Redis.Password)
	cfg.Rooms.Mongo.URI = expandEnv(cfg.Rooms.Mongo.URI)
	cfg.Cache.Redis.Password = expandEnv(cfg.Cache.Redis.Password)
	cfg.API.Token = expandEnv(cfg.API.Token)
	cfg.Proxy.Secret = expandEnv(cfg.Proxy.Secret)
	cfg.Scrape.Endpoint = expandEnv(cfg.Scrape.Endpoint)
	return nil
}

func (l *Loader) env(key string) string {
	key = EnvPrefix + key
	l.ConsumedEnvKeys[key] = struct{}{}
	return key
}

func (l *Loader) envString(key, def string) string { return ParseString(l.env(key), def) }

func (l *Loader) envBool(key string, def bool) bool { return ParseBool(l.env(key), def) }

func (l *Loader) envInt(key string, def int) int { return ParseInt(l.env(key), def) }

func (l *Loader) envInt64(key string, def int64) int64 { return ParseInt64(l.env(key), def) }

func (l *Loader) envFloat(key string, def float64) float64 { return ParseFloat(l.env(key), def) }

func (l *Loader) envDuration(key string, def time.Duration) time.Duration {
	return ParseDuration(l.env(key), def)
}

// mergeEnvConfig applies MOVIEFLIX_* overrides on top of cfg.
func (l *Loader) mergeEnvConfig(cfg *AppConfig) {
	cfg.LogLevel = l.envString("LOG_LEVEL", cfg.LogLevel)
	cfg.DataDir = l.envString("DATA_DIR", cfg.DataDir)

	cfg.API.ListenAddr = l.envString("LISTEN_ADDR", cfg.API.ListenAddr)
	cfg.API.RateLimit = l.envInt("RATE_LIMIT", cfg.API.RateLimit)
	cfg.API.ShutdownTimeout = l.envDuration("SHUTDOWN_TIMEOUT", cfg.API.ShutdownTimeout)
	cfg.API.Token = l.envString("API_TOKEN", cfg.API.Token)
	cfg.API.MetricsAddr = l.envString("METRICS_ADDR", cfg.API.MetricsAddr)

	s := &cfg.Settings
	s.AutoLowerQualityOnBuffer = l.envBool("AUTO_LOWER_QUALITY", s.AutoLowerQualityOnBuffer)
	s.AutoSwitchSourceOnBuffer = l.envBool("AUTO_SWITCH_SOURCE", s.AutoSwitchSourceOnBuffer)
	s.PreferEnglishAudio = l.envBool("PREFER_ENGLISH_AUDIO", s.PreferEnglishAudio)
	s.AutoEnableCaptions = l.envBool("AUTO_ENABLE_CAPTIONS", s.AutoEnableCaptions)

	cfg.Resolver.Timeout = l.envDuration("RESOLVER_TIMEOUT", cfg.Resolver.Timeout)
	cfg.Resolver.UserAgent = l.envString("RESOLVER_USER_AGENT", cfg.Resolver.UserAgent)
	cfg.Resolver.MaxRedirects = l.envInt("RESOLVER_MAX_REDIRECTS", cfg.Resolver.MaxRedirects)

	cfg.Proxy.Enabled = l.envBool("PROXY_ENABLED", cfg.Proxy.Enabled)
	cfg.Proxy.BaseURL = l.envString("PROXY_BASE_URL", cfg.Proxy.BaseURL)
	cfg.Proxy.Secret = l.envString("PROXY_SECRET", cfg.Proxy.Secret)
	cfg.Proxy.AllowPrivateTargets = l.envBool("PROXY_ALLOW_PRIVATE_TARGETS", cfg.Proxy.AllowPrivateTargets)

	cfg.Prefetch.Enabled = l.envBool("PREFETCH_ENABLED", cfg.Prefetch.Enabled)
	cfg.Prefetch.MaxInflight = l.envInt64("PREFETCH_MAX_INFLIGHT", cfg.Prefetch.MaxInflight)
	cfg.Prefetch.RequestsPerSecond = l.envFloat("PREFETCH_RPS", cfg.Prefetch.RequestsPerSecond)

	cfg.Rooms.Backend = l.envString("ROOMS_BACKEND", cfg.Rooms.Backend)
	cfg.Rooms.Redis.Addr = l.envString("ROOMS_REDIS_ADDR", cfg.Rooms.Redis.Addr)
	cfg.Rooms.Redis.Password = l.envString("ROOMS_REDIS_PASSWORD", cfg.Rooms.Redis.Password)
	cfg.Rooms.Mongo.URI = l.envString("ROOMS_MONGO_URI", cfg.Rooms.Mongo.URI)
	cfg.Rooms.Mongo.Database = l.envString("ROOMS_MONGO_DATABASE", cfg.Rooms.Mongo.Database)

	cfg.Resume.Backend = l.envString("RESUME_BACKEND", cfg.Resume.Backend)

	cfg.Cache.Backend = l.envString("CACHE_BACKEND", cfg.Cache.Backend)
	cfg.Cache.TTL = l.envDuration("CACHE_TTL", cfg.Cache.TTL)
	cfg.Cache.Redis.Addr = l.envString("CACHE_REDIS_ADDR", cfg.Cache.Redis.Addr)
	cfg.Cache.Redis.Password = l.envString("CACHE_REDIS_PASSWORD", cfg.Cache.Redis.Password)

	cfg.Scrape.Endpoint = l.envString("SCRAPE_ENDPOINT", cfg.Scrape.Endpoint)
	cfg.Scrape.Timeout = l.envDuration("SCRAPE_TIMEOUT", cfg.Scrape.Timeout)
	cfg.Scrape.SourceOrder = ParseList(l.env("SCRAPE_SOURCES"), cfg.Scrape.SourceOrder)

	cfg.Telemetry.Enabled = l.envBool("TELEMETRY_ENABLED", cfg.Telemetry.Enabled)
	cfg.Telemetry.ExporterType = l.envString("OTLP_EXPORTER", cfg.Telemetry.ExporterType)
	cfg.Telemetry.Endpoint = l.envString("OTLP_ENDPOINT", cfg.Telemetry.Endpoint)
	cfg.Telemetry.Insecure = l.envBool("OTLP_INSECURE", cfg.Telemetry.Insecure)
	cfg.Telemetry.SamplingRate = l.envFloat("TRACE_SAMPLING", cfg.Telemetry.SamplingRate)
}
