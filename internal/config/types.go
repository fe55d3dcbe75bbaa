// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"time"

	"github.com/mzazimhenga22/movieflix/internal/cache"
	"github.com/mzazimhenga22/movieflix/internal/session"
	"github.com/mzazimhenga22/movieflix/internal/telemetry"
	"github.com/mzazimhenga22/movieflix/internal/watchparty/store"
)

// AppConfig is the full daemon configuration.
type AppConfig struct {
	Version string `yaml:"-"`

	LogLevel  string           `yaml:"logLevel"`
	DataDir   string           `yaml:"dataDir"`
	API       APIConfig        `yaml:"api"`
	Settings  SettingsConfig   `yaml:"settings"`
	Resolver  ResolverConfig   `yaml:"resolver"`
	Proxy     ProxyConfig      `yaml:"proxy"`
	Prefetch  PrefetchConfig   `yaml:"prefetch"`
	Rooms     RoomsConfig      `yaml:"rooms"`
	Resume    ResumeConfig     `yaml:"resume"`
	Cache     CacheConfig      `yaml:"cache"`
	Scrape    ScrapeConfig     `yaml:"scrape"`
	Telemetry telemetry.Config `yaml:"telemetry"`
}

// APIConfig configures the HTTP listener.
type APIConfig struct {
	ListenAddr string `yaml:"listenAddr"`
	// RateLimit is requests per minute per client IP. Zero disables limiting.
	RateLimit       int           `yaml:"rateLimit"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	// Token, when set, is required as a bearer token on /api routes.
	Token string `yaml:"token"`
	// MetricsAddr additionally serves /metrics on a separate listener.
	MetricsAddr string `yaml:"metricsAddr"`
}

// SettingsConfig are the user playback toggles.
type SettingsConfig struct {
	AutoLowerQualityOnBuffer bool `yaml:"autoLowerQualityOnBuffer"`
	AutoSwitchSourceOnBuffer bool `yaml:"autoSwitchSourceOnBuffer"`
	PreferEnglishAudio       bool `yaml:"preferEnglishAudio"`
	AutoEnableCaptions       bool `yaml:"autoEnableCaptions"`
}

// ResolverConfig tunes embed resolution.
type ResolverConfig struct {
	Timeout      time.Duration `yaml:"timeout"`
	UserAgent    string        `yaml:"userAgent"`
	MaxRedirects int           `yaml:"maxRedirects"`

	BreakerThreshold int           `yaml:"breakerThreshold"`
	BreakerReset     time.Duration `yaml:"breakerReset"`
}

// ProxyConfig enables the HLS proxy. BaseURL is the public origin clients
// reach the daemon on.
type ProxyConfig struct {
	Enabled bool   `yaml:"enabled"`
	BaseURL string `yaml:"baseURL"`
	// Secret signs proxy tokens. Empty means a random per-process key, so
	// proxy URLs stop working after a restart and differ between replicas.
	Secret string `yaml:"secret"`
	// AllowPrivateTargets lets the proxy reach loopback and private networks.
	AllowPrivateTargets bool `yaml:"allowPrivateTargets"`
}

type PrefetchConfig struct {
	Enabled bool `yaml:"enabled"`

	MinInterval        time.Duration `yaml:"minInterval"`
	MaxInterval        time.Duration `yaml:"maxInterval"`
	AggressiveInterval time.Duration `yaml:"aggressiveInterval"`

	Window                time.Duration `yaml:"window"`
	MaxSegments           int           `yaml:"maxSegments"`
	Concurrency           int           `yaml:"concurrency"`
	AggressiveWindow      time.Duration `yaml:"aggressiveWindow"`
	AggressiveMaxSegments int           `yaml:"aggressiveMaxSegments"`
	AggressiveConcurrency int           `yaml:"aggressiveConcurrency"`

	MaxInflight       int64   `yaml:"maxInflight"`
	RequestsPerSecond float64 `yaml:"requestsPerSecond"`
}

// RoomsConfig selects the watch-party room store.
type RoomsConfig struct {
	Backend string            `yaml:"backend"`
	Redis   store.RedisConfig `yaml:"redis"`
	Mongo   store.MongoConfig `yaml:"mongo"`
}

type ResumeConfig struct {
	Backend string `yaml:"backend"`
}

// CacheConfig backs caption cues and manifests.
type CacheConfig struct {
	Backend string            `yaml:"backend"`
	TTL     time.Duration     `yaml:"ttl"`
	Redis   cache.RedisConfig `yaml:"redis"`
}

// ScrapeConfig points at the external media resolution service.
type ScrapeConfig struct {
	Endpoint    string        `yaml:"endpoint"`
	Timeout     time.Duration `yaml:"timeout"`
	SourceOrder []string      `yaml:"sourceOrder"`
}

// SessionSettings converts the toggles for a new playback session.
func (s SettingsConfig) SessionSettings() session.Settings {
	return session.Settings{
		AutoLowerQualityOnBuffer: s.AutoLowerQualityOnBuffer,
		AutoSwitchSourceOnBuffer: s.AutoSwitchSourceOnBuffer,
		PreferEnglishAudio:       s.PreferEnglishAudio,
		AutoEnableCaptions:       s.AutoEnableCaptions,
	}
}

// Default returns the built-in configuration.
func Default() AppConfig {
	return AppConfig{
		LogLevel: "info",
		DataDir:  "/var/lib/movieflix",
		API: APIConfig{
			ListenAddr:      ":8088",
			RateLimit:       600,
			ShutdownTimeout: 10 * time.Second,
		},
		Settings: SettingsConfig{
			AutoLowerQualityOnBuffer: true,
			AutoSwitchSourceOnBuffer: true,
			PreferEnglishAudio:       true,
			AutoEnableCaptions:       false,
		},
		Resolver: ResolverConfig{
			Timeout:          15 * time.Second,
			MaxRedirects:     10,
			BreakerThreshold: 3,
			BreakerReset:     30 * time.Second,
		},
		Prefetch: PrefetchConfig{
			Enabled:               true,
			MinInterval:           30 * time.Second,
			MaxInterval:           45 * time.Second,
			AggressiveInterval:    5 * time.Second,
			Window:                30 * time.Second,
			MaxSegments:           4,
			Concurrency:           2,
			AggressiveWindow:      90 * time.Second,
			AggressiveMaxSegments: 10,
			AggressiveConcurrency: 4,
			MaxInflight:           16,
			RequestsPerSecond:     20,
		},
		Rooms:  RoomsConfig{Backend: store.BackendMemory},
		Resume: ResumeConfig{Backend: "sqlite"},
		Cache: CacheConfig{
			Backend: "memory",
			TTL:     30 * time.Minute,
		},
		Scrape: ScrapeConfig{Timeout: 30 * time.Second},
		Telemetry: telemetry.Config{
			ServiceName:  telemetry.DefaultServiceName,
			Environment:  "production",
			ExporterType: "grpc",
			Endpoint:     "localhost:4317",
			SamplingRate: 1.0,
		},
	}
}
