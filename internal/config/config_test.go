// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := NewLoader("", "v1.2.3").Load()
	require.NoError(t, err)

	want := Default()
	want.Version = "v1.2.3"
	want.Telemetry.ServiceVersion = "v1.2.3"
	assert.Equal(t, want, cfg)
	assert.True(t, cfg.Settings.AutoLowerQualityOnBuffer)
	assert.False(t, cfg.Settings.AutoEnableCaptions)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
logLevel: debug
api:
  listenAddr: "127.0.0.1:9000"
settings:
  autoEnableCaptions: true
  autoSwitchSourceOnBuffer: false
prefetch:
  window: 45s
rooms:
  backend: redis
  redis:
    addr: "localhost:6379"
    roomTTL: 6h
scrape:
  endpoint: "http://scraper:8080"
  sourceOrder: [alpha, beta]
`)
	cfg, err := NewLoader(path, "").Load()
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "127.0.0.1:9000", cfg.API.ListenAddr)
	assert.True(t, cfg.Settings.AutoEnableCaptions)
	assert.False(t, cfg.Settings.AutoSwitchSourceOnBuffer)
	// keys absent from the file keep their defaults
	assert.True(t, cfg.Settings.AutoLowerQualityOnBuffer)
	assert.Equal(t, 600, cfg.API.RateLimit)
	assert.Equal(t, 45*time.Second, cfg.Prefetch.Window)
	assert.Equal(t, 4, cfg.Prefetch.MaxSegments)
	assert.Equal(t, "redis", cfg.Rooms.Backend)
	assert.Equal(t, 6*time.Hour, cfg.Rooms.Redis.RoomTTL)
	assert.Equal(t, []string{"alpha", "beta"}, cfg.Scrape.SourceOrder)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "logLevel: warn\nsettings:\n  preferEnglishAudio: true\n")
	t.Setenv("MOVIEFLIX_LOG_LEVEL", "error")
	t.Setenv("MOVIEFLIX_PREFER_ENGLISH_AUDIO", "off")
	t.Setenv("MOVIEFLIX_SCRAPE_SOURCES", " one, ,two ")
	t.Setenv("MOVIEFLIX_CACHE_TTL", "2m")
	t.Setenv("MOVIEFLIX_RATE_LIMIT", "not-a-number")

	l := NewLoader(path, "")
	cfg, err := l.Load()
	require.NoError(t, err)
	assert.Equal(t, "error", cfg.LogLevel)
	assert.False(t, cfg.Settings.PreferEnglishAudio)
	assert.Equal(t, []string{"one", "two"}, cfg.Scrape.SourceOrder)
	assert.Equal(t, 2*time.Minute, cfg.Cache.TTL)
	assert.Equal(t, 600, cfg.API.RateLimit, "invalid values fall back")
	assert.Contains(t, l.ConsumedEnvKeys, "MOVIEFLIX_LOG_LEVEL")
	assert.Contains(t, l.ConsumedEnvKeys, "MOVIEFLIX_ROOMS_MONGO_URI")
}

func TestLoad_FileExpandsEnv(t *testing.T) {
	t.Setenv("ROOM_SECRET", "s3cret")
	path := writeConfig(t, "rooms:\n  redis:\n    password: ${ROOM_SECRET}\n")
	cfg, err := NewLoader(path, "").Load()
	require.NoError(t, err)
	assert.Equal(t, "s3cret", cfg.Rooms.Redis.Password)
}

func TestLoad_Strict(t *testing.T) {
	tests := []struct {
		name string
		file string
		body string
		is   error
	}{
		{name: "unknown key", file: "config.yaml", body: "bogus: true\n", is: ErrUnknownConfigField},
		{name: "unknown nested key", file: "config.yaml", body: "proxy:\n  enabled: false\n  port: 1\n", is: ErrUnknownConfigField},
		{name: "multiple documents", file: "config.yaml", body: "logLevel: info\n---\nlogLevel: debug\n"},
		{name: "wrong type", file: "config.yaml", body: "api:\n  rateLimit: lots\n"},
		{name: "json file", file: "config.json", body: "{}"},
		{name: "invalid value", file: "config.yml", body: "rooms:\n  backend: etcd\n", is: ErrInvalidConfig},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), tt.file)
			require.NoError(t, os.WriteFile(path, []byte(tt.body), 0o600))
			_, err := NewLoader(path, "").Load()
			require.Error(t, err)
			if tt.is != nil {
				assert.ErrorIs(t, err, tt.is)
			}
		})
	}
}

func TestLoad_EmptyFileKeepsDefaults(t *testing.T) {
	cfg, err := NewLoader(writeConfig(t, ""), "").Load()
	require.NoError(t, err)
	assert.Equal(t, Default().Prefetch, cfg.Prefetch)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*AppConfig)
		ok     bool
	}{
		{"defaults", func(*AppConfig) {}, true},
		{"bad log level", func(c *AppConfig) { c.LogLevel = "loud" }, false},
		{"empty listen addr", func(c *AppConfig) { c.API.ListenAddr = "" }, false},
		{"proxy without base", func(c *AppConfig) { c.Proxy.Enabled = true }, false},
		{"proxy with base", func(c *AppConfig) { c.Proxy = ProxyConfig{Enabled: true, BaseURL: "https://edge.example"} }, true},
		{"proxy short secret", func(c *AppConfig) {
			c.Proxy = ProxyConfig{Enabled: true, BaseURL: "https://edge.example", Secret: "short"}
		}, false},
		{"proxy secret", func(c *AppConfig) {
			c.Proxy = ProxyConfig{Enabled: true, BaseURL: "https://edge.example", Secret: "0123456789abcdef"}
		}, true},
		{"proxy bad scheme", func(c *AppConfig) { c.Proxy = ProxyConfig{Enabled: true, BaseURL: "ftp://edge"} }, false},
		{"negative window", func(c *AppConfig) { c.Prefetch.Window = -time.Second }, false},
		{"interval order", func(c *AppConfig) { c.Prefetch.MaxInterval = time.Second }, false},
		{"redis rooms without addr", func(c *AppConfig) { c.Rooms.Backend = "redis" }, false},
		{"mongo rooms", func(c *AppConfig) { c.Rooms = RoomsConfig{Backend: "mongo"}; c.Rooms.Mongo.URI = "mongodb://db" }, true},
		{"unknown resume backend", func(c *AppConfig) { c.Resume.Backend = "bolt" }, false},
		{"redis cache without addr", func(c *AppConfig) { c.Cache.Backend = "redis" }, false},
		{"bad scrape endpoint", func(c *AppConfig) { c.Scrape.Endpoint = "scraper:8080" }, false},
		{"telemetry bad exporter", func(c *AppConfig) { c.Telemetry.Enabled = true; c.Telemetry.ExporterType = "zipkin" }, false},
		{"telemetry bad sampling", func(c *AppConfig) { c.Telemetry.Enabled = true; c.Telemetry.SamplingRate = 2 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := Validate(cfg)
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestWriteFile_RoundTrip(t *testing.T) {
	cfg := Default()
	cfg.LogLevel = "debug"
	cfg.Settings.AutoEnableCaptions = true
	cfg.Scrape.SourceOrder = []string{"alpha"}
	cfg.Rooms.Redis.RoomTTL = 90 * time.Minute

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, WriteFile(path, cfg))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	got, err := NewLoader(path, "v9").Load()
	require.NoError(t, err)
	cfg.Version = "v9"
	cfg.Telemetry.ServiceVersion = "v9"
	assert.Equal(t, cfg, got)
}

func TestParseHelpers(t *testing.T) {
	t.Setenv("MOVIEFLIX_TEST_BOOL", "yes")
	t.Setenv("MOVIEFLIX_TEST_DUR", "1h")
	t.Setenv("MOVIEFLIX_TEST_FLOAT", "0.25")
	t.Setenv("MOVIEFLIX_TEST_EMPTY", "")

	assert.True(t, ParseBool("MOVIEFLIX_TEST_BOOL", false))
	assert.Equal(t, time.Hour, ParseDuration("MOVIEFLIX_TEST_DUR", 0))
	assert.InDelta(t, 0.25, ParseFloat("MOVIEFLIX_TEST_FLOAT", 1), 1e-9)
	assert.Equal(t, "fallback", ParseString("MOVIEFLIX_TEST_EMPTY", "fallback"))
	assert.Equal(t, 7, ParseInt("MOVIEFLIX_TEST_UNSET", 7))
	assert.Equal(t, []string{"x"}, ParseList("MOVIEFLIX_TEST_UNSET", []string{"x"}))
}
