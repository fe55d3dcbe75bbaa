// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package cache provides byte-valued caches with TTL support, used for parsed
// captions and resolved stream URLs. Callers own serialization.
package cache

import (
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
)

// Cache provides thread-safe caching with expiration support.
type Cache interface {
	// Get retrieves a value. The second result is false on miss or expiry.
	Get(key string) ([]byte, bool)
	// Set stores a value with the specified TTL.
	Set(key string, value []byte, ttl time.Duration)
	// Delete removes a value.
	Delete(key string)
	// Clear removes all values.
	Clear()
	// Stats returns cache statistics.
	Stats() CacheStats
}

// CacheStats holds cache performance metrics.
type CacheStats struct {
	Hits        int64
	Misses      int64
	Sets        int64
	CurrentSize int
}

// Config selects and tunes a backend.
type Config struct {
	Backend         string // memory | redis
	TTL             time.Duration
	CleanupInterval time.Duration
	Redis           RedisConfig
}

// New builds the configured backend.
func New(cfg Config, logger zerolog.Logger) (Cache, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryCache(cfg.TTL, cfg.CleanupInterval), nil
	case "redis":
		rc, err := NewRedisCache(cfg.Redis, logger)
		if err != nil {
			return nil, err
		}
		return rc, nil
	case "none":
		return NewNoOpCache(), nil
	default:
		return nil, fmt.Errorf("cache: unknown backend %q", cfg.Backend)
	}
}

// NewMemoryCache creates an in-process cache. cleanupInterval controls how often
// expired entries are purged; zero disables the janitor.
func NewMemoryCache(defaultTTL, cleanupInterval time.Duration) Cache {
	if defaultTTL <= 0 {
		defaultTTL = 10 * time.Minute
	}
	return &memoryCache{c: gocache.New(defaultTTL, cleanupInterval)}
}

type memoryCache struct {
	c     *gocache.Cache
	stats counters
}

func (m *memoryCache) Get(key string) ([]byte, bool) {
	v, ok := m.c.Get(key)
	if !ok {
		m.stats.misses.Add(1)
		return nil, false
	}
	m.stats.hits.Add(1)
	b, _ := v.([]byte)
	return b, true
}

func (m *memoryCache) Set(key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		ttl = gocache.DefaultExpiration
	}
	m.c.Set(key, value, ttl)
	m.stats.sets.Add(1)
}

func (m *memoryCache) Delete(key string) { m.c.Delete(key) }

func (m *memoryCache) Clear() { m.c.Flush() }

func (m *memoryCache) Stats() CacheStats {
	s := m.stats.snapshot()
	s.CurrentSize = m.c.ItemCount()
	return s
}

type noOpCache struct{}

// NewNoOpCache creates a cache that doesn't cache anything.
func NewNoOpCache() Cache { return noOpCache{} }

func (noOpCache) Get(string) ([]byte, bool)         { return nil, false }
func (noOpCache) Set(string, []byte, time.Duration) {}
func (noOpCache) Delete(string)                     {}
func (noOpCache) Clear()                            {}
func (noOpCache) Stats() CacheStats                 { return CacheStats{} }
