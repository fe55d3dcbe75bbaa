// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package store provides the shared room store backends for watch parties.
package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/mzazimhenga22/movieflix/internal/watchparty"
)

const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendMongo  = "mongo"
)

// Config selects and configures a backend.
type Config struct {
	Backend string
	Redis   RedisConfig
	Mongo   MongoConfig
	Logger  zerolog.Logger
}

// New opens the configured backend. An empty backend means memory.
func New(ctx context.Context, cfg Config) (watchparty.Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", BackendMemory:
		return NewMemoryStore(), nil
	case BackendRedis:
		return NewRedisStore(cfg.Redis, cfg.Logger)
	case BackendMongo:
		return NewMongoStore(ctx, cfg.Mongo, cfg.Logger)
	default:
		return nil, fmt.Errorf("store: unknown room store backend %q", cfg.Backend)
	}
}
