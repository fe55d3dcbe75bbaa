// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package resume persists per-user playback positions.
package resume

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/mzazimhenga22/movieflix/internal/media"
)

// Position is the saved playback state of one title for one user.
type Position struct {
	PositionMs int64     `json:"positionMs"`
	DurationMs int64     `json:"durationMs"`
	Finished   bool      `json:"finished"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Store persists positions keyed by (user, media key).
// Get returns media.ErrNotFound for unknown keys.
type Store interface {
	Get(ctx context.Context, userID, mediaKey string) (Position, error)
	Put(ctx context.Context, userID, mediaKey string, pos Position) error
	Delete(ctx context.Context, userID, mediaKey string) error
	Close() error
}

// NewStore creates a store for backend ("sqlite" or "memory"). An empty
// backend means sqlite; sqlite without a data dir falls back to memory.
func NewStore(backend, dir string) (Store, error) {
	if backend == "" {
		backend = "sqlite"
	}

	switch backend {
	case "sqlite":
		if dir == "" {
			return NewMemoryStore(), nil
		}
		return NewSqliteStore(filepath.Join(dir, "resume.sqlite"))
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown resume store backend: %s (supported: sqlite, memory)", backend)
	}
}

// MemoryStore implements Store using a map (thread-safe).
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]Position
}

// NewMemoryStore creates an in-memory resume store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]Position)}
}

func (s *MemoryStore) Get(_ context.Context, userID, mediaKey string) (Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pos, ok := s.data[compositeKey(userID, mediaKey)]
	if !ok {
		return Position{}, media.ErrNotFound
	}
	return pos, nil
}

func (s *MemoryStore) Put(_ context.Context, userID, mediaKey string, pos Position) error {
	if pos.UpdatedAt.IsZero() {
		pos.UpdatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[compositeKey(userID, mediaKey)] = pos
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, userID, mediaKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, compositeKey(userID, mediaKey))
	return nil
}

func (s *MemoryStore) Close() error { return nil }

func compositeKey(userID, mediaKey string) string {
	return userID + "\x00" + mediaKey
}
