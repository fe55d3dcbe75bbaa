// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package resume

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/mzazimhenga22/movieflix/internal/media"
	"github.com/mzazimhenga22/movieflix/internal/persistence/sqlite"
)

const schemaVersion = 1

// SqliteStore implements Store using SQLite.
type SqliteStore struct {
	DB *sql.DB
}

// NewSqliteStore opens (and migrates) the store at dbPath. An existing file
// must pass a quick integrity check first.
func NewSqliteStore(dbPath string) (*SqliteStore, error) {
	if _, err := os.Stat(dbPath); err == nil {
		issues, err := sqlite.VerifyIntegrity(dbPath, "quick")
		if err != nil {
			return nil, fmt.Errorf("resume store: %w", err)
		}
		if len(issues) > 0 {
			return nil, fmt.Errorf("resume store: %s is corrupt: %v", dbPath, issues)
		}
	}

	db, err := sqlite.Open(dbPath, sqlite.DefaultConfig())
	if err != nil {
		return nil, err
	}

	s := &SqliteStore{DB: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("resume store: migration failed: %w", err)
	}
	return s, nil
}

func (s *SqliteStore) migrate() error {
	var currentVersion int
	if err := s.DB.QueryRow("PRAGMA user_version").Scan(&currentVersion); err != nil {
		return err
	}
	if currentVersion >= schemaVersion {
		return nil
	}

	tx, err := s.DB.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	schema := `
	CREATE TABLE IF NOT EXISTS resume_positions (
		user_id TEXT NOT NULL,
		media_key TEXT NOT NULL,
		position_ms INTEGER NOT NULL,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		finished BOOLEAN NOT NULL DEFAULT 0,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (user_id, media_key)
	);
	CREATE INDEX IF NOT EXISTS idx_resume_positions_updated ON resume_positions(updated_at);
	`
	if _, err := tx.Exec(schema); err != nil {
		return err
	}
	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SqliteStore) Put(ctx context.Context, userID, mediaKey string, pos Position) error {
	if pos.UpdatedAt.IsZero() {
		pos.UpdatedAt = time.Now().UTC()
	}
	query := `
	INSERT INTO resume_positions (user_id, media_key, position_ms, duration_ms, finished, updated_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(user_id, media_key) DO UPDATE SET
		position_ms = excluded.position_ms,
		duration_ms = excluded.duration_ms,
		finished = excluded.finished,
		updated_at = excluded.updated_at
	`
	_, err := s.DB.ExecContext(ctx, query,
		userID, mediaKey, pos.PositionMs, pos.DurationMs, pos.Finished, pos.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	return err
}

func (s *SqliteStore) Get(ctx context.Context, userID, mediaKey string) (Position, error) {
	query := `SELECT position_ms, duration_ms, finished, updated_at FROM resume_positions WHERE user_id = ? AND media_key = ?`
	var pos Position
	var updatedAt string
	err := s.DB.QueryRowContext(ctx, query, userID, mediaKey).Scan(
		&pos.PositionMs, &pos.DurationMs, &pos.Finished, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Position{}, media.ErrNotFound
	}
	if err != nil {
		return Position{}, err
	}
	pos.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return pos, nil
}

func (s *SqliteStore) Delete(ctx context.Context, userID, mediaKey string) error {
	_, err := s.DB.ExecContext(ctx, "DELETE FROM resume_positions WHERE user_id = ? AND media_key = ?", userID, mediaKey)
	return err
}

func (s *SqliteStore) Close() error {
	return s.DB.Close()
}
