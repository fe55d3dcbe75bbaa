// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package sqlite

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_AppliesPragmas(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "test.db")
	db, err := Open(path, DefaultConfig())
	require.NoError(t, err)
	defer db.Close()

	var mode string
	require.NoError(t, db.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)

	var timeout int
	require.NoError(t, db.QueryRow("PRAGMA busy_timeout").Scan(&timeout))
	assert.Equal(t, 5000, timeout)

	var fk int
	require.NoError(t, db.QueryRow("PRAGMA foreign_keys").Scan(&fk))
	assert.Equal(t, 1, fk)
}

func TestVerifyIntegrity(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ok.db")
	db, err := Open(path, DefaultConfig())
	require.NoError(t, err)
	_, err = db.Exec("CREATE TABLE t (id INTEGER PRIMARY KEY, v TEXT); INSERT INTO t (v) VALUES ('a');")
	require.NoError(t, err)
	require.NoError(t, db.Close())

	for _, mode := range []string{"quick", "full"} {
		issues, err := VerifyIntegrity(path, mode)
		require.NoError(t, err, mode)
		assert.Empty(t, issues, mode)
	}
}

func TestVerifyIntegrity_Garbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "garbage.db")
	require.NoError(t, os.WriteFile(path, []byte("definitely not a sqlite database file, just bytes"), 0o600))

	issues, err := VerifyIntegrity(path, "quick")
	if err == nil {
		assert.NotEmpty(t, issues)
	}
}
