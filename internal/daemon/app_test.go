// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mzazimhenga22/movieflix/internal/config"
	"github.com/mzazimhenga22/movieflix/internal/log"
)

type fakeManager struct {
	mu      sync.Mutex
	hooks   []string
	started chan struct{}
}

func (m *fakeManager) Start(ctx context.Context) error {
	close(m.started)
	<-ctx.Done()
	return nil
}

func (m *fakeManager) Shutdown(context.Context) error { return nil }

func (m *fakeManager) RegisterShutdownHook(name string, _ ShutdownHook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, name)
}

func TestApp_RequiresManager(t *testing.T) {
	app := NewApp(log.WithComponent("test"), nil, nil, nil)
	require.ErrorIs(t, app.Run(context.Background()), ErrMissingManager)
}

func TestApp_AppliesReloadedConfig(t *testing.T) {
	prevLevel := zerolog.GlobalLevel()
	t.Cleanup(func() { zerolog.SetGlobalLevel(prevLevel) })

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logLevel: info\ndataDir: "+dir+"\n"), 0o600))

	loader := config.NewLoader(path, "test")
	cfg, err := loader.Load()
	require.NoError(t, err)
	holder := config.NewHolder(cfg, loader)

	reloaded := make(chan config.AppConfig, 1)
	mgr := &fakeManager{started: make(chan struct{})}
	app := NewApp(log.WithComponent("test"), mgr, holder, func(c config.AppConfig) {
		select {
		case reloaded <- c:
		default:
		}
	})
	app.reloadSignal = nil

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()
	<-mgr.started

	require.NoError(t, os.WriteFile(path, []byte("logLevel: debug\ndataDir: "+dir+"\n"), 0o600))
	require.NoError(t, holder.Reload(ctx))

	select {
	case next := <-reloaded:
		assert.Equal(t, "debug", next.LogLevel)
	case <-time.After(5 * time.Second):
		t.Fatal("reload was not applied")
	}
	assert.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel())

	cancel()
	require.NoError(t, <-done)
	holder.Stop()

	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	assert.Contains(t, mgr.hooks, "config_watcher")
}
