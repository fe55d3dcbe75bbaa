// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newHolder(t *testing.T, body string) (*Holder, string) {
	t.Helper()
	path := writeConfig(t, body)
	loader := NewLoader(path, "test")
	cfg, err := loader.Load()
	require.NoError(t, err)
	return NewHolder(cfg, loader), path
}

func TestHolder_Reload(t *testing.T) {
	h, path := newHolder(t, "logLevel: info\n")
	assert.True(t, h.Settings().AutoLowerQualityOnBuffer)

	updates := make(chan AppConfig, 1)
	h.RegisterListener(updates)

	require.NoError(t, os.WriteFile(path, []byte("logLevel: debug\nsettings:\n  autoLowerQualityOnBuffer: false\n"), 0o600))
	require.NoError(t, h.Reload(context.Background()))
	assert.Equal(t, "debug", h.Get().LogLevel)
	assert.False(t, h.Settings().AutoLowerQualityOnBuffer)

	select {
	case got := <-updates:
		assert.Equal(t, "debug", got.LogLevel)
	default:
		t.Fatal("listener was not notified")
	}
}

func TestHolder_ReloadKeepsOldConfigOnError(t *testing.T) {
	h, path := newHolder(t, "logLevel: warn\n")
	require.NoError(t, os.WriteFile(path, []byte("logLevel: warn\nunknownKey: 1\n"), 0o600))

	err := h.Reload(context.Background())
	assert.ErrorIs(t, err, ErrUnknownConfigField)
	assert.Equal(t, "warn", h.Get().LogLevel)
}

func TestHolder_FullListenerDoesNotBlock(t *testing.T) {
	h, _ := newHolder(t, "")
	full := make(chan AppConfig)
	h.RegisterListener(full)

	done := make(chan error, 1)
	go func() { done <- h.Reload(context.Background()) }()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("reload blocked on a full listener")
	}
}

func TestHolder_WatcherReloadsOnWrite(t *testing.T) {
	h, path := newHolder(t, "logLevel: info\n")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, h.StartWatcher(ctx))
	defer h.Stop()

	require.NoError(t, os.WriteFile(path, []byte("logLevel: debug\n"), 0o600))
	assert.Eventually(t, func() bool {
		return h.Get().LogLevel == "debug"
	}, 5*time.Second, 50*time.Millisecond)
}

func TestHolder_WatcherDisabledWithoutFile(t *testing.T) {
	cfg, err := NewLoader("", "").Load()
	require.NoError(t, err)
	h := NewHolder(cfg, NewLoader("", ""))
	require.NoError(t, h.StartWatcher(context.Background()))
	h.Stop()
}
