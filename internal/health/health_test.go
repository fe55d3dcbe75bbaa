// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mzazimhenga22/movieflix/internal/config"
	"github.com/mzazimhenga22/movieflix/internal/resilience"
)

type mockChecker struct {
	name   string
	status Status
}

func (m *mockChecker) Name() string { return m.name }

func (m *mockChecker) Check(context.Context) CheckResult { return CheckResult{Status: m.status} }

func TestManager_Health(t *testing.T) {
	m := NewManager("v1.0.0")
	resp := m.Health(context.Background(), true)
	assert.Equal(t, StatusHealthy, resp.Status)
	assert.Equal(t, "v1.0.0", resp.Version)
	assert.GreaterOrEqual(t, resp.Uptime, int64(0))
	assert.Nil(t, resp.Checks)

	m.RegisterChecker(&mockChecker{name: "healthy", status: StatusHealthy})
	m.RegisterChecker(&mockChecker{name: "degraded", status: StatusDegraded})

	resp = m.Health(context.Background(), false)
	assert.Equal(t, StatusHealthy, resp.Status)
	assert.Nil(t, resp.Checks)

	resp = m.Health(context.Background(), true)
	assert.Equal(t, StatusDegraded, resp.Status)
	assert.Len(t, resp.Checks, 2)
}

func TestManager_Ready(t *testing.T) {
	m := NewManager("")
	m.RegisterChecker(&mockChecker{name: "degraded", status: StatusDegraded})
	assert.True(t, m.Ready(context.Background()).Ready)

	m.RegisterChecker(&mockChecker{name: "down", status: StatusUnhealthy})
	resp := m.Ready(context.Background())
	assert.False(t, resp.Ready)
	assert.Equal(t, StatusUnhealthy, resp.Status)

	rec := httptest.NewRecorder()
	m.ServeReady(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	m.ServeHealth(rec, httptest.NewRequest(http.MethodGet, "/healthz?verbose=true", nil))
	assert.Equal(t, http.StatusOK, rec.Code, "liveness is always 200")
	var body HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, StatusUnhealthy, body.Status)
}

func TestPingChecker(t *testing.T) {
	assert.Equal(t, StatusHealthy, NewPingChecker("cache", nil).Check(context.Background()).Status)
	assert.Equal(t, StatusHealthy, NewPingChecker("cache", func(context.Context) error { return nil }).Check(context.Background()).Status)

	res := NewPingChecker("rooms", func(context.Context) error { return errors.New("dial tcp: refused") }).Check(context.Background())
	assert.Equal(t, StatusUnhealthy, res.Status)
	assert.Contains(t, res.Error, "refused")
}

func TestPingChecker_Timeout(t *testing.T) {
	m := NewManager("")
	m.RegisterChecker(NewPingChecker("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))
	start := time.Now()
	resp := m.Ready(context.Background())
	assert.False(t, resp.Ready)
	assert.Less(t, time.Since(start), checkTimeout+time.Second)
}

func TestBreakerChecker(t *testing.T) {
	reg := resilience.NewRegistry("resolver", 1, time.Hour)
	c := NewBreakerChecker(reg)
	assert.Equal(t, StatusHealthy, c.Check(context.Background()).Status)

	reg.Get("dood").RecordFailure()
	reg.Get("vidsrc").RecordSuccess()
	res := c.Check(context.Background())
	assert.Equal(t, StatusDegraded, res.Status)
	assert.Equal(t, "open: dood", res.Message)
}

func TestPerformStartupChecks(t *testing.T) {
	cfg := config.Default()
	cfg.DataDir = filepath.Join(t.TempDir(), "nested", "data")
	cfg.API.ListenAddr = "127.0.0.1:0"
	require.NoError(t, PerformStartupChecks(context.Background(), cfg))
	info, err := os.Stat(cfg.DataDir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	cfg.API.ListenAddr = "no-port"
	assert.Error(t, PerformStartupChecks(context.Background(), cfg))

	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
	cfg.API.ListenAddr = ":8088"
	cfg.DataDir = file
	assert.Error(t, PerformStartupChecks(context.Background(), cfg))
}
