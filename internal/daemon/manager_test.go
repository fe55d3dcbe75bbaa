// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/mzazimhenga22/movieflix/internal/config"
	"github.com/mzazimhenga22/movieflix/internal/log"
)

func reserveListenAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	_ = ln.Close()
	return addr
}

func waitForListen(t *testing.T, addr string) {
	t.Helper()
	require.Eventually(t, func() bool {
		conn, err := net.DialTimeout("tcp", addr, 50*time.Millisecond)
		if err != nil {
			return false
		}
		_ = conn.Close()
		return true
	}, 2*time.Second, 10*time.Millisecond, "listener %s never came up", addr)
}

func testDeps(h http.Handler) Deps {
	return Deps{Logger: log.WithComponent("test"), APIHandler: h}
}

// startManager runs Start in the background and returns its result channel.
func startManager(t *testing.T, mgr Manager) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- mgr.Start(ctx) }()
	return cancel, errCh
}

func awaitStop(t *testing.T, errCh <-chan error) error {
	t.Helper()
	select {
	case err := <-errCh:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after cancellation")
		return nil
	}
}

func TestNewManager_Validation(t *testing.T) {
	_, err := NewManager(ServerConfig{ListenAddr: "127.0.0.1:0"}, Deps{
		Logger:     zerolog.New(io.Discard).Level(zerolog.Disabled),
		APIHandler: http.NotFoundHandler(),
	})
	assert.ErrorIs(t, err, ErrMissingLogger)

	_, err = NewManager(ServerConfig{ListenAddr: "127.0.0.1:0"}, testDeps(nil))
	assert.ErrorIs(t, err, ErrMissingAPIHandler)

	mgr, err := NewManager(ServerConfig{ListenAddr: "127.0.0.1:0"}, testDeps(http.NotFoundHandler()))
	require.NoError(t, err)
	assert.Equal(t, defaultShutdownTimeout, mgr.(*manager).serverCfg.ShutdownTimeout)
}

func TestManager_ServesUntilCancelled(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	addr := reserveListenAddr(t)
	mgr, err := NewManager(ServerConfig{ListenAddr: addr, ReadTimeout: time.Second}, testDeps(
		http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = io.WriteString(w, "ok")
		})))
	require.NoError(t, err)

	cancel, errCh := startManager(t, mgr)
	waitForListen(t, addr)

	client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}}
	resp, err := client.Get("http://" + addr + "/healthz")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, "ok", string(body))

	cancel()
	require.NoError(t, awaitStop(t, errCh))

	assert.NoError(t, mgr.Shutdown(context.Background()), "second shutdown is a no-op")
}

func TestManager_ShutdownDeadlineWithOpenStream(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	streaming := make(chan struct{})
	release := make(chan struct{})
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		close(streaming)
		select {
		case <-r.Context().Done():
		case <-release:
		}
	})

	addr := reserveListenAddr(t)
	mgr, err := NewManager(ServerConfig{
		ListenAddr:      addr,
		ReadTimeout:     time.Second,
		ShutdownTimeout: 100 * time.Millisecond,
	}, testDeps(handler))
	require.NoError(t, err)

	cancel, errCh := startManager(t, mgr)
	waitForListen(t, addr)

	done := make(chan struct{})
	go func() {
		defer close(done)
		client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}}
		if resp, err := client.Get("http://" + addr + "/proxy/segment"); err == nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
		}
	}()
	<-streaming

	cancel()
	err = awaitStop(t, errCh)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	<-done
}

func TestManager_ListenConflictFailsFast(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	mgr, err := NewManager(ServerConfig{ListenAddr: ln.Addr().String()}, testDeps(http.NotFoundHandler()))
	require.NoError(t, err)

	err = mgr.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api listener")
}

func TestManager_MetricsListener(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	apiAddr, metricsAddr := reserveListenAddr(t), reserveListenAddr(t)
	deps := testDeps(http.NotFoundHandler())
	deps.MetricsAddr = metricsAddr
	deps.MetricsHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "movieflix_up 1\n")
	})
	mgr, err := NewManager(ServerConfig{ListenAddr: apiAddr, ReadTimeout: time.Second}, deps)
	require.NoError(t, err)

	cancel, errCh := startManager(t, mgr)
	waitForListen(t, metricsAddr)

	client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}}
	resp, err := client.Get("http://" + metricsAddr + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Contains(t, string(body), "movieflix_up")

	cancel()
	require.NoError(t, awaitStop(t, errCh))
}

func TestManager_ShutdownNotStarted(t *testing.T) {
	mgr, err := NewManager(ServerConfig{ListenAddr: "127.0.0.1:0"}, testDeps(http.NotFoundHandler()))
	require.NoError(t, err)
	assert.ErrorIs(t, mgr.Shutdown(context.Background()), ErrManagerNotStarted)
}

func TestManager_ShutdownHooksRunLIFO(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	addr := reserveListenAddr(t)
	mgr, err := NewManager(ServerConfig{ListenAddr: addr, ShutdownTimeout: time.Second}, testDeps(http.NotFoundHandler()))
	require.NoError(t, err)

	var order []string
	mgr.RegisterShutdownHook("rooms", func(context.Context) error {
		order = append(order, "rooms")
		return nil
	})
	mgr.RegisterShutdownHook("sessions", func(context.Context) error {
		order = append(order, "sessions")
		return errors.New("boom")
	})

	cancel, errCh := startManager(t, mgr)
	waitForListen(t, addr)
	cancel()

	err = awaitStop(t, errCh)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hook sessions")
	assert.Equal(t, []string{"sessions", "rooms"}, order, "every hook runs even after a failure")
}

func TestServerConfigFrom(t *testing.T) {
	cfg := config.Default()
	cfg.API.ListenAddr = ":9999"
	cfg.API.ShutdownTimeout = 3 * time.Second

	sc := ServerConfigFrom(cfg)
	assert.Equal(t, ":9999", sc.ListenAddr)
	assert.Equal(t, 3*time.Second, sc.ShutdownTimeout)
	assert.Zero(t, sc.WriteTimeout, "websocket rooms and proxied segments stream indefinitely")
}
