// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package health

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/mzazimhenga22/movieflix/internal/config"
	"github.com/mzazimhenga22/movieflix/internal/log"
)

// PerformStartupChecks validates the environment before the server starts.
func PerformStartupChecks(_ context.Context, cfg config.AppConfig) error {
	logger := log.WithComponent("startup-check")
	logger.Info().Msg("running pre-flight startup checks")

	if needsDataDir(cfg) {
		if err := checkDataDir(logger, cfg.DataDir); err != nil {
			return fmt.Errorf("data directory check failed: %w", err)
		}
	}
	if err := checkListenAddr(logger, cfg.API.ListenAddr); err != nil {
		return err
	}

	if cfg.Scrape.Endpoint == "" {
		logger.Warn().Msg("scrape endpoint not configured; sessions can only open direct URLs")
	}
	if strings.EqualFold(cfg.Rooms.Backend, "memory") || cfg.Rooms.Backend == "" {
		logger.Warn().Msg("watch-party rooms use the in-memory store; rooms are lost on restart and not shared across instances")
	}
	if cfg.Proxy.Enabled {
		logger.Info().Str("base", cfg.Proxy.BaseURL).Msg("HLS proxy enabled")
	}

	tempDir := filepath.Clean(os.TempDir())
	dataDir := filepath.Clean(cfg.DataDir)
	if tempDir != "." && (dataDir == tempDir || strings.HasPrefix(dataDir, tempDir+string(filepath.Separator))) {
		logger.Warn().Str("data_dir", cfg.DataDir).Msg("data directory is under temp; resume positions may be lost on reboot")
	}

	logger.Info().Msg("all startup checks passed")
	return nil
}

func needsDataDir(cfg config.AppConfig) bool {
	return cfg.Resume.Backend == "" || cfg.Resume.Backend == "sqlite"
}

// checkDataDir creates the directory when missing and verifies it is writable.
func checkDataDir(logger zerolog.Logger, path string) error {
	if path == "" {
		return fmt.Errorf("data directory not configured")
	}
	if err := os.MkdirAll(path, 0o750); err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("path is not a directory: %s", path)
	}

	testFile := filepath.Join(path, ".write_test")
	if err := os.WriteFile(testFile, []byte("ok"), 0o600); err != nil {
		return fmt.Errorf("directory is not writable: %s (error: %v)", path, err)
	}
	_ = os.Remove(testFile)

	logger.Info().Str("path", path).Msg("data directory is writable")
	return nil
}

func checkListenAddr(logger zerolog.Logger, addr string) error {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid API listen address %q: %w", addr, err)
	}
	portNum, err := strconv.Atoi(port)
	if err != nil || portNum < 0 || portNum > 65535 {
		return fmt.Errorf("invalid API listen port %q in %q", port, addr)
	}
	logger.Debug().Str("addr", addr).Msg("API listen address is valid")
	return nil
}
