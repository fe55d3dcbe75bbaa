// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Command playbackd serves stream resolution, manifest analysis, captions,
// watch-party rooms and remote playback sessions.
package main

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mzazimhenga22/movieflix/internal/config"
	"github.com/mzazimhenga22/movieflix/internal/version"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "playbackd",
	Short: "Adaptive playback and stream resolution service",
	Long: `playbackd resolves provider embeds to playable streams, analyzes HLS
manifests, parses captions, keeps watch-party rooms in sync and drives
remote playback sessions with automatic recovery.

Configuration precedence is ENV (MOVIEFLIX_*) > config file > defaults.`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "%s (commit: %s, built: %s)\n", version.Version, version.Commit, version.Date)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file (YAML)")
	rootCmd.AddCommand(serveCmd, versionCmd, configCmd, healthcheckCmd, resolveCmd, analyzeCmd, captionsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// effectiveConfigPath returns --config, or ${MOVIEFLIX_DATA_DIR}/config.yaml
// when that file exists.
func effectiveConfigPath() string {
	if p := strings.TrimSpace(configPath); p != "" {
		return p
	}
	dataDir := strings.TrimSpace(config.ParseString(config.EnvPrefix+"DATA_DIR", config.Default().DataDir))
	autoPath := filepath.Join(dataDir, "config.yaml")
	if _, err := os.Stat(autoPath); err == nil {
		return autoPath
	}
	return ""
}

func loadConfig() (*config.Loader, config.AppConfig, error) {
	loader := config.NewLoader(effectiveConfigPath(), version.Version)
	cfg, err := loader.Load()
	return loader, cfg, err
}

// maskURL removes user info from a URL string for safe logging.
func maskURL(rawURL string) string {
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return "invalid-url-redacted"
	}
	parsedURL.User = nil
	return parsedURL.String()
}
