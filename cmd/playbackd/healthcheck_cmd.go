// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/mzazimhenga22/movieflix/internal/platform/httpx"
)

var (
	healthMode    string
	healthAddr    string
	healthTimeout time.Duration
)

// healthcheckCmd checks a running daemon; suitable as a container HEALTHCHECK.
var healthcheckCmd = &cobra.Command{
	Use:   "healthcheck",
	Short: "Check the liveness or readiness endpoint of a running daemon",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		target, err := healthURL(healthAddr, healthMode)
		if err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, target, nil)
		if err != nil {
			return err
		}
		resp, err := httpx.NewClient(healthTimeout).Do(req)
		if err != nil {
			return fmt.Errorf("healthcheck failed (network): %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("healthcheck failed (status): %s", resp.Status)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "healthcheck successful (%s)\n", healthMode)
		return nil
	},
}

func init() {
	healthcheckCmd.Flags().StringVar(&healthMode, "mode", "ready", "healthcheck mode: ready or live")
	healthcheckCmd.Flags().StringVar(&healthAddr, "addr", "localhost:8088", "daemon host:port")
	healthcheckCmd.Flags().DurationVar(&healthTimeout, "timeout", 5*time.Second, "check timeout")
}

func healthURL(addr, mode string) (string, error) {
	var path string
	switch mode {
	case "ready":
		path = "/readyz"
	case "live":
		path = "/healthz"
	default:
		return "", fmt.Errorf("unknown healthcheck mode %q (use ready or live)", mode)
	}
	return "http://" + addr + path, nil
}
