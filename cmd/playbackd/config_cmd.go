// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mzazimhenga22/movieflix/internal/config"
)

const redacted = "***"

var (
	dumpFormat string
	initForce  bool
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and create configuration files",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the effective configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		loader, _, err := loadConfig()
		if err != nil {
			return fmt.Errorf("configuration error: %w", err)
		}
		source := loader.Path()
		if source == "" {
			source = "defaults + environment"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s is valid\n", source)
		return nil
	},
}

var configDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Print the effective configuration (defaults + file + env) with secrets redacted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		_, cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("configuration error: %w", err)
		}
		return dumpConfig(cmd.OutOrStdout(), redactSecrets(cfg), dumpFormat)
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init <path>",
	Short: "Write the default configuration to a YAML file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		if !initForce && fileExists(path) {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
		if err := config.WriteFile(path, config.Default()); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
		return nil
	},
}

func init() {
	configDumpCmd.Flags().StringVar(&dumpFormat, "format", "yaml", "output format: yaml or json")
	configInitCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing file")
	configCmd.AddCommand(configValidateCmd, configDumpCmd, configInitCmd)
}

func dumpConfig(w io.Writer, cfg config.AppConfig, format string) error {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "yaml", "yml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(cfg); err != nil {
			return fmt.Errorf("encode yaml: %w", err)
		}
		return enc.Close()
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(cfg); err != nil {
			return fmt.Errorf("encode json: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("unsupported format: %s (use yaml or json)", format)
	}
}

func redactSecrets(cfg config.AppConfig) config.AppConfig {
	if cfg.API.Token != "" {
		cfg.API.Token = redacted
	}
	if cfg.Proxy.Secret != "" {
		cfg.Proxy.Secret = redacted
	}
	if cfg.Rooms.Redis.Password != "" {
		cfg.Rooms.Redis.Password = redacted
	}
	if cfg.Cache.Redis.Password != "" {
		cfg.Cache.Redis.Password = redacted
	}
	if cfg.Rooms.Mongo.URI != "" {
		cfg.Rooms.Mongo.URI = maskURL(cfg.Rooms.Mongo.URI)
	}
	if cfg.Scrape.Endpoint != "" {
		cfg.Scrape.Endpoint = maskURL(cfg.Scrape.Endpoint)
	}
	return cfg
}
