// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mzazimhenga22/movieflix/internal/captions"
	"github.com/mzazimhenga22/movieflix/internal/hls"
	"github.com/mzazimhenga22/movieflix/internal/log"
	"github.com/mzazimhenga22/movieflix/internal/media"
	"github.com/mzazimhenga22/movieflix/internal/platform/httpx"
	"github.com/mzazimhenga22/movieflix/internal/resolver"
)

var (
	toolHeaders  []string
	captionsType string
)

var resolveCmd = &cobra.Command{
	Use:   "resolve <embed-url>",
	Short: "Resolve a provider embed URL to a playable stream",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("configuration error: %w", err)
		}
		headers, err := parseHeaders(toolHeaders)
		if err != nil {
			return err
		}
		r := resolver.New(resolver.Config{
			Client:       httpx.NewClient(cfg.Resolver.Timeout),
			UserAgent:    cfg.Resolver.UserAgent,
			MaxRedirects: cfg.Resolver.MaxRedirects,
			Logger:       log.WithComponent("resolver"),
		})
		res, err := r.Resolve(cmd.Context(), args[0], headers)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), res)
	},
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze <manifest-url|->",
	Short: "Fetch an HLS manifest and print its qualities, audio and subtitle tracks",
	Long:  "Pass - to read the manifest from stdin; relative URIs then stay unresolved.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var text, base string
		if args[0] == "-" {
			raw, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return fmt.Errorf("read stdin: %w", err)
			}
			text = string(raw)
		} else {
			headers, err := parseHeaders(toolHeaders)
			if err != nil {
				return err
			}
			base = args[0]
			text, err = hls.Fetch(cmd.Context(), httpx.NewClient(0), base, headers)
			if err != nil {
				return err
			}
		}
		return printJSON(cmd.OutOrStdout(), hls.Analyze(text, base))
	},
}

var captionsCmd = &cobra.Command{
	Use:   "captions <file>",
	Short: "Parse an SRT or WebVTT file and print its cues",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := os.ReadFile(args[0]) // #nosec G304 -- operator supplied path
		if err != nil {
			return err
		}
		kind := media.CaptionType(strings.ToLower(captionsType))
		switch kind {
		case media.CaptionSRT, media.CaptionVTT:
		case "":
			kind = captions.DetectType(string(raw), args[0])
		default:
			return fmt.Errorf("unsupported caption type %q", captionsType)
		}
		cues := captions.Parse(string(raw), kind)
		if cues == nil {
			cues = []media.CaptionCue{}
		}
		return printJSON(cmd.OutOrStdout(), struct {
			Type media.CaptionType  `json:"type"`
			Cues []media.CaptionCue `json:"cues"`
		}{kind, cues})
	},
}

func init() {
	for _, c := range []*cobra.Command{resolveCmd, analyzeCmd} {
		c.Flags().StringArrayVarP(&toolHeaders, "header", "H", nil, "request header as 'Name: value' (repeatable)")
	}
	captionsCmd.Flags().StringVar(&captionsType, "type", "", "caption format (srt|vtt); detected when empty")
}

// parseHeaders turns curl style "Name: value" pairs into a header map.
func parseHeaders(raw []string) (map[string]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(raw))
	for _, h := range raw {
		name, value, ok := strings.Cut(h, ":")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid header %q (want 'Name: value')", h)
		}
		out[name] = strings.TrimSpace(value)
	}
	return out, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
