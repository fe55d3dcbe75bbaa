// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package scrape talks to the external media resolution service that maps a
// media descriptor to a provider stream.
package scrape

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/mzazimhenga22/movieflix/internal/log"
	"github.com/mzazimhenga22/movieflix/internal/media"
	"github.com/mzazimhenga22/movieflix/internal/platform/httpx"
)

// Scraper resolves a media descriptor to a playback source.
type Scraper interface {
	Scrape(ctx context.Context, desc media.MediaDescriptor, opts Options) (media.PlaybackSource, error)
}

// Options steer a single scrape.
type Options struct {
	// SourceOrder is the provider priority list, first tried first.
	SourceOrder []string `json:"sourceOrder,omitempty"`
	DebugTag    string   `json:"debugTag,omitempty"`
}

type request struct {
	Media media.MediaDescriptor `json:"media"`
	Options
}

type streamInfo struct {
	Type             media.StreamType                `json:"type"`
	Captions         []media.CaptionSource           `json:"captions,omitempty"`
	Qualities        map[string]media.QualityVariant `json:"qualities,omitempty"`
	PreferredHeaders map[string]string               `json:"preferredHeaders,omitempty"`
}

type response struct {
	URI      string            `json:"uri"`
	Headers  map[string]string `json:"headers,omitempty"`
	Stream   streamInfo        `json:"stream"`
	SourceID string            `json:"sourceId,omitempty"`
	EmbedID  string            `json:"embedId,omitempty"`
	Error    string            `json:"error,omitempty"`
}

// Config configures a Client.
type Config struct {
	Endpoint string
	Client   *http.Client
	Logger   zerolog.Logger
}

// Client is the HTTP implementation of Scraper.
type Client struct {
	endpoint string
	client   *http.Client
	logger   zerolog.Logger
}

// NewClient builds a Client for the service at cfg.Endpoint.
func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, errors.New("scrape: endpoint is required")
	}
	c := &Client{endpoint: cfg.Endpoint, client: cfg.Client, logger: cfg.Logger}
	if c.client == nil {
		c.client = httpx.NewClient(30 * time.Second)
	}
	return c, nil
}

// Scrape asks the service for a stream. A total failure wraps
// media.ErrStreamUnavailable.
func (c *Client) Scrape(ctx context.Context, desc media.MediaDescriptor, opts Options) (media.PlaybackSource, error) {
	if err := desc.Validate(); err != nil {
		return media.PlaybackSource{}, fmt.Errorf("scrape: %w", err)
	}
	payload, err := json.Marshal(request{Media: desc, Options: opts})
	if err != nil {
		return media.PlaybackSource{}, fmt.Errorf("scrape: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return media.PlaybackSource{}, fmt.Errorf("scrape: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if id := log.RequestIDFromContext(ctx); id != "" {
		req.Header.Set("X-Request-ID", id)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return media.PlaybackSource{}, fmt.Errorf("scrape: %s: %w", desc.Key(), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return media.PlaybackSource{}, fmt.Errorf("scrape: read response: %w", err)
	}

	var out response
	if len(body) > 0 {
		if err := json.Unmarshal(body, &out); err != nil && resp.StatusCode < 300 {
			return media.PlaybackSource{}, fmt.Errorf("scrape: decode response: %w", err)
		}
	}
	if resp.StatusCode == http.StatusNotFound || (resp.StatusCode < 300 && out.URI == "") {
		return media.PlaybackSource{}, fmt.Errorf("scrape: %s: no source found: %w", desc.Key(), media.ErrStreamUnavailable)
	}
	if resp.StatusCode >= 300 {
		detail := out.Error
		if detail == "" {
			detail = http.StatusText(resp.StatusCode)
		}
		return media.PlaybackSource{}, fmt.Errorf("scrape: %s: status %d: %s: %w", desc.Key(), resp.StatusCode, detail, media.ErrStreamUnavailable)
	}

	src := out.toSource()
	c.logger.Debug().
		Str(log.FieldMediaKey, desc.Key()).
		Str(log.FieldSourceID, src.SourceID).
		Str(log.FieldEmbedID, src.EmbedID).
		Dur("elapsed", time.Since(start)).
		Msg("scrape result")
	return src, nil
}

func (r response) toSource() media.PlaybackSource {
	headers := r.Headers
	if len(headers) == 0 {
		headers = r.Stream.PreferredHeaders
	} else if len(r.Stream.PreferredHeaders) > 0 {
		merged := media.CloneHeaders(r.Stream.PreferredHeaders)
		for k, v := range headers {
			merged[k] = v
		}
		headers = merged
	}
	return media.PlaybackSource{
		URI:        r.URI,
		Headers:    media.CloneHeaders(headers),
		StreamType: r.Stream.Type,
		Captions:   r.Stream.Captions,
		Qualities:  r.Stream.Qualities,
		SourceID:   r.SourceID,
		EmbedID:    r.EmbedID,
	}
}

// RotateOrder returns order starting after the failing provider so repeated
// failures cycle through providers. An unknown or empty failing id returns a
// copy of order unchanged.
func RotateOrder(order []string, failing string) []string {
	out := make([]string, 0, len(order))
	idx := -1
	for i, id := range order {
		if id == failing {
			idx = i
			break
		}
	}
	if idx < 0 || failing == "" {
		return append(out, order...)
	}
	out = append(out, order[idx+1:]...)
	return append(out, order[:idx+1]...)
}
