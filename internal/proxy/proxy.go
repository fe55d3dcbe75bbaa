// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package proxy fetches upstream streams on behalf of players that cannot
// send the headers a CDN demands. Targets arrive as resolver.ProxyURL tokens;
// playlists are rewritten so every nested request goes through the proxy.
package proxy

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/mzazimhenga22/movieflix/internal/log"
	"github.com/mzazimhenga22/movieflix/internal/metrics"
	"github.com/mzazimhenga22/movieflix/internal/platform/httpx"
	"github.com/mzazimhenga22/movieflix/internal/resolver"
)

const defaultMaxPlaylistBytes = 4 << 20

// passthroughHeaders are copied from upstream media responses.
var passthroughHeaders = []string{
	"Content-Type",
	"Content-Length",
	"Content-Range",
	"Accept-Ranges",
	"Cache-Control",
	"ETag",
	"Last-Modified",
}

// Config holds the configuration for the proxy handler.
type Config struct {
	// PublicBase is the externally reachable base URL of this service.
	// Rewritten playlist entries point at PublicBase/proxy/<token>.
	PublicBase string
	// Key signs and verifies proxy tokens; at least
	// resolver.MinProxyKeyLen bytes.
	Key []byte
	// Client fetches upstream; defaults to a hardened client with a
	// timeout long enough for segment transfers that refuses non-public
	// addresses unless AllowPrivateTargets is set.
	Client              *http.Client
	AllowPrivateTargets bool
	MaxPlaylistBytes    int64
	Logger              zerolog.Logger
}

// Handler serves proxied upstream content.
type Handler struct {
	base        string
	key         []byte
	client      *http.Client
	maxPlaylist int64
	logger      zerolog.Logger
}

// New returns a Handler. PublicBase is required since rewritten playlists
// must carry absolute proxy URLs.
func New(cfg Config) (*Handler, error) {
	if cfg.PublicBase == "" {
		return nil, errors.New("proxy: public base URL is required")
	}
	if len(cfg.Key) < resolver.MinProxyKeyLen {
		return nil, fmt.Errorf("proxy: signing key must be at least %d bytes", resolver.MinProxyKeyLen)
	}
	h := &Handler{
		base:        cfg.PublicBase,
		key:         cfg.Key,
		client:      cfg.Client,
		maxPlaylist: cfg.MaxPlaylistBytes,
		logger:      cfg.Logger,
	}
	if h.client == nil {
		client, err := httpx.New(httpx.Options{
			Timeout:     2 * time.Minute,
			Tracing:     true,
			DenyPrivate: !cfg.AllowPrivateTargets,
		})
		if err != nil {
			return nil, err
		}
		h.client = client
	}
	if h.maxPlaylist <= 0 {
		h.maxPlaylist = defaultMaxPlaylistBytes
	}
	return h, nil
}

// Base returns the public base URL used for rewrites.
func (h *Handler) Base() string { return h.base }

// Key returns the token signing key shared with callers that mint proxy URLs.
func (h *Handler) Key() []byte { return h.key }

// Serve proxies the upstream target encoded in token.
func (h *Handler) Serve(w http.ResponseWriter, r *http.Request, token string) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	target, headers, err := resolver.DecodeProxyToken(h.key, token)
	if errors.Is(err, resolver.ErrProxySignature) {
		metrics.RecordProxyRequest("unknown", "bad_signature")
		http.Error(w, "proxy token not signed by this service", http.StatusForbidden)
		return
	}
	if err != nil {
		metrics.RecordProxyRequest("unknown", "bad_token")
		http.Error(w, "invalid proxy token", http.StatusBadRequest)
		return
	}

	req, err := http.NewRequestWithContext(r.Context(), r.Method, target, nil)
	if err != nil {
		http.Error(w, "invalid proxy target", http.StatusBadRequest)
		return
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if rng := r.Header.Get("Range"); rng != "" {
		req.Header.Set("Range", rng)
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", resolver.DefaultUserAgent)
	}

	logger := log.WithContext(r.Context(), h.logger).With().Str(log.FieldHost, req.URL.Host).Logger()
	start := time.Now()
	resp, err := h.client.Do(req)
	if err != nil {
		reason := classifyUpstreamError(err)
		metrics.RecordProxyRequest("unknown", reason)
		logger.Warn().Err(err).Str(log.FieldReason, reason).Msg("proxy upstream fetch failed")
		if reason == "blocked" {
			http.Error(w, "proxy target not allowed", http.StatusForbidden)
			return
		}
		http.Error(w, "upstream fetch failed", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	br := bufio.NewReaderSize(resp.Body, 512)
	head, _ := br.Peek(16)
	if resp.StatusCode < 300 && r.Method == http.MethodGet && isPlaylist(resp.Header.Get("Content-Type"), string(head)) {
		h.servePlaylist(w, resp, br, headers, logger)
		return
	}

	for _, k := range passthroughHeaders {
		if v := resp.Header.Get(k); v != "" {
			w.Header().Set(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	n, err := io.Copy(w, br)
	result := "ok"
	if err != nil {
		result = classifyUpstreamError(err)
	} else if resp.StatusCode >= 400 {
		result = "status_" + strconv.Itoa(resp.StatusCode)
	}
	metrics.RecordProxyRequest("media", result)
	logger.Debug().
		Int("status", resp.StatusCode).
		Int64("bytes", n).
		Dur("elapsed", time.Since(start)).
		Msg("proxied media")
}

func (h *Handler) servePlaylist(w http.ResponseWriter, resp *http.Response, body io.Reader, headers map[string]string, logger zerolog.Logger) {
	raw, err := io.ReadAll(io.LimitReader(body, h.maxPlaylist+1))
	if err != nil {
		metrics.RecordProxyRequest("playlist", classifyUpstreamError(err))
		http.Error(w, "upstream read failed", http.StatusBadGateway)
		return
	}
	if int64(len(raw)) > h.maxPlaylist {
		metrics.RecordProxyRequest("playlist", "too_large")
		http.Error(w, "playlist too large", http.StatusBadGateway)
		return
	}
	// relative references resolve against the final URL after redirects
	final := resp.Request.URL.String()
	out := RewritePlaylist(string(raw), final, h.base, h.key, headers)

	w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Content-Length", strconv.Itoa(len(out)))
	w.WriteHeader(resp.StatusCode)
	_, _ = io.WriteString(w, out)
	metrics.RecordProxyRequest("playlist", "ok")
	logger.Debug().Str("url", final).Int("bytes", len(out)).Msg("rewrote playlist")
}
