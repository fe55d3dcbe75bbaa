// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package prefetch warms upcoming HLS segments with one-byte ranged GETs so
// CDN, DNS and TLS paths are hot before the player needs them. It is strictly
// best effort: failures are logged at debug level and never returned to the
// playback path.
package prefetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/mzazimhenga22/movieflix/internal/hls"
	"github.com/mzazimhenga22/movieflix/internal/log"
	"github.com/mzazimhenga22/movieflix/internal/metrics"
	"github.com/mzazimhenga22/movieflix/internal/platform/httpx"
)

// Config tunes the prefetcher. Zero values take the defaults below.
type Config struct {
	Client hls.Doer

	// Window is the forward time budget of a normal cycle.
	Window      time.Duration
	MaxSegments int
	Concurrency int

	// Aggressive* apply while the buffering overlay is visible.
	AggressiveWindow      time.Duration
	AggressiveMaxSegments int
	AggressiveConcurrency int

	// MaxInflight bounds segment requests across all concurrent cycles.
	MaxInflight int64
	// RequestsPerSecond paces segment requests process-wide.
	RequestsPerSecond float64

	// SeenCap bounds the per-stream seen set; it is cleared when exceeded.
	SeenCap int
	// MaxStreams bounds the number of tracked stream keys.
	MaxStreams int

	Logger zerolog.Logger
}

func (c Config) withDefaults() Config {
	if c.Client == nil {
		c.Client = httpx.NewClient(10 * time.Second)
	}
	if c.Window <= 0 {
		c.Window = 30 * time.Second
	}
	if c.MaxSegments <= 0 {
		c.MaxSegments = 4
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 2
	}
	if c.AggressiveWindow <= 0 {
		c.AggressiveWindow = 90 * time.Second
	}
	if c.AggressiveMaxSegments <= 0 {
		c.AggressiveMaxSegments = 10
	}
	if c.AggressiveConcurrency <= 0 {
		c.AggressiveConcurrency = 4
	}
	if c.MaxInflight <= 0 {
		c.MaxInflight = 16
	}
	if c.RequestsPerSecond <= 0 {
		c.RequestsPerSecond = 20
	}
	if c.SeenCap <= 0 {
		c.SeenCap = 256
	}
	if c.MaxStreams <= 0 {
		c.MaxStreams = 128
	}
	return c
}

// Target names the stream to warm.
type Target struct {
	// Key identifies the stream for seen-set bookkeeping.
	Key string
	// PlaylistURL is a master or media playlist.
	PlaylistURL string
	Headers     map[string]string
	// VariantURI selects a variant of a master playlist. Empty picks the best.
	VariantURI string
	// Position is where the forward window starts.
	Position time.Duration
}

// Prefetcher is safe for concurrent use and meant to be shared.
type Prefetcher struct {
	cfg      Config
	client   hls.Doer
	limiter  *rate.Limiter
	inflight *semaphore.Weighted
	logger   zerolog.Logger

	mu   sync.Mutex
	seen map[string]map[string]struct{}
}

// New creates a Prefetcher.
func New(cfg Config) *Prefetcher {
	cfg = cfg.withDefaults()
	return &Prefetcher{
		cfg:      cfg,
		client:   cfg.Client,
		limiter:  rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Concurrency),
		inflight: semaphore.NewWeighted(cfg.MaxInflight),
		logger:   cfg.Logger,
		seen:     make(map[string]map[string]struct{}),
	}
}

// Cycle warms the forward window of t and returns how many segments were
// fetched successfully.
func (p *Prefetcher) Cycle(ctx context.Context, t Target, aggressive bool) int {
	window, maxSegs, conc := p.cfg.Window, p.cfg.MaxSegments, p.cfg.Concurrency
	if aggressive {
		window, maxSegs, conc = p.cfg.AggressiveWindow, p.cfg.AggressiveMaxSegments, p.cfg.AggressiveConcurrency
	}
	metrics.RecordPrefetchCycle(aggressive)

	pl, err := p.mediaPlaylist(ctx, t.PlaylistURL, t.VariantURI, t.Headers)
	if err != nil {
		p.logger.Debug().Err(err).Str(log.FieldMediaKey, t.Key).Msg("prefetch: playlist unavailable")
		return 0
	}

	var todo []hls.Segment
	for _, seg := range pl.Window(t.Position, window, maxSegs) {
		if !p.isSeen(t.Key, seg.URI) {
			todo = append(todo, seg)
		}
	}
	return p.warm(ctx, t.Key, todo, t.Headers, conc)
}

// Warm fetches the first n segments of playlistURL (the best variant when it
// is a master playlist). Only a playlist failure is reported.
func (p *Prefetcher) Warm(ctx context.Context, playlistURL string, headers map[string]string, n int) error {
	pl, err := p.mediaPlaylist(ctx, playlistURL, "", headers)
	if err != nil {
		return err
	}
	if n <= 0 {
		n = 3
	}
	segs := pl.Segments
	if len(segs) > n {
		segs = segs[:n]
	}
	p.warm(ctx, playlistURL, segs, headers, n)
	return nil
}

func (p *Prefetcher) mediaPlaylist(ctx context.Context, playlistURL, variantURI string, headers map[string]string) (hls.MediaPlaylist, error) {
	text, err := hls.Fetch(ctx, p.client, playlistURL, headers)
	if err != nil {
		return hls.MediaPlaylist{}, err
	}
	if !hls.IsMasterPlaylist(text) {
		return hls.ParseMediaPlaylist(text, playlistURL), nil
	}

	opts := hls.ParseQualityOptions(text, playlistURL)
	if len(opts) == 0 {
		return hls.MediaPlaylist{}, nil
	}
	chosen := opts[0]
	for _, o := range opts {
		if o.URI == variantURI {
			chosen = o
			break
		}
	}
	text, err = hls.Fetch(ctx, p.client, chosen.URI, headers)
	if err != nil {
		return hls.MediaPlaylist{}, err
	}
	return hls.ParseMediaPlaylist(text, chosen.URI), nil
}

func (p *Prefetcher) warm(ctx context.Context, key string, segs []hls.Segment, headers map[string]string, conc int) int {
	if len(segs) == 0 {
		return 0
	}
	var (
		mu sync.Mutex
		ok int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(conc)
	for _, seg := range segs {
		g.Go(func() error {
			if err := p.inflight.Acquire(gctx, 1); err != nil {
				return nil
			}
			defer p.inflight.Release(1)
			if err := p.limiter.Wait(gctx); err != nil {
				return nil
			}
			if err := p.fetchSegment(gctx, seg.URI, headers); err != nil {
				metrics.RecordPrefetchSegment("error")
				p.logger.Debug().Err(err).Str("segment", seg.URI).Msg("prefetch: segment warm failed")
				return nil
			}
			metrics.RecordPrefetchSegment("ok")
			p.markSeen(key, seg.URI)
			mu.Lock()
			ok++
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return ok
}

func (p *Prefetcher) fetchSegment(ctx context.Context, uri string, headers map[string]string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("Range", "bytes=0-0")
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		return &statusError{code: resp.StatusCode}
	}
	return nil
}

type statusError struct{ code int }

func (e *statusError) Error() string { return fmt.Sprintf("prefetch: unexpected status %d", e.code) }

func (p *Prefetcher) isSeen(key, uri string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.seen[key][uri]
	return ok
}

func (p *Prefetcher) markSeen(key, uri string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	set, ok := p.seen[key]
	if !ok {
		if len(p.seen) >= p.cfg.MaxStreams {
			clear(p.seen)
		}
		set = make(map[string]struct{})
		p.seen[key] = set
	}
	if len(set) >= p.cfg.SeenCap {
		clear(set)
	}
	set[uri] = struct{}{}
}

// Forget drops the seen set of key.
func (p *Prefetcher) Forget(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.seen, key)
}

func (p *Prefetcher) seenCount(key string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.seen[key])
}
