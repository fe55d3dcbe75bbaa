// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mzazimhenga22/movieflix/internal/media"
	"github.com/mzazimhenga22/movieflix/internal/resolver"
	"github.com/mzazimhenga22/movieflix/internal/scrape"
)

const masterPlaylist = `#EXTM3U
#EXT-X-MEDIA:TYPE=AUDIO,GROUP-ID="aud",NAME="Deutsch",LANGUAGE="de",DEFAULT=YES,URI="a/de.m3u8"
#EXT-X-MEDIA:TYPE=AUDIO,GROUP-ID="aud",NAME="English",LANGUAGE="en",DEFAULT=NO,URI="a/en.m3u8"
#EXT-X-MEDIA:TYPE=SUBTITLES,GROUP-ID="subs",NAME="English",LANGUAGE="en",URI="subs/en.vtt"
#EXT-X-STREAM-INF:BANDWIDTH=5000000,RESOLUTION=1920x1080,CODECS="hvc1.1.6.L120,mp4a.40.2",AUDIO="aud"
1080/index.m3u8
#EXT-X-STREAM-INF:BANDWIDTH=2500000,RESOLUTION=1280x720,CODECS="avc1.64001f,mp4a.40.2",AUDIO="aud"
720/index.m3u8
#EXT-X-STREAM-INF:BANDWIDTH=800000,RESOLUTION=854x480,CODECS="avc1.4d401e,mp4a.40.2",AUDIO="aud"
480/index.m3u8
`

var testProxyKey = []byte("session-test-proxy-key-0123456789")

var movie = media.MediaDescriptor{Type: media.KindMovie, Title: "Inception", TmdbID: "27205", ReleaseYear: 2010}

type load struct {
	src     media.PlaybackSource
	startAt time.Duration
}

type fakePlayer struct {
	mu      sync.Mutex
	loads   []load
	seeks   []time.Duration
	plays   int
	pauses  int
	loadErr error
}

// Load records every attempt, including ones failed by loadErr.
func (p *fakePlayer) Load(src media.PlaybackSource, startAt time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.loads = append(p.loads, load{src: src, startAt: startAt})
	return p.loadErr
}

func (p *fakePlayer) failLoads(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.loadErr = err
}

func (p *fakePlayer) Play() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.plays++
	return nil
}

func (p *fakePlayer) Pause() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pauses++
	return nil
}

func (p *fakePlayer) Seek(pos time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seeks = append(p.seeks, pos)
	return nil
}

func (p *fakePlayer) loadCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.loads)
}

func (p *fakePlayer) lastLoad() load {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loads[len(p.loads)-1]
}

func (p *fakePlayer) seekList() []time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]time.Duration(nil), p.seeks...)
}

type fakeScraper struct {
	mu     sync.Mutex
	orders [][]string
	fn     func(ctx context.Context, order []string) (media.PlaybackSource, error)
}

func (s *fakeScraper) Scrape(ctx context.Context, _ media.MediaDescriptor, opts scrape.Options) (media.PlaybackSource, error) {
	s.mu.Lock()
	s.orders = append(s.orders, opts.SourceOrder)
	fn := s.fn
	s.mu.Unlock()
	return fn(ctx, opts.SourceOrder)
}

func (s *fakeScraper) calls() [][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]string(nil), s.orders...)
}

// staticScraper returns the provider named first in the order.
func staticScraper(uriFor func(sourceID string) string) *fakeScraper {
	return &fakeScraper{fn: func(_ context.Context, order []string) (media.PlaybackSource, error) {
		id := "default"
		if len(order) > 0 {
			id = order[0]
		}
		return media.PlaybackSource{URI: uriFor(id), SourceID: id}, nil
	}}
}

type fakeResolver struct {
	res resolver.Result
}

func (r fakeResolver) Resolve(context.Context, string, map[string]string) (resolver.Result, error) {
	return r.res, nil
}

type fakeWarmer struct {
	mu    sync.Mutex
	calls []string
}

func (w *fakeWarmer) Warm(_ context.Context, playlistURL string, _ map[string]string, _ int) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls = append(w.calls, playlistURL)
	return nil
}

func newManifestServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/master.m3u8" {
			_, _ = w.Write([]byte(masterPlaylist))
			return
		}
		http.NotFound(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

type harness struct {
	c       *Controller
	player  *fakePlayer
	scraper *fakeScraper
	clock   *ManualClock
	warmer  *fakeWarmer

	mu     sync.Mutex
	events []Event
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{
		player: &fakePlayer{},
		clock:  NewManualClock(time.Date(2025, 1, 1, 20, 0, 0, 0, time.UTC)),
		warmer: &fakeWarmer{},
	}
	if cfg.Player == nil {
		cfg.Player = h.player
	}
	if cfg.Scraper == nil {
		cfg.Scraper = staticScraper(func(string) string { return "https://cdn.example/movie.mp4" })
	}
	if s, ok := cfg.Scraper.(*fakeScraper); ok {
		h.scraper = s
	}
	if cfg.Warmer == nil {
		cfg.Warmer = h.warmer
	}
	cfg.Clock = h.clock
	cfg.OnEvent = func(ev Event) {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.events = append(h.events, ev)
	}
	c, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	h.c = c
	return h
}

func (h *harness) eventKinds() []EventKind {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]EventKind, 0, len(h.events))
	for _, ev := range h.events {
		out = append(out, ev.Kind)
	}
	return out
}

func (h *harness) countEvents(kind EventKind) int {
	n := 0
	for _, k := range h.eventKinds() {
		if k == kind {
			n++
		}
	}
	return n
}

// waitLoads blocks until the player saw n loads and background work settled.
func (h *harness) waitLoads(t *testing.T, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return h.player.loadCount() >= n }, 2*time.Second, 5*time.Millisecond)
	h.c.wg.Wait()
}

func playing(pos time.Duration) Status {
	return Status{IsPlaying: true, Position: pos, Duration: 2 * time.Hour}
}

func buffering(pos time.Duration) Status {
	return Status{IsPlaying: true, IsBuffering: true, Position: pos, Duration: 2 * time.Hour}
}
