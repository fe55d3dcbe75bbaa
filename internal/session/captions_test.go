// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mzazimhenga22/movieflix/internal/media"
)

type fakeCaptions struct {
	mu    sync.Mutex
	cues  []media.CaptionCue
	err   error
	asked []string
}

func (f *fakeCaptions) Load(_ context.Context, src media.CaptionSource, _ map[string]string) ([]media.CaptionCue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.asked = append(f.asked, src.URL)
	return f.cues, f.err
}

func withCaptions(order ...string) *fakeScraper {
	return &fakeScraper{fn: func(context.Context, []string) (media.PlaybackSource, error) {
		src := media.PlaybackSource{URI: "https://cdn.example/movie.mp4", SourceID: "alpha"}
		for _, lang := range order {
			src.Captions = append(src.Captions, media.CaptionSource{
				ID: lang, Type: media.CaptionVTT, URL: "https://subs.example/" + lang + ".vtt", Language: lang,
			})
		}
		return src, nil
	}}
}

func TestActiveCue_FollowsPosition(t *testing.T) {
	loader := &fakeCaptions{cues: []media.CaptionCue{
		{Start: 1000, End: 2000, Text: "Hello"},
		{Start: 9000, End: 11000, Text: "World"},
	}}
	h := newHarness(t, Config{
		Scraper:  withCaptions("de", "en"),
		Captions: loader,
		Settings: Settings{AutoEnableCaptions: true},
	})
	require.NoError(t, h.c.Open(context.Background(), movie, OpenOptions{}))
	h.c.wg.Wait()
	assert.Equal(t, []string{"https://subs.example/en.vtt"}, loader.asked, "english is the default track")

	h.c.OnStatus(playing(1500 * time.Millisecond))
	assert.Equal(t, "Hello", h.c.Snapshot().ActiveCue)

	h.c.OnStatus(playing(2500 * time.Millisecond))
	assert.Empty(t, h.c.Snapshot().ActiveCue)

	require.NoError(t, h.c.Seek(10*time.Second))
	assert.Equal(t, "World", h.c.Snapshot().ActiveCue)

	// the player reports an earlier position
	h.c.OnStatus(playing(1200 * time.Millisecond))
	assert.Equal(t, "Hello", h.c.Snapshot().ActiveCue)
}

func TestActiveCue_Gates(t *testing.T) {
	t.Run("captions off", func(t *testing.T) {
		loader := &fakeCaptions{cues: []media.CaptionCue{{Start: 0, End: 5000, Text: "x"}}}
		h := newHarness(t, Config{Scraper: withCaptions("en"), Captions: loader})
		require.NoError(t, h.c.Open(context.Background(), movie, OpenOptions{}))
		h.c.wg.Wait()
		h.c.OnStatus(playing(time.Second))
		assert.Empty(t, h.c.Snapshot().ActiveCue)
		assert.Empty(t, loader.asked)
	})

	t.Run("load failure", func(t *testing.T) {
		loader := &fakeCaptions{err: errors.New("gone")}
		h := newHarness(t, Config{Scraper: withCaptions("en"), Captions: loader, Settings: Settings{AutoEnableCaptions: true}})
		require.NoError(t, h.c.Open(context.Background(), movie, OpenOptions{}))
		h.c.wg.Wait()
		h.c.OnStatus(playing(time.Second))
		assert.Equal(t, PhasePlaying, h.c.Snapshot().Phase)
		assert.Empty(t, h.c.Snapshot().ActiveCue)
	})

	t.Run("new source drops the old track", func(t *testing.T) {
		loader := &fakeCaptions{cues: []media.CaptionCue{{Start: 0, End: 60000, Text: "first"}}}
		h := newHarness(t, Config{Scraper: withCaptions("en"), Captions: loader, Settings: Settings{AutoEnableCaptions: true}})
		require.NoError(t, h.c.Open(context.Background(), movie, OpenOptions{}))
		h.c.wg.Wait()
		h.c.OnStatus(playing(time.Second))
		require.Equal(t, "first", h.c.Snapshot().ActiveCue)

		require.NoError(t, h.c.OpenURL(context.Background(), "https://mirror.example/m.mp4", nil))
		h.c.wg.Wait()
		assert.Empty(t, h.c.Snapshot().ActiveCue)
	})
}
