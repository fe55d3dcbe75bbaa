// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package scrape

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mzazimhenga22/movieflix/internal/log"
	"github.com/mzazimhenga22/movieflix/internal/media"
)

var show = media.MediaDescriptor{Type: media.KindShow, Title: "Show", TmdbID: "1399", Season: 1, Episode: 2}

func TestScrape_DecodesSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []string{"b", "c", "a"}, req.SourceOrder)
		assert.Equal(t, 2, req.Media.Episode)
		assert.Equal(t, "req-1", r.Header.Get("X-Request-ID"))

		_, _ = w.Write([]byte(`{
			"uri": "https://cdn/x/master.m3u8",
			"headers": {"Referer": "https://prov/"},
			"stream": {"type": "hls", "preferredHeaders": {"Origin": "https://prov", "Referer": "ignored"},
			           "captions": [{"id": "en", "type": "vtt", "url": "https://subs/en.vtt", "language": "en"}]},
			"sourceId": "b",
			"embedId": "mixdrop"
		}`))
	}))
	defer srv.Close()

	c, err := NewClient(Config{Endpoint: srv.URL, Client: srv.Client()})
	require.NoError(t, err)

	ctx := log.ContextWithRequestID(context.Background(), "req-1")
	src, err := c.Scrape(ctx, show, Options{SourceOrder: []string{"b", "c", "a"}})
	require.NoError(t, err)

	want := media.PlaybackSource{
		URI:        "https://cdn/x/master.m3u8",
		Headers:    map[string]string{"Referer": "https://prov/", "Origin": "https://prov"},
		StreamType: media.StreamHLS,
		Captions:   []media.CaptionSource{{ID: "en", Type: media.CaptionVTT, URL: "https://subs/en.vtt", Language: "en"}},
		SourceID:   "b",
		EmbedID:    "mixdrop",
	}
	if diff := cmp.Diff(want, src); diff != "" {
		t.Fatalf("source mismatch (-want +got):\n%s", diff)
	}
}

func TestScrape_Failures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req request
		_ = json.NewDecoder(r.Body).Decode(&req)
		switch req.DebugTag {
		case "404":
			w.WriteHeader(http.StatusNotFound)
		case "500":
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte(`{"error":"all providers failed"}`))
		default:
			_, _ = w.Write([]byte(`{}`))
		}
	}))
	defer srv.Close()
	c, err := NewClient(Config{Endpoint: srv.URL, Client: srv.Client()})
	require.NoError(t, err)

	for _, tag := range []string{"404", "500", "empty"} {
		_, err := c.Scrape(context.Background(), show, Options{DebugTag: tag})
		assert.ErrorIs(t, err, media.ErrStreamUnavailable, tag)
	}

	_, err = c.Scrape(context.Background(), media.MediaDescriptor{}, Options{})
	assert.Error(t, err)

	_, err = NewClient(Config{})
	assert.Error(t, err)
}

func TestRotateOrder(t *testing.T) {
	order := []string{"a", "b", "c", "d"}
	assert.Equal(t, []string{"c", "d", "a", "b"}, RotateOrder(order, "b"))
	assert.Equal(t, []string{"a", "b", "c", "d"}, RotateOrder(order, "d"))
	assert.Equal(t, order, RotateOrder(order, "zzz"))
	assert.Equal(t, order, RotateOrder(order, ""))
	assert.Empty(t, RotateOrder(nil, "a"))

	// input untouched
	assert.Equal(t, []string{"a", "b", "c", "d"}, order)
}
