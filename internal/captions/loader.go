// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package captions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/mzazimhenga22/movieflix/internal/cache"
	"github.com/mzazimhenga22/movieflix/internal/media"
	"github.com/mzazimhenga22/movieflix/internal/metrics"
	"github.com/mzazimhenga22/movieflix/internal/platform/httpx"
)

const maxCaptionBytes = 5 << 20

// ErrEmpty is returned when a payload yields no cues.
var ErrEmpty = errors.New("captions: no cues in payload")

// Doer is the subset of *http.Client used to fetch caption files.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// LoaderConfig configures a Loader.
type LoaderConfig struct {
	Client Doer
	Cache  cache.Cache
	TTL    time.Duration
	Logger zerolog.Logger
}

// Loader downloads and parses caption files. Concurrent loads of the same URL
// share one request, and parsed cues are cached.
type Loader struct {
	client Doer
	cache  cache.Cache
	ttl    time.Duration
	logger zerolog.Logger
	group  singleflight.Group
}

// NewLoader builds a Loader. A nil client gets a hardened default client and a nil
// cache disables caching.
func NewLoader(cfg LoaderConfig) *Loader {
	l := &Loader{client: cfg.Client, cache: cfg.Cache, ttl: cfg.TTL, logger: cfg.Logger}
	if l.client == nil {
		l.client = httpx.NewClient(15 * time.Second)
	}
	if l.cache == nil {
		l.cache = cache.NewNoOpCache()
	}
	if l.ttl <= 0 {
		l.ttl = 30 * time.Minute
	}
	return l
}

// Load returns the cues for src, fetching with the given request headers.
func (l *Loader) Load(ctx context.Context, src media.CaptionSource, headers map[string]string) ([]media.CaptionCue, error) {
	key := "captions:" + src.URL
	if raw, ok := l.cache.Get(key); ok {
		var cues []media.CaptionCue
		if err := json.Unmarshal(raw, &cues); err == nil {
			return cues, nil
		}
	}

	v, err, shared := l.group.Do(key, func() (any, error) {
		payload, err := l.fetch(ctx, src.URL, headers)
		if err != nil {
			return nil, err
		}
		kind := src.Type
		if kind == "" {
			kind = DetectType(payload, src.URL)
		}
		cues := Parse(payload, kind)
		if len(cues) == 0 {
			return nil, ErrEmpty
		}
		if raw, err := json.Marshal(cues); err == nil {
			l.cache.Set(key, raw, l.ttl)
		}
		return cues, nil
	})
	format := string(src.Type)
	if format == "" {
		format = "unknown"
	}
	if err != nil {
		metrics.RecordCaptionLoad(format, "error")
		l.logger.Warn().Err(err).Str("caption_id", src.ID).Msg("caption load failed")
		return nil, err
	}
	metrics.RecordCaptionLoad(format, "ok")
	cues := v.([]media.CaptionCue)
	l.logger.Debug().
		Str("caption_id", src.ID).
		Int("cues", len(cues)).
		Bool("shared", shared).
		Msg("captions loaded")
	return cues, nil
}

func (l *Loader) fetch(ctx context.Context, url string, headers map[string]string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("captions: build request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("captions: fetch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("captions: fetch: unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxCaptionBytes))
	if err != nil {
		return "", fmt.Errorf("captions: read: %w", err)
	}
	return string(body), nil
}

// PickDefault chooses the caption to enable automatically: the first English
// source, otherwise the first source. ok is false when auto-enable is off or
// there is nothing to pick.
func PickDefault(sources []media.CaptionSource, autoEnable bool) (media.CaptionSource, bool) {
	if !autoEnable || len(sources) == 0 {
		return media.CaptionSource{}, false
	}
	for _, s := range sources {
		if media.IsEnglish(s.Language) || media.IsEnglish(s.Display) {
			return s, true
		}
	}
	return sources[0], true
}
