// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package media holds the value types shared by the playback core: what to play
// (MediaDescriptor) and what was resolved for it (PlaybackSource).
package media

import (
	"fmt"
	"strings"
)

// Kind distinguishes movies from episodic content.
type Kind string

const (
	KindMovie Kind = "movie"
	KindShow  Kind = "show"
)

// StreamType is the container family of a resolved stream.
type StreamType string

const (
	StreamHLS  StreamType = "hls"
	StreamFile StreamType = "file"
)

// CaptionType is the subtitle payload format.
type CaptionType string

const (
	CaptionSRT CaptionType = "srt"
	CaptionVTT CaptionType = "vtt"
)

// MediaDescriptor identifies content to resolve a stream for.
// It is immutable for the lifetime of a scrape request.
type MediaDescriptor struct {
	Type        Kind   `json:"type"`
	Title       string `json:"title"`
	TmdbID      string `json:"tmdbId"`
	ImdbID      string `json:"imdbId,omitempty"`
	ReleaseYear int    `json:"releaseYear"`
	Season      int    `json:"season,omitempty"`
	Episode     int    `json:"episode,omitempty"`
}

// IsEpisode reports whether the descriptor points at a single episode.
func (d MediaDescriptor) IsEpisode() bool {
	return d.Type == KindShow && d.Episode > 0
}

// Key returns a stable identifier used for resume positions and prefetch bookkeeping.
func (d MediaDescriptor) Key() string {
	if d.IsEpisode() {
		return fmt.Sprintf("%s:%s:s%de%d", d.Type, d.TmdbID, d.Season, d.Episode)
	}
	return fmt.Sprintf("%s:%s", d.Type, d.TmdbID)
}

// WithEpisode returns a copy pointing at another episode of the same show.
func (d MediaDescriptor) WithEpisode(season, episode int) MediaDescriptor {
	d.Season = season
	d.Episode = episode
	return d
}

// Validate checks the minimum identity needed by the resolution service.
func (d MediaDescriptor) Validate() error {
	switch d.Type {
	case KindMovie, KindShow:
	default:
		return fmt.Errorf("media: unknown type %q", d.Type)
	}
	if strings.TrimSpace(d.TmdbID) == "" {
		return fmt.Errorf("media: tmdbId is required")
	}
	if d.Type == KindShow && (d.Season < 0 || d.Episode < 0) {
		return fmt.Errorf("media: negative season/episode")
	}
	return nil
}

// CaptionSource declares one subtitle track. Cues are fetched lazily by ID.
type CaptionSource struct {
	ID       string      `json:"id"`
	Type     CaptionType `json:"type"`
	URL      string      `json:"url"`
	Language string      `json:"language,omitempty"`
	Display  string      `json:"display,omitempty"`
}

// CaptionCue is one timed subtitle entry. Start <= End always holds for parsed cues.
type CaptionCue struct {
	Start int64  `json:"start"`
	End   int64  `json:"end"`
	Text  string `json:"text"`
}

// QualityVariant is a provider-declared quality entry (usually file streams).
type QualityVariant struct {
	Type StreamType `json:"type"`
	URL  string     `json:"url"`
}

// PlaybackSource is one resolved, playable stream. It is replaced wholesale on
// source, quality or episode change and never mutated in place.
type PlaybackSource struct {
	URI        string                    `json:"uri"`
	Headers    map[string]string         `json:"headers,omitempty"`
	StreamType StreamType                `json:"streamType,omitempty"`
	Captions   []CaptionSource           `json:"captions,omitempty"`
	Qualities  map[string]QualityVariant `json:"qualities,omitempty"`
	SourceID   string                    `json:"sourceId,omitempty"`
	EmbedID    string                    `json:"embedId,omitempty"`
}

// IsHLS reports whether the source is (or looks like) an HLS stream.
func (s PlaybackSource) IsHLS() bool {
	if s.StreamType == StreamHLS {
		return true
	}
	if s.StreamType == StreamFile {
		return false
	}
	return LooksLikeHLS(s.URI)
}

// WithURI returns a copy of s pointing at uri with a fresh header map.
func (s PlaybackSource) WithURI(uri string, headers map[string]string) PlaybackSource {
	out := s.clone()
	out.URI = uri
	out.Headers = CloneHeaders(headers)
	return out
}

func (s PlaybackSource) clone() PlaybackSource {
	out := s
	out.Headers = CloneHeaders(s.Headers)
	if s.Captions != nil {
		out.Captions = append([]CaptionSource(nil), s.Captions...)
	}
	if s.Qualities != nil {
		out.Qualities = make(map[string]QualityVariant, len(s.Qualities))
		for k, v := range s.Qualities {
			out.Qualities[k] = v
		}
	}
	return out
}

// CloneHeaders copies a header map; nil stays nil.
func CloneHeaders(h map[string]string) map[string]string {
	if h == nil {
		return nil
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}

// LooksLikeHLS reports whether the URL path names an m3u8 playlist.
func LooksLikeHLS(uri string) bool {
	return strings.Contains(strings.ToLower(stripQuery(uri)), ".m3u8")
}

// LooksLikeFile reports whether the URL path names a progressive mp4 file.
func LooksLikeFile(uri string) bool {
	return strings.HasSuffix(strings.ToLower(stripQuery(uri)), ".mp4")
}

// LooksPlayable reports whether uri can be handed to a player without probing.
func LooksPlayable(uri string) bool {
	return LooksLikeHLS(uri) || LooksLikeFile(uri)
}

func stripQuery(uri string) string {
	if i := strings.IndexAny(uri, "?#"); i >= 0 {
		return uri[:i]
	}
	return uri
}
