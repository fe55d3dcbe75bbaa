// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package hls analyzes HLS master and media playlists: audio renditions, quality
// variants, subtitle tracks and media segments. Parsing never fails hard; a
// manifest the analyzer cannot understand yields empty results.
package hls

import (
	"bufio"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/mzazimhenga22/movieflix/internal/media"
)

const (
	tagMedia     = "#EXT-X-MEDIA:"
	tagStreamInf = "#EXT-X-STREAM-INF:"
)

// AudioTrackOption is one EXT-X-MEDIA TYPE=AUDIO rendition.
type AudioTrackOption struct {
	ID         string `json:"id"`
	GroupID    string `json:"groupId,omitempty"`
	Name       string `json:"name"`
	Language   string `json:"language,omitempty"`
	URI        string `json:"uri,omitempty"`
	Default    bool   `json:"default"`
	Autoselect bool   `json:"autoselect"`
	Channels   string `json:"channels,omitempty"`
}

// QualityOption is one EXT-X-STREAM-INF variant.
type QualityOption struct {
	ID         string `json:"id"`
	Label      string `json:"label"`
	URI        string `json:"uri"`
	Width      int    `json:"width,omitempty"`
	Height     int    `json:"height,omitempty"`
	Bandwidth  int64  `json:"bandwidth,omitempty"`
	Codecs     string `json:"codecs,omitempty"`
	AudioGroup string `json:"audioGroup,omitempty"`
}

// HasResolution reports whether the variant declared a RESOLUTION.
func (q QualityOption) HasResolution() bool { return q.Height > 0 }

// Analysis bundles everything the analyzer extracts from one manifest.
type Analysis struct {
	IsMaster  bool                  `json:"isMaster"`
	Audio     []AudioTrackOption    `json:"audio"`
	Qualities []QualityOption       `json:"qualities"`
	Subtitles []media.CaptionSource `json:"subtitles"`
}

// Analyze runs all master-playlist parsers over manifestText.
func Analyze(manifestText, manifestURL string) Analysis {
	return Analysis{
		IsMaster:  IsMasterPlaylist(manifestText),
		Audio:     ParseAudioTracks(manifestText),
		Qualities: ParseQualityOptions(manifestText, manifestURL),
		Subtitles: ParseSubtitleTracks(manifestText, manifestURL),
	}
}

// IsMasterPlaylist reports whether the text declares variant streams.
func IsMasterPlaylist(manifestText string) bool {
	return strings.Contains(manifestText, tagStreamInf)
}

// ParseAudioTracks returns the AUDIO renditions in manifest order.
func ParseAudioTracks(manifestText string) []AudioTrackOption {
	var tracks []AudioTrackOption
	forEachMedia(manifestText, "AUDIO", func(attrs Attributes) {
		track := AudioTrackOption{
			ID:         fmt.Sprintf("audio-%d", len(tracks)),
			GroupID:    attrs["GROUP-ID"],
			Name:       attrs["NAME"],
			Language:   attrs["LANGUAGE"],
			URI:        attrs["URI"],
			Default:    attrs.Bool("DEFAULT"),
			Autoselect: attrs.Bool("AUTOSELECT"),
			Channels:   attrs["CHANNELS"],
		}
		if track.Name == "" {
			track.Name = media.LanguageDisplay(track.Language)
		}
		if track.Name == "" {
			track.Name = fmt.Sprintf("Track %d", len(tracks)+1)
		}
		tracks = append(tracks, track)
	})
	return tracks
}

// ParseSubtitleTracks returns SUBTITLES renditions whose URI points at a single
// .vtt or .srt file. Playlist-backed (segmented) WebVTT renditions are skipped.
func ParseSubtitleTracks(manifestText, manifestURL string) []media.CaptionSource {
	var out []media.CaptionSource
	forEachMedia(manifestText, "SUBTITLES", func(attrs Attributes) {
		uri := attrs["URI"]
		if uri == "" {
			return
		}
		var kind media.CaptionType
		switch ext := strings.ToLower(pathOf(uri)); {
		case strings.HasSuffix(ext, ".vtt"):
			kind = media.CaptionVTT
		case strings.HasSuffix(ext, ".srt"):
			kind = media.CaptionSRT
		default:
			return
		}
		lang := attrs["LANGUAGE"]
		display := attrs["NAME"]
		if display == "" {
			display = media.LanguageDisplay(lang)
		}
		out = append(out, media.CaptionSource{
			ID:       fmt.Sprintf("hls-sub-%d", len(out)),
			Type:     kind,
			URL:      ResolveURI(manifestURL, uri),
			Language: lang,
			Display:  display,
		})
	})
	return out
}

// ParseQualityOptions returns the STREAM-INF variants with URIs resolved against
// manifestURL, ordered by resolution height then bandwidth, both descending.
// A STREAM-INF with no following URI line is dropped.
func ParseQualityOptions(manifestText, manifestURL string) []QualityOption {
	var (
		out     []QualityOption
		pending Attributes
		index   int
	)
	scanner := newScanner(manifestText)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, tagStreamInf) {
			pending = ParseAttributes(strings.TrimPrefix(line, tagStreamInf))
			continue
		}
		if strings.HasPrefix(line, "#") {
			continue
		}
		if pending == nil {
			continue
		}
		opt := QualityOption{
			ID:         fmt.Sprintf("variant-%d", index),
			URI:        ResolveURI(manifestURL, line),
			Bandwidth:  pending.Int("BANDWIDTH"),
			Codecs:     pending["CODECS"],
			AudioGroup: pending["AUDIO"],
		}
		if opt.Bandwidth == 0 {
			opt.Bandwidth = pending.Int("AVERAGE-BANDWIDTH")
		}
		if w, h, ok := pending.Resolution(); ok {
			opt.Width, opt.Height = w, h
		}
		opt.Label = FormatLabel(opt.Height, opt.Bandwidth)
		out = append(out, opt)
		pending = nil
		index++
	}
	SortByQuality(out)
	return out
}

// SortByQuality orders variants by height, then bandwidth, both descending.
func SortByQuality(opts []QualityOption) {
	sort.SliceStable(opts, func(i, j int) bool {
		if opts[i].Height != opts[j].Height {
			return opts[i].Height > opts[j].Height
		}
		return opts[i].Bandwidth > opts[j].Bandwidth
	})
}

// FormatLabel renders "1080p • 2.0 Mbps", a bandwidth-only label, or "Variant".
func FormatLabel(height int, bandwidth int64) string {
	bw := FormatBandwidth(bandwidth)
	switch {
	case height > 0 && bw != "":
		return fmt.Sprintf("%dp • %s", height, bw)
	case height > 0:
		return fmt.Sprintf("%dp", height)
	case bw != "":
		return bw
	default:
		return "Variant"
	}
}

// FormatBandwidth renders bits per second as Mbps or kbps.
func FormatBandwidth(bps int64) string {
	switch {
	case bps <= 0:
		return ""
	case bps >= 1_000_000:
		return fmt.Sprintf("%.1f Mbps", float64(bps)/1_000_000)
	default:
		return fmt.Sprintf("%d kbps", (bps+500)/1000)
	}
}

// ResolveURI resolves ref against the manifest URL. Absolute refs are returned
// unchanged, and so is ref when the base cannot be parsed.
func ResolveURI(base, ref string) string {
	ref = strings.TrimSpace(ref)
	r, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	if r.IsAbs() {
		return ref
	}
	b, err := url.Parse(base)
	if err != nil || base == "" {
		return ref
	}
	return b.ResolveReference(r).String()
}

// PreferredAudio picks the English rendition when preferEnglish is set, otherwise
// the DEFAULT one, otherwise the first. ok is false for an empty list.
func PreferredAudio(tracks []AudioTrackOption, preferEnglish bool) (AudioTrackOption, bool) {
	if len(tracks) == 0 {
		return AudioTrackOption{}, false
	}
	if preferEnglish {
		for _, t := range tracks {
			if media.IsEnglish(t.Language) || media.IsEnglish(t.Name) {
				return t, true
			}
		}
	}
	for _, t := range tracks {
		if t.Default {
			return t, true
		}
	}
	return tracks[0], true
}

func forEachMedia(manifestText, mediaType string, fn func(Attributes)) {
	scanner := newScanner(manifestText)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, tagMedia) {
			continue
		}
		attrs := ParseAttributes(strings.TrimPrefix(line, tagMedia))
		if !strings.EqualFold(attrs["TYPE"], mediaType) {
			continue
		}
		fn(attrs)
	}
}

func newScanner(text string) *bufio.Scanner {
	scanner := bufio.NewScanner(strings.NewReader(strings.TrimPrefix(text, "\ufeff")))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return scanner
}

func pathOf(uri string) string {
	if i := strings.IndexAny(uri, "?#"); i >= 0 {
		return uri[:i]
	}
	return uri
}
