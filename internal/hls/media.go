// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package hls

import (
	"strconv"
	"strings"
	"time"
)

// Segment is one media segment of a media playlist.
type Segment struct {
	URI      string
	Duration time.Duration
	// Start is the cumulative EXTINF offset of the segment within the playlist.
	Start time.Duration
}

// MediaPlaylist is the timeline derived from a media playlist.
type MediaPlaylist struct {
	Segments       []Segment
	TargetDuration time.Duration
	TotalDuration  time.Duration
	IsVOD          bool // #EXT-X-PLAYLIST-TYPE:VOD or #EXT-X-ENDLIST
}

// ParseMediaPlaylist extracts segments with their EXTINF durations. Segment URIs
// are resolved against playlistURL. Malformed EXTINF values count as zero length.
func ParseMediaPlaylist(playlist, playlistURL string) MediaPlaylist {
	var (
		out          MediaPlaylist
		nextDuration time.Duration
		hasEndList   bool
		typeVOD      bool
	)

	scanner := newScanner(playlist)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch {
		case strings.HasPrefix(line, "#EXT-X-PLAYLIST-TYPE:VOD"):
			typeVOD = true
			continue
		case line == "#EXT-X-ENDLIST":
			hasEndList = true
			continue
		case strings.HasPrefix(line, "#EXT-X-TARGETDURATION:"):
			if secs, err := strconv.ParseFloat(strings.TrimPrefix(line, "#EXT-X-TARGETDURATION:"), 64); err == nil {
				out.TargetDuration = seconds(secs)
			}
			continue
		case strings.HasPrefix(line, "#EXTINF:"):
			// Format: #EXTINF:10.000,title
			durPart := strings.TrimPrefix(line, "#EXTINF:")
			if idx := strings.Index(durPart, ","); idx != -1 {
				durPart = durPart[:idx]
			}
			nextDuration = 0
			if secs, err := strconv.ParseFloat(strings.TrimSpace(durPart), 64); err == nil && secs > 0 {
				nextDuration = seconds(secs)
			}
			continue
		case strings.HasPrefix(line, "#"):
			continue
		}

		// URI line: start of a segment
		out.Segments = append(out.Segments, Segment{
			URI:      ResolveURI(playlistURL, line),
			Duration: nextDuration,
			Start:    out.TotalDuration,
		})
		out.TotalDuration += nextDuration
		nextDuration = 0
	}

	out.IsVOD = typeVOD || hasEndList
	return out
}

// Window returns the segments starting at or after from whose cumulative
// duration stays within budget, capped at maxSegments. The segment containing
// from is included; one ending exactly at from is not. A zero-duration
// segment before from is skipped, one at or after it counts against
// maxSegments.
func (p MediaPlaylist) Window(from, budget time.Duration, maxSegments int) []Segment {
	if maxSegments <= 0 || budget <= 0 {
		return nil
	}
	var (
		out  []Segment
		used time.Duration
	)
	for _, seg := range p.Segments {
		if seg.Start < from && seg.Start+seg.Duration <= from {
			continue
		}
		if len(out) > 0 && used+seg.Duration > budget {
			break
		}
		out = append(out, seg)
		used += seg.Duration
		if len(out) >= maxSegments {
			break
		}
	}
	return out
}

func seconds(secs float64) time.Duration {
	return time.Duration(secs * float64(time.Second))
}
