// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package captions parses SRT and WebVTT payloads into timed cues and tracks
// the active cue during playback.
package captions

import (
	"html"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/mzazimhenga22/movieflix/internal/media"
)

var (
	blockSeparator = regexp.MustCompile(`\n[ \t]*\n`)
	markupTag      = regexp.MustCompile(`<[^>]*>`)
)

// Parse converts an SRT or VTT payload into cues sorted by start time.
// Malformed blocks are dropped; parsing never fails.
func Parse(payload string, kind media.CaptionType) []media.CaptionCue {
	text := strings.TrimPrefix(payload, "\ufeff")
	text = strings.ReplaceAll(text, "\r", "")
	text = strings.TrimSpace(text)
	if kind == media.CaptionVTT || strings.HasPrefix(text, "WEBVTT") {
		text = dropHeader(text)
	}

	var cues []media.CaptionCue
	for _, block := range blockSeparator.Split(text, -1) {
		if cue, ok := parseBlock(block); ok {
			cues = append(cues, cue)
		}
	}
	sort.SliceStable(cues, func(i, j int) bool { return cues[i].Start < cues[j].Start })
	return cues
}

// DetectType guesses the caption format from the payload, falling back to the
// URL extension.
func DetectType(payload, url string) media.CaptionType {
	if strings.HasPrefix(strings.TrimPrefix(strings.TrimSpace(payload), "\ufeff"), "WEBVTT") {
		return media.CaptionVTT
	}
	p := strings.ToLower(url)
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	if strings.HasSuffix(p, ".vtt") {
		return media.CaptionVTT
	}
	return media.CaptionSRT
}

func dropHeader(text string) string {
	if !strings.HasPrefix(text, "WEBVTT") {
		return text
	}
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		return text[i+1:]
	}
	return ""
}

func parseBlock(block string) (media.CaptionCue, bool) {
	lines := strings.Split(strings.Trim(block, "\n"), "\n")
	if len(lines) == 0 {
		return media.CaptionCue{}, false
	}

	// SRT index or VTT cue identifier
	if !strings.Contains(lines[0], "-->") {
		if !isIndex(lines[0]) && (len(lines) < 2 || !strings.Contains(lines[1], "-->")) {
			return media.CaptionCue{}, false
		}
		lines = lines[1:]
	}
	if len(lines) == 0 || !strings.Contains(lines[0], "-->") {
		return media.CaptionCue{}, false
	}

	start, end, ok := parseTiming(lines[0])
	if !ok || end < start {
		return media.CaptionCue{}, false
	}

	body := strings.Join(lines[1:], "\n")
	body = markupTag.ReplaceAllString(body, "")
	body = strings.TrimSpace(html.UnescapeString(body))
	if body == "" {
		return media.CaptionCue{}, false
	}
	return media.CaptionCue{Start: start, End: end, Text: body}, true
}

func isIndex(line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	_, err := strconv.Atoi(line)
	return err == nil
}

func parseTiming(line string) (start, end int64, ok bool) {
	left, right, found := strings.Cut(line, "-->")
	if !found {
		return 0, 0, false
	}
	// VTT cue settings follow the end time
	fields := strings.Fields(right)
	if len(fields) == 0 {
		return 0, 0, false
	}
	if start, ok = ParseTimestamp(strings.TrimSpace(left)); !ok {
		return 0, 0, false
	}
	if end, ok = ParseTimestamp(fields[0]); !ok {
		return 0, 0, false
	}
	return start, end, true
}

// ParseTimestamp reads HH:MM:SS.mmm or HH:MM:SS,mmm into milliseconds. Missing
// leading components count as zero, so "05.250" and "01:05.250" are accepted.
func ParseTimestamp(ts string) (int64, bool) {
	ts = strings.TrimSpace(ts)
	if ts == "" {
		return 0, false
	}
	clock, frac, hasFrac := strings.Cut(strings.ReplaceAll(ts, ",", "."), ".")
	parts := strings.Split(clock, ":")
	if len(parts) > 3 {
		return 0, false
	}

	var total int64
	for _, p := range parts {
		n, ok := digits(p)
		if !ok {
			return 0, false
		}
		total = total*60 + n
	}
	ms := total * 1000
	if hasFrac {
		if frac == "" || !allDigits(frac) {
			return 0, false
		}
		// milliseconds; extra precision is truncated
		frac = (frac + "00")[:3]
		n, _ := strconv.Atoi(frac)
		ms += int64(n)
	}
	return ms, true
}

// digits parses a non-empty run of at most nine ASCII digits.
func digits(s string) (int64, bool) {
	if s == "" || len(s) > 9 || !allDigits(s) {
		return 0, false
	}
	n, err := strconv.Atoi(s)
	return int64(n), err == nil
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
