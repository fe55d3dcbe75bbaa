// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package resolver

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/mzazimhenga22/movieflix/internal/hls"
	"github.com/mzazimhenga22/movieflix/internal/media"
)

var (
	// file: "...", source: '...', src="..."
	literalPattern = regexp.MustCompile(`(?i)\b(?:file|source|src)\s*[:=]\s*["']([^"'\s]+\.(?:m3u8|mp4)[^"'\s]*)["']`)
	bareURLPattern = regexp.MustCompile(`(?i)(?:https?:)?//[^\s"'<>\\]+?\.(?:m3u8|mp4)(?:\?[^\s"'<>\\]*)?`)
	mp4Pattern     = regexp.MustCompile(`(?i)(?:https?:)?//[^\s"'<>\\]+?\.mp4(?:\?[^\s"'<>\\]*)?`)

	mixdropPatterns = []*regexp.Regexp{
		regexp.MustCompile(`MDCore\.wurl\s*=\s*["']([^"']+)["']`),
		regexp.MustCompile(`MDCore\.vsrc\s*=\s*["']([^"']+)["']`),
		regexp.MustCompile(`\bsource\s*:\s*["']([^"']+)["']`),
	}

	// document.getElementById('robotlink').innerHTML = '//host/get_video?id=..'+ ('xyz&token=..').substring(3)
	robotlinkPattern = regexp.MustCompile(`robotlink'\)\.innerHTML\s*=\s*'([^']+)'\s*\+\s*\(?'([^']+)'\)?\.substring\((\d+)\)`)
)

// absolutize resolves protocol-relative and relative references against page.
func absolutize(page, ref string) string {
	ref = strings.TrimSpace(strings.ReplaceAll(ref, `\/`, "/"))
	if strings.HasPrefix(ref, "//") {
		return "https:" + ref
	}
	return hls.ResolveURI(page, ref)
}

// scanPlayable looks for an HLS or MP4 reference in an HTML or JS body.
func scanPlayable(page, body string) (string, bool) {
	if u, ok := scanDOM(page, body); ok {
		return u, true
	}
	if m := literalPattern.FindStringSubmatch(body); m != nil {
		return absolutize(page, m[1]), true
	}
	if m := bareURLPattern.FindString(body); m != "" {
		return absolutize(page, m), true
	}
	return "", false
}

// scanDOM reads <video src> and <source src> elements.
func scanDOM(page, body string) (string, bool) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return "", false
	}
	var found string
	doc.Find("video[src], video source[src], source[src]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		src, _ := s.Attr("src")
		if src == "" {
			return true
		}
		abs := absolutize(page, src)
		if media.LooksPlayable(abs) {
			found = abs
			return false
		}
		return true
	})
	return found, found != ""
}

func scanMixdrop(page, body string) (string, bool) {
	for _, re := range mixdropPatterns {
		if m := re.FindStringSubmatch(body); m != nil && m[1] != "" {
			return absolutize(page, m[1]), true
		}
	}
	if u, ok := scanDOM(page, body); ok {
		return u, true
	}
	return "", false
}

func scanStreamtape(page, body string) (string, bool) {
	if m := robotlinkPattern.FindStringSubmatch(body); m != nil {
		if n, err := strconv.Atoi(m[3]); err == nil && n <= len(m[2]) {
			return absolutize(page, m[1]+m[2][n:]), true
		}
	}
	if m := mp4Pattern.FindString(body); m != "" {
		return absolutize(page, m), true
	}
	return "", false
}
