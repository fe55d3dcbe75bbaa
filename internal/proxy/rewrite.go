// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package proxy

import (
	"regexp"
	"strings"

	"github.com/mzazimhenga22/movieflix/internal/hls"
	"github.com/mzazimhenga22/movieflix/internal/resolver"
)

var uriAttr = regexp.MustCompile(`URI="([^"]*)"`)

// RewritePlaylist points every URI in an HLS playlist at the proxy: variant
// and segment lines plus URI="..." attributes of tags such as EXT-X-KEY,
// EXT-X-MEDIA and EXT-X-MAP. References resolve against playlistURL and
// keep the upstream headers; the new tokens are signed with key.
func RewritePlaylist(body, playlistURL, base string, key []byte, headers map[string]string) string {
	wrap := func(ref string) string {
		abs := hls.ResolveURI(playlistURL, ref)
		return resolver.ProxyURL(base, key, abs, headers)
	}

	lines := strings.Split(strings.ReplaceAll(body, "\r\n", "\n"), "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		switch {
		case trimmed == "":
		case strings.HasPrefix(trimmed, "#"):
			if strings.Contains(trimmed, `URI="`) {
				lines[i] = uriAttr.ReplaceAllStringFunc(trimmed, func(m string) string {
					ref := uriAttr.FindStringSubmatch(m)[1]
					if ref == "" || strings.HasPrefix(ref, "data:") || strings.HasPrefix(ref, "skd:") {
						return m
					}
					return `URI="` + wrap(ref) + `"`
				})
			}
		default:
			lines[i] = wrap(trimmed)
		}
	}
	return strings.Join(lines, "\n")
}

func isPlaylist(contentType, head string) bool {
	if strings.Contains(strings.ToLower(contentType), "mpegurl") {
		return true
	}
	return strings.HasPrefix(strings.TrimPrefix(head, "\ufeff"), "#EXTM3U")
}
