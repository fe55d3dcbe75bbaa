// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package hls

import (
	"sort"
	"strings"
)

// codecRank: H.264 first, unknown/other next, HEVC last.
func codecRank(codecs string) int {
	c := strings.ToLower(codecs)
	switch {
	case strings.Contains(c, "avc1") || strings.Contains(c, "avc3"):
		return 0
	case strings.Contains(c, "hvc1") || strings.Contains(c, "hev1"):
		return 2
	default:
		return 1
	}
}

// IsHEVC reports whether the CODECS string names an HEVC video track.
func IsHEVC(codecs string) bool {
	return codecRank(codecs) == 2
}

// SortByCompatibility returns a copy of opts ordered for error-recovery fallback:
// variants advertising H.264 before unknown codecs before HEVC, then by quality.
func SortByCompatibility(opts []QualityOption) []QualityOption {
	out := append([]QualityOption(nil), opts...)
	sort.SliceStable(out, func(i, j int) bool {
		ri, rj := codecRank(out[i].Codecs), codecRank(out[j].Codecs)
		if ri != rj {
			return ri < rj
		}
		if out[i].Height != out[j].Height {
			return out[i].Height > out[j].Height
		}
		return out[i].Bandwidth > out[j].Bandwidth
	})
	return out
}

// NextLower returns the highest-bandwidth variant strictly below the bandwidth of
// the variant at currentURI. With an unknown current URI the comparison starts
// from the top variant. ok is false when nothing lower exists.
func NextLower(opts []QualityOption, currentURI string) (QualityOption, bool) {
	if len(opts) == 0 {
		return QualityOption{}, false
	}
	var ceiling int64 = -1
	for _, o := range opts {
		if o.URI == currentURI {
			ceiling = o.Bandwidth
			break
		}
	}
	if ceiling < 0 {
		for _, o := range opts {
			if o.Bandwidth > ceiling {
				ceiling = o.Bandwidth
			}
		}
	}
	var (
		best  QualityOption
		found bool
	)
	for _, o := range opts {
		if o.URI == currentURI || o.Bandwidth >= ceiling {
			continue
		}
		if !found || o.Bandwidth > best.Bandwidth {
			best, found = o, true
		}
	}
	return best, found
}
