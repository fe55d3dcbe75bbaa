// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package resolver

import (
	"net/url"
	"strings"
)

// Host is the strategy family an embed URL belongs to.
type Host string

const (
	HostStreamtape Host = "streamtape"
	HostMixdrop    Host = "mixdrop"
	HostDoodstream Host = "doodstream"
	HostFilemoon   Host = "filemoon"
	HostGeneric    Host = "generic"
)

// Known reports whether the host gets forced Referer/Origin headers.
func (h Host) Known() bool { return h != HostGeneric && h != "" }

// canonical origins used when a stream lives on a CDN outside the embed domain
var canonicalOrigins = map[Host]string{
	HostStreamtape: "https://streamtape.com",
	HostMixdrop:    "https://mixdrop.co",
	HostDoodstream: "https://dood.to",
	HostFilemoon:   "https://filemoon.sx",
}

var hostMarkers = []struct {
	host    Host
	markers []string
}{
	{HostStreamtape, []string{"streamtape", "strtape", "stape"}},
	{HostMixdrop, []string{"mixdrop", "mixdrp"}},
	{HostDoodstream, []string{"doodstream", "dood.", "d000d", "ds2play"}},
	{HostFilemoon, []string{"filemoon", "moonplayer"}},
}

// Classify maps a URL (or an embed hint such as "streamtape") to its host
// family by substring match on the hostname.
func Classify(rawURL string) Host {
	name := strings.ToLower(rawURL)
	if u, err := url.Parse(rawURL); err == nil && u.Hostname() != "" {
		name = strings.ToLower(u.Hostname())
	}
	for _, hm := range hostMarkers {
		for _, m := range hm.markers {
			if strings.Contains(name, m) {
				return hm.host
			}
		}
	}
	return HostGeneric
}

func originOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}
