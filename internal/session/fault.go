// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package session

import "strings"

// FaultKind classifies a native player error message.
type FaultKind string

const (
	// FaultHostBlocked is an HTTP 403/404 from the CDN, usually hotlink protection.
	FaultHostBlocked FaultKind = "host_blocked"
	// FaultDNS means the stream host could not be resolved.
	FaultDNS FaultKind = "dns"
	// FaultResponseCode is any other bad HTTP response while loading the stream.
	FaultResponseCode FaultKind = "response_code"
	// FaultVariant is a decode or playlist failure of the current HLS variant.
	FaultVariant FaultKind = "variant"
	// FaultTerminal cannot be recovered from.
	FaultTerminal FaultKind = "terminal"
)

var faultMarkers = []struct {
	kind    FaultKind
	markers []string
}{
	{FaultDNS, []string{"unable to resolve host", "unknownhost", "no such host", "name not resolved", "name_not_resolved", "nodename nor servname", "dns"}},
	{FaultHostBlocked, []string{"403", "404", "forbidden"}},
	{FaultResponseCode, []string{"response code", "responsecode", "status code", "http error", "bad http status"}},
	{FaultVariant, []string{"variant", "playlist", "segment", "manifest", "decoder", "codec", "parser", "format", "media_err"}},
}

// ClassifyFault maps a freeform player error message to a FaultKind by
// substring match. Messages matching nothing are terminal.
func ClassifyFault(message string) FaultKind {
	msg := strings.ToLower(message)
	for _, fm := range faultMarkers {
		for _, m := range fm.markers {
			if strings.Contains(msg, m) {
				return fm.kind
			}
		}
	}
	return FaultTerminal
}
