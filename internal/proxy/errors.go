// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package proxy

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/mzazimhenga22/movieflix/internal/platform/httpx"
)

// classifyUpstreamError maps a failed upstream fetch to a bounded metric
// label. Connection resets take priority over generic I/O errors.
func classifyUpstreamError(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}
	if errors.Is(err, httpx.ErrPrivateTarget) {
		return "blocked"
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return "dns"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout"
	}

	s := strings.ToLower(err.Error())
	if strings.Contains(s, "connection refused") ||
		strings.Contains(s, "connection reset") ||
		strings.Contains(s, "broken pipe") {
		return "connect_reset"
	}
	if strings.Contains(s, "tls") || strings.Contains(s, "x509") {
		return "tls"
	}
	return "io_error"
}
