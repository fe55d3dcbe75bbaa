// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package middleware

import (
	"net/http"
	"strings"
)

// DefaultCSP suits a JSON API that never serves documents.
const DefaultCSP = "default-src 'none'; frame-ancestors 'none'"

const proxyPrefix = "/proxy/"

// SecurityHeaders sets response hardening headers. Proxied playlists and
// segments are fetched cross-origin by players, so they get a cross-origin
// resource policy and no CSP; everything else is an uncacheable API response.
func SecurityHeaders(csp string) func(http.Handler) http.Handler {
	if csp == "" {
		csp = DefaultCSP
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("Referrer-Policy", "no-referrer")
			if isHTTPS(r) {
				h.Set("Strict-Transport-Security", "max-age=15552000; includeSubDomains")
			}
			if strings.HasPrefix(r.URL.Path, proxyPrefix) {
				h.Set("Cross-Origin-Resource-Policy", "cross-origin")
			} else {
				h.Set("Content-Security-Policy", csp)
				h.Set("X-Frame-Options", "DENY")
				h.Set("Cache-Control", "no-store")
			}
			next.ServeHTTP(w, r)
		})
	}
}

func isHTTPS(r *http.Request) bool {
	return r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}
