// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package middleware

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/httprate"
)

// APIRateLimit allows perMinute requests per client over a sliding window.
func APIRateLimit(perMinute int) func(http.Handler) http.Handler {
	return RateLimit(perMinute, time.Minute)
}

// RateLimit limits requests per client. Clients presenting a bearer token are
// keyed by the token digest so household devices behind one NAT do not share
// a budget; anonymous clients are keyed by IP.
func RateLimit(limit int, window time.Duration) func(http.Handler) http.Handler {
	retryAfter := strconv.Itoa(int(math.Ceil(window.Seconds())))
	return httprate.Limit(
		limit,
		window,
		httprate.WithKeyFuncs(clientKey),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", retryAfter)
			writeProblem(w, r, http.StatusTooManyRequests, "system/rate_limited", "Too Many Requests", "")
		}),
	)
}

func clientKey(r *http.Request) (string, error) {
	if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok && token != "" {
		sum := sha256.Sum256([]byte(token))
		return "tok:" + hex.EncodeToString(sum[:8]), nil
	}
	ip, err := httprate.KeyByIP(r)
	return "ip:" + ip, err
}
