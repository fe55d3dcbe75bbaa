// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package middleware

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/mzazimhenga22/movieflix/internal/log"
)

// AccessLog logs one line per request. Health and metrics scrapes log at debug.
func AccessLog(base zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(sw, r)

			logger := log.WithContext(r.Context(), base)
			ev := logger.Info()
			switch {
			case sw.statusCode >= 500:
				ev = logger.Error()
			case r.URL.Path == "/healthz" || r.URL.Path == "/metrics":
				ev = logger.Debug()
			}
			if traceID, spanID := ExtractTraceContext(r); traceID != "" {
				ev = ev.Str("trace_id", traceID).Str("span_id", spanID)
			}
			ev.Str(log.FieldEvent, "http.request").
				Str("method", r.Method).
				Str("route", routePattern(r)).
				Int("status", sw.statusCode).
				Int("bytes", sw.bytesWritten).
				Dur("duration", time.Since(start)).
				Msg("request")
		})
	}
}
