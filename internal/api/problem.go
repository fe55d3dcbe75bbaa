// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/mzazimhenga22/movieflix/internal/api/middleware"
	"github.com/mzazimhenga22/movieflix/internal/log"
	"github.com/mzazimhenga22/movieflix/internal/media"
	"github.com/mzazimhenga22/movieflix/internal/session"
	"github.com/mzazimhenga22/movieflix/internal/watchparty"
)

const maxBodyBytes = 1 << 20

// Problem is an RFC 7807 problem details body.
type Problem struct {
	Type      string `json:"type"`
	Title     string `json:"title"`
	Status    int    `json:"status"`
	Detail    string `json:"detail,omitempty"`
	Instance  string `json:"instance,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeProblem writes an RFC 7807 problem details response.
func writeProblem(w http.ResponseWriter, r *http.Request, status int, problemType, detail string) {
	reqID := log.RequestIDFromContext(r.Context())
	if reqID == "" {
		reqID = w.Header().Get(middleware.HeaderRequestID)
	}
	p := Problem{
		Type:      problemType,
		Title:     http.StatusText(status),
		Status:    status,
		Detail:    detail,
		Instance:  r.URL.EscapedPath(),
		RequestID: reqID,
	}
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(p); err != nil {
		logger := log.WithComponentFromContext(r.Context(), "api")
		logger.Error().Err(err).Str("type", problemType).Int("status", status).Msg("failed to encode problem response")
	}
}

// writeError maps domain errors onto problems.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, media.ErrNotFound):
		writeProblem(w, r, http.StatusNotFound, "resource/not_found", err.Error())
	case errors.Is(err, media.ErrStale):
		writeProblem(w, r, http.StatusConflict, "state/stale", err.Error())
	case errors.Is(err, watchparty.ErrRoomExists):
		writeProblem(w, r, http.StatusConflict, "rooms/exists", err.Error())
	case errors.Is(err, watchparty.ErrNotHost):
		writeProblem(w, r, http.StatusForbidden, "rooms/not_host", err.Error())
	case errors.Is(err, media.ErrUnresolvable), errors.Is(err, media.ErrStreamUnavailable):
		writeProblem(w, r, http.StatusUnprocessableEntity, "playback/stream_unavailable", err.Error())
	case errors.Is(err, session.ErrUnknownQuality):
		writeProblem(w, r, http.StatusBadRequest, "playback/unknown_quality", err.Error())
	case errors.Is(err, session.ErrNotEpisodic):
		writeProblem(w, r, http.StatusBadRequest, "playback/not_episodic", err.Error())
	case errors.Is(err, session.ErrNoSource):
		writeProblem(w, r, http.StatusConflict, "playback/no_source", err.Error())
	case errors.Is(err, session.ErrClosed):
		writeProblem(w, r, http.StatusGone, "playback/closed", err.Error())
	case r.Context().Err() != nil && errors.Is(err, r.Context().Err()):
		// client went away; nothing useful to send
	default:
		logger := log.WithComponentFromContext(r.Context(), "api")
		logger.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		writeProblem(w, r, http.StatusInternalServerError, "system/internal", "")
	}
}

// decodeJSON reads a size limited JSON body and rejects unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		detail := err.Error()
		if errors.Is(err, io.EOF) {
			detail = "request body is empty"
		}
		writeProblem(w, r, http.StatusBadRequest, "request/invalid_body", detail)
		return false
	}
	if dec.More() {
		writeProblem(w, r, http.StatusBadRequest, "request/invalid_body", "unexpected trailing data")
		return false
	}
	return true
}

func badRequest(w http.ResponseWriter, r *http.Request, format string, args ...any) {
	writeProblem(w, r, http.StatusBadRequest, "request/invalid", fmt.Sprintf(format, args...))
}
