// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mzazimhenga22/movieflix/internal/resume"
)

func resumeKey(r *http.Request) (user, key string) {
	return chi.URLParam(r, "user"), chi.URLParam(r, "key")
}

func (s *Server) handleGetResume(w http.ResponseWriter, r *http.Request) {
	if s.deps.Resume == nil {
		unavailable(w, r, "resume store")
		return
	}
	user, key := resumeKey(r)
	pos, err := s.deps.Resume.Get(r.Context(), user, key)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

func (s *Server) handlePutResume(w http.ResponseWriter, r *http.Request) {
	if s.deps.Resume == nil {
		unavailable(w, r, "resume store")
		return
	}
	var pos resume.Position
	if !decodeJSON(w, r, &pos) {
		return
	}
	if pos.PositionMs < 0 || pos.DurationMs < 0 {
		badRequest(w, r, "positions must not be negative")
		return
	}
	if pos.UpdatedAt.IsZero() {
		pos.UpdatedAt = time.Now().UTC()
	}
	user, key := resumeKey(r)
	if err := s.deps.Resume.Put(r.Context(), user, key, pos); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

func (s *Server) handleDeleteResume(w http.ResponseWriter, r *http.Request) {
	if s.deps.Resume == nil {
		unavailable(w, r, "resume store")
		return
	}
	user, key := resumeKey(r)
	if err := s.deps.Resume.Delete(r.Context(), user, key); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
