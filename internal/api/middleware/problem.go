// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/mzazimhenga22/movieflix/internal/log"
)

// writeProblem renders an RFC 7807 body for rejections raised before a
// handler runs.
func writeProblem(w http.ResponseWriter, r *http.Request, status int, typ, title, detail string) {
	body := map[string]any{"type": typ, "title": title, "status": status}
	if detail != "" {
		body["detail"] = detail
	}
	if id := log.RequestIDFromContext(r.Context()); id != "" {
		body["requestId"] = id
	}
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
