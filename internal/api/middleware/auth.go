// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// BearerToken requires "Authorization: Bearer <token>". An empty token
// disables the check.
func BearerToken(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		want := []byte(token)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(got), want) != 1 {
				w.Header().Set("WWW-Authenticate", `Bearer realm="movieflix"`)
				writeProblem(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized", "")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
