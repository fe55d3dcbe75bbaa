// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package hls

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// maxManifestBytes bounds a playlist download.
const maxManifestBytes = 4 << 20

// Doer is the subset of *http.Client used for fetching playlists.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Fetch downloads a playlist with the given request headers.
func Fetch(ctx context.Context, client Doer, playlistURL string, headers map[string]string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, playlistURL, nil)
	if err != nil {
		return "", fmt.Errorf("hls: build request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("hls: fetch playlist: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("hls: fetch playlist: unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxManifestBytes))
	if err != nil {
		return "", fmt.Errorf("hls: read playlist: %w", err)
	}
	text := string(body)
	if !strings.Contains(text, "#EXTM3U") {
		return "", fmt.Errorf("hls: response is not a playlist")
	}
	return text, nil
}
