// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package resolver

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/mzazimhenga22/movieflix/internal/media"
)

// DefaultUserAgent is sent when the caller supplies none.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

func defaultHeaders(userAgent string) map[string]string {
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	return map[string]string{
		"User-Agent":      userAgent,
		"Accept":          "*/*",
		"Accept-Language": "en-US,en;q=0.9",
	}
}

// MergeHeaders overlays later maps onto earlier ones. Keys are canonicalized so
// "referer" and "Referer" collapse into one entry.
func MergeHeaders(layers ...map[string]string) map[string]string {
	out := make(map[string]string)
	for _, layer := range layers {
		for k, v := range layer {
			if v == "" {
				continue
			}
			out[http.CanonicalHeaderKey(k)] = v
		}
	}
	return out
}

// requestHeaders builds the header set for probing uri: defaults, then caller
// headers, then Referer/Origin of the embed's own origin for known hosts unless
// the caller already set them.
func requestHeaders(host Host, uri, userAgent string, caller map[string]string) map[string]string {
	h := MergeHeaders(defaultHeaders(userAgent), caller)
	if !host.Known() {
		return h
	}
	origin := originOf(uri)
	if origin == "" {
		origin = canonicalOrigins[host]
	}
	if _, ok := h["Referer"]; !ok {
		h["Referer"] = origin + "/"
	}
	if _, ok := h["Origin"]; !ok {
		h["Origin"] = origin
	}
	return h
}

// HotlinkHeaders returns the Referer/Origin/User-Agent set that makes a CDN
// accept a stream extracted from host's embed page. When uri sits on the embed
// domain itself its origin is used, otherwise the host's canonical origin.
func HotlinkHeaders(host Host, uri string) map[string]string {
	origin := canonicalOrigins[host]
	if Classify(uri) == host || origin == "" {
		if o := originOf(uri); o != "" {
			origin = o
		}
	}
	h := map[string]string{"User-Agent": DefaultUserAgent}
	if origin != "" {
		h["Referer"] = origin + "/"
		h["Origin"] = origin
	}
	return h
}

// MinProxyKeyLen is the shortest accepted proxy signing key.
const MinProxyKeyLen = 16

// ErrProxySignature reports a proxy token that was not minted with the
// configured key.
var ErrProxySignature = errors.New("resolver: proxy token signature mismatch")

type proxyToken struct {
	URL     string            `json:"u"`
	Headers map[string]string `json:"h,omitempty"`
}

// ProxyURL rewrites target so it is fetched through the proxy at base with the
// given upstream headers. The token is base64url({"u":target,"h":headers})
// followed by "." and its base64url HMAC-SHA256 under key.
func ProxyURL(base string, key []byte, target string, headers map[string]string) string {
	raw, _ := json.Marshal(proxyToken{URL: target, Headers: headers})
	payload := base64.RawURLEncoding.EncodeToString(raw)
	return strings.TrimRight(base, "/") + "/proxy/" + payload + "." + base64.RawURLEncoding.EncodeToString(signProxy(key, payload))
}

// DecodeProxyToken verifies a ProxyURL token against key and returns its
// target and headers. Tokens with a missing or wrong signature, and any token
// when key is shorter than MinProxyKeyLen, fail with ErrProxySignature.
func DecodeProxyToken(key []byte, token string) (string, map[string]string, error) {
	payload, sig, ok := strings.Cut(token, ".")
	if !ok || len(key) < MinProxyKeyLen {
		return "", nil, ErrProxySignature
	}
	got, err := base64.RawURLEncoding.DecodeString(sig)
	if err != nil || !hmac.Equal(got, signProxy(key, payload)) {
		return "", nil, ErrProxySignature
	}
	raw, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("resolver: decode proxy token: %w", err)
	}
	var pt proxyToken
	if err := json.Unmarshal(raw, &pt); err != nil {
		return "", nil, fmt.Errorf("resolver: decode proxy token: %w", err)
	}
	u, err := url.Parse(pt.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", nil, fmt.Errorf("resolver: proxy target %q: %w", pt.URL, media.ErrUnresolvable)
	}
	return pt.URL, pt.Headers, nil
}

func signProxy(key []byte, payload string) []byte {
	mac := hmac.New(sha256.New, key)
	_, _ = mac.Write([]byte(payload))
	return mac.Sum(nil)
}
