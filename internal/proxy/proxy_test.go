// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/mzazimhenga22/movieflix/internal/platform/httpx"
	"github.com/mzazimhenga22/movieflix/internal/resolver"
)

const base = "https://edge.example"

var key = []byte("proxy-test-signing-key-32-bytes!")

func tokenOf(t *testing.T, proxied string) string {
	t.Helper()
	prefix := base + "/proxy/"
	require.True(t, strings.HasPrefix(proxied, prefix), proxied)
	return strings.TrimPrefix(proxied, prefix)
}

func decode(t *testing.T, proxied string) (string, map[string]string) {
	t.Helper()
	target, headers, err := resolver.DecodeProxyToken(key, tokenOf(t, proxied))
	require.NoError(t, err)
	return target, headers
}

func TestRewritePlaylist(t *testing.T) {
	body := strings.Join([]string{
		"#EXTM3U",
		`#EXT-X-MEDIA:TYPE=AUDIO,GROUP-ID="aud",NAME="English",URI="audio/en.m3u8"`,
		`#EXT-X-KEY:METHOD=AES-128,URI="https://keys.example/k1"`,
		`#EXT-X-SESSION-KEY:METHOD=SAMPLE-AES,URI="skd://fairplay"`,
		"#EXT-X-STREAM-INF:BANDWIDTH=800000",
		"low/index.m3u8",
		"",
		"#EXTINF:4.0,",
		"seg-1.ts",
	}, "\r\n")
	headers := map[string]string{"Referer": "https://prov/"}

	out := RewritePlaylist(body, "https://cdn.example/show/master.m3u8", base, key, headers)
	lines := strings.Split(out, "\n")
	require.Len(t, lines, 9)
	assert.Equal(t, "#EXTM3U", lines[0])

	audio := strings.TrimSuffix(strings.SplitN(lines[1], `URI="`, 2)[1], `"`)
	target, h := decode(t, audio)
	assert.Equal(t, "https://cdn.example/show/audio/en.m3u8", target)
	assert.Equal(t, headers, h)

	key := strings.TrimSuffix(strings.SplitN(lines[2], `URI="`, 2)[1], `"`)
	target, _ = decode(t, key)
	assert.Equal(t, "https://keys.example/k1", target)

	assert.Equal(t, `#EXT-X-SESSION-KEY:METHOD=SAMPLE-AES,URI="skd://fairplay"`, lines[3])

	target, _ = decode(t, lines[5])
	assert.Equal(t, "https://cdn.example/show/low/index.m3u8", target)
	assert.Equal(t, "", lines[6])
	target, _ = decode(t, lines[8])
	assert.Equal(t, "https://cdn.example/show/seg-1.ts", target)
}

func TestServe_PlaylistRewrittenWithHeaders(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent(),
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"))

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Referer") != "https://prov/" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		switch r.URL.Path {
		case "/old/master.m3u8":
			http.Redirect(w, r, "/new/master.m3u8", http.StatusFound)
		case "/new/master.m3u8":
			w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
			_, _ = io.WriteString(w, "#EXTM3U\n#EXT-X-STREAM-INF:BANDWIDTH=1\nv1.m3u8\n")
		case "/new/seg.ts":
			assert.Equal(t, "bytes=0-99", r.Header.Get("Range"))
			w.Header().Set("Content-Type", "video/mp2t")
			w.Header().Set("Content-Range", "bytes 0-99/1000")
			w.Header().Set("Set-Cookie", "secret=1")
			w.WriteHeader(http.StatusPartialContent)
			_, _ = w.Write(make([]byte, 100))
		default:
			http.NotFound(w, r)
		}
	}))
	defer upstream.Close()

	h, err := New(Config{PublicBase: base, Key: key, Client: upstream.Client(), Logger: zerolog.Nop()})
	require.NoError(t, err)
	hdrs := map[string]string{"Referer": "https://prov/"}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/proxy/x", nil)
	h.Serve(rec, req, tokenOf(t, resolver.ProxyURL(base, key, upstream.URL+"/old/master.m3u8", hdrs)))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/vnd.apple.mpegurl", rec.Header().Get("Content-Type"))
	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	require.Len(t, lines, 3)
	target, got := decode(t, lines[2])
	assert.Equal(t, upstream.URL+"/new/v1.m3u8", target)
	assert.Equal(t, hdrs, got)

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/proxy/x", nil)
	req.Header.Set("Range", "bytes=0-99")
	h.Serve(rec, req, tokenOf(t, resolver.ProxyURL(base, key, upstream.URL+"/new/seg.ts", hdrs)))
	assert.Equal(t, http.StatusPartialContent, rec.Code)
	assert.Equal(t, "bytes 0-99/1000", rec.Header().Get("Content-Range"))
	assert.Empty(t, rec.Header().Get("Set-Cookie"))
	assert.Len(t, rec.Body.Bytes(), 100)

	// without the hotlink headers upstream refuses and the status passes through
	rec = httptest.NewRecorder()
	h.Serve(rec, httptest.NewRequest(http.MethodGet, "/proxy/x", nil),
		tokenOf(t, resolver.ProxyURL(base, key, upstream.URL+"/new/seg.ts", nil)))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestServe_Rejects(t *testing.T) {
	h, err := New(Config{PublicBase: base, Key: key})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	h.Serve(rec, httptest.NewRequest(http.MethodGet, "/proxy/bad", nil), "not*base64")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = httptest.NewRecorder()
	h.Serve(rec, httptest.NewRequest(http.MethodPost, "/proxy/x", nil), "x")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = httptest.NewRecorder()
	h.Serve(rec, httptest.NewRequest(http.MethodGet, "/proxy/x", nil),
		tokenOf(t, resolver.ProxyURL(base, key, "file:///etc/passwd", nil)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	_, err = New(Config{Key: key})
	assert.Error(t, err)
	_, err = New(Config{PublicBase: base, Key: []byte("short")})
	assert.Error(t, err, "signing key below the minimum length")
}

func TestServe_RefusesForeignTokens(t *testing.T) {
	var hits atomic.Int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		_, _ = io.WriteString(w, "internal-secret")
	}))
	defer upstream.Close()

	h, err := New(Config{PublicBase: base, Key: key, Client: upstream.Client(), Logger: zerolog.Nop()})
	require.NoError(t, err)

	signed := tokenOf(t, resolver.ProxyURL(base, key, upstream.URL+"/admin", nil))
	payload, _, _ := strings.Cut(signed, ".")
	foreign := tokenOf(t, resolver.ProxyURL(base, []byte("some-other-deployment-key-000000"), upstream.URL+"/admin", nil))

	for name, token := range map[string]string{"unsigned": payload, "other key": foreign} {
		t.Run(name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.Serve(rec, httptest.NewRequest(http.MethodGet, "/proxy/x", nil), token)
			assert.Equal(t, http.StatusForbidden, rec.Code)
			assert.NotContains(t, rec.Body.String(), "internal-secret")
		})
	}
	assert.Zero(t, hits.Load(), "upstream must not be contacted")
}

func TestServe_RefusesLoopbackTargets(t *testing.T) {
	var hits atomic.Int32
	internal := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		_, _ = io.WriteString(w, "internal-secret")
	}))
	defer internal.Close()

	// default client: non-public addresses are refused even with a valid token
	h, err := New(Config{PublicBase: base, Key: key, Logger: zerolog.Nop()})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	h.Serve(rec, httptest.NewRequest(http.MethodGet, "/proxy/x", nil),
		tokenOf(t, resolver.ProxyURL(base, key, internal.URL+"/admin", nil)))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.NotContains(t, rec.Body.String(), "internal-secret")
	assert.Zero(t, hits.Load())
}

func TestServe_UpstreamDown(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	h, err := New(Config{PublicBase: base, Key: key, AllowPrivateTargets: true, Logger: zerolog.Nop()})
	require.NoError(t, err)
	rec := httptest.NewRecorder()
	h.Serve(rec, httptest.NewRequest(http.MethodGet, "/proxy/x", nil),
		tokenOf(t, resolver.ProxyURL(base, key, fmt.Sprintf("http://%s/a.ts", addr), nil)))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestClassifyUpstreamError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"canceled", fmt.Errorf("get: %w", context.Canceled), "canceled"},
		{"blocked", fmt.Errorf("dial: %w", httpx.ErrPrivateTarget), "blocked"},
		{"dns", &net.DNSError{Err: "no such host", Name: "cdn.invalid"}, "dns"},
		{"refused", errors.New("dial tcp 10.0.0.1:443: connect: Connection refused"), "connect_reset"},
		{"reset", errors.New("read: connection reset by peer"), "connect_reset"},
		{"broken pipe", errors.New("write: broken pipe"), "connect_reset"},
		{"tls", errors.New("tls: failed to verify certificate: x509: unknown authority"), "tls"},
		{"other", errors.New("unexpected EOF"), "io_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classifyUpstreamError(tt.err))
		})
	}
}
