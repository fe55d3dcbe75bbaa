// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package resolver turns embed-page URLs from third-party hosts into directly
// playable stream URLs plus the request headers the CDN expects.
//
// Each host family has a strategy (see Classify). Strategies check with HEAD
// and follow redirects by hand so the final URL and its content type are
// observable; HTML responses are scanned for stream references. A URL that
// already looks like an .m3u8 or .mp4 is accepted without any network call.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mzazimhenga22/movieflix/internal/log"
	"github.com/mzazimhenga22/movieflix/internal/media"
	"github.com/mzazimhenga22/movieflix/internal/metrics"
	"github.com/mzazimhenga22/movieflix/internal/platform/httpx"
	"github.com/mzazimhenga22/movieflix/internal/resilience"
	"github.com/mzazimhenga22/movieflix/internal/telemetry"
)

const (
	defaultMaxRedirects = 10
	maxPageBytes        = 2 << 20
	rangedScanBytes     = 512 << 10
)

var errTooManyRedirects = errors.New("too many redirects")

// Config configures a Resolver.
type Config struct {
	// Client performs the lookups. Its redirect policy is replaced so redirects
	// can be followed manually.
	Client       *http.Client
	UserAgent    string
	MaxRedirects int
	// Breakers fails fast for hosts that keep failing. Nil disables breaking.
	Breakers *resilience.Registry
	Logger   zerolog.Logger
}

// Result is a playable stream.
type Result struct {
	URI        string            `json:"uri"`
	Headers    map[string]string `json:"headers"`
	Host       Host              `json:"host"`
	StreamType media.StreamType  `json:"streamType"`
}

// Resolver resolves embed URLs. It is safe for concurrent use.
type Resolver struct {
	client       *http.Client
	userAgent    string
	maxRedirects int
	breakers     *resilience.Registry
	logger       zerolog.Logger
}

// New builds a Resolver.
func New(cfg Config) *Resolver {
	var client http.Client
	if cfg.Client != nil {
		client = *cfg.Client
	} else {
		client = *httpx.NewClient(15 * time.Second)
	}
	client.CheckRedirect = func(*http.Request, []*http.Request) error { return httpx.ErrUseLastResponse }

	r := &Resolver{
		client:       &client,
		userAgent:    cfg.UserAgent,
		maxRedirects: cfg.MaxRedirects,
		breakers:     cfg.Breakers,
		logger:       cfg.Logger,
	}
	if r.maxRedirects <= 0 {
		r.maxRedirects = defaultMaxRedirects
	}
	return r
}

// Resolve returns a playable URI for uri. headers are caller supplied request
// headers (cookies, referer) merged over the defaults. The error wraps
// media.ErrUnresolvable when no strategy produced a playable URI.
func (r *Resolver) Resolve(ctx context.Context, uri string, headers map[string]string) (Result, error) {
	host := Classify(uri)
	ctx, span := telemetry.Tracer("resolver").Start(ctx, "resolver.Resolve",
		trace.WithAttributes(telemetry.ResolveAttributes(hostname(uri), string(host))...))
	defer span.End()

	res, err := r.resolve(ctx, host, uri, headers)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "unresolvable")
		return Result{}, err
	}
	span.SetAttributes(attribute.String(telemetry.ResolveResultKey, res.URI))
	return res, nil
}

func (r *Resolver) resolve(ctx context.Context, host Host, uri string, headers map[string]string) (Result, error) {
	hdrs := requestHeaders(host, uri, r.userAgent, headers)
	logger := log.WithContext(ctx, r.logger).With().
		Str(log.FieldStrategy, string(host)).
		Str(log.FieldHost, hostname(uri)).
		Logger()

	if host == HostGeneric && media.LooksPlayable(uri) {
		metrics.RecordResolve(string(host), "direct", 0)
		return newResult(uri, hdrs, host, ""), nil
	}

	var cb *resilience.CircuitBreaker
	if r.breakers != nil {
		cb = r.breakers.Get(hostname(uri))
		if !cb.Allow() {
			metrics.RecordResolve(string(host), "circuit_open", 0)
			return Result{}, fmt.Errorf("resolver: %s: %w: %w", host, media.ErrUnresolvable, resilience.ErrCircuitOpen)
		}
	}

	start := time.Now()
	var (
		target      string
		contentType string
		err         error
	)
	switch host {
	case HostStreamtape:
		target, contentType, err = r.streamtape(ctx, uri, hdrs)
	case HostMixdrop:
		target, err = r.mixdrop(ctx, uri, hdrs)
	default:
		target, contentType, err = r.generic(ctx, uri, hdrs)
	}
	elapsed := time.Since(start)

	if err != nil {
		if cb != nil {
			if ctx.Err() != nil {
				cb.Cancel()
			} else {
				cb.RecordFailure()
			}
		}
		if media.LooksPlayable(uri) {
			metrics.RecordResolve(string(host), "passthrough", elapsed)
			logger.Debug().Err(err).Str(log.FieldEvent, "resolve.passthrough").Msg("strategy failed, url is directly playable")
			return newResult(uri, hdrs, host, ""), nil
		}
		metrics.RecordResolve(string(host), "error", elapsed)
		logger.Warn().Err(err).Str(log.FieldEvent, "resolve.failed").Dur("elapsed", elapsed).Msg("stream resolution failed")
		if !errors.Is(err, media.ErrUnresolvable) {
			err = fmt.Errorf("%w: %w", media.ErrUnresolvable, err)
		}
		return Result{}, fmt.Errorf("resolver: %s: %w", host, err)
	}
	if cb != nil {
		cb.RecordSuccess()
	}

	metrics.RecordResolve(string(host), "ok", elapsed)
	res := newResult(target, hdrs, host, contentType)
	logger.Info().
		Str(log.FieldEvent, "resolve.ok").
		Str(log.FieldStreamType, string(res.StreamType)).
		Dur("elapsed", elapsed).
		Msg("stream resolved")
	return res, nil
}

func newResult(uri string, hdrs map[string]string, host Host, contentType string) Result {
	st := media.StreamFile
	if media.LooksLikeHLS(uri) || strings.Contains(contentType, "mpegurl") {
		st = media.StreamHLS
	}
	return Result{URI: uri, Headers: stripLookupHeaders(hdrs), Host: host, StreamType: st}
}

// stripLookupHeaders drops headers that only make sense for the lookup itself.
func stripLookupHeaders(h map[string]string) map[string]string {
	out := media.CloneHeaders(h)
	delete(out, "Range")
	return out
}

func (r *Resolver) streamtape(ctx context.Context, uri string, hdrs map[string]string) (string, string, error) {
	resp, final, err := r.do(ctx, http.MethodHead, uri, hdrs, "")
	if err != nil {
		return "", "", err
	}
	drain(resp)

	ct := contentType(resp)
	switch {
	case isOK(resp) && isVideo(ct):
		return final, ct, nil
	case isOK(resp) && isDocument(ct), resp.StatusCode == http.StatusMethodNotAllowed:
		body, page, err := r.body(ctx, final, hdrs, rangedScanBytes)
		if err != nil {
			return "", "", err
		}
		if u, ok := scanStreamtape(page, body); ok {
			return u, "", nil
		}
		return "", "", fmt.Errorf("no video link in page: %w", media.ErrUnresolvable)
	default:
		return "", "", fmt.Errorf("HEAD %d %s: %w", resp.StatusCode, ct, media.ErrUnresolvable)
	}
}

func (r *Resolver) mixdrop(ctx context.Context, uri string, hdrs map[string]string) (string, error) {
	body, page, err := r.body(ctx, uri, hdrs, 0)
	if err != nil {
		return "", err
	}
	if u, ok := scanMixdrop(page, body); ok {
		return u, nil
	}
	return "", fmt.Errorf("no source in page: %w", media.ErrUnresolvable)
}

func (r *Resolver) generic(ctx context.Context, uri string, hdrs map[string]string) (string, string, error) {
	resp, final, err := r.do(ctx, http.MethodHead, uri, hdrs, "")
	if err != nil {
		if ctx.Err() != nil {
			return "", "", err
		}
		return r.rangedCheck(ctx, uri, hdrs)
	}
	drain(resp)

	ct := contentType(resp)
	switch {
	case !isOK(resp):
		return r.rangedCheck(ctx, final, hdrs)
	case isVideo(ct):
		return final, ct, nil
	case isDocument(ct):
		body, page, err := r.body(ctx, final, hdrs, 0)
		if err != nil {
			return "", "", err
		}
		if u, ok := scanPlayable(page, body); ok {
			return u, "", nil
		}
		return "", "", fmt.Errorf("no stream reference in page: %w", media.ErrUnresolvable)
	default:
		return r.rangedCheck(ctx, final, hdrs)
	}
}

// rangedCheck issues a small ranged GET for servers that reject HEAD.
func (r *Resolver) rangedCheck(ctx context.Context, uri string, hdrs map[string]string) (string, string, error) {
	resp, final, err := r.do(ctx, http.MethodGet, uri, hdrs, fmt.Sprintf("bytes=0-%d", rangedScanBytes-1))
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()
	if !isOK(resp) {
		return "", "", fmt.Errorf("GET %d: %w", resp.StatusCode, media.ErrUnresolvable)
	}

	ct := contentType(resp)
	if isVideo(ct) {
		return final, ct, nil
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, rangedScanBytes))
	if err != nil {
		return "", "", err
	}
	body := string(raw)
	if strings.HasPrefix(strings.TrimSpace(body), "#EXTM3U") {
		return final, "application/vnd.apple.mpegurl", nil
	}
	if u, ok := scanPlayable(final, body); ok {
		return u, "", nil
	}
	return "", "", fmt.Errorf("ranged GET %s: %w", ct, media.ErrUnresolvable)
}

// body GETs a page and returns its text and final URL. limit 0 uses the page
// cap; a positive limit is also sent as a Range header.
func (r *Resolver) body(ctx context.Context, uri string, hdrs map[string]string, limit int64) (string, string, error) {
	byteRange := ""
	if limit > 0 {
		byteRange = fmt.Sprintf("bytes=0-%d", limit-1)
	} else {
		limit = maxPageBytes
	}
	resp, final, err := r.do(ctx, http.MethodGet, uri, hdrs, byteRange)
	if err != nil {
		return "", final, err
	}
	defer resp.Body.Close()
	if !isOK(resp) {
		return "", final, fmt.Errorf("GET %d: %w", resp.StatusCode, media.ErrUnresolvable)
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return "", final, fmt.Errorf("read page: %w", err)
	}
	return string(raw), final, nil
}

// do performs the request following up to maxRedirects redirects by hand.
// Location is resolved against the URL that produced it.
func (r *Resolver) do(ctx context.Context, method, uri string, hdrs map[string]string, byteRange string) (*http.Response, string, error) {
	current := uri
	for hop := 0; hop <= r.maxRedirects; hop++ {
		req, err := http.NewRequestWithContext(ctx, method, current, nil)
		if err != nil {
			return nil, current, fmt.Errorf("build request: %w", err)
		}
		for k, v := range hdrs {
			req.Header.Set(k, v)
		}
		if byteRange != "" {
			req.Header.Set("Range", byteRange)
		}

		resp, err := r.client.Do(req)
		if err != nil {
			return nil, current, fmt.Errorf("%s %s: %w", method, hostname(current), err)
		}
		if resp.StatusCode < 300 || resp.StatusCode > 399 {
			return resp, current, nil
		}

		loc := resp.Header.Get("Location")
		drain(resp)
		if loc == "" {
			return nil, current, fmt.Errorf("redirect %d without Location: %w", resp.StatusCode, media.ErrUnresolvable)
		}
		base, err := url.Parse(current)
		if err != nil {
			return nil, current, err
		}
		next, err := base.Parse(loc)
		if err != nil {
			return nil, current, fmt.Errorf("bad Location %q: %w", loc, err)
		}
		current = next.String()
	}
	return nil, current, fmt.Errorf("%w: %w", errTooManyRedirects, media.ErrUnresolvable)
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	_ = resp.Body.Close()
}

func isOK(resp *http.Response) bool {
	return resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusPartialContent
}

func contentType(resp *http.Response) string {
	ct := resp.Header.Get("Content-Type")
	if mt, _, err := mime.ParseMediaType(ct); err == nil {
		return strings.ToLower(mt)
	}
	return strings.ToLower(strings.TrimSpace(ct))
}

func isVideo(ct string) bool {
	return strings.HasPrefix(ct, "video/") ||
		strings.HasPrefix(ct, "audio/") ||
		ct == "application/octet-stream" ||
		strings.Contains(ct, "mpegurl")
}

func isDocument(ct string) bool {
	switch ct {
	case "", "text/html", "application/xhtml+xml", "application/json", "text/plain",
		"text/javascript", "application/javascript":
		return true
	}
	return false
}

func hostname(uri string) string {
	if u, err := url.Parse(uri); err == nil && u.Hostname() != "" {
		return strings.ToLower(u.Hostname())
	}
	return uri
}
