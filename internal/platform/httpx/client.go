// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package httpx builds the outbound HTTP clients used against embed hosts,
// CDNs and the scrape service.
package httpx

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/netip"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/net/publicsuffix"
)

const (
	defaultClientTimeout         = 5 * time.Second
	defaultDialTimeout           = 3 * time.Second
	defaultResponseHeaderTimeout = 3 * time.Second
	defaultIdleConnTimeout       = 30 * time.Second
	defaultExpectContinueTimeout = 1 * time.Second
	defaultMaxIdleConns          = 16
	defaultMaxIdleConnsPerHost   = 4
)

// ErrUseLastResponse is returned by the redirect policy of clients built with
// FollowRedirects disabled.
var ErrUseLastResponse = http.ErrUseLastResponse

// ErrPrivateTarget is returned when a client built with DenyPrivate dials a
// loopback, private, link-local or otherwise non-public address.
var ErrPrivateTarget = errors.New("httpx: refusing non-public address")

// cgnat is the shared address space of RFC 6598.
var cgnat = netip.MustParsePrefix("100.64.0.0/10")

// Options tunes a client built by New.
type Options struct {
	Timeout time.Duration
	// CookieJar keeps cookies set by embed pages across a resolution chain.
	CookieJar bool
	// Tracing wraps the transport with OpenTelemetry spans.
	Tracing bool
	// NoRedirects makes the client return 3xx responses to the caller.
	NoRedirects bool
	// DenyPrivate refuses connections to non-public addresses, including
	// after redirects. Environment proxies are ignored so the check applies
	// to the real upstream.
	DenyPrivate bool
}

// NewClient returns a hardened HTTP client for runtime and ops checks.
func NewClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   clampTimeout(timeout),
		Transport: newTransport(clampTimeout(timeout)),
	}
}

// New returns a hardened client with the optional behaviors in opts.
func New(opts Options) (*http.Client, error) {
	timeout := clampTimeout(opts.Timeout)
	client := &http.Client{Timeout: timeout}

	tr := newTransport(timeout)
	if opts.DenyPrivate {
		tr.Proxy = nil
		tr.DialContext = (&net.Dialer{
			Timeout:   capDialTimeout(timeout),
			KeepAlive: 30 * time.Second,
			Control:   denyPrivate,
		}).DialContext
	}
	var rt http.RoundTripper = tr
	if opts.Tracing {
		rt = otelhttp.NewTransport(rt)
	}
	client.Transport = rt

	if opts.CookieJar {
		jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
		if err != nil {
			return nil, errors.Join(errors.New("httpx: cookie jar"), err)
		}
		client.Jar = jar
	}
	if opts.NoRedirects {
		client.CheckRedirect = func(*http.Request, []*http.Request) error { return ErrUseLastResponse }
	}
	return client, nil
}

func clampTimeout(timeout time.Duration) time.Duration {
	if timeout <= 0 {
		return defaultClientTimeout
	}
	return timeout
}

func capDialTimeout(timeout time.Duration) time.Duration {
	if timeout > defaultDialTimeout {
		return defaultDialTimeout
	}
	return timeout
}

// denyPrivate runs after DNS resolution, so address is always a literal IP.
func denyPrivate(_, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return err
	}
	ip, err := netip.ParseAddr(host)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrPrivateTarget, address)
	}
	if !IsPublicAddr(ip) {
		return fmt.Errorf("%w: %s", ErrPrivateTarget, address)
	}
	return nil
}

// IsPublicAddr reports whether ip is routable on the public internet.
func IsPublicAddr(ip netip.Addr) bool {
	ip = ip.Unmap()
	switch {
	case !ip.IsValid(),
		ip.IsUnspecified(),
		ip.IsLoopback(),
		ip.IsPrivate(),
		ip.IsLinkLocalUnicast(),
		ip.IsLinkLocalMulticast(),
		ip.IsInterfaceLocalMulticast(),
		ip.IsMulticast(),
		cgnat.Contains(ip):
		return false
	}
	return true
}

func newTransport(timeout time.Duration) *http.Transport {
	dialTimeout := capDialTimeout(timeout)

	responseHeaderTimeout := timeout
	if responseHeaderTimeout > defaultResponseHeaderTimeout {
		responseHeaderTimeout = defaultResponseHeaderTimeout
	}

	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: dialTimeout, KeepAlive: 30 * time.Second}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          defaultMaxIdleConns,
		MaxIdleConnsPerHost:   defaultMaxIdleConnsPerHost,
		IdleConnTimeout:       defaultIdleConnTimeout,
		TLSHandshakeTimeout:   dialTimeout,
		ResponseHeaderTimeout: responseHeaderTimeout,
		ExpectContinueTimeout: defaultExpectContinueTimeout,
	}
}
