// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package metrics provides Prometheus metrics for stream resolution, playback
// remediation, watch-party sync and segment prefetch.
//
// Labels are bounded enums or hostnames; session, room and user IDs never
// appear as label values.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	resolveTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "movieflix_resolve_total",
		Help: "Total number of embed resolution attempts by host strategy and result",
	}, []string{"strategy", "result"})

	resolveDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "movieflix_resolve_duration_seconds",
		Help:    "Time spent resolving an embed page to a playable URL",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 15},
	}, []string{"strategy"})

	manifestAnalyzeTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "movieflix_manifest_analyze_total",
		Help: "Total number of manifest analyses by kind (master, media, invalid)",
	}, []string{"kind"})

	captionLoadTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "movieflix_caption_load_total",
		Help: "Total number of caption loads by format and result",
	}, []string{"format", "result"})

	remediationTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "movieflix_playback_remediation_total",
		Help: "Total number of playback remediation actions taken by the session controller",
	}, []string{"action"})

	bufferingOverlayTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "movieflix_playback_buffering_overlay_total",
		Help: "Total number of times the buffering overlay was shown after debounce",
	})

	sessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "movieflix_playback_sessions_active",
		Help: "Number of live playback session controllers",
	})

	watchPartyUpdatesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "movieflix_watchparty_updates_total",
		Help: "Total number of room updates by kind (playback, episode) and outcome (applied, stale, published)",
	}, []string{"kind", "outcome"})

	watchPartyDrift = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "movieflix_watchparty_drift_seconds",
		Help:    "Absolute guest drift from the host's extrapolated position at reconcile time",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 1.5, 3, 5, 10, 30},
	})

	watchPartyConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "movieflix_watchparty_connections",
		Help: "Number of open room event streams",
	})

	prefetchSegmentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "movieflix_prefetch_segments_total",
		Help: "Total number of warmed segments by result (ok, error, skipped)",
	}, []string{"result"})

	prefetchCyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "movieflix_prefetch_cycles_total",
		Help: "Total number of prefetch cycles by mode (normal, aggressive)",
	}, []string{"mode"})

	proxyRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "movieflix_proxy_requests_total",
		Help: "Total number of proxied upstream fetches by kind (playlist, media) and result",
	}, []string{"kind", "result"})

	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "movieflix_http_requests_total",
		Help: "Total number of HTTP API requests",
	}, []string{"method", "route", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "movieflix_http_request_duration_seconds",
		Help:    "HTTP API request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})
)

// RecordResolve counts one resolution attempt and its latency.
func RecordResolve(strategy, result string, d time.Duration) {
	resolveTotal.WithLabelValues(strategy, result).Inc()
	resolveDuration.WithLabelValues(strategy).Observe(d.Seconds())
}

// RecordManifestAnalyze counts one analysis by manifest kind.
func RecordManifestAnalyze(kind string) {
	manifestAnalyzeTotal.WithLabelValues(kind).Inc()
}

// RecordCaptionLoad counts one caption fetch+parse.
func RecordCaptionLoad(format, result string) {
	captionLoadTotal.WithLabelValues(format, result).Inc()
}

// RecordRemediation counts a remediation action (hotlink_headers, proxy,
// variant_fallback, quality_downgrade, source_switch, terminal).
func RecordRemediation(action string) {
	remediationTotal.WithLabelValues(action).Inc()
}

// RecordBufferingOverlay counts one debounced buffering overlay.
func RecordBufferingOverlay() {
	bufferingOverlayTotal.Inc()
}

// IncSessions and DecSessions track live session controllers.
func IncSessions() { sessionsActive.Inc() }

func DecSessions() { sessionsActive.Dec() }

// RecordWatchPartyUpdate counts a room update outcome.
func RecordWatchPartyUpdate(kind, outcome string) {
	watchPartyUpdatesTotal.WithLabelValues(kind, outcome).Inc()
}

// ObserveWatchPartyDrift records the measured guest drift.
func ObserveWatchPartyDrift(drift time.Duration) {
	if drift < 0 {
		drift = -drift
	}
	watchPartyDrift.Observe(drift.Seconds())
}

// SetWatchPartyConnections sets the number of open room event streams.
func SetWatchPartyConnections(n int) {
	watchPartyConnections.Set(float64(n))
}

// RecordPrefetchSegment counts one warmed segment.
func RecordPrefetchSegment(result string) {
	prefetchSegmentsTotal.WithLabelValues(result).Inc()
}

// RecordPrefetchCycle counts one prefetch cycle.
func RecordPrefetchCycle(aggressive bool) {
	mode := "normal"
	if aggressive {
		mode = "aggressive"
	}
	prefetchCyclesTotal.WithLabelValues(mode).Inc()
}

// RecordProxyRequest counts one proxied upstream fetch.
func RecordProxyRequest(kind, result string) {
	proxyRequestsTotal.WithLabelValues(kind, result).Inc()
}

// RecordHTTPRequest counts one API request.
func RecordHTTPRequest(method, route, status string, d time.Duration) {
	httpRequestsTotal.WithLabelValues(method, route, status).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
