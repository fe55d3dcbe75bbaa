// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package middleware

import (
	"net/http"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

const apiPrefix = "/api/v1/"

// OTelHTTP traces API requests. Health checks and proxied media are not traced
// since a single playback issues thousands of segment requests.
func OTelHTTP(serviceName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, serviceName,
			otelhttp.WithTracerProvider(otel.GetTracerProvider()),
			otelhttp.WithPropagators(otel.GetTextMapPropagator()),
			otelhttp.WithSpanOptions(trace.WithAttributes(semconv.ServiceName(serviceName))),
			otelhttp.WithFilter(shouldTrace),
			otelhttp.WithSpanNameFormatter(spanName),
		)
	}
}

func shouldTrace(r *http.Request) bool {
	switch r.URL.Path {
	case "/healthz", "/readyz", "/metrics":
		return false
	}
	return !strings.HasPrefix(r.URL.Path, proxyPrefix)
}

// spanName runs before routing, so it names spans by API resource
// ("POST rooms") rather than raw paths carrying room and session ids.
func spanName(_ string, r *http.Request) string {
	rest, ok := strings.CutPrefix(r.URL.Path, apiPrefix)
	if !ok {
		return r.Method
	}
	resource, _, _ := strings.Cut(rest, "/")
	if resource == "" {
		return r.Method
	}
	return r.Method + " " + resource
}

// ExtractTraceContext returns the trace and span ids of the active span.
func ExtractTraceContext(r *http.Request) (traceID, spanID string) {
	sc := trace.SpanContextFromContext(r.Context())
	if !sc.IsValid() {
		return "", ""
	}
	return sc.TraceID().String(), sc.SpanID().String()
}
