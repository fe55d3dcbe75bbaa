// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Span attribute keys.
const (
	HTTPMethodKey     = "http.method"
	HTTPStatusCodeKey = "http.status_code"
	HTTPRouteKey      = "http.route"

	ResolveHostKey     = "resolve.host"
	ResolveStrategyKey = "resolve.strategy"
	ResolveResultKey   = "resolve.result"

	SessionIDKey     = "session.id"
	SessionMediaKey  = "session.media_key"
	SessionActionKey = "session.action"

	PrefetchModeKey     = "prefetch.mode"
	PrefetchSegmentsKey = "prefetch.segments"

	RoomIDKey     = "watchparty.room_id"
	RoomUpdateKey = "watchparty.update"

	ErrorTypeKey = "error.type"
)

// HTTPAttributes creates common HTTP span attributes.
func HTTPAttributes(method, route string, statusCode int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(HTTPMethodKey, method),
		attribute.String(HTTPRouteKey, route),
		attribute.Int(HTTPStatusCodeKey, statusCode),
	}
}

// ResolveAttributes describes one embed resolution.
func ResolveAttributes(host, strategy string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(ResolveHostKey, host),
		attribute.String(ResolveStrategyKey, strategy),
	}
}

// SessionAttributes tags session controller spans.
func SessionAttributes(sessionID, mediaKey, action string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{attribute.String(SessionIDKey, sessionID)}
	if mediaKey != "" {
		attrs = append(attrs, attribute.String(SessionMediaKey, mediaKey))
	}
	if action != "" {
		attrs = append(attrs, attribute.String(SessionActionKey, action))
	}
	return attrs
}

// PrefetchAttributes tags a prefetch cycle.
func PrefetchAttributes(aggressive bool, segments int) []attribute.KeyValue {
	mode := "normal"
	if aggressive {
		mode = "aggressive"
	}
	return []attribute.KeyValue{
		attribute.String(PrefetchModeKey, mode),
		attribute.Int(PrefetchSegmentsKey, segments),
	}
}

// RoomAttributes tags watch-party spans.
func RoomAttributes(roomID, update string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(RoomIDKey, roomID),
		attribute.String(RoomUpdateKey, update),
	}
}

// ErrorAttributes creates error-related span attributes.
func ErrorAttributes(errorType string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Bool("error", true),
		attribute.String(ErrorTypeKey, errorType),
	}
}
