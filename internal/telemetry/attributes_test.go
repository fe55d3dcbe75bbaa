// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package telemetry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/attribute"
)

func asMap(attrs []attribute.KeyValue) map[string]any {
	out := make(map[string]any, len(attrs))
	for _, kv := range attrs {
		out[string(kv.Key)] = kv.Value.AsInterface()
	}
	return out
}

func TestAttributes(t *testing.T) {
	assert.Equal(t, map[string]any{
		HTTPMethodKey:     "GET",
		HTTPRouteKey:      "/api/v1/resolve",
		HTTPStatusCodeKey: int64(200),
	}, asMap(HTTPAttributes("GET", "/api/v1/resolve", 200)))

	assert.Equal(t, map[string]any{
		ResolveHostKey:     "streamtape.com",
		ResolveStrategyKey: "streamtape",
	}, asMap(ResolveAttributes("streamtape.com", "streamtape")))

	assert.Equal(t, map[string]any{SessionIDKey: "s1"}, asMap(SessionAttributes("s1", "", "")))
	assert.Equal(t, map[string]any{
		SessionIDKey:     "s1",
		SessionMediaKey:  "movie:1",
		SessionActionKey: "downgrade",
	}, asMap(SessionAttributes("s1", "movie:1", "downgrade")))

	assert.Equal(t, map[string]any{
		PrefetchModeKey:     "aggressive",
		PrefetchSegmentsKey: int64(4),
	}, asMap(PrefetchAttributes(true, 4)))
	assert.Equal(t, "normal", asMap(PrefetchAttributes(false, 0))[PrefetchModeKey])

	assert.Equal(t, map[string]any{RoomIDKey: "r1", RoomUpdateKey: "episode"}, asMap(RoomAttributes("r1", "episode")))
	assert.Equal(t, map[string]any{"error": true, ErrorTypeKey: "timeout"}, asMap(ErrorAttributes("timeout")))
}
