// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
)

func TestContextWithRequestID(t *testing.T) {
	tests := []struct {
		name      string
		ctx       context.Context
		requestID string
		want      string
	}{
		{name: "nil context", ctx: nil, requestID: "test-id-123", want: "test-id-123"},
		{name: "background context", ctx: context.Background(), requestID: "req-456", want: "req-456"},
		{name: "empty request ID", ctx: context.Background(), requestID: "", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := ContextWithRequestID(tt.ctx, tt.requestID)
			if got := RequestIDFromContext(ctx); got != tt.want {
				t.Errorf("RequestIDFromContext() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFromContextMissingValues(t *testing.T) {
	if got := SessionIDFromContext(nil); got != "" { //nolint:staticcheck
		t.Errorf("SessionIDFromContext(nil) = %q", got)
	}
	if got := RoomIDFromContext(context.Background()); got != "" {
		t.Errorf("RoomIDFromContext() = %q", got)
	}
}

func TestWithContextAddsCorrelationFields(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	ctx := ContextWithRequestID(context.Background(), "req-1")
	ctx = ContextWithSessionID(ctx, "sess-1")
	ctx = ContextWithRoomID(ctx, "room-1")

	l := WithContext(ctx, logger)
	l.Info().Msg("hello")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("unmarshal log line: %v", err)
	}
	for key, want := range map[string]string{
		FieldRequestID: "req-1",
		FieldSessionID: "sess-1",
		FieldRoomID:    "room-1",
	} {
		if entry[key] != want {
			t.Errorf("field %s = %v, want %s", key, entry[key], want)
		}
	}
}

func TestWithContextWithoutFieldsReturnsSameLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	l := WithContext(context.Background(), logger)
	l.Info().Msg("plain")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("unmarshal log line: %v", err)
	}
	if _, ok := entry[FieldRequestID]; ok {
		t.Error("unexpected request_id field")
	}
}

func TestConfigureAttachesServiceAndComponent(t *testing.T) {
	var buf bytes.Buffer
	Configure(Config{Level: "debug", Output: &buf, Service: "unit", Version: "v0.0.1"})
	defer Configure(Config{})

	l := WithComponent("resolver")
	l.Debug().Str(FieldEvent, "test.event").Msg("x")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("unmarshal log line: %v", err)
	}
	if entry["service"] != "unit" || entry["version"] != "v0.0.1" {
		t.Errorf("service/version = %v/%v", entry["service"], entry["version"])
	}
	if entry[FieldComponent] != "resolver" {
		t.Errorf("component = %v", entry[FieldComponent])
	}
	if entry[FieldEvent] != "test.event" {
		t.Errorf("event = %v", entry[FieldEvent])
	}
}
