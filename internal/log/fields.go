// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldRequestID = "request_id"
	FieldSessionID = "session_id"
	FieldRoomID    = "room_id"
	FieldUserID    = "user_id"
	FieldMediaKey  = "media_key"

	// Process fields
	FieldEvent     = "event"
	FieldComponent = "component"

	// Stream fields
	FieldSourceID   = "source_id"
	FieldEmbedID    = "embed_id"
	FieldHost       = "host"
	FieldStrategy   = "strategy"
	FieldStreamType = "stream_type"
	FieldQuality    = "quality"
	FieldBandwidth  = "bandwidth"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"
	FieldReason   = "reason"

	// Timing fields
	FieldPositionMs = "position_ms"
	FieldDriftMs    = "drift_ms"
)
