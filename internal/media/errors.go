// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package media

import "errors"

var (
	// ErrUnresolvable means no strategy produced a playable URI for a host.
	ErrUnresolvable = errors.New("media: stream could not be resolved")

	// ErrStreamUnavailable is the user-facing resolution failure.
	// Callers must not proceed with an unresolved URI once they see it.
	ErrStreamUnavailable = errors.New("media: stream unavailable")

	// ErrNotFound is returned by stores when a record does not exist.
	ErrNotFound = errors.New("media: not found")

	// ErrStale marks an update rejected by a watermark check.
	ErrStale = errors.New("media: stale update")
)
