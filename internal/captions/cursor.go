// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package captions

import (
	"sort"
	"sync"

	"github.com/mzazimhenga22/movieflix/internal/media"
)

// UpdateActiveCue finds the cue covering positionMs by walking from cursor.
// It steps backward while the position is before the cursor cue and forward
// while it is past it, so steady playback costs O(1) per tick. It returns the
// active text, whether a cue is active and the new cursor.
func UpdateActiveCue(cues []media.CaptionCue, positionMs int64, cursor int) (string, bool, int) {
	if len(cues) == 0 {
		return "", false, 0
	}
	i := cursor
	if i < 0 {
		i = 0
	}
	if i >= len(cues) {
		i = len(cues) - 1
	}
	for i > 0 && positionMs < cues[i].Start {
		i--
	}
	for i < len(cues)-1 && positionMs > cues[i].End {
		i++
	}
	c := cues[i]
	if positionMs >= c.Start && positionMs <= c.End {
		return c.Text, true, i
	}
	return "", false, i
}

// SeekCursor returns the index of the first cue ending at or after positionMs.
func SeekCursor(cues []media.CaptionCue, positionMs int64) int {
	i := sort.Search(len(cues), func(i int) bool { return cues[i].End >= positionMs })
	if i >= len(cues) && len(cues) > 0 {
		i = len(cues) - 1
	}
	return i
}

// Track holds the cues of the selected caption source with its cursor.
type Track struct {
	mu     sync.Mutex
	source media.CaptionSource
	cues   []media.CaptionCue
	cursor int
	text   string
}

// NewTrack binds parsed cues to their source.
func NewTrack(source media.CaptionSource, cues []media.CaptionCue) *Track {
	return &Track{source: source, cues: cues}
}

// Source returns the caption source the cues came from.
func (t *Track) Source() media.CaptionSource { return t.source }

// Len returns the number of cues.
func (t *Track) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.cues)
}

// Update advances the cursor to positionMs. changed reports whether the visible
// text differs from the previous call.
func (t *Track) Update(positionMs int64) (text string, changed bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	text, _, t.cursor = UpdateActiveCue(t.cues, positionMs, t.cursor)
	changed = text != t.text
	t.text = text
	return text, changed
}

// Seek repositions the cursor after a jump in playback position.
func (t *Track) Seek(positionMs int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cursor = SeekCursor(t.cues, positionMs)
}
