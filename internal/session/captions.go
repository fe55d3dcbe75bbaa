// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package session

import (
	"context"
	"time"

	"github.com/mzazimhenga22/movieflix/internal/captions"
	"github.com/mzazimhenga22/movieflix/internal/log"
)

// cueJump is the position change treated as a seek rather than playback.
const cueJump = 5 * time.Second

// captionTimeout bounds one caption fetch.
const captionTimeout = 20 * time.Second

// loadTrackLocked drops the previous track and fetches the default caption of
// the installed source in the background. Caller must hold lock.
func (c *Controller) loadTrackLocked(startAt time.Duration) {
	c.trackGen++
	c.track, c.cue = nil, ""
	if c.cueLoad == nil {
		return
	}
	src, ok := captions.PickDefault(c.master.Captions, c.settings.AutoEnableCaptions)
	if !ok {
		return
	}
	gen, ctx, loader, headers := c.trackGen, c.baseCtx, c.cueLoad, c.master.Headers

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		lctx, cancel := context.WithTimeout(ctx, captionTimeout)
		cues, err := loader.Load(lctx, src, headers)
		cancel()
		if err != nil {
			c.logger.Debug().Err(err).Str(log.FieldEvent, "session.captions_failed").Msg("caption track unavailable")
			return
		}
		c.locked(func() {
			if c.closed || c.trackGen != gen {
				return
			}
			c.track = captions.NewTrack(src, cues)
			pos := c.status.Position
			if pos == 0 {
				pos = startAt
			}
			c.track.Seek(pos.Milliseconds())
			c.cue, _ = c.track.Update(pos.Milliseconds())
			c.logger.Debug().
				Str(log.FieldEvent, "session.captions").
				Str("caption_id", src.ID).
				Int("cues", c.track.Len()).
				Msg("caption track ready")
		})
	}()
}

// updateCueLocked advances the active cue for a status report.
func (c *Controller) updateCueLocked(prev, pos time.Duration) {
	if c.track == nil {
		return
	}
	if d := pos - prev; d > cueJump || d < -cueJump {
		c.track.Seek(pos.Milliseconds())
	}
	c.cue, _ = c.track.Update(pos.Milliseconds())
}

func (c *Controller) seekCueLocked(pos time.Duration) {
	if c.track == nil {
		return
	}
	c.track.Seek(pos.Milliseconds())
	c.cue, _ = c.track.Update(pos.Milliseconds())
}
