// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package session

import (
	"context"
	"errors"
	"time"

	"github.com/mzazimhenga22/movieflix/internal/hls"
	"github.com/mzazimhenga22/movieflix/internal/log"
	"github.com/mzazimhenga22/movieflix/internal/media"
	"github.com/mzazimhenga22/movieflix/internal/metrics"
	"github.com/mzazimhenga22/movieflix/internal/resolver"
	"github.com/mzazimhenga22/movieflix/internal/scrape"
)

// onBufferingLocked arms the overlay, downgrade and source-switch timers when
// a stall begins. Repeated buffering statuses keep the existing timers.
func (c *Controller) onBufferingLocked(now time.Time) {
	if !c.bufferingFrom.IsZero() {
		return
	}
	c.bufferingFrom = now
	c.overlayTimer = c.after(c.tuning.OverlayDelay, c.overlayDueLocked)
	c.graceTimer = c.after(c.tuning.DowngradeGrace, c.graceDueLocked)
	c.switchTimer = c.after(c.tuning.SourceSwitchAfter, c.switchDueLocked)
}

func (c *Controller) endBufferingLocked() {
	if c.bufferingFrom.IsZero() && !c.overlay {
		return
	}
	c.resetBuffering()
}

// resetBuffering clears all stall timers and hides the overlay. Caller must
// hold lock.
func (c *Controller) resetBuffering() {
	for _, t := range []*Timer{&c.overlayTimer, &c.graceTimer, &c.switchTimer} {
		if *t != nil {
			(*t).Stop()
			*t = nil
		}
	}
	c.bufferingFrom = time.Time{}
	if c.overlay {
		c.overlay = false
		c.emit(EventBufferingHidden, "")
	}
}

// overlayDueLocked shows the overlay only if the position has not moved for
// the stall window; otherwise it re-checks when the window would elapse.
func (c *Controller) overlayDueLocked() {
	c.overlayTimer = nil
	if !c.status.IsBuffering || c.overlay {
		return
	}
	still := c.clock.Now().Sub(c.lastAdvance)
	if still < c.tuning.StallWindow {
		c.overlayTimer = c.after(c.tuning.StallWindow-still, c.overlayDueLocked)
		return
	}
	c.overlay = true
	if c.phase == PhasePlaying || c.phase == PhasePaused || c.phase == PhaseReady {
		c.phase = PhaseBuffering
	}
	metrics.RecordBufferingOverlay()
	c.logger.Debug().Str(log.FieldEvent, "session.buffering").Dur("stalled", still).Msg("buffering overlay shown")
	c.emit(EventBufferingShown, "")
	c.feedPrefetchLocked()
}

// graceDueLocked runs the downgrade policy after a sustained stall. When the
// cooldown blocks it the check is re-armed for the moment it expires.
func (c *Controller) graceDueLocked() {
	c.graceTimer = nil
	if !c.status.IsBuffering {
		return
	}
	target, ok := c.downgradeTarget()
	if !ok {
		return
	}
	if wait := c.cooldownRemaining(); wait > 0 {
		c.graceTimer = c.after(wait, c.graceDueLocked)
		return
	}
	if c.busy {
		return
	}
	c.startDowngradeLocked(target, "stall")
}

// switchDueLocked switches provider when no downgrade path exists.
func (c *Controller) switchDueLocked() {
	c.switchTimer = nil
	if !c.status.IsBuffering || !c.settings.AutoSwitchSourceOnBuffer || c.busy {
		return
	}
	if _, ok := c.downgradeTarget(); ok {
		return
	}
	c.startSourceSwitchLocked("buffering")
}

// downgradeTarget returns the next lower variant when the downgrade policy
// applies: enabled, HLS, automatic quality and a lower variant exists.
func (c *Controller) downgradeTarget() (hls.QualityOption, bool) {
	if !c.settings.AutoLowerQualityOnBuffer || !c.master.IsHLS() || c.mode != QualityAuto {
		return hls.QualityOption{}, false
	}
	return hls.NextLower(c.analysis.Qualities, c.variant.URI)
}

func (c *Controller) cooldownRemaining() time.Duration {
	if c.lastDowngrade.IsZero() {
		return 0
	}
	if rem := c.tuning.DowngradeCooldown - c.clock.Now().Sub(c.lastDowngrade); rem > 0 {
		return rem
	}
	return 0
}

// startDowngradeLocked preloads target in the background and switches to it
// once warmed. The cooldown starts now so a slow preload cannot double fire.
func (c *Controller) startDowngradeLocked(target hls.QualityOption, reason string) {
	c.busy = true
	c.lastDowngrade = c.clock.Now()
	c.ledger.TryUpTo(RemedyDowngrade, len(c.analysis.Qualities))
	metrics.RecordRemediation(string(RemedyDowngrade))
	c.logger.Info().
		Str(log.FieldEvent, "session.downgrade").
		Str(log.FieldReason, reason).
		Str(log.FieldQuality, target.Label).
		Int64(log.FieldBandwidth, target.Bandwidth).
		Msg("lowering quality")

	gen, ctx := c.gen, c.genCtx
	src := c.variantSource(target)
	warmer, segments, timeout := c.warmer, c.tuning.PreloadSegments, c.tuning.PreloadTimeout

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if warmer != nil {
			wctx, cancel := context.WithTimeout(ctx, timeout)
			if err := warmer.Warm(wctx, src.URI, src.Headers, segments); err != nil {
				c.logger.Debug().Err(err).Msg("variant preload failed")
			}
			cancel()
		}
		c.locked(func() {
			if c.closed || c.gen != gen {
				return
			}
			c.busy = false
			if err := c.switchVariantLocked(target, QualityAuto, reason); err != nil {
				c.failLocked(EventFatal, err)
			}
		})
	}()
}

// startSourceSwitchLocked fetches an alternate provider in the background.
func (c *Controller) startSourceSwitchLocked(reason string) {
	if c.switches >= c.tuning.MaxSourceSwitches {
		if c.switches == c.tuning.MaxSourceSwitches {
			c.switches++
			c.logger.Warn().Str(log.FieldEvent, "session.recovery_exhausted").Msg("no more sources to try")
		}
		return
	}
	c.switches++
	c.busy = true
	c.ledger.TryUpTo(RemedySourceSwitch, c.tuning.MaxSourceSwitches)
	metrics.RecordRemediation(string(RemedySourceSwitch))

	failing := c.source.SourceID
	order := scrape.RotateOrder(c.order, failing)
	gen, ctx, desc, pos := c.gen, c.genCtx, c.desc, c.status.Position
	c.logger.Info().
		Str(log.FieldEvent, "session.switch_source").
		Str(log.FieldReason, reason).
		Str(log.FieldSourceID, failing).
		Strs("order", order).
		Msg("switching source")

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		p, err := c.prepare(ctx, desc, order)
		c.locked(func() {
			if c.closed || c.gen != gen {
				return
			}
			c.busy = false
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					c.logger.Warn().Err(err).Str(log.FieldEvent, "session.switch_failed").Msg("alternate source unavailable")
				}
				return
			}
			c.bump()
			_ = c.installLocked(p, pos, reason)
		})
	}()
}

// OnError classifies a player error and runs the matching remediation. Each
// remediation runs at most once per source; when none applies the session
// fails with EventFatal.
func (c *Controller) OnError(message string) FaultKind {
	kind := ClassifyFault(message)
	c.locked(func() {
		if c.closed || c.source.URI == "" || c.phase == PhaseFailed {
			return
		}
		c.logger.Warn().
			Str(log.FieldEvent, "session.fault").
			Str("fault", string(kind)).
			Str("message", message).
			Msg("playback fault")

		if c.recoverLocked(kind) {
			return
		}
		metrics.RecordRemediation("terminal")
		c.failLocked(EventFatal, errors.New(message))
	})
	return kind
}

func (c *Controller) recoverLocked(kind FaultKind) bool {
	switch kind {
	case FaultHostBlocked:
		return c.tryHotlinkLocked() || c.tryProxyLocked() || c.tryVariantLocked()
	case FaultDNS, FaultResponseCode:
		return c.tryProxyLocked() || c.tryVariantLocked()
	case FaultVariant:
		if target, ok := c.downgradeTarget(); ok && !c.busy && c.cooldownRemaining() == 0 {
			c.startDowngradeLocked(target, "error")
			return true
		}
		return c.tryVariantLocked()
	default:
		return false
	}
}

// embedHint returns the host family named by the provider's embed id.
func embedHint(src media.PlaybackSource) resolver.Host {
	for _, hint := range []string{src.EmbedID, src.SourceID} {
		if hint == "" {
			continue
		}
		if h := resolver.Classify(hint); h.Known() {
			return h
		}
	}
	return resolver.HostGeneric
}

// tryHotlinkLocked reloads a generic-host stream with the embed host's
// Referer/Origin.
func (c *Controller) tryHotlinkLocked() bool {
	if resolver.Classify(c.source.URI) != resolver.HostGeneric || c.proxied {
		return false
	}
	hint := c.host
	if !hint.Known() {
		hint = embedHint(c.source)
	}
	if !hint.Known() || !c.ledger.TryOnce(RemedyHotlink) {
		return false
	}
	hotlink := resolver.HotlinkHeaders(hint, c.source.URI)
	src := c.source.WithURI(c.source.URI, resolver.MergeHeaders(c.source.Headers, hotlink))
	if !c.retryLocked(RemedyHotlink, src) {
		return false
	}
	c.master = c.master.WithURI(c.master.URI, resolver.MergeHeaders(c.master.Headers, hotlink))
	return true
}

// tryProxyLocked reloads an HLS stream through the proxy rewrite.
func (c *Controller) tryProxyLocked() bool {
	if c.proxy == "" || len(c.proxyKey) == 0 || c.proxied || !c.master.IsHLS() || !c.ledger.TryOnce(RemedyProxy) {
		return false
	}
	c.proxied = true
	src := c.proxiedSource(c.source)
	return c.retryLocked(RemedyProxy, src)
}

// tryVariantLocked walks the codec-compatibility ordered variants and loads
// the first one not tried yet.
func (c *Controller) tryVariantLocked() bool {
	if !c.master.IsHLS() || len(c.analysis.Qualities) == 0 {
		return false
	}
	if c.variant.URI != "" {
		c.ledger.TryVariant(c.variant.URI)
	}
	for _, v := range hls.SortByCompatibility(c.analysis.Qualities) {
		if v.URI == c.variant.URI || !c.ledger.TryVariant(v.URI) {
			continue
		}
		c.ledger.TryUpTo(RemedyVariant, len(c.analysis.Qualities))
		metrics.RecordRemediation(string(RemedyVariant))
		c.emit(EventRetry, string(RemedyVariant))
		if err := c.switchVariantLocked(v, c.mode, string(RemedyVariant)); err != nil {
			c.logger.Warn().Err(err).Msg("variant fallback load failed")
			continue
		}
		return true
	}
	return false
}

func (c *Controller) retryLocked(r Remediation, src media.PlaybackSource) bool {
	metrics.RecordRemediation(string(r))
	c.logger.Info().Str(log.FieldEvent, "session.retry").Str(log.FieldReason, string(r)).Msg("retrying stream")
	pos := c.status.Position
	c.bump()
	if err := c.loadLocked(src, pos); err != nil {
		c.logger.Warn().Err(err).Msg("retry load failed")
		return false
	}
	c.emit(EventRetry, string(r))
	return true
}

// switchVariantLocked loads variant v at the current position. Caller must
// hold lock.
func (c *Controller) switchVariantLocked(v hls.QualityOption, mode QualityMode, reason string) error {
	pos := c.status.Position
	c.bump()
	if err := c.loadLocked(c.variantSource(v), pos); err != nil {
		return err
	}
	c.mode = mode
	c.variant = v
	c.logger.Info().
		Str(log.FieldEvent, "session.quality").
		Str(log.FieldReason, reason).
		Str(log.FieldQuality, v.Label).
		Msg("variant loaded")
	c.emit(EventQualityChanged, v.Label)
	return nil
}

// variantSource derives the source for variant v from the master, routed
// through the proxy once the proxy retry was taken.
func (c *Controller) variantSource(v hls.QualityOption) media.PlaybackSource {
	src := c.master.WithURI(v.URI, c.master.Headers)
	if c.proxied {
		return c.proxiedSource(src)
	}
	return src
}

func (c *Controller) proxiedSource(src media.PlaybackSource) media.PlaybackSource {
	out := src.WithURI(resolver.ProxyURL(c.proxy, c.proxyKey, src.URI, src.Headers), nil)
	out.StreamType = media.StreamHLS
	return out
}
