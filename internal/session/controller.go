// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package session implements the playback session controller: it owns the
// current source and quality, debounces buffering, runs the automatic
// recovery policies (quality downgrade, source switch, fault retries) and
// applies the saved resume position.
//
// All state lives in Controller behind one mutex. Every source replacement
// bumps a generation counter; timers and async work capture the generation
// they were started under and drop their result when it changed.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mzazimhenga22/movieflix/internal/captions"
	"github.com/mzazimhenga22/movieflix/internal/hls"
	"github.com/mzazimhenga22/movieflix/internal/log"
	"github.com/mzazimhenga22/movieflix/internal/media"
	"github.com/mzazimhenga22/movieflix/internal/metrics"
	"github.com/mzazimhenga22/movieflix/internal/platform/httpx"
	"github.com/mzazimhenga22/movieflix/internal/prefetch"
	"github.com/mzazimhenga22/movieflix/internal/resolver"
	"github.com/mzazimhenga22/movieflix/internal/resume"
	"github.com/mzazimhenga22/movieflix/internal/scrape"
)

// Config wires a Controller. Player and Scraper are required.
type Config struct {
	Player   Player
	Scraper  scrape.Scraper
	Resolver SourceResolver
	// Client fetches manifests. Defaults to a hardened client.
	Client hls.Doer
	// Prefetcher warms segments in the background and preloads downgrade
	// targets. Optional.
	Prefetcher *prefetch.Prefetcher
	// PrefetchSchedule sets the background cycle cadence.
	PrefetchSchedule prefetch.SchedulerConfig
	// Warmer overrides the preloader used before a quality downgrade.
	Warmer Warmer
	// Captions loads the default caption track so State carries the active
	// cue. Optional.
	Captions CaptionLoader
	// Resume stores positions for UserID. Optional.
	Resume resume.Store
	UserID string

	Settings    Settings
	SourceOrder []string
	// ProxyBase and ProxyKey enable the proxy retry for HLS streams. The key
	// must match the proxy handler's.
	ProxyBase string
	ProxyKey  []byte

	Tuning  Tuning
	Clock   Clock
	Logger  zerolog.Logger
	OnEvent func(Event)
}

// OpenOptions tune a single Open.
type OpenOptions struct {
	// StartAt overrides the stored resume position.
	StartAt time.Duration
}

// prepared is a scraped, resolved and analyzed source ready to install.
type prepared struct {
	desc     media.MediaDescriptor
	src      media.PlaybackSource
	host     resolver.Host
	analysis hls.Analysis
}

// Controller is one playback session.
type Controller struct {
	id       string
	player   Player
	scraper  scrape.Scraper
	resolver SourceResolver
	client   hls.Doer
	warmer   Warmer
	cueLoad  CaptionLoader
	sched    *prefetch.Scheduler
	store    resume.Store
	userID   string
	settings Settings
	order    []string
	proxy    string
	proxyKey []byte
	tuning   Tuning
	clock    Clock
	logger   zerolog.Logger
	onEvent  func(Event)

	baseCtx    context.Context
	baseCancel context.CancelFunc
	wg         sync.WaitGroup

	mu      sync.Mutex
	post    []func()
	closed  bool
	gen     uint64
	genCtx  context.Context
	cancel  context.CancelFunc
	phase   Phase
	lastErr string

	desc     media.MediaDescriptor
	master   media.PlaybackSource
	source   media.PlaybackSource
	host     resolver.Host
	analysis hls.Analysis
	mode     QualityMode
	variant  hls.QualityOption
	proxied  bool
	ledger   *Ledger

	status        Status
	lastAdvance   time.Time
	bufferingFrom time.Time
	overlay       bool
	overlayTimer  Timer
	graceTimer    Timer
	switchTimer   Timer

	busy          bool
	lastDowngrade time.Time
	switches      int

	resumeAt   time.Duration
	resumeDone bool

	track    *captions.Track
	trackGen uint64
	cue      string
}

// New creates a controller. It does not load anything until Open.
func New(cfg Config) (*Controller, error) {
	if cfg.Player == nil {
		return nil, errors.New("session: player is required")
	}
	if cfg.Scraper == nil {
		return nil, errors.New("session: scraper is required")
	}
	c := &Controller{
		id:       uuid.NewString(),
		player:   cfg.Player,
		scraper:  cfg.Scraper,
		resolver: cfg.Resolver,
		client:   cfg.Client,
		warmer:   cfg.Warmer,
		cueLoad:  cfg.Captions,
		store:    cfg.Resume,
		userID:   cfg.UserID,
		settings: cfg.Settings,
		order:    append([]string(nil), cfg.SourceOrder...),
		proxy:    cfg.ProxyBase,
		proxyKey: cfg.ProxyKey,
		tuning:   cfg.Tuning.withDefaults(),
		clock:    cfg.Clock,
		onEvent:  cfg.OnEvent,
		phase:    PhaseIdle,
		mode:     QualityAuto,
		ledger:   NewLedger(),
	}
	if c.client == nil {
		c.client = httpx.NewClient(15 * time.Second)
	}
	if c.clock == nil {
		c.clock = RealClock{}
	}
	if cfg.Prefetcher != nil {
		if c.warmer == nil {
			c.warmer = cfg.Prefetcher
		}
		c.sched = prefetch.NewScheduler(cfg.Prefetcher, cfg.PrefetchSchedule)
	}
	c.logger = cfg.Logger.With().Str(log.FieldSessionID, c.id).Logger()
	c.baseCtx, c.baseCancel = context.WithCancel(context.Background())
	c.genCtx, c.cancel = context.WithCancel(c.baseCtx)
	if c.sched != nil {
		c.sched.Start(c.baseCtx)
	}
	metrics.IncSessions()
	return c, nil
}

// ID returns the session id.
func (c *Controller) ID() string { return c.id }

// locked runs fn under the lock, then runs queued post actions (events,
// store writes) after releasing it.
func (c *Controller) locked(fn func()) {
	c.mu.Lock()
	fn()
	post := c.post
	c.post = nil
	c.mu.Unlock()
	for _, p := range post {
		p()
	}
}

func (c *Controller) emit(kind EventKind, detail string) {
	if c.onEvent == nil {
		return
	}
	ev := Event{Kind: kind, SessionID: c.id, Detail: detail}
	c.post = append(c.post, func() { c.onEvent(ev) })
}

// bump starts a new generation: in-flight work and timers of the previous one
// become stale. Caller must hold lock.
func (c *Controller) bump() uint64 {
	c.gen++
	c.cancel()
	c.genCtx, c.cancel = context.WithCancel(c.baseCtx)
	c.busy = false
	c.resetBuffering()
	return c.gen
}

// after schedules fn under the lock unless the generation moved on.
func (c *Controller) after(d time.Duration, fn func()) Timer {
	gen := c.gen
	return c.clock.AfterFunc(d, func() {
		c.locked(func() {
			if c.closed || c.gen != gen {
				return
			}
			fn()
		})
	})
}

// Open resolves desc and loads it into the player. A resolution failure wraps
// media.ErrStreamUnavailable and leaves the session in PhaseFailed.
func (c *Controller) Open(ctx context.Context, desc media.MediaDescriptor, opts OpenOptions) error {
	if err := desc.Validate(); err != nil {
		return fmt.Errorf("session: %w", err)
	}

	var (
		gen    uint64
		genCtx context.Context
		err    error
	)
	c.locked(func() {
		if c.closed {
			err = ErrClosed
			return
		}
		c.saveResumeLocked(false)
		gen = c.bump()
		genCtx = c.genCtx
		c.desc = desc
		c.source = media.PlaybackSource{}
		c.switches = 0
		c.phase = PhaseResolving
		c.lastErr = ""
	})
	if err != nil {
		return err
	}

	opCtx, cancel := context.WithCancel(genCtx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	startAt := opts.StartAt
	if startAt <= 0 {
		startAt = c.storedPosition(opCtx, desc)
	}

	p, err := c.prepare(opCtx, desc, c.order)
	if err != nil {
		c.locked(func() {
			if c.gen != gen || c.closed {
				return
			}
			c.failLocked(EventUnavailable, err)
		})
		return err
	}

	c.locked(func() {
		if c.closed {
			err = ErrClosed
			return
		}
		if c.gen != gen {
			err = fmt.Errorf("session: open superseded: %w", media.ErrStale)
			return
		}
		err = c.installLocked(p, 0, "open")
		c.resumeAt = startAt
		c.resumeDone = false
	})
	return err
}

// OpenURL loads a caller-supplied stream URL, the manual escape hatch when
// resolution failed.
func (c *Controller) OpenURL(ctx context.Context, uri string, headers map[string]string) error {
	var (
		gen  uint64
		desc media.MediaDescriptor
		err  error
	)
	c.locked(func() {
		if c.closed {
			err = ErrClosed
			return
		}
		gen = c.bump()
		desc = c.desc
		c.phase = PhaseResolving
	})
	if err != nil {
		return err
	}

	src, host, err := c.resolve(ctx, media.PlaybackSource{URI: uri, Headers: headers})
	if err != nil {
		c.locked(func() {
			if c.gen == gen && !c.closed {
				c.failLocked(EventUnavailable, err)
			}
		})
		return err
	}
	p := prepared{desc: desc, src: src, host: host, analysis: c.analyze(ctx, src)}
	c.locked(func() {
		switch {
		case c.closed:
			err = ErrClosed
		case c.gen != gen:
			err = fmt.Errorf("session: open superseded: %w", media.ErrStale)
		default:
			err = c.installLocked(p, 0, "manual_url")
		}
	})
	return err
}

// ChangeEpisode opens another episode of the current show.
func (c *Controller) ChangeEpisode(ctx context.Context, season, episode int) error {
	desc := c.Snapshot().Media
	if desc.Type != media.KindShow {
		return fmt.Errorf("%w: %q", ErrNotEpisodic, desc.Type)
	}
	return c.Open(ctx, desc.WithEpisode(season, episode), OpenOptions{})
}

// SwitchSource asks the resolution service for another provider, rotating the
// order past the current one, and loads it at the current position.
func (c *Controller) SwitchSource(ctx context.Context) error {
	var (
		gen    uint64
		genCtx context.Context
		desc   media.MediaDescriptor
		order  []string
		err    error
	)
	c.locked(func() {
		if c.closed {
			err = ErrClosed
			return
		}
		if c.source.URI == "" {
			err = ErrNoSource
			return
		}
		gen, genCtx, desc = c.gen, c.genCtx, c.desc
		order = scrape.RotateOrder(c.order, c.source.SourceID)
	})
	if err != nil {
		return err
	}

	opCtx, cancel := context.WithCancel(genCtx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	p, err := c.prepare(opCtx, desc, order)
	if err != nil {
		return err
	}
	c.locked(func() {
		switch {
		case c.closed:
			err = ErrClosed
		case c.gen != gen:
			err = fmt.Errorf("session: switch superseded: %w", media.ErrStale)
		default:
			c.bump()
			err = c.installLocked(p, c.status.Position, "manual_switch")
		}
	})
	return err
}

// SetQuality pins a variant by id, or returns to automatic selection for
// "auto" or "".
func (c *Controller) SetQuality(id string) error {
	var err error
	c.locked(func() {
		if c.closed {
			err = ErrClosed
			return
		}
		if c.source.URI == "" {
			err = ErrNoSource
			return
		}
		if id == "" || id == string(QualityAuto) {
			if c.mode == QualityAuto && c.variant.URI == "" {
				return
			}
			c.mode = QualityAuto
			c.variant = hls.QualityOption{}
			src := c.master
			if c.proxied {
				src = c.proxiedSource(c.master)
			}
			c.bump()
			err = c.loadLocked(src, c.status.Position)
			c.emit(EventQualityChanged, string(QualityAuto))
			return
		}
		for _, q := range c.analysis.Qualities {
			if q.ID == id {
				err = c.switchVariantLocked(q, QualityManual, "manual")
				return
			}
		}
		err = fmt.Errorf("%w: %s", ErrUnknownQuality, id)
	})
	return err
}

// OnStatus feeds one player status callback.
func (c *Controller) OnStatus(st Status) {
	c.locked(func() {
		if c.closed || c.source.URI == "" {
			return
		}
		now := c.clock.Now()
		prev := c.status
		if st.Position > prev.Position {
			c.lastAdvance = now
		}
		c.status = st
		c.updateCueLocked(prev.Position, st.Position)

		c.applyResumeLocked(st)

		if st.IsBuffering && !st.DidJustFinish {
			c.onBufferingLocked(now)
		} else {
			c.endBufferingLocked()
		}

		switch {
		case c.phase == PhaseFailed:
		case c.busy:
			c.phase = PhaseRecovering
		case st.DidJustFinish:
			if c.phase != PhaseEnded {
				c.saveResumeLocked(true)
			}
			c.phase = PhaseEnded
		case c.overlay:
			c.phase = PhaseBuffering
		case st.IsPlaying:
			c.phase = PhasePlaying
		default:
			c.phase = PhasePaused
		}

		if prev.IsPlaying && !st.IsPlaying && !st.DidJustFinish {
			c.saveResumeLocked(false)
		}
		c.feedPrefetchLocked()
	})
}

// Play, Pause and Seek forward user actions to the player.
func (c *Controller) Play() error {
	return c.withPlayer(func() error { return c.player.Play() })
}

func (c *Controller) Pause() error {
	return c.withPlayer(func() error { return c.player.Pause() })
}

func (c *Controller) Seek(pos time.Duration) error {
	return c.withPlayer(func() error {
		if err := c.player.Seek(pos); err != nil {
			return err
		}
		// an explicit seek satisfies any pending resume
		c.resumeDone = true
		c.lastAdvance = c.clock.Now()
		c.seekCueLocked(pos)
		return nil
	})
}

func (c *Controller) withPlayer(fn func() error) error {
	var err error
	c.locked(func() {
		if c.closed {
			err = ErrClosed
			return
		}
		if c.source.URI == "" {
			err = ErrNoSource
			return
		}
		err = fn()
	})
	return err
}

// Snapshot returns a copy of the current state.
func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := State{
		ID:           c.id,
		Phase:        c.phase,
		Media:        c.desc,
		Source:       c.source.WithURI(c.source.URI, c.source.Headers),
		Qualities:    append([]hls.QualityOption(nil), c.analysis.Qualities...),
		QualityMode:  c.mode,
		Audio:        append([]hls.AudioTrackOption(nil), c.analysis.Audio...),
		IsPlaying:    c.status.IsPlaying,
		Position:     c.status.Position,
		Duration:     c.status.Duration,
		Buffering:    c.overlay,
		Remediations: c.ledger.Snapshot(),
		Error:        c.lastErr,
		ActiveCue:    c.cue,
	}
	if c.variant.URI != "" {
		v := c.variant
		st.Variant = &v
	}
	if t, ok := hls.PreferredAudio(c.analysis.Audio, c.settings.PreferEnglishAudio); ok {
		st.AudioTrack = &t
	}
	st.Captions = append(append([]media.CaptionSource(nil), c.source.Captions...), c.analysis.Subtitles...)
	if cs, ok := captions.PickDefault(st.Captions, c.settings.AutoEnableCaptions); ok {
		st.Caption = &cs
	}
	return st
}

// Close saves the position, cancels in-flight work, clears every timer and
// waits for background goroutines. It is idempotent.
func (c *Controller) Close() error {
	already := false
	c.locked(func() {
		if c.closed {
			already = true
			return
		}
		c.saveResumeLocked(false)
		c.bump()
		c.closed = true
		c.phase = PhaseClosed
		c.baseCancel()
		c.logger.Debug().Str(log.FieldEvent, "session.close").Msg("session closed")
	})
	if already {
		return nil
	}
	if c.sched != nil {
		c.sched.Stop()
	}
	c.wg.Wait()
	metrics.DecSessions()
	return nil
}

// prepare scrapes, resolves and analyzes one source outside the lock.
func (c *Controller) prepare(ctx context.Context, desc media.MediaDescriptor, order []string) (prepared, error) {
	src, err := c.scraper.Scrape(log.ContextWithSessionID(ctx, c.id), desc, scrape.Options{SourceOrder: order})
	if err != nil {
		if !errors.Is(err, media.ErrStreamUnavailable) {
			err = fmt.Errorf("%w: %w", media.ErrStreamUnavailable, err)
		}
		return prepared{}, fmt.Errorf("session: scrape %s: %w", desc.Key(), err)
	}
	src, host, err := c.resolve(ctx, src)
	if err != nil {
		return prepared{}, err
	}
	return prepared{desc: desc, src: src, host: host, analysis: c.analyze(ctx, src)}, nil
}

// resolve also reports the host family of the embed page, which the final
// CDN URL usually no longer carries.
func (c *Controller) resolve(ctx context.Context, src media.PlaybackSource) (media.PlaybackSource, resolver.Host, error) {
	host := resolver.Classify(src.URI)
	if c.resolver == nil {
		if media.LooksPlayable(src.URI) || src.StreamType != "" {
			return src, host, nil
		}
		return src, host, fmt.Errorf("session: %s: %w", src.URI, media.ErrStreamUnavailable)
	}
	res, err := c.resolver.Resolve(ctx, src.URI, src.Headers)
	if err != nil {
		return src, host, fmt.Errorf("session: %w: %w", media.ErrStreamUnavailable, err)
	}
	if res.Host.Known() {
		host = res.Host
	}
	out := src.WithURI(res.URI, res.Headers)
	if out.StreamType == "" {
		out.StreamType = res.StreamType
	}
	return out, host, nil
}

// analyze degrades to an empty analysis (single quality, default audio) when
// the manifest cannot be fetched.
func (c *Controller) analyze(ctx context.Context, src media.PlaybackSource) hls.Analysis {
	if !src.IsHLS() {
		return hls.Analysis{}
	}
	text, err := hls.Fetch(ctx, c.client, src.URI, src.Headers)
	if err != nil {
		metrics.RecordManifestAnalyze("failed")
		c.logger.Debug().Err(err).Str(log.FieldEvent, "session.manifest_failed").Msg("manifest unavailable, single quality assumed")
		return hls.Analysis{}
	}
	a := hls.Analyze(text, src.URI)
	if a.IsMaster {
		metrics.RecordManifestAnalyze("master")
	} else {
		metrics.RecordManifestAnalyze("media")
	}
	return a
}

// installLocked makes p the current source. Caller must hold lock and have
// bumped the generation.
func (c *Controller) installLocked(p prepared, startAt time.Duration, reason string) error {
	replacing := c.source.URI != ""
	c.desc = p.desc
	c.master = p.src
	c.host = p.host
	c.analysis = p.analysis
	c.mode = QualityAuto
	c.variant = hls.QualityOption{}
	c.proxied = false
	c.ledger.Reset()
	c.lastDowngrade = time.Time{}
	c.status = Status{}
	c.resumeAt, c.resumeDone = 0, false

	if err := c.loadLocked(p.src, startAt); err != nil {
		c.failLocked(EventFatal, err)
		return err
	}
	c.phase = PhaseReady
	c.loadTrackLocked(startAt)
	c.logger.Info().
		Str(log.FieldEvent, "session.load").
		Str(log.FieldReason, reason).
		Str(log.FieldMediaKey, p.desc.Key()).
		Str(log.FieldSourceID, p.src.SourceID).
		Str(log.FieldStreamType, string(p.src.StreamType)).
		Int("qualities", len(p.analysis.Qualities)).
		Msg("source loaded")
	if replacing {
		c.emit(EventSourceChanged, p.src.SourceID)
	} else {
		c.emit(EventLoaded, p.src.SourceID)
	}
	return nil
}

// loadLocked hands src to the player. Caller must hold lock.
func (c *Controller) loadLocked(src media.PlaybackSource, startAt time.Duration) error {
	if err := c.player.Load(src, startAt); err != nil {
		return fmt.Errorf("session: player load: %w", err)
	}
	c.source = src
	c.status = Status{Position: startAt, Duration: c.status.Duration}
	c.lastAdvance = c.clock.Now()
	return nil
}

func (c *Controller) failLocked(kind EventKind, err error) {
	c.phase = PhaseFailed
	c.lastErr = err.Error()
	c.resetBuffering()
	c.logger.Warn().Err(err).Str(log.FieldEvent, "session."+string(kind)).Msg("playback failed")
	c.emit(kind, err.Error())
}

func (c *Controller) storedPosition(ctx context.Context, desc media.MediaDescriptor) time.Duration {
	if c.store == nil || c.userID == "" {
		return 0
	}
	pos, err := c.store.Get(ctx, c.userID, desc.Key())
	if err != nil {
		if !errors.Is(err, media.ErrNotFound) {
			c.logger.Warn().Err(err).Msg("resume lookup failed")
		}
		return 0
	}
	if pos.Finished {
		return 0
	}
	return time.Duration(pos.PositionMs) * time.Millisecond
}

// applyResumeLocked seeks to the resume point once per load, only after the
// duration is known and only when the player is more than the tolerance
// behind it.
func (c *Controller) applyResumeLocked(st Status) {
	if c.resumeDone || c.resumeAt <= 0 || st.Duration <= 0 {
		return
	}
	c.resumeDone = true
	target := c.resumeAt
	if limit := st.Duration - c.tuning.ResumeTailGuard; target > limit {
		target = limit
	}
	if target <= 0 || target-st.Position <= c.tuning.ResumeTolerance {
		return
	}
	if err := c.player.Seek(target); err != nil {
		c.logger.Warn().Err(err).Msg("resume seek failed")
		return
	}
	c.lastAdvance = c.clock.Now()
	c.logger.Info().Str(log.FieldEvent, "session.resume").Int64(log.FieldPositionMs, target.Milliseconds()).Msg("resumed playback")
	c.emit(EventResumed, target.String())
}

func (c *Controller) saveResumeLocked(finished bool) {
	if c.store == nil || c.userID == "" || c.source.URI == "" {
		return
	}
	if c.phase == PhaseEnded && !finished {
		return
	}
	pos := c.status.Position
	if pos <= 0 && !finished {
		return
	}
	store, user, key := c.store, c.userID, c.desc.Key()
	rec := resume.Position{
		PositionMs: pos.Milliseconds(),
		DurationMs: c.status.Duration.Milliseconds(),
		Finished:   finished,
		UpdatedAt:  c.clock.Now().UTC(),
	}
	logger := c.logger
	c.post = append(c.post, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := store.Put(ctx, user, key, rec); err != nil {
			logger.Warn().Err(err).Str(log.FieldMediaKey, key).Msg("resume save failed")
		}
	})
}

func (c *Controller) feedPrefetchLocked() {
	if c.sched == nil {
		return
	}
	pb := prefetch.Playback{
		Target: prefetch.Target{
			Key:         c.desc.Key() + "|" + c.master.URI,
			PlaylistURL: c.source.URI,
			Headers:     media.CloneHeaders(c.source.Headers),
			Position:    c.status.Position,
		},
		Playing:   c.status.IsPlaying,
		Buffering: c.overlay,
	}
	if !c.source.IsHLS() {
		pb.PlaylistURL = ""
	}
	sched := c.sched
	c.post = append(c.post, func() { sched.Update(pb) })
}
