// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package watchparty

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mzazimhenga22/movieflix/internal/log"
	"github.com/mzazimhenga22/movieflix/internal/media"
	"github.com/mzazimhenga22/movieflix/internal/metrics"
)

const (
	// DefaultSeekThreshold is the drift below which guests do not seek.
	DefaultSeekThreshold = 1500 * time.Millisecond
	// DefaultEndGuard keeps a reconciled position short of the end.
	DefaultEndGuard = 250 * time.Millisecond
)

// Controls is the guest's local player surface. *session.Controller
// satisfies it.
type Controls interface {
	Play() error
	Pause() error
	Seek(pos time.Duration) error
}

// LocalState is the guest player's current view.
type LocalState struct {
	IsPlaying bool
	Position  time.Duration
	Duration  time.Duration
}

// ReconcilerConfig configures a guest Reconciler.
type ReconcilerConfig struct {
	Controls Controls
	// Local reports the guest player's current state.
	Local func() LocalState
	// OnEpisode runs when the host moved to another episode. Guests resolve
	// their own stream for ep.Descriptor(room.Media) here.
	OnEpisode     func(ctx context.Context, ep Episode) error
	SeekThreshold time.Duration
	EndGuard      time.Duration
	Now           func() time.Time
	Logger        zerolog.Logger
}

// Result describes one applied playback update.
type Result struct {
	Desired time.Duration
	Drift   time.Duration
	Seeked  bool
}

// Reconciler applies remote room state to a guest player.
type Reconciler struct {
	cfg ReconcilerConfig

	mu           sync.Mutex
	lastPlayback int64
	lastEpisode  int64
	episode      *Episode
}

// NewReconciler validates cfg and fills defaults.
func NewReconciler(cfg ReconcilerConfig) (*Reconciler, error) {
	if cfg.Controls == nil || cfg.Local == nil {
		return nil, errors.New("watchparty: reconciler requires controls and local state")
	}
	if cfg.SeekThreshold <= 0 {
		cfg.SeekThreshold = DefaultSeekThreshold
	}
	if cfg.EndGuard <= 0 {
		cfg.EndGuard = DefaultEndGuard
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Reconciler{cfg: cfg}, nil
}

// Prime records the episode the guest already opened so that joining a room
// does not trigger a re-resolve of the same episode.
func (r *Reconciler) Prime(ep *Episode) {
	if ep == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *ep
	r.episode = &cp
	if ep.UpdatedAt > r.lastEpisode {
		r.lastEpisode = ep.UpdatedAt
	}
}

// Watermarks returns the last applied playback and episode stamps.
func (r *Reconciler) Watermarks() (playback, episode int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastPlayback, r.lastEpisode
}

// ApplyPlayback reconciles one remote state. Updates not newer than the last
// applied one return media.ErrStale and leave the player untouched.
func (r *Reconciler) ApplyPlayback(st PlaybackState) (Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if st.UpdatedAtMillis <= r.lastPlayback {
		metrics.RecordWatchPartyUpdate(string(UpdatePlayback), "stale")
		return Result{}, fmt.Errorf("watchparty: playback at %d: %w", st.UpdatedAtMillis, media.ErrStale)
	}
	r.lastPlayback = st.UpdatedAtMillis

	local := r.cfg.Local()
	desired := r.desired(st, local.Duration)
	res := Result{Desired: desired, Drift: local.Position - desired}
	metrics.ObserveWatchPartyDrift(res.Drift)

	if abs(res.Drift) > r.cfg.SeekThreshold {
		if err := r.cfg.Controls.Seek(desired); err != nil {
			metrics.RecordWatchPartyUpdate(string(UpdatePlayback), "error")
			return res, fmt.Errorf("watchparty: seek: %w", err)
		}
		res.Seeked = true
		r.cfg.Logger.Debug().
			Str(log.FieldEvent, "party.seek").
			Int64(log.FieldPositionMs, desired.Milliseconds()).
			Int64(log.FieldDriftMs, res.Drift.Milliseconds()).
			Msg("guest seek")
	}

	var err error
	if st.IsPlaying {
		err = r.cfg.Controls.Play()
	} else {
		err = r.cfg.Controls.Pause()
	}
	if err != nil {
		metrics.RecordWatchPartyUpdate(string(UpdatePlayback), "error")
		return res, fmt.Errorf("watchparty: apply play state: %w", err)
	}
	metrics.RecordWatchPartyUpdate(string(UpdatePlayback), "applied")
	return res, nil
}

func (r *Reconciler) desired(st PlaybackState, dur time.Duration) time.Duration {
	pos := time.Duration(st.PositionMillis) * time.Millisecond
	if st.IsPlaying {
		if elapsed := r.cfg.Now().UnixMilli() - st.UpdatedAtMillis; elapsed > 0 {
			pos += time.Duration(elapsed) * time.Millisecond
		}
	}
	if dur > 0 {
		limit := dur - r.cfg.EndGuard
		if limit < 0 {
			limit = 0
		}
		if pos > limit {
			pos = limit
		}
	}
	if pos < 0 {
		pos = 0
	}
	return pos
}

// ApplyEpisode records a remote episode change and calls OnEpisode when the
// season/episode tuple differs from the current one. Stale records return
// media.ErrStale.
func (r *Reconciler) ApplyEpisode(ctx context.Context, ep Episode) (bool, error) {
	r.mu.Lock()
	if ep.UpdatedAt <= r.lastEpisode {
		r.mu.Unlock()
		metrics.RecordWatchPartyUpdate(string(UpdateEpisode), "stale")
		return false, fmt.Errorf("watchparty: episode at %d: %w", ep.UpdatedAt, media.ErrStale)
	}
	r.lastEpisode = ep.UpdatedAt
	changed := EpisodeChanged(r.episode, ep)
	cp := ep
	r.episode = &cp
	r.mu.Unlock()

	if !changed {
		metrics.RecordWatchPartyUpdate(string(UpdateEpisode), "unchanged")
		return false, nil
	}
	r.cfg.Logger.Info().
		Str(log.FieldEvent, "party.episode").
		Int("season", ep.SeasonNumber).
		Int("episode", ep.EpisodeNumber).
		Msg("host changed episode")
	if r.cfg.OnEpisode != nil {
		if err := r.cfg.OnEpisode(ctx, ep); err != nil {
			metrics.RecordWatchPartyUpdate(string(UpdateEpisode), "error")
			return true, fmt.Errorf("watchparty: switch episode: %w", err)
		}
	}
	metrics.RecordWatchPartyUpdate(string(UpdateEpisode), "applied")
	return true, nil
}

// Apply dispatches one Update by kind.
func (r *Reconciler) Apply(ctx context.Context, u Update) error {
	switch u.Kind {
	case UpdatePlayback:
		if u.Playback == nil {
			return nil
		}
		_, err := r.ApplyPlayback(*u.Playback)
		return err
	case UpdateEpisode:
		if u.Episode == nil {
			return nil
		}
		_, err := r.ApplyEpisode(ctx, *u.Episode)
		return err
	default:
		return fmt.Errorf("watchparty: unknown update kind %q", u.Kind)
	}
}

// Run applies updates until the channel closes or ctx ends. Stale and
// failed updates are logged and skipped.
func (r *Reconciler) Run(ctx context.Context, updates <-chan Update) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case u, ok := <-updates:
			if !ok {
				return nil
			}
			if err := r.Apply(ctx, u); err != nil {
				lvl := r.cfg.Logger.Warn()
				if errors.Is(err, media.ErrStale) {
					lvl = r.cfg.Logger.Debug()
				}
				lvl.Err(err).Str(log.FieldRoomID, u.RoomID).Str("kind", string(u.Kind)).Msg("room update skipped")
			}
		}
	}
}

// Follow subscribes to the room, applies its current state and then every
// update until ctx ends. Subscribing first means nothing published between
// the read and the subscription is lost; duplicates fall to the watermark.
func (r *Reconciler) Follow(ctx context.Context, store Store, roomID string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	updates, err := store.Subscribe(ctx, roomID)
	if err != nil {
		return fmt.Errorf("watchparty: subscribe %s: %w", roomID, err)
	}
	room, err := store.GetRoom(ctx, roomID)
	if err != nil {
		return fmt.Errorf("watchparty: load room %s: %w", roomID, err)
	}
	if room.Episode != nil {
		_ = r.Apply(ctx, Update{Kind: UpdateEpisode, RoomID: roomID, Episode: room.Episode})
	}
	if room.Playback != nil {
		_ = r.Apply(ctx, Update{Kind: UpdatePlayback, RoomID: roomID, Playback: room.Playback})
	}
	return r.Run(ctx, updates)
}

func abs(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
