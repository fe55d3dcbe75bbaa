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

// DefaultPublishInterval is the minimum spacing of periodic host publishes.
const DefaultPublishInterval = 400 * time.Millisecond

// PublisherConfig configures a host Publisher.
type PublisherConfig struct {
	Store       Store
	MinInterval time.Duration
	Now         func() time.Time
	Logger      zerolog.Logger
}

// Publisher writes the host's play state to the room.
type Publisher struct {
	store       Store
	roomID      string
	minInterval time.Duration
	now         func() time.Time
	logger      zerolog.Logger

	mu          sync.Mutex
	lastPublish time.Time
	lastStamp   int64
	lastEpisode int64
}

// NewPublisher returns a publisher for room. Only the host may publish.
func NewPublisher(room Room, userID string, cfg PublisherConfig) (*Publisher, error) {
	if cfg.Store == nil {
		return nil, errors.New("watchparty: publisher requires a store")
	}
	if RoleFor(room, userID) != RoleHost {
		return nil, ErrNotHost
	}
	p := &Publisher{
		store:       cfg.Store,
		roomID:      room.ID,
		minInterval: cfg.MinInterval,
		now:         cfg.Now,
		logger:      cfg.Logger.With().Str(log.FieldRoomID, room.ID).Logger(),
	}
	if p.minInterval <= 0 {
		p.minInterval = DefaultPublishInterval
	}
	if p.now == nil {
		p.now = time.Now
	}
	if room.Playback != nil {
		p.lastStamp = room.Playback.UpdatedAtMillis
	}
	if room.Episode != nil {
		p.lastEpisode = room.Episode.UpdatedAt
	}
	return p, nil
}

// Tick publishes periodic state, skipping calls closer than the minimum
// interval to the previous publish. It reports whether it published.
func (p *Publisher) Tick(ctx context.Context, playing bool, pos time.Duration) (bool, error) {
	p.mu.Lock()
	now := p.now()
	if !p.lastPublish.IsZero() && now.Sub(p.lastPublish) < p.minInterval {
		p.mu.Unlock()
		return false, nil
	}
	st := p.stampLocked(now, playing, pos)
	p.mu.Unlock()
	return true, p.publish(ctx, st, "tick")
}

// UserAction publishes immediately after a play, pause or seek by the host.
func (p *Publisher) UserAction(ctx context.Context, playing bool, pos time.Duration) error {
	p.mu.Lock()
	st := p.stampLocked(p.now(), playing, pos)
	p.mu.Unlock()
	return p.publish(ctx, st, "action")
}

// ChangeEpisode publishes a new episode record with its own watermark.
func (p *Publisher) ChangeEpisode(ctx context.Context, ep Episode) error {
	p.mu.Lock()
	ep.UpdatedAt = nextStamp(p.now(), p.lastEpisode)
	p.lastEpisode = ep.UpdatedAt
	p.mu.Unlock()

	if err := p.store.PublishEpisode(ctx, p.roomID, ep); err != nil {
		metrics.RecordWatchPartyUpdate(string(UpdateEpisode), "publish_error")
		return fmt.Errorf("watchparty: publish episode: %w", err)
	}
	metrics.RecordWatchPartyUpdate(string(UpdateEpisode), "published")
	p.logger.Info().
		Str(log.FieldEvent, "party.episode").
		Int("season", ep.SeasonNumber).
		Int("episode", ep.EpisodeNumber).
		Msg("episode published")
	return nil
}

func (p *Publisher) stampLocked(now time.Time, playing bool, pos time.Duration) PlaybackState {
	p.lastPublish = now
	p.lastStamp = nextStamp(now, p.lastStamp)
	if pos < 0 {
		pos = 0
	}
	return PlaybackState{
		IsPlaying:       playing,
		PositionMillis:  pos.Milliseconds(),
		UpdatedAtMillis: p.lastStamp,
	}
}

func (p *Publisher) publish(ctx context.Context, st PlaybackState, reason string) error {
	err := p.store.PublishPlayback(ctx, p.roomID, st)
	switch {
	case err == nil:
		metrics.RecordWatchPartyUpdate(string(UpdatePlayback), "published")
	case errors.Is(err, media.ErrStale):
		// another host writer raced ahead; the room already holds newer state
		metrics.RecordWatchPartyUpdate(string(UpdatePlayback), "stale")
		return nil
	default:
		metrics.RecordWatchPartyUpdate(string(UpdatePlayback), "publish_error")
		return fmt.Errorf("watchparty: publish playback: %w", err)
	}
	p.logger.Debug().
		Str(log.FieldEvent, "party.publish").
		Str(log.FieldReason, reason).
		Bool("playing", st.IsPlaying).
		Int64(log.FieldPositionMs, st.PositionMillis).
		Msg("playback published")
	return nil
}

// nextStamp keeps watermarks strictly increasing even when the wall clock
// stalls or steps back.
func nextStamp(now time.Time, last int64) int64 {
	ms := now.UnixMilli()
	if ms <= last {
		ms = last + 1
	}
	return ms
}
