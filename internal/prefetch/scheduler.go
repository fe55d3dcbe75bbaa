// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package prefetch

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"
)

// Playback is what the scheduler needs to know about the player.
type Playback struct {
	Target
	Playing   bool
	Buffering bool
}

// SchedulerConfig sets the cycle cadence.
type SchedulerConfig struct {
	// MinInterval and MaxInterval bound the jittered cadence while playing.
	MinInterval time.Duration
	MaxInterval time.Duration
	// AggressiveInterval is the cadence while buffering.
	AggressiveInterval time.Duration
}

func (c SchedulerConfig) withDefaults() SchedulerConfig {
	if c.MinInterval <= 0 {
		c.MinInterval = 30 * time.Second
	}
	if c.MaxInterval < c.MinInterval {
		c.MaxInterval = c.MinInterval + 15*time.Second
	}
	if c.AggressiveInterval <= 0 {
		c.AggressiveInterval = 5 * time.Second
	}
	return c
}

// Scheduler runs prefetch cycles for one playback session. Cycles run while
// playing on a 30-45s cadence and immediately plus frequently while
// buffering; nothing runs while paused unless buffering.
type Scheduler struct {
	p   *Prefetcher
	cfg SchedulerConfig

	mu   sync.Mutex
	cur  Playback
	have bool

	kick   chan struct{}
	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler creates a scheduler; call Start to begin.
func NewScheduler(p *Prefetcher, cfg SchedulerConfig) *Scheduler {
	return &Scheduler{
		p:    p,
		cfg:  cfg.withDefaults(),
		kick: make(chan struct{}, 1),
	}
}

// Start launches the loop. It stops when ctx is done or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		cancel()
		return
	}
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()
	go s.loop(ctx)
}

// Stop cancels any in-flight cycle and waits for the loop to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Update records the latest playback state. Entering buffering or switching
// to a new stream while playing triggers a cycle right away.
func (s *Scheduler) Update(pb Playback) {
	s.mu.Lock()
	prev, had := s.cur, s.have
	s.cur, s.have = pb, true
	s.mu.Unlock()

	trigger := pb.Buffering && (!had || !prev.Buffering)
	if pb.Playing && (!had || prev.Key != pb.Key || prev.PlaylistURL != pb.PlaylistURL) {
		trigger = true
	}
	if trigger {
		select {
		case s.kick <- struct{}{}:
		default:
		}
	}
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)
	timer := time.NewTimer(s.nextInterval(false))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.kick:
		case <-timer.C:
		}
		aggressive := s.runOnce(ctx)
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(s.nextInterval(aggressive))
	}
}

// runOnce reports whether the cycle ran in aggressive mode.
func (s *Scheduler) runOnce(ctx context.Context) bool {
	s.mu.Lock()
	pb, have := s.cur, s.have
	s.mu.Unlock()
	if !have || pb.PlaylistURL == "" {
		return false
	}
	if !pb.Playing && !pb.Buffering {
		return false
	}
	s.p.Cycle(ctx, pb.Target, pb.Buffering)
	return pb.Buffering
}

func (s *Scheduler) nextInterval(aggressive bool) time.Duration {
	if aggressive {
		return s.cfg.AggressiveInterval
	}
	span := s.cfg.MaxInterval - s.cfg.MinInterval
	if span <= 0 {
		return s.cfg.MinInterval
	}
	return s.cfg.MinInterval + rand.N(span)
}
