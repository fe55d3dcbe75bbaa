// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mzazimhenga22/movieflix/internal/log"
	"github.com/mzazimhenga22/movieflix/internal/media"
	"github.com/mzazimhenga22/movieflix/internal/session"
	"github.com/mzazimhenga22/movieflix/internal/watchparty"
)

// maxPending bounds queued commands and events per remote session.
const maxPending = 64

// PlayerCommand is an instruction for the client's native player.
type PlayerCommand struct {
	Type       string                `json:"type"`
	Source     *media.PlaybackSource `json:"source,omitempty"`
	PositionMs int64                 `json:"positionMs,omitempty"`
}

// remotePlayer queues player calls until the client polls for them.
type remotePlayer struct {
	mu       sync.Mutex
	commands []PlayerCommand
}

func (p *remotePlayer) push(cmd PlayerCommand) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.commands) >= maxPending {
		p.commands = p.commands[1:]
	}
	p.commands = append(p.commands, cmd)
}

func (p *remotePlayer) Load(src media.PlaybackSource, startAt time.Duration) error {
	p.push(PlayerCommand{Type: "load", Source: &src, PositionMs: startAt.Milliseconds()})
	return nil
}

func (p *remotePlayer) Play() error {
	p.push(PlayerCommand{Type: "play"})
	return nil
}

func (p *remotePlayer) Pause() error {
	p.push(PlayerCommand{Type: "pause"})
	return nil
}

func (p *remotePlayer) Seek(pos time.Duration) error {
	p.push(PlayerCommand{Type: "seek", PositionMs: pos.Milliseconds()})
	return nil
}

func (p *remotePlayer) drain() []PlayerCommand {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.commands
	p.commands = nil
	return out
}

// remoteSession is a controller driven over HTTP. A session bound to a room
// either publishes its play state (host) or follows the room (guest).
type remoteSession struct {
	ctrl   *session.Controller
	player *remotePlayer
	roomID string
	role   watchparty.Role
	pub    *watchparty.Publisher

	mu         sync.Mutex
	events     []session.Event
	lastSeen   time.Time
	closed     bool
	stopFollow context.CancelFunc
	followDone chan struct{}
}

// follow applies the room's state to the controller until close.
func (rs *remoteSession) follow(store watchparty.Store, room watchparty.Room, logger zerolog.Logger) error {
	rec, err := watchparty.NewReconciler(watchparty.ReconcilerConfig{
		Controls: rs.ctrl,
		Local: func() watchparty.LocalState {
			st := rs.ctrl.Snapshot()
			return watchparty.LocalState{IsPlaying: st.IsPlaying, Position: st.Position, Duration: st.Duration}
		},
		OnEpisode: func(ctx context.Context, ep watchparty.Episode) error {
			err := rs.ctrl.ChangeEpisode(ctx, ep.SeasonNumber, ep.EpisodeNumber)
			if errors.Is(err, session.ErrNotEpisodic) {
				err = rs.ctrl.Open(ctx, ep.Descriptor(room.Media), session.OpenOptions{})
			}
			return err
		},
		Logger: logger,
	})
	if err != nil {
		return err
	}
	rec.Prime(room.Episode)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	rs.mu.Lock()
	if rs.closed {
		rs.mu.Unlock()
		cancel()
		return session.ErrClosed
	}
	rs.stopFollow, rs.followDone = cancel, done
	rs.mu.Unlock()
	go func() {
		defer close(done)
		err := rec.Follow(ctx, store, room.ID)
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn().Err(err).Str(log.FieldRoomID, room.ID).Msg("room follow ended")
		}
	}()
	return nil
}

// close stops following the room before closing the controller.
func (rs *remoteSession) close() {
	rs.mu.Lock()
	rs.closed = true
	stop, done := rs.stopFollow, rs.followDone
	rs.mu.Unlock()
	if stop != nil {
		stop()
		<-done
	}
	_ = rs.ctrl.Close()
}

func (rs *remoteSession) pushEvent(ev session.Event) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if len(rs.events) >= maxPending {
		rs.events = rs.events[1:]
	}
	rs.events = append(rs.events, ev)
}

func (rs *remoteSession) touch(now time.Time) {
	rs.mu.Lock()
	rs.lastSeen = now
	rs.mu.Unlock()
}

func (rs *remoteSession) idleSince() time.Time {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.lastSeen
}

// sessionView is returned by every session route.
type sessionView struct {
	State    session.State   `json:"state"`
	RoomID   string          `json:"roomId,omitempty"`
	Role     watchparty.Role `json:"role,omitempty"`
	Commands []PlayerCommand `json:"commands"`
	Events   []session.Event `json:"events"`
}

func (rs *remoteSession) view() sessionView {
	v := sessionView{State: rs.ctrl.Snapshot(), RoomID: rs.roomID, Role: rs.role, Commands: rs.player.drain()}
	rs.mu.Lock()
	v.Events = rs.events
	rs.events = nil
	rs.mu.Unlock()
	if v.Commands == nil {
		v.Commands = []PlayerCommand{}
	}
	if v.Events == nil {
		v.Events = []session.Event{}
	}
	return v
}

// sessionRegistry owns remote sessions and closes the ones nobody polls.
type sessionRegistry struct {
	idle   time.Duration
	logger zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*remoteSession
	closed   bool

	stop chan struct{}
	done chan struct{}
}

func newSessionRegistry(idle time.Duration, logger zerolog.Logger) *sessionRegistry {
	reg := &sessionRegistry{
		idle:     idle,
		logger:   logger,
		sessions: make(map[string]*remoteSession),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go reg.reap()
	return reg
}

// roomBinding ties a remote session to a watch party.
type roomBinding struct {
	roomID string
	role   watchparty.Role
	pub    *watchparty.Publisher
}

// create builds a controller from tmpl around a fresh remote player.
func (reg *sessionRegistry) create(tmpl session.Config, bind roomBinding) (*remoteSession, error) {
	rs := &remoteSession{
		player:   &remotePlayer{},
		roomID:   bind.roomID,
		role:     bind.role,
		pub:      bind.pub,
		lastSeen: time.Now(),
	}
	tmpl.Player = rs.player
	tmpl.OnEvent = rs.pushEvent
	ctrl, err := session.New(tmpl)
	if err != nil {
		return nil, err
	}
	rs.ctrl = ctrl

	reg.mu.Lock()
	if reg.closed {
		reg.mu.Unlock()
		_ = ctrl.Close()
		return nil, session.ErrClosed
	}
	reg.sessions[ctrl.ID()] = rs
	reg.mu.Unlock()
	return rs, nil
}

func (reg *sessionRegistry) get(id string) (*remoteSession, bool) {
	reg.mu.Lock()
	rs, ok := reg.sessions[id]
	reg.mu.Unlock()
	if ok {
		rs.touch(time.Now())
	}
	return rs, ok
}

func (reg *sessionRegistry) remove(id string) bool {
	reg.mu.Lock()
	rs, ok := reg.sessions[id]
	delete(reg.sessions, id)
	reg.mu.Unlock()
	if ok {
		rs.close()
	}
	return ok
}

func (reg *sessionRegistry) len() int {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return len(reg.sessions)
}

func (reg *sessionRegistry) reap() {
	defer close(reg.done)
	interval := reg.idle / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-reg.stop:
			return
		case now := <-ticker.C:
			reg.reapIdle(now)
		}
	}
}

func (reg *sessionRegistry) reapIdle(now time.Time) int {
	var stale []*remoteSession
	reg.mu.Lock()
	for id, rs := range reg.sessions {
		if now.Sub(rs.idleSince()) >= reg.idle {
			stale = append(stale, rs)
			delete(reg.sessions, id)
		}
	}
	reg.mu.Unlock()
	for _, rs := range stale {
		reg.logger.Info().
			Str(log.FieldEvent, "session.reaped").
			Str(log.FieldSessionID, rs.ctrl.ID()).
			Msg("closing idle remote session")
		rs.close()
	}
	return len(stale)
}

// Close stops the reaper and closes every session.
func (reg *sessionRegistry) Close() {
	reg.mu.Lock()
	if reg.closed {
		reg.mu.Unlock()
		return
	}
	reg.closed = true
	all := reg.sessions
	reg.sessions = make(map[string]*remoteSession)
	reg.mu.Unlock()

	close(reg.stop)
	<-reg.done
	for _, rs := range all {
		rs.close()
	}
}
