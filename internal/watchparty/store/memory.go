// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/mzazimhenga22/movieflix/internal/media"
	"github.com/mzazimhenga22/movieflix/internal/watchparty"
)

const subscriberBuffer = 16

var errClosed = errors.New("store: closed")

// MemoryStore keeps rooms in process. Subscribers share no state with the
// publisher: a full subscriber drops its oldest pending update.
type MemoryStore struct {
	mu     sync.Mutex
	rooms  map[string]watchparty.Room
	subs   map[string]map[chan watchparty.Update]struct{}
	closed bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rooms: make(map[string]watchparty.Room),
		subs:  make(map[string]map[chan watchparty.Update]struct{}),
	}
}

func (s *MemoryStore) CreateRoom(_ context.Context, room watchparty.Room) error {
	if err := validateRoom(room); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed
	}
	if _, ok := s.rooms[room.ID]; ok {
		return watchparty.ErrRoomExists
	}
	if room.CreatedAt == 0 {
		room.CreatedAt = time.Now().UnixMilli()
	}
	s.rooms[room.ID] = cloneRoom(room)
	return nil
}

func (s *MemoryStore) GetRoom(_ context.Context, id string) (watchparty.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[id]
	if !ok {
		return watchparty.Room{}, media.ErrNotFound
	}
	return cloneRoom(room), nil
}

func (s *MemoryStore) PublishPlayback(_ context.Context, id string, st watchparty.PlaybackState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[id]
	if !ok {
		return media.ErrNotFound
	}
	if room.Playback != nil && st.UpdatedAtMillis <= room.Playback.UpdatedAtMillis {
		return media.ErrStale
	}
	room.Playback = &st
	s.rooms[id] = room
	s.fanoutLocked(id, watchparty.Update{Kind: watchparty.UpdatePlayback, RoomID: id, Playback: &st})
	return nil
}

func (s *MemoryStore) PublishEpisode(_ context.Context, id string, ep watchparty.Episode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[id]
	if !ok {
		return media.ErrNotFound
	}
	if room.Episode != nil && ep.UpdatedAt <= room.Episode.UpdatedAt {
		return media.ErrStale
	}
	room.Episode = &ep
	s.rooms[id] = room
	s.fanoutLocked(id, watchparty.Update{Kind: watchparty.UpdateEpisode, RoomID: id, Episode: &ep})
	return nil
}

func (s *MemoryStore) Subscribe(ctx context.Context, id string) (<-chan watchparty.Update, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errClosed
	}
	if _, ok := s.rooms[id]; !ok {
		return nil, media.ErrNotFound
	}
	ch := make(chan watchparty.Update, subscriberBuffer)
	if s.subs[id] == nil {
		s.subs[id] = make(map[chan watchparty.Update]struct{})
	}
	s.subs[id][ch] = struct{}{}

	context.AfterFunc(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.subs[id][ch]; ok {
			delete(s.subs[id], ch)
			close(ch)
		}
	})
	return ch, nil
}

func (s *MemoryStore) fanoutLocked(id string, u watchparty.Update) {
	for ch := range s.subs[id] {
		select {
		case ch <- u:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- u:
		default:
		}
	}
}

// Close ends every subscription.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	for id, set := range s.subs {
		for ch := range set {
			close(ch)
		}
		delete(s.subs, id)
	}
	return nil
}

func cloneRoom(r watchparty.Room) watchparty.Room {
	if r.Playback != nil {
		pb := *r.Playback
		r.Playback = &pb
	}
	if r.Episode != nil {
		ep := *r.Episode
		r.Episode = &ep
	}
	return r
}

func validateRoom(r watchparty.Room) error {
	if r.ID == "" || r.HostID == "" {
		return errors.New("store: room id and host id are required")
	}
	return nil
}
