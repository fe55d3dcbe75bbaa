// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package watchparty

import (
	"context"
	"sync"
	"time"

	"github.com/mzazimhenga22/movieflix/internal/media"
)

type fakeControls struct {
	mu     sync.Mutex
	seeks  []time.Duration
	plays  int
	pauses int
}

func (f *fakeControls) Play() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.plays++
	return nil
}

func (f *fakeControls) Pause() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pauses++
	return nil
}

func (f *fakeControls) Seek(pos time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seeks = append(f.seeks, pos)
	return nil
}

func (f *fakeControls) seekCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.seeks)
}

// fakeStore keeps one room and a single subscriber channel.
type fakeStore struct {
	mu        sync.Mutex
	room      Room
	playbacks []PlaybackState
	episodes  []Episode
	staleNext bool
	updates   chan Update
}

func newFakeStore(room Room) *fakeStore {
	return &fakeStore{room: room, updates: make(chan Update, 8)}
}

func (s *fakeStore) CreateRoom(context.Context, Room) error { return nil }

func (s *fakeStore) GetRoom(_ context.Context, id string) (Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id != s.room.ID {
		return Room{}, media.ErrNotFound
	}
	return s.room, nil
}

func (s *fakeStore) PublishPlayback(_ context.Context, _ string, st PlaybackState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.staleNext {
		s.staleNext = false
		return media.ErrStale
	}
	s.playbacks = append(s.playbacks, st)
	return nil
}

func (s *fakeStore) PublishEpisode(_ context.Context, _ string, ep Episode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.episodes = append(s.episodes, ep)
	return nil
}

func (s *fakeStore) Subscribe(ctx context.Context, _ string) (<-chan Update, error) {
	out := make(chan Update)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case u := <-s.updates:
				select {
				case out <- u:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (s *fakeStore) Close() error { return nil }

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *stepClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}
