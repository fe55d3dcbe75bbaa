// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/mzazimhenga22/movieflix/internal/media"
	"github.com/mzazimhenga22/movieflix/internal/watchparty"
)

var show = media.MediaDescriptor{Type: media.KindShow, Title: "Show", TmdbID: "1399", Season: 1, Episode: 1}

// exerciseStore runs the behaviour every backend shares.
func exerciseStore(t *testing.T, s watchparty.Store) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, s.CreateRoom(ctx, watchparty.Room{ID: "r1", HostID: "alice", Media: show}))
	assert.ErrorIs(t, s.CreateRoom(ctx, watchparty.Room{ID: "r1", HostID: "bob"}), watchparty.ErrRoomExists)
	assert.Error(t, s.CreateRoom(ctx, watchparty.Room{ID: "r2"}))

	_, err := s.GetRoom(ctx, "missing")
	assert.ErrorIs(t, err, media.ErrNotFound)
	assert.ErrorIs(t, s.PublishPlayback(ctx, "missing", watchparty.PlaybackState{UpdatedAtMillis: 1}), media.ErrNotFound)
	_, err = s.Subscribe(ctx, "missing")
	assert.ErrorIs(t, err, media.ErrNotFound)

	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	updates, err := s.Subscribe(subCtx, "r1")
	require.NoError(t, err)

	require.NoError(t, s.PublishPlayback(ctx, "r1", watchparty.PlaybackState{IsPlaying: true, PositionMillis: 5000, UpdatedAtMillis: 100}))
	assert.ErrorIs(t, s.PublishPlayback(ctx, "r1", watchparty.PlaybackState{PositionMillis: 1, UpdatedAtMillis: 100}), media.ErrStale)
	assert.ErrorIs(t, s.PublishPlayback(ctx, "r1", watchparty.PlaybackState{PositionMillis: 1, UpdatedAtMillis: 99}), media.ErrStale)
	require.NoError(t, s.PublishEpisode(ctx, "r1", watchparty.Episode{SeasonNumber: 1, EpisodeNumber: 2, EpisodeTitle: "Two", UpdatedAt: 50}))
	assert.ErrorIs(t, s.PublishEpisode(ctx, "r1", watchparty.Episode{SeasonNumber: 9, UpdatedAt: 50}), media.ErrStale)

	room, err := s.GetRoom(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "alice", room.HostID)
	assert.Equal(t, show, room.Media)
	require.NotNil(t, room.Playback)
	assert.Equal(t, watchparty.PlaybackState{IsPlaying: true, PositionMillis: 5000, UpdatedAtMillis: 100}, *room.Playback)
	require.NotNil(t, room.Episode)
	assert.Equal(t, "Two", room.Episode.EpisodeTitle)
	assert.NotZero(t, room.CreatedAt)

	got := collect(t, updates, 2)
	assert.Equal(t, watchparty.UpdatePlayback, got[0].Kind)
	assert.Equal(t, int64(5000), got[0].Playback.PositionMillis)
	assert.Equal(t, watchparty.UpdateEpisode, got[1].Kind)
	assert.Equal(t, 2, got[1].Episode.EpisodeNumber)

	cancel()
	require.Eventually(t, func() bool {
		for {
			select {
			case _, ok := <-updates:
				if !ok {
					return true
				}
			default:
				return false
			}
		}
	}, 10*time.Second, 10*time.Millisecond)
}

func collect(t *testing.T, ch <-chan watchparty.Update, n int) []watchparty.Update {
	t.Helper()
	out := make([]watchparty.Update, 0, n)
	timeout := time.After(5 * time.Second)
	for len(out) < n {
		select {
		case u, ok := <-ch:
			require.True(t, ok, "subscription closed early")
			out = append(out, u)
		case <-timeout:
			t.Fatalf("got %d of %d updates", len(out), n)
		}
	}
	return out
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore()
	exerciseStore(t, s)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
}

func TestMemoryStore_SlowSubscriberKeepsLatest(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	defer s.Close()
	require.NoError(t, s.CreateRoom(ctx, watchparty.Room{ID: "r1", HostID: "alice"}))
	updates, err := s.Subscribe(ctx, "r1")
	require.NoError(t, err)

	for i := int64(1); i <= subscriberBuffer+5; i++ {
		require.NoError(t, s.PublishPlayback(ctx, "r1", watchparty.PlaybackState{UpdatedAtMillis: i}))
	}
	var last int64
	for i := 0; i < subscriberBuffer; i++ {
		last = (<-updates).Playback.UpdatedAtMillis
	}
	assert.Equal(t, int64(subscriberBuffer+5), last)

	require.NoError(t, s.Close())
	_, ok := <-updates
	assert.False(t, ok)
}

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := newRedisStore(client, "", time.Hour, zerolog.Nop())
	exerciseStore(t, s)

	assert.True(t, mr.Exists("movieflix:room:r1"))
	assert.Equal(t, "alice", mr.HGet("movieflix:room:r1", "host"))
	assert.Equal(t, "100", mr.HGet("movieflix:room:r1", "playback_at"))
	assert.Greater(t, mr.TTL("movieflix:room:r1"), time.Duration(0))
	require.NoError(t, s.Close())
}

func TestRedisStore_InitialState(t *testing.T) {
	mr := miniredis.RunT(t)
	s := newRedisStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "test:", 0, zerolog.Nop())
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.CreateRoom(ctx, watchparty.Room{
		ID:       "r1",
		HostID:   "alice",
		Playback: &watchparty.PlaybackState{PositionMillis: 42, UpdatedAtMillis: 7},
	}))
	room, err := s.GetRoom(ctx, "r1")
	require.NoError(t, err)
	require.NotNil(t, room.Playback)
	assert.Equal(t, int64(42), room.Playback.PositionMillis)
	assert.Nil(t, room.Episode)
	assert.Equal(t, time.Duration(0), mr.TTL("test:r1"))
}

func TestNew_Backends(t *testing.T) {
	ctx := context.Background()
	s, err := New(ctx, Config{})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	mr := miniredis.RunT(t)
	s, err = New(ctx, Config{Backend: "Redis", Redis: RedisConfig{Addr: mr.Addr()}})
	require.NoError(t, err)
	assert.IsType(t, &RedisStore{}, s)
	require.NoError(t, s.Close())

	_, err = New(ctx, Config{Backend: "etcd"})
	assert.Error(t, err)
}

func TestMongoStore(t *testing.T) {
	uri := os.Getenv("MOVIEFLIX_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("MOVIEFLIX_TEST_MONGO_URI not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := Connect(ctx, uri, options.Client().SetConnectTimeout(3*time.Second))
	require.NoError(t, err)
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		t.Skipf("MongoDB ping failed at %s: %v", uri, err)
	}
	dbName := fmt.Sprintf("movieflix_test_%d", time.Now().UnixNano())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = client.Database(dbName).Drop(ctx)
		_ = client.Disconnect(ctx)
	})

	exerciseStore(t, NewMongoStoreWithClient(client, dbName, "", zerolog.Nop()))
}
