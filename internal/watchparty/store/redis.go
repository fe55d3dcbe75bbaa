// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/mzazimhenga22/movieflix/internal/log"
	"github.com/mzazimhenga22/movieflix/internal/media"
	"github.com/mzazimhenga22/movieflix/internal/watchparty"
)

const defaultRoomPrefix = "movieflix:room:"

// Room hash fields.
const (
	fieldHost      = "host"
	fieldMedia     = "media"
	fieldCreated   = "created"
	fieldPlayback  = "playback"
	fieldPlayStamp = "playback_at"
	fieldEpisode   = "episode"
	fieldEpStamp   = "episode_at"
)

// publishScript writes a room field only when its watermark moves forward,
// then notifies subscribers. Returns -1 for a missing room, 0 for stale.
var publishScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return -1
end
local cur = tonumber(redis.call('HGET', KEYS[1], ARGV[1]) or '0')
if tonumber(ARGV[2]) <= cur then
  return 0
end
redis.call('HSET', KEYS[1], ARGV[1], ARGV[2], ARGV[3], ARGV[4])
redis.call('PUBLISH', KEYS[2], ARGV[5])
if tonumber(ARGV[6]) > 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[6])
end
return 1
`)

// RedisConfig holds the room store connection settings.
type RedisConfig struct {
	Addr      string        `yaml:"addr"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db"`
	KeyPrefix string        `yaml:"keyPrefix"`
	RoomTTL   time.Duration `yaml:"roomTTL"`
}

// RedisStore keeps each room in a hash and fans updates out over pub/sub.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger zerolog.Logger

	mu   sync.Mutex
	subs map[*redis.PubSub]struct{}
}

// NewRedisStore connects and verifies the connection with a PING.
func NewRedisStore(cfg RedisConfig, logger zerolog.Logger) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	logger.Info().Str("addr", cfg.Addr).Int("db", cfg.DB).Msg("connected to Redis room store")
	return newRedisStore(client, cfg.KeyPrefix, cfg.RoomTTL, logger), nil
}

func newRedisStore(client *redis.Client, prefix string, ttl time.Duration, logger zerolog.Logger) *RedisStore {
	if prefix == "" {
		prefix = defaultRoomPrefix
	}
	return &RedisStore{
		client: client,
		prefix: prefix,
		ttl:    ttl,
		logger: logger,
		subs:   make(map[*redis.PubSub]struct{}),
	}
}

func (s *RedisStore) roomKey(id string) string { return s.prefix + id }

func (s *RedisStore) channel(id string) string { return s.prefix + id + ":updates" }

func (s *RedisStore) CreateRoom(ctx context.Context, room watchparty.Room) error {
	if err := validateRoom(room); err != nil {
		return err
	}
	if room.CreatedAt == 0 {
		room.CreatedAt = time.Now().UnixMilli()
	}
	mediaJSON, err := json.Marshal(room.Media)
	if err != nil {
		return fmt.Errorf("store: encode media: %w", err)
	}
	key := s.roomKey(room.ID)
	ok, err := s.client.HSetNX(ctx, key, fieldHost, room.HostID).Result()
	if err != nil {
		return fmt.Errorf("store: create room: %w", err)
	}
	if !ok {
		return watchparty.ErrRoomExists
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, fieldMedia, mediaJSON, fieldCreated, room.CreatedAt)
		if s.ttl > 0 {
			pipe.Expire(ctx, key, s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("store: create room: %w", err)
	}
	// optional initial state goes through the watermark path
	if room.Playback != nil {
		if err := s.PublishPlayback(ctx, room.ID, *room.Playback); err != nil {
			return err
		}
	}
	if room.Episode != nil {
		if err := s.PublishEpisode(ctx, room.ID, *room.Episode); err != nil {
			return err
		}
	}
	return nil
}

func (s *RedisStore) GetRoom(ctx context.Context, id string) (watchparty.Room, error) {
	fields, err := s.client.HGetAll(ctx, s.roomKey(id)).Result()
	if err != nil {
		return watchparty.Room{}, fmt.Errorf("store: get room: %w", err)
	}
	if len(fields) == 0 {
		return watchparty.Room{}, media.ErrNotFound
	}
	room := watchparty.Room{ID: id, HostID: fields[fieldHost]}
	if v := fields[fieldCreated]; v != "" {
		room.CreatedAt, _ = strconv.ParseInt(v, 10, 64)
	}
	if v := fields[fieldMedia]; v != "" {
		if err := json.Unmarshal([]byte(v), &room.Media); err != nil {
			return watchparty.Room{}, fmt.Errorf("store: decode media: %w", err)
		}
	}
	if v := fields[fieldPlayback]; v != "" {
		var pb watchparty.PlaybackState
		if err := json.Unmarshal([]byte(v), &pb); err != nil {
			return watchparty.Room{}, fmt.Errorf("store: decode playback: %w", err)
		}
		room.Playback = &pb
	}
	if v := fields[fieldEpisode]; v != "" {
		var ep watchparty.Episode
		if err := json.Unmarshal([]byte(v), &ep); err != nil {
			return watchparty.Room{}, fmt.Errorf("store: decode episode: %w", err)
		}
		room.Episode = &ep
	}
	return room, nil
}

func (s *RedisStore) PublishPlayback(ctx context.Context, id string, st watchparty.PlaybackState) error {
	u := watchparty.Update{Kind: watchparty.UpdatePlayback, RoomID: id, Playback: &st}
	return s.publish(ctx, id, fieldPlayStamp, st.UpdatedAtMillis, fieldPlayback, st, u)
}

func (s *RedisStore) PublishEpisode(ctx context.Context, id string, ep watchparty.Episode) error {
	u := watchparty.Update{Kind: watchparty.UpdateEpisode, RoomID: id, Episode: &ep}
	return s.publish(ctx, id, fieldEpStamp, ep.UpdatedAt, fieldEpisode, ep, u)
}

func (s *RedisStore) publish(ctx context.Context, id, stampField string, stamp int64, valueField string, value any, u watchparty.Update) error {
	valueJSON, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("store: encode %s: %w", valueField, err)
	}
	msg, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("store: encode update: %w", err)
	}
	res, err := publishScript.Run(ctx, s.client,
		[]string{s.roomKey(id), s.channel(id)},
		stampField, stamp, valueField, valueJSON, msg, s.ttl.Milliseconds(),
	).Int()
	if err != nil {
		return fmt.Errorf("store: publish %s: %w", valueField, err)
	}
	switch res {
	case -1:
		return media.ErrNotFound
	case 0:
		return media.ErrStale
	}
	return nil
}

func (s *RedisStore) Subscribe(ctx context.Context, id string) (<-chan watchparty.Update, error) {
	n, err := s.client.Exists(ctx, s.roomKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("store: subscribe: %w", err)
	}
	if n == 0 {
		return nil, media.ErrNotFound
	}
	ps := s.client.Subscribe(ctx, s.channel(id))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("store: subscribe: %w", err)
	}
	s.mu.Lock()
	s.subs[ps] = struct{}{}
	s.mu.Unlock()

	out := make(chan watchparty.Update, subscriberBuffer)
	logger := s.logger.With().Str(log.FieldRoomID, id).Logger()
	go func() {
		defer close(out)
		defer s.release(ps)
		msgs := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-msgs:
				if !ok {
					return
				}
				var u watchparty.Update
				if err := json.Unmarshal([]byte(m.Payload), &u); err != nil {
					logger.Warn().Err(err).Msg("dropping malformed room update")
					continue
				}
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

func (s *RedisStore) release(ps *redis.PubSub) {
	s.mu.Lock()
	delete(s.subs, ps)
	s.mu.Unlock()
	if err := ps.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
		s.logger.Debug().Err(err).Msg("pubsub close")
	}
}

// Close ends every subscription and closes the client.
func (s *RedisStore) Close() error {
	s.mu.Lock()
	subs := make([]*redis.PubSub, 0, len(s.subs))
	for ps := range s.subs {
		subs = append(subs, ps)
	}
	s.mu.Unlock()
	for _, ps := range subs {
		_ = ps.Close()
	}
	return s.client.Close()
}
