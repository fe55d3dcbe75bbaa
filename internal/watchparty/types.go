// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package watchparty keeps guests of a room in step with the host: the host
// publishes play state and episode changes, guests reconcile against them.
package watchparty

import (
	"context"
	"errors"

	"github.com/mzazimhenga22/movieflix/internal/media"
)

var (
	// ErrRoomExists is returned by CreateRoom for a taken room id.
	ErrRoomExists = errors.New("watchparty: room already exists")
	// ErrNotHost is returned when a non-host tries to publish.
	ErrNotHost = errors.New("watchparty: user is not the room host")
)

// PlaybackState is the host's shared play state. UpdatedAtMillis is the
// host wall clock at publish time and doubles as the ordering watermark.
type PlaybackState struct {
	IsPlaying       bool  `json:"isPlaying" bson:"isPlaying"`
	PositionMillis  int64 `json:"positionMillis" bson:"positionMillis"`
	UpdatedAtMillis int64 `json:"updatedAtMillis" bson:"updatedAtMillis"`
}

// Episode is published by the host when a show moves to another episode.
// UpdatedAt (unix millis) is a watermark independent of PlaybackState.
type Episode struct {
	SeasonNumber  int    `json:"seasonNumber" bson:"seasonNumber"`
	EpisodeNumber int    `json:"episodeNumber" bson:"episodeNumber"`
	SeasonTmdbID  string `json:"seasonTmdbId,omitempty" bson:"seasonTmdbId,omitempty"`
	EpisodeTmdbID string `json:"episodeTmdbId,omitempty" bson:"episodeTmdbId,omitempty"`
	SeasonTitle   string `json:"seasonTitle,omitempty" bson:"seasonTitle,omitempty"`
	EpisodeTitle  string `json:"episodeTitle,omitempty" bson:"episodeTitle,omitempty"`
	UpdatedAt     int64  `json:"updatedAt" bson:"updatedAt"`
}

// Descriptor derives the media descriptor a guest resolves for this episode.
func (e Episode) Descriptor(base media.MediaDescriptor) media.MediaDescriptor {
	out := base.WithEpisode(e.SeasonNumber, e.EpisodeNumber)
	out.Type = media.KindShow
	return out
}

// EpisodeChanged compares the season/episode tuple only.
func EpisodeChanged(prev *Episode, next Episode) bool {
	if prev == nil {
		return true
	}
	return prev.SeasonNumber != next.SeasonNumber || prev.EpisodeNumber != next.EpisodeNumber
}

// Room is the shared document of one watch party.
type Room struct {
	ID        string                `json:"id" bson:"_id"`
	HostID    string                `json:"hostId" bson:"hostId"`
	Media     media.MediaDescriptor `json:"media" bson:"media"`
	Playback  *PlaybackState        `json:"playback,omitempty" bson:"playback,omitempty"`
	Episode   *Episode              `json:"episode,omitempty" bson:"episode,omitempty"`
	CreatedAt int64                 `json:"createdAt" bson:"createdAt"`
}

// Role of a user inside a room.
type Role string

const (
	RoleHost  Role = "host"
	RoleGuest Role = "guest"
)

// RoleFor compares userID with the room's host id.
func RoleFor(room Room, userID string) Role {
	if userID != "" && userID == room.HostID {
		return RoleHost
	}
	return RoleGuest
}

// UpdateKind tags an Update.
type UpdateKind string

const (
	UpdatePlayback UpdateKind = "playback"
	UpdateEpisode  UpdateKind = "episode"
)

// Update is one change pushed to room subscribers.
type Update struct {
	Kind     UpdateKind     `json:"kind"`
	RoomID   string         `json:"roomId"`
	Playback *PlaybackState `json:"playback,omitempty"`
	Episode  *Episode       `json:"episode,omitempty"`
}

// Store is the shared room document store.
//
// PublishPlayback and PublishEpisode only write when the new watermark is
// strictly greater than the stored one and return media.ErrStale otherwise.
// GetRoom and the publish calls return media.ErrNotFound for unknown rooms.
type Store interface {
	CreateRoom(ctx context.Context, room Room) error
	GetRoom(ctx context.Context, id string) (Room, error)
	PublishPlayback(ctx context.Context, id string, st PlaybackState) error
	PublishEpisode(ctx context.Context, id string, ep Episode) error
	// Subscribe streams updates until ctx ends; the channel is closed then.
	Subscribe(ctx context.Context, id string) (<-chan Update, error)
	Close() error
}
