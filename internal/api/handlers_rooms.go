// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/mzazimhenga22/movieflix/internal/log"
	"github.com/mzazimhenga22/movieflix/internal/media"
	"github.com/mzazimhenga22/movieflix/internal/watchparty"
)

type createRoomRequest struct {
	ID     string                `json:"id,omitempty"`
	HostID string                `json:"hostId"`
	Media  media.MediaDescriptor `json:"media"`
}

func (s *Server) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	if s.deps.Rooms == nil {
		unavailable(w, r, "room store")
		return
	}
	var req createRoomRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.HostID) == "" {
		badRequest(w, r, "hostId is required")
		return
	}
	if err := req.Media.Validate(); err != nil {
		badRequest(w, r, "%v", err)
		return
	}
	room := watchparty.Room{
		ID:        req.ID,
		HostID:    req.HostID,
		Media:     req.Media,
		CreatedAt: time.Now().UnixMilli(),
	}
	if room.ID == "" {
		room.ID = uuid.NewString()
	}
	if err := s.deps.Rooms.CreateRoom(r.Context(), room); err != nil {
		writeError(w, r, err)
		return
	}
	logger := log.WithComponentFromContext(r.Context(), "api")
	logger.Info().
		Str(log.FieldEvent, "room.created").
		Str(log.FieldRoomID, room.ID).
		Str(log.FieldUserID, room.HostID).
		Str(log.FieldMediaKey, room.Media.Key()).
		Msg("watch party created")
	writeJSON(w, http.StatusCreated, room)
}

func (s *Server) room(w http.ResponseWriter, r *http.Request) (watchparty.Room, bool) {
	if s.deps.Rooms == nil {
		unavailable(w, r, "room store")
		return watchparty.Room{}, false
	}
	room, err := s.deps.Rooms.GetRoom(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return watchparty.Room{}, false
	}
	return room, true
}

func (s *Server) handleGetRoom(w http.ResponseWriter, r *http.Request) {
	if room, ok := s.room(w, r); ok {
		writeJSON(w, http.StatusOK, room)
	}
}

func (s *Server) handleGetPlayback(w http.ResponseWriter, r *http.Request) {
	room, ok := s.room(w, r)
	if !ok {
		return
	}
	if room.Playback == nil {
		writeProblem(w, r, http.StatusNotFound, "rooms/no_playback", "host has not published playback yet")
		return
	}
	writeJSON(w, http.StatusOK, room.Playback)
}

type playbackRequest struct {
	UserID         string `json:"userId"`
	IsPlaying      bool   `json:"isPlaying"`
	PositionMillis int64  `json:"positionMillis"`
	// UpdatedAtMillis carries the host's own stamp. Zero lets the server stamp.
	UpdatedAtMillis int64 `json:"updatedAtMillis,omitempty"`
}

func (s *Server) publisher(w http.ResponseWriter, r *http.Request, userID string) (*watchparty.Publisher, watchparty.Room, bool) {
	room, ok := s.room(w, r)
	if !ok {
		return nil, room, false
	}
	pub, err := watchparty.NewPublisher(room, userID, watchparty.PublisherConfig{
		Store:  s.deps.Rooms,
		Logger: log.WithComponentFromContext(r.Context(), "watchparty"),
	})
	if err != nil {
		writeError(w, r, err)
		return nil, room, false
	}
	return pub, room, true
}

func (s *Server) handlePutPlayback(w http.ResponseWriter, r *http.Request) {
	var req playbackRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.PositionMillis < 0 {
		badRequest(w, r, "positionMillis must not be negative")
		return
	}
	pub, room, ok := s.publisher(w, r, req.UserID)
	if !ok {
		return
	}

	if req.UpdatedAtMillis > 0 {
		st := watchparty.PlaybackState{
			IsPlaying:       req.IsPlaying,
			PositionMillis:  req.PositionMillis,
			UpdatedAtMillis: req.UpdatedAtMillis,
		}
		if err := s.deps.Rooms.PublishPlayback(r.Context(), room.ID, st); err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, st)
		return
	}

	pos := time.Duration(req.PositionMillis) * time.Millisecond
	if err := pub.UserAction(r.Context(), req.IsPlaying, pos); err != nil {
		writeError(w, r, err)
		return
	}
	s.writeCurrentPlayback(w, r, room.ID)
}

func (s *Server) writeCurrentPlayback(w http.ResponseWriter, r *http.Request, id string) {
	current, err := s.deps.Rooms.GetRoom(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, current.Playback)
}

type episodeRequest struct {
	UserID string `json:"userId"`
	watchparty.Episode
}

func (s *Server) handlePutEpisode(w http.ResponseWriter, r *http.Request) {
	var req episodeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.SeasonNumber < 0 || req.EpisodeNumber <= 0 {
		badRequest(w, r, "seasonNumber and episodeNumber are required")
		return
	}
	pub, room, ok := s.publisher(w, r, req.UserID)
	if !ok {
		return
	}
	if err := pub.ChangeEpisode(r.Context(), req.Episode); err != nil {
		writeError(w, r, err)
		return
	}
	current, err := s.deps.Rooms.GetRoom(r.Context(), room.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, current.Episode)
}

// handleRoomEvents streams room updates over a websocket. The subscription
// is taken before the upgrade so unknown rooms still get a plain 404.
func (s *Server) handleRoomEvents(w http.ResponseWriter, r *http.Request) {
	room, ok := s.room(w, r)
	if !ok {
		return
	}
	subCtx, cancel := s.hub.subscriptionContext()
	updates, err := s.deps.Rooms.Subscribe(subCtx, room.ID)
	if err != nil {
		cancel()
		writeError(w, r, err)
		return
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		cancel()
		return
	}
	logger := log.WithComponentFromContext(r.Context(), "ws").With().Str(log.FieldRoomID, room.ID).Logger()
	c := newWSClient(s.hub, conn, cancel, logger)
	if !s.hub.add(c) {
		cancel()
		_ = conn.Close()
		return
	}
	c.queue(wsMessage{Type: "room", Data: room})
	c.serve(updates)
}
