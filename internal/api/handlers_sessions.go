// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/mzazimhenga22/movieflix/internal/log"
	"github.com/mzazimhenga22/movieflix/internal/media"
	"github.com/mzazimhenga22/movieflix/internal/session"
	"github.com/mzazimhenga22/movieflix/internal/watchparty"
)

type createSessionRequest struct {
	Media     *media.MediaDescriptor `json:"media,omitempty"`
	URL       string                 `json:"url,omitempty"`
	Headers   map[string]string      `json:"headers,omitempty"`
	UserID    string                 `json:"userId,omitempty"`
	StartAtMs int64                  `json:"startAtMs,omitempty"`
	// RoomID joins a watch party: the host publishes, guests follow. Media
	// defaults to the room's current title.
	RoomID string `json:"roomId,omitempty"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	if s.deps.SessionTemplate == nil {
		unavailable(w, r, "playback sessions")
		return
	}
	var req createSessionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	bind, room, ok := s.bindRoom(w, r, &req)
	if !ok {
		return
	}
	if req.Media == nil && strings.TrimSpace(req.URL) == "" {
		badRequest(w, r, "media or url is required")
		return
	}
	if req.Media != nil {
		if err := req.Media.Validate(); err != nil {
			badRequest(w, r, "%v", err)
			return
		}
	}

	tmpl := *s.deps.SessionTemplate
	tmpl.UserID = req.UserID
	tmpl.Settings = s.deps.Settings()
	tmpl.Logger = log.WithComponentFromContext(r.Context(), "session")
	if tmpl.Captions == nil && s.deps.Captions != nil {
		tmpl.Captions = s.deps.Captions
	}
	rs, err := s.sessions.create(tmpl, bind)
	if err != nil {
		writeError(w, r, err)
		return
	}

	// The session outlives the request; resolution failures are reported in
	// the returned state so the client can fall back to open-url.
	if req.Media != nil {
		err = rs.ctrl.Open(r.Context(), *req.Media, session.OpenOptions{
			StartAt: time.Duration(req.StartAtMs) * time.Millisecond,
		})
	} else {
		err = rs.ctrl.OpenURL(r.Context(), req.URL, req.Headers)
	}
	logger := log.WithComponentFromContext(r.Context(), "api")
	if err != nil && !errors.Is(err, media.ErrStreamUnavailable) && !errors.Is(err, media.ErrUnresolvable) {
		logger.Warn().Err(err).Str(log.FieldSessionID, rs.ctrl.ID()).Msg("session open failed")
	}
	if bind.role == watchparty.RoleGuest {
		if err := rs.follow(s.deps.Rooms, room, log.WithComponentFromContext(r.Context(), "watchparty")); err != nil {
			s.sessions.remove(rs.ctrl.ID())
			writeError(w, r, err)
			return
		}
	}
	if bind.roomID != "" {
		logger.Info().
			Str(log.FieldEvent, "room.joined").
			Str(log.FieldRoomID, bind.roomID).
			Str(log.FieldSessionID, rs.ctrl.ID()).
			Str("role", string(bind.role)).
			Msg("session joined watch party")
	}
	writeJSON(w, http.StatusCreated, rs.view())
}

// bindRoom loads the requested room, fills in its media and builds the host
// publisher. A request without a room binds nothing.
func (s *Server) bindRoom(w http.ResponseWriter, r *http.Request, req *createSessionRequest) (roomBinding, watchparty.Room, bool) {
	if req.RoomID == "" {
		return roomBinding{}, watchparty.Room{}, true
	}
	if s.deps.Rooms == nil {
		unavailable(w, r, "room store")
		return roomBinding{}, watchparty.Room{}, false
	}
	room, err := s.deps.Rooms.GetRoom(r.Context(), req.RoomID)
	if err != nil {
		writeError(w, r, err)
		return roomBinding{}, watchparty.Room{}, false
	}
	if req.Media == nil && strings.TrimSpace(req.URL) == "" {
		desc := room.Media
		if room.Episode != nil {
			desc = room.Episode.Descriptor(room.Media)
		}
		req.Media = &desc
	}
	if req.StartAtMs <= 0 && room.Playback != nil {
		req.StartAtMs = room.Playback.PositionMillis
	}

	bind := roomBinding{roomID: room.ID, role: watchparty.RoleFor(room, req.UserID)}
	if bind.role == watchparty.RoleHost {
		bind.pub, err = watchparty.NewPublisher(room, req.UserID, watchparty.PublisherConfig{
			Store:  s.deps.Rooms,
			Logger: log.WithComponentFromContext(r.Context(), "watchparty"),
		})
		if err != nil {
			writeError(w, r, err)
			return roomBinding{}, watchparty.Room{}, false
		}
	}
	return bind, room, true
}

func (s *Server) remoteSession(w http.ResponseWriter, r *http.Request) (*remoteSession, bool) {
	rs, ok := s.sessions.get(chi.URLParam(r, "id"))
	if !ok {
		writeProblem(w, r, http.StatusNotFound, "resource/not_found", "unknown session")
		return nil, false
	}
	return rs, true
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	if rs, ok := s.remoteSession(w, r); ok {
		writeJSON(w, http.StatusOK, rs.view())
	}
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if !s.sessions.remove(chi.URLParam(r, "id")) {
		writeProblem(w, r, http.StatusNotFound, "resource/not_found", "unknown session")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type statusRequest struct {
	IsPlaying     bool  `json:"isPlaying"`
	IsBuffering   bool  `json:"isBuffering"`
	PositionMs    int64 `json:"positionMs"`
	DurationMs    int64 `json:"durationMs"`
	PlayableMs    int64 `json:"playableMs"`
	DidJustFinish bool  `json:"didJustFinish"`
}

func ms(v int64) time.Duration { return time.Duration(v) * time.Millisecond }

func (s *Server) handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	rs, ok := s.remoteSession(w, r)
	if !ok {
		return
	}
	var req statusRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	rs.ctrl.OnStatus(session.Status{
		IsPlaying:     req.IsPlaying,
		IsBuffering:   req.IsBuffering,
		Position:      ms(req.PositionMs),
		Duration:      ms(req.DurationMs),
		Playable:      ms(req.PlayableMs),
		DidJustFinish: req.DidJustFinish,
	})
	if rs.pub != nil {
		if _, err := rs.pub.Tick(r.Context(), req.IsPlaying, ms(req.PositionMs)); err != nil {
			partyLogger(r, rs).Warn().Err(err).Msg("host tick not published")
		}
	}
	writeJSON(w, http.StatusOK, rs.view())
}

type playerErrorRequest struct {
	Message string `json:"message"`
}

type playerErrorResponse struct {
	Fault session.FaultKind `json:"fault"`
	sessionView
}

func (s *Server) handleSessionError(w http.ResponseWriter, r *http.Request) {
	rs, ok := s.remoteSession(w, r)
	if !ok {
		return
	}
	var req playerErrorRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	kind := rs.ctrl.OnError(req.Message)
	writeJSON(w, http.StatusOK, playerErrorResponse{Fault: kind, sessionView: rs.view()})
}

type qualityRequest struct {
	ID string `json:"id"`
}

func (s *Server) handleSessionQuality(w http.ResponseWriter, r *http.Request) {
	rs, ok := s.remoteSession(w, r)
	if !ok {
		return
	}
	var req qualityRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := rs.ctrl.SetQuality(req.ID); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rs.view())
}

type openURLRequest struct {
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
}

func (s *Server) handleSessionOpenURL(w http.ResponseWriter, r *http.Request) {
	rs, ok := s.remoteSession(w, r)
	if !ok {
		return
	}
	var req openURLRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		badRequest(w, r, "url is required")
		return
	}
	if err := rs.ctrl.OpenURL(r.Context(), req.URL, req.Headers); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rs.view())
}

func (s *Server) handleSessionSource(w http.ResponseWriter, r *http.Request) {
	rs, ok := s.remoteSession(w, r)
	if !ok {
		return
	}
	if err := rs.ctrl.SwitchSource(r.Context()); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rs.view())
}

type sessionEpisodeRequest struct {
	Season  int `json:"season"`
	Episode int `json:"episode"`
}

func (s *Server) handleSessionEpisode(w http.ResponseWriter, r *http.Request) {
	rs, ok := s.remoteSession(w, r)
	if !ok {
		return
	}
	var req sessionEpisodeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Season < 0 || req.Episode <= 0 {
		badRequest(w, r, "season and episode are required")
		return
	}
	if err := rs.ctrl.ChangeEpisode(r.Context(), req.Season, req.Episode); err != nil {
		writeError(w, r, err)
		return
	}
	if rs.pub != nil {
		ep := watchparty.Episode{SeasonNumber: req.Season, EpisodeNumber: req.Episode}
		if err := rs.pub.ChangeEpisode(r.Context(), ep); err != nil {
			partyLogger(r, rs).Warn().Err(err).Msg("host episode not published")
		}
	}
	writeJSON(w, http.StatusOK, rs.view())
}

type controlsRequest struct {
	Action     string `json:"action"`
	PositionMs int64  `json:"positionMs,omitempty"`
}

func (s *Server) handleSessionControls(w http.ResponseWriter, r *http.Request) {
	rs, ok := s.remoteSession(w, r)
	if !ok {
		return
	}
	var req controlsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	var err error
	switch req.Action {
	case "play":
		err = rs.ctrl.Play()
	case "pause":
		err = rs.ctrl.Pause()
	case "seek":
		if req.PositionMs < 0 {
			badRequest(w, r, "positionMs must not be negative")
			return
		}
		err = rs.ctrl.Seek(ms(req.PositionMs))
	default:
		badRequest(w, r, "unknown action %q", req.Action)
		return
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	if rs.pub != nil {
		st := rs.ctrl.Snapshot()
		playing, pos := st.IsPlaying, st.Position
		switch req.Action {
		case "play":
			playing = true
		case "pause":
			playing = false
		case "seek":
			pos = ms(req.PositionMs)
		}
		if err := rs.pub.UserAction(r.Context(), playing, pos); err != nil {
			partyLogger(r, rs).Warn().Err(err).Str("action", req.Action).Msg("host action not published")
		}
	}
	writeJSON(w, http.StatusOK, rs.view())
}

func partyLogger(r *http.Request, rs *remoteSession) *zerolog.Logger {
	logger := log.WithComponentFromContext(r.Context(), "watchparty").With().
		Str(log.FieldRoomID, rs.roomID).
		Str(log.FieldSessionID, rs.ctrl.ID()).
		Logger()
	return &logger
}
