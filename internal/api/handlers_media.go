// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/mzazimhenga22/movieflix/internal/captions"
	"github.com/mzazimhenga22/movieflix/internal/hls"
	"github.com/mzazimhenga22/movieflix/internal/media"
	"github.com/mzazimhenga22/movieflix/internal/metrics"
)

type resolveRequest struct {
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
}

type resolveResponse struct {
	URI        string            `json:"uri"`
	Headers    map[string]string `json:"headers,omitempty"`
	Host       string            `json:"host"`
	StreamType media.StreamType  `json:"streamType,omitempty"`
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	if s.deps.Resolver == nil {
		unavailable(w, r, "resolver")
		return
	}
	var req resolveRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		badRequest(w, r, "url is required")
		return
	}
	res, err := s.deps.Resolver.Resolve(r.Context(), req.URL, req.Headers)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resolveResponse{
		URI:        res.URI,
		Headers:    res.Headers,
		Host:       string(res.Host),
		StreamType: res.StreamType,
	})
}

type analyzeRequest struct {
	URL      string            `json:"url"`
	Headers  map[string]string `json:"headers,omitempty"`
	Manifest string            `json:"manifest,omitempty"`
	// PreferEnglish overrides the configured audio preference.
	PreferEnglish *bool `json:"preferEnglish,omitempty"`
}

type analyzeResponse struct {
	hls.Analysis
	PreferredAudio *hls.AudioTrackOption `json:"preferredAudio,omitempty"`
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.URL == "" {
		badRequest(w, r, "url is required")
		return
	}
	text := req.Manifest
	if text == "" {
		fetched, err := hls.Fetch(r.Context(), s.deps.Client, req.URL, req.Headers)
		if err != nil {
			metrics.RecordManifestAnalyze("failed")
			writeProblem(w, r, http.StatusBadGateway, "manifest/fetch_failed", err.Error())
			return
		}
		text = fetched
	}

	preferEnglish := s.deps.Settings().PreferEnglishAudio
	if req.PreferEnglish != nil {
		preferEnglish = *req.PreferEnglish
	}
	resp := analyzeResponse{Analysis: hls.Analyze(text, req.URL)}
	if resp.IsMaster {
		metrics.RecordManifestAnalyze("master")
	} else {
		metrics.RecordManifestAnalyze("media")
	}
	if track, ok := hls.PreferredAudio(resp.Audio, preferEnglish); ok {
		resp.PreferredAudio = &track
	}
	writeJSON(w, http.StatusOK, resp)
}

type captionsParseRequest struct {
	Payload string            `json:"payload"`
	Type    media.CaptionType `json:"type,omitempty"`
	URL     string            `json:"url,omitempty"`
}

type cuesResponse struct {
	Type media.CaptionType  `json:"type"`
	Cues []media.CaptionCue `json:"cues"`
}

func (s *Server) handleCaptionsParse(w http.ResponseWriter, r *http.Request) {
	var req captionsParseRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	kind := req.Type
	switch kind {
	case media.CaptionSRT, media.CaptionVTT:
	case "":
		kind = captions.DetectType(req.Payload, req.URL)
	default:
		badRequest(w, r, "unsupported caption type %q", kind)
		return
	}
	cues := captions.Parse(req.Payload, kind)
	if cues == nil {
		cues = []media.CaptionCue{}
	}
	writeJSON(w, http.StatusOK, cuesResponse{Type: kind, Cues: cues})
}

type captionsLoadRequest struct {
	Source  media.CaptionSource `json:"source"`
	Headers map[string]string   `json:"headers,omitempty"`
}

func (s *Server) handleCaptionsLoad(w http.ResponseWriter, r *http.Request) {
	if s.deps.Captions == nil {
		unavailable(w, r, "caption loader")
		return
	}
	var req captionsLoadRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Source.URL == "" {
		badRequest(w, r, "source.url is required")
		return
	}
	cues, err := s.deps.Captions.Load(r.Context(), req.Source, req.Headers)
	if errors.Is(err, captions.ErrEmpty) {
		writeProblem(w, r, http.StatusUnprocessableEntity, "captions/empty", err.Error())
		return
	}
	if err != nil {
		writeProblem(w, r, http.StatusBadGateway, "captions/load_failed", err.Error())
		return
	}
	if cues == nil {
		cues = []media.CaptionCue{}
	}
	kind := req.Source.Type
	if kind == "" {
		kind = captions.DetectType("", req.Source.URL)
	}
	writeJSON(w, http.StatusOK, cuesResponse{Type: kind, Cues: cues})
}
