// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package session

import (
	"context"
	"errors"
	"time"

	"github.com/mzazimhenga22/movieflix/internal/hls"
	"github.com/mzazimhenga22/movieflix/internal/media"
	"github.com/mzazimhenga22/movieflix/internal/resolver"
)

var (
	ErrClosed         = errors.New("session: closed")
	ErrUnknownQuality = errors.New("session: unknown quality")
	ErrNoSource       = errors.New("session: no source loaded")
	ErrNotEpisodic    = errors.New("session: media has no episodes")
)

// Player is the native video element driven by the controller. Methods are
// called with the controller lock held and must not call back into it.
type Player interface {
	Load(src media.PlaybackSource, startAt time.Duration) error
	Play() error
	Pause() error
	Seek(pos time.Duration) error
}

// Status is one player status callback.
type Status struct {
	IsPlaying     bool
	IsBuffering   bool
	Position      time.Duration
	Duration      time.Duration
	Playable      time.Duration
	DidJustFinish bool
}

// Settings are the user toggles read once at session start.
type Settings struct {
	AutoLowerQualityOnBuffer bool
	AutoSwitchSourceOnBuffer bool
	PreferEnglishAudio       bool
	AutoEnableCaptions       bool
}

// SourceResolver turns a provider URI into a playable one.
type SourceResolver interface {
	Resolve(ctx context.Context, uri string, headers map[string]string) (resolver.Result, error)
}

// CaptionLoader fetches and parses one caption source. *captions.Loader
// satisfies it.
type CaptionLoader interface {
	Load(ctx context.Context, src media.CaptionSource, headers map[string]string) ([]media.CaptionCue, error)
}

// Warmer preloads the first segments of a variant before switching to it.
type Warmer interface {
	Warm(ctx context.Context, playlistURL string, headers map[string]string, segments int) error
}

// Phase is the coarse controller state.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseResolving  Phase = "resolving"
	PhaseReady      Phase = "ready"
	PhasePlaying    Phase = "playing"
	PhasePaused     Phase = "paused"
	PhaseBuffering  Phase = "buffering"
	PhaseRecovering Phase = "recovering"
	PhaseEnded      Phase = "ended"
	PhaseFailed     Phase = "failed"
	PhaseClosed     Phase = "closed"
)

// QualityMode says whether the variant is chosen automatically.
type QualityMode string

const (
	QualityAuto   QualityMode = "auto"
	QualityManual QualityMode = "manual"
)

// EventKind names a user-visible controller notification.
type EventKind string

const (
	EventLoaded          EventKind = "loaded"
	EventBufferingShown  EventKind = "buffering_shown"
	EventBufferingHidden EventKind = "buffering_hidden"
	EventQualityChanged  EventKind = "quality_changed"
	EventSourceChanged   EventKind = "source_changed"
	EventResumed         EventKind = "resumed"
	EventRetry           EventKind = "retry"
	EventUnavailable     EventKind = "unavailable"
	EventFatal           EventKind = "fatal"
)

// Event is delivered to Config.OnEvent outside the controller lock.
type Event struct {
	Kind      EventKind `json:"kind"`
	SessionID string    `json:"sessionId"`
	Detail    string    `json:"detail,omitempty"`
}

// Tuning holds the policy timings. Zero fields take the defaults.
type Tuning struct {
	OverlayDelay      time.Duration
	StallWindow       time.Duration
	DowngradeGrace    time.Duration
	DowngradeCooldown time.Duration
	SourceSwitchAfter time.Duration
	ResumeTolerance   time.Duration
	ResumeTailGuard   time.Duration
	PreloadSegments   int
	PreloadTimeout    time.Duration
	// MaxSourceSwitches bounds automatic source switches per opened title.
	MaxSourceSwitches int
}

// DefaultTuning returns the stock policy timings.
func DefaultTuning() Tuning {
	return Tuning{
		OverlayDelay:      650 * time.Millisecond,
		StallWindow:       700 * time.Millisecond,
		DowngradeGrace:    2500 * time.Millisecond,
		DowngradeCooldown: 25 * time.Second,
		SourceSwitchAfter: 2200 * time.Millisecond,
		ResumeTolerance:   1500 * time.Millisecond,
		ResumeTailGuard:   2 * time.Second,
		PreloadSegments:   3,
		PreloadTimeout:    4 * time.Second,
		MaxSourceSwitches: 3,
	}
}

func (t Tuning) withDefaults() Tuning {
	d := DefaultTuning()
	if t.OverlayDelay <= 0 {
		t.OverlayDelay = d.OverlayDelay
	}
	if t.StallWindow <= 0 {
		t.StallWindow = d.StallWindow
	}
	if t.DowngradeGrace <= 0 {
		t.DowngradeGrace = d.DowngradeGrace
	}
	if t.DowngradeCooldown <= 0 {
		t.DowngradeCooldown = d.DowngradeCooldown
	}
	if t.SourceSwitchAfter <= 0 {
		t.SourceSwitchAfter = d.SourceSwitchAfter
	}
	if t.ResumeTolerance <= 0 {
		t.ResumeTolerance = d.ResumeTolerance
	}
	if t.ResumeTailGuard <= 0 {
		t.ResumeTailGuard = d.ResumeTailGuard
	}
	if t.PreloadSegments <= 0 {
		t.PreloadSegments = d.PreloadSegments
	}
	if t.PreloadTimeout <= 0 {
		t.PreloadTimeout = d.PreloadTimeout
	}
	if t.MaxSourceSwitches <= 0 {
		t.MaxSourceSwitches = d.MaxSourceSwitches
	}
	return t
}

// State is a point-in-time copy of the controller.
type State struct {
	ID           string                 `json:"id"`
	Phase        Phase                  `json:"phase"`
	Media        media.MediaDescriptor  `json:"media"`
	Source       media.PlaybackSource   `json:"source"`
	Qualities    []hls.QualityOption    `json:"qualities,omitempty"`
	QualityMode  QualityMode            `json:"qualityMode"`
	Variant      *hls.QualityOption     `json:"variant,omitempty"`
	Audio        []hls.AudioTrackOption `json:"audio,omitempty"`
	AudioTrack   *hls.AudioTrackOption  `json:"audioTrack,omitempty"`
	Captions     []media.CaptionSource  `json:"captions,omitempty"`
	Caption      *media.CaptionSource   `json:"caption,omitempty"`
	ActiveCue    string                 `json:"activeCue,omitempty"`
	IsPlaying    bool                   `json:"isPlaying"`
	Position     time.Duration          `json:"position"`
	Duration     time.Duration          `json:"duration"`
	Buffering    bool                   `json:"buffering"`
	Remediations map[Remediation]int    `json:"remediations,omitempty"`
	Error        string                 `json:"error,omitempty"`
}
