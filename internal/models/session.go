package models

import (
	"time"

	"github.com/google/uuid"
)

// StreamStatus is the lifecycle state of a broadcast session.
type StreamStatus string

const (
	StatusScheduled StreamStatus = "SCHEDULED"
	StatusPreparing StreamStatus = "PREPARING"
	StatusLive      StreamStatus = "LIVE"
	StatusPaused    StreamStatus = "PAUSED"
	StatusEnded     StreamStatus = "ENDED"
	StatusCancelled StreamStatus = "CANCELLED"
)

// Valid reports whether s is a known status.
func (s StreamStatus) Valid() bool {
	switch s {
	case StatusScheduled, StatusPreparing, StatusLive, StatusPaused, StatusEnded, StatusCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether no further transitions are allowed from s.
func (s StreamStatus) IsTerminal() bool {
	return s == StatusEnded || s == StatusCancelled
}

// CanTransitionTo reports whether the transition s -> to is legal.
func (s StreamStatus) CanTransitionTo(to StreamStatus) bool {
	switch to {
	case StatusLive:
		return s == StatusScheduled || s == StatusPreparing || s == StatusPaused
	case StatusPaused:
		return s == StatusLive
	case StatusEnded:
		return s == StatusLive || s == StatusPaused
	case StatusCancelled:
		return s == StatusScheduled || s == StatusPreparing
	default:
		return false
	}
}

// StreamSession is one broadcast attempt, from scheduling through a terminal state.
// Rows are append-only: ending or cancelling is a status change, never a delete.
type StreamSession struct {
	ID                 uuid.UUID    `json:"id"`
	HostID             uuid.UUID    `json:"host_id"`
	Title              string       `json:"title"`
	Description        string       `json:"description"`
	Category           string       `json:"category"`
	Status             StreamStatus `json:"status"`
	ScheduledAt        *time.Time   `json:"scheduled_at,omitempty"`
	StartedAt          *time.Time   `json:"started_at,omitempty"`
	EndedAt            *time.Time   `json:"ended_at,omitempty"`
	MaxDurationSeconds int          `json:"max_duration_seconds"`
	IsRecorded         bool         `json:"is_recorded"`
	PlaybackURL        string       `json:"playback_url,omitempty"`
	StreamKey          string       `json:"-"` // host-only secret; exposed via HostView only
	PeakViewers        int          `json:"peak_viewers"`
	TotalViewers       int          `json:"total_viewers"`
	RecordingURL       string       `json:"recording_url,omitempty"`
	DurationSeconds    int          `json:"duration_seconds"`
	CreatedAt          time.Time    `json:"created_at"`
	UpdatedAt          time.Time    `json:"updated_at"`
}

// HostView is the session representation returned to its own host,
// including the stream key used to authenticate the realtime host role.
type HostView struct {
	*StreamSession
	StreamKey string `json:"stream_key"`
}

// ForHost wraps the session with its host-only secret.
func (s *StreamSession) ForHost() HostView {
	return HostView{StreamSession: s, StreamKey: s.StreamKey}
}
