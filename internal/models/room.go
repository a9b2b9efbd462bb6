package models

import (
	"time"

	"github.com/google/uuid"
)

// Room is a capacity-bounded subdivision of a session's audience.
// Rooms are created lazily and deactivated (never deleted) on session end.
type Room struct {
	ID           uuid.UUID `json:"id"`
	SessionID    uuid.UUID `json:"session_id"`
	RoomNumber   int       `json:"room_number"`
	Capacity     int       `json:"capacity"`
	CurrentCount int       `json:"current_count"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
}

// RoomListener is one connection's membership in a room. Kept after leave
// for analytics; LeftAt is null while the listener is connected.
type RoomListener struct {
	ID              uuid.UUID  `json:"id"`
	RoomID          uuid.UUID  `json:"room_id"`
	SessionID       uuid.UUID  `json:"session_id"`
	ConnectionToken string     `json:"connection_token"`
	UserID          *uuid.UUID `json:"user_id,omitempty"`
	DeviceInfo      string     `json:"device_info,omitempty"`
	JoinedAt        time.Time  `json:"joined_at"`
	LeftAt          *time.Time `json:"left_at,omitempty"`
	DurationSeconds int        `json:"duration_seconds"`
}
