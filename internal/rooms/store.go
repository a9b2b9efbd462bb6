package rooms

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrSessionFull is returned when every room is at capacity and the
// per-session room ceiling prevents creating another.
var ErrSessionFull = errors.New("session is full")

// JoinParams carries one join request.
type JoinParams struct {
	SessionID       uuid.UUID
	ConnectionToken string
	UserID          *uuid.UUID
	DeviceInfo      string
	RoomCapacity    int
	MaxRooms        int
}

// JoinResult is the room assignment for a connection.
type JoinResult struct {
	RoomID     uuid.UUID
	RoomNumber int
	// Rejoined is true when the connection token already held an active
	// membership and no counters were touched.
	Rejoined bool
}

// LeaveResult reports the room a listener left.
type LeaveResult struct {
	SessionID       uuid.UUID
	RoomID          uuid.UUID
	DurationSeconds int
}

// RoomOccupancy is one room's live occupancy.
type RoomOccupancy struct {
	RoomNumber int `json:"room_number"`
	Count      int `json:"count"`
	Capacity   int `json:"capacity"`
}

// SessionStats is the authoritative live view of a session's audience.
type SessionStats struct {
	ActiveListeners int             `json:"active_listeners"`
	PeakViewers     int             `json:"peak_viewers"`
	TotalViewers    int             `json:"total_viewers"`
	Rooms           []RoomOccupancy `json:"rooms"`
}

// Store persists rooms and listener memberships. Join, Leave and CloseAll
// are atomic per call: two racing joins can never both create a membership
// for one token or push a room past its capacity.
type Store interface {
	Join(ctx context.Context, p JoinParams) (*JoinResult, error)
	// Leave marks the membership left and decrements its room. Returns
	// (nil, nil) when the token never joined or already left.
	Leave(ctx context.Context, connectionToken string) (*LeaveResult, error)
	// CloseAll force-leaves every open membership and deactivates every room.
	CloseAll(ctx context.Context, sessionID uuid.UUID) error
	Stats(ctx context.Context, sessionID uuid.UUID) (*SessionStats, error)
}
