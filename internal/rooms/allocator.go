package rooms

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Allocator places listeners into capacity-bounded rooms and keeps the
// per-session viewer bookkeeping. All counter mutations go through the
// Store's atomic operations.
type Allocator struct {
	store        Store
	roomCapacity int
	maxRooms     int
	logger       *zap.Logger
}

// NewAllocator creates a room allocator.
func NewAllocator(store Store, roomCapacity, maxRooms int, logger *zap.Logger) *Allocator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if roomCapacity <= 0 {
		roomCapacity = 20
	}
	if maxRooms <= 0 {
		maxRooms = 50
	}
	return &Allocator{store: store, roomCapacity: roomCapacity, maxRooms: maxRooms, logger: logger}
}

// JoinRoom assigns the connection to the lowest-numbered non-full room,
// creating a new room when needed. Idempotent per connection token.
func (a *Allocator) JoinRoom(ctx context.Context, sessionID uuid.UUID, connectionToken string, userID *uuid.UUID, deviceInfo string) (*JoinResult, error) {
	res, err := a.store.Join(ctx, JoinParams{
		SessionID:       sessionID,
		ConnectionToken: connectionToken,
		UserID:          userID,
		DeviceInfo:      deviceInfo,
		RoomCapacity:    a.roomCapacity,
		MaxRooms:        a.maxRooms,
	})
	if err != nil {
		if err == ErrSessionFull {
			a.logger.Warn("join rejected, session full", zap.String("session_id", sessionID.String()))
			return nil, err
		}
		return nil, fmt.Errorf("join room: %w", err)
	}
	a.logger.Debug("listener joined",
		zap.String("session_id", sessionID.String()),
		zap.Int("room", res.RoomNumber),
		zap.Bool("rejoined", res.Rejoined))
	return res, nil
}

// LeaveRoom marks the connection's membership as left. No-op when the token
// never joined or already left.
func (a *Allocator) LeaveRoom(ctx context.Context, connectionToken string) (*LeaveResult, error) {
	res, err := a.store.Leave(ctx, connectionToken)
	if err != nil {
		return nil, fmt.Errorf("leave room: %w", err)
	}
	return res, nil
}

// CloseAllRooms force-closes every open membership and deactivates every
// room for the session. Used on session end and cancel.
func (a *Allocator) CloseAllRooms(ctx context.Context, sessionID uuid.UUID) error {
	if err := a.store.CloseAll(ctx, sessionID); err != nil {
		return fmt.Errorf("close rooms: %w", err)
	}
	a.logger.Info("rooms closed", zap.String("session_id", sessionID.String()))
	return nil
}

// Stats returns the authoritative audience view for a session.
func (a *Allocator) Stats(ctx context.Context, sessionID uuid.UUID) (*SessionStats, error) {
	return a.store.Stats(ctx, sessionID)
}

// ViewerCount returns the current number of active listeners.
func (a *Allocator) ViewerCount(ctx context.Context, sessionID uuid.UUID) int {
	stats, err := a.store.Stats(ctx, sessionID)
	if err != nil {
		a.logger.Warn("viewer count failed", zap.Error(err), zap.String("session_id", sessionID.String()))
		return 0
	}
	return stats.ActiveListeners
}
