package rooms

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAllocator(capacity, maxRooms int) *Allocator {
	return NewAllocator(NewMemoryStore(), capacity, maxRooms, nil)
}

func TestJoinRoomFillsLowestRoomFirst(t *testing.T) {
	ctx := context.Background()
	alloc := newTestAllocator(3, 10)
	sessionID := uuid.New()

	for i := 0; i < 3; i++ {
		res, err := alloc.JoinRoom(ctx, sessionID, fmt.Sprintf("conn-%d", i), nil, "")
		require.NoError(t, err)
		assert.Equal(t, 1, res.RoomNumber)
	}

	// Fourth listener spills into a second room.
	res, err := alloc.JoinRoom(ctx, sessionID, "conn-3", nil, "")
	require.NoError(t, err)
	assert.Equal(t, 2, res.RoomNumber)
}

func TestJoinRoomConcurrentNeverExceedsCapacity(t *testing.T) {
	ctx := context.Background()
	const capacity = 20
	alloc := newTestAllocator(capacity, 50)
	sessionID := uuid.New()

	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := alloc.JoinRoom(ctx, sessionID, fmt.Sprintf("conn-%d", n), nil, "")
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	stats, err := alloc.Stats(ctx, sessionID)
	require.NoError(t, err)
	assert.Equal(t, 25, stats.ActiveListeners)
	require.Len(t, stats.Rooms, 2)
	for _, room := range stats.Rooms {
		assert.LessOrEqual(t, room.Count, capacity)
	}
	assert.Equal(t, capacity, stats.Rooms[0].Count)
	assert.Equal(t, 5, stats.Rooms[1].Count)
}

func TestJoinRoomIdempotentPerToken(t *testing.T) {
	ctx := context.Background()
	alloc := newTestAllocator(5, 10)
	sessionID := uuid.New()

	first, err := alloc.JoinRoom(ctx, sessionID, "conn-a", nil, "")
	require.NoError(t, err)
	assert.False(t, first.Rejoined)

	again, err := alloc.JoinRoom(ctx, sessionID, "conn-a", nil, "")
	require.NoError(t, err)
	assert.True(t, again.Rejoined)
	assert.Equal(t, first.RoomID, again.RoomID)

	stats, err := alloc.Stats(ctx, sessionID)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ActiveListeners)
	assert.Equal(t, 1, stats.TotalViewers)
}

func TestJoinRoomSessionFull(t *testing.T) {
	ctx := context.Background()
	alloc := newTestAllocator(2, 1)
	sessionID := uuid.New()

	_, err := alloc.JoinRoom(ctx, sessionID, "conn-0", nil, "")
	require.NoError(t, err)
	_, err = alloc.JoinRoom(ctx, sessionID, "conn-1", nil, "")
	require.NoError(t, err)

	_, err = alloc.JoinRoom(ctx, sessionID, "conn-2", nil, "")
	assert.ErrorIs(t, err, ErrSessionFull)
}

func TestLeaveRoomFreesSlot(t *testing.T) {
	ctx := context.Background()
	alloc := newTestAllocator(1, 1)
	sessionID := uuid.New()

	_, err := alloc.JoinRoom(ctx, sessionID, "conn-a", nil, "")
	require.NoError(t, err)

	left, err := alloc.LeaveRoom(ctx, "conn-a")
	require.NoError(t, err)
	require.NotNil(t, left)
	assert.Equal(t, sessionID, left.SessionID)

	// Leaving twice is a no-op.
	left, err = alloc.LeaveRoom(ctx, "conn-a")
	require.NoError(t, err)
	assert.Nil(t, left)

	// The freed slot is usable again.
	_, err = alloc.JoinRoom(ctx, sessionID, "conn-b", nil, "")
	require.NoError(t, err)
}

func TestRejoinAfterLeaveCountsAsNewViewer(t *testing.T) {
	ctx := context.Background()
	alloc := newTestAllocator(5, 10)
	sessionID := uuid.New()

	_, err := alloc.JoinRoom(ctx, sessionID, "conn-a", nil, "")
	require.NoError(t, err)
	_, err = alloc.LeaveRoom(ctx, "conn-a")
	require.NoError(t, err)
	res, err := alloc.JoinRoom(ctx, sessionID, "conn-a", nil, "")
	require.NoError(t, err)
	assert.False(t, res.Rejoined)

	stats, err := alloc.Stats(ctx, sessionID)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ActiveListeners)
	assert.Equal(t, 2, stats.TotalViewers)
	assert.Equal(t, 1, stats.PeakViewers)
}

func TestCloseAllRooms(t *testing.T) {
	ctx := context.Background()
	alloc := newTestAllocator(5, 10)
	sessionID := uuid.New()

	for i := 0; i < 7; i++ {
		_, err := alloc.JoinRoom(ctx, sessionID, fmt.Sprintf("conn-%d", i), nil, "")
		require.NoError(t, err)
	}
	require.NoError(t, alloc.CloseAllRooms(ctx, sessionID))

	stats, err := alloc.Stats(ctx, sessionID)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.ActiveListeners)
	assert.Empty(t, stats.Rooms)
	// Historical counters survive the close.
	assert.Equal(t, 7, stats.PeakViewers)
	assert.Equal(t, 7, stats.TotalViewers)
}

func TestViewerCount(t *testing.T) {
	ctx := context.Background()
	alloc := newTestAllocator(5, 10)
	sessionID := uuid.New()

	assert.Equal(t, 0, alloc.ViewerCount(ctx, sessionID))
	_, err := alloc.JoinRoom(ctx, sessionID, "conn-a", nil, "")
	require.NoError(t, err)
	assert.Equal(t, 1, alloc.ViewerCount(ctx, sessionID))
}
