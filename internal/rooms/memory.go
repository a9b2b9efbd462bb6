package rooms

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/metinemredonmez/podcast-app-sub001/internal/models"
)

// MemoryStore is an in-process Store for tests and single-node development.
// One mutex spans each whole operation, so the capacity recheck and the
// count increment happen in the same critical section.
type MemoryStore struct {
	mu          sync.Mutex
	rooms       map[uuid.UUID]*models.Room          // room id -> room
	bySession   map[uuid.UUID][]uuid.UUID           // session id -> room ids ordered by number
	memberships map[string]*models.RoomListener     // connection token -> membership
	peak        map[uuid.UUID]int
	total       map[uuid.UUID]int
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rooms:       make(map[uuid.UUID]*models.Room),
		bySession:   make(map[uuid.UUID][]uuid.UUID),
		memberships: make(map[string]*models.RoomListener),
		peak:        make(map[uuid.UUID]int),
		total:       make(map[uuid.UUID]int),
	}
}

// Join implements Store.
func (s *MemoryStore) Join(_ context.Context, p JoinParams) (*JoinResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m, ok := s.memberships[p.ConnectionToken]; ok && m.LeftAt == nil {
		room := s.rooms[m.RoomID]
		return &JoinResult{RoomID: room.ID, RoomNumber: room.RoomNumber, Rejoined: true}, nil
	}

	room := s.pickRoomLocked(p.SessionID)
	if room == nil {
		if len(s.bySession[p.SessionID]) >= p.MaxRooms {
			return nil, ErrSessionFull
		}
		room = &models.Room{
			ID:         uuid.New(),
			SessionID:  p.SessionID,
			RoomNumber: len(s.bySession[p.SessionID]) + 1,
			Capacity:   p.RoomCapacity,
			IsActive:   true,
			CreatedAt:  time.Now(),
		}
		s.rooms[room.ID] = room
		s.bySession[p.SessionID] = append(s.bySession[p.SessionID], room.ID)
	}
	room.CurrentCount++

	now := time.Now()
	if m, ok := s.memberships[p.ConnectionToken]; ok {
		// Rejoin after leave reuses the membership row.
		m.RoomID = room.ID
		m.JoinedAt = now
		m.LeftAt = nil
	} else {
		s.memberships[p.ConnectionToken] = &models.RoomListener{
			ID:              uuid.New(),
			RoomID:          room.ID,
			SessionID:       p.SessionID,
			ConnectionToken: p.ConnectionToken,
			UserID:          p.UserID,
			DeviceInfo:      p.DeviceInfo,
			JoinedAt:        now,
		}
	}

	s.total[p.SessionID]++
	if active := s.activeCountLocked(p.SessionID); active > s.peak[p.SessionID] {
		s.peak[p.SessionID] = active
	}
	return &JoinResult{RoomID: room.ID, RoomNumber: room.RoomNumber}, nil
}

// Leave implements Store.
func (s *MemoryStore) Leave(_ context.Context, connectionToken string) (*LeaveResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.memberships[connectionToken]
	if !ok || m.LeftAt != nil {
		return nil, nil
	}
	now := time.Now()
	m.LeftAt = &now
	m.DurationSeconds = int(now.Sub(m.JoinedAt).Seconds())
	if room, ok := s.rooms[m.RoomID]; ok && room.CurrentCount > 0 {
		room.CurrentCount--
	}
	return &LeaveResult{SessionID: m.SessionID, RoomID: m.RoomID, DurationSeconds: m.DurationSeconds}, nil
}

// CloseAll implements Store.
func (s *MemoryStore) CloseAll(_ context.Context, sessionID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for _, m := range s.memberships {
		if m.SessionID == sessionID && m.LeftAt == nil {
			m.LeftAt = &now
			m.DurationSeconds = int(now.Sub(m.JoinedAt).Seconds())
		}
	}
	for _, roomID := range s.bySession[sessionID] {
		room := s.rooms[roomID]
		room.IsActive = false
		room.CurrentCount = 0
	}
	return nil
}

// Stats implements Store.
func (s *MemoryStore) Stats(_ context.Context, sessionID uuid.UUID) (*SessionStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := &SessionStats{
		ActiveListeners: s.activeCountLocked(sessionID),
		PeakViewers:     s.peak[sessionID],
		TotalViewers:    s.total[sessionID],
	}
	for _, roomID := range s.bySession[sessionID] {
		room := s.rooms[roomID]
		if !room.IsActive {
			continue
		}
		stats.Rooms = append(stats.Rooms, RoomOccupancy{
			RoomNumber: room.RoomNumber,
			Count:      room.CurrentCount,
			Capacity:   room.Capacity,
		})
	}
	sort.Slice(stats.Rooms, func(i, j int) bool { return stats.Rooms[i].RoomNumber < stats.Rooms[j].RoomNumber })
	return stats, nil
}

// pickRoomLocked returns the lowest-numbered active room with spare capacity.
func (s *MemoryStore) pickRoomLocked(sessionID uuid.UUID) *models.Room {
	var best *models.Room
	for _, roomID := range s.bySession[sessionID] {
		room := s.rooms[roomID]
		if !room.IsActive || room.CurrentCount >= room.Capacity {
			continue
		}
		if best == nil || room.RoomNumber < best.RoomNumber {
			best = room
		}
	}
	return best
}

func (s *MemoryStore) activeCountLocked(sessionID uuid.UUID) int {
	n := 0
	for _, m := range s.memberships {
		if m.SessionID == sessionID && m.LeftAt == nil {
			n++
		}
	}
	return n
}
