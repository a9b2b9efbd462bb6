package media

import (
	"sync"

	"github.com/google/uuid"
)

// Supervisor owns the mapping from session id to its running media process.
// A session has at most one process per supervisor; handles are never shared
// or migrated between sessions.
type Supervisor struct {
	mu        sync.RWMutex
	processes map[uuid.UUID]Process
}

// NewSupervisor creates an empty supervisor.
func NewSupervisor() *Supervisor {
	return &Supervisor{processes: make(map[uuid.UUID]Process)}
}

// Register stores the process handle for a session. Returns false when the
// session already has a registered process (the caller must not start a second one).
func (s *Supervisor) Register(sessionID uuid.UUID, p Process) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.processes[sessionID]; exists {
		return false
	}
	s.processes[sessionID] = p
	return true
}

// Lookup returns the process handle for a session, if any.
func (s *Supervisor) Lookup(sessionID uuid.UUID) (Process, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.processes[sessionID]
	return p, ok
}

// Unregister removes and returns the process handle for a session.
func (s *Supervisor) Unregister(sessionID uuid.UUID) (Process, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.processes[sessionID]
	if ok {
		delete(s.processes, sessionID)
	}
	return p, ok
}

// Len returns the number of supervised processes.
func (s *Supervisor) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.processes)
}
