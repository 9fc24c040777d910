// Package sessions holds the in-memory room session store. The store is the
// only shared mutable state in the server: every room mutation is funneled
// through Mutate, which serializes writers per room without blocking
// unrelated rooms.
package sessions

import (
	"sync"
	"time"

	"roomvoice/core"
)

type entry struct {
	mu      sync.Mutex
	session *core.Session
	evicted bool
}

// Store maps roomID to a live Session. A session exists from Create until
// Delete; Create is idempotent so a duplicate room_started refreshes nothing.
type Store struct {
	mu    sync.RWMutex
	rooms map[string]*entry
}

func NewStore() *Store {
	return &Store{rooms: make(map[string]*entry)}
}

// Create registers a session for roomID. If one is already live the call is a
// no-op and created is false; StartedAt is never reset by a duplicate event.
func (s *Store) Create(roomID string, startedAt time.Time) (created bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[roomID]; ok {
		return false
	}
	s.rooms[roomID] = &entry{session: core.NewSession(roomID, startedAt)}
	return true
}

// Mutate runs fn against the session for roomID while holding that room's
// lock. Returns core.ErrUnknownRoom if no session is live. fn must not
// perform I/O or call pipeline collaborators: anything long-running under
// this lock head-of-line blocks every later event for the room.
func (s *Store) Mutate(roomID string, fn func(*core.Session) error) error {
	s.mu.RLock()
	e, ok := s.rooms[roomID]
	s.mu.RUnlock()
	if !ok {
		return core.ErrUnknownRoom
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.evicted {
		return core.ErrUnknownRoom
	}
	return fn(e.session)
}

// Get returns a shallow snapshot of the session: the struct and participant
// map are copied under the room lock, participant values are copies too.
// Transcript shares backing storage but turns are append-only.
func (s *Store) Get(roomID string) (core.Session, bool) {
	s.mu.RLock()
	e, ok := s.rooms[roomID]
	s.mu.RUnlock()
	if !ok {
		return core.Session{}, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.evicted {
		return core.Session{}, false
	}
	snap := *e.session
	snap.Participants = make(map[string]*core.Participant, len(e.session.Participants))
	for id, p := range e.session.Participants {
		cp := *p
		snap.Participants[id] = &cp
	}
	return snap, true
}

// Delete evicts the session for roomID. Any Mutate already holding the room
// lock finishes first; later calls see ErrUnknownRoom.
func (s *Store) Delete(roomID string) {
	s.mu.Lock()
	e, ok := s.rooms[roomID]
	delete(s.rooms, roomID)
	s.mu.Unlock()
	if !ok {
		return
	}

	e.mu.Lock()
	e.evicted = true
	e.mu.Unlock()
}

// Len reports the number of live sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rooms)
}
