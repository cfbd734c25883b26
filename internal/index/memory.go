package index

import (
	"sync"
	"time"
)

// MemoryIndex holds the session of every room the process knows about.
// Each room owns exactly one session; sessions are never shared between
// rooms.
type MemoryIndex struct {
	mu          sync.RWMutex
	sessions    map[string]*Session // room ID -> Session
	lastRestore time.Time           // Timestamp of the last restore from persistence
}

// NewMemoryIndex creates a new memory index
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{
		sessions: make(map[string]*Session),
	}
}

// Get retrieves the session of a room
func (idx *MemoryIndex) Get(room string) (*Session, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	s, ok := idx.sessions[room]
	return s, ok
}

// GetOrCreate returns the session of a room, creating it on first use
func (idx *MemoryIndex) GetOrCreate(room string) *Session {
	if s, ok := idx.Get(room); ok {
		return s
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	if s, ok := idx.sessions[room]; ok {
		return s
	}
	s := NewSession(room)
	idx.sessions[room] = s
	return s
}

// Put adds or replaces the session of a room
func (idx *MemoryIndex) Put(s *Session) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.sessions[s.Room()] = s
}

// Delete removes the session of a room
func (idx *MemoryIndex) Delete(room string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	delete(idx.sessions, room)
}

// All returns every session
func (idx *MemoryIndex) All() []*Session {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	sessions := make([]*Session, 0, len(idx.sessions))
	for _, s := range idx.sessions {
		sessions = append(sessions, s)
	}
	return sessions
}

// Count returns the number of rooms in the index
func (idx *MemoryIndex) Count() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	return len(idx.sessions)
}

// IdleSince lists the rooms whose session was last used before cutoff
func (idx *MemoryIndex) IdleSince(cutoff time.Time) []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var rooms []string
	for room, s := range idx.sessions {
		if s.LastAccess().Before(cutoff) {
			rooms = append(rooms, room)
		}
	}
	return rooms
}

// MarkRestored records a completed restore from persistence
func (idx *MemoryIndex) MarkRestored(t time.Time) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.lastRestore = t
}

// GetLastRestore returns the timestamp of the last restore
func (idx *MemoryIndex) GetLastRestore() time.Time {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	return idx.lastRestore
}
