package index

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrSnakeDoc/fedcheck/internal/roomcache"
)

// Session is the state kept for one room: its result cache, the server set
// of the last full test and the member count of each server.
type Session struct {
	Cache *roomcache.Cache

	mu         sync.RWMutex
	servers    map[string]struct{}
	members    map[string]int
	lastTested time.Time

	lastAccess atomic.Int64

	retestMu  sync.Mutex
	retesting map[string]struct{}
}

// NewSession creates an empty session for room.
func NewSession(room string) *Session {
	s := &Session{
		Cache:     roomcache.New(room),
		servers:   make(map[string]struct{}),
		retesting: make(map[string]struct{}),
	}
	s.Touch(time.Now())
	return s
}

// Room returns the room ID.
func (s *Session) Room() string {
	return s.Cache.Room()
}

// Touch records an access at t.
func (s *Session) Touch(t time.Time) {
	s.lastAccess.Store(t.UnixNano())
}

// LastAccess returns when the session was last used.
func (s *Session) LastAccess() time.Time {
	return time.Unix(0, s.lastAccess.Load())
}

// SetServers records the outcome of a full test. members may be nil when
// the server list did not come from room membership.
func (s *Session) SetServers(servers []string, members map[string]int, at time.Time) {
	set := make(map[string]struct{}, len(servers))
	for _, server := range servers {
		set[server] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.servers = set
	s.members = members
	s.lastTested = at
}

// Servers returns the server set of the last full test, sorted.
func (s *Session) Servers() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.servers))
	for server := range s.servers {
		out = append(out, server)
	}
	sort.Strings(out)
	return out
}

// HasServer reports whether server took part in the last full test.
func (s *Session) HasServer(server string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.servers[server]
	return ok
}

// MemberCounts returns a copy of the joined member count per server, nil
// if unknown.
func (s *Session) MemberCounts() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.members == nil {
		return nil
	}
	out := make(map[string]int, len(s.members))
	for k, v := range s.members {
		out[k] = v
	}
	return out
}

// LastTested returns when the last full test finished.
func (s *Session) LastTested() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.lastTested
}

// BeginRetest marks server as being retested. It returns false if a retest
// of the same server is already running.
func (s *Session) BeginRetest(server string) bool {
	s.retestMu.Lock()
	defer s.retestMu.Unlock()

	if _, busy := s.retesting[server]; busy {
		return false
	}
	s.retesting[server] = struct{}{}
	return true
}

// EndRetest clears the mark set by BeginRetest.
func (s *Session) EndRetest(server string) {
	s.retestMu.Lock()
	defer s.retestMu.Unlock()

	delete(s.retesting, server)
}
