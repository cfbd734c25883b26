// Package roomcache holds the latest probe outcome of every server in one
// room.
package roomcache

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrSnakeDoc/fedcheck/internal/domain"
	"github.com/MrSnakeDoc/fedcheck/internal/software"
)

// entry guards one server's outcome. Writers of different servers only
// share the map lock long enough to find their entry. A retired entry has
// been dropped from the map and refuses further writes.
type entry struct {
	mu      sync.Mutex
	outcome domain.Outcome
	present bool
	retired bool
}

func (e *entry) set(o domain.Outcome) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.retired {
		return false
	}
	e.outcome = o
	e.present = true
	return true
}

func retire(entries map[string]*entry) {
	for _, e := range entries {
		e.mu.Lock()
		e.retired = true
		e.mu.Unlock()
	}
}

// Cache maps server name to the latest outcome for one room.
type Cache struct {
	room      string
	mu        sync.RWMutex
	entries   map[string]*entry
	lastWrite atomic.Int64 // unix nanos of the last upsert or import
}

// New creates an empty cache for room.
func New(room string) *Cache {
	return &Cache{
		room:    room,
		entries: make(map[string]*entry),
	}
}

// Room returns the room this cache belongs to.
func (c *Cache) Room() string {
	return c.room
}

func (c *Cache) lookup(server string) *entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.entries[server]
}

func (c *Cache) getOrCreate(server string) *entry {
	if e := c.lookup(server); e != nil {
		return e
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.entries[server]
	if e == nil {
		e = &entry{}
		c.entries[server] = e
	}
	return e
}

// Get returns the cached outcome for server.
func (c *Cache) Get(server string) (domain.Outcome, bool) {
	e := c.lookup(server)
	if e == nil {
		return domain.Outcome{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.outcome, e.present
}

// Upsert replaces the outcome for o.Server. A write racing InvalidateAll or
// Import lands in the new map.
func (c *Cache) Upsert(o domain.Outcome) {
	for !c.getOrCreate(o.Server).set(o) {
	}
	c.lastWrite.Store(time.Now().UnixNano())
}

// Invalidate forgets one server. Other entries are untouched.
func (c *Cache) Invalidate(server string) {
	e := c.lookup(server)
	if e == nil {
		return
	}
	e.mu.Lock()
	e.outcome = domain.Outcome{}
	e.present = false
	e.mu.Unlock()
}

// InvalidateAll empties the cache.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	old := c.entries
	c.entries = make(map[string]*entry)
	c.mu.Unlock()
	retire(old)
}

// All returns a snapshot of every cached outcome in no particular order.
func (c *Cache) All() []domain.Outcome {
	c.mu.RLock()
	entries := make([]*entry, 0, len(c.entries))
	for _, e := range c.entries {
		entries = append(entries, e)
	}
	c.mu.RUnlock()

	out := make([]domain.Outcome, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		if e.present {
			out = append(out, e.outcome)
		}
		e.mu.Unlock()
	}
	return out
}

// Len returns the number of cached outcomes.
func (c *Cache) Len() int {
	return len(c.All())
}

// LastWrite returns when an outcome was last stored, zero if never.
func (c *Cache) LastWrite() time.Time {
	n := c.lastWrite.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// Export flattens the cache for persistence.
func (c *Cache) Export() domain.Snapshot {
	all := c.All()
	snap := make(domain.Snapshot, len(all))
	for _, o := range all {
		snap[o.Server] = domain.ToRecord(o)
	}
	return snap
}

// Import replaces the whole cache with snap. Versions are normalized again
// through reg. Records with an unknown status are skipped.
func (c *Cache) Import(snap domain.Snapshot, reg *software.Registry) int {
	entries := make(map[string]*entry, len(snap))
	for server, rec := range snap {
		if server == "" || !rec.Status.Valid() {
			continue
		}
		entries[server] = &entry{outcome: rec.Outcome(server, reg), present: true}
	}

	c.mu.Lock()
	old := c.entries
	c.entries = entries
	c.mu.Unlock()
	retire(old)
	c.lastWrite.Store(time.Now().UnixNano())
	return len(entries)
}
