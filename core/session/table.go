package session

import (
	"sync"
	"time"
)

// Table indexes live sessions by id. It is shared by request handling and the
// persistence and garbage collection daemons.
type Table struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewTable returns an empty live-session table.
func NewTable() *Table {
	return &Table{sessions: make(map[string]*Session)}
}

// Attach registers s under its current id, replacing any existing entry.
func (t *Table) Attach(s *Session) error {
	id := s.ID()
	if id == "" {
		return ErrInvalidID
	}

	t.mu.Lock()
	t.sessions[id] = s
	t.mu.Unlock()
	return nil
}

// attachIfAbsent registers s unless id is already live.
func (t *Table) attachIfAbsent(id string, s *Session) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.sessions[id]; ok {
		return false
	}
	t.sessions[id] = s
	return true
}

// Get returns the live session for id.
func (t *Table) Get(id string) (*Session, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.sessions[id]
	return s, ok
}

// Remove drops id from the table.
func (t *Table) Remove(id string) {
	t.mu.Lock()
	delete(t.sessions, id)
	t.mu.Unlock()
}

// removeIf drops id only while it still maps to s, so a session attached
// under the same id after a snapshot is not evicted by mistake.
func (t *Table) removeIf(id string, s *Session) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if cur, ok := t.sessions[id]; ok && cur == s {
		delete(t.sessions, id)
	}
}

// Len returns the number of live sessions.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.sessions)
}

// Snapshot returns a copy of the id to session mapping.
func (t *Table) Snapshot() map[string]*Session {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[string]*Session, len(t.sessions))
	for id, s := range t.sessions {
		out[id] = s
	}
	return out
}

// Persisted describes the last stored copy of a session.
type Persisted struct {
	Checksum string
	// Activity is the last activity recorded in the stored copy.
	Activity time.Time
	// SavedAt is when the copy was written. Handlers count their inactivity
	// window from this instant.
	SavedAt time.Time
}

// ChecksumCache maps session ids to their last persisted copy. Absence of an
// id means the session was never persisted.
type ChecksumCache struct {
	mu      sync.RWMutex
	entries map[string]Persisted
}

// NewChecksumCache returns an empty cache.
func NewChecksumCache() *ChecksumCache {
	return &ChecksumCache{entries: make(map[string]Persisted)}
}

// Get returns the cached checksum for id.
func (c *ChecksumCache) Get(id string) (string, bool) {
	p, ok := c.Lookup(id)
	return p.Checksum, ok
}

// Lookup returns the full record for id.
func (c *ChecksumCache) Lookup(id string) (Persisted, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.entries[id]
	return p, ok
}

// Set records the stored copy of id.
func (c *ChecksumCache) Set(id string, p Persisted) {
	c.mu.Lock()
	c.entries[id] = p
	c.mu.Unlock()
}

// Delete forgets id.
func (c *ChecksumCache) Delete(id string) {
	c.mu.Lock()
	delete(c.entries, id)
	c.mu.Unlock()
}

// Len returns the number of cached ids.
func (c *ChecksumCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
