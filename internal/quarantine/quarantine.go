// Package quarantine holds blocked-but-reviewable requests until an operator
// decides on them. The store is bounded; review is advisory, not
// safety-critical, so invalid reviews return false rather than an error.
package quarantine

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/canvasguard/canvasguard/internal/policy"
)

// MaxEntries bounds the store; the oldest entry is evicted first.
const MaxEntries = 100

// Request is a quarantined request snapshot. Reviewed is the only mutable
// field and transitions exactly once: Pending -> Reviewed.
type Request struct {
	ID        string               `json:"id"`
	Request   policy.CanvasRequest `json:"request"`
	Reason    string               `json:"reason"`
	Timestamp time.Time            `json:"timestamp"`
	Reviewed  bool                 `json:"reviewed"`
	Approved  bool                 `json:"approved"`
}

// Store is a bounded FIFO quarantine queue.
type Store struct {
	mu      sync.Mutex
	entries []*Request
	byID    map[string]*Request
	max     int
}

// NewStore creates an empty store bounded at MaxEntries.
func NewStore() *Store {
	return &Store{
		byID: make(map[string]*Request),
		max:  MaxEntries,
	}
}

// Enqueue adds a pending entry and returns its id, evicting the oldest entry
// once the bound is exceeded.
func (s *Store) Enqueue(request policy.CanvasRequest, reason string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := &Request{
		ID:        uuid.NewString(),
		Request:   request,
		Reason:    reason,
		Timestamp: time.Now(),
	}
	s.entries = append(s.entries, entry)
	s.byID[entry.ID] = entry

	for len(s.entries) > s.max {
		evicted := s.entries[0]
		s.entries = s.entries[1:]
		delete(s.byID, evicted.ID)
	}
	return entry.ID
}

// Review transitions a pending entry to reviewed. Returns false when the id
// is unknown or the entry was already reviewed; the transition happens at
// most once.
func (s *Store) Review(id string, approved bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.byID[id]
	if !ok || entry.Reviewed {
		return false
	}
	entry.Reviewed = true
	entry.Approved = approved
	return true
}

// Get returns a copy of the entry with the given id.
func (s *Store) Get(id string) (Request, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.byID[id]
	if !ok {
		return Request{}, false
	}
	return *entry, true
}

// Pending returns copies of all entries awaiting review, oldest first.
func (s *Store) Pending() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Request
	for _, e := range s.entries {
		if !e.Reviewed {
			out = append(out, *e)
		}
	}
	return out
}

// Len returns the number of held entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Snapshot returns copies of all entries, oldest first.
func (s *Store) Snapshot() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Request, len(s.entries))
	for i, e := range s.entries {
		out[i] = *e
	}
	return out
}
