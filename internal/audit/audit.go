// Package audit keeps the bounded, append-only decision trail of the engine:
// one log of every decision made, plus a ring of detected violations.
// Reads return copied snapshots so reporting never blocks writers for long.
package audit

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/canvasguard/canvasguard/internal/policy"
)

const (
	// MaxEntries bounds the audit log; oldest entries are evicted first.
	MaxEntries = 10000
	// MaxViolations bounds the violation ring.
	MaxViolations = 1000
)

// Entry is one immutable audit record.
type Entry struct {
	ID            string               `json:"id"`
	Timestamp     time.Time            `json:"timestamp"`
	Action        string               `json:"action"`
	Source        policy.RequestSource `json:"source"`
	Target        string               `json:"target"`
	Result        policy.AuditResult   `json:"result"`
	Details       map[string]any       `json:"details,omitempty"`
	SecurityLevel policy.SecurityLevel `json:"securityLevel"`
}

// Filter selects audit entries; zero fields match everything and set fields
// compose with AND semantics.
type Filter struct {
	From          time.Time
	To            time.Time
	Source        policy.RequestSource
	Result        policy.AuditResult
	SecurityLevel policy.SecurityLevel
}

func (f Filter) matches(e Entry) bool {
	if !f.From.IsZero() && e.Timestamp.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && e.Timestamp.After(f.To) {
		return false
	}
	if f.Source != "" && e.Source != f.Source {
		return false
	}
	if f.Result != "" && e.Result != f.Result {
		return false
	}
	if f.SecurityLevel != "" && e.SecurityLevel != f.SecurityLevel {
		return false
	}
	return true
}

// Log is the bounded audit log plus the violation ring.
type Log struct {
	mu         sync.Mutex
	entries    []Entry
	violations []policy.Violation
	maxEntries int
	maxViol    int
}

// NewLog creates an empty audit log with the default bounds.
func NewLog() *Log {
	return &Log{maxEntries: MaxEntries, maxViol: MaxViolations}
}

// Record appends an entry, evicting the oldest beyond the bound, and returns
// the entry as stored.
func (l *Log) Record(action string, source policy.RequestSource, target string, result policy.AuditResult, details map[string]any, level policy.SecurityLevel) Entry {
	entry := Entry{
		ID:            uuid.NewString(),
		Timestamp:     time.Now(),
		Action:        action,
		Source:        source,
		Target:        target,
		Result:        result,
		Details:       details,
		SecurityLevel: level,
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry)
	if len(l.entries) > l.maxEntries {
		l.entries = l.entries[len(l.entries)-l.maxEntries:]
	}
	return entry
}

// AddViolations appends violations to the bounded ring.
func (l *Log) AddViolations(violations ...policy.Violation) {
	if len(violations) == 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.violations = append(l.violations, violations...)
	if len(l.violations) > l.maxViol {
		l.violations = l.violations[len(l.violations)-l.maxViol:]
	}
}

// Query returns entries matching the filter, oldest first.
func (l *Log) Query(f Filter) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Entry
	for _, e := range l.entries {
		if f.matches(e) {
			out = append(out, e)
		}
	}
	return out
}

// Entries returns a snapshot of all entries, oldest first.
func (l *Log) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Violations returns a snapshot of the violation ring, oldest first.
func (l *Log) Violations() []policy.Violation {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]policy.Violation, len(l.violations))
	copy(out, l.violations)
	return out
}

// RecentViolations counts violations recorded within the given window,
// optionally restricted to one source key (empty matches all).
func (l *Log) RecentViolations(window time.Duration, sourceKey string) int {
	cutoff := time.Now().Add(-window)
	l.mu.Lock()
	defer l.mu.Unlock()
	count := 0
	for _, v := range l.violations {
		if v.Timestamp.Before(cutoff) {
			continue
		}
		if sourceKey != "" && v.Source != sourceKey {
			continue
		}
		count++
	}
	return count
}

// Len returns the current number of audit entries.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
