// Package ratelimit implements a fixed-window per-source request counter.
//
// The window does not slide: once elapsed it resets atomically to
// {count: 1, start: now}. A burst straddling a window boundary can therefore
// admit up to twice the limit; that approximation is accepted in exchange for
// O(1) state per source.
package ratelimit

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/canvasguard/canvasguard/internal/policy"
)

const (
	// DefaultWindow and DefaultLimit match the engine's compiled-in config.
	DefaultWindow = 60 * time.Second
	DefaultLimit  = 100
)

type windowEntry struct {
	count       int
	windowStart time.Time
}

// Limiter counts requests per source key within a fixed time window.
type Limiter struct {
	mu      sync.Mutex
	entries map[string]*windowEntry
	window  time.Duration
	limit   int
	now     func() time.Time
}

// New creates a Limiter with the given window and limit. Non-positive values
// fall back to the defaults.
func New(window time.Duration, limit int) *Limiter {
	if window <= 0 {
		window = DefaultWindow
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Limiter{
		entries: make(map[string]*windowEntry),
		window:  window,
		limit:   limit,
		now:     time.Now,
	}
}

// SetClock replaces the limiter's time source. Test hook.
func (l *Limiter) SetClock(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}

// Configure atomically replaces the window and limit. Existing window entries
// are kept; they reset naturally as their windows elapse.
func (l *Limiter) Configure(window time.Duration, limit int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if window > 0 {
		l.window = window
	}
	if limit > 0 {
		l.limit = limit
	}
}

// Check counts one request for sourceKey and returns a rate-limit violation
// if the count within the current window exceeds the limit, or nil otherwise.
// The count keeps incrementing past the limit within the same window, so each
// offending request yields its own violation rather than one per window.
func (l *Limiter) Check(sourceKey string) *policy.Violation {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	entry, ok := l.entries[sourceKey]
	if !ok {
		l.entries[sourceKey] = &windowEntry{count: 1, windowStart: now}
		return nil
	}

	// Requests count against the half-open interval
	// [windowStart, windowStart+window).
	if now.Sub(entry.windowStart) >= l.window {
		entry.count = 1
		entry.windowStart = now
		return nil
	}

	entry.count++
	if entry.count <= l.limit {
		return nil
	}

	return &policy.Violation{
		ID:          uuid.NewString(),
		Timestamp:   now,
		Type:        policy.ViolationRateLimit,
		Severity:    policy.SeverityMedium,
		Source:      sourceKey,
		Description: fmt.Sprintf("rate limit exceeded: %d requests in current window (limit %d)", entry.count, l.limit),
		Remediation: policy.RemediationBlocked,
		Metadata: map[string]string{
			"count": fmt.Sprintf("%d", entry.count),
			"limit": fmt.Sprintf("%d", l.limit),
		},
	}
}

// Reset clears all window state. Test hook.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = make(map[string]*windowEntry)
}
