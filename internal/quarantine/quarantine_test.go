package quarantine

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canvasguard/canvasguard/internal/policy"
)

func TestEnqueueAndGet(t *testing.T) {
	s := NewStore()
	req := policy.CanvasRequest{URL: "https://blocked.example", Data: "payload"}

	id := s.Enqueue(req, "critical violation detected")
	require.NotEmpty(t, id)

	entry, ok := s.Get(id)
	require.True(t, ok)
	assert.Equal(t, req, entry.Request)
	assert.Equal(t, "critical violation detected", entry.Reason)
	assert.False(t, entry.Reviewed)
	assert.False(t, entry.Approved)
	assert.False(t, entry.Timestamp.IsZero())
}

func TestReviewTransitionsExactlyOnce(t *testing.T) {
	s := NewStore()
	id := s.Enqueue(policy.CanvasRequest{Data: "x"}, "reason")

	require.True(t, s.Review(id, true))

	entry, ok := s.Get(id)
	require.True(t, ok)
	assert.True(t, entry.Reviewed)
	assert.True(t, entry.Approved)

	// A second review must not flip the recorded decision.
	assert.False(t, s.Review(id, false))
	entry, _ = s.Get(id)
	assert.True(t, entry.Approved)
}

func TestReviewUnknownID(t *testing.T) {
	s := NewStore()
	assert.False(t, s.Review("no-such-id", true))
}

func TestPendingExcludesReviewed(t *testing.T) {
	s := NewStore()
	first := s.Enqueue(policy.CanvasRequest{Data: "a"}, "r1")
	second := s.Enqueue(policy.CanvasRequest{Data: "b"}, "r2")

	require.True(t, s.Review(first, false))

	pending := s.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, second, pending[0].ID)
}

func TestBoundedFIFOEviction(t *testing.T) {
	s := NewStore()

	ids := make([]string, 0, MaxEntries+5)
	for i := 0; i < MaxEntries+5; i++ {
		ids = append(ids, s.Enqueue(policy.CanvasRequest{Data: fmt.Sprintf("req-%d", i)}, "overflow"))
	}

	assert.Equal(t, MaxEntries, s.Len())

	// The five oldest entries are gone; the newest survive.
	for _, id := range ids[:5] {
		_, ok := s.Get(id)
		assert.False(t, ok, "evicted entry %s should be gone", id)
	}
	for _, id := range ids[5:] {
		_, ok := s.Get(id)
		assert.True(t, ok)
	}

	snapshot := s.Snapshot()
	require.Len(t, snapshot, MaxEntries)
	assert.Equal(t, "req-5", snapshot[0].Request.Data)
	assert.Equal(t, fmt.Sprintf("req-%d", MaxEntries+4), snapshot[len(snapshot)-1].Request.Data)
}

func TestGetReturnsCopy(t *testing.T) {
	s := NewStore()
	id := s.Enqueue(policy.CanvasRequest{Data: "original"}, "reason")

	entry, ok := s.Get(id)
	require.True(t, ok)
	entry.Reason = "mutated"

	again, _ := s.Get(id)
	assert.Equal(t, "reason", again.Reason)
}
