package audit

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canvasguard/canvasguard/internal/policy"
)

func TestRecordAssignsIdentityAndTimestamp(t *testing.T) {
	l := NewLog()

	entry := l.Record("validateCanvasRequest", policy.SourceCanvas, "https://app.example",
		policy.ResultBlocked, map[string]any{"violations": 2}, policy.LevelModerate)

	assert.NotEmpty(t, entry.ID)
	assert.False(t, entry.Timestamp.IsZero())
	assert.Equal(t, "validateCanvasRequest", entry.Action)
	assert.Equal(t, policy.ResultBlocked, entry.Result)
	assert.Equal(t, 1, l.Len())
}

func TestEntriesBounded(t *testing.T) {
	l := NewLog()
	for i := 0; i < MaxEntries+10; i++ {
		l.Record(fmt.Sprintf("action-%d", i), policy.SourceSystem, "", policy.ResultSuccess, nil, policy.LevelModerate)
	}

	entries := l.Entries()
	require.Len(t, entries, MaxEntries)
	// Oldest entries were evicted; the log starts at entry 10.
	assert.Equal(t, "action-10", entries[0].Action)
	assert.Equal(t, fmt.Sprintf("action-%d", MaxEntries+9), entries[len(entries)-1].Action)
}

func TestViolationRingBounded(t *testing.T) {
	l := NewLog()
	for i := 0; i < MaxViolations+7; i++ {
		l.AddViolations(policy.Violation{
			ID:        fmt.Sprintf("v-%d", i),
			Timestamp: time.Now(),
			Type:      policy.ViolationRateLimit,
			Severity:  policy.SeverityMedium,
		})
	}

	violations := l.Violations()
	require.Len(t, violations, MaxViolations)
	assert.Equal(t, "v-7", violations[0].ID)
	assert.Equal(t, fmt.Sprintf("v-%d", MaxViolations+6), violations[len(violations)-1].ID)
}

func TestQueryFiltersCompose(t *testing.T) {
	l := NewLog()
	l.Record("a", policy.SourceCanvas, "t1", policy.ResultSuccess, nil, policy.LevelModerate)
	l.Record("b", policy.SourceCanvas, "t2", policy.ResultBlocked, nil, policy.LevelModerate)
	l.Record("c", policy.SourceNetwork, "t3", policy.ResultBlocked, nil, policy.LevelStrict)

	tests := []struct {
		name   string
		filter Filter
		want   []string
	}{
		{"zero filter matches all", Filter{}, []string{"a", "b", "c"}},
		{"by source", Filter{Source: policy.SourceCanvas}, []string{"a", "b"}},
		{"by result", Filter{Result: policy.ResultBlocked}, []string{"b", "c"}},
		{"source and result", Filter{Source: policy.SourceCanvas, Result: policy.ResultBlocked}, []string{"b"}},
		{"by security level", Filter{SecurityLevel: policy.LevelStrict}, []string{"c"}},
		{"no match", Filter{Source: policy.SourceAssistant}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := l.Query(tt.filter)
			var actions []string
			for _, e := range got {
				actions = append(actions, e.Action)
			}
			assert.Equal(t, tt.want, actions)
		})
	}
}

func TestQueryTimeRange(t *testing.T) {
	l := NewLog()
	l.Record("early", policy.SourceCanvas, "", policy.ResultSuccess, nil, policy.LevelModerate)

	cutoff := time.Now().Add(time.Minute)
	got := l.Query(Filter{From: cutoff})
	assert.Empty(t, got)

	got = l.Query(Filter{To: cutoff})
	require.Len(t, got, 1)
	assert.Equal(t, "early", got[0].Action)
}

func TestRecentViolations(t *testing.T) {
	l := NewLog()
	now := time.Now()
	l.AddViolations(
		policy.Violation{ID: "old", Timestamp: now.Add(-48 * time.Hour), Source: "canvas:alice"},
		policy.Violation{ID: "fresh-alice", Timestamp: now, Source: "canvas:alice"},
		policy.Violation{ID: "fresh-bob", Timestamp: now, Source: "canvas:bob"},
	)

	assert.Equal(t, 2, l.RecentViolations(24*time.Hour, ""))
	assert.Equal(t, 1, l.RecentViolations(24*time.Hour, "canvas:alice"))
	assert.Equal(t, 0, l.RecentViolations(24*time.Hour, "canvas:carol"))
	assert.Equal(t, 3, l.RecentViolations(72*time.Hour, ""))
}

func TestSnapshotsAreIndependent(t *testing.T) {
	l := NewLog()
	l.Record("a", policy.SourceCanvas, "", policy.ResultSuccess, nil, policy.LevelModerate)

	snapshot := l.Entries()
	snapshot[0].Action = "mutated"

	assert.Equal(t, "a", l.Entries()[0].Action)
}
