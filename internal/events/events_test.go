package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribeReceivesEmittedEvents(t *testing.T) {
	b := NewBus(nil)
	ch, cancel := b.Subscribe()
	defer cancel()

	b.Emit(SecurityViolation, map[string]any{"count": 3})

	select {
	case ev := <-ch:
		assert.Equal(t, SecurityViolation, ev.Name)
		assert.Equal(t, 3, ev.Payload["count"])
	default:
		t.Fatal("subscriber did not receive the event")
	}
}

func TestEmitFansOutToAllSubscribers(t *testing.T) {
	b := NewBus(nil)
	first, cancelFirst := b.Subscribe()
	defer cancelFirst()
	second, cancelSecond := b.Subscribe()
	defer cancelSecond()

	b.Emit(ConfigUpdated, nil)

	require.Len(t, first, 1)
	require.Len(t, second, 1)
}

func TestCancelStopsDelivery(t *testing.T) {
	b := NewBus(nil)
	ch, cancel := b.Subscribe()
	cancel()

	// Emitting after cancel must not panic on the closed channel.
	b.Emit(AuditEvent, nil)

	_, open := <-ch
	assert.False(t, open)
}

func TestEmitNeverBlocksOnFullSubscriber(t *testing.T) {
	b := NewBus(nil)
	ch, cancel := b.Subscribe()
	defer cancel()

	// Overfill the buffer; the extras are dropped silently.
	for i := 0; i < subscriberBuffer+10; i++ {
		b.Emit(AuditEvent, map[string]any{"i": i})
	}
	assert.Len(t, ch, subscriberBuffer)
}
