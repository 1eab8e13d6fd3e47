// Package events is the in-process notification bus for security events.
// Subscribers are advisory consumers (UI, alerting); emission never blocks
// the validation hot path, so a slow subscriber drops events rather than
// stalling the engine.
package events

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Event names emitted by the engine.
const (
	SecurityViolation     = "securityViolation"
	CriticalSecurityAlert = "criticalSecurityAlert"
	RequestQuarantined    = "requestQuarantined"
	QuarantineReviewed    = "quarantineReviewed"
	ConfigUpdated         = "configUpdated"
	AuditEvent            = "auditEvent"
)

// Event is one emitted notification.
type Event struct {
	Name    string
	Payload map[string]any
}

const subscriberBuffer = 64

// Bus fans events out to subscribers.
type Bus struct {
	mu     sync.RWMutex
	subs   []chan Event
	logger *logrus.Logger
}

// NewBus creates an empty bus.
func NewBus(logger *logrus.Logger) *Bus {
	return &Bus{logger: logger}
}

// Subscribe returns a channel receiving all future events and a cancel
// function. The channel is buffered; events are dropped once it fills.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)
	b.mu.Lock()
	b.subs = append(b.subs, ch)
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, sub := range b.subs {
			if sub == ch {
				b.subs = append(b.subs[:i], b.subs[i+1:]...)
				close(ch)
				return
			}
		}
	}
	return ch, cancel
}

// Emit delivers an event to every subscriber without blocking.
func (b *Bus) Emit(name string, payload map[string]any) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		select {
		case sub <- Event{Name: name, Payload: payload}:
		default:
			if b.logger != nil {
				b.logger.WithField("event", name).Debug("Dropped event for slow subscriber")
			}
		}
	}
}
