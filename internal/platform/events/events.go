// Package events publishes notification lifecycle and health alert events
// to Kafka for downstream consumers (audit, analytics, care dashboards).
package events

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event types.
const (
	NotificationCreated   = "notification.created"
	NotificationSent      = "notification.sent"
	NotificationFailed    = "notification.failed"
	NotificationDelivered = "notification.delivered"
	NotificationRead      = "notification.read"
	NotificationCancelled = "notification.cancelled"
	NotificationRetried   = "notification.retried"
	AlertRaised           = "health.alert_raised"
)

type Event struct {
	Type       string            `json:"type"`
	EntityID   uuid.UUID         `json:"entity_id"`
	UserID     uuid.UUID         `json:"user_id"`
	Status     string            `json:"status,omitempty"`
	Data       map[string]string `json:"data,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// Publisher delivers events. Publishing is best effort: callers log the
// error and carry on.
type Publisher interface {
	Publish(ctx context.Context, events ...Event) error
}

type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, ...Event) error { return nil }

// MemoryPublisher keeps published events in memory. Used in tests.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []Event
	Err    error
}

func (p *MemoryPublisher) Publish(_ context.Context, events ...Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return p.Err
	}
	p.events = append(p.events, events...)
	return nil
}

func (p *MemoryPublisher) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Event, len(p.events))
	copy(out, p.events)
	return out
}

// OfType returns the published events with the given type.
func (p *MemoryPublisher) OfType(typ string) []Event {
	var out []Event
	for _, e := range p.Events() {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

// Fanout publishes to every publisher and joins their errors.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, events ...Event) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, events...); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
