package events

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestKafkaPublisher_Publish(t *testing.T) {
	w := &fakeWriter{}
	p := &KafkaPublisher{w: w}
	id := uuid.New()
	at := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

	err := p.Publish(context.Background(),
		Event{Type: NotificationCreated, EntityID: id, Status: "pending", OccurredAt: at},
		Event{Type: NotificationSent, EntityID: id, Status: "sent", OccurredAt: at},
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(w.msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(w.msgs))
	}
	if string(w.msgs[0].Key) != id.String() {
		t.Errorf("key = %s, want entity id", w.msgs[0].Key)
	}
	if string(w.msgs[1].Headers[0].Value) != NotificationSent {
		t.Errorf("header = %s", w.msgs[1].Headers[0].Value)
	}
	var e Event
	if err := json.Unmarshal(w.msgs[0].Value, &e); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if e.Type != NotificationCreated || e.Status != "pending" {
		t.Errorf("decoded = %+v", e)
	}

	if err := p.Close(); err != nil || !w.closed {
		t.Error("expected writer closed")
	}
}

func TestKafkaPublisher_Errors(t *testing.T) {
	p := &KafkaPublisher{w: &fakeWriter{err: errors.New("broker down")}}
	if err := p.Publish(context.Background(), Event{Type: AlertRaised}); err == nil {
		t.Error("expected write error")
	}
	if err := p.Publish(context.Background()); err != nil {
		t.Errorf("empty publish should be a no-op, got %v", err)
	}
}

func TestMemoryPublisher(t *testing.T) {
	p := &MemoryPublisher{}
	_ = p.Publish(context.Background(), Event{Type: AlertRaised}, Event{Type: NotificationCreated})
	if len(p.Events()) != 2 || len(p.OfType(AlertRaised)) != 1 {
		t.Errorf("unexpected events %+v", p.Events())
	}
	p.Err = errors.New("down")
	if err := p.Publish(context.Background(), Event{}); err == nil {
		t.Error("expected configured error")
	}
	if err := (NopPublisher{}).Publish(context.Background(), Event{}); err != nil {
		t.Errorf("nop publisher returned %v", err)
	}
}

func TestFanout(t *testing.T) {
	a, b := &MemoryPublisher{}, &MemoryPublisher{Err: errors.New("broker down")}
	c := &MemoryPublisher{}
	err := Fanout{a, b, c}.Publish(context.Background(), Event{Type: NotificationSent})
	if err == nil || !strings.Contains(err.Error(), "broker down") {
		t.Errorf("expected joined error, got %v", err)
	}
	if len(a.Events()) != 1 || len(c.Events()) != 1 {
		t.Error("a failing publisher must not stop the others")
	}
}
