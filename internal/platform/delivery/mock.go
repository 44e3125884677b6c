package delivery

import (
	"context"
	"errors"
	"sync"
	"time"
)

// MockChannel is a test double for Channel. Failures are scripted per call:
// the first FailFirst calls fail, or every call when ShouldFail is set.
type MockChannel struct {
	mu         sync.Mutex
	calls      []Message
	ShouldFail bool
	FailFirst  int
	FailError  string
	Delay      time.Duration
	Panic      bool
}

func (m *MockChannel) Send(ctx context.Context, msg Message) error {
	m.mu.Lock()
	m.calls = append(m.calls, msg)
	n := len(m.calls)
	m.mu.Unlock()

	if m.Panic {
		panic("mock channel panic")
	}
	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if m.ShouldFail || n <= m.FailFirst {
		reason := m.FailError
		if reason == "" {
			reason = "mock delivery failure"
		}
		return errors.New(reason)
	}
	return nil
}

// Calls returns a copy of recorded messages.
func (m *MockChannel) Calls() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Message, len(m.calls))
	copy(out, m.calls)
	return out
}
