package delivery

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/medicare/medicare/internal/platform/telemetry"
)

const (
	defaultConcurrency = 8
	defaultTimeout     = 30 * time.Second
)

// Dispatcher routes messages to the registered channel for their channel name.
// It bounds the number of sends in flight and the duration of each send; a
// timeout, error or panic becomes a failure Result.
type Dispatcher struct {
	channels map[string]Channel
	dir      Directory
	sem      *semaphore.Weighted
	timeout  time.Duration
	metrics  *telemetry.Metrics
	logger   zerolog.Logger
}

type Option func(*Dispatcher)

func WithChannel(name string, ch Channel) Option {
	return func(d *Dispatcher) { d.channels[name] = ch }
}

// WithDirectory looks up contact details for messages that carry none.
func WithDirectory(dir Directory) Option {
	return func(d *Dispatcher) { d.dir = dir }
}

func WithConcurrency(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.sem = semaphore.NewWeighted(int64(n))
		}
	}
}

func WithTimeout(t time.Duration) Option {
	return func(d *Dispatcher) {
		if t > 0 {
			d.timeout = t
		}
	}
}

func WithMetrics(m *telemetry.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

func NewDispatcher(logger zerolog.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		channels: make(map[string]Channel),
		sem:      semaphore.NewWeighted(defaultConcurrency),
		timeout:  defaultTimeout,
		logger:   logger.With().Str("component", "delivery").Logger(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Channels lists the registered channel names.
func (d *Dispatcher) Channels() []string {
	names := make([]string, 0, len(d.channels))
	for name := range d.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Deliver sends msg over its channel and never returns an error.
func (d *Dispatcher) Deliver(ctx context.Context, msg Message) Result {
	ch, ok := d.channels[msg.Channel]
	if !ok {
		return failure(fmt.Sprintf("no delivery channel registered for %q", msg.Channel))
	}

	if err := d.sem.Acquire(ctx, 1); err != nil {
		return failure(fmt.Sprintf("dispatcher unavailable: %v", err))
	}
	defer d.sem.Release(1)

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	if msg.Contact == (Contact{}) && d.dir != nil {
		c, err := d.dir.Contact(ctx, msg.UserID)
		if err != nil {
			return failure(fmt.Sprintf("resolve contact: %v", err))
		}
		msg.Contact = c
	}

	start := time.Now()
	err := d.send(ctx, ch, msg)
	d.metrics.RecordDelivery(ctx, msg.Channel, err == nil, time.Since(start))
	if err != nil {
		d.logger.Warn().Err(err).
			Str("notification_id", msg.NotificationID.String()).
			Str("channel", msg.Channel).
			Msg("delivery failed")
		return failure(err.Error())
	}
	return success()
}

func (d *Dispatcher) send(ctx context.Context, ch Channel, msg Message) (err error) {
	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("channel panic: %v", r)
			}
		}()
		done <- ch.Send(ctx, msg)
	}()

	select {
	case err = <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("delivery timed out: %w", ctx.Err())
	}
}
