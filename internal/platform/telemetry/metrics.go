package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// Metrics groups the engine's instruments. A nil *Metrics records nothing.
type Metrics struct {
	deliveries      metric.Int64Counter
	deliveryLatency metric.Float64Histogram
	created         metric.Int64Counter
	dispatched      metric.Int64Counter
	alerts          metric.Int64Counter
	jobRuns         metric.Int64Counter
	jobDuration     metric.Float64Histogram
	httpDuration    metric.Float64Histogram
}

func NewMetrics(m metric.Meter) (*Metrics, error) {
	var (
		out Metrics
		err error
	)
	if out.deliveries, err = m.Int64Counter("medicare.delivery.attempts",
		metric.WithDescription("Delivery attempts by channel and result")); err != nil {
		return nil, fmt.Errorf("delivery counter: %w", err)
	}
	if out.deliveryLatency, err = m.Float64Histogram("medicare.delivery.duration",
		metric.WithUnit("s"), metric.WithDescription("Channel send latency")); err != nil {
		return nil, fmt.Errorf("delivery histogram: %w", err)
	}
	if out.created, err = m.Int64Counter("medicare.notifications.created"); err != nil {
		return nil, fmt.Errorf("created counter: %w", err)
	}
	if out.dispatched, err = m.Int64Counter("medicare.notifications.dispatched",
		metric.WithDescription("Dispatch outcomes")); err != nil {
		return nil, fmt.Errorf("dispatch counter: %w", err)
	}
	if out.alerts, err = m.Int64Counter("medicare.alerts.raised"); err != nil {
		return nil, fmt.Errorf("alert counter: %w", err)
	}
	if out.jobRuns, err = m.Int64Counter("medicare.jobs.runs"); err != nil {
		return nil, fmt.Errorf("job counter: %w", err)
	}
	if out.jobDuration, err = m.Float64Histogram("medicare.jobs.duration", metric.WithUnit("s")); err != nil {
		return nil, fmt.Errorf("job histogram: %w", err)
	}
	if out.httpDuration, err = m.Float64Histogram("http.server.request.duration", metric.WithUnit("s")); err != nil {
		return nil, fmt.Errorf("http histogram: %w", err)
	}
	return &out, nil
}

// NopMetrics returns instruments backed by the no-op meter.
func NopMetrics() *Metrics {
	m, _ := NewMetrics(noop.NewMeterProvider().Meter("medicare"))
	return m
}

func (m *Metrics) RecordDelivery(ctx context.Context, channel string, ok bool, d time.Duration) {
	if m == nil {
		return
	}
	result := "success"
	if !ok {
		result = "failure"
	}
	m.deliveries.Add(ctx, 1, metric.WithAttributes(
		attribute.String("channel", channel),
		attribute.String("result", result),
	))
	m.deliveryLatency.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("channel", channel)))
}

func (m *Metrics) NotificationCreated(ctx context.Context, typ, channel string) {
	if m == nil {
		return
	}
	m.created.Add(ctx, 1, metric.WithAttributes(
		attribute.String("type", typ),
		attribute.String("channel", channel),
	))
}

func (m *Metrics) DispatchOutcome(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.dispatched.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *Metrics) AlertRaised(ctx context.Context, typ string) {
	if m == nil {
		return
	}
	m.alerts.Add(ctx, 1, metric.WithAttributes(attribute.String("type", typ)))
}

func (m *Metrics) JobRun(ctx context.Context, job string, err error, d time.Duration) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.jobRuns.Add(ctx, 1, metric.WithAttributes(
		attribute.String("job", job),
		attribute.String("result", result),
	))
	m.jobDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("job", job)))
}
