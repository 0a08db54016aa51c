package outbox

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type publisherMetrics struct {
	dispatched   metric.Int64Counter
	failed       metric.Int64Counter
	deadLettered metric.Int64Counter
	leaseLost    metric.Int64Counter
	latency      metric.Float64Histogram
	claimed      metric.Int64Gauge

	// backlog, sampled by ReportBacklog
	pending             metric.Int64Gauge
	backlogDeadLettered metric.Int64Gauge
}

func newPublisherMetrics(provider metric.MeterProvider) (publisherMetrics, error) {
	if provider == nil {
		provider = otel.GetMeterProvider()
	}
	meter := provider.Meter("tenantflow.outbox.publisher")

	var (
		m   publisherMetrics
		err error
	)

	if m.dispatched, err = meter.Int64Counter("outbox.events.dispatched",
		metric.WithDescription("Outbox events acknowledged by their handler"),
		metric.WithUnit("{event}")); err != nil {
		return publisherMetrics{}, fmt.Errorf("create outbox.events.dispatched counter: %w", err)
	}
	if m.failed, err = meter.Int64Counter("outbox.events.failed",
		metric.WithDescription("Outbox handler failures, retryable or permanent"),
		metric.WithUnit("{event}")); err != nil {
		return publisherMetrics{}, fmt.Errorf("create outbox.events.failed counter: %w", err)
	}
	if m.deadLettered, err = meter.Int64Counter("outbox.events.dead_lettered",
		metric.WithDescription("Outbox events moved to the dead-letter state"),
		metric.WithUnit("{event}")); err != nil {
		return publisherMetrics{}, fmt.Errorf("create outbox.events.dead_lettered counter: %w", err)
	}
	if m.leaseLost, err = meter.Int64Counter("outbox.events.lease_lost",
		metric.WithDescription("Outbox state updates rejected because another worker reclaimed the row"),
		metric.WithUnit("{event}")); err != nil {
		return publisherMetrics{}, fmt.Errorf("create outbox.events.lease_lost counter: %w", err)
	}
	if m.latency, err = meter.Float64Histogram("outbox.handler.latency",
		metric.WithDescription("Handler call duration per event"),
		metric.WithUnit("s")); err != nil {
		return publisherMetrics{}, fmt.Errorf("create outbox.handler.latency histogram: %w", err)
	}
	if m.claimed, err = meter.Int64Gauge("outbox.batch.claimed",
		metric.WithDescription("Events claimed by the last publish cycle"),
		metric.WithUnit("{event}")); err != nil {
		return publisherMetrics{}, fmt.Errorf("create outbox.batch.claimed gauge: %w", err)
	}
	if m.pending, err = meter.Int64Gauge("outbox.backlog.pending",
		metric.WithDescription("Outbox events not yet published or dead-lettered"),
		metric.WithUnit("{event}")); err != nil {
		return publisherMetrics{}, fmt.Errorf("create outbox.backlog.pending gauge: %w", err)
	}
	if m.backlogDeadLettered, err = meter.Int64Gauge("outbox.backlog.dead_lettered",
		metric.WithDescription("Outbox events waiting in the dead-letter state"),
		metric.WithUnit("{event}")); err != nil {
		return publisherMetrics{}, fmt.Errorf("create outbox.backlog.dead_lettered gauge: %w", err)
	}
	return m, nil
}

func eventTypeAttr(eventType string) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("event_type", eventType))
}

func (m publisherMetrics) recordOutcome(ctx context.Context, eventType string, o outcome) {
	attrs := eventTypeAttr(eventType)
	switch o {
	case outcomePublished:
		m.dispatched.Add(ctx, 1, attrs)
	case outcomeRetried:
		m.failed.Add(ctx, 1, attrs)
	case outcomeDeadLettered:
		m.failed.Add(ctx, 1, attrs)
		m.deadLettered.Add(ctx, 1, attrs)
	}
}
