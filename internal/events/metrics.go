package events

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Recorder counts event-bus activity. Use NewOTelRecorder for OpenTelemetry
// metrics or NoopRecorder when metrics are disabled.
type Recorder interface {
	// RecordCreated counts a durably stored event.
	RecordCreated(ctx context.Context, eventType string)
	// RecordDelivered counts live pushes into connection queues.
	RecordDelivered(ctx context.Context, eventType string, count int64)
	// RecordDropped counts events dropped at the named stage
	// ("dispatch-queue" or "stream-queue").
	RecordDropped(ctx context.Context, eventType, stage string)
	// RecordRecovered counts events replayed into a new connection.
	RecordRecovered(ctx context.Context, eventType string, count int64)
	// RecordPurged counts terminal rows removed by a cleanup pass.
	RecordPurged(ctx context.Context, count int64)
	// RecordConnections tracks live connection deltas (+1 open, -1 close).
	RecordConnections(ctx context.Context, delta int64)
}

// NoopRecorder discards all measurements.
type NoopRecorder struct{}

func (NoopRecorder) RecordCreated(context.Context, string)          {}
func (NoopRecorder) RecordDelivered(context.Context, string, int64) {}
func (NoopRecorder) RecordDropped(context.Context, string, string)  {}
func (NoopRecorder) RecordRecovered(context.Context, string, int64) {}
func (NoopRecorder) RecordPurged(context.Context, int64)            {}
func (NoopRecorder) RecordConnections(context.Context, int64)       {}

type otelRecorder struct {
	created     metric.Int64Counter
	delivered   metric.Int64Counter
	dropped     metric.Int64Counter
	recovered   metric.Int64Counter
	purged      metric.Int64Counter
	connections metric.Int64UpDownCounter
}

// NewOTelRecorder builds a Recorder on the global OpenTelemetry meter
// provider. Configure the provider before calling. Falls back to NoopRecorder
// if instrument creation fails.
func NewOTelRecorder() Recorder {
	meter := otel.Meter("beacon.events")

	created, err := meter.Int64Counter("beacon.events.created",
		metric.WithDescription("Events durably stored"))
	if err != nil {
		return NoopRecorder{}
	}
	delivered, err := meter.Int64Counter("beacon.events.delivered",
		metric.WithDescription("Events pushed into live connection queues"))
	if err != nil {
		return NoopRecorder{}
	}
	dropped, err := meter.Int64Counter("beacon.events.dropped",
		metric.WithDescription("Events dropped by queue overflow policy"))
	if err != nil {
		return NoopRecorder{}
	}
	recovered, err := meter.Int64Counter("beacon.events.recovered",
		metric.WithDescription("Events replayed on connection open"))
	if err != nil {
		return NoopRecorder{}
	}
	purged, err := meter.Int64Counter("beacon.events.purged",
		metric.WithDescription("Terminal events removed from the store"))
	if err != nil {
		return NoopRecorder{}
	}
	connections, err := meter.Int64UpDownCounter("beacon.events.connections",
		metric.WithDescription("Live streaming connections"))
	if err != nil {
		return NoopRecorder{}
	}

	return &otelRecorder{
		created:     created,
		delivered:   delivered,
		dropped:     dropped,
		recovered:   recovered,
		purged:      purged,
		connections: connections,
	}
}

func (r *otelRecorder) RecordCreated(ctx context.Context, eventType string) {
	r.created.Add(ctx, 1, metric.WithAttributes(attribute.String("event_type", eventType)))
}

func (r *otelRecorder) RecordDelivered(ctx context.Context, eventType string, count int64) {
	r.delivered.Add(ctx, count, metric.WithAttributes(attribute.String("event_type", eventType)))
}

func (r *otelRecorder) RecordDropped(ctx context.Context, eventType, stage string) {
	r.dropped.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event_type", eventType),
		attribute.String("stage", stage),
	))
}

func (r *otelRecorder) RecordRecovered(ctx context.Context, eventType string, count int64) {
	r.recovered.Add(ctx, count, metric.WithAttributes(attribute.String("event_type", eventType)))
}

func (r *otelRecorder) RecordPurged(ctx context.Context, count int64) {
	r.purged.Add(ctx, count)
}

func (r *otelRecorder) RecordConnections(ctx context.Context, delta int64) {
	r.connections.Add(ctx, delta)
}
