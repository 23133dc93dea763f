// Package services holds the booking, consultation and account logic. Every
// operation takes the caller explicitly and checks its permission first.
package services

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"telecare-server/internal/events"
	"telecare-server/internal/metrics"
)

var tracer = otel.Tracer("telecare-server/services")

// Clock returns the current instant. Services take one so tests can pin time.
type Clock func() time.Time

// Deps are the ambient collaborators shared by every service.
type Deps struct {
	Log     *zap.Logger
	Metrics *metrics.Collector
	Events  events.Publisher
	Now     Clock
}

func (d Deps) withDefaults() Deps {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.Events == nil {
		d.Events = events.NopPublisher{}
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return d
}

// publish emits a lifecycle event; a delivery failure is logged, never returned.
func (d Deps) publish(ctx context.Context, eventType, aggregateID string, attrs map[string]string) {
	err := d.Events.Publish(ctx, events.Event{
		Type:        eventType,
		AggregateID: aggregateID,
		OccurredAt:  d.Now().UTC(),
		Attributes:  attrs,
	})
	if err != nil {
		d.Log.Warn("publishing lifecycle event",
			zap.String("type", eventType),
			zap.String("aggregate_id", aggregateID),
			zap.Error(err))
	}
}

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// endSpan records err on span unless it is an expected domain outcome.
func endSpan(span trace.Span, err error) {
	if err != nil && Classify(err) == KindInternal {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
