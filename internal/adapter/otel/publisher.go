package otel

import (
	"context"
	"database/sql"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/neomorfeo/inspectiq/internal/domain"
)

// Outbox enqueues a transition event inside the caller's transaction. It
// matches sqlite.Outbox.
type Outbox interface {
	Enqueue(ctx context.Context, tx *sql.Tx, event domain.TransitionEvent) error
}

// TracingOutbox wraps an Outbox with OpenTelemetry tracing and counts
// enqueued transitions.
type TracingOutbox struct {
	next        Outbox
	tracer      trace.Tracer
	transitions metric.Int64Counter
}

// NewTracingOutbox creates a tracing decorator around the given outbox.
func NewTracingOutbox(next Outbox) *TracingOutbox {
	// The global meter provider always yields a usable instrument; on error
	// the returned counter is a no-op.
	counter, _ := otel.Meter(tracerName).Int64Counter("inspectiq.transitions",
		metric.WithDescription("Committed workflow transitions"),
		metric.WithUnit("{transition}"),
	)
	return &TracingOutbox{
		next:        next,
		tracer:      otel.Tracer(tracerName),
		transitions: counter,
	}
}

func (o *TracingOutbox) Enqueue(ctx context.Context, tx *sql.Tx, event domain.TransitionEvent) error {
	attrs := []attribute.KeyValue{
		attribute.String("entity.kind", string(event.Kind)),
		attribute.String("transition.action", string(event.Action)),
		attribute.String("transition.to", string(event.To)),
	}

	ctx, span := o.tracer.Start(ctx, "Outbox.Enqueue",
		trace.WithAttributes(attrs...),
		trace.WithAttributes(
			attribute.String("entity.id", event.EntityID),
			attribute.String("transition.from", string(event.From)),
			attribute.String("actor.id", event.Actor),
		),
	)
	defer span.End()

	if err := o.next.Enqueue(ctx, tx, event); err != nil {
		recordError(span, err)
		return err
	}

	// Counted at enqueue time, before the transaction commits.
	o.transitions.Add(ctx, 1, metric.WithAttributes(attrs...))
	return nil
}
