package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/neomorfeo/inspectiq/internal/domain"
)

const tracerName = "github.com/neomorfeo/inspectiq/internal/adapter/otel"

// TracingRepository wraps a domain.EntityRepository with OpenTelemetry tracing.
// Each method creates a span with semantic attributes and records errors.
type TracingRepository struct {
	next   domain.EntityRepository
	tracer trace.Tracer
}

// Compile-time check: TracingRepository implements domain.EntityRepository.
var _ domain.EntityRepository = (*TracingRepository)(nil)

// NewTracingRepository creates a tracing decorator around the given repository.
func NewTracingRepository(next domain.EntityRepository) *TracingRepository {
	return &TracingRepository{
		next:   next,
		tracer: otel.Tracer(tracerName),
	}
}

func (r *TracingRepository) Create(ctx context.Context, entity domain.Entity) error {
	ctx, span := r.tracer.Start(ctx, "EntityRepository.Create",
		trace.WithAttributes(
			attribute.String("entity.id", entity.ID),
			attribute.String("entity.kind", string(entity.Kind)),
		),
	)
	defer span.End()

	if entity.ParentID != "" {
		span.SetAttributes(attribute.String("entity.parent_id", entity.ParentID))
	}

	err := r.next.Create(ctx, entity)
	recordError(span, err)
	return err
}

func (r *TracingRepository) GetByID(ctx context.Context, id string) (domain.Entity, error) {
	ctx, span := r.tracer.Start(ctx, "EntityRepository.GetByID",
		trace.WithAttributes(attribute.String("entity.id", id)),
	)
	defer span.End()

	entity, err := r.next.GetByID(ctx, id)
	if err != nil {
		recordError(span, err)
	} else {
		span.SetAttributes(attribute.String("entity.state", string(entity.State)))
	}
	return entity, err
}

func (r *TracingRepository) List(ctx context.Context, filter domain.ListFilter) ([]domain.Entity, error) {
	ctx, span := r.tracer.Start(ctx, "EntityRepository.List",
		trace.WithAttributes(
			attribute.Int("filter.limit", filter.Limit),
			attribute.Int("filter.offset", filter.Offset),
		),
	)
	defer span.End()

	if filter.Kind != nil {
		span.SetAttributes(attribute.String("filter.kind", string(*filter.Kind)))
	}
	if filter.State != nil {
		span.SetAttributes(attribute.String("filter.state", string(*filter.State)))
	}
	if filter.ParentID != "" {
		span.SetAttributes(attribute.String("filter.parent_id", filter.ParentID))
	}

	entities, err := r.next.List(ctx, filter)
	if err != nil {
		recordError(span, err)
	} else {
		span.SetAttributes(attribute.Int("result.count", len(entities)))
	}
	return entities, err
}

func (r *TracingRepository) ApplyTransition(ctx context.Context, commit domain.Commit) (domain.Entity, error) {
	ctx, span := r.tracer.Start(ctx, "EntityRepository.ApplyTransition",
		trace.WithAttributes(
			attribute.String("entity.id", commit.EntityID),
			attribute.String("transition.action", string(commit.Action)),
			attribute.String("transition.from", string(commit.From)),
			attribute.String("transition.to", string(commit.To)),
			attribute.StringSlice("transition.effects", effectNames(commit.Effects)),
		),
	)
	defer span.End()

	entity, err := r.next.ApplyTransition(ctx, commit)
	recordError(span, err)
	return entity, err
}

func (r *TracingRepository) History(ctx context.Context, kind domain.EntityKind, entityID string) ([]domain.HistoryEntry, error) {
	ctx, span := r.tracer.Start(ctx, "EntityRepository.History",
		trace.WithAttributes(
			attribute.String("entity.id", entityID),
			attribute.String("entity.kind", string(kind)),
		),
	)
	defer span.End()

	entries, err := r.next.History(ctx, kind, entityID)
	if err != nil {
		recordError(span, err)
	} else {
		span.SetAttributes(attribute.Int("result.count", len(entries)))
	}
	return entries, err
}

func recordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func effectNames(effects []domain.Effect) []string {
	out := make([]string, len(effects))
	for i, e := range effects {
		out[i] = string(e)
	}
	return out
}
