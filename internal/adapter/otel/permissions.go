package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/neomorfeo/inspectiq/internal/domain"
)

// TracingPermissionStore wraps a domain.PermissionStore with OpenTelemetry tracing.
type TracingPermissionStore struct {
	next   domain.PermissionStore
	tracer trace.Tracer
}

// Compile-time check: TracingPermissionStore implements domain.PermissionStore.
var _ domain.PermissionStore = (*TracingPermissionStore)(nil)

// NewTracingPermissionStore creates a tracing decorator around the given store.
func NewTracingPermissionStore(next domain.PermissionStore) *TracingPermissionStore {
	return &TracingPermissionStore{
		next:   next,
		tracer: otel.Tracer(tracerName),
	}
}

func (s *TracingPermissionStore) PermissionsFor(ctx context.Context, actorID string) (domain.PermissionSet, error) {
	ctx, span := s.tracer.Start(ctx, "PermissionStore.PermissionsFor",
		trace.WithAttributes(attribute.String("actor.id", actorID)),
	)
	defer span.End()

	perms, err := s.next.PermissionsFor(ctx, actorID)
	if err != nil {
		recordError(span, err)
	} else {
		span.SetAttributes(attribute.Int("result.count", perms.Len()))
	}
	return perms, err
}

func (s *TracingPermissionStore) Roles(ctx context.Context, actorID string) ([]string, error) {
	ctx, span := s.tracer.Start(ctx, "PermissionStore.Roles",
		trace.WithAttributes(attribute.String("actor.id", actorID)),
	)
	defer span.End()

	roles, err := s.next.Roles(ctx, actorID)
	if err != nil {
		recordError(span, err)
	} else {
		span.SetAttributes(attribute.StringSlice("actor.roles", roles))
	}
	return roles, err
}
