package domain

import (
	"context"
	"time"
)

// EntityRepository defines the persistence contract for plans and rounds.
type EntityRepository interface {
	Create(ctx context.Context, entity Entity) error
	GetByID(ctx context.Context, id string) (Entity, error)
	List(ctx context.Context, filter ListFilter) ([]Entity, error)
	// ApplyTransition writes a transition with compare-and-swap on Commit.From
	// and applies its effects atomically. It returns ErrEntityNotFound when the
	// entity is gone and a *StaleStateError when its state moved on.
	ApplyTransition(ctx context.Context, commit Commit) (Entity, error)
	History(ctx context.Context, kind EntityKind, entityID string) ([]HistoryEntry, error)
}

// ListFilter holds optional criteria for listing entities.
type ListFilter struct {
	Kind     *EntityKind
	State    *WorkflowState
	ParentID string
	Limit    int
	Offset   int
}

// Commit is everything the repository needs to persist one transition.
type Commit struct {
	EntityID       string
	Action         Action
	From           WorkflowState
	To             WorkflowState
	Effects        []Effect
	Actor          string
	Reason         string
	At             time.Time
	EffectiveStart *time.Time
}

// PermissionStore resolves the permission set of an authenticated actor.
type PermissionStore interface {
	PermissionsFor(ctx context.Context, actorID string) (PermissionSet, error)
	Roles(ctx context.Context, actorID string) ([]string, error)
}

// TransitionValidator checks that action is legal from current for kind and
// returns the destination state. It returns a *TransitionError wrapping
// ErrIllegalTransition otherwise.
type TransitionValidator interface {
	Apply(ctx context.Context, kind EntityKind, current WorkflowState, action Action) (WorkflowState, error)
}

// TransitionEvent is emitted after a transition has been committed.
type TransitionEvent struct {
	EntityID string
	Kind     EntityKind
	Action   Action
	From     WorkflowState
	To       WorkflowState
	Actor    string
	Effects  []Effect
	At       time.Time
}

// EventPublisher defines the contract for emitting transition events.
type EventPublisher interface {
	Publish(ctx context.Context, event TransitionEvent) error
}
