package domain

import "time"

// EntityKind selects which partition of the transition table applies.
type EntityKind string

const (
	KindPlan  EntityKind = "plan"
	KindRound EntityKind = "round"
)

// Kinds lists every entity kind in a stable order.
var Kinds = []EntityKind{KindPlan, KindRound}

// Valid reports whether k is a known entity kind.
func (k EntityKind) Valid() bool {
	return k == KindPlan || k == KindRound
}

// Collection returns the plural path segment for k, e.g. "plans".
func (k EntityKind) Collection() string {
	return string(k) + "s"
}

// WorkflowState represents the lifecycle state of a plan or round.
type WorkflowState string

const (
	StateDraft           WorkflowState = "draft"
	StatePendingApproval WorkflowState = "pending_approval"
	StateApproved        WorkflowState = "approved"
	StateActive          WorkflowState = "active"
	StateInProgress      WorkflowState = "in_progress"
	StatePaused          WorkflowState = "paused"
	StateCompleted       WorkflowState = "completed"
	StateRejected        WorkflowState = "rejected"
	StateCancelled       WorkflowState = "cancelled"
)

// StateRemoved is the target of deletion. It is not a lifecycle state: no
// entity is ever stored in it, the persistence layer removes the record instead.
const StateRemoved WorkflowState = "removed"

// AllStates is the superset of lifecycle states across every kind.
var AllStates = []WorkflowState{
	StateDraft,
	StatePendingApproval,
	StateApproved,
	StateActive,
	StateInProgress,
	StatePaused,
	StateCompleted,
	StateRejected,
	StateCancelled,
}

// Known reports whether s is one of the lifecycle states in AllStates.
func (s WorkflowState) Known() bool {
	for _, known := range AllStates {
		if s == known {
			return true
		}
	}
	return false
}

// Action identifies a transition requested by a user.
type Action string

const (
	ActionView     Action = "view"
	ActionSubmit   Action = "submit"
	ActionApprove  Action = "approve"
	ActionReject   Action = "reject"
	ActionRecall   Action = "recall"
	ActionDeploy   Action = "deploy"
	ActionStart    Action = "start"
	ActionPause    Action = "pause"
	ActionResume   Action = "resume"
	ActionComplete Action = "complete"
	ActionCancel   Action = "cancel"
	ActionDelete   Action = "delete"
)

// Entity is a plan or inspection round whose state is governed by the
// workflow engine.
type Entity struct {
	ID       string
	Kind     EntityKind
	State    WorkflowState
	ParentID string // plan id, rounds only
	Title    string

	// EffectiveStart is set when a plan is deployed.
	EffectiveStart *time.Time

	// Derived execution statistics, reset when a round starts.
	FindingsCount  int
	InspectedCount int

	LastActor        string
	LastTransitionAt *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// NewEntity creates an entity in the initial "draft" state.
func NewEntity(id string, kind EntityKind, title, parentID string) Entity {
	now := time.Now().UTC()
	return Entity{
		ID:        id,
		Kind:      kind,
		State:     StateDraft,
		ParentID:  parentID,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// HistoryEntry records one applied transition.
type HistoryEntry struct {
	EntityID string
	Action   Action
	From     WorkflowState
	To       WorkflowState
	Actor    string
	Reason   string
	At       time.Time
}
