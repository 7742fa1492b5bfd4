package fsm_test

import (
	"context"
	"errors"
	"testing"

	adapter "github.com/neomorfeo/inspectiq/internal/adapter/fsm"
	"github.com/neomorfeo/inspectiq/internal/domain"
	"github.com/neomorfeo/inspectiq/internal/policy"
)

func newValidator(t *testing.T) (*adapter.Validator, *domain.TransitionTable) {
	t.Helper()
	p, err := policy.LoadDefault()
	if err != nil {
		t.Fatalf("LoadDefault: %v", err)
	}
	return adapter.New(p.Table), p.Table
}

func TestValidator_AllTransitions(t *testing.T) {
	v, table := newValidator(t)
	ctx := context.Background()

	for _, r := range table.Rules() {
		dst, err := v.Apply(ctx, r.Kind, r.From, r.Action)
		if err != nil {
			t.Errorf("Apply(%s, %q, %q) unexpected error: %v", r.Kind, r.From, r.Action, err)
			continue
		}
		if dst != r.To {
			t.Errorf("Apply(%s, %q, %q) = %q, want %q", r.Kind, r.From, r.Action, dst, r.To)
		}
	}
}

func TestValidator_InvalidTransition(t *testing.T) {
	v, _ := newValidator(t)
	ctx := context.Background()

	// Can't complete a round that has already completed.
	_, err := v.Apply(ctx, domain.KindRound, domain.StateCompleted, domain.ActionComplete)
	var trErr *domain.TransitionError
	if !errors.As(err, &trErr) {
		t.Fatalf("expected TransitionError, got %v", err)
	}
	if !errors.Is(err, domain.ErrIllegalTransition) {
		t.Errorf("expected ErrIllegalTransition, got %v", err)
	}
	if trErr.Action != domain.ActionComplete {
		t.Errorf("action = %q, want %q", trErr.Action, domain.ActionComplete)
	}
	if trErr.Current != domain.StateCompleted {
		t.Errorf("current = %q, want %q", trErr.Current, domain.StateCompleted)
	}
}

func TestValidator_UnknownAction(t *testing.T) {
	v, _ := newValidator(t)

	// Rounds have no recall rule at all.
	_, err := v.Apply(context.Background(), domain.KindRound, domain.StatePendingApproval, domain.ActionRecall)
	if !errors.Is(err, domain.ErrIllegalTransition) {
		t.Errorf("expected ErrIllegalTransition, got %v", err)
	}

	_, err = v.Apply(context.Background(), domain.KindPlan, domain.StateDraft, domain.Action("launch"))
	if !errors.Is(err, domain.ErrIllegalTransition) {
		t.Errorf("expected ErrIllegalTransition for unknown action, got %v", err)
	}
}

func TestValidator_UnknownKind(t *testing.T) {
	v, _ := newValidator(t)

	_, err := v.Apply(context.Background(), domain.EntityKind("audit"), domain.StateDraft, domain.ActionSubmit)
	if !errors.Is(err, domain.ErrIllegalTransition) {
		t.Errorf("expected ErrIllegalTransition, got %v", err)
	}
}

func TestValidator_KindsArePartitioned(t *testing.T) {
	v, _ := newValidator(t)
	ctx := context.Background()

	// Resuming a round returns it to in_progress, a plan goes back to active.
	got, err := v.Apply(ctx, domain.KindRound, domain.StatePaused, domain.ActionResume)
	if err != nil || got != domain.StateInProgress {
		t.Errorf("round resume = %q, %v", got, err)
	}
	got, err = v.Apply(ctx, domain.KindPlan, domain.StatePaused, domain.ActionResume)
	if err != nil || got != domain.StateActive {
		t.Errorf("plan resume = %q, %v", got, err)
	}
}

func TestValidator_FullRoundLifecycle(t *testing.T) {
	v, _ := newValidator(t)
	ctx := context.Background()

	steps := []struct {
		from   domain.WorkflowState
		action domain.Action
		want   domain.WorkflowState
	}{
		{domain.StateDraft, domain.ActionSubmit, domain.StatePendingApproval},
		{domain.StatePendingApproval, domain.ActionApprove, domain.StateApproved},
		{domain.StateApproved, domain.ActionDeploy, domain.StateActive},
		{domain.StateActive, domain.ActionStart, domain.StateInProgress},
		{domain.StateInProgress, domain.ActionPause, domain.StatePaused},
		{domain.StatePaused, domain.ActionResume, domain.StateInProgress},
		{domain.StateInProgress, domain.ActionComplete, domain.StateCompleted},
	}

	for _, step := range steps {
		got, err := v.Apply(ctx, domain.KindRound, step.from, step.action)
		if err != nil {
			t.Fatalf("Apply(%q, %q) error: %v", step.from, step.action, err)
		}
		if got != step.want {
			t.Errorf("Apply(%q, %q) = %q, want %q", step.from, step.action, got, step.want)
		}
	}
}

func TestValidator_DeleteFromRejected(t *testing.T) {
	v, _ := newValidator(t)

	// Delete is valid from both "draft" and "rejected".
	got, err := v.Apply(context.Background(), domain.KindRound, domain.StateRejected, domain.ActionDelete)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != domain.StateRemoved {
		t.Errorf("got %q, want %q", got, domain.StateRemoved)
	}
}
