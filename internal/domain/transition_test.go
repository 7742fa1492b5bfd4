package domain_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/neomorfeo/inspectiq/internal/domain"
)

func TestNewEntity(t *testing.T) {
	before := time.Now().UTC()
	e := domain.NewEntity("r-1", domain.KindRound, "North district", "p-1")
	after := time.Now().UTC()

	if e.State != domain.StateDraft {
		t.Errorf("State = %q, want %q", e.State, domain.StateDraft)
	}
	if e.ParentID != "p-1" {
		t.Errorf("ParentID = %q, want %q", e.ParentID, "p-1")
	}
	if e.CreatedAt.Before(before) || e.CreatedAt.After(after) {
		t.Errorf("CreatedAt = %v, want between %v and %v", e.CreatedAt, before, after)
	}
	if e.UpdatedAt != e.CreatedAt {
		t.Error("UpdatedAt should equal CreatedAt on a new entity")
	}
}

func TestWorkflowState_Known(t *testing.T) {
	if domain.StateRemoved.Known() {
		t.Error("removed is a sentinel, not a lifecycle state")
	}
	for _, s := range domain.AllStates {
		if !s.Known() {
			t.Errorf("%q should be known", s)
		}
	}
}

func minimalStates() map[domain.EntityKind][]domain.WorkflowState {
	return map[domain.EntityKind][]domain.WorkflowState{
		domain.KindPlan:  {domain.StateDraft, domain.StatePendingApproval},
		domain.KindRound: {domain.StateDraft, domain.StatePendingApproval},
	}
}

func submitRule(kind domain.EntityKind) domain.TransitionRule {
	return domain.TransitionRule{
		Kind:       kind,
		From:       domain.StateDraft,
		To:         domain.StatePendingApproval,
		Action:     domain.ActionSubmit,
		Label:      "Submit",
		Permission: "X_SUBMIT",
		Priority:   50,
		Effects:    []domain.Effect{domain.EffectStampActor},
	}
}

var view = domain.ViewAction{Label: "View details", Priority: 10}

func TestTransitionTable_Lookup(t *testing.T) {
	table := domain.NewTransitionTable(view, minimalStates(), []domain.TransitionRule{submitRule(domain.KindRound)})

	if err := table.Validate(); err != nil {
		t.Fatalf("Validate() = %v", err)
	}

	rule, ok := table.Rule(domain.KindRound, domain.StateDraft, domain.ActionSubmit)
	if !ok {
		t.Fatal("expected submit rule")
	}
	if rule.To != domain.StatePendingApproval {
		t.Errorf("To = %q", rule.To)
	}

	if _, ok := table.Rule(domain.KindPlan, domain.StateDraft, domain.ActionSubmit); ok {
		t.Error("plan partition must not see round rules")
	}
	if got := table.RulesFrom(domain.KindRound, domain.StatePendingApproval); len(got) != 0 {
		t.Errorf("RulesFrom(pending_approval) = %v, want none", got)
	}
	if !table.Declares(domain.KindPlan, domain.StateDraft) || table.Declares(domain.KindPlan, domain.StateInProgress) {
		t.Error("Declares disagrees with declared states")
	}
}

func TestTransitionTable_ValidateProblems(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*domain.TransitionRule)
		extra  func() domain.TransitionRule
		want   string
	}{
		{
			name:   "undeclared from",
			mutate: func(r *domain.TransitionRule) { r.From = domain.StatePaused },
			want:   `from state "paused" is not declared`,
		},
		{
			name:   "undeclared to",
			mutate: func(r *domain.TransitionRule) { r.To = domain.StateCompleted },
			want:   `to state "completed" is not declared`,
		},
		{
			name:   "self loop",
			mutate: func(r *domain.TransitionRule) { r.To = r.From },
			want:   "every rule must change the state",
		},
		{
			name:   "no permission",
			mutate: func(r *domain.TransitionRule) { r.Permission = "" },
			want:   "no required permission",
		},
		{
			name:   "view label reused",
			mutate: func(r *domain.TransitionRule) { r.Label = "View details" },
			want:   "is not unique",
		},
		{
			name:   "unknown effect",
			mutate: func(r *domain.TransitionRule) { r.Effects = []domain.Effect{"SEND_EMAIL"} },
			want:   `unknown effect "SEND_EMAIL"`,
		},
		{
			name: "removal not destructive",
			mutate: func(r *domain.TransitionRule) {
				r.To = domain.StateRemoved
				r.Effects = []domain.Effect{domain.EffectRemoveRecord}
			},
			want: "removal must be destructive",
		},
		{
			name:   "effective start without param",
			mutate: func(r *domain.TransitionRule) { r.Effects = []domain.Effect{domain.EffectSetEffectiveStart} },
			want:   `requires param "effective_start"`,
		},
		{
			name:   "ambiguous",
			mutate: func(*domain.TransitionRule) {},
			extra: func() domain.TransitionRule {
				r := submitRule(domain.KindRound)
				r.Label = "Submit again"
				return r
			},
			want: "ambiguous",
		},
		{
			name:   "duplicate label",
			mutate: func(*domain.TransitionRule) {},
			extra: func() domain.TransitionRule {
				r := submitRule(domain.KindRound)
				r.Action = domain.ActionApprove
				return r
			},
			want: `label "Submit" is not unique`,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rule := submitRule(domain.KindRound)
			tc.mutate(&rule)
			rules := []domain.TransitionRule{rule}
			if tc.extra != nil {
				rules = append(rules, tc.extra())
			}

			err := domain.NewTransitionTable(view, minimalStates(), rules).Validate()
			var cfgErr *domain.ConfigurationError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("expected ConfigurationError, got %v", err)
			}
			if !strings.Contains(cfgErr.Error(), tc.want) {
				t.Errorf("error %q does not mention %q", cfgErr.Error(), tc.want)
			}
		})
	}
}

func TestTransitionTable_ValidateMissingKind(t *testing.T) {
	states := map[domain.EntityKind][]domain.WorkflowState{
		domain.KindPlan: {domain.StateDraft},
	}
	err := domain.NewTransitionTable(view, states, nil).Validate()
	if err == nil || !strings.Contains(err.Error(), `kind "round" declares no states`) {
		t.Errorf("Validate() = %v, want missing round states", err)
	}
}

func TestTransitionTable_RulesIsCopy(t *testing.T) {
	table := domain.NewTransitionTable(view, minimalStates(), []domain.TransitionRule{submitRule(domain.KindPlan)})
	rules := table.Rules()
	rules[0].Permission = "TAMPERED"

	rule, _ := table.Rule(domain.KindPlan, domain.StateDraft, domain.ActionSubmit)
	if rule.Permission != "X_SUBMIT" {
		t.Error("table must not be mutable through Rules()")
	}
}
