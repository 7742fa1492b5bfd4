package policy_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/neomorfeo/inspectiq/internal/domain"
	"github.com/neomorfeo/inspectiq/internal/policy"
)

func mustLoadDefault(t *testing.T) *policy.Policy {
	t.Helper()
	p, err := policy.LoadDefault()
	if err != nil {
		t.Fatalf("LoadDefault: %v", err)
	}
	return p
}

func TestLoadDefault(t *testing.T) {
	p := mustLoadDefault(t)

	if len(p.Table.Rules()) == 0 {
		t.Fatal("default table has no rules")
	}
	if p.Resolver.Len() != len(p.Routes) {
		t.Errorf("compiled %d routes, want %d", p.Resolver.Len(), len(p.Routes))
	}
	if v := p.Table.View(); v.Label != "View details" || v.Priority != 10 {
		t.Errorf("View() = %+v", v)
	}
}

func TestDefaultTable_Rules(t *testing.T) {
	table := mustLoadDefault(t).Table

	cases := []struct {
		kind        domain.EntityKind
		from        domain.WorkflowState
		action      domain.Action
		to          domain.WorkflowState
		permission  string
		destructive bool
		reason      bool
	}{
		{domain.KindRound, domain.StateDraft, domain.ActionSubmit, domain.StatePendingApproval, domain.PermRoundSubmit, false, false},
		{domain.KindRound, domain.StatePendingApproval, domain.ActionApprove, domain.StateApproved, domain.PermRoundApprove, false, false},
		{domain.KindRound, domain.StatePendingApproval, domain.ActionReject, domain.StateRejected, domain.PermRoundReject, false, true},
		{domain.KindRound, domain.StateApproved, domain.ActionDeploy, domain.StateActive, domain.PermRoundDeploy, false, false},
		{domain.KindRound, domain.StateActive, domain.ActionStart, domain.StateInProgress, domain.PermRoundStart, false, false},
		{domain.KindRound, domain.StateInProgress, domain.ActionComplete, domain.StateCompleted, domain.PermRoundComplete, false, false},
		{domain.KindRound, domain.StateActive, domain.ActionPause, domain.StatePaused, domain.PermRoundPause, false, true},
		{domain.KindRound, domain.StateInProgress, domain.ActionPause, domain.StatePaused, domain.PermRoundPause, false, true},
		{domain.KindRound, domain.StatePaused, domain.ActionResume, domain.StateInProgress, domain.PermRoundResume, false, false},
		{domain.KindRound, domain.StatePaused, domain.ActionCancel, domain.StateCancelled, domain.PermRoundCancel, true, true},
		{domain.KindRound, domain.StateDraft, domain.ActionDelete, domain.StateRemoved, domain.PermRoundDelete, true, false},
		{domain.KindRound, domain.StateRejected, domain.ActionDelete, domain.StateRemoved, domain.PermRoundDelete, true, false},
		{domain.KindRound, domain.StateRejected, domain.ActionSubmit, domain.StatePendingApproval, domain.PermRoundSubmit, false, false},

		{domain.KindPlan, domain.StateDraft, domain.ActionSubmit, domain.StatePendingApproval, domain.PermPlanSubmit, false, false},
		{domain.KindPlan, domain.StatePendingApproval, domain.ActionApprove, domain.StateApproved, domain.PermPlanApprove, false, false},
		{domain.KindPlan, domain.StatePendingApproval, domain.ActionReject, domain.StateRejected, domain.PermPlanReject, false, true},
		{domain.KindPlan, domain.StatePendingApproval, domain.ActionRecall, domain.StateDraft, domain.PermPlanRecall, false, false},
		{domain.KindPlan, domain.StateApproved, domain.ActionDeploy, domain.StateActive, domain.PermPlanDeploy, false, false},
		{domain.KindPlan, domain.StateActive, domain.ActionPause, domain.StatePaused, domain.PermPlanPause, false, true},
		{domain.KindPlan, domain.StateActive, domain.ActionComplete, domain.StateCompleted, domain.PermPlanComplete, false, false},
		{domain.KindPlan, domain.StatePaused, domain.ActionResume, domain.StateActive, domain.PermPlanResume, false, false},
		{domain.KindPlan, domain.StatePaused, domain.ActionCancel, domain.StateCancelled, domain.PermPlanCancel, true, true},
	}

	for _, tc := range cases {
		rule, ok := table.Rule(tc.kind, tc.from, tc.action)
		if !ok {
			t.Errorf("missing rule: %s %s from %s", tc.kind, tc.action, tc.from)
			continue
		}
		if rule.To != tc.to || rule.Permission != tc.permission || rule.Destructive != tc.destructive || rule.RequiresReason != tc.reason {
			t.Errorf("%s %s from %s = %+v", tc.kind, tc.action, tc.from, rule)
		}
	}

	if got, want := len(table.Rules()), len(cases); got != want {
		t.Errorf("table has %d rules, want exactly %d", got, want)
	}
}

func TestDefaultTable_PlanDeployNeedsEffectiveStart(t *testing.T) {
	rule, _ := mustLoadDefault(t).Table.Rule(domain.KindPlan, domain.StateApproved, domain.ActionDeploy)
	if len(rule.Params) != 1 || rule.Params[0] != domain.ParamEffectiveStart {
		t.Errorf("Params = %v", rule.Params)
	}
}

func TestDefaultTable_RoundStartResetsStats(t *testing.T) {
	rule, _ := mustLoadDefault(t).Table.Rule(domain.KindRound, domain.StateActive, domain.ActionStart)
	found := false
	for _, e := range rule.Effects {
		if e == domain.EffectResetStats {
			found = true
		}
	}
	if !found {
		t.Errorf("Effects = %v, want RESET_STATS", rule.Effects)
	}
}

func TestDefaultTable_TerminalStates(t *testing.T) {
	table := mustLoadDefault(t).Table
	for _, kind := range domain.Kinds {
		for _, s := range []domain.WorkflowState{domain.StateCompleted, domain.StateCancelled} {
			if rules := table.RulesFrom(kind, s); len(rules) != 0 {
				t.Errorf("%s %s has outgoing rules: %v", kind, s, rules)
			}
		}
	}
}

func TestDefaultTable_PlanNeverInProgress(t *testing.T) {
	table := mustLoadDefault(t).Table
	if table.Declares(domain.KindPlan, domain.StateInProgress) {
		t.Error("plans must not declare in_progress")
	}
	if !table.Declares(domain.KindRound, domain.StateInProgress) || !table.Declares(domain.KindRound, domain.StateActive) {
		t.Error("rounds must declare both active and in_progress")
	}
}

func TestDefaultRoutes(t *testing.T) {
	r := mustLoadDefault(t).Resolver

	cases := map[string]string{
		"/plans":            domain.PermPlanView,
		"/plans/99":         domain.PermPlanView,
		"/plans/99/history": domain.PermPlanView,
		"/plans/new":        domain.PermPlanCreate,
		"/plans/4/rounds":   domain.PermRoundView,
		"/rounds/42":        domain.PermRoundView,
		"/rounds/42/edit":   domain.PermRoundUpdate,
		"/dashboard":        "",
	}
	for path, want := range cases {
		got, _ := r.RequiredPermission(path)
		if got != want {
			t.Errorf("RequiredPermission(%q) = %q, want %q", path, got, want)
		}
	}
}

func TestParseTransitions_UnknownKind(t *testing.T) {
	doc := strings.Replace(string(policy.DefaultTransitions()), "  round:\n", "  audit:\n", 1)
	_, err := policy.ParseTransitions([]byte(doc))

	var cfgErr *domain.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
	if !strings.Contains(err.Error(), `unknown kind "audit"`) {
		t.Errorf("error = %v", err)
	}
}

func TestParseTransitions_UnknownField(t *testing.T) {
	doc := `
view: {label: View details, priority: 10}
kinds:
  plan:
    states: [draft]
    rules:
      - action: submit
        form: draft
`
	_, err := policy.ParseTransitions([]byte(doc))
	if err == nil || !strings.Contains(err.Error(), "form") {
		t.Errorf("expected unknown field error, got %v", err)
	}
}

func TestParseTransitions_AmbiguousRule(t *testing.T) {
	doc := `
view: {label: View details, priority: 10}
kinds:
  plan:
    states: [draft, pending_approval]
    rules:
      - {action: submit, from: draft, to: pending_approval, label: Submit, permission: PLAN_SUBMIT}
      - {action: submit, from: [draft], to: pending_approval, label: Send, permission: PLAN_SUBMIT}
  round:
    states: [draft]
`
	_, err := policy.ParseTransitions([]byte(doc))
	if err == nil || !strings.Contains(err.Error(), "ambiguous") {
		t.Errorf("expected ambiguity error, got %v", err)
	}
}

func TestParseTransitions_SelfLoop(t *testing.T) {
	doc := `
view: {label: View details, priority: 10}
kinds:
  plan:
    states: [draft, active]
    rules:
      - {action: amend, from: active, to: active, label: Amend, permission: PLAN_UPDATE}
  round:
    states: [draft]
`
	_, err := policy.ParseTransitions([]byte(doc))

	var cfgErr *domain.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
	if !strings.Contains(err.Error(), `leads back to "active"`) {
		t.Errorf("error = %v", err)
	}
}

func TestParseTransitions_ConfirmDefaults(t *testing.T) {
	doc := `
view: {label: View, priority: 10}
kinds:
  plan:
    states: [draft, pending_approval, active, paused]
    rules:
      - {action: submit, from: draft, to: pending_approval, label: Submit, permission: A}
      - {action: pause, from: active, to: paused, label: Pause, permission: B, requires_reason: true}
      - {action: resume, from: paused, to: active, label: Resume, permission: C, requires_reason: true, confirm: false}
  round:
    states: [draft]
`
	table, err := policy.ParseTransitions([]byte(doc))
	if err != nil {
		t.Fatalf("ParseTransitions: %v", err)
	}
	submit, _ := table.Rule(domain.KindPlan, domain.StateDraft, domain.ActionSubmit)
	pause, _ := table.Rule(domain.KindPlan, domain.StateActive, domain.ActionPause)
	resume, _ := table.Rule(domain.KindPlan, domain.StatePaused, domain.ActionResume)
	if submit.RequiresConfirmation || !pause.RequiresConfirmation || resume.RequiresConfirmation {
		t.Errorf("confirm = %v/%v/%v, want false/true/false",
			submit.RequiresConfirmation, pause.RequiresConfirmation, resume.RequiresConfirmation)
	}
}

func TestParseRoutes_Duplicate(t *testing.T) {
	routes, err := policy.ParseRoutes([]byte("routes:\n  - pattern: /a/:x\n  - pattern: /a/:y\n"))
	if err != nil {
		t.Fatalf("ParseRoutes: %v", err)
	}
	_, err = policy.Load(policy.DefaultTransitions(), []byte("routes:\n  - pattern: /a/:x\n  - pattern: /a/:y\n"))
	var cfgErr *domain.ConfigurationError
	if len(routes) != 2 || !errors.As(err, &cfgErr) {
		t.Errorf("routes = %v, err = %v", routes, err)
	}
}

func TestLoadFiles(t *testing.T) {
	dir := t.TempDir()
	routesPath := filepath.Join(dir, "routes.yaml")
	if err := os.WriteFile(routesPath, []byte("routes:\n  - pattern: /plans\n    permission: PLAN_READ\n"), 0o600); err != nil {
		t.Fatalf("writing routes: %v", err)
	}

	p, err := policy.LoadFiles("", routesPath)
	if err != nil {
		t.Fatalf("LoadFiles: %v", err)
	}
	if got, _ := p.Resolver.RequiredPermission("/plans/1"); got != "PLAN_READ" {
		t.Errorf("override not applied, got %q", got)
	}
	if len(p.Table.Rules()) == 0 {
		t.Error("embedded transition table should be used when no path is given")
	}
}

func TestLoadFiles_Missing(t *testing.T) {
	if _, err := policy.LoadFiles(filepath.Join(t.TempDir(), "nope.yaml"), ""); err == nil {
		t.Fatal("expected error for missing file")
	}
}
