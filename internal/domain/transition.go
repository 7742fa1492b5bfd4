package domain

import (
	"fmt"
	"slices"
)

// Effect is an obligation the persistence layer must apply atomically with
// the state write of a transition.
type Effect string

const (
	EffectStampActor        Effect = "STAMP_ACTOR"
	EffectStampTimestamp    Effect = "STAMP_TIMESTAMP"
	EffectResetStats        Effect = "RESET_STATS"
	EffectSetEffectiveStart Effect = "SET_EFFECTIVE_START"
	EffectRemoveRecord      Effect = "REMOVE_RECORD"
)

// KnownEffects lists every effect the persistence layer understands.
var KnownEffects = []Effect{
	EffectStampActor,
	EffectStampTimestamp,
	EffectResetStats,
	EffectSetEffectiveStart,
	EffectRemoveRecord,
}

// ParamEffectiveStart is the request parameter carrying a plan's effective
// start date (YYYY-MM-DD).
const ParamEffectiveStart = "effective_start"

// TransitionRule defines a legal state change: an action moves an entity of
// Kind from From to To, provided the actor holds Permission.
type TransitionRule struct {
	Kind                 EntityKind
	From                 WorkflowState
	To                   WorkflowState
	Action               Action
	Label                string
	Permission           string
	Priority             int
	Destructive          bool
	RequiresReason       bool
	RequiresConfirmation bool
	Params               []string
	Effects              []Effect
}

// ViewAction describes the permission-free action offered in every state.
type ViewAction struct {
	Label    string
	Priority int
}

type ruleKey struct {
	kind   EntityKind
	from   WorkflowState
	action Action
}

// TransitionTable is the closed set of transition rules, partitioned by
// entity kind. It is read-only after construction and safe for concurrent use.
type TransitionTable struct {
	view   ViewAction
	states map[EntityKind][]WorkflowState
	rules  []TransitionRule
	index  map[ruleKey]int
}

// NewTransitionTable builds a table from declared states and rules. Rules keep
// their declaration order. Call Validate before serving requests: when two
// rules collide on (kind, from, action) only the first is indexed.
func NewTransitionTable(view ViewAction, states map[EntityKind][]WorkflowState, rules []TransitionRule) *TransitionTable {
	t := &TransitionTable{
		view:   view,
		states: make(map[EntityKind][]WorkflowState, len(states)),
		rules:  slices.Clone(rules),
		index:  make(map[ruleKey]int, len(rules)),
	}
	for kind, declared := range states {
		t.states[kind] = slices.Clone(declared)
	}
	for i, r := range t.rules {
		k := ruleKey{kind: r.Kind, from: r.From, action: r.Action}
		if _, exists := t.index[k]; !exists {
			t.index[k] = i
		}
	}
	return t
}

// View returns the always-available view action.
func (t *TransitionTable) View() ViewAction {
	return t.view
}

// Rule returns the rule for (kind, from, action), if one exists.
func (t *TransitionTable) Rule(kind EntityKind, from WorkflowState, action Action) (TransitionRule, bool) {
	i, ok := t.index[ruleKey{kind: kind, from: from, action: action}]
	if !ok {
		return TransitionRule{}, false
	}
	return t.rules[i], true
}

// RulesFrom returns the rules leaving state from for kind, in declaration order.
func (t *TransitionTable) RulesFrom(kind EntityKind, from WorkflowState) []TransitionRule {
	var out []TransitionRule
	for _, r := range t.rules {
		if r.Kind == kind && r.From == from {
			out = append(out, r)
		}
	}
	return out
}

// Rules returns every rule in declaration order.
func (t *TransitionTable) Rules() []TransitionRule {
	return slices.Clone(t.rules)
}

// States returns the states declared for kind.
func (t *TransitionTable) States(kind EntityKind) []WorkflowState {
	return slices.Clone(t.states[kind])
}

// Declares reports whether state is declared reachable for kind.
func (t *TransitionTable) Declares(kind EntityKind, state WorkflowState) bool {
	return slices.Contains(t.states[kind], state)
}

// Validate checks the table's static invariants and reports every problem in a
// single ConfigurationError.
func (t *TransitionTable) Validate() error {
	var problems []string
	addf := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if t.view.Label == "" {
		addf("view action has no label")
	}

	for _, kind := range Kinds {
		if len(t.states[kind]) == 0 {
			addf("kind %q declares no states", kind)
		}
	}
	for kind, declared := range t.states {
		if !kind.Valid() {
			addf("unknown kind %q", kind)
			continue
		}
		seen := make(map[WorkflowState]bool, len(declared))
		for _, s := range declared {
			if !s.Known() {
				addf("kind %q declares unknown state %q", kind, s)
			}
			if seen[s] {
				addf("kind %q declares state %q twice", kind, s)
			}
			seen[s] = true
		}
	}

	keys := make(map[ruleKey]bool, len(t.rules))
	labels := make(map[string]bool)
	for i, r := range t.rules {
		where := fmt.Sprintf("rule %d (%s %s from %s)", i, r.Kind, r.Action, r.From)

		if !r.Kind.Valid() {
			addf("%s: unknown kind", where)
			continue
		}
		if !t.Declares(r.Kind, r.From) {
			addf("%s: from state %q is not declared for %s", where, r.From, r.Kind)
		}
		if r.To != StateRemoved && !t.Declares(r.Kind, r.To) {
			addf("%s: to state %q is not declared for %s", where, r.To, r.Kind)
		}
		if r.To == r.From {
			addf("%s: leads back to %q, every rule must change the state", where, r.From)
		}
		if r.Action == "" || r.Action == ActionView {
			addf("%s: action code %q is reserved or empty", where, r.Action)
		}
		if r.Permission == "" {
			addf("%s: no required permission", where)
		}
		if r.Label == "" {
			addf("%s: no label", where)
		}
		if r.Priority < 0 {
			addf("%s: negative priority %d", where, r.Priority)
		}

		k := ruleKey{kind: r.Kind, from: r.From, action: r.Action}
		if keys[k] {
			addf("%s: ambiguous, another rule uses the same kind, state and action", where)
		}
		keys[k] = true

		labelKey := string(r.Kind) + "|" + string(r.From) + "|" + r.Label
		if r.Label == t.view.Label || labels[labelKey] {
			addf("%s: label %q is not unique in state %s", where, r.Label, r.From)
		}
		labels[labelKey] = true

		problems = append(problems, validateEffects(where, r)...)
	}

	if len(problems) > 0 {
		return &ConfigurationError{Source: "transition table", Problems: problems}
	}
	return nil
}

func validateEffects(where string, r TransitionRule) []string {
	var problems []string
	seen := make(map[Effect]bool, len(r.Effects))
	for _, e := range r.Effects {
		if !slices.Contains(KnownEffects, e) {
			problems = append(problems, fmt.Sprintf("%s: unknown effect %q", where, e))
		}
		if seen[e] {
			problems = append(problems, fmt.Sprintf("%s: effect %q listed twice", where, e))
		}
		seen[e] = true
	}

	removes := seen[EffectRemoveRecord]
	switch {
	case r.To == StateRemoved && !removes:
		problems = append(problems, fmt.Sprintf("%s: removal must carry %s", where, EffectRemoveRecord))
	case r.To != StateRemoved && removes:
		problems = append(problems, fmt.Sprintf("%s: %s is only valid for removal", where, EffectRemoveRecord))
	}
	if r.To == StateRemoved && !r.Destructive {
		problems = append(problems, fmt.Sprintf("%s: removal must be destructive", where))
	}
	if seen[EffectSetEffectiveStart] && !slices.Contains(r.Params, ParamEffectiveStart) {
		problems = append(problems, fmt.Sprintf("%s: %s requires param %q", where, EffectSetEffectiveStart, ParamEffectiveStart))
	}
	for _, p := range r.Params {
		if p == "" {
			problems = append(problems, fmt.Sprintf("%s: empty param name", where))
		}
	}
	return problems
}
