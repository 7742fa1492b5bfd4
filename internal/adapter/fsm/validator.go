package fsm

import (
	"context"
	"errors"

	loopfsm "github.com/looplab/fsm"

	"github.com/neomorfeo/inspectiq/internal/domain"
)

// Compile-time check: Validator implements domain.TransitionValidator.
var _ domain.TransitionValidator = (*Validator)(nil)

// buildEvents converts the rules of one kind into looplab/fsm EventDesc
// format. Rules sharing action and destination are consolidated into a single
// EventDesc with multiple source states (e.g. a round's pause from "active"
// and "in_progress" both go to "paused").
func buildEvents(rules []domain.TransitionRule) []loopfsm.EventDesc {
	type key struct {
		event string
		dst   string
	}
	grouped := make(map[key][]string)
	order := make([]key, 0)

	for _, r := range rules {
		k := key{event: string(r.Action), dst: string(r.To)}
		if _, exists := grouped[k]; !exists {
			order = append(order, k)
		}
		grouped[k] = append(grouped[k], string(r.From))
	}

	out := make([]loopfsm.EventDesc, 0, len(order))
	for _, k := range order {
		out = append(out, loopfsm.EventDesc{
			Name: k.event,
			Src:  grouped[k],
			Dst:  k.dst,
		})
	}
	return out
}

// Validator implements domain.TransitionValidator using looplab/fsm.
// Event descriptions are built once per kind from the transition table; a
// short-lived FSM instance is created per Apply call, initialized with the
// entity's current state, because looplab/fsm tracks its current state
// internally.
type Validator struct {
	events map[domain.EntityKind][]loopfsm.EventDesc
}

// New creates an FSM-backed transition validator for every kind in table.
func New(table *domain.TransitionTable) *Validator {
	byKind := make(map[domain.EntityKind][]domain.TransitionRule)
	for _, r := range table.Rules() {
		byKind[r.Kind] = append(byKind[r.Kind], r)
	}

	events := make(map[domain.EntityKind][]loopfsm.EventDesc, len(byKind))
	for kind, rules := range byKind {
		events[kind] = buildEvents(rules)
	}
	return &Validator{events: events}
}

// Apply checks if action is valid from the current state of an entity of the
// given kind and returns the destination state. Returns a
// *domain.TransitionError wrapping domain.ErrIllegalTransition if the
// transition is not allowed.
func (v *Validator) Apply(ctx context.Context, kind domain.EntityKind, current domain.WorkflowState, action domain.Action) (domain.WorkflowState, error) {
	illegal := &domain.TransitionError{
		Kind:    kind,
		Action:  action,
		Current: current,
		Err:     domain.ErrIllegalTransition,
	}

	events, ok := v.events[kind]
	if !ok {
		return "", illegal
	}

	machine := loopfsm.NewFSM(string(current), events, nil)

	if err := machine.Event(ctx, string(action)); err != nil {
		var invalidEvent loopfsm.InvalidEventError
		var unknownEvent loopfsm.UnknownEventError
		var noTransition loopfsm.NoTransitionError
		if errors.As(err, &invalidEvent) || errors.As(err, &unknownEvent) || errors.As(err, &noTransition) {
			return "", illegal
		}
		return "", err
	}

	return domain.WorkflowState(machine.Current()), nil
}
