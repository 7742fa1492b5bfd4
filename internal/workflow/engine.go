// Package workflow decides whether a lifecycle transition may happen and which
// actions a user is offered for an entity. It performs no I/O: the transition
// table and permission set are passed in, and effects are returned as
// obligations for the persistence layer.
package workflow

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/neomorfeo/inspectiq/internal/domain"
)

// Request is a user's attempt to perform an action on an entity.
type Request struct {
	Action domain.Action
	Reason string
	Params map[string]string
}

// Outcome describes an authorized transition. Effects must be applied
// atomically with the state write.
type Outcome struct {
	From    domain.WorkflowState
	To      domain.WorkflowState
	Rule    domain.TransitionRule
	Effects []domain.Effect
}

// Removes reports whether the transition deletes the record.
func (o Outcome) Removes() bool {
	return o.To == domain.StateRemoved
}

// Engine validates transitions against the transition table.
type Engine struct {
	table     *domain.TransitionTable
	validator domain.TransitionValidator
}

// NewEngine creates an engine. The validator decides legality and the
// destination state; the table supplies permission and input requirements.
func NewEngine(table *domain.TransitionTable, validator domain.TransitionValidator) *Engine {
	return &Engine{table: table, validator: validator}
}

// Table returns the transition table the engine was built with.
func (e *Engine) Table() *domain.TransitionTable {
	return e.table
}

// AttemptTransition checks, in order, that the action is legal from the
// entity's current state, that perms holds the rule's permission, that a
// reason is given when one is required and that required parameters are
// present. The first failing check is returned as a *domain.TransitionError.
func (e *Engine) AttemptTransition(ctx context.Context, entity domain.Entity, req Request, perms domain.PermissionSet) (Outcome, error) {
	refuse := func(err error) *domain.TransitionError {
		return &domain.TransitionError{
			Kind:    entity.Kind,
			Action:  req.Action,
			Current: entity.State,
			Err:     err,
		}
	}

	to, err := e.validator.Apply(ctx, entity.Kind, entity.State, req.Action)
	if err != nil {
		return Outcome{}, err
	}
	rule, ok := e.table.Rule(entity.Kind, entity.State, req.Action)
	if !ok {
		return Outcome{}, refuse(domain.ErrIllegalTransition)
	}
	if to != rule.To {
		return Outcome{}, fmt.Errorf("validator and table disagree on %s %s from %s: %q vs %q",
			entity.Kind, req.Action, entity.State, to, rule.To)
	}

	if !perms.Has(rule.Permission) {
		trErr := refuse(domain.ErrForbidden)
		trErr.Permission = rule.Permission
		return Outcome{}, trErr
	}

	if rule.RequiresReason && strings.TrimSpace(req.Reason) == "" {
		return Outcome{}, refuse(domain.ErrReasonRequired)
	}

	for _, p := range rule.Params {
		if strings.TrimSpace(req.Params[p]) == "" {
			trErr := refuse(domain.ErrParameterRequired)
			trErr.Param = p
			return Outcome{}, trErr
		}
	}

	return Outcome{
		From:    entity.State,
		To:      rule.To,
		Rule:    rule,
		Effects: slices.Clone(rule.Effects),
	}, nil
}
