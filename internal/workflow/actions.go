package workflow

import (
	"sort"

	"github.com/neomorfeo/inspectiq/internal/domain"
)

// Action is an operation offered to the user for one entity.
type Action struct {
	Label                string
	Code                 domain.Action
	Permission           string
	Priority             int
	Destructive          bool
	RequiresReason       bool
	RequiresConfirmation bool
	Params               []string
	// SeparatorBefore asks the renderer to visually set the action apart.
	SeparatorBefore bool
}

// Authorizer computes the actions a user may invoke on an entity.
type Authorizer struct {
	table *domain.TransitionTable
}

// NewAuthorizer creates an authorizer over table.
func NewAuthorizer(table *domain.TransitionTable) *Authorizer {
	return &Authorizer{table: table}
}

// AvailableActions returns the view action plus one action per rule leaving
// the entity's state whose permission perms holds. Actions without permission
// are omitted, not disabled. The result is ordered by priority, highest first,
// with ties kept in table order.
func (a *Authorizer) AvailableActions(entity domain.Entity, perms domain.PermissionSet) []Action {
	view := a.table.View()
	actions := []Action{{
		Label:    view.Label,
		Code:     domain.ActionView,
		Priority: view.Priority,
	}}

	for _, r := range a.table.RulesFrom(entity.Kind, entity.State) {
		if !perms.Has(r.Permission) {
			continue
		}
		actions = append(actions, Action{
			Label:                r.Label,
			Code:                 r.Action,
			Permission:           r.Permission,
			Priority:             r.Priority,
			Destructive:          r.Destructive,
			RequiresReason:       r.RequiresReason,
			RequiresConfirmation: r.RequiresConfirmation,
			Params:               r.Params,
			SeparatorBefore:      r.Destructive,
		})
	}

	sort.SliceStable(actions, func(i, j int) bool {
		return actions[i].Priority > actions[j].Priority
	})
	return actions
}
