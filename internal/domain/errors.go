package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for simple conditions without extra context.
var (
	ErrEntityNotFound    = errors.New("entity not found")
	ErrIllegalTransition = errors.New("illegal transition")
	ErrForbidden         = errors.New("forbidden")
	ErrReasonRequired    = errors.New("reason required")
	ErrParameterRequired = errors.New("parameter required")
	ErrInvalidParameter  = errors.New("invalid parameter")
	ErrStaleState        = errors.New("stale state")
	ErrInvalidParent     = errors.New("invalid parent")
	ErrRoleNotFound      = errors.New("role not found")
)

// TransitionError is returned when a transition is refused. Err is one of
// ErrIllegalTransition, ErrForbidden, ErrReasonRequired or ErrParameterRequired.
type TransitionError struct {
	Kind    EntityKind
	Action  Action
	Current WorkflowState
	Err     error

	// Permission is set when Err is ErrForbidden.
	Permission string
	// Param is set when Err is ErrParameterRequired.
	Param string
}

func (e *TransitionError) Error() string {
	switch {
	case errors.Is(e.Err, ErrForbidden):
		return fmt.Sprintf("action %q on %s requires permission %s", e.Action, e.Kind, e.Permission)
	case errors.Is(e.Err, ErrReasonRequired):
		return fmt.Sprintf("action %q on %s requires a reason", e.Action, e.Kind)
	case errors.Is(e.Err, ErrParameterRequired):
		return fmt.Sprintf("action %q on %s requires parameter %q", e.Action, e.Kind, e.Param)
	default:
		return fmt.Sprintf("action %q is not valid for %s in state %q", e.Action, e.Kind, e.Current)
	}
}

func (e *TransitionError) Unwrap() error {
	return e.Err
}

// ForbiddenError is returned when a non-transition operation needs a
// permission the session does not hold.
type ForbiddenError struct {
	Permission string
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("permission %s required", e.Permission)
}

func (e *ForbiddenError) Unwrap() error {
	return ErrForbidden
}

// StaleStateError is returned when the persisted state changed between
// authorization and commit.
type StaleStateError struct {
	ID       string
	Expected WorkflowState
	Actual   WorkflowState
}

func (e *StaleStateError) Error() string {
	return fmt.Sprintf("entity %s changed state: expected %q, found %q", e.ID, e.Expected, e.Actual)
}

func (e *StaleStateError) Unwrap() error {
	return ErrStaleState
}

// ParameterError reports a malformed transition parameter.
type ParameterError struct {
	Param string
	Value string
}

func (e *ParameterError) Error() string {
	return fmt.Sprintf("invalid value %q for parameter %q", e.Value, e.Param)
}

func (e *ParameterError) Unwrap() error {
	return ErrInvalidParameter
}

// ConfigurationError is returned at startup when a policy table is ambiguous
// or inconsistent. It is fatal.
type ConfigurationError struct {
	Source   string
	Problems []string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Source, strings.Join(e.Problems, "; "))
}
