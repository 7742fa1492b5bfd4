package domain_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/neomorfeo/inspectiq/internal/domain"
)

func TestTransitionError_Error(t *testing.T) {
	cases := []struct {
		name string
		err  *domain.TransitionError
		want string
	}{
		{
			name: "illegal",
			err:  &domain.TransitionError{Kind: domain.KindRound, Action: domain.ActionComplete, Current: domain.StateCompleted, Err: domain.ErrIllegalTransition},
			want: `action "complete" is not valid for round in state "completed"`,
		},
		{
			name: "forbidden",
			err:  &domain.TransitionError{Kind: domain.KindPlan, Action: domain.ActionApprove, Err: domain.ErrForbidden, Permission: domain.PermPlanApprove},
			want: `action "approve" on plan requires permission PLAN_APPROVE`,
		},
		{
			name: "reason",
			err:  &domain.TransitionError{Kind: domain.KindRound, Action: domain.ActionCancel, Err: domain.ErrReasonRequired},
			want: `action "cancel" on round requires a reason`,
		},
		{
			name: "param",
			err:  &domain.TransitionError{Kind: domain.KindPlan, Action: domain.ActionDeploy, Err: domain.ErrParameterRequired, Param: domain.ParamEffectiveStart},
			want: `action "deploy" on plan requires parameter "effective_start"`,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.err.Error(); got != tc.want {
				t.Errorf("Error() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestTransitionError_Unwrap(t *testing.T) {
	err := error(&domain.TransitionError{Err: domain.ErrForbidden})
	if !errors.Is(err, domain.ErrForbidden) {
		t.Error("expected errors.Is(err, ErrForbidden)")
	}
	if errors.Is(err, domain.ErrIllegalTransition) {
		t.Error("forbidden must not look like an illegal transition")
	}
}

func TestStaleStateError(t *testing.T) {
	err := error(&domain.StaleStateError{ID: "r-1", Expected: domain.StatePaused, Actual: domain.StateCancelled})
	want := `entity r-1 changed state: expected "paused", found "cancelled"`
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !errors.Is(err, domain.ErrStaleState) {
		t.Error("expected errors.Is(err, ErrStaleState)")
	}
	if errors.Is(err, domain.ErrIllegalTransition) {
		t.Error("stale state must be distinct from illegal transition")
	}
}

func TestForbiddenError(t *testing.T) {
	err := error(&domain.ForbiddenError{Permission: domain.PermRoundCreate})
	if got, want := err.Error(), "permission ROUND_CREATE required"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !errors.Is(err, domain.ErrForbidden) {
		t.Error("expected errors.Is(err, ErrForbidden)")
	}
}

func TestParameterError(t *testing.T) {
	err := error(&domain.ParameterError{Param: domain.ParamEffectiveStart, Value: "tomorrow"})
	if !errors.Is(err, domain.ErrInvalidParameter) {
		t.Error("expected errors.Is(err, ErrInvalidParameter)")
	}
	if !strings.Contains(err.Error(), "tomorrow") {
		t.Errorf("Error() = %q, want the offending value", err.Error())
	}
}

func TestConfigurationError_Error(t *testing.T) {
	err := &domain.ConfigurationError{Source: "route map", Problems: []string{"a", "b"}}
	if got, want := err.Error(), "invalid route map: a; b"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}
