package domain

import (
	"slices"
	"strings"
)

// Permission codes. Each transition and each guarded screen names exactly one.
const (
	PermPlanView     = "PLAN_VIEW"
	PermPlanCreate   = "PLAN_CREATE"
	PermPlanUpdate   = "PLAN_UPDATE"
	PermPlanSubmit   = "PLAN_SUBMIT"
	PermPlanApprove  = "PLAN_APPROVE"
	PermPlanReject   = "PLAN_REJECT"
	PermPlanRecall   = "PLAN_RECALL"
	PermPlanDeploy   = "PLAN_DEPLOY"
	PermPlanPause    = "PLAN_PAUSE"
	PermPlanResume   = "PLAN_RESUME"
	PermPlanComplete = "PLAN_COMPLETE"
	PermPlanCancel   = "PLAN_CANCEL"

	PermRoundView     = "ROUND_VIEW"
	PermRoundCreate   = "ROUND_CREATE"
	PermRoundUpdate   = "ROUND_UPDATE"
	PermRoundSubmit   = "ROUND_SUBMIT"
	PermRoundApprove  = "ROUND_APPROVE"
	PermRoundReject   = "ROUND_REJECT"
	PermRoundDeploy   = "ROUND_DEPLOY"
	PermRoundStart    = "ROUND_START"
	PermRoundPause    = "ROUND_PAUSE"
	PermRoundResume   = "ROUND_RESUME"
	PermRoundComplete = "ROUND_COMPLETE"
	PermRoundCancel   = "ROUND_CANCEL"
	PermRoundDelete   = "ROUND_DELETE"
)

// CreatePermission returns the permission needed to create an entity of kind k.
func CreatePermission(k EntityKind) string {
	if k == KindPlan {
		return PermPlanCreate
	}
	return PermRoundCreate
}

// PermissionSet is an immutable set of permission codes held by one session.
// The zero value is an empty set.
type PermissionSet struct {
	codes map[string]struct{}
}

// NewPermissionSet builds a set from codes. Blank codes are ignored and
// duplicates collapse.
func NewPermissionSet(codes ...string) PermissionSet {
	set := make(map[string]struct{}, len(codes))
	for _, c := range codes {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		set[c] = struct{}{}
	}
	return PermissionSet{codes: set}
}

// Has reports whether code is held. The empty code is always held: it stands
// for "no permission required".
func (p PermissionSet) Has(code string) bool {
	if code == "" {
		return true
	}
	_, ok := p.codes[code]
	return ok
}

// Len returns the number of codes in the set.
func (p PermissionSet) Len() int {
	return len(p.codes)
}

// Codes returns the codes in sorted order. The returned slice is a copy.
func (p PermissionSet) Codes() []string {
	out := make([]string, 0, len(p.codes))
	for c := range p.codes {
		out = append(out, c)
	}
	slices.Sort(out)
	return out
}
