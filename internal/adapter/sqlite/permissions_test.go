package sqlite_test

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/neomorfeo/inspectiq/internal/adapter/sqlite"
	"github.com/neomorfeo/inspectiq/internal/domain"
)

func newTestStore(t *testing.T) *sqlite.PermissionStore {
	t.Helper()
	return sqlite.NewPermissionStore(newTestRepo(t).DB())
}

func TestPermissionsFor_UnknownActor(t *testing.T) {
	store := newTestStore(t)

	perms, err := store.PermissionsFor(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("PermissionsFor failed: %v", err)
	}
	if perms.Len() != 0 {
		t.Errorf("got %v, want an empty set", perms.Codes())
	}
}

func TestPermissionsFor_UnionOfRoles(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, role := range []string{"inspector", "supervisor"} {
		if err := store.AssignRole(ctx, "carol", role); err != nil {
			t.Fatalf("AssignRole(%s) failed: %v", role, err)
		}
	}

	perms, err := store.PermissionsFor(ctx, "carol")
	if err != nil {
		t.Fatalf("PermissionsFor failed: %v", err)
	}
	for _, want := range []string{domain.PermRoundStart, domain.PermRoundApprove, domain.PermPlanDeploy} {
		if !perms.Has(want) {
			t.Errorf("missing %s in %v", want, perms.Codes())
		}
	}
	if perms.Has(domain.PermPlanCreate) {
		t.Error("carol should not be able to create plans")
	}
}

func TestAssignRole_Idempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for range 2 {
		if err := store.AssignRole(ctx, "dave", "planner"); err != nil {
			t.Fatalf("AssignRole failed: %v", err)
		}
	}

	roles, err := store.Roles(ctx, "dave")
	if err != nil {
		t.Fatalf("Roles failed: %v", err)
	}
	if !reflect.DeepEqual(roles, []string{"planner"}) {
		t.Errorf("roles = %v", roles)
	}
}

func TestAssignRole_Unknown(t *testing.T) {
	store := newTestStore(t)

	err := store.AssignRole(context.Background(), "erin", "wizard")
	if !errors.Is(err, domain.ErrRoleNotFound) {
		t.Errorf("expected ErrRoleNotFound, got %v", err)
	}
}
