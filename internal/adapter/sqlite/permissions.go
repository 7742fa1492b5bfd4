package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/neomorfeo/inspectiq/internal/domain"
)

// PermissionStore implements domain.PermissionStore over the role tables.
// An actor's permission set is the union of the permissions of their roles.
type PermissionStore struct {
	db *sql.DB
}

// Compile-time check: PermissionStore implements domain.PermissionStore.
var _ domain.PermissionStore = (*PermissionStore)(nil)

// NewPermissionStore uses a database already migrated by New or NewFromDB.
func NewPermissionStore(db *sql.DB) *PermissionStore {
	return &PermissionStore{db: db}
}

// PermissionsFor returns the permissions granted to actorID. Unknown actors
// get an empty set.
func (s *PermissionStore) PermissionsFor(ctx context.Context, actorID string) (domain.PermissionSet, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT rp.permission
		 FROM actor_roles ar
		 JOIN role_permissions rp ON rp.role = ar.role
		 WHERE ar.actor_id = ?`, actorID)
	if err != nil {
		return domain.PermissionSet{}, fmt.Errorf("loading permissions: %w", err)
	}
	defer rows.Close()

	var codes []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return domain.PermissionSet{}, fmt.Errorf("scanning permission: %w", err)
		}
		codes = append(codes, code)
	}
	if err := rows.Err(); err != nil {
		return domain.PermissionSet{}, err
	}

	return domain.NewPermissionSet(codes...), nil
}

// AssignRole grants role to actorID. Assigning a role twice is a no-op.
func (s *PermissionStore) AssignRole(ctx context.Context, actorID, role string) error {
	var name string
	err := s.db.QueryRowContext(ctx, `SELECT name FROM roles WHERE name = ?`, role).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %q", domain.ErrRoleNotFound, role)
	}
	if err != nil {
		return fmt.Errorf("looking up role: %w", err)
	}

	if _, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO actor_roles (actor_id, role) VALUES (?, ?)`, actorID, role,
	); err != nil {
		return fmt.Errorf("assigning role: %w", err)
	}
	return nil
}

// Roles returns the names of the roles assigned to actorID.
func (s *PermissionStore) Roles(ctx context.Context, actorID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT role FROM actor_roles WHERE actor_id = ? ORDER BY role`, actorID)
	if err != nil {
		return nil, fmt.Errorf("listing roles: %w", err)
	}
	defer rows.Close()

	var roles []string
	for rows.Next() {
		var role string
		if err := rows.Scan(&role); err != nil {
			return nil, fmt.Errorf("scanning role: %w", err)
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}
