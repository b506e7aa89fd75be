package role

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
)

// AssignmentStore implements IdentityProvider against postgres. It is the
// default identity collaborator for single-service deployments; remote
// identity providers plug in behind the same interface.
type AssignmentStore struct {
	db *sqlx.DB
}

// NewAssignmentStore creates a postgres-backed assignment store.
func NewAssignmentStore(db *sqlx.DB) *AssignmentStore {
	return &AssignmentStore{db: db}
}

func (s *AssignmentStore) ActiveAssignments(ctx context.Context, principalID string, now time.Time) ([]Assignment, error) {
	var assignments []Assignment
	err := s.db.SelectContext(ctx, &assignments,
		`SELECT principal_id, role_id, assigned_at, assigned_by, expires_at, active
		 FROM role_assignments
		 WHERE principal_id = $1 AND active = TRUE AND (expires_at IS NULL OR expires_at > $2)`,
		principalID, now,
	)
	return assignments, err
}

func (s *AssignmentStore) HasRole(ctx context.Context, principalID, roleID string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		`SELECT EXISTS (
		   SELECT 1 FROM role_assignments
		   WHERE principal_id = $1 AND role_id = $2 AND active = TRUE
		     AND (expires_at IS NULL OR expires_at > NOW())
		 )`,
		principalID, roleID,
	)
	return exists, err
}

// Assign records an assignment. Used by the role-management write path, which
// must call InvalidatePrincipal on the authorization service afterward.
func (s *AssignmentStore) Assign(ctx context.Context, a Assignment) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO role_assignments (principal_id, role_id, assigned_by, expires_at, active)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (principal_id, role_id)
		 DO UPDATE SET assigned_by = $3, expires_at = $4, active = $5`,
		a.PrincipalID, a.RoleID, a.AssignedBy, a.ExpiresAt, a.Active,
	)
	return err
}

// Revoke deactivates an assignment.
func (s *AssignmentStore) Revoke(ctx context.Context, principalID, roleID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE role_assignments SET active = FALSE WHERE principal_id = $1 AND role_id = $2`,
		principalID, roleID,
	)
	return err
}
