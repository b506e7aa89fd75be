package role

import (
	"context"
	"errors"
	"time"

	"github.com/dhawalhost/gateseal/internal/permission"
	"github.com/dhawalhost/gateseal/internal/policy"
)

var (
	// ErrRoleNotFound indicates the requested role does not exist. Evaluation
	// callers treat it as zero permissions, never as a fatal failure.
	ErrRoleNotFound = errors.New("role: not found")
	// ErrBuiltInImmutable indicates an attempt to mutate a built-in role.
	ErrBuiltInImmutable = errors.New("role: built-in roles are immutable")
	// ErrNameTaken indicates a name collision across built-in and custom roles.
	ErrNameTaken = errors.New("role: name already registered")
)

// Role groups a permission set and optional policy rules under an identity.
type Role struct {
	ID          string                `json:"id"`
	Name        string                `json:"name"`
	Description string                `json:"description,omitempty"`
	Permissions permission.Permission `json:"permissions"`
	Policies    []policy.Rule         `json:"policies,omitempty"`
	BuiltIn     bool                  `json:"built_in"`
}

// Assignment links a principal to a role. Expired or inactive assignments
// contribute nothing to any evaluation.
type Assignment struct {
	PrincipalID string     `json:"principal_id" db:"principal_id"`
	RoleID      string     `json:"role_id" db:"role_id"`
	AssignedAt  time.Time  `json:"assigned_at" db:"assigned_at"`
	AssignedBy  *string    `json:"assigned_by,omitempty" db:"assigned_by"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty" db:"expires_at"`
	Active      bool       `json:"active" db:"active"`
}

// Effective reports whether the assignment counts at the given instant.
func (a Assignment) Effective(now time.Time) bool {
	if !a.Active {
		return false
	}
	return a.ExpiresAt == nil || a.ExpiresAt.After(now)
}

// IdentityProvider is the external identity collaborator. Implementations
// must honor ctx cancellation; the engine never retries on its behalf.
type IdentityProvider interface {
	// ActiveAssignments returns the principal's assignments effective at now.
	ActiveAssignments(ctx context.Context, principalID string, now time.Time) ([]Assignment, error)
	// HasRole reports whether the principal currently holds the role.
	HasRole(ctx context.Context, principalID, roleID string) (bool, error)
}

// Built-in role identifiers. Materialized once at registry construction and
// never mutated or deleted afterward.
const (
	BuiltInViewerID        = "00000000-0000-0000-0000-000000000001"
	BuiltInContributorID   = "00000000-0000-0000-0000-000000000002"
	BuiltInModeratorID     = "00000000-0000-0000-0000-000000000003"
	BuiltInAdministratorID = "00000000-0000-0000-0000-000000000004"
)

func builtInRoles() []Role {
	return []Role{
		{ID: BuiltInViewerID, Name: "Viewer", Permissions: permission.ReadOnly, BuiltIn: true},
		{ID: BuiltInContributorID, Name: "Contributor", Permissions: permission.Contributor, BuiltIn: true},
		{ID: BuiltInModeratorID, Name: "Moderator", Permissions: permission.Moderator, BuiltIn: true},
		{ID: BuiltInAdministratorID, Name: "Administrator", Permissions: permission.Admin, BuiltIn: true},
	}
}
