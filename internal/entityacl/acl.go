package entityacl

import (
	"context"
	"errors"
	"time"

	"github.com/dhawalhost/gateseal/internal/permission"
)

// Principal types an ACL entry can target.
const (
	PrincipalTypeUser    = "user"
	PrincipalTypeTeam    = "team"
	PrincipalTypeRole    = "role"
	PrincipalTypeService = "service"
)

// ErrResourceNotFound indicates the resource itself is unknown to the graph
// provider, as opposed to a known resource that simply has no ACL.
var ErrResourceNotFound = errors.New("entityacl: resource not found")

// Entry grants and denies permissions to one principal on one resource.
// Within an evaluation, denied bits always win over allowed bits.
type Entry struct {
	ID              string                `json:"id" db:"id"`
	ResourceID      string                `json:"resource_id" db:"resource_id"`
	PrincipalID     string                `json:"principal_id" db:"principal_id"`
	PrincipalType   string                `json:"principal_type" db:"principal_type"`
	Allowed         permission.Permission `json:"allowed" db:"allowed"`
	Denied          permission.Permission `json:"denied" db:"denied"`
	ExpiresAt       *time.Time            `json:"expires_at,omitempty" db:"expires_at"`
	Active          bool                  `json:"active" db:"active"`
	StopInheritance bool                  `json:"stop_inheritance" db:"stop_inheritance"`
}

// Effective reports whether the entry counts at the given instant. Expired
// entries are skipped silently, never reported as errors.
func (e Entry) Effective(now time.Time) bool {
	if !e.Active {
		return false
	}
	return e.ExpiresAt == nil || e.ExpiresAt.After(now)
}

// Acl is the per-resource access-control list.
type Acl struct {
	ResourceID        string  `json:"resource_id" db:"resource_id"`
	OwnerID           *string `json:"owner_id,omitempty" db:"owner_id"`
	DefaultAccess     string  `json:"default_access" db:"default_access"`
	InheritFromParent bool    `json:"inherit_from_parent" db:"inherit_from_parent"`
	ParentID          *string `json:"parent_id,omitempty" db:"parent_id"`
	Entries           []Entry `json:"entries"`
}

// GraphProvider is the external resource-graph collaborator.
type GraphProvider interface {
	// Acl returns the resource's ACL, or ErrResourceNotFound when the
	// resource has never been registered. Returning a nil ACL with a nil
	// error is also valid and means the resource carries no restrictions;
	// the evaluator treats both the same at the top of a walk.
	Acl(ctx context.Context, resourceID string) (*Acl, error)
	// Parent returns the resource's parent id, with ok=false for roots.
	Parent(ctx context.Context, resourceID string) (string, bool, error)
	// Owner returns the resource's owner, with ok=false when unowned.
	Owner(ctx context.Context, resourceID string) (string, bool, error)
}

// RoleMembership is the slice of the identity collaborator the evaluator
// needs: live role membership for role-type entries. Note that this makes a
// role-type entry track the principal's current membership rather than a
// snapshot taken when the entry was written.
type RoleMembership interface {
	HasRole(ctx context.Context, principalID, roleID string) (bool, error)
}
