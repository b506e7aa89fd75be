package entityacl

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/dhawalhost/gateseal/internal/permission"
)

// maxParentDepth bounds the parent walk so malformed graph data cannot stall
// an evaluation. Cycle prevention proper happens at write time.
const maxParentDepth = 100

// Evaluator computes the ACL-derived permission set for a principal at a
// resource, including the strict parent walk.
type Evaluator struct {
	graph    GraphProvider
	identity RoleMembership
	logger   *zap.Logger
}

// NewEvaluator creates an ACL evaluator.
func NewEvaluator(graph GraphProvider, identity RoleMembership, logger *zap.Logger) *Evaluator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Evaluator{graph: graph, identity: identity, logger: logger}
}

// Evaluate returns the effective ACL permissions for the principal at the
// resource, following the parent chain under the strict pattern. A resource
// whose local entries match nothing for the principal adopts its ancestor's
// result; a resource with matches is strictly narrowed by the ancestor.
func (e *Evaluator) Evaluate(ctx context.Context, resourceID, principalID, principalType string, now time.Time) (permission.Permission, error) {
	result, _, err := e.evaluate(ctx, resourceID, principalID, principalType, now, true, 0)
	return result, err
}

// EvaluateLocal is Evaluate with the parent walk disabled. The second return
// reports whether anything matched locally (owner or an entry); the
// inheritance walker needs it to combine levels.
func (e *Evaluator) EvaluateLocal(ctx context.Context, resourceID, principalID, principalType string, now time.Time) (permission.Permission, bool, error) {
	return e.evaluate(ctx, resourceID, principalID, principalType, now, false, 0)
}

func (e *Evaluator) evaluate(ctx context.Context, resourceID, principalID, principalType string, now time.Time, inherit bool, depth int) (permission.Permission, bool, error) {
	if depth > maxParentDepth {
		e.logger.Warn("acl parent walk exceeded depth bound, truncating",
			zap.String("resource_id", resourceID),
			zap.Int("depth", depth))
		return permission.None, false, nil
	}

	// Owners hold the maximal set unconditionally.
	owner, ok, err := e.graph.Owner(ctx, resourceID)
	if err != nil && !errors.Is(err, ErrResourceNotFound) {
		return permission.None, false, fmt.Errorf("entityacl: owner lookup: %w", err)
	}
	if ok && owner == principalID {
		return permission.Admin, true, nil
	}

	acl, err := e.graph.Acl(ctx, resourceID)
	if err != nil {
		if errors.Is(err, ErrResourceNotFound) {
			if depth == 0 {
				// An unregistered resource behaves like one with no ACL:
				// nothing is granted, nothing matched.
				return permission.None, false, nil
			}
			// Mid-walk the caller distinguishes a dangling parent pointer.
			return permission.None, false, err
		}
		return permission.None, false, fmt.Errorf("entityacl: acl lookup: %w", err)
	}
	if acl == nil {
		return permission.None, false, nil
	}

	var allowed, denied permission.Permission
	matchedAny := false
	stop := false
	for _, entry := range acl.Entries {
		if !entry.Effective(now) {
			continue
		}
		matched, err := e.matches(ctx, entry, principalID)
		if err != nil {
			return permission.None, false, err
		}
		if !matched {
			continue
		}
		matchedAny = true
		allowed |= entry.Allowed
		denied |= entry.Denied
		if entry.StopInheritance {
			stop = true
		}
	}

	// Explicit deny strips the bit regardless of entry order.
	result := allowed &^ denied

	if inherit && acl.InheritFromParent && acl.ParentID != nil && !stop {
		parent, _, err := e.evaluate(ctx, *acl.ParentID, principalID, principalType, now, true, depth+1)
		switch {
		case errors.Is(err, ErrResourceNotFound):
			// Dangling parent pointer: treat this resource as a root.
			e.logger.Warn("acl references missing parent, treating resource as root",
				zap.String("resource_id", resourceID),
				zap.String("parent_id", *acl.ParentID))
		case err != nil:
			return permission.None, false, err
		case matchedAny:
			// Strict containment: a child with its own matches never exceeds
			// what the ancestors permit through this path.
			result &= parent
		default:
			// Nothing matched locally: the ancestor's result carries down.
			result = parent
		}
	}

	if result == permission.None && acl.DefaultAccess != "" && acl.DefaultAccess != "inherit" {
		result = permission.ParseLevel(acl.DefaultAccess)
	}
	return result, matchedAny, nil
}

func (e *Evaluator) matches(ctx context.Context, entry Entry, principalID string) (bool, error) {
	if entry.PrincipalID == principalID {
		return true, nil
	}
	if entry.PrincipalType != PrincipalTypeRole {
		return false, nil
	}
	// Role-type entries match on live membership of the referenced role.
	has, err := e.identity.HasRole(ctx, principalID, entry.PrincipalID)
	if err != nil {
		return false, fmt.Errorf("entityacl: role membership lookup: %w", err)
	}
	return has, nil
}
