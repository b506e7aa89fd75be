package role

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dhawalhost/gateseal/internal/permission"
	"github.com/dhawalhost/gateseal/internal/policy"
)

// Registry resolves roles and computes effective role permissions for
// principals. Built-in roles are registered at construction; custom roles are
// added and removed by the external role-management collaborator, which must
// invalidate affected principals on the authorization service afterward.
type Registry struct {
	identity IdentityProvider

	mu     sync.RWMutex
	byID   map[string]Role
	byName map[string]string // case-sensitive name -> id
}

// NewRegistry creates a registry seeded with the built-in roles.
func NewRegistry(identity IdentityProvider) *Registry {
	r := &Registry{
		identity: identity,
		byID:     make(map[string]Role),
		byName:   make(map[string]string),
	}
	for _, role := range builtInRoles() {
		r.byID[role.ID] = role
		r.byName[role.Name] = role.ID
	}
	return r
}

// Resolve returns the role with the given id or ErrRoleNotFound.
func (r *Registry) Resolve(roleID string) (Role, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	role, ok := r.byID[roleID]
	if !ok {
		return Role{}, ErrRoleNotFound
	}
	return role, nil
}

// ResolveByName returns the role with the given case-sensitive name.
func (r *Registry) ResolveByName(name string) (Role, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byName[name]
	if !ok {
		return Role{}, ErrRoleNotFound
	}
	return r.byID[id], nil
}

// Register adds a custom role. A missing ID is generated. Registering a name
// already held by any role, built-in or custom, fails with ErrNameTaken.
func (r *Registry) Register(role Role) (Role, error) {
	if role.Name == "" {
		return Role{}, fmt.Errorf("role: name is required")
	}
	if role.BuiltIn {
		return Role{}, ErrBuiltInImmutable
	}
	if role.ID == "" {
		role.ID = uuid.NewString()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existingID, ok := r.byName[role.Name]; ok && existingID != role.ID {
		return Role{}, ErrNameTaken
	}
	if existing, ok := r.byID[role.ID]; ok && existing.BuiltIn {
		return Role{}, ErrBuiltInImmutable
	}
	if existing, ok := r.byID[role.ID]; ok && existing.Name != role.Name {
		delete(r.byName, existing.Name)
	}
	r.byID[role.ID] = role
	r.byName[role.Name] = role.ID
	return role, nil
}

// Unregister removes a custom role. Built-in roles cannot be removed.
func (r *Registry) Unregister(roleID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	role, ok := r.byID[roleID]
	if !ok {
		return ErrRoleNotFound
	}
	if role.BuiltIn {
		return ErrBuiltInImmutable
	}
	delete(r.byID, roleID)
	delete(r.byName, role.Name)
	return nil
}

// EffectivePermissions unions the permission sets of every active, unexpired
// assignment the identity provider reports for the principal. Assignments
// referencing unknown roles contribute nothing. The only error surfaced is
// an identity I/O failure.
func (r *Registry) EffectivePermissions(ctx context.Context, principalID string, now time.Time) (permission.Permission, error) {
	assignments, err := r.identity.ActiveAssignments(ctx, principalID, now)
	if err != nil {
		return permission.None, fmt.Errorf("role: fetch assignments: %w", err)
	}

	var effective permission.Permission
	for _, a := range assignments {
		if !a.Effective(now) {
			continue
		}
		role, err := r.Resolve(a.RoleID)
		if err != nil {
			continue
		}
		effective |= role.Permissions
	}
	return effective, nil
}

// PoliciesFor collects the policy rules attached to the principal's active
// roles, for the ABAC layer.
func (r *Registry) PoliciesFor(ctx context.Context, principalID string, now time.Time) ([]policy.Rule, error) {
	assignments, err := r.identity.ActiveAssignments(ctx, principalID, now)
	if err != nil {
		return nil, fmt.Errorf("role: fetch assignments: %w", err)
	}

	var rules []policy.Rule
	for _, a := range assignments {
		if !a.Effective(now) {
			continue
		}
		role, err := r.Resolve(a.RoleID)
		if err != nil {
			continue
		}
		rules = append(rules, role.Policies...)
	}
	return rules, nil
}
