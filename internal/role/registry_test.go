package role

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dhawalhost/gateseal/internal/permission"
	"github.com/dhawalhost/gateseal/internal/policy"
)

var (
	ctx = context.Background()
	now = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
)

// fakeIdentity serves assignments from a map keyed by principal id.
type fakeIdentity struct {
	assignments map[string][]Assignment
	err         error
}

func (f *fakeIdentity) ActiveAssignments(_ context.Context, principalID string, now time.Time) ([]Assignment, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []Assignment
	for _, a := range f.assignments[principalID] {
		if a.Effective(now) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeIdentity) HasRole(_ context.Context, principalID, roleID string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	for _, a := range f.assignments[principalID] {
		if a.RoleID == roleID && a.Effective(time.Now()) {
			return true, nil
		}
	}
	return false, nil
}

func TestBuiltInRolesAreImmutable(t *testing.T) {
	r := NewRegistry(&fakeIdentity{})

	if _, err := r.Register(Role{ID: BuiltInViewerID, Name: "Hijacked"}); err == nil {
		t.Fatalf("expected built-in overwrite to fail")
	}
	if _, err := r.Register(Role{Name: "Viewer"}); !errors.Is(err, ErrNameTaken) {
		t.Fatalf("expected ErrNameTaken on built-in name, got %v", err)
	}
	if err := r.Unregister(BuiltInAdministratorID); !errors.Is(err, ErrBuiltInImmutable) {
		t.Fatalf("expected ErrBuiltInImmutable, got %v", err)
	}
}

func TestNameUniquenessIsCaseSensitive(t *testing.T) {
	r := NewRegistry(&fakeIdentity{})

	// Lowercase variant of a built-in name is a distinct role.
	if _, err := r.Register(Role{Name: "viewer", Permissions: permission.ReadOnly}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := r.Register(Role{Name: "viewer"}); !errors.Is(err, ErrNameTaken) {
		t.Fatalf("expected duplicate name rejection, got %v", err)
	}
}

func TestResolveNotFoundIsSentinel(t *testing.T) {
	r := NewRegistry(&fakeIdentity{})
	if _, err := r.Resolve("nope"); !errors.Is(err, ErrRoleNotFound) {
		t.Fatalf("expected ErrRoleNotFound, got %v", err)
	}
	if _, err := r.ResolveByName("nope"); !errors.Is(err, ErrRoleNotFound) {
		t.Fatalf("expected ErrRoleNotFound, got %v", err)
	}
}

func TestEffectivePermissionsUnionsActiveAssignments(t *testing.T) {
	expired := now.Add(-time.Hour)
	identity := &fakeIdentity{assignments: map[string][]Assignment{
		"u1": {
			{PrincipalID: "u1", RoleID: BuiltInViewerID, Active: true},
			{PrincipalID: "u1", RoleID: BuiltInContributorID, Active: true},
			{PrincipalID: "u1", RoleID: BuiltInAdministratorID, Active: true, ExpiresAt: &expired},
			{PrincipalID: "u1", RoleID: BuiltInModeratorID, Active: false},
			{PrincipalID: "u1", RoleID: "ghost-role", Active: true},
		},
	}}
	r := NewRegistry(identity)

	got, err := r.EffectivePermissions(ctx, "u1", now)
	if err != nil {
		t.Fatalf("effective permissions: %v", err)
	}
	want := permission.ReadOnly | permission.Contributor
	if got != want {
		t.Fatalf("effective = %v, want %v", got, want)
	}
	if permission.Has(got, permission.Admin) {
		t.Fatalf("expired admin assignment leaked into effective set")
	}
}

func TestEffectivePermissionsPropagatesIdentityFailure(t *testing.T) {
	r := NewRegistry(&fakeIdentity{err: errors.New("identity down")})
	if _, err := r.EffectivePermissions(ctx, "u1", now); err == nil {
		t.Fatalf("expected identity failure to propagate")
	}
}

func TestPoliciesForCollectsRoleRules(t *testing.T) {
	identity := &fakeIdentity{assignments: map[string][]Assignment{
		"u1": {{PrincipalID: "u1", RoleID: "custom-1", Active: true}},
	}}
	r := NewRegistry(identity)

	if _, err := r.Register(Role{
		ID:          "custom-1",
		Name:        "Analyst",
		Permissions: permission.ReadOnly,
		Policies: []policy.Rule{
			{ID: "office-hours", Condition: "request.hour >= 9", Effect: policy.EffectAllow, Grants: permission.Export, Priority: 50, Enabled: true},
		},
	}); err != nil {
		t.Fatalf("register: %v", err)
	}

	rules, err := r.PoliciesFor(ctx, "u1", now)
	if err != nil {
		t.Fatalf("policies for: %v", err)
	}
	if len(rules) != 1 || rules[0].ID != "office-hours" {
		t.Fatalf("expected the role's rule, got %+v", rules)
	}
}
