package authz

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/dhawalhost/gateseal/internal/cache"
	"github.com/dhawalhost/gateseal/internal/entityacl"
	"github.com/dhawalhost/gateseal/internal/inheritance"
	"github.com/dhawalhost/gateseal/internal/license"
	"github.com/dhawalhost/gateseal/internal/permission"
	"github.com/dhawalhost/gateseal/internal/policy"
	"github.com/dhawalhost/gateseal/internal/role"
)

var testNow = time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)

type fakeIdentity struct {
	assignments map[string][]role.Assignment
	err         error
}

func (f *fakeIdentity) ActiveAssignments(_ context.Context, principalID string, _ time.Time) ([]role.Assignment, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.assignments[principalID], nil
}

func (f *fakeIdentity) HasRole(_ context.Context, principalID, roleID string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	for _, a := range f.assignments[principalID] {
		if a.RoleID == roleID && a.Effective(testNow) {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeIdentity) assign(principalID, roleID string) {
	f.assignments[principalID] = append(f.assignments[principalID], role.Assignment{
		PrincipalID: principalID,
		RoleID:      roleID,
		Active:      true,
	})
}

type deniedLicense struct{}

func (deniedLicense) IsTierSufficient(context.Context, string) (bool, error) {
	return false, nil
}

type harness struct {
	identity *fakeIdentity
	graph    *entityacl.MemoryGraph
	registry *role.Registry
	svc      *Service
}

func newHarness(t *testing.T, lic license.Checker) *harness {
	t.Helper()
	identity := &fakeIdentity{assignments: map[string][]role.Assignment{}}
	graph := entityacl.NewMemoryGraph()
	registry := role.NewRegistry(identity)
	logger := zap.NewNop()
	eval := entityacl.NewEvaluator(graph, identity, logger)
	c := cache.NewMemory(0)
	t.Cleanup(c.Close)
	walker := inheritance.NewWalker(graph, eval, c, time.Hour, logger)
	engine := policy.NewEngine(policy.NewBexprEvaluator(), logger, nil)
	if lic == nil {
		lic = license.NewStatic("enterprise")
	}
	svc := NewService(registry, eval, walker, engine, lic, c, nil, nil, logger, Options{
		Now: func() time.Time { return testNow },
	})
	return &harness{identity: identity, graph: graph, registry: registry, svc: svc}
}

func strptr(s string) *string { return &s }

func TestAuthorizeAdminBypass(t *testing.T) {
	h := newHarness(t, nil)
	h.identity.assign("alice", role.BuiltInAdministratorID)

	res, err := h.svc.Authorize(context.Background(), Request{
		PrincipalID: "alice",
		Permission:  permission.SystemConfig,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Authorized {
		t.Fatalf("administrator should be authorized, got reason %q", res.Reason)
	}
	if len(res.AppliedGrants) != 1 || res.AppliedGrants[0] != "admin" {
		t.Fatalf("expected admin grant, got %v", res.AppliedGrants)
	}
}

func TestAuthorizeInsufficientRole(t *testing.T) {
	h := newHarness(t, nil)
	h.identity.assign("bob", role.BuiltInViewerID)

	res, err := h.svc.Authorize(context.Background(), Request{
		PrincipalID: "bob",
		Permission:  permission.EntityWrite,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Authorized {
		t.Fatal("viewer must not hold entity:write")
	}
	if res.Reason != ReasonInsufficientRole {
		t.Fatalf("expected insufficient_role, got %q", res.Reason)
	}
}

func TestAuthorizeEntityRestricted(t *testing.T) {
	h := newHarness(t, nil)
	h.identity.assign("carol", role.BuiltInContributorID)
	h.graph.Put(entityacl.Acl{
		ResourceID: "doc-1",
		Entries: []entityacl.Entry{{
			ResourceID:    "doc-1",
			PrincipalID:   "carol",
			PrincipalType: entityacl.PrincipalTypeUser,
			Allowed:       permission.EntityRead,
			Denied:        permission.EntityWrite,
			Active:        true,
		}},
	})

	res, err := h.svc.Authorize(context.Background(), Request{
		PrincipalID: "carol",
		Permission:  permission.EntityWrite,
		ResourceID:  strptr("doc-1"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Authorized {
		t.Fatal("acl deny must override the role grant")
	}
	if res.Reason != ReasonEntityRestricted {
		t.Fatalf("expected entity_restricted, got %q", res.Reason)
	}
}

func TestAuthorizeUnregisteredResourceDeniesWithoutError(t *testing.T) {
	h := newHarness(t, nil)
	h.identity.assign("carl", role.BuiltInContributorID)

	// No ACL was ever written for this resource. The request still gets a
	// decision: nothing grants the bit at the entity layer, so it is denied
	// rather than failed.
	res, err := h.svc.Authorize(context.Background(), Request{
		PrincipalID: "carl",
		Permission:  permission.EntityWrite,
		ResourceID:  strptr("doc-unregistered"),
	})
	if err != nil {
		t.Fatalf("unregistered resource must not fail the request: %v", err)
	}
	if res.Authorized {
		t.Fatal("unregistered resource must deny")
	}
	if res.Reason != ReasonEntityRestricted {
		t.Fatalf("expected entity_restricted, got %q", res.Reason)
	}
}

func TestAuthorizeOwnerOverridesEntryDeny(t *testing.T) {
	h := newHarness(t, nil)
	h.identity.assign("dave", role.BuiltInContributorID)
	h.graph.Put(entityacl.Acl{
		ResourceID: "doc-2",
		OwnerID:    strptr("dave"),
		Entries: []entityacl.Entry{{
			ResourceID:    "doc-2",
			PrincipalID:   "dave",
			PrincipalType: entityacl.PrincipalTypeUser,
			Denied:        permission.EntityWrite,
			Active:        true,
		}},
	})

	res, err := h.svc.Authorize(context.Background(), Request{
		PrincipalID: "dave",
		Permission:  permission.EntityWrite,
		ResourceID:  strptr("doc-2"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Authorized {
		t.Fatalf("owner must keep access regardless of entries, got reason %q", res.Reason)
	}
}

func TestAuthorizePolicyViolation(t *testing.T) {
	h := newHarness(t, nil)
	h.identity.assign("erin", role.BuiltInContributorID)

	custom, err := h.registry.Register(role.Role{
		Name:        "Export Restricted",
		Permissions: permission.None,
		Policies: []policy.Rule{{
			ID:        "no-export-offsite",
			Condition: `location == "offsite"`,
			Effect:    policy.EffectDeny,
			Denies:    permission.Export,
			Priority:  10,
			Enabled:   true,
		}},
	})
	if err != nil {
		t.Fatalf("register role: %v", err)
	}
	h.identity.assign("erin", custom.ID)

	res, err := h.svc.Authorize(context.Background(), Request{
		PrincipalID: "erin",
		Permission:  permission.Export,
		Attributes:  map[string]interface{}{"location": "offsite"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Authorized {
		t.Fatal("deny rule must override the contributor export grant")
	}
	if res.Reason != ReasonPolicyViolation {
		t.Fatalf("expected policy_violation, got %q", res.Reason)
	}

	// The same request from the office passes.
	res, err = h.svc.Authorize(context.Background(), Request{
		PrincipalID: "erin",
		Permission:  permission.Export,
		Attributes:  map[string]interface{}{"location": "office"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Authorized {
		t.Fatalf("export from the office should pass, got %q", res.Reason)
	}
}

func TestAuthorizeResourceTypeCondition(t *testing.T) {
	h := newHarness(t, nil)
	h.identity.assign("flint", role.BuiltInContributorID)
	h.graph.Put(entityacl.Acl{
		ResourceID: "doc-9",
		Entries: []entityacl.Entry{{
			ResourceID:    "doc-9",
			PrincipalID:   "flint",
			PrincipalType: entityacl.PrincipalTypeUser,
			Allowed:       permission.Export,
			Active:        true,
		}},
	})

	custom, err := h.registry.Register(role.Role{
		Name:        "Document Export Hold",
		Permissions: permission.None,
		Policies: []policy.Rule{{
			ID:        "no-document-export",
			Condition: `resource.type == "document"`,
			Effect:    policy.EffectDeny,
			Denies:    permission.Export,
			Priority:  10,
			Enabled:   true,
		}},
	})
	if err != nil {
		t.Fatalf("register role: %v", err)
	}
	h.identity.assign("flint", custom.ID)

	res, err := h.svc.Authorize(context.Background(), Request{
		PrincipalID:  "flint",
		Permission:   permission.Export,
		ResourceID:   strptr("doc-9"),
		ResourceType: "document",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Authorized {
		t.Fatal("deny rule on resource.type must hold")
	}
	if res.Reason != ReasonPolicyViolation {
		t.Fatalf("expected policy_violation, got %q", res.Reason)
	}

	// The same resource declared as another type is outside the rule.
	res, err = h.svc.Authorize(context.Background(), Request{
		PrincipalID:  "flint",
		Permission:   permission.Export,
		ResourceID:   strptr("doc-9"),
		ResourceType: "dataset",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Authorized {
		t.Fatalf("dataset export should pass, got %q", res.Reason)
	}
}

func TestAuthorizeLicenseRestriction(t *testing.T) {
	h := newHarness(t, deniedLicense{})
	h.identity.assign("frank", role.BuiltInContributorID)

	res, err := h.svc.Authorize(context.Background(), Request{
		PrincipalID: "frank",
		Permission:  permission.EntityRead,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Authorized {
		t.Fatal("insufficient license tier must deny")
	}
	if res.Reason != ReasonLicenseRestriction {
		t.Fatalf("expected license_restriction, got %q", res.Reason)
	}
}

func TestAuthorizeIdentityFailureDeniesConservatively(t *testing.T) {
	h := newHarness(t, nil)
	h.identity.err = errors.New("directory unreachable")

	res, err := h.svc.Authorize(context.Background(), Request{
		PrincipalID: "ghost",
		Permission:  permission.EntityRead,
	})
	if err == nil {
		t.Fatal("expected the collaborator failure to surface as an error")
	}
	if res.Authorized {
		t.Fatal("collaborator failure must deny")
	}
	if res.Reason != ReasonNoPermission {
		t.Fatalf("expected no_permission, got %q", res.Reason)
	}
}

func TestAuthorizeCacheAndInvalidation(t *testing.T) {
	h := newHarness(t, nil)
	h.identity.assign("gina", role.BuiltInContributorID)
	h.graph.Put(entityacl.Acl{
		ResourceID: "doc-3",
		Entries: []entityacl.Entry{{
			ResourceID:    "doc-3",
			PrincipalID:   "gina",
			PrincipalType: entityacl.PrincipalTypeUser,
			Allowed:       permission.EntityRead | permission.EntityWrite,
			Active:        true,
		}},
	})

	req := Request{
		PrincipalID: "gina",
		Permission:  permission.EntityWrite,
		ResourceID:  strptr("doc-3"),
	}
	ctx := context.Background()

	first, err := h.svc.Authorize(ctx, req)
	if err != nil || !first.Authorized {
		t.Fatalf("first call: authorized=%v err=%v", first.Authorized, err)
	}
	if first.FromCache {
		t.Fatal("first call must not come from cache")
	}

	second, err := h.svc.Authorize(ctx, req)
	if err != nil {
		t.Fatalf("second call: %v", err)
	}
	if !second.FromCache {
		t.Fatal("second call should be served from cache")
	}

	// The ACL flips to a deny; the stale grant persists until invalidation.
	h.graph.Put(entityacl.Acl{
		ResourceID: "doc-3",
		Entries: []entityacl.Entry{{
			ResourceID:    "doc-3",
			PrincipalID:   "gina",
			PrincipalType: entityacl.PrincipalTypeUser,
			Denied:        permission.EntityWrite,
			Active:        true,
		}},
	})
	stale, err := h.svc.Authorize(ctx, req)
	if err != nil {
		t.Fatalf("stale call: %v", err)
	}
	if !stale.Authorized || !stale.FromCache {
		t.Fatal("pre-invalidation call should still serve the cached grant")
	}

	if err := h.svc.InvalidateResource(ctx, "doc-3"); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	fresh, err := h.svc.Authorize(ctx, req)
	if err != nil {
		t.Fatalf("fresh call: %v", err)
	}
	if fresh.FromCache {
		t.Fatal("post-invalidation call must re-evaluate")
	}
	if fresh.Authorized {
		t.Fatal("re-evaluation must see the new deny")
	}
}

func TestInvalidatePrincipal(t *testing.T) {
	h := newHarness(t, nil)
	h.identity.assign("hank", role.BuiltInViewerID)

	ctx := context.Background()
	req := Request{PrincipalID: "hank", Permission: permission.EntityRead}

	if _, err := h.svc.Authorize(ctx, req); err != nil {
		t.Fatalf("seed call: %v", err)
	}
	cached, err := h.svc.Authorize(ctx, req)
	if err != nil || !cached.FromCache {
		t.Fatalf("expected cache hit, fromCache=%v err=%v", cached.FromCache, err)
	}

	if err := h.svc.InvalidatePrincipal(ctx, "hank"); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	fresh, err := h.svc.Authorize(ctx, req)
	if err != nil {
		t.Fatalf("post-invalidation call: %v", err)
	}
	if fresh.FromCache {
		t.Fatal("post-invalidation call must re-evaluate")
	}
}

func TestAuthorizeBypassCache(t *testing.T) {
	h := newHarness(t, nil)
	h.identity.assign("iris", role.BuiltInViewerID)

	ctx := context.Background()
	if _, err := h.svc.Authorize(ctx, Request{PrincipalID: "iris", Permission: permission.Search}); err != nil {
		t.Fatalf("seed call: %v", err)
	}
	res, err := h.svc.Authorize(ctx, Request{
		PrincipalID: "iris",
		Permission:  permission.Search,
		BypassCache: true,
	})
	if err != nil {
		t.Fatalf("bypass call: %v", err)
	}
	if res.FromCache {
		t.Fatal("bypass_cache must skip the cached decision")
	}
}

func TestFilterAccessible(t *testing.T) {
	h := newHarness(t, nil)
	h.identity.assign("judy", role.BuiltInContributorID)
	h.graph.Put(entityacl.Acl{
		ResourceID: "open",
		Entries: []entityacl.Entry{{
			ResourceID:    "open",
			PrincipalID:   "judy",
			PrincipalType: entityacl.PrincipalTypeUser,
			Allowed:       permission.EntityRead,
			Active:        true,
		}},
	})
	h.graph.Put(entityacl.Acl{ResourceID: "closed"})

	got, err := h.svc.FilterAccessible(context.Background(), "judy", entityacl.PrincipalTypeUser,
		[]string{"open", "closed", "missing"}, permission.EntityRead)
	if err != nil {
		t.Fatalf("filter: %v", err)
	}
	if len(got) != 1 || got[0] != "open" {
		t.Fatalf("expected [open], got %v", got)
	}
}

func TestGetEffectivePermissions(t *testing.T) {
	h := newHarness(t, nil)
	h.identity.assign("kate", role.BuiltInViewerID)

	perms, err := h.svc.GetEffectivePermissions(context.Background(), "kate")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if perms != permission.ReadOnly {
		t.Fatalf("expected the viewer preset, got %v", perms.Names())
	}
}
