package authz

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/dhawalhost/gateseal/internal/entityacl"
	"github.com/dhawalhost/gateseal/internal/permission"
	"github.com/dhawalhost/gateseal/internal/role"
	"github.com/dhawalhost/gateseal/pkg/middleware"
)

func newTestRouter(t *testing.T, h *harness, limiter *middleware.IPRateLimiter) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	handler := NewHTTPHandler(h.svc, limiter, zap.NewNop())
	handler.RegisterRoutes(r.Group("/v1"))
	return r
}

func TestAuthorizeEndpoint(t *testing.T) {
	h := newHarness(t, nil)
	h.identity.assign("alice", role.BuiltInViewerID)
	r := newTestRouter(t, h, nil)

	body := `{"principal_id":"alice","permission":"entity:read"}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/authorize", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), `"authorized":true`) {
		t.Fatalf("expected an authorized decision, got %s", w.Body.String())
	}
}

func TestAuthorizeEndpointValidation(t *testing.T) {
	h := newHarness(t, nil)
	r := newTestRouter(t, h, nil)

	cases := []struct {
		name string
		body string
	}{
		{"missing principal", `{"permission":"entity:read"}`},
		{"unknown permission", `{"principal_id":"alice","permission":"entity:fly"}`},
		{"bad principal type", `{"principal_id":"alice","principal_type":"robot","permission":"entity:read"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/v1/authorize", strings.NewReader(tc.body))
			req.Header.Set("Content-Type", "application/json")
			r.ServeHTTP(w, req)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
			}
		})
	}
}

func TestAuthorizeEndpointRateLimited(t *testing.T) {
	h := newHarness(t, nil)
	h.identity.assign("alice", role.BuiltInViewerID)
	r := newTestRouter(t, h, middleware.NewIPRateLimiter(rate.Limit(1), 1))

	body := `{"principal_id":"alice","permission":"entity:read"}`
	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/v1/authorize", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		r.ServeHTTP(w, req)
		if w.Code == http.StatusTooManyRequests {
			if !strings.Contains(w.Body.String(), `"rate_limited"`) {
				t.Fatalf("expected a rate_limited decision body, got %s", w.Body.String())
			}
			return
		}
	}
	t.Fatal("expected a 429 within five immediate requests")
}

func TestPrincipalPermissionsEndpoint(t *testing.T) {
	h := newHarness(t, nil)
	h.identity.assign("bob", role.BuiltInViewerID)
	r := newTestRouter(t, h, nil)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/principals/bob/permissions", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), `"entity:read"`) {
		t.Fatalf("expected the viewer permission list, got %s", w.Body.String())
	}
}

func TestCycleCheckEndpoint(t *testing.T) {
	h := newHarness(t, nil)
	parent := "folder-a"
	h.graph.Put(entityacl.Acl{ResourceID: "folder-a", InheritFromParent: true, ParentID: &parent})
	r := newTestRouter(t, h, nil)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/cycle-check?child_id=folder-a&parent_id=folder-a", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), `"circular":true`) {
		t.Fatalf("expected a circular verdict, got %s", w.Body.String())
	}

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/v1/cycle-check?child_id=folder-a", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without parent_id, got %d", w.Code)
	}
}

func TestInvalidateEndpoints(t *testing.T) {
	h := newHarness(t, nil)
	r := newTestRouter(t, h, nil)

	for _, path := range []string{
		"/v1/invalidate/principal/alice",
		"/v1/invalidate/resource/doc-1",
	} {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, path, nil)
		r.ServeHTTP(w, req)
		if w.Code != http.StatusNoContent {
			t.Fatalf("%s: expected 204, got %d: %s", path, w.Code, w.Body.String())
		}
	}
}

func TestFilterEndpoint(t *testing.T) {
	h := newHarness(t, nil)
	h.identity.assign("carol", role.BuiltInContributorID)
	h.graph.Put(entityacl.Acl{
		ResourceID: "doc-a",
		Entries: []entityacl.Entry{{
			ResourceID:    "doc-a",
			PrincipalID:   "carol",
			PrincipalType: entityacl.PrincipalTypeUser,
			Allowed:       permission.EntityRead,
			Active:        true,
		}},
	})
	h.graph.Put(entityacl.Acl{ResourceID: "doc-b"})
	r := newTestRouter(t, h, nil)

	body := `{"principal_id":"carol","permission":"entity:read","resource_ids":["doc-a","doc-b"]}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/filter", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	got := w.Body.String()
	if !strings.Contains(got, "doc-a") || strings.Contains(got, "doc-b") {
		t.Fatalf("expected only doc-a, got %s", got)
	}
}
