package httpapi

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"caseline.org/internal/auth"
	"caseline.org/internal/tenant"
)

func TestExtractBearerToken(t *testing.T) {
	cases := []struct {
		header  string
		want    string
		wantErr bool
	}{
		{header: "Bearer abc", want: "abc"},
		{header: "bearer abc", want: "abc"},
		{header: "  Bearer   abc  ", want: "abc"},
		{header: "", wantErr: true},
		{header: "Basic abc", wantErr: true},
		{header: "Bearer ", wantErr: true},
	}
	for _, tc := range cases {
		got, err := extractBearerToken(tc.header)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("header %q: expected error", tc.header)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Fatalf("header %q: got %q, %v", tc.header, got, err)
		}
	}
}

func TestWithAuthRejectsMissingAndInvalidTokens(t *testing.T) {
	t.Setenv("CASELINE_AUTH_SECRET", "test-secret")
	auth.ResetSecretForTests()

	a := &API{}
	handler := a.withAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/cases", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing token status: %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/cases", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("invalid token status: %d", rec.Code)
	}
}

func TestWithAuthAttachesPrincipalAndTenant(t *testing.T) {
	t.Setenv("CASELINE_AUTH_SECRET", "test-secret")
	auth.ResetSecretForTests()

	token, err := auth.GenerateToken("analyst-1", "acme", []string{"case_manager"}, time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	a := &API{}
	var (
		gotPrincipal auth.Principal
		gotTenant    string
	)
	handler := a.withAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPrincipal, _ = auth.PrincipalFromContext(r.Context())
		gotTenant, _ = tenant.FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/cases", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d", rec.Code)
	}
	if gotPrincipal.Subject != "analyst-1" || gotTenant != "acme" {
		t.Fatalf("context not populated: %+v / %q", gotPrincipal, gotTenant)
	}
}

func TestWithAuthSkipsPublicPaths(t *testing.T) {
	a := &API{}
	handler := a.withAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for _, path := range []string{"/healthz", "/readyz", "/metrics", "/v1/auth/token", "/openapi.yaml"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("public path %s status: %d", path, rec.Code)
		}
	}
}

func TestRequirePermission(t *testing.T) {
	a := &API{}

	if err := a.requirePermission(httptest.NewRequest(http.MethodGet, "/", nil).Context(), auth.PermCaseWrite); !errors.Is(err, auth.ErrUnauthorized) {
		t.Fatalf("no principal: %v", err)
	}

	viewer := auth.ContextWithPrincipal(httptest.NewRequest(http.MethodGet, "/", nil).Context(), auth.Principal{
		Subject: "v", Tenant: "acme", Roles: []string{"viewer"},
	})
	if err := a.requirePermission(viewer, auth.PermCaseWrite); !errors.Is(err, auth.ErrForbidden) {
		t.Fatalf("viewer case.write: %v", err)
	}
	if err := a.requirePermission(viewer, auth.PermDashboardView); err != nil {
		t.Fatalf("viewer dashboard.view: %v", err)
	}
}
