package auth

import (
	"context"
	"slices"
	"strings"
	"testing"
	"time"
)

func setupSecret(t *testing.T) {
	t.Helper()
	t.Setenv("CASELINE_AUTH_SECRET", "test-secret")
	ResetSecretForTests()
	t.Cleanup(ResetSecretForTests)
}

func TestGenerateAndValidate(t *testing.T) {
	setupSecret(t)

	token, err := GenerateToken("analyst-7", "acme", []string{"Case_Manager", "viewer", "case_manager"}, time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	claims, err := ParseAndValidate(token)
	if err != nil {
		t.Fatalf("ParseAndValidate: %v", err)
	}
	if claims.Subject != "analyst-7" {
		t.Fatalf("unexpected subject: %s", claims.Subject)
	}
	if claims.Tenant != "acme" {
		t.Fatalf("unexpected tenant: %s", claims.Tenant)
	}
	if !slices.Contains(claims.Roles, "case_manager") || !slices.Contains(claims.Roles, "viewer") {
		t.Fatalf("roles were not preserved: %v", claims.Roles)
	}
	if len(claims.Roles) != 2 {
		t.Fatalf("expected deduplicated roles, got %v", claims.Roles)
	}
}

func TestGenerateRequiresTenant(t *testing.T) {
	setupSecret(t)
	if _, err := GenerateToken("analyst-7", " ", nil, time.Hour); err == nil {
		t.Fatal("expected error for missing tenant")
	}
}

func TestTamperedTokenRejected(t *testing.T) {
	setupSecret(t)

	token, err := GenerateToken("analyst-7", "acme", []string{"admin"}, time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		t.Fatalf("unexpected token shape")
	}
	forged := parts[0] + "." + parts[1] + ".AAAA" + parts[2][4:]
	if _, err := ParseAndValidate(forged); err == nil {
		t.Fatal("expected forged token to fail validation")
	}
}

func TestPrincipalPermissions(t *testing.T) {
	p := Principal{Subject: "u1", Tenant: "acme", Roles: []string{"viewer"}}
	if p.HasPermission(PermCaseWrite) {
		t.Fatal("viewer must not write cases")
	}
	if !p.HasPermission(PermDashboardView) {
		t.Fatal("viewer should view dashboard")
	}
	p.Roles = append(p.Roles, "case_manager")
	if !p.HasPermission(PermSeriousCause) {
		t.Fatal("case_manager should manage serious cause")
	}
	if p.HasPermission(PermTriageConvert) {
		t.Fatal("case_manager must not convert triage tickets")
	}
}

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	ctx = ContextWithPrincipal(ctx, Principal{Subject: "u-9", Tenant: "acme", Roles: []string{"admin"}})
	p, ok := PrincipalFromContext(ctx)
	if !ok || p.Subject != "u-9" || p.Tenant != "acme" {
		t.Fatalf("unexpected principal: %+v ok=%v", p, ok)
	}
	if got := ActorFromContext(ctx); got != "u-9" {
		t.Fatalf("unexpected actor: %s", got)
	}
	if _, ok := PrincipalFromContext(context.Background()); ok {
		t.Fatal("expected no principal on empty context")
	}
}
