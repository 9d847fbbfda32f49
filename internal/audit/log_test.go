package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"caseline.org/internal/auth"
	"caseline.org/internal/obs"
	"caseline.org/internal/tenant"
)

func TestLogEvent(t *testing.T) {
	logger := obs.Logger()
	original := logger.Writer()
	logger.SetFlags(0)
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	defer logger.SetOutput(original)

	ctx := context.Background()
	ctx = WithRequestID(ctx, "req-123")
	ctx = tenant.WithTenant(ctx, "acme")
	ctx = auth.ContextWithPrincipal(ctx, auth.Principal{Subject: "analyst-42", Tenant: "acme", Roles: []string{"admin"}})

	if err := LogEvent(ctx, "case.status.set", map[string]any{"case_id": "CASE-1"}); err != nil {
		t.Fatalf("LogEvent failed: %v", err)
	}

	line := buf.String()
	if line == "" {
		t.Fatal("expected log output")
	}

	var entry map[string]any
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("log not valid JSON: %v", err)
	}
	if entry["type"] != "audit" {
		t.Fatalf("unexpected type: %v", entry["type"])
	}
	if entry["event"] != "case.status.set" {
		t.Fatalf("unexpected event: %v", entry["event"])
	}
	if entry["request_id"] != "req-123" {
		t.Fatalf("unexpected request id: %v", entry["request_id"])
	}
	if entry["tenant"] != "acme" {
		t.Fatalf("unexpected tenant: %v", entry["tenant"])
	}
	if entry["actor"] != "analyst-42" {
		t.Fatalf("unexpected actor: %v", entry["actor"])
	}
	fields, ok := entry["fields"].(map[string]any)
	if !ok || fields["case_id"] != "CASE-1" {
		t.Fatalf("fields missing or incorrect: %v", entry["fields"])
	}
}

func TestLogEventRequiresName(t *testing.T) {
	if err := LogEvent(context.Background(), "  ", nil); err == nil {
		t.Fatal("expected error for empty event name")
	}
}
