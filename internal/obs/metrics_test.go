package obs

import "testing"

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                              "/",
		"/metrics":                      "/metrics",
		"/v1/cases":                     "/v1/cases",
		"/v1/cases/CASE-01ABC":          "/v1/cases/:id",
		"/v1/cases/CASE-01ABC/status":   "/v1/cases/:id/status",
		"/v1/notifications/N-1/ack":     "/v1/notifications/:id/ack",
		"/v1/triage/tickets":            "/v1/triage/tickets",
		"/v1/triage/tickets/TKT-9":      "/v1/triage/tickets/:id",
		"/v1/dashboard?window=30":       "/v1/dashboard",
		"/v1/triage/tickets/T-1/status": "/v1/triage/tickets/:id/status",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}
