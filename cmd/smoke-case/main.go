// Command smoke-case runs an end-to-end check against a live caseline-api:
// it obtains a token, walks a case through its lifecycle, enables the
// serious-cause countdown and verifies triage conversion is idempotent.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"
)

type client struct {
	base  string
	token string
	http  *http.Client
}

func main() {
	base := os.Getenv("CASELINE_API_URL")
	if base == "" {
		base = "http://localhost:8080"
	}
	c := &client{base: base, http: &http.Client{Timeout: 10 * time.Second}}

	var tok struct {
		Token string `json:"token"`
	}
	c.call(http.MethodPost, "/v1/auth/token", map[string]any{
		"user":   "smoke",
		"tenant": "smoke-tenant",
		"roles":  []string{"admin"},
	}, http.StatusOK, &tok)
	c.token = tok.Token

	var created struct {
		CaseID       string `json:"case_id"`
		Status       string `json:"status"`
		Stage        string `json:"stage"`
		Jurisdiction string `json:"jurisdiction"`
	}
	c.call(http.MethodPost, "/v1/cases", map[string]any{
		"title":        fmt.Sprintf("smoke case %d", time.Now().UnixNano()),
		"jurisdiction": "belgium",
	}, http.StatusCreated, &created)
	if created.Status != "OPEN" || created.Stage != "INTAKE" {
		log.Fatalf("unexpected new case state: %+v", created)
	}

	c.call(http.MethodPost, "/v1/cases/"+created.CaseID+"/stage",
		map[string]any{"stage": "INVESTIGATION"}, http.StatusOK, nil)

	var withCause struct {
		SeriousCause *struct {
			DecisionDueAt  time.Time `json:"decision_due_at"`
			DismissalDueAt time.Time `json:"dismissal_due_at"`
		} `json:"serious_cause"`
	}
	facts := time.Now().UTC().Add(-time.Hour).Truncate(time.Second)
	c.call(http.MethodPost, "/v1/cases/"+created.CaseID+"/serious-cause",
		map[string]any{"facts_confirmed_at": facts}, http.StatusOK, &withCause)
	if withCause.SeriousCause == nil {
		log.Fatal("serious cause not recorded")
	}
	if !withCause.SeriousCause.DecisionDueAt.Equal(facts.AddDate(0, 0, 3)) {
		log.Fatalf("decision due %v, want facts+3d", withCause.SeriousCause.DecisionDueAt)
	}
	// Enabling twice must be rejected, not silently recomputed.
	c.call(http.MethodPost, "/v1/cases/"+created.CaseID+"/serious-cause",
		map[string]any{"facts_confirmed_at": facts}, http.StatusConflict, nil)

	var ticket struct {
		TicketID string `json:"ticket_id"`
	}
	c.call(http.MethodPost, "/v1/triage/tickets", map[string]any{
		"subject":      "smoke tip",
		"body":         "submitted by the smoke test",
		"channel":      "api",
		"jurisdiction": "france",
	}, http.StatusCreated, &ticket)

	var converted struct {
		Case struct {
			CaseID     string `json:"case_id"`
			Provenance string `json:"provenance"`
		} `json:"case"`
		AlreadyConverted bool `json:"already_converted"`
	}
	c.call(http.MethodPost, "/v1/triage/tickets/"+ticket.TicketID+"/convert",
		nil, http.StatusCreated, &converted)
	if converted.Case.Provenance != "triage" {
		log.Fatalf("converted case provenance %q", converted.Case.Provenance)
	}
	firstCaseID := converted.Case.CaseID

	c.call(http.MethodPost, "/v1/triage/tickets/"+ticket.TicketID+"/convert",
		nil, http.StatusOK, &converted)
	if !converted.AlreadyConverted || converted.Case.CaseID != firstCaseID {
		log.Fatalf("conversion replay mismatch: %+v", converted)
	}

	var dash struct {
		TotalCases   int `json:"total_cases"`
		SeriousCause []struct {
			CaseID string `json:"case_id"`
		} `json:"serious_cause"`
	}
	c.call(http.MethodGet, "/v1/dashboard", nil, http.StatusOK, &dash)
	if dash.TotalCases < 2 {
		log.Fatalf("dashboard total_cases %d, want >= 2", dash.TotalCases)
	}

	fmt.Printf("✅ caseline smoke test passed: case=%s ticket=%s\n", created.CaseID, ticket.TicketID)
}

func (c *client) call(method, path string, body any, wantStatus int, out any) {
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			log.Fatalf("%s %s: marshal: %v", method, path, err)
		}
		rdr = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, c.base+path, rdr)
	if err != nil {
		log.Fatalf("%s %s: %v", method, path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		log.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != wantStatus {
		log.Fatalf("%s %s: status %d (want %d): %s", method, path, resp.StatusCode, wantStatus, data)
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			log.Fatalf("%s %s: decode: %v", method, path, err)
		}
	}
}
