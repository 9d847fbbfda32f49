package dashboard

import (
	"context"
	"errors"
	"testing"
	"time"

	"caseline.org/internal/casefile"
	"caseline.org/internal/clock"
	"caseline.org/internal/notify"
	"caseline.org/internal/tenant"
)

func newAggregator(t *testing.T) (*Aggregator, *casefile.InMemory, *notify.Engine, *clock.Manual, context.Context) {
	t.Helper()
	clk := clock.NewManual(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	cases := casefile.NewInMemory(clk)
	engine := notify.NewEngine(notify.Config{
		AlertLead:       24 * time.Hour,
		VolumeWindow:    time.Hour,
		VolumeThreshold: 100,
	}, cases, notify.NewInMemoryStore(), clk)
	agg := New(cases, engine, clk)
	return agg, cases, engine, clk, tenant.WithTenant(context.Background(), "acme")
}

func TestSummaryCountsAndAverages(t *testing.T) {
	agg, cases, _, clk, ctx := newAggregator(t)

	a, err := cases.CreateCase(ctx, casefile.CreateCaseInput{Title: "a"})
	if err != nil {
		t.Fatal(err)
	}
	b, err := cases.CreateCase(ctx, casefile.CreateCaseInput{Title: "b"})
	if err != nil {
		t.Fatal(err)
	}
	c, err := cases.CreateCase(ctx, casefile.CreateCaseInput{Title: "c"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := cases.SetStatus(ctx, c.CaseID, casefile.StatusClosed); err != nil {
		t.Fatal(err)
	}
	if _, err := cases.SetStage(ctx, b.CaseID, casefile.StageInvestigation, false); err != nil {
		t.Fatal(err)
	}
	_ = a

	// a and b stay open for 3 and a half days; only whole days count.
	clk.Advance(3*24*time.Hour + 12*time.Hour)

	sum, err := agg.Summary(ctx)
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if sum.TotalCases != 3 {
		t.Fatalf("total %d", sum.TotalCases)
	}
	if sum.StatusCounts["OPEN"] != 2 || sum.StatusCounts["CLOSED"] != 1 {
		t.Fatalf("status counts %+v", sum.StatusCounts)
	}
	if sum.StageCounts["INTAKE"] != 2 || sum.StageCounts["INVESTIGATION"] != 1 {
		t.Fatalf("stage counts %+v", sum.StageCounts)
	}
	if sum.AvgDaysOpen != 3 {
		t.Fatalf("avg days open %v, want 3", sum.AvgDaysOpen)
	}
}

func TestSummaryGateCompletion(t *testing.T) {
	agg, cases, _, _, ctx := newAggregator(t)

	a, err := cases.CreateCase(ctx, casefile.CreateCaseInput{Title: "a"})
	if err != nil {
		t.Fatal(err)
	}
	b, err := cases.CreateCase(ctx, casefile.CreateCaseInput{Title: "b"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := cases.ReachGate(ctx, a.CaseID, casefile.GateLegitimacy); err != nil {
		t.Fatal(err)
	}
	if _, err := cases.CompleteGate(ctx, a.CaseID, casefile.GateLegitimacy); err != nil {
		t.Fatal(err)
	}
	if _, err := cases.ReachGate(ctx, b.CaseID, casefile.GateLegitimacy); err != nil {
		t.Fatal(err)
	}

	sum, err := agg.Summary(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got := sum.GateCompletion["legitimacy"]; got != 50 {
		t.Fatalf("legitimacy completion %v, want 50", got)
	}
	if got := sum.GateCompletion["credentialing"]; got != 0 {
		t.Fatalf("untouched gate completion %v, want 0", got)
	}
}

func TestSummarySeriousCauseCountdowns(t *testing.T) {
	agg, cases, _, clk, ctx := newAggregator(t)

	c, err := cases.CreateCase(ctx, casefile.CreateCaseInput{
		Title:        "serious",
		Jurisdiction: casefile.JurisdictionBelgium,
		VIP:          true,
	})
	if err != nil {
		t.Fatal(err)
	}
	closed, err := cases.CreateCase(ctx, casefile.CreateCaseInput{
		Title:        "done",
		Jurisdiction: casefile.JurisdictionBelgium,
	})
	if err != nil {
		t.Fatal(err)
	}
	facts := clk.Now()
	if _, err := cases.EnableSeriousCause(ctx, c.CaseID, facts); err != nil {
		t.Fatal(err)
	}
	if _, err := cases.EnableSeriousCause(ctx, closed.CaseID, facts); err != nil {
		t.Fatal(err)
	}
	if _, err := cases.SetStatus(ctx, closed.CaseID, casefile.StatusClosed); err != nil {
		t.Fatal(err)
	}

	clk.Advance(24 * time.Hour)
	sum, err := agg.Summary(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(sum.SeriousCause) != 1 {
		t.Fatalf("expected one active entry, got %d", len(sum.SeriousCause))
	}
	entry := sum.SeriousCause[0]
	if entry.CaseID != c.CaseID || !entry.VIP {
		t.Fatalf("unexpected entry %+v", entry)
	}
	if entry.Decision.Remaining != "2d" || entry.Decision.Overdue {
		t.Fatalf("decision countdown %+v", entry.Decision)
	}
	if entry.Dismissal.Remaining != "5d" {
		t.Fatalf("dismissal countdown %+v", entry.Dismissal)
	}
}

func TestSummaryOpenNotifications(t *testing.T) {
	agg, cases, engine, clk, ctx := newAggregator(t)

	c, err := cases.CreateCase(ctx, casefile.CreateCaseInput{
		Title:        "alerting",
		Jurisdiction: casefile.JurisdictionBelgium,
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := cases.EnableSeriousCause(ctx, c.CaseID, clk.Now()); err != nil {
		t.Fatal(err)
	}
	clk.Advance(4 * 24 * time.Hour)
	if _, err := engine.Sweep(context.Background()); err != nil {
		t.Fatal(err)
	}

	sum, err := agg.Summary(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if sum.OpenNotifications == 0 {
		t.Fatalf("expected open notifications")
	}

	list, err := engine.List(ctx, notify.ListFilter{Unacked: true})
	if err != nil {
		t.Fatal(err)
	}
	for _, n := range list {
		if _, err := engine.Acknowledge(ctx, n.ID, "lead"); err != nil {
			t.Fatal(err)
		}
	}
	sum, err = agg.Summary(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if sum.OpenNotifications != 0 {
		t.Fatalf("acknowledged alerts still counted: %d", sum.OpenNotifications)
	}
}

func TestSummaryRequiresTenant(t *testing.T) {
	agg, _, _, _, _ := newAggregator(t)
	if _, err := agg.Summary(context.Background()); !errors.Is(err, tenant.ErrNoTenant) {
		t.Fatalf("expected ErrNoTenant, got %v", err)
	}
}
