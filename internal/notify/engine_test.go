package notify

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"caseline.org/internal/casefile"
	"caseline.org/internal/clock"
	"caseline.org/internal/tenant"
)

type recordingSink struct {
	mu     sync.Mutex
	alerts []Notification
}

func (r *recordingSink) Alert(n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, n)
}

func (r *recordingSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.alerts)
}

type fixture struct {
	cases  *casefile.InMemory
	engine *Engine
	clk    *clock.Manual
	sink   *recordingSink
	ctx    context.Context
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	clk := clock.NewManual(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	cases := casefile.NewInMemory(clk)
	sink := &recordingSink{}
	engine := NewEngine(cfg, cases, NewInMemoryStore(), clk, sink)
	return &fixture{
		cases:  cases,
		engine: engine,
		clk:    clk,
		sink:   sink,
		ctx:    tenant.WithTenant(context.Background(), "acme"),
	}
}

func (f *fixture) mustSweep(t *testing.T, want int) {
	t.Helper()
	raised, err := f.engine.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if raised != want {
		t.Fatalf("sweep raised %d notifications, want %d", raised, want)
	}
}

func TestSweepRaisesEachThresholdOnce(t *testing.T) {
	f := newFixture(t, Config{AlertLead: 24 * time.Hour, VolumeWindow: time.Hour, VolumeThreshold: 100})

	c, err := f.cases.CreateCase(f.ctx, casefile.CreateCaseInput{
		Title:        "misconduct",
		Jurisdiction: casefile.JurisdictionBelgium,
	})
	if err != nil {
		t.Fatal(err)
	}
	facts := f.clk.Now()
	if _, err := f.cases.EnableSeriousCause(f.ctx, c.CaseID, facts); err != nil {
		t.Fatal(err)
	}
	decisionDue := facts.AddDate(0, 0, 3)
	dismissalDue := facts.AddDate(0, 0, 6)

	// Well before the lead window: quiet.
	f.mustSweep(t, 0)

	// One hour before the decision deadline: approaching, exactly once.
	f.clk.Set(decisionDue.Add(-time.Hour))
	f.mustSweep(t, 1)
	f.mustSweep(t, 0)

	// One hour past the decision deadline: overdue, exactly once.
	f.clk.Set(decisionDue.Add(time.Hour))
	f.mustSweep(t, 1)
	f.mustSweep(t, 0)

	// Approaching the dismissal deadline fires independently.
	f.clk.Set(dismissalDue.Add(-time.Hour))
	f.mustSweep(t, 1)
	f.clk.Set(dismissalDue.Add(time.Hour))
	f.mustSweep(t, 1)
	f.mustSweep(t, 0)

	got, err := f.engine.List(f.ctx, ListFilter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("expected 4 notifications, got %d", len(got))
	}
	if f.sink.count() != 4 {
		t.Fatalf("sink received %d alerts, want 4", f.sink.count())
	}
	for _, n := range got {
		if n.Kind == KindDeadlineOverdue && n.Severity != SeverityCritical {
			t.Fatalf("overdue must be critical, got %s", n.Severity)
		}
	}
}

func TestSweepSkipsApproachingWhenAlreadyOverdue(t *testing.T) {
	f := newFixture(t, Config{AlertLead: 24 * time.Hour, VolumeWindow: time.Hour, VolumeThreshold: 100})

	c, err := f.cases.CreateCase(f.ctx, casefile.CreateCaseInput{
		Title:        "stale",
		Jurisdiction: casefile.JurisdictionBelgium,
	})
	if err != nil {
		t.Fatal(err)
	}
	facts := f.clk.Now()
	if _, err := f.cases.EnableSeriousCause(f.ctx, c.CaseID, facts); err != nil {
		t.Fatal(err)
	}

	// First sweep happens only after the decision deadline already passed:
	// the engine raises overdue directly, no stale approaching alert.
	f.clk.Set(facts.AddDate(0, 0, 3).Add(2 * time.Hour))
	f.mustSweep(t, 1)

	got, err := f.engine.List(f.ctx, ListFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Kind != KindDeadlineOverdue {
		t.Fatalf("unexpected notifications: %+v", got)
	}
}

func TestSweepExcludesClosedCases(t *testing.T) {
	f := newFixture(t, Config{AlertLead: 24 * time.Hour, VolumeWindow: time.Hour, VolumeThreshold: 100})

	c, err := f.cases.CreateCase(f.ctx, casefile.CreateCaseInput{
		Title:        "resolved",
		Jurisdiction: casefile.JurisdictionBelgium,
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.cases.EnableSeriousCause(f.ctx, c.CaseID, f.clk.Now()); err != nil {
		t.Fatal(err)
	}
	if _, err := f.cases.SetStatus(f.ctx, c.CaseID, casefile.StatusClosed); err != nil {
		t.Fatal(err)
	}

	f.clk.Advance(10 * 24 * time.Hour)
	f.mustSweep(t, 0)
}

func TestAcknowledgeIsIdempotent(t *testing.T) {
	f := newFixture(t, Config{AlertLead: 24 * time.Hour, VolumeWindow: time.Hour, VolumeThreshold: 100})

	c, err := f.cases.CreateCase(f.ctx, casefile.CreateCaseInput{
		Title:        "case",
		Jurisdiction: casefile.JurisdictionBelgium,
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.cases.EnableSeriousCause(f.ctx, c.CaseID, f.clk.Now()); err != nil {
		t.Fatal(err)
	}
	f.clk.Advance(4 * 24 * time.Hour)
	if _, err := f.engine.Sweep(context.Background()); err != nil {
		t.Fatal(err)
	}

	list, err := f.engine.List(f.ctx, ListFilter{Unacked: true})
	if err != nil || len(list) == 0 {
		t.Fatalf("List: %v (%d)", err, len(list))
	}
	id := list[0].ID

	first, err := f.engine.Acknowledge(f.ctx, id, "analyst-1")
	if err != nil {
		t.Fatalf("Acknowledge: %v", err)
	}
	if !first.Acknowledged() || first.AcknowledgedBy != "analyst-1" {
		t.Fatalf("ack not recorded: %+v", first)
	}

	f.clk.Advance(time.Hour)
	second, err := f.engine.Acknowledge(f.ctx, id, "analyst-2")
	if err != nil {
		t.Fatalf("second Acknowledge: %v", err)
	}
	if second.AcknowledgedBy != "analyst-1" || !second.AcknowledgedAt.Equal(*first.AcknowledgedAt) {
		t.Fatalf("repeat ack rewrote the record: %+v", second)
	}
}

func TestAcknowledgeIsTenantScoped(t *testing.T) {
	f := newFixture(t, Config{AlertLead: 24 * time.Hour, VolumeWindow: time.Hour, VolumeThreshold: 100})

	c, err := f.cases.CreateCase(f.ctx, casefile.CreateCaseInput{
		Title:        "case",
		Jurisdiction: casefile.JurisdictionBelgium,
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.cases.EnableSeriousCause(f.ctx, c.CaseID, f.clk.Now()); err != nil {
		t.Fatal(err)
	}
	f.clk.Advance(4 * 24 * time.Hour)
	if _, err := f.engine.Sweep(context.Background()); err != nil {
		t.Fatal(err)
	}
	list, err := f.engine.List(f.ctx, ListFilter{})
	if err != nil || len(list) == 0 {
		t.Fatalf("List: %v", err)
	}

	other := tenant.WithTenant(context.Background(), "globex")
	if _, err := f.engine.Acknowledge(other, list[0].ID, "intruder"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound across tenants, got %v", err)
	}
}

func TestVolumeSpikeSuppressedUntilAcknowledged(t *testing.T) {
	f := newFixture(t, Config{AlertLead: 24 * time.Hour, VolumeWindow: 2 * time.Hour, VolumeThreshold: 3})

	for i := 0; i < 3; i++ {
		if _, err := f.cases.CreateCase(f.ctx, casefile.CreateCaseInput{Title: "intake"}); err != nil {
			t.Fatal(err)
		}
	}

	f.mustSweep(t, 1)
	// Suppressed while the alert is open.
	f.mustSweep(t, 0)

	list, err := f.engine.List(f.ctx, ListFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].Kind != KindVolumeSpike {
		t.Fatalf("unexpected notifications: %+v", list)
	}
	if _, err := f.engine.Acknowledge(f.ctx, list[0].ID, "lead"); err != nil {
		t.Fatal(err)
	}

	// Re-armed after acknowledgement: the window still holds 3 cases.
	f.mustSweep(t, 1)
}

func TestVolumeSpikeCountsPerTenant(t *testing.T) {
	f := newFixture(t, Config{AlertLead: 24 * time.Hour, VolumeWindow: 2 * time.Hour, VolumeThreshold: 3})
	other := tenant.WithTenant(context.Background(), "globex")

	for i := 0; i < 3; i++ {
		if _, err := f.cases.CreateCase(f.ctx, casefile.CreateCaseInput{Title: "acme intake"}); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := f.cases.CreateCase(other, casefile.CreateCaseInput{Title: "globex intake"}); err != nil {
		t.Fatal(err)
	}

	f.mustSweep(t, 1)

	acme, err := f.engine.List(f.ctx, ListFilter{})
	if err != nil || len(acme) != 1 {
		t.Fatalf("acme notifications: %v (%d)", err, len(acme))
	}
	globex, err := f.engine.List(other, ListFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(globex) != 0 {
		t.Fatalf("globex below threshold must stay quiet, got %d", len(globex))
	}
}

// pausingSource holds the first sweep between taking its case snapshot and
// processing it, so tests can interleave mutations into that window.
type pausingSource struct {
	*casefile.InMemory
	listed chan struct{}
	resume chan struct{}
	once   sync.Once
}

func (p *pausingSource) ActiveSeriousCause(ctx context.Context) ([]casefile.Case, error) {
	out, err := p.InMemory.ActiveSeriousCause(ctx)
	p.once.Do(func() {
		close(p.listed)
		<-p.resume
	})
	return out, err
}

func TestSweepRechecksUnderCaseLock(t *testing.T) {
	clk := clock.NewManual(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	cases := casefile.NewInMemory(clk)
	src := &pausingSource{
		InMemory: cases,
		listed:   make(chan struct{}),
		resume:   make(chan struct{}),
	}
	sink := &recordingSink{}
	engine := NewEngine(Config{
		AlertLead:       24 * time.Hour,
		VolumeWindow:    time.Hour,
		VolumeThreshold: 100,
	}, src, NewInMemoryStore(), clk, sink)
	svc := casefile.Observe(cases, engine)
	ctx := tenant.WithTenant(context.Background(), "acme")

	c, err := svc.CreateCase(ctx, casefile.CreateCaseInput{
		Title:        "case",
		Jurisdiction: casefile.JurisdictionBelgium,
	})
	if err != nil {
		t.Fatal(err)
	}
	facts := clk.Now()
	if _, err := svc.EnableSeriousCause(ctx, c.CaseID, facts); err != nil {
		t.Fatal(err)
	}
	clk.Set(facts.AddDate(0, 0, 3).Add(time.Hour))

	var (
		raised   int
		sweepErr error
		done     = make(chan struct{})
	)
	go func() {
		raised, sweepErr = engine.Sweep(context.Background())
		close(done)
	}()

	// The sweep holds a snapshot that says the deadline is overdue. Toggle
	// the record before it proceeds; the re-check under the case lock must
	// alert on the record that is active now, not on the snapshot.
	<-src.listed
	if _, err := svc.DisableSeriousCause(ctx, c.CaseID); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.EnableSeriousCause(ctx, c.CaseID, facts); err != nil {
		t.Fatal(err)
	}
	close(src.resume)
	<-done

	if sweepErr != nil {
		t.Fatalf("Sweep: %v", sweepErr)
	}
	if raised != 1 {
		t.Fatalf("sweep raised %d notifications, want 1 for the active record", raised)
	}
	list, err := engine.List(ctx, ListFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].Kind != KindDeadlineOverdue {
		t.Fatalf("overdue alert missing after mid-sweep toggle: %+v", list)
	}

	// The fired tuple belongs to the current record, so nothing is stuck:
	// a repeat sweep stays quiet instead of suppressing a future record.
	raised, err = engine.Sweep(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if raised != 0 {
		t.Fatalf("repeat sweep raised %d, want 0", raised)
	}
}

func TestAcknowledgeConcurrentWritesOnce(t *testing.T) {
	f := newFixture(t, Config{AlertLead: 24 * time.Hour, VolumeWindow: 2 * time.Hour, VolumeThreshold: 3})

	for i := 0; i < 3; i++ {
		if _, err := f.cases.CreateCase(f.ctx, casefile.CreateCaseInput{Title: "intake"}); err != nil {
			t.Fatal(err)
		}
	}
	f.mustSweep(t, 1)
	list, err := f.engine.List(f.ctx, ListFilter{})
	if err != nil || len(list) != 1 {
		t.Fatalf("List: %v (%d)", err, len(list))
	}
	id := list[0].ID

	var wg sync.WaitGroup
	results := make([]Notification, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			n, err := f.engine.Acknowledge(f.ctx, id, fmt.Sprintf("analyst-%d", i))
			if err != nil {
				t.Errorf("Acknowledge: %v", err)
				return
			}
			results[i] = n
		}(i)
	}
	wg.Wait()

	stored, err := f.engine.Get(f.ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if !stored.Acknowledged() {
		t.Fatalf("notification not acknowledged: %+v", stored)
	}
	// Exactly one call wrote; every caller saw that writer's record.
	for _, n := range results {
		if n.AcknowledgedBy != stored.AcknowledgedBy || !n.AcknowledgedAt.Equal(*stored.AcknowledgedAt) {
			t.Fatalf("concurrent acknowledge rewrote the record: %+v vs %+v", n, stored)
		}
	}
}

func TestDisableReArmsDeadlineAlerts(t *testing.T) {
	f := newFixture(t, Config{AlertLead: 24 * time.Hour, VolumeWindow: time.Hour, VolumeThreshold: 100})
	svc := casefile.Observe(f.cases, f.engine)

	c, err := svc.CreateCase(f.ctx, casefile.CreateCaseInput{
		Title:        "case",
		Jurisdiction: casefile.JurisdictionBelgium,
	})
	if err != nil {
		t.Fatal(err)
	}
	facts := f.clk.Now()
	if _, err := svc.EnableSeriousCause(f.ctx, c.CaseID, facts); err != nil {
		t.Fatal(err)
	}
	f.clk.Set(facts.AddDate(0, 0, 3).Add(-time.Hour))
	f.mustSweep(t, 1)

	// Toggling the flag clears the fired thresholds, so the new record
	// alerts from scratch.
	if _, err := svc.DisableSeriousCause(f.ctx, c.CaseID); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.EnableSeriousCause(f.ctx, c.CaseID, facts); err != nil {
		t.Fatal(err)
	}
	f.mustSweep(t, 1)
}

func TestCountdownDisplay(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	cases := []struct {
		due     time.Time
		want    string
		overdue bool
	}{
		{due: now.Add(3 * time.Hour), want: "3h"},
		{due: now.Add(23*time.Hour + 30*time.Minute), want: "23h"},
		{due: now.Add(25 * time.Hour), want: "2d"},
		{due: now.Add(6 * 24 * time.Hour), want: "6d"},
		{due: now, want: "0h overdue", overdue: true},
		{due: now.Add(-2 * time.Hour), want: "2h overdue", overdue: true},
		{due: now.Add(-50 * time.Hour), want: "3d overdue", overdue: true},
	}
	for _, tc := range cases {
		got := NewCountdown(tc.due, now)
		if got.Remaining != tc.want || got.Overdue != tc.overdue {
			t.Fatalf("countdown(%v): got %q/%v want %q/%v",
				tc.due, got.Remaining, got.Overdue, tc.want, tc.overdue)
		}
	}
}
