package notify

import (
	"context"
	"fmt"
	"sort"
	"time"

	"caseline.org/internal/audit"
	"caseline.org/internal/casefile"
	"caseline.org/internal/clock"
	"caseline.org/internal/ids"
	"caseline.org/internal/obs"
	"caseline.org/internal/tenant"
)

// Config tunes the deadline sweep and the volume alarm.
type Config struct {
	// AlertLead is how long before a due moment the approaching alert fires.
	AlertLead time.Duration
	// VolumeWindow and VolumeThreshold define the spike rule: at least
	// Threshold cases created within the trailing Window.
	VolumeWindow    time.Duration
	VolumeThreshold int
}

// DefaultConfig mirrors the production defaults.
func DefaultConfig() Config {
	return Config{
		AlertLead:       24 * time.Hour,
		VolumeWindow:    24 * time.Hour,
		VolumeThreshold: 10,
	}
}

// AlertSink receives every raised notification, typically the live event
// stream. Delivery must not block.
type AlertSink interface {
	Alert(n Notification)
}

// Engine raises and tracks notifications. Sweeps are idempotent: running the
// same sweep twice against unchanged cases raises nothing new.
type Engine struct {
	cfg    Config
	source casefile.SweepSource
	store  Store
	clk    clock.Clock
	sinks  []AlertSink
}

// NewEngine wires the notification engine.
func NewEngine(cfg Config, source casefile.SweepSource, store Store, clk clock.Clock, sinks ...AlertSink) *Engine {
	if cfg.AlertLead <= 0 {
		cfg.AlertLead = DefaultConfig().AlertLead
	}
	if cfg.VolumeWindow <= 0 {
		cfg.VolumeWindow = DefaultConfig().VolumeWindow
	}
	if cfg.VolumeThreshold <= 0 {
		cfg.VolumeThreshold = DefaultConfig().VolumeThreshold
	}
	if clk == nil {
		clk = clock.System()
	}
	return &Engine{cfg: cfg, source: source, store: store, clk: clk, sinks: sinks}
}

// Get returns one notification in the caller's tenant.
func (e *Engine) Get(ctx context.Context, id string) (Notification, error) {
	return e.store.Get(ctx, id)
}

// List returns the caller's notifications, newest first.
func (e *Engine) List(ctx context.Context, f ListFilter) ([]Notification, error) {
	return e.store.List(ctx, f)
}

// Acknowledge marks a notification as handled. Acknowledging twice is not an
// error; the second call returns the record unchanged so retried requests
// stay safe.
func (e *Engine) Acknowledge(ctx context.Context, id, actor string) (Notification, error) {
	n, changed, err := e.store.Acknowledge(ctx, id, actor, e.clk.Now())
	if err != nil {
		return Notification{}, err
	}
	if changed {
		audit.LogEvent(ctx, "notification.acknowledged", map[string]any{
			"notification_id": n.ID,
			"kind":            n.Kind.String(),
		})
	}
	return n, nil
}

// Sweep evaluates every active serious-cause deadline and the per-tenant
// creation volume, raising whatever crossed a threshold since the last run.
// It returns the number of notifications raised.
func (e *Engine) Sweep(ctx context.Context) (int, error) {
	start := time.Now()
	defer func() { obs.ObserveSweep(time.Since(start)) }()

	now := e.clk.Now()
	raised := 0

	cases, err := e.source.ActiveSeriousCause(ctx)
	if err != nil {
		return 0, fmt.Errorf("sweep: list serious-cause cases: %w", err)
	}
	for _, c := range cases {
		n, err := e.sweepCase(ctx, c.CaseID, now)
		if err != nil {
			return raised, err
		}
		raised += n
	}

	n, err := e.sweepVolume(ctx, now)
	if err != nil {
		return raised, err
	}
	raised += n
	return raised, nil
}

type deadlineCheck struct {
	kind  DeadlineKind
	dueAt time.Time
}

// sweepCase re-reads the case under its mutation lock before writing any
// threshold state, so a disable or recompute that lands after the snapshot
// cannot be alerted on, and its ClearThresholds cannot be overtaken.
func (e *Engine) sweepCase(ctx context.Context, caseID string, now time.Time) (int, error) {
	raised := 0
	err := e.source.LockCase(ctx, caseID, func(c casefile.Case) error {
		sc := c.SeriousCause
		if sc == nil || c.Status == casefile.StatusClosed {
			return nil
		}
		checks := []deadlineCheck{
			{kind: DeadlineDecision, dueAt: sc.DecisionDueAt},
			{kind: DeadlineDismissal, dueAt: sc.DismissalDueAt},
		}
		for _, chk := range checks {
			var (
				threshold Threshold
				severity  Severity
				kind      Kind
			)
			switch {
			case !now.Before(chk.dueAt):
				threshold, severity, kind = ThresholdOverdue, SeverityCritical, KindDeadlineOverdue
			case !now.Before(chk.dueAt.Add(-e.cfg.AlertLead)):
				threshold, severity, kind = ThresholdApproaching, SeverityWarning, KindDeadlineApproaching
			default:
				continue
			}
			due := chk.dueAt
			recipient := "analyst"
			if threshold == ThresholdOverdue {
				recipient = "supervisor"
			}
			n := e.fill(Notification{
				Tenant:        c.Tenant,
				CaseID:        c.CaseID,
				Kind:          kind,
				Severity:      severity,
				Deadline:      chk.kind,
				Threshold:     threshold,
				RecipientRole: recipient,
				DueAt:         &due,
				Message:       deadlineMessage(c, chk, threshold, now),
			})
			first, err := e.store.RaiseThreshold(ctx, n)
			if err != nil {
				return fmt.Errorf("sweep: raise threshold: %w", err)
			}
			if !first {
				continue
			}
			e.publish(ctx, n)
			raised++
		}
		return nil
	})
	return raised, err
}

func deadlineMessage(c casefile.Case, chk deadlineCheck, threshold Threshold, now time.Time) string {
	cd := NewCountdown(chk.dueAt, now)
	if threshold == ThresholdOverdue {
		return fmt.Sprintf("%s deadline for case %s is %s", chk.kind, c.CaseID, cd.Remaining)
	}
	return fmt.Sprintf("%s deadline for case %s due in %s", chk.kind, c.CaseID, cd.Remaining)
}

// sweepVolume raises at most one spike alert per tenant; further spikes are
// suppressed until the open alert is acknowledged.
func (e *Engine) sweepVolume(ctx context.Context, now time.Time) (int, error) {
	counts, err := e.source.CreatedSince(ctx, now.Add(-e.cfg.VolumeWindow))
	if err != nil {
		return 0, fmt.Errorf("sweep: count created cases: %w", err)
	}

	tenants := make([]string, 0, len(counts))
	for key := range counts {
		tenants = append(tenants, key)
	}
	sort.Strings(tenants)

	raised := 0
	for _, key := range tenants {
		count := counts[key]
		if count < e.cfg.VolumeThreshold {
			continue
		}
		open, err := e.store.HasUnacknowledged(ctx, key, KindVolumeSpike)
		if err != nil {
			return raised, fmt.Errorf("sweep: check suppression: %w", err)
		}
		if open {
			continue
		}
		if err := e.raise(ctx, Notification{
			Tenant:        key,
			Kind:          KindVolumeSpike,
			Severity:      SeverityWarning,
			RecipientRole: "supervisor",
			Message: fmt.Sprintf("%d cases created in the last %s (threshold %d)",
				count, e.cfg.VolumeWindow, e.cfg.VolumeThreshold),
		}); err != nil {
			return raised, err
		}
		raised++
	}
	return raised, nil
}

// fill assigns identity and delivery timestamps. No delivery queue is
// configured, so notifications go straight from pending to sent.
func (e *Engine) fill(n Notification) Notification {
	now := e.clk.Now()
	n.ID = ids.NewWithPrefix("NTF")
	n.Status = StatusSent
	n.CreatedAt = now
	n.SentAt = &now
	return n
}

// publish reports a stored notification to metrics, audit and the sinks.
func (e *Engine) publish(ctx context.Context, n Notification) {
	obs.NotificationRaised(n.Kind.String())
	audit.LogEvent(tenant.WithTenant(ctx, n.Tenant), "notification.raised", map[string]any{
		"notification_id": n.ID,
		"kind":            n.Kind.String(),
		"case_id":         n.CaseID,
		"severity":        n.Severity.String(),
	})
	for _, sink := range e.sinks {
		sink.Alert(n)
	}
}

// raise persists and publishes one non-deadline notification.
func (e *Engine) raise(ctx context.Context, n Notification) error {
	n = e.fill(n)
	if err := e.store.Insert(ctx, n); err != nil {
		return fmt.Errorf("raise %s: %w", n.Kind, err)
	}
	e.publish(ctx, n)
	return nil
}

// CaseChanged keeps the threshold memory consistent with the case store.
// Disabling or recomputing serious cause wipes the fired tuples so the next
// record gets a clean alert cycle; anonymization ends the alert lifecycle.
func (e *Engine) CaseChanged(ctx context.Context, ev casefile.Event) {
	switch ev.Kind {
	case casefile.EventSeriousCauseDisabled,
		casefile.EventSeriousCauseRecomputed,
		casefile.EventAnonymized:
		if err := e.store.ClearThresholds(ctx, ev.Case.CaseID); err != nil {
			obs.LogComponent("notify", "clear_thresholds_failed", map[string]any{
				"case_id": ev.Case.CaseID,
				"error":   err.Error(),
			})
		}
	}
}

var _ casefile.Observer = (*Engine)(nil)
