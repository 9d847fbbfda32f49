package casefile

import (
	"context"
	"time"
)

// EventKind tags a case state change.
type EventKind int

const (
	EventCreated EventKind = iota
	EventStatusChanged
	EventStageChanged
	EventAnonymized
	EventSeriousCauseEnabled
	EventSeriousCauseDisabled
	EventSeriousCauseRecomputed
	EventGateReached
	EventGateCompleted
)

func (k EventKind) String() string {
	switch k {
	case EventCreated:
		return "case.created"
	case EventStatusChanged:
		return "case.status_changed"
	case EventStageChanged:
		return "case.stage_changed"
	case EventAnonymized:
		return "case.anonymized"
	case EventSeriousCauseEnabled:
		return "case.serious_cause_enabled"
	case EventSeriousCauseDisabled:
		return "case.serious_cause_disabled"
	case EventSeriousCauseRecomputed:
		return "case.serious_cause_recomputed"
	case EventGateReached:
		return "case.gate_reached"
	case EventGateCompleted:
		return "case.gate_completed"
	default:
		return "case.unknown"
	}
}

// Event is delivered to observers after a mutation commits. Case is the
// post-mutation snapshot.
type Event struct {
	Kind EventKind
	Case Case
	At   time.Time
}

// Observer consumes accepted case state changes (serious-cause tracker and
// notification engine). Delivery happens synchronously after commit, outside
// the per-case lock.
type Observer interface {
	CaseChanged(ctx context.Context, ev Event)
}

// Observed decorates a Service so every successful mutation is published to
// the registered observers. Both the in-memory and the SQL store are wrapped
// the same way.
type Observed struct {
	inner     Service
	observers []Observer
}

var _ Service = (*Observed)(nil)

// Observe wraps svc with observer fan-out.
func Observe(svc Service, observers ...Observer) *Observed {
	return &Observed{inner: svc, observers: observers}
}

func (o *Observed) publish(ctx context.Context, kind EventKind, c Case) {
	ev := Event{Kind: kind, Case: c, At: time.Now().UTC()}
	for _, obs := range o.observers {
		obs.CaseChanged(ctx, ev)
	}
}

func (o *Observed) CreateCase(ctx context.Context, in CreateCaseInput) (Case, error) {
	c, err := o.inner.CreateCase(ctx, in)
	if err != nil {
		return Case{}, err
	}
	o.publish(ctx, EventCreated, c)
	return c, nil
}

func (o *Observed) GetCase(ctx context.Context, id string) (Case, error) {
	return o.inner.GetCase(ctx, id)
}

func (o *Observed) ListCases(ctx context.Context, f Filter) ([]Case, error) {
	return o.inner.ListCases(ctx, f)
}

func (o *Observed) SetStatus(ctx context.Context, id string, status Status) (Case, error) {
	c, err := o.inner.SetStatus(ctx, id, status)
	if err != nil {
		return Case{}, err
	}
	o.publish(ctx, EventStatusChanged, c)
	return c, nil
}

func (o *Observed) SetStage(ctx context.Context, id string, stage Stage, rollback bool) (Case, error) {
	c, err := o.inner.SetStage(ctx, id, stage, rollback)
	if err != nil {
		return Case{}, err
	}
	o.publish(ctx, EventStageChanged, c)
	return c, nil
}

func (o *Observed) Anonymize(ctx context.Context, id string) (Case, error) {
	c, err := o.inner.Anonymize(ctx, id)
	if err != nil {
		return Case{}, err
	}
	o.publish(ctx, EventAnonymized, c)
	return c, nil
}

func (o *Observed) EnableSeriousCause(ctx context.Context, id string, factsConfirmedAt time.Time) (Case, error) {
	c, err := o.inner.EnableSeriousCause(ctx, id, factsConfirmedAt)
	if err != nil {
		return Case{}, err
	}
	o.publish(ctx, EventSeriousCauseEnabled, c)
	return c, nil
}

func (o *Observed) DisableSeriousCause(ctx context.Context, id string) (Case, error) {
	c, err := o.inner.DisableSeriousCause(ctx, id)
	if err != nil {
		return Case{}, err
	}
	o.publish(ctx, EventSeriousCauseDisabled, c)
	return c, nil
}

func (o *Observed) RecomputeSeriousCause(ctx context.Context, id string, factsConfirmedAt time.Time) (Case, error) {
	c, err := o.inner.RecomputeSeriousCause(ctx, id, factsConfirmedAt)
	if err != nil {
		return Case{}, err
	}
	o.publish(ctx, EventSeriousCauseRecomputed, c)
	return c, nil
}

func (o *Observed) ReachGate(ctx context.Context, id string, gate Gate) (Case, error) {
	c, err := o.inner.ReachGate(ctx, id, gate)
	if err != nil {
		return Case{}, err
	}
	o.publish(ctx, EventGateReached, c)
	return c, nil
}

func (o *Observed) CompleteGate(ctx context.Context, id string, gate Gate) (Case, error) {
	c, err := o.inner.CompleteGate(ctx, id, gate)
	if err != nil {
		return Case{}, err
	}
	o.publish(ctx, EventGateCompleted, c)
	return c, nil
}
