package casefile

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"caseline.org/internal/clock"
	"caseline.org/internal/ids"
	"caseline.org/internal/tenant"
)

// CreateCaseInput carries the fields a caller supplies at creation; the store
// assigns identity, status and stage.
type CreateCaseInput struct {
	Title        string
	Summary      string
	Jurisdiction Jurisdiction
	VIP          bool
	CreatedBy    string
	Provenance   string
}

// Filter narrows ListCases.
type Filter struct {
	Status      *Status
	Stage       *Stage
	SeriousOnly bool
}

// Service defines the tenant-scoped case store operations. All mutations on
// the same case id are serialized; mutations on different cases proceed
// concurrently.
type Service interface {
	CreateCase(ctx context.Context, in CreateCaseInput) (Case, error)
	GetCase(ctx context.Context, id string) (Case, error)
	ListCases(ctx context.Context, f Filter) ([]Case, error)
	SetStatus(ctx context.Context, id string, status Status) (Case, error)
	SetStage(ctx context.Context, id string, stage Stage, rollback bool) (Case, error)
	Anonymize(ctx context.Context, id string) (Case, error)
	EnableSeriousCause(ctx context.Context, id string, factsConfirmedAt time.Time) (Case, error)
	DisableSeriousCause(ctx context.Context, id string) (Case, error)
	RecomputeSeriousCause(ctx context.Context, id string, factsConfirmedAt time.Time) (Case, error)
	ReachGate(ctx context.Context, id string, gate Gate) (Case, error)
	CompleteGate(ctx context.Context, id string, gate Gate) (Case, error)
}

// SweepSource is the engine-internal read surface the deadline sweep and the
// volume alarm use. It is deliberately not tenant-scoped: the sweeper runs
// with engine authority across all tenants.
type SweepSource interface {
	ActiveSeriousCause(ctx context.Context) ([]Case, error)
	CreatedSince(ctx context.Context, since time.Time) (map[string]int, error)

	// LockCase runs fn with the case's current state under the same lock
	// that serializes the case's mutations, so the sweep's threshold
	// bookkeeping cannot interleave with a concurrent serious-cause change.
	// fn is not called when the case no longer exists.
	LockCase(ctx context.Context, id string, fn func(Case) error) error
}

// InMemory implements Service with in-process concurrency safety. Case
// records are replaced wholesale on mutation, so readers always see a
// consistent snapshot.
type InMemory struct {
	clk clock.Clock

	mu    sync.RWMutex
	cases map[string]*Case

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

var (
	_ Service     = (*InMemory)(nil)
	_ SweepSource = (*InMemory)(nil)
)

// NewInMemory creates a fresh case store.
func NewInMemory(clk clock.Clock) *InMemory {
	if clk == nil {
		clk = clock.System()
	}
	return &InMemory{
		clk:   clk,
		cases: make(map[string]*Case),
		locks: make(map[string]*sync.Mutex),
	}
}

// lockFor returns the mutex serializing mutations for one case id.
func (s *InMemory) lockFor(id string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

func (s *InMemory) CreateCase(ctx context.Context, in CreateCaseInput) (Case, error) {
	key, err := tenant.Require(ctx)
	if err != nil {
		return Case{}, err
	}
	if strings.TrimSpace(in.Title) == "" {
		return Case{}, fmt.Errorf("%w: title is required", ErrValidation)
	}
	provenance := in.Provenance
	if provenance == "" {
		provenance = ProvenanceDirect
	}

	c := &Case{
		CaseID:       ids.NewWithPrefix("CASE"),
		UUID:         uuid.NewString(),
		Tenant:       key,
		Title:        strings.TrimSpace(in.Title),
		Summary:      strings.TrimSpace(in.Summary),
		Jurisdiction: in.Jurisdiction,
		VIP:          in.VIP,
		Status:       StatusOpen,
		Stage:        StageIntake,
		CreatedBy:    in.CreatedBy,
		Provenance:   provenance,
		CreatedAt:    s.clk.Now(),
	}

	s.mu.Lock()
	s.cases[c.CaseID] = c
	s.mu.Unlock()

	return copyCase(c), nil
}

func (s *InMemory) GetCase(ctx context.Context, id string) (Case, error) {
	key, err := tenant.Require(ctx)
	if err != nil {
		return Case{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.cases[id]
	if !ok || c.Tenant != key {
		return Case{}, ErrNotFound
	}
	return copyCase(c), nil
}

func (s *InMemory) ListCases(ctx context.Context, f Filter) ([]Case, error) {
	key, err := tenant.Require(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Case, 0)
	for _, c := range s.cases {
		if c.Tenant != key {
			continue
		}
		if f.Status != nil && c.Status != *f.Status {
			continue
		}
		if f.Stage != nil && c.Stage != *f.Stage {
			continue
		}
		if f.SeriousOnly && c.SeriousCause == nil {
			continue
		}
		out = append(out, copyCase(c))
	}
	sortCasesByCreation(out)
	return out, nil
}

// mutate runs fn on a working copy of the case under the per-case lock and
// commits the copy on success. fn must not retain the pointer.
func (s *InMemory) mutate(ctx context.Context, id string, fn func(c *Case) error) (Case, error) {
	key, err := tenant.Require(ctx)
	if err != nil {
		return Case{}, err
	}

	l := s.lockFor(id)
	l.Lock()
	defer l.Unlock()

	s.mu.RLock()
	cur, ok := s.cases[id]
	s.mu.RUnlock()
	if !ok || cur.Tenant != key {
		return Case{}, ErrNotFound
	}

	next := copyCase(cur)
	if err := fn(&next); err != nil {
		return Case{}, err
	}

	s.mu.Lock()
	s.cases[id] = &next
	s.mu.Unlock()

	return copyCase(&next), nil
}

func (s *InMemory) SetStatus(ctx context.Context, id string, status Status) (Case, error) {
	if status == StatusUnknown {
		return Case{}, fmt.Errorf("%w: status is required", ErrValidation)
	}
	return s.mutate(ctx, id, func(c *Case) error {
		if c.Anonymized {
			return fmt.Errorf("%w: case is anonymized", ErrInvalidTransition)
		}
		c.Status = status
		return nil
	})
}

func (s *InMemory) SetStage(ctx context.Context, id string, stage Stage, rollback bool) (Case, error) {
	if stage == StageUnknown {
		return Case{}, fmt.Errorf("%w: stage is required", ErrValidation)
	}
	return s.mutate(ctx, id, func(c *Case) error {
		if c.Anonymized {
			return fmt.Errorf("%w: case is anonymized", ErrInvalidTransition)
		}
		if stage < c.Stage && !rollback {
			return fmt.Errorf("%w: stage %s precedes %s and rollback was not authorized",
				ErrInvalidTransition, stage, c.Stage)
		}
		c.Stage = stage
		return nil
	})
}

func (s *InMemory) Anonymize(ctx context.Context, id string) (Case, error) {
	return s.mutate(ctx, id, func(c *Case) error {
		if c.Anonymized {
			return fmt.Errorf("%w: case is already anonymized", ErrInvalidTransition)
		}
		c.Anonymized = true
		c.Title = "[redacted]"
		c.Summary = ""
		c.CreatedBy = ""
		return nil
	})
}

func (s *InMemory) EnableSeriousCause(ctx context.Context, id string, factsConfirmedAt time.Time) (Case, error) {
	if err := validateFactsTimestamp(factsConfirmedAt, s.clk.Now()); err != nil {
		return Case{}, err
	}
	return s.mutate(ctx, id, func(c *Case) error {
		if c.Anonymized {
			return fmt.Errorf("%w: case is anonymized", ErrInvalidTransition)
		}
		if c.SeriousCause != nil {
			return ErrAlreadyEnabled
		}
		c.SeriousCause = NewSeriousCause(factsConfirmedAt, c.Jurisdiction)
		return nil
	})
}

func (s *InMemory) DisableSeriousCause(ctx context.Context, id string) (Case, error) {
	return s.mutate(ctx, id, func(c *Case) error {
		if c.Anonymized {
			return fmt.Errorf("%w: case is anonymized", ErrInvalidTransition)
		}
		if c.SeriousCause == nil {
			return ErrNotEnabled
		}
		c.SeriousCause = nil
		return nil
	})
}

func (s *InMemory) RecomputeSeriousCause(ctx context.Context, id string, factsConfirmedAt time.Time) (Case, error) {
	if err := validateFactsTimestamp(factsConfirmedAt, s.clk.Now()); err != nil {
		return Case{}, err
	}
	return s.mutate(ctx, id, func(c *Case) error {
		if c.Anonymized {
			return fmt.Errorf("%w: case is anonymized", ErrInvalidTransition)
		}
		if c.SeriousCause == nil {
			return ErrNotEnabled
		}
		c.SeriousCause = NewSeriousCause(factsConfirmedAt, c.Jurisdiction)
		return nil
	})
}

func (s *InMemory) ReachGate(ctx context.Context, id string, gate Gate) (Case, error) {
	if gate == GateUnknown {
		return Case{}, fmt.Errorf("%w: gate is required", ErrValidation)
	}
	now := s.clk.Now()
	return s.mutate(ctx, id, func(c *Case) error {
		if c.Anonymized {
			return fmt.Errorf("%w: case is anonymized", ErrInvalidTransition)
		}
		if c.Gates == nil {
			c.Gates = make(map[Gate]GateProgress)
		}
		p := c.Gates[gate]
		if p.ReachedAt == nil {
			p.ReachedAt = &now
		}
		c.Gates[gate] = p
		return nil
	})
}

func (s *InMemory) CompleteGate(ctx context.Context, id string, gate Gate) (Case, error) {
	if gate == GateUnknown {
		return Case{}, fmt.Errorf("%w: gate is required", ErrValidation)
	}
	now := s.clk.Now()
	return s.mutate(ctx, id, func(c *Case) error {
		if c.Anonymized {
			return fmt.Errorf("%w: case is anonymized", ErrInvalidTransition)
		}
		if c.Gates == nil {
			c.Gates = make(map[Gate]GateProgress)
		}
		p := c.Gates[gate]
		if p.ReachedAt == nil {
			p.ReachedAt = &now
		}
		if p.CompletedAt == nil {
			p.CompletedAt = &now
		}
		c.Gates[gate] = p
		return nil
	})
}

// ActiveSeriousCause returns every case (all tenants) with an active
// serious-cause record. Closed cases are excluded: the obligation lapses when
// the case closes.
func (s *InMemory) ActiveSeriousCause(ctx context.Context) ([]Case, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Case, 0)
	for _, c := range s.cases {
		if c.SeriousCause == nil || c.Status == StatusClosed {
			continue
		}
		out = append(out, copyCase(c))
	}
	sortCasesByCreation(out)
	return out, nil
}

// LockCase holds the case's mutation lock while fn inspects the current
// state. The callback receives a copy and must not block on another case.
func (s *InMemory) LockCase(ctx context.Context, id string, fn func(Case) error) error {
	l := s.lockFor(id)
	l.Lock()
	defer l.Unlock()

	s.mu.RLock()
	cur, ok := s.cases[id]
	s.mu.RUnlock()
	if !ok {
		return nil
	}
	return fn(copyCase(cur))
}

// CreatedSince counts cases created at or after the cutoff, grouped by tenant.
func (s *InMemory) CreatedSince(ctx context.Context, since time.Time) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[string]int)
	for _, c := range s.cases {
		if c.CreatedAt.Before(since) {
			continue
		}
		counts[c.Tenant]++
	}
	return counts, nil
}

func copyCase(c *Case) Case {
	out := *c
	if c.SeriousCause != nil {
		sc := *c.SeriousCause
		out.SeriousCause = &sc
	}
	if c.Gates != nil {
		gates := make(map[Gate]GateProgress, len(c.Gates))
		for g, p := range c.Gates {
			cp := p
			if p.ReachedAt != nil {
				t := *p.ReachedAt
				cp.ReachedAt = &t
			}
			if p.CompletedAt != nil {
				t := *p.CompletedAt
				cp.CompletedAt = &t
			}
			gates[g] = cp
		}
		out.Gates = gates
	}
	return out
}

func sortCasesByCreation(cases []Case) {
	// Newest first; ULID case ids break creation-time ties deterministically.
	sort.Slice(cases, func(i, j int) bool {
		if !cases[i].CreatedAt.Equal(cases[j].CreatedAt) {
			return cases[i].CreatedAt.After(cases[j].CreatedAt)
		}
		return cases[i].CaseID > cases[j].CaseID
	})
}
