package triage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"caseline.org/internal/casefile"
	"caseline.org/internal/clock"
	"caseline.org/internal/ids"
	"caseline.org/internal/tenant"
)

// SubmitInput carries the fields a reporter supplies. Only the body is
// mandatory; anonymous tips arrive with everything else blank.
type SubmitInput struct {
	Subject      string
	Body         string
	Reporter     string
	Channel      string
	Jurisdiction string
	VIP          bool
}

// StatusUpdate changes the ticket status and optionally records triage notes.
type StatusUpdate struct {
	Status Status
	Notes  string
}

// Filter narrows List.
type Filter struct {
	Status *Status
}

// ConvertResult reports a conversion outcome. AlreadyConverted is true when
// the ticket was linked earlier and the stored case is returned as-is.
type ConvertResult struct {
	Ticket           Ticket
	Case             casefile.Case
	AlreadyConverted bool
}

// Service defines the tenant-scoped triage operations.
type Service interface {
	Submit(ctx context.Context, in SubmitInput) (Ticket, error)
	Get(ctx context.Context, id string) (Ticket, error)
	List(ctx context.Context, f Filter) ([]Ticket, error)
	UpdateStatus(ctx context.Context, id string, upd StatusUpdate) (Ticket, error)
	Convert(ctx context.Context, id, actor string) (ConvertResult, error)
}

// InMemory keeps tickets in process memory. Conversion holds a per-ticket
// lock across the case creation so concurrent converts of the same ticket
// produce exactly one case.
type InMemory struct {
	clk   clock.Clock
	cases casefile.Service

	mu      sync.RWMutex
	tickets map[string]*Ticket

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

var _ Service = (*InMemory)(nil)

// NewInMemory creates a triage store backed by the given case service.
func NewInMemory(clk clock.Clock, cases casefile.Service) *InMemory {
	if clk == nil {
		clk = clock.System()
	}
	return &InMemory{
		clk:     clk,
		cases:   cases,
		tickets: make(map[string]*Ticket),
		locks:   make(map[string]*sync.Mutex),
	}
}

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

func (s *InMemory) Submit(ctx context.Context, in SubmitInput) (Ticket, error) {
	key, err := tenant.Require(ctx)
	if err != nil {
		return Ticket{}, err
	}
	if strings.TrimSpace(in.Body) == "" {
		return Ticket{}, fmt.Errorf("%w: body is required", ErrValidation)
	}

	now := s.clk.Now()
	t := &Ticket{
		TicketID:     ids.NewWithPrefix("TKT"),
		Tenant:       key,
		Subject:      strings.TrimSpace(in.Subject),
		Body:         strings.TrimSpace(in.Body),
		Reporter:     in.Reporter,
		Channel:      in.Channel,
		Jurisdiction: in.Jurisdiction,
		VIP:          in.VIP,
		Status:       StatusNew,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	s.mu.Lock()
	s.tickets[t.TicketID] = t
	s.mu.Unlock()

	return *t, nil
}

func (s *InMemory) Get(ctx context.Context, id string) (Ticket, error) {
	key, err := tenant.Require(ctx)
	if err != nil {
		return Ticket{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tickets[id]
	if !ok || t.Tenant != key {
		return Ticket{}, ErrNotFound
	}
	return *t, nil
}

func (s *InMemory) List(ctx context.Context, f Filter) ([]Ticket, error) {
	key, err := tenant.Require(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Ticket, 0)
	for _, t := range s.tickets {
		if t.Tenant != key {
			continue
		}
		if f.Status != nil && t.Status != *f.Status {
			continue
		}
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].TicketID > out[j].TicketID
	})
	return out, nil
}

// UpdateStatus moves the ticket between new, triaged and closed. Transitions
// are free; only existence and tenant are guarded.
func (s *InMemory) UpdateStatus(ctx context.Context, id string, upd StatusUpdate) (Ticket, error) {
	key, err := tenant.Require(ctx)
	if err != nil {
		return Ticket{}, err
	}
	if upd.Status == StatusUnknown {
		return Ticket{}, fmt.Errorf("%w: status is required", ErrValidation)
	}

	l := s.lockFor(id)
	l.Lock()
	defer l.Unlock()

	s.mu.RLock()
	cur, ok := s.tickets[id]
	s.mu.RUnlock()
	if !ok || cur.Tenant != key {
		return Ticket{}, ErrNotFound
	}

	next := *cur
	next.Status = upd.Status
	if strings.TrimSpace(upd.Notes) != "" {
		next.Notes = strings.TrimSpace(upd.Notes)
	}
	next.UpdatedAt = s.clk.Now()

	s.mu.Lock()
	s.tickets[id] = &next
	s.mu.Unlock()

	return next, nil
}

// Convert turns a ticket into a case, linking it exactly once. Repeated calls
// return the case created by the first one, so retried requests never
// duplicate work. A ticket still in new advances to triaged.
func (s *InMemory) Convert(ctx context.Context, id, actor string) (ConvertResult, error) {
	key, err := tenant.Require(ctx)
	if err != nil {
		return ConvertResult{}, err
	}

	l := s.lockFor(id)
	l.Lock()
	defer l.Unlock()

	s.mu.RLock()
	cur, ok := s.tickets[id]
	s.mu.RUnlock()
	if !ok || cur.Tenant != key {
		return ConvertResult{}, ErrNotFound
	}

	if cur.Converted() {
		c, err := s.cases.GetCase(ctx, cur.LinkedCaseID)
		if err != nil {
			return ConvertResult{}, fmt.Errorf("load linked case %s: %w", cur.LinkedCaseID, err)
		}
		return ConvertResult{Ticket: *cur, Case: c, AlreadyConverted: true}, nil
	}

	c, err := s.cases.CreateCase(ctx, casefile.CreateCaseInput{
		Title:        caseTitle(*cur),
		Summary:      cur.Body,
		Jurisdiction: casefile.ParseJurisdiction(cur.Jurisdiction),
		VIP:          cur.VIP,
		CreatedBy:    actor,
		Provenance:   casefile.ProvenanceTriage,
	})
	if err != nil {
		return ConvertResult{}, fmt.Errorf("create case from ticket %s: %w", id, err)
	}

	now := s.clk.Now()
	next := *cur
	next.LinkedCaseID = c.CaseID
	next.ConvertedAt = &now
	next.UpdatedAt = now
	if next.Status == StatusNew {
		next.Status = StatusTriaged
	}

	s.mu.Lock()
	s.tickets[id] = &next
	s.mu.Unlock()

	return ConvertResult{Ticket: next, Case: c}, nil
}

// caseTitle picks a case title for a converted ticket. Subjects are optional
// on intake, so anonymous tips fall back to a reference to the ticket.
func caseTitle(t Ticket) string {
	if t.Subject != "" {
		return t.Subject
	}
	return "Intake report " + t.TicketID
}
