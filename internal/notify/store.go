package notify

import (
	"context"
	"sort"
	"sync"
	"time"

	"caseline.org/internal/tenant"
)

// Store persists notifications and the threshold memory that makes sweeps
// idempotent. Read operations are tenant-scoped through the context; the
// threshold memory is engine-internal and carries no tenant.
type Store interface {
	Insert(ctx context.Context, n Notification) error
	Get(ctx context.Context, id string) (Notification, error)
	List(ctx context.Context, f ListFilter) ([]Notification, error)

	// Acknowledge sets the one-way acknowledged state. The check and the
	// write happen as a single step, so concurrent calls cannot both win;
	// a replay returns the stored record unchanged and reports false.
	Acknowledge(ctx context.Context, id, actor string, at time.Time) (Notification, bool, error)

	// RaiseThreshold records that the (case, deadline, threshold) tuple
	// fired and, when this call is the first to cross it, stores the
	// notification in the same step. Mark and insert are atomic: a failed
	// insert leaves the tuple unmarked so the next sweep retries.
	RaiseThreshold(ctx context.Context, n Notification) (bool, error)
	// ClearThresholds forgets every tuple for the case so a future
	// serious-cause record starts with a clean slate.
	ClearThresholds(ctx context.Context, caseID string) error

	// HasUnacknowledged reports whether the tenant has an open notification
	// of the given kind. The volume alarm uses it for suppression.
	HasUnacknowledged(ctx context.Context, tenantKey string, kind Kind) (bool, error)
}

type thresholdKey struct {
	caseID    string
	deadline  DeadlineKind
	threshold Threshold
}

// InMemoryStore keeps notifications in process memory.
type InMemoryStore struct {
	mu            sync.RWMutex
	notifications map[string]Notification
	order         []string
	fired         map[thresholdKey]struct{}
}

var _ Store = (*InMemoryStore)(nil)

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		notifications: make(map[string]Notification),
		fired:         make(map[thresholdKey]struct{}),
	}
}

func (s *InMemoryStore) Insert(_ context.Context, n Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifications[n.ID] = n
	s.order = append(s.order, n.ID)
	return nil
}

func (s *InMemoryStore) Get(ctx context.Context, id string) (Notification, error) {
	key, err := tenant.Require(ctx)
	if err != nil {
		return Notification{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.notifications[id]
	if !ok || n.Tenant != key {
		return Notification{}, ErrNotFound
	}
	return n, nil
}

func (s *InMemoryStore) List(ctx context.Context, f ListFilter) ([]Notification, error) {
	key, err := tenant.Require(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Notification, 0)
	for _, id := range s.order {
		n := s.notifications[id]
		if n.Tenant != key {
			continue
		}
		if f.Kind != nil && n.Kind != *f.Kind {
			continue
		}
		if f.CaseID != "" && n.CaseID != f.CaseID {
			continue
		}
		if f.Unacked && n.Acknowledged() {
			continue
		}
		out = append(out, n)
	}
	// Newest first.
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if f.MaxResults > 0 && len(out) > f.MaxResults {
		out = out[:f.MaxResults]
	}
	return out, nil
}

func (s *InMemoryStore) Acknowledge(ctx context.Context, id, actor string, at time.Time) (Notification, bool, error) {
	key, err := tenant.Require(ctx)
	if err != nil {
		return Notification{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notifications[id]
	if !ok || n.Tenant != key {
		return Notification{}, false, ErrNotFound
	}
	if n.Acknowledged() {
		return n, false, nil
	}
	n.Status = StatusAcknowledged
	n.AcknowledgedAt = &at
	n.AcknowledgedBy = actor
	s.notifications[id] = n
	return n, true, nil
}

func (s *InMemoryStore) RaiseThreshold(_ context.Context, n Notification) (bool, error) {
	k := thresholdKey{caseID: n.CaseID, deadline: n.Deadline, threshold: n.Threshold}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, seen := s.fired[k]; seen {
		return false, nil
	}
	s.fired[k] = struct{}{}
	s.notifications[n.ID] = n
	s.order = append(s.order, n.ID)
	return true, nil
}

func (s *InMemoryStore) ClearThresholds(_ context.Context, caseID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.fired {
		if k.caseID == caseID {
			delete(s.fired, k)
		}
	}
	return nil
}

func (s *InMemoryStore) HasUnacknowledged(_ context.Context, tenantKey string, kind Kind) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, n := range s.notifications {
		if n.Tenant == tenantKey && n.Kind == kind && !n.Acknowledged() {
			return true, nil
		}
	}
	return false, nil
}
