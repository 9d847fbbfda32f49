package stream

import (
	"context"
	"sync"
	"time"

	"caseline.org/internal/notify"
)

// AlertEvent is the wire shape pushed to live dashboard clients when a
// notification is raised.
type AlertEvent struct {
	NotificationID string    `json:"notification_id"`
	Tenant         string    `json:"tenant"`
	CaseID         string    `json:"case_id,omitempty"`
	Kind           string    `json:"kind"`
	Severity       string    `json:"severity"`
	Message        string    `json:"message"`
	RaisedAt       time.Time `json:"raised_at"`
}

// Stream fan-outs alert events to all active subscribers (SSE clients).
type Stream struct {
	mu   sync.RWMutex
	subs map[int]chan AlertEvent
	next int
}

// New initialises an empty stream.
func New() *Stream {
	return &Stream{subs: make(map[int]chan AlertEvent)}
}

// Subscribe registers a subscriber and returns a channel which will receive
// events. The channel is closed when the provided context ends.
func (s *Stream) Subscribe(ctx context.Context) <-chan AlertEvent {
	ch := make(chan AlertEvent, 16)

	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = ch
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, id)
		close(ch)
		s.mu.Unlock()
	}()

	return ch
}

// Publish fan-outs the event to all subscribers.
func (s *Stream) Publish(evt AlertEvent) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subs {
		select {
		case ch <- evt:
		default:
			// Drop when subscriber is slow to avoid blocking.
		}
	}
}

// Alert adapts a raised notification into a published event, satisfying the
// notification engine's sink interface.
func (s *Stream) Alert(n notify.Notification) {
	s.Publish(AlertEvent{
		NotificationID: n.ID,
		Tenant:         n.Tenant,
		CaseID:         n.CaseID,
		Kind:           n.Kind.String(),
		Severity:       n.Severity.String(),
		Message:        n.Message,
		RaisedAt:       n.CreatedAt,
	})
}

var _ notify.AlertSink = (*Stream)(nil)
