package notify

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies a notification.
type Kind int

const (
	KindUnknown Kind = iota
	KindDeadlineApproaching
	KindDeadlineOverdue
	KindStageStalled
	KindVolumeSpike
)

func (k Kind) String() string {
	switch k {
	case KindDeadlineApproaching:
		return "deadline_approaching"
	case KindDeadlineOverdue:
		return "deadline_overdue"
	case KindStageStalled:
		return "stage_stalled"
	case KindVolumeSpike:
		return "volume_spike"
	default:
		return "unknown"
	}
}

// ParseKind maps the wire value to a Kind.
func ParseKind(s string) Kind {
	switch s {
	case "deadline_approaching":
		return KindDeadlineApproaching
	case "deadline_overdue":
		return KindDeadlineOverdue
	case "stage_stalled":
		return KindStageStalled
	case "volume_spike":
		return KindVolumeSpike
	default:
		return KindUnknown
	}
}

func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *Kind) UnmarshalText(b []byte) error {
	parsed := ParseKind(string(b))
	if parsed == KindUnknown {
		return fmt.Errorf("%w: unknown kind %q", ErrValidation, string(b))
	}
	*k = parsed
	return nil
}

// Severity orders notifications for operator attention.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityWarning:
		return "warning"
	case SeverityCritical:
		return "critical"
	default:
		return "info"
	}
}

func (s Severity) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Severity) UnmarshalText(b []byte) error {
	switch string(b) {
	case "info":
		*s = SeverityInfo
	case "warning":
		*s = SeverityWarning
	case "critical":
		*s = SeverityCritical
	default:
		return fmt.Errorf("%w: unknown severity %q", ErrValidation, string(b))
	}
	return nil
}

// DeadlineKind names which of the two statutory deadlines triggered a
// deadline notification.
type DeadlineKind int

const (
	DeadlineNone DeadlineKind = iota
	DeadlineDecision
	DeadlineDismissal
)

func (d DeadlineKind) String() string {
	switch d {
	case DeadlineDecision:
		return "decision"
	case DeadlineDismissal:
		return "dismissal"
	default:
		return "none"
	}
}

func (d DeadlineKind) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

func (d *DeadlineKind) UnmarshalText(b []byte) error {
	switch string(b) {
	case "decision":
		*d = DeadlineDecision
	case "dismissal":
		*d = DeadlineDismissal
	case "none", "":
		*d = DeadlineNone
	default:
		return fmt.Errorf("%w: unknown deadline kind %q", ErrValidation, string(b))
	}
	return nil
}

// Threshold identifies which trigger point produced a deadline notification.
// The sweep raises each (case, deadline, threshold) tuple at most once.
type Threshold string

const (
	ThresholdApproaching Threshold = "approaching"
	ThresholdOverdue     Threshold = "overdue"
)

// Status is the one-way delivery lifecycle. With no scheduling delay
// configured the engine marks a notification sent the moment it is raised, so
// pending only ever appears if a delivery queue is wired in later.
type Status int

const (
	StatusPending Status = iota
	StatusSent
	StatusAcknowledged
)

func (s Status) String() string {
	switch s {
	case StatusSent:
		return "sent"
	case StatusAcknowledged:
		return "acknowledged"
	default:
		return "pending"
	}
}

func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Status) UnmarshalText(b []byte) error {
	switch string(b) {
	case "pending", "":
		*s = StatusPending
	case "sent":
		*s = StatusSent
	case "acknowledged":
		*s = StatusAcknowledged
	default:
		return fmt.Errorf("%w: unknown status %q", ErrValidation, string(b))
	}
	return nil
}

// Notification is one raised alert. Acknowledging is idempotent: the first
// acknowledgement records the actor and timestamp, later ones are no-ops.
type Notification struct {
	ID             string       `json:"notification_id"`
	Tenant         string       `json:"tenant"`
	CaseID         string       `json:"case_id,omitempty"`
	Kind           Kind         `json:"kind"`
	Severity       Severity     `json:"severity"`
	Deadline       DeadlineKind `json:"deadline,omitempty"`
	Threshold      Threshold    `json:"threshold,omitempty"`
	RecipientRole  string       `json:"recipient_role,omitempty"`
	Status         Status       `json:"status"`
	DueAt          *time.Time   `json:"due_at,omitempty"`
	Message        string       `json:"message"`
	CreatedAt      time.Time    `json:"created_at"`
	SentAt         *time.Time   `json:"sent_at,omitempty"`
	AcknowledgedAt *time.Time   `json:"acknowledged_at,omitempty"`
	AcknowledgedBy string       `json:"acknowledged_by,omitempty"`
}

// Acknowledged reports whether the notification reached its terminal state.
func (n Notification) Acknowledged() bool { return n.Status == StatusAcknowledged }

// ListFilter narrows List.
type ListFilter struct {
	Kind       *Kind
	CaseID     string
	Unacked    bool
	MaxResults int
}

var (
	ErrNotFound         = errors.New("notify: not found")
	ErrValidation       = errors.New("notify: invalid input")
	ErrStoreUnavailable = errors.New("notify: store unavailable")
)
