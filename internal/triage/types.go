package triage

import (
	"errors"
	"fmt"
	"time"
)

// Status is the ticket lifecycle. Transitions between the three states are
// free; what is guarded is the case link, which is set at most once by
// Convert and never cleared.
type Status int

const (
	StatusUnknown Status = iota
	StatusNew
	StatusTriaged
	StatusClosed
)

func (s Status) String() string {
	switch s {
	case StatusNew:
		return "new"
	case StatusTriaged:
		return "triaged"
	case StatusClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ParseStatus maps the wire value to a Status.
func ParseStatus(s string) Status {
	switch s {
	case "new":
		return StatusNew
	case "triaged":
		return StatusTriaged
	case "closed":
		return StatusClosed
	default:
		return StatusUnknown
	}
}

func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Status) UnmarshalText(b []byte) error {
	parsed := ParseStatus(string(b))
	if parsed == StatusUnknown {
		return fmt.Errorf("%w: unknown status %q", ErrValidation, string(b))
	}
	*s = parsed
	return nil
}

// Ticket is a raw intake report awaiting triage. Conversion stamps the
// resulting case id on the ticket so retries can return it without creating
// a second case.
type Ticket struct {
	TicketID     string     `json:"ticket_id"`
	Tenant       string     `json:"tenant"`
	Subject      string     `json:"subject,omitempty"`
	Body         string     `json:"body"`
	Reporter     string     `json:"reporter,omitempty"`
	Channel      string     `json:"channel,omitempty"`
	Jurisdiction string     `json:"jurisdiction,omitempty"`
	VIP          bool       `json:"vip"`
	Status       Status     `json:"status"`
	Notes        string     `json:"notes,omitempty"`
	LinkedCaseID string     `json:"linked_case_id,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	ConvertedAt  *time.Time `json:"converted_at,omitempty"`
}

// Converted reports whether the ticket has been promoted to a case.
func (t Ticket) Converted() bool { return t.LinkedCaseID != "" }

var (
	ErrNotFound         = errors.New("triage: not found")
	ErrValidation       = errors.New("triage: invalid input")
	ErrStoreUnavailable = errors.New("triage: store unavailable")
)
