package casefile

import (
	"errors"
	"fmt"
	"time"
)

// Status is the coarse lifecycle state of a case. All transitions between
// members are reversible until the case is anonymized, which freezes the
// current value permanently.
type Status int

const (
	StatusUnknown Status = iota
	StatusOpen
	StatusOnHold
	StatusClosed
)

func (s Status) String() string {
	switch s {
	case StatusOpen:
		return "OPEN"
	case StatusOnHold:
		return "ON_HOLD"
	case StatusClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// ParseStatus maps the wire value to a Status.
func ParseStatus(s string) Status {
	switch s {
	case "OPEN":
		return StatusOpen
	case "ON_HOLD":
		return StatusOnHold
	case "CLOSED":
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

// Stage is the ordered investigative progression. It advances monotonically
// under normal operation; moving backwards requires explicit rollback
// authorization.
type Stage int

const (
	StageUnknown Stage = iota
	StageIntake
	StageInvestigation
	StageDecision
	StageClosedOut
)

func (s Stage) String() string {
	switch s {
	case StageIntake:
		return "INTAKE"
	case StageInvestigation:
		return "INVESTIGATION"
	case StageDecision:
		return "DECISION"
	case StageClosedOut:
		return "CLOSED_OUT"
	default:
		return "UNKNOWN"
	}
}

// ParseStage maps the wire value to a Stage.
func ParseStage(s string) Stage {
	switch s {
	case "INTAKE":
		return StageIntake
	case "INVESTIGATION":
		return StageInvestigation
	case "DECISION":
		return StageDecision
	case "CLOSED_OUT":
		return StageClosedOut
	default:
		return StageUnknown
	}
}

func (s Stage) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Stage) UnmarshalText(b []byte) error {
	parsed := ParseStage(string(b))
	if parsed == StageUnknown {
		return fmt.Errorf("%w: unknown stage %q", ErrValidation, string(b))
	}
	*s = parsed
	return nil
}

// Gate is a named checkpoint in the assessment funnel. The dashboard reports
// completion rates per gate; the engine only records progress.
type Gate int

const (
	GateUnknown Gate = iota
	GateLegitimacy
	GateCredentialing
	GateAdversarial
)

// Gates lists all known gates in funnel order.
var Gates = []Gate{GateLegitimacy, GateCredentialing, GateAdversarial}

func (g Gate) String() string {
	switch g {
	case GateLegitimacy:
		return "legitimacy"
	case GateCredentialing:
		return "credentialing"
	case GateAdversarial:
		return "adversarial"
	default:
		return "unknown"
	}
}

// ParseGate maps the wire value to a Gate.
func ParseGate(s string) Gate {
	switch s {
	case "legitimacy":
		return GateLegitimacy
	case "credentialing":
		return GateCredentialing
	case "adversarial":
		return GateAdversarial
	default:
		return GateUnknown
	}
}

func (g Gate) MarshalText() ([]byte, error) { return []byte(g.String()), nil }

func (g *Gate) UnmarshalText(b []byte) error {
	parsed := ParseGate(string(b))
	if parsed == GateUnknown {
		return fmt.Errorf("%w: unknown gate %q", ErrValidation, string(b))
	}
	*g = parsed
	return nil
}

// GateProgress records when a case reached and completed a gate.
type GateProgress struct {
	ReachedAt   *time.Time `json:"reached_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// SeriousCause carries the two statutory deadlines attached to a case when
// the serious-cause flag is enabled. Both due timestamps are derived from
// FactsConfirmedAt plus jurisdiction windows and are never edited directly.
type SeriousCause struct {
	FactsConfirmedAt time.Time `json:"facts_confirmed_at"`
	DecisionDueAt    time.Time `json:"decision_due_at"`
	DismissalDueAt   time.Time `json:"dismissal_due_at"`
}

// Provenance of a case record.
const (
	ProvenanceDirect = "direct"
	ProvenanceTriage = "triage"
)

// Case is the unit of investigation work. UUID is assigned once at creation
// and never reassigned, even if the case is anonymized or renumbered; CaseID
// is the operator-facing display identifier.
type Case struct {
	CaseID       string                `json:"case_id"`
	UUID         string                `json:"case_uuid"`
	Tenant       string                `json:"tenant"`
	Title        string                `json:"title"`
	Summary      string                `json:"summary,omitempty"`
	Jurisdiction Jurisdiction          `json:"jurisdiction"`
	VIP          bool                  `json:"vip"`
	Status       Status                `json:"status"`
	Stage        Stage                 `json:"stage"`
	CreatedBy    string                `json:"created_by,omitempty"`
	Provenance   string                `json:"provenance"`
	CreatedAt    time.Time             `json:"created_at"`
	Anonymized   bool                  `json:"is_anonymized"`
	SeriousCause *SeriousCause         `json:"serious_cause,omitempty"`
	Gates        map[Gate]GateProgress `json:"gates,omitempty"`
}

// SeriousCauseEnabled reports whether the dual-deadline record is active.
func (c Case) SeriousCauseEnabled() bool { return c.SeriousCause != nil }

var (
	ErrNotFound          = errors.New("casefile: not found")
	ErrValidation        = errors.New("casefile: invalid input")
	ErrInvalidTransition = errors.New("casefile: invalid transition")
	ErrAlreadyEnabled    = errors.New("casefile: serious cause already enabled")
	ErrNotEnabled        = errors.New("casefile: serious cause not enabled")
	ErrStoreUnavailable  = errors.New("casefile: store unavailable")
)
