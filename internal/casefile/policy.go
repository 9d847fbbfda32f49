package casefile

import (
	"fmt"
	"time"
)

// Jurisdiction selects the statutory window lengths for serious-cause
// deadlines. The table is closed: adding a jurisdiction means adding an enum
// member and a policy row, so consumers cannot silently miss one.
type Jurisdiction int

const (
	// JurisdictionDefault is the conservative fallback row used when a case
	// is filed under a jurisdiction without a dedicated policy entry.
	JurisdictionDefault Jurisdiction = iota
	JurisdictionBelgium
	JurisdictionNetherlands
	JurisdictionFrance
)

func (j Jurisdiction) String() string {
	switch j {
	case JurisdictionBelgium:
		return "belgium"
	case JurisdictionNetherlands:
		return "netherlands"
	case JurisdictionFrance:
		return "france"
	default:
		return "default"
	}
}

// ParseJurisdiction maps the wire value to a Jurisdiction. Unknown values
// fall back to the default policy row rather than failing: the console may
// carry jurisdictions the engine has no dedicated rules for.
func ParseJurisdiction(s string) Jurisdiction {
	switch s {
	case "belgium":
		return JurisdictionBelgium
	case "netherlands":
		return JurisdictionNetherlands
	case "france":
		return JurisdictionFrance
	default:
		return JurisdictionDefault
	}
}

func (j Jurisdiction) MarshalText() ([]byte, error) { return []byte(j.String()), nil }

func (j *Jurisdiction) UnmarshalText(b []byte) error {
	*j = ParseJurisdiction(string(b))
	return nil
}

type policyRow struct {
	decisionDays  int
	dismissalDays int
}

// Statutory "days" here are calendar days. Weekends and public holidays are
// deliberately not excluded; the windows are chosen conservatively to absorb
// that simplification.
var jurisdictionPolicy = map[Jurisdiction]policyRow{
	JurisdictionBelgium:     {decisionDays: 3, dismissalDays: 6},
	JurisdictionNetherlands: {decisionDays: 5, dismissalDays: 10},
	JurisdictionFrance:      {decisionDays: 14, dismissalDays: 21},
	JurisdictionDefault:     {decisionDays: 7, dismissalDays: 14},
}

func (j Jurisdiction) policy() policyRow {
	row, ok := jurisdictionPolicy[j]
	if !ok {
		return jurisdictionPolicy[JurisdictionDefault]
	}
	return row
}

// DecisionWindowDays returns the statutory window for taking the dismissal
// decision after facts are confirmed.
func (j Jurisdiction) DecisionWindowDays() int { return j.policy().decisionDays }

// DismissalWindowDays returns the statutory window for effecting the
// dismissal after facts are confirmed.
func (j Jurisdiction) DismissalWindowDays() int { return j.policy().dismissalDays }

// SeriousCauseDueDates derives both statutory deadlines from the confirmed
// facts timestamp. Calendar-day arithmetic (AddDate) keeps the due moment on
// the same wall-clock time N days later, exact to the day boundary, instead
// of adding N*24h of elapsed seconds across DST shifts.
func SeriousCauseDueDates(factsConfirmedAt time.Time, j Jurisdiction) (decisionDueAt, dismissalDueAt time.Time) {
	row := j.policy()
	decisionDueAt = factsConfirmedAt.AddDate(0, 0, row.decisionDays)
	dismissalDueAt = factsConfirmedAt.AddDate(0, 0, row.dismissalDays)
	return decisionDueAt, dismissalDueAt
}

// NewSeriousCause builds the sub-record for a case in the given jurisdiction.
func NewSeriousCause(factsConfirmedAt time.Time, j Jurisdiction) *SeriousCause {
	decision, dismissal := SeriousCauseDueDates(factsConfirmedAt, j)
	return &SeriousCause{
		FactsConfirmedAt: factsConfirmedAt,
		DecisionDueAt:    decision,
		DismissalDueAt:   dismissal,
	}
}

func validateFactsTimestamp(factsConfirmedAt, now time.Time) error {
	if factsConfirmedAt.IsZero() {
		return fmt.Errorf("%w: facts_confirmed_at is required", ErrValidation)
	}
	if factsConfirmedAt.After(now) {
		return fmt.Errorf("%w: facts cannot be confirmed in the future", ErrValidation)
	}
	return nil
}
