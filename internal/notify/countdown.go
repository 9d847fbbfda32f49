package notify

import (
	"fmt"
	"time"
)

// Countdown is a derived view of one deadline at a point in time. It is never
// stored; callers recompute it on every read.
type Countdown struct {
	DueAt     time.Time `json:"due_at"`
	Remaining string    `json:"remaining"`
	Overdue   bool      `json:"overdue"`
}

// NewCountdown renders the time left until due. Under a day the display
// switches to whole hours; above that it shows days rounded up, so "2d" means
// the deadline falls within the next two days, never that two full days are
// guaranteed.
func NewCountdown(dueAt, now time.Time) Countdown {
	// Exactly at the due moment the deadline is already missed.
	left := dueAt.Sub(now)
	if left <= 0 {
		return Countdown{DueAt: dueAt, Remaining: formatSpan(-left) + " overdue", Overdue: true}
	}
	return Countdown{DueAt: dueAt, Remaining: formatSpan(left)}
}

func formatSpan(d time.Duration) string {
	if d < 24*time.Hour {
		hours := int(d / time.Hour)
		return fmt.Sprintf("%dh", hours)
	}
	days := int((d + 24*time.Hour - 1) / (24 * time.Hour))
	return fmt.Sprintf("%dd", days)
}
