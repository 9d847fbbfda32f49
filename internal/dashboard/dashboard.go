package dashboard

import (
	"context"
	"time"

	"caseline.org/internal/casefile"
	"caseline.org/internal/clock"
	"caseline.org/internal/notify"
	"caseline.org/internal/tenant"
)

// DeadlineEntry is one serious-cause case with live countdowns.
type DeadlineEntry struct {
	CaseID    string           `json:"case_id"`
	Title     string           `json:"title"`
	VIP       bool             `json:"vip"`
	Stage     casefile.Stage   `json:"stage"`
	Decision  notify.Countdown `json:"decision"`
	Dismissal notify.Countdown `json:"dismissal"`
}

// Summary is the tenant dashboard payload. Everything in it is derived at
// read time; nothing is cached or stored.
type Summary struct {
	Tenant            string             `json:"tenant"`
	GeneratedAt       time.Time          `json:"generated_at"`
	TotalCases        int                `json:"total_cases"`
	StatusCounts      map[string]int     `json:"status_counts"`
	StageCounts       map[string]int     `json:"stage_counts"`
	AvgDaysOpen       float64            `json:"avg_days_open"`
	GateCompletion    map[string]float64 `json:"gate_completion"`
	SeriousCause      []DeadlineEntry    `json:"serious_cause"`
	OpenNotifications int                `json:"open_notifications"`
}

// Aggregator assembles the dashboard from the case store and the
// notification engine.
type Aggregator struct {
	cases         casefile.Service
	notifications *notify.Engine
	clk           clock.Clock
}

// New wires the aggregator.
func New(cases casefile.Service, notifications *notify.Engine, clk clock.Clock) *Aggregator {
	if clk == nil {
		clk = clock.System()
	}
	return &Aggregator{cases: cases, notifications: notifications, clk: clk}
}

// Summary builds the caller's dashboard.
func (a *Aggregator) Summary(ctx context.Context) (Summary, error) {
	key, err := tenant.Require(ctx)
	if err != nil {
		return Summary{}, err
	}
	now := a.clk.Now()

	cases, err := a.cases.ListCases(ctx, casefile.Filter{})
	if err != nil {
		return Summary{}, err
	}

	out := Summary{
		Tenant:         key,
		GeneratedAt:    now,
		TotalCases:     len(cases),
		StatusCounts:   make(map[string]int),
		StageCounts:    make(map[string]int),
		GateCompletion: make(map[string]float64),
		SeriousCause:   make([]DeadlineEntry, 0),
	}

	var openDaysSum, openCount int
	reached := make(map[casefile.Gate]int)
	completed := make(map[casefile.Gate]int)

	for _, c := range cases {
		out.StatusCounts[c.Status.String()]++
		out.StageCounts[c.Stage.String()]++

		if c.Status != casefile.StatusClosed {
			openDaysSum += wholeDays(now.Sub(c.CreatedAt))
			openCount++
		}
		for gate, p := range c.Gates {
			if p.ReachedAt != nil {
				reached[gate]++
			}
			if p.CompletedAt != nil {
				completed[gate]++
			}
		}
		if c.SeriousCauseEnabled() && c.Status != casefile.StatusClosed {
			out.SeriousCause = append(out.SeriousCause, DeadlineEntry{
				CaseID:    c.CaseID,
				Title:     c.Title,
				VIP:       c.VIP,
				Stage:     c.Stage,
				Decision:  notify.NewCountdown(c.SeriousCause.DecisionDueAt, now),
				Dismissal: notify.NewCountdown(c.SeriousCause.DismissalDueAt, now),
			})
		}
	}

	if openCount > 0 {
		out.AvgDaysOpen = float64(openDaysSum) / float64(openCount)
	}
	for _, gate := range casefile.Gates {
		out.GateCompletion[gate.String()] = completionRate(reached[gate], completed[gate])
	}

	open, err := a.notifications.List(ctx, notify.ListFilter{Unacked: true})
	if err != nil {
		return Summary{}, err
	}
	out.OpenNotifications = len(open)

	return out, nil
}

// wholeDays floors a case age to full elapsed days.
func wholeDays(d time.Duration) int {
	if d < 0 {
		return 0
	}
	return int(d / (24 * time.Hour))
}

// completionRate returns completed/reached as a percentage clamped to
// [0, 100]. Completion without a recorded reach can happen on backfilled
// records; the clamp keeps the dashboard from showing more than 100%.
func completionRate(reached, completed int) float64 {
	if reached == 0 {
		if completed > 0 {
			return 100
		}
		return 0
	}
	rate := float64(completed) / float64(reached) * 100
	if rate > 100 {
		return 100
	}
	if rate < 0 {
		return 0
	}
	return rate
}
