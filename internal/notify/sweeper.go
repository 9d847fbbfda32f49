package notify

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"

	"caseline.org/internal/obs"
)

// Sweeper runs the deadline sweep on a cron schedule.
type Sweeper struct {
	engine   *Engine
	schedule string
	cron     *cron.Cron
}

// NewSweeper builds a sweeper for the given cron expression, for example
// "*/5 * * * *" for every five minutes.
func NewSweeper(engine *Engine, schedule string) *Sweeper {
	return &Sweeper{engine: engine, schedule: schedule, cron: cron.New()}
}

// Start registers the sweep job and launches the scheduler.
func (s *Sweeper) Start() error {
	_, err := s.cron.AddFunc(s.schedule, func() {
		raised, err := s.engine.Sweep(context.Background())
		if err != nil {
			obs.LogComponent("notify", "sweep_failed", map[string]any{"error": err.Error()})
			return
		}
		if raised > 0 {
			obs.LogComponent("notify", "sweep_completed", map[string]any{"raised": raised})
		}
	})
	if err != nil {
		return fmt.Errorf("sweeper: invalid schedule %q: %w", s.schedule, err)
	}
	s.cron.Start()
	return nil
}

// Stop halts the scheduler and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}
