package scanner

import (
	"context"
	"errors"
	"fmt"

	"github.com/robfig/cron/v3"
)

// ErrDisabled is returned by NewScheduler when scanner.enabled is false.
var ErrDisabled = errors.New("scanner is disabled in config")

// Scheduler runs Sweep on the configured cron schedule, evaluated in the
// configured timezone.
type Scheduler struct {
	scanner Scanner
	cron    *cron.Cron
}

func NewScheduler(s Scanner) (*Scheduler, error) {
	cfg := s.Engine.Config
	if !cfg.Scanner.Enabled {
		return nil, ErrDisabled
	}
	c := cron.New(cron.WithLocation(cfg.Location()))
	sched := &Scheduler{scanner: s, cron: c}
	if _, err := c.AddFunc(cfg.Scanner.Schedule, sched.tick); err != nil {
		return nil, fmt.Errorf("scanner.schedule %q: %w", cfg.Scanner.Schedule, err)
	}
	return sched, nil
}

func (s *Scheduler) tick() {
	today := s.scanner.Engine.Today()
	if _, err := s.scanner.Sweep(context.Background(), today); err != nil {
		s.scanner.logger().Error("scheduled sweep failed", "err", err)
	}
}

// Run starts the schedule and blocks until ctx is done, then waits for a
// running sweep to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	s.cron.Start()
	s.scanner.logger().Info("scanner scheduled", "schedule", s.scanner.Engine.Config.Scanner.Schedule)
	<-ctx.Done()
	<-s.cron.Stop().Done()
	return nil
}
