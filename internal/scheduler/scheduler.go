package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// TickFunc is invoked on every interval.
type TickFunc func(ctx context.Context) error

// Scheduler drives periodic execution of maintenance jobs (snapshot saves,
// pruning). Tick errors are logged, never propagated; the loop only ends on
// ctx cancellation.
type Scheduler struct {
	name     string
	interval time.Duration
	logger   zerolog.Logger
}

// New constructs a Scheduler instance.
func New(name string, interval time.Duration, logger zerolog.Logger) *Scheduler {
	if interval <= 0 {
		panic("scheduler interval must be positive")
	}
	return &Scheduler{
		name:     name,
		interval: interval,
		logger:   logger.With().Str("component", "scheduler").Str("job", name).Logger(),
	}
}

// Run blocks, invoking the tick function at each interval until ctx is
// cancelled.
func (s *Scheduler) Run(ctx context.Context, tick TickFunc) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.logger.Debug().Msg("executing scheduled tick")
			if err := tick(ctx); err != nil {
				s.logger.Error().Err(err).Msg("tick execution failed")
			}
		}
	}
}
