package scheduler

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// TickFunc is invoked on every interval.
type TickFunc func(ctx context.Context) error

// Options tune loop behaviour.
type Options struct {
	Name         string
	Interval     time.Duration
	Immediate    bool // fire once at startup before the first interval elapses
	StartupDelay time.Duration
}

// Scheduler drives a periodic job on a fixed interval. A tick that would
// overlap a still-running previous tick is skipped, not queued: concurrent
// cycles of the same loop are never allowed.
type Scheduler struct {
	opts    Options
	logger  zerolog.Logger
	running atomic.Bool
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) *Scheduler {
	if opts.Interval <= 0 {
		panic("scheduler interval must be positive")
	}
	return &Scheduler{
		opts:   opts,
		logger: logger.With().Str("component", "scheduler").Str("loop", opts.Name).Logger(),
	}
}

// Run blocks, invoking the tick function on each interval until ctx is
// cancelled. Tick errors are logged, never propagated.
func (s *Scheduler) Run(ctx context.Context, tick TickFunc) error {
	if s.opts.StartupDelay > 0 {
		timer := time.NewTimer(s.opts.StartupDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	if s.opts.Immediate {
		s.launch(ctx, tick)
	}

	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.launch(ctx, tick)
		}
	}
}

func (s *Scheduler) launch(ctx context.Context, tick TickFunc) {
	if !s.running.CompareAndSwap(false, true) {
		s.logger.Warn().Msg("previous tick still running, skipping this interval")
		return
	}

	go func() {
		defer s.running.Store(false)
		if err := tick(ctx); err != nil {
			s.logger.Error().Err(err).Msg("tick execution failed")
		}
	}()
}
