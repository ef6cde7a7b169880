package worker

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

// Runner is a job the scheduler triggers. *RefreshJob implements it.
type Runner interface {
	Run(ctx context.Context) *RefreshResult
}

// SchedulerConfig holds configuration for the Scheduler.
type SchedulerConfig struct {
	Job    Runner
	Logger zerolog.Logger

	// Interval between periodic runs (default: 10 minutes).
	Interval time.Duration

	// InitialDelay before the first run after start (default: 30 seconds;
	// negative runs immediately).
	InitialDelay time.Duration

	// Clock drives the delay and ticker (default: real clock).
	Clock clockwork.Clock
}

// Scheduler runs a job once after an initial delay and then on a fixed
// interval. Runs never overlap.
type Scheduler struct {
	job          Runner
	logger       zerolog.Logger
	interval     time.Duration
	initialDelay time.Duration
	clock        clockwork.Clock
}

// NewScheduler creates a new scheduler.
func NewScheduler(cfg SchedulerConfig) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Minute
	}
	if cfg.InitialDelay < 0 {
		cfg.InitialDelay = 0
	} else if cfg.InitialDelay == 0 {
		cfg.InitialDelay = 30 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return &Scheduler{
		job:          cfg.Job,
		logger:       cfg.Logger,
		interval:     cfg.Interval,
		initialDelay: cfg.InitialDelay,
		clock:        cfg.Clock,
	}
}

// Start blocks running the job until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.Info().
		Dur("interval", s.interval).
		Dur("initial_delay", s.initialDelay).
		Msg("starting refresh scheduler")

	delay := s.clock.NewTimer(s.initialDelay)
	defer delay.Stop()
	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("refresh scheduler stopped")
			return ctx.Err()
		case <-delay.Chan():
			s.logger.Debug().Msg("running initial refresh")
			s.job.Run(ctx)
		case <-ticker.Chan():
			s.job.Run(ctx)
		}
	}
}
