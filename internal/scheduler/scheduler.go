package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/charmbracelet/log"

	"github.com/elonfeng/scout/internal/logging"
	"github.com/elonfeng/scout/pkg/pipeline"
)

// Runner is the part of the pipeline the scheduler drives.
type Runner interface {
	Collect(ctx context.Context) (int, error)
	Enrich(ctx context.Context) (int, error)
	RunCycle(ctx context.Context) (*pipeline.Report, error)
}

// Scheduler runs collect, enrich and a scoring cycle on a fixed interval.
type Scheduler struct {
	runner   Runner
	interval time.Duration
	logger   *log.Logger
}

// New creates a new scheduler. A zero interval means hourly.
func New(r Runner, interval time.Duration, logger *log.Logger) *Scheduler {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Scheduler{
		runner:   r,
		interval: interval,
		logger:   logging.OrDiscard(logger),
	}
}

// Run starts the scheduler loop. Blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Run immediately on start.
	s.logger.Info("initial pass")
	s.Tick(ctx)

	s.logger.Info("running", "interval", s.interval)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("stopped")
			return ctx.Err()
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs one collect, enrich and cycle pass. A collector outage across
// every source skips the cycle until the next tick; other failures are
// logged and the pass continues.
func (s *Scheduler) Tick(ctx context.Context) {
	if _, err := s.runner.Collect(ctx); err != nil {
		s.logger.Error("collection failed, retrying next tick", "err", err)
		return
	}
	if n, err := s.runner.Enrich(ctx); err != nil {
		s.logger.Warn("enrichment incomplete", "enriched", n, "err", err)
	}

	rep, err := s.runner.RunCycle(ctx)
	switch {
	case errors.Is(err, pipeline.ErrCycleRunning):
		s.logger.Warn("previous cycle still running, skipping")
	case err != nil:
		s.logger.Error("cycle failed", "err", err)
	default:
		s.logger.Info("cycle done", "cycle_id", rep.CycleID, "events", len(rep.Events), "themes", rep.Themes)
	}
}
