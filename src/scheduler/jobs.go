// Package scheduler runs the periodic background jobs: reference cache
// refreshes and storage tiering.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"screener-engine/src/logger"
	"screener-engine/src/reference"
	"screener-engine/src/tiering"

	"github.com/go-co-op/gocron"
)

// Cadences holds how often each job runs.
type Cadences struct {
	DailyReference  time.Duration
	MinuteReference time.Duration
	Tiering         time.Duration
}

type job struct {
	name  string
	every time.Duration
	run   func(context.Context) error
}

// Scheduler manages scheduled jobs
type Scheduler struct {
	cron      *gocron.Scheduler
	ctx       context.Context
	cancel    context.CancelFunc
	refresher *reference.Refresher
	tiering   *tiering.Manager
	cadences  Cadences
	logger    *logger.Logger
	now       func() time.Time
}

// -----------------------------------------------------------------------------

// NewScheduler creates a new scheduler instance. tier may be nil when no
// archive is configured.
func NewScheduler(refresher *reference.Refresher, tier *tiering.Manager, cadences Cadences, log *logger.Logger) *Scheduler {
	cron := gocron.NewScheduler(time.UTC)
	cron.SingletonModeAll()
	return &Scheduler{
		cron:      cron,
		refresher: refresher,
		tiering:   tier,
		cadences:  cadences,
		logger:    log,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// -----------------------------------------------------------------------------

// Start registers every job and starts them. Jobs stop when ctx is done or
// Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	jobs := []job{
		{"daily references", s.cadences.DailyReference, s.refreshDaily},
		{"minute references", s.cadences.MinuteReference, s.refreshMinute},
	}
	if s.tiering != nil {
		jobs = append(jobs, job{"tiering", s.cadences.Tiering, s.runTiering})
	}

	for _, j := range jobs {
		if j.every <= 0 {
			return fmt.Errorf("%s: cadence must be greater than 0", j.name)
		}
		if _, err := s.cron.Every(j.every).Do(s.wrap(j.name, j.run)); err != nil {
			return fmt.Errorf("schedule %s: %w", j.name, err)
		}
	}

	s.cron.StartAsync()
	if s.logger != nil {
		s.logger.Info("scheduler started with %d jobs", len(jobs))
	}
	return nil
}

// -----------------------------------------------------------------------------

// Stop stops the scheduler
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.cron.Stop()
	if s.logger != nil {
		s.logger.Info("scheduler stopped")
	}
}

// -----------------------------------------------------------------------------

func (s *Scheduler) wrap(name string, run func(context.Context) error) func() {
	return func() {
		if s.ctx.Err() != nil {
			return
		}
		start := time.Now()
		if err := run(s.ctx); err != nil && s.logger != nil {
			s.logger.Error("%s job failed: %v", name, err)
			return
		}
		if s.logger != nil {
			s.logger.Debug("%s job finished in %v", name, time.Since(start))
		}
	}
}

// -----------------------------------------------------------------------------

func (s *Scheduler) refreshDaily(ctx context.Context) error {
	n, err := s.refresher.RefreshDaily(ctx)
	if err == nil && s.logger != nil {
		s.logger.Info("daily references refreshed for %d instruments", n)
	}
	return err
}

func (s *Scheduler) refreshMinute(ctx context.Context) error {
	_, err := s.refresher.RefreshMinute(ctx)
	return err
}

func (s *Scheduler) runTiering(ctx context.Context) error {
	_, err := s.tiering.Run(ctx, s.now())
	return err
}
