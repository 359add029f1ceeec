/*
scheduler.go - Cron trigger for the daily batch

PURPOSE:
  Runs the end-of-day batch (recompute, penalize, notify) for "today" on a
  cron schedule, in the configured time zone.

DESIGN:
  - robfig/cron with the standard 5-field parser
  - SkipIfStillRunning: a slow run is never overlapped by the next tick
  - Recover: a panic inside a run is logged, the scheduler keeps going
  - RunNow runs the same job synchronously (used by tests and the CLI)

CONFIGURATION:
  batch.enabled, batch.cron (default "0 20 * * *"), time_zone

USAGE:
  sched, err := NewScheduler(runner, "0 20 * * *", loc, logger)
  sched.Start()
  // ... later
  <-sched.Stop().Done()

SEE ALSO:
  - batch/runner.go: RunDay
  - cmd/worktrack/main.go: Starts and stops the scheduler
*/
package api

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/worktrack/engine/batch"
	"github.com/worktrack/engine/generic"
)

// DayRunner runs the batch for one day.
type DayRunner interface {
	RunDay(ctx context.Context, day generic.Date, opts batch.Options) (*batch.Run, error)
}

// Scheduler triggers the daily batch.
type Scheduler struct {
	runner DayRunner
	loc    *time.Location
	logger *zap.Logger
	cron   *cron.Cron
	now    func() time.Time

	mu      sync.Mutex
	lastRun *batch.Run
}

// NewScheduler validates spec and registers the batch job.
func NewScheduler(runner DayRunner, spec string, loc *time.Location, logger *zap.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Scheduler{
		runner: runner,
		loc:    loc,
		logger: logger,
		now:    time.Now,
	}
	cronLogger := cronLog{logger}
	s.cron = cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(cronLogger),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)
	if _, err := s.cron.AddFunc(spec, func() { s.RunNow(context.Background()) }); err != nil {
		return nil, fmt.Errorf("invalid batch schedule %q: %w", spec, err)
	}
	return s, nil
}

// Start begins the scheduler in its own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
	for _, e := range s.cron.Entries() {
		s.logger.Info("batch scheduler started", zap.Time("next_run", e.Next))
	}
}

// Stop stops scheduling. The returned context is done once a running job
// has finished.
func (s *Scheduler) Stop() context.Context {
	ctx := s.cron.Stop()
	s.logger.Info("batch scheduler stopped")
	return ctx
}

// RunNow runs the batch for today in the scheduler's location.
func (s *Scheduler) RunNow(ctx context.Context) (*batch.Run, error) {
	day := generic.DateOf(s.now().In(s.loc))
	run, err := s.runner.RunDay(ctx, day, batch.Options{Trigger: "cron"})
	if err != nil {
		s.logger.Error("scheduled batch failed", zap.Stringer("date", day), zap.Error(err))
	}
	if run != nil {
		s.mu.Lock()
		s.lastRun = run
		s.mu.Unlock()
	}
	return run, err
}

// NextRun returns when the batch fires next, or the zero time before Start.
func (s *Scheduler) NextRun() time.Time {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

// LastRun returns the most recent scheduled run, or nil.
func (s *Scheduler) LastRun() *batch.Run {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun
}

// cronLog adapts zap to cron.Logger.
type cronLog struct {
	logger *zap.Logger
}

func (l cronLog) Info(msg string, keysAndValues ...any) {
	l.logger.Sugar().Debugw("cron: "+msg, keysAndValues...)
}

func (l cronLog) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Sugar().Errorw("cron: "+msg, append(keysAndValues, "error", err)...)
}
