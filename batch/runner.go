/*
runner.go - Daily batch: reconcile, penalize, notify

PURPOSE:
  Drives the end-of-day pipeline for one calendar day:
    1. Recompute the summary of every active employee
    2. Apply the penalty engine to every current lateness record
    3. Queue a notification for every penalty created
  Each day is recorded as a Run for audit and the admin UI.

FAILURE ISOLATION:
  A failing employee or lateness record is logged with its id and the day,
  counted on the Run, and skipped. One bad row never aborts the day.

DRY RUN:
  Recomputes summaries only. No penalties are written, nothing is sent.

IDEMPOTENCY:
  Re-running a day is safe: summaries are overwritten and the penalty
  engine never charges the same lateness record twice.

SEE ALSO:
  - attendance/reconcile.go: Recompute
  - penalty/engine.go: ApplyForLateness
  - api/scheduler.go: Cron trigger
  - cmd/worktrack/main.go: run-penalties command
*/
package batch

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/worktrack/engine/attendance"
	"github.com/worktrack/engine/generic"
	"github.com/worktrack/engine/notify"
	"github.com/worktrack/engine/penalty"
)

// DefaultWindowDays is the window of RunWindow when neither the call nor
// Runner.WindowDays gives one.
const DefaultWindowDays = 7

type RunStatus string

const (
	StatusRunning   RunStatus = "running"
	StatusCompleted RunStatus = "completed"
	StatusFailed    RunStatus = "failed"
)

// Run is the audit record of one batch day.
type Run struct {
	ID                string       `json:"id"`
	Day               generic.Date `json:"day"`
	DryRun            bool         `json:"dry_run"`
	Trigger           string       `json:"trigger"`
	Status            RunStatus    `json:"status"`
	Employees         int          `json:"employees"`
	Recomputed        int          `json:"recomputed"`
	RecomputeFailures int          `json:"recompute_failures"`
	Lateness          int          `json:"lateness"`
	PenaltiesCreated  int          `json:"penalties_created"`
	PenaltyFailures   int          `json:"penalty_failures"`
	Notified          int          `json:"notified"`
	Error             string       `json:"error,omitempty"`
	StartedAt         time.Time    `json:"started_at"`
	CompletedAt       *time.Time   `json:"completed_at,omitempty"`
}

// Store is the persistence the runner reads and writes directly.
type Store interface {
	ListActiveEmployees(ctx context.Context) ([]attendance.Employee, error)
	// CurrentLateness returns the non-superseded lateness records of day.
	CurrentLateness(ctx context.Context, day generic.Date) ([]attendance.LatenessRecord, error)
	GetEmployee(ctx context.Context, id string) (*attendance.Employee, error)
	SaveBatchRun(ctx context.Context, run Run) error
}

// Notifier accepts messages for asynchronous delivery.
type Notifier interface {
	Enqueue(text string) bool
}

// Options control one invocation.
type Options struct {
	DryRun  bool
	Trigger string // cron, manual, cli
}

// Runner executes batch days. Notifier and Currency are optional.
type Runner struct {
	Store      Store
	Reconciler *attendance.Reconciler
	Engine     *penalty.Engine
	Notifier   Notifier
	Currency   func() string

	// WindowDays is the RunWindow length when the caller passes none
	// (batch.window_days).
	WindowDays int

	logger *zap.Logger
	now    func() time.Time
}

func NewRunner(store Store, reconciler *attendance.Reconciler, engine *penalty.Engine, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		Store:      store,
		Reconciler: reconciler,
		Engine:     engine,
		logger:     logger,
		now:        time.Now,
	}
}

// RunWindow runs the days-long window ending at end, oldest day first.
func (r *Runner) RunWindow(ctx context.Context, end generic.Date, days int, opts Options) ([]Run, error) {
	if days <= 0 {
		days = r.WindowDays
	}
	if days <= 0 {
		days = DefaultWindowDays
	}
	window := generic.LastNDays(end, days)
	r.logger.Info("batch window started",
		zap.Stringer("window", window),
		zap.Bool("dry_run", opts.DryRun),
	)

	runs := make([]Run, 0, days)
	for _, day := range window.Days() {
		if err := ctx.Err(); err != nil {
			return runs, err
		}
		run, err := r.RunDay(ctx, day, opts)
		if err != nil {
			return runs, err
		}
		runs = append(runs, *run)
	}
	return runs, nil
}

// RunDay processes one day. The returned error is reserved for failures
// that prevented the day from running at all; per-row failures are counted
// on the Run.
func (r *Runner) RunDay(ctx context.Context, day generic.Date, opts Options) (*Run, error) {
	if opts.Trigger == "" {
		opts.Trigger = "manual"
	}
	run := Run{
		ID:        generic.NewID(),
		Day:       day,
		DryRun:    opts.DryRun,
		Trigger:   opts.Trigger,
		Status:    StatusRunning,
		StartedAt: r.now().UTC(),
	}
	if err := r.Store.SaveBatchRun(ctx, run); err != nil {
		return nil, fmt.Errorf("save batch run: %w", err)
	}

	if err := r.process(ctx, &run); err != nil {
		run.Status = StatusFailed
		run.Error = err.Error()
		r.finish(ctx, &run)
		return &run, fmt.Errorf("batch %s: %w", day, err)
	}

	run.Status = StatusCompleted
	r.finish(ctx, &run)
	r.logger.Info("batch day completed",
		zap.Stringer("date", day),
		zap.Bool("dry_run", run.DryRun),
		zap.Int("employees", run.Employees),
		zap.Int("recompute_failures", run.RecomputeFailures),
		zap.Int("lateness", run.Lateness),
		zap.Int("penalties", run.PenaltiesCreated),
		zap.Int("notified", run.Notified),
	)
	return &run, nil
}

func (r *Runner) process(ctx context.Context, run *Run) error {
	employees, err := r.Store.ListActiveEmployees(ctx)
	if err != nil {
		return fmt.Errorf("list employees: %w", err)
	}
	run.Employees = len(employees)

	byID := make(map[string]attendance.Employee, len(employees))
	for _, emp := range employees {
		byID[emp.ID] = emp
		if _, err := r.Reconciler.Recompute(ctx, emp, run.Day); err != nil {
			run.RecomputeFailures++
			r.logger.Warn("recompute failed",
				zap.String("employee_id", emp.ID),
				zap.Stringer("date", run.Day),
				zap.Error(err),
			)
			continue
		}
		run.Recomputed++
	}

	records, err := r.Store.CurrentLateness(ctx, run.Day)
	if err != nil {
		return fmt.Errorf("list lateness: %w", err)
	}
	run.Lateness = len(records)
	if run.DryRun {
		return nil
	}

	for _, lateness := range records {
		p, _, err := r.Engine.ApplyForLateness(ctx, lateness)
		if err != nil {
			run.PenaltyFailures++
			r.logger.Warn("penalty failed",
				zap.String("lateness_id", lateness.ID),
				zap.String("employee_id", lateness.EmployeeID),
				zap.Stringer("date", run.Day),
				zap.Error(err),
			)
			continue
		}
		if p == nil {
			continue
		}
		run.PenaltiesCreated++
		if r.notify(ctx, byID, lateness, *p) {
			run.Notified++
		}
	}
	return nil
}

func (r *Runner) notify(ctx context.Context, byID map[string]attendance.Employee, lateness attendance.LatenessRecord, p penalty.Penalty) bool {
	if r.Notifier == nil {
		return false
	}
	emp, ok := byID[p.EmployeeID]
	if !ok {
		found, err := r.Store.GetEmployee(ctx, p.EmployeeID)
		if err != nil || found == nil {
			r.logger.Warn("notification skipped: employee not loaded", zap.String("employee_id", p.EmployeeID))
			return false
		}
		emp = *found
	}
	currency := ""
	if r.Currency != nil {
		currency = r.Currency()
	}
	return r.Notifier.Enqueue(notify.FormatPenaltyMessage(emp, lateness.MinutesLate, p, currency))
}

func (r *Runner) finish(ctx context.Context, run *Run) {
	completed := r.now().UTC()
	run.CompletedAt = &completed
	if err := r.Store.SaveBatchRun(ctx, *run); err != nil {
		r.logger.Error("save batch run failed", zap.String("run_id", run.ID), zap.Error(err))
	}
}
