package api

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/worktrack/engine/batch"
	"github.com/worktrack/engine/generic"
)

type fakeDayRunner struct {
	mu    sync.Mutex
	calls []batch.Options
	days  []generic.Date
	err   error
}

func (f *fakeDayRunner) RunDay(ctx context.Context, day generic.Date, opts batch.Options) (*batch.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, opts)
	f.days = append(f.days, day)
	if f.err != nil {
		return nil, f.err
	}
	return &batch.Run{Day: day, Trigger: opts.Trigger, Status: batch.StatusCompleted}, nil
}

func TestScheduler_InvalidSpec(t *testing.T) {
	_, err := NewScheduler(&fakeDayRunner{}, "every evening", tashkent, zap.NewNop())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid batch schedule")
}

func TestScheduler_RunNowUsesLocalDay(t *testing.T) {
	runner := &fakeDayRunner{}
	s, err := NewScheduler(runner, "0 20 * * *", tashkent, zap.NewNop())
	require.NoError(t, err)

	// GIVEN: 23:30 UTC, already the next day at UTC+5
	s.now = func() time.Time { return time.Date(2025, time.March, 10, 23, 30, 0, 0, time.UTC) }

	// WHEN: The job runs
	run, err := s.RunNow(context.Background())

	// THEN: It covers the local day
	require.NoError(t, err)
	assert.Equal(t, "2025-03-11", run.Day.String())
	assert.Equal(t, "cron", runner.calls[0].Trigger)
	assert.False(t, runner.calls[0].DryRun)
	assert.Same(t, run, s.LastRun())
}

func TestScheduler_FailedRunKeepsLastRun(t *testing.T) {
	runner := &fakeDayRunner{}
	s, err := NewScheduler(runner, "@daily", tashkent, nil)
	require.NoError(t, err)

	first, err := s.RunNow(context.Background())
	require.NoError(t, err)

	runner.err = errors.New("database is locked")
	_, err = s.RunNow(context.Background())

	require.Error(t, err)
	assert.Same(t, first, s.LastRun())
}

func TestScheduler_StartStop(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	s, err := NewScheduler(&fakeDayRunner{}, "0 20 * * *", tashkent, zap.NewNop())
	require.NoError(t, err)

	s.Start()
	ctx := s.Stop()

	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestBatchSchedule_Endpoint(t *testing.T) {
	ts := newTestServer(t)

	// GIVEN: No scheduler
	rec := ts.do(http.MethodGet, "/api/admin/batch/schedule", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, BatchScheduleDTO{}, decode[BatchScheduleDTO](t, rec))

	// WHEN: A scheduler is attached and fires once
	s, err := NewScheduler(&fakeDayRunner{}, "0 20 * * *", tashkent, zap.NewNop())
	require.NoError(t, err)
	s.now = func() time.Time { return time.Date(2025, time.March, 10, 15, 0, 0, 0, time.UTC) }
	ts.handler.Scheduler = s
	_, err = s.RunNow(context.Background())
	require.NoError(t, err)

	// THEN: The last run is reported, and no next run before Start
	got := decode[BatchScheduleDTO](t, ts.do(http.MethodGet, "/api/admin/batch/schedule", nil))
	assert.True(t, got.Enabled)
	require.NotNil(t, got.LastRun)
	assert.Equal(t, "2025-03-10", got.LastRun.Day.String())
	assert.Nil(t, got.NextRun)

	s.Start()
	defer func() { <-s.Stop().Done() }()
	got = decode[BatchScheduleDTO](t, ts.do(http.MethodGet, "/api/admin/batch/schedule", nil))
	require.NotNil(t, got.NextRun)
	assert.Equal(t, 20, got.NextRun.In(tashkent).Hour())
}
