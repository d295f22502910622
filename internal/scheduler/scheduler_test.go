package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digideskio/pallet/internal/engine"
	"github.com/digideskio/pallet/internal/session"
)

type fakeRunner struct {
	mu     sync.Mutex
	phases []string
	err    error
}

func (f *fakeRunner) RunConverge(ctx context.Context, phaseName string, phase engine.PhaseFn, sess *session.Session, executor engine.ExecuteFn, statusFn engine.StatusFn) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.phases = append(f.phases, phaseName)
	return f.err
}

func (f *fakeRunner) runs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.phases...)
}

func noopPhase(ctx context.Context, sess *session.Session) (*session.Session, error) {
	return sess, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestAddJobValidation(t *testing.T) {
	s := NewScheduler(&fakeRunner{}, testLogger())

	t.Run("missing fields", func(t *testing.T) {
		err := s.AddJob(&Job{ID: "x"})
		require.Error(t, err)
	})

	t.Run("bad cron expression", func(t *testing.T) {
		err := s.AddJob(&Job{ID: "x", Phase: "p", PhaseFn: noopPhase, CronExpr: "not cron"})
		require.Error(t, err)
	})

	t.Run("duplicate id", func(t *testing.T) {
		job := func() *Job {
			return &Job{ID: "dup", Phase: "p", PhaseFn: noopPhase, CronExpr: "* * * * *"}
		}
		require.NoError(t, s.AddJob(job()))
		require.Error(t, s.AddJob(job()))
	})
}

func TestCalculateNextRun(t *testing.T) {
	s := NewScheduler(&fakeRunner{}, testLogger())
	from := time.Date(2026, 8, 1, 10, 30, 0, 0, time.UTC)

	next, err := s.CalculateNextRun("0 4 * * *", from)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 8, 2, 4, 0, 0, 0, time.UTC), next)

	_, err = s.CalculateNextRun("bogus", from)
	require.Error(t, err)
}

func TestTickRunsDueJobsOnce(t *testing.T) {
	r := &fakeRunner{}
	s := NewScheduler(r, testLogger())

	job := &Job{ID: "j1", Phase: "configure", PhaseFn: noopPhase, CronExpr: "* * * * *"}
	require.NoError(t, s.AddJob(job))

	// Force the job to be due now.
	job.nextRunAt = time.Now().UTC().Add(-time.Minute)

	s.tick(context.Background())
	assert.Equal(t, []string{"configure"}, r.runs())

	// The schedule advanced, so an immediate second tick is a no-op.
	s.tick(context.Background())
	assert.Equal(t, []string{"configure"}, r.runs())
	assert.True(t, job.nextRunAt.After(time.Now().UTC().Add(-time.Second)))
	assert.Equal(t, "success", job.lastRunStatus)
}

func TestTickSkipsFutureJobs(t *testing.T) {
	r := &fakeRunner{}
	s := NewScheduler(r, testLogger())

	job := &Job{ID: "j1", Phase: "p", PhaseFn: noopPhase, CronExpr: "* * * * *"}
	require.NoError(t, s.AddJob(job))
	job.nextRunAt = time.Now().UTC().Add(time.Hour)

	s.tick(context.Background())
	assert.Empty(t, r.runs())
}

func TestRunJobRecordsFailure(t *testing.T) {
	r := &fakeRunner{err: fmt.Errorf("converge failed")}
	s := NewScheduler(r, testLogger())

	job := &Job{ID: "j1", Phase: "p", PhaseFn: noopPhase, CronExpr: "* * * * *"}
	require.NoError(t, s.AddJob(job))
	job.nextRunAt = time.Now().UTC().Add(-time.Minute)

	s.tick(context.Background())
	assert.Equal(t, "error", job.lastRunStatus)
	assert.False(t, job.lastRunAt.IsZero())
}

func TestInflightDedup(t *testing.T) {
	s := NewScheduler(&fakeRunner{}, testLogger())

	require.True(t, s.tryAcquire("j1"))
	require.False(t, s.tryAcquire("j1"))
	s.releaseJob("j1")
	require.True(t, s.tryAcquire("j1"))
}

func TestStartStop(t *testing.T) {
	s := NewScheduler(&fakeRunner{}, testLogger())
	s.tickInterval = 10 * time.Millisecond

	require.NoError(t, s.Start(context.Background()))
	require.Error(t, s.Start(context.Background()), "double start must fail")
	require.NoError(t, s.Stop())
	require.NoError(t, s.Stop(), "stop is idempotent")
}

func TestRemoveJob(t *testing.T) {
	s := NewScheduler(&fakeRunner{}, testLogger())
	require.NoError(t, s.AddJob(&Job{ID: "j1", Phase: "p", PhaseFn: noopPhase, CronExpr: "* * * * *"}))
	require.Len(t, s.Jobs(), 1)

	s.RemoveJob("j1")
	assert.Empty(t, s.Jobs())
	s.RemoveJob("ghost") // no-op
}
