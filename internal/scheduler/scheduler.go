// Package scheduler runs convergence jobs: phases re-applied on a cron
// schedule so managed state drifts back to its declared form.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/digideskio/pallet/internal/engine"
	"github.com/digideskio/pallet/internal/session"
)

// ConvergeRunner is the interface the scheduler uses to run a phase.
// Satisfied by runner.Runner (keeps the scheduler free of the journal wiring).
type ConvergeRunner interface {
	RunConverge(ctx context.Context, phaseName string, phase engine.PhaseFn, sess *session.Session, executor engine.ExecuteFn, statusFn engine.StatusFn) error
}

// Job is one recurring convergence: a named phase, the cron expression that
// fires it, and the session/executor pair each run starts from.
type Job struct {
	ID       string
	Phase    string
	CronExpr string
	PhaseFn  engine.PhaseFn
	Session  *session.Session
	Executor engine.ExecuteFn
	StatusFn engine.StatusFn

	nextRunAt     time.Time
	lastRunAt     time.Time
	lastRunStatus string
}

// Scheduler fires registered convergence jobs when they come due.
type Scheduler struct {
	runner ConvergeRunner
	parser cron.Parser
	logger *slog.Logger
	cancel context.CancelFunc
	done   chan struct{}
	mu     sync.Mutex

	jobsMu sync.Mutex
	jobs   map[string]*Job

	inflightMu sync.Mutex
	inflight   map[string]struct{} // job IDs currently executing (dedup)

	tickInterval time.Duration
}

// NewScheduler creates a new Scheduler.
func NewScheduler(runner ConvergeRunner, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		runner:       runner,
		parser:       cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		logger:       logger,
		jobs:         make(map[string]*Job),
		inflight:     make(map[string]struct{}),
		tickInterval: 60 * time.Second,
	}
}

// AddJob registers a convergence job and computes its first due time.
func (s *Scheduler) AddJob(job *Job) error {
	if job.ID == "" || job.Phase == "" || job.PhaseFn == nil {
		return fmt.Errorf("job requires an ID, a phase name, and a phase function")
	}
	next, err := s.CalculateNextRun(job.CronExpr, time.Now().UTC())
	if err != nil {
		return err
	}
	job.nextRunAt = next

	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()
	if _, ok := s.jobs[job.ID]; ok {
		return fmt.Errorf("job %q already registered", job.ID)
	}
	s.jobs[job.ID] = job
	return nil
}

// RemoveJob unregisters a job. Removing an unknown ID is a no-op.
func (s *Scheduler) RemoveJob(id string) {
	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()
	delete(s.jobs, id)
}

// Jobs returns the registered jobs sorted by ID.
func (s *Scheduler) Jobs() []*Job {
	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()
	out := make([]*Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ID < out[k].ID })
	return out
}

// Start launches the background scheduling loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}

	schedCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(schedCtx)
	s.logger.Info("scheduler started")
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	// Run an initial tick immediately.
	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick runs every registered job that has come due.
func (s *Scheduler) tick(ctx context.Context) {
	now := time.Now().UTC()
	for _, job := range s.Jobs() {
		if !job.nextRunAt.After(now) {
			if !s.tryAcquire(job.ID) {
				continue // already running (dedup)
			}
			if err := s.runJob(ctx, job, now); err != nil {
				s.logger.Error("convergence job failed",
					slog.String("job_id", job.ID),
					slog.String("error", err.Error()),
				)
			}
			s.releaseJob(job.ID)
		}
	}
}

// runJob converges one job and advances its schedule.
func (s *Scheduler) runJob(ctx context.Context, job *Job, now time.Time) error {
	s.logger.Info("running convergence job",
		slog.String("job_id", job.ID),
		slog.String("phase", job.Phase),
	)

	err := s.runner.RunConverge(ctx, job.Phase, job.PhaseFn, job.Session, job.Executor, job.StatusFn)

	status := "success"
	if err != nil {
		status = "error"
	}
	if uerr := s.advance(job, now, status); uerr != nil {
		return uerr
	}
	return err
}

// advance records a run's outcome and computes the next due time.
func (s *Scheduler) advance(job *Job, now time.Time, status string) error {
	next, err := s.CalculateNextRun(job.CronExpr, now)
	if err != nil {
		return fmt.Errorf("calculate next run for job %q: %w", job.ID, err)
	}

	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()
	job.lastRunAt = now
	job.lastRunStatus = status
	job.nextRunAt = next
	return nil
}

// tryAcquire returns true and marks the job as in-flight if it is not already running.
func (s *Scheduler) tryAcquire(jobID string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, ok := s.inflight[jobID]; ok {
		return false
	}
	s.inflight[jobID] = struct{}{}
	return true
}

// releaseJob removes the job from the in-flight set.
func (s *Scheduler) releaseJob(jobID string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	delete(s.inflight, jobID)
}

// CalculateNextRun computes the next fire time for a cron expression.
func (s *Scheduler) CalculateNextRun(cronExpr string, from time.Time) (time.Time, error) {
	schedule, err := s.parser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", cronExpr, err)
	}
	return schedule.Next(from), nil
}

// Stop gracefully shuts down the scheduler.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return nil
	}

	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil

	s.logger.Info("scheduler stopped")
	return nil
}
