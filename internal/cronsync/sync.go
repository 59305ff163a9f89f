// ABOUTME: Idempotent synchronizer between the job registry and the external scheduler
// ABOUTME: Reconciles periodically; per-entry failures are logged and skipped

package cronsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tankyhsu/nanobot-web-console/internal/store"
)

// Runner executes a triggered job's payload
type Runner interface {
	RunJob(ctx context.Context, job *store.Job) error
}

// RunnerFunc adapts a function to the Runner interface
type RunnerFunc func(ctx context.Context, job *store.Job) error

// RunJob calls f
func (f RunnerFunc) RunJob(ctx context.Context, job *store.Job) error {
	return f(ctx, job)
}

// Synchronizer keeps the external scheduler in step with the managed job
// registry. All mutations of the shared scheduler handle are serialized;
// concurrent Upsert/Remove/Reconcile calls never race on an entry.
type Synchronizer struct {
	store    store.Store
	sched    Scheduler
	runner   Runner
	interval time.Duration
	logger   *slog.Logger

	mu sync.Mutex
}

// New creates a Synchronizer and installs its fire handler on a
// CronScheduler if one was provided.
func New(st store.Store, sched Scheduler, runner Runner, interval time.Duration, logger *slog.Logger) *Synchronizer {
	s := &Synchronizer{
		store:    st,
		sched:    sched,
		runner:   runner,
		interval: interval,
		logger:   logger.With("component", "cronsync"),
	}
	if cs, ok := sched.(*CronScheduler); ok {
		cs.SetOnFire(s.onFire)
	}
	return s
}

// Upsert makes the external scheduler reflect a managed job. A missing
// entry is created; an existing one is updated only when schedule, payload,
// or enabled state differ. Repeated calls with identical input produce no
// external mutations after the first.
func (s *Synchronizer) Upsert(ctx context.Context, job *store.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upsertLocked(job)
}

func (s *Synchronizer) upsertLocked(job *store.Job) error {
	want := Entry{
		ID:       EntryID(job.ID),
		Schedule: job.Schedule,
		Payload:  job.Payload,
		Enabled:  job.Enabled,
	}

	entries, err := s.sched.List()
	if err != nil {
		return fmt.Errorf("listing scheduler entries: %w", err)
	}

	for _, e := range entries {
		if e.ID != want.ID {
			continue
		}
		if e == want {
			return nil
		}
		if err := s.sched.Update(want); err != nil {
			return fmt.Errorf("updating entry for job %q: %w", job.ID, err)
		}
		s.logger.Info("job entry updated", "job", job.ID)
		return nil
	}

	if err := s.sched.Add(want); err != nil {
		return fmt.Errorf("adding entry for job %q: %w", job.ID, err)
	}
	s.logger.Info("job entry created", "job", job.ID)
	return nil
}

// Remove deletes a job's external entry. An absent entry is a no-op success.
func (s *Synchronizer) Remove(ctx context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.sched.Remove(EntryID(jobID)); err != nil && !errors.Is(err, ErrEntryNotFound) {
		return fmt.Errorf("removing entry for job %q: %w", jobID, err)
	}
	return nil
}

// Trigger invokes a job immediately, out-of-band from its schedule. The
// job's schedule and enabled state are untouched.
func (s *Synchronizer) Trigger(ctx context.Context, jobID string) error {
	if _, err := s.store.GetJob(ctx, jobID); err != nil {
		return err
	}
	if err := s.sched.Trigger(EntryID(jobID)); err != nil {
		return fmt.Errorf("triggering job %q: %w", jobID, err)
	}
	return nil
}

// Reconcile does a full pass: every managed job missing or diverged in the
// external scheduler is re-applied. Foreign entries (ids with no managed
// counterpart) are left untouched. One job's failure is logged and skipped,
// never aborting the rest of the batch.
func (s *Synchronizer) Reconcile(ctx context.Context) error {
	jobs, err := s.store.ListJobs(ctx)
	if err != nil {
		return fmt.Errorf("listing jobs: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var failed int
	for _, job := range jobs {
		if job.Source != store.JobSourceManaged {
			continue
		}
		if err := s.upsertLocked(job); err != nil {
			failed++
			s.logger.Error("job reconciliation failed, skipping", "job", job.ID, "error", err)
		}
	}

	if failed > 0 {
		s.logger.Warn("reconciliation finished with failures", "failed", failed, "total", len(jobs))
	} else {
		s.logger.Debug("reconciliation finished", "jobs", len(jobs))
	}
	return nil
}

// Run reconciles once immediately, then on every tick until the context is
// cancelled
func (s *Synchronizer) Run(ctx context.Context) {
	if err := s.Reconcile(ctx); err != nil {
		s.logger.Error("initial reconciliation failed", "error", err)
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := s.Reconcile(ctx); err != nil {
				s.logger.Error("reconciliation failed", "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// onFire handles a scheduler entry firing: the job's payload is executed
// through the runner and its last-triggered time recorded
func (s *Synchronizer) onFire(entryID string) {
	jobID, ok := JobID(entryID)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		s.logger.Error("fired job not in registry", "job", jobID, "error", err)
		return
	}
	s.logger.Info("running job", "job", jobID)
	if err := s.runner.RunJob(ctx, job); err != nil {
		s.logger.Error("job run failed", "job", jobID, "error", err)
		return
	}
	at := float64(time.Now().UnixNano()) / 1e9
	if err := s.store.MarkJobTriggered(ctx, jobID, at); err != nil {
		s.logger.Error("recording job trigger failed", "job", jobID, "error", err)
	}
}
