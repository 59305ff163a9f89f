// ABOUTME: Job registry persistence on top of the SQLite store
// ABOUTME: CRUD operations for scheduled job definitions

package store

import (
	"context"
	"database/sql"
	"fmt"
)

// SaveJob inserts or replaces a job definition
func (s *SQLiteStore) SaveJob(ctx context.Context, job *Job) error {
	if job.ID == "" {
		return fmt.Errorf("job id is empty")
	}
	source := job.Source
	if source == "" {
		source = JobSourceManaged
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, schedule, payload, enabled, last_triggered, source)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			schedule = excluded.schedule,
			payload = excluded.payload,
			enabled = excluded.enabled,
			source = excluded.source`,
		job.ID, job.Schedule, job.Payload, boolToInt(job.Enabled), job.LastTriggered, source,
	)
	if err != nil {
		return fmt.Errorf("saving job: %w", err)
	}

	s.logger.Debug("saved job", "id", job.ID, "schedule", job.Schedule)
	return nil
}

// GetJob retrieves a job by ID.
// Returns ErrNotFound if the job doesn't exist.
func (s *SQLiteStore) GetJob(ctx context.Context, id string) (*Job, error) {
	var job Job
	var enabled int
	err := s.db.QueryRowContext(ctx,
		`SELECT id, schedule, payload, enabled, last_triggered, source
		 FROM jobs WHERE id = ?`, id,
	).Scan(&job.ID, &job.Schedule, &job.Payload, &enabled, &job.LastTriggered, &job.Source)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying job: %w", err)
	}
	job.Enabled = enabled != 0
	return &job, nil
}

// ListJobs returns all job definitions ordered by ID
func (s *SQLiteStore) ListJobs(ctx context.Context) ([]*Job, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, schedule, payload, enabled, last_triggered, source
		 FROM jobs ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("listing jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		var job Job
		var enabled int
		if err := rows.Scan(&job.ID, &job.Schedule, &job.Payload, &enabled, &job.LastTriggered, &job.Source); err != nil {
			return nil, fmt.Errorf("scanning job: %w", err)
		}
		job.Enabled = enabled != 0
		jobs = append(jobs, &job)
	}
	return jobs, rows.Err()
}

// DeleteJob removes a job definition. Deleting an absent job is a no-op.
func (s *SQLiteStore) DeleteJob(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting job: %w", err)
	}
	s.logger.Debug("deleted job", "id", id)
	return nil
}

// MarkJobTriggered records the time of a job's most recent invocation.
// Returns ErrNotFound if the job doesn't exist.
func (s *SQLiteStore) MarkJobTriggered(ctx context.Context, id string, at float64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET last_triggered = ? WHERE id = ?`, at, id,
	)
	if err != nil {
		return fmt.Errorf("marking job triggered: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
