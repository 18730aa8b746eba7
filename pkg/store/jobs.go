package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/selim/orkestra/pkg/run"
)

// CreateJob inserts a scheduled job.
func (s *SQLite) CreateJob(ctx context.Context, job *run.ScheduledJob) error {
	specJSON, err := marshalJSON(job.Spec)
	if err != nil {
		return err
	}
	inputJSON, err := marshalJSON(job.Input)
	if err != nil {
		return err
	}

	enabled := 0
	if job.Enabled {
		enabled = 1
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO schedule_jobs (id, workflow_id, schedule, input, enabled, next_run_at, last_run_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.WorkflowID, specJSON, inputJSON, enabled,
		job.NextRunAt, job.LastRunAt, job.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

// DueJobs returns enabled jobs whose next run time has passed, oldest first.
func (s *SQLite) DueJobs(ctx context.Context, now int64) ([]*run.ScheduledJob, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, workflow_id, schedule, input, enabled, next_run_at, last_run_at, created_at
		FROM schedule_jobs WHERE enabled = 1 AND next_run_at <= ?
		ORDER BY next_run_at`, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list due jobs: %w", err)
	}
	defer rows.Close()
	return scanJobs(rows)
}

// ListJobs returns all scheduled jobs, newest first.
func (s *SQLite) ListJobs(ctx context.Context) ([]*run.ScheduledJob, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, workflow_id, schedule, input, enabled, next_run_at, last_run_at, created_at
		FROM schedule_jobs ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()
	return scanJobs(rows)
}

// RescheduleJob records a firing and sets the next run time.
func (s *SQLite) RescheduleJob(ctx context.Context, id string, nextRunAt, lastRunAt int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE schedule_jobs SET next_run_at = ?, last_run_at = ? WHERE id = ?`,
		nextRunAt, lastRunAt, id)
	if err != nil {
		return fmt.Errorf("failed to reschedule job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("job %s not found", id)
	}
	return nil
}

// DisableJob records a final firing on a one-shot job and disables it.
func (s *SQLite) DisableJob(ctx context.Context, id string, lastRunAt int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE schedule_jobs SET enabled = 0, last_run_at = ? WHERE id = ?`,
		lastRunAt, id)
	if err != nil {
		return fmt.Errorf("failed to disable job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("job %s not found", id)
	}
	return nil
}

// DeleteJob removes a scheduled job.
func (s *SQLite) DeleteJob(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM schedule_jobs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}
	return nil
}

func scanJobs(rows *sql.Rows) ([]*run.ScheduledJob, error) {
	var jobs []*run.ScheduledJob
	for rows.Next() {
		var (
			job       run.ScheduledJob
			specJSON  sql.NullString
			inputJSON sql.NullString
			enabled   int
			lastRunAt sql.NullInt64
		)
		err := rows.Scan(&job.ID, &job.WorkflowID, &specJSON, &inputJSON, &enabled,
			&job.NextRunAt, &lastRunAt, &job.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		job.Enabled = enabled == 1
		if lastRunAt.Valid {
			job.LastRunAt = &lastRunAt.Int64
		}
		if err := unmarshalJSON(specJSON, &job.Spec); err != nil {
			return nil, fmt.Errorf("failed to decode job schedule: %w", err)
		}
		if err := unmarshalJSON(inputJSON, &job.Input); err != nil {
			return nil, fmt.Errorf("failed to decode job input: %w", err)
		}
		jobs = append(jobs, &job)
	}
	return jobs, rows.Err()
}
