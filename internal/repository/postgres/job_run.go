package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ignite/insight-digest/internal/domain"
)

// JobRunRepo stores scheduler tick audit rows.
type JobRunRepo struct{ db *sql.DB }

// NewJobRunRepo creates a Postgres-backed job-run repository.
func NewJobRunRepo(db *sql.DB) *JobRunRepo { return &JobRunRepo{db: db} }

func (r *JobRunRepo) Create(ctx context.Context, run *domain.JobRun) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO insight_job_runs (id, status, started_at)
		VALUES ($1, $2, $3)
	`, run.ID, run.Status, run.StartedAt)
	if err != nil {
		return fmt.Errorf("create job run: %w", err)
	}
	return nil
}

func (r *JobRunRepo) Finalize(ctx context.Context, run *domain.JobRun) error {
	// Upsert so a tick whose Create failed still leaves an audit row.
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO insight_job_runs (id, status, started_at, completed_at, users_processed,
		                              emails_sent, insights_found, duration_ms, errors)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE
		SET status = EXCLUDED.status, completed_at = EXCLUDED.completed_at,
		    users_processed = EXCLUDED.users_processed, emails_sent = EXCLUDED.emails_sent,
		    insights_found = EXCLUDED.insights_found, duration_ms = EXCLUDED.duration_ms,
		    errors = EXCLUDED.errors
	`, run.ID, run.Status, run.StartedAt, run.CompletedAt, run.UsersProcessed, run.EmailsSent,
		run.InsightsFound, run.DurationMs, run.ErrorDetail)
	if err != nil {
		return fmt.Errorf("finalize job run: %w", err)
	}
	return nil
}

// Latest returns the most recent runs, newest first.
func (r *JobRunRepo) Latest(ctx context.Context, limit int) ([]domain.JobRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, status, started_at, completed_at, users_processed, emails_sent,
		       insights_found, duration_ms, errors
		FROM insight_job_runs
		ORDER BY started_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list job runs: %w", err)
	}
	defer rows.Close()

	var out []domain.JobRun
	for rows.Next() {
		var (
			run       domain.JobRun
			completed sql.NullTime
		)
		if err := rows.Scan(
			&run.ID, &run.Status, &run.StartedAt, &completed, &run.UsersProcessed,
			&run.EmailsSent, &run.InsightsFound, &run.DurationMs, &run.ErrorDetail,
		); err != nil {
			return nil, fmt.Errorf("scan job run: %w", err)
		}
		run.CompletedAt = nullTimePtr(completed)
		out = append(out, run)
	}
	return out, rows.Err()
}
