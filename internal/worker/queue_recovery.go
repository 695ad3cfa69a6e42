package worker

import (
	"context"
	"database/sql"
	"log"
	"time"
)

// =============================================================================
// JOB RUN RECOVERY WORKER
// =============================================================================
// A process that dies mid-tick leaves its insight_job_runs row in 'running'
// forever. This worker closes such rows as failed so run history and
// dashboards stay truthful. Subscriber locks expire on their own TTL.

const (
	// DefaultRecoveryInterval is how often we scan for abandoned runs.
	DefaultRecoveryInterval = 15 * time.Minute

	// DefaultStaleAge is how long a tick may stay 'running' before it is
	// considered abandoned. It must exceed the longest plausible tick.
	DefaultStaleAge = 2 * time.Hour

	abandonedRunDetail = "abandoned: worker stopped before the tick finished"
)

// JobRunRecoveryWorker periodically fails abandoned job runs.
type JobRunRecoveryWorker struct {
	db       *sql.DB
	interval time.Duration
	staleAge time.Duration
}

// NewJobRunRecoveryWorker creates a recovery worker. Zero durations take
// defaults.
func NewJobRunRecoveryWorker(db *sql.DB, interval, staleAge time.Duration) *JobRunRecoveryWorker {
	if interval <= 0 {
		interval = DefaultRecoveryInterval
	}
	if staleAge <= 0 {
		staleAge = DefaultStaleAge
	}
	return &JobRunRecoveryWorker{
		db:       db,
		interval: interval,
		staleAge: staleAge,
	}
}

// Start begins the recovery loop. It blocks until ctx is cancelled.
func (jr *JobRunRecoveryWorker) Start(ctx context.Context) {
	log.Printf("[JobRunRecovery] Starting (interval=%s, stale_age=%s)", jr.interval, jr.staleAge)

	jr.RecoverAbandoned(ctx)

	ticker := time.NewTicker(jr.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[JobRunRecovery] Stopping")
			return
		case <-ticker.C:
			jr.RecoverAbandoned(ctx)
		}
	}
}

// RecoverAbandoned marks stale running ticks as failed and returns how many
// it closed.
func (jr *JobRunRecoveryWorker) RecoverAbandoned(ctx context.Context) int64 {
	queryCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	res, err := jr.db.ExecContext(queryCtx, `
		UPDATE insight_job_runs
		SET status = 'failed',
		    completed_at = NOW(),
		    duration_ms = (EXTRACT(EPOCH FROM (NOW() - started_at)) * 1000)::BIGINT,
		    errors = $2
		WHERE status = 'running'
		  AND started_at < NOW() - $1::interval
	`, pgInterval(jr.staleAge), abandonedRunDetail)
	if err != nil {
		log.Printf("[JobRunRecovery] Update error: %v", err)
		return 0
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		log.Printf("[JobRunRecovery] Closed %d abandoned job runs", n)
	}
	return n
}
