package worker

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/lib/pq"
)

// =============================================================================
// DATA CLEANUP WORKER
// =============================================================================
// Prunes audit rows that only matter for a while:
//   - email_logs        (per-attempt delivery audit)
//   - insight_job_runs  (tick history)
//   - insights          (persisted digests)
//
// Deletes run in batches so no single statement holds locks for long.

const (
	// DefaultCleanupInterval is how often the cleanup cycle runs.
	DefaultCleanupInterval = 6 * time.Hour

	DefaultEmailLogRetention = 180 * 24 * time.Hour
	DefaultJobRunRetention   = 90 * 24 * time.Hour
	DefaultInsightRetention  = 365 * 24 * time.Hour

	// cleanupBatchSize limits each DELETE to avoid long-held locks.
	cleanupBatchSize = 5000

	// pqUndefinedTable is the SQLSTATE for a missing relation.
	pqUndefinedTable = "42P01"
)

// RetentionPolicy sets how long each table keeps rows. Zero fields take
// defaults.
type RetentionPolicy struct {
	EmailLogs time.Duration
	JobRuns   time.Duration
	Insights  time.Duration
}

func (p RetentionPolicy) withDefaults() RetentionPolicy {
	if p.EmailLogs <= 0 {
		p.EmailLogs = DefaultEmailLogRetention
	}
	if p.JobRuns <= 0 {
		p.JobRuns = DefaultJobRunRetention
	}
	if p.Insights <= 0 {
		p.Insights = DefaultInsightRetention
	}
	return p
}

// DataCleanupWorker periodically removes expired audit rows.
type DataCleanupWorker struct {
	db         *sql.DB
	interval   time.Duration
	policy     RetentionPolicy
	batchPause time.Duration
}

// NewDataCleanupWorker creates a cleanup worker.
func NewDataCleanupWorker(db *sql.DB, interval time.Duration, policy RetentionPolicy) *DataCleanupWorker {
	if interval <= 0 {
		interval = DefaultCleanupInterval
	}
	return &DataCleanupWorker{
		db:         db,
		interval:   interval,
		policy:     policy.withDefaults(),
		batchPause: 100 * time.Millisecond,
	}
}

// Start begins the cleanup loop. It blocks until ctx is cancelled.
func (dc *DataCleanupWorker) Start(ctx context.Context) {
	log.Printf("[DataCleanup] Starting (interval=%s, batch_size=%d)", dc.interval, cleanupBatchSize)

	dc.Cleanup(ctx)

	ticker := time.NewTicker(dc.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[DataCleanup] Stopping")
			return
		case <-ticker.C:
			dc.Cleanup(ctx)
		}
	}
}

// Cleanup runs one pass over every table and returns the rows removed per
// table.
func (dc *DataCleanupWorker) Cleanup(ctx context.Context) map[string]int64 {
	start := time.Now()
	removed := map[string]int64{
		"email_logs":       dc.prune(ctx, "email_logs", "created_at", dc.policy.EmailLogs),
		"insight_job_runs": dc.prune(ctx, "insight_job_runs", "started_at", dc.policy.JobRuns),
		"insights":         dc.prune(ctx, "insights", "insight_date", dc.policy.Insights),
	}
	for table, n := range removed {
		if n > 0 {
			log.Printf("[DataCleanup] Removed %d rows from %s", n, table)
		}
	}
	log.Printf("[DataCleanup] Cleanup cycle completed in %s", time.Since(start).Round(time.Millisecond))
	return removed
}

// prune deletes rows older than keep in batches. table and column are
// constants from Cleanup, never user input.
func (dc *DataCleanupWorker) prune(ctx context.Context, table, column string, keep time.Duration) int64 {
	query := fmt.Sprintf(`
		DELETE FROM %[1]s
		WHERE id IN (
			SELECT id FROM %[1]s
			WHERE %[2]s < NOW() - $1::interval
			LIMIT $2
		)`, table, column)
	return dc.batchDelete(ctx, table, query, pgInterval(keep))
}

// batchDelete runs query until a batch deletes nothing and returns the
// cumulative count. A missing table is logged once and skipped.
func (dc *DataCleanupWorker) batchDelete(ctx context.Context, table, query, interval string) int64 {
	var totalDeleted int64

	for {
		if ctx.Err() != nil {
			return totalDeleted
		}

		queryCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
		res, err := dc.db.ExecContext(queryCtx, query, interval, cleanupBatchSize)
		cancel()

		if err != nil {
			if isUndefinedTable(err) {
				log.Printf("[DataCleanup] Table %s does not exist, skipping", table)
				return totalDeleted
			}
			log.Printf("[DataCleanup] Error deleting from %s: %v", table, err)
			return totalDeleted
		}

		affected, _ := res.RowsAffected()
		totalDeleted += affected
		if affected < cleanupBatchSize {
			return totalDeleted
		}

		time.Sleep(dc.batchPause)
	}
}

// pgInterval renders d as a PostgreSQL interval literal.
func pgInterval(d time.Duration) string {
	return fmt.Sprintf("%d seconds", int64(d.Seconds()))
}

func isUndefinedTable(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pqUndefinedTable
}
