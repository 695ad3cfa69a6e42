package api

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/insight-digest/internal/domain"
	"github.com/ignite/insight-digest/internal/pkg/httputil"
)

// HealthStatus represents the overall health of the worker.
type HealthStatus struct {
	Status string                    `json:"status"` // "healthy", "degraded", "unhealthy"
	Uptime string                    `json:"uptime"`
	Checks map[string]ComponentCheck `json:"checks"`
}

// ComponentCheck represents the health of a single component.
type ComponentCheck struct {
	Status  string `json:"status"` // "up", "down", "degraded"
	Latency string `json:"latency,omitempty"`
	Message string `json:"message,omitempty"`
}

// QueueDepth reports the number of parked notifications.
type QueueDepth interface {
	Len(ctx context.Context) (int64, error)
}

// TickHistory lists recent scheduler ticks.
type TickHistory interface {
	LatestJobRuns(ctx context.Context, limit int) ([]domain.JobRun, error)
}

// HealthChecker checks the worker's dependencies. Any dependency can be nil;
// the check then reports "not configured".
type HealthChecker struct {
	db          *sql.DB
	redisClient *redis.Client
	retries     QueueDepth
	ticks       TickHistory
	tickMaxAge  time.Duration
	startTime   time.Time
}

// NewHealthChecker creates a new HealthChecker.
func NewHealthChecker(db *sql.DB, redisClient *redis.Client, retries QueueDepth) *HealthChecker {
	return &HealthChecker{
		db:          db,
		redisClient: redisClient,
		retries:     retries,
		startTime:   time.Now(),
	}
}

// WithTickHistory enables the last_tick check: degraded when no tick has
// started within maxAge, or the latest finished tick failed.
func (hc *HealthChecker) WithTickHistory(ticks TickHistory, maxAge time.Duration) *HealthChecker {
	hc.ticks = ticks
	hc.tickMaxAge = maxAge
	return hc
}

// retryBacklogWarn marks the retry queue degraded above this depth.
const retryBacklogWarn = 500

// HandleHealth returns the status of all components. It always answers 200;
// the body carries the verdict.
//
//	GET /health
func (hc *HealthChecker) HandleHealth(w http.ResponseWriter, r *http.Request) {
	checks := hc.runAllChecks(r.Context())
	httputil.OK(w, HealthStatus{
		Status: determineOverallStatus(checks),
		Uptime: time.Since(hc.startTime).Round(time.Second).String(),
		Checks: checks,
	})
}

// HandleLiveness always returns 200 while the process is up.
//
//	GET /healthz
func (hc *HealthChecker) HandleLiveness(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, map[string]string{
		"status": "alive",
		"uptime": time.Since(hc.startTime).Round(time.Second).String(),
	})
}

// HandleReadiness returns 503 when a critical dependency is down.
//
//	GET /readyz
func (hc *HealthChecker) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	checks := hc.runAllChecks(r.Context())
	overall := determineOverallStatus(checks)

	ready := overall != "unhealthy"
	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	httputil.JSON(w, status, map[string]any{
		"ready":  ready,
		"status": overall,
		"checks": checks,
	})
}

func (hc *HealthChecker) runAllChecks(ctx context.Context) map[string]ComponentCheck {
	type result struct {
		name  string
		check ComponentCheck
	}
	ch := make(chan result, 4)

	go func() { ch <- result{"database", hc.checkDatabase(ctx)} }()
	go func() { ch <- result{"redis", hc.checkRedis(ctx)} }()
	go func() { ch <- result{"notify_retries", hc.checkRetryQueue(ctx)} }()
	go func() { ch <- result{"last_tick", hc.checkLastTick(ctx)} }()

	checks := make(map[string]ComponentCheck, 4)
	for i := 0; i < 4; i++ {
		r := <-ch
		checks[r.name] = r.check
	}
	return checks
}

// checkDatabase pings PostgreSQL with a 3-second timeout.
func (hc *HealthChecker) checkDatabase(ctx context.Context) ComponentCheck {
	if hc.db == nil {
		return ComponentCheck{Status: "down", Message: "not configured"}
	}
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	start := time.Now()
	err := hc.db.PingContext(pingCtx)
	return latencyCheck(time.Since(start), err, time.Second)
}

// checkRedis pings Redis with a 2-second timeout.
func (hc *HealthChecker) checkRedis(ctx context.Context) ComponentCheck {
	if hc.redisClient == nil {
		return ComponentCheck{Status: "down", Message: "not configured"}
	}
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	start := time.Now()
	err := hc.redisClient.Ping(pingCtx).Err()
	return latencyCheck(time.Since(start), err, 500*time.Millisecond)
}

// checkRetryQueue reports the deferred-notification backlog.
func (hc *HealthChecker) checkRetryQueue(ctx context.Context) ComponentCheck {
	if hc.retries == nil {
		return ComponentCheck{Status: "down", Message: "not configured"}
	}
	qctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	n, err := hc.retries.Len(qctx)
	if err != nil {
		return ComponentCheck{Status: "degraded", Message: fmt.Sprintf("depth check failed: %v", err)}
	}
	if n > retryBacklogWarn {
		return ComponentCheck{Status: "degraded", Message: fmt.Sprintf("high retry backlog: %d", n)}
	}
	return ComponentCheck{Status: "up", Message: fmt.Sprintf("%d parked", n)}
}

// checkLastTick reports whether the scheduler is keeping up.
func (hc *HealthChecker) checkLastTick(ctx context.Context) ComponentCheck {
	if hc.ticks == nil {
		return ComponentCheck{Status: "down", Message: "not configured"}
	}
	qctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	runs, err := hc.ticks.LatestJobRuns(qctx, 1)
	if err != nil {
		return ComponentCheck{Status: "degraded", Message: fmt.Sprintf("history unavailable: %v", err)}
	}
	if len(runs) == 0 {
		return ComponentCheck{Status: "up", Message: "no ticks yet"}
	}
	last := runs[0]
	age := time.Since(last.StartedAt).Round(time.Second)
	switch {
	case hc.tickMaxAge > 0 && age > hc.tickMaxAge:
		return ComponentCheck{Status: "degraded", Message: fmt.Sprintf("last tick started %s ago", age)}
	case last.Status == domain.JobRunFailed:
		return ComponentCheck{Status: "degraded", Message: "last tick failed: " + last.ErrorDetail}
	}
	return ComponentCheck{Status: "up", Message: fmt.Sprintf("%s %s ago", last.Status, age)}
}

func latencyCheck(latency time.Duration, err error, slow time.Duration) ComponentCheck {
	if err != nil {
		return ComponentCheck{
			Status:  "down",
			Latency: latency.String(),
			Message: fmt.Sprintf("ping failed: %v", err),
		}
	}
	if latency > slow {
		return ComponentCheck{
			Status:  "degraded",
			Latency: latency.String(),
			Message: fmt.Sprintf("slow response (%s)", latency),
		}
	}
	return ComponentCheck{Status: "up", Latency: latency.String(), Message: "connected"}
}

// determineOverallStatus derives the aggregate status. The database is the
// only hard dependency.
func determineOverallStatus(checks map[string]ComponentCheck) string {
	if db, ok := checks["database"]; ok && db.Status == "down" && db.Message != "not configured" {
		return "unhealthy"
	}
	for _, c := range checks {
		if c.Status == "degraded" {
			return "degraded"
		}
		if c.Status == "down" && c.Message != "not configured" {
			return "degraded"
		}
	}
	return "healthy"
}
