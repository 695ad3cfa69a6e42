package worker

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/ignite/insight-digest/internal/domain"
	"github.com/ignite/insight-digest/internal/service/eligibility"
)

// =============================================================================
// INSIGHT SCHEDULER
// =============================================================================
// Fires once per tick (hourly by default). Each tick writes a JobRun row,
// enumerates enabled subscribers, gates them, fans out the eligible ones to
// the InsightProcessor and waits for every run before finalizing the row.
// Overlapping ticks are skipped by the cron chain; per-subscriber overlap is
// prevented by the processor's lock.

const (
	DefaultTickSpec        = "@hourly"
	DefaultTickConcurrency = 8
	maxErrorDetailSubjects = 20
	finalizeTimeout        = 10 * time.Second
)

// SubscriberLister enumerates subscribers with delivery enabled.
type SubscriberLister interface {
	Enabled(ctx context.Context) ([]domain.SchedulingState, error)
}

// JobRunStore persists tick audit rows.
type JobRunStore interface {
	Create(ctx context.Context, run *domain.JobRun) error
	Finalize(ctx context.Context, run *domain.JobRun) error
	Latest(ctx context.Context, limit int) ([]domain.JobRun, error)
}

// SubscriberRunner runs the pipeline for one subscriber.
type SubscriberRunner interface {
	Process(ctx context.Context, userID string, opts ProcessOptions) ProcessResult
}

// TickSummary aggregates one tick.
type TickSummary struct {
	JobRunID      string              `json:"job_run_id"`
	Status        domain.JobRunStatus `json:"status"`
	Total         int                 `json:"total"`
	Successful    int                 `json:"successful"`
	Failed        int                 `json:"failed"`
	Skipped       int                 `json:"skipped"`
	EmailsSent    int                 `json:"emails_sent"`
	InsightsFound int                 `json:"insights_found"`
	DurationMs    int64               `json:"duration_ms"`
	Results       []ProcessResult     `json:"results,omitempty"`
}

// SchedulerConfig tunes the scheduler. Zero fields take defaults.
type SchedulerConfig struct {
	Spec        string
	Concurrency int
	Location    *time.Location
}

// InsightScheduler drives the per-tick fan-out.
type InsightScheduler struct {
	lister SubscriberLister
	runs   JobRunStore
	runner SubscriberRunner
	gate   *eligibility.Gate
	cfg    SchedulerConfig
	now    func() time.Time

	// Stats
	ticks     int64
	processed int64
	failures  int64

	// Control
	cron    *cron.Cron
	ctx     context.Context
	cancel  context.CancelFunc
	running bool
	mu      sync.Mutex
}

// NewInsightScheduler creates a scheduler.
func NewInsightScheduler(lister SubscriberLister, runs JobRunStore, runner SubscriberRunner, gate *eligibility.Gate, cfg SchedulerConfig) *InsightScheduler {
	if cfg.Spec == "" {
		cfg.Spec = DefaultTickSpec
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultTickConcurrency
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if gate == nil {
		gate = eligibility.NewGate(nil, eligibility.Config{})
	}
	return &InsightScheduler{
		lister: lister,
		runs:   runs,
		runner: runner,
		gate:   gate,
		cfg:    cfg,
		now:    time.Now,
	}
}

// SetClock overrides the time source (tests).
func (s *InsightScheduler) SetClock(now func() time.Time) { s.now = now }

// Start registers the tick on a cron schedule.
func (s *InsightScheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("insight scheduler already running")
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.cron = cron.New(
		cron.WithLocation(s.cfg.Location),
		cron.WithChain(cron.SkipIfStillRunning(cron.PrintfLogger(log.Default()))),
	)
	ctx := s.ctx
	if _, err := s.cron.AddFunc(s.cfg.Spec, func() { s.RunTick(ctx) }); err != nil {
		s.cancel()
		return fmt.Errorf("invalid tick spec %q: %w", s.cfg.Spec, err)
	}
	s.cron.Start()
	s.running = true

	log.Printf("[InsightScheduler] Started (spec=%s, concurrency=%d, tz=%s)",
		s.cfg.Spec, s.cfg.Concurrency, s.cfg.Location)
	return nil
}

// Stop cancels an in-progress tick and waits for it to finish.
func (s *InsightScheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cancel()
	c := s.cron
	s.mu.Unlock()

	<-c.Stop().Done()
	log.Printf("[InsightScheduler] Stopped (ticks=%d, processed=%d, failures=%d)",
		atomic.LoadInt64(&s.ticks), atomic.LoadInt64(&s.processed), atomic.LoadInt64(&s.failures))
}

// IsRunning reports whether the cron schedule is active.
func (s *InsightScheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// RunTick executes one tick. Only a failure to enumerate subscribers marks
// the JobRun failed; individual subscriber failures are counted.
func (s *InsightScheduler) RunTick(ctx context.Context) TickSummary {
	atomic.AddInt64(&s.ticks, 1)
	started := s.now()
	run := &domain.JobRun{
		ID:        uuid.New().String(),
		Status:    domain.JobRunRunning,
		StartedAt: started.UTC(),
	}
	if err := s.runs.Create(ctx, run); err != nil {
		log.Printf("[InsightScheduler] Failed to create job run %s, finalize will insert it: %v", run.ID, err)
	}

	summary := TickSummary{JobRunID: run.ID}

	states, err := s.lister.Enabled(ctx)
	if err != nil {
		log.Printf("[InsightScheduler] Subscriber enumeration failed: %v", err)
		run.Status = domain.JobRunFailed
		run.ErrorDetail = err.Error()
		s.finalize(run, started)
		summary.Status = run.Status
		summary.DurationMs = run.DurationMs
		return summary
	}

	summary.Total = len(states)
	var eligible []domain.SchedulingState
	for _, st := range states {
		if d := s.gate.IsEligibleNow(st, started); d.Eligible {
			eligible = append(eligible, st)
		} else {
			summary.Skipped++
		}
	}

	results := make([]ProcessResult, len(eligible))
	var g errgroup.Group
	g.SetLimit(s.cfg.Concurrency)
	for i, st := range eligible {
		i, st := i, st
		g.Go(func() error {
			results[i] = s.runner.Process(ctx, st.UserID, ProcessOptions{})
			return nil
		})
	}
	_ = g.Wait()

	var failures []string
	for _, r := range results {
		summary.EmailsSent += r.EmailsSent
		summary.InsightsFound += r.InsightsFound
		switch {
		case r.Skipped:
			summary.Skipped++
		case r.Success:
			summary.Successful++
		default:
			summary.Failed++
			if len(failures) < maxErrorDetailSubjects {
				failures = append(failures, fmt.Sprintf("%s: %s", r.UserID, r.Reason))
			}
		}
	}
	summary.Results = results
	atomic.AddInt64(&s.processed, int64(len(eligible)))
	atomic.AddInt64(&s.failures, int64(summary.Failed))

	run.Status = domain.JobRunSuccess
	run.UsersProcessed = len(eligible)
	run.EmailsSent = summary.EmailsSent
	run.InsightsFound = summary.InsightsFound
	run.ErrorDetail = strings.Join(failures, "; ")
	s.finalize(run, started)

	summary.Status = run.Status
	summary.DurationMs = run.DurationMs
	log.Printf("[InsightScheduler] Tick %s done: total=%d ok=%d failed=%d skipped=%d emails=%d (%dms)",
		run.ID, summary.Total, summary.Successful, summary.Failed, summary.Skipped, summary.EmailsSent, run.DurationMs)
	return summary
}

// finalize uses a fresh context so a cancelled tick still closes its row.
func (s *InsightScheduler) finalize(run *domain.JobRun, started time.Time) {
	completed := s.now().UTC()
	run.CompletedAt = &completed
	run.DurationMs = completed.Sub(started).Milliseconds()

	ctx, cancel := context.WithTimeout(context.Background(), finalizeTimeout)
	defer cancel()
	if err := s.runs.Finalize(ctx, run); err != nil {
		log.Printf("[InsightScheduler] Failed to finalize job run %s: %v", run.ID, err)
	}
}

// LatestJobRuns returns recent tick audit rows, newest first.
func (s *InsightScheduler) LatestJobRuns(ctx context.Context, limit int) ([]domain.JobRun, error) {
	return s.runs.Latest(ctx, limit)
}
