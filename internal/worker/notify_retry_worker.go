package worker

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ignite/insight-digest/internal/domain"
	"github.com/ignite/insight-digest/internal/service/notify"
)

// =============================================================================
// NOTIFY RETRY WORKER
// =============================================================================
// Drains notifications parked by the processor in deferred delivery mode.
// Each due entry gets one attempt; a failure is re-parked with the next
// delay until the attempt budget is spent.

const (
	DefaultRetryPollInterval = 15 * time.Second
	DefaultRetryBatchSize    = 50
)

// RetryQueue is the parked-notification store.
type RetryQueue interface {
	RetryScheduler
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]notify.Pending, error)
}

// SentMarker records a successful insight delivery.
type SentMarker interface {
	MarkSent(ctx context.Context, userID string, at time.Time) error
}

// NotifyRetryWorker polls the retry queue.
type NotifyRetryWorker struct {
	queue        RetryQueue
	notifier     Notifier
	marker       SentMarker
	pollInterval time.Duration
	batchSize    int
	now          func() time.Time

	// Stats
	delivered int64
	requeued  int64
	dropped   int64

	// Control
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	mu      sync.Mutex
}

// NewNotifyRetryWorker creates a retry worker.
func NewNotifyRetryWorker(queue RetryQueue, notifier Notifier, marker SentMarker, pollInterval time.Duration) *NotifyRetryWorker {
	if pollInterval <= 0 {
		pollInterval = DefaultRetryPollInterval
	}
	return &NotifyRetryWorker{
		queue:        queue,
		notifier:     notifier,
		marker:       marker,
		pollInterval: pollInterval,
		batchSize:    DefaultRetryBatchSize,
		now:          time.Now,
	}
}

// SetClock overrides the time source (tests).
func (w *NotifyRetryWorker) SetClock(now func() time.Time) { w.now = now }

// Start begins polling.
func (w *NotifyRetryWorker) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return fmt.Errorf("notify retry worker already running")
	}
	w.running = true
	w.ctx, w.cancel = context.WithCancel(context.Background())

	w.wg.Add(1)
	go w.loop()

	log.Printf("[NotifyRetryWorker] Started (poll=%v)", w.pollInterval)
	return nil
}

// Stop halts polling and waits for the current batch.
func (w *NotifyRetryWorker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.cancel()
	w.mu.Unlock()

	w.wg.Wait()
	log.Printf("[NotifyRetryWorker] Stopped (delivered=%d, requeued=%d, dropped=%d)",
		atomic.LoadInt64(&w.delivered), atomic.LoadInt64(&w.requeued), atomic.LoadInt64(&w.dropped))
}

func (w *NotifyRetryWorker) loop() {
	defer w.wg.Done()
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.Drain(w.ctx); err != nil {
				log.Printf("[NotifyRetryWorker] Drain error: %v", err)
			}
		}
	}
}

// Drain processes every notification due now and returns how many were
// handled.
func (w *NotifyRetryWorker) Drain(ctx context.Context) (int, error) {
	handled := 0
	for {
		now := w.now()
		batch, err := w.queue.ClaimDue(ctx, now, w.batchSize)
		for _, p := range batch {
			w.attempt(ctx, p, now)
			handled++
		}
		if err != nil {
			return handled, err
		}
		if len(batch) < w.batchSize || ctx.Err() != nil {
			return handled, ctx.Err()
		}
	}
}

func (w *NotifyRetryWorker) attempt(ctx context.Context, p notify.Pending, now time.Time) {
	res := w.notifier.SendOnce(ctx, p.Payload, p.NextAttempt)
	if res.Success {
		atomic.AddInt64(&w.delivered, 1)
		if p.Payload.Kind == domain.EmailInsights {
			if err := w.marker.MarkSent(ctx, p.Payload.UserID, now); err != nil {
				log.Printf("[NotifyRetryWorker] Failed to update last sent for %s: %v", p.Payload.UserID, err)
			}
		}
		return
	}

	if p.NextAttempt >= w.notifier.MaxAttempts() {
		atomic.AddInt64(&w.dropped, 1)
		log.Printf("[NotifyRetryWorker] Giving up on %s %s after %d attempts: %v",
			p.Payload.Kind, p.Payload.UserID, p.NextAttempt, res.Err)
		return
	}

	next := p
	next.DueAt = now.Add(w.notifier.DelayAfter(p.NextAttempt))
	next.NextAttempt = p.NextAttempt + 1
	if res.Err != nil {
		next.LastError = res.Err.Error()
	}
	if err := w.queue.Schedule(ctx, next); err != nil {
		atomic.AddInt64(&w.dropped, 1)
		log.Printf("[NotifyRetryWorker] Failed to requeue %s: %v", p.Payload.UserID, err)
		return
	}
	atomic.AddInt64(&w.requeued, 1)
}
