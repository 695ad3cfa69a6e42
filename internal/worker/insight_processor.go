package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ignite/insight-digest/internal/digest"
	"github.com/ignite/insight-digest/internal/domain"
	"github.com/ignite/insight-digest/internal/ga4"
	"github.com/ignite/insight-digest/internal/pkg/distlock"
	"github.com/ignite/insight-digest/internal/pkg/logger"
	"github.com/ignite/insight-digest/internal/service/eligibility"
	"github.com/ignite/insight-digest/internal/service/notify"
	"github.com/ignite/insight-digest/internal/service/subscriber"
)

// =============================================================================
// INSIGHT PROCESSOR
// =============================================================================
// Runs the per-subscriber pipeline: profile, subscription, preferences, gate,
// connection, credential refresh, metrics fetch, analysis, persistence and
// delivery. Every exit is a ProcessResult; nothing is thrown past Process.

// Result reasons. Gate reasons are reported as eligibility.Reason values.
const (
	ReasonProfileNotFound      = "profile_not_found"
	ReasonInactiveSubscription = "inactive_subscription"
	ReasonPrefsDisabled        = "prefs_disabled"
	ReasonAlreadySent          = "already_sent"
	ReasonNoConnection         = "no_connection"
	ReasonRefreshError         = "refresh_error"
	ReasonFetchError           = "fetch_error"
	ReasonNoData               = "no_data"
	ReasonNoInsights           = "no_insights"
	ReasonPersistError         = "persist_error"
	ReasonNotifyError          = "notify_error"
	ReasonNotifyRetryScheduled = "notify_retry_scheduled"
	ReasonInFlight             = "in_flight"
	ReasonLockError            = "lock_error"
	ReasonSent                 = "sent"
)

// DeliveryMode selects how notification retries are handled.
type DeliveryMode string

const (
	// DeliveryInline retries inside Process, sleeping between attempts.
	DeliveryInline DeliveryMode = "inline"
	// DeliveryDeferred makes one attempt and parks failures on the retry
	// queue for NotifyRetryWorker.
	DeliveryDeferred DeliveryMode = "deferred"
)

// Processor defaults.
const (
	DefaultSubscriberTimeout       = 10 * time.Minute
	DefaultStillProcessingInterval = 7 * 24 * time.Hour
	DefaultStillProcessingMinAge   = 24 * time.Hour
	DefaultDedupeWindow            = 20 * time.Hour
)

// ProcessResult is the outcome of one subscriber run.
type ProcessResult struct {
	UserID        string `json:"user_id"`
	Success       bool   `json:"success"`
	Skipped       bool   `json:"skipped,omitempty"`
	Reason        string `json:"reason"`
	InsightsFound int    `json:"insights_found"`
	EmailsSent    int    `json:"emails_sent"`
	Error         string `json:"error,omitempty"`
	Err           error  `json:"-"`
}

// ProcessOptions alter a single run.
type ProcessOptions struct {
	// Force bypasses the eligibility gate and same-day dedupe.
	Force bool
}

// SubscriberStore reads subscriber state.
type SubscriberStore interface {
	Profile(ctx context.Context, userID string) (*domain.Profile, error)
	Preferences(ctx context.Context, userID string) (*domain.Preferences, error)
	ActiveConnection(ctx context.Context, userID string) (*domain.Connection, error)
	MarkSent(ctx context.Context, userID string, at time.Time) error
}

// CredentialManager keeps connection tokens fresh.
type CredentialManager interface {
	EnsureFresh(ctx context.Context, conn domain.Connection) (domain.Connection, error)
	PersistRotated(ctx context.Context, conn domain.Connection, tok domain.Token) (domain.Connection, error)
}

// MetricsFetcher loads the daily metric series.
type MetricsFetcher interface {
	Fetch(ctx context.Context, req ga4.FetchRequest) (ga4.FetchResult, error)
}

// InsightDetector turns a series into ranked insights.
type InsightDetector interface {
	Analyze(series []domain.MetricSample) []domain.AnomalyInsight
}

// DeliveryRecorder persists insights and audit rows.
type DeliveryRecorder interface {
	PersistTop(ctx context.Context, userID, connectionID string, runDate time.Time, insights []domain.AnomalyInsight, n int) ([]domain.PersistedInsight, error)
	RecordAttempt(ctx context.Context, entry domain.EmailLog) error
	LastSent(ctx context.Context, userID string, kind domain.EmailKind) (*time.Time, error)
}

// DigestRenderer builds email messages.
type DigestRenderer interface {
	Insights(to digest.Recipient, insights []domain.AnomalyInsight) (notify.Message, error)
	StillProcessing(to digest.Recipient) (notify.Message, error)
}

// Notifier sends notifications.
type Notifier interface {
	SendWithRetry(ctx context.Context, p notify.Payload) notify.Result
	SendOnce(ctx context.Context, p notify.Payload, n int) notify.Result
	DelayAfter(n int) time.Duration
	MaxAttempts() int
}

// RetryScheduler parks a failed notification for later.
type RetryScheduler interface {
	Schedule(ctx context.Context, p notify.Pending) error
}

// LockProvider hands out per-subscriber locks.
type LockProvider interface {
	ForSubscriber(userID string) distlock.DistLock
}

// ProcessorConfig tunes the processor. Zero fields take defaults.
type ProcessorConfig struct {
	Mode                    DeliveryMode
	SubscriberTimeout       time.Duration
	StillProcessingInterval time.Duration
	StillProcessingMinAge   time.Duration
	DedupeWindow            time.Duration
}

// ProcessorDeps are the processor's collaborators. Locks and Retries are
// optional.
type ProcessorDeps struct {
	Subscribers SubscriberStore
	Credentials CredentialManager
	Fetcher     MetricsFetcher
	Detector    InsightDetector
	Recorder    DeliveryRecorder
	Renderer    DigestRenderer
	Notifier    Notifier
	Retries     RetryScheduler
	Gate        *eligibility.Gate
	Policies    domain.TierPolicies
	Locks       LockProvider
}

// InsightProcessor runs the per-subscriber pipeline. It is safe for
// concurrent use across different subscribers.
type InsightProcessor struct {
	deps ProcessorDeps
	cfg  ProcessorConfig
	now  func() time.Time
	log  *logger.Logger
}

// NewInsightProcessor creates a processor.
func NewInsightProcessor(deps ProcessorDeps, cfg ProcessorConfig) *InsightProcessor {
	if cfg.Mode == "" {
		cfg.Mode = DeliveryInline
	}
	if cfg.Mode == DeliveryDeferred && deps.Retries == nil {
		cfg.Mode = DeliveryInline
	}
	if cfg.SubscriberTimeout <= 0 {
		cfg.SubscriberTimeout = DefaultSubscriberTimeout
	}
	if cfg.StillProcessingInterval <= 0 {
		cfg.StillProcessingInterval = DefaultStillProcessingInterval
	}
	if cfg.StillProcessingMinAge <= 0 {
		cfg.StillProcessingMinAge = DefaultStillProcessingMinAge
	}
	if cfg.DedupeWindow <= 0 {
		cfg.DedupeWindow = DefaultDedupeWindow
	}
	if deps.Policies == nil {
		deps.Policies = domain.DefaultTierPolicies()
	}
	if deps.Gate == nil {
		deps.Gate = eligibility.NewGate(deps.Policies, eligibility.Config{})
	}
	return &InsightProcessor{
		deps: deps,
		cfg:  cfg,
		now:  time.Now,
		log:  logger.Default().With("component", "insight_processor"),
	}
}

// SetClock overrides the time source (tests).
func (p *InsightProcessor) SetClock(now func() time.Time) { p.now = now }

// Process runs the pipeline for one subscriber under its in-flight lock and
// the configured timeout.
func (p *InsightProcessor) Process(ctx context.Context, userID string, opts ProcessOptions) ProcessResult {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.SubscriberTimeout)
	defer cancel()

	if p.deps.Locks != nil {
		lock := p.deps.Locks.ForSubscriber(userID)
		ok, err := lock.Acquire(ctx)
		if err != nil {
			return failed(userID, ReasonLockError, err)
		}
		if !ok {
			return ProcessResult{UserID: userID, Success: false, Skipped: true, Reason: ReasonInFlight}
		}
		defer func() {
			releaseCtx, rc := context.WithTimeout(context.Background(), 5*time.Second)
			defer rc()
			if err := lock.Release(releaseCtx); err != nil {
				p.log.Warn("release subscriber lock", "user_id", userID, "error", err)
			}
		}()
	}

	res := p.run(ctx, userID, opts)
	l := p.log.With("user_id", userID)
	switch {
	case res.Err != nil:
		l.Error("subscriber run failed", "reason", res.Reason, "error", res.Err)
	case !res.Success:
		l.Debug("subscriber skipped", "reason", res.Reason)
	default:
		l.Info("subscriber run complete", "reason", res.Reason, "insights", res.InsightsFound, "emails", res.EmailsSent)
	}
	return res
}

func (p *InsightProcessor) run(ctx context.Context, userID string, opts ProcessOptions) ProcessResult {
	now := p.now()

	profile, err := p.deps.Subscribers.Profile(ctx, userID)
	if err != nil {
		if errors.Is(err, subscriber.ErrNotFound) {
			err = nil
		}
		return failed(userID, ReasonProfileNotFound, err)
	}
	if profile.SubscriptionStatus != domain.SubscriptionActive {
		return failed(userID, ReasonInactiveSubscription, nil)
	}

	prefs, err := p.deps.Subscribers.Preferences(ctx, userID)
	if err != nil {
		if errors.Is(err, subscriber.ErrNoPreferences) {
			err = nil
		}
		return failed(userID, ReasonPrefsDisabled, err)
	}
	if !prefs.Enabled {
		return failed(userID, ReasonPrefsDisabled, nil)
	}

	if !opts.Force {
		state := domain.NewSchedulingState(*profile, *prefs)
		if d := p.deps.Gate.IsEligibleNow(state, now); !d.Eligible {
			return ProcessResult{UserID: userID, Skipped: true, Reason: string(d.Reason)}
		}
		if p.recentlySent(ctx, userID, prefs, now) {
			return ProcessResult{UserID: userID, Skipped: true, Reason: ReasonAlreadySent}
		}
	}

	connPtr, err := p.deps.Subscribers.ActiveConnection(ctx, userID)
	if err != nil {
		if errors.Is(err, subscriber.ErrNoConnection) {
			err = nil
		}
		return failed(userID, ReasonNoConnection, err)
	}
	conn, err := p.deps.Credentials.EnsureFresh(ctx, *connPtr)
	if err != nil {
		return failed(userID, ReasonRefreshError, err)
	}

	policy := p.deps.Policies.For(profile.Tier)
	runDate := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	end := runDate.AddDate(0, 0, -1)
	start := end.AddDate(0, 0, -(policy.LookbackDays - 1))

	fetched, err := p.deps.Fetcher.Fetch(ctx, ga4.FetchRequest{
		PropertyID:   conn.PropertyID,
		AccessToken:  conn.AccessToken,
		RefreshToken: conn.RefreshToken,
		StartDate:    start,
		EndDate:      end,
	})
	if fetched.TokenRefreshed && fetched.NewAccessToken != "" {
		updated, perr := p.persistRotated(ctx, conn, fetched)
		if perr != nil {
			return failed(userID, ReasonRefreshError, perr)
		}
		conn = updated
	}
	if err != nil {
		return failed(userID, ReasonFetchError, err)
	}
	if !fetched.HasData {
		return ProcessResult{UserID: userID, Success: true, Reason: ReasonNoData}
	}

	to := digest.Recipient{UserID: userID, Email: profile.Email, Name: profile.FullName}
	insights := p.deps.Detector.Analyze(fetched.Daily)
	if len(insights) == 0 {
		res := ProcessResult{UserID: userID, Success: true, Reason: ReasonNoInsights}
		if p.maybeStillProcessing(ctx, to, conn, now) {
			res.EmailsSent = 1
		}
		return res
	}

	n := min(policy.InsightsPerEmail, len(insights))
	top := insights[:n]
	if _, err := p.deps.Recorder.PersistTop(ctx, userID, conn.ID, runDate, insights, n); err != nil {
		return failed(userID, ReasonPersistError, err)
	}

	msg, err := p.deps.Renderer.Insights(to, top)
	if err != nil {
		return ProcessResult{UserID: userID, Reason: ReasonNotifyError, InsightsFound: n, Err: err, Error: err.Error()}
	}

	res := p.deliver(ctx, notify.Payload{UserID: userID, Kind: domain.EmailInsights, Message: msg}, now)
	res.InsightsFound = n
	return res
}

// recentlySent reports whether a digest went out within the dedupe window.
// last_email_sent_at is checked first; the email_logs audit covers sends
// whose MarkSent failed.
func (p *InsightProcessor) recentlySent(ctx context.Context, userID string, prefs *domain.Preferences, now time.Time) bool {
	if prefs.LastEmailSentAt != nil && now.Sub(*prefs.LastEmailSentAt) < p.cfg.DedupeWindow {
		return true
	}
	last, err := p.deps.Recorder.LastSent(ctx, userID, domain.EmailInsights)
	if err != nil {
		p.log.Warn("last digest lookup failed", "user_id", userID, "error", err)
		return false
	}
	return last != nil && now.Sub(*last) < p.cfg.DedupeWindow
}

// persistRotated stores a token the fetcher rotated mid-call. It runs even
// when the retried fetch failed, because the stored token is stale either way.
func (p *InsightProcessor) persistRotated(ctx context.Context, conn domain.Connection, fetched ga4.FetchResult) (domain.Connection, error) {
	updated, err := p.deps.Credentials.PersistRotated(ctx, conn, domain.Token{
		AccessToken:  fetched.NewAccessToken,
		RefreshToken: fetched.NewRefreshToken,
		ExpiresAt:    fetched.NewExpiresAt,
	})
	if err != nil {
		return conn, fmt.Errorf("persist rotated token: %w", err)
	}
	return updated, nil
}

// deliver sends the digest and marks the subscriber as sent on success.
func (p *InsightProcessor) deliver(ctx context.Context, payload notify.Payload, now time.Time) ProcessResult {
	userID := payload.UserID

	scheduled, err := p.send(ctx, payload, now)
	if err != nil {
		return failed(userID, ReasonNotifyError, err)
	}
	if scheduled {
		return ProcessResult{UserID: userID, Success: true, Reason: ReasonNotifyRetryScheduled}
	}

	if err := p.deps.Subscribers.MarkSent(ctx, userID, now); err != nil {
		p.log.Error("update last sent", "user_id", userID, "error", err)
	}
	return ProcessResult{UserID: userID, Success: true, Reason: ReasonSent, EmailsSent: 1}
}

// send delivers payload. In deferred mode a failed first attempt is parked
// on the retry queue and scheduled is true.
func (p *InsightProcessor) send(ctx context.Context, payload notify.Payload, now time.Time) (scheduled bool, err error) {
	if p.cfg.Mode != DeliveryDeferred {
		res := p.deps.Notifier.SendWithRetry(ctx, payload)
		if !res.Success {
			return false, res.Err
		}
		return false, nil
	}

	res := p.deps.Notifier.SendOnce(ctx, payload, 1)
	if res.Success {
		return false, nil
	}
	if p.deps.Notifier.MaxAttempts() <= 1 {
		return false, res.Err
	}
	pending := notify.Pending{
		Payload:     payload,
		NextAttempt: 2,
		DueAt:       now.Add(p.deps.Notifier.DelayAfter(1)),
	}
	if res.Err != nil {
		pending.LastError = res.Err.Error()
	}
	if err := p.deps.Retries.Schedule(ctx, pending); err != nil {
		return false, errors.Join(res.Err, err)
	}
	return true, nil
}

// maybeStillProcessing sends the "still processing" notice at most once per
// interval, and only once the connection is old enough to expect data.
func (p *InsightProcessor) maybeStillProcessing(ctx context.Context, to digest.Recipient, conn domain.Connection, now time.Time) bool {
	if now.Sub(conn.CreatedAt) < p.cfg.StillProcessingMinAge {
		return false
	}
	last, err := p.deps.Recorder.LastSent(ctx, to.UserID, domain.EmailStillProcessing)
	if err != nil {
		p.log.Warn("still-processing lookup failed", "user_id", to.UserID, "error", err)
		return false
	}
	if last != nil && now.Sub(*last) < p.cfg.StillProcessingInterval {
		return false
	}

	msg, err := p.deps.Renderer.StillProcessing(to)
	if err != nil {
		p.log.Error("render still-processing notice", "user_id", to.UserID, "error", err)
		return false
	}
	scheduled, err := p.send(ctx, notify.Payload{
		UserID:  to.UserID,
		Kind:    domain.EmailStillProcessing,
		Message: msg,
	}, now)
	if err != nil {
		p.log.Warn("still-processing notice failed", "user_id", to.UserID, "error", err)
		return false
	}
	return !scheduled
}

// AuditObserver records every notification attempt through rec.
func AuditObserver(rec DeliveryRecorder) notify.Observer {
	return func(ctx context.Context, a notify.Attempt) {
		entry := domain.EmailLog{
			UserID:            a.Payload.UserID,
			Kind:              a.Payload.Kind,
			Recipient:         a.Payload.Message.To,
			Subject:           a.Payload.Message.Subject,
			Status:            domain.EmailSent,
			ProviderMessageID: a.MessageID,
			Attempt:           a.Number,
			CreatedAt:         a.At.UTC(),
		}
		if !a.Succeeded() {
			entry.Status = domain.EmailFailed
			entry.Error = a.Err.Error()
		}
		if err := rec.RecordAttempt(ctx, entry); err != nil {
			logger.Error("record email attempt", "user_id", entry.UserID, "error", err)
		}
	}
}

func failed(userID, reason string, err error) ProcessResult {
	r := ProcessResult{UserID: userID, Reason: reason, Err: err}
	if err != nil {
		r.Error = err.Error()
	}
	return r
}
