package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ignite/insight-digest/internal/domain"
	"github.com/ignite/insight-digest/internal/ga4"
	"github.com/ignite/insight-digest/internal/service/notify"
	"github.com/ignite/insight-digest/internal/service/subscriber"
)

// testNow is a Wednesday, 14:05 UTC.
var testNow = time.Date(2025, 3, 12, 14, 5, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

type fakeSubscribers struct {
	mu       sync.Mutex
	profiles map[string]*domain.Profile
	prefs    map[string]*domain.Preferences
	conns    map[string]*domain.Connection
	marked   map[string]time.Time
	listErr  error
	markErr  error
}

func newFakeSubscribers() *fakeSubscribers {
	return &fakeSubscribers{
		profiles: map[string]*domain.Profile{},
		prefs:    map[string]*domain.Preferences{},
		conns:    map[string]*domain.Connection{},
		marked:   map[string]time.Time{},
	}
}

// add registers an active, eligible-now subscriber with a week-old connection.
func (f *fakeSubscribers) add(userID string, tier domain.Tier) {
	f.profiles[userID] = &domain.Profile{
		UserID:             userID,
		Email:              userID + "@shop.example",
		FullName:           "Owner " + userID,
		Tier:               tier,
		SubscriptionStatus: domain.SubscriptionActive,
	}
	f.prefs[userID] = &domain.Preferences{
		UserID:       userID,
		Enabled:      true,
		DeliveryHour: 14,
		Timezone:     "UTC",
		ReportDays:   []string{"Wednesday"},
	}
	f.conns[userID] = &domain.Connection{
		ID:           "conn-" + userID,
		UserID:       userID,
		PropertyID:   "prop-" + userID,
		AccessToken:  "ya29." + userID,
		RefreshToken: "1//" + userID,
		ExpiresAt:    testNow.Add(time.Hour),
		IsActive:     true,
		CreatedAt:    testNow.Add(-7 * 24 * time.Hour),
	}
}

func (f *fakeSubscribers) Enabled(_ context.Context) ([]domain.SchedulingState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []domain.SchedulingState
	for id, p := range f.prefs {
		if p.Enabled {
			out = append(out, domain.NewSchedulingState(*f.profiles[id], *p))
		}
	}
	return out, nil
}

func (f *fakeSubscribers) Profile(_ context.Context, userID string) (*domain.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.profiles[userID]
	if !ok {
		return nil, subscriber.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *fakeSubscribers) Preferences(_ context.Context, userID string) (*domain.Preferences, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.prefs[userID]
	if !ok {
		return nil, subscriber.ErrNoPreferences
	}
	cp := *p
	return &cp, nil
}

func (f *fakeSubscribers) ActiveConnection(_ context.Context, userID string) (*domain.Connection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.conns[userID]
	if !ok {
		return nil, subscriber.ErrNoConnection
	}
	cp := *c
	return &cp, nil
}

func (f *fakeSubscribers) MarkSent(_ context.Context, userID string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.markErr != nil {
		return f.markErr
	}
	f.marked[userID] = at
	return nil
}

func (f *fakeSubscribers) markedAt(userID string) (time.Time, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.marked[userID]
	return t, ok
}

type fakeCredentials struct {
	mu             sync.Mutex
	refreshErr     error
	rotated        []string
	rotatedRefresh []string
}

func (f *fakeCredentials) EnsureFresh(_ context.Context, conn domain.Connection) (domain.Connection, error) {
	if f.refreshErr != nil {
		return conn, f.refreshErr
	}
	return conn, nil
}

func (f *fakeCredentials) PersistRotated(_ context.Context, conn domain.Connection, tok domain.Token) (domain.Connection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rotated = append(f.rotated, tok.AccessToken)
	f.rotatedRefresh = append(f.rotatedRefresh, tok.RefreshToken)
	conn.AccessToken = tok.AccessToken
	conn.ExpiresAt = tok.ExpiresAt
	if tok.RefreshToken != "" {
		conn.RefreshToken = tok.RefreshToken
	}
	return conn, nil
}

type fetchOutcome struct {
	res ga4.FetchResult
	err error
}

type fakeFetcher struct {
	mu       sync.Mutex
	byProp   map[string]fetchOutcome
	fallback fetchOutcome
	calls    []ga4.FetchRequest
}

func newFakeFetcher(daily []domain.MetricSample) *fakeFetcher {
	return &fakeFetcher{
		byProp:   map[string]fetchOutcome{},
		fallback: fetchOutcome{res: ga4.FetchResult{HasData: len(daily) > 0, Daily: daily}},
	}
}

func (f *fakeFetcher) Fetch(_ context.Context, req ga4.FetchRequest) (ga4.FetchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	if o, ok := f.byProp[req.PropertyID]; ok {
		return o.res, o.err
	}
	return f.fallback.res, f.fallback.err
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeDetector struct{ insights []domain.AnomalyInsight }

func (f fakeDetector) Analyze(series []domain.MetricSample) []domain.AnomalyInsight {
	if len(series) == 0 {
		return nil
	}
	return f.insights
}

type persistCall struct {
	userID, connectionID string
	runDate              time.Time
	n                    int
}

type fakeRecorder struct {
	mu         sync.Mutex
	persists   []persistCall
	persistErr error
	attempts   []domain.EmailLog
	lastSent   map[domain.EmailKind]*time.Time
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{lastSent: map[domain.EmailKind]*time.Time{}}
}

func (f *fakeRecorder) PersistTop(_ context.Context, userID, connectionID string, runDate time.Time, insights []domain.AnomalyInsight, n int) ([]domain.PersistedInsight, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.persistErr != nil {
		return nil, f.persistErr
	}
	f.persists = append(f.persists, persistCall{userID, connectionID, runDate, n})
	return make([]domain.PersistedInsight, n), nil
}

func (f *fakeRecorder) RecordAttempt(_ context.Context, e domain.EmailLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts = append(f.attempts, e)
	return nil
}

// LastSent mirrors the email_logs lookup: the newest successful attempt of
// kind, or a seeded value when no attempt was recorded.
func (f *fakeRecorder) LastSent(_ context.Context, userID string, kind domain.EmailKind) (*time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	last := f.lastSent[kind]
	for _, a := range f.attempts {
		if a.UserID != userID || a.Kind != kind || a.Status != domain.EmailSent {
			continue
		}
		if last == nil || a.CreatedAt.After(*last) {
			at := a.CreatedAt
			last = &at
		}
	}
	return last, nil
}

type fakeMailer struct {
	mu       sync.Mutex
	failFor  map[string]bool
	failAll  bool
	messages []notify.Message
}

func (f *fakeMailer) Send(_ context.Context, msg notify.Message) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll || f.failFor[msg.To] {
		return "", errors.New("mailbox unavailable")
	}
	f.messages = append(f.messages, msg)
	return "msg-" + msg.To, nil
}

func (f *fakeMailer) sent() []notify.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]notify.Message(nil), f.messages...)
}

type fakeRetries struct {
	mu      sync.Mutex
	pending []notify.Pending
}

func (f *fakeRetries) Schedule(_ context.Context, p notify.Pending) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending = append(f.pending, p)
	return nil
}

type fakeJobRuns struct {
	mu        sync.Mutex
	created   []domain.JobRun
	finalized []domain.JobRun
	createErr error
}

func (f *fakeJobRuns) Create(_ context.Context, run *domain.JobRun) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	f.created = append(f.created, *run)
	return nil
}

func (f *fakeJobRuns) Finalize(_ context.Context, run *domain.JobRun) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finalized = append(f.finalized, *run)
	return nil
}

func (f *fakeJobRuns) Latest(_ context.Context, limit int) ([]domain.JobRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]domain.JobRun(nil), f.finalized...)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func dailySeries(days int, value float64) []domain.MetricSample {
	start := testNow.AddDate(0, 0, -days)
	out := make([]domain.MetricSample, days)
	for i := range out {
		d := start.AddDate(0, 0, i)
		out[i] = domain.MetricSample{
			Date:           time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC),
			Sessions:       value,
			TotalUsers:     value,
			Conversions:    value,
			EngagementRate: 0.5,
			BounceRate:     0.4,
		}
	}
	return out
}

func rankedInsights(n int) []domain.AnomalyInsight {
	out := make([]domain.AnomalyInsight, n)
	for i := range out {
		out[i] = domain.AnomalyInsight{
			Date:          testNow.AddDate(0, 0, -1),
			Metric:        domain.MetricSessions,
			CurrentValue:  float64(200 + i),
			ExpectedValue: 100,
			PercentChange: float64(100 + i),
			ZScore:        float64(5 - i),
			Direction:     domain.DirectionUp,
			TrendType:     domain.TrendSpike,
			Headline:      "Sessions spiked",
			Explanation:   "More visitors than usual.",
			ActionItems:   []string{"Check referrers"},
		}
	}
	return out
}
