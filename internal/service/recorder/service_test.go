package recorder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/insight-digest/internal/domain"
)

// mockRepo is an in-memory repository for testing.
type mockRepo struct {
	mu       sync.Mutex
	insights map[string]domain.PersistedInsight // keyed by user/date/priority
	logs     []domain.EmailLog
	failWith error
}

func newMockRepo() *mockRepo {
	return &mockRepo{insights: make(map[string]domain.PersistedInsight)}
}

func (m *mockRepo) UpsertInsights(_ context.Context, rows []domain.PersistedInsight) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return m.failWith
	}
	for _, r := range rows {
		k := fmt.Sprintf("%s|%s|%d", r.UserID, r.InsightDate.Format("2006-01-02"), r.Priority)
		if existing, ok := m.insights[k]; ok {
			r.ID = existing.ID
		}
		m.insights[k] = r
	}
	return nil
}

func (m *mockRepo) InsertEmailLog(_ context.Context, e *domain.EmailLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs = append(m.logs, *e)
	return nil
}

func (m *mockRepo) LastEmailSentAt(_ context.Context, userID string, kind domain.EmailKind) (*time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var last *time.Time
	for _, l := range m.logs {
		if l.UserID != userID || l.Kind != kind || l.Status != domain.EmailSent {
			continue
		}
		if last == nil || l.CreatedAt.After(*last) {
			t := l.CreatedAt
			last = &t
		}
	}
	return last, nil
}

func sampleInsights(n int) []domain.AnomalyInsight {
	out := make([]domain.AnomalyInsight, n)
	for i := range out {
		out[i] = domain.AnomalyInsight{
			Metric:        domain.TrackedMetrics[i%len(domain.TrackedMetrics)],
			CurrentValue:  float64(200 + i),
			ExpectedValue: 100,
			PercentChange: 1,
			ZScore:        float64(5 - i),
			TrendType:     domain.TrendSpike,
			Direction:     domain.DirectionUp,
			ImpactScore:   100,
			Headline:      fmt.Sprintf("headline %d", i),
			ActionItems:   []string{"a", "b"},
		}
	}
	return out
}

func TestPersistTop_IdempotentUpsert(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo)
	ctx := context.Background()
	runDate := time.Date(2025, 3, 12, 14, 30, 0, 0, time.UTC)

	first, err := svc.PersistTop(ctx, "user-1", "conn-1", runDate, sampleInsights(5), 3)
	require.NoError(t, err)
	require.Len(t, first, 3)

	_, err = svc.PersistTop(ctx, "user-1", "conn-1", runDate.Add(time.Hour), sampleInsights(5), 3)
	require.NoError(t, err)

	assert.Len(t, repo.insights, 3, "same user and day must converge on three rows")
	for i, row := range first {
		assert.Equal(t, i+1, row.Priority)
		assert.Equal(t, time.Date(2025, 3, 12, 0, 0, 0, 0, time.UTC), row.InsightDate)
		assert.Equal(t, "a\nb", row.ActionItem)
	}
}

func TestPersistTop_FewerThanN(t *testing.T) {
	svc := NewService(newMockRepo())
	rows, err := svc.PersistTop(context.Background(), "user-1", "conn-1", time.Now(), sampleInsights(2), 3)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestPersistTop_Errors(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo)
	ctx := context.Background()

	_, err := svc.PersistTop(ctx, "", "conn", time.Now(), sampleInsights(1), 3)
	assert.ErrorIs(t, err, ErrMissingUser)

	_, err = svc.PersistTop(ctx, "user-1", "conn", time.Now(), nil, 3)
	assert.ErrorIs(t, err, ErrNothingToWrite)

	boom := errors.New("db down")
	repo.failWith = boom
	_, err = svc.PersistTop(ctx, "user-1", "conn", time.Now(), sampleInsights(3), 3)
	assert.ErrorIs(t, err, boom)
}

func TestRecordAttemptAndLastSent(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo)
	ctx := context.Background()
	sentAt := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, svc.RecordAttempt(ctx, domain.EmailLog{UserID: "u", Kind: domain.EmailStillProcessing, Status: domain.EmailFailed, Attempt: 1}))
	require.NoError(t, svc.RecordAttempt(ctx, domain.EmailLog{UserID: "u", Kind: domain.EmailStillProcessing, Status: domain.EmailSent, Attempt: 2, CreatedAt: sentAt}))
	assert.ErrorIs(t, svc.RecordAttempt(ctx, domain.EmailLog{}), ErrMissingUser)

	require.Len(t, repo.logs, 2)
	assert.NotEmpty(t, repo.logs[0].ID)

	last, err := svc.LastSent(ctx, "u", domain.EmailStillProcessing)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, sentAt, *last)

	none, err := svc.LastSent(ctx, "u", domain.EmailInsights)
	require.NoError(t, err)
	assert.Nil(t, none)
}
