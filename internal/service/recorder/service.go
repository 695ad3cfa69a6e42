package recorder

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/insight-digest/internal/domain"
)

// Service records insights and email attempts. It is safe for concurrent use.
type Service struct {
	repo Repository
}

// NewService creates a recorder backed by the given repository.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// PersistTop stores the first n ranked insights for userID on runDate with
// priorities 1..n and returns the rows written.
func (s *Service) PersistTop(ctx context.Context, userID, connectionID string, runDate time.Time, insights []domain.AnomalyInsight, n int) ([]domain.PersistedInsight, error) {
	if userID == "" {
		return nil, ErrMissingUser
	}
	if n > len(insights) {
		n = len(insights)
	}
	if n <= 0 {
		return nil, ErrNothingToWrite
	}

	day := time.Date(runDate.Year(), runDate.Month(), runDate.Day(), 0, 0, 0, 0, time.UTC)
	rows := make([]domain.PersistedInsight, 0, n)
	for i, in := range insights[:n] {
		rows = append(rows, domain.PersistedInsight{
			ID:            uuid.New().String(),
			UserID:        userID,
			ConnectionID:  connectionID,
			InsightDate:   day,
			InsightType:   in.TrendType,
			Priority:      i + 1,
			MetricName:    in.Metric,
			MetricValue:   in.CurrentValue,
			BaselineValue: in.ExpectedValue,
			PercentChange: in.PercentChange,
			Direction:     in.Direction,
			Headline:      in.Headline,
			Explanation:   in.Explanation,
			ActionItem:    strings.Join(in.ActionItems, "\n"),
			ImpactScore:   in.ImpactScore,
		})
	}

	if err := s.repo.UpsertInsights(ctx, rows); err != nil {
		return nil, fmt.Errorf("persist insights for %s: %w", userID, err)
	}
	return rows, nil
}

// RecordAttempt appends one notification attempt to the email log.
func (s *Service) RecordAttempt(ctx context.Context, entry domain.EmailLog) error {
	if entry.UserID == "" {
		return ErrMissingUser
	}
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if err := s.repo.InsertEmailLog(ctx, &entry); err != nil {
		return fmt.Errorf("record email attempt: %w", err)
	}
	return nil
}

// LastSent returns the last successful delivery of kind to userID.
func (s *Service) LastSent(ctx context.Context, userID string, kind domain.EmailKind) (*time.Time, error) {
	return s.repo.LastEmailSentAt(ctx, userID, kind)
}
