package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ignite/insight-digest/internal/domain"
)

// InsightRepo implements recorder.Repository against PostgreSQL.
type InsightRepo struct{ db *sql.DB }

// NewInsightRepo creates a Postgres-backed insight and email-log repository.
func NewInsightRepo(db *sql.DB) *InsightRepo { return &InsightRepo{db: db} }

// UpsertInsights writes all rows in one transaction. A row that collides on
// (user_id, insight_date, priority) keeps its id and takes the new content.
func (r *InsightRepo) UpsertInsights(ctx context.Context, rows []domain.PersistedInsight) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	for _, in := range rows {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO insights
				(id, user_id, connection_id, insight_date, insight_type, priority,
				 metric_name, metric_value, baseline_value, percent_change, direction,
				 headline, explanation, action_item, impact_score)
			VALUES ($1, $2, NULLIF($3, '')::uuid, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
			ON CONFLICT (user_id, insight_date, priority) DO UPDATE SET
				connection_id  = EXCLUDED.connection_id,
				insight_type   = EXCLUDED.insight_type,
				metric_name    = EXCLUDED.metric_name,
				metric_value   = EXCLUDED.metric_value,
				baseline_value = EXCLUDED.baseline_value,
				percent_change = EXCLUDED.percent_change,
				direction      = EXCLUDED.direction,
				headline       = EXCLUDED.headline,
				explanation    = EXCLUDED.explanation,
				action_item    = EXCLUDED.action_item,
				impact_score   = EXCLUDED.impact_score,
				updated_at     = NOW()
		`, in.ID, in.UserID, in.ConnectionID, in.InsightDate, in.InsightType, in.Priority,
			in.MetricName, in.MetricValue, in.BaselineValue, in.PercentChange, in.Direction,
			in.Headline, in.Explanation, in.ActionItem, in.ImpactScore); err != nil {
			return fmt.Errorf("upsert insight priority %d: %w", in.Priority, err)
		}
	}
	return tx.Commit()
}

func (r *InsightRepo) InsertEmailLog(ctx context.Context, e *domain.EmailLog) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO email_logs
			(id, user_id, email_type, recipient, subject, status,
			 provider_message_id, attempt, error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, e.ID, e.UserID, e.Kind, e.Recipient, e.Subject, e.Status,
		e.ProviderMessageID, e.Attempt, e.Error, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert email log: %w", err)
	}
	return nil
}

func (r *InsightRepo) LastEmailSentAt(ctx context.Context, userID string, kind domain.EmailKind) (*time.Time, error) {
	var last sql.NullTime
	err := r.db.QueryRowContext(ctx, `
		SELECT MAX(created_at)
		FROM email_logs
		WHERE user_id = $1 AND email_type = $2 AND status = 'sent'
	`, userID, kind).Scan(&last)
	if err != nil {
		return nil, fmt.Errorf("last email sent: %w", err)
	}
	return nullTimePtr(last), nil
}
