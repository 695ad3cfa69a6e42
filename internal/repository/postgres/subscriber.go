package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/ignite/insight-digest/internal/domain"
	"github.com/ignite/insight-digest/internal/service/subscriber"
)

// SubscriberRepo implements subscriber.Repository and
// credential.Repository against PostgreSQL.
type SubscriberRepo struct{ db *sql.DB }

// NewSubscriberRepo creates a Postgres-backed subscriber repository.
func NewSubscriberRepo(db *sql.DB) *SubscriberRepo { return &SubscriberRepo{db: db} }

func (r *SubscriberRepo) ListEnabled(ctx context.Context) ([]domain.SchedulingState, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT p.id, p.email, p.subscription_tier, p.subscription_status,
		       pr.delivery_hour, pr.delivery_minute, pr.timezone, pr.enabled,
		       pr.report_days, pr.last_email_sent_at
		FROM preferences pr
		JOIN profiles p ON p.id = pr.user_id
		WHERE pr.enabled
		ORDER BY p.id
	`)
	if err != nil {
		return nil, fmt.Errorf("list enabled subscribers: %w", err)
	}
	defer rows.Close()

	var out []domain.SchedulingState
	for rows.Next() {
		var (
			s        domain.SchedulingState
			lastSent sql.NullTime
		)
		if err := rows.Scan(
			&s.UserID, &s.Email, &s.Tier, &s.SubscriptionStatus,
			&s.DeliveryHour, &s.DeliveryMinute, &s.Timezone, &s.Enabled,
			pq.Array(&s.ReportDays), &lastSent,
		); err != nil {
			return nil, fmt.Errorf("scan subscriber: %w", err)
		}
		s.LastEmailSentAt = nullTimePtr(lastSent)
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *SubscriberRepo) GetProfile(ctx context.Context, userID string) (*domain.Profile, error) {
	p := &domain.Profile{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, email, full_name, subscription_tier, subscription_status
		FROM profiles
		WHERE id = $1
	`, userID).Scan(&p.UserID, &p.Email, &p.FullName, &p.Tier, &p.SubscriptionStatus)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, subscriber.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	return p, nil
}

func (r *SubscriberRepo) GetPreferences(ctx context.Context, userID string) (*domain.Preferences, error) {
	var (
		p        = &domain.Preferences{}
		lastSent sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT user_id, enabled, delivery_hour, delivery_minute, timezone,
		       report_days, last_email_sent_at
		FROM preferences
		WHERE user_id = $1
	`, userID).Scan(
		&p.UserID, &p.Enabled, &p.DeliveryHour, &p.DeliveryMinute, &p.Timezone,
		pq.Array(&p.ReportDays), &lastSent,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, subscriber.ErrNoPreferences
	}
	if err != nil {
		return nil, fmt.Errorf("get preferences: %w", err)
	}
	p.LastEmailSentAt = nullTimePtr(lastSent)
	return p, nil
}

func (r *SubscriberRepo) UpdateLastSent(ctx context.Context, userID string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE preferences SET last_email_sent_at = $2 WHERE user_id = $1
	`, userID, at)
	if err != nil {
		return fmt.Errorf("update last sent: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return subscriber.ErrNoPreferences
	}
	return nil
}

func nullTimePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
