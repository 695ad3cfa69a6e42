package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ignite/insight-digest/internal/domain"
	"github.com/ignite/insight-digest/internal/service/subscriber"
)

func (r *SubscriberRepo) ActiveConnection(ctx context.Context, userID string) (*domain.Connection, error) {
	c := &domain.Connection{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, property_id, access_token, refresh_token,
		       expires_at, is_active, created_at
		FROM connections
		WHERE user_id = $1 AND is_active
	`, userID).Scan(
		&c.ID, &c.UserID, &c.PropertyID, &c.AccessToken, &c.RefreshToken,
		&c.ExpiresAt, &c.IsActive, &c.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, subscriber.ErrNoConnection
	}
	if err != nil {
		return nil, fmt.Errorf("get active connection: %w", err)
	}
	return c, nil
}

func (r *SubscriberRepo) ReplaceConnection(ctx context.Context, c *domain.Connection) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		UPDATE connections SET is_active = FALSE WHERE user_id = $1 AND is_active
	`, c.UserID); err != nil {
		return fmt.Errorf("deactivate connections: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO connections
			(id, user_id, property_id, access_token, refresh_token, expires_at, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, TRUE, $7)
	`, c.ID, c.UserID, c.PropertyID, c.AccessToken, c.RefreshToken, c.ExpiresAt, c.CreatedAt); err != nil {
		return fmt.Errorf("insert connection: %w", err)
	}
	return tx.Commit()
}

// UpdateTokens keeps the stored refresh token when tok carries none.
func (r *SubscriberRepo) UpdateTokens(ctx context.Context, connectionID string, tok domain.Token) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE connections
		SET access_token = $2,
		    refresh_token = COALESCE(NULLIF($3, ''), refresh_token),
		    expires_at = $4
		WHERE id = $1
	`, connectionID, tok.AccessToken, tok.RefreshToken, tok.ExpiresAt)
	if err != nil {
		return fmt.Errorf("update tokens: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return subscriber.ErrNoConnection
	}
	return nil
}
