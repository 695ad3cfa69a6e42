package credential

import (
	"context"
	"fmt"
	"time"

	"github.com/ignite/insight-digest/internal/domain"
)

// DefaultTokenLifetime is assumed for rotated tokens that arrive without an
// expiry. Google access tokens live for one hour.
const DefaultTokenLifetime = time.Hour

// Service refreshes and persists connection credentials.
type Service struct {
	repo      Repository
	refresher Refresher
	now       func() time.Time
}

// NewService creates a credential service.
func NewService(repo Repository, refresher Refresher) *Service {
	return &Service{repo: repo, refresher: refresher, now: time.Now}
}

// SetClock overrides the time source (tests).
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// EnsureFresh returns conn unchanged while its access token is valid.
// Otherwise it refreshes, persists the new token and returns the updated
// connection. Refresh and persistence errors are returned as-is wrapped.
func (s *Service) EnsureFresh(ctx context.Context, conn domain.Connection) (domain.Connection, error) {
	if !conn.Expired(s.now()) {
		return conn, nil
	}
	if conn.RefreshToken == "" {
		return conn, fmt.Errorf("%w: connection %s: %w", ErrRefreshFailed, conn.ID, ErrNoRefresh)
	}

	tok, err := s.refresher.Refresh(ctx, conn.RefreshToken)
	if err != nil {
		return conn, fmt.Errorf("%w: connection %s: %w", ErrRefreshFailed, conn.ID, err)
	}
	if tok.AccessToken == "" {
		return conn, fmt.Errorf("%w: connection %s: %w", ErrRefreshFailed, conn.ID, ErrEmptyToken)
	}

	return s.persist(ctx, conn, tok)
}

// PersistRotated stores tokens that were rotated during a fetch. An empty
// RefreshToken keeps the stored one.
func (s *Service) PersistRotated(ctx context.Context, conn domain.Connection, tok domain.Token) (domain.Connection, error) {
	if tok.AccessToken == "" {
		return conn, nil
	}
	newRefresh := tok.RefreshToken != "" && tok.RefreshToken != conn.RefreshToken
	if tok.AccessToken == conn.AccessToken && !newRefresh {
		return conn, nil
	}
	if tok.ExpiresAt.IsZero() {
		tok.ExpiresAt = s.now().Add(DefaultTokenLifetime)
	}
	return s.persist(ctx, conn, tok)
}

func (s *Service) persist(ctx context.Context, conn domain.Connection, tok domain.Token) (domain.Connection, error) {
	if err := s.repo.UpdateTokens(ctx, conn.ID, tok); err != nil {
		return conn, fmt.Errorf("persist token for connection %s: %w", conn.ID, err)
	}
	conn.AccessToken = tok.AccessToken
	conn.ExpiresAt = tok.ExpiresAt
	if tok.RefreshToken != "" {
		conn.RefreshToken = tok.RefreshToken
	}
	return conn, nil
}
