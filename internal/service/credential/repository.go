package credential

import (
	"context"

	"github.com/ignite/insight-digest/internal/domain"
)

// Repository persists rotated credentials on a connection row.
type Repository interface {
	// UpdateTokens overwrites the access token and expiry, and the refresh
	// token when tok.RefreshToken is non-empty.
	UpdateTokens(ctx context.Context, connectionID string, tok domain.Token) error
}

// Refresher exchanges a refresh token for a new access token.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (domain.Token, error)
}
