package subscriber

import (
	"context"
	"time"

	"github.com/ignite/insight-digest/internal/domain"
)

// Repository defines the storage contract for subscribers.
type Repository interface {
	// ListEnabled returns the scheduling state of every subscriber whose
	// delivery preferences are enabled.
	ListEnabled(ctx context.Context) ([]domain.SchedulingState, error)

	// GetProfile returns ErrNotFound when the user does not exist.
	GetProfile(ctx context.Context, userID string) (*domain.Profile, error)

	// GetPreferences returns ErrNoPreferences when no row exists.
	GetPreferences(ctx context.Context, userID string) (*domain.Preferences, error)

	UpdateLastSent(ctx context.Context, userID string, at time.Time) error

	// ActiveConnection returns ErrNoConnection when none is active.
	ActiveConnection(ctx context.Context, userID string) (*domain.Connection, error)

	// ReplaceConnection deactivates the user's current connection and
	// inserts c as the active one.
	ReplaceConnection(ctx context.Context, c *domain.Connection) error
}
