package subscriber

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/insight-digest/internal/domain"
)

// Service implements subscriber lookups. It is safe for concurrent use if
// the repository is.
type Service struct {
	repo Repository
}

// NewService creates a subscriber service backed by the given repository.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Enabled lists the subscribers with delivery turned on.
func (s *Service) Enabled(ctx context.Context) ([]domain.SchedulingState, error) {
	states, err := s.repo.ListEnabled(ctx)
	if err != nil {
		return nil, fmt.Errorf("list enabled subscribers: %w", err)
	}
	return states, nil
}

// Profile returns the user's profile.
func (s *Service) Profile(ctx context.Context, userID string) (*domain.Profile, error) {
	return s.repo.GetProfile(ctx, userID)
}

// Preferences returns the user's delivery preferences.
func (s *Service) Preferences(ctx context.Context, userID string) (*domain.Preferences, error) {
	return s.repo.GetPreferences(ctx, userID)
}

// ActiveConnection returns the user's active analytics connection.
func (s *Service) ActiveConnection(ctx context.Context, userID string) (*domain.Connection, error) {
	return s.repo.ActiveConnection(ctx, userID)
}

// MarkSent records a successful insight delivery at the given time.
func (s *Service) MarkSent(ctx context.Context, userID string, at time.Time) error {
	if err := s.repo.UpdateLastSent(ctx, userID, at.UTC()); err != nil {
		return fmt.Errorf("update last sent for %s: %w", userID, err)
	}
	return nil
}

// Link makes a new active connection for userID from a freshly exchanged
// token, replacing any previous one.
func (s *Service) Link(ctx context.Context, userID, propertyID string, tok domain.Token) (*domain.Connection, error) {
	if userID == "" || propertyID == "" {
		return nil, fmt.Errorf("%w: user id and property id", ErrMissingField)
	}
	if tok.RefreshToken == "" {
		return nil, fmt.Errorf("%w: refresh token", ErrMissingField)
	}
	if _, err := s.repo.GetProfile(ctx, userID); err != nil {
		return nil, err
	}

	c := &domain.Connection{
		ID:           uuid.New().String(),
		UserID:       userID,
		PropertyID:   propertyID,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.ExpiresAt,
		IsActive:     true,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.repo.ReplaceConnection(ctx, c); err != nil {
		return nil, fmt.Errorf("link connection for %s: %w", userID, err)
	}
	return c, nil
}
