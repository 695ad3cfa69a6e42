package domain

import "time"

// Connection is a subscriber's OAuth link to one analytics property. At
// most one connection per subscriber is active.
type Connection struct {
	ID           string    `json:"id" db:"id"`
	UserID       string    `json:"user_id" db:"user_id"`
	PropertyID   string    `json:"property_id" db:"property_id"`
	AccessToken  string    `json:"-" db:"access_token"`
	RefreshToken string    `json:"-" db:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at" db:"expires_at"`
	IsActive     bool      `json:"is_active" db:"is_active"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// Expired reports whether the access token is unusable at now.
func (c Connection) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// Token is a freshly issued OAuth credential. RefreshToken is empty when the
// provider did not rotate it.
type Token struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
}
