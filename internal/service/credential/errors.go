package credential

import "errors"

// Sentinel errors for the credential service layer.
var (
	ErrRefreshFailed = errors.New("credential refresh failed")
	ErrNoRefresh     = errors.New("connection has no refresh token")
	ErrEmptyToken    = errors.New("refresh returned an empty access token")
)
