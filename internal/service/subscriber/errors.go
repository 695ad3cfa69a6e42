package subscriber

import "errors"

// Sentinel errors for the subscriber service layer.
var (
	ErrNotFound      = errors.New("subscriber not found")
	ErrNoPreferences = errors.New("subscriber has no delivery preferences")
	ErrNoConnection  = errors.New("subscriber has no active connection")
	ErrMissingField  = errors.New("required field missing")
)
