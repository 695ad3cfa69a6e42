package recorder

import "errors"

// Sentinel errors for the recorder service layer.
var (
	ErrMissingUser    = errors.New("recorder: user id is required")
	ErrNothingToWrite = errors.New("recorder: no insights to persist")
)
