package watch

import "errors"

// Sentinel errors for the watch registry.
var (
	ErrEmptyID = errors.New("registration id is empty")
	ErrNilFunc = errors.New("registration function is nil")
)
