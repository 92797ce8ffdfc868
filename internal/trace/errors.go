package trace

import "errors"

var (
	// ErrInvalidTrace is returned for traces that cannot be replayed.
	ErrInvalidTrace = errors.New("invalid trace")
	// ErrMismatch is returned when a replay does not produce the expected states.
	ErrMismatch = errors.New("state sequence mismatch")
)
