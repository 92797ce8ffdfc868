package caret

import "errors"

// Error kinds reported by the caret package.
var (
	// ErrUnknownName is returned when decoding an enum name that is not part of the vocabulary.
	ErrUnknownName = errors.New("unknown name")
	// ErrInvalidThresholds is returned by Thresholds.Validate.
	ErrInvalidThresholds = errors.New("invalid thresholds")
	// ErrInvalidEvent is returned by Event.Validate.
	ErrInvalidEvent = errors.New("invalid event")
)
