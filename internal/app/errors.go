package service

import "errors"

// Sentinel kinds for service errors.
var (
	ErrNotStarted      = errors.New("service not started")
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionLimit    = errors.New("session limit reached")
	ErrDuplicate       = errors.New("duplicate event")
	ErrRateLimited     = errors.New("session rate limit exceeded")
	ErrBackpressure    = errors.New("ingest queue full")
	ErrJournalDisabled = errors.New("journal disabled")
)
