package api

import (
	"errors"
	"net/http"

	service "github.com/okian/caretd/internal/app"
	"github.com/okian/caretd/pkg/bridge"
	"github.com/okian/caretd/internal/domain/caret"
)

// ErrBadRequest marks malformed request input.
var ErrBadRequest = errors.New("bad request")

// statusFor maps an upstream error to an HTTP status and error code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrSessionNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, service.ErrJournalDisabled):
		return http.StatusNotFound, "journal_disabled"
	case errors.Is(err, service.ErrRateLimited):
		return http.StatusTooManyRequests, "rate_limited"
	case errors.Is(err, service.ErrBackpressure):
		return http.StatusTooManyRequests, "backpressure"
	case errors.Is(err, service.ErrSessionLimit):
		return http.StatusServiceUnavailable, "session_limit"
	case errors.Is(err, service.ErrNotStarted):
		return http.StatusServiceUnavailable, "unavailable"
	case errors.Is(err, ErrBadRequest),
		errors.Is(err, bridge.ErrSchema),
		errors.Is(err, bridge.ErrBadEncoding),
		errors.Is(err, caret.ErrInvalidEvent),
		errors.Is(err, caret.ErrInvalidThresholds),
		errors.Is(err, caret.ErrUnknownName):
		return http.StatusBadRequest, "bad_request"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
