package session

import "github.com/okian/caretd/internal/domain/caret"

type options struct {
	engine     []caret.Option
	ratePerSec float64
	burst      int
}

// Option configures a Session.
type Option func(*options)

// WithEngineOptions passes options through to the engine.
func WithEngineOptions(opts ...caret.Option) Option {
	return func(o *options) {
		o.engine = append(o.engine, opts...)
	}
}

// WithRateLimit bounds accepted events per second. Non-positive disables it.
func WithRateLimit(perSec float64, burst int) Option {
	return func(o *options) {
		o.ratePerSec = perSec
		o.burst = burst
	}
}
