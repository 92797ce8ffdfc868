package bridge

import (
	"github.com/okian/caretd/internal/domain/caret"
	"github.com/okian/caretd/pkg/logger"
)

// Option configures a Bridge.
type Option func(*Bridge)

// WithPolicy sets the classification policy for engines created afterwards.
func WithPolicy(p caret.Policy) Option {
	return func(b *Bridge) {
		b.policy = p
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(b *Bridge) {
		if l != nil {
			b.log = l
		}
	}
}
