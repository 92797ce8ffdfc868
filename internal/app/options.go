package service

import (
	"time"

	"github.com/okian/caretd/internal/adapters/journal"
	"github.com/okian/caretd/internal/domain/caret"
	"github.com/okian/caretd/internal/domain/gate"
	"github.com/okian/caretd/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithWorkerCount sets the number of ingest workers.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithQueueSize sets the total ingest backlog.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithDedupeSize sets how many event ids are remembered.
func WithDedupeSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.dedupeSize = size
		}
	}
}

// WithMaxSessions caps live sessions. Zero means unlimited.
func WithMaxSessions(n int) Option {
	return func(s *Service) {
		if n >= 0 {
			s.maxSessions = n
		}
	}
}

// WithSubscriberBuffer sets the per-subscriber notice buffer.
func WithSubscriberBuffer(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.subscriberBuffer = n
		}
	}
}

// WithFlushInterval sets the period of the flush sweep.
func WithFlushInterval(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.flushInterval = d
		}
	}
}

// WithSessionIdleTimeout closes sessions without events for d. Zero disables it.
func WithSessionIdleTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d >= 0 {
			s.idleTimeout = d
		}
	}
}

// WithRateLimit bounds accepted events per session. Non-positive disables it.
func WithRateLimit(perSec float64, burst int) Option {
	return func(s *Service) {
		s.ratePerSec = perSec
		s.rateBurst = burst
	}
}

// WithThresholds sets the thresholds for new sessions.
func WithThresholds(t caret.Thresholds) Option {
	return func(s *Service) {
		if t.Validate() == nil {
			s.thresholds = t
		}
	}
}

// WithPolicy sets the classification policy for new sessions.
func WithPolicy(p caret.Policy) Option {
	return func(s *Service) {
		s.policy = p
	}
}

// WithDeviceTier sets the default tier for new sessions.
func WithDeviceTier(t caret.DeviceTier) Option {
	return func(s *Service) {
		if t.Valid() {
			s.tier = t
		}
	}
}

// WithGate sets the correction gate.
func WithGate(g gate.Gate) Option {
	return func(s *Service) {
		if g != nil {
			s.gate = g
		}
	}
}

// WithJournal enables snapshot journaling. The service does not close j.
func WithJournal(j journal.Journal) Option {
	return func(s *Service) {
		s.journal = j
	}
}

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}
