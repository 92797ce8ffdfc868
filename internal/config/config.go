// Package config defines caretd configuration and its loading hooks.
//
// Conventions:
// - Provide New(ctx) to build a Config with defaults.
// - Layer file and environment values on top in Load.
// - Wrap failures with this package's sentinel errors.
package config

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/okian/caretd/internal/domain/caret"
	"github.com/okian/caretd/pkg/logger"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`
	// LogFormat is "text" or "json".
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr"`

	// QueueSize bounds the total in-memory event backlog across workers.
	QueueSize int `koanf:"queue_size"`
	// WorkerCount sets the number of ingest workers (one queue each).
	WorkerCount int `koanf:"worker_count"`
	// DedupeSize sets how many event ids are remembered.
	DedupeSize int `koanf:"dedupe_size"`

	// FlushIntervalMS is the period of the flush sweep over live sessions.
	FlushIntervalMS int `koanf:"flush_interval_ms"`
	// SessionIdleTimeoutMS closes sessions with no events for this long. Zero disables reaping.
	SessionIdleTimeoutMS int `koanf:"session_idle_timeout_ms"`
	// MaxSessions caps live sessions. Zero means unlimited.
	MaxSessions int `koanf:"max_sessions"`
	// SubscriberBuffer is the per-subscriber snapshot batch buffer.
	SubscriberBuffer int `koanf:"subscriber_buffer"`

	// RateLimitPerSec and RateLimitBurst bound event ingestion per session. Zero disables limiting.
	RateLimitPerSec float64 `koanf:"rate_limit_per_sec"`
	RateLimitBurst  int     `koanf:"rate_limit_burst"`

	// JournalPath enables the sqlite snapshot journal when set.
	JournalPath string `koanf:"journal_path"`

	// DeviceTier is the default tier for new sessions.
	DeviceTier string `koanf:"device_tier"`

	// Engine thresholds.
	ShortPauseMS        uint64 `koanf:"short_pause_ms"`
	LongPauseMS         uint64 `koanf:"long_pause_ms"`
	DecayMS             uint64 `koanf:"decay_ms"`
	JumpThresholdChars  uint32 `koanf:"jump_threshold_chars"`
	DeleteBurstWindowMS uint64 `koanf:"delete_burst_window_ms"`
	DeleteBurstMin      uint32 `koanf:"delete_burst_min"`

	// Optional classification states.
	ClassifyCut         bool `koanf:"classify_cut"`
	ClassifyUndoRedo    bool `koanf:"classify_undo_redo"`
	ClassifyDrop        bool `koanf:"classify_drop"`
	ClassifyAutocorrect bool `koanf:"classify_autocorrect"`

	// Correction gate tuning.
	GateAllowActiveIdle bool   `koanf:"gate_allow_active_idle"`
	GateSettleMS        uint64 `koanf:"gate_settle_ms"`
}

// New creates a Config with defaults. Context is accepted first to follow
// the project-wide convention.
func New(_ context.Context) *Config {
	th := caret.DefaultThresholds()
	return &Config{
		LogLevel:             "info",
		LogFormat:            "text",
		Addr:                 ":9080",
		QueueSize:            65_536,
		WorkerCount:          runtime.NumCPU(),
		DedupeSize:           65_536,
		FlushIntervalMS:      75,
		SessionIdleTimeoutMS: 30 * 60 * 1000,
		MaxSessions:          10_000,
		SubscriberBuffer:     64,
		RateLimitPerSec:      200,
		RateLimitBurst:       400,
		DeviceTier:           caret.TierCPU.String(),
		ShortPauseMS:         th.ShortPauseMS,
		LongPauseMS:          th.LongPauseMS,
		DecayMS:              th.DecayMS,
		JumpThresholdChars:   th.JumpThresholdChars,
		DeleteBurstWindowMS:  th.DeleteBurstWindow,
		DeleteBurstMin:       th.DeleteBurstMin,
	}
}

// Thresholds returns the engine thresholds described by c.
func (c *Config) Thresholds() caret.Thresholds {
	return caret.Thresholds{
		ShortPauseMS:       c.ShortPauseMS,
		LongPauseMS:        c.LongPauseMS,
		DecayMS:            c.DecayMS,
		JumpThresholdChars: c.JumpThresholdChars,
		DeleteBurstWindow:  c.DeleteBurstWindowMS,
		DeleteBurstMin:     c.DeleteBurstMin,
	}
}

// Policy returns the classification policy described by c.
func (c *Config) Policy() caret.Policy {
	return caret.Policy{
		ClassifyCut:         c.ClassifyCut,
		ClassifyUndoRedo:    c.ClassifyUndoRedo,
		ClassifyDrop:        c.ClassifyDrop,
		ClassifyAutocorrect: c.ClassifyAutocorrect,
	}
}

// Tier parses DeviceTier.
func (c *Config) Tier() (caret.DeviceTier, error) {
	return caret.ParseDeviceTier(c.DeviceTier)
}

// FlushInterval returns FlushIntervalMS as a duration.
func (c *Config) FlushInterval() time.Duration {
	return time.Duration(c.FlushIntervalMS) * time.Millisecond
}

// SessionIdleTimeout returns SessionIdleTimeoutMS as a duration.
func (c *Config) SessionIdleTimeout() time.Duration {
	return time.Duration(c.SessionIdleTimeoutMS) * time.Millisecond
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch {
	case c.Addr == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.QueueSize <= 0:
		return fmt.Errorf("%w: queue_size must be positive", ErrInvalidConfig)
	case c.WorkerCount <= 0:
		return fmt.Errorf("%w: worker_count must be positive", ErrInvalidConfig)
	case c.FlushIntervalMS <= 0:
		return fmt.Errorf("%w: flush_interval_ms must be positive", ErrInvalidConfig)
	case c.RateLimitPerSec < 0 || c.RateLimitBurst < 0:
		return fmt.Errorf("%w: rate limit must not be negative", ErrInvalidConfig)
	case c.LogFormat != "text" && c.LogFormat != "json":
		return fmt.Errorf("%w: log_format %q", ErrInvalidConfig, c.LogFormat)
	}
	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if _, err := c.Tier(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if err := c.Thresholds().Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}
