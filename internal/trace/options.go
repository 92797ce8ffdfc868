package trace

import (
	"github.com/okian/caretd/internal/domain/caret"
	"github.com/okian/caretd/pkg/logger"
)

// GenOption applies a configuration option to the Generator.
type GenOption func(*Generator)

// WithField sets the field kind of generated events.
func WithField(f caret.FieldKind) GenOption {
	return func(g *Generator) {
		if f.Valid() {
			g.field = f
		}
	}
}

// WithModality sets the modality of typed events.
func WithModality(m caret.InputModality) GenOption {
	return func(g *Generator) {
		if m.Valid() {
			g.modality = m
		}
	}
}

// WithGenThresholds shapes pauses and runs around t.
func WithGenThresholds(t caret.Thresholds) GenOption {
	return func(g *Generator) {
		if t.Validate() == nil {
			g.thresholds = t
		}
	}
}

// WithTick sets the flush period written into generated traces.
func WithTick(ms uint64) GenOption {
	return func(g *Generator) {
		g.tickMS = ms
	}
}

// ReplayOption applies a configuration option to Replay.
type ReplayOption func(*replayer)

// WithSink receives every drained batch of snapshots in order. A sink
// error aborts the replay.
func WithSink(fn func(batch []caret.Snapshot) error) ReplayOption {
	return func(r *replayer) {
		r.sink = fn
	}
}

// WithMaxTicksPerGap bounds flush ticks between two steps. Later ticks in
// the gap are skipped and one flush runs at the end of the gap.
func WithMaxTicksPerGap(n int) ReplayOption {
	return func(r *replayer) {
		if n > 0 {
			r.maxTicks = n
		}
	}
}

// WithReplayLogger sets the logger.
func WithReplayLogger(l logger.Logger) ReplayOption {
	return func(r *replayer) {
		if l != nil {
			r.log = l
		}
	}
}
