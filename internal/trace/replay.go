package trace

import (
	"context"
	"fmt"
	"time"

	"github.com/okian/caretd/internal/domain/caret"
	"github.com/okian/caretd/internal/domain/session"
	"github.com/okian/caretd/pkg/logger"
)

const defaultMaxTicksPerGap = 10_000

// Result summarises one replay.
type Result struct {
	TraceID       string           `json:"trace_id"`
	Steps         int              `json:"steps"`
	Changes       int              `json:"changes"`
	Flushes       int              `json:"flushes"`
	RegionEntries int              `json:"region_entries"`
	Snapshots     []caret.Snapshot `json:"snapshots"`
	Final         caret.Snapshot   `json:"final"`
	Stats         caret.Stats      `json:"stats"`
}

// Primaries returns the primary state of every snapshot in order.
func (r *Result) Primaries() []caret.PrimaryState {
	out := make([]caret.PrimaryState, len(r.Snapshots))
	for i, s := range r.Snapshots {
		out[i] = s.Primary
	}
	return out
}

// Verify compares the snapshot states with expect.
func (r *Result) Verify(expect []caret.PrimaryState) error {
	got := r.Primaries()
	for i := range max(len(got), len(expect)) {
		switch {
		case i >= len(got):
			return fmt.Errorf("%w: missing %s at %d", ErrMismatch, expect[i], i)
		case i >= len(expect):
			return fmt.Errorf("%w: unexpected %s at %d", ErrMismatch, got[i], i)
		case got[i] != expect[i]:
			return fmt.Errorf("%w: got %s, want %s at %d", ErrMismatch, got[i], expect[i], i)
		}
	}
	return nil
}

type replayer struct {
	sink     func([]caret.Snapshot) error
	maxTicks int
	log      logger.Logger

	sess *session.Session
	res  *Result
}

// epoch anchors the synthetic wall clock; step times are offsets from it.
var epoch = time.Unix(0, 0)

func wall(ms uint64) time.Time { return epoch.Add(time.Duration(ms) * time.Millisecond) }

// Replay drives a fresh session through t. Flush ticks follow the same
// rules as the live service sweep. When the trace carries expectations
// the result is verified against them.
func Replay(ctx context.Context, t *Trace, opts ...ReplayOption) (*Result, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	r := &replayer{
		maxTicks: defaultMaxTicksPerGap,
		log:      logger.Named("trace"),
		res:      &Result{TraceID: t.ID},
	}
	for _, opt := range opts {
		opt(r)
	}

	var engineOpts []caret.Option
	if t.DeviceTier != nil {
		engineOpts = append(engineOpts, caret.WithDeviceTier(*t.DeviceTier))
	}
	if t.Thresholds != nil {
		engineOpts = append(engineOpts, caret.WithThresholds(*t.Thresholds))
	}
	if t.Policy != nil {
		engineOpts = append(engineOpts, caret.WithPolicy(*t.Policy))
	}
	r.sess = session.New(t.ID, epoch, session.WithEngineOptions(engineOpts...))
	if err := r.sess.SetRegion(t.Region); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidTrace, err)
	}

	var last uint64
	for i := range t.Steps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		st := &t.Steps[i]
		if i > 0 {
			if err := r.tick(t.TickMS, last, st.AtMS); err != nil {
				return nil, err
			}
		}
		applied := r.sess.Apply(st.Event(), wall(st.AtMS))
		r.res.Steps++
		if applied.Changed {
			r.res.Changes++
		}
		if applied.RegionEntered {
			r.res.RegionEntries++
		}
		if err := r.drain(); err != nil {
			return nil, err
		}
		last = max(last, st.AtMS)
	}
	if len(t.Steps) > 0 && t.EndMS > last {
		if t.TickMS == 0 {
			r.res.Flushes += r.sess.Flush(t.EndMS)
			if err := r.drain(); err != nil {
				return nil, err
			}
		} else if err := r.tick(t.TickMS, last, t.EndMS+1); err != nil {
			return nil, err
		}
	}

	r.res.Final = r.sess.State()
	r.res.Stats = r.sess.Stats()
	r.log.Debug(ctx, "trace replayed",
		logger.String("trace_id", t.ID),
		logger.Int("steps", r.res.Steps),
		logger.Int("snapshots", len(r.res.Snapshots)),
		logger.Int("flushes", r.res.Flushes),
	)
	if len(t.Expect) > 0 {
		return r.res, r.res.Verify(t.Expect)
	}
	return r.res, nil
}

// tick runs the flush ticks in (from, to).
func (r *replayer) tick(period, from, to uint64) error {
	if period == 0 || to <= from {
		return nil
	}
	n := 0
	for at := from + period; at < to; at += period {
		if n == r.maxTicks {
			r.res.Flushes += r.sess.Tick(wall(to - 1))
			break
		}
		r.res.Flushes += r.sess.Tick(wall(at))
		n++
	}
	return r.drain()
}

func (r *replayer) drain() error {
	batch := r.sess.Drain()
	if len(batch) == 0 {
		return nil
	}
	r.res.Snapshots = append(r.res.Snapshots, batch...)
	if r.sink != nil {
		if err := r.sink(batch); err != nil {
			return fmt.Errorf("sink: %w", err)
		}
	}
	return nil
}
