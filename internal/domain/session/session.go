// Package session wraps one caret engine with the host-side state an
// editing session needs: serialisation, a client clock anchor, an
// ingestion rate limit, and active-region tracking.
package session

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/okian/caretd/internal/domain/caret"
)

// Applied reports what one event did to the session.
type Applied struct {
	Changed       bool
	RegionEntered bool
	State         caret.Snapshot
	// Delta holds counter increments caused by this event.
	Delta caret.Stats
}

// Session is safe for concurrent use. The engine inside is only touched
// under mu.
type Session struct {
	id      string
	created time.Time

	// deliverMu orders Deliver calls; it is taken before mu.
	deliverMu sync.Mutex

	mu      sync.Mutex
	engine  *caret.Engine
	region  caret.RegionWatcher
	limiter *rate.Limiter

	// client clock anchor: the last event timestamp and when it arrived
	anchorMS   uint64
	anchorWall time.Time
	anchored   bool

	// tickQueued marks a sweep tick waiting in the ingest queue; settled
	// means no tick can change the state before the next event.
	tickQueued bool
	settled    bool

	lastActivity time.Time
}

// New creates a session around a fresh engine.
func New(id string, now time.Time, opts ...Option) *Session {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	s := &Session{
		id:           id,
		created:      now,
		engine:       caret.New(o.engine...),
		lastActivity: now,
	}
	if o.ratePerSec > 0 {
		burst := o.burst
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(o.ratePerSec), burst)
	}
	return s
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Created returns the creation time.
func (s *Session) Created() time.Time { return s.created }

// LastActivity returns when the last event was applied.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// Allow reports whether one more event fits the session's rate limit.
func (s *Session) Allow(now time.Time) bool {
	if s.limiter == nil {
		return true
	}
	return s.limiter.AllowN(now, 1)
}

// Apply feeds ev to the engine and records the client clock anchor.
func (s *Session) Apply(ev caret.Event, now time.Time) Applied {
	s.mu.Lock()
	defer s.mu.Unlock()

	before := s.engine.Stats()
	changed := s.engine.Update(ev)
	state := s.engine.State()

	s.anchorMS = max(s.anchorMS, ev.TimestampMS)
	s.anchorWall = now
	s.anchored = true
	s.settled = false
	s.lastActivity = now

	return Applied{
		Changed:       changed,
		RegionEntered: s.region.Observe(ev.Caret),
		State:         state,
		Delta:         delta(before, s.engine.Stats()),
	}
}

// ClientNow maps wall time onto the client's clock using the last event
// as anchor. It reports false before the first event.
func (s *Session) ClientNow(now time.Time) (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clientNowLocked(now)
}

func (s *Session) clientNowLocked(now time.Time) (uint64, bool) {
	if !s.anchored {
		return 0, false
	}
	elapsed := now.Sub(s.anchorWall)
	if elapsed < 0 {
		elapsed = 0
	}
	return s.anchorMS + uint64(elapsed.Milliseconds()), true
}

// tickGuardLocked is how long after the last event ticks are skipped. A
// flush inside the short pause would only demote TYPING to ACTIVE_IDLE,
// but a held PASTED or CUT must be released when its decay window ends.
func (s *Session) tickGuardLocked() uint64 {
	t := s.engine.Thresholds()
	switch s.engine.State().Primary {
	case caret.StatePasted, caret.StateCut:
		return min(t.ShortPauseMS, t.DecayMS)
	default:
		return t.ShortPauseMS
	}
}

// ScheduleTick reports whether a sweep tick is due at now and, if so,
// marks one as queued. Only one tick is queued at a time.
func (s *Session) ScheduleTick(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tickQueued || s.settled {
		return false
	}
	ms, ok := s.clientNowLocked(now)
	if !ok || ms-s.anchorMS < s.tickGuardLocked() {
		return false
	}
	s.tickQueued = true
	return true
}

// CancelTick clears a tick marked by ScheduleTick that was never queued.
func (s *Session) CancelTick() {
	s.mu.Lock()
	s.tickQueued = false
	s.mu.Unlock()
}

// Tick flushes the engine at the client time corresponding to now. It
// does nothing before the first event or within the tick guard after
// the last one.
func (s *Session) Tick(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tickQueued = false
	ms, ok := s.clientNowLocked(now)
	if !ok {
		return 0
	}
	idle := ms - s.anchorMS
	if idle < s.tickGuardLocked() {
		return 0
	}
	n := s.engine.Flush(ms)
	t := s.engine.Thresholds()
	if idle >= max(t.LongPauseMS, t.DecayMS) {
		s.settled = true
	}
	return n
}

// Flush flushes the engine at an explicit client timestamp.
func (s *Session) Flush(nowMS uint64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.Flush(nowMS)
}

// Drain returns and clears the undrained snapshots.
func (s *Session) Drain() []caret.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.DrainSnapshots()
}

// Deliver drains the undelivered snapshots and hands a non-empty batch to
// fn before returning it. Calls are serialised, so batches reach fn in
// emission order whichever goroutine drains them.
func (s *Session) Deliver(fn func([]caret.Snapshot)) []caret.Snapshot {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()
	snaps := s.Drain()
	if len(snaps) > 0 && fn != nil {
		fn(snaps)
	}
	return snaps
}

// Pending returns the number of undrained snapshots.
func (s *Session) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.Pending()
}

// State returns the latest snapshot.
func (s *Session) State() caret.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.State()
}

// Stats returns the engine statistics.
func (s *Session) Stats() caret.Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.Stats()
}

// Thresholds returns the engine thresholds.
func (s *Session) Thresholds() caret.Thresholds {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.Thresholds()
}

// SetThresholds validates and installs t.
func (s *Session) SetThresholds(t caret.Thresholds) error {
	if err := t.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	s.engine.SetThresholds(t)
	s.settled = false
	s.mu.Unlock()
	return nil
}

// SetPolicy installs the classification policy.
func (s *Session) SetPolicy(p caret.Policy) {
	s.mu.Lock()
	s.engine.SetPolicy(p)
	s.settled = false
	s.mu.Unlock()
}

// DeviceTier returns the engine tier.
func (s *Session) DeviceTier() caret.DeviceTier {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.DeviceTier()
}

// SetDeviceTier installs tier.
func (s *Session) SetDeviceTier(tier caret.DeviceTier) error {
	if !tier.Valid() {
		return fmt.Errorf("%w DeviceTier: %d", caret.ErrUnknownName, tier)
	}
	s.mu.Lock()
	s.engine.SetDeviceTier(tier)
	s.mu.Unlock()
	return nil
}

// SetRegion installs the active region; nil clears it.
func (s *Session) SetRegion(r *caret.Region) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r == nil {
		s.region.Clear()
		return nil
	}
	if r.Start > r.End {
		return fmt.Errorf("%w: region start %d after end %d", caret.ErrInvalidEvent, r.Start, r.End)
	}
	s.region.Set(*r)
	return nil
}

// Region returns the active region, if any.
func (s *Session) Region() (caret.Region, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.region.Region()
}

func delta(a, b caret.Stats) caret.Stats {
	return caret.Stats{
		EventsProcessed:   b.EventsProcessed - a.EventsProcessed,
		SnapshotsEmitted:  b.SnapshotsEmitted - a.SnapshotsEmitted,
		DeletesSeen:       b.DeletesSeen - a.DeletesSeen,
		DeleteBursts:      b.DeleteBursts - a.DeleteBursts,
		Pastes:            b.Pastes - a.Pastes,
		Cuts:              b.Cuts - a.Cuts,
		UndosRedos:        b.UndosRedos - a.UndosRedos,
		Drops:             b.Drops - a.Drops,
		Autocorrects:      b.Autocorrects - a.Autocorrects,
		CaretJumps:        b.CaretJumps - a.CaretJumps,
		ClampedTimestamps: b.ClampedTimestamps - a.ClampedTimestamps,
		Keystrokes:        b.Keystrokes - a.Keystrokes,
	}
}
