package caret

// decay window origin
type decayOrigin uint8

const (
	decayNone decayOrigin = iota
	decayPaste
	decayCut
)

// Engine is the caret/typing state machine for one editing session.
// It is not safe for concurrent use; the owner serialises Update and Flush.
type Engine struct {
	thresholds Thresholds
	tier       DeviceTier
	policy     Policy

	last  Snapshot
	hist  ring
	stats Stats

	// logical clock
	clock   uint64
	started bool

	lastTyping uint64
	decayUntil uint64
	decayFrom  decayOrigin

	lastDelete  uint64
	deleteCount uint32

	lastCaret uint32
	hasCaret  bool

	lastKey uint64
	hasKey  bool
}

// New returns an engine in the BLUR state with default thresholds and the
// WASM tier unless overridden by opts.
func New(opts ...Option) *Engine {
	e := &Engine{
		thresholds: DefaultThresholds(),
		tier:       TierWasm,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.last = Snapshot{Primary: StateBlur, DeviceTier: e.tier}
	return e
}

// Thresholds returns the active thresholds.
func (e *Engine) Thresholds() Thresholds { return e.thresholds }

// SetThresholds replaces the thresholds. The change applies from the next
// Update or Flush; held state is not re-evaluated.
func (e *Engine) SetThresholds(t Thresholds) { e.thresholds = t }

// Policy returns the classification policy.
func (e *Engine) Policy() Policy { return e.policy }

// SetPolicy replaces the classification policy.
func (e *Engine) SetPolicy(p Policy) { e.policy = p }

// DeviceTier returns the tier stamped on future snapshots.
func (e *Engine) DeviceTier() DeviceTier { return e.tier }

// SetDeviceTier changes the tier stamped on future snapshots. Unknown tiers are ignored.
func (e *Engine) SetDeviceTier(t DeviceTier) {
	if t.Valid() {
		e.tier = t
	}
}

// State returns the most recently emitted snapshot.
func (e *Engine) State() Snapshot { return e.last }

// Stats returns a copy of the counters and gauges.
func (e *Engine) Stats() Stats { return e.stats }

// Pending returns the number of undrained snapshots.
func (e *Engine) Pending() int { return e.hist.n }

// Update ingests one event and reports whether a new snapshot was emitted.
func (e *Engine) Update(ev Event) bool {
	e.stats.EventsProcessed++
	now := e.advance(ev.TimestampMS)

	e.trackDecay(ev, now)
	sig := signals{
		selection:   ev.Selection.Active(),
		undoRedo:    e.trackUndoRedo(ev),
		drop:        e.trackDrop(ev),
		autocorrect: e.trackAutocorrect(ev),
	}
	sig.deleteBurst = e.trackDelete(ev, now)
	sig.typing = e.trackTyping(ev, now, sig.deleteBurst)
	sig.caretJump = e.trackCaret(ev)

	primary := e.overlay(e.classify(ev, now, sig), now)
	next := Snapshot{
		Primary:     primary,
		Modality:    ev.Modality,
		FieldKind:   ev.FieldKind,
		Selection:   ev.Selection,
		IMEActive:   ev.IMEActive,
		Blocked:     ev.Blocked,
		Caret:       ev.Caret,
		TextLen:     ev.TextLen,
		DeviceTier:  e.tier,
		TimestampMS: now,
	}
	if next.SameAs(e.last) {
		return false
	}
	e.emit(next)
	return true
}

// Flush re-evaluates time-driven transitions at now without a new event and
// returns the number of snapshots emitted (0 or 1). Detectors and
// counters other than the emission count are untouched.
func (e *Engine) Flush(now uint64) int {
	now = e.advance(now)
	snap := e.last

	var base PrimaryState
	switch {
	case snap.Blocked:
		base = StateBlocked
	case snap.IMEActive:
		base = StateImeComposing
	case now < e.decayUntil:
		base = e.decayState()
	case snap.Selection.Active():
		base = StateSelectionActive
	case snap.Primary == StateBlur:
		base = StateBlur
	default:
		base = StateActiveIdle
	}

	primary := e.overlay(base, now)
	if primary == snap.Primary {
		return 0
	}
	snap.Primary = primary
	snap.TimestampMS = now
	e.emit(snap)
	return 1
}

// DrainSnapshots returns every undrained snapshot oldest first and empties the history.
func (e *Engine) DrainSnapshots() []Snapshot {
	if e.hist.n == 0 {
		return nil
	}
	return e.hist.appendAll(make([]Snapshot, 0, e.hist.n))
}

// DrainInto appends every undrained snapshot to dst oldest first and
// empties the history. It does not allocate when dst has room.
func (e *Engine) DrainInto(dst []Snapshot) []Snapshot {
	return e.hist.appendAll(dst)
}

// Take moves up to len(dst) of the oldest snapshots into dst and returns
// how many were moved. Remaining entries stay queued.
func (e *Engine) Take(dst []Snapshot) int {
	return e.hist.take(dst)
}

func (e *Engine) emit(s Snapshot) {
	e.hist.push(s)
	e.last = s
	e.stats.SnapshotsEmitted++
}

// advance moves the logical clock forward. Timestamps behind it are
// clamped and counted.
func (e *Engine) advance(ts uint64) uint64 {
	if e.started && ts < e.clock {
		e.stats.ClampedTimestamps++
		return e.clock
	}
	e.clock = ts
	e.started = true
	return ts
}

func since(now, t uint64) uint64 {
	if now < t {
		return 0
	}
	return now - t
}
