// Package bridge exposes caret engines to hosts across a process or
// language boundary: opaque handles, fixed-layout records and owned
// byte buffers that the host releases explicitly.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/okian/caretd/internal/domain/caret"
	"github.com/okian/caretd/pkg/logger"
	"github.com/okian/caretd/pkg/metrics"
)

// Version is the boundary version string.
const Version = "0.2.0-alpha.0"

// Handle identifies an engine owned by a Bridge. Zero is never issued.
type Handle uint64

// BufferID identifies a byte buffer owned by a Bridge. Zero is never issued.
type BufferID uint64

// Bridge owns engines and buffers on behalf of a host. All methods are
// safe for concurrent use and total: bad input yields a false or zero
// result and changes nothing.
type Bridge struct {
	mu         sync.Mutex
	engines    map[Handle]*caret.Engine
	buffers    map[BufferID][]byte
	nextHandle Handle
	nextBuffer BufferID
	policy     caret.Policy
	log        logger.Logger
}

// New returns an empty Bridge.
func New(opts ...Option) *Bridge {
	b := &Bridge{
		engines: make(map[Handle]*caret.Engine),
		buffers: make(map[BufferID][]byte),
		log:     logger.Get().Named("bridge"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Bridge) reject(reason string, err error) {
	metrics.RecordBoundaryRejection(reason)
	if err != nil {
		b.log.Debug(context.Background(), "boundary input rejected", logger.String("reason", reason), logger.Error(err))
	}
}

// Create returns a handle to a new engine with default thresholds.
func (b *Bridge) Create(tier uint32) Handle {
	return b.CreateWithThresholds(tier, caret.DefaultThresholds())
}

// CreateWithThresholds returns a handle to a new engine, or zero when the
// tier code or thresholds are invalid.
func (b *Bridge) CreateWithThresholds(tier uint32, t caret.Thresholds) Handle {
	dt, err := code[caret.DeviceTier](tier, "device_tier")
	if err != nil {
		b.reject("tier", err)
		return 0
	}
	if err := t.Validate(); err != nil {
		b.reject("thresholds", err)
		return 0
	}
	e := caret.New(caret.WithThresholds(t), caret.WithDeviceTier(dt), caret.WithPolicy(b.policy))

	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextHandle++
	h := b.nextHandle
	b.engines[h] = e
	return h
}

// Free releases h. It reports false for unknown or already freed handles.
func (b *Bridge) Free(h Handle) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.engines[h]; !ok {
		b.reject("handle", nil)
		return false
	}
	delete(b.engines, h)
	return true
}

// Handles returns the number of live engines.
func (b *Bridge) Handles() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.engines)
}

// with runs fn on the engine for h under the bridge lock.
func (b *Bridge) with(h Handle, fn func(e *caret.Engine)) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.engines[h]
	if !ok {
		b.reject("handle", nil)
		return false
	}
	fn(e)
	return true
}

// Update feeds one fixed-layout event and reports whether a snapshot was
// emitted. Undecodable records are rejected without touching the engine.
func (b *Bridge) Update(h Handle, rec EventRecord) bool {
	ev, err := rec.Event()
	if err != nil {
		b.reject("record", err)
		return false
	}
	return b.update(h, ev)
}

// UpdateBinary decodes an EventRecordSize byte record and feeds it.
func (b *Bridge) UpdateBinary(h Handle, data []byte) bool {
	var rec EventRecord
	if err := rec.UnmarshalBinary(data); err != nil {
		b.reject("record", err)
		return false
	}
	return b.Update(h, rec)
}

// UpdateJSON feeds one schema-validated JSON event.
func (b *Bridge) UpdateJSON(h Handle, data []byte) bool {
	doc, err := DecodeEvent(data)
	if err != nil {
		reason := "schema"
		if errors.Is(err, ErrBadEncoding) {
			reason = "encoding"
		}
		b.reject(reason, err)
		return false
	}
	return b.update(h, doc.Event)
}

func (b *Bridge) update(h Handle, ev caret.Event) bool {
	var changed bool
	if !b.with(h, func(e *caret.Engine) {
		changed = e.Update(ev)
	}) {
		return false
	}
	metrics.RecordEvent(ev.Kind.String())
	return changed
}

// Flush re-evaluates time-driven transitions and returns the number of
// snapshots emitted.
func (b *Bridge) Flush(h Handle, nowMS uint64) uint32 {
	var n int
	b.with(h, func(e *caret.Engine) {
		n = e.Flush(nowMS)
	})
	return uint32(n)
}

// CopySnapshots moves up to len(dst) of the oldest undrained snapshots into
// dst and returns how many were written.
func (b *Bridge) CopySnapshots(h Handle, dst []SnapshotRecord) uint32 {
	if len(dst) == 0 {
		return 0
	}
	var n int
	b.with(h, func(e *caret.Engine) {
		scratch := make([]caret.Snapshot, min(len(dst), caret.RingCapacity))
		n = e.Take(scratch)
		for i := 0; i < n; i++ {
			dst[i] = SnapshotRecordOf(scratch[i])
		}
	})
	return uint32(n)
}

// DrainJSON drains every pending snapshot into a JSON array held in a new
// buffer. The buffer stays valid until ReleaseBuffer.
func (b *Bridge) DrainJSON(h Handle) (BufferID, []byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.engines[h]
	if !ok {
		b.reject("handle", nil)
		return 0, nil, false
	}
	snaps := e.DrainInto(make([]caret.Snapshot, 0, e.Pending()))
	data, err := json.Marshal(snaps)
	if err != nil {
		b.log.Error(context.Background(), "encode drained snapshots", logger.Error(err))
		return 0, nil, false
	}
	return b.hold(data), data, true
}

// VersionBuffer returns Version in an owned buffer.
func (b *Bridge) VersionBuffer() (BufferID, []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data := []byte(Version)
	return b.hold(data), data
}

func (b *Bridge) hold(data []byte) BufferID {
	b.nextBuffer++
	id := b.nextBuffer
	b.buffers[id] = data
	return id
}

// ReleaseBuffer frees a buffer. Each id is released exactly once; later
// calls report false.
func (b *Bridge) ReleaseBuffer(id BufferID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.buffers[id]; !ok {
		b.reject("buffer", nil)
		return false
	}
	delete(b.buffers, id)
	return true
}

// Buffers returns the number of unreleased buffers.
func (b *Bridge) Buffers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buffers)
}

// State returns the latest snapshot for h.
func (b *Bridge) State(h Handle) (SnapshotRecord, bool) {
	var rec SnapshotRecord
	ok := b.with(h, func(e *caret.Engine) {
		rec = SnapshotRecordOf(e.State())
	})
	return rec, ok
}

// Stats returns the statistics for h.
func (b *Bridge) Stats(h Handle) (caret.Stats, bool) {
	var st caret.Stats
	ok := b.with(h, func(e *caret.Engine) {
		st = e.Stats()
	})
	return st, ok
}

// Thresholds returns the thresholds for h.
func (b *Bridge) Thresholds(h Handle) (caret.Thresholds, bool) {
	var t caret.Thresholds
	ok := b.with(h, func(e *caret.Engine) {
		t = e.Thresholds()
	})
	return t, ok
}

// SetThresholds installs t on h when t is valid.
func (b *Bridge) SetThresholds(h Handle, t caret.Thresholds) bool {
	if err := t.Validate(); err != nil {
		b.reject("thresholds", err)
		return false
	}
	return b.with(h, func(e *caret.Engine) {
		e.SetThresholds(t)
	})
}

// SetThresholdsJSON installs a schema-validated JSON threshold set.
func (b *Bridge) SetThresholdsJSON(h Handle, data []byte) bool {
	t, err := DecodeThresholds(data)
	if err != nil {
		b.reject("thresholds", err)
		return false
	}
	return b.SetThresholds(h, t)
}

// DeviceTier returns the tier code for h.
func (b *Bridge) DeviceTier(h Handle) (uint32, bool) {
	var tier uint32
	ok := b.with(h, func(e *caret.Engine) {
		tier = uint32(e.DeviceTier())
	})
	return tier, ok
}

// SetDeviceTier installs a tier code on h.
func (b *Bridge) SetDeviceTier(h Handle, tier uint32) bool {
	dt, err := code[caret.DeviceTier](tier, "device_tier")
	if err != nil {
		b.reject("tier", err)
		return false
	}
	return b.with(h, func(e *caret.Engine) {
		e.SetDeviceTier(dt)
	})
}
