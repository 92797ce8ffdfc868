// Package dedupe tracks host-assigned event ids so that retried deliveries
// are applied to a caret session at most once.
package dedupe

import (
	"context"
	"sync"
)

const defaultMaxSize = 65536

// Deduper records seen event keys.
type Deduper interface {
	// SeenAndRecord reports whether key was already seen and records it if not.
	SeenAndRecord(ctx context.Context, key string) bool

	// Unrecord forgets key so a rejected delivery can be retried.
	Unrecord(ctx context.Context, key string)

	Size() int64
}

// Key scopes an event id to its session.
func Key(sessionID, eventID string) string {
	return sessionID + "/" + eventID
}

// inMemoryDeduper keeps at most maxSize keys and evicts the oldest first.
// A non-positive maxSize disables eviction.
type inMemoryDeduper struct {
	mu      sync.Mutex
	seen    map[string]uint64 // key -> insertion sequence
	order   []string          // insertion order, circular when bounded
	next    int
	seq     uint64
	maxSize int
}

// NewInMemoryDeduper creates a new in-memory deduper with configuration options.
func NewInMemoryDeduper(opts ...Option) Deduper {
	d := &inMemoryDeduper{maxSize: defaultMaxSize}
	for _, opt := range opts {
		opt(d)
	}
	d.seen = make(map[string]uint64)
	if d.maxSize > 0 {
		d.order = make([]string, d.maxSize)
	}
	return d
}

func (d *inMemoryDeduper) SeenAndRecord(_ context.Context, key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.seen[key]; ok {
		return true
	}
	d.seq++
	if d.maxSize > 0 {
		// the slot may hold an older key that was already unrecorded
		if old := d.order[d.next]; old != "" {
			if s, ok := d.seen[old]; ok && s+uint64(d.maxSize) <= d.seq {
				delete(d.seen, old)
			}
		}
		d.order[d.next] = key
		d.next = (d.next + 1) % d.maxSize
	}
	d.seen[key] = d.seq
	return false
}

func (d *inMemoryDeduper) Unrecord(_ context.Context, key string) {
	d.mu.Lock()
	delete(d.seen, key)
	d.mu.Unlock()
}

func (d *inMemoryDeduper) Size() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return int64(len(d.seen))
}
