// Package queue provides the bounded in-memory queue that carries session
// events from ingestion to the worker that owns the session.
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/okian/caretd/internal/domain/caret"
	"github.com/okian/caretd/pkg/metrics"
)

const defaultCapacity = 4096

// Op selects what an Item asks the owning worker to do.
type Op uint8

// Item operations.
const (
	// OpEvent applies Event.
	OpEvent Op = iota
	// OpFlush flushes at NowMS, or at the estimated client time when NowMS is nil.
	OpFlush
)

// Result answers an Item that carries a Done channel.
type Result struct {
	Emitted int
	Err     error
}

// Item is one operation addressed to a session. Items for one session are
// applied in enqueue order, so a flush never overtakes earlier events.
type Item struct {
	Op        Op
	SessionID string
	EventID   string
	Event     caret.Event
	NowMS     *uint64
	Received  time.Time
	// Done, when set, receives exactly one Result. It must be buffered.
	Done chan<- Result
}

// Reply sends the result of it to Done, if any.
func (it *Item) Reply(emitted int, err error) {
	if it.Done != nil {
		it.Done <- Result{Emitted: emitted, Err: err}
		it.Done = nil
	}
}

// Queue provides non-blocking enqueue and channel-based consumption.
type Queue interface {
	// Enqueue adds it without blocking. It returns ErrFull or ErrClosed on rejection.
	Enqueue(ctx context.Context, it Item) error
	// Items returns the consumer channel. It is closed by Close.
	Items() <-chan Item
	Len() int
	Cap() int
	Close() error
	IsClosed() bool
}

// InMemoryQueue implements Queue using a buffered channel.
type InMemoryQueue struct {
	items    chan Item
	capacity int
	mu       sync.RWMutex
	closed   bool
}

// NewInMemoryQueue creates a new in-memory queue with configuration options.
func NewInMemoryQueue(opts ...Option) *InMemoryQueue {
	q := &InMemoryQueue{capacity: defaultCapacity}
	for _, opt := range opts {
		opt(q)
	}
	q.items = make(chan Item, q.capacity)
	return q
}

// Enqueue adds it to the queue without blocking.
func (q *InMemoryQueue) Enqueue(ctx context.Context, it Item) error { //nolint:gocritic // hugeParam: copied into the channel anyway
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		metrics.RecordQueueEnqueueError()
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case q.items <- it:
		return nil
	default:
		metrics.RecordQueueEnqueueError()
		return ErrFull
	}
}

// Items returns the consumer channel.
func (q *InMemoryQueue) Items() <-chan Item { return q.items }

// Len returns the number of queued items.
func (q *InMemoryQueue) Len() int { return len(q.items) }

// Cap returns the queue capacity.
func (q *InMemoryQueue) Cap() int { return q.capacity }

// Close stops accepting items and closes the consumer channel once.
func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	close(q.items)
	q.closed = true
	return nil
}

// IsClosed reports whether Close was called.
func (q *InMemoryQueue) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}
