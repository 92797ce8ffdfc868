// Package worker applies queued session events. Events are sharded by
// session id so every session is owned by exactly one worker and its events
// are applied in arrival order.
package worker

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/okian/caretd/internal/adapters/mq/queue"
	"github.com/okian/caretd/pkg/logger"
	"github.com/okian/caretd/pkg/metrics"
)

const (
	metricsUpdateInterval = time.Second
	poolShutdownTimeout   = 30 * time.Second
)

// Applier applies one event to its session.
type Applier interface {
	Apply(ctx context.Context, it queue.Item) error
}

// ApplierFunc adapts a function to Applier.
type ApplierFunc func(ctx context.Context, it queue.Item) error

// Apply calls f.
func (f ApplierFunc) Apply(ctx context.Context, it queue.Item) error { return f(ctx, it) }

// Worker drains one queue into the Applier.
type Worker struct {
	queue   queue.Queue
	applier Applier
	name    string
	done    chan struct{}
	logger  logger.Logger
}

// NewWorker creates a worker for q.
func NewWorker(q queue.Queue, applier Applier, opts ...Option) *Worker {
	w := &Worker{
		queue:   q,
		applier: applier,
		name:    "worker",
		done:    make(chan struct{}),
		logger:  logger.Named("worker"),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With(logger.String("worker", w.name))
	return w
}

// Run applies items until the queue is closed and drained, or ctx is done.
func (w *Worker) Run(ctx context.Context) {
	defer close(w.done)
	items := w.queue.Items()
	for {
		select {
		case <-ctx.Done():
			return
		case it, ok := <-items:
			if !ok {
				return
			}
			w.process(ctx, it)
		}
	}
}

// Done is closed when Run returns.
func (w *Worker) Done() <-chan struct{} { return w.done }

func (w *Worker) process(ctx context.Context, it queue.Item) { //nolint:gocritic // hugeParam: items travel by value
	start := time.Now()
	if err := w.applier.Apply(ctx, it); err != nil {
		w.logger.Warn(ctx, "apply event failed",
			logger.String("session_id", it.SessionID),
			logger.String("event_id", it.EventID),
			logger.Error(err),
		)
	}
	metrics.RecordWorkerProcessingLatency(float64(time.Since(start).Microseconds()) / 1000)
}

// Pool owns one queue and one worker per shard.
type Pool struct {
	queues  []*queue.InMemoryQueue
	workers []*Worker
	logger  logger.Logger
	stop    chan struct{}
}

// NewPool creates workerCount shards sharing capacity evenly.
func NewPool(workerCount, capacity int, applier Applier) *Pool {
	if workerCount < 1 {
		workerCount = 1
	}
	per := capacity / workerCount
	if per < 1 {
		per = 1
	}
	p := &Pool{
		queues:  make([]*queue.InMemoryQueue, workerCount),
		workers: make([]*Worker, workerCount),
		logger:  logger.Named("worker-pool"),
		stop:    make(chan struct{}),
	}
	for i := range p.queues {
		p.queues[i] = queue.NewInMemoryQueue(queue.WithCapacity(per))
		p.workers[i] = NewWorker(p.queues[i], applier, WithName("worker-"+strconv.Itoa(i)))
	}
	metrics.UpdateQueueCapacity(p.Cap())
	return p
}

// Shard returns the shard index owning sessionID.
func (p *Pool) Shard(sessionID string) int {
	return int(xxhash.Sum64String(sessionID) % uint64(len(p.queues)))
}

// Submit routes it to its session's shard without blocking.
func (p *Pool) Submit(ctx context.Context, it queue.Item) error { //nolint:gocritic // hugeParam: items travel by value
	if err := p.queues[p.Shard(it.SessionID)].Enqueue(ctx, it); err != nil {
		return fmt.Errorf("submit %s: %w", it.SessionID, err)
	}
	return nil
}

// Len returns the total backlog.
func (p *Pool) Len() int {
	n := 0
	for _, q := range p.queues {
		n += q.Len()
	}
	return n
}

// Cap returns the total capacity.
func (p *Pool) Cap() int {
	n := 0
	for _, q := range p.queues {
		n += q.Cap()
	}
	return n
}

// Size returns the number of workers.
func (p *Pool) Size() int { return len(p.workers) }

// Start launches every worker and the backlog gauge updater.
func (p *Pool) Start(ctx context.Context) {
	for _, w := range p.workers {
		go w.Run(ctx)
	}
	metrics.UpdateWorkerCount(len(p.workers))
	go p.reportBacklog(ctx)
}

func (p *Pool) reportBacklog(ctx context.Context) {
	ticker := time.NewTicker(metricsUpdateInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stop:
			return
		case <-ticker.C:
			metrics.UpdateQueueSize(p.Len(), p.Cap())
		}
	}
}

// Shutdown closes every queue and waits for workers to drain them.
func (p *Pool) Shutdown(ctx context.Context) error {
	select {
	case <-p.stop:
		return nil
	default:
		close(p.stop)
	}
	for _, q := range p.queues {
		_ = q.Close()
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
	defer cancel()
	for i, w := range p.workers {
		select {
		case <-w.done:
		case <-shutdownCtx.Done():
			p.logger.Warn(ctx, "worker shutdown timed out", logger.Int("worker_id", i))
			return fmt.Errorf("worker %d: %w", i, shutdownCtx.Err())
		}
	}
	metrics.UpdateWorkerCount(0)
	return nil
}
