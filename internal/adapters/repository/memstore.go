package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/okian/caretd/internal/domain/session"
	"github.com/okian/caretd/pkg/metrics"
)

// MemoryStore is an in-memory Store guarded by a RWMutex.
type MemoryStore struct {
	mu   sync.RWMutex
	byID map[string]*session.Session

	maxSessions           int
	metricsUpdateInterval time.Duration

	closeOnce sync.Once
	stop      chan struct{}
	done      chan struct{}
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty store and starts the background gauge
// refresh, which stops when ctx ends or Close is called.
func NewMemoryStore(ctx context.Context, opts ...Option) *MemoryStore {
	s := &MemoryStore{
		byID:                  make(map[string]*session.Session),
		metricsUpdateInterval: 5 * time.Second,
		stop:                  make(chan struct{}),
		done:                  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	go s.reportPeriodically(ctx)
	return s
}

func (s *MemoryStore) reportPeriodically(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.metricsUpdateInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			metrics.UpdateActiveSessions(s.Count(ctx))
		}
	}
}

// Close stops the background refresh.
func (s *MemoryStore) Close() error {
	s.closeOnce.Do(func() {
		close(s.stop)
	})
	<-s.done
	return nil
}

// Put adds sess.
func (s *MemoryStore) Put(_ context.Context, sess *session.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[sess.ID()]; ok {
		return fmt.Errorf("%w: %s", ErrExists, sess.ID())
	}
	if s.maxSessions > 0 && len(s.byID) >= s.maxSessions {
		return fmt.Errorf("%w: %d sessions", ErrCapacity, s.maxSessions)
	}
	s.byID[sess.ID()] = sess
	metrics.UpdateActiveSessions(len(s.byID))
	return nil
}

// Get returns the session for id.
func (s *MemoryStore) Get(_ context.Context, id string) (*session.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return sess, nil
}

// Delete removes the session for id.
func (s *MemoryStore) Delete(_ context.Context, id string) (*session.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(s.byID, id)
	metrics.UpdateActiveSessions(len(s.byID))
	return sess, nil
}

// List returns every session ordered by id.
func (s *MemoryStore) List(_ context.Context) []*session.Session {
	s.mu.RLock()
	out := make([]*session.Session, 0, len(s.byID))
	for _, sess := range s.byID {
		out = append(out, sess)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Count returns the number of sessions.
func (s *MemoryStore) Count(_ context.Context) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}
