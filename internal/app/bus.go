package service

import (
	"context"
	"sync"

	"github.com/okian/caretd/internal/domain/caret"
	"github.com/okian/caretd/pkg/logger"
	"github.com/okian/caretd/pkg/metrics"
)

// NoticeType identifies a Notice payload.
type NoticeType string

const (
	// NoticeSnapshots carries drained snapshots.
	NoticeSnapshots NoticeType = "snapshots"
	// NoticeRegionEntered reports the caret entering the active region.
	NoticeRegionEntered NoticeType = "region_entered"
	// NoticeClosed is the last notice of a session.
	NoticeClosed NoticeType = "closed"
)

// Notice is delivered to session subscribers.
type Notice struct {
	Type      NoticeType       `json:"type"`
	SessionID string           `json:"session_id"`
	Snapshots []caret.Snapshot `json:"snapshots,omitempty"`
	Region    *caret.Region    `json:"region,omitempty"`
	Caret     uint32           `json:"caret,omitempty"`
	Reason    string           `json:"reason,omitempty"`
}

// bus fans notices out to per-session subscribers. Slow subscribers lose
// notices rather than stall the publisher.
type bus struct {
	mu    sync.Mutex
	subs  map[string]map[chan Notice]struct{}
	depth int
	log   logger.Logger
}

func newBus(depth int, log logger.Logger) *bus {
	if depth < 1 {
		depth = 1
	}
	return &bus{
		subs:  make(map[string]map[chan Notice]struct{}),
		depth: depth,
		log:   log,
	}
}

// subscribe registers a subscriber for sessionID and returns its channel
// and an idempotent cancel.
func (b *bus) subscribe(sessionID string) (<-chan Notice, func()) {
	ch := make(chan Notice, b.depth)
	b.mu.Lock()
	set := b.subs[sessionID]
	if set == nil {
		set = make(map[chan Notice]struct{})
		b.subs[sessionID] = set
	}
	set[ch] = struct{}{}
	count := len(set)
	b.mu.Unlock()
	b.log.Debug(context.Background(), "subscriber added",
		logger.String("session_id", sessionID), logger.Int("subscribers", count))

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		set := b.subs[sessionID]
		if _, ok := set[ch]; !ok {
			return
		}
		delete(set, ch)
		if len(set) == 0 {
			delete(b.subs, sessionID)
		}
		close(ch)
	}
}

// count returns the number of subscribers for sessionID.
func (b *bus) count(sessionID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[sessionID])
}

// publish delivers n without blocking and returns how many subscribers
// dropped it. The lock is held while sending so a concurrent cancel cannot
// close a channel mid-send.
func (b *bus) publish(n Notice) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	dropped := 0
	for ch := range b.subs[n.SessionID] {
		select {
		case ch <- n:
		default:
			dropped++
			metrics.RecordSubscriberDrop()
		}
	}
	if dropped > 0 {
		b.log.Warn(context.Background(), "subscriber notices dropped",
			logger.String("session_id", n.SessionID),
			logger.String("type", string(n.Type)),
			logger.Int("dropped", dropped))
	}
	return dropped
}

// closeSession sends a final notice and closes every subscriber of sessionID.
func (b *bus) closeSession(sessionID, reason string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs[sessionID] {
		select {
		case ch <- Notice{Type: NoticeClosed, SessionID: sessionID, Reason: reason}:
		default:
		}
		close(ch)
	}
	delete(b.subs, sessionID)
}

// closeAll closes every subscriber.
func (b *bus) closeAll(reason string) {
	b.mu.Lock()
	ids := make([]string, 0, len(b.subs))
	for id := range b.subs {
		ids = append(ids, id)
	}
	b.mu.Unlock()
	for _, id := range ids {
		b.closeSession(id, reason)
	}
}
