// Package service hosts caret engines as editing sessions and implements
// the dependencies required by the HTTP API.
package service

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/okian/caretd/internal/adapters/journal"
	"github.com/okian/caretd/internal/adapters/mq/queue"
	"github.com/okian/caretd/internal/adapters/mq/worker"
	"github.com/okian/caretd/internal/adapters/repository"
	"github.com/okian/caretd/internal/config"
	"github.com/okian/caretd/internal/domain/caret"
	"github.com/okian/caretd/internal/domain/dedupe"
	"github.com/okian/caretd/internal/domain/gate"
	"github.com/okian/caretd/internal/domain/session"
	"github.com/okian/caretd/pkg/logger"
	"github.com/okian/caretd/pkg/metrics"
)

const stopTimeout = 10 * time.Second

// Session close reasons.
const (
	CloseReasonClient   = "closed"
	CloseReasonIdle     = "idle"
	CloseReasonShutdown = "shutdown"
)

// SessionSettings overrides service defaults for one session.
type SessionSettings struct {
	DeviceTier *caret.DeviceTier `json:"device_tier,omitempty"`
	Thresholds *caret.Thresholds `json:"thresholds,omitempty"`
}

// SessionInfo describes a live session.
type SessionInfo struct {
	ID         string           `json:"id"`
	Created    time.Time        `json:"created"`
	DeviceTier caret.DeviceTier `json:"device_tier"`
	Thresholds caret.Thresholds `json:"thresholds"`
	State      caret.Snapshot   `json:"state"`
}

// Service implements the API dependencies for caret sessions.
type Service struct {
	mu sync.RWMutex

	// Core components
	sessions *repository.MemoryStore
	deduper  dedupe.Deduper
	pool     *worker.Pool
	bus      *bus
	gate     gate.Gate
	journal  journal.Journal

	// Configuration
	workerCount      int
	queueSize        int
	dedupeSize       int
	maxSessions      int
	subscriberBuffer int
	flushInterval    time.Duration
	idleTimeout      time.Duration
	ratePerSec       float64
	rateBurst        int

	// Defaults for new sessions, replaced on config reload
	thresholds caret.Thresholds
	policy     caret.Policy
	tier       caret.DeviceTier

	now func() time.Time

	// State
	started  bool
	cancel   context.CancelFunc
	loopDone chan struct{}
	stopped  chan struct{}

	logger logger.Logger
}

// New constructs a Service with default configuration.
func New(opts ...Option) *Service {
	s := &Service{
		workerCount:      runtime.NumCPU(),
		queueSize:        65_536,
		dedupeSize:       65_536,
		maxSessions:      10_000,
		subscriberBuffer: 64,
		flushInterval:    75 * time.Millisecond,
		idleTimeout:      30 * time.Minute,
		thresholds:       caret.DefaultThresholds(),
		tier:             caret.TierCPU,
		gate:             gate.New(),
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewFromConfig builds a Service from cfg. Extra options apply last.
func NewFromConfig(cfg *config.Config, opts ...Option) (*Service, error) {
	tier, err := cfg.Tier()
	if err != nil {
		return nil, err
	}
	base := []Option{
		WithWorkerCount(cfg.WorkerCount),
		WithQueueSize(cfg.QueueSize),
		WithDedupeSize(cfg.DedupeSize),
		WithMaxSessions(cfg.MaxSessions),
		WithSubscriberBuffer(cfg.SubscriberBuffer),
		WithFlushInterval(cfg.FlushInterval()),
		WithSessionIdleTimeout(cfg.SessionIdleTimeout()),
		WithRateLimit(cfg.RateLimitPerSec, cfg.RateLimitBurst),
		WithThresholds(cfg.Thresholds()),
		WithPolicy(cfg.Policy()),
		WithDeviceTier(tier),
		WithGate(gateFromConfig(cfg)),
	}
	return New(append(base, opts...)...), nil
}

func gateFromConfig(cfg *config.Config) gate.Gate {
	return gate.New(
		gate.WithActiveIdle(cfg.GateAllowActiveIdle),
		gate.WithSettleMS(cfg.GateSettleMS),
	)
}

// Start initializes the components and starts the workers and the flush loop.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}
	s.logger.Info(ctx, "starting caret service...")

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel

	s.sessions = repository.NewMemoryStore(runCtx, repository.WithMaxSessions(s.maxSessions))
	s.deduper = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(s.dedupeSize))
	s.bus = newBus(s.subscriberBuffer, s.logger)
	s.pool = worker.NewPool(s.workerCount, s.queueSize, worker.ApplierFunc(s.apply))
	s.pool.Start(runCtx)

	s.loopDone = make(chan struct{})
	s.stopped = make(chan struct{})
	go s.loop(runCtx)

	s.started = true
	s.logger.Info(ctx, "caret service started",
		logger.Int("workers", s.workerCount),
		logger.Int("queue_size", s.queueSize),
		logger.Int("dedupe_size", s.dedupeSize),
		logger.Duration("flush_interval", s.flushInterval),
		logger.Bool("journal", s.journal != nil),
	)
	return nil
}

// Stop drains the workers, closes every session and stops the loops.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	stopped := s.stopped
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	s.logger.Info(ctx, "stopping caret service...")

	if err := s.pool.Shutdown(ctx); err != nil {
		s.logger.Warn(ctx, "worker pool shutdown incomplete", logger.Error(err))
	}
	s.cancel()
	<-s.loopDone
	close(stopped)

	for _, sess := range s.sessions.List(ctx) {
		s.closeSession(ctx, sess, CloseReasonShutdown)
	}
	s.bus.closeAll(CloseReasonShutdown)
	_ = s.sessions.Close()

	s.logger.Info(ctx, "caret service stopped")
}

func (s *Service) running() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.started
}

func (s *Service) lookup(ctx context.Context, id string) (*session.Session, error) {
	if !s.running() {
		return nil, ErrNotStarted
	}
	sess, err := s.sessions.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
		}
		return nil, err
	}
	return sess, nil
}

// CreateSession opens a session with the service defaults overridden by set.
func (s *Service) CreateSession(ctx context.Context, set SessionSettings) (SessionInfo, error) {
	if !s.running() {
		return SessionInfo{}, ErrNotStarted
	}

	s.mu.RLock()
	th, tier, policy := s.thresholds, s.tier, s.policy
	s.mu.RUnlock()

	if set.Thresholds != nil {
		if err := set.Thresholds.Validate(); err != nil {
			return SessionInfo{}, err
		}
		th = *set.Thresholds
	}
	if set.DeviceTier != nil {
		if !set.DeviceTier.Valid() {
			return SessionInfo{}, fmt.Errorf("%w DeviceTier: %d", caret.ErrUnknownName, *set.DeviceTier)
		}
		tier = *set.DeviceTier
	}

	sess := session.New(uuid.NewString(), s.now(),
		session.WithEngineOptions(
			caret.WithThresholds(th),
			caret.WithDeviceTier(tier),
			caret.WithPolicy(policy),
		),
		session.WithRateLimit(s.ratePerSec, s.rateBurst),
	)
	if err := s.sessions.Put(ctx, sess); err != nil {
		if errors.Is(err, repository.ErrCapacity) {
			return SessionInfo{}, fmt.Errorf("%w: %w", ErrSessionLimit, err)
		}
		return SessionInfo{}, err
	}
	if s.journal != nil {
		if err := s.journal.OpenSession(ctx, sess.ID()); err != nil {
			s.logger.Warn(ctx, "journal open session failed",
				logger.String("session_id", sess.ID()), logger.Error(err))
		}
	}
	metrics.RecordSessionCreated()
	s.logger.Debug(ctx, "session created", logger.String("session_id", sess.ID()))
	return info(sess), nil
}

func info(sess *session.Session) SessionInfo {
	return SessionInfo{
		ID:         sess.ID(),
		Created:    sess.Created(),
		DeviceTier: sess.DeviceTier(),
		Thresholds: sess.Thresholds(),
		State:      sess.State(),
	}
}

// Session returns a description of session id.
func (s *Service) Session(ctx context.Context, id string) (SessionInfo, error) {
	sess, err := s.lookup(ctx, id)
	if err != nil {
		return SessionInfo{}, err
	}
	return info(sess), nil
}

// CloseSession closes session id. Undelivered snapshots are journaled and
// published before subscribers are closed.
func (s *Service) CloseSession(ctx context.Context, id string) error {
	if !s.running() {
		return ErrNotStarted
	}
	sess, err := s.sessions.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	s.closeSession(ctx, sess, CloseReasonClient)
	return nil
}

func (s *Service) closeSession(ctx context.Context, sess *session.Session, reason string) {
	if _, err := s.sessions.Delete(ctx, sess.ID()); err != nil {
		return
	}
	s.deliver(ctx, sess)
	s.bus.closeSession(sess.ID(), reason)
	if s.journal != nil {
		if err := s.journal.CloseSession(ctx, sess.ID(), reason); err != nil {
			s.logger.Warn(ctx, "journal close session failed",
				logger.String("session_id", sess.ID()), logger.Error(err))
		}
	}
	metrics.RecordSessionClosed(reason)
	s.logger.Debug(ctx, "session closed",
		logger.String("session_id", sess.ID()), logger.String("reason", reason))
}

// Enqueue validates ev and queues it for the worker owning the session.
// A non-empty eventID makes delivery idempotent: a repeated id yields
// ErrDuplicate and is not applied again.
func (s *Service) Enqueue(ctx context.Context, sessionID, eventID string, ev caret.Event) error { //nolint:gocritic // hugeParam: events are values
	sess, err := s.lookup(ctx, sessionID)
	if err != nil {
		return err
	}
	if err := ev.Validate(); err != nil {
		return err
	}

	var key string
	if eventID != "" {
		key = dedupe.Key(sessionID, eventID)
		if s.deduper.SeenAndRecord(ctx, key) {
			metrics.RecordEventDuplicate()
			return fmt.Errorf("%w: %s", ErrDuplicate, eventID)
		}
	}

	now := s.now()
	if !sess.Allow(now) {
		if key != "" {
			s.deduper.Unrecord(ctx, key)
		}
		metrics.RecordRateLimited()
		return fmt.Errorf("%w: %s", ErrRateLimited, sessionID)
	}

	it := queue.Item{Op: queue.OpEvent, SessionID: sessionID, EventID: eventID, Event: ev, Received: now}
	if err := s.submit(ctx, it); err != nil {
		if key != "" {
			s.deduper.Unrecord(ctx, key)
		}
		return err
	}
	return nil
}

// submit queues it on the shard owning its session.
func (s *Service) submit(ctx context.Context, it queue.Item) error { //nolint:gocritic // hugeParam: items travel by value
	if err := s.pool.Submit(ctx, it); err != nil {
		if errors.Is(err, queue.ErrFull) {
			return fmt.Errorf("%w: %w", ErrBackpressure, err)
		}
		if errors.Is(err, queue.ErrClosed) {
			return fmt.Errorf("%w: %w", ErrNotStarted, err)
		}
		return err
	}
	return nil
}

// apply runs on the worker that owns the session, so events and flushes
// of one session are applied in the order they were queued.
func (s *Service) apply(ctx context.Context, it queue.Item) error { //nolint:gocritic // hugeParam: items travel by value
	sess, err := s.sessions.Get(ctx, it.SessionID)
	if err != nil {
		err = fmt.Errorf("%w: %s", ErrSessionNotFound, it.SessionID)
		it.Reply(0, err)
		return err
	}
	switch it.Op {
	case queue.OpFlush:
		it.Reply(s.flush(ctx, sess, it.NowMS), nil)
	default:
		s.applyEvent(ctx, sess, it)
	}
	return nil
}

func (s *Service) applyEvent(ctx context.Context, sess *session.Session, it queue.Item) { //nolint:gocritic // hugeParam: items travel by value
	a := sess.Apply(it.Event, s.now())

	metrics.RecordEvent(it.Event.Kind.String())
	if a.Changed {
		metrics.RecordSnapshots(a.State.Primary.String(), 1)
	}
	recordDelta(a.Delta)

	if a.RegionEntered {
		metrics.RecordRegionEntry()
		r, _ := sess.Region()
		s.bus.publish(Notice{Type: NoticeRegionEntered, SessionID: sess.ID(), Region: &r, Caret: it.Event.Caret})
	}
	if a.Changed && s.bus.count(sess.ID()) > 0 {
		s.deliver(ctx, sess)
	}
}

// flush re-evaluates sess at nowMS, or at its estimated client time when
// nowMS is nil. It runs on the owning worker.
func (s *Service) flush(ctx context.Context, sess *session.Session, nowMS *uint64) int {
	start := time.Now()
	var n int
	if nowMS != nil {
		n = sess.Flush(*nowMS)
	} else {
		n = sess.Tick(s.now())
	}
	metrics.RecordFlush(float64(time.Since(start).Microseconds())/1000, n)
	if n > 0 {
		metrics.RecordSnapshots(sess.State().Primary.String(), n)
	}
	if s.autoDeliver(sess) {
		s.deliver(ctx, sess)
	}
	return n
}

func recordDelta(d caret.Stats) {
	metrics.RecordDeleteBursts(d.DeleteBursts)
	metrics.RecordCaretJumps(d.CaretJumps)
	metrics.RecordClipboard("paste", d.Pastes)
	metrics.RecordClipboard("cut", d.Cuts)
	metrics.RecordClipboard("drop", d.Drops)
	metrics.RecordClampedTimestamps(d.ClampedTimestamps)
}

// deliver drains sess, journals the batch and publishes it. Batches of one
// session are delivered in emission order.
func (s *Service) deliver(ctx context.Context, sess *session.Session) []caret.Snapshot {
	return sess.Deliver(func(snaps []caret.Snapshot) {
		if s.journal != nil {
			if err := s.journal.Append(ctx, sess.ID(), snaps); err != nil {
				s.logger.Warn(ctx, "journal append failed",
					logger.String("session_id", sess.ID()), logger.Int("snapshots", len(snaps)), logger.Error(err))
			}
		}
		s.bus.publish(Notice{Type: NoticeSnapshots, SessionID: sess.ID(), Snapshots: snaps})
	})
}

// autoDeliver reports whether the sweep should drain sess on its own.
func (s *Service) autoDeliver(sess *session.Session) bool {
	return s.journal != nil || s.bus.count(sess.ID()) > 0
}

func (s *Service) loop(ctx context.Context) {
	defer close(s.loopDone)
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	reapEvery := time.Second
	if s.idleTimeout > 0 && s.idleTimeout < reapEvery {
		reapEvery = s.idleTimeout
	}
	reaper := time.NewTicker(reapEvery)
	defer reaper.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		case <-reaper.C:
			s.reapIdle(ctx)
		}
	}
}

// sweep queues a tick for every session that is due one. Ticks travel
// through the owning shard like events; sessions with nothing to tick
// still get undelivered snapshots pushed.
func (s *Service) sweep(ctx context.Context) {
	now := s.now()
	for _, sess := range s.sessions.List(ctx) {
		if sess.ScheduleTick(now) {
			it := queue.Item{Op: queue.OpFlush, SessionID: sess.ID(), Received: now}
			if err := s.submit(ctx, it); err != nil {
				sess.CancelTick()
				s.logger.Debug(ctx, "sweep tick not queued",
					logger.String("session_id", sess.ID()), logger.Error(err))
			}
			continue
		}
		if sess.Pending() > 0 && s.autoDeliver(sess) {
			s.deliver(ctx, sess)
		}
	}
}

func (s *Service) reapIdle(ctx context.Context) {
	if s.idleTimeout <= 0 {
		return
	}
	cutoff := s.now().Add(-s.idleTimeout)
	for _, sess := range s.sessions.List(ctx) {
		if sess.LastActivity().Before(cutoff) {
			s.closeSession(ctx, sess, CloseReasonIdle)
		}
	}
}

// Flush re-evaluates session id at nowMS, or at its estimated client time
// when nowMS is nil, and returns the number of snapshots emitted. The
// flush is queued behind the session's pending events.
func (s *Service) Flush(ctx context.Context, id string, nowMS *uint64) (int, error) {
	if _, err := s.lookup(ctx, id); err != nil {
		return 0, err
	}
	s.mu.RLock()
	stopped := s.stopped
	s.mu.RUnlock()

	done := make(chan queue.Result, 1)
	it := queue.Item{Op: queue.OpFlush, SessionID: id, NowMS: nowMS, Received: s.now(), Done: done}
	if err := s.submit(ctx, it); err != nil {
		return 0, err
	}
	select {
	case res := <-done:
		return res.Emitted, res.Err
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-stopped:
		return 0, ErrNotStarted
	}
}

// State returns the latest snapshot of session id.
func (s *Service) State(ctx context.Context, id string) (caret.Snapshot, error) {
	sess, err := s.lookup(ctx, id)
	if err != nil {
		return caret.Snapshot{}, err
	}
	return sess.State(), nil
}

// Stats returns the engine statistics of session id.
func (s *Service) Stats(ctx context.Context, id string) (caret.Stats, error) {
	sess, err := s.lookup(ctx, id)
	if err != nil {
		return caret.Stats{}, err
	}
	return sess.Stats(), nil
}

// Snapshots drains the undelivered snapshots of session id. Drained
// snapshots are also journaled and published.
func (s *Service) Snapshots(ctx context.Context, id string) ([]caret.Snapshot, error) {
	sess, err := s.lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	snaps := s.deliver(ctx, sess)
	if snaps == nil {
		snaps = []caret.Snapshot{}
	}
	return snaps, nil
}

// Journal returns up to limit journaled snapshots of session id, oldest first.
func (s *Service) Journal(ctx context.Context, id string, limit int) ([]journal.Entry, error) {
	if s.journal == nil {
		return nil, ErrJournalDisabled
	}
	if !s.running() {
		return nil, ErrNotStarted
	}
	entries, err := s.journal.List(ctx, id, limit)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []journal.Entry{}
	}
	return entries, nil
}

// Thresholds returns the thresholds of session id.
func (s *Service) Thresholds(ctx context.Context, id string) (caret.Thresholds, error) {
	sess, err := s.lookup(ctx, id)
	if err != nil {
		return caret.Thresholds{}, err
	}
	return sess.Thresholds(), nil
}

// SetThresholds validates and installs t on session id.
func (s *Service) SetThresholds(ctx context.Context, id string, t caret.Thresholds) error {
	sess, err := s.lookup(ctx, id)
	if err != nil {
		return err
	}
	return sess.SetThresholds(t)
}

// SetDeviceTier installs tier on session id.
func (s *Service) SetDeviceTier(ctx context.Context, id string, tier caret.DeviceTier) error {
	sess, err := s.lookup(ctx, id)
	if err != nil {
		return err
	}
	return sess.SetDeviceTier(tier)
}

// SetRegion sets or, with nil, clears the active region of session id.
func (s *Service) SetRegion(ctx context.Context, id string, r *caret.Region) error {
	sess, err := s.lookup(ctx, id)
	if err != nil {
		return err
	}
	return sess.SetRegion(r)
}

// Gate evaluates the correction gate for session id at its estimated
// client time.
func (s *Service) Gate(ctx context.Context, id string) (gate.Decision, error) {
	sess, err := s.lookup(ctx, id)
	if err != nil {
		return gate.Decision{}, err
	}
	state := sess.State()
	now, ok := sess.ClientNow(s.now())
	if !ok {
		now = state.TimestampMS
	}
	s.mu.RLock()
	g := s.gate
	s.mu.RUnlock()
	return g.Decide(state, now), nil
}

// Subscribe returns a notice channel for session id and a cancel func.
// The channel is closed by cancel or when the session closes.
func (s *Service) Subscribe(ctx context.Context, id string) (<-chan Notice, func(), error) {
	if _, err := s.lookup(ctx, id); err != nil {
		return nil, nil, err
	}
	ch, cancel := s.bus.subscribe(id)
	return ch, cancel, nil
}

// ApplyConfig installs reloadable settings from cfg: thresholds and policy
// on every live session (effective from its next event or tick), the
// defaults for new sessions, the gate and the log level. An invalid cfg
// changes nothing.
func (s *Service) ApplyConfig(ctx context.Context, cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	tier, err := cfg.Tier()
	if err != nil {
		return err
	}
	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("%w: %w", config.ErrInvalidConfig, err)
	}
	th, policy := cfg.Thresholds(), cfg.Policy()

	s.mu.Lock()
	s.thresholds = th
	s.policy = policy
	s.tier = tier
	s.gate = gateFromConfig(cfg)
	started := s.started
	s.mu.Unlock()

	updated := 0
	if started {
		for _, sess := range s.sessions.List(ctx) {
			if err := sess.SetThresholds(th); err != nil {
				return err
			}
			sess.SetPolicy(policy)
			updated++
		}
	}
	logger.SetLevel(level)

	if s.logger != nil {
		s.logger.Info(ctx, "configuration applied",
			logger.String("device_tier", tier.String()),
			logger.Uint64("short_pause_ms", cfg.ShortPauseMS),
			logger.Uint64("long_pause_ms", cfg.LongPauseMS),
			logger.Int("sessions_updated", updated),
		)
	}
	return nil
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]interface{}{
		"started":     s.started,
		"workerCount": s.workerCount,
		"queueSize":   s.queueSize,
		"dedupeSize":  s.dedupeSize,
		"maxSessions": s.maxSessions,
		"journal":     s.journal != nil,
		"deviceTier":  s.tier.String(),
	}

	if s.started {
		ctx := context.Background()
		active := s.sessions.Count(ctx)
		backlog := s.pool.Len()

		stats["activeSessions"] = active
		stats["queueLength"] = backlog
		stats["dedupeEntries"] = s.deduper.Size()

		metrics.UpdateActiveSessions(active)
		metrics.UpdateQueueSize(backlog, s.pool.Cap())
		metrics.UpdateWorkerCount(s.pool.Size())
	}
	return stats
}
