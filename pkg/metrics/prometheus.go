// Package metrics provides Prometheus metrics for the caretd service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager owns every caretd collector.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	enabled          bool
	constLabels      prometheus.Labels
	registry         prometheus.Registerer

	// engine
	eventsByKind      *prometheus.CounterVec
	snapshotsByState  *prometheus.CounterVec
	deleteBursts      prometheus.Counter
	caretJumps        prometheus.Counter
	clipboard         *prometheus.CounterVec
	clampedTimestamps prometheus.Counter
	regionEntries     prometheus.Counter
	flushLatency      prometheus.Histogram
	flushEmitted      prometheus.Counter

	// sessions
	sessionsActive    prometheus.Gauge
	sessionsCreated   prometheus.Counter
	sessionsClosed    *prometheus.CounterVec
	duplicateEvents   prometheus.Counter
	rateLimited       prometheus.Counter
	subscriberDrops   prometheus.Counter
	boundaryRejection *prometheus.CounterVec

	// queue and workers
	queueSize          prometheus.Gauge
	queueCapacity      prometheus.Gauge
	queueUtilization   prometheus.Gauge
	queueEnqueueErrors prometheus.Counter
	workerCount        prometheus.Gauge
	workerLatency      prometheus.Histogram

	// http
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// journal and config
	journalWrites prometheus.Counter
	journalErrors prometheus.Counter
	configReloads *prometheus.CounterVec
}

var globalManager *Manager //nolint:gochecknoglobals // singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // metrics registry

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// GetRegistry returns the registry the global manager registers on.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}

// NewManager creates a manager and registers its collectors.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "caretd",
		subsystem:        "engine",
		histogramBuckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 25, 50, 100},
		enabled:          true,
		registry:         prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	})
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	}, labels)
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	})
}

func (m *Manager) histogram(name, help string) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
		ConstLabels: m.constLabels, Buckets: m.histogramBuckets,
	})
}

func (m *Manager) initializeMetrics() {
	m.eventsByKind = m.counterVec("events_total", "Input events applied to engines by kind", "kind")
	m.snapshotsByState = m.counterVec("snapshots_total", "Snapshots emitted by primary state", "primary")
	m.deleteBursts = m.counter("delete_bursts_total", "Delete bursts detected")
	m.caretJumps = m.counter("caret_jumps_total", "Caret jumps detected")
	m.clipboard = m.counterVec("clipboard_total", "Paste and cut events", "op")
	m.clampedTimestamps = m.counter("clamped_timestamps_total", "Out-of-order timestamps clamped to the session clock")
	m.regionEntries = m.counter("region_entries_total", "Caret entries into an active region")
	m.flushLatency = m.histogram("flush_latency_milliseconds", "Time spent flushing one session")
	m.flushEmitted = m.counter("flush_emitted_total", "Snapshots emitted by flushes")

	m.sessionsActive = m.gauge("sessions_active", "Live editing sessions")
	m.sessionsCreated = m.counter("sessions_created_total", "Sessions created")
	m.sessionsClosed = m.counterVec("sessions_closed_total", "Sessions closed by reason", "reason")
	m.duplicateEvents = m.counter("events_duplicate_total", "Events dropped as duplicate deliveries")
	m.rateLimited = m.counter("events_rate_limited_total", "Events rejected by the per-session rate limit")
	m.subscriberDrops = m.counter("subscriber_drops_total", "Snapshot batches dropped for slow subscribers")
	m.boundaryRejection = m.counterVec("boundary_rejections_total", "Boundary calls rejected without mutation", "reason")

	m.queueSize = m.gauge("queue_size", "Events waiting to be applied")
	m.queueCapacity = m.gauge("queue_capacity", "Total queue capacity")
	m.queueUtilization = m.gauge("queue_utilization_ratio", "Queue size over capacity")
	m.queueEnqueueErrors = m.counter("queue_enqueue_errors_total", "Enqueue attempts rejected for backpressure")
	m.workerCount = m.gauge("worker_count", "Running ingest workers")
	m.workerLatency = m.histogram("worker_processing_latency_milliseconds", "Time to apply one event")

	m.httpRequests = m.counterVec("http_requests_total", "HTTP requests by endpoint and method", "endpoint", "method", "status_code")
	m.httpRequestDuration = promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: "http_request_duration_milliseconds",
		Help: "HTTP request duration in milliseconds", ConstLabels: m.constLabels, Buckets: m.histogramBuckets,
	}, []string{"endpoint", "method", "status_code"})

	m.journalWrites = m.counter("journal_writes_total", "Snapshots written to the journal")
	m.journalErrors = m.counter("journal_errors_total", "Journal write failures")
	m.configReloads = m.counterVec("config_reloads_total", "Configuration reloads by result", "result")
}

func get() *Manager {
	if globalManager == nil || !globalManager.enabled {
		return nil
	}
	return globalManager
}

// RecordEvent counts an applied event of kind.
func RecordEvent(kind string) {
	if m := get(); m != nil {
		m.eventsByKind.WithLabelValues(kind).Inc()
	}
}

// RecordSnapshots counts emitted snapshots per primary state.
func RecordSnapshots(primary string, n int) {
	if m := get(); m != nil && n > 0 {
		m.snapshotsByState.WithLabelValues(primary).Add(float64(n))
	}
}

// RecordDeleteBursts adds n detected delete bursts.
func RecordDeleteBursts(n uint64) {
	if m := get(); m != nil && n > 0 {
		m.deleteBursts.Add(float64(n))
	}
}

// RecordCaretJumps adds n detected caret jumps.
func RecordCaretJumps(n uint64) {
	if m := get(); m != nil && n > 0 {
		m.caretJumps.Add(float64(n))
	}
}

// RecordClipboard adds n clipboard operations of op ("paste" or "cut").
func RecordClipboard(op string, n uint64) {
	if m := get(); m != nil && n > 0 {
		m.clipboard.WithLabelValues(op).Add(float64(n))
	}
}

// RecordClampedTimestamps adds n clamped timestamps.
func RecordClampedTimestamps(n uint64) {
	if m := get(); m != nil && n > 0 {
		m.clampedTimestamps.Add(float64(n))
	}
}

// RecordRegionEntry counts a caret entering an active region.
func RecordRegionEntry() {
	if m := get(); m != nil {
		m.regionEntries.Inc()
	}
}

// RecordFlush records one session flush.
func RecordFlush(latencyMs float64, emitted int) {
	if m := get(); m != nil {
		m.flushLatency.Observe(latencyMs)
		if emitted > 0 {
			m.flushEmitted.Add(float64(emitted))
		}
	}
}

// UpdateActiveSessions sets the live session gauge.
func UpdateActiveSessions(n int) {
	if m := get(); m != nil {
		m.sessionsActive.Set(float64(n))
	}
}

// RecordSessionCreated counts a new session.
func RecordSessionCreated() {
	if m := get(); m != nil {
		m.sessionsCreated.Inc()
	}
}

// RecordSessionClosed counts a closed session by reason.
func RecordSessionClosed(reason string) {
	if m := get(); m != nil {
		m.sessionsClosed.WithLabelValues(reason).Inc()
	}
}

// RecordEventDuplicate counts a duplicate delivery.
func RecordEventDuplicate() {
	if m := get(); m != nil {
		m.duplicateEvents.Inc()
	}
}

// RecordRateLimited counts an event rejected by the rate limiter.
func RecordRateLimited() {
	if m := get(); m != nil {
		m.rateLimited.Inc()
	}
}

// RecordSubscriberDrop counts a batch dropped for a slow subscriber.
func RecordSubscriberDrop() {
	if m := get(); m != nil {
		m.subscriberDrops.Inc()
	}
}

// RecordBoundaryRejection counts a rejected boundary call.
func RecordBoundaryRejection(reason string) {
	if m := get(); m != nil {
		m.boundaryRejection.WithLabelValues(reason).Inc()
	}
}

// UpdateQueueSize sets the queue backlog and utilization.
func UpdateQueueSize(size, capacity int) {
	if m := get(); m != nil {
		m.queueSize.Set(float64(size))
		if capacity > 0 {
			m.queueUtilization.Set(float64(size) / float64(capacity))
		}
	}
}

// UpdateQueueCapacity sets the queue capacity gauge.
func UpdateQueueCapacity(capacity int) {
	if m := get(); m != nil {
		m.queueCapacity.Set(float64(capacity))
	}
}

// RecordQueueEnqueueError counts a backpressure rejection.
func RecordQueueEnqueueError() {
	if m := get(); m != nil {
		m.queueEnqueueErrors.Inc()
	}
}

// UpdateWorkerCount sets the running worker gauge.
func UpdateWorkerCount(n int) {
	if m := get(); m != nil {
		m.workerCount.Set(float64(n))
	}
}

// RecordWorkerProcessingLatency records how long one event took to apply.
func RecordWorkerProcessingLatency(latencyMs float64) {
	if m := get(); m != nil {
		m.workerLatency.Observe(latencyMs)
	}
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	if m := get(); m != nil {
		m.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
	}
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, durationMs float64) {
	if m := get(); m != nil {
		m.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(durationMs)
	}
}

// RecordJournalWrite adds n journaled snapshots.
func RecordJournalWrite(n int) {
	if m := get(); m != nil && n > 0 {
		m.journalWrites.Add(float64(n))
	}
}

// RecordJournalError counts a failed journal write.
func RecordJournalError() {
	if m := get(); m != nil {
		m.journalErrors.Inc()
	}
}

// RecordConfigReload counts a reload attempt by result ("ok" or "error").
func RecordConfigReload(result string) {
	if m := get(); m != nil {
		m.configReloads.WithLabelValues(result).Inc()
	}
}
