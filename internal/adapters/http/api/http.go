// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/okian/caretd/internal/adapters/journal"
	service "github.com/okian/caretd/internal/app"
	"github.com/okian/caretd/internal/domain/caret"
	"github.com/okian/caretd/internal/domain/gate"
	"github.com/okian/caretd/pkg/logger"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	CreateSession(ctx context.Context, set service.SessionSettings) (service.SessionInfo, error)
	Session(ctx context.Context, id string) (service.SessionInfo, error)
	CloseSession(ctx context.Context, id string) error

	// Enqueue queues one event. Repeated event ids yield service.ErrDuplicate.
	Enqueue(ctx context.Context, sessionID, eventID string, ev caret.Event) error
	Flush(ctx context.Context, id string, nowMS *uint64) (int, error)

	State(ctx context.Context, id string) (caret.Snapshot, error)
	Stats(ctx context.Context, id string) (caret.Stats, error)
	Snapshots(ctx context.Context, id string) ([]caret.Snapshot, error)
	Journal(ctx context.Context, id string, limit int) ([]journal.Entry, error)
	Gate(ctx context.Context, id string) (gate.Decision, error)

	Thresholds(ctx context.Context, id string) (caret.Thresholds, error)
	SetThresholds(ctx context.Context, id string, t caret.Thresholds) error
	SetDeviceTier(ctx context.Context, id string, tier caret.DeviceTier) error
	SetRegion(ctx context.Context, id string, r *caret.Region) error

	Subscribe(ctx context.Context, id string) (<-chan service.Notice, func(), error)
}

// Server wires HTTP routes for the session API.
type Server struct {
	healthHandler   *HealthHandler
	statsHandler    *StatsHandler
	sessionsHandler *SessionsHandler
	eventsHandler   *EventsHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, statsProvider StatsProvider) *Server {
	log := logger.Get().Named("http")
	return &Server{
		healthHandler:   NewHealthHandler(),
		statsHandler:    NewStatsHandler(statsProvider),
		sessionsHandler: NewSessionsHandler(deps, log),
		eventsHandler:   NewEventsHandler(deps, log),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("GET /metrics", MetricsMiddleware(s.healthHandler.HandleMetrics, "metrics"))
	mux.HandleFunc("GET /stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))

	sh, eh := s.sessionsHandler, s.eventsHandler
	mux.HandleFunc("POST /sessions", MetricsMiddleware(sh.HandleCreate, "sessions"))
	mux.HandleFunc("GET /sessions/{id}", MetricsMiddleware(sh.HandleGet, "session"))
	mux.HandleFunc("DELETE /sessions/{id}", MetricsMiddleware(sh.HandleClose, "session"))

	mux.HandleFunc("POST /sessions/{id}/events", MetricsMiddleware(eh.HandlePostEvents, "events"))
	mux.HandleFunc("POST /sessions/{id}/flush", MetricsMiddleware(eh.HandleFlush, "flush"))
	mux.HandleFunc("GET /sessions/{id}/stream", MetricsMiddleware(eh.HandleStream, "stream"))

	mux.HandleFunc("GET /sessions/{id}/state", MetricsMiddleware(sh.HandleState, "state"))
	mux.HandleFunc("GET /sessions/{id}/stats", MetricsMiddleware(sh.HandleStats, "session_stats"))
	mux.HandleFunc("GET /sessions/{id}/snapshots", MetricsMiddleware(sh.HandleSnapshots, "snapshots"))
	mux.HandleFunc("GET /sessions/{id}/journal", MetricsMiddleware(sh.HandleJournal, "journal"))
	mux.HandleFunc("GET /sessions/{id}/gate", MetricsMiddleware(sh.HandleGate, "gate"))
	mux.HandleFunc("GET /sessions/{id}/thresholds", MetricsMiddleware(sh.HandleGetThresholds, "thresholds"))
	mux.HandleFunc("PUT /sessions/{id}/thresholds", MetricsMiddleware(sh.HandlePutThresholds, "thresholds"))
	mux.HandleFunc("PUT /sessions/{id}/device-tier", MetricsMiddleware(sh.HandlePutDeviceTier, "device_tier"))
	mux.HandleFunc("PUT /sessions/{id}/region", MetricsMiddleware(sh.HandlePutRegion, "region"))
	mux.HandleFunc("DELETE /sessions/{id}/region", MetricsMiddleware(sh.HandleDeleteRegion, "region"))
}

// Handler returns a mux with every route registered.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.Register(mux)
	return mux
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// writeUpstreamError translates a dependency error.
func writeUpstreamError(w http.ResponseWriter, err error) {
	status, code := statusFor(err)
	writeError(w, status, code, err)
}

// readBody reads a bounded request body.
func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	b, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadRequest, err)
	}
	return b, nil
}

// decodeBody decodes a bounded JSON body into v, rejecting unknown fields.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %w", ErrBadRequest, err)
	}
	return nil
}
