package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	service "github.com/okian/caretd/internal/app"
	"github.com/okian/caretd/pkg/bridge"
	"github.com/okian/caretd/pkg/logger"
)

// streamHeartbeat keeps idle event streams open through proxies.
const streamHeartbeat = 15 * time.Second

// EventsHandler serves event ingestion, flushes and notice streams.
type EventsHandler struct {
	deps Dependencies
	log  logger.Logger
}

// NewEventsHandler creates a new events handler.
func NewEventsHandler(deps Dependencies, log logger.Logger) *EventsHandler {
	return &EventsHandler{deps: deps, log: log}
}

type ackResponse struct {
	Accepted   int `json:"accepted"`
	Duplicates int `json:"duplicates"`
}

// HandlePostEvents handles POST /sessions/{id}/events. The body is one
// event or an array of events; they are queued in order. When the session
// is rate limited or the queue is full the remaining events are refused and
// the counts describe the accepted prefix.
func (h *EventsHandler) HandlePostEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	body, err := readBody(w, r)
	if err != nil {
		writeUpstreamError(w, err)
		return
	}
	docs, err := bridge.DecodeEvents(body)
	if err != nil {
		writeUpstreamError(w, err)
		return
	}

	var ack ackResponse
	for i := range docs {
		err := h.deps.Enqueue(r.Context(), id, docs[i].ID, docs[i].Event)
		switch {
		case err == nil:
			ack.Accepted++
		case errors.Is(err, service.ErrDuplicate):
			ack.Duplicates++
		case errors.Is(err, service.ErrRateLimited), errors.Is(err, service.ErrBackpressure):
			status, code := statusFor(err)
			w.Header().Set("Retry-After", "1")
			writeJSON(w, status, struct {
				errorResponse
				ackResponse
			}{errorResponse{Code: code, Message: err.Error()}, ack})
			return
		default:
			writeUpstreamError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusAccepted, ack)
}

type flushRequest struct {
	NowMS *uint64 `json:"now_ms"`
}

type flushResponse struct {
	Emitted int `json:"emitted"`
}

// HandleFlush handles POST /sessions/{id}/flush. An empty body flushes at
// the session's client clock.
func (h *EventsHandler) HandleFlush(w http.ResponseWriter, r *http.Request) {
	var req flushRequest
	if r.ContentLength != 0 {
		body, err := readBody(w, r)
		if err != nil {
			writeUpstreamError(w, err)
			return
		}
		if len(body) > 0 {
			if err := strictUnmarshal(body, &req); err != nil {
				writeUpstreamError(w, err)
				return
			}
		}
	}
	n, err := h.deps.Flush(r.Context(), r.PathValue("id"), req.NowMS)
	if err != nil {
		writeUpstreamError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, flushResponse{Emitted: n})
}

// HandleStream handles GET /sessions/{id}/stream as server-sent events.
// The stream ends when the client leaves or the session closes.
func (h *EventsHandler) HandleStream(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	notices, cancel, err := h.deps.Subscribe(r.Context(), id)
	if err != nil {
		writeUpstreamError(w, err)
		return
	}
	defer cancel()

	rc := http.NewResponseController(w)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if _, err := fmt.Fprint(w, ": connected\n\n"); err != nil {
		return
	}
	if err := rc.Flush(); err != nil {
		h.log.Warn(r.Context(), "stream flush unsupported", logger.Error(err))
		return
	}

	heartbeat := time.NewTicker(streamHeartbeat)
	defer heartbeat.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
		case n, ok := <-notices:
			if !ok {
				return
			}
			data, err := json.Marshal(n)
			if err != nil {
				h.log.Error(r.Context(), "encode notice failed",
					logger.String("session_id", id), logger.Error(err))
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", n.Type, data); err != nil {
				return
			}
			if n.Type == service.NoticeClosed {
				_ = rc.Flush()
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}
