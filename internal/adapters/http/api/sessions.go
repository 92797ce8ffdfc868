// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	service "github.com/okian/caretd/internal/app"
	"github.com/okian/caretd/pkg/bridge"
	"github.com/okian/caretd/internal/domain/caret"
	"github.com/okian/caretd/pkg/logger"
)

// SessionsHandler serves session lifecycle, inspection and settings.
type SessionsHandler struct {
	deps Dependencies
	log  logger.Logger
}

// NewSessionsHandler creates a new sessions handler.
func NewSessionsHandler(deps Dependencies, log logger.Logger) *SessionsHandler {
	return &SessionsHandler{deps: deps, log: log}
}

// HandleCreate handles POST /sessions. The body is optional.
func (h *SessionsHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var set service.SessionSettings
	if r.ContentLength != 0 {
		body, err := readBody(w, r)
		if err != nil {
			writeUpstreamError(w, err)
			return
		}
		if len(body) > 0 {
			if set, err = decodeSettings(body); err != nil {
				writeUpstreamError(w, err)
				return
			}
		}
	}
	info, err := h.deps.CreateSession(r.Context(), set)
	if err != nil {
		writeUpstreamError(w, err)
		return
	}
	h.log.Debug(r.Context(), "session created via http", logger.String("session_id", info.ID))
	w.Header().Set("Location", "/sessions/"+info.ID)
	writeJSON(w, http.StatusCreated, info)
}

type settingsRequest struct {
	DeviceTier *caret.DeviceTier `json:"device_tier"`
	// Thresholds is decoded by the schema-validating decoder.
	Thresholds json.RawMessage `json:"thresholds"`
}

func decodeSettings(body []byte) (service.SessionSettings, error) {
	var req settingsRequest
	if err := strictUnmarshal(body, &req); err != nil {
		return service.SessionSettings{}, err
	}
	set := service.SessionSettings{DeviceTier: req.DeviceTier}
	if len(req.Thresholds) > 0 {
		t, err := bridge.DecodeThresholds(req.Thresholds)
		if err != nil {
			return service.SessionSettings{}, err
		}
		set.Thresholds = &t
	}
	return set, nil
}

// HandleGet handles GET /sessions/{id}.
func (h *SessionsHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	info, err := h.deps.Session(r.Context(), r.PathValue("id"))
	if err != nil {
		writeUpstreamError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// HandleClose handles DELETE /sessions/{id}.
func (h *SessionsHandler) HandleClose(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.CloseSession(r.Context(), r.PathValue("id")); err != nil {
		writeUpstreamError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleState handles GET /sessions/{id}/state.
func (h *SessionsHandler) HandleState(w http.ResponseWriter, r *http.Request) {
	st, err := h.deps.State(r.Context(), r.PathValue("id"))
	if err != nil {
		writeUpstreamError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// HandleStats handles GET /sessions/{id}/stats.
func (h *SessionsHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	st, err := h.deps.Stats(r.Context(), r.PathValue("id"))
	if err != nil {
		writeUpstreamError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// HandleSnapshots handles GET /sessions/{id}/snapshots, which drains.
func (h *SessionsHandler) HandleSnapshots(w http.ResponseWriter, r *http.Request) {
	snaps, err := h.deps.Snapshots(r.Context(), r.PathValue("id"))
	if err != nil {
		writeUpstreamError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snaps)
}

// HandleJournal handles GET /sessions/{id}/journal?limit=N.
func (h *SessionsHandler) HandleJournal(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("%w: invalid limit %q", ErrBadRequest, v))
			return
		}
		limit = n
	}
	entries, err := h.deps.Journal(r.Context(), r.PathValue("id"), limit)
	if err != nil {
		writeUpstreamError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// HandleGate handles GET /sessions/{id}/gate.
func (h *SessionsHandler) HandleGate(w http.ResponseWriter, r *http.Request) {
	d, err := h.deps.Gate(r.Context(), r.PathValue("id"))
	if err != nil {
		writeUpstreamError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// HandleGetThresholds handles GET /sessions/{id}/thresholds.
func (h *SessionsHandler) HandleGetThresholds(w http.ResponseWriter, r *http.Request) {
	t, err := h.deps.Thresholds(r.Context(), r.PathValue("id"))
	if err != nil {
		writeUpstreamError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// HandlePutThresholds handles PUT /sessions/{id}/thresholds. The body must
// carry every threshold.
func (h *SessionsHandler) HandlePutThresholds(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		writeUpstreamError(w, err)
		return
	}
	t, err := bridge.DecodeThresholds(body)
	if err != nil {
		writeUpstreamError(w, err)
		return
	}
	if err := h.deps.SetThresholds(r.Context(), r.PathValue("id"), t); err != nil {
		writeUpstreamError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

type deviceTierRequest struct {
	DeviceTier caret.DeviceTier `json:"device_tier"`
}

// HandlePutDeviceTier handles PUT /sessions/{id}/device-tier.
func (h *SessionsHandler) HandlePutDeviceTier(w http.ResponseWriter, r *http.Request) {
	var req deviceTierRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeUpstreamError(w, err)
		return
	}
	if err := h.deps.SetDeviceTier(r.Context(), r.PathValue("id"), req.DeviceTier); err != nil {
		writeUpstreamError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// HandlePutRegion handles PUT /sessions/{id}/region.
func (h *SessionsHandler) HandlePutRegion(w http.ResponseWriter, r *http.Request) {
	var region caret.Region
	if err := decodeBody(w, r, &region); err != nil {
		writeUpstreamError(w, err)
		return
	}
	if err := h.deps.SetRegion(r.Context(), r.PathValue("id"), &region); err != nil {
		writeUpstreamError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, region)
}

// HandleDeleteRegion handles DELETE /sessions/{id}/region.
func (h *SessionsHandler) HandleDeleteRegion(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.SetRegion(r.Context(), r.PathValue("id"), nil); err != nil {
		writeUpstreamError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func strictUnmarshal(body []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %w", ErrBadRequest, err)
	}
	return nil
}
