package api

import (
	"errors"
	"net/http"
	"strconv"

	kidwatch "github.com/kidwatch/kidwatch-go"
	"github.com/kidwatch/kidwatch-go/sink"
)

// MonitorHandler handles status and session requests.
type MonitorHandler struct {
	ctl        Controller
	credential func() string
	sinkStats  func() sink.Stats
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status string         `json:"status"`
	State  kidwatch.State `json:"state"`
	Sink   *sink.Stats    `json:"sink,omitempty"`
}

// StartRequest is the body of POST /session.
type StartRequest struct {
	Mode string `json:"mode"`
}

// Health handles GET /health
func (h *MonitorHandler) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status: "ok",
		State:  h.ctl.Status().State,
	}
	if h.sinkStats != nil {
		stats := h.sinkStats()
		resp.Sink = &stats
	}
	writeJSON(w, http.StatusOK, resp)
}

// Status handles GET /status
func (h *MonitorHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.ctl.Status())
}

// Start handles POST /session
func (h *MonitorHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	mode, err := kidwatch.ParseMode(req.Mode)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	err = h.ctl.Start(mode, h.credential())
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, h.ctl.Status())
	case errors.Is(err, kidwatch.ErrMissingCredential):
		writeError(w, http.StatusPreconditionFailed, "no api key configured, set GEMINI_API_KEY")
	case errors.Is(err, kidwatch.ErrSessionActive):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, kidwatch.ErrInvalidMode):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// Stop handles DELETE /session
func (h *MonitorHandler) Stop(w http.ResponseWriter, r *http.Request) {
	h.ctl.Stop()
	writeJSON(w, http.StatusOK, h.ctl.Status())
}

// EventHandler handles event log requests.
type EventHandler struct {
	events EventLister
}

// List handles GET /events
func (h *EventHandler) List(w http.ResponseWriter, r *http.Request) {
	if h.events == nil {
		writeError(w, http.StatusNotFound, "event log not configured")
		return
	}
	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 || n > 1000 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		limit = n
	}
	events, err := h.events.List(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list events: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, events)
}
