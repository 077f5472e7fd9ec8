// Package api serves the HTTP control API: monitor status, starting and
// stopping sessions, and recent events.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	kidwatch "github.com/kidwatch/kidwatch-go"
	"github.com/kidwatch/kidwatch-go/sink"
)

// Controller runs monitoring sessions, eg a *kidwatch.Monitor.
type Controller interface {
	Start(mode kidwatch.Mode, credential string) error
	Stop()
	Status() kidwatch.Status
}

// EventLister reads back recorded events, eg a sqlite store.
type EventLister interface {
	List(ctx context.Context, limit int) ([]kidwatch.EventRecord, error)
}

// Options configure the router.
type Options struct {
	Controller Controller

	// Credential returns the configured API key for new sessions.
	Credential func() string

	// Optional. Without it, GET /events responds with 404.
	Events EventLister

	// Optional, reported by GET /health.
	SinkStats func() sink.Stats

	Logger *slog.Logger
}

// NewRouter creates the Chi router with all routes and middleware.
func NewRouter(opts Options) *chi.Mux {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	credential := opts.Credential
	if credential == nil {
		credential = func() string { return "" }
	}

	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(Logger(logger))
	r.Use(Recovery(logger))

	monitorH := &MonitorHandler{ctl: opts.Controller, credential: credential, sinkStats: opts.SinkStats}
	eventH := &EventHandler{events: opts.Events}

	r.Get("/health", monitorH.Health)
	r.Get("/status", monitorH.Status)
	r.Route("/session", func(r chi.Router) {
		r.Post("/", monitorH.Start)
		r.Delete("/", monitorH.Stop)
	})
	r.Get("/events", eventH.List)

	return r
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
