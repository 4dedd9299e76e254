// Package api provides the HTTP API of the chart daemon: overlays, alerts,
// drawings, the event journal, point snapping and a live event stream.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"chartcore/internal/alert"
	"chartcore/internal/chart"
	"chartcore/internal/indicator"
	"chartcore/internal/model"
)

// Store persists the objects the API mutates and serves the event journal.
type Store interface {
	SaveDrawing(ctx context.Context, symbol string, d model.Drawing) error
	DeleteDrawing(ctx context.Context, symbol, id string) error
	SaveAlert(ctx context.Context, symbol string, a model.Alert) error
	// SaveAlertDefinition must not overwrite stored trigger counters.
	SaveAlertDefinition(ctx context.Context, symbol string, a model.Alert) error
	UpdateAlertTriggers(ctx context.Context, symbol, id string, triggers int, last *time.Time) error
	DeleteAlert(ctx context.Context, symbol, id string) error
	RecentEvents(ctx context.Context, symbol string, limit int) ([]model.AlertEvent, error)
	EventsForAlert(ctx context.Context, symbol, alertID string) ([]model.AlertEvent, error)
}

// OverlaySource returns the latest computed overlays.
type OverlaySource interface {
	Latest() ([]indicator.Overlay, time.Time)
}

// Deps are the collaborators behind the routes. Overlays, Mapper and
// Stream are optional; their routes answer 503 when unset.
type Deps struct {
	Symbol   string
	Book     *alert.Book
	Store    Store
	Overlays OverlaySource
	Mapper   *chart.Mapper
	Stream   *Hub
}

// SetCORS sets CORS headers for REST endpoints.
func SetCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}

// NewRouter sets up the HTTP routes.
func NewRouter(d Deps) *http.ServeMux {
	h := &handlers{Deps: d}
	mux := http.NewServeMux()

	mux.HandleFunc("/api/v1/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "symbol": d.Symbol})
	})
	mux.Handle("/api/v1/overlays", rest(h.overlays))
	mux.Handle("/api/v1/alerts", rest(h.alerts))
	mux.Handle("/api/v1/alerts/", rest(h.alert))
	mux.Handle("/api/v1/drawings", rest(h.drawings))
	mux.Handle("/api/v1/drawings/", rest(h.drawing))
	mux.Handle("/api/v1/events", rest(h.events))
	mux.Handle("/api/v1/snap", rest(h.snap))
	if d.Stream != nil {
		mux.Handle("/api/v1/stream", d.Stream)
	}
	return mux
}

// rest wraps a handler with CORS and preflight handling.
func rest(fn http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		fn(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("encode response failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeErr maps domain errors onto HTTP status codes.
func writeErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, alert.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, model.ErrInvalidParameter):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		slog.Error("api request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}
