package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"chartcore/internal/chart"
	"chartcore/internal/model"
)

type handlers struct {
	Deps
}

type overlayLine struct {
	Name  string                `json:"name"`
	Lines map[string][]*float64 `json:"lines"`
}

// GET /api/v1/overlays
func (h *handlers) overlays(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	if h.Overlays == nil {
		writeError(w, http.StatusServiceUnavailable, "overlays not configured")
		return
	}
	latest, at := h.Overlays.Latest()
	out := make([]overlayLine, len(latest))
	for i, ov := range latest {
		lines := make(map[string][]*float64, len(ov.Lines))
		for name, s := range ov.Lines {
			lines[name] = s.Floats()
		}
		out[i] = overlayLine{Name: ov.Name, Lines: lines}
	}
	var ts *time.Time
	if !at.IsZero() {
		ts = &at
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"symbol":      h.Symbol,
		"computed_at": ts,
		"overlays":    out,
	})
}

// GET|POST /api/v1/alerts
func (h *handlers) alerts(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, h.Book.Alerts())
	case http.MethodPost:
		var a model.Alert
		if err := json.NewDecoder(r.Body).Decode(&a); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
		a.Triggers, a.LastTriggeredAt = 0, nil
		stored, err := h.Book.AddAlert(a)
		if err != nil {
			writeErr(w, err)
			return
		}
		if err := h.Store.SaveAlert(r.Context(), h.Symbol, stored); err != nil {
			h.Book.RemoveAlert(stored.ID)
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, stored)
	default:
		methodNotAllowed(w)
	}
}

// /api/v1/alerts/{id}[/snooze|/enable|/disable|/reset|/events]
func (h *handlers) alert(w http.ResponseWriter, r *http.Request) {
	id, action := splitPath(r.URL.Path, "/api/v1/alerts/")
	if id == "" {
		writeError(w, http.StatusNotFound, "missing alert id")
		return
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		a, ok := h.Book.Alert(id)
		if !ok {
			writeError(w, http.StatusNotFound, "alert not found")
			return
		}
		writeJSON(w, http.StatusOK, a)
		return

	case action == "" && r.Method == http.MethodPut:
		var a model.Alert
		if err := json.NewDecoder(r.Body).Decode(&a); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
		a.ID = id
		if err := h.Book.UpdateAlert(a); err != nil {
			writeErr(w, err)
			return
		}

	case action == "" && r.Method == http.MethodDelete:
		if !h.Book.RemoveAlert(id) {
			writeError(w, http.StatusNotFound, "alert not found")
			return
		}
		if err := h.Store.DeleteAlert(r.Context(), h.Symbol, id); err != nil {
			writeErr(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
		return

	case action == "events" && r.Method == http.MethodGet:
		events, err := h.Store.EventsForAlert(r.Context(), h.Symbol, id)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, nonNil(events))
		return

	case action == "snooze" && r.Method == http.MethodPost:
		until, err := snoozeUntil(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := h.Book.Snooze(id, until); err != nil {
			writeErr(w, err)
			return
		}

	case (action == "enable" || action == "disable") && r.Method == http.MethodPost:
		if err := h.Book.SetEnabled(id, action == "enable"); err != nil {
			writeErr(w, err)
			return
		}

	case action == "reset" && r.Method == http.MethodPost:
		if err := h.Book.Reset(id); err != nil {
			writeErr(w, err)
			return
		}
		if err := h.Store.UpdateAlertTriggers(r.Context(), h.Symbol, id, 0, nil); err != nil {
			writeErr(w, err)
			return
		}

	default:
		methodNotAllowed(w)
		return
	}

	// Every mutation above persists the updated definition. Counters are
	// owned by the journal (and reset above).
	a, ok := h.Book.Alert(id)
	if !ok {
		writeError(w, http.StatusNotFound, "alert not found")
		return
	}
	if err := h.Store.SaveAlertDefinition(r.Context(), h.Symbol, a); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// snoozeUntil reads {"until": RFC3339} or {"for": "15m"}. An empty body
// clears the snooze.
func snoozeUntil(r *http.Request) (time.Time, error) {
	var req struct {
		Until *time.Time `json:"until"`
		For   string     `json:"for"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return time.Time{}, fmt.Errorf("invalid JSON")
		}
	}
	switch {
	case req.Until != nil:
		return *req.Until, nil
	case req.For != "":
		d, err := time.ParseDuration(req.For)
		if err != nil || d <= 0 {
			return time.Time{}, fmt.Errorf("invalid snooze duration %q", req.For)
		}
		return time.Now().Add(d), nil
	}
	return time.Time{}, nil
}

// GET|POST /api/v1/drawings
func (h *handlers) drawings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, nonNil(h.Book.Drawings()))
	case http.MethodPost, http.MethodPut:
		var d model.Drawing
		if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := h.Store.SaveDrawing(r.Context(), h.Symbol, d); err != nil {
			writeErr(w, err)
			return
		}
		if err := h.Book.UpsertDrawing(d); err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, d)
	default:
		methodNotAllowed(w)
	}
}

// GET|DELETE /api/v1/drawings/{id}
func (h *handlers) drawing(w http.ResponseWriter, r *http.Request) {
	id, _ := splitPath(r.URL.Path, "/api/v1/drawings/")
	switch r.Method {
	case http.MethodGet:
		d, ok := h.Book.Drawing(id)
		if !ok {
			writeError(w, http.StatusNotFound, "drawing not found")
			return
		}
		writeJSON(w, http.StatusOK, d)
	case http.MethodDelete:
		if _, ok := h.Book.Drawing(id); !ok {
			writeError(w, http.StatusNotFound, "drawing not found")
			return
		}
		if err := h.Store.DeleteDrawing(r.Context(), h.Symbol, id); err != nil {
			writeErr(w, err)
			return
		}
		removed := h.Book.RemoveDrawing(id)
		writeJSON(w, http.StatusOK, map[string]interface{}{"removed_alerts": nonNil(removed)})
	default:
		methodNotAllowed(w)
	}
}

// GET /api/v1/events?limit=N
func (h *handlers) events(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	limit := 100
	if s := r.URL.Query().Get("limit"); s != "" {
		if l, err := strconv.Atoi(s); err == nil && l > 0 && l <= 1000 {
			limit = l
		}
	}
	events, err := h.Store.RecentEvents(r.Context(), h.Symbol, limit)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(events))
}

// GET /api/v1/snap?x=&y=&grid=&bar_tol=&price_tol=
func (h *handlers) snap(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	if h.Mapper == nil {
		writeError(w, http.StatusServiceUnavailable, "chart not attached")
		return
	}
	q := r.URL.Query()
	x, errX := strconv.ParseFloat(q.Get("x"), 64)
	y, errY := strconv.ParseFloat(q.Get("y"), 64)
	if errX != nil || errY != nil {
		writeError(w, http.StatusBadRequest, "x and y are required numbers")
		return
	}
	opts := chart.SnapOptions{
		BarTolerance:   queryFloat(q.Get("bar_tol")),
		PriceTolerance: queryFloat(q.Get("price_tol")),
	}
	if step := queryFloat(q.Get("grid")); step > 0 {
		opts.Grid, opts.GridStep = true, step
	}
	p := h.Mapper.SnapPoint(model.Point{X: x, Y: y}, opts)

	resp := map[string]interface{}{"x": p.X, "y": p.Y}
	if price, ok := h.Mapper.YToPrice(p.Y); ok {
		resp["price"] = price
	}
	if t, ok := h.Mapper.XToTime(p.X); ok {
		resp["time"] = t
	}
	writeJSON(w, http.StatusOK, resp)
}

func queryFloat(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

// splitPath returns the id and optional action after prefix.
func splitPath(path, prefix string) (id, action string) {
	rest := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	id, action, _ = strings.Cut(rest, "/")
	return id, action
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
