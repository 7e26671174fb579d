package api

import (
	"encoding/json"
	"net/http"
	"time"

	"milepost/pkg/engine"
	"milepost/pkg/trip"
)

// StatusResponse is the combined engine and trip snapshot for the UI.
type StatusResponse struct {
	engine.Status
	TripActive      bool    `json:"trip_active"`
	TripDurationSec float64 `json:"trip_duration_sec"`
	TripMiles       float64 `json:"trip_miles"`
}

// StatusHandler exposes engine status and the auto-tracking toggle.
type StatusHandler struct {
	engine *engine.Engine
	trips  *trip.Service
}

// NewStatusHandler creates a new StatusHandler.
func NewStatusHandler(e *engine.Engine, t *trip.Service) *StatusHandler {
	return &StatusHandler{engine: e, trips: t}
}

// HandleStatus returns the current snapshot.
// GET /api/status
func (h *StatusHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.engine.Snapshot(r.Context())
	if err != nil {
		httpError(w, err)
		return
	}

	resp := StatusResponse{Status: st}
	if t := h.trips.Get(); t != nil {
		resp.TripActive = true
		resp.TripDurationSec = t.Duration(time.Now()).Seconds()
		resp.TripMiles = t.DistanceMiles
	}
	writeJSON(w, resp)
}

// HandleTracking enables or disables automatic detection.
// POST /api/tracking {"enabled": true}
func (h *StatusHandler) HandleTracking(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.engine.SetAutoTracking(r.Context(), req.Enabled); err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, map[string]bool{"enabled": req.Enabled})
}
