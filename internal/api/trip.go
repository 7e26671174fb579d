package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"milepost/pkg/engine"
	"milepost/pkg/model"
	"milepost/pkg/trip"
)

// TripHandler exposes the active trip and its lifecycle operations. All
// mutations route through the engine so they stay ordered with detection.
type TripHandler struct {
	engine *engine.Engine
	trips  *trip.Service
}

// NewTripHandler creates a new TripHandler.
func NewTripHandler(e *engine.Engine, t *trip.Service) *TripHandler {
	return &TripHandler{engine: e, trips: t}
}

// HandleGet returns the active trip, or null when none exists.
// GET /api/trip
func (h *TripHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.trips.Get())
}

// HandleStart opens a trip manually.
// POST /api/trip/start
func (h *TripHandler) HandleStart(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.StartManualTrip(r.Context()); err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, h.trips.Get())
}

// HandleEnd finalizes the active trip and returns the logged record.
// POST /api/trip/end
func (h *TripHandler) HandleEnd(w http.ResponseWriter, r *http.Request) {
	final, err := h.engine.EndTrip(r.Context())
	if err != nil {
		if errors.Is(err, trip.ErrNoActiveTrip) {
			http.Error(w, "no active trip", http.StatusConflict)
			return
		}
		httpError(w, err)
		return
	}
	writeJSON(w, final)
}

// HandleDiscard drops the active trip without logging it.
// POST /api/trip/discard
func (h *TripHandler) HandleDiscard(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.DiscardTrip(r.Context()); err != nil {
		httpError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleCategory updates the active trip's category.
// POST /api/trip/category {"category": "Business"}
func (h *TripHandler) HandleCategory(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Category model.TripCategory `json:"category"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if !req.Category.Valid() {
		http.Error(w, "unknown category", http.StatusBadRequest)
		return
	}
	if err := h.engine.SetCategory(r.Context(), req.Category); err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, h.trips.Get())
}

// HandleNotes updates the active trip's notes.
// POST /api/trip/notes {"notes": "..."}
func (h *TripHandler) HandleNotes(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Notes string `json:"notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.engine.SetNotes(r.Context(), req.Notes); err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, h.trips.Get())
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func httpError(w http.ResponseWriter, err error) {
	slog.Error("API: request failed", "error", err)
	http.Error(w, err.Error(), http.StatusInternalServerError)
}
