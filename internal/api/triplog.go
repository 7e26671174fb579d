package api

import (
	"net/http"
	"strconv"

	"milepost/pkg/model"
	"milepost/pkg/store"
)

// TripLogHandler serves finalized trips.
type TripLogHandler struct {
	store store.TripLogStore
}

// NewTripLogHandler creates a new TripLogHandler.
func NewTripLogHandler(st store.TripLogStore) *TripLogHandler {
	return &TripLogHandler{store: st}
}

// HandleList returns finalized trips, newest first.
// GET /api/trips?limit=N
func (h *TripLogHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	trips, err := h.store.ListTrips(r.Context(), limit)
	if err != nil {
		httpError(w, err)
		return
	}
	if trips == nil {
		trips = []*model.Trip{}
	}
	writeJSON(w, trips)
}

// HandleGet returns a single finalized trip.
// GET /api/trips/{id}
func (h *TripLogHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	t, err := h.store.GetTrip(r.Context(), r.PathValue("id"))
	if err != nil {
		httpError(w, err)
		return
	}
	if t == nil {
		http.Error(w, "trip not found", http.StatusNotFound)
		return
	}
	writeJSON(w, t)
}
