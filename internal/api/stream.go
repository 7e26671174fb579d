package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"milepost/pkg/model"
	"milepost/pkg/trip"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Local-first app: the UI is served from the same process.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// streamFrame is one websocket message.
type streamFrame struct {
	Trip        *model.ActiveTrip `json:"trip"`
	DurationSec float64           `json:"duration_sec"`
}

// StreamHandler pushes active-trip snapshots over a websocket. Each client
// gets the current state on connect, then one frame per mutation and per
// duration tick.
type StreamHandler struct {
	trips *trip.Service
}

// NewStreamHandler creates a new StreamHandler.
func NewStreamHandler(t *trip.Service) *StreamHandler {
	return &StreamHandler{trips: t}
}

// HandleStream upgrades the connection and streams until the client leaves.
// GET /api/trip/stream
func (h *StreamHandler) HandleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("Stream: upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	updates, cancel := h.trips.Subscribe()
	defer cancel()

	// Reader goroutine: we never expect client messages, but reading is
	// required to notice a close.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case t, ok := <-updates:
			if !ok {
				return
			}
			frame := streamFrame{Trip: t}
			if t != nil {
				frame.DurationSec = t.Duration(time.Now()).Seconds()
			}
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(frame); err != nil {
				slog.Debug("Stream: client write failed", "error", err)
				return
			}
		}
	}
}
