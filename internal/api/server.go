package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"milepost/pkg/version"
)

// NewServer creates and configures the HTTP server.
func NewServer(addr string, tripH *TripHandler, statusH *StatusHandler, logH *TripLogHandler, streamH *StreamHandler, shutdown func()) *http.Server {
	mux := http.NewServeMux()

	// 1. Health Endpoint
	mux.HandleFunc("GET /health", handleHealth)

	// 2. Status Endpoint
	mux.HandleFunc("GET /api/status", statusH.HandleStatus)

	// 2b. Version Endpoint
	mux.HandleFunc("GET /api/version", handleVersion)

	// 3. Active Trip Endpoints
	mux.HandleFunc("GET /api/trip", tripH.HandleGet)
	mux.HandleFunc("POST /api/trip/start", tripH.HandleStart)
	mux.HandleFunc("POST /api/trip/end", tripH.HandleEnd)
	mux.HandleFunc("POST /api/trip/discard", tripH.HandleDiscard)
	mux.HandleFunc("POST /api/trip/category", tripH.HandleCategory)
	mux.HandleFunc("POST /api/trip/notes", tripH.HandleNotes)

	// 3b. Logs Endpoint
	mux.HandleFunc("GET /api/log/latest", handleLatestLog)

	// 4. Auto-Tracking Toggle
	mux.HandleFunc("POST /api/tracking", statusH.HandleTracking)

	// 5. Trip Log Endpoints
	mux.HandleFunc("GET /api/trips", logH.HandleList)
	mux.HandleFunc("GET /api/trips/{id}", logH.HandleGet)

	// 6. Live Stream
	if streamH != nil {
		mux.HandleFunc("GET /api/trip/stream", streamH.HandleStream)
	}

	// 7. Shutdown Endpoint
	mux.HandleFunc("POST /api/shutdown", func(w http.ResponseWriter, r *http.Request) {
		slog.Info("Graceful shutdown initiated via API")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("Shutting down...")); err != nil {
			slog.Error("Failed to write shutdown response", "error", err)
		}
		// Let the response flush before tearing the listener down.
		go func() {
			time.Sleep(100 * time.Millisecond)
			shutdown()
		}()
	})

	return &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("OK")); err != nil {
		slog.Error("Failed to write health response", "error", err)
	}
}

func handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if _, err := fmt.Fprintf(w, `{"version": "%s"}`, version.Version); err != nil {
		slog.Error("Failed to write version response", "error", err)
	}
}
