package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"milepost/pkg/config"
	"milepost/pkg/engine"
	"milepost/pkg/model"
	"milepost/pkg/trip"
)

// --- test fakes ---

type stubSource struct {
	samples chan model.LocationSample
	errs    chan error
	once    sync.Once
}

func newStubSource() *stubSource {
	return &stubSource{samples: make(chan model.LocationSample, 16), errs: make(chan error, 4)}
}

func (s *stubSource) Start(ctx context.Context) error      { return nil }
func (s *stubSource) Samples() <-chan model.LocationSample { return s.samples }
func (s *stubSource) Errors() <-chan error                 { return s.errs }

func (s *stubSource) Close() error {
	s.once.Do(func() { close(s.samples) })
	return nil
}

type memBackend struct {
	mu    sync.Mutex
	state map[string]string
	trip  *model.ActiveTrip
	log   []*model.Trip
}

func newMemBackend() *memBackend { return &memBackend{state: make(map[string]string)} }

func (m *memBackend) GetState(ctx context.Context, key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.state[key]
	return v, ok
}

func (m *memBackend) SetState(ctx context.Context, key, val string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state[key] = val
	return nil
}

func (m *memBackend) DeleteState(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.state, key)
	return nil
}

func (m *memBackend) LoadActiveTrip(ctx context.Context) (*model.ActiveTrip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.trip, nil
}

func (m *memBackend) SaveActiveTrip(ctx context.Context, t *model.ActiveTrip) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *t
	m.trip = &c
	return nil
}

func (m *memBackend) ClearActiveTrip(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trip = nil
	return nil
}

func (m *memBackend) InsertTrip(ctx context.Context, t *model.Trip) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.log = append(m.log, t)
	return nil
}

func (m *memBackend) ListTrips(ctx context.Context, limit int) ([]*model.Trip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit > 0 && limit < len(m.log) {
		return m.log[:limit], nil
	}
	return m.log, nil
}

func (m *memBackend) GetTrip(ctx context.Context, id string) (*model.Trip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.log {
		if t.ID == id {
			return t, nil
		}
	}
	return nil, nil
}

type stubGeocoder struct{}

func (stubGeocoder) Reverse(ctx context.Context, lat, lon float64) (string, error) {
	return "Stub Address", nil
}

func newTestServer(t *testing.T) (*httptest.Server, *trip.Service, *memBackend) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Ticker.DurationTick = config.Duration(time.Hour)

	backend := newMemBackend()
	svc := trip.NewService(backend, backend, &cfg.Trip)
	eng := engine.New(cfg, svc, backend, newStubSource(), stubGeocoder{})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := eng.Start(ctx); err != nil {
		t.Fatalf("engine Start: %v", err)
	}
	t.Cleanup(func() { eng.Close() })

	httpSrv := NewServer("localhost:0",
		NewTripHandler(eng, svc),
		NewStatusHandler(eng, svc),
		NewTripLogHandler(backend),
		NewStreamHandler(svc),
		func() {},
	)
	srv := httptest.NewServer(httpSrv.Handler)
	t.Cleanup(srv.Close)
	return srv, svc, backend
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

// --- tests ---

func TestHealth(t *testing.T) {
	srv, _, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestTripLifecycle(t *testing.T) {
	srv, _, backend := newTestServer(t)

	// No trip yet.
	resp, _ := http.Get(srv.URL + "/api/trip")
	var got *model.ActiveTrip
	json.NewDecoder(resp.Body).Decode(&got)
	resp.Body.Close()
	if got != nil {
		t.Fatalf("initial trip = %+v, want null", got)
	}

	// Ending with no trip is a conflict.
	resp = postJSON(t, srv.URL+"/api/trip/end", "")
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("end with no trip: status = %d, want 409", resp.StatusCode)
	}
	resp.Body.Close()

	// Manual start.
	resp = postJSON(t, srv.URL+"/api/trip/start", "")
	json.NewDecoder(resp.Body).Decode(&got)
	resp.Body.Close()
	if got == nil || got.Category != model.CategoryBusiness {
		t.Fatalf("started trip = %+v", got)
	}

	// Edit category and notes.
	resp = postJSON(t, srv.URL+"/api/trip/category", `{"category":"Medical"}`)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("category: status = %d", resp.StatusCode)
	}
	resp.Body.Close()
	resp = postJSON(t, srv.URL+"/api/trip/notes", `{"notes":"pharmacy run"}`)
	resp.Body.Close()

	resp, _ = http.Get(srv.URL + "/api/trip")
	json.NewDecoder(resp.Body).Decode(&got)
	resp.Body.Close()
	if got.Category != model.CategoryMedical || got.Notes != "pharmacy run" {
		t.Errorf("after edits: %+v", got)
	}

	// End and verify it reached the log.
	resp = postJSON(t, srv.URL+"/api/trip/end", "")
	var final model.Trip
	json.NewDecoder(resp.Body).Decode(&final)
	resp.Body.Close()
	if final.ID == "" || final.Category != model.CategoryMedical {
		t.Errorf("final trip = %+v", final)
	}
	if len(backend.log) != 1 {
		t.Errorf("trip log entries = %d", len(backend.log))
	}
}

func TestCategoryValidation(t *testing.T) {
	srv, _, _ := newTestServer(t)
	postJSON(t, srv.URL+"/api/trip/start", "").Body.Close()

	resp := postJSON(t, srv.URL+"/api/trip/category", `{"category":"Commute"}`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("unknown category: status = %d, want 400", resp.StatusCode)
	}
}

func TestDiscard(t *testing.T) {
	srv, svc, backend := newTestServer(t)
	postJSON(t, srv.URL+"/api/trip/start", "").Body.Close()

	resp := postJSON(t, srv.URL+"/api/trip/discard", "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("discard: status = %d, want 204", resp.StatusCode)
	}
	if svc.Active() {
		t.Error("trip still active after discard")
	}
	if len(backend.log) != 0 {
		t.Error("discarded trip reached the log")
	}
}

func TestStatusAndTrackingToggle(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/status")
	if err != nil {
		t.Fatalf("GET /api/status: %v", err)
	}
	var st StatusResponse
	json.NewDecoder(resp.Body).Decode(&st)
	resp.Body.Close()
	if !st.Enabled || st.TripActive {
		t.Errorf("initial status = %+v", st)
	}

	resp = postJSON(t, srv.URL+"/api/tracking", `{"enabled":false}`)
	resp.Body.Close()

	resp, _ = http.Get(srv.URL + "/api/status")
	json.NewDecoder(resp.Body).Decode(&st)
	resp.Body.Close()
	if st.Enabled {
		t.Error("tracking still enabled after toggle")
	}
}

func TestTripLogEndpoints(t *testing.T) {
	srv, _, backend := newTestServer(t)
	backend.InsertTrip(context.Background(), &model.Trip{
		ID:            "abc",
		StartTime:     time.Now().Add(-time.Hour),
		EndTime:       time.Now(),
		DistanceMiles: 4.2,
		Category:      model.CategoryBusiness,
	})

	resp, _ := http.Get(srv.URL + "/api/trips")
	var trips []*model.Trip
	json.NewDecoder(resp.Body).Decode(&trips)
	resp.Body.Close()
	if len(trips) != 1 || trips[0].ID != "abc" {
		t.Errorf("trips = %+v", trips)
	}

	resp, _ = http.Get(srv.URL + "/api/trips/abc")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("get by id: status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp, _ = http.Get(srv.URL + "/api/trips/nope")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing id: status = %d, want 404", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestStreamDeliversSnapshots(t *testing.T) {
	srv, _, _ := newTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/trip/stream"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Connect frame: no trip.
	var frame streamFrame
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("read connect frame: %v", err)
	}
	if frame.Trip != nil {
		t.Errorf("connect frame trip = %+v, want null", frame.Trip)
	}

	// Start a trip; a new frame arrives.
	postJSON(t, srv.URL+"/api/trip/start", "").Body.Close()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("read start frame: %v", err)
	}
	if frame.Trip == nil {
		t.Error("start frame has no trip")
	}
}
