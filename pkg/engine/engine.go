package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"milepost/pkg/config"
	"milepost/pkg/detect"
	"milepost/pkg/geo"
	"milepost/pkg/geocode"
	"milepost/pkg/location"
	"milepost/pkg/model"
	"milepost/pkg/store"
	"milepost/pkg/trip"
)

// autoTrackingKey is the persisted user preference for automatic detection.
const autoTrackingKey = "auto_tracking_enabled"

type eventKind int

const (
	evSample eventKind = iota
	evTick
	evError
	evEdit
)

// event is one unit of work for the engine loop. Samples, ticks, and user
// edits share a single ordered queue so every mutation of detector and trip
// state happens on one goroutine.
type event struct {
	kind   eventKind
	sample model.LocationSample
	err    error
	edit   func(ctx context.Context)
}

// Status is a point-in-time snapshot of the engine for the API layer.
type Status struct {
	Enabled       bool    `json:"enabled"`
	DetectorState string  `json:"detector_state"`
	IsDriving     bool    `json:"is_driving"`
	SmoothedMph   float64 `json:"smoothed_mph"`
	HasFix        bool    `json:"has_fix"`
}

// Engine runs trip detection over a location source and drives the trip
// service. All state transitions flow through its single event loop.
type Engine struct {
	cfg      *config.Config
	trips    *trip.Service
	states   store.StateStore
	source   location.Source
	geocoder geocode.Reverser

	events chan event
	stopCh chan struct{}
	wg     sync.WaitGroup

	// Detector state. Owned by the loop goroutine; the mutex guards only the
	// snapshot fields read by Snapshot and the listener list.
	estimator    *detect.SpeedEstimator
	movement     *detect.MovementTracker
	machine      *detect.StateMachine
	lastFix      *model.LocationSample
	lastSampleAt time.Time

	mu           sync.Mutex
	enabled      bool
	smoothed     float64
	drivingSubs  []func(bool)
	lastDriving  bool
	startedLoops bool
}

// New creates an engine. Call Start to begin processing.
func New(cfg *config.Config, trips *trip.Service, states store.StateStore, src location.Source, rev geocode.Reverser) *Engine {
	th := detect.ThresholdsFromConfig(cfg.Detect)
	return &Engine{
		cfg:       cfg,
		trips:     trips,
		states:    states,
		source:    src,
		geocoder:  rev,
		events:    make(chan event, 64),
		stopCh:    make(chan struct{}),
		estimator: detect.NewSpeedEstimator(th.SpeedWindowSize),
		movement:  detect.NewMovementTracker(th.MinMovementMiles),
		machine:   detect.NewStateMachine(th),
		enabled:   true,
	}
}

// Start restores the auto-tracking preference, starts the location source,
// and launches the event loop.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.startedLoops {
		e.mu.Unlock()
		return nil
	}
	e.startedLoops = true

	if v, ok := e.states.GetState(ctx, autoTrackingKey); ok {
		e.enabled = v != "false"
	}
	e.mu.Unlock()

	if err := e.source.Start(ctx); err != nil {
		return err
	}
	e.trips.StartTimer()

	e.wg.Add(2)
	go e.pump(ctx)
	go e.loop(ctx)
	slog.Info("Engine: started", "enabled", e.Enabled())
	return nil
}

// Close stops the loop and the location source.
func (e *Engine) Close() error {
	select {
	case <-e.stopCh:
	default:
		close(e.stopCh)
	}
	err := e.source.Close()
	e.trips.StopTimer()
	e.wg.Wait()
	return err
}

// pump forwards source output and the heartbeat into the event queue.
func (e *Engine) pump(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.tickInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stopCh:
			return
		case s, ok := <-e.source.Samples():
			if !ok {
				return
			}
			e.enqueue(event{kind: evSample, sample: s})
		case err, ok := <-e.source.Errors():
			if !ok {
				return
			}
			e.enqueue(event{kind: evError, err: err})
		case <-ticker.C:
			e.enqueue(event{kind: evTick})
		}
	}
}

func (e *Engine) enqueue(ev event) {
	select {
	case e.events <- ev:
	default:
		// Queue full: dropping a sample or tick is safe, the next one
		// carries fresher data. Errors and edits must not be lost, but a
		// stopped loop will never drain the queue, so give up on shutdown.
		if ev.kind == evError || ev.kind == evEdit {
			select {
			case e.events <- ev:
			case <-e.stopCh:
			}
		}
	}
}

// loop is the single writer for all detector and trip state.
func (e *Engine) loop(ctx context.Context) {
	defer e.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stopCh:
			return
		case ev := <-e.events:
			switch ev.kind {
			case evSample:
				e.handleSample(ctx, ev.sample)
			case evTick:
				e.handleTick(ctx)
			case evError:
				e.handleError(ctx, ev.err)
			case evEdit:
				ev.edit(ctx)
			}
			e.notifyDrivingChange()
		}
	}
}

func (e *Engine) handleSample(ctx context.Context, s model.LocationSample) {
	now := s.Timestamp
	if now.IsZero() {
		now = time.Now()
	}

	e.mu.Lock()
	enabled := e.enabled
	e.mu.Unlock()

	// While detection is disabled the estimator, movement tracker, and
	// machine stay in the state setEnabled just reset; re-enabling must
	// start from a clean slate, not from history seen while off.
	if enabled {
		speed := e.deriveSpeed(&s, now)
		smoothed := e.estimator.Add(speed)
		disp := e.movement.Observe(s, now)

		e.mu.Lock()
		e.smoothed = smoothed
		e.mu.Unlock()

		action := e.machine.Update(detect.Input{
			Sample:            s,
			SmoothedMph:       smoothed,
			DisplacementMiles: disp,
			MovedWithinWindow: e.movement.HasMovedWithin(e.cfg.Detect.MovementWindow.Std(), now),
			Now:               now,
		})
		if action == detect.ActionStartTrip {
			e.openDetectedTrip(ctx)
		}
	}

	fix := s
	e.lastFix = &fix
	e.lastSampleAt = time.Now()

	if e.trips.Active() {
		if err := e.trips.UpdateLocation(ctx, s); err != nil {
			slog.Error("Engine: failed to record location on trip", "error", err)
		}
	}
}

// deriveSpeed prefers the device-reported speed and falls back to the
// haversine distance over elapsed time between fixes. Sub-second gaps are
// clamped so a duplicate fix can't produce an absurd derived speed.
func (e *Engine) deriveSpeed(s *model.LocationSample, now time.Time) float64 {
	if s.SpeedMph != nil {
		return *s.SpeedMph
	}
	if e.lastFix == nil {
		return 0
	}
	dt := now.Sub(e.lastFix.Timestamp)
	if dt < 500*time.Millisecond {
		dt = 500 * time.Millisecond
	}
	miles := geo.DistanceMiles(
		geo.Point{Lat: e.lastFix.Latitude, Lon: e.lastFix.Longitude},
		geo.Point{Lat: s.Latitude, Lon: s.Longitude},
	)
	return miles / dt.Hours()
}

// openDetectedTrip creates the active trip at the detector's origin fix and
// kicks off the asynchronous start-address lookup.
func (e *Engine) openDetectedTrip(ctx context.Context) {
	origin := e.machine.Origin()
	slog.Info("Engine: trip detected", "lat", origin.Latitude, "lon", origin.Longitude, "at", origin.Timestamp)

	start := &model.ActiveTrip{
		StartTime:     origin.Timestamp,
		StartLocation: &origin,
		Notes:         "Auto-started",
	}
	if err := e.trips.Start(ctx, start); err != nil {
		slog.Error("Engine: failed to open detected trip", "error", err)
		return
	}

	// Resolve the address off the loop; the result re-enters as an edit so
	// the trip mutation stays ordered.
	go func() {
		addr, err := e.geocoder.Reverse(context.Background(), origin.Latitude, origin.Longitude)
		if err != nil {
			slog.Debug("Engine: start address lookup failed, using coordinates", "error", err)
		}
		_ = e.do(context.Background(), func(c context.Context) {
			if err := e.trips.SetStartAddress(c, addr); err != nil {
				slog.Error("Engine: failed to set start address", "error", err)
			}
		})
	}()
}

// handleTick re-evaluates time-based rules (stationary dwell) when no fresh
// fixes arrive. The last smoothed speed stands in for the missing sample.
// While samples are flowing the heartbeat stays out of the way: they already
// advance the clocks, and a tick must not count as an extra observation.
func (e *Engine) handleTick(_ context.Context) {
	e.mu.Lock()
	enabled := e.enabled
	smoothed := e.smoothed
	e.mu.Unlock()

	if !enabled || e.lastFix == nil || e.machine.State() != detect.StateDriving {
		return
	}
	if time.Since(e.lastSampleAt) < e.tickInterval() {
		return
	}

	now := time.Now()
	e.machine.Update(detect.Input{
		Sample:            *e.lastFix,
		SmoothedMph:       smoothed,
		MovedWithinWindow: e.movement.HasMovedWithin(e.cfg.Detect.MovementWindow.Std(), now),
		Heartbeat:         true,
		Now:               now,
	})
}

func (e *Engine) tickInterval() time.Duration {
	if d := e.cfg.Ticker.DurationTick.Std(); d > 0 {
		return d
	}
	return time.Second
}

// handleError applies the session policy: a permission denial ends detection
// until the user re-enables it, everything else is transient.
func (e *Engine) handleError(ctx context.Context, err error) {
	switch {
	case errors.Is(err, location.ErrPermissionDenied):
		slog.Error("Engine: location permission denied, disabling auto-tracking")
		e.setEnabled(ctx, false)
	case errors.Is(err, location.ErrPositionUnavailable), errors.Is(err, location.ErrTimeout):
		slog.Warn("Engine: transient location error", "error", err)
	default:
		slog.Warn("Engine: location source error", "error", err)
	}
}

// setEnabled flips detection on or off. Disabling discards all detector
// state; the persisted active trip is never touched.
func (e *Engine) setEnabled(ctx context.Context, enabled bool) {
	e.mu.Lock()
	changed := e.enabled != enabled
	e.enabled = enabled
	if !enabled {
		e.smoothed = 0
	}
	e.mu.Unlock()

	if !changed {
		return
	}
	if !enabled {
		e.estimator.Reset()
		e.movement.Reset()
		e.machine.Reset()
	}

	val := "true"
	if !enabled {
		val = "false"
	}
	if err := e.states.SetState(ctx, autoTrackingKey, val); err != nil {
		slog.Error("Engine: failed to persist auto-tracking preference", "error", err)
	}
	slog.Info("Engine: auto-tracking", "enabled", enabled)
}

// do enqueues fn as a user edit and waits for the loop to run it.
func (e *Engine) do(ctx context.Context, fn func(ctx context.Context)) error {
	done := make(chan struct{})
	ev := event{kind: evEdit, edit: func(c context.Context) {
		defer close(done)
		fn(c)
	}}
	select {
	case e.events <- ev:
	case <-ctx.Done():
		return ctx.Err()
	case <-e.stopCh:
		return errors.New("engine stopped")
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-e.stopCh:
		return errors.New("engine stopped")
	}
}

// --- User operations (routed through the event queue) ---

// SetAutoTracking enables or disables automatic detection.
func (e *Engine) SetAutoTracking(ctx context.Context, enabled bool) error {
	return e.do(ctx, func(c context.Context) {
		e.setEnabled(c, enabled)
	})
}

// StartManualTrip opens a trip immediately at the last known fix.
func (e *Engine) StartManualTrip(ctx context.Context) error {
	var opErr error
	err := e.do(ctx, func(c context.Context) {
		t := &model.ActiveTrip{StartTime: time.Now()}
		if e.lastFix != nil {
			fix := *e.lastFix
			t.StartLocation = &fix
		}
		opErr = e.trips.Start(c, t)
	})
	if err != nil {
		return err
	}
	return opErr
}

// EndTrip finalizes the active trip and resets the detector so the stop
// doesn't immediately re-trigger a start.
func (e *Engine) EndTrip(ctx context.Context) (*model.Trip, error) {
	var final *model.Trip
	var opErr error
	err := e.do(ctx, func(c context.Context) {
		final, opErr = e.trips.End(c)
		if opErr == nil {
			e.machine.EndTrip()
		}
	})
	if err != nil {
		return nil, err
	}
	return final, opErr
}

// DiscardTrip drops the active trip without logging it.
func (e *Engine) DiscardTrip(ctx context.Context) error {
	var opErr error
	err := e.do(ctx, func(c context.Context) {
		opErr = e.trips.Discard(c)
		if opErr == nil {
			e.machine.EndTrip()
		}
	})
	if err != nil {
		return err
	}
	return opErr
}

// SetCategory updates the active trip's category.
func (e *Engine) SetCategory(ctx context.Context, c model.TripCategory) error {
	var opErr error
	err := e.do(ctx, func(cc context.Context) {
		opErr = e.trips.UpdateCategory(cc, c)
	})
	if err != nil {
		return err
	}
	return opErr
}

// SetNotes updates the active trip's notes.
func (e *Engine) SetNotes(ctx context.Context, notes string) error {
	var opErr error
	err := e.do(ctx, func(c context.Context) {
		opErr = e.trips.UpdateNotes(c, notes)
	})
	if err != nil {
		return err
	}
	return opErr
}

// --- Observation ---

// Enabled reports whether automatic detection is on.
func (e *Engine) Enabled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.enabled
}

// Snapshot returns the current engine status.
func (e *Engine) Snapshot(ctx context.Context) (Status, error) {
	var st Status
	err := e.do(ctx, func(context.Context) {
		e.mu.Lock()
		st.Enabled = e.enabled
		st.SmoothedMph = e.smoothed
		e.mu.Unlock()
		st.DetectorState = e.machine.State().String()
		st.IsDriving = e.machine.IsDriving()
		st.HasFix = e.lastFix != nil
	})
	return st, err
}

// OnDrivingChange registers a callback invoked from the engine loop whenever
// the soft driving flag flips.
func (e *Engine) OnDrivingChange(fn func(driving bool)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.drivingSubs = append(e.drivingSubs, fn)
}

func (e *Engine) notifyDrivingChange() {
	driving := e.machine.IsDriving()

	e.mu.Lock()
	changed := driving != e.lastDriving
	e.lastDriving = driving
	subs := e.drivingSubs
	e.mu.Unlock()

	if !changed {
		return
	}
	slog.Info("Engine: driving state", "driving", driving)
	for _, fn := range subs {
		fn(driving)
	}
}
