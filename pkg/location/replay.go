package location

import (
	"context"
	"sync"
	"time"

	"milepost/pkg/config"
	"milepost/pkg/geo"
	"milepost/pkg/model"
)

// segment is one leg of the scripted drive.
type segment struct {
	SpeedMph float64
	Heading  float64
	Duration time.Duration
}

// defaultScenario is a commute-shaped loop: parked, surface streets with a
// long light, a faster stretch, then parked again. It exercises the full
// start/continue/stop hysteresis when replayed at 1 Hz.
var defaultScenario = []segment{
	{SpeedMph: 0, Heading: 0, Duration: 60 * time.Second},
	{SpeedMph: 15, Heading: 90, Duration: 90 * time.Second},
	{SpeedMph: 0, Heading: 90, Duration: 45 * time.Second}, // red light
	{SpeedMph: 30, Heading: 90, Duration: 3 * time.Minute},
	{SpeedMph: 12, Heading: 180, Duration: 60 * time.Second},
	{SpeedMph: 0, Heading: 180, Duration: 10 * time.Minute}, // parked at destination
}

// ReplaySource generates fixes by walking a scripted scenario from a start
// coordinate. It stands in for a real GPS feed in development and tests.
type ReplaySource struct {
	interval time.Duration
	scenario []segment

	mu         sync.Mutex
	pos        geo.Point
	segIdx     int
	segElapsed time.Duration

	samples chan model.LocationSample
	errs    chan error
	stopCh  chan struct{}
	wg      sync.WaitGroup
	started bool
}

// NewReplaySource creates a replay source from config, using the built-in
// scenario.
func NewReplaySource(cfg *config.ReplayConfig) *ReplaySource {
	return &ReplaySource{
		interval: cfg.Interval.Std(),
		scenario: defaultScenario,
		pos:      geo.Point{Lat: cfg.StartLat, Lon: cfg.StartLon},
		samples:  make(chan model.LocationSample, 16),
		errs:     make(chan error, 1),
		stopCh:   make(chan struct{}),
	}
}

func (r *ReplaySource) Samples() <-chan model.LocationSample { return r.samples }
func (r *ReplaySource) Errors() <-chan error                 { return r.errs }

// Start launches the replay loop. The scenario repeats until Close.
func (r *ReplaySource) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return nil
	}
	r.started = true
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-r.stopCh:
				return
			case <-ticker.C:
				s := r.step(r.interval, time.Now())
				select {
				case r.samples <- s:
				default:
					// Consumer stalled; drop rather than block the clock.
				}
			}
		}
	}()
	return nil
}

// step advances the scenario by dt and returns the resulting fix.
func (r *ReplaySource) step(dt time.Duration, now time.Time) model.LocationSample {
	r.mu.Lock()
	defer r.mu.Unlock()

	seg := r.scenario[r.segIdx]
	if seg.SpeedMph > 0 {
		miles := seg.SpeedMph * dt.Hours()
		r.pos = geo.Destination(r.pos, miles, seg.Heading)
	}

	r.segElapsed += dt
	if r.segElapsed >= seg.Duration {
		r.segIdx = (r.segIdx + 1) % len(r.scenario)
		r.segElapsed = 0
	}

	speed := seg.SpeedMph
	return model.LocationSample{
		Latitude:  r.pos.Lat,
		Longitude: r.pos.Lon,
		SpeedMph:  &speed,
		Timestamp: now,
	}
}

func (r *ReplaySource) Close() error {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()

	select {
	case <-r.stopCh:
	default:
		close(r.stopCh)
	}
	r.wg.Wait()
	return nil
}
