package detect

import (
	"time"

	"milepost/pkg/config"
	"milepost/pkg/model"
)

// State is the detector's driving state. It lives in memory only and is lost
// on process restart; the persisted active trip survives independently.
type State int

const (
	// StateNotDriving means no vehicle movement has been detected.
	StateNotDriving State = iota
	// StateStartCandidate means speed crossed the start threshold and the
	// start dwell timer is running.
	StateStartCandidate
	// StateDriving means a trip is in progress.
	StateDriving
)

func (s State) String() string {
	switch s {
	case StateNotDriving:
		return "not_driving"
	case StateStartCandidate:
		return "start_candidate"
	case StateDriving:
		return "driving"
	}
	return "unknown"
}

// Action is a side effect requested by a state transition.
type Action int

const (
	// ActionNone requests nothing.
	ActionNone Action = iota
	// ActionStartTrip requests that a trip be opened at the machine's Origin.
	ActionStartTrip
)

// Thresholds holds the hysteresis tuning for the state machine. The start
// criterion is deliberately stricter than the continuation criterion: a
// shared threshold would either start trips on pedestrian movement or end
// them in stop-and-go traffic.
type Thresholds struct {
	StartSpeedMph         float64
	MinStartDwell         time.Duration
	ContinueSpeedMph      float64
	MovementWindow        time.Duration
	MaxStationarySpeedMph float64
	MinStopDwell          time.Duration
	MinMovementMiles      float64
	RecentSpeedFloorMph   float64
	SpeedWindowSize       int
}

// DefaultThresholds returns the shipping detection tuning.
func DefaultThresholds() Thresholds {
	return ThresholdsFromConfig(config.DefaultConfig().Detect)
}

// ThresholdsFromConfig converts the config section into Thresholds.
func ThresholdsFromConfig(c config.DetectConfig) Thresholds {
	return Thresholds{
		StartSpeedMph:         c.StartSpeedMph,
		MinStartDwell:         c.MinStartDwell.Std(),
		ContinueSpeedMph:      c.ContinueSpeedMph,
		MovementWindow:        c.MovementWindow.Std(),
		MaxStationarySpeedMph: c.MaxStationarySpeedMph,
		MinStopDwell:          c.MinStopDwell.Std(),
		MinMovementMiles:      c.MinMovementMiles,
		RecentSpeedFloorMph:   c.RecentSpeedFloorMph,
		SpeedWindowSize:       c.SpeedWindowSize,
	}
}

// Input carries one observation into the state machine. A heartbeat input
// re-evaluates the time-based rules against the clock without counting as a
// new speed observation: the lookback ring only ever holds real samples.
type Input struct {
	Sample            model.LocationSample
	SmoothedMph       float64
	DisplacementMiles float64
	MovedWithinWindow bool
	Heartbeat         bool
	Now               time.Time
}

// StateMachine drives trip start/stop decisions with asymmetric hysteresis.
// It never ends a trip on its own: Driving is exited only through EndTrip.
type StateMachine struct {
	th Thresholds

	state           State
	candidateSince  time.Time
	origin          model.LocationSample
	stationarySince time.Time
	isDriving       bool

	// Ring of recent smoothed-speed snapshots for the lookback
	// continuation rule.
	recent []float64
}

// NewStateMachine creates a machine in NotDriving.
func NewStateMachine(th Thresholds) *StateMachine {
	if th.SpeedWindowSize < 1 {
		th.SpeedWindowSize = 1
	}
	return &StateMachine{
		th:     th,
		state:  StateNotDriving,
		recent: make([]float64, 0, th.SpeedWindowSize),
	}
}

// Update evaluates one observation and returns the requested side effect.
// ActionStartTrip is emitted exactly once per trip, at the moment the start
// dwell elapses; Origin then holds the fix captured when the candidate was
// first observed, not the fix at transition time.
func (m *StateMachine) Update(in Input) Action {
	if !in.Heartbeat {
		m.pushRecent(in.SmoothedMph)
	}

	switch m.state {
	case StateNotDriving:
		if in.SmoothedMph >= m.th.StartSpeedMph {
			m.state = StateStartCandidate
			m.candidateSince = in.Now
			m.origin = in.Sample
		}

	case StateStartCandidate:
		if in.SmoothedMph < m.th.StartSpeedMph {
			// Dwell not met: full reset, no partial credit.
			m.state = StateNotDriving
			return ActionNone
		}
		if in.Now.Sub(m.candidateSince) >= m.th.MinStartDwell {
			m.state = StateDriving
			m.stationarySince = time.Time{}
			m.isDriving = true
			return ActionStartTrip
		}

	case StateDriving:
		switch {
		case m.shouldContinue(in):
			m.stationarySince = time.Time{}
			m.isDriving = true
		case in.SmoothedMph <= m.th.MaxStationarySpeedMph:
			if m.stationarySince.IsZero() {
				m.stationarySince = in.Now
			}
			if in.Now.Sub(m.stationarySince) >= m.th.MinStopDwell {
				// Soft stop: the trip record stays open for the user
				// to confirm; only the driving flag flips.
				m.isDriving = false
			}
		default:
			// Grace band between stationary and continue thresholds:
			// hold state, absorb sensor jitter without accumulating
			// stationary dwell.
		}
	}

	return ActionNone
}

// shouldContinue is the lenient continuation criterion: any one of smoothed
// speed, per-sample displacement, movement memory, or the recent-speed
// lookback keeps the trip alive through traffic jams and GPS dropouts.
func (m *StateMachine) shouldContinue(in Input) bool {
	if in.SmoothedMph >= m.th.ContinueSpeedMph {
		return true
	}
	if in.DisplacementMiles >= m.th.MinMovementMiles {
		return true
	}
	if in.MovedWithinWindow {
		return true
	}
	for _, s := range m.recent {
		if s >= m.th.RecentSpeedFloorMph {
			return true
		}
	}
	return false
}

func (m *StateMachine) pushRecent(smoothed float64) {
	m.recent = append(m.recent, smoothed)
	if len(m.recent) > m.th.SpeedWindowSize {
		m.recent = m.recent[1:]
	}
}

// State returns the current driving state.
func (m *StateMachine) State() State {
	return m.state
}

// IsDriving returns the soft driving flag exposed to observers.
func (m *StateMachine) IsDriving() bool {
	return m.isDriving
}

// Origin returns the fix captured when StartCandidate was entered. Only
// meaningful after ActionStartTrip has been emitted.
func (m *StateMachine) Origin() model.LocationSample {
	return m.origin
}

// StationarySince returns when the current stationary dwell began, or the
// zero time if the vehicle is considered moving.
func (m *StateMachine) StationarySince() time.Time {
	return m.stationarySince
}

// EndTrip exits Driving in response to an external decision (explicit
// end/discard, or auto-tracking disabled). The machine never calls this
// itself.
func (m *StateMachine) EndTrip() {
	m.state = StateNotDriving
	m.isDriving = false
	m.candidateSince = time.Time{}
	m.stationarySince = time.Time{}
	m.origin = model.LocationSample{}
}

// Reset discards all detector state, including the speed lookback ring.
func (m *StateMachine) Reset() {
	m.EndTrip()
	m.recent = m.recent[:0]
}
