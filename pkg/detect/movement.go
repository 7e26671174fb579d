package detect

import (
	"time"

	"milepost/pkg/geo"
	"milepost/pkg/model"
)

// MovementTracker remembers where and when the vehicle last displaced
// significantly, distinguishing real travel from GPS jitter.
type MovementTracker struct {
	minMiles float64
	lastLoc  *model.LocationSample
	lastAt   time.Time
}

// NewMovementTracker creates a tracker with the given significance threshold
// in miles.
func NewMovementTracker(minMiles float64) *MovementTracker {
	return &MovementTracker{minMiles: minMiles}
}

// Observe records a sample and returns the displacement in miles from the
// last significant location. When the displacement meets the threshold, the
// stored location and timestamp are replaced with the current sample.
// The first sample observed becomes the initial significant location.
func (m *MovementTracker) Observe(s model.LocationSample, now time.Time) float64 {
	if m.lastLoc == nil {
		loc := s
		m.lastLoc = &loc
		m.lastAt = now
		return 0
	}

	dist := geo.DistanceMiles(
		geo.Point{Lat: m.lastLoc.Latitude, Lon: m.lastLoc.Longitude},
		geo.Point{Lat: s.Latitude, Lon: s.Longitude},
	)
	if dist >= m.minMiles {
		loc := s
		m.lastLoc = &loc
		m.lastAt = now
	}
	return dist
}

// HasMovedWithin reports whether a significant movement was recorded less
// than window ago.
func (m *MovementTracker) HasMovedWithin(window time.Duration, now time.Time) bool {
	if m.lastAt.IsZero() {
		return false
	}
	return now.Sub(m.lastAt) < window
}

// Reset discards the movement memory.
func (m *MovementTracker) Reset() {
	m.lastLoc = nil
	m.lastAt = time.Time{}
}
