package model

import (
	"time"
)

// TripCategory classifies a trip for deduction purposes.
type TripCategory string

const (
	CategoryBusiness TripCategory = "Business"
	CategoryPersonal TripCategory = "Personal"
	CategoryMedical  TripCategory = "Medical"
	CategoryCharity  TripCategory = "Charity"
)

// Categories lists all valid trip categories.
func Categories() []TripCategory {
	return []TripCategory{CategoryBusiness, CategoryPersonal, CategoryMedical, CategoryCharity}
}

// Valid reports whether c is a known category.
func (c TripCategory) Valid() bool {
	switch c {
	case CategoryBusiness, CategoryPersonal, CategoryMedical, CategoryCharity:
		return true
	}
	return false
}

// LocationSample is a single raw location fix. Immutable once received.
// SpeedMph is the device-reported instantaneous speed; nil when the device
// does not report one, in which case speed is derived from displacement.
type LocationSample struct {
	Latitude  float64   `json:"lat"`
	Longitude float64   `json:"lon"`
	SpeedMph  *float64  `json:"speed_mph,omitempty"`
	Address   string    `json:"address,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ActiveTrip is the single persisted in-progress trip record.
// At most one exists at a time. It is created by manual start or automatic
// detection, mutated on every location sample and on user edits, and cleared
// only by explicit end/save/discard.
type ActiveTrip struct {
	StartTime       time.Time       `json:"start_time"`
	StartLocation   *LocationSample `json:"start_location,omitempty"`
	CurrentLocation *LocationSample `json:"current_location,omitempty"`
	DistanceMiles   float64         `json:"distance_miles"`
	Category        TripCategory    `json:"category"`
	Notes           string          `json:"notes"`
}

// Duration returns the elapsed time since the trip started.
func (t *ActiveTrip) Duration(now time.Time) time.Duration {
	if t == nil || t.StartTime.IsZero() {
		return 0
	}
	return now.Sub(t.StartTime)
}

// Trip is a finalized trip record, produced when the user confirms ending an
// active trip and handed to the trip log.
type Trip struct {
	ID             string       `json:"id"`
	StartTime      time.Time    `json:"start_time"`
	EndTime        time.Time    `json:"end_time"`
	StartLocation  string       `json:"start_location"`
	EndLocation    string       `json:"end_location"`
	StartLatitude  float64      `json:"start_lat"`
	StartLongitude float64      `json:"start_lon"`
	EndLatitude    float64      `json:"end_lat"`
	EndLongitude   float64      `json:"end_lon"`
	DistanceMiles  float64      `json:"distance_miles"`
	Category       TripCategory `json:"category"`
	Notes          string       `json:"notes"`
	MileageRate    float64      `json:"mileage_rate"`
	TotalDeduction float64      `json:"total_deduction"`
}
