package geo

import (
	"math"
	"testing"
)

func TestDistanceMilesEquatorDegree(t *testing.T) {
	// One degree of longitude at the equator.
	got := DistanceMiles(Point{Lat: 0, Lon: 0}, Point{Lat: 0, Lon: 1})
	if math.Abs(got-69.17) > 0.01 {
		t.Errorf("DistanceMiles = %.4f, want ~69.17", got)
	}
}

func TestDistanceMilesZero(t *testing.T) {
	p := Point{Lat: 37.7749, Lon: -122.4194}
	if got := DistanceMiles(p, p); got != 0 {
		t.Errorf("distance to self = %v, want 0", got)
	}
}

func TestDistanceMilesSymmetric(t *testing.T) {
	a := Point{Lat: 40.7128, Lon: -74.0060}
	b := Point{Lat: 34.0522, Lon: -118.2437}

	ab := DistanceMiles(a, b)
	ba := DistanceMiles(b, a)
	if math.Abs(ab-ba) > 1e-9 {
		t.Errorf("asymmetric distance: %v vs %v", ab, ba)
	}
	// NYC to LA is roughly 2450 miles great-circle.
	if ab < 2400 || ab > 2500 {
		t.Errorf("NYC-LA distance = %.1f, want ~2450", ab)
	}
}

func TestDestinationRoundTrip(t *testing.T) {
	start := Point{Lat: 47.6062, Lon: -122.3321}

	tests := []struct {
		name    string
		miles   float64
		bearing float64
	}{
		{"north 1mi", 1.0, 0},
		{"east 5mi", 5.0, 90},
		{"southwest 0.25mi", 0.25, 225},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dest := Destination(start, tt.miles, tt.bearing)
			got := DistanceMiles(start, dest)
			if math.Abs(got-tt.miles) > 0.001 {
				t.Errorf("distance to destination = %.5f, want %.5f", got, tt.miles)
			}
		})
	}
}

func TestBearingCardinal(t *testing.T) {
	origin := Point{Lat: 0, Lon: 0}

	tests := []struct {
		name string
		to   Point
		want float64
	}{
		{"north", Point{Lat: 1, Lon: 0}, 0},
		{"east", Point{Lat: 0, Lon: 1}, 90},
		{"south", Point{Lat: -1, Lon: 0}, 180},
		{"west", Point{Lat: 0, Lon: -1}, 270},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Bearing(origin, tt.to)
			if math.Abs(got-tt.want) > 0.5 {
				t.Errorf("Bearing = %.2f, want %.2f", got, tt.want)
			}
		})
	}
}
