package detect

import (
	"math"
	"testing"
)

func TestSmoothedWeightedMean(t *testing.T) {
	tests := []struct {
		name    string
		samples []float64
		want    float64
	}{
		{"empty", nil, 0},
		{"single", []float64{8}, 8},
		{"two samples favor newest", []float64{0, 9}, (0*1 + 9*2) / 3.0},
		{"three samples", []float64{10, 20, 30}, (10*1 + 20*2 + 30*3) / 6.0},
		{"constant input is fixpoint", []float64{5, 5, 5, 5}, 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewSpeedEstimator(10)
			for _, s := range tt.samples {
				e.Add(s)
			}
			if got := e.Smoothed(); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Smoothed = %v, want %v", got, tt.want)
			}
		})
	}
}

// Weights are the 1-based recency ranks, so they must sum to N(N+1)/2. A
// window of identical values therefore always smooths to that value exactly.
func TestSmoothedWeightSum(t *testing.T) {
	for n := 1; n <= 10; n++ {
		e := NewSpeedEstimator(10)
		for i := 0; i < n; i++ {
			e.Add(7)
		}
		if got := e.Smoothed(); math.Abs(got-7) > 1e-12 {
			t.Errorf("n=%d: Smoothed = %v, want exactly 7", n, got)
		}
	}
}

func TestAddClampsNegative(t *testing.T) {
	e := NewSpeedEstimator(10)
	e.Add(-12.5)
	if got := e.Smoothed(); got != 0 {
		t.Errorf("Smoothed after negative sample = %v, want 0", got)
	}
	e.Add(6)
	// Window holds [0, 6], not [-12.5, 6].
	want := (0*1 + 6*2) / 3.0
	if got := e.Smoothed(); math.Abs(got-want) > 1e-9 {
		t.Errorf("Smoothed = %v, want %v", got, want)
	}
}

func TestWindowEviction(t *testing.T) {
	e := NewSpeedEstimator(10)
	// Push 11 samples: the first (100) must be evicted.
	e.Add(100)
	for i := 0; i < 10; i++ {
		e.Add(2)
	}
	if e.Len() != 10 {
		t.Fatalf("Len = %d, want 10", e.Len())
	}
	if got := e.Smoothed(); math.Abs(got-2) > 1e-12 {
		t.Errorf("Smoothed = %v, want 2 after spike evicted", got)
	}
}

func TestReset(t *testing.T) {
	e := NewSpeedEstimator(10)
	e.Add(30)
	e.Reset()
	if e.Len() != 0 || e.Smoothed() != 0 {
		t.Errorf("Reset did not clear estimator: len=%d smoothed=%v", e.Len(), e.Smoothed())
	}
}
