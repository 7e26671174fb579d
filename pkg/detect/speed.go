package detect

// SpeedEstimator smooths raw instantaneous speed readings with a
// recency-weighted moving average over a bounded window. Each sample is
// weighted by its 1-based recency rank (oldest=1, newest=N), so a single GPS
// spike is damped while genuine acceleration still dominates the sum.
type SpeedEstimator struct {
	window  int
	samples []float64
}

// NewSpeedEstimator creates an estimator with the given window size.
func NewSpeedEstimator(window int) *SpeedEstimator {
	if window < 1 {
		window = 1
	}
	return &SpeedEstimator{
		window:  window,
		samples: make([]float64, 0, window),
	}
}

// Add inserts an instantaneous speed in mph and returns the new smoothed
// value. Negative speeds (possible from noisy derived fixes) are clamped to
// zero before insertion so they cannot destabilize the average.
func (e *SpeedEstimator) Add(speedMph float64) float64 {
	if speedMph < 0 {
		speedMph = 0
	}
	e.samples = append(e.samples, speedMph)
	if len(e.samples) > e.window {
		e.samples = e.samples[1:]
	}
	return e.Smoothed()
}

// Smoothed returns Σ(speed·rank)/Σ(rank) over the current window, or 0 when
// no samples have been observed.
func (e *SpeedEstimator) Smoothed() float64 {
	if len(e.samples) == 0 {
		return 0
	}
	var weighted, weights float64
	for i, s := range e.samples {
		w := float64(i + 1)
		weighted += s * w
		weights += w
	}
	return weighted / weights
}

// Len returns the number of samples currently held.
func (e *SpeedEstimator) Len() int {
	return len(e.samples)
}

// Reset discards all samples.
func (e *SpeedEstimator) Reset() {
	e.samples = e.samples[:0]
}
