package kalman

import "math"

// Default noise parameters. Process noise R is how fast the underlying signal is
// expected to wander; measurement noise Q is how noisy a single reading is.
const (
	DefaultProcessNoise     = 1.0
	DefaultMeasurementNoise = 1.0
)

// Filter is a 1-D recursive Kalman estimator over a random-walk signal model.
//
// The first measurement seeds the estimate; before that Value is 0.
//
// Not safe for concurrent use.
type Filter struct {
	r float64 // process noise
	q float64 // measurement noise

	x      float64
	cov    float64
	seeded bool
}

func New() *Filter {
	return NewWithNoise(DefaultProcessNoise, DefaultMeasurementNoise)
}

// NewWithNoise returns a filter with custom noise. Non-positive values fall back
// to the defaults so the gain stays in (0, 1].
func NewWithNoise(processNoise, measurementNoise float64) *Filter {
	if !(processNoise > 0) || math.IsInf(processNoise, 0) {
		processNoise = DefaultProcessNoise
	}
	if !(measurementNoise > 0) || math.IsInf(measurementNoise, 0) {
		measurementNoise = DefaultMeasurementNoise
	}
	return &Filter{r: processNoise, q: measurementNoise}
}

// Filter folds one measurement into the estimate and returns the new estimate.
// Non-finite measurements are ignored.
func (f *Filter) Filter(z float64) float64 {
	if math.IsNaN(z) || math.IsInf(z, 0) {
		return f.x
	}
	if !f.seeded {
		f.x = z
		f.cov = f.q
		f.seeded = true
		return f.x
	}

	predCov := f.cov + f.r
	k := predCov / (predCov + f.q)
	f.x += k * (z - f.x)
	f.cov = predCov - k*predCov
	return f.x
}

func (f *Filter) Value() float64 { return f.x }

// Covariance is the current estimate error covariance (0 before the first sample).
func (f *Filter) Covariance() float64 { return f.cov }

// Gain is the steady-state gain the filter converges to. Useful for tests and
// for reasoning about lag at a given sample rate.
func (f *Filter) Gain() float64 {
	// Steady state solves P = (P+R)Q/(P+R+Q) for the posterior P.
	p := (-f.r + math.Sqrt(f.r*f.r+4*f.r*f.q)) / 2
	return (p + f.r) / (p + f.r + f.q)
}

// Bank is one filter per axis.
type Bank [3]*Filter

func NewBank() Bank {
	return Bank{New(), New(), New()}
}

// Filter runs each component through its own axis filter.
func (b Bank) Filter(v [3]float64) [3]float64 {
	return [3]float64{b[0].Filter(v[0]), b[1].Filter(v[1]), b[2].Filter(v[2])}
}
