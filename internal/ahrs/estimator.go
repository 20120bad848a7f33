package ahrs

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/num/quat"

	"sensorfusion/internal/sensor"
)

// Algorithm selects the correction scheme applied on top of gyro integration.
type Algorithm string

const (
	// Madgwick corrects with a normalized gradient-descent step scaled by Beta.
	Madgwick Algorithm = "Madgwick"
	// Mahony corrects with a proportional-integral feedback on the gyro rate.
	Mahony Algorithm = "Mahony"
)

func ParseAlgorithm(s string) (Algorithm, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "madgwick":
		return Madgwick, nil
	case "mahony":
		return Mahony, nil
	}
	return "", fmt.Errorf("ahrs: unknown algorithm %q", s)
}

type Config struct {
	Algorithm    Algorithm
	SampleRateHz float64

	// Beta is the Madgwick gradient-descent gain.
	Beta float64
	// Kp and Ki are the Mahony proportional and integral gains.
	Kp float64
	Ki float64

	// Initialize aligns the first estimate directly from the accelerometer and
	// magnetometer instead of integrating from identity.
	Initialize bool
}

func (c Config) Validate() error {
	if _, err := ParseAlgorithm(string(c.Algorithm)); err != nil {
		return err
	}
	if !(c.SampleRateHz > 0) || math.IsInf(c.SampleRateHz, 0) {
		return fmt.Errorf("ahrs: sample rate must be > 0 (got %v)", c.SampleRateHz)
	}
	if c.Beta < 0 || c.Kp < 0 || c.Ki < 0 {
		return fmt.Errorf("ahrs: gains must be >= 0")
	}
	return nil
}

var identity = quat.Number{Real: 1}

// Estimator tracks the sensor-to-earth rotation as a unit quaternion.
//
// Not safe for concurrent use; the stream manager serializes updates.
type Estimator struct {
	algo Algorithm
	cfg  Config
	dt   float64

	q        quat.Number
	integral [3]float64 // Mahony integral feedback, rad/s

	aligned bool
	updates uint64
}

func New(cfg Config) (*Estimator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	algo, _ := ParseAlgorithm(string(cfg.Algorithm))
	return &Estimator{
		algo:    algo,
		cfg:     cfg,
		dt:      1 / cfg.SampleRateHz,
		q:       identity,
		aligned: !cfg.Initialize,
	}, nil
}

func (e *Estimator) Algorithm() Algorithm { return e.algo }

func (e *Estimator) Quaternion() quat.Number { return e.q }

// Updates counts accepted updates (degenerate inputs are not counted).
func (e *Estimator) Updates() uint64 { return e.updates }

// Update folds one set of gyro (rad/s), accelerometer and magnetometer vectors
// into the estimate and returns it. Accelerometer and magnetometer units are
// irrelevant; both are normalized. A zero or non-finite accelerometer vector
// leaves the estimate unchanged. A zero magnetometer vector runs a gyro+accel
// update without heading correction.
func (e *Estimator) Update(gyro, accel, mag sensor.Vec3) quat.Number {
	if !gyro.Finite() || !accel.Finite() || !mag.Finite() {
		return e.q
	}
	a, ok := unit3(accel)
	if !ok {
		return e.q
	}
	m, haveMag := unit3(mag)

	if !e.aligned {
		e.q = alignment(a, m, haveMag)
		e.aligned = true
		e.updates++
		return e.q
	}

	var next quat.Number
	switch e.algo {
	case Mahony:
		next = e.mahony(gyro, a, m, haveMag)
	default:
		next = e.madgwick(gyro, a, m, haveMag)
	}

	n := quat.Abs(next)
	if n == 0 || math.IsNaN(n) || math.IsInf(n, 0) {
		return e.q
	}
	e.q = quat.Scale(1/n, next)
	e.updates++
	return e.q
}

// rateOfChange is dq/dt = 1/2 q ⊗ (0, ω).
func rateOfChange(q quat.Number, w sensor.Vec3) quat.Number {
	return quat.Scale(0.5, quat.Mul(q, quat.Number{Imag: w[0], Jmag: w[1], Kmag: w[2]}))
}

// alignment builds the rotation from accelerometer tilt and tilt-compensated
// magnetometer yaw. Without a magnetometer, yaw is zero.
func alignment(a, m sensor.Vec3, haveMag bool) quat.Number {
	roll := math.Atan2(a[1], a[2])
	pitch := math.Atan2(-a[0], math.Sqrt(a[1]*a[1]+a[2]*a[2]))
	yaw := 0.0
	if haveMag {
		sr, cr := math.Sincos(roll)
		sp, cp := math.Sincos(pitch)
		hx := m[0]*cp + m[1]*sr*sp + m[2]*cr*sp
		hy := m[1]*cr - m[2]*sr
		yaw = math.Atan2(-hy, hx)
	}
	return FromEuler(Euler{Roll: roll, Pitch: pitch, Yaw: yaw})
}
