package ahrs

import (
	"math"

	"gonum.org/v1/gonum/num/quat"

	"sensorfusion/internal/sensor"
)

// Euler holds Z-Y-X (yaw, pitch, roll) angles in radians.
type Euler struct {
	Roll  float64
	Pitch float64
	Yaw   float64
}

// Degrees converts every angle to degrees.
func (e Euler) Degrees() Euler {
	const k = 180 / math.Pi
	return Euler{Roll: e.Roll * k, Pitch: e.Pitch * k, Yaw: e.Yaw * k}
}

// FromEuler composes yaw ⊗ pitch ⊗ roll.
func FromEuler(e Euler) quat.Number {
	sr, cr := math.Sincos(e.Roll / 2)
	sp, cp := math.Sincos(e.Pitch / 2)
	sy, cy := math.Sincos(e.Yaw / 2)
	qx := quat.Number{Real: cr, Imag: sr}
	qy := quat.Number{Real: cp, Jmag: sp}
	qz := quat.Number{Real: cy, Kmag: sy}
	return quat.Mul(qz, quat.Mul(qy, qx))
}

// ToEuler decomposes a unit quaternion. Pitch is clamped at ±90° when the
// input is at (or numerically past) gimbal lock.
func ToEuler(q quat.Number) Euler {
	q0, q1, q2, q3 := q.Real, q.Imag, q.Jmag, q.Kmag

	roll := math.Atan2(2*(q0*q1+q2*q3), 1-2*(q1*q1+q2*q2))

	sinp := 2 * (q0*q2 - q3*q1)
	var pitch float64
	if math.Abs(sinp) >= 1 {
		pitch = math.Copysign(math.Pi/2, sinp)
	} else {
		pitch = math.Asin(sinp)
	}

	yaw := math.Atan2(2*(q0*q3+q1*q2), 1-2*(q2*q2+q3*q3))
	return Euler{Roll: roll, Pitch: pitch, Yaw: yaw}
}

// Rotate maps a sensor-frame vector into the earth frame: q ⊗ v ⊗ q*.
func Rotate(q quat.Number, v sensor.Vec3) sensor.Vec3 {
	p := quat.Mul(quat.Mul(q, quat.Number{Imag: v[0], Jmag: v[1], Kmag: v[2]}), quat.Conj(q))
	return sensor.Vec3{p.Imag, p.Jmag, p.Kmag}
}
