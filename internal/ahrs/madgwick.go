package ahrs

import (
	"gonum.org/v1/gonum/num/quat"

	"sensorfusion/internal/sensor"
)

// madgwick returns the unnormalized next quaternion. a and m are unit vectors.
func (e *Estimator) madgwick(g, a, m sensor.Vec3, haveMag bool) quat.Number {
	q := e.q
	qDot := rateOfChange(q, g)

	var s [4]float64
	if haveMag {
		s = madgwickGradientMARG(q, a, m)
	} else {
		s = madgwickGradientIMU(q, a)
	}
	if n := norm4(s); n > 0 {
		b := e.cfg.Beta / n
		qDot = quat.Sub(qDot, quat.Number{Real: b * s[0], Imag: b * s[1], Jmag: b * s[2], Kmag: b * s[3]})
	}
	return quat.Add(q, quat.Scale(e.dt, qDot))
}

// madgwickGradientMARG is the objective-function gradient for gravity plus the
// earth magnetic field with its horizontal/vertical reference recomputed from
// the current estimate.
func madgwickGradientMARG(q quat.Number, a, m sensor.Vec3) [4]float64 {
	q0, q1, q2, q3 := q.Real, q.Imag, q.Jmag, q.Kmag
	ax, ay, az := a[0], a[1], a[2]
	mx, my, mz := m[0], m[1], m[2]

	_2q0mx := 2 * q0 * mx
	_2q0my := 2 * q0 * my
	_2q0mz := 2 * q0 * mz
	_2q1mx := 2 * q1 * mx
	_2q0 := 2 * q0
	_2q1 := 2 * q1
	_2q2 := 2 * q2
	_2q3 := 2 * q3
	_2q0q2 := 2 * q0 * q2
	_2q2q3 := 2 * q2 * q3
	q0q0 := q0 * q0
	q0q1 := q0 * q1
	q0q2 := q0 * q2
	q0q3 := q0 * q3
	q1q1 := q1 * q1
	q1q2 := q1 * q2
	q1q3 := q1 * q3
	q2q2 := q2 * q2
	q2q3 := q2 * q3
	q3q3 := q3 * q3

	// Earth-frame field direction.
	hx := mx*q0q0 - _2q0my*q3 + _2q0mz*q2 + mx*q1q1 + _2q1*my*q2 + _2q1*mz*q3 - mx*q2q2 - mx*q3q3
	hy := _2q0mx*q3 + my*q0q0 - _2q0mz*q1 + _2q1mx*q2 - my*q1q1 + my*q2q2 + _2q2*mz*q3 - my*q3q3
	_2bx := sqrt(hx*hx + hy*hy)
	_2bz := -_2q0mx*q2 + _2q0my*q1 + mz*q0q0 + _2q1mx*q3 - mz*q1q1 + _2q2*my*q3 - mz*q2q2 + mz*q3q3
	_4bx := 2 * _2bx
	_4bz := 2 * _2bz

	// Residuals of the predicted vs. measured gravity and field.
	fgx := 2*q1q3 - _2q0q2 - ax
	fgy := 2*q0q1 + _2q2q3 - ay
	fgz := 1 - 2*q1q1 - 2*q2q2 - az
	fbx := _2bx*(0.5-q2q2-q3q3) + _2bz*(q1q3-q0q2) - mx
	fby := _2bx*(q1q2-q0q3) + _2bz*(q0q1+q2q3) - my
	fbz := _2bx*(q0q2+q1q3) + _2bz*(0.5-q1q1-q2q2) - mz

	return [4]float64{
		-_2q2*fgx + _2q1*fgy - _2bz*q2*fbx + (-_2bx*q3+_2bz*q1)*fby + _2bx*q2*fbz,
		_2q3*fgx + _2q0*fgy - 4*q1*fgz + _2bz*q3*fbx + (_2bx*q2+_2bz*q0)*fby + (_2bx*q3-_4bz*q1)*fbz,
		-_2q0*fgx + _2q3*fgy - 4*q2*fgz + (-_4bx*q2-_2bz*q0)*fbx + (_2bx*q1+_2bz*q3)*fby + (_2bx*q0-_4bz*q2)*fbz,
		_2q1*fgx + _2q2*fgy + (-_4bx*q3+_2bz*q1)*fbx + (-_2bx*q0+_2bz*q2)*fby + _2bx*q1*fbz,
	}
}

// madgwickGradientIMU is the gravity-only gradient.
func madgwickGradientIMU(q quat.Number, a sensor.Vec3) [4]float64 {
	q0, q1, q2, q3 := q.Real, q.Imag, q.Jmag, q.Kmag
	ax, ay, az := a[0], a[1], a[2]

	_2q0 := 2 * q0
	_2q1 := 2 * q1
	_2q2 := 2 * q2
	_2q3 := 2 * q3
	_4q0 := 4 * q0
	_4q1 := 4 * q1
	_4q2 := 4 * q2
	_8q1 := 8 * q1
	_8q2 := 8 * q2
	q0q0 := q0 * q0
	q1q1 := q1 * q1
	q2q2 := q2 * q2
	q3q3 := q3 * q3

	return [4]float64{
		_4q0*q2q2 + _2q2*ax + _4q0*q1q1 - _2q1*ay,
		_4q1*q3q3 - _2q3*ax + 4*q0q0*q1 - _2q0*ay - _4q1 + _8q1*q1q1 + _8q1*q2q2 + _4q1*az,
		4*q0q0*q2 + _2q0*ax + _4q2*q3q3 - _2q3*ay - _4q2 + _8q2*q1q1 + _8q2*q2q2 + _4q2*az,
		4*q1q1*q3 - _2q1*ax + 4*q2q2*q3 - _2q2*ay,
	}
}
