package ahrs

import (
	"gonum.org/v1/gonum/num/quat"

	"sensorfusion/internal/sensor"
)

// mahony returns the unnormalized next quaternion. a and m are unit vectors.
//
// The error is the cross product between measured and estimated reference
// directions; it feeds back into the gyro rate through Kp and an integral term
// through Ki.
func (e *Estimator) mahony(g, a, m sensor.Vec3, haveMag bool) quat.Number {
	q := e.q
	q0, q1, q2, q3 := q.Real, q.Imag, q.Jmag, q.Kmag

	// Estimated gravity direction in the sensor frame.
	v := sensor.Vec3{
		2 * (q1*q3 - q0*q2),
		2 * (q0*q1 + q2*q3),
		q0*q0 - q1*q1 - q2*q2 + q3*q3,
	}
	err := cross3(a, v)

	if haveMag {
		// Earth field reference with its horizontal component folded onto x.
		hx := 2*m[0]*(0.5-q2*q2-q3*q3) + 2*m[1]*(q1*q2-q0*q3) + 2*m[2]*(q1*q3+q0*q2)
		hy := 2*m[0]*(q1*q2+q0*q3) + 2*m[1]*(0.5-q1*q1-q3*q3) + 2*m[2]*(q2*q3-q0*q1)
		bx := sqrt(hx*hx + hy*hy)
		bz := 2*m[0]*(q1*q3-q0*q2) + 2*m[1]*(q2*q3+q0*q1) + 2*m[2]*(0.5-q1*q1-q2*q2)

		w := sensor.Vec3{
			2*bx*(0.5-q2*q2-q3*q3) + 2*bz*(q1*q3-q0*q2),
			2*bx*(q1*q2-q0*q3) + 2*bz*(q0*q1+q2*q3),
			2*bx*(q0*q2+q1*q3) + 2*bz*(0.5-q1*q1-q2*q2),
		}
		err = add3(err, cross3(m, w))
	}

	corrected := g
	if e.cfg.Ki > 0 {
		for i := range e.integral {
			e.integral[i] += e.cfg.Ki * err[i] * e.dt
		}
		corrected = add3(corrected, e.integral)
	} else {
		e.integral = [3]float64{}
	}
	corrected = add3(corrected, scale3(err, e.cfg.Kp))

	return quat.Add(q, quat.Scale(e.dt, rateOfChange(q, corrected)))
}
