// Package heading derives a compass heading from horizontal field components
// or from an orientation quaternion.
package heading

import (
	"math"

	"gonum.org/v1/gonum/num/quat"
)

// Degrees returns atan2(y, x) mapped into [0, 360).
func Degrees(x, y float64) float64 {
	if math.IsNaN(x) || math.IsNaN(y) {
		return 0
	}
	rad := math.Atan2(y, x)
	if rad < 0 {
		rad += 2 * math.Pi
	}
	d := rad * 180 / math.Pi
	if d >= 360 {
		d -= 360
	}
	return d
}

// FromQuaternion projects the body x axis into the earth horizontal plane and
// returns its compass heading. The earth frame is north, west, up, so yaw
// grows counter-clockwise and the heading is its negation.
func FromQuaternion(q quat.Number) float64 {
	q0, q1, q2, q3 := q.Real, q.Imag, q.Jmag, q.Kmag
	// First column of the rotation matrix: body x in earth coordinates.
	north := 1 - 2*(q2*q2+q3*q3)
	west := 2 * (q1*q2 + q0*q3)
	return Degrees(north, -west)
}
