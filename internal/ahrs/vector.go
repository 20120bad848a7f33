package ahrs

import (
	"math"

	"sensorfusion/internal/sensor"
)

// unit3 normalizes v; ok is false for the zero vector.
func unit3(v sensor.Vec3) (sensor.Vec3, bool) {
	n := v.Norm()
	if n <= 0 {
		return sensor.Vec3{}, false
	}
	return sensor.Vec3{v[0] / n, v[1] / n, v[2] / n}, true
}

func cross3(a, b sensor.Vec3) sensor.Vec3 {
	return sensor.Vec3{
		a[1]*b[2] - a[2]*b[1],
		a[2]*b[0] - a[0]*b[2],
		a[0]*b[1] - a[1]*b[0],
	}
}

func add3(a, b sensor.Vec3) sensor.Vec3 {
	return sensor.Vec3{a[0] + b[0], a[1] + b[1], a[2] + b[2]}
}

func scale3(v sensor.Vec3, k float64) sensor.Vec3 {
	return sensor.Vec3{v[0] * k, v[1] * k, v[2] * k}
}

func norm4(v [4]float64) float64 {
	return math.Sqrt(v[0]*v[0] + v[1]*v[1] + v[2]*v[2] + v[3]*v[3])
}

func sqrt(x float64) float64 { return math.Sqrt(x) }
