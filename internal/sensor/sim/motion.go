// Package sim provides a deterministic simulated motion sensor.
package sim

import (
	"math"
	"time"

	"gonum.org/v1/gonum/num/quat"

	"sensorfusion/internal/ahrs"
	"sensorfusion/internal/sensor"
)

const StandardGravity = sensor.StandardGravity

// DefaultField is a mid-latitude earth field in µT in the north, west, up
// earth frame, so the dip is negative.
var DefaultField = sensor.Vec3{20, 0, -45}

// Motion describes a device turning steadily about the vertical axis while
// rocking in roll and pitch.
type Motion struct {
	// Period is one full turn in yaw.
	Period time.Duration
	// TiltDeg is the roll amplitude; pitch swings at half of it.
	TiltDeg float64
	// Field is the earth magnetic field in the earth frame. Zero means
	// DefaultField.
	Field sensor.Vec3
}

func (m Motion) period() time.Duration {
	if m.Period <= 0 {
		return 60 * time.Second
	}
	return m.Period
}

func (m Motion) field() sensor.Vec3 {
	if m.Field == (sensor.Vec3{}) {
		return DefaultField
	}
	return m.Field
}

// Attitude returns the deterministic attitude and its Euler rates (rad/s)
// at elapsed time t.
//
// The tilt follows a figure-eight: roll = A·sin(2w), pitch = A/2·sin(w).
func (m Motion) Attitude(t time.Duration) (att, rate ahrs.Euler) {
	p := m.period()
	phase := float64(t%p) / float64(p)
	w := 2 * math.Pi * phase
	dw := 2 * math.Pi / p.Seconds()
	a := m.TiltDeg * math.Pi / 180

	att = ahrs.Euler{
		Roll:  a * math.Sin(2*w),
		Pitch: 0.5 * a * math.Sin(w),
		Yaw:   math.Remainder(w, 2*math.Pi),
	}
	rate = ahrs.Euler{
		Roll:  2 * a * math.Cos(2*w) * dw,
		Pitch: 0.5 * a * math.Cos(w) * dw,
		Yaw:   dw,
	}
	return att, rate
}

// Orientation is the sensor-to-earth rotation at t.
func (m Motion) Orientation(t time.Duration) quat.Number {
	att, _ := m.Attitude(t)
	return ahrs.FromEuler(att)
}

// Readings returns noise-free gyro (rad/s), accelerometer (m/s²) and
// magnetometer (µT) vectors in the sensor frame at t.
func (m Motion) Readings(t time.Duration) (gyro, accel, mag sensor.Vec3) {
	att, r := m.Attitude(t)
	sr, cr := math.Sincos(att.Roll)
	sp, cp := math.Sincos(att.Pitch)

	// Z-Y-X Euler rates to body rates.
	gyro = sensor.Vec3{
		r.Roll - r.Yaw*sp,
		r.Pitch*cr + r.Yaw*cp*sr,
		-r.Pitch*sr + r.Yaw*cp*cr,
	}

	inv := quat.Conj(ahrs.FromEuler(att))
	accel = ahrs.Rotate(inv, sensor.Vec3{0, 0, StandardGravity})
	mag = ahrs.Rotate(inv, m.field())
	return gyro, accel, mag
}

// Reading returns the channel's vector at t.
func (m Motion) Reading(ch sensor.Channel, t time.Duration) sensor.Vec3 {
	gyro, accel, mag := m.Readings(t)
	switch ch {
	case sensor.AngularRate:
		return gyro
	case sensor.Acceleration:
		return accel
	default:
		return mag
	}
}
