package fusion

import (
	"encoding/json"
	"time"

	"gonum.org/v1/gonum/num/quat"

	"sensorfusion/internal/ahrs"
	"sensorfusion/internal/heading"
	"sensorfusion/internal/sensor"
)

// Snapshot is one published fusion cycle. Vectors are the filtered values the
// estimator consumed.
type Snapshot struct {
	Seq  uint64
	Time time.Time

	Orientation   quat.Number
	AngularRate   sensor.Vec3
	Acceleration  sensor.Vec3
	MagneticField sensor.Vec3
}

// Euler returns roll, pitch and yaw in degrees.
func (s Snapshot) Euler() ahrs.Euler {
	return ahrs.ToEuler(s.Orientation).Degrees()
}

// Heading derives the compass heading in [0, 360) from the chosen source.
func (s Snapshot) Heading(src HeadingSource) float64 {
	if src == HeadingOrientation {
		return heading.FromQuaternion(s.Orientation)
	}
	return heading.Degrees(s.MagneticField[0], s.MagneticField[1])
}

type snapshotJSON struct {
	Seq           uint64      `json:"seq"`
	Time          time.Time   `json:"time"`
	Quaternion    [4]float64  `json:"quaternion"`
	RollDeg       float64     `json:"roll_deg"`
	PitchDeg      float64     `json:"pitch_deg"`
	YawDeg        float64     `json:"yaw_deg"`
	AngularRate   sensor.Vec3 `json:"angular_rate"`
	Acceleration  sensor.Vec3 `json:"acceleration"`
	MagneticField sensor.Vec3 `json:"magnetic_field"`
}

// MarshalJSON writes the quaternion as [w, x, y, z] plus Euler degrees.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	e := s.Euler()
	q := s.Orientation
	return json.Marshal(snapshotJSON{
		Seq:           s.Seq,
		Time:          s.Time,
		Quaternion:    [4]float64{q.Real, q.Imag, q.Jmag, q.Kmag},
		RollDeg:       e.Roll,
		PitchDeg:      e.Pitch,
		YawDeg:        e.Yaw,
		AngularRate:   s.AngularRate,
		Acceleration:  s.Acceleration,
		MagneticField: s.MagneticField,
	})
}
