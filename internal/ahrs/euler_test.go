package ahrs

import (
	"math"
	"testing"

	"sensorfusion/internal/sensor"
)

func TestEulerRoundTrip(t *testing.T) {
	cases := []Euler{
		{},
		{Roll: 10 * deg},
		{Pitch: -30 * deg},
		{Yaw: 170 * deg},
		{Roll: -45 * deg, Pitch: 20 * deg, Yaw: -100 * deg},
	}
	for _, want := range cases {
		got := ToEuler(FromEuler(want))
		if math.Abs(got.Roll-want.Roll) > 1e-12 || math.Abs(got.Pitch-want.Pitch) > 1e-12 || math.Abs(got.Yaw-want.Yaw) > 1e-12 {
			t.Fatalf("got=%+v want=%+v", got, want)
		}
	}
}

func TestToEuler_GimbalLockClamps(t *testing.T) {
	got := ToEuler(FromEuler(Euler{Pitch: math.Pi / 2}))
	if math.Abs(got.Pitch-math.Pi/2) > 1e-6 {
		t.Fatalf("pitch=%v want pi/2", got.Pitch)
	}
}

func TestRotate_YawMovesNorthToEast(t *testing.T) {
	// Yaw +90° maps the body x axis onto earth y.
	q := FromEuler(Euler{Yaw: 90 * deg})
	got := Rotate(q, sensor.Vec3{1, 0, 0})
	if math.Abs(got[0]) > 1e-12 || math.Abs(got[1]-1) > 1e-12 || math.Abs(got[2]) > 1e-12 {
		t.Fatalf("got=%v want [0 1 0]", got)
	}
}

func TestDegrees(t *testing.T) {
	got := Euler{Roll: math.Pi, Pitch: math.Pi / 2, Yaw: -math.Pi / 4}.Degrees()
	if got.Roll != 180 || got.Pitch != 90 || got.Yaw != -45 {
		t.Fatalf("got=%+v", got)
	}
}
