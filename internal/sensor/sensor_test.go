package sensor

import (
	"encoding/json"
	"math"
	"testing"
	"time"
)

func TestParseChannel_Aliases(t *testing.T) {
	cases := map[string]Channel{
		"gyroscope":      AngularRate,
		"angular_rate":   AngularRate,
		" Accelerometer": Acceleration,
		"mag":            MagneticField,
		"magnetic_field": MagneticField,
	}
	for in, want := range cases {
		got, err := ParseChannel(in)
		if err != nil {
			t.Fatalf("ParseChannel(%q): %v", in, err)
		}
		if got != want {
			t.Fatalf("ParseChannel(%q)=%v want %v", in, got, want)
		}
	}
	if _, err := ParseChannel("barometer"); err == nil {
		t.Fatalf("expected error for unknown channel")
	}
}

func TestChannelSet(t *testing.T) {
	s := NewChannelSet(MagneticField, AngularRate)
	if !s.Has(AngularRate) || !s.Has(MagneticField) || s.Has(Acceleration) {
		t.Fatalf("set=%v", s)
	}
	if s.Len() != 2 {
		t.Fatalf("len=%d want 2", s.Len())
	}
	got := s.Slice()
	if len(got) != 2 || got[0] != AngularRate || got[1] != MagneticField {
		t.Fatalf("slice=%v want priority order", got)
	}
	if !NewChannelSet().Empty() {
		t.Fatalf("expected empty set")
	}
	if NewChannelSet(Channel(7)) != 0 {
		t.Fatalf("invalid channel must be ignored")
	}

	b, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(b) != `["angular_rate","magnetic_field"]` {
		t.Fatalf("json=%s", b)
	}
}

func TestIntervalForRate(t *testing.T) {
	if got := IntervalForRate(50); got != 20*time.Millisecond {
		t.Fatalf("interval=%v want 20ms", got)
	}
	if got := IntervalForRate(0); got != 0 {
		t.Fatalf("interval=%v want 0", got)
	}
	if got := IntervalForRate(math.Inf(1)); got != 0 {
		t.Fatalf("interval=%v want 0", got)
	}
}

func TestVec3Finite(t *testing.T) {
	if !(Vec3{1, 2, 3}).Finite() {
		t.Fatalf("expected finite")
	}
	if (Vec3{1, math.NaN(), 3}).Finite() {
		t.Fatalf("expected non-finite")
	}
	if got := (Vec3{3, 4, 0}).Norm(); got != 5 {
		t.Fatalf("norm=%v want 5", got)
	}
}
