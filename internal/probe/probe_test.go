package probe

import (
	"context"
	"errors"
	"testing"
	"time"

	"sensorfusion/internal/sensor"
	"sensorfusion/internal/sensor/sensortest"
)

func quiet(t *testing.T) {
	t.Helper()
	old := logf
	logf = func(string, ...any) {}
	t.Cleanup(func() { logf = old })
}

func allImmediate() map[sensor.Channel]sensor.Vec3 {
	return map[sensor.Channel]sensor.Vec3{
		sensor.AngularRate:   {0, 0, 0},
		sensor.Acceleration:  {0, 0, 1},
		sensor.MagneticField: {1, 0, 0},
	}
}

func fixedInterval(d time.Duration) func(sensor.Channel) time.Duration {
	return func(sensor.Channel) time.Duration { return d }
}

func TestUnsupported_AllAvailable(t *testing.T) {
	quiet(t)
	src := sensortest.New()
	src.Immediate = allImmediate()
	p := New(src, Config{Interval: fixedInterval(time.Second / 60)})

	got, err := p.Unsupported(context.Background())
	if err != nil {
		t.Fatalf("Unsupported: %v", err)
	}
	if !got.Empty() {
		t.Fatalf("got=%v want empty", got)
	}
}

func TestUnsupported_ExactErrorSet(t *testing.T) {
	quiet(t)
	src := sensortest.New()
	src.Immediate = allImmediate()
	src.Unavailable = map[sensor.Channel]error{
		sensor.AngularRate:   errors.New("no gyroscope"),
		sensor.MagneticField: errors.New("no magnetometer"),
	}
	p := New(src, Config{Interval: fixedInterval(time.Second / 60)})

	got, err := p.Unsupported(context.Background())
	if err != nil {
		t.Fatalf("Unsupported: %v", err)
	}
	want := sensor.NewChannelSet(sensor.AngularRate, sensor.MagneticField)
	if got != want {
		t.Fatalf("got=%v want %v", got, want)
	}
}

func TestUnsupported_SilentChannelTimesOut(t *testing.T) {
	quiet(t)
	src := sensortest.New()
	src.Immediate = map[sensor.Channel]sensor.Vec3{
		sensor.AngularRate:  {0, 0, 0},
		sensor.Acceleration: {0, 0, 1},
	}
	p := New(src, Config{Timeout: 20 * time.Millisecond})

	start := time.Now()
	got, err := p.Unsupported(context.Background())
	if err != nil {
		t.Fatalf("Unsupported: %v", err)
	}
	if got != sensor.NewChannelSet(sensor.MagneticField) {
		t.Fatalf("got=%v want {magnetic_field}", got)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("probe took %v", elapsed)
	}
}

func TestUnsupported_AsynchronousSample(t *testing.T) {
	quiet(t)
	src := sensortest.New()
	p := New(src, Config{Timeout: 5 * time.Second})

	done := make(chan sensor.ChannelSet, 1)
	go func() {
		set, _ := p.Unsupported(context.Background())
		done <- set
	}()

	deadline := time.Now().Add(2 * time.Second)
	for _, ch := range sensor.Channels {
		for src.Active(ch) == 0 {
			if time.Now().After(deadline) {
				t.Fatalf("%s never subscribed", ch)
			}
			time.Sleep(time.Millisecond)
		}
	}
	src.Emit(sensor.AngularRate, sensor.Vec3{})
	src.Emit(sensor.Acceleration, sensor.Vec3{0, 0, 1})
	src.Fail(sensor.MagneticField, errors.New("gone"))

	select {
	case got := <-done:
		if got != sensor.NewChannelSet(sensor.MagneticField) {
			t.Fatalf("got=%v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("probe did not finish")
	}
}

func TestUnsupported_RestoresIntervalAndUnsubscribes(t *testing.T) {
	quiet(t)
	src := sensortest.New()
	src.Immediate = allImmediate()
	src.Unavailable = map[sensor.Channel]error{sensor.Acceleration: errors.New("no")}
	configured := 50 * time.Millisecond
	p := New(src, Config{Interval: fixedInterval(configured)})

	if _, err := p.Unsupported(context.Background()); err != nil {
		t.Fatalf("Unsupported: %v", err)
	}
	for _, ch := range sensor.Channels {
		iv := src.Intervals(ch)
		if len(iv) != 2 || iv[0] != DefaultProbeInterval || iv[1] != configured {
			t.Fatalf("%s intervals=%v want [10ms 50ms]", ch, iv)
		}
		if src.Unsubscribes(ch) != 1 || src.Active(ch) != 0 {
			t.Fatalf("%s unsubscribes=%d active=%d", ch, src.Unsubscribes(ch), src.Active(ch))
		}
	}
}

func TestUnsupported_ContextCancelled(t *testing.T) {
	quiet(t)
	src := sensortest.New()
	p := New(src, Config{Timeout: time.Minute})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := p.Unsupported(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err=%v want deadline exceeded", err)
	}
	for _, ch := range sensor.Channels {
		if src.Active(ch) != 0 {
			t.Fatalf("%s left subscribed", ch)
		}
	}
}

func TestUnsupported_NoSource(t *testing.T) {
	var p *Prober
	if _, err := p.Unsupported(context.Background()); err == nil {
		t.Fatalf("expected error")
	}
}
