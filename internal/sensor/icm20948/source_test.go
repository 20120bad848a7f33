package icm20948

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"sensorfusion/internal/sensor"
)

type fakeDevice struct {
	mu      sync.Mutex
	reading Reading
	err     error
	hasMag  bool
	rates   []float64
	reads   int
}

func (f *fakeDevice) Read() (Reading, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	return f.reading, f.err
}

func (f *fakeDevice) SetSampleRate(hz float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rates = append(f.rates, hz)
	return nil
}

func (f *fakeDevice) HasMagnetometer() bool { return f.hasMag }

func TestVectorsOf_Units(t *testing.T) {
	v := vectorsOf(Reading{Ax: 0, Ay: 0, Az: 1, Gx: 180, Mx: 20, My: 1, Mz: -40})
	if math.Abs(v[sensor.Acceleration][2]-sensor.StandardGravity) > 1e-12 {
		t.Fatalf("accel=%v", v[sensor.Acceleration])
	}
	if math.Abs(v[sensor.AngularRate][0]-math.Pi) > 1e-12 {
		t.Fatalf("gyro=%v", v[sensor.AngularRate])
	}
	if v[sensor.MagneticField] != (sensor.Vec3{20, 1, -40}) {
		t.Fatalf("mag=%v", v[sensor.MagneticField])
	}
}

func TestSource_MissingMagnetometerReportsError(t *testing.T) {
	s := NewSource(&fakeDevice{}, nil)
	errCh := make(chan error, 1)
	s.Subscribe(sensor.MagneticField, nil, func(err error) { errCh <- err })
	select {
	case err := <-errCh:
		if !errors.Is(err, ErrNoMagnetometer) {
			t.Fatalf("err=%v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no error")
	}
}

func TestSource_PollHonoursPerChannelInterval(t *testing.T) {
	dev := &fakeDevice{hasMag: true, reading: Reading{Az: 1, MagValid: true, Mx: 20}}
	s := NewSource(dev, nil)
	if err := s.SetUpdateInterval(sensor.AngularRate, 10*time.Millisecond); err != nil {
		t.Fatalf("SetUpdateInterval: %v", err)
	}
	if err := s.SetUpdateInterval(sensor.MagneticField, 50*time.Millisecond); err != nil {
		t.Fatalf("SetUpdateInterval: %v", err)
	}

	var gyro, mag int
	s.Subscribe(sensor.AngularRate, func(sensor.Vec3) { gyro++ }, nil)
	s.Subscribe(sensor.MagneticField, func(sensor.Vec3) { mag++ }, nil)

	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 10; i++ {
		s.poll(start.Add(time.Duration(i) * 10 * time.Millisecond))
	}
	if gyro != 10 {
		t.Fatalf("gyro samples=%d want 10", gyro)
	}
	if mag != 2 {
		t.Fatalf("mag samples=%d want 2", mag)
	}
}

func TestSource_SkipsStaleMagnetometer(t *testing.T) {
	dev := &fakeDevice{hasMag: true, reading: Reading{Az: 1}}
	s := NewSource(dev, nil)
	var mag int
	s.Subscribe(sensor.MagneticField, func(sensor.Vec3) { mag++ }, nil)
	s.poll(time.Now())
	if mag != 0 {
		t.Fatalf("delivered mag without new data")
	}
}

func TestSource_SetUpdateIntervalProgramsFastestRate(t *testing.T) {
	dev := &fakeDevice{}
	s := NewSource(dev, nil)
	_ = s.SetUpdateInterval(sensor.AngularRate, 20*time.Millisecond)
	_ = s.SetUpdateInterval(sensor.MagneticField, time.Millisecond)
	if got := dev.rates[len(dev.rates)-1]; math.Abs(got-100) > 1e-9 {
		t.Fatalf("rate=%v want 100 (accel default interval)", got)
	}
	if err := s.SetUpdateInterval(sensor.Acceleration, -time.Second); err == nil {
		t.Fatalf("expected error for negative interval")
	}
}

func TestSource_ReadErrorLoggedOnce(t *testing.T) {
	var logs []string
	old := logf
	logf = func(format string, _ ...any) { logs = append(logs, format) }
	t.Cleanup(func() { logf = old })

	dev := &fakeDevice{err: errors.New("nack")}
	s := NewSource(dev, nil)
	var n int
	s.Subscribe(sensor.Acceleration, func(sensor.Vec3) { n++ }, nil)
	s.poll(time.Now())
	s.poll(time.Now())
	dev.mu.Lock()
	dev.err = nil
	dev.mu.Unlock()
	s.poll(time.Now())
	if len(logs) != 2 || n != 1 {
		t.Fatalf("logs=%q samples=%d", logs, n)
	}
}

func TestSource_RunWithTrigger(t *testing.T) {
	dev := &fakeDevice{reading: Reading{Az: 1}}
	trigger := make(chan struct{})
	s := NewSource(dev, trigger)
	got := make(chan sensor.Vec3, 1)
	sub := s.Subscribe(sensor.Acceleration, func(v sensor.Vec3) {
		select {
		case got <- v:
		default:
		}
	}, nil)
	defer sub.Unsubscribe()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	trigger <- struct{}{}
	select {
	case v := <-got:
		if math.Abs(v[2]-sensor.StandardGravity) > 1e-12 {
			t.Fatalf("accel=%v", v)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no sample after trigger")
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return")
	}
}
