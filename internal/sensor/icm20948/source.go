package icm20948

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"sensorfusion/internal/sensor"
)

var logf = log.Printf

const defaultInterval = 10 * time.Millisecond

// ErrNoMagnetometer is reported to magnetic-field subscribers when the
// AK09916 did not answer at startup.
var ErrNoMagnetometer = errors.New("icm20948: magnetometer not detected")

type device interface {
	Read() (Reading, error)
	SetSampleRate(hz float64) error
	HasMagnetometer() bool
}

type subscriber struct {
	onSample func(sensor.Vec3)
	onError  func(error)
}

// Source polls a Device and fans readings out per channel. Without a trigger
// it polls at the fastest requested interval; with one, every trigger event
// (the chip's data-ready line) starts a read.
type Source struct {
	devMu sync.Mutex
	dev   device

	trigger <-chan struct{}
	wake    chan struct{}

	mu        sync.Mutex
	nextID    int
	subs      [sensor.NumChannels]map[int]subscriber
	intervals [sensor.NumChannels]time.Duration
	last      [sensor.NumChannels]time.Time
	failing   bool
}

func NewSource(dev device, trigger <-chan struct{}) *Source {
	s := &Source{
		dev:     dev,
		trigger: trigger,
		wake:    make(chan struct{}, 1),
	}
	for i := range s.subs {
		s.subs[i] = make(map[int]subscriber)
		s.intervals[i] = defaultInterval
	}
	return s
}

func (s *Source) Subscribe(ch sensor.Channel, onSample func(sensor.Vec3), onError func(error)) sensor.Subscription {
	if !ch.Valid() {
		if onError != nil {
			go onError(fmt.Errorf("icm20948: invalid channel %d", int(ch)))
		}
		return sensor.SubscriptionFunc(nil)
	}
	if ch == sensor.MagneticField && !s.dev.HasMagnetometer() {
		if onError != nil {
			go onError(ErrNoMagnetometer)
		}
		return sensor.SubscriptionFunc(nil)
	}

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[ch][id] = subscriber{onSample: onSample, onError: onError}
	s.mu.Unlock()

	var once sync.Once
	return sensor.SubscriptionFunc(func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs[ch], id)
			s.mu.Unlock()
		})
	})
}

// SetUpdateInterval sets the channel's delivery interval and reprograms the
// chip's output rate to the fastest accel/gyro interval requested.
func (s *Source) SetUpdateInterval(ch sensor.Channel, interval time.Duration) error {
	if !ch.Valid() {
		return fmt.Errorf("icm20948: invalid channel %d", int(ch))
	}
	if interval <= 0 {
		return fmt.Errorf("icm20948: interval must be > 0 (got %s)", interval)
	}
	s.mu.Lock()
	s.intervals[ch] = interval
	fastest := s.intervals[sensor.AngularRate]
	if iv := s.intervals[sensor.Acceleration]; iv < fastest {
		fastest = iv
	}
	s.mu.Unlock()

	s.devMu.Lock()
	err := s.dev.SetSampleRate(float64(time.Second) / float64(fastest))
	s.devMu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return err
}

func (s *Source) pollInterval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	fastest := s.intervals[0]
	for _, iv := range s.intervals[1:] {
		if iv < fastest {
			fastest = iv
		}
	}
	return fastest
}

// Run reads the device until ctx ends.
func (s *Source) Run(ctx context.Context) {
	for {
		var tick <-chan time.Time
		var timer *time.Timer
		if s.trigger == nil {
			timer = time.NewTimer(s.pollInterval())
			tick = timer.C
		}
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case <-s.wake:
			if timer != nil {
				timer.Stop()
			}
			continue
		case <-tick:
		case <-s.trigger:
			if timer != nil {
				timer.Stop()
			}
		}
		s.poll(time.Now())
	}
}

func (s *Source) poll(now time.Time) {
	s.devMu.Lock()
	r, err := s.dev.Read()
	s.devMu.Unlock()

	s.mu.Lock()
	if err != nil {
		first := !s.failing
		s.failing = true
		s.mu.Unlock()
		if first {
			logf("icm20948: read failed: %v", err)
		}
		return
	}
	if s.failing {
		s.failing = false
		logf("icm20948: reads recovered")
	}

	vectors := vectorsOf(r)
	type delivery struct {
		v    sensor.Vec3
		subs []subscriber
	}
	var out []delivery
	for _, ch := range sensor.Channels {
		if len(s.subs[ch]) == 0 {
			continue
		}
		if ch == sensor.MagneticField && !r.MagValid {
			continue
		}
		iv := s.intervals[ch]
		// Accept a tenth of an interval of jitter.
		if !s.last[ch].IsZero() && now.Sub(s.last[ch]) < iv-iv/10 {
			continue
		}
		s.last[ch] = now
		d := delivery{v: vectors[ch]}
		for _, sub := range s.subs[ch] {
			d.subs = append(d.subs, sub)
		}
		out = append(out, d)
	}
	s.mu.Unlock()

	for _, d := range out {
		for _, sub := range d.subs {
			if sub.onSample != nil {
				sub.onSample(d.v)
			}
		}
	}
}

// vectorsOf converts a Reading to rad/s, m/s² and µT.
func vectorsOf(r Reading) [sensor.NumChannels]sensor.Vec3 {
	const rad = math.Pi / 180
	var out [sensor.NumChannels]sensor.Vec3
	out[sensor.AngularRate] = sensor.Vec3{r.Gx * rad, r.Gy * rad, r.Gz * rad}
	out[sensor.Acceleration] = sensor.Vec3{r.Ax * sensor.StandardGravity, r.Ay * sensor.StandardGravity, r.Az * sensor.StandardGravity}
	out[sensor.MagneticField] = sensor.Vec3{r.Mx, r.My, r.Mz}
	return out
}
