package sim

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"sensorfusion/internal/sensor"
)

const DefaultInterval = 20 * time.Millisecond

// ErrUnavailable is reported to subscribers of a channel configured as absent.
type ErrUnavailable struct {
	Channel sensor.Channel
}

func (e ErrUnavailable) Error() string {
	return fmt.Sprintf("sim: %s sensor not available", e.Channel)
}

type Config struct {
	Motion Motion
	// Noise is the standard deviation added to each axis.
	Noise float64
	Seed  int64
	// Unavailable channels report ErrUnavailable instead of samples.
	Unavailable sensor.ChannelSet
}

// Source is a sensor.Source backed by Motion. Every subscription runs its own
// timer loop at the channel's current update interval.
type Source struct {
	cfg   Config
	start time.Time

	mu        sync.Mutex
	rng       *rand.Rand
	intervals [sensor.NumChannels]time.Duration
	closed    bool
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

var now = time.Now

func New(cfg Config) *Source {
	s := &Source{
		cfg:    cfg,
		start:  now(),
		rng:    rand.New(rand.NewSource(cfg.Seed)),
		stopCh: make(chan struct{}),
	}
	for i := range s.intervals {
		s.intervals[i] = DefaultInterval
	}
	return s
}

func (s *Source) Subscribe(ch sensor.Channel, onSample func(sensor.Vec3), onError func(error)) sensor.Subscription {
	if !ch.Valid() {
		if onError != nil {
			go onError(fmt.Errorf("sim: invalid channel %d", int(ch)))
		}
		return sensor.SubscriptionFunc(nil)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return sensor.SubscriptionFunc(nil)
	}
	done := make(chan struct{})
	s.wg.Add(1)
	s.mu.Unlock()

	if s.cfg.Unavailable.Has(ch) {
		go func() {
			defer s.wg.Done()
			if onError != nil {
				onError(ErrUnavailable{Channel: ch})
			}
		}()
	} else {
		go s.run(ch, onSample, done)
	}

	var once sync.Once
	return sensor.SubscriptionFunc(func() {
		once.Do(func() { close(done) })
	})
}

func (s *Source) run(ch sensor.Channel, onSample func(sensor.Vec3), done <-chan struct{}) {
	defer s.wg.Done()
	for {
		timer := time.NewTimer(s.interval(ch))
		select {
		case <-done:
			timer.Stop()
			return
		case <-s.stopCh:
			timer.Stop()
			return
		case <-timer.C:
		}
		if onSample != nil {
			onSample(s.sample(ch))
		}
	}
}

func (s *Source) sample(ch sensor.Channel) sensor.Vec3 {
	v := s.cfg.Motion.Reading(ch, now().Sub(s.start))
	if s.cfg.Noise <= 0 {
		return v
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range v {
		v[i] += s.rng.NormFloat64() * s.cfg.Noise
	}
	return v
}

func (s *Source) interval(ch sensor.Channel) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.intervals[ch]
}

// SetUpdateInterval takes effect after the pending sample of each running
// subscription.
func (s *Source) SetUpdateInterval(ch sensor.Channel, interval time.Duration) error {
	if !ch.Valid() {
		return fmt.Errorf("sim: invalid channel %d", int(ch))
	}
	if interval <= 0 {
		return fmt.Errorf("sim: interval must be > 0 (got %s)", interval)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.intervals[ch] = interval
	return nil
}

// Close stops every subscription and waits for in-flight callbacks.
func (s *Source) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.stopCh)
	s.mu.Unlock()
	s.wg.Wait()
}
