// Package sensortest provides an in-memory sensor.Source for tests.
package sensortest

import (
	"sync"
	"time"

	"sensorfusion/internal/sensor"
)

type subscriber struct {
	id       int
	onSample func(sensor.Vec3)
	onError  func(error)
}

// Source records every call and lets tests push samples and errors.
//
// Channels listed in Unavailable fail synchronously from Subscribe. Channels in
// Immediate deliver one sample synchronously from Subscribe.
type Source struct {
	Unavailable map[sensor.Channel]error
	Immediate   map[sensor.Channel]sensor.Vec3
	IntervalErr error

	mu           sync.Mutex
	nextID       int
	subs         [sensor.NumChannels][]subscriber
	subscribes   [sensor.NumChannels]int
	unsubscribes [sensor.NumChannels]int
	intervals    [sensor.NumChannels][]time.Duration
}

func New() *Source {
	return &Source{}
}

func (s *Source) Subscribe(ch sensor.Channel, onSample func(sensor.Vec3), onError func(error)) sensor.Subscription {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[ch] = append(s.subs[ch], subscriber{id: id, onSample: onSample, onError: onError})
	s.subscribes[ch]++
	failErr, fail := s.Unavailable[ch]
	v, immediate := s.Immediate[ch]
	s.mu.Unlock()

	if fail && onError != nil {
		onError(failErr)
	} else if immediate && onSample != nil {
		onSample(v)
	}

	var once sync.Once
	return sensor.SubscriptionFunc(func() {
		once.Do(func() { s.remove(ch, id) })
	})
}

func (s *Source) remove(ch sensor.Channel, id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unsubscribes[ch]++
	subs := s.subs[ch]
	for i, sub := range subs {
		if sub.id == id {
			s.subs[ch] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}

func (s *Source) SetUpdateInterval(ch sensor.Channel, interval time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.intervals[ch] = append(s.intervals[ch], interval)
	return s.IntervalErr
}

func (s *Source) snapshot(ch sensor.Channel) []subscriber {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]subscriber(nil), s.subs[ch]...)
}

// Emit delivers v to every active subscriber of ch on the calling goroutine.
func (s *Source) Emit(ch sensor.Channel, v sensor.Vec3) {
	for _, sub := range s.snapshot(ch) {
		if sub.onSample != nil {
			sub.onSample(v)
		}
	}
}

// Fail delivers err to every active subscriber of ch.
func (s *Source) Fail(ch sensor.Channel, err error) {
	for _, sub := range s.snapshot(ch) {
		if sub.onError != nil {
			sub.onError(err)
		}
	}
}

// Active is the number of live subscriptions on ch.
func (s *Source) Active(ch sensor.Channel) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs[ch])
}

func (s *Source) Subscribes(ch sensor.Channel) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subscribes[ch]
}

func (s *Source) Unsubscribes(ch sensor.Channel) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unsubscribes[ch]
}

// Intervals returns every interval requested for ch, oldest first.
func (s *Source) Intervals(ch sensor.Channel) []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.intervals[ch]...)
}
