package mqtt

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"sensorfusion/internal/sensor"
)

// samplePayload is one reading on <prefix>/<channel>. A producer that has no
// such sensor publishes {"error": "..."} instead.
type samplePayload struct {
	X     *float64 `json:"x"`
	Y     *float64 `json:"y"`
	Z     *float64 `json:"z"`
	Error string   `json:"error,omitempty"`
}

type subscriber struct {
	onSample func(sensor.Vec3)
	onError  func(error)
}

// Source implements sensor.Source on top of broker topics. Update intervals
// are published retained to <prefix>/<channel>/interval in milliseconds for
// the producer to pick up.
type Source struct {
	client Client
	cfg    Config

	mu     sync.Mutex
	nextID int
	subs   [sensor.NumChannels]map[int]subscriber
}

func NewSource(client Client, cfg Config) *Source {
	s := &Source{client: client, cfg: cfg}
	for i := range s.subs {
		s.subs[i] = make(map[int]subscriber)
	}
	return s
}

func (s *Source) Topic(ch sensor.Channel) string {
	return s.cfg.prefix() + "/" + ch.String()
}

func (s *Source) IntervalTopic(ch sensor.Channel) string {
	return s.Topic(ch) + "/interval"
}

func (s *Source) Subscribe(ch sensor.Channel, onSample func(sensor.Vec3), onError func(error)) sensor.Subscription {
	if !ch.Valid() {
		if onError != nil {
			go onError(fmt.Errorf("mqtt: invalid channel %d", int(ch)))
		}
		return sensor.SubscriptionFunc(nil)
	}

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	first := len(s.subs[ch]) == 0
	s.subs[ch][id] = subscriber{onSample: onSample, onError: onError}
	s.mu.Unlock()

	if first {
		tok := s.client.Subscribe(s.Topic(ch), s.cfg.QoS, func(_ paho.Client, msg paho.Message) {
			s.handle(ch, msg.Payload())
		})
		go func() {
			if err := wait(tok); err != nil {
				s.fail(ch, fmt.Errorf("mqtt: subscribe %s: %w", s.Topic(ch), err))
			}
		}()
	}

	var once sync.Once
	return sensor.SubscriptionFunc(func() {
		once.Do(func() { s.unsubscribe(ch, id) })
	})
}

func (s *Source) unsubscribe(ch sensor.Channel, id int) {
	s.mu.Lock()
	delete(s.subs[ch], id)
	last := len(s.subs[ch]) == 0
	s.mu.Unlock()
	if !last {
		return
	}
	if err := wait(s.client.Unsubscribe(s.Topic(ch))); err != nil {
		logf("mqtt: unsubscribe %s: %v", s.Topic(ch), err)
	}
}

func (s *Source) listeners(ch sensor.Channel) []subscriber {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]subscriber, 0, len(s.subs[ch]))
	for _, sub := range s.subs[ch] {
		out = append(out, sub)
	}
	return out
}

func (s *Source) handle(ch sensor.Channel, payload []byte) {
	v, err := decodeSample(payload)
	var unavailable *unavailableError
	if errors.As(err, &unavailable) {
		s.fail(ch, err)
		return
	}
	if err != nil {
		logf("mqtt: drop %s payload: %v", ch, err)
		return
	}
	for _, sub := range s.listeners(ch) {
		if sub.onSample != nil {
			sub.onSample(v)
		}
	}
}

func (s *Source) fail(ch sensor.Channel, err error) {
	for _, sub := range s.listeners(ch) {
		if sub.onError != nil {
			sub.onError(err)
		}
	}
}

type unavailableError struct {
	msg string
}

func (e *unavailableError) Error() string { return "mqtt: producer reports " + e.msg }

func decodeSample(b []byte) (sensor.Vec3, error) {
	var p samplePayload
	if err := json.Unmarshal(b, &p); err != nil {
		return sensor.Vec3{}, err
	}
	if p.Error != "" {
		return sensor.Vec3{}, &unavailableError{msg: p.Error}
	}
	if p.X == nil || p.Y == nil || p.Z == nil {
		return sensor.Vec3{}, fmt.Errorf("missing x, y or z")
	}
	v := sensor.Vec3{*p.X, *p.Y, *p.Z}
	if !v.Finite() {
		return sensor.Vec3{}, fmt.Errorf("non-finite value")
	}
	return v, nil
}

func (s *Source) SetUpdateInterval(ch sensor.Channel, interval time.Duration) error {
	if !ch.Valid() {
		return fmt.Errorf("mqtt: invalid channel %d", int(ch))
	}
	if interval <= 0 {
		return fmt.Errorf("mqtt: interval must be > 0 (got %s)", interval)
	}
	ms := strconv.FormatFloat(float64(interval)/float64(time.Millisecond), 'f', -1, 64)
	if err := wait(s.client.Publish(s.IntervalTopic(ch), s.cfg.QoS, true, ms)); err != nil {
		return fmt.Errorf("mqtt: publish %s: %w", s.IntervalTopic(ch), err)
	}
	return nil
}
