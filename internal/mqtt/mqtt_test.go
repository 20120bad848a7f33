package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"sensorfusion/internal/fusion"
	"sensorfusion/internal/sensor"
)

type fakeToken struct {
	err  error
	done chan struct{}
}

func doneToken(err error) *fakeToken {
	t := &fakeToken{err: err, done: make(chan struct{})}
	close(t.done)
	return t
}

func (t *fakeToken) Wait() bool {
	<-t.done
	return true
}

func (t *fakeToken) WaitTimeout(d time.Duration) bool {
	select {
	case <-t.done:
		return true
	case <-time.After(d):
		return false
	}
}

func (t *fakeToken) Done() <-chan struct{} { return t.done }
func (t *fakeToken) Error() error          { return t.err }

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 0 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 0 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

type published struct {
	topic    string
	retained bool
	payload  []byte
}

type fakeClient struct {
	mu           sync.Mutex
	handlers     map[string]paho.MessageHandler
	subscribeErr error
	publishErr   error
	unsubscribed []string
	published    []published
}

func newFakeClient() *fakeClient {
	return &fakeClient{handlers: make(map[string]paho.MessageHandler)}
}

func (c *fakeClient) Subscribe(topic string, _ byte, cb paho.MessageHandler) paho.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subscribeErr != nil {
		return doneToken(c.subscribeErr)
	}
	c.handlers[topic] = cb
	return doneToken(nil)
}

func (c *fakeClient) Unsubscribe(topics ...string) paho.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range topics {
		delete(c.handlers, t)
		c.unsubscribed = append(c.unsubscribed, t)
	}
	return doneToken(nil)
}

func (c *fakeClient) Publish(topic string, _ byte, retained bool, payload interface{}) paho.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	var b []byte
	switch p := payload.(type) {
	case string:
		b = []byte(p)
	case []byte:
		b = p
	}
	c.published = append(c.published, published{topic: topic, retained: retained, payload: b})
	return doneToken(c.publishErr)
}

func (c *fakeClient) deliver(topic, payload string) bool {
	c.mu.Lock()
	h := c.handlers[topic]
	c.mu.Unlock()
	if h == nil {
		return false
	}
	h(nil, fakeMessage{topic: topic, payload: []byte(payload)})
	return true
}

func (c *fakeClient) publishedTo(topic string) []published {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []published
	for _, p := range c.published {
		if p.topic == topic {
			out = append(out, p)
		}
	}
	return out
}

func quiet(t *testing.T) *[]string {
	t.Helper()
	var lines []string
	var mu sync.Mutex
	old := logf
	logf = func(format string, _ ...any) {
		mu.Lock()
		defer mu.Unlock()
		lines = append(lines, format)
	}
	t.Cleanup(func() { logf = old })
	return &lines
}

func TestSource_Topics(t *testing.T) {
	s := NewSource(newFakeClient(), Config{TopicPrefix: "imu/left/"})
	if got := s.Topic(sensor.MagneticField); got != "imu/left/magnetic_field" {
		t.Fatalf("topic=%q", got)
	}
	if got := s.IntervalTopic(sensor.AngularRate); got != "imu/left/angular_rate/interval" {
		t.Fatalf("interval topic=%q", got)
	}
}

func TestSource_DeliversDecodedSamples(t *testing.T) {
	quiet(t)
	c := newFakeClient()
	s := NewSource(c, Config{TopicPrefix: "sf"})

	var got []sensor.Vec3
	sub := s.Subscribe(sensor.Acceleration, func(v sensor.Vec3) { got = append(got, v) }, func(err error) {
		t.Errorf("unexpected error: %v", err)
	})
	if !c.deliver("sf/acceleration", `{"x":0.1,"y":-0.2,"z":9.8}`) {
		t.Fatalf("no broker subscription")
	}
	c.deliver("sf/acceleration", `{"x":1,"y":2}`)
	c.deliver("sf/acceleration", `not json`)

	if len(got) != 1 || got[0] != (sensor.Vec3{0.1, -0.2, 9.8}) {
		t.Fatalf("got=%v", got)
	}

	sub.Unsubscribe()
	sub.Unsubscribe()
	if len(c.unsubscribed) != 1 || c.unsubscribed[0] != "sf/acceleration" {
		t.Fatalf("unsubscribed=%v", c.unsubscribed)
	}
	if c.deliver("sf/acceleration", `{"x":0,"y":0,"z":1}`) {
		t.Fatalf("still subscribed after Unsubscribe")
	}
}

func TestSource_SharesBrokerSubscription(t *testing.T) {
	c := newFakeClient()
	s := NewSource(c, Config{TopicPrefix: "sf"})
	var a, b int
	subA := s.Subscribe(sensor.AngularRate, func(sensor.Vec3) { a++ }, nil)
	subB := s.Subscribe(sensor.AngularRate, func(sensor.Vec3) { b++ }, nil)
	c.deliver("sf/angular_rate", `{"x":0,"y":0,"z":0}`)
	subA.Unsubscribe()
	if len(c.unsubscribed) != 0 {
		t.Fatalf("broker unsubscribed while a listener remains")
	}
	c.deliver("sf/angular_rate", `{"x":0,"y":0,"z":0}`)
	subB.Unsubscribe()
	if a != 1 || b != 2 {
		t.Fatalf("a=%d b=%d", a, b)
	}
	if len(c.unsubscribed) != 1 {
		t.Fatalf("unsubscribed=%v", c.unsubscribed)
	}
}

func TestSource_ProducerReportsUnavailable(t *testing.T) {
	c := newFakeClient()
	s := NewSource(c, Config{TopicPrefix: "sf"})
	errCh := make(chan error, 1)
	s.Subscribe(sensor.MagneticField, func(sensor.Vec3) { t.Errorf("unexpected sample") }, func(err error) { errCh <- err })
	c.deliver("sf/magnetic_field", `{"error":"no magnetometer"}`)
	select {
	case err := <-errCh:
		if !strings.Contains(err.Error(), "no magnetometer") {
			t.Fatalf("err=%v", err)
		}
	default:
		t.Fatalf("no error delivered")
	}
}

func TestSource_SubscribeFailureReportsError(t *testing.T) {
	c := newFakeClient()
	c.subscribeErr = errors.New("not authorized")
	s := NewSource(c, Config{TopicPrefix: "sf"})
	errCh := make(chan error, 1)
	s.Subscribe(sensor.AngularRate, nil, func(err error) { errCh <- err })
	select {
	case err := <-errCh:
		if !strings.Contains(err.Error(), "not authorized") {
			t.Fatalf("err=%v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no error delivered")
	}
}

func TestSource_SetUpdateIntervalPublishesRetainedMillis(t *testing.T) {
	c := newFakeClient()
	s := NewSource(c, Config{TopicPrefix: "sf"})
	if err := s.SetUpdateInterval(sensor.Acceleration, time.Second/60); err != nil {
		t.Fatalf("SetUpdateInterval: %v", err)
	}
	if err := s.SetUpdateInterval(sensor.Acceleration, 10*time.Millisecond); err != nil {
		t.Fatalf("SetUpdateInterval: %v", err)
	}
	got := c.publishedTo("sf/acceleration/interval")
	if len(got) != 2 || !got[0].retained {
		t.Fatalf("published=%+v", got)
	}
	if string(got[0].payload) != "16.666666" || string(got[1].payload) != "10" {
		t.Fatalf("payloads=%q %q", got[0].payload, got[1].payload)
	}

	if err := s.SetUpdateInterval(sensor.Acceleration, 0); err == nil {
		t.Fatalf("expected error for zero interval")
	}
	c.publishErr = errors.New("offline")
	if err := s.SetUpdateInterval(sensor.Acceleration, time.Second); err == nil {
		t.Fatalf("expected publish error")
	}
}

func TestSink_PublishesSnapshots(t *testing.T) {
	c := newFakeClient()
	s := NewSink(c, Config{TopicPrefix: "sf"})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	s.Offer(fusion.Snapshot{Seq: 1})
	s.Offer(fusion.Snapshot{Seq: 2})

	deadline := time.Now().Add(2 * time.Second)
	for len(c.publishedTo("sf/fusion")) < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("published=%d", len(c.publishedTo("sf/fusion")))
		}
		time.Sleep(time.Millisecond)
	}
	var m map[string]any
	if err := json.Unmarshal(c.publishedTo("sf/fusion")[1].payload, &m); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if m["seq"].(float64) != 2 {
		t.Fatalf("seq=%v", m["seq"])
	}
	if sent, dropped := s.Stats(); sent != 2 || dropped != 0 {
		t.Fatalf("sent=%d dropped=%d", sent, dropped)
	}
}

func TestSink_OfferDropsOldestWhenFull(t *testing.T) {
	s := NewSink(newFakeClient(), Config{TopicPrefix: "sf"})
	for i := 0; i < sinkQueue+5; i++ {
		s.Offer(fusion.Snapshot{Seq: uint64(i)})
	}
	if _, dropped := s.Stats(); dropped != 5 {
		t.Fatalf("dropped=%d want 5", dropped)
	}
	first := <-s.queue
	if first.Seq != 5 {
		t.Fatalf("oldest queued seq=%d want 5", first.Seq)
	}
}

func TestClientID(t *testing.T) {
	if got := (Config{ClientID: "fixed"}).clientID(); got != "fixed" {
		t.Fatalf("clientID=%q", got)
	}
	a := Config{}.clientID()
	b := Config{}.clientID()
	if !strings.HasPrefix(a, "sensorfusion-") || a == b {
		t.Fatalf("generated ids %q %q", a, b)
	}
}

func TestConnect_RequiresBroker(t *testing.T) {
	if _, err := Connect(Config{}); err == nil {
		t.Fatalf("expected error")
	}
}
