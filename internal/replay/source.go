package replay

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"sensorfusion/internal/sensor"
)

var logf = log.Printf

// ErrNotRecorded is reported to subscribers of a channel the log has no
// samples for.
type ErrNotRecorded struct {
	Channel sensor.Channel
}

func (e ErrNotRecorded) Error() string {
	return fmt.Sprintf("replay: %s not in recording", e.Channel)
}

type SourceConfig struct {
	// Speed scales playback; 1 is real time.
	Speed float64
	Loop  bool
	// Sleeper defaults to real time.
	Sleeper Sleeper
}

type subscriber struct {
	onSample func(sensor.Vec3)
	onError  func(error)
}

// Source plays a recording to its subscribers. Samples keep their recorded
// rate; SetUpdateInterval is accepted but has no effect.
type Source struct {
	records  []Record
	cfg      SourceConfig
	recorded sensor.ChannelSet

	mu     sync.Mutex
	nextID int
	subs   [sensor.NumChannels]map[int]subscriber
}

func NewSource(records []Record, cfg SourceConfig) (*Source, error) {
	if cfg.Speed == 0 {
		cfg.Speed = 1
	}
	if cfg.Speed < 0 {
		return nil, fmt.Errorf("replay: speed must be > 0")
	}
	s := &Source{records: records, cfg: cfg}
	for _, r := range records {
		if !r.Start {
			s.recorded = s.recorded.With(r.Channel)
		}
	}
	if s.recorded.Empty() {
		return nil, fmt.Errorf("replay: recording has no samples")
	}
	for i := range s.subs {
		s.subs[i] = make(map[int]subscriber)
	}
	return s, nil
}

// Recorded is the set of channels present in the log.
func (s *Source) Recorded() sensor.ChannelSet { return s.recorded }

func (s *Source) Subscribe(ch sensor.Channel, onSample func(sensor.Vec3), onError func(error)) sensor.Subscription {
	if !ch.Valid() || !s.recorded.Has(ch) {
		if onError != nil {
			go onError(ErrNotRecorded{Channel: ch})
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

func (s *Source) SetUpdateInterval(ch sensor.Channel, interval time.Duration) error {
	if !ch.Valid() {
		return fmt.Errorf("replay: invalid channel %d", int(ch))
	}
	if interval <= 0 {
		return fmt.Errorf("replay: interval must be > 0 (got %s)", interval)
	}
	return nil
}

// Run plays the recording until it ends (or forever when looping) or ctx
// ends.
func (s *Source) Run(ctx context.Context) error {
	err := Play(ctx, s.records, s.cfg.Speed, s.cfg.Loop, s.cfg.Sleeper, func(r Record) error {
		s.mu.Lock()
		subs := make([]subscriber, 0, len(s.subs[r.Channel]))
		for _, sub := range s.subs[r.Channel] {
			subs = append(subs, sub)
		}
		s.mu.Unlock()
		for _, sub := range subs {
			if sub.onSample != nil {
				sub.onSample(r.Value)
			}
		}
		return nil
	})
	if err == nil && ctx.Err() == nil {
		logf("replay: recording finished")
	}
	return err
}

// Tap records every sample src delivers. Subscribers of one channel share a
// single upstream subscription, so each delivery is written once however many
// subscribers receive it. A channel that failed reports the same error to
// later subscribers until its last subscriber leaves.
type Tap struct {
	sensor.Source
	w   *Writer
	now func() time.Time

	mu      sync.Mutex
	chans   [sensor.NumChannels]tapChannel
	failing atomic.Bool
}

type tapListener struct {
	onSample func(sensor.Vec3)
	onError  func(error)
}

type tapChannel struct {
	listeners []*tapListener
	// active is set from the first Subscribe upstream until the upstream
	// subscription is dropped; upstream may still be nil while it is being
	// established.
	active   bool
	upstream sensor.Subscription
	err      error
}

func NewTap(src sensor.Source, w *Writer) *Tap {
	return &Tap{Source: src, w: w, now: time.Now}
}

func (t *Tap) Subscribe(ch sensor.Channel, onSample func(sensor.Vec3), onError func(error)) sensor.Subscription {
	if !ch.Valid() {
		return t.Source.Subscribe(ch, onSample, onError)
	}
	l := &tapListener{onSample: onSample, onError: onError}

	t.mu.Lock()
	c := &t.chans[ch]
	c.listeners = append(c.listeners, l)
	start := !c.active
	c.active = true
	failed := c.err
	t.mu.Unlock()

	var once sync.Once
	sub := sensor.SubscriptionFunc(func() {
		once.Do(func() { t.unsubscribe(ch, l) })
	})
	if failed != nil {
		if onError != nil {
			onError(failed)
		}
		return sub
	}
	if !start {
		return sub
	}

	// Sources may deliver synchronously from Subscribe, so the lock is not held.
	up := t.Source.Subscribe(ch,
		func(v sensor.Vec3) { t.deliver(ch, v) },
		func(err error) { t.fail(ch, err) },
	)
	t.mu.Lock()
	if len(c.listeners) > 0 {
		c.upstream = up
		up = nil
	} else {
		c.active = false
		c.err = nil
	}
	t.mu.Unlock()
	if up != nil {
		up.Unsubscribe()
	}
	return sub
}

func (t *Tap) unsubscribe(ch sensor.Channel, target *tapListener) {
	t.mu.Lock()
	c := &t.chans[ch]
	for i, l := range c.listeners {
		if l == target {
			c.listeners = append(c.listeners[:i:i], c.listeners[i+1:]...)
			break
		}
	}
	var up sensor.Subscription
	if len(c.listeners) == 0 && c.upstream != nil {
		up = c.upstream
		c.upstream = nil
		c.active = false
		c.err = nil
	}
	t.mu.Unlock()
	if up != nil {
		up.Unsubscribe()
	}
}

func (t *Tap) listeners(ch sensor.Channel) []*tapListener {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*tapListener(nil), t.chans[ch].listeners...)
}

func (t *Tap) deliver(ch sensor.Channel, v sensor.Vec3) {
	t.record(ch, v)
	for _, l := range t.listeners(ch) {
		if l.onSample != nil {
			l.onSample(v)
		}
	}
}

func (t *Tap) fail(ch sensor.Channel, err error) {
	t.mu.Lock()
	t.chans[ch].err = err
	t.mu.Unlock()
	for _, l := range t.listeners(ch) {
		if l.onError != nil {
			l.onError(err)
		}
	}
}

func (t *Tap) record(ch sensor.Channel, v sensor.Vec3) {
	if err := t.w.WriteSample(t.now(), ch, v); err != nil {
		if !t.failing.Swap(true) {
			logf("replay: record failed: %v", err)
		}
		return
	}
	t.failing.Store(false)
}
