// Package stream owns the three sensor subscriptions of a fusion pipeline and
// turns independently clocked samples into fusion cycles.
package stream

import (
	"log"
	"sync"
	"sync/atomic"
	"time"

	"sensorfusion/internal/kalman"
	"sensorfusion/internal/sensor"
)

var logf = log.Printf

// Buffer holds the latest filtered vector of every channel, indexed by
// sensor.Channel.
type Buffer [sensor.NumChannels]sensor.Vec3

// Handler runs once per completed cycle, under the manager's lock. It may call
// Cycles and Excluded but no other Manager method.
type Handler func(Buffer)

// Manager filters every incoming sample, keeps it in the cycle buffer and runs
// the handler whenever a sample arrives on sensor.Last. Cycles reuse whatever
// the other channels last delivered, including values from earlier cycles.
type Manager struct {
	src sensor.Source

	mu       sync.Mutex
	interval time.Duration
	handler  Handler
	banks    [sensor.NumChannels]kalman.Bank
	buf      Buffer
	subs     [sensor.NumChannels]sensor.Subscription
	started  bool
	closed   bool

	// Written under mu, read without it.
	excluded atomic.Uint32
	cycles   atomic.Uint64
}

func New(src sensor.Source, interval time.Duration, handler Handler) *Manager {
	m := &Manager{
		src:      src,
		interval: interval,
		handler:  handler,
	}
	m.resetFiltersLocked()
	return m
}

func (m *Manager) resetFiltersLocked() {
	for i := range m.banks {
		m.banks[i] = kalman.NewBank()
	}
	m.buf = Buffer{}
}

// Start applies the update interval and subscribes every channel. It is a
// no-op after the first call or after Close.
func (m *Manager) Start() {
	if m == nil || m.src == nil {
		return
	}
	m.mu.Lock()
	if m.started || m.closed {
		m.mu.Unlock()
		return
	}
	m.started = true
	interval := m.interval
	m.mu.Unlock()

	m.applyInterval(interval)

	// Sources may deliver synchronously from Subscribe, so the lock is not held.
	for _, ch := range sensor.Channels {
		ch := ch
		sub := m.src.Subscribe(ch,
			func(v sensor.Vec3) { m.onSample(ch, v) },
			func(err error) { m.onError(ch, err) },
		)
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			if sub != nil {
				sub.Unsubscribe()
			}
			continue
		}
		m.subs[ch] = sub
		m.mu.Unlock()
	}
}

func (m *Manager) applyInterval(interval time.Duration) {
	if interval <= 0 {
		return
	}
	for _, ch := range sensor.Channels {
		if err := m.src.SetUpdateInterval(ch, interval); err != nil {
			logf("stream: set %s interval: %v", ch, err)
		}
	}
}

func (m *Manager) onSample(ch sensor.Channel, v sensor.Vec3) {
	if !ch.Valid() || !v.Finite() {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || m.excludedSet().Has(ch) {
		return
	}
	m.buf[ch] = m.banks[ch].Filter(v)
	if ch != sensor.Last {
		return
	}
	m.cycles.Add(1)
	if m.handler != nil {
		m.handler(m.buf)
	}
}

func (m *Manager) onError(ch sensor.Channel, err error) {
	m.mu.Lock()
	ex := m.excludedSet()
	if m.closed || ex.Has(ch) {
		m.mu.Unlock()
		return
	}
	m.excluded.Store(uint32(ex.With(ch)))
	m.mu.Unlock()
	logf("stream: %s unavailable: %v", ch, err)
}

// Reset swaps the handler and restarts every channel filter and the cycle
// buffer from zero. The update interval is re-applied only when it changed.
func (m *Manager) Reset(interval time.Duration, handler Handler) {
	if m == nil {
		return
	}
	m.mu.Lock()
	changed := interval != m.interval
	m.interval = interval
	m.handler = handler
	m.resetFiltersLocked()
	apply := changed && m.started && !m.closed
	m.mu.Unlock()

	if apply {
		m.applyInterval(interval)
	}
}

// Interval is the per-sample interval currently requested from the source.
func (m *Manager) Interval() time.Duration {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.interval
}

// Excluded reports channels that failed and no longer feed the buffer.
func (m *Manager) Excluded() sensor.ChannelSet {
	if m == nil {
		return 0
	}
	return m.excludedSet()
}

func (m *Manager) excludedSet() sensor.ChannelSet {
	return sensor.ChannelSet(m.excluded.Load())
}

// Cycles counts completed fusion cycles since construction.
func (m *Manager) Cycles() uint64 {
	if m == nil {
		return 0
	}
	return m.cycles.Load()
}

// Close cancels every subscription exactly once. Later samples are dropped.
func (m *Manager) Close() {
	if m == nil {
		return
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	subs := m.subs
	m.subs = [sensor.NumChannels]sensor.Subscription{}
	m.mu.Unlock()

	for _, sub := range subs {
		if sub != nil {
			sub.Unsubscribe()
		}
	}
}
