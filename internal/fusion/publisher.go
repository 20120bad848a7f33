package fusion

import (
	"sync"
	"sync/atomic"
)

type observer struct {
	fn      func(Snapshot)
	removed atomic.Bool
}

// Publisher holds the latest snapshot and notifies observers in registration
// order. Notification runs on the publishing goroutine, outside the
// publisher's lock, so observers may read Current.
type Publisher struct {
	mu        sync.RWMutex
	cur       Snapshot
	have      bool
	observers []*observer
}

func NewPublisher() *Publisher {
	return &Publisher{}
}

func (p *Publisher) Publish(s Snapshot) {
	if p == nil {
		return
	}
	p.mu.Lock()
	p.cur = s
	p.have = true
	obs := append([]*observer(nil), p.observers...)
	p.mu.Unlock()

	for _, o := range obs {
		if !o.removed.Load() {
			o.fn(s)
		}
	}
}

// Subscribe registers fn. The returned func removes it and may be called any
// number of times.
func (p *Publisher) Subscribe(fn func(Snapshot)) func() {
	if p == nil || fn == nil {
		return func() {}
	}
	o := &observer{fn: fn}
	p.mu.Lock()
	p.observers = append(p.observers, o)
	p.mu.Unlock()

	return func() {
		if o.removed.Swap(true) {
			return
		}
		p.remove(o)
	}
}

func (p *Publisher) remove(target *observer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, o := range p.observers {
		if o == target {
			p.observers = append(p.observers[:i:i], p.observers[i+1:]...)
			return
		}
	}
}

// Current returns the latest snapshot; ok is false before the first Publish.
func (p *Publisher) Current() (Snapshot, bool) {
	if p == nil {
		return Snapshot{}, false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cur, p.have
}

// Observers is the number of registered observers.
func (p *Publisher) Observers() int {
	if p == nil {
		return 0
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.observers)
}
