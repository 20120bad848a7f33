package mqtt

import (
	"context"
	"encoding/json"
	"sync"

	"sensorfusion/internal/fusion"
)

const sinkQueue = 16

// Sink publishes snapshots to <prefix>/fusion. Offer never blocks; when the
// broker falls behind, the oldest queued snapshot is dropped.
type Sink struct {
	client Client
	cfg    Config

	queue chan fusion.Snapshot

	mu      sync.Mutex
	dropped uint64
	sent    uint64
}

func NewSink(client Client, cfg Config) *Sink {
	return &Sink{
		client: client,
		cfg:    cfg,
		queue:  make(chan fusion.Snapshot, sinkQueue),
	}
}

func (s *Sink) Topic() string {
	return s.cfg.prefix() + "/fusion"
}

// Offer queues a snapshot. It is meant to be registered as a pipeline
// observer.
func (s *Sink) Offer(snap fusion.Snapshot) {
	for {
		select {
		case s.queue <- snap:
			return
		default:
		}
		select {
		case <-s.queue:
			s.mu.Lock()
			s.dropped++
			s.mu.Unlock()
		default:
		}
	}
}

// Run publishes queued snapshots until ctx ends.
func (s *Sink) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap := <-s.queue:
			s.publish(snap)
		}
	}
}

func (s *Sink) publish(snap fusion.Snapshot) {
	b, err := json.Marshal(snap)
	if err != nil {
		logf("mqtt: encode snapshot: %v", err)
		return
	}
	if err := wait(s.client.Publish(s.Topic(), s.cfg.QoS, false, b)); err != nil {
		logf("mqtt: publish %s: %v", s.Topic(), err)
		return
	}
	s.mu.Lock()
	s.sent++
	s.mu.Unlock()
}

// Stats returns how many snapshots were published and dropped.
func (s *Sink) Stats() (sent, dropped uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sent, s.dropped
}
