package web

import (
	"sync"

	"sensorfusion/internal/fusion"
)

// SnapshotBroadcaster fans fusion snapshots out to stream clients. Each client
// has its own buffered channel; a slow client misses snapshots instead of
// stalling the fusion cycle. The most recent snapshot is replayed to new
// subscribers.
type SnapshotBroadcaster struct {
	mu       sync.RWMutex
	subs     map[int]chan fusion.Snapshot
	nextID   int
	last     fusion.Snapshot
	haveLast bool
	dropped  uint64
}

func NewSnapshotBroadcaster() *SnapshotBroadcaster {
	return &SnapshotBroadcaster{subs: make(map[int]chan fusion.Snapshot)}
}

func (b *SnapshotBroadcaster) Subscribe(buffer int) (int, <-chan fusion.Snapshot) {
	if b == nil {
		return 0, nil
	}
	if buffer <= 0 {
		buffer = 2
	}
	ch := make(chan fusion.Snapshot, buffer)
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	if b.haveLast {
		ch <- b.last
	}
	b.mu.Unlock()
	return id, ch
}

// Unsubscribe closes the client's channel.
func (b *SnapshotBroadcaster) Unsubscribe(id int) {
	if b == nil {
		return
	}
	b.mu.Lock()
	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
	b.mu.Unlock()
}

// Publish never blocks. It is meant to be registered as a pipeline observer.
func (b *SnapshotBroadcaster) Publish(s fusion.Snapshot) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.last = s
	b.haveLast = true
	for _, ch := range b.subs {
		select {
		case ch <- s:
		default:
			b.dropped++
		}
	}
}

func (b *SnapshotBroadcaster) Clients() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Dropped counts snapshots skipped for slow clients.
func (b *SnapshotBroadcaster) Dropped() uint64 {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dropped
}
