// Package events fans dispatch telemetry out to in-process subscribers.
package events

import (
	"sync"
	"sync/atomic"
	"time"

	"aidispatch/internal/core"
)

const defaultBuffer = 64

// Bus delivers events to every subscriber without blocking the publisher.
// A subscriber whose buffer is full misses events; the drop is counted.
type Bus struct {
	mu      sync.RWMutex
	subs    map[int]chan core.Event
	nextID  int
	dropped atomic.Int64
	now     func() time.Time
}

// NewBus creates an empty bus
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan core.Event), now: time.Now}
}

// Subscribe returns a channel of events and a function that detaches it.
// The channel is closed once the returned function is called.
func (b *Bus) Subscribe(buffer int) (<-chan core.Event, func()) {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	ch := make(chan core.Event, buffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Publish implements core.EventPublisher
func (b *Bus) Publish(evt core.Event) {
	if evt.Time.IsZero() {
		evt.Time = b.now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- evt:
		default:
			b.dropped.Add(1)
		}
	}
}

// Dropped returns how many deliveries were skipped
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}

// Subscribers returns the number of attached subscribers
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

var _ core.EventPublisher = (*Bus)(nil)
