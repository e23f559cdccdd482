package bus

import (
	"strings"
	"sync"
)

// Bus is an in-process publish/subscribe event bus. Subscribers receive
// every event whose Kind starts with their namespace prefix. Delivery is
// non-blocking: events for a full subscriber buffer are dropped.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]*subscriber
	nextID int
}

type subscriber struct {
	prefix string
	ch     chan Event
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[int]*subscriber)}
}

// Publish delivers evt to every subscriber whose prefix matches evt.Kind.
func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		if !strings.HasPrefix(evt.Kind, s.prefix) {
			continue
		}
		select {
		case s.ch <- evt:
		default:
			// Slow subscriber; drop rather than stall publishers.
		}
	}
}

// Subscribe registers an interest in events with the given Kind prefix.
// The returned function removes the subscription; the channel is never
// closed, so receivers should select on their own done signal.
func (b *Bus) Subscribe(prefix string, buf int) (<-chan Event, func()) {
	ch := make(chan Event, buf)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = &subscriber{prefix: prefix, ch: ch}
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}
