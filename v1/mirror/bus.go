package mirror

import (
	"context"
	"sync"
	"sync/atomic"
)

// Event is one propagated write. Seq is the publishing slot's seqlock
// sequence; Node identifies the publisher so it can skip its own
// events. A Deleted event carries no payload.
type Event struct {
	Key     string `json:"k"`
	Seq     uint64 `json:"s"`
	Node    string `json:"n"`
	Payload []byte `json:"p,omitempty"`
	TTL     int64  `json:"t,omitempty"` // nanoseconds, 0 means no expiry
	Deleted bool   `json:"d,omitempty"`
}

// Bus carries mirror events between nodes.
type Bus interface {
	Publish(ctx context.Context, topic string, ev Event) error
	Subscribe(ctx context.Context, topic string) (chan Event, error)
	Unsubscribe(ctx context.Context, topic string, ch chan Event) error
}

// BusMetrics reports publish and delivery counts for a bus.
type BusMetrics struct {
	Published uint64
	Delivered uint64
}

// InMemoryBus is a local implementation of Bus mainly for testing and
// single-process use.
type InMemoryBus struct {
	mu        sync.Mutex
	subs      map[string][]chan Event
	published atomic.Uint64
	delivered atomic.Uint64
}

// NewInMemoryBus returns a new InMemoryBus.
func NewInMemoryBus() *InMemoryBus {
	return &InMemoryBus{subs: make(map[string][]chan Event)}
}

// Publish implements Bus.Publish. Delivery is non-blocking; a
// subscriber with a full channel misses the event. Sends happen under
// the same mutex Unsubscribe closes channels under, so a publish can
// never race a close.
func (b *InMemoryBus) Publish(ctx context.Context, topic string, ev Event) error {
	b.published.Add(1)
	b.mu.Lock()
	for _, ch := range b.subs[topic] {
		select {
		case ch <- ev:
			b.delivered.Add(1)
		default:
		}
	}
	b.mu.Unlock()
	return nil
}

// Subscribe implements Bus.Subscribe. The subscription ends when the
// context is cancelled or Unsubscribe is called.
func (b *InMemoryBus) Subscribe(ctx context.Context, topic string) (chan Event, error) {
	ch := make(chan Event, 16)
	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], ch)
	b.mu.Unlock()
	go func() {
		<-ctx.Done()
		_ = b.Unsubscribe(context.Background(), topic, ch)
	}()
	return ch, nil
}

// Unsubscribe implements Bus.Unsubscribe.
func (b *InMemoryBus) Unsubscribe(ctx context.Context, topic string, ch chan Event) error {
	b.mu.Lock()
	subs := b.subs[topic]
	for i, c := range subs {
		if c == ch {
			subs[i] = subs[len(subs)-1]
			subs = subs[:len(subs)-1]
			b.subs[topic] = subs
			close(c)
			break
		}
	}
	if len(subs) == 0 {
		delete(b.subs, topic)
	}
	b.mu.Unlock()
	return nil
}

// Metrics returns the published and delivered counts.
func (b *InMemoryBus) Metrics() BusMetrics {
	return BusMetrics{
		Published: b.published.Load(),
		Delivered: b.delivered.Load(),
	}
}
