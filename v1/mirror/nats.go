package mirror

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	nats "github.com/nats-io/nats.go"

	seqerrors "github.com/mirkobrombin/go-seqcell/v1/errors"
)

type natsSubscription struct {
	sub   *nats.Subscription
	chans []chan Event
}

// NATSBus implements Bus using a NATS backend.
type NATSBus struct {
	conn      *nats.Conn
	mu        sync.Mutex
	subs      map[string]*natsSubscription
	closed    atomic.Bool
	published atomic.Uint64
	delivered atomic.Uint64
}

// NewNATSBus returns a new NATSBus using the provided connection.
func NewNATSBus(conn *nats.Conn) *NATSBus {
	return &NATSBus{
		conn: conn,
		subs: make(map[string]*natsSubscription),
	}
}

// Publish implements Bus.Publish.
func (b *NATSBus) Publish(ctx context.Context, topic string, ev Event) error {
	if b.closed.Load() {
		return seqerrors.ErrBusClosed
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if err := b.conn.Publish(topic, data); err != nil {
		return err
	}
	b.published.Add(1)
	return nil
}

// Subscribe implements Bus.Subscribe.
func (b *NATSBus) Subscribe(ctx context.Context, topic string) (chan Event, error) {
	if b.closed.Load() {
		return nil, seqerrors.ErrBusClosed
	}
	ch := make(chan Event, 16)
	b.mu.Lock()
	sub := b.subs[topic]
	if sub == nil {
		ns, err := b.conn.Subscribe(topic, func(m *nats.Msg) {
			var ev Event
			if err := json.Unmarshal(m.Data, &ev); err != nil {
				return
			}
			// Sends stay under the mutex so they cannot race a
			// close in Unsubscribe or Close.
			b.mu.Lock()
			if s := b.subs[topic]; s != nil {
				for _, c := range s.chans {
					select {
					case c <- ev:
						b.delivered.Add(1)
					default:
					}
				}
			}
			b.mu.Unlock()
		})
		if err != nil {
			b.mu.Unlock()
			return nil, err
		}
		sub = &natsSubscription{sub: ns}
		b.subs[topic] = sub
	}
	sub.chans = append(sub.chans, ch)
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		_ = b.Unsubscribe(context.Background(), topic, ch)
	}()
	return ch, nil
}

// Unsubscribe implements Bus.Unsubscribe.
func (b *NATSBus) Unsubscribe(ctx context.Context, topic string, ch chan Event) error {
	b.mu.Lock()
	sub := b.subs[topic]
	if sub == nil {
		b.mu.Unlock()
		return nil
	}
	for i, c := range sub.chans {
		if c == ch {
			sub.chans[i] = sub.chans[len(sub.chans)-1]
			sub.chans = sub.chans[:len(sub.chans)-1]
			close(c)
			break
		}
	}
	if len(sub.chans) == 0 {
		delete(b.subs, topic)
		b.mu.Unlock()
		return sub.sub.Unsubscribe()
	}
	b.mu.Unlock()
	return nil
}

// Close terminates all subscriptions. The underlying connection is
// left open for the caller to close.
func (b *NATSBus) Close() error {
	b.closed.Store(true)
	b.mu.Lock()
	subs := b.subs
	b.subs = make(map[string]*natsSubscription)
	b.mu.Unlock()
	var firstErr error
	for _, sub := range subs {
		if err := sub.sub.Unsubscribe(); err != nil && firstErr == nil {
			firstErr = err
		}
		for _, c := range sub.chans {
			close(c)
		}
	}
	return firstErr
}

// Metrics returns the published and delivered counts.
func (b *NATSBus) Metrics() BusMetrics {
	return BusMetrics{
		Published: b.published.Load(),
		Delivered: b.delivered.Load(),
	}
}
