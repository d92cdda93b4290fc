package mirror

import (
	"context"
	"sync"
	"time"

	uuid "github.com/hashicorp/go-uuid"

	"github.com/mirkobrombin/go-seqcell/v1/hotcache"
	"github.com/mirkobrombin/go-seqcell/v1/metrics"
)

// DefaultTopic is the bus topic mirrors use unless WithTopic is given.
const DefaultTopic = "seqcell:updates"

// Mirror binds a HotCache to a Bus. Local writes are published;
// received events are applied through a per-key sequence gate.
type Mirror[T any] struct {
	cache *hotcache.HotCache[T]
	bus   Bus
	topic string
	node  string
	codec Codec

	mu      sync.Mutex
	applied map[string]uint64

	ch     chan Event
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Mirror.
type Option[T any] func(*Mirror[T])

// WithTopic sets the bus topic. Mirrors sharing state must share a topic.
func WithTopic[T any](topic string) Option[T] {
	return func(m *Mirror[T]) {
		m.topic = topic
	}
}

// WithCodec sets the payload codec. The default is JSONCodec.
func WithCodec[T any](c Codec) Option[T] {
	return func(m *Mirror[T]) {
		m.codec = c
	}
}

// WithNode overrides the generated node identity.
func WithNode[T any](node string) Option[T] {
	return func(m *Mirror[T]) {
		m.node = node
	}
}

// New returns a Mirror subscribed to its topic. Close must be called
// to release the subscription.
func New[T any](cache *hotcache.HotCache[T], bus Bus, opts ...Option[T]) (*Mirror[T], error) {
	node, err := uuid.GenerateUUID()
	if err != nil {
		return nil, err
	}
	m := &Mirror[T]{
		cache:   cache,
		bus:     bus,
		topic:   DefaultTopic,
		node:    node,
		codec:   JSONCodec{},
		applied: make(map[string]uint64),
	}
	for _, opt := range opts {
		opt(m)
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	ch, err := bus.Subscribe(ctx, m.topic)
	if err != nil {
		cancel()
		return nil, err
	}
	m.ch = ch
	m.wg.Add(1)
	go m.receive(ctx)
	return m, nil
}

// Node returns the mirror's node identity.
func (m *Mirror[T]) Node() string {
	return m.node
}

// Cache returns the underlying hot cache.
func (m *Mirror[T]) Cache() *hotcache.HotCache[T] {
	return m.cache
}

// Get reads from the local cache.
func (m *Mirror[T]) Get(ctx context.Context, key string) (T, bool, error) {
	return m.cache.Get(ctx, key)
}

// Set writes to the local cache and publishes the write to the group.
// The cell's single-writer contract extends across the group: at most
// one node may write a given key at a time. Concurrent writers of the
// same key can publish the same sequence with different payloads,
// leaving peers stale.
func (m *Mirror[T]) Set(ctx context.Context, key string, value T, ttl time.Duration) error {
	if err := m.cache.Set(ctx, key, value, ttl); err != nil {
		return err
	}
	payload, err := m.codec.Marshal(value)
	if err != nil {
		return err
	}
	ev := Event{
		Key:     key,
		Seq:     m.cache.Sequence(key),
		Node:    m.node,
		Payload: payload,
		TTL:     int64(ttl),
	}
	if err := m.bus.Publish(ctx, m.topic, ev); err != nil {
		return err
	}
	metrics.PublishCounter.Inc()
	return nil
}

// Invalidate removes the key locally and publishes the removal.
func (m *Mirror[T]) Invalidate(ctx context.Context, key string) error {
	if err := m.cache.Invalidate(ctx, key); err != nil {
		return err
	}
	ev := Event{
		Key:     key,
		Seq:     m.cache.Sequence(key),
		Node:    m.node,
		Deleted: true,
	}
	if err := m.bus.Publish(ctx, m.topic, ev); err != nil {
		return err
	}
	metrics.PublishCounter.Inc()
	return nil
}

func (m *Mirror[T]) receive(ctx context.Context) {
	defer m.wg.Done()
	for {
		select {
		case ev, ok := <-m.ch:
			if !ok {
				return
			}
			m.apply(ctx, ev)
		case <-ctx.Done():
			return
		}
	}
}

// apply installs a remote event unless the per-key gate has already
// seen an equal or newer sequence.
func (m *Mirror[T]) apply(ctx context.Context, ev Event) {
	if ev.Node == m.node {
		return
	}
	m.mu.Lock()
	if ev.Seq <= m.applied[ev.Key] {
		m.mu.Unlock()
		metrics.StaleCounter.Inc()
		return
	}
	m.applied[ev.Key] = ev.Seq
	m.mu.Unlock()

	if ev.Deleted {
		if err := m.cache.Invalidate(ctx, ev.Key); err == nil {
			metrics.ApplyCounter.Inc()
		}
		return
	}
	var v T
	if err := m.codec.Unmarshal(ev.Payload, &v); err != nil {
		return
	}
	if err := m.cache.Set(ctx, ev.Key, v, time.Duration(ev.TTL)); err != nil {
		return
	}
	metrics.ApplyCounter.Inc()
}

// Close releases the bus subscription and stops the receive loop. The
// underlying cache is not closed.
func (m *Mirror[T]) Close() {
	m.cancel()
	_ = m.bus.Unsubscribe(context.Background(), m.topic, m.ch)
	m.wg.Wait()
}
