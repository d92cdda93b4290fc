package hotcache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	seqerrors "github.com/mirkobrombin/go-seqcell/v1/errors"
	"github.com/mirkobrombin/go-seqcell/v1/seqlock"
)

var tracer = otel.Tracer("github.com/mirkobrombin/go-seqcell/v1/hotcache")

// entry is the unit copied in and out of a slot's seqlock cell. Expiry
// travels inside the copy so readers need no extra synchronization to
// check it.
type entry[T any] struct {
	value     T
	expiresAt int64 // UnixNano, 0 means no expiry
	present   bool
}

type slot[T any] struct {
	// wmu serializes writers so the cell's single-writer
	// precondition holds by construction.
	wmu  sync.Mutex
	cell *seqlock.SeqLock[entry[T]]
}

// HotCache is a bounded table of seqlock-backed slots keyed by string.
type HotCache[T any] struct {
	mu       sync.RWMutex
	slots    map[string]*slot[T]
	maxSlots int
	overflow *ristretto.Cache

	sweepInterval time.Duration
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup

	hits   atomic.Uint64
	misses atomic.Uint64

	hitCounter      prometheus.Counter
	missCounter     prometheus.Counter
	evictionCounter prometheus.Counter
	latencyHist     prometheus.Histogram
	traceEnabled    bool
}

// Option configures a HotCache.
type Option[T any] func(*HotCache[T])

// WithMaxSlots bounds the slot table. A non-positive value keeps the
// default of 1024 slots.
func WithMaxSlots[T any](n int) Option[T] {
	return func(c *HotCache[T]) {
		if n > 0 {
			c.maxSlots = n
		}
	}
}

// WithOverflow adds a ristretto-backed cold tier for keys that do not
// fit the slot table. If cfg is nil, defaults are used.
func WithOverflow[T any](cfg *ristretto.Config) Option[T] {
	return func(c *HotCache[T]) {
		if cfg == nil {
			cfg = &ristretto.Config{
				NumCounters: 1e4,
				MaxCost:     1 << 20,
				BufferItems: 64,
			}
		}
		rc, err := ristretto.NewCache(cfg)
		if err != nil {
			panic(err)
		}
		c.overflow = rc
	}
}

// WithSweepInterval sets the interval at which expired slots are
// reclaimed. A zero or negative duration disables the sweeper.
func WithSweepInterval[T any](d time.Duration) Option[T] {
	return func(c *HotCache[T]) {
		c.sweepInterval = d
	}
}

// WithMetrics enables Prometheus metrics collection using the provided registerer.
func WithMetrics[T any](reg prometheus.Registerer) Option[T] {
	return func(c *HotCache[T]) {
		c.hitCounter = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "seqcell_hotcache_hits_total",
			Help: "Total number of hot cache hits",
		})
		c.missCounter = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "seqcell_hotcache_misses_total",
			Help: "Total number of hot cache misses",
		})
		c.evictionCounter = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "seqcell_hotcache_evictions_total",
			Help: "Total number of hot cache evictions",
		})
		c.latencyHist = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "seqcell_hotcache_latency_seconds",
			Help:    "Latency of hot cache operations",
			Buckets: prometheus.DefBuckets,
		})
		reg.MustRegister(c.hitCounter, c.missCounter, c.evictionCounter, c.latencyHist)
	}
}

// WithTracing enables OpenTelemetry tracing for cache operations.
func WithTracing[T any]() Option[T] {
	return func(c *HotCache[T]) {
		c.traceEnabled = true
	}
}

const (
	defaultMaxSlots      = 1024
	defaultSweepInterval = time.Minute
)

// New returns a HotCache. When the sweep interval is positive a
// background goroutine periodically reclaims expired slots.
func New[T any](opts ...Option[T]) *HotCache[T] {
	ctx, cancel := context.WithCancel(context.Background())
	c := &HotCache[T]{
		slots:         make(map[string]*slot[T]),
		maxSlots:      defaultMaxSlots,
		sweepInterval: defaultSweepInterval,
		ctx:           ctx,
		cancel:        cancel,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.sweepInterval > 0 {
		c.wg.Add(1)
		go c.sweeper()
	}
	return c
}

func (c *HotCache[T]) startOp(ctx context.Context, op string) (context.Context, func(result string)) {
	if !c.traceEnabled && c.latencyHist == nil {
		return ctx, func(string) {}
	}
	start := time.Now()
	var span trace.Span
	if c.traceEnabled {
		ctx, span = tracer.Start(ctx, op)
	}
	return ctx, func(result string) {
		latency := time.Since(start)
		if c.latencyHist != nil {
			c.latencyHist.Observe(latency.Seconds())
		}
		if span != nil {
			if result != "" {
				span.SetAttributes(attribute.String("seqcell.hotcache.result", result))
			}
			span.SetAttributes(attribute.Int64("seqcell.hotcache.latency_ms", latency.Milliseconds()))
			span.End()
		}
	}
}

func (c *HotCache[T]) lookup(key string) *slot[T] {
	c.mu.RLock()
	s := c.slots[key]
	c.mu.RUnlock()
	return s
}

// ensure returns the slot for key, creating it if the table has room.
// It returns nil when the table is full.
func (c *HotCache[T]) ensure(key string) *slot[T] {
	if s := c.lookup(key); s != nil {
		return s
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if s := c.slots[key]; s != nil {
		return s
	}
	if len(c.slots) >= c.maxSlots {
		return nil
	}
	s := &slot[T]{cell: seqlock.New(entry[T]{})}
	c.slots[key] = s
	return s
}

// Get retrieves the value for key. The boolean return indicates
// whether the key was found and unexpired.
func (c *HotCache[T]) Get(ctx context.Context, key string) (T, bool, error) {
	ctx, done := c.startOp(ctx, "HotCache.Get")
	select {
	case <-ctx.Done():
		done("")
		var zero T
		return zero, false, ctx.Err()
	default:
	}

	s := c.lookup(key)
	if s == nil {
		if c.overflow != nil {
			if v, ok := c.overflow.Get(key); ok {
				c.hits.Add(1)
				if c.hitCounter != nil {
					c.hitCounter.Inc()
				}
				done("hit")
				val, _ := v.(T)
				return val, true, nil
			}
		}
		return c.miss(done)
	}

	e := s.cell.Read()
	if !e.present {
		return c.miss(done)
	}
	if e.expiresAt != 0 && time.Now().UnixNano() > e.expiresAt {
		if c.evictionCounter != nil {
			c.evictionCounter.Inc()
		}
		return c.miss(done)
	}
	c.hits.Add(1)
	if c.hitCounter != nil {
		c.hitCounter.Inc()
	}
	done("hit")
	return e.value, true, nil
}

func (c *HotCache[T]) miss(done func(string)) (T, bool, error) {
	c.misses.Add(1)
	if c.missCounter != nil {
		c.missCounter.Inc()
	}
	done("miss")
	var zero T
	return zero, false, nil
}

// Set stores the value for key with the given TTL. A non-positive TTL
// means the entry does not expire. When the slot table is full the
// value goes to the overflow tier if one is configured, otherwise
// ErrCapacity is returned.
func (c *HotCache[T]) Set(ctx context.Context, key string, value T, ttl time.Duration) error {
	ctx, done := c.startOp(ctx, "HotCache.Set")
	defer done("")
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	var exp int64
	if ttl > 0 {
		exp = time.Now().Add(ttl).UnixNano()
	}
	s := c.ensure(key)
	if s == nil {
		if c.overflow != nil {
			c.overflow.SetWithTTL(key, value, 1, ttl)
			return nil
		}
		return seqerrors.ErrCapacity
	}
	s.wmu.Lock()
	s.cell.Write(entry[T]{value: value, expiresAt: exp, present: true})
	s.wmu.Unlock()
	return nil
}

// Invalidate removes the key from the cache. The slot itself is kept
// so its sequence keeps advancing.
func (c *HotCache[T]) Invalidate(ctx context.Context, key string) error {
	ctx, done := c.startOp(ctx, "HotCache.Invalidate")
	defer done("")
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if s := c.lookup(key); s != nil {
		s.wmu.Lock()
		if e := s.cell.Read(); e.present {
			s.cell.Write(entry[T]{})
			if c.evictionCounter != nil {
				c.evictionCounter.Inc()
			}
		}
		s.wmu.Unlock()
	}
	if c.overflow != nil {
		c.overflow.Del(key)
	}
	return nil
}

// Sequence returns the seqlock sequence for key, or zero if the key
// has no hot slot. Sequences are per-slot and advance by two per write.
func (c *HotCache[T]) Sequence(key string) uint64 {
	s := c.lookup(key)
	if s == nil {
		return 0
	}
	return s.cell.Sequence()
}

// sweeper periodically reclaims expired slots. Expiry is re-checked
// under the writer mutex so a concurrent Set cannot be lost.
func (c *HotCache[T]) sweeper() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *HotCache[T]) sweep() {
	c.mu.RLock()
	slots := make([]*slot[T], 0, len(c.slots))
	for _, s := range c.slots {
		slots = append(slots, s)
	}
	c.mu.RUnlock()

	now := time.Now().UnixNano()
	for _, s := range slots {
		e, ok := s.cell.TryRead()
		if !ok || !e.present || e.expiresAt == 0 || now <= e.expiresAt {
			continue
		}
		s.wmu.Lock()
		if e := s.cell.Read(); e.present && e.expiresAt != 0 && now > e.expiresAt {
			s.cell.Write(entry[T]{})
			if c.evictionCounter != nil {
				c.evictionCounter.Inc()
			}
		}
		s.wmu.Unlock()
	}
}

// Stats reports basic metrics about cache usage.
type Stats struct {
	Hits   uint64
	Misses uint64
	Slots  int
}

// Metrics returns current metrics for the cache.
func (c *HotCache[T]) Metrics() Stats {
	c.mu.RLock()
	slots := len(c.slots)
	c.mu.RUnlock()
	return Stats{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
		Slots:  slots,
	}
}

// Close terminates the sweeper and the overflow tier.
func (c *HotCache[T]) Close() {
	c.cancel()
	c.wg.Wait()
	if c.overflow != nil {
		c.overflow.Close()
	}
}
