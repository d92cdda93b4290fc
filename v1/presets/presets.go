package presets

import (
	nats "github.com/nats-io/nats.go"
	redis "github.com/redis/go-redis/v9"

	"github.com/mirkobrombin/go-seqcell/v1/hotcache"
	"github.com/mirkobrombin/go-seqcell/v1/mirror"
)

// RedisOptions configures the connection to Redis.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// NewStandalone creates a hot cache with no cross-node propagation.
// Useful for local development or single-process caching.
func NewStandalone[T any]() *hotcache.HotCache[T] {
	return hotcache.New[T]()
}

// NewRedisMirrored creates a mirrored hot cache using Redis pub/sub to
// propagate writes.
func NewRedisMirrored[T any](opts RedisOptions) (*mirror.Mirror[T], error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	cache := hotcache.New[T]()
	bus := mirror.NewRedisBus(client)
	m, err := mirror.New(cache, bus)
	if err != nil {
		cache.Close()
		_ = client.Close()
		return nil, err
	}
	return m, nil
}

// NewNATSMirrored creates a mirrored hot cache on an existing NATS
// connection.
func NewNATSMirrored[T any](conn *nats.Conn) (*mirror.Mirror[T], error) {
	cache := hotcache.New[T]()
	bus := mirror.NewNATSBus(conn)
	m, err := mirror.New(cache, bus)
	if err != nil {
		cache.Close()
		return nil, err
	}
	return m, nil
}

// NewInMemoryMirrored creates a mirrored hot cache on a shared
// in-memory bus, mainly for tests and examples.
func NewInMemoryMirrored[T any](bus *mirror.InMemoryBus) (*mirror.Mirror[T], error) {
	cache := hotcache.New[T]()
	m, err := mirror.New(cache, bus)
	if err != nil {
		cache.Close()
		return nil, err
	}
	return m, nil
}
