package mirror

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"

	seqerrors "github.com/mirkobrombin/go-seqcell/v1/errors"
)

func newRedisBus(t *testing.T) (*RedisBus, context.Context) {
	t.Helper()
	addr := os.Getenv("SEQCELL_TEST_REDIS_ADDR")
	forceReal := os.Getenv("SEQCELL_TEST_FORCE_REAL") == "true"
	var client *redis.Client
	var mr *miniredis.Miniredis

	if forceReal && addr == "" {
		t.Fatal("SEQCELL_TEST_FORCE_REAL is true but SEQCELL_TEST_REDIS_ADDR is empty")
	}

	if addr != "" {
		t.Logf("TestRedisBus: using real Redis at %s", addr)
		client = redis.NewClient(&redis.Options{Addr: addr})
	} else {
		t.Log("TestRedisBus: using miniredis")
		var err error
		mr, err = miniredis.Run()
		if err != nil {
			t.Fatalf("miniredis run: %v", err)
		}
		client = redis.NewClient(&redis.Options{Addr: mr.Addr()})
	}

	bus := NewRedisBus(client)
	ctx := context.Background()
	t.Cleanup(func() {
		_ = bus.Close()
		_ = client.Close()
		if mr != nil {
			mr.Close()
		}
	})
	return bus, ctx
}

func TestRedisBusPublishSubscribeFlowAndMetrics(t *testing.T) {
	bus, ctx := newRedisBus(t)
	topic := "t-" + uuid.NewString()

	ch, err := bus.Subscribe(ctx, topic)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := bus.Publish(ctx, topic, Event{Key: "k", Seq: 2, Node: "n"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	select {
	case ev := <-ch:
		if ev.Key != "k" || ev.Seq != 2 || ev.Node != "n" {
			t.Fatalf("unexpected event %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for event")
	}
	m := bus.Metrics()
	if m.Published != 1 || m.Delivered != 1 {
		t.Fatalf("unexpected metrics %+v", m)
	}
}

func TestRedisBusUnsubscribe(t *testing.T) {
	bus, ctx := newRedisBus(t)
	topic := "t-" + uuid.NewString()

	ch, err := bus.Subscribe(ctx, topic)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := bus.Unsubscribe(ctx, topic, ch); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}
	if _, ok := <-ch; ok {
		t.Fatal("expected closed channel")
	}
}

func TestMirrorOverRedis(t *testing.T) {
	bus, ctx := newRedisBus(t)
	topic := "t-" + uuid.NewString()

	ca := hotcacheForTest(t)
	cb := hotcacheForTest(t)
	ma, err := New(ca, bus, WithNode[string]("a"), WithTopic[string](topic))
	if err != nil {
		t.Fatalf("mirror a: %v", err)
	}
	mb, err := New(cb, bus, WithNode[string]("b"), WithTopic[string](topic))
	if err != nil {
		t.Fatalf("mirror b: %v", err)
	}
	t.Cleanup(func() {
		ma.Close()
		mb.Close()
	})

	if err := ma.Set(ctx, "k", "v", 0); err != nil {
		t.Fatalf("set: %v", err)
	}
	waitFor(t, mb, "k", "v")
}

func TestRedisBusDispatchRacesUnsubscribe(t *testing.T) {
	bus, ctx := newRedisBus(t)
	topic := "t-" + uuid.NewString()

	// Keep one subscriber alive so the dispatch goroutine stays busy
	// while other channels churn through Subscribe and Unsubscribe.
	if _, err := bus.Subscribe(ctx, topic); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 500; i++ {
			_ = bus.Publish(ctx, topic, Event{Key: "k", Seq: uint64(i)})
		}
	}()
	for i := 0; i < 500; i++ {
		ch, err := bus.Subscribe(ctx, topic)
		if err != nil {
			t.Fatalf("subscribe: %v", err)
		}
		if err := bus.Unsubscribe(ctx, topic, ch); err != nil {
			t.Fatalf("unsubscribe: %v", err)
		}
	}
	<-done
}

func TestRedisBusClosed(t *testing.T) {
	bus, ctx := newRedisBus(t)
	if err := bus.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := bus.Publish(ctx, "t", Event{}); !errors.Is(err, seqerrors.ErrBusClosed) {
		t.Fatalf("expected ErrBusClosed, got %v", err)
	}
	if _, err := bus.Subscribe(ctx, "t"); !errors.Is(err, seqerrors.ErrBusClosed) {
		t.Fatalf("expected ErrBusClosed, got %v", err)
	}
}
