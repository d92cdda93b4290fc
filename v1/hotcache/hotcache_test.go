package hotcache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	seqerrors "github.com/mirkobrombin/go-seqcell/v1/errors"
)

func TestSetGetInvalidate(t *testing.T) {
	c := New[string]()
	defer c.Close()
	ctx := context.Background()

	if _, ok, err := c.Get(ctx, "k"); err != nil || ok {
		t.Fatalf("expected miss, ok %v err %v", ok, err)
	}
	if err := c.Set(ctx, "k", "v", time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	v, ok, err := c.Get(ctx, "k")
	if err != nil || !ok || v != "v" {
		t.Fatalf("get: %q ok %v err %v", v, ok, err)
	}
	if err := c.Invalidate(ctx, "k"); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if _, ok, _ := c.Get(ctx, "k"); ok {
		t.Fatal("expected miss after invalidate")
	}
}

func TestTTLExpiry(t *testing.T) {
	c := New[string](WithSweepInterval[string](0))
	defer c.Close()
	ctx := context.Background()

	if err := c.Set(ctx, "k", "v", 10*time.Millisecond); err != nil {
		t.Fatalf("set: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if _, ok, _ := c.Get(ctx, "k"); ok {
		t.Fatal("expected expired entry to miss")
	}
}

func TestSweeperReclaimsExpired(t *testing.T) {
	c := New[string](WithSweepInterval[string](10 * time.Millisecond))
	defer c.Close()
	ctx := context.Background()

	if err := c.Set(ctx, "k", "v", 5*time.Millisecond); err != nil {
		t.Fatalf("set: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	s := c.lookup("k")
	if s == nil {
		t.Fatal("slot should survive sweeping")
	}
	if e := s.cell.Read(); e.present {
		t.Fatal("expected sweeper to clear expired entry")
	}
}

func TestCapacityWithoutOverflow(t *testing.T) {
	c := New[string](WithMaxSlots[string](1), WithSweepInterval[string](0))
	defer c.Close()
	ctx := context.Background()

	if err := c.Set(ctx, "a", "1", 0); err != nil {
		t.Fatalf("set: %v", err)
	}
	err := c.Set(ctx, "b", "2", 0)
	if !errors.Is(err, seqerrors.ErrCapacity) {
		t.Fatalf("expected ErrCapacity, got %v", err)
	}
}

func TestCapacityWithOverflow(t *testing.T) {
	c := New[string](
		WithMaxSlots[string](1),
		WithSweepInterval[string](0),
		WithOverflow[string](nil),
	)
	defer c.Close()
	ctx := context.Background()

	if err := c.Set(ctx, "a", "1", 0); err != nil {
		t.Fatalf("set hot: %v", err)
	}
	if err := c.Set(ctx, "b", "2", 0); err != nil {
		t.Fatalf("set overflow: %v", err)
	}
	c.overflow.Wait()
	v, ok, err := c.Get(ctx, "b")
	if err != nil || !ok || v != "2" {
		t.Fatalf("overflow get: %q ok %v err %v", v, ok, err)
	}
}

func TestSequenceAdvancesPerWrite(t *testing.T) {
	c := New[string](WithSweepInterval[string](0))
	defer c.Close()
	ctx := context.Background()

	if s := c.Sequence("k"); s != 0 {
		t.Fatalf("expected zero sequence for unknown key, got %d", s)
	}
	_ = c.Set(ctx, "k", "1", 0)
	s1 := c.Sequence("k")
	_ = c.Set(ctx, "k", "2", 0)
	s2 := c.Sequence("k")
	if s1 != 2 || s2 != 4 {
		t.Fatalf("expected sequences 2 and 4, got %d and %d", s1, s2)
	}
}

func TestContextCancelled(t *testing.T) {
	c := New[string](WithSweepInterval[string](0))
	defer c.Close()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, _, err := c.Get(ctx, "k"); err == nil {
		t.Fatal("expected context error on get")
	}
	if err := c.Set(ctx, "k", "v", 0); err == nil {
		t.Fatal("expected context error on set")
	}
}

func TestMetricsAndStats(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New[string](WithMetrics[string](reg), WithSweepInterval[string](0))
	defer c.Close()
	ctx := context.Background()

	_ = c.Set(ctx, "k", "v", 0)
	_, _, _ = c.Get(ctx, "k")
	_, _, _ = c.Get(ctx, "absent")

	st := c.Metrics()
	if st.Hits != 1 || st.Misses != 1 || st.Slots != 1 {
		t.Fatalf("unexpected stats %+v", st)
	}
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(mfs) == 0 {
		t.Fatal("expected metrics registered")
	}
}

type tagged struct {
	Tag     uint64
	TagCopy uint64
}

func TestConcurrentReadersOneWriter(t *testing.T) {
	c := New[tagged](WithSweepInterval[tagged](0))
	defer c.Close()
	ctx := context.Background()

	if err := c.Set(ctx, "k", tagged{}, 0); err != nil {
		t.Fatalf("seed: %v", err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := uint64(1); i <= 1000; i++ {
			_ = c.Set(ctx, "k", tagged{Tag: i, TagCopy: i}, 0)
		}
	}()

	errCh := make(chan string, 4)
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 10000; i++ {
				v, ok, err := c.Get(ctx, "k")
				if err != nil || !ok {
					errCh <- "read failed"
					return
				}
				if v.Tag != v.TagCopy {
					errCh <- "torn read"
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errCh)
	for msg := range errCh {
		t.Fatal(msg)
	}
}
