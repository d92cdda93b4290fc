package hotcache

import (
	"context"
	"strconv"
	"testing"
	"time"
)

func BenchmarkSet(b *testing.B) {
	c := New[string](WithMaxSlots[string](1 << 20))
	defer c.Close()
	ctx := context.Background()
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := c.Set(ctx, strconv.Itoa(i), "val", time.Minute); err != nil {
			b.Fatalf("set failed: %v", err)
		}
	}
}

func BenchmarkGet(b *testing.B) {
	c := New[string]()
	defer c.Close()
	ctx := context.Background()
	if err := c.Set(ctx, "key", "val", time.Minute); err != nil {
		b.Fatalf("setup failed: %v", err)
	}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, ok, err := c.Get(ctx, "key"); err != nil || !ok {
			b.Fatalf("get failed: %v ok=%v", err, ok)
		}
	}
}

func BenchmarkGetParallel(b *testing.B) {
	c := New[string]()
	defer c.Close()
	ctx := context.Background()
	if err := c.Set(ctx, "key", "val", time.Minute); err != nil {
		b.Fatalf("setup failed: %v", err)
	}
	b.ReportAllocs()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if _, ok, err := c.Get(ctx, "key"); err != nil || !ok {
				b.Fatalf("get failed: %v ok=%v", err, ok)
			}
		}
	})
}
