package asynccache_test

import (
	"context"
	"strconv"
	"testing"

	"github.com/vearutop/asynccache"
)

func produceInt(_ context.Context, key int) (int, error) {
	return key, nil
}

func Benchmark_AsyncCache(b *testing.B) {
	c, err := asynccache.New[int, int](produceInt)
	if err != nil {
		b.Fatal(err)
	}
	defer c.Close()

	ctx := context.Background()

	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		// nolint
		_, _ = c.GetOrCreate(ctx, i%10000)
	}
}

func Benchmark_AsyncCache_concurrent(b *testing.B) {
	c, err := asynccache.New[int, int](produceInt)
	if err != nil {
		b.Fatal(err)
	}
	defer c.Close()

	ctx := context.Background()

	b.ReportAllocs()
	b.ResetTimer()

	b.RunParallel(func(pb *testing.PB) {
		i := 0

		for pb.Next() {
			i++
			// nolint
			_, _ = c.GetOrCreate(ctx, i%10000)
		}
	})
}

func Benchmark_Cached(b *testing.B) {
	c, err := asynccache.NewCached[int, int](produceInt)
	if err != nil {
		b.Fatal(err)
	}
	defer c.Close()

	ctx := context.Background()

	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		// nolint
		_, _ = c.GetOrCreate(ctx, i%10000)
	}
}

func Benchmark_Memory(b *testing.B) {
	m, err := asynccache.NewMemory()
	if err != nil {
		b.Fatal(err)
	}
	defer m.Close()

	ctx := context.Background()

	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		k := "oneone" + strconv.Itoa(i%10000)
		// nolint
		if i < 10000 {
			m.Store(ctx, k, 123, asynccache.Policy{})
		}
		// nolint
		_, _ = m.Load(ctx, k)
	}
}
