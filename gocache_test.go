package asynccache_test

import (
	"context"
	"testing"
	"time"

	"github.com/bool64/stats"
	"github.com/stretchr/testify/assert"
	"github.com/vearutop/asynccache"
)

func TestGoCache(t *testing.T) {
	ctx := context.Background()
	st := &stats.TrackerMock{}

	g := asynccache.NewGoCache(asynccache.GoCacheConfig{
		Name:       "go-cache",
		Stats:      st,
		TimeToLive: time.Hour,
	})
	defer g.Close()

	_, found := g.Load(ctx, "key")
	assert.False(t, found)

	g.Store(ctx, "key", 1, asynccache.Policy{})
	g.Store(ctx, "short", 2, asynccache.Policy{ExpireAfter: 10 * time.Millisecond})

	v, found := g.Load(ctx, "key")
	assert.True(t, found)
	assert.Equal(t, 1, v)

	time.Sleep(20 * time.Millisecond)

	_, found = g.Load(ctx, "short")
	assert.False(t, found)

	n, err := g.Walk(func(e asynccache.Entry) error {
		assert.Equal(t, "key", e.Key())
		assert.Equal(t, 1, e.Value())
		assert.WithinDuration(t, time.Now().Add(time.Hour), e.ExpireAt(), time.Second)

		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.True(t, g.Delete(ctx, "key"))
	assert.False(t, g.Delete(ctx, "key"))

	g.Store(ctx, "a", 1, asynccache.Policy{})
	g.Store(ctx, "b", 2, asynccache.Policy{})
	g.DeleteAll(ctx)
	assert.Equal(t, 0, g.Len())

	assert.Equal(t, 1, st.Int(asynccache.MetricHit))
	assert.Equal(t, 2, st.Int(asynccache.MetricMiss))
	assert.Equal(t, 4, st.Int(asynccache.MetricWrite))
	assert.Equal(t, 1, st.Int(asynccache.MetricDelete))
}
