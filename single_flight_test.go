package asynccache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bool64/stats"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// racingStore replaces inserted value right after insertion,
// as a concurrent writer could do before the inserting caller takes the lock.
type racingStore struct {
	*Memory

	replacement interface{}
	placeholder *Future[string]
	once        sync.Once
}

func (s *racingStore) LoadOrStore(ctx context.Context, key string, value interface{}, policy Policy) (interface{}, bool) {
	actual, loaded := s.Memory.LoadOrStore(ctx, key, value, policy)

	s.once.Do(func() {
		s.placeholder, _ = value.(*Future[string])
		s.Memory.Store(ctx, key, s.replacement, policy)
	})

	return actual, loaded
}

func newRacingCache(t *testing.T, replacement interface{}, st stats.Tracker) (*AsyncCache[string, string], *racingStore, *int64) {
	t.Helper()

	m, err := NewMemory(MemoryConfig{DeleteExpiredJobInterval: -1})
	require.NoError(t, err)
	t.Cleanup(m.Close)

	s := &racingStore{Memory: m, replacement: replacement}
	productions := new(int64)

	c, err := New[string, string](func(ctx context.Context, key string) (string, error) {
		atomic.AddInt64(productions, 1)

		return "produced", nil
	}, Config[string]{Store: s, Stats: st})
	require.NoError(t, err)
	t.Cleanup(c.Close)

	return c, s, productions
}

func TestAsyncCache_GetOrCreateFuture_adoptsReplacement(t *testing.T) {
	cur := newFuture[string]("key")
	st := &stats.TrackerMock{}
	c, s, productions := newRacingCache(t, cur, st)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	f, err := c.GetOrCreateFuture(ctx, "key")
	require.NoError(t, err)
	assert.Same(t, cur, f)

	require.NotNil(t, s.placeholder)
	assert.NotSame(t, cur, s.placeholder)
	assert.Equal(t, Pending, s.placeholder.Status())

	cur.resolve("adopted")

	// Early waiters of the placeholder receive outcome of the adopted entry.
	v, err := s.placeholder.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, "adopted", v)

	v, err = c.GetOrCreate(ctx, "key")
	require.NoError(t, err)
	assert.Equal(t, "adopted", v)

	assert.Equal(t, int64(0), atomic.LoadInt64(productions))
	assert.Equal(t, 1, st.Int(MetricAdopted))
	assert.Equal(t, 0, st.Int(MetricBuild))
}

func TestAsyncCache_GetOrCreateFuture_unexpectedValue(t *testing.T) {
	c, s, productions := newRacingCache(t, "not a future", nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	f, err := c.GetOrCreateFuture(ctx, "key")
	assert.ErrorIs(t, err, ErrUnexpectedValue)
	assert.Nil(t, f)

	// Placeholder is settled, nobody waits for it forever.
	require.NotNil(t, s.placeholder)

	_, err = s.placeholder.Wait(ctx)
	assert.ErrorIs(t, err, ErrUnexpectedValue)
	assert.Equal(t, Faulted, s.placeholder.Status())
	assert.Equal(t, int64(0), atomic.LoadInt64(productions))
}
