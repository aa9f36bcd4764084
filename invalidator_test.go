package asynccache_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vearutop/asynccache"
)

func TestInvalidator_Invalidate(t *testing.T) {
	ctx := context.Background()

	p1 := &counter{}
	cache1, err := asynccache.New[string, string](p1.produce)
	require.NoError(t, err)

	defer cache1.Close()

	p2 := &counter{}
	cache2, err := asynccache.NewCached[string, string](p2.produce)
	require.NoError(t, err)

	defer cache2.Close()

	i := &asynccache.Invalidator{}
	err = i.Invalidate(ctx)
	assert.ErrorIs(t, err, asynccache.ErrNothingToInvalidate)

	i.Callbacks = append(i.Callbacks, cache1.ExpireAll, cache2.DeleteAll)

	v, err := cache1.GetOrCreate(ctx, "key")
	assert.NoError(t, err)
	assert.Equal(t, "key-1", v)

	v, err = cache2.GetOrCreate(ctx, "key")
	assert.NoError(t, err)
	assert.Equal(t, "key-1", v)

	err = i.Invalidate(ctx)
	assert.NoError(t, err)

	v, err = cache1.GetOrCreate(ctx, "key")
	assert.NoError(t, err)
	assert.Equal(t, "key-2", v)

	v, err = cache2.GetOrCreate(ctx, "key")
	assert.NoError(t, err)
	assert.Equal(t, "key-2", v)

	err = i.Invalidate(ctx)
	assert.ErrorIs(t, err, asynccache.ErrAlreadyInvalidated)
}
