package asynccache

import (
	"context"
	"time"

	"github.com/bool64/ctxd"
	"github.com/bool64/stats"
	"go.opentelemetry.io/otel/trace"
)

// CachedConfig is optional configuration for NewCached.
type CachedConfig[K comparable] struct {
	// Name is added to logs and stats.
	Name string

	// ExpireTimeSpan is absolute lifetime of an entry counted from its creation, zero means no expiration.
	ExpireTimeSpan time.Duration

	// KeyFunc creates string key, DefaultKey is used by default.
	KeyFunc func(key K) (string, error)

	// Store is an instance of store, GoCache is created by default.
	Store ReadWriter

	// Logger collects messages with context.
	Logger ctxd.Logger

	// Stats tracks stats.
	Stats stats.Tracker

	// Tracer starts production spans, otel global tracer is used by default.
	Tracer trace.Tracer
}

// Cached memoizes results of a producer with absolute expiration.
//
// It is a lighter sibling of AsyncCache: missing keys are inserted under the lock,
// store does not need atomic insert. Please use NewCached to create instance.
type Cached[K comparable, V any] struct {
	*trait[K, V]
}

// NewCached creates a Cached instance.
func NewCached[K comparable, V any](producer Producer[K, V], cfg ...CachedConfig[K]) (*Cached[K, V], error) {
	config := CachedConfig[K]{}

	if len(cfg) >= 1 {
		config = cfg[0]
	}

	if producer == nil {
		return nil, ErrNoProducer
	}

	c := &Cached[K, V]{
		trait: newTrait[K, V](config.Name, producer, config.KeyFunc, config.Logger, config.Stats, config.Tracer),
	}

	c.policy = Policy{ExpireAfter: config.ExpireTimeSpan}
	c.store = config.Store

	if c.store == nil {
		c.store = NewGoCache(GoCacheConfig{
			Name:       config.Name,
			Logger:     config.Logger,
			Stats:      config.Stats,
			TimeToLive: config.ExpireTimeSpan,
		})
		c.ownStore = true
	}

	return c, nil
}

// GetOrCreate returns cached value or waits for its production.
//
// Context cancellation only stops waiting, production continues for other callers.
func (c *Cached[K, V]) GetOrCreate(ctx context.Context, key K) (V, error) {
	f, err := c.GetOrCreateFuture(ctx, key)
	if err != nil {
		var zero V

		return zero, err
	}

	return f.Wait(ctx)
}

// GetOrCreateFuture returns a future of cached value, starting production if the key is missing.
func (c *Cached[K, V]) GetOrCreateFuture(ctx context.Context, key K) (*Future[V], error) {
	if c.closed() {
		return nil, ErrClosed
	}

	k, err := c.createKey(key)
	if err != nil {
		return nil, err
	}

	if f, found, err := c.lookup(ctx, k); err != nil || found {
		return f, err
	}

	release, err := c.mu.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	// Checking again in critical section, another caller could have inserted the key.
	if f, found, err := c.lookup(ctx, k); err != nil || found {
		return f, err
	}

	f := newFuture[V](k)
	c.store.Store(ctx, k, f, c.policy)
	c.schedule(ctx, key, f)

	return f, nil
}
