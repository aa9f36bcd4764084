package asynccache

import (
	"context"
	"fmt"
	"time"

	"github.com/bool64/ctxd"
	"github.com/bool64/stats"
	"go.opentelemetry.io/otel/trace"
)

// Config is optional configuration for New.
type Config[K comparable] struct {
	// Name is added to logs and stats.
	Name string

	// ExpireTimeSpan is absolute lifetime of an entry counted from its creation, zero means no absolute expiration.
	ExpireTimeSpan time.Duration

	// SlidingTimeSpan is lifetime of an entry counted from its last access, zero means no sliding expiration.
	SlidingTimeSpan time.Duration

	// OnRemoved is called in background after an entry has left the store.
	OnRemoved EvictionFunc

	// OnUpdate is called before an expired or deleted entry is removed,
	// returning true keeps an expired entry with renewed deadlines.
	//
	// OnUpdate and OnRemoved are mutually exclusive.
	OnUpdate UpdateFunc

	// KeyFunc creates string key, DefaultKey is used by default.
	KeyFunc func(key K) (string, error)

	// Store is an instance of store, in-memory created by default.
	//
	// Eviction hooks are not available with custom Store, configure them on the store.
	Store AtomicStore

	// MemoryConfig is a configuration for in-memory store if Store is not provided.
	MemoryConfig MemoryConfig

	// Logger collects messages with context.
	Logger ctxd.Logger

	// Stats tracks stats.
	Stats stats.Tracker

	// Tracer starts production spans, otel global tracer is used by default.
	Tracer trace.Tracer
}

// AsyncCache memoizes results of producer per key.
//
// Concurrent requests of a missing key share a single production,
// its result or error is cached until the entry expires or is deleted.
// Please use New to create instance.
type AsyncCache[K comparable, V any] struct {
	*trait[K, V]

	adder Adder
}

// New creates an AsyncCache instance.
func New[K comparable, V any](producer Producer[K, V], cfg ...Config[K]) (*AsyncCache[K, V], error) {
	config := Config[K]{}

	if len(cfg) >= 1 {
		config = cfg[0]
	}

	if producer == nil {
		return nil, ErrNoProducer
	}

	if config.OnRemoved != nil && config.OnUpdate != nil {
		return nil, ErrConflictingHooks
	}

	c := &AsyncCache[K, V]{
		trait: newTrait[K, V](config.Name, producer, config.KeyFunc, config.Logger, config.Stats, config.Tracer),
	}

	c.policy = Policy{
		ExpireAfter:   config.ExpireTimeSpan,
		SlidingWindow: config.SlidingTimeSpan,
	}

	store := config.Store

	if store == nil {
		mc := config.MemoryConfig
		mc.Name = config.Name

		if mc.Logger == nil {
			mc.Logger = config.Logger
		}

		if mc.Stats == nil {
			mc.Stats = config.Stats
		}

		if config.OnRemoved != nil {
			mc.OnRemoved = config.OnRemoved
		}

		if config.OnUpdate != nil {
			mc.OnUpdate = config.OnUpdate
		}

		m, err := NewMemory(mc)
		if err != nil {
			c.trait.Close()

			return nil, err
		}

		store = m
		c.ownStore = true
	} else if config.OnRemoved != nil || config.OnUpdate != nil {
		c.trait.Close()

		return nil, fmt.Errorf("%w: eviction hooks must be configured on provided store", ErrInvalidConfig)
	}

	c.store = store
	c.adder = store

	return c, nil
}

// GetOrCreate returns cached value or waits for its production.
//
// Context cancellation only stops waiting, production continues for other callers.
func (c *AsyncCache[K, V]) GetOrCreate(ctx context.Context, key K) (V, error) {
	f, err := c.GetOrCreateFuture(ctx, key)
	if err != nil {
		var zero V

		return zero, err
	}

	return f.Wait(ctx)
}

// GetOrCreateWithPolicy is GetOrCreate with expiration policy for a newly created entry.
func (c *AsyncCache[K, V]) GetOrCreateWithPolicy(ctx context.Context, key K, policy Policy) (V, error) {
	return c.GetOrCreate(WithPolicy(ctx, policy), key)
}

// GetOrCreateFuture returns a future of cached value, starting production if the key is missing.
//
// All callers that find the key pending receive the same future.
func (c *AsyncCache[K, V]) GetOrCreateFuture(ctx context.Context, key K) (*Future[V], error) {
	if c.closed() {
		return nil, ErrClosed
	}

	k, err := c.createKey(key)
	if err != nil {
		return nil, err
	}

	// Existing entry, pending or settled, is served without locking.
	if f, found, err := c.lookup(ctx, k); err != nil || found {
		return f, err
	}

	policy := c.policy
	if p, ok := PolicyFromContext(ctx); ok {
		policy = p.Merge(c.policy)
	}

	placeholder := newFuture[V](k)

	v, loaded := c.adder.LoadOrStore(ctx, k, placeholder, policy)
	if loaded {
		f, ok := v.(*Future[V])
		if !ok {
			return nil, fmt.Errorf("%w: %T for key %q", ErrUnexpectedValue, v, k)
		}

		return f, nil
	}

	// Lock guards the decision to produce, not the production.
	// Cache lifetime is used instead of ctx, an inserted placeholder must not be left unscheduled.
	release, err := c.mu.Acquire(c.life)
	if err != nil {
		placeholder.cancel(ErrClosed)

		return nil, ErrClosed
	}

	// Placeholder could have expired and been replaced since insertion.
	cur, found, err := c.lookup(ctx, k)
	if err != nil {
		release()
		placeholder.fail(err)

		return nil, err
	}

	if found && cur != placeholder {
		release()

		placeholder.follow(cur)

		c.log.Debug(ctx, "adopted concurrent cache entry", "name", c.name, "key", k, "attempt", cur.ID())
		c.stat.Add(ctx, MetricAdopted, 1, "name", c.name)

		return cur, nil
	}

	c.schedule(ctx, key, placeholder)
	release()

	return placeholder, nil
}
