package asynccache

import (
	"context"
	"fmt"
	"math/rand"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/bool64/ctxd"
	"github.com/bool64/stats"
	"github.com/puzpuzpuz/xsync/v3"
)

// MemoryConfig controls in-memory store instance.
type MemoryConfig struct {
	// Logger is an instance of contextualized logger, can be nil.
	Logger ctxd.Logger

	// Stats is metrics collector, can be nil.
	Stats stats.Tracker

	// Name is store instance name, used in stats and logging.
	Name string

	// TimeToLive is default absolute expiration, zero means no absolute expiration.
	TimeToLive time.Duration

	// SlidingWindow is default sliding expiration, zero means no sliding expiration.
	SlidingWindow time.Duration

	// DeleteExpiredJobInterval is delay between two consecutive cleanups, default 1m.
	// Use -1 to disable background cleanup, expired entries are still removed on access.
	DeleteExpiredJobInterval time.Duration

	// ItemsCountReportInterval is items count metric report interval, default 1m.
	ItemsCountReportInterval time.Duration

	// ExpirationJitter is a fraction of absolute TTL to randomize, disabled by default.
	// If enabled, entry TTL will be randomly altered in bounds of ±(ExpirationJitter * TTL / 2).
	ExpirationJitter float64

	// OnRemoved is called in background after an entry has left the store.
	OnRemoved EvictionFunc

	// OnUpdate is called before an expired or deleted entry is removed, entry is still readable during the call.
	// Expired entry is kept with renewed deadlines if OnUpdate returns true.
	// Replaced entries are reported after replacement.
	//
	// OnUpdate and OnRemoved are mutually exclusive.
	OnUpdate UpdateFunc
}

var (
	_ AtomicStore = &Memory{}
	_ Walker      = &Memory{}
	_ Clearer     = &Memory{}
)

// Memory is an in-memory store with absolute and sliding expiration.
//
// Please use NewMemory to create instance.
type Memory struct {
	*memory
}

type memory struct {
	data   *xsync.Map
	closed chan struct{}
	done   atomic.Bool

	config MemoryConfig
	log    ctxd.Logger
	stat   stats.Tracker
}

// entry is a store entry.
type entry struct {
	key     string
	val     interface{}
	ttl     time.Duration
	sliding time.Duration

	deadline atomic.Int64 // Unix nanoseconds, 0 for no absolute deadline.
	accessed atomic.Int64 // Unix nanoseconds of last access.
	claimed  atomic.Bool  // Set by the goroutine responsible for eviction notification.
}

func (e *entry) Key() string {
	return e.key
}

func (e *entry) Value() interface{} {
	return e.val
}

func (e *entry) ExpireAt() time.Time {
	exp := e.expireAt()
	if exp == 0 {
		return time.Time{}
	}

	return time.Unix(0, exp)
}

func (e *entry) expireAt() int64 {
	exp := e.deadline.Load()

	if e.sliding > 0 {
		s := e.accessed.Load() + int64(e.sliding)
		if exp == 0 || s < exp {
			exp = s
		}
	}

	return exp
}

func (e *entry) expired(now int64) bool {
	exp := e.expireAt()

	return exp != 0 && now >= exp
}

func (e *entry) touch(now int64) {
	if e.sliding > 0 {
		e.accessed.Store(now)
	}
}

// renew restarts both deadlines.
func (e *entry) renew(now int64) {
	var deadline int64

	if e.ttl > 0 {
		deadline = now + int64(e.ttl)
	}

	e.deadline.Store(deadline)
	e.accessed.Store(now)
}

// NewMemory creates an instance of in-memory store with optional configuration.
func NewMemory(cfg ...MemoryConfig) (*Memory, error) {
	config := MemoryConfig{}

	if len(cfg) >= 1 {
		config = cfg[0]
	}

	if config.OnRemoved != nil && config.OnUpdate != nil {
		return nil, ErrConflictingHooks
	}

	if config.DeleteExpiredJobInterval == 0 {
		config.DeleteExpiredJobInterval = time.Minute
	}

	if config.ItemsCountReportInterval == 0 {
		config.ItemsCountReportInterval = time.Minute
	}

	c := &memory{
		data:   xsync.NewMap(),
		closed: make(chan struct{}),
		config: config,
		log:    config.Logger,
		stat:   config.Stats,
	}

	if c.log == nil {
		c.log = ctxd.NoOpLogger{}
	}

	if c.stat == nil {
		c.stat = stats.NoOp{}
	}

	C := &Memory{memory: c}

	if config.Stats != nil {
		go c.reportItemsCount()
	}

	if config.DeleteExpiredJobInterval > 0 {
		go c.cleaner()
	}

	runtime.SetFinalizer(C, func(m *Memory) {
		c.Close()
	})

	return C, nil
}

func (c *memory) newEntry(key string, value interface{}, policy Policy) *entry {
	policy = policy.Merge(Policy{ExpireAfter: c.config.TimeToLive, SlidingWindow: c.config.SlidingWindow})
	now := time.Now().UnixNano()

	e := &entry{key: key, val: value}
	e.accessed.Store(now)

	if policy.SlidingWindow > 0 {
		e.sliding = policy.SlidingWindow
	}

	if ttl := policy.ExpireAfter; ttl > 0 {
		if c.config.ExpirationJitter > 0 {
			ttl += time.Duration(float64(ttl) * c.config.ExpirationJitter * (rand.Float64() - 0.5)) // nolint:gosec
		}

		e.ttl = ttl
		e.deadline.Store(now + int64(ttl))
	}

	return e
}

// Load gets value.
func (c *memory) Load(ctx context.Context, key string) (interface{}, bool) {
	if c.done.Load() {
		return nil, false
	}

	v, found := c.data.Load(key)
	if !found {
		c.log.Debug(ctx, "cache miss", "name", c.config.Name, "key", key)
		c.stat.Add(ctx, MetricMiss, 1, "name", c.config.Name)

		return nil, false
	}

	e := v.(*entry)
	now := time.Now().UnixNano()

	if e.expired(now) {
		c.log.Debug(ctx, "cache key expired", "name", c.config.Name, "key", key)
		c.stat.Add(ctx, MetricExpired, 1, "name", c.config.Name)

		if c.evict(ctx, e, RemovalExpired) || e.expired(time.Now().UnixNano()) {
			return nil, false
		}

		c.log.Debug(ctx, "cache key renewed", "name", c.config.Name, "key", key)
	}

	e.touch(now)

	c.log.Debug(ctx, "cache hit", "name", c.config.Name, "key", key)
	c.stat.Add(ctx, MetricHit, 1, "name", c.config.Name)

	return e.val, true
}

// Store sets value.
func (c *memory) Store(ctx context.Context, key string, value interface{}, policy Policy) {
	if c.done.Load() {
		c.log.Debug(ctx, "writing to a closed cache", "name", c.config.Name, "key", key)

		return
	}

	e := c.newEntry(key, value, policy)

	var prev *entry

	c.data.Compute(key, func(old interface{}, loaded bool) (interface{}, bool) {
		if loaded {
			prev = old.(*entry)
		}

		return e, false
	})

	c.wrote(ctx, e)

	if prev == nil {
		return
	}

	// Concurrent evictor of prev has already reported OnUpdate, its removal fails after replacement.
	if prev.claimed.CompareAndSwap(false, true) {
		c.beforeRemoval(ctx, prev, RemovalReplaced)
	}

	c.afterRemoval(ctx, prev, RemovalReplaced)
}

// LoadOrStore gets live value or sets a new one.
func (c *memory) LoadOrStore(ctx context.Context, key string, value interface{}, policy Policy) (interface{}, bool) {
	if c.done.Load() {
		c.log.Debug(ctx, "writing to a closed cache", "name", c.config.Name, "key", key)

		return value, false
	}

	e := c.newEntry(key, value, policy)

	for {
		v, loaded := c.data.LoadOrStore(key, e)
		if !loaded {
			c.wrote(ctx, e)

			return value, false
		}

		existing := v.(*entry)
		now := time.Now().UnixNano()

		if !existing.expired(now) {
			existing.touch(now)
			c.stat.Add(ctx, MetricHit, 1, "name", c.config.Name)

			return existing.val, true
		}

		c.log.Debug(ctx, "replacing expired cache key", "name", c.config.Name, "key", key)
		c.stat.Add(ctx, MetricExpired, 1, "name", c.config.Name)

		if c.evict(ctx, existing, RemovalExpired) || !existing.expired(time.Now().UnixNano()) {
			continue
		}

		// Expired entry is claimed by another goroutine, its hook may be calling back into the store.
		if c.compareAndSwap(existing, e) {
			c.afterRemoval(ctx, existing, RemovalExpired)
			c.wrote(ctx, e)

			return value, false
		}
	}
}

// Delete removes entry.
func (c *memory) Delete(ctx context.Context, key string) bool {
	for {
		v, found := c.data.Load(key)
		if !found {
			return false
		}

		e := v.(*entry)

		// Entry claimed by another goroutine is removed without waiting for its hook.
		if c.evict(ctx, e, RemovalDeleted) || (e.claimed.Load() && c.remove(ctx, e, RemovalDeleted)) {
			c.log.Debug(ctx, "deleted cache entry", "name", c.config.Name, "key", key)
			c.stat.Add(ctx, MetricDelete, 1, "name", c.config.Name)

			return true
		}
	}
}

func (c *memory) wrote(ctx context.Context, e *entry) {
	c.log.Debug(ctx, "wrote to cache",
		"name", c.config.Name,
		"key", e.key,
		"expireAt", e.ExpireAt(),
	)
	c.stat.Add(ctx, MetricWrite, 1, "name", c.config.Name)
}

// evict removes entry unless it was already replaced or renewed.
//
// OnUpdate is called only by the goroutine that claims the entry and
// OnRemoved only by the goroutine that removes it, so that every entry is reported at most once.
func (c *memory) evict(ctx context.Context, e *entry, reason RemovalReason) bool {
	if !e.claimed.CompareAndSwap(false, true) {
		return false
	}

	if c.beforeRemoval(ctx, e, reason) {
		e.renew(time.Now().UnixNano())
		e.claimed.Store(false)

		return false
	}

	return c.remove(ctx, e, reason)
}

// remove deletes entry unless it was replaced and reports the removal.
func (c *memory) remove(ctx context.Context, e *entry, reason RemovalReason) bool {
	if !c.compareAndDelete(e) {
		return false
	}

	c.afterRemoval(ctx, e, reason)

	return true
}

// compareAndSwap replaces old entry with e if old is still stored.
func (c *memory) compareAndSwap(old, e *entry) bool {
	swapped := false

	c.data.Compute(e.key, func(cur interface{}, loaded bool) (interface{}, bool) {
		if loaded && cur.(*entry) == old {
			swapped = true

			return e, false
		}

		return cur, !loaded
	})

	return swapped
}

func (c *memory) compareAndDelete(e *entry) bool {
	deleted := false

	c.data.Compute(e.key, func(old interface{}, loaded bool) (interface{}, bool) {
		if loaded && old.(*entry) == e {
			deleted = true

			return nil, true
		}

		return old, !loaded
	})

	return deleted
}

// beforeRemoval calls OnUpdate and reports whether expired entry should be kept.
func (c *memory) beforeRemoval(ctx context.Context, e *entry, reason RemovalReason) (keep bool) {
	if c.config.OnUpdate == nil {
		return false
	}

	defer func() {
		if r := recover(); r != nil {
			keep = false

			c.hookFailed(ctx, "OnUpdate", e, reason, fmt.Errorf("panic: %v", r))
		}
	}()

	keep, err := c.config.OnUpdate(ctx, e.key, e.val, reason)
	if err != nil {
		c.hookFailed(ctx, "OnUpdate", e, reason, err)

		return false
	}

	return keep && reason == RemovalExpired
}

func (c *memory) afterRemoval(ctx context.Context, e *entry, reason RemovalReason) {
	if c.config.OnRemoved == nil {
		return
	}

	go c.notifyRemoved(context.WithoutCancel(ctx), e, reason)
}

func (c *memory) notifyRemoved(ctx context.Context, e *entry, reason RemovalReason) {
	defer func() {
		if r := recover(); r != nil {
			c.hookFailed(ctx, "OnRemoved", e, reason, fmt.Errorf("panic: %v", r))
		}
	}()

	if err := c.config.OnRemoved(ctx, e.key, e.val, reason); err != nil {
		c.hookFailed(ctx, "OnRemoved", e, reason, err)
	}
}

func (c *memory) hookFailed(ctx context.Context, hook string, e *entry, reason RemovalReason, err error) {
	c.log.Error(ctx, "cache eviction hook failed",
		"error", err,
		"hook", hook,
		"reason", reason.String(),
		"name", c.config.Name,
		"key", e.key,
	)
	c.stat.Add(ctx, MetricHookFailed, 1, "name", c.config.Name)
}

// ExpireAll marks all entries as expired.
func (c *memory) ExpireAll(ctx context.Context) {
	now := time.Now()
	cnt := 0

	c.data.Range(func(_ string, v interface{}) bool {
		v.(*entry).deadline.Store(now.UnixNano())
		cnt++

		return true
	})

	c.log.Info(ctx, "expired all entries in cache",
		"name", c.config.Name,
		"elapsed", time.Since(now).String(),
		"count", cnt,
	)
}

// DeleteAll erases all entries.
func (c *memory) DeleteAll(ctx context.Context) {
	now := time.Now()
	cnt := c.deleteIf(ctx, RemovalCleared, func(*entry) bool { return true })

	c.log.Info(ctx, "deleted all entries in cache",
		"name", c.config.Name,
		"elapsed", time.Since(now).String(),
		"count", cnt,
	)
}

func (c *memory) deleteIf(ctx context.Context, reason RemovalReason, match func(e *entry) bool) int {
	matched := make([]*entry, 0, 100)

	c.data.Range(func(_ string, v interface{}) bool {
		if e := v.(*entry); match(e) {
			matched = append(matched, e)
		}

		return true
	})

	cnt := 0

	for _, e := range matched {
		// Expired entry claimed by another goroutine may still be renewed by its hook.
		if c.evict(ctx, e, reason) || (reason != RemovalExpired && e.claimed.Load() && c.remove(ctx, e, reason)) {
			cnt++
		}
	}

	return cnt
}

// Close disables store instance and removes all entries.
func (c *memory) Close() {
	if !c.done.CompareAndSwap(false, true) {
		return
	}

	close(c.closed)
	c.deleteIf(context.Background(), RemovalCleared, func(*entry) bool { return true })
}

func (c *memory) cleaner() {
	ticker := time.NewTicker(c.config.DeleteExpiredJobInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.deleteExpired()
		case <-c.closed:
			return
		}
	}
}

func (c *memory) deleteExpired() {
	ctx := context.Background()
	now := time.Now().UnixNano()

	cnt := c.deleteIf(ctx, RemovalExpired, func(e *entry) bool {
		return e.expired(now)
	})

	if cnt > 0 {
		c.log.Debug(ctx, "deleted expired cache items", "name", c.config.Name, "count", cnt)
		c.stat.Add(ctx, MetricExpired, float64(cnt), "name", c.config.Name)
	}
}

func (c *memory) reportItemsCount() {
	ticker := time.NewTicker(c.config.ItemsCountReportInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			count := c.Len()

			c.log.Debug(context.Background(), "cache items count",
				"name", c.config.Name,
				"count", count,
			)
			c.stat.Set(context.Background(), MetricItems, float64(count), "name", c.config.Name)
		case <-c.closed:
			return
		}
	}
}

// Len returns number of elements in store, including expired ones that are not yet removed.
func (c *memory) Len() int {
	return c.data.Size()
}

// Walk walks stored entries.
func (c *memory) Walk(walkFn func(e Entry) error) (int, error) {
	n := 0

	var lastErr error

	c.data.Range(func(_ string, v interface{}) bool {
		if err := walkFn(v.(*entry)); err != nil {
			lastErr = err

			return false
		}

		n++

		return true
	})

	return n, lastErr
}
