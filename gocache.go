package asynccache

import (
	"context"
	"time"

	"github.com/bool64/ctxd"
	"github.com/bool64/stats"
	gocache "github.com/patrickmn/go-cache"
)

// GoCacheConfig controls GoCache instance.
type GoCacheConfig struct {
	// Logger is an instance of contextualized logger, can be nil.
	Logger ctxd.Logger

	// Stats is metrics collector, can be nil.
	Stats stats.Tracker

	// Name is store instance name, used in stats and logging.
	Name string

	// TimeToLive is default absolute expiration, zero means no expiration.
	TimeToLive time.Duration

	// DeleteExpiredJobInterval is delay between two consecutive cleanups, default 1m.
	DeleteExpiredJobInterval time.Duration
}

var (
	_ ReadWriter = &GoCache{}
	_ Clearer    = &GoCache{}
	_ Walker     = &GoCache{}
)

// GoCache is a store backed by github.com/patrickmn/go-cache.
//
// It supports only absolute expiration, Policy.SlidingWindow is ignored.
type GoCache struct {
	c      *gocache.Cache
	config GoCacheConfig
	log    ctxd.Logger
	stat   stats.Tracker
}

// NewGoCache creates GoCache store with optional configuration.
func NewGoCache(cfg ...GoCacheConfig) *GoCache {
	config := GoCacheConfig{}

	if len(cfg) >= 1 {
		config = cfg[0]
	}

	if config.DeleteExpiredJobInterval == 0 {
		config.DeleteExpiredJobInterval = time.Minute
	}

	ttl := config.TimeToLive
	if ttl <= 0 {
		ttl = gocache.NoExpiration
	}

	g := &GoCache{
		c:      gocache.New(ttl, config.DeleteExpiredJobInterval),
		config: config,
		log:    config.Logger,
		stat:   config.Stats,
	}

	if g.log == nil {
		g.log = ctxd.NoOpLogger{}
	}

	if g.stat == nil {
		g.stat = stats.NoOp{}
	}

	return g
}

// Load gets value.
func (g *GoCache) Load(ctx context.Context, key string) (interface{}, bool) {
	v, found := g.c.Get(key)
	if !found {
		g.log.Debug(ctx, "cache miss", "name", g.config.Name, "key", key)
		g.stat.Add(ctx, MetricMiss, 1, "name", g.config.Name)

		return nil, false
	}

	g.log.Debug(ctx, "cache hit", "name", g.config.Name, "key", key)
	g.stat.Add(ctx, MetricHit, 1, "name", g.config.Name)

	return v, true
}

// Store sets value with absolute expiration of policy.
func (g *GoCache) Store(ctx context.Context, key string, value interface{}, policy Policy) {
	ttl := policy.ExpireAfter
	if ttl <= 0 {
		ttl = gocache.DefaultExpiration
	}

	g.c.Set(key, value, ttl)

	g.log.Debug(ctx, "wrote to cache", "name", g.config.Name, "key", key, "ttl", ttl)
	g.stat.Add(ctx, MetricWrite, 1, "name", g.config.Name)
}

// Delete removes entry.
func (g *GoCache) Delete(ctx context.Context, key string) bool {
	_, found := g.c.Get(key)
	g.c.Delete(key)

	if found {
		g.log.Debug(ctx, "deleted cache entry", "name", g.config.Name, "key", key)
		g.stat.Add(ctx, MetricDelete, 1, "name", g.config.Name)
	}

	return found
}

// ExpireAll removes all entries, go-cache can not keep expired entries.
func (g *GoCache) ExpireAll(ctx context.Context) {
	g.DeleteAll(ctx)
}

// DeleteAll erases all entries.
func (g *GoCache) DeleteAll(ctx context.Context) {
	cnt := g.c.ItemCount()
	g.c.Flush()

	g.log.Info(ctx, "deleted all entries in cache", "name", g.config.Name, "count", cnt)
}

// Len returns number of elements in store, including expired ones that are not yet removed.
func (g *GoCache) Len() int {
	return g.c.ItemCount()
}

type goCacheEntry struct {
	key  string
	item gocache.Item
}

func (e goCacheEntry) Key() string {
	return e.key
}

func (e goCacheEntry) Value() interface{} {
	return e.item.Object
}

func (e goCacheEntry) ExpireAt() time.Time {
	if e.item.Expiration == 0 {
		return time.Time{}
	}

	return time.Unix(0, e.item.Expiration)
}

// Walk walks live entries.
func (g *GoCache) Walk(walkFn func(e Entry) error) (int, error) {
	n := 0

	for k, item := range g.c.Items() {
		if err := walkFn(goCacheEntry{key: k, item: item}); err != nil {
			return n, err
		}

		n++
	}

	return n, nil
}

// Close removes all entries.
func (g *GoCache) Close() {
	g.c.Flush()
}
