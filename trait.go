package asynccache

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/bool64/ctxd"
	"github.com/bool64/stats"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/vearutop/asynccache"

// Producer computes value for a key.
//
// Context is cancelled when cache is closed, cancellation of requesting callers is not propagated.
type Producer[K comparable, V any] func(ctx context.Context, key K) (V, error)

// trait is shared by cache flavors.
type trait[K comparable, V any] struct {
	name     string
	producer Producer[K, V]
	keyFunc  func(key K) (string, error)

	store    ReadWriter
	ownStore bool
	mu       *Mutex
	policy   Policy

	life context.Context
	stop context.CancelFunc

	log    ctxd.Logger
	stat   stats.Tracker
	tracer trace.Tracer
}

func newTrait[K comparable, V any](
	name string,
	producer Producer[K, V],
	keyFunc func(key K) (string, error),
	logger ctxd.Logger,
	st stats.Tracker,
	tracer trace.Tracer,
) *trait[K, V] {
	t := &trait[K, V]{
		name:     name,
		producer: producer,
		keyFunc:  keyFunc,
		mu:       NewMutex(),
		log:      logger,
		stat:     st,
		tracer:   tracer,
	}

	t.life, t.stop = context.WithCancel(context.Background())

	if t.keyFunc == nil {
		t.keyFunc = DefaultKey[K]
	}

	if t.log == nil {
		t.log = ctxd.NoOpLogger{}
	}

	if t.stat == nil {
		t.stat = stats.NoOp{}
	}

	if t.tracer == nil {
		t.tracer = otel.Tracer(tracerName)
	}

	return t
}

// DefaultKey returns natural string form of a key.
//
// Nil pointers and nil interfaces are rejected with ErrInvalidKey.
func DefaultKey[K comparable](key K) (string, error) {
	switch k := any(key).(type) {
	case nil:
		return "", ErrInvalidKey
	case string:
		return k, nil
	}

	if v := reflect.ValueOf(key); v.Kind() == reflect.Pointer && v.IsNil() {
		return "", ErrInvalidKey
	}

	if s, ok := any(key).(fmt.Stringer); ok {
		return s.String(), nil
	}

	return fmt.Sprint(key), nil
}

func (t *trait[K, V]) createKey(key K) (string, error) {
	k, err := t.keyFunc(key)
	if err != nil {
		if errors.Is(err, ErrInvalidKey) {
			return "", err
		}

		return "", fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}

	return k, nil
}

func (t *trait[K, V]) closed() bool {
	return t.life.Err() != nil
}

// lookup returns future stored for a key.
func (t *trait[K, V]) lookup(ctx context.Context, k string) (*Future[V], bool, error) {
	v, found := t.store.Load(ctx, k)
	if !found {
		return nil, false, nil
	}

	f, ok := v.(*Future[V])
	if !ok {
		return nil, false, fmt.Errorf("%w: %T for key %q", ErrUnexpectedValue, v, k)
	}

	return f, true, nil
}

// Get returns value if it is already present without triggering production.
//
// Pending value is awaited. Boolean result is false for absent key,
// a failed production is reported with *ProductionError.
func (t *trait[K, V]) Get(ctx context.Context, key K) (V, bool, error) {
	var zero V

	if t.closed() {
		return zero, false, ErrClosed
	}

	k, err := t.createKey(key)
	if err != nil {
		return zero, false, err
	}

	f, found, err := t.lookup(ctx, k)
	if err != nil || !found {
		return zero, false, err
	}

	v, err := f.Wait(ctx)

	return v, true, err
}

// Lookup returns future of a key without waiting, it never triggers production.
func (t *trait[K, V]) Lookup(key K) (*Future[V], bool) {
	if t.closed() {
		return nil, false
	}

	k, err := t.createKey(key)
	if err != nil {
		return nil, false
	}

	f, found, err := t.lookup(context.Background(), k)
	if err != nil {
		return nil, false
	}

	return f, found
}

// Delete removes key, next request for this key starts new production.
//
// Futures already returned for the key are not affected.
func (t *trait[K, V]) Delete(ctx context.Context, key K) error {
	k, err := t.createKey(key)
	if err != nil {
		return err
	}

	release, err := t.mu.Acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	if t.store.Delete(ctx, k) {
		t.log.Debug(ctx, "deleted cache key", "name", t.name, "key", k)
	}

	return nil
}

// Len returns number of entries in store, or -1 if store can not count.
func (t *trait[K, V]) Len() int {
	if l, ok := t.store.(interface{ Len() int }); ok {
		return l.Len()
	}

	return -1
}

// ExpireAll marks all entries as expired.
func (t *trait[K, V]) ExpireAll(ctx context.Context) {
	if c, ok := t.store.(Clearer); ok {
		c.ExpireAll(ctx)
	}
}

// DeleteAll removes all entries.
func (t *trait[K, V]) DeleteAll(ctx context.Context) {
	if c, ok := t.store.(Clearer); ok {
		c.DeleteAll(ctx)
	}
}

// Close cancels productions in flight and disables cache.
//
// Store is closed too unless it was provided with configuration.
func (t *trait[K, V]) Close() {
	t.stop()
	t.mu.Close()

	if !t.ownStore {
		return
	}

	if c, ok := t.store.(interface{ Close() }); ok {
		c.Close()
	}
}

// schedule starts production of a placeholder in background.
func (t *trait[K, V]) schedule(ctx context.Context, key K, f *Future[V]) {
	pctx := producerContext{Context: t.life, values: ctx}

	go t.run(pctx, key, f)
}

func (t *trait[K, V]) run(ctx context.Context, key K, f *Future[V]) {
	ctx, span := t.tracer.Start(ctx, "asynccache.produce", trace.WithAttributes(
		attribute.String("cache.name", t.name),
		attribute.String("cache.key", f.Key()),
		attribute.String("cache.attempt", f.ID()),
	))
	defer span.End()

	t.log.Debug(ctx, "producing cache value", "name", t.name, "key", f.Key(), "attempt", f.ID())
	t.stat.Add(ctx, MetricBuild, 1, "name", t.name)

	start := time.Now()
	v, err := t.call(ctx, key)

	switch {
	case err == nil:
		f.resolve(v)

		t.log.Debug(ctx, "produced cache value",
			"name", t.name,
			"key", f.Key(),
			"attempt", f.ID(),
			"elapsed", time.Since(start).String(),
		)
	case t.closed() && errors.Is(err, context.Canceled):
		f.cancel(err)

		span.SetStatus(codes.Error, "cancelled")
		t.log.Debug(ctx, "cache value production cancelled", "name", t.name, "key", f.Key(), "attempt", f.ID())
	default:
		f.fail(&ProductionError{Key: f.Key(), Err: err})

		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		t.stat.Add(ctx, MetricFailed, 1, "name", t.name)
		t.log.Warn(ctx, "failed to produce cache value",
			"error", err,
			"name", t.name,
			"key", f.Key(),
			"attempt", f.ID(),
		)
	}
}

func (t *trait[K, V]) call(ctx context.Context, key K) (v V, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	return t.producer(ctx, key)
}
