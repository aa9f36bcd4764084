package asynccache

import (
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"reflect"
	"strings"
	"time"

	"github.com/bool64/ctxd"
)

type dumpedEntry[V any] struct {
	Key      string
	Value    V
	ExpireAt time.Time
}

// Dump saves resolved entries and returns a number of saved entries.
//
// Dump starts with GobTypesHash, pending, failed and cancelled entries are skipped.
// Store must implement Walker.
func (t *trait[K, V]) Dump(w io.Writer) (int, error) {
	walker, ok := t.store.(Walker)
	if !ok {
		return 0, fmt.Errorf("%w: %T can not walk entries", ErrInvalidConfig, t.store)
	}

	encoder := gob.NewEncoder(w)
	n := 0

	if err := encoder.Encode(GobTypesHash()); err != nil {
		return 0, err
	}

	_, err := walker.Walk(func(e Entry) error {
		f, ok := e.Value().(*Future[V])
		if !ok {
			return fmt.Errorf("%w: %T for key %q", ErrUnexpectedValue, e.Value(), e.Key())
		}

		o, settled := f.Outcome()
		if !settled || o.Status != Resolved {
			return nil
		}

		if err := encoder.Encode(dumpedEntry[V]{Key: e.Key(), Value: o.Value, ExpireAt: e.ExpireAt()}); err != nil {
			return err
		}

		n++

		return nil
	})

	return n, err
}

// Restore loads entries saved with Dump and returns number of restored entries.
//
// Entries that expired meanwhile are skipped, restored entries replace existing ones.
// Expiration of the cache applies to restored entries, a dumped deadline can only make it earlier.
// Dump made with different GobTypesHash is rejected with ErrIncompatibleDump.
func (t *trait[K, V]) Restore(ctx context.Context, r io.Reader) (int, error) {
	if t.closed() {
		return 0, ErrClosed
	}

	release, err := t.mu.Acquire(ctx)
	if err != nil {
		return 0, err
	}
	defer release()

	decoder := gob.NewDecoder(r)
	n := 0

	var typesHash uint64

	if err := decoder.Decode(&typesHash); err != nil {
		return 0, ctxd.WrapError(ctx, err, "failed to decode cache dump header", "name", t.name)
	}

	if typesHash != GobTypesHash() {
		return 0, fmt.Errorf("%w: types hash %d, expected %d", ErrIncompatibleDump, typesHash, GobTypesHash())
	}

	for {
		var e dumpedEntry[V]

		err := decoder.Decode(&e)
		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			return n, ctxd.WrapError(ctx, err, "failed to decode cache entry", "name", t.name, "restored", n)
		}

		policy := t.policy

		// Deadline of a sliding-only cache is a sliding one, it is renewed by access instead of capping.
		slidingOnly := policy.SlidingWindow > 0 && policy.ExpireAfter <= 0

		if !e.ExpireAt.IsZero() && !slidingOnly {
			remaining := time.Until(e.ExpireAt)
			if remaining <= 0 {
				continue
			}

			if policy.ExpireAfter <= 0 || remaining < policy.ExpireAfter {
				policy.ExpireAfter = remaining
			}
		}

		f := newFuture[V](e.Key)
		f.resolve(e.Value)
		t.store.Store(ctx, e.Key, f, policy)

		n++
	}

	t.log.Info(ctx, "restored cache entries", "name", t.name, "count", n)

	return n, nil
}

var gobTypesHash uint64

// GobTypesHashReset resets types hash to zero value.
func GobTypesHashReset() {
	gobTypesHash = 0
}

// GobTypesHash returns a fingerprint of a group of types to transfer.
//
// Dumps made with a different fingerprint should not be restored.
func GobTypesHash() uint64 {
	return gobTypesHash
}

// GobRegister enables transferring of values stored behind interfaces.
func GobRegister(values ...interface{}) {
	for _, value := range values {
		h := fnv.New64()
		t := reflect.TypeOf(value)
		// nolint:errcheck // fnv.Write never returns an error.
		_, _ = h.Write([]byte(t.PkgPath() + t.String()))
		recursiveTypeHash(t, h, map[reflect.Type]bool{})
		gobTypesHash ^= h.Sum64()

		gob.Register(value)
	}
}

// recursiveTypeHash hashes type structure, so that renamed or reordered fields change fingerprint.
func recursiveTypeHash(t reflect.Type, h io.Writer, met map[reflect.Type]bool) {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	if met[t] {
		return
	}

	met[t] = true

	switch t.Kind() {
	case reflect.Struct:
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)

			if !f.IsExported() {
				continue
			}

			if !f.Anonymous {
				// nolint:errcheck // fnv.Write never returns an error.
				_, _ = h.Write([]byte(f.Name))
			}

			recursiveTypeHash(f.Type, h, met)
		}
	case reflect.Slice, reflect.Array:
		recursiveTypeHash(t.Elem(), h, met)
	case reflect.Map:
		recursiveTypeHash(t.Key(), h, met)
		recursiveTypeHash(t.Elem(), h, met)
	default:
		// nolint:errcheck // fnv.Write never returns an error.
		_, _ = h.Write([]byte(strings.TrimPrefix(t.String(), "*")))
	}
}

// nolint:gochecknoinits // Registering types to a package level registry of "encoding/gob".
func init() {
	gob.Register(map[string]interface{}{})
	gob.Register([]interface{}{})
}
