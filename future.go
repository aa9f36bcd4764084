package asynccache

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Status is a state of a Future.
type Status int32

// Future states, every state except Pending is terminal.
const (
	Pending Status = iota
	Resolved
	Faulted
	Cancelled
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Resolved:
		return "resolved"
	case Faulted:
		return "faulted"
	case Cancelled:
		return "cancelled"
	}

	return "unknown"
}

// Outcome is a settled result of production.
type Outcome[V any] struct {
	Value  V
	Err    error
	Status Status
}

// Future is a result of production shared by all callers of a key.
//
// Future is settled once by its producer, waiters that come later observe the same outcome.
type Future[V any] struct {
	id      string
	key     string
	done    chan struct{}
	once    sync.Once
	outcome Outcome[V]
}

func newFuture[V any](key string) *Future[V] {
	return &Future[V]{
		id:   uuid.NewString(),
		key:  key,
		done: make(chan struct{}),
	}
}

// ID identifies production attempt.
func (f *Future[V]) ID() string {
	return f.id
}

// Key returns cache key.
func (f *Future[V]) Key() string {
	return f.key
}

// Done is closed when future is settled.
func (f *Future[V]) Done() <-chan struct{} {
	return f.done
}

// Status returns current state.
func (f *Future[V]) Status() Status {
	select {
	case <-f.done:
		return f.outcome.Status
	default:
		return Pending
	}
}

// Outcome returns settled outcome, false is returned for pending future.
func (f *Future[V]) Outcome() (Outcome[V], bool) {
	select {
	case <-f.done:
		return f.outcome, true
	default:
		return Outcome[V]{}, false
	}
}

// Wait blocks until future is settled or ctx is done.
//
// Context cancellation detaches only this waiter, the future keeps its state.
func (f *Future[V]) Wait(ctx context.Context) (V, error) {
	select {
	case <-f.done:
		return f.outcome.Value, f.outcome.Err
	default:
	}

	select {
	case <-f.done:
		return f.outcome.Value, f.outcome.Err
	case <-ctx.Done():
		var zero V

		return zero, ctx.Err()
	}
}

func (f *Future[V]) settle(o Outcome[V]) bool {
	settled := false

	f.once.Do(func() {
		f.outcome = o
		settled = true

		close(f.done)
	})

	return settled
}

func (f *Future[V]) resolve(v V) bool {
	return f.settle(Outcome[V]{Value: v, Status: Resolved})
}

func (f *Future[V]) fail(err error) bool {
	return f.settle(Outcome[V]{Err: err, Status: Faulted})
}

func (f *Future[V]) cancel(err error) bool {
	return f.settle(Outcome[V]{Err: err, Status: Cancelled})
}

// follow settles f with the outcome of src.
func (f *Future[V]) follow(src *Future[V]) {
	go func() {
		<-src.done
		f.settle(src.outcome)
	}()
}
