package asynccache

import (
	"context"
	"runtime"

	"golang.org/x/sync/semaphore"
)

// Mutex is a context-aware mutual exclusion lock.
//
// Waiting for the lock can be abandoned with context, lock is released with a function
// returned by Acquire. Please use NewMutex to create instance.
type Mutex struct {
	*mutex
}

type mutex struct {
	sem    *semaphore.Weighted
	life   context.Context
	cancel context.CancelFunc
}

// NewMutex creates an unlocked Mutex.
func NewMutex() *Mutex {
	life, cancel := context.WithCancel(context.Background())

	m := &mutex{
		sem:    semaphore.NewWeighted(1),
		life:   life,
		cancel: cancel,
	}
	M := &Mutex{mutex: m}

	runtime.SetFinalizer(M, func(_ *Mutex) {
		m.cancel()
	})

	return M
}

// Acquire waits for the lock and returns release function.
//
// Release must be called exactly once, repeated call panics.
// Acquire fails with ctx.Err() if context is done before lock is obtained,
// or with ErrClosed if mutex is closed.
func (m *mutex) Acquire(ctx context.Context) (release func(), err error) {
	if m.life.Err() != nil {
		return nil, ErrClosed
	}

	actx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Waking waiters up on Close.
	stop := context.AfterFunc(m.life, cancel)
	defer stop()

	if err := m.sem.Acquire(actx, 1); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		return nil, ErrClosed
	}

	if m.life.Err() != nil {
		m.sem.Release(1)

		return nil, ErrClosed
	}

	return func() { m.sem.Release(1) }, nil
}

// Close fails pending and future acquisitions with ErrClosed.
//
// Current holder can still release the lock.
func (m *mutex) Close() {
	m.cancel()
}
