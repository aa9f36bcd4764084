package asynccache

import "fmt"

// SentinelError is an error.
type SentinelError string

const (
	// ErrClosed indicates an operation on a closed cache or mutex.
	ErrClosed = SentinelError("cache is closed")

	// ErrNoProducer indicates missing producer function.
	ErrNoProducer = SentinelError("missing producer function")

	// ErrInvalidKey indicates a key that can not be turned into a cache key.
	ErrInvalidKey = SentinelError("invalid cache key")

	// ErrConflictingHooks indicates that both OnRemoved and OnUpdate are configured.
	ErrConflictingHooks = SentinelError("OnRemoved and OnUpdate are mutually exclusive")

	// ErrInvalidConfig indicates inconsistent configuration.
	ErrInvalidConfig = SentinelError("invalid configuration")

	// ErrUnexpectedValue indicates a store entry that is not a future of the cache.
	ErrUnexpectedValue = SentinelError("unexpected value in store")

	// ErrIncompatibleDump indicates a dump made with different registered gob types.
	ErrIncompatibleDump = SentinelError("incompatible cache dump")

	// ErrNothingToInvalidate indicates no caches were added to Invalidator.
	ErrNothingToInvalidate = SentinelError("nothing to invalidate")

	// ErrAlreadyInvalidated indicates recent invalidation.
	ErrAlreadyInvalidated = SentinelError("already invalidated")
)

// Error implements error.
func (e SentinelError) Error() string {
	return string(e)
}

// ProductionError is the terminal error of a failed production, shared by all waiters of a key.
//
// Use errors.Is or errors.As to inspect the error returned by producer.
type ProductionError struct {
	Key string
	Err error
}

// Error implements error.
func (e *ProductionError) Error() string {
	return fmt.Sprintf("failed to produce value for %q: %v", e.Key, e.Err)
}

// Unwrap returns producer error.
func (e *ProductionError) Unwrap() error {
	return e.Err
}
