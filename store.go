package asynccache

import (
	"context"
	"time"
)

// Reader reads from store.
type Reader interface {
	// Load returns stored value if it is present and not expired.
	//
	// Load counts as an access and prolongs sliding expiration.
	Load(ctx context.Context, key string) (interface{}, bool)
}

// Writer writes to store.
type Writer interface {
	// Store sets value with a given key replacing existing entry.
	Store(ctx context.Context, key string, value interface{}, policy Policy)
}

// Deleter removes from store.
type Deleter interface {
	// Delete removes the entry and reports whether it was present.
	Delete(ctx context.Context, key string) bool
}

// Adder atomically inserts absent values.
type Adder interface {
	// LoadOrStore returns existing live value with loaded true,
	// or stores the given value and returns it with loaded false.
	//
	// Expired entry is treated as absent and replaced.
	LoadOrStore(ctx context.Context, key string, value interface{}, policy Policy) (actual interface{}, loaded bool)
}

// ReadWriter reads from, writes to and deletes from store.
type ReadWriter interface {
	Reader
	Writer
	Deleter
}

// AtomicStore is a ReadWriter with atomic insert of absent value.
type AtomicStore interface {
	ReadWriter
	Adder
}

// Entry is a stored item.
type Entry interface {
	Key() string
	Value() interface{}
	// ExpireAt returns current deadline, zero time for non-expiring entry.
	ExpireAt() time.Time
}

// Walker calls function for every entry in store and fails on first error returned by that function.
//
// Count of processed entries is returned.
type Walker interface {
	Walk(func(e Entry) error) (int, error)
}

// Clearer expires or removes all entries.
type Clearer interface {
	ExpireAll(ctx context.Context)
	DeleteAll(ctx context.Context)
}

// RemovalReason explains why an entry left the store.
type RemovalReason int

// Removal reasons.
const (
	RemovalExpired RemovalReason = iota + 1
	RemovalDeleted
	RemovalReplaced
	RemovalCleared
)

func (r RemovalReason) String() string {
	switch r {
	case RemovalExpired:
		return "expired"
	case RemovalDeleted:
		return "deleted"
	case RemovalReplaced:
		return "replaced"
	case RemovalCleared:
		return "cleared"
	}

	return "unknown"
}

// EvictionFunc is notified with a key and value leaving the store.
//
// Errors and panics of EvictionFunc are logged and suppressed.
type EvictionFunc func(ctx context.Context, key string, value interface{}, reason RemovalReason) error

// UpdateFunc is called with an entry that is about to leave the store.
//
// Returning true for an expired entry renews its deadlines instead of removal,
// for other reasons the result is ignored. Errors and panics of UpdateFunc are logged and suppressed.
type UpdateFunc func(ctx context.Context, key string, value interface{}, reason RemovalReason) (keep bool, err error)
