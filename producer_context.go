package asynccache

import "context"

// producerContext takes values from the requesting context and
// cancellation from the cache, so that a waiter that gives up does not
// cancel production other waiters depend on.
type producerContext struct {
	context.Context

	values context.Context
}

func (p producerContext) Value(key interface{}) interface{} {
	if v := p.values.Value(key); v != nil {
		return v
	}

	return p.Context.Value(key)
}
