package asynccache

import (
	"context"
	"time"
)

// Policy defines expiration of a cache entry.
//
// Both deadlines can be combined, the entry expires at the earliest of them.
type Policy struct {
	// ExpireAfter is an absolute lifetime counted from insertion, zero means no absolute deadline.
	ExpireAfter time.Duration

	// SlidingWindow is a lifetime counted from last access, zero means no sliding deadline.
	SlidingWindow time.Duration
}

// IsZero is true for a policy that never expires.
func (p Policy) IsZero() bool {
	return p.ExpireAfter <= 0 && p.SlidingWindow <= 0
}

// Merge fills unset fields from fallback.
func (p Policy) Merge(fallback Policy) Policy {
	if p.ExpireAfter <= 0 {
		p.ExpireAfter = fallback.ExpireAfter
	}

	if p.SlidingWindow <= 0 {
		p.SlidingWindow = fallback.SlidingWindow
	}

	return p
}

type policyCtxKey struct{}

// WithPolicy returns context with expiration policy for entries created with it.
//
// Unset fields of the policy are filled from cache configuration.
func WithPolicy(ctx context.Context, p Policy) context.Context {
	return context.WithValue(ctx, policyCtxKey{}, p)
}

// PolicyFromContext returns expiration policy set with WithPolicy.
func PolicyFromContext(ctx context.Context) (Policy, bool) {
	p, ok := ctx.Value(policyCtxKey{}).(Policy)

	return p, ok
}
