// Package policy holds the plain configuration structs the FSM and
// composition consume, per spec.md §6's "Policy config: {ttl, stale_ttl,
// stale_policy, ...}".
//
// Grounded on cache-manager/service.go's Config struct shape (plain
// exported fields, explicit zero-value defaults via a DefaultConfig
// constructor); no file/env parsing is carried over since spec.md §1
// places configuration-file parsing out of core scope.
package policy

import "time"

// StalePolicy selects how the FSM handles a stale hit, per spec.md §4.1's
// HandleStale state.
type StalePolicy int

const (
	// ReturnStale serves the stale value with no revalidation.
	ReturnStale StalePolicy = iota
	// OffloadRevalidate serves the stale value immediately and spawns a
	// deduplicated background revalidation task.
	OffloadRevalidate
	// SynchronousRevalidate calls upstream inline before responding,
	// falling back to ReturnStale on upstream failure.
	SynchronousRevalidate
)

func (p StalePolicy) String() string {
	switch p {
	case ReturnStale:
		return "ReturnStale"
	case OffloadRevalidate:
		return "OffloadRevalidate"
	case SynchronousRevalidate:
		return "SynchronousRevalidate"
	default:
		return "Unknown"
	}
}

// CacheConfig holds the per-cache policy the FSM consults to classify
// freshness and compute TTLs for a freshly-fetched upstream value.
type CacheConfig struct {
	// TTL is how long a fresh upstream value stays fresh; with no stale
	// window it is also the hard expiry. Zero means the value never expires.
	TTL time.Duration
	// StaleTTL is how long past Fresh a value remains stale-serviceable,
	// i.e. stale = now+TTL, expire = now+TTL+StaleTTL. Zero disables the
	// stale window (expire = now+TTL, stale deadline unset).
	StaleTTL time.Duration
	// Stale selects the HandleStale behavior.
	Stale StalePolicy
	// RevalidateTimeout bounds an OffloadRevalidate background task; zero
	// means unbounded (offload.None()).
	RevalidateTimeout time.Duration
	// MaxPromotionRetries is not read by fsm.Machine: the promotion cap in
	// effect is the one the concurrency.Manager was built with
	// (concurrency.New), whatever this field holds.
	MaxPromotionRetries int
}

// DefaultCacheConfig returns sensible defaults: 60s TTL, no stale window,
// ReturnStale.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		TTL:   60 * time.Second,
		Stale: ReturnStale,
	}
}

// Deadlines computes (expire, stale) for a value fetched at now under c.
func (c CacheConfig) Deadlines(now time.Time) (expire, stale time.Time) {
	if c.TTL <= 0 {
		return time.Time{}, time.Time{}
	}
	expire = now.Add(c.TTL + c.StaleTTL)
	if c.StaleTTL <= 0 {
		return expire, time.Time{}
	}
	stale = now.Add(c.TTL)
	return expire, stale
}
