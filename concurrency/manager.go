// Package concurrency implements the dogpile/thundering-herd protection
// contract from spec.md §4.4: per process, per CacheKey, at most one
// concurrent upstream call during a cache miss, with explicit Leader/
// Follower roles, broadcast-on-publish, and bounded-retry promotion when a
// leader is cancelled before publishing.
//
// Grounded on cache-manager/singleflight.go's RequestCoalescer (mutex +
// map[string]*call + sync.WaitGroup), extended beyond what
// golang.org/x/sync/singleflight's Do can express: stdlib singleflight
// blocks all callers until the one in-flight call returns and never
// distinguishes who is "leading" from who is "waiting", so it cannot
// implement cancellation-driven promotion. This package is a deliberate,
// justified departure from the corpus's stdlib singleflight usage for
// exactly that reason (see DESIGN.md).
package concurrency

import (
	"context"
	"sync"

	"github.com/hitboxcache/hitbox/internal/hitboxlog"
	"go.uber.org/zap"
)

// Role is returned by Acquire.
type Role int

const (
	// Leader means this caller is responsible for the upstream fetch and
	// must call Publish or Cancel when done.
	Leader Role = iota
	// Follower means a peer is already working this key; await the
	// subscriber's channel for the result.
	Follower
)

// Result is delivered to a follower's Subscriber.
type Result struct {
	Value any
	Err   error

	// Promoted is true when this follower has been handed leadership
	// after the original leader cancelled. The caller must perform the
	// upstream fetch itself and call Publish or Cancel on the same key.
	Promoted bool

	// Cancelled is true when promotion retries were exhausted: no leader
	// will publish for this key and no more followers will be promoted.
	// The FSM surfaces this to its caller as an error.
	Cancelled bool
}

// Subscriber is handed to a Follower to await the leader's outcome.
type Subscriber struct {
	ch <-chan Result
}

// Await blocks until the leader publishes, this follower is promoted, the
// entry is cancelled outright, or ctx is done.
func (s Subscriber) Await(ctx context.Context) (Result, error) {
	select {
	case r := <-s.ch:
		return r, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

type pending struct {
	subscribers []chan Result
	promotions  int
}

// Manager coalesces concurrent misses per key in-process. The zero value
// is not usable; construct with New.
type Manager struct {
	mu                  sync.Mutex
	entries             map[string]*pending
	maxPromotionRetries int
	log                 *zap.Logger
}

// DefaultMaxPromotionRetries bounds how many times a follower may be
// promoted to leader after a cancellation before the remaining followers
// are surfaced Cancelled, per the Open Question decision recorded in
// DESIGN.md (spec.md leaves the exact cap implementation-defined).
const DefaultMaxPromotionRetries = 2

// New builds a Manager. maxPromotionRetries <= 0 uses the default.
func New(maxPromotionRetries int) *Manager {
	if maxPromotionRetries <= 0 {
		maxPromotionRetries = DefaultMaxPromotionRetries
	}
	return &Manager{
		entries:             make(map[string]*pending),
		maxPromotionRetries: maxPromotionRetries,
		log:                 hitboxlog.Named("concurrency"),
	}
}

// Coalescer is the contract the FSM depends on, satisfied by *Manager and
// by NoOp(), per spec.md §4.4's requirement that a no-op identity
// implementation (always Leader, no coalescing) be available for callers
// that do not want dogpile protection.
type Coalescer interface {
	Acquire(key string) (Role, Subscriber)
	Publish(key string, value any, err error)
	Cancel(key string)
}

// NoOp returns a Coalescer that never coalesces: every Acquire call
// returns Leader immediately, regardless of concurrent callers using the
// same key. Publish and Cancel are no-ops since no follower ever queues.
func NoOp() Coalescer { return noOpCoalescer{} }

type noOpCoalescer struct{}

func (noOpCoalescer) Acquire(key string) (Role, Subscriber) { return Leader, Subscriber{} }
func (noOpCoalescer) Publish(key string, value any, err error) {}
func (noOpCoalescer) Cancel(key string)                        {}

// Acquire attempts to become Leader for key; if a leader is already
// pending, the caller becomes a Follower and receives a Subscriber to
// await the result.
func (m *Manager) Acquire(key string) (Role, Subscriber) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if p, ok := m.entries[key]; ok {
		ch := make(chan Result, 1)
		p.subscribers = append(p.subscribers, ch)
		return Follower, Subscriber{ch: ch}
	}

	m.entries[key] = &pending{}
	return Leader, Subscriber{}
}

// Publish delivers result to every waiting follower and removes the
// pending entry, per the invariant that no key retains a pending entry
// after the leader resolves.
func (m *Manager) Publish(key string, value any, err error) {
	m.mu.Lock()
	p, ok := m.entries[key]
	if ok {
		delete(m.entries, key)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	result := Result{Value: value, Err: err}
	for _, ch := range p.subscribers {
		ch <- result
	}
}

// Cancel signals a leader's cancellation without publishing a result. One
// waiting follower, if any, is promoted to Leader and must itself call
// Publish or Cancel on key; the rest stay queued behind the pending entry.
// Once promotions for this key are exhausted (maxPromotionRetries), all
// remaining followers are released with Cancelled=true instead of a
// further promotion.
func (m *Manager) Cancel(key string) {
	m.mu.Lock()
	p, ok := m.entries[key]
	if !ok {
		m.mu.Unlock()
		return
	}
	if len(p.subscribers) == 0 {
		delete(m.entries, key)
		m.mu.Unlock()
		return
	}

	if p.promotions >= m.maxPromotionRetries {
		subs := p.subscribers
		retries := p.promotions
		delete(m.entries, key)
		m.mu.Unlock()
		for _, ch := range subs {
			ch <- Result{Cancelled: true}
		}
		m.log.Warn("promotion retries exhausted, surfacing cancellation",
			zap.String("key", key), zap.Int("retries", retries))
		return
	}

	promoted := p.subscribers[0]
	p.subscribers = p.subscribers[1:]
	p.promotions++
	m.mu.Unlock()

	promoted <- Result{Promoted: true}
}

// ActiveKeys reports keys with a pending leader, for diagnostics/tests.
func (m *Manager) ActiveKeys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.entries))
	for k := range m.entries {
		keys = append(keys, k)
	}
	return keys
}
