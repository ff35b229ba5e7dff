// Package memorybackend is a reference in-process Raw Backend: LRU
// eviction plus TTL expiration over the compressed/serialized byte
// payloads the typed layer hands it. It is not a deliverable storage
// engine (spec.md §1 excludes concrete backend implementations) — it
// exists so composition, the concurrency manager, and the FSM have a real
// Raw Backend to exercise in tests and examples, the same role
// cache-manager's L1Cache plays for the teacher's own services.
package memorybackend

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/hitboxcache/hitbox/hitboxbackend"
	"github.com/hitboxcache/hitbox/hitboxkey"
	"github.com/hitboxcache/hitbox/hitboxvalue"
)

type entry struct {
	digest  string
	bytes   []byte
	expire  time.Time
	stale   time.Time
	element *list.Element
}

// Backend implements hitboxbackend.Raw with an LRU+TTL in-memory map,
// adapted from cache-manager/cache.go's L1Cache: same map+list+RWMutex
// shape, generalized to store opaque (bytes, expire, stale) raw values
// keyed by a hitboxkey.Key digest instead of a bespoke CacheEntry.
type Backend struct {
	mu         sync.RWMutex
	label      string
	entries    map[string]*entry
	lru        *list.List
	maxEntries int
}

// New builds an in-memory backend labeled label, evicting least-recently
// used entries once maxEntries is exceeded. maxEntries <= 0 means
// unbounded.
func New(label string, maxEntries int) *Backend {
	return &Backend{
		label:      label,
		entries:    make(map[string]*entry),
		lru:        list.New(),
		maxEntries: maxEntries,
	}
}

func (b *Backend) Label() string { return b.label }

func (b *Backend) Read(_ context.Context, key hitboxkey.Key) (hitboxvalue.Raw, bool, error) {
	digest := key.Digest()

	b.mu.RLock()
	e, ok := b.entries[digest]
	b.mu.RUnlock()
	if !ok {
		return hitboxvalue.Raw{}, false, nil
	}

	if !e.expire.IsZero() && time.Now().After(e.expire) {
		b.mu.Lock()
		b.deleteUnsafe(digest)
		b.mu.Unlock()
		return hitboxvalue.Raw{}, false, nil
	}

	b.mu.Lock()
	b.lru.MoveToFront(e.element)
	b.mu.Unlock()

	return hitboxvalue.Raw{Bytes: append([]byte(nil), e.bytes...), Expire: e.expire, Stale: e.stale}, true, nil
}

func (b *Backend) Write(_ context.Context, key hitboxkey.Key, value hitboxvalue.Raw) error {
	digest := key.Digest()

	b.mu.Lock()
	defer b.mu.Unlock()

	if e, ok := b.entries[digest]; ok {
		e.bytes = append([]byte(nil), value.Bytes...)
		e.expire = value.Expire
		e.stale = value.Stale
		b.lru.MoveToFront(e.element)
		return nil
	}

	if b.maxEntries > 0 && b.lru.Len() >= b.maxEntries {
		b.evictLRUUnsafe()
	}

	e := &entry{digest: digest, bytes: append([]byte(nil), value.Bytes...), expire: value.Expire, stale: value.Stale}
	e.element = b.lru.PushFront(e)
	b.entries[digest] = e
	return nil
}

func (b *Backend) Remove(_ context.Context, key hitboxkey.Key) (hitboxbackend.DeleteResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.deleteUnsafe(key.Digest()) {
		return hitboxbackend.Deleted, nil
	}
	return hitboxbackend.Missing, nil
}

func (b *Backend) deleteUnsafe(digest string) bool {
	e, ok := b.entries[digest]
	if !ok {
		return false
	}
	b.lru.Remove(e.element)
	delete(b.entries, digest)
	return true
}

func (b *Backend) evictLRUUnsafe() {
	oldest := b.lru.Back()
	if oldest == nil {
		return
	}
	e := oldest.Value.(*entry)
	b.lru.Remove(oldest)
	delete(b.entries, e.digest)
}

// Size returns the current number of entries.
func (b *Backend) Size() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries)
}

// Clear removes all entries.
func (b *Backend) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = make(map[string]*entry)
	b.lru = list.New()
}
