// Package offload schedules background work that must not block the
// request pipeline, per spec.md §4.5 — primarily stale-while-revalidate
// refreshes, but general enough for warmup-style tasks too.
//
// Grounded on warming/service.go's deduper (singleflight.Group) and
// atomic.Int64-based Metrics, and warming/worker_pool.go's worker loop,
// collapsed into a single manager since the FSM only ever needs "run this
// once per key, in the background, with a timeout policy" rather than a
// scheduled/batched queue. WithConcurrencyLimit adds golang.org/x/sync/
// semaphore bounding, the Go analogue of worker_pool.go's fixed-size
// worker channel.
package offload

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/hitboxcache/hitbox/internal/hitboxlog"
	"go.uber.org/zap"
)

// Now is overridable in tests, matching hitboxctx.Now.
var Now = time.Now

// TimeoutPolicy controls how long a task may run before the manager
// intervenes. The zero value is None (unbounded).
type TimeoutPolicy struct {
	mode     timeoutMode
	duration time.Duration
}

type timeoutMode int

const (
	modeNone timeoutMode = iota
	modeCancel
	modeWarn
)

// None lets a task run unbounded.
func None() TimeoutPolicy { return TimeoutPolicy{mode: modeNone} }

// Cancel aborts a task's context after d.
func Cancel(d time.Duration) TimeoutPolicy { return TimeoutPolicy{mode: modeCancel, duration: d} }

// Warn lets a task run but logs if it exceeds d.
func Warn(d time.Duration) TimeoutPolicy { return TimeoutPolicy{mode: modeWarn, duration: d} }

// Task is the unit of background work. ctx is derived per the manager's
// TimeoutPolicy; the function must respect ctx.Done() when the policy is
// Cancel.
type Task func(ctx context.Context) error

// KindCounters tracks per-kind offload outcomes, grounded on
// warming/service.go's Metrics struct of atomic.Int64 fields.
type KindCounters struct {
	Spawned   atomic.Int64
	Deduped   atomic.Int64
	Succeeded atomic.Int64
	Failed    atomic.Int64
	TimedOut  atomic.Int64
}

// KindSnapshot is a point-in-time copy of KindCounters, safe to hand out.
type KindSnapshot struct {
	Spawned, Deduped, Succeeded, Failed, TimedOut int64
}

func (c *KindCounters) snapshot() KindSnapshot {
	return KindSnapshot{
		Spawned:   c.Spawned.Load(),
		Deduped:   c.Deduped.Load(),
		Succeeded: c.Succeeded.Load(),
		Failed:    c.Failed.Load(),
		TimedOut:  c.TimedOut.Load(),
	}
}

// Manager runs tasks in the background with per-key deduplication,
// kind-scoped metrics, and a timeout policy. The zero value is not usable;
// construct with New.
type Manager struct {
	group   singleflight.Group
	policy  TimeoutPolicy
	limiter *rate.Limiter
	sem     *semaphore.Weighted
	log     *zap.Logger

	mu       sync.Mutex
	inFlight map[string]context.CancelFunc
	metrics  map[string]*KindCounters

	baseCtx context.Context
	wg      sync.WaitGroup
}

// New builds a Manager. A zero TimeoutPolicy means None (unbounded).
func New(policy TimeoutPolicy) *Manager {
	return &Manager{
		policy:   policy,
		log:      hitboxlog.Named("offload"),
		inFlight: make(map[string]context.CancelFunc),
		metrics:  make(map[string]*KindCounters),
		baseCtx:  context.Background(),
	}
}

// WithRateLimit caps how fast tasks may start, mirroring
// warming.Config.MaxOriginRPS — useful for bulk SWR fan-out where an
// unthrottled offload manager would hammer the upstream. burst is the
// maximum number of tasks allowed to start back-to-back.
func (m *Manager) WithRateLimit(tasksPerSecond float64, burst int) *Manager {
	m.limiter = rate.NewLimiter(rate.Limit(tasksPerSecond), burst)
	return m
}

// WithConcurrencyLimit bounds the number of tasks that may run at once,
// per spec.md §4.5's "bounded background execution" concern — distinct
// from WithRateLimit, which bounds how fast new tasks start, not how many
// are in flight simultaneously. Spawn does not wait for a slot: the
// spawned task waits for one in its own goroutine, and counts toward
// ActiveTaskCount while it waits.
func (m *Manager) WithConcurrencyLimit(n int64) *Manager {
	m.sem = semaphore.NewWeighted(n)
	return m
}

// Disabled returns a Manager whose Spawn always reports unavailability
// without running anything, satisfying spec.md §4.5's "disabled variant
// that accepts any lifetime and discards the task" — the FSM uses this to
// implement the OffloadRevalidate → ReturnStale degradation path.
func Disabled() *Manager { return nil }

// Available reports whether m can actually run tasks.
func (m *Manager) Available() bool { return m != nil }

// Spawn schedules fn under the given kind and dedup key. If a task for key
// is already in flight, the new spawn is dropped (counted as Deduped) and
// Spawn returns false. An empty key disables deduplication (used for
// non-cache tasks per spec.md §4.5, which generate their own identity).
func (m *Manager) Spawn(kind, key string, fn Task) bool {
	if m == nil {
		return false
	}
	counters := m.countersFor(kind)

	dedupKey := key
	if dedupKey == "" {
		dedupKey = kind + ":" + uuid.NewString()
	}

	m.mu.Lock()
	if key != "" {
		if _, busy := m.inFlight[dedupKey]; busy {
			m.mu.Unlock()
			counters.Deduped.Add(1)
			return false
		}
	}
	taskCtx, taskCancel := context.WithCancel(m.baseCtx)
	m.inFlight[dedupKey] = taskCancel
	m.mu.Unlock()

	if m.limiter != nil {
		if err := m.limiter.Wait(taskCtx); err != nil {
			taskCancel()
			m.mu.Lock()
			delete(m.inFlight, dedupKey)
			m.mu.Unlock()
			return false
		}
	}

	counters.Spawned.Add(1)
	m.wg.Add(1)
	go m.run(kind, dedupKey, taskCtx, taskCancel, counters, key != "", fn)
	return true
}

func (m *Manager) run(kind, dedupKey string, ctx context.Context, cancel context.CancelFunc, counters *KindCounters, deduped bool, fn Task) {
	defer m.wg.Done()
	defer func() {
		m.mu.Lock()
		delete(m.inFlight, dedupKey)
		m.mu.Unlock()
		cancel()
	}()

	if m.sem != nil {
		if err := m.sem.Acquire(ctx, 1); err != nil {
			counters.Failed.Add(1)
			return
		}
		defer m.sem.Release(1)
	}

	do := func(ctx context.Context) error {
		if !deduped {
			return fn(ctx)
		}
		_, err, _ := m.group.Do(dedupKey, func() (any, error) { return nil, fn(ctx) })
		return err
	}

	var err error
	switch m.policy.mode {
	case modeCancel:
		cctx, ccancel := context.WithTimeout(ctx, m.policy.duration)
		err = do(cctx)
		if cctx.Err() != nil {
			counters.TimedOut.Add(1)
		}
		ccancel()
	case modeWarn:
		start := Now()
		err = do(ctx)
		if elapsed := Now().Sub(start); elapsed > m.policy.duration {
			counters.TimedOut.Add(1)
			m.log.Warn("offload task exceeded warn threshold",
				zap.String("kind", kind), zap.Duration("elapsed", elapsed), zap.Duration("threshold", m.policy.duration))
		}
	default:
		err = do(ctx)
	}

	if err != nil {
		counters.Failed.Add(1)
		m.log.Warn("offload task failed", zap.String("kind", kind), zap.Error(err))
		return
	}
	counters.Succeeded.Add(1)
}

// CancelAll cancels every in-flight task's context without waiting for
// them to return.
func (m *Manager) CancelAll() {
	if m == nil {
		return
	}
	m.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(m.inFlight))
	for _, c := range m.inFlight {
		cancels = append(cancels, c)
	}
	m.mu.Unlock()
	for _, c := range cancels {
		c()
	}
}

// WaitAll blocks until every spawned task has returned, for graceful
// shutdown.
func (m *Manager) WaitAll() {
	if m == nil {
		return
	}
	m.wg.Wait()
}

// ActiveTaskCount reports the number of tasks currently in flight.
func (m *Manager) ActiveTaskCount() int {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.inFlight)
}

// Snapshot returns a copy of the counters for kind.
func (m *Manager) Snapshot(kind string) KindSnapshot {
	if m == nil {
		return KindSnapshot{}
	}
	m.mu.Lock()
	c, ok := m.metrics[kind]
	m.mu.Unlock()
	if !ok {
		return KindSnapshot{}
	}
	return c.snapshot()
}

func (m *Manager) countersFor(kind string) *KindCounters {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.metrics[kind]
	if !ok {
		c = &KindCounters{}
		m.metrics[kind] = c
	}
	return c
}

