// Package fsm implements the request-lifecycle state machine described in
// spec.md §4.1: CheckRequestCachePolicy -> PollCache -> classify ->
// {serve fresh, HandleStale, or CheckConcurrency+PollUpstream/
// AwaitResponse} -> CheckResponseCachePolicy -> UpdateCache -> Response.
//
// Grounded on cache-manager/service.go's Service.Get, which drives the
// same shape (policy check, tiered lookup, singleflight-coalesced
// origin fetch, write-back) through a single exported entry point; this
// package generalizes that flow to the typed predicate/body/offload/
// concurrency contracts the rest of this module exposes.
package fsm

import (
	"context"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/hitboxcache/hitbox/body"
	"github.com/hitboxcache/hitbox/concurrency"
	"github.com/hitboxcache/hitbox/hitboxbackend"
	"github.com/hitboxcache/hitbox/hitboxctx"
	"github.com/hitboxcache/hitbox/hitboxkey"
	"github.com/hitboxcache/hitbox/hitboxvalue"
	"github.com/hitboxcache/hitbox/internal/hitboxlog"
	"github.com/hitboxcache/hitbox/offload"
	"github.com/hitboxcache/hitbox/policy"
	"github.com/hitboxcache/hitbox/predicate"
	"github.com/hitboxcache/hitbox/upstream"
)

// Now is overridable in tests, matching the rest of the module's clock
// seam (hitboxctx.Now, offload.Now).
var Now = time.Now

// Backend is the minimal typed-cache contract the FSM drives; both
// hitboxbackend.Typed[T] and composition.Composition[T] satisfy it, so a
// Machine can sit directly on a single tier or on a full composition
// tree without the FSM knowing which.
type Backend[T any] interface {
	Get(ctx context.Context, hctx *hitboxctx.Context, key hitboxkey.Key) (hitboxvalue.Value[T], bool, error)
	Set(ctx context.Context, hctx *hitboxctx.Context, key hitboxkey.Key, value hitboxvalue.Value[T]) error
}

// Config wires a Machine's collaborators. Upstream, Backend, and the two
// predicates are required; Concurrency and Offload default to safe
// no-ops (concurrency.NoOp(), offload.Disabled()) when left nil.
type Config struct {
	Upstream    upstream.Upstream
	Backend     Backend[upstream.Response]
	Concurrency concurrency.Coalescer
	Offload     *offload.Manager
	Cache       policy.CacheConfig

	// RequestPredicate decides whether a request is eligible for cache
	// handling at all; a false verdict routes straight to upstream with
	// no cache interaction.
	RequestPredicate predicate.Predicate[io.Reader]
	// ResponsePredicate decides whether a freshly-fetched response may
	// be written to the cache.
	ResponsePredicate predicate.Predicate[io.Reader]
	// Extractor derives the cache key's parts from the (possibly
	// reconstructed) request subject.
	Extractor predicate.Extractor[io.Reader]

	KeyPrefix string
	KeyVersion int

	Log *zap.Logger
}

// Machine is the per-route/per-backend state machine instance; it holds
// no per-request state and is safe for concurrent use across requests.
type Machine struct {
	cfg Config
	log *zap.Logger
}

// New builds a Machine from cfg, filling in NoOp/Disabled collaborators
// where cfg left them nil.
func New(cfg Config) *Machine {
	if cfg.Concurrency == nil {
		cfg.Concurrency = concurrency.NoOp()
	}
	if cfg.Log == nil {
		cfg.Log = hitboxlog.L()
	}
	return &Machine{cfg: cfg, log: cfg.Log}
}

// Outcome is what Handle returns: the response plus the Context the
// caller can inspect for status/source/metrics (spec.md §4.7).
type Outcome struct {
	Response upstream.Response
	Context  *hitboxctx.Context
}

// Handle drives one request through the full cache lifecycle.
func (m *Machine) Handle(ctx context.Context, req upstream.Request) (Outcome, error) {
	hctx := hitboxctx.New()

	reqSubject := predicate.Subject[io.Reader]{
		Method: req.Method,
		Path:   req.Path,
		Body:   body.Complete[io.Reader](req.Body),
	}

	verdict, err := m.cfg.RequestPredicate(reqSubject)
	if err != nil {
		return Outcome{}, err
	}
	if !verdict.Cacheable {
		resp, err := m.cfg.Upstream.Call(ctx, req)
		hctx.Finalize()
		return Outcome{Response: resp, Context: hctx}, err
	}

	_, parts, err := m.cfg.Extractor(verdict.Subject)
	if err != nil {
		return Outcome{}, err
	}
	key := hitboxkey.New(m.cfg.KeyPrefix, m.cfg.KeyVersion, parts...)

	value, hit, err := m.cfg.Backend.Get(ctx, hctx, key)
	if err != nil {
		m.log.Warn("cache read failed, treating as miss", zap.String("key", key.String()), zap.Error(err))
		hit = false
	}

	if hit {
		switch value.Classify(Now()) {
		case hitboxvalue.Fresh:
			hctx.Finalize()
			return Outcome{Response: value.Payload, Context: hctx}, nil
		case hitboxvalue.StaleServiceable:
			hctx.Status = hitboxctx.Stale
			resp, err := m.handleStale(ctx, hctx, key, req, value)
			hctx.Finalize()
			return Outcome{Response: resp, Context: hctx}, err
		case hitboxvalue.Expired:
			hctx.Status = hitboxctx.Miss
			hctx.Source = hitboxctx.Source{}
		}
	}

	resp, err := m.missPath(ctx, hctx, key, req)
	hctx.Finalize()
	return Outcome{Response: resp, Context: hctx}, err
}

// missPath runs CheckConcurrency: the first caller for key becomes
// Leader and performs PollUpstream directly; later callers become
// Follower and await the leader's Publish, possibly being promoted to
// Leader themselves if the original leader cancels.
func (m *Machine) missPath(ctx context.Context, hctx *hitboxctx.Context, key hitboxkey.Key, req upstream.Request) (upstream.Response, error) {
	role, sub := m.cfg.Concurrency.Acquire(key.String())
	if role == concurrency.Leader {
		return m.leaderFetch(ctx, hctx, key, req)
	}

	result, err := sub.Await(ctx)
	if err != nil {
		// This follower's own ctx was cancelled or timed out; that says
		// nothing about the leader's fetch, which may still be in flight
		// for every other subscriber. Return the error to this caller only
		// and leave the shared pending entry untouched.
		return upstream.Response{}, err
	}
	if result.Cancelled {
		return upstream.Response{}, errCacheStampedeCancelled{key: key.String()}
	}
	if result.Promoted {
		return m.leaderFetch(ctx, hctx, key, req)
	}
	if result.Err != nil {
		return upstream.Response{}, result.Err
	}
	resp, _ := result.Value.(upstream.Response)
	return resp, nil
}

// leaderFetch performs PollUpstream and UpdateCache, then either publishes
// the outcome to any followers waiting on key or, if the leader's own ctx
// was cancelled mid-fetch, cancels the pending entry so a waiting follower
// is promoted to lead a fresh attempt instead of receiving a dead result.
func (m *Machine) leaderFetch(ctx context.Context, hctx *hitboxctx.Context, key hitboxkey.Key, req upstream.Request) (upstream.Response, error) {
	resp, err := m.pollUpstreamAndCache(ctx, hctx, key, req)
	if err != nil && ctx.Err() != nil {
		m.cfg.Concurrency.Cancel(key.String())
		return resp, err
	}
	m.cfg.Concurrency.Publish(key.String(), resp, err)
	return resp, err
}

// pollUpstreamAndCache calls upstream, then runs CheckResponseCachePolicy
// and UpdateCache when the response is cacheable.
func (m *Machine) pollUpstreamAndCache(ctx context.Context, hctx *hitboxctx.Context, key hitboxkey.Key, req upstream.Request) (upstream.Response, error) {
	resp, err := m.cfg.Upstream.Call(ctx, req)
	if err != nil {
		return upstream.Response{}, err
	}

	respSubject := predicate.Subject[io.Reader]{
		Method:     req.Method,
		Path:       req.Path,
		StatusCode: resp.StatusCode,
		Body:       body.Complete[io.Reader](resp.Body),
	}
	verdict, err := m.cfg.ResponsePredicate(respSubject)
	if err != nil {
		return resp, err
	}
	if !verdict.Cacheable {
		return resp, nil
	}

	expire, stale := m.cfg.Cache.Deadlines(Now())
	value := hitboxvalue.New(resp).WithExpire(expire).WithStale(stale)
	if err := m.cfg.Backend.Set(ctx, hctx, key, value); err != nil {
		m.log.Warn("cache write failed", zap.String("key", key.String()), zap.Error(err))
	}
	return resp, nil
}

// handleStale implements spec.md's HandleStale state for the three
// StalePolicy variants.
func (m *Machine) handleStale(ctx context.Context, hctx *hitboxctx.Context, key hitboxkey.Key, req upstream.Request, value hitboxvalue.Value[upstream.Response]) (upstream.Response, error) {
	switch m.cfg.Cache.Stale {
	case policy.SynchronousRevalidate:
		resp, err := m.pollUpstreamAndCache(ctx, hctx, key, req)
		if err != nil {
			m.log.Warn("synchronous revalidate failed, serving stale", zap.String("key", key.String()), zap.Error(err))
			return value.Payload, nil
		}
		hctx.Status = hitboxctx.Hit
		hctx.Source = hitboxctx.UpstreamSource()
		return resp, nil

	case policy.OffloadRevalidate:
		if m.cfg.Offload.Available() {
			m.spawnRevalidate(key, req)
		} else {
			m.log.Warn("offload unavailable, degrading to return-stale", zap.String("key", key.String()))
		}
		return value.Payload, nil

	default: // ReturnStale
		return value.Payload, nil
	}
}

// spawnRevalidate schedules a deduplicated background refresh of key; it
// runs against its own Context, discarded once the task completes, and
// never touches the concurrency manager since the stale value is already
// being served to the caller that triggered it.
func (m *Machine) spawnRevalidate(key hitboxkey.Key, req upstream.Request) {
	m.cfg.Offload.Spawn("revalidate", key.Digest(), func(taskCtx context.Context) error {
		if d := m.cfg.Cache.RevalidateTimeout; d > 0 {
			var cancel context.CancelFunc
			taskCtx, cancel = context.WithTimeout(taskCtx, d)
			defer cancel()
		}
		bg := hitboxctx.New()
		_, err := m.pollUpstreamAndCache(taskCtx, bg, key, req)
		return err
	})
}

// errCacheStampedeCancelled is returned to a follower when promotion
// retries were exhausted and no leader ever published for key. It unwraps
// to hitboxbackend.ErrCancelled.
type errCacheStampedeCancelled struct{ key string }

func (e errCacheStampedeCancelled) Error() string {
	return "hitbox: concurrency manager exhausted promotion retries for key " + e.key
}

func (e errCacheStampedeCancelled) Unwrap() error { return hitboxbackend.ErrCancelled }
