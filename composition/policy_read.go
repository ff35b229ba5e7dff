package composition

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hitboxcache/hitbox/hitboxctx"
	"github.com/hitboxcache/hitbox/hitboxvalue"
)

// TierGet is a single tier's Get, closed over its own key and a cloned
// context, so read policies can invoke it without knowing about CacheKey
// or the composition's internals. Grounded on spec.md §4.3's "closures
// capture cloned tier handles + cloned contexts so policies can spawn".
type TierGet[T any] func(ctx context.Context) (hitboxvalue.Value[T], *hitboxctx.Context, bool, error)

// ReadResult is what a ReadPolicy hands back to the composition: the
// winning value (if any), the winning inner context (for merge), and
// whether the winner was L2 (so refill can be considered).
type ReadResult[T any] struct {
	Value    hitboxvalue.Value[T]
	InnerCtx *hitboxctx.Context
	Hit      bool
	FromL2   bool
}

// ReadPolicy decides how to combine two tier reads. Implementations must
// provide at least Sequential per spec.md §4.3.
type ReadPolicy[T any] func(ctx context.Context, l1, l2 TierGet[T]) (ReadResult[T], error)

// Sequential tries L1 first; only calls L2 on an L1 miss. Default policy.
func Sequential[T any]() ReadPolicy[T] {
	return func(ctx context.Context, l1, l2 TierGet[T]) (ReadResult[T], error) {
		v, ictx, hit, err := l1(ctx)
		if err != nil {
			// L1 failure does not short-circuit: fall through to L2,
			// matching spec.md §4.3's failure semantics ("one tier
			// errored and the other hit -> return the hit").
			v2, ictx2, hit2, err2 := l2(ctx)
			if err2 != nil {
				return ReadResult[T]{}, &bothFailed{l1: err, l2: err2}
			}
			return ReadResult[T]{Value: v2, InnerCtx: ictx2, Hit: hit2, FromL2: true}, nil
		}
		if hit {
			return ReadResult[T]{Value: v, InnerCtx: ictx, Hit: true}, nil
		}
		v2, ictx2, hit2, err2 := l2(ctx)
		if err2 != nil {
			// L1 healthy-but-miss, L2 errored: not BothLayersFailed
			// (only one tier actually errored); surface a plain
			// miss with the error folded into metrics by the caller.
			return ReadResult[T]{InnerCtx: ictx2}, nil
		}
		return ReadResult[T]{Value: v2, InnerCtx: ictx2, Hit: hit2, FromL2: true}, nil
	}
}

// Race launches both tiers concurrently and returns on the first
// successful hit. The loser is allowed to run to completion in the
// background (detached) so it does not block the winner's return; only the
// returned context is merged by the caller, so a detached loser's metrics
// are not recorded.
func Race[T any]() ReadPolicy[T] {
	return func(ctx context.Context, l1, l2 TierGet[T]) (ReadResult[T], error) {
		type outcome struct {
			v      hitboxvalue.Value[T]
			ictx   *hitboxctx.Context
			hit    bool
			err    error
			fromL2 bool
		}
		results := make(chan outcome, 2)

		go func() {
			v, ictx, hit, err := l1(ctx)
			results <- outcome{v, ictx, hit, err, false}
		}()
		go func() {
			v, ictx, hit, err := l2(ctx)
			results <- outcome{v, ictx, hit, err, true}
		}()

		first := <-results
		if first.err == nil && first.hit {
			return ReadResult[T]{Value: first.v, InnerCtx: first.ictx, Hit: true, FromL2: first.fromL2}, nil
		}

		second := <-results
		switch {
		case first.err != nil && second.err != nil:
			firstErr, secondErr := first.err, second.err
			if first.fromL2 {
				firstErr, secondErr = second.err, first.err
			}
			return ReadResult[T]{}, &bothFailed{l1: firstErr, l2: secondErr}
		case second.err == nil && second.hit:
			return ReadResult[T]{Value: second.v, InnerCtx: second.ictx, Hit: true, FromL2: second.fromL2}, nil
		default:
			// Neither hit; surface whichever inner context exists for
			// metrics (prefer the non-erroring one).
			if first.err == nil {
				return ReadResult[T]{InnerCtx: first.ictx}, nil
			}
			return ReadResult[T]{InnerCtx: second.ictx}, nil
		}
	}
}

// ParallelFreshest awaits both tiers and picks the value with the later
// Expire deadline (or the only one that hit).
func ParallelFreshest[T any]() ReadPolicy[T] {
	return func(ctx context.Context, l1, l2 TierGet[T]) (ReadResult[T], error) {
		var v1, v2 hitboxvalue.Value[T]
		var ictx1, ictx2 *hitboxctx.Context
		var hit1, hit2 bool
		var err1, err2 error

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			v1, ictx1, hit1, err1 = l1(gctx)
			return nil
		})
		g.Go(func() error {
			v2, ictx2, hit2, err2 = l2(gctx)
			return nil
		})
		_ = g.Wait()

		if err1 != nil && err2 != nil {
			return ReadResult[T]{}, &bothFailed{l1: err1, l2: err2}
		}
		if (err1 != nil || !hit1) && (err2 != nil || !hit2) {
			if err1 == nil {
				return ReadResult[T]{InnerCtx: ictx1}, nil
			}
			return ReadResult[T]{InnerCtx: ictx2}, nil
		}
		if err1 != nil || !hit1 {
			return ReadResult[T]{Value: v2, InnerCtx: ictx2, Hit: true, FromL2: true}, nil
		}
		if err2 != nil || !hit2 {
			return ReadResult[T]{Value: v1, InnerCtx: ictx1, Hit: true}, nil
		}
		// Both hit: later Expire wins. A zero Expire means "never
		// expires", which outranks any concrete deadline.
		if laterExpire(v2.Expire, v1.Expire) {
			return ReadResult[T]{Value: v2, InnerCtx: ictx2, Hit: true, FromL2: true}, nil
		}
		return ReadResult[T]{Value: v1, InnerCtx: ictx1, Hit: true}, nil
	}
}

func laterExpire(candidate, current time.Time) bool {
	if candidate.IsZero() {
		return true
	}
	if current.IsZero() {
		return false
	}
	return candidate.After(current)
}

type bothFailed struct {
	l1, l2 error
}

func (b *bothFailed) Error() string {
	return "both layers failed reading"
}
func (b *bothFailed) Unwrap() []error { return []error{b.l1, b.l2} }
