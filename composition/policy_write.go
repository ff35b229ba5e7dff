package composition

import (
	"context"

	"github.com/hitboxcache/hitbox/hitboxctx"
)

// TierOp is a tier write or delete closed over its key/value and a cloned
// context; it returns the context so the composition can merge metrics
// regardless of success.
type TierOp func(ctx context.Context) (*hitboxctx.Context, error)

// WritePolicy decides how to issue the L1 and L2 writes. Per spec.md
// §4.3, write policies never set status/source on the caller's context —
// only metrics are merged.
type WritePolicy func(ctx context.Context, l1, l2 TierOp) error

// SequentialWrite writes L1 then L2; succeeds only if both succeed.
func SequentialWrite() WritePolicy {
	return func(ctx context.Context, l1, l2 TierOp) error {
		ictx1, err1 := l1(ctx)
		_ = ictx1
		if err1 != nil {
			ictx2, _ := l2(ctx)
			_ = ictx2
			return err1
		}
		_, err2 := l2(ctx)
		return err2
	}
}

// OptimisticParallelWrite issues both writes concurrently; succeeds if at
// least one succeeds (the other's error is only logged into metrics, per
// the Open Question decision in DESIGN.md). Default write policy.
func OptimisticParallelWrite() WritePolicy {
	return func(ctx context.Context, l1, l2 TierOp) error {
		errs := make(chan error, 2)
		go func() { _, err := l1(ctx); errs <- err }()
		go func() { _, err := l2(ctx); errs <- err }()
		err1 := <-errs
		err2 := <-errs
		if err1 != nil && err2 != nil {
			return &bothFailed{l1: err1, l2: err2}
		}
		return nil
	}
}

// RaceWrite issues both writes; returns on the first success. The losing
// write, if still in flight, is allowed to run to completion in the
// background so it is not silently dropped.
func RaceWrite() WritePolicy {
	return func(ctx context.Context, l1, l2 TierOp) error {
		type outcome struct{ err error }
		results := make(chan outcome, 2)
		go func() { _, err := l1(ctx); results <- outcome{err} }()
		go func() { _, err := l2(ctx); results <- outcome{err} }()

		first := <-results
		if first.err == nil {
			return nil
		}
		second := <-results
		if second.err == nil {
			return nil
		}
		return &bothFailed{l1: first.err, l2: second.err}
	}
}
