package composition

import (
	"context"

	"github.com/hitboxcache/hitbox/hitboxbackend"
	"github.com/hitboxcache/hitbox/hitboxctx"
	"github.com/hitboxcache/hitbox/hitboxkey"
	"github.com/hitboxcache/hitbox/hitboxvalue"
	"github.com/hitboxcache/hitbox/internal/hitboxlog"
	"go.uber.org/zap"
)

// TypedBackend is the subset of hitboxbackend.Typed[T]'s surface a
// composition needs from its L1/L2 tiers. Both *hitboxbackend.Typed[T] and
// *Composition[T] satisfy it, which is how compositions nest arbitrarily
// (a composition can itself be the L1 or L2 of an outer composition).
type TypedBackend[T any] interface {
	Label() string
	Get(ctx context.Context, hctx *hitboxctx.Context, key hitboxkey.Key) (hitboxvalue.Value[T], bool, error)
	Set(ctx context.Context, hctx *hitboxctx.Context, key hitboxkey.Key, value hitboxvalue.Value[T]) error
	Delete(ctx context.Context, hctx *hitboxctx.Context, key hitboxkey.Key) (hitboxbackend.DeleteResult, error)
}

// Composition combines two typed backends under pluggable read/write/
// refill policies. It is itself a TypedBackend (so compositions nest) and
// separately implements hitboxbackend.Raw (composition_raw.go) so it can
// also sit behind a dynamic-dispatch boundary.
type Composition[T any] struct {
	name string
	l1   TypedBackend[T]
	l2   TypedBackend[T]

	read   ReadPolicy[T]
	write  WritePolicy
	refill RefillPolicy

	log *zap.Logger
}

// New builds a Composition named name over (l1, l2). A zero-value field
// falls back to the documented default: Sequential read, OptimisticParallel
// write, Always refill.
func New[T any](name string, l1, l2 TypedBackend[T], read ReadPolicy[T], write WritePolicy, refill RefillPolicy) *Composition[T] {
	if read == nil {
		read = Sequential[T]()
	}
	if write == nil {
		write = OptimisticParallelWrite()
	}
	if refill == nil {
		refill = AlwaysRefill()
	}
	return &Composition[T]{
		name: name, l1: l1, l2: l2,
		read: read, write: write, refill: refill,
		log: hitboxlog.Named("composition." + name),
	}
}

// Label reports the composition's own name, used as the source-path
// segment when this composition is itself nested as a tier.
func (c *Composition[T]) Label() string { return c.name }

// Get performs the read policy over cloned contexts for each tier, merges
// the winning inner context into hctx with this composition's name as the
// dotted-path prefix, and applies the refill policy when the winner was
// L2. Per spec.md §4.3 step 4, the refill write uses ReadMode=Refill so it
// only affects L1 and does not recurse back through L2.
func (c *Composition[T]) Get(ctx context.Context, hctx *hitboxctx.Context, key hitboxkey.Key) (hitboxvalue.Value[T], bool, error) {
	l1ctx := hctx.Clone()
	l2ctx := hctx.Clone()

	l1get := func(ctx context.Context) (hitboxvalue.Value[T], *hitboxctx.Context, bool, error) {
		v, ok, err := c.l1.Get(ctx, l1ctx, key)
		return v, l1ctx, ok, err
	}
	l2get := func(ctx context.Context) (hitboxvalue.Value[T], *hitboxctx.Context, bool, error) {
		v, ok, err := c.l2.Get(ctx, l2ctx, key)
		return v, l2ctx, ok, err
	}

	result, err := c.read(ctx, l1get, l2get)
	if err != nil {
		return hitboxvalue.Value[T]{}, false, hitboxbackend.New(hitboxbackend.KindBothLayersFailed, c.name, err)
	}
	if result.InnerCtx != nil {
		hctx.Merge(c.name, result.InnerCtx)
	}
	if !result.Hit {
		return hitboxvalue.Value[T]{}, false, nil
	}

	if result.FromL2 && c.refill(hitboxctx.Now(), result.Value.Expire, result.Value.Stale) {
		refillCtx := hctx.Clone()
		refillCtx.ReadMode = hitboxctx.Refill
		if err := c.l1.Set(ctx, refillCtx, key, result.Value); err != nil {
			c.log.Warn("refill write failed", zap.String("key", key.String()), zap.Error(err))
		}
		// Refill metrics are recorded but do not change status/source.
		hctx.Metrics.MergeFrom(c.name, refillCtx.Metrics)
	}

	return result.Value, true, nil
}

// Set invokes the write policy with two closures, one per tier, each over
// its own cloned context, and merges both inner contexts' metrics (not
// status/source) into hctx.
func (c *Composition[T]) Set(ctx context.Context, hctx *hitboxctx.Context, key hitboxkey.Key, value hitboxvalue.Value[T]) error {
	l1ctx := hctx.Clone()
	l2ctx := hctx.Clone()

	l1write := func(ctx context.Context) (*hitboxctx.Context, error) {
		return l1ctx, c.l1.Set(ctx, l1ctx, key, value)
	}
	l2write := func(ctx context.Context) (*hitboxctx.Context, error) {
		return l2ctx, c.l2.Set(ctx, l2ctx, key, value)
	}

	err := c.write(ctx, l1write, l2write)
	hctx.Metrics.MergeFrom(c.name, l1ctx.Metrics)
	hctx.Metrics.MergeFrom(c.name, l2ctx.Metrics)
	if err != nil {
		return hitboxbackend.New(hitboxbackend.KindBothLayersFailed, c.name, err)
	}
	return nil
}

// Delete removes key from both tiers concurrently. Both-tiers-failed is
// surfaced; a single-tier failure is logged into metrics only.
func (c *Composition[T]) Delete(ctx context.Context, hctx *hitboxctx.Context, key hitboxkey.Key) (hitboxbackend.DeleteResult, error) {
	l1ctx := hctx.Clone()
	l2ctx := hctx.Clone()

	type outcome struct {
		res hitboxbackend.DeleteResult
		err error
	}
	results := make(chan outcome, 2)
	go func() {
		res, err := c.l1.Delete(ctx, l1ctx, key)
		results <- outcome{res, err}
	}()
	go func() {
		res, err := c.l2.Delete(ctx, l2ctx, key)
		results <- outcome{res, err}
	}()
	first := <-results
	second := <-results

	hctx.Metrics.MergeFrom(c.name, l1ctx.Metrics)
	hctx.Metrics.MergeFrom(c.name, l2ctx.Metrics)

	if first.err != nil && second.err != nil {
		return hitboxbackend.Missing, hitboxbackend.New(hitboxbackend.KindBothLayersFailed, c.name, &bothFailed{l1: first.err, l2: second.err})
	}
	if first.res == hitboxbackend.Deleted || second.res == hitboxbackend.Deleted {
		return hitboxbackend.Deleted, nil
	}
	return hitboxbackend.Missing, nil
}
