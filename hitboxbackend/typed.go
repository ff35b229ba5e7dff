package hitboxbackend

import (
	"context"
	"time"

	"github.com/hitboxcache/hitbox/hitboxctx"
	"github.com/hitboxcache/hitbox/hitboxkey"
	"github.com/hitboxcache/hitbox/hitboxvalue"
)

// Typed wraps a Raw backend with Format/Compressor to expose get/set/delete
// over a concrete payload type T, per spec.md §4.2's "Typed CacheBackend"
// layer.
type Typed[T any] struct {
	raw        Raw
	format     Format
	compressor Compressor
}

// NewTyped builds a typed backend over raw, serializing with format and
// compressing with compressor. Pass NoopCompressor{} for tiers that should
// skip compression.
func NewTyped[T any](raw Raw, format Format, compressor Compressor) *Typed[T] {
	if compressor == nil {
		compressor = NoopCompressor{}
	}
	return &Typed[T]{raw: raw, format: format, compressor: compressor}
}

// Label exposes the underlying raw backend's label.
func (t *Typed[T]) Label() string { return t.raw.Label() }

// Get reads key, decompresses and deserializes via format, and records
// metrics/status/source into ctx on success. Per spec.md §4.2: absent key
// is not an error; it returns (zero, false, nil). On ReadMode=Refill, a
// successful read immediately writes the value back into this same tier.
// Composition's own refill path does not go through here: it calls Set on
// L1 directly.
func (t *Typed[T]) Get(ctx context.Context, hctx *hitboxctx.Context, key hitboxkey.Key) (hitboxvalue.Value[T], bool, error) {
	start := time.Now()
	layer := hctx.Metrics.Layer(t.raw.Label())

	raw, ok, err := t.raw.Read(ctx, key)
	layer.Reads++
	layer.Latency.Observe(time.Since(start))
	if err != nil {
		layer.Errors++
		return hitboxvalue.Value[T]{}, false, New(KindBackendRead, t.raw.Label(), err)
	}
	if !ok {
		return hitboxvalue.Value[T]{}, false, nil
	}
	layer.BytesRead += int64(len(raw.Bytes))

	plain, err := t.compressor.Decompress(raw.Bytes)
	if err != nil {
		layer.Errors++
		return hitboxvalue.Value[T]{}, false, New(KindCompression, t.raw.Label(), err)
	}

	var payload T
	if err := t.format.Deserialize(plain, &payload, hctx); err != nil {
		layer.Errors++
		return hitboxvalue.Value[T]{}, false, New(KindSerialization, t.raw.Label(), err)
	}

	value := hitboxvalue.Value[T]{Payload: payload, Expire: raw.Expire, Stale: raw.Stale}
	hctx.Status = hitboxctx.Hit
	hctx.Source = hitboxctx.BackendSource(t.raw.Label())

	if hctx.ReadMode == hitboxctx.Refill {
		// Refill-mode read: write the value straight back into this
		// tier. A failed write is counted in this layer's Errors, not
		// surfaced — the read still succeeds.
		if werr := t.set(ctx, hctx, key, value, true); werr != nil {
			layer.Errors++
		}
	}

	return value, true, nil
}

// Set serializes, compresses, and writes value. It always writes, also
// when ctx is in Refill mode: Typed keeps no record of which tier a value
// came from, so no write is skipped as already present in its source tier.
func (t *Typed[T]) Set(ctx context.Context, hctx *hitboxctx.Context, key hitboxkey.Key, value hitboxvalue.Value[T]) error {
	return t.set(ctx, hctx, key, value, false)
}

func (t *Typed[T]) set(ctx context.Context, hctx *hitboxctx.Context, key hitboxkey.Key, value hitboxvalue.Value[T], fromRefillShortCircuit bool) error {
	start := time.Now()
	layer := hctx.Metrics.Layer(t.raw.Label())

	plain, err := t.format.Serialize(value.Payload, hctx)
	if err != nil {
		layer.Errors++
		return New(KindSerialization, t.raw.Label(), err)
	}
	compressed, err := t.compressor.Compress(plain)
	if err != nil {
		layer.Errors++
		return New(KindCompression, t.raw.Label(), err)
	}

	raw := hitboxvalue.Raw{Bytes: compressed, Expire: value.Expire, Stale: value.Stale}
	err = t.raw.Write(ctx, key, raw)
	layer.Writes++
	layer.BytesWritten += int64(len(compressed))
	layer.Latency.Observe(time.Since(start))
	if err != nil {
		layer.Errors++
		if fromRefillShortCircuit {
			return err
		}
		return New(KindBackendWrite, t.raw.Label(), err)
	}
	return nil
}

// Delete removes key from this tier, recording metrics into ctx.
func (t *Typed[T]) Delete(ctx context.Context, hctx *hitboxctx.Context, key hitboxkey.Key) (DeleteResult, error) {
	layer := hctx.Metrics.Layer(t.raw.Label())
	res, err := t.raw.Remove(ctx, key)
	layer.Deletes++
	if err != nil {
		layer.Errors++
		return res, New(KindBackendWrite, t.raw.Label(), err)
	}
	return res, nil
}
