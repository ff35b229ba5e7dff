package composition

import (
	"context"

	"github.com/hitboxcache/hitbox/hitboxbackend"
	"github.com/hitboxcache/hitbox/hitboxkey"
	"github.com/hitboxcache/hitbox/hitboxvalue"
)

// RawRead is the subset of hitboxbackend.Raw a composition needs to pack
// an envelope from a tier's opaque bytes, without going through Format/
// Compressor (the envelope copies already-serialized bytes verbatim).
type RawRead interface {
	Label() string
	Read(ctx context.Context, key hitboxkey.Key) (hitboxvalue.Raw, bool, error)
	Write(ctx context.Context, key hitboxkey.Key, value hitboxvalue.Raw) error
	Remove(ctx context.Context, key hitboxkey.Key) (hitboxbackend.DeleteResult, error)
}

// RawComposition implements hitboxbackend.Raw directly over raw byte
// tiers, per spec.md §4.3's "Raw Backend interface on composition". It is
// a distinct type from Composition[T] (rather than Composition[T] itself
// implementing Raw) because the raw path operates on tiers' opaque bytes
// before Format/Compressor are applied, while Composition[T]'s Get/Set
// operate after. A Composition[T] that needs to appear behind a
// dynamic-dispatch boundary constructs a RawComposition over the same
// underlying raw tiers.
//
// Per the Open Question decision in DESIGN.md, raw reads only ever
// discriminate L1 or L2 (never Both); Both is reserved for raw writes,
// which unpack an envelope a typed Set produced upstream.
type RawComposition struct {
	name string
	l1   RawRead
	l2   RawRead
}

// NewRaw builds a RawComposition over two raw tiers, using Sequential
// read semantics (try L1, fall back to L2) — the one policy spec.md §4.3
// requires every implementation to provide, used here since the raw path
// exists specifically to let an opaque, type-erased boundary keep working
// without knowing which typed read policy an enclosing Composition[T]
// configured.
func NewRaw(name string, l1, l2 RawRead) *RawComposition {
	return &RawComposition{name: name, l1: l1, l2: l2}
}

func (r *RawComposition) Label() string { return r.name }

// Read performs sequential L1-then-L2 raw reads and packs the winning
// tier's bytes into a single-tier envelope.
func (r *RawComposition) Read(ctx context.Context, key hitboxkey.Key) (hitboxvalue.Raw, bool, error) {
	v1, ok1, err1 := r.l1.Read(ctx, key)
	if err1 == nil && ok1 {
		return packEnvelope(DiscriminantL1, v1)
	}

	v2, ok2, err2 := r.l2.Read(ctx, key)
	if err1 != nil && err2 != nil {
		return hitboxvalue.Raw{}, false, &bothFailed{l1: err1, l2: err2}
	}
	if err2 != nil || !ok2 {
		return hitboxvalue.Raw{}, false, nil
	}
	return packEnvelope(DiscriminantL2, v2)
}

func packEnvelope(disc Discriminant, v hitboxvalue.Raw) (hitboxvalue.Raw, bool, error) {
	e := Envelope{Discriminant: disc, Expire: v.Expire, Stale: v.Stale}
	if disc == DiscriminantL1 {
		e.L1 = v.Bytes
	} else {
		e.L2 = v.Bytes
	}
	packed, err := e.Marshal()
	if err != nil {
		return hitboxvalue.Raw{}, false, err
	}
	return hitboxvalue.Raw{Bytes: packed, Expire: v.Expire, Stale: v.Stale}, true, nil
}

// Write unpacks a Both envelope (produced upstream by a typed Set packing
// both tiers for this nesting boundary) and writes the two halves to the
// respective tiers.
func (r *RawComposition) Write(ctx context.Context, key hitboxkey.Key, value hitboxvalue.Raw) error {
	e, err := Unmarshal(value.Bytes)
	if err != nil {
		return err
	}
	if e.Discriminant != DiscriminantBoth {
		return hitboxbackend.New(hitboxbackend.KindEnvelopeCorrupt, r.name, errUnexpectedWriteDiscriminant)
	}

	err1 := r.l1.Write(ctx, key, hitboxvalue.Raw{Bytes: e.L1, Expire: e.Expire, Stale: e.Stale})
	err2 := r.l2.Write(ctx, key, hitboxvalue.Raw{Bytes: e.L2, Expire: e.Expire, Stale: e.Stale})
	if err1 != nil && err2 != nil {
		return &bothFailed{l1: err1, l2: err2}
	}
	return nil
}

func (r *RawComposition) Remove(ctx context.Context, key hitboxkey.Key) (hitboxbackend.DeleteResult, error) {
	res1, err1 := r.l1.Remove(ctx, key)
	res2, err2 := r.l2.Remove(ctx, key)
	if err1 != nil && err2 != nil {
		return hitboxbackend.Missing, &bothFailed{l1: err1, l2: err2}
	}
	if res1 == hitboxbackend.Deleted || res2 == hitboxbackend.Deleted {
		return hitboxbackend.Deleted, nil
	}
	return hitboxbackend.Missing, nil
}

var errUnexpectedWriteDiscriminant = errUnexpected{"raw write expects a Both-discriminant envelope"}

type errUnexpected struct{ msg string }

func (e errUnexpected) Error() string { return e.msg }

var _ hitboxbackend.Raw = (*RawComposition)(nil)
