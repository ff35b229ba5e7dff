package composition_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitboxcache/hitbox/composition"
	"github.com/hitboxcache/hitbox/format"
	"github.com/hitboxcache/hitbox/hitboxbackend"
	"github.com/hitboxcache/hitbox/hitboxctx"
	"github.com/hitboxcache/hitbox/hitboxkey"
	"github.com/hitboxcache/hitbox/hitboxvalue"
	"github.com/hitboxcache/hitbox/memorybackend"
)

func newTestComposition(name string, read composition.ReadPolicy[string], refill composition.RefillPolicy) (*composition.Composition[string], *memorybackend.Backend, *memorybackend.Backend) {
	l1raw := memorybackend.New("moka", 0)
	l2raw := memorybackend.New("redis", 0)
	l1 := hitboxbackend.NewTyped[string](l1raw, format.JSON{}, hitboxbackend.NoopCompressor{})
	l2 := hitboxbackend.NewTyped[string](l2raw, format.JSON{}, hitboxbackend.NoopCompressor{})
	c := composition.New[string](name, l1, l2, read, nil, refill)
	return c, l1raw, l2raw
}

func TestTransparentSetGet(t *testing.T) {
	c, _, _ := newTestComposition("cache", nil, nil)
	ctx := context.Background()
	k := hitboxkey.New("api", 1, hitboxkey.NewPart("path", "/x"))

	require.NoError(t, c.Set(ctx, hitboxctx.New(), k, hitboxvalue.New("P").WithExpire(time.Now().Add(time.Hour))))

	hctx := hitboxctx.New()
	v, ok, err := c.Get(ctx, hctx, k)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "P", v.Payload)
}

func TestL1HitShortcutDoesNotCallL2(t *testing.T) {
	c, l1raw, l2raw := newTestComposition("cache", nil, nil)
	ctx := context.Background()
	k := hitboxkey.New("api", 1, hitboxkey.NewPart("path", "/x"))

	l1 := hitboxbackend.NewTyped[string](l1raw, format.JSON{}, hitboxbackend.NoopCompressor{})
	require.NoError(t, l1.Set(ctx, hitboxctx.New(), k, hitboxvalue.New("from-l1")))

	hctx := hitboxctx.New()
	v, ok, err := c.Get(ctx, hctx, k)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "from-l1", v.Payload)
	assert.Equal(t, "cache.moka", hctx.Source.Backend)
	assert.Equal(t, 0, l2raw.Size(), "L2 must never have been populated")
}

func TestL2HitRefillsL1WhenAlways(t *testing.T) {
	c, l1raw, l2raw := newTestComposition("cache", nil, composition.AlwaysRefill())
	ctx := context.Background()
	k := hitboxkey.New("api", 1, hitboxkey.NewPart("path", "/x"))

	l2 := hitboxbackend.NewTyped[string](l2raw, format.JSON{}, hitboxbackend.NoopCompressor{})
	require.NoError(t, l2.Set(ctx, hitboxctx.New(), k, hitboxvalue.New("from-l2").WithExpire(time.Now().Add(time.Hour))))

	hctx := hitboxctx.New()
	v, ok, err := c.Get(ctx, hctx, k)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "from-l2", v.Payload)
	assert.Equal(t, "cache.redis", hctx.Source.Backend)

	assert.Equal(t, 1, l1raw.Size(), "L1 should have been backfilled")
}

func TestMetricsAggregationHasBothLayerEntries(t *testing.T) {
	c, _, _ := newTestComposition("cache", nil, nil)
	ctx := context.Background()
	k := hitboxkey.New("api", 1, hitboxkey.NewPart("path", "/x"))

	hctx := hitboxctx.New()
	require.NoError(t, c.Set(ctx, hctx, k, hitboxvalue.New("P")))

	paths := hctx.Metrics.Paths()
	assert.Contains(t, paths, "cache.moka")
	assert.Contains(t, paths, "cache.redis")
}

func TestNestedCompositionDottedPathAttribution(t *testing.T) {
	innerL1raw := memorybackend.New("moka", 0)
	innerL2raw := memorybackend.New("redis", 0)
	innerL1 := hitboxbackend.NewTyped[string](innerL1raw, format.JSON{}, hitboxbackend.NoopCompressor{})
	innerL2 := hitboxbackend.NewTyped[string](innerL2raw, format.JSON{}, hitboxbackend.NoopCompressor{})
	inner := composition.New[string]("inner", innerL1, innerL2, nil, nil, nil)

	diskRaw := memorybackend.New("disk", 0)
	disk := hitboxbackend.NewTyped[string](diskRaw, format.JSON{}, hitboxbackend.NoopCompressor{})
	outer := composition.New[string]("outer", inner, disk, nil, nil, nil)

	ctx := context.Background()
	k := hitboxkey.New("api", 1, hitboxkey.NewPart("path", "/x"))
	require.NoError(t, innerL1.Set(ctx, hitboxctx.New(), k, hitboxvalue.New("P")))

	hctx := hitboxctx.New()
	v, ok, err := outer.Get(ctx, hctx, k)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "P", v.Payload)
	assert.Equal(t, "outer.inner.moka", hctx.Source.Backend)
}

func TestRemoveThenGetOnComposition(t *testing.T) {
	c, _, _ := newTestComposition("cache", nil, nil)
	ctx := context.Background()
	k := hitboxkey.New("api", 1, hitboxkey.NewPart("path", "/x"))
	require.NoError(t, c.Set(ctx, hitboxctx.New(), k, hitboxvalue.New("P")))

	res, err := c.Delete(ctx, hitboxctx.New(), k)
	require.NoError(t, err)
	assert.Equal(t, hitboxbackend.Deleted, res)

	_, ok, err := c.Get(ctx, hitboxctx.New(), k)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRacePolicyReturnsFasterTier(t *testing.T) {
	c, l1raw, _ := newTestComposition("cache", composition.Race[string](), nil)
	ctx := context.Background()
	k := hitboxkey.New("api", 1, hitboxkey.NewPart("path", "/x"))

	l1 := hitboxbackend.NewTyped[string](l1raw, format.JSON{}, hitboxbackend.NoopCompressor{})
	require.NoError(t, l1.Set(ctx, hitboxctx.New(), k, hitboxvalue.New("from-l1")))

	hctx := hitboxctx.New()
	v, ok, err := c.Get(ctx, hctx, k)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "from-l1", v.Payload)
}

func TestParallelFreshestPicksLaterExpiry(t *testing.T) {
	c, l1raw, l2raw := newTestComposition("cache", composition.ParallelFreshest[string](), composition.NeverRefill())
	ctx := context.Background()
	k := hitboxkey.New("api", 1, hitboxkey.NewPart("path", "/x"))

	l1 := hitboxbackend.NewTyped[string](l1raw, format.JSON{}, hitboxbackend.NoopCompressor{})
	l2 := hitboxbackend.NewTyped[string](l2raw, format.JSON{}, hitboxbackend.NoopCompressor{})
	require.NoError(t, l1.Set(ctx, hitboxctx.New(), k, hitboxvalue.New("older").WithExpire(time.Now().Add(time.Minute))))
	require.NoError(t, l2.Set(ctx, hitboxctx.New(), k, hitboxvalue.New("fresher").WithExpire(time.Now().Add(time.Hour))))

	v, ok, err := c.Get(ctx, hitboxctx.New(), k)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "fresher", v.Payload)
}
