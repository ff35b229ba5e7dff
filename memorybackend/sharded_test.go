package memorybackend

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitboxcache/hitbox/hitboxbackend"
	"github.com/hitboxcache/hitbox/hitboxkey"
	"github.com/hitboxcache/hitbox/hitboxvalue"
)

func TestShardedReadWriteRoundTrip(t *testing.T) {
	s := NewSharded("moka", 8, 0)
	ctx := context.Background()
	k := hitboxkey.New("api", 1, hitboxkey.NewPart("path", "/x"))

	require.NoError(t, s.Write(ctx, k, hitboxvalue.Raw{Bytes: []byte("payload"), Expire: time.Now().Add(time.Hour)}))

	got, ok, err := s.Read(ctx, k)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("payload"), got.Bytes)
}

func TestShardedRemoveThenGet(t *testing.T) {
	s := NewSharded("moka", 8, 0)
	ctx := context.Background()
	k := hitboxkey.New("api", 1, hitboxkey.NewPart("path", "/x"))
	require.NoError(t, s.Write(ctx, k, hitboxvalue.Raw{Bytes: []byte("v")}))

	res, err := s.Remove(ctx, k)
	require.NoError(t, err)
	assert.Equal(t, hitboxbackend.Deleted, res)

	_, ok, _ := s.Read(ctx, k)
	assert.False(t, ok)
}

func TestShardedRoutingIsStableAndSpreadsAcrossShards(t *testing.T) {
	s := NewSharded("moka", 8, 0)
	ctx := context.Background()

	for i := 0; i < 200; i++ {
		k := hitboxkey.New("api", 1, hitboxkey.NewPart("path", fmt.Sprintf("/item-%d", i)))
		require.NoError(t, s.Write(ctx, k, hitboxvalue.Raw{Bytes: []byte("v")}))
	}
	assert.Equal(t, 200, s.Size())

	seen := make(map[*Backend]int)
	for _, shard := range s.shards {
		seen[shard] = shard.Size()
	}
	nonEmpty := 0
	for _, n := range seen {
		if n > 0 {
			nonEmpty++
		}
	}
	assert.Greater(t, nonEmpty, 1, "200 distinct keys across 8 shards should land on more than one shard")

	k := hitboxkey.New("api", 1, hitboxkey.NewPart("path", "/item-0"))
	first := s.shardFor(k.Digest())
	second := s.shardFor(k.Digest())
	assert.Same(t, first, second, "routing for the same digest must be stable")
}

func TestShardedClearEmptiesEveryShard(t *testing.T) {
	s := NewSharded("moka", 4, 0)
	ctx := context.Background()
	for i := 0; i < 20; i++ {
		k := hitboxkey.New("api", 1, hitboxkey.NewPart("path", fmt.Sprintf("/item-%d", i)))
		require.NoError(t, s.Write(ctx, k, hitboxvalue.Raw{Bytes: []byte("v")}))
	}
	require.Equal(t, 20, s.Size())

	s.Clear()
	assert.Equal(t, 0, s.Size())
}

func TestNewShardedRejectsNonPositiveShardCount(t *testing.T) {
	s := NewSharded("moka", 0, 0)
	assert.Len(t, s.shards, 1)
}

var _ hitboxbackend.Raw = (*Sharded)(nil)
