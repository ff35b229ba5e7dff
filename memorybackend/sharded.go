package memorybackend

import (
	"context"
	"hash/fnv"
	"sort"

	"github.com/hitboxcache/hitbox/hitboxbackend"
	"github.com/hitboxcache/hitbox/hitboxkey"
	"github.com/hitboxcache/hitbox/hitboxvalue"
)

// defaultShardReplicas is the number of virtual points per shard on the
// routing ring, matching pkg/utils/hash.go's DefaultReplicas default.
const defaultShardReplicas = 150

// Sharded routes each key to one of N independent Backend instances via a
// consistent-hash ring, so concurrent Get/Set traffic spreads across N
// mutexes instead of contending on one. Adapted from pkg/utils/hash.go's
// HashRing: same FNV-1a-hashed virtual-node ring and sorted binary search,
// reduced to a fixed population (shards never join or leave at runtime,
// unlike the teacher's dynamic multi-node ring) since an in-process shard
// count is fixed at construction.
type Sharded struct {
	label  string
	shards []*Backend
	ring   []ringPoint
}

type ringPoint struct {
	hash  uint64
	shard int
}

// NewSharded builds a Sharded backend with n independent shards, each
// holding up to maxEntriesPerShard entries (see New).
func NewSharded(label string, n int, maxEntriesPerShard int) *Sharded {
	if n <= 0 {
		n = 1
	}
	s := &Sharded{label: label, shards: make([]*Backend, n)}
	for i := 0; i < n; i++ {
		s.shards[i] = New(label, maxEntriesPerShard)
	}

	for i := 0; i < n; i++ {
		for v := 0; v < defaultShardReplicas; v++ {
			s.ring = append(s.ring, ringPoint{hash: shardHash(i, v), shard: i})
		}
	}
	sort.Slice(s.ring, func(i, j int) bool { return s.ring[i].hash < s.ring[j].hash })
	return s
}

func shardHash(shard, virtual int) uint64 {
	h := fnv.New64a()
	h.Write([]byte{byte(shard), byte(shard >> 8), byte(virtual), byte(virtual >> 8)})
	return h.Sum64()
}

// shardFor picks the shard owning digest via the ring, wrapping to the
// first ring point when the digest hashes past the last one. The ring is
// never empty: NewSharded always builds at least one shard.
func (s *Sharded) shardFor(digest string) *Backend {
	h := fnv.New64a()
	h.Write([]byte(digest))
	target := h.Sum64()

	idx := sort.Search(len(s.ring), func(i int) bool { return s.ring[i].hash >= target })
	if idx == len(s.ring) {
		idx = 0
	}
	return s.shards[s.ring[idx].shard]
}

// Label implements hitboxbackend.Raw.
func (s *Sharded) Label() string { return s.label }

// Read implements hitboxbackend.Raw, routing to the owning shard.
func (s *Sharded) Read(ctx context.Context, key hitboxkey.Key) (hitboxvalue.Raw, bool, error) {
	return s.shardFor(key.Digest()).Read(ctx, key)
}

// Write implements hitboxbackend.Raw, routing to the owning shard.
func (s *Sharded) Write(ctx context.Context, key hitboxkey.Key, value hitboxvalue.Raw) error {
	return s.shardFor(key.Digest()).Write(ctx, key, value)
}

// Remove implements hitboxbackend.Raw, routing to the owning shard.
func (s *Sharded) Remove(ctx context.Context, key hitboxkey.Key) (hitboxbackend.DeleteResult, error) {
	return s.shardFor(key.Digest()).Remove(ctx, key)
}

// Size returns the total number of entries across all shards.
func (s *Sharded) Size() int {
	total := 0
	for _, shard := range s.shards {
		total += shard.Size()
	}
	return total
}

// Clear empties every shard.
func (s *Sharded) Clear() {
	for _, shard := range s.shards {
		shard.Clear()
	}
}

var _ hitboxbackend.Raw = (*Sharded)(nil)
