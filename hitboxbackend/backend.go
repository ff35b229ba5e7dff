package hitboxbackend

import (
	"context"

	"github.com/hitboxcache/hitbox/hitboxctx"
	"github.com/hitboxcache/hitbox/hitboxkey"
	"github.com/hitboxcache/hitbox/hitboxvalue"
)

// DeleteResult reports what remove() did, per spec.md §4.2.
type DeleteResult int

const (
	// Missing means the key was not present.
	Missing DeleteResult = iota
	// Deleted means the key was present and was removed. The number of
	// removed entries is not reported.
	Deleted
)

// Raw is the opaque byte-level backend contract: read/write/remove over a
// CacheKey and a byte payload annotated with TTL deadlines. Grounded on
// cache-manager/service.go's RemoteCache interface, generalized to expose
// the (bytes, expire, stale) triple spec.md §4.2 requires instead of a
// bespoke JSON entry shape.
type Raw interface {
	// Label is a short static identifier ("moka", "redis", "feox") used
	// to build dotted source paths; it is never itself a hierarchical
	// path — composition is what assembles the hierarchy.
	Label() string

	Read(ctx context.Context, key hitboxkey.Key) (hitboxvalue.Raw, bool, error)
	Write(ctx context.Context, key hitboxkey.Key, value hitboxvalue.Raw) error
	Remove(ctx context.Context, key hitboxkey.Key) (DeleteResult, error)
}

// Format serializes/deserializes typed values to/from bytes. Formats may
// inspect (and, for composition-aware formats, upgrade) the Context to
// carry policy hints such as refill metadata. Grounded on
// pkg/utils/encoding.go's Marshal/UnmarshalEntry pair.
type Format interface {
	Serialize(value any, ctx *hitboxctx.Context) ([]byte, error)
	Deserialize(data []byte, out any, ctx *hitboxctx.Context) error
}

// Compressor compresses/decompresses raw bytes. Grounded on
// pkg/utils/encoding.go's doc-comment invitation to add gzip/snappy
// compression as a production extension.
type Compressor interface {
	Compress(data []byte) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
}

// NoopCompressor passes bytes through unchanged; used when a tier stores
// payloads too small, or already compressed, to benefit.
type NoopCompressor struct{}

func (NoopCompressor) Compress(data []byte) ([]byte, error)   { return data, nil }
func (NoopCompressor) Decompress(data []byte) ([]byte, error) { return data, nil }
