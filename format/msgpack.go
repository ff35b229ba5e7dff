package format

import (
	"github.com/vmihailenco/msgpack/v5"

	"github.com/hitboxcache/hitbox/hitboxctx"
)

// Msgpack serializes values with github.com/vmihailenco/msgpack/v5: a
// compact binary format, smaller and faster to (de)serialize than JSON for
// the same payload, at the cost of human-readability. Suitable for large
// fan-out tiers (e.g. a remote L2) where wire size matters.
type Msgpack struct{}

func (Msgpack) Serialize(value any, _ *hitboxctx.Context) ([]byte, error) {
	return msgpack.Marshal(value)
}

func (Msgpack) Deserialize(data []byte, out any, _ *hitboxctx.Context) error {
	return msgpack.Unmarshal(data, out)
}
