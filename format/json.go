// Package format provides Format implementations for the typed backend
// layer: JSON (default, portable) and Msgpack (compact binary). Grounded
// on pkg/utils/encoding.go's Marshal/UnmarshalEntry pair and explicit
// Encoding enum; that file's own doc comment names
// github.com/vmihailenco/msgpack/v5 as the production extension, which is
// what MsgpackFormat below wires in.
package format

import (
	"encoding/json"

	"github.com/hitboxcache/hitbox/hitboxctx"
)

// JSON serializes values with encoding/json. It is the default format:
// portable, human-readable, and dependency-free.
type JSON struct{}

func (JSON) Serialize(value any, _ *hitboxctx.Context) ([]byte, error) {
	return json.Marshal(value)
}

func (JSON) Deserialize(data []byte, out any, _ *hitboxctx.Context) error {
	return json.Unmarshal(data, out)
}
