// Package hitboxkey implements the CacheKey fingerprint: a logical
// namespace prefix, an integer version, and an ordered sequence of
// key-parts. Equality and hashing derive from the serialized byte form, so
// two keys built from identical parts in identical order always produce
// identical bytes.
package hitboxkey

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Part is one (name, optional value) component of a key.
type Part struct {
	Name  string
	Value string
	// HasValue distinguishes a part with an empty-string value from a
	// part that carries no value at all (e.g. a boolean flag part).
	HasValue bool
}

// NewPart builds a key-part that carries a value.
func NewPart(name, value string) Part {
	return Part{Name: name, Value: value, HasValue: true}
}

// NewFlagPart builds a key-part with no associated value.
func NewFlagPart(name string) Part {
	return Part{Name: name}
}

// Key is an immutable, per-request cache fingerprint.
type Key struct {
	prefix  string
	version int
	parts   []Part

	// bytes is computed once at construction (Key ownership is
	// per-request and immutable thereafter per spec), so equality and
	// hashing never re-walk parts.
	bytes []byte
	text  string
}

// New builds a Key from a prefix, version, and ordered parts. The order of
// parts is significant and preserved verbatim in the serialized form.
func New(prefix string, version int, parts ...Part) Key {
	k := Key{prefix: prefix, version: version, parts: append([]Part(nil), parts...)}
	k.bytes = encodeBinary(k)
	k.text = encodeText(k)
	return k
}

// Prefix returns the key's logical namespace.
func (k Key) Prefix() string { return k.prefix }

// Version returns the key's integer version.
func (k Key) Version() int { return k.version }

// Parts returns the ordered key-parts. The returned slice must not be
// mutated by callers.
func (k Key) Parts() []Part { return k.parts }

// Bytes returns the compact binary serialization used for production
// storage and for hashing/equality.
func (k Key) Bytes() []byte { return k.bytes }

// String returns a URL-like text form suitable for debugging and logs, not
// for storage keys (use Bytes for that).
func (k Key) String() string { return k.text }

// Equal reports whether two keys serialize to identical bytes.
func (k Key) Equal(other Key) bool {
	return string(k.bytes) == string(other.bytes)
}

// Digest returns a fixed-size hex digest of the key's bytes, convenient as
// a map key or a backend's native key type when the raw bytes are
// inconveniently shaped (e.g. Redis key names).
func (k Key) Digest() string {
	sum := sha256.Sum256(k.bytes)
	return hex.EncodeToString(sum[:])
}

// encodeBinary produces the compact binary form: length-prefixed prefix,
// version, part count, then each part as (name, has-value flag, value).
// Every length, the version and the part count are written as fixed 4-byte
// little-endian integers, so long values (e.g. serialized JSON path parts)
// are never truncated.
func encodeBinary(k Key) []byte {
	var b strings.Builder
	writeLP(&b, k.prefix)
	writeU32(&b, uint32(k.version))
	writeU32(&b, uint32(len(k.parts)))
	for _, p := range k.parts {
		writeLP(&b, p.Name)
		if p.HasValue {
			b.WriteByte(1)
			writeLP(&b, p.Value)
		} else {
			b.WriteByte(0)
		}
	}
	return []byte(b.String())
}

func writeU32(b *strings.Builder, v uint32) {
	b.WriteByte(byte(v))
	b.WriteByte(byte(v >> 8))
	b.WriteByte(byte(v >> 16))
	b.WriteByte(byte(v >> 24))
}

func writeLP(b *strings.Builder, s string) {
	writeU32(b, uint32(len(s)))
	b.WriteString(s)
}

// encodeText produces a URL-like debug form, e.g. "api/v1?path=/x&flag".
func encodeText(k Key) string {
	var b strings.Builder
	b.WriteString(k.prefix)
	b.WriteString("/v")
	b.WriteString(itoa(k.version))
	for i, p := range k.parts {
		if i == 0 {
			b.WriteByte('?')
		} else {
			b.WriteByte('&')
		}
		b.WriteString(p.Name)
		if p.HasValue {
			b.WriteByte('=')
			b.WriteString(p.Value)
		}
	}
	return b.String()
}

func itoa(v int) string {
	if v == 0 {
		return "0"
	}
	neg := v < 0
	if neg {
		v = -v
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
