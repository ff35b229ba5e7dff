// Package composition implements the multi-tier Composition backend:
// pluggable read/write/refill policies over an (L1, L2) pair of typed
// backends, hierarchical source-path attribution, and the
// CompositionEnvelope wire shape used to pack tier payloads across an
// untyped (dynamic-dispatch) boundary. Grounded on cache-manager/service.go's
// L1-then-L2-then-origin cascade and cache-manager/policies.go's
// small-interface policy composition; the envelope layout is grounded
// directly on original_source/hitbox-backend/src/composition/envelope.rs.
package composition

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/hitboxcache/hitbox/hitboxbackend"
)

// Discriminant identifies which tier(s) an Envelope carries.
type Discriminant uint8

const (
	DiscriminantL1   Discriminant = 0
	DiscriminantL2   Discriminant = 1
	DiscriminantBoth Discriminant = 2
)

// headerSize is the fixed 48-byte header spec.md §6 specifies. It is a
// compile-time constant independent of any Go struct's layout: the header
// is written/read at explicit byte offsets with encoding/binary rather
// than via a Go struct, because Go does not guarantee field offsets the
// way Rust's #[repr(C)] + bytemuck::Pod does.
const headerSize = 48

// Envelope is the decoded form of a CompositionEnvelope: a discriminant,
// the two tier payloads (only the relevant ones populated), and the
// expire/stale deadlines. Payloads are never re-serialized through the
// envelope — callers copy already-serialized tier bytes in directly.
type Envelope struct {
	Discriminant Discriminant
	L1           []byte
	L2           []byte
	Expire       time.Time
	Stale        time.Time
}

// Marshal encodes e into the fixed 48-byte header followed by raw payload
// bytes (L1 then L2, for Both; the single payload for L1/L2-only).
// Little-endian, per spec.md §6's recommendation.
func (e Envelope) Marshal() ([]byte, error) {
	switch e.Discriminant {
	case DiscriminantL1, DiscriminantL2, DiscriminantBoth:
	default:
		return nil, hitboxbackend.New(hitboxbackend.KindEnvelopeCorrupt, "", fmt.Errorf("invalid discriminant %d", e.Discriminant))
	}

	var l1Len, l2Len uint32
	var payload []byte
	switch e.Discriminant {
	case DiscriminantL1:
		l1Len = uint32(len(e.L1))
		payload = e.L1
	case DiscriminantL2:
		l2Len = uint32(len(e.L2))
		payload = e.L2
	case DiscriminantBoth:
		l1Len = uint32(len(e.L1))
		l2Len = uint32(len(e.L2))
		payload = make([]byte, 0, len(e.L1)+len(e.L2))
		payload = append(payload, e.L1...)
		payload = append(payload, e.L2...)
	}

	buf := make([]byte, headerSize+len(payload))
	buf[0] = byte(e.Discriminant)
	// bytes 1-3: padding, left zeroed.
	binary.LittleEndian.PutUint32(buf[4:8], l1Len)
	binary.LittleEndian.PutUint32(buf[8:12], l2Len)
	// bytes 12-15: padding.
	expireSecs, expireNanos := splitDeadline(e.Expire)
	staleSecs, staleNanos := splitDeadline(e.Stale)
	binary.LittleEndian.PutUint64(buf[16:24], uint64(expireSecs))
	binary.LittleEndian.PutUint32(buf[24:28], expireNanos)
	// bytes 28-31: padding.
	binary.LittleEndian.PutUint64(buf[32:40], uint64(staleSecs))
	binary.LittleEndian.PutUint32(buf[40:44], staleNanos)
	// bytes 44-47: padding.
	copy(buf[headerSize:], payload)

	return buf, nil
}

// Unmarshal decodes an Envelope from data. Any discriminant outside
// {0,1,2}, or a payload shorter than the declared lengths, is a protocol
// error (EnvelopeCorrupt).
func Unmarshal(data []byte) (Envelope, error) {
	if len(data) < headerSize {
		return Envelope{}, hitboxbackend.New(hitboxbackend.KindEnvelopeCorrupt, "", fmt.Errorf("envelope shorter than header: %d bytes", len(data)))
	}

	disc := Discriminant(data[0])
	switch disc {
	case DiscriminantL1, DiscriminantL2, DiscriminantBoth:
	default:
		return Envelope{}, hitboxbackend.New(hitboxbackend.KindEnvelopeCorrupt, "", fmt.Errorf("invalid discriminant %d", disc))
	}

	l1Len := binary.LittleEndian.Uint32(data[4:8])
	l2Len := binary.LittleEndian.Uint32(data[8:12])
	expireSecs := int64(binary.LittleEndian.Uint64(data[16:24]))
	expireNanos := binary.LittleEndian.Uint32(data[24:28])
	staleSecs := int64(binary.LittleEndian.Uint64(data[32:40]))
	staleNanos := binary.LittleEndian.Uint32(data[40:44])

	payload := data[headerSize:]
	if uint64(l1Len)+uint64(l2Len) > uint64(len(payload)) {
		return Envelope{}, hitboxbackend.New(hitboxbackend.KindEnvelopeCorrupt, "",
			fmt.Errorf("payload shorter than declared lengths: have %d, want l1=%d l2=%d", len(payload), l1Len, l2Len))
	}

	e := Envelope{
		Discriminant: disc,
		Expire:       joinDeadline(expireSecs, expireNanos),
		Stale:        joinDeadline(staleSecs, staleNanos),
	}
	switch disc {
	case DiscriminantL1:
		e.L1 = append([]byte(nil), payload[:l1Len]...)
	case DiscriminantL2:
		e.L2 = append([]byte(nil), payload[:l2Len]...)
	case DiscriminantBoth:
		e.L1 = append([]byte(nil), payload[:l1Len]...)
		e.L2 = append([]byte(nil), payload[l1Len:l1Len+l2Len]...)
	}
	return e, nil
}

// splitDeadline converts a deadline into (seconds, nanos); zero time
// encodes as (0, 0), which spec.md §6 defines as "None".
func splitDeadline(t time.Time) (int64, uint32) {
	if t.IsZero() {
		return 0, 0
	}
	return t.Unix(), uint32(t.Nanosecond())
}

func joinDeadline(secs int64, nanos uint32) time.Time {
	if secs == 0 && nanos == 0 {
		return time.Time{}
	}
	return time.Unix(secs, int64(nanos)).UTC()
}
