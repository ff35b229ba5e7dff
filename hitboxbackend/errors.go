// Package hitboxbackend defines the Raw Backend contract, the typed
// CacheBackend[T] layer built on top of it, and the Format/Compressor
// hooks a typed backend uses to move between bytes and values. Grounded on
// cache-manager/service.go's small RemoteCache/OriginFetcher interfaces and
// pkg/utils/encoding.go's Marshal/UnmarshalEntry wrapping pattern.
package hitboxbackend

import "errors"

// Kind classifies a recovered or surfaced error per spec.md §7's taxonomy.
type Kind int

const (
	KindBackendRead Kind = iota
	KindBackendWrite
	KindBothLayersFailed
	KindSerialization
	KindCompression
	KindEnvelopeCorrupt
	KindUpstream
	KindPredicate
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindBackendRead:
		return "backend_read"
	case KindBackendWrite:
		return "backend_write"
	case KindBothLayersFailed:
		return "both_layers_failed"
	case KindSerialization:
		return "serialization"
	case KindCompression:
		return "compression"
	case KindEnvelopeCorrupt:
		return "envelope_corrupt"
	case KindUpstream:
		return "upstream"
	case KindPredicate:
		return "predicate"
	case KindCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Error is the core's error taxonomy wrapper: a Kind plus the underlying
// cause, so callers can errors.As into *Error and switch on Kind, while
// errors.Is/Unwrap still reach the original cause.
type Error struct {
	Kind  Kind
	Label string // backend/composition label, when applicable
	Err   error
}

func (e *Error) Error() string {
	if e.Label != "" {
		return e.Kind.String() + "[" + e.Label + "]: " + e.Err.Error()
	}
	return e.Kind.String() + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err under Kind, attributing it to label (may be empty).
func New(kind Kind, label string, err error) *Error {
	return &Error{Kind: kind, Label: label, Err: err}
}

// Recoverable reports whether, per spec.md §7's propagation policy, this
// kind of failure is recovered internally (treated as Miss / logged) rather
// than surfaced to the caller.
func (k Kind) Recoverable() bool {
	switch k {
	case KindBackendRead, KindBackendWrite, KindEnvelopeCorrupt:
		return true
	default:
		return false
	}
}

// ErrBothLayersFailed carries both underlying causes of a two-tier
// failure. The composition package does not return this type: it reports
// both-tier failures with its own error value whose Unwrap yields both
// tier errors, wrapped by Composition[T] in an *Error of Kind
// KindBothLayersFailed.
type ErrBothLayersFailed struct {
	L1 error
	L2 error
}

func (e *ErrBothLayersFailed) Error() string {
	return "both layers failed: l1=" + errString(e.L1) + " l2=" + errString(e.L2)
}

func errString(err error) string {
	if err == nil {
		return "<nil>"
	}
	return err.Error()
}

// Sentinel errors surfaced by the FSM / concurrency manager.
var (
	// ErrCancelled is surfaced to a follower whose leader was cancelled
	// and whose promotion retry cap was exhausted.
	ErrCancelled = errors.New("hitbox: cancelled")
	// ErrOffloadUnavailable signals to FSM callers that no Offload
	// manager was wired in; the FSM itself degrades to ReturnStale
	// rather than surfacing this, but offload.Manager implementations
	// may still expose it for direct callers.
	ErrOffloadUnavailable = errors.New("hitbox: offload manager unavailable")
)
