// Package body implements the transparent streaming body model from
// spec.md §4.6: a tri-state envelope that lets predicates inspect a
// prefix of a request/response body while preserving byte-identical
// forwarding (including errors mid-stream) to the eventual consumer.
//
// Grounded on httputil.ReadLimitedBody's io.Reader-based body handling
// (blueberrycongee-llmux) and meigma-blob's streaming-vs-buffered file
// wrappers, generalized to the Complete/Partial/Passthrough tri-state
// BufferedBody[B] the spec names. B is constrained to io.Reader, the
// idiomatic Go analogue of the underlying "stream type" in the spec.
package body

import (
	"bytes"
	"errors"
	"io"
)

// Kind discriminates a BufferedBody's state.
type Kind int

const (
	KindComplete Kind = iota
	KindPartial
	KindPassthrough
)

// BufferedBody is the tri-state envelope described in spec.md §3's
// BufferedBody<B> data model entry.
type BufferedBody[B io.Reader] struct {
	kind Kind

	// Complete: full buffered content; drained (ReadFrame returns it once,
	// then io.EOF).
	complete     []byte
	completeRead bool

	// Partial: prefix already read, then either a remaining stream or a
	// stored error.
	prefix       []byte
	prefixRead   bool
	remaining    B
	hasRemaining bool
	remainErr    error

	// Passthrough: untouched original stream.
	stream B
}

// Complete wraps fully-buffered bytes.
func Complete[B io.Reader](b []byte) BufferedBody[B] {
	return BufferedBody[B]{kind: KindComplete, complete: b}
}

// Passthrough wraps a stream that is never inspected.
func Passthrough[B io.Reader](s B) BufferedBody[B] {
	return BufferedBody[B]{kind: KindPassthrough, stream: s}
}

// partial builds a Partial body with a live remaining stream.
func partial[B io.Reader](prefix []byte, remaining B) BufferedBody[B] {
	return BufferedBody[B]{kind: KindPartial, prefix: prefix, remaining: remaining, hasRemaining: true}
}

// partialErr builds a Partial body whose remaining stream already ended in
// an error (possibly nil for a clean EOF that nonetheless needs the prefix
// replayed before termination).
func partialErr[B io.Reader](prefix []byte, err error) BufferedBody[B] {
	return BufferedBody[B]{kind: KindPartial, prefix: prefix, remainErr: err}
}

// Kind reports the body's current state.
func (b BufferedBody[B]) Kind() Kind { return b.kind }

// Collect reads all remaining bytes, per spec.md §4.6's `collect()`.
// For Complete, returns the buffered bytes. For Partial, returns prefix
// concatenated with the remaining stream's bytes (or the stored error).
// For Passthrough, reads the stream to completion.
func (b BufferedBody[B]) Collect() ([]byte, error) {
	switch b.kind {
	case KindComplete:
		return b.complete, nil
	case KindPartial:
		if !b.hasRemaining {
			if b.remainErr != nil {
				return b.prefix, b.remainErr
			}
			return b.prefix, nil
		}
		rest, err := io.ReadAll(b.remaining)
		out := append(append([]byte(nil), b.prefix...), rest...)
		return out, err
	case KindPassthrough:
		return io.ReadAll(b.stream)
	default:
		return nil, errors.New("body: unknown kind")
	}
}

// ExactResult is the outcome of CollectExact.
type ExactResult[B io.Reader] struct {
	// Buffered holds what was read, always >= requested unless Incomplete.
	Buffered []byte
	// Remaining is the reconstructed body for continued forwarding: it
	// replays Buffered first, then the rest of the stream. It is set only
	// when Incomplete is false; IntoBufferedBody covers both cases.
	Remaining BufferedBody[B]
	// Incomplete is true when fewer than n bytes were available before
	// the stream ended (with or without an error).
	Incomplete bool
	// Err is the underlying stream error, if any (may be io.EOF-free;
	// a clean end before n bytes is Incomplete with Err == nil).
	Err error
}

// CollectExact reads until at least n bytes are buffered, leaving the rest
// of the stream untouched for replay, per spec.md §4.6's `collect_exact`.
func CollectExact[B io.Reader](b BufferedBody[B], n int) ExactResult[B] {
	switch b.kind {
	case KindComplete:
		if len(b.complete) >= n {
			return ExactResult[B]{Buffered: b.complete, Remaining: b}
		}
		return ExactResult[B]{Buffered: b.complete, Incomplete: true}
	case KindPartial:
		if len(b.prefix) >= n {
			return ExactResult[B]{Buffered: b.prefix, Remaining: b}
		}
		if !b.hasRemaining {
			return ExactResult[B]{Buffered: b.prefix, Incomplete: true, Err: b.remainErr}
		}
		return collectFromReader(b.prefix, b.remaining, n)
	case KindPassthrough:
		return collectFromReader(nil, b.stream, n)
	default:
		return ExactResult[B]{Incomplete: true, Err: errors.New("body: unknown kind")}
	}
}

func collectFromReader[B io.Reader](already []byte, r B, n int) ExactResult[B] {
	buf := append([]byte(nil), already...)
	chunk := make([]byte, 4096)
	for len(buf) < n {
		k, err := r.Read(chunk)
		if k > 0 {
			buf = append(buf, chunk[:k]...)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return ExactResult[B]{Buffered: buf, Incomplete: len(buf) < n}
			}
			return ExactResult[B]{Buffered: buf, Incomplete: true, Err: err}
		}
	}
	return ExactResult[B]{Buffered: buf[:n], Remaining: partial[B](buf, r)}
}

// IntoBufferedBody reconstructs a forwardable envelope from a CollectExact
// result, per spec.md §4.6's `into_buffered_body`.
func (r ExactResult[B]) IntoBufferedBody() BufferedBody[B] {
	if !r.Incomplete {
		return r.Remaining
	}
	return partialErr[B](r.Buffered, r.Err)
}

// Frame is one emitted chunk in the framing contract of spec.md §4.6.
type Frame struct {
	Data []byte
	Err  error
	Done bool
}

// NextFrame implements the framing contract:
//   - Complete(b) → one frame b, then Done.
//   - Partial{prefix, remaining=stream} → frame prefix (if non-empty),
//     then delegates frame-by-frame to the stream.
//   - Partial{prefix, remaining=Error(e)} → frame prefix (if non-empty),
//     then yields e once, then Done.
//   - Passthrough(s) → delegates frame-by-frame to s.
//
// Each call returns the next frame; callers loop until Done.
func (b *BufferedBody[B]) NextFrame() Frame {
	switch b.kind {
	case KindComplete:
		if b.completeRead {
			return Frame{Done: true}
		}
		b.completeRead = true
		if len(b.complete) == 0 {
			return Frame{Done: true}
		}
		return Frame{Data: b.complete}
	case KindPartial:
		if !b.prefixRead {
			b.prefixRead = true
			if len(b.prefix) > 0 {
				return Frame{Data: b.prefix}
			}
		}
		if !b.hasRemaining {
			if b.remainErr != nil {
				err := b.remainErr
				b.remainErr = nil
				return Frame{Err: err}
			}
			return Frame{Done: true}
		}
		chunk := make([]byte, 4096)
		n, err := b.remaining.Read(chunk)
		if n > 0 {
			return Frame{Data: chunk[:n]}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return Frame{Done: true}
			}
			return Frame{Err: err}
		}
		return Frame{Done: true}
	case KindPassthrough:
		chunk := make([]byte, 4096)
		n, err := b.stream.Read(chunk)
		if n > 0 {
			return Frame{Data: chunk[:n]}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return Frame{Done: true}
			}
			return Frame{Err: err}
		}
		return Frame{Done: true}
	default:
		return Frame{Done: true}
	}
}

// SizeHint returns (lower, upper) per spec.md §4.6: the sum of prefix
// length and the underlying stream's size hint, with upper raised to at
// least lower. Readers in this package cannot report an upper bound
// (io.Reader has none), so upper is reported as -1 (unbounded) unless the
// body is fully buffered, in which case lower == upper == len(bytes).
func (b BufferedBody[B]) SizeHint() (lower, upper int) {
	switch b.kind {
	case KindComplete:
		return len(b.complete), len(b.complete)
	case KindPartial:
		lower = len(b.prefix)
		if !b.hasRemaining {
			return lower, lower
		}
		return lower, -1
	default:
		return 0, -1
	}
}

// ScanContains performs the chunk-boundary-safe scan spec.md §4.6
// requires: pattern matches must be found even if split across chunk
// boundaries, by retaining the last len(pattern)-1 bytes of prior data.
// Returns whether pattern was found, plus the body reconstructed from
// whatever was consumed during the scan (so later predicates/extractors
// can still read the full content).
func ScanContains[B io.Reader](b BufferedBody[B], pattern []byte) (bool, BufferedBody[B], error) {
	if len(pattern) == 0 {
		return true, b, nil
	}

	switch b.kind {
	case KindComplete:
		return bytes.Contains(b.complete, pattern), b, nil
	case KindPassthrough:
		found, buffered, remaining, err := scanReader(nil, b.stream, pattern)
		if found {
			return true, partial[B](buffered, remaining), nil
		}
		if err != nil {
			return false, partialErr[B](buffered, err), err
		}
		return false, partialErr[B](buffered, nil), nil
	case KindPartial:
		if bytes.Contains(b.prefix, pattern) {
			return true, b, nil
		}
		if !b.hasRemaining {
			return false, b, b.remainErr
		}
		found, buffered, remaining, err := scanReader(b.prefix, b.remaining, pattern)
		if found {
			return true, partial[B](buffered, remaining), nil
		}
		if err != nil {
			return false, partialErr[B](buffered, err), err
		}
		return false, partialErr[B](buffered, nil), nil
	default:
		return false, b, errors.New("body: unknown kind")
	}
}

// scanReader reads from r until pattern is found or r is exhausted,
// retaining the last len(pattern)-1 bytes of prior data across each read so
// a match split across two chunks is still found. On a match it stops
// reading immediately and returns r itself as the still-live remaining
// reader, alongside everything consumed so far as buf — the unread tail of
// r is never touched, so the caller can keep forwarding it unchanged.
func scanReader[B io.Reader](prefix []byte, r B, pattern []byte) (bool, []byte, B, error) {
	buf := append([]byte(nil), prefix...)
	overlap := len(pattern) - 1
	searchFrom := 0
	if len(buf) > overlap {
		searchFrom = len(buf) - overlap
	}
	if searchFrom < 0 {
		searchFrom = 0
	}
	if bytes.Contains(buf[searchFrom:], pattern) {
		return true, buf, r, nil
	}

	chunk := make([]byte, 4096)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			start := len(buf) - overlap
			if start < 0 {
				start = 0
			}
			buf = append(buf, chunk[:n]...)
			if bytes.Contains(buf[start:], pattern) {
				return true, buf, r, nil
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return false, buf, r, nil
			}
			return false, buf, r, err
		}
	}
}
