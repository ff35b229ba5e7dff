// Package hitboxctx implements the per-request Context accumulator that
// flows through the cache pipeline: final status classification, source
// attribution as a dotted path, the downward Refill hint, and hierarchical
// metrics. Modeled on cache-manager's atomic-counter Metrics struct and
// pkg/models' MetricSnapshot/LatencySummary, generalized to the
// composition-nesting dotted-path model spec.md §4.7 requires.
package hitboxctx

import (
	"time"

	"github.com/google/uuid"
)

// Status is the final classification of a request's outcome.
type Status int

const (
	// Miss is the default: nothing servable was found in cache.
	Miss Status = iota
	Hit
	Stale
)

func (s Status) String() string {
	switch s {
	case Hit:
		return "hit"
	case Stale:
		return "stale"
	default:
		return "miss"
	}
}

// ReadMode is a downward-only hint; it is never propagated upward on merge.
type ReadMode int

const (
	// Direct is an ordinary caller-initiated read.
	Direct ReadMode = iota
	// Refill marks a read/write as part of a tier backfill: the write
	// must not recurse back through the tier the data came from.
	Refill
)

// Source identifies where a value came from: either the upstream call or a
// named backend tier, addressed by a dotted hierarchical path.
type Source struct {
	Upstream bool
	Backend  string // dotted path, e.g. "outer.inner.moka"; empty if Upstream.
}

// UpstreamSource builds a Source reporting the upstream collaborator.
func UpstreamSource() Source { return Source{Upstream: true} }

// BackendSource builds a Source naming a (possibly dotted) backend path.
func BackendSource(path string) Source { return Source{Backend: path} }

// IsZero reports whether no source has been set yet.
func (s Source) IsZero() bool { return !s.Upstream && s.Backend == "" }

// Context is the per-request, single-owner accumulator passed by pointer
// through the FSM and composition layers. It is not safe to share a single
// Context across concurrent goroutines; composition clones a Context per
// tier invocation and merges the results back (see Clone/Merge).
type Context struct {
	Status   Status
	Source   Source
	ReadMode ReadMode

	Metrics *Metrics

	// TraceID is minted lazily only when introspection (Trace) is
	// enabled, mirroring the teacher's request-id middleware style.
	TraceID string
	Trace   []string // state-machine transition trace, optional
	tracing bool
}

// New builds a fresh, zero-value Context (status defaults to Miss per
// spec.md §3).
func New() *Context {
	return &Context{Metrics: NewMetrics()}
}

// WithTracing enables transition tracing and trace-id minting on this
// context, returning it for chaining.
func (c *Context) WithTracing() *Context {
	c.tracing = true
	if c.TraceID == "" {
		c.TraceID = uuid.NewString()
	}
	return c
}

// Tracing reports whether introspection is enabled.
func (c *Context) Tracing() bool { return c.tracing }

// Record appends a transition label to the trace when tracing is enabled;
// a no-op otherwise so hot-path callers never pay for string building.
func (c *Context) Record(transition string) {
	if !c.tracing {
		return
	}
	c.Trace = append(c.Trace, transition)
}

// Clone produces an independent Context for a single inner tier
// invocation: fresh Metrics, ReadMode propagated downward (it is a
// downward hint), status/source reset to defaults, tracing inherited.
func (c *Context) Clone() *Context {
	clone := &Context{
		ReadMode: c.ReadMode,
		Metrics:  NewMetrics(),
		tracing:  c.tracing,
		TraceID:  c.TraceID,
	}
	return clone
}

// Merge folds an inner context returned by a named composition into the
// receiver, per spec.md §4.7:
//   - inner.Status in {Hit, Stale} overwrites outer.Status
//   - inner.Source == Backend(x) becomes outer.Source = Backend(name + "." + x)
//   - every (path, layer) in inner.Metrics is reinserted at "name.path"
//   - ReadMode never propagates upward
func (c *Context) Merge(name string, inner *Context) {
	if inner == nil {
		return
	}
	if inner.Status == Hit || inner.Status == Stale {
		c.Status = inner.Status
	}
	if inner.Source.Backend != "" {
		c.Source = BackendSource(name + "." + inner.Source.Backend)
	} else if inner.Source.Upstream {
		// Composition layers never attribute Upstream from an inner
		// tier directly to themselves; an inner miss that fell
		// through to upstream is surfaced by the FSM, not by merge.
	}
	c.Metrics.mergeWithPrefix(name, inner.Metrics)
	if inner.tracing {
		c.Trace = append(c.Trace, inner.Trace...)
	}
}

// Finalize applies the Response-state rule from spec.md §4.1: source is
// set to Upstream only if status is still Miss.
func (c *Context) Finalize() {
	if c.Status == Miss && c.Source.IsZero() {
		c.Source = UpstreamSource()
	}
}

// Now is overridable in tests; production code always uses time.Now.
var Now = time.Now
