// Package upstream defines the contract the FSM calls through on a cache
// miss, per spec.md §6: "Upstream trait: call(request) → future<response>.
// The FSM takes &mut self on the upstream only for leader calls; follower
// paths don't touch it."
//
// Supplemented with an HTTPUpstream reference adapter (not named in the
// distilled spec, but present in the system this was distilled from —
// original_source/hitbox-reqwest/src/middleware.rs's CacheMiddleware
// wraps an HTTP client the same way) so the module ships at least one
// concrete, usable Upstream instead of only the bare interface.
package upstream

import (
	"bytes"
	"context"
	"io"
	"net/http"
)

// Request is the generic subject an Upstream receives. The FSM only ever
// reads these fields; it never mutates a Request after extraction.
type Request struct {
	Method string
	Path   string
	Header http.Header
	Body   []byte
}

// Response is what an Upstream call returns to the FSM.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Upstream is called on a Miss or on OffloadRevalidate/
// SynchronousRevalidate background fetches. Implementations must be safe
// for concurrent use: with a concurrency.Manager wired in, the FSM makes at
// most one concurrent miss-path call per key, but distinct keys,
// revalidations, and a Machine using the default NoOp coalescer may call
// concurrently.
type Upstream interface {
	Call(ctx context.Context, req Request) (Response, error)
}

// Func adapts a plain function to Upstream.
type Func func(ctx context.Context, req Request) (Response, error)

func (f Func) Call(ctx context.Context, req Request) (Response, error) { return f(ctx, req) }

// HTTPUpstream adapts an *http.Client as an Upstream, joining Request.Path
// onto BaseURL. It is the reference adapter for the common HTTP case;
// transport-specific adapters (gRPC, a message bus) follow the same
// one-method shape.
type HTTPUpstream struct {
	Client  *http.Client
	BaseURL string
}

// NewHTTPUpstream builds an HTTPUpstream over client (http.DefaultClient
// if nil) and baseURL.
func NewHTTPUpstream(client *http.Client, baseURL string) *HTTPUpstream {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPUpstream{Client: client, BaseURL: baseURL}
}

// Call performs the HTTP round trip and buffers the response body, per
// spec.md §1's "transport-agnostic core" — the core only ever needs the
// buffered Response shape, not a live connection.
func (u *HTTPUpstream) Call(ctx context.Context, req Request) (Response, error) {
	var bodyReader io.Reader
	if req.Body != nil {
		bodyReader = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, u.BaseURL+req.Path, bodyReader)
	if err != nil {
		return Response{}, err
	}
	httpReq.Header = req.Header.Clone()

	resp, err := u.Client.Do(httpReq)
	if err != nil {
		return Response{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, err
	}
	return Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}, nil
}
