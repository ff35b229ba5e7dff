package upstream_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitboxcache/hitbox/upstream"
)

func TestFuncAdaptsPlainFunction(t *testing.T) {
	var called bool
	u := upstream.Func(func(ctx context.Context, req upstream.Request) (upstream.Response, error) {
		called = true
		return upstream.Response{StatusCode: 200, Body: []byte("ok")}, nil
	})
	resp, err := u.Call(context.Background(), upstream.Request{Method: "GET", Path: "/x"})
	require.NoError(t, err)
	assert.True(t, called)
	assert.Equal(t, 200, resp.StatusCode)
}

func TestHTTPUpstreamRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/widgets/1", r.URL.Path)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"id":1}`))
	}))
	defer srv.Close()

	u := upstream.NewHTTPUpstream(srv.Client(), srv.URL)
	resp, err := u.Call(context.Background(), upstream.Request{Method: "GET", Path: "/widgets/1"})
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, `{"id":1}`, string(resp.Body))
}
