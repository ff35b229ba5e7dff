package hitboxkey

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyEqualityDerivesFromBytes(t *testing.T) {
	a := New("api", 1, NewPart("path", "/x"), NewFlagPart("debug"))
	b := New("api", 1, NewPart("path", "/x"), NewFlagPart("debug"))
	c := New("api", 1, NewFlagPart("debug"), NewPart("path", "/x"))

	assert.True(t, a.Equal(b))
	assert.Equal(t, a.Bytes(), b.Bytes())
	assert.False(t, a.Equal(c), "part order is significant")
}

func TestKeyDifferentPrefixOrVersion(t *testing.T) {
	a := New("api", 1, NewPart("path", "/x"))
	b := New("api", 2, NewPart("path", "/x"))
	c := New("other", 1, NewPart("path", "/x"))

	assert.False(t, a.Equal(b))
	assert.False(t, a.Equal(c))
}

func TestKeyDigestStable(t *testing.T) {
	a := New("api", 1, NewPart("path", "/x"))
	b := New("api", 1, NewPart("path", "/x"))
	require.Equal(t, a.Digest(), b.Digest())
	assert.Len(t, a.Digest(), 64)
}

func TestKeyStringDebugForm(t *testing.T) {
	k := New("api", 1, NewPart("path", "/x"), NewFlagPart("debug"))
	assert.Equal(t, "api/v1?path=/x&debug", k.String())
}
