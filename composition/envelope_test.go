package composition

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelopeRoundTripL1Only(t *testing.T) {
	e := Envelope{Discriminant: DiscriminantL1, L1: []byte("l1-payload"), Expire: time.Now().Truncate(time.Second)}
	data, err := e.Marshal()
	require.NoError(t, err)
	assert.Len(t, data, headerSize+len("l1-payload"))

	got, err := Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, DiscriminantL1, got.Discriminant)
	assert.Equal(t, []byte("l1-payload"), got.L1)
	assert.Nil(t, got.L2)
	assert.True(t, e.Expire.Equal(got.Expire))
}

func TestEnvelopeRoundTripBoth(t *testing.T) {
	e := Envelope{Discriminant: DiscriminantBoth, L1: []byte("aaa"), L2: []byte("bbbbb")}
	data, err := e.Marshal()
	require.NoError(t, err)

	got, err := Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, DiscriminantBoth, got.Discriminant)
	assert.Equal(t, []byte("aaa"), got.L1)
	assert.Equal(t, []byte("bbbbb"), got.L2)
}

func TestEnvelopeNoneDeadlinesRoundTripAsZero(t *testing.T) {
	e := Envelope{Discriminant: DiscriminantL2, L2: []byte("x")}
	data, err := e.Marshal()
	require.NoError(t, err)

	got, err := Unmarshal(data)
	require.NoError(t, err)
	assert.True(t, got.Expire.IsZero())
	assert.True(t, got.Stale.IsZero())
}

func TestEnvelopeHeaderSizeIsFixed(t *testing.T) {
	e := Envelope{Discriminant: DiscriminantL1, L1: nil}
	data, err := e.Marshal()
	require.NoError(t, err)
	assert.Len(t, data, headerSize)
}

func TestEnvelopeInvalidDiscriminantOnMarshal(t *testing.T) {
	e := Envelope{Discriminant: 3}
	_, err := e.Marshal()
	assert.Error(t, err)
}

func TestEnvelopeInvalidDiscriminantOnUnmarshal(t *testing.T) {
	data := make([]byte, headerSize)
	data[0] = 9
	_, err := Unmarshal(data)
	assert.Error(t, err)
}

func TestEnvelopeTruncatedPayloadIsCorrupt(t *testing.T) {
	e := Envelope{Discriminant: DiscriminantBoth, L1: []byte("aaa"), L2: []byte("bbbbb")}
	data, err := e.Marshal()
	require.NoError(t, err)

	truncated := data[:len(data)-2]
	_, err = Unmarshal(truncated)
	assert.Error(t, err)
}

func TestEnvelopeShorterThanHeaderIsCorrupt(t *testing.T) {
	_, err := Unmarshal(make([]byte, 10))
	assert.Error(t, err)
}
