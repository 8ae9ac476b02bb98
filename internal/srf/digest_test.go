package srf

import (
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDigest(t *testing.T) {
	d, err := ParseDigest("44C1B8021822F80E1E560689D2AAB0BF")
	require.NoError(t, err)
	assert.Equal(t, "44C1B8021822F80E1E560689D2AAB0BF", d.String())

	// lowercase input parses, output is always uppercase
	lower, err := ParseDigest("44c1b8021822f80e1e560689d2aab0bf")
	require.NoError(t, err)
	assert.Equal(t, d, lower)

	_, err = ParseDigest("too short")
	assert.Error(t, err)
	_, err = ParseDigest("ZZC1B8021822F80E1E560689D2AAB0BF")
	assert.Error(t, err)
}

func TestDigestJSON(t *testing.T) {
	d := DigestOf([]byte("hello"))

	data, err := json.Marshal(d)
	require.NoError(t, err)
	assert.Equal(t, `"`+d.String()+`"`, string(data))

	var back Digest
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, d, back)
}

func TestDigestIsZero(t *testing.T) {
	var zero Digest
	assert.True(t, zero.IsZero())
	assert.False(t, DigestOf([]byte("x")).IsZero())
}
