package token

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewOpaque(t *testing.T) {
	first, err := NewOpaque()
	require.NoError(t, err)
	second, err := NewOpaque()
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	assert.Len(t, first, 43, "32 bytes base64url without padding")
	assert.NotContains(t, first, "=")
}

func TestDigestRoundTrip(t *testing.T) {
	value, err := NewOpaque()
	require.NoError(t, err)

	d := DigestValue(value)
	parsed, err := ParseDigest(d.Encode())
	require.NoError(t, err)

	assert.True(t, d.Equal(parsed))
	assert.False(t, d.Equal(DigestValue("something else")))
}

func TestParseDigestRejectsBadInput(t *testing.T) {
	_, err := ParseDigest("not base64!!")
	assert.Error(t, err)

	_, err = ParseDigest("c2hvcnQ")
	assert.Error(t, err, "wrong size")
}
