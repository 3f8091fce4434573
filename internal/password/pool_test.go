package password

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGateHashVerify(t *testing.T) {
	hasher, err := NewArgon2(testConfig())
	require.NoError(t, err)

	gate, err := NewGate(hasher, 2)
	require.NoError(t, err)

	ctx := context.Background()

	encoded, err := gate.Hash(ctx, "gated password 9")
	require.NoError(t, err)

	ok, err := gate.Verify(ctx, "gated password 9", encoded)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestGateRespectsContext(t *testing.T) {
	hasher, err := NewArgon2(testConfig())
	require.NoError(t, err)

	gate, err := NewGate(hasher, 1)
	require.NoError(t, err)

	// Hold the only slot so the next acquire has to wait.
	require.NoError(t, gate.sem.Acquire(context.Background(), 1))
	defer gate.sem.Release(1)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = gate.Hash(ctx, "never runs")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestGateRejectsBadLimit(t *testing.T) {
	hasher, err := NewArgon2(testConfig())
	require.NoError(t, err)

	_, err = NewGate(hasher, 0)
	assert.Error(t, err)

	_, err = NewGate(nil, 1)
	assert.Error(t, err)
}
