package token

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSecret() []byte {
	return []byte("0123456789abcdef0123456789abcdef")
}

func newTestIssuer(t *testing.T, ttl time.Duration) *Issuer {
	t.Helper()
	issuer, err := NewIssuer(IssuerConfig{
		Secret: testSecret(),
		TTL:    ttl,
		Issuer: "tokengate-test",
	})
	require.NoError(t, err)
	return issuer
}

func TestSignAndVerify(t *testing.T) {
	issuer := newTestIssuer(t, 15*time.Minute)

	signed, err := issuer.Sign("user-1", "admin")
	require.NoError(t, err)

	claims, err := issuer.Verify(signed)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Subject)
	assert.Equal(t, "admin", claims.Role)
	assert.Equal(t, "tokengate-test", claims.Issuer)
	assert.WithinDuration(t, time.Now().Add(15*time.Minute), claims.ExpiresAt.Time, time.Minute)
}

func TestVerifyRejectsExpired(t *testing.T) {
	issuer := newTestIssuer(t, time.Millisecond)

	signed, err := issuer.Sign("user-1", "member")
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)

	_, err = issuer.Verify(signed)
	assert.ErrorIs(t, err, ErrAccessInvalid)
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	issuer := newTestIssuer(t, time.Hour)
	signed, err := issuer.Sign("user-1", "member")
	require.NoError(t, err)

	other, err := NewIssuer(IssuerConfig{
		Secret: []byte("another-secret-of-32-bytes-okay!"),
		TTL:    time.Hour,
		Issuer: "tokengate-test",
	})
	require.NoError(t, err)

	_, err = other.Verify(signed)
	assert.ErrorIs(t, err, ErrAccessInvalid)
}

func TestVerifyRejectsWrongIssuer(t *testing.T) {
	foreign, err := NewIssuer(IssuerConfig{
		Secret: testSecret(),
		TTL:    time.Hour,
		Issuer: "someone-else",
	})
	require.NoError(t, err)

	signed, err := foreign.Sign("user-1", "member")
	require.NoError(t, err)

	issuer := newTestIssuer(t, time.Hour)
	_, err = issuer.Verify(signed)
	assert.ErrorIs(t, err, ErrAccessInvalid)
}

func TestVerifyRejectsGarbage(t *testing.T) {
	issuer := newTestIssuer(t, time.Hour)

	_, err := issuer.Verify("not.a.token")
	assert.ErrorIs(t, err, ErrAccessInvalid)

	_, err = issuer.Verify("")
	assert.ErrorIs(t, err, ErrAccessInvalid)
}

func TestNewIssuerValidation(t *testing.T) {
	_, err := NewIssuer(IssuerConfig{Secret: []byte("short"), TTL: time.Hour})
	assert.Error(t, err)

	_, err = NewIssuer(IssuerConfig{Secret: testSecret(), TTL: 0})
	assert.Error(t, err)

	_, err = NewIssuer(IssuerConfig{Secret: testSecret(), TTL: time.Hour, Leeway: 10 * time.Minute})
	assert.Error(t, err)
}
