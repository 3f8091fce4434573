package token

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
)

const opaqueValueSize = 32

// Digest is the at-rest representation of an opaque token value. The
// plaintext value is handed to the client exactly once; only its SHA-256
// digest is ever persisted or compared.
type Digest [32]byte

// NewOpaque returns a fresh opaque token value: 32 random bytes encoded
// as base64url without padding. The value carries no embedded semantics
// and is only ever looked up by digest.
func NewOpaque() (string, error) {
	var raw [opaqueValueSize]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

// DigestValue computes the at-rest digest of a presented token value.
func DigestValue(value string) Digest {
	return sha256.Sum256([]byte(value))
}

// Equal compares two digests in constant time.
func (d Digest) Equal(other Digest) bool {
	return subtle.ConstantTimeCompare(d[:], other[:]) == 1
}

// Encode returns the digest in base64url form, suitable for use as a
// storage key or column value.
func (d Digest) Encode() string {
	return base64.RawURLEncoding.EncodeToString(d[:])
}

// ParseDigest decodes a digest previously produced by Encode.
func ParseDigest(s string) (Digest, error) {
	var d Digest

	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return d, err
	}
	if len(raw) != len(d) {
		return d, errors.New("invalid digest size")
	}

	copy(d[:], raw)
	return d, nil
}
