package refresh

import (
	"context"
	"errors"
	"time"

	"github.com/juralen/tokengate/internal/token"
)

// ErrNotFound is returned when no token row matches the presented digest.
var ErrNotFound = errors.New("refresh token not found")

// ErrNotActive is returned when the matched token was already rotated or
// revoked. Presenting an inactive token is a replay and deletes the row.
var ErrNotActive = errors.New("refresh token not active")

// ErrExpired is returned when the matched token is past its expiry. The
// row is deleted at detection time.
var ErrExpired = errors.New("refresh token expired")

// Token is one refresh-token row. The plaintext value never appears
// here; Digest is all the store ever sees.
type Token struct {
	ID         string
	UserID     string
	Digest     token.Digest
	DeviceInfo string
	CreatedAt  time.Time
	ExpiresAt  time.Time
	Active     bool
	LastUsedAt *time.Time
}

// Store persists refresh tokens and owns all rotation atomicity.
// Implementations guarantee that concurrent ValidateAndRotate calls for
// the same digest have exactly one winner.
type Store interface {
	// Create inserts a new active token row. The digest must be unique
	// store-wide.
	Create(ctx context.Context, tok *Token) error

	// GetByDigest returns the row for a digest regardless of state.
	GetByDigest(ctx context.Context, d token.Digest) (*Token, error)

	// ValidateAndRotate checks the presented digest and, if it names a
	// live token, atomically deactivates it and inserts a replacement
	// under next with a fresh full TTL. Returns the retired row and the
	// replacement. Expired and replayed rows are deleted before the
	// error returns.
	ValidateAndRotate(ctx context.Context, presented, next token.Digest, ttl time.Duration) (old, renewed *Token, err error)

	// Revoke marks the token for a digest inactive. Returns false when
	// no active token matched; revoking twice is not an error.
	Revoke(ctx context.Context, d token.Digest) (bool, error)

	// RevokeAllForUser deactivates every token belonging to a user and
	// returns how many were live.
	RevokeAllForUser(ctx context.Context, userID string) (int64, error)

	// PurgeExpired removes rows whose expiry has passed.
	PurgeExpired(ctx context.Context) (int64, error)
}
