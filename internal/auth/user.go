package auth

import (
	"context"
	"time"
)

// User is the auth-relevant projection of a user record. Accounts are
// created and managed elsewhere; this service only reads credentials
// and writes back password and reset-token fields.
type User struct {
	ID                 string
	Email              string
	PasswordHash       string
	Role               string
	Active             bool
	MustChangePassword bool

	// Reset token state, at most one live token per user. Digest is the
	// encoded SHA-256 of the last issued reset token, empty when none.
	ResetTokenDigest   string
	ResetTokenIssuedAt time.Time

	LastLoginAt time.Time
}

// UserDirectory is the collaborator contract to the external user
// store. FindByEmail and FindByResetDigest return ErrUserNotFound when
// nothing matches.
type UserDirectory interface {
	FindByEmail(ctx context.Context, email string) (*User, error)
	FindByID(ctx context.Context, id string) (*User, error)
	FindByResetDigest(ctx context.Context, digest string) (*User, error)
	Update(ctx context.Context, user *User) error
}

// Notifier delivers out-of-band messages. Delivery failures are the
// notifier's problem; flows treat a send as fire-and-forget once the
// token is committed.
type Notifier interface {
	SendPasswordResetMessage(ctx context.Context, email, resetToken string) error
}
