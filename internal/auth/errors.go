package auth

import "errors"

// Error kinds callers branch on with errors.Is. The HTTP layer maps
// these onto status codes; anything else is treated as an internal
// failure.
var (
	// ErrInvalidCredentials covers unknown email and wrong password
	// alike so callers cannot probe which emails exist.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvalidToken covers missing, expired, revoked, and replayed
	// refresh or reset tokens.
	ErrInvalidToken = errors.New("invalid token")
	// ErrUserNotFound is returned by operations addressed to a user id
	// that does not resolve.
	ErrUserNotFound = errors.New("user not found")
	// ErrUserInactive rejects any token issuance for a deactivated user.
	ErrUserInactive = errors.New("user inactive")
	// ErrWeakPassword is returned when a new password fails policy.
	ErrWeakPassword = errors.New("password does not meet policy")
	// ErrPasswordChangeNotRequired rejects a forced change for a user
	// whose flag is not set.
	ErrPasswordChangeNotRequired = errors.New("password change not required")
)
