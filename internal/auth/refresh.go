package auth

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/juralen/tokengate/internal/refresh"
	"github.com/juralen/tokengate/internal/token"
)

// Refresh rotates a presented refresh token into a fresh token pair.
// The store decides races: of N concurrent presentations of the same
// value, one wins, the rest see ErrInvalidToken.
func (s *Service) Refresh(ctx context.Context, presented string) (*TokenPair, error) {
	next, err := token.NewOpaque()
	if err != nil {
		return nil, err
	}

	old, renewed, err := s.store.ValidateAndRotate(
		ctx,
		token.DigestValue(presented),
		token.DigestValue(next),
		s.config.RefreshTTL,
	)
	if err != nil {
		switch {
		case errors.Is(err, refresh.ErrNotFound), errors.Is(err, refresh.ErrExpired):
			s.metrics.refreshFailure.Add(1)
			return nil, ErrInvalidToken
		case errors.Is(err, refresh.ErrNotActive):
			s.metrics.refreshReplay.Add(1)
			s.metrics.refreshFailure.Add(1)
			s.log.Warn("refresh token replay detected")
			return nil, ErrInvalidToken
		default:
			return nil, err
		}
	}

	user, err := s.users.FindByID(ctx, old.UserID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			// Orphaned token: the owner is gone but the row survived.
			// Clean up whatever else the id still holds.
			s.revokeAllDefensive(ctx, old.UserID)
			s.metrics.refreshFailure.Add(1)
		}
		return nil, err
	}

	if !user.Active {
		// The rotation already committed, so the replacement token
		// exists. Revoke everything the user holds, replacement
		// included, before rejecting.
		s.revokeAllDefensive(ctx, user.ID)
		s.metrics.refreshFailure.Add(1)
		return nil, ErrUserInactive
	}

	access, err := s.issuer.Sign(user.ID, user.Role)
	if err != nil {
		return nil, err
	}

	s.metrics.refreshSuccess.Add(1)
	s.log.Info("refresh token rotated",
		zap.String("user_id", user.ID),
		zap.String("old_token_id", old.ID),
		zap.String("new_token_id", renewed.ID),
	)
	return &TokenPair{
		AccessToken:  access,
		RefreshToken: next,
		ExpiresIn:    int64(s.issuer.TTL().Seconds()),
	}, nil
}

// Logout revokes the presented refresh token. Idempotent: an unknown or
// already-revoked token is not an error.
func (s *Service) Logout(ctx context.Context, presented string) error {
	revoked, err := s.store.Revoke(ctx, token.DigestValue(presented))
	if err != nil {
		return err
	}
	if revoked {
		s.metrics.revocations.Add(1)
	}
	return nil
}

// ForceLogoutUser revokes every refresh token a user holds. Called on
// deactivation and administrative lockout.
func (s *Service) ForceLogoutUser(ctx context.Context, userID string) (int64, error) {
	if _, err := s.users.FindByID(ctx, userID); err != nil {
		return 0, err
	}

	revoked, err := s.store.RevokeAllForUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	if revoked > 0 {
		s.metrics.revocations.Add(uint64(revoked))
	}
	s.log.Info("all sessions revoked", zap.String("user_id", userID), zap.Int64("count", revoked))
	return revoked, nil
}

func (s *Service) revokeAllDefensive(ctx context.Context, userID string) {
	revoked, err := s.store.RevokeAllForUser(ctx, userID)
	if err != nil {
		s.log.Error("defensive revocation failed", zap.String("user_id", userID), zap.Error(err))
		return
	}
	if revoked > 0 {
		s.metrics.revocations.Add(uint64(revoked))
	}
}
