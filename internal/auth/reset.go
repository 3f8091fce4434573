package auth

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/juralen/tokengate/internal/token"
)

// RequestPasswordReset issues a single-use reset token and hands it to
// the notifier. The caller learns nothing about whether the email
// exists; every outcome short of an internal failure looks the same.
// Issuing a new token overwrites any previous one.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	s.metrics.resetRequests.Add(1)

	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil
		}
		return err
	}
	if !user.Active {
		return nil
	}

	value, err := token.NewOpaque()
	if err != nil {
		return err
	}

	user.ResetTokenDigest = token.DigestValue(value).Encode()
	user.ResetTokenIssuedAt = time.Now()
	if err := s.users.Update(ctx, user); err != nil {
		return err
	}

	if err := s.notifier.SendPasswordResetMessage(ctx, user.Email, value); err != nil {
		s.log.Error("reset notification failed", zap.String("user_id", user.ID), zap.Error(err))
	}

	s.log.Info("password reset requested", zap.String("user_id", user.ID))
	return nil
}

// ResetPassword consumes a reset token and sets a new password. The
// token is single-use; on success every refresh token of the user is
// revoked.
func (s *Service) ResetPassword(ctx context.Context, resetToken, newPassword string) error {
	if err := CheckPasswordPolicy(newPassword); err != nil {
		return err
	}

	user, err := s.users.FindByResetDigest(ctx, token.DigestValue(resetToken).Encode())
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return ErrInvalidToken
		}
		return err
	}

	if time.Since(user.ResetTokenIssuedAt) > s.config.ResetTTL {
		user.ResetTokenDigest = ""
		user.ResetTokenIssuedAt = time.Time{}
		if updateErr := s.users.Update(ctx, user); updateErr != nil {
			s.log.Warn("expired reset token cleanup failed", zap.String("user_id", user.ID), zap.Error(updateErr))
		}
		return ErrInvalidToken
	}

	hash, err := s.hasher.Hash(ctx, newPassword)
	if err != nil {
		return err
	}

	user.PasswordHash = hash
	user.MustChangePassword = false
	user.ResetTokenDigest = ""
	user.ResetTokenIssuedAt = time.Time{}
	if err := s.users.Update(ctx, user); err != nil {
		return err
	}

	s.revokeAllDefensive(ctx, user.ID)
	s.metrics.resetConsumed.Add(1)
	s.log.Info("password reset completed", zap.String("user_id", user.ID))
	return nil
}

// ForceChangePassword completes the forced-change flow for an
// authenticated user whose MustChangePassword flag is set. Existing
// sessions survive; the caller is already holding valid credentials.
func (s *Service) ForceChangePassword(ctx context.Context, userID, newPassword string) error {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return err
	}

	if !user.MustChangePassword {
		return ErrPasswordChangeNotRequired
	}

	if err := CheckPasswordPolicy(newPassword); err != nil {
		return err
	}

	hash, err := s.hasher.Hash(ctx, newPassword)
	if err != nil {
		return err
	}

	user.PasswordHash = hash
	user.MustChangePassword = false
	if err := s.users.Update(ctx, user); err != nil {
		return err
	}

	s.log.Info("forced password change completed", zap.String("user_id", user.ID))
	return nil
}
