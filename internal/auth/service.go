package auth

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/juralen/tokengate/internal/password"
	"github.com/juralen/tokengate/internal/refresh"
	"github.com/juralen/tokengate/internal/token"
)

// dummyHash is a well-formed argon2id hash of no password in
// particular. Login verifies against it when the email is unknown so
// the unknown-email path burns the same work as a wrong password.
const dummyHash = "$argon2id$v=19$m=65536,t=3,p=2$MDEyMzQ1Njc4OWFiY2RlZg==$YWJjZGVmZ2hpamtsbW5vcHFyc3R1dnd4eXowMTIzNDU="

// Config carries the service-level lifetimes.
type Config struct {
	RefreshTTL time.Duration
	ResetTTL   time.Duration
}

// TokenPair is what a successful login or refresh hands the client.
// RefreshToken is the only copy of the plaintext value that will ever
// exist.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int64
}

// Service orchestrates the credential and session flows. All state
// lives behind the injected collaborators; the service itself is
// stateless apart from metrics.
type Service struct {
	log      *zap.Logger
	users    UserDirectory
	store    refresh.Store
	hasher   *password.Gate
	issuer   *token.Issuer
	notifier Notifier
	config   Config
	metrics  Metrics
}

// NewService wires the flow orchestrator.
func NewService(
	log *zap.Logger,
	users UserDirectory,
	store refresh.Store,
	hasher *password.Gate,
	issuer *token.Issuer,
	notifier Notifier,
	cfg Config,
) (*Service, error) {
	if log == nil || users == nil || store == nil || hasher == nil || issuer == nil || notifier == nil {
		return nil, errors.New("nil service dependency")
	}
	if cfg.RefreshTTL <= 0 {
		return nil, errors.New("invalid refresh TTL configuration")
	}
	if cfg.ResetTTL <= 0 {
		cfg.ResetTTL = 24 * time.Hour
	}
	return &Service{
		log:      log,
		users:    users,
		store:    store,
		hasher:   hasher,
		issuer:   issuer,
		notifier: notifier,
		config:   cfg,
	}, nil
}

// Metrics exposes the flow counters.
func (s *Service) Metrics() MetricsSnapshot {
	return s.metrics.Snapshot()
}

// Login verifies credentials and issues a fresh token pair. Unknown
// email and wrong password are indistinguishable to the caller: both
// cost one hash verification and return ErrInvalidCredentials.
func (s *Service) Login(ctx context.Context, email, pw, deviceInfo string) (*TokenPair, *User, error) {
	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			_, _ = s.hasher.Verify(ctx, pw, dummyHash)
			s.metrics.loginFailure.Add(1)
			return nil, nil, ErrInvalidCredentials
		}
		return nil, nil, err
	}

	ok, err := s.hasher.Verify(ctx, pw, user.PasswordHash)
	if err != nil {
		s.log.Error("password verification failed", zap.String("user_id", user.ID), zap.Error(err))
		return nil, nil, err
	}
	if !ok {
		s.metrics.loginFailure.Add(1)
		return nil, nil, ErrInvalidCredentials
	}

	if !user.Active {
		s.metrics.loginFailure.Add(1)
		return nil, nil, ErrUserInactive
	}

	pair, err := s.issueTokens(ctx, user, deviceInfo)
	if err != nil {
		return nil, nil, err
	}

	user.LastLoginAt = time.Now()
	if err := s.users.Update(ctx, user); err != nil {
		s.log.Warn("last login update failed", zap.String("user_id", user.ID), zap.Error(err))
	}

	s.metrics.loginSuccess.Add(1)
	s.log.Info("login succeeded",
		zap.String("user_id", user.ID),
		zap.String("device", deviceInfo),
	)
	return pair, user, nil
}

// issueTokens mints an access token and persists a new refresh token
// for the user.
func (s *Service) issueTokens(ctx context.Context, user *User, deviceInfo string) (*TokenPair, error) {
	access, err := s.issuer.Sign(user.ID, user.Role)
	if err != nil {
		return nil, err
	}

	value, err := token.NewOpaque()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	tok := &refresh.Token{
		ID:         uuid.NewString(),
		UserID:     user.ID,
		Digest:     token.DigestValue(value),
		DeviceInfo: deviceInfo,
		CreatedAt:  now,
		ExpiresAt:  now.Add(s.config.RefreshTTL),
		Active:     true,
	}
	if err := s.store.Create(ctx, tok); err != nil {
		return nil, err
	}

	return &TokenPair{
		AccessToken:  access,
		RefreshToken: value,
		ExpiresIn:    int64(s.issuer.TTL().Seconds()),
	}, nil
}
