package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrAccessInvalid is returned by Verify for any token that fails
// signature, shape, or time validation. Callers get no finer-grained
// reason; the distinction is not actionable for a client.
var ErrAccessInvalid = errors.New("invalid access token")

// AccessClaims is the payload of a signed access token: subject id and
// role plus the registered time claims. Access tokens are never
// persisted and have no server-side revocation list; their short TTL is
// the only defense, which is why refresh revocation must be immediate.
type AccessClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// IssuerConfig carries the process-wide signing material and validation
// knobs. Secret is loaded once at startup and must never be logged.
type IssuerConfig struct {
	Secret []byte
	TTL    time.Duration
	Issuer string
	Leeway time.Duration
}

// Issuer signs and verifies access tokens with HS256. It is a pure
// function of input, secret, and clock: no storage or network access.
type Issuer struct {
	config IssuerConfig
}

// NewIssuer validates the configuration and returns an Issuer.
func NewIssuer(cfg IssuerConfig) (*Issuer, error) {
	if len(cfg.Secret) < 32 {
		return nil, errors.New("signing secret must be at least 32 bytes")
	}
	if cfg.TTL <= 0 {
		return nil, errors.New("invalid access TTL configuration")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	return &Issuer{config: cfg}, nil
}

// TTL returns the configured access-token lifetime.
func (i *Issuer) TTL() time.Duration {
	return i.config.TTL
}

// Sign issues a token for the given subject and role.
func (i *Issuer) Sign(subjectID, role string) (string, error) {
	now := time.Now()
	claims := AccessClaims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subjectID,
			Issuer:    i.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.config.TTL)),
		},
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.config.Secret)
}

// Verify parses and validates a token, returning its claims. Rejects on
// bad signature, malformed payload, wrong algorithm, or expiry.
func (i *Issuer) Verify(tokenStr string) (*AccessClaims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if i.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(i.config.Leeway))
	}
	if i.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(i.config.Issuer))
	}

	parser := jwt.NewParser(options...)
	parsed, err := parser.ParseWithClaims(tokenStr, &AccessClaims{}, func(t *jwt.Token) (interface{}, error) {
		return i.config.Secret, nil
	})
	if err != nil {
		return nil, errors.Join(ErrAccessInvalid, err)
	}

	claims, ok := parsed.Claims.(*AccessClaims)
	if !ok || !parsed.Valid || claims.Subject == "" {
		return nil, ErrAccessInvalid
	}

	return claims, nil
}
