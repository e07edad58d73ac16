package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/dkeye/callbridge/internal/core"
	"github.com/dkeye/callbridge/internal/domain"
)

const revokedPrefix = "revoked:"

var ErrTokenRevoked = errors.New("token has been revoked")

// JWTVerifier implements core.IdentityVerifier for HMAC-signed tokens whose
// subject is the user id. Every failure wraps domain.ErrAuthenticationFailed.
type JWTVerifier struct {
	secret  []byte
	issuer  string
	revoked core.Cache
}

type Option func(*JWTVerifier)

// WithIssuer requires the iss claim to match.
func WithIssuer(iss string) Option {
	return func(v *JWTVerifier) { v.issuer = iss }
}

// WithRevocations rejects tokens whose jti is present under revoked:<jti>.
// A lookup failure rejects the token too.
func WithRevocations(c core.Cache) Option {
	return func(v *JWTVerifier) { v.revoked = c }
}

func NewJWTVerifier(secret string, opts ...Option) *JWTVerifier {
	v := &JWTVerifier{secret: []byte(secret)}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

func (v *JWTVerifier) Verify(ctx context.Context, raw string) (domain.UserID, error) {
	if len(v.secret) == 0 {
		return "", fmt.Errorf("%w: verifier has no secret", domain.ErrAuthenticationFailed)
	}

	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg(), jwt.SigningMethodHS384.Alg(), jwt.SigningMethodHS512.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(v.issuer))
	}

	var claims jwt.RegisteredClaims
	token, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	}, parserOpts...)
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrAuthenticationFailed, err)
	}
	if !token.Valid {
		return "", fmt.Errorf("%w: token is invalid", domain.ErrAuthenticationFailed)
	}

	uid, err := domain.NewUserID(claims.Subject)
	if err != nil {
		return "", fmt.Errorf("%w: subject: %w", domain.ErrAuthenticationFailed, err)
	}

	if v.revoked != nil && claims.ID != "" {
		_, err := v.revoked.Get(ctx, revokedPrefix+claims.ID)
		switch {
		case err == nil:
			return "", fmt.Errorf("%w: %w", domain.ErrAuthenticationFailed, ErrTokenRevoked)
		case !errors.Is(err, core.ErrCacheMiss):
			return "", fmt.Errorf("%w: revocation check: %w", domain.ErrAuthenticationFailed, err)
		}
	}
	return uid, nil
}

// Revoke blocks a token id until ttl passes.
func Revoke(ctx context.Context, c core.Cache, jti string, ttl time.Duration) error {
	return c.Set(ctx, revokedPrefix+jti, []byte("1"), ttl)
}

// Issue signs a token for uid. Used by the CLI and tests; production tokens
// come from the identity provider.
func Issue(secret, issuer string, uid domain.UserID, ttl time.Duration, now time.Time) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:   uid.String(),
		Issuer:    issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		ID:        uuid.NewString(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
