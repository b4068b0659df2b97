// Package auth implements the admission gate for network callers: bearer
// verification, source-address allow-listing and per-principal rate
// limiting, applied in that order.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/zoho-mcp/zoho-mcp-server/pkg/errors"
)

// DefaultMaxLifetime caps accepted bearer lifetimes. The signing policy may
// emit shorter tokens; anything longer is rejected outright.
const DefaultMaxLifetime = 24 * time.Hour

// BearerVerifier validates HMAC-SHA256 signed bearer tokens.
type BearerVerifier struct {
	secret      []byte
	maxLifetime time.Duration
}

// NewBearerVerifier creates a verifier for the given symmetric key.
// A non-positive maxLifetime falls back to the default ceiling.
func NewBearerVerifier(secret []byte, maxLifetime time.Duration) *BearerVerifier {
	if maxLifetime <= 0 {
		maxLifetime = DefaultMaxLifetime
	}
	return &BearerVerifier{secret: secret, maxLifetime: maxLifetime}
}

// Verify checks the token signature and temporal claims and returns the
// subject. All failures map to unauthorised; messages never echo the token.
func (v *BearerVerifier) Verify(token string) (string, error) {
	parsed, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{},
		func(_ *jwt.Token) (any, error) { return v.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return "", apperrors.NewUnauthorized("bearer token expired", err)
		case errors.Is(err, jwt.ErrTokenNotValidYet):
			return "", apperrors.NewUnauthorized("bearer token not yet valid", err)
		default:
			return "", apperrors.NewUnauthorized("invalid bearer token", err)
		}
	}

	claims, ok := parsed.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject == "" {
		return "", apperrors.NewUnauthorized("bearer token carries no subject", nil)
	}

	// Reject tokens whose declared lifetime exceeds the ceiling, whatever
	// the signing policy emitted them with.
	if claims.IssuedAt != nil && claims.ExpiresAt != nil {
		if claims.ExpiresAt.Sub(claims.IssuedAt.Time) > v.maxLifetime {
			return "", apperrors.NewUnauthorized(
				fmt.Sprintf("bearer token lifetime exceeds the %s ceiling", v.maxLifetime), nil)
		}
	}
	return claims.Subject, nil
}

// Mint signs a token for the given subject. Used by the token subcommand
// and by tests.
func (v *BearerVerifier) Mint(subject string, lifetime time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(lifetime)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
