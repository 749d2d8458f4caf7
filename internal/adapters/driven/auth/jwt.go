// Package auth verifies the HS256 session tokens minted by the main product.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/custodia-labs/integrations-core/internal/core/domain"
	"github.com/custodia-labs/integrations-core/internal/core/ports/driven"
)

var _ driven.SessionVerifier = (*JWTVerifier)(nil)

// clockSkew is tolerated on exp and iat.
const clockSkew = 30 * time.Second

// sessionClaims is the token payload. The subject is the user ID.
type sessionClaims struct {
	jwt.RegisteredClaims
	Email     string `json:"email,omitempty"`
	SessionID string `json:"sid,omitempty"`
}

type JWTVerifier struct {
	secret []byte
	parser *jwt.Parser
}

func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{
		secret: []byte(secret),
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithExpirationRequired(),
			jwt.WithLeeway(clockSkew),
		),
	}
}

// Sign mints a token for claims. Local tooling and tests use it; real
// sessions are issued upstream.
func (v *JWTVerifier) Sign(claims *domain.TokenClaims) (string, error) {
	payload := sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   claims.UserID,
			IssuedAt:  jwt.NewNumericDate(time.Unix(claims.IssuedAt, 0)),
			ExpiresAt: jwt.NewNumericDate(time.Unix(claims.ExpiresAt, 0)),
		},
		Email:     claims.Email,
		SessionID: claims.SessionID,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, payload).SignedString(v.secret)
}

func (v *JWTVerifier) Verify(_ context.Context, token string) (*domain.AuthContext, error) {
	if token == "" {
		return nil, domain.ErrUnauthorized
	}

	var claims sessionClaims
	_, err := v.parser.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	})
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, domain.ErrTokenExpired
	case err != nil:
		return nil, fmt.Errorf("%w: %v", domain.ErrTokenInvalid, err)
	case claims.Subject == "":
		return nil, fmt.Errorf("%w: no subject", domain.ErrTokenInvalid)
	}

	return &domain.AuthContext{
		UserID:    claims.Subject,
		Email:     claims.Email,
		SessionID: claims.SessionID,
	}, nil
}
