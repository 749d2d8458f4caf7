package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/custodia-labs/integrations-core/internal/core/domain"
)

func validClaims() *domain.TokenClaims {
	now := time.Now()
	return &domain.TokenClaims{
		UserID:    "user-123",
		Email:     "test@example.com",
		SessionID: "session-789",
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(time.Hour).Unix(),
	}
}

func TestVerify_ValidToken(t *testing.T) {
	verifier := NewJWTVerifier("test-secret")

	token, err := verifier.Sign(validClaims())
	if err != nil {
		t.Fatalf("failed to generate token: %v", err)
	}

	auth, err := verifier.Verify(context.Background(), token)
	if err != nil {
		t.Fatalf("failed to verify token: %v", err)
	}

	if auth.UserID != "user-123" {
		t.Errorf("expected user ID user-123, got %s", auth.UserID)
	}
	if auth.Email != "test@example.com" {
		t.Errorf("expected email test@example.com, got %s", auth.Email)
	}
	if auth.SessionID != "session-789" {
		t.Errorf("expected session ID session-789, got %s", auth.SessionID)
	}
}

func TestVerify_SubjectIsUserID(t *testing.T) {
	verifier := NewJWTVerifier("test-secret")

	// A token minted elsewhere with only registered claims.
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "65f1c0de",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}

	auth, err := verifier.Verify(context.Background(), token)
	if err != nil {
		t.Fatalf("failed to verify token: %v", err)
	}
	if auth.UserID != "65f1c0de" {
		t.Errorf("expected user ID from sub, got %s", auth.UserID)
	}
}

func TestVerify_Failures(t *testing.T) {
	verifier := NewJWTVerifier("test-secret")

	expired := validClaims()
	expired.IssuedAt = time.Now().Add(-2 * time.Hour).Unix()
	expired.ExpiresAt = time.Now().Add(-time.Hour).Unix()
	expiredToken, _ := verifier.Sign(expired)

	wrongSecret, _ := NewJWTVerifier("other-secret").Sign(validClaims())

	noSubject := validClaims()
	noSubject.UserID = ""
	noSubjectToken, _ := verifier.Sign(noSubject)

	noExpiry, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject: "user-1",
	}).SignedString([]byte("test-secret"))

	hs512, _ := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.RegisteredClaims{
		Subject:   "user-1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte("test-secret"))

	tests := []struct {
		name  string
		token string
		want  error
	}{
		{"empty", "", domain.ErrUnauthorized},
		{"malformed", "not.a.jwt", domain.ErrTokenInvalid},
		{"expired", expiredToken, domain.ErrTokenExpired},
		{"wrong secret", wrongSecret, domain.ErrTokenInvalid},
		{"missing subject", noSubjectToken, domain.ErrTokenInvalid},
		{"missing expiry", noExpiry, domain.ErrTokenInvalid},
		{"other algorithm", hs512, domain.ErrTokenInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := verifier.Verify(context.Background(), tt.token)
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestVerify_WithinLeeway(t *testing.T) {
	verifier := NewJWTVerifier("test-secret")

	claims := validClaims()
	claims.ExpiresAt = time.Now().Add(-5 * time.Second).Unix()
	token, _ := verifier.Sign(claims)

	if _, err := verifier.Verify(context.Background(), token); err != nil {
		t.Errorf("expected token inside leeway to verify, got %v", err)
	}
}
