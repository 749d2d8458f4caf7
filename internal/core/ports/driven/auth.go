package driven

import (
	"context"

	"github.com/custodia-labs/integrations-core/internal/core/domain"
)

// SessionVerifier validates session tokens issued by the main product.
type SessionVerifier interface {
	// Verify parses and validates a session token.
	// Returns domain.ErrTokenExpired or domain.ErrTokenInvalid on failure.
	Verify(ctx context.Context, token string) (*domain.AuthContext, error)
}

// SecretCipher encrypts credentials at rest.
type SecretCipher interface {
	Encrypt(plaintext string) (string, error)
	// Decrypt returns domain.ErrDecryption if the ciphertext was produced
	// under a different key or has been tampered with.
	Decrypt(ciphertext string) (string, error)
}

// ProviderAppStore resolves OAuth client registrations.
type ProviderAppStore interface {
	// Get returns the app for a provider. The app may be unconfigured;
	// callers check IsConfigured.
	Get(t domain.IntegrationType) *domain.ProviderApp
}
