package secrets

import (
	"fmt"

	"github.com/custodia-labs/integrations-core/internal/core/domain"
	"github.com/custodia-labs/integrations-core/internal/core/ports/driven"
)

// SealTokens encrypts every non-empty token. Stores call it before any write.
func SealTokens(c driven.SecretCipher, t domain.Tokens) (domain.Tokens, error) {
	var sealed domain.Tokens
	var err error
	if sealed.AccessToken, err = seal(c, t.AccessToken); err != nil {
		return domain.Tokens{}, fmt.Errorf("encrypt access token: %w", err)
	}
	if sealed.RefreshToken, err = seal(c, t.RefreshToken); err != nil {
		return domain.Tokens{}, fmt.Errorf("encrypt refresh token: %w", err)
	}
	if sealed.TokenSecret, err = seal(c, t.TokenSecret); err != nil {
		return domain.Tokens{}, fmt.Errorf("encrypt token secret: %w", err)
	}
	return sealed, nil
}

// OpenTokens reverses SealTokens.
func OpenTokens(c driven.SecretCipher, t domain.Tokens) (domain.Tokens, error) {
	var opened domain.Tokens
	var err error
	if opened.AccessToken, err = open(c, t.AccessToken); err != nil {
		return domain.Tokens{}, fmt.Errorf("decrypt access token: %w", err)
	}
	if opened.RefreshToken, err = open(c, t.RefreshToken); err != nil {
		return domain.Tokens{}, fmt.Errorf("decrypt refresh token: %w", err)
	}
	if opened.TokenSecret, err = open(c, t.TokenSecret); err != nil {
		return domain.Tokens{}, fmt.Errorf("decrypt token secret: %w", err)
	}
	return opened, nil
}

func seal(c driven.SecretCipher, s string) (string, error) {
	if s == "" {
		return "", nil
	}
	return c.Encrypt(s)
}

func open(c driven.SecretCipher, s string) (string, error) {
	if s == "" {
		return "", nil
	}
	return c.Decrypt(s)
}
