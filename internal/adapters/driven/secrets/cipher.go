// Package secrets encrypts provider credentials before they reach storage.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/custodia-labs/integrations-core/internal/core/domain"
	"github.com/custodia-labs/integrations-core/internal/core/ports/driven"
)

// Ensure Cipher implements SecretCipher
var _ driven.SecretCipher = (*Cipher)(nil)

const (
	// blobVersion is the first byte of every encrypted blob.
	blobVersion = 0x01

	// nonceSize is the AES-GCM nonce size (12 bytes is standard)
	nonceSize = 12

	// keySize is the required key size for AES-256
	keySize = 32

	// minSecretLength is the shortest accepted master secret.
	minSecretLength = 16
)

// hkdfInfo scopes the derived key to token encryption.
var hkdfInfo = []byte("integrations-core/token-encryption/v1")

var (
	// ErrWeakSecret is returned when the master secret is too short.
	ErrWeakSecret = errors.New("encryption secret must be at least 16 characters")

	// ErrUnsupportedVersion is returned when the blob version is not supported.
	ErrUnsupportedVersion = errors.New("unsupported secret blob version")
)

// Cipher handles AES-256-GCM encryption of token strings.
// The encoded format is base64(version(1) || nonce(12) || ciphertext(N)).
type Cipher struct {
	gcm cipher.AEAD
}

// NewCipher derives a 32-byte key from secret with HKDF-SHA256 and returns
// a cipher using it.
func NewCipher(secret string) (*Cipher, error) {
	if len(secret) < minSecretLength {
		return nil, ErrWeakSecret
	}

	key := make([]byte, keySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, hkdfInfo), key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	return NewCipherFromKey(key)
}

// NewCipherFromKey creates a cipher from a raw 32-byte key.
func NewCipherFromKey(key []byte) (*Cipher, error) {
	if len(key) != keySize {
		return nil, fmt.Errorf("encryption key must be %d bytes: got %d", keySize, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create AES cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}

	return &Cipher{gcm: gcm}, nil
}

// Encrypt encrypts plaintext and returns the base64 blob.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	sealed := c.gcm.Seal(nil, nonce, []byte(plaintext), []byte{blobVersion})

	blob := make([]byte, 1+nonceSize+len(sealed))
	blob[0] = blobVersion
	copy(blob[1:1+nonceSize], nonce)
	copy(blob[1+nonceSize:], sealed)

	return base64.StdEncoding.EncodeToString(blob), nil
}

// Decrypt reverses Encrypt. Every failure wraps domain.ErrDecryption; an
// unknown blob version also wraps ErrUnsupportedVersion.
func (c *Cipher) Decrypt(encoded string) (string, error) {
	blob, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: invalid encoding", domain.ErrDecryption)
	}

	if len(blob) < 1+nonceSize+c.gcm.Overhead() {
		return "", fmt.Errorf("%w: blob too small", domain.ErrDecryption)
	}
	if blob[0] != blobVersion {
		return "", fmt.Errorf("%w: %w: got version %d", domain.ErrDecryption, ErrUnsupportedVersion, blob[0])
	}

	nonce := blob[1 : 1+nonceSize]
	plaintext, err := c.gcm.Open(nil, nonce, blob[1+nonceSize:], []byte{blobVersion})
	if err != nil {
		return "", domain.ErrDecryption
	}
	return string(plaintext), nil
}
