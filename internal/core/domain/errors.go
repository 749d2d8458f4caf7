package domain

import (
	"errors"
	"fmt"
)

// Domain errors - used across all layers
var (
	// ErrNotFound indicates the requested resource was not found
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput indicates the input is invalid
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnauthorized indicates authentication failed or missing
	ErrUnauthorized = errors.New("unauthorized")

	// ErrTokenExpired indicates the session token has expired
	ErrTokenExpired = errors.New("token expired")

	// ErrTokenInvalid indicates the session token is malformed or invalid
	ErrTokenInvalid = errors.New("token invalid")

	// ErrProviderNotConfigured indicates the provider's client credentials are missing
	ErrProviderNotConfigured = errors.New("server configuration error")

	// ErrUnsupportedProvider indicates the integration type is unknown
	ErrUnsupportedProvider = errors.New("unsupported provider")

	// ErrUnsupportedResource indicates the provider does not expose the requested resource
	ErrUnsupportedResource = errors.New("unsupported resource")

	// ErrTokenRefresh indicates the provider rejected a refresh
	ErrTokenRefresh = errors.New("failed to refresh token")

	// ErrRefreshInProgress indicates another caller holds the refresh lock
	ErrRefreshInProgress = errors.New("token refresh in progress")

	// ErrDecryption indicates a stored secret could not be decrypted
	ErrDecryption = errors.New("decryption failed")
)

// ProviderError is a non-success response from a provider API or token
// endpoint. The body is kept so it can be passed back to the client.
type ProviderError struct {
	Provider   IntegrationType
	StatusCode int
	Body       string
}

func (e *ProviderError) Error() string {
	body := e.Body
	if len(body) > 512 {
		body = body[:512] + "..."
	}
	return fmt.Sprintf("%s api returned %d: %s", e.Provider.DisplayName(), e.StatusCode, body)
}
