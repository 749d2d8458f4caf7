package driving

import (
	"context"
	"net/url"

	"github.com/custodia-labs/integrations-core/internal/core/domain"
)

// ConnectService handles the authorization flow that connects a user's
// provider account.
type ConnectService interface {
	// Authorize starts an authorization flow.
	// Returns the provider URL to redirect the user to.
	// The pending state is stored for CSRF validation during callback.
	Authorize(ctx context.Context, req AuthorizeRequest) (*AuthorizeResponse, error)

	// Callback completes the flow: it validates state, exchanges the code,
	// stores the credential and schedules a metrics fetch.
	Callback(ctx context.Context, req CallbackRequest) (*CallbackResponse, error)
}

// AuthorizeRequest represents a request to start an authorization flow.
// @Description Request to start an integration authorization flow
type AuthorizeRequest struct {
	// UserID is the authenticated session user.
	UserID string `json:"-"`

	// IntegrationType is the provider to connect.
	IntegrationType domain.IntegrationType `json:"integration_type" example:"XERO"`

	// Hints are correlation values chosen by the client (workspaceId, propertyId, ...).
	Hints map[string]string `json:"hints,omitempty"`
}

// AuthorizeResponse contains the authorization URL and state.
// @Description Response containing the provider authorization URL
type AuthorizeResponse struct {
	// AuthorizationURL is the URL to redirect the user to.
	AuthorizationURL string `json:"authorization_url" example:"https://login.xero.com/identity/connect/authorize?client_id=..."`

	// State is the CSRF token that will come back in the callback.
	State string `json:"state" example:"9f2c4e1a7b3d5f60"`

	// ExpiresAt is when the pending state expires (10 minutes).
	ExpiresAt string `json:"expires_at" example:"2024-01-15T10:10:00Z"`
}

// CallbackRequest represents the provider redirect back to the service.
// @Description OAuth callback parameters from the provider redirect
type CallbackRequest struct {
	// UserID is the authenticated session user.
	UserID string `json:"-"`

	// IntegrationType comes from the route.
	IntegrationType domain.IntegrationType `json:"-"`

	// Code is the authorization code (or OAuth 1.0a verifier).
	Code string `json:"code" example:"abc"`

	// State is the value sent with the authorization request.
	State string `json:"state" example:"{\"csrfToken\":\"t\",\"workspaceId\":\"123\"}"`

	// Error is set if the provider returned an error.
	Error string `json:"error,omitempty" example:"access_denied"`

	// ErrorDescription provides details about the error.
	ErrorDescription string `json:"error_description,omitempty" example:"The user denied access"`

	// Query holds the remaining callback parameters (realmId, oauth_token, ...).
	Query url.Values `json:"-"`
}

// CallbackResponse contains the result of the callback.
// @Description Response after a successful connection
type CallbackResponse struct {
	Success     bool                       `json:"success" example:"true"`
	Message     string                     `json:"message" example:"Xero connected"`
	Integration *domain.IntegrationSummary `json:"integration"`
}

// OAuthError represents an authorization failure reported to the client.
type OAuthError struct {
	Code        string `json:"error" example:"invalid_state"`
	Description string `json:"details,omitempty" example:"The state parameter is invalid or expired"`
	// Upstream is set when the provider rejected the request.
	Upstream bool `json:"-"`
	// Err is the underlying failure, often a *domain.ProviderError.
	Err error `json:"-"`
}

func (e *OAuthError) Error() string {
	if e.Description != "" {
		return e.Code + ": " + e.Description
	}
	return e.Code
}

func (e *OAuthError) Unwrap() error {
	return e.Err
}

// Common OAuth errors
var (
	ErrOAuthInvalidState  = &OAuthError{Code: "invalid_state", Description: "The state parameter is invalid or expired"}
	ErrOAuthMissingParams = &OAuthError{Code: "invalid_request", Description: "Missing code or state"}
)
