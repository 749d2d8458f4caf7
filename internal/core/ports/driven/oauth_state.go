package driven

import (
	"context"
	"time"

	"github.com/custodia-labs/integrations-core/internal/core/domain"
)

// OAuthStateTTL is how long a pending authorization stays valid.
const OAuthStateTTL = 10 * time.Minute

// OAuthState represents a pending authorization flow.
// Used for CSRF protection and to carry trusted context to the callback.
type OAuthState struct {
	// State is the random CSRF token round-tripped through the provider.
	State string `json:"state"`

	// UserID is the session user that started the flow.
	UserID string `json:"user_id"`

	// IntegrationType is the provider being connected.
	IntegrationType domain.IntegrationType `json:"integration_type"`

	// Hints are client-supplied correlation values (workspaceId, propertyId, ...).
	Hints map[string]string `json:"hints,omitempty"`

	// CodeVerifier is the PKCE verifier for providers that use PKCE.
	CodeVerifier string `json:"code_verifier,omitempty"`

	// RequestSecret is the OAuth 1.0a request token secret (Trello).
	RequestSecret string `json:"request_secret,omitempty"`

	// RedirectURI is the callback URL registered with the provider.
	RedirectURI string `json:"redirect_uri"`

	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// OAuthStateStore manages pending authorization state.
// States are single-use and expire after OAuthStateTTL.
type OAuthStateStore interface {
	// Save stores a new OAuth state.
	Save(ctx context.Context, state *OAuthState) error

	// GetAndDelete atomically retrieves and deletes the state.
	// Returns nil, nil if the state doesn't exist or has expired.
	GetAndDelete(ctx context.Context, state string) (*OAuthState, error)

	// Cleanup removes expired states.
	Cleanup(ctx context.Context) error
}

// Stamp fills CreatedAt and ExpiresAt when they are unset.
func (s *OAuthState) Stamp(now time.Time) {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	if s.ExpiresAt.IsZero() {
		s.ExpiresAt = now.Add(OAuthStateTTL)
	}
}

// Expired reports whether the state is past its deadline at now.
func (s *OAuthState) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}
