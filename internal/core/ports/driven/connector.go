package driven

import (
	"context"
	"encoding/json"
	"net/url"
	"time"

	"github.com/custodia-labs/integrations-core/internal/core/domain"
)

// Connector is one provider's OAuth flow and API surface.
type Connector interface {
	// Type returns the provider type.
	Type() domain.IntegrationType

	// AuthURL builds the provider authorization URL.
	AuthURL(ctx context.Context, app *domain.ProviderApp, req AuthURLRequest) (*AuthURLResult, error)

	// Exchange trades the callback parameters for tokens and resolves the
	// provider-side correlation values.
	Exchange(ctx context.Context, app *domain.ProviderApp, req ExchangeRequest) (*TokenGrant, error)

	// Refresh obtains a new access token from a refresh token.
	Refresh(ctx context.Context, app *domain.ProviderApp, refreshToken string) (*TokenGrant, error)

	// FetchMetrics calls the provider API and computes a metrics snapshot.
	FetchMetrics(ctx context.Context, cred *Credential) (*domain.Metrics, error)
}

// ResourceLister is implemented by connectors that expose read passthroughs.
type ResourceLister interface {
	// Resources lists the names accepted by ListResource.
	Resources() []string

	// ListResource reads a provider resource and returns it reshaped as JSON.
	// Returns domain.ErrUnsupportedResource for unknown names.
	ListResource(ctx context.Context, cred *Credential, resource string, params url.Values) (json.RawMessage, error)
}

// ResourceCreator is implemented by connectors that can create provider resources.
type ResourceCreator interface {
	CreateResource(ctx context.Context, cred *Credential, resource string, body json.RawMessage) (json.RawMessage, error)
}

// ConnectorRegistry resolves connectors by provider.
type ConnectorRegistry interface {
	// Get returns the connector for a provider, or domain.ErrUnsupportedProvider.
	Get(t domain.IntegrationType) (Connector, error)
}

// AuthURLRequest carries what a connector needs to build the authorization URL.
type AuthURLRequest struct {
	State        string
	RedirectURI  string
	CodeVerifier string
}

// AuthURLResult is the authorization URL plus any secret the callback needs.
type AuthURLResult struct {
	URL string
	// RequestSecret is the OAuth 1.0a request token secret.
	RequestSecret string
}

// ExchangeRequest carries the callback parameters.
type ExchangeRequest struct {
	Code          string
	RedirectURI   string
	CodeVerifier  string
	RequestSecret string
	// Query holds the remaining callback parameters (realmId, oauth_token, ...).
	Query url.Values
}

// TokenGrant is the result of an exchange or refresh.
type TokenGrant struct {
	Tokens    domain.Tokens
	ExpiresAt *time.Time
	// Resolved holds correlation values discovered during the exchange.
	Resolved map[string]string
}

// Credential is what a connector needs to call the provider API.
// Tokens are plaintext and must not outlive the call.
type Credential struct {
	UserID      string
	App         *domain.ProviderApp
	Tokens      domain.Tokens
	Correlation domain.Correlation
}
