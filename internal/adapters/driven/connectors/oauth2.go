package connectors

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/oauth2"

	"github.com/custodia-labs/integrations-core/internal/core/domain"
	"github.com/custodia-labs/integrations-core/internal/core/ports/driven"
)

// OAuth2Flow implements the authorize, exchange and refresh steps shared by
// every OAuth 2.0 provider. Connectors embed it and add their API calls.
type OAuth2Flow struct {
	// Endpoint holds the provider's authorize and token URLs.
	Endpoint oauth2.Endpoint

	// Scopes are requested on authorization.
	Scopes []string

	// PKCE adds an S256 code challenge and sends the verifier on exchange.
	PKCE bool

	// AuthParams are extra authorization URL parameters.
	AuthParams map[string]string

	// ResolveExtras reads correlation values from the token response.
	ResolveExtras func(token *oauth2.Token) map[string]string

	transport *Transport
}

// NewOAuth2Flow creates a flow whose token calls go through transport.
func NewOAuth2Flow(transport *Transport, endpoint oauth2.Endpoint, scopes ...string) *OAuth2Flow {
	return &OAuth2Flow{
		Endpoint:  endpoint,
		Scopes:    scopes,
		transport: transport,
	}
}

// Transport returns the flow's HTTP stack.
func (f *OAuth2Flow) Transport() *Transport {
	return f.transport
}

// Type returns the provider type.
func (f *OAuth2Flow) Type() domain.IntegrationType {
	return f.transport.Provider()
}

func (f *OAuth2Flow) config(app *domain.ProviderApp, redirectURI string) *oauth2.Config {
	if redirectURI == "" {
		redirectURI = app.RedirectURI
	}
	return &oauth2.Config{
		ClientID:     app.ClientID,
		ClientSecret: app.ClientSecret,
		Endpoint:     f.Endpoint,
		RedirectURL:  redirectURI,
		Scopes:       f.Scopes,
	}
}

// AuthURL builds the authorization URL.
func (f *OAuth2Flow) AuthURL(ctx context.Context, app *domain.ProviderApp, req driven.AuthURLRequest) (*driven.AuthURLResult, error) {
	opts := make([]oauth2.AuthCodeOption, 0, len(f.AuthParams)+1)
	for k, v := range f.AuthParams {
		opts = append(opts, oauth2.SetAuthURLParam(k, v))
	}
	if f.PKCE {
		if req.CodeVerifier == "" {
			return nil, fmt.Errorf("%w: code verifier required", domain.ErrInvalidInput)
		}
		opts = append(opts, oauth2.S256ChallengeOption(req.CodeVerifier))
	}
	return &driven.AuthURLResult{
		URL: f.config(app, req.RedirectURI).AuthCodeURL(req.State, opts...),
	}, nil
}

// Exchange trades an authorization code for tokens.
func (f *OAuth2Flow) Exchange(ctx context.Context, app *domain.ProviderApp, req driven.ExchangeRequest) (*driven.TokenGrant, error) {
	var opts []oauth2.AuthCodeOption
	if f.PKCE && req.CodeVerifier != "" {
		opts = append(opts, oauth2.VerifierOption(req.CodeVerifier))
	}

	token, err := f.config(app, req.RedirectURI).Exchange(f.transport.Context(ctx), req.Code, opts...)
	if err != nil {
		return nil, f.tokenError("exchange code", err)
	}
	return f.grant(token), nil
}

// Refresh obtains a new access token. The previous refresh token is kept
// when the provider does not rotate it.
func (f *OAuth2Flow) Refresh(ctx context.Context, app *domain.ProviderApp, refreshToken string) (*driven.TokenGrant, error) {
	if refreshToken == "" {
		return nil, fmt.Errorf("%w: no refresh token", domain.ErrTokenRefresh)
	}

	expired := &oauth2.Token{RefreshToken: refreshToken, Expiry: time.Unix(1, 0)}
	token, err := f.config(app, "").TokenSource(f.transport.Context(ctx), expired).Token()
	if err != nil {
		return nil, f.tokenError("refresh token", err)
	}
	grant := f.grant(token)
	if grant.Tokens.RefreshToken == "" {
		grant.Tokens.RefreshToken = refreshToken
	}
	return grant, nil
}

func (f *OAuth2Flow) grant(token *oauth2.Token) *driven.TokenGrant {
	grant := &driven.TokenGrant{
		Tokens: domain.Tokens{
			AccessToken:  token.AccessToken,
			RefreshToken: token.RefreshToken,
		},
	}
	if !token.Expiry.IsZero() {
		expiry := token.Expiry.UTC()
		grant.ExpiresAt = &expiry
	}
	if f.ResolveExtras != nil {
		grant.Resolved = f.ResolveExtras(token)
	}
	return grant
}

// tokenError turns an oauth2 token endpoint failure into a ProviderError so
// the vendor body reaches the client.
func (f *OAuth2Flow) tokenError(op string, err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
		return fmt.Errorf("%s: %w", op, &domain.ProviderError{
			Provider:   f.Type(),
			StatusCode: retrieveErr.Response.StatusCode,
			Body:       string(retrieveErr.Body),
		})
	}
	return fmt.Errorf("%s: %w", op, err)
}

// ExtraString reads a string value from the token response.
func ExtraString(token *oauth2.Token, key string) string {
	if v, ok := token.Extra(key).(string); ok {
		return v
	}
	return ""
}

// ExtraObjectString reads obj[key] from a nested object in the token
// response, such as Slack's team.id.
func ExtraObjectString(token *oauth2.Token, obj, key string) string {
	m, ok := token.Extra(obj).(map[string]any)
	if !ok {
		return ""
	}
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}
