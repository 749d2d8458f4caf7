// Package trello connects Trello members over OAuth 1.0a.
package trello

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/dghubble/oauth1"

	"github.com/custodia-labs/integrations-core/internal/adapters/driven/connectors"
	"github.com/custodia-labs/integrations-core/internal/core/domain"
	"github.com/custodia-labs/integrations-core/internal/core/ports/driven"
)

const (
	defaultBaseURL = "https://api.trello.com/1"
	appName        = "Integrations Core"
	maxBoards      = 10
)

// Endpoint holds Trello's OAuth 1.0a URLs.
var Endpoint = oauth1.Endpoint{
	RequestTokenURL: "https://trello.com/1/OAuthGetRequestToken",
	AuthorizeURL:    "https://trello.com/1/OAuthAuthorizeToken",
	AccessTokenURL:  "https://trello.com/1/OAuthGetAccessToken",
}

// Ensure Connector implements the interfaces.
var (
	_ driven.Connector      = (*Connector)(nil)
	_ driven.ResourceLister = (*Connector)(nil)
)

// Connector is the Trello connector. Its tokens never expire and cannot be
// refreshed; the member re-authorizes instead.
type Connector struct {
	Endpoint oauth1.Endpoint
	BaseURL  string

	transport *connectors.Transport
}

// New creates a Trello connector.
func New(opts connectors.Options) *Connector {
	return &Connector{
		Endpoint:  Endpoint,
		BaseURL:   defaultBaseURL,
		transport: connectors.NewTransport(domain.IntegrationTrello, opts),
	}
}

// Type returns the provider type.
func (c *Connector) Type() domain.IntegrationType {
	return domain.IntegrationTrello
}

func (c *Connector) config(app *domain.ProviderApp, callback string) *oauth1.Config {
	return &oauth1.Config{
		ConsumerKey:    app.ClientID,
		ConsumerSecret: app.ClientSecret,
		CallbackURL:    callback,
		Endpoint:       c.Endpoint,
	}
}

// tokenConfig is config with token requests sent through the provider
// transport and bound to ctx. The request and access token calls take no
// context of their own.
func (c *Connector) tokenConfig(ctx context.Context, app *domain.ProviderApp, callback string) (*oauth1.Config, context.CancelFunc) {
	base := c.transport.HTTPClient()
	ctx, cancel := context.WithTimeout(ctx, base.Timeout)
	cfg := c.config(app, callback)
	cfg.HTTPClient = &http.Client{Transport: &boundRoundTripper{ctx: ctx, base: base.Transport}}
	return cfg, cancel
}

// boundRoundTripper sends every request with a fixed context.
type boundRoundTripper struct {
	ctx  context.Context
	base http.RoundTripper
}

func (rt *boundRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	return rt.base.RoundTrip(req.WithContext(rt.ctx))
}

// AuthURL obtains a request token and returns the authorize URL. OAuth 1.0a
// has no state parameter, so the state rides on the callback URL.
func (c *Connector) AuthURL(ctx context.Context, app *domain.ProviderApp, req driven.AuthURLRequest) (*driven.AuthURLResult, error) {
	redirect := req.RedirectURI
	if redirect == "" {
		redirect = app.RedirectURI
	}
	callback, err := url.Parse(redirect)
	if err != nil {
		return nil, fmt.Errorf("%w: redirect uri: %v", domain.ErrInvalidInput, err)
	}
	q := callback.Query()
	q.Set("state", req.State)
	callback.RawQuery = q.Encode()

	cfg, cancel := c.tokenConfig(ctx, app, callback.String())
	defer cancel()
	requestToken, requestSecret, err := cfg.RequestToken()
	if err != nil {
		return nil, fmt.Errorf("trello request token: %w", err)
	}

	authURL, err := cfg.AuthorizationURL(requestToken)
	if err != nil {
		return nil, fmt.Errorf("trello authorize url: %w", err)
	}
	params := authURL.Query()
	params.Set("name", appName)
	params.Set("scope", "read")
	params.Set("expiration", "never")
	authURL.RawQuery = params.Encode()

	return &driven.AuthURLResult{URL: authURL.String(), RequestSecret: requestSecret}, nil
}

// Exchange trades the request token and verifier for an access token, then
// resolves the member id. The verifier arrives as the code.
func (c *Connector) Exchange(ctx context.Context, app *domain.ProviderApp, req driven.ExchangeRequest) (*driven.TokenGrant, error) {
	requestToken := req.Query.Get("oauth_token")
	if requestToken == "" || req.RequestSecret == "" {
		return nil, fmt.Errorf("%w: missing oauth_token or request secret", domain.ErrInvalidInput)
	}

	cfg, cancel := c.tokenConfig(ctx, app, "")
	defer cancel()
	accessToken, accessSecret, err := cfg.AccessToken(requestToken, req.RequestSecret, req.Code)
	if err != nil {
		return nil, fmt.Errorf("trello access token: %w", err)
	}
	grant := &driven.TokenGrant{
		Tokens: domain.Tokens{AccessToken: accessToken, TokenSecret: accessSecret},
	}

	var me struct {
		ID string `json:"id"`
	}
	cred := &driven.Credential{App: app, Tokens: grant.Tokens}
	if err := c.api(ctx, cred).Get(ctx, "/members/me", url.Values{"fields": {"id,username"}}, &me); err != nil {
		return nil, fmt.Errorf("resolve member: %w", err)
	}
	if me.ID != "" {
		grant.Resolved = map[string]string{"memberId": me.ID}
	}
	return grant, nil
}

// Refresh always fails.
func (c *Connector) Refresh(context.Context, *domain.ProviderApp, string) (*driven.TokenGrant, error) {
	return nil, fmt.Errorf("%w: trello tokens cannot be refreshed", domain.ErrTokenRefresh)
}

// api returns a client signing requests with the member's token.
func (c *Connector) api(ctx context.Context, cred *driven.Credential) *connectors.APIClient {
	ctx = context.WithValue(ctx, oauth1.HTTPClient, c.transport.HTTPClient())
	client := c.config(cred.App, "").Client(ctx, oauth1.NewToken(cred.Tokens.AccessToken, cred.Tokens.TokenSecret))
	return c.transport.API(client, c.BaseURL)
}

type board struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Closed bool   `json:"closed"`
	URL    string `json:"url"`
}

type card struct {
	ID     string `json:"id"`
	Closed bool   `json:"closed"`
}

func (c *Connector) boards(ctx context.Context, api *connectors.APIClient) ([]board, error) {
	var boards []board
	query := url.Values{"filter": {"open"}, "fields": {"id,name,closed,url"}}
	if err := api.Get(ctx, "/members/me/boards", query, &boards); err != nil {
		return nil, err
	}
	return boards, nil
}

// FetchMetrics counts closed cards across the member's first open boards.
func (c *Connector) FetchMetrics(ctx context.Context, cred *driven.Credential) (*domain.Metrics, error) {
	api := c.api(ctx, cred)

	boards, err := c.boards(ctx, api)
	if err != nil {
		return nil, err
	}
	if len(boards) > maxBoards {
		boards = boards[:maxBoards]
	}

	var total, closed int
	for _, b := range boards {
		var cards []card
		if err := api.Get(ctx, "/boards/"+url.PathEscape(b.ID)+"/cards/all", url.Values{"fields": {"id,closed"}}, &cards); err != nil {
			return nil, err
		}
		total += len(cards)
		for _, cd := range cards {
			if cd.Closed {
				closed++
			}
		}
	}

	m := domain.NewMetrics()
	m.AdoptionRate = domain.Percent(float64(closed), float64(total))
	m.NewFeatures = domain.Count(closed)
	return m, nil
}

// Resources lists the read passthroughs.
func (c *Connector) Resources() []string {
	return []string{"boards"}
}

// ListResource lists the member's open boards.
func (c *Connector) ListResource(ctx context.Context, cred *driven.Credential, resource string, params url.Values) (json.RawMessage, error) {
	if resource != "boards" {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedResource, resource)
	}
	boards, err := c.boards(ctx, c.api(ctx, cred))
	if err != nil {
		return nil, err
	}
	if limit := connectors.Limit(params, len(boards), 1000); limit < len(boards) {
		boards = boards[:limit]
	}
	return connectors.Reshape(map[string]any{"boards": boards, "count": len(boards)})
}
