// Package monday connects monday.com accounts over the GraphQL API.
package monday

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/oauth2"

	"github.com/custodia-labs/integrations-core/internal/adapters/driven/connectors"
	"github.com/custodia-labs/integrations-core/internal/core/domain"
	"github.com/custodia-labs/integrations-core/internal/core/ports/driven"
)

const (
	defaultBaseURL = "https://api.monday.com"
	apiVersion     = "2024-01"
	boardLimit     = 25
	itemLimit      = 100
)

// Endpoint is monday.com's OAuth 2.0 endpoint.
var Endpoint = oauth2.Endpoint{
	AuthURL:   "https://auth.monday.com/oauth2/authorize",
	TokenURL:  "https://auth.monday.com/oauth2/token",
	AuthStyle: oauth2.AuthStyleInParams,
}

var scopes = []string{"me:read", "boards:read", "users:read", "account:read"}

// Ensure Connector implements the interfaces.
var (
	_ driven.Connector      = (*Connector)(nil)
	_ driven.ResourceLister = (*Connector)(nil)
)

// Connector is the monday.com connector.
type Connector struct {
	*connectors.OAuth2Flow

	BaseURL string
}

// New creates a monday.com connector.
func New(opts connectors.Options) *Connector {
	return &Connector{
		OAuth2Flow: connectors.NewOAuth2Flow(connectors.NewTransport(domain.IntegrationMonday, opts), Endpoint, scopes...),
		BaseURL:    defaultBaseURL,
	}
}

type graphQLError struct {
	Message string `json:"message"`
}

// query runs a GraphQL query. monday.com reports query errors with a 200
// status, so those are surfaced as a ProviderError here.
func (c *Connector) query(ctx context.Context, token, query string, vars map[string]any, out any) error {
	api := c.Transport().Bearer(c.BaseURL, token).SetHeader("API-Version", apiVersion)

	var resp struct {
		Data         json.RawMessage `json:"data"`
		Errors       []graphQLError  `json:"errors"`
		ErrorMessage string          `json:"error_message"`
	}
	body := map[string]any{"query": query}
	if len(vars) > 0 {
		body["variables"] = vars
	}
	if err := api.Post(ctx, "/v2", body, &resp); err != nil {
		return err
	}

	if len(resp.Errors) > 0 || resp.ErrorMessage != "" {
		msgs := make([]string, 0, len(resp.Errors)+1)
		for _, e := range resp.Errors {
			msgs = append(msgs, e.Message)
		}
		if resp.ErrorMessage != "" {
			msgs = append(msgs, resp.ErrorMessage)
		}
		return &domain.ProviderError{
			Provider:   domain.IntegrationMonday,
			StatusCode: http.StatusBadRequest,
			Body:       strings.Join(msgs, "; "),
		}
	}
	if err := json.Unmarshal(resp.Data, out); err != nil {
		return fmt.Errorf("decode monday.com data: %w", err)
	}
	return nil
}

// Exchange trades the code and resolves the account id.
func (c *Connector) Exchange(ctx context.Context, app *domain.ProviderApp, req driven.ExchangeRequest) (*driven.TokenGrant, error) {
	grant, err := c.OAuth2Flow.Exchange(ctx, app, req)
	if err != nil {
		return nil, err
	}

	var data struct {
		Me struct {
			Account struct {
				ID json.Number `json:"id"`
			} `json:"account"`
		} `json:"me"`
	}
	if err := c.query(ctx, grant.Tokens.AccessToken, `query { me { account { id } } }`, nil, &data); err != nil {
		return nil, fmt.Errorf("resolve account: %w", err)
	}
	if id := data.Me.Account.ID.String(); id != "" {
		grant.Resolved = map[string]string{"accountId": id}
	}
	return grant, nil
}

type item struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	State        string `json:"state"`
	ColumnValues []struct {
		Text string `json:"text"`
	} `json:"column_values"`
}

// done reports whether any status column reads "Done".
func (i item) done() bool {
	for _, cv := range i.ColumnValues {
		if strings.EqualFold(strings.TrimSpace(cv.Text), "done") {
			return true
		}
	}
	return false
}

type board struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	State     string `json:"state"`
	ItemsPage struct {
		Items []item `json:"items"`
	} `json:"items_page"`
}

const metricsQuery = `query ($boards: Int!, $items: Int!) {
  users(kind: all) { id enabled }
  boards(limit: $boards, state: active) {
    id name state
    items_page(limit: $items) { items { id name state column_values(types: [status]) { text } } }
  }
}`

// FetchMetrics counts enabled users and done items across active boards.
func (c *Connector) FetchMetrics(ctx context.Context, cred *driven.Credential) (*domain.Metrics, error) {
	var data struct {
		Users []struct {
			ID      json.Number `json:"id"`
			Enabled bool        `json:"enabled"`
		} `json:"users"`
		Boards []board `json:"boards"`
	}
	vars := map[string]any{"boards": boardLimit, "items": itemLimit}
	if err := c.query(ctx, cred.Tokens.AccessToken, metricsQuery, vars, &data); err != nil {
		return nil, err
	}

	var enabled int
	for _, u := range data.Users {
		if u.Enabled {
			enabled++
		}
	}
	var total, done int
	for _, b := range data.Boards {
		for _, it := range b.ItemsPage.Items {
			total++
			if it.done() {
				done++
			}
		}
	}

	m := domain.NewMetrics()
	m.MonthlyActiveUsers = domain.Count(enabled)
	m.NewFeatures = domain.Count(done)
	m.AdoptionRate = domain.Percent(float64(done), float64(total))
	return m, nil
}

// Resources lists the read passthroughs.
func (c *Connector) Resources() []string {
	return []string{"boards"}
}

// ListResource lists active boards.
func (c *Connector) ListResource(ctx context.Context, cred *driven.Credential, resource string, params url.Values) (json.RawMessage, error) {
	if resource != "boards" {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedResource, resource)
	}

	var data struct {
		Boards []struct {
			ID          string `json:"id"`
			Name        string `json:"name"`
			State       string `json:"state"`
			Description string `json:"description"`
			ItemsCount  int    `json:"items_count"`
		} `json:"boards"`
	}
	limit := connectors.Limit(params, boardLimit, itemLimit)
	query := `query ($limit: Int!) { boards(limit: $limit) { id name state description items_count } }`
	if err := c.query(ctx, cred.Tokens.AccessToken, query, map[string]any{"limit": limit}, &data); err != nil {
		return nil, err
	}
	return connectors.Reshape(map[string]any{"boards": data.Boards, "count": len(data.Boards)})
}
