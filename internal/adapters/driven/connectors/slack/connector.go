// Package slack connects Slack workspaces through the Web API.
package slack

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"

	"golang.org/x/oauth2"

	"github.com/custodia-labs/integrations-core/internal/adapters/driven/connectors"
	"github.com/custodia-labs/integrations-core/internal/core/domain"
	"github.com/custodia-labs/integrations-core/internal/core/ports/driven"
)

const (
	defaultBaseURL = "https://slack.com/api"
	pageLimit      = 200
	maxPages       = 10
)

// Endpoint is Slack's OAuth v2 endpoint.
var Endpoint = oauth2.Endpoint{
	AuthURL:   "https://slack.com/oauth/v2/authorize",
	TokenURL:  "https://slack.com/api/oauth.v2.access",
	AuthStyle: oauth2.AuthStyleInParams,
}

// Slack expects bot scopes comma separated in a single parameter.
const botScopes = "channels:read,chat:write,team:read,users:read"

// Ensure Connector implements the interfaces.
var (
	_ driven.Connector       = (*Connector)(nil)
	_ driven.ResourceLister  = (*Connector)(nil)
	_ driven.ResourceCreator = (*Connector)(nil)
)

// Connector is the Slack connector.
type Connector struct {
	*connectors.OAuth2Flow

	BaseURL string

	resources connectors.Resources
}

// New creates a Slack connector.
func New(opts connectors.Options) *Connector {
	flow := connectors.NewOAuth2Flow(connectors.NewTransport(domain.IntegrationSlack, opts), Endpoint, botScopes)
	flow.ResolveExtras = func(token *oauth2.Token) map[string]string {
		return map[string]string{"teamId": connectors.ExtraObjectString(token, "team", "id")}
	}

	c := &Connector{OAuth2Flow: flow, BaseURL: defaultBaseURL}
	c.resources = connectors.Resources{
		"channels": c.listChannels,
		"users":    c.listUsers,
	}
	return c
}

type envelope struct {
	OK       bool   `json:"ok"`
	Error    string `json:"error"`
	Metadata struct {
		NextCursor string `json:"next_cursor"`
	} `json:"response_metadata"`
}

// call invokes a Web API method. Slack reports failures as ok=false with a
// 200 status; those become a ProviderError.
func (c *Connector) call(ctx context.Context, cred *driven.Credential, method string, query url.Values, body any, out any) (string, error) {
	api := c.Transport().Bearer(c.BaseURL, cred.Tokens.AccessToken)

	var (
		raw json.RawMessage
		err error
	)
	if body != nil {
		raw, err = api.Raw(ctx, http.MethodPost, "/"+method, query, body)
	} else {
		raw, err = api.Raw(ctx, http.MethodGet, "/"+method, query, nil)
	}
	if err != nil {
		return "", err
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", fmt.Errorf("decode slack %s: %w", method, err)
	}
	if !env.OK {
		status := http.StatusBadRequest
		if env.Error == "invalid_auth" || env.Error == "token_revoked" || env.Error == "not_authed" {
			status = http.StatusUnauthorized
		}
		return "", &domain.ProviderError{Provider: domain.IntegrationSlack, StatusCode: status, Body: string(raw)}
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return "", fmt.Errorf("decode slack %s: %w", method, err)
		}
	}
	return env.Metadata.NextCursor, nil
}

type member struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	RealName string `json:"real_name"`
	Deleted  bool   `json:"deleted"`
	IsBot    bool   `json:"is_bot"`
}

type channel struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	IsPrivate  bool   `json:"is_private"`
	IsArchived bool   `json:"is_archived"`
	NumMembers int    `json:"num_members"`
}

// users pages through users.list, keeping active humans.
func (c *Connector) users(ctx context.Context, cred *driven.Credential, limit int) ([]member, error) {
	var (
		out    []member
		cursor string
	)
	for range maxPages {
		query := url.Values{"limit": {strconv.Itoa(pageLimit)}}
		if cursor != "" {
			query.Set("cursor", cursor)
		}
		var resp struct {
			Members []member `json:"members"`
		}
		next, err := c.call(ctx, cred, "users.list", query, nil, &resp)
		if err != nil {
			return nil, err
		}
		for _, m := range resp.Members {
			if !m.Deleted && !m.IsBot && m.ID != "USLACKBOT" {
				out = append(out, m)
			}
		}
		if next == "" || len(out) >= limit {
			break
		}
		cursor = next
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (c *Connector) channels(ctx context.Context, cred *driven.Credential, limit int) ([]channel, error) {
	var (
		out    []channel
		cursor string
	)
	for range maxPages {
		query := url.Values{
			"limit":            {strconv.Itoa(pageLimit)},
			"types":            {"public_channel"},
			"exclude_archived": {"true"},
		}
		if cursor != "" {
			query.Set("cursor", cursor)
		}
		var resp struct {
			Channels []channel `json:"channels"`
		}
		next, err := c.call(ctx, cred, "conversations.list", query, nil, &resp)
		if err != nil {
			return nil, err
		}
		out = append(out, resp.Channels...)
		if next == "" || len(out) >= limit {
			break
		}
		cursor = next
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// FetchMetrics counts workspace members and the average channel size.
func (c *Connector) FetchMetrics(ctx context.Context, cred *driven.Credential) (*domain.Metrics, error) {
	if _, err := c.call(ctx, cred, "team.info", nil, nil, nil); err != nil {
		return nil, err
	}

	users, err := c.users(ctx, cred, maxPages*pageLimit)
	if err != nil {
		return nil, err
	}
	channels, err := c.channels(ctx, cred, maxPages*pageLimit)
	if err != nil {
		return nil, err
	}

	m := domain.NewMetrics()
	m.UserGrowth = domain.Count(len(users))
	if len(channels) > 0 {
		var total int
		for _, ch := range channels {
			total += ch.NumMembers
		}
		m.MonthlyActiveUsers = domain.Float(math.Round(float64(total) / float64(len(channels))))
	}
	return m, nil
}

// Resources lists the read passthroughs.
func (c *Connector) Resources() []string {
	return c.resources.Names()
}

// ListResource reads a named resource.
func (c *Connector) ListResource(ctx context.Context, cred *driven.Credential, resource string, params url.Values) (json.RawMessage, error) {
	return c.resources.List(ctx, cred, resource, params)
}

func (c *Connector) listChannels(ctx context.Context, cred *driven.Credential, params url.Values) (json.RawMessage, error) {
	channels, err := c.channels(ctx, cred, connectors.Limit(params, 100, 1000))
	if err != nil {
		return nil, err
	}
	return connectors.Reshape(map[string]any{"channels": channels})
}

func (c *Connector) listUsers(ctx context.Context, cred *driven.Credential, params url.Values) (json.RawMessage, error) {
	users, err := c.users(ctx, cred, connectors.Limit(params, 100, 1000))
	if err != nil {
		return nil, err
	}
	return connectors.Reshape(map[string]any{"users": users})
}

// NewMessage is the body accepted by the "messages" create resource.
type NewMessage struct {
	Channel  string `json:"channel"`
	Text     string `json:"text"`
	ThreadTS string `json:"thread_ts,omitempty"`
}

// CreateResource posts a message.
func (c *Connector) CreateResource(ctx context.Context, cred *driven.Credential, resource string, body json.RawMessage) (json.RawMessage, error) {
	if resource != "messages" {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedResource, resource)
	}

	var msg NewMessage
	if err := connectors.DecodeBody(body, &msg); err != nil {
		return nil, err
	}
	if msg.Channel == "" || msg.Text == "" {
		return nil, fmt.Errorf("%w: channel and text are required", domain.ErrInvalidInput)
	}

	var resp struct {
		Channel string `json:"channel"`
		TS      string `json:"ts"`
	}
	if _, err := c.call(ctx, cred, "chat.postMessage", nil, msg, &resp); err != nil {
		return nil, err
	}
	return connectors.Reshape(map[string]any{"message": resp})
}
