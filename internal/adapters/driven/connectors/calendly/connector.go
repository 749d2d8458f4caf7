// Package calendly connects Calendly accounts and derives demo and
// conversion metrics from scheduled events.
package calendly

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"golang.org/x/oauth2"

	"github.com/custodia-labs/integrations-core/internal/adapters/driven/connectors"
	"github.com/custodia-labs/integrations-core/internal/core/domain"
	"github.com/custodia-labs/integrations-core/internal/core/ports/driven"
)

const (
	defaultBaseURL = "https://api.calendly.com"
	windowDays     = 30
)

// Endpoint is Calendly's OAuth 2.0 endpoint.
var Endpoint = oauth2.Endpoint{
	AuthURL:   "https://auth.calendly.com/oauth/authorize",
	TokenURL:  "https://auth.calendly.com/oauth/token",
	AuthStyle: oauth2.AuthStyleInParams,
}

// Ensure Connector implements the interfaces.
var (
	_ driven.Connector      = (*Connector)(nil)
	_ driven.ResourceLister = (*Connector)(nil)
)

// Connector is the Calendly connector.
type Connector struct {
	*connectors.OAuth2Flow

	BaseURL string

	resources connectors.Resources
	now       func() time.Time
}

// New creates a Calendly connector.
func New(opts connectors.Options) *Connector {
	flow := connectors.NewOAuth2Flow(connectors.NewTransport(domain.IntegrationCalendly, opts), Endpoint)
	flow.ResolveExtras = func(token *oauth2.Token) map[string]string {
		return map[string]string{
			"userUri":         connectors.ExtraString(token, "owner"),
			"organizationUri": connectors.ExtraString(token, "organization"),
		}
	}

	c := &Connector{
		OAuth2Flow: flow,
		BaseURL:    defaultBaseURL,
		now:        time.Now,
	}
	c.resources = connectors.Resources{
		"event-types":      c.listEventTypes,
		"scheduled-events": c.listScheduledEvents,
	}
	return c
}

type collection[T any] struct {
	Collection []T `json:"collection"`
	Pagination struct {
		NextPage string `json:"next_page"`
	} `json:"pagination"`
}

type eventType struct {
	URI    string `json:"uri"`
	Name   string `json:"name"`
	Active bool   `json:"active"`
	Slug   string `json:"slug"`
}

type scheduledEvent struct {
	URI             string    `json:"uri"`
	Name            string    `json:"name"`
	Status          string    `json:"status"`
	StartTime       time.Time `json:"start_time"`
	InviteesCounter struct {
		Total  int `json:"total"`
		Active int `json:"active"`
	} `json:"invitees_counter"`
}

func (c *Connector) api(cred *driven.Credential) *connectors.APIClient {
	return c.Transport().Bearer(c.BaseURL, cred.Tokens.AccessToken)
}

// userURI returns the connected user's URI, asking users/me when the
// correlation does not carry it.
func (c *Connector) userURI(ctx context.Context, cred *driven.Credential) (string, error) {
	if corr, ok := cred.Correlation.(*domain.CalendlyCorrelation); ok && corr.UserURI != "" {
		return corr.UserURI, nil
	}
	var me struct {
		Resource struct {
			URI string `json:"uri"`
		} `json:"resource"`
	}
	if err := c.api(cred).Get(ctx, "/users/me", nil, &me); err != nil {
		return "", err
	}
	if me.Resource.URI == "" {
		return "", fmt.Errorf("calendly: users/me returned no uri")
	}
	return me.Resource.URI, nil
}

func (c *Connector) scheduledEvents(ctx context.Context, cred *driven.Credential, user string, since, until time.Time, count int) ([]scheduledEvent, error) {
	var resp collection[scheduledEvent]
	query := url.Values{
		"user":           {user},
		"min_start_time": {since.UTC().Format(time.RFC3339)},
		"max_start_time": {until.UTC().Format(time.RFC3339)},
		"count":          {fmt.Sprint(count)},
	}
	if err := c.api(cred).Get(ctx, "/scheduled_events", query, &resp); err != nil {
		return nil, err
	}
	return resp.Collection, nil
}

// FetchMetrics reads the last 30 days of scheduled events and the user's
// event types.
func (c *Connector) FetchMetrics(ctx context.Context, cred *driven.Credential) (*domain.Metrics, error) {
	user, err := c.userURI(ctx, cred)
	if err != nil {
		return nil, err
	}

	now := c.now()
	events, err := c.scheduledEvents(ctx, cred, user, connectors.Since(now, windowDays), now, 100)
	if err != nil {
		return nil, err
	}

	var types collection[eventType]
	if err := c.api(cred).Get(ctx, "/event_types", url.Values{"user": {user}}, &types); err != nil {
		return nil, err
	}

	var active, withInvitees int
	for _, e := range events {
		if e.Status == "active" {
			active++
		}
		if e.InviteesCounter.Active > 0 {
			withInvitees++
		}
	}
	var activeTypes int
	for _, t := range types.Collection {
		if t.Active {
			activeTypes++
		}
	}

	m := domain.NewMetrics()
	m.Demos = domain.Count(active)
	m.LeadConversions = domain.Percent(float64(withInvitees), float64(len(events)))
	m.NewFeatures = domain.Count(activeTypes)
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

func (c *Connector) listEventTypes(ctx context.Context, cred *driven.Credential, _ url.Values) (json.RawMessage, error) {
	user, err := c.userURI(ctx, cred)
	if err != nil {
		return nil, err
	}
	var resp collection[eventType]
	if err := c.api(cred).Get(ctx, "/event_types", url.Values{"user": {user}}, &resp); err != nil {
		return nil, err
	}
	return connectors.Reshape(map[string]any{"eventTypes": resp.Collection})
}

func (c *Connector) listScheduledEvents(ctx context.Context, cred *driven.Credential, params url.Values) (json.RawMessage, error) {
	user, err := c.userURI(ctx, cred)
	if err != nil {
		return nil, err
	}
	now := c.now()
	events, err := c.scheduledEvents(ctx, cred, user, connectors.Since(now, windowDays), now, connectors.Limit(params, 50, 100))
	if err != nil {
		return nil, err
	}
	return connectors.Reshape(map[string]any{"scheduledEvents": events})
}
