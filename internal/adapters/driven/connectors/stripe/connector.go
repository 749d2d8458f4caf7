// Package stripe connects Stripe accounts through Stripe Connect OAuth.
package stripe

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/oauth2"

	"github.com/custodia-labs/integrations-core/internal/adapters/driven/connectors"
	"github.com/custodia-labs/integrations-core/internal/core/domain"
	"github.com/custodia-labs/integrations-core/internal/core/ports/driven"
)

const (
	defaultBaseURL = "https://api.stripe.com/v1"
	windowDays     = 30
	pageLimit      = 100
	maxPages       = 10
)

// Endpoint is the Stripe Connect OAuth endpoint.
var Endpoint = oauth2.Endpoint{
	AuthURL:   "https://connect.stripe.com/oauth/authorize",
	TokenURL:  "https://connect.stripe.com/oauth/token",
	AuthStyle: oauth2.AuthStyleInParams,
}

// Ensure Connector implements the interfaces.
var (
	_ driven.Connector      = (*Connector)(nil)
	_ driven.ResourceLister = (*Connector)(nil)
)

// Connector is the Stripe connector.
type Connector struct {
	*connectors.OAuth2Flow

	BaseURL string

	resources connectors.Resources
	now       func() time.Time
}

// New creates a Stripe connector.
func New(opts connectors.Options) *Connector {
	flow := connectors.NewOAuth2Flow(connectors.NewTransport(domain.IntegrationStripe, opts), Endpoint, "read_write")
	flow.ResolveExtras = func(token *oauth2.Token) map[string]string {
		return map[string]string{"stripeUserId": connectors.ExtraString(token, "stripe_user_id")}
	}

	c := &Connector{OAuth2Flow: flow, BaseURL: defaultBaseURL, now: time.Now}
	c.resources = connectors.Resources{
		"charges":   c.listCharges,
		"customers": c.listCustomers,
	}
	return c
}

type list[T any] struct {
	Data    []T  `json:"data"`
	HasMore bool `json:"has_more"`
}

type charge struct {
	ID             string `json:"id"`
	Amount         int64  `json:"amount"`
	AmountRefunded int64  `json:"amount_refunded"`
	Currency       string `json:"currency"`
	Status         string `json:"status"`
	Paid           bool   `json:"paid"`
	Refunded       bool   `json:"refunded"`
	Created        int64  `json:"created"`
	Customer       string `json:"customer,omitempty"`
}

type customer struct {
	ID      string `json:"id"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	Created int64  `json:"created"`
}

type subscription struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// page walks a Stripe list with starting_after cursors. id returns the
// cursor of an element.
func page[T any](ctx context.Context, api *connectors.APIClient, path string, query url.Values, limit int, id func(T) string) ([]T, error) {
	var out []T
	for range maxPages {
		q := url.Values{}
		for k, v := range query {
			q[k] = v
		}
		q.Set("limit", strconv.Itoa(min(pageLimit, limit-len(out))))
		if len(out) > 0 {
			q.Set("starting_after", id(out[len(out)-1]))
		}

		var resp list[T]
		if err := api.Get(ctx, path, q, &resp); err != nil {
			return nil, err
		}
		out = append(out, resp.Data...)
		if !resp.HasMore || len(resp.Data) == 0 || len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (c *Connector) api(cred *driven.Credential) *connectors.APIClient {
	return c.Transport().Bearer(c.BaseURL, cred.Tokens.AccessToken)
}

// FetchMetrics reads the last 30 days of charges plus customer and active
// subscription counts. Amounts are converted from minor units.
func (c *Connector) FetchMetrics(ctx context.Context, cred *driven.Credential) (*domain.Metrics, error) {
	api := c.api(cred)
	limit := maxPages * pageLimit

	since := connectors.Since(c.now(), windowDays).Unix()
	charges, err := page(ctx, api, "/charges", url.Values{"created[gte]": {strconv.FormatInt(since, 10)}}, limit,
		func(ch charge) string { return ch.ID })
	if err != nil {
		return nil, err
	}
	customers, err := page(ctx, api, "/customers", nil, limit, func(cu customer) string { return cu.ID })
	if err != nil {
		return nil, err
	}
	subs, err := page(ctx, api, "/subscriptions", url.Values{"status": {"active"}}, limit,
		func(s subscription) string { return s.ID })
	if err != nil {
		return nil, err
	}

	var revenue int64
	var refunded int
	for _, ch := range charges {
		if ch.Paid && ch.Status == "succeeded" {
			revenue += ch.Amount - ch.AmountRefunded
		}
		if ch.Refunded {
			refunded++
		}
	}

	m := domain.NewMetrics()
	m.Revenue = domain.Float(float64(revenue) / 100)
	m.UserGrowth = domain.Count(len(customers))
	m.MonthlyActiveUsers = domain.Count(len(subs))
	m.ChurnRate = domain.Percent(float64(refunded), float64(len(charges)))
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

func (c *Connector) listCharges(ctx context.Context, cred *driven.Credential, params url.Values) (json.RawMessage, error) {
	charges, err := page(ctx, c.api(cred), "/charges", nil, connectors.Limit(params, 25, pageLimit),
		func(ch charge) string { return ch.ID })
	if err != nil {
		return nil, err
	}
	return connectors.Reshape(map[string]any{"charges": charges})
}

func (c *Connector) listCustomers(ctx context.Context, cred *driven.Credential, params url.Values) (json.RawMessage, error) {
	customers, err := page(ctx, c.api(cred), "/customers", nil, connectors.Limit(params, 25, pageLimit),
		func(cu customer) string { return cu.ID })
	if err != nil {
		return nil, err
	}
	return connectors.Reshape(map[string]any{"customers": customers})
}

