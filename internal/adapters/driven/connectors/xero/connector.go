// Package xero connects Xero organisations through the Accounting API.
package xero

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/custodia-labs/integrations-core/internal/adapters/driven/connectors"
	"github.com/custodia-labs/integrations-core/internal/core/domain"
	"github.com/custodia-labs/integrations-core/internal/core/ports/driven"
)

const (
	defaultBaseURL = "https://api.xero.com"
	windowDays     = 90
	tenantHeader   = "Xero-Tenant-Id"
)

// Endpoint is Xero's OAuth 2.0 endpoint. The token call uses HTTP Basic.
var Endpoint = oauth2.Endpoint{
	AuthURL:   "https://login.xero.com/identity/connect/authorize",
	TokenURL:  "https://identity.xero.com/connect/token",
	AuthStyle: oauth2.AuthStyleInHeader,
}

var scopes = []string{
	"openid", "profile", "email",
	"accounting.transactions", "accounting.reports.read", "accounting.contacts.read",
	"offline_access",
}

// Ensure Connector implements the interfaces.
var (
	_ driven.Connector      = (*Connector)(nil)
	_ driven.ResourceLister = (*Connector)(nil)
)

// Connector is the Xero connector.
type Connector struct {
	*connectors.OAuth2Flow

	BaseURL string

	resources connectors.Resources
	now       func() time.Time
}

// New creates a Xero connector.
func New(opts connectors.Options) *Connector {
	c := &Connector{
		OAuth2Flow: connectors.NewOAuth2Flow(connectors.NewTransport(domain.IntegrationXero, opts), Endpoint, scopes...),
		BaseURL:    defaultBaseURL,
		now:        time.Now,
	}
	c.resources = connectors.Resources{
		"contacts": c.lister("Contacts"),
		"invoices": c.lister("Invoices"),
	}
	return c
}

type connection struct {
	TenantID   string `json:"tenantId"`
	TenantType string `json:"tenantType"`
	TenantName string `json:"tenantName"`
}

// firstTenant returns the first organisation the token can access.
func (c *Connector) firstTenant(ctx context.Context, token string) (string, error) {
	var conns []connection
	if err := c.Transport().Bearer(c.BaseURL, token).Get(ctx, "/connections", nil, &conns); err != nil {
		return "", err
	}
	for _, conn := range conns {
		if conn.TenantType == "" || conn.TenantType == "ORGANISATION" {
			return conn.TenantID, nil
		}
	}
	return "", nil
}

// Exchange trades the code and resolves the tenant from /connections.
func (c *Connector) Exchange(ctx context.Context, app *domain.ProviderApp, req driven.ExchangeRequest) (*driven.TokenGrant, error) {
	grant, err := c.OAuth2Flow.Exchange(ctx, app, req)
	if err != nil {
		return nil, err
	}
	tenant, err := c.firstTenant(ctx, grant.Tokens.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("resolve tenant: %w", err)
	}
	if tenant != "" {
		grant.Resolved = map[string]string{"tenantId": tenant}
	}
	return grant, nil
}

// accounting returns an Accounting API client scoped to the tenant.
func (c *Connector) accounting(ctx context.Context, cred *driven.Credential) (*connectors.APIClient, error) {
	var tenant string
	if corr, ok := cred.Correlation.(*domain.XeroCorrelation); ok {
		tenant = corr.TenantID
	}
	if tenant == "" {
		var err error
		if tenant, err = c.firstTenant(ctx, cred.Tokens.AccessToken); err != nil {
			return nil, err
		}
		if tenant == "" {
			return nil, fmt.Errorf("%w: no Xero organisation connected", domain.ErrInvalidInput)
		}
	}
	return c.Transport().Bearer(c.BaseURL+"/api.xro/2.0", cred.Tokens.AccessToken).SetHeader(tenantHeader, tenant), nil
}

type reportRow struct {
	RowType string `json:"RowType"`
	Title   string `json:"Title"`
	Cells   []struct {
		Value string `json:"Value"`
	} `json:"Cells"`
	Rows []reportRow `json:"Rows"`
}

// labelled flattens summary and plain rows into label -> amount.
func labelled(rows []reportRow, out map[string]float64) {
	for _, row := range rows {
		if len(row.Rows) > 0 {
			labelled(row.Rows, out)
		}
		if len(row.Cells) < 2 {
			continue
		}
		label := strings.ToLower(strings.TrimSpace(row.Cells[0].Value))
		if v, err := strconv.ParseFloat(strings.TrimSpace(row.Cells[len(row.Cells)-1].Value), 64); err == nil {
			out[label] = v
		}
	}
}

func first(values map[string]float64, labels ...string) (float64, bool) {
	for _, l := range labels {
		if v, ok := values[l]; ok {
			return v, true
		}
	}
	return 0, false
}

// FetchMetrics summarizes the 90 day profit and loss report.
func (c *Connector) FetchMetrics(ctx context.Context, cred *driven.Credential) (*domain.Metrics, error) {
	api, err := c.accounting(ctx, cred)
	if err != nil {
		return nil, err
	}

	now := c.now()
	params := url.Values{
		"fromDate": {connectors.Since(now, windowDays).Format(time.DateOnly)},
		"toDate":   {now.Format(time.DateOnly)},
	}
	var resp struct {
		Reports []struct {
			Rows []reportRow `json:"Rows"`
		} `json:"Reports"`
	}
	if err := api.Get(ctx, "/Reports/ProfitAndLoss", params, &resp); err != nil {
		return nil, err
	}

	values := make(map[string]float64)
	for _, r := range resp.Reports {
		labelled(r.Rows, values)
	}

	revenue, _ := first(values, "total income", "total trading income", "total revenue")
	expenses, _ := first(values, "total operating expenses", "total expenses")
	net, ok := first(values, "net profit", "net income")
	if !ok {
		net = revenue - expenses
	}

	burn := expenses / (float64(windowDays) / 30)

	m := domain.NewMetrics()
	m.Revenue = domain.Float(revenue)
	m.BurnRate = domain.Float(math.Round(burn*100) / 100)
	if net < 0 && burn != 0 {
		m.Runway = domain.Float(math.Round(math.Abs(revenue/burn)*12*100) / 100)
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

// lister reads one page of an Accounting API collection.
func (c *Connector) lister(collection string) connectors.ResourceFunc {
	return func(ctx context.Context, cred *driven.Credential, params url.Values) (json.RawMessage, error) {
		api, err := c.accounting(ctx, cred)
		if err != nil {
			return nil, err
		}
		query := url.Values{"page": {"1"}}
		if p := params.Get("page"); p != "" {
			query.Set("page", p)
		}
		var resp map[string]json.RawMessage
		if err := api.Get(ctx, "/"+collection, query, &resp); err != nil {
			return nil, err
		}
		items, ok := resp[collection]
		if !ok {
			items = json.RawMessage("[]")
		}
		return connectors.Reshape(map[string]any{strings.ToLower(collection): items})
	}
}
