// Package zoho connects Zoho CRM organisations.
package zoho

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/oauth2"

	"github.com/custodia-labs/integrations-core/internal/adapters/driven/connectors"
	"github.com/custodia-labs/integrations-core/internal/core/domain"
	"github.com/custodia-labs/integrations-core/internal/core/ports/driven"
)

const (
	// DefaultAPIDomain is used when the token response carries no api_domain.
	DefaultAPIDomain = "https://www.zohoapis.com"
	perPage          = 200
	maxPages         = 5
)

// Endpoint is the US accounts server. Other data centres return their own
// api_domain in the token response.
var Endpoint = oauth2.Endpoint{
	AuthURL:   "https://accounts.zoho.com/oauth/v2/auth",
	TokenURL:  "https://accounts.zoho.com/oauth/v2/token",
	AuthStyle: oauth2.AuthStyleInParams,
}

var modules = map[string]string{
	"deals": "Deals",
	"leads": "Leads",
}

// Ensure Connector implements the interfaces.
var (
	_ driven.Connector      = (*Connector)(nil)
	_ driven.ResourceLister = (*Connector)(nil)
)

// Connector is the Zoho CRM connector.
type Connector struct {
	*connectors.OAuth2Flow
}

// New creates a Zoho CRM connector.
func New(opts connectors.Options) *Connector {
	flow := connectors.NewOAuth2Flow(connectors.NewTransport(domain.IntegrationZoho, opts), Endpoint, "ZohoCRM.modules.ALL")
	flow.AuthParams = map[string]string{"access_type": "offline", "prompt": "consent"}
	flow.ResolveExtras = func(token *oauth2.Token) map[string]string {
		return map[string]string{"apiDomain": connectors.ExtraString(token, "api_domain")}
	}
	return &Connector{OAuth2Flow: flow}
}

// crm returns a CRM v2 client. Zoho uses its own authorization scheme.
func (c *Connector) crm(cred *driven.Credential) *connectors.APIClient {
	domainURL := DefaultAPIDomain
	if corr, ok := cred.Correlation.(*domain.ZohoCorrelation); ok && corr.APIDomain != "" {
		domainURL = strings.TrimSuffix(corr.APIDomain, "/")
	}
	return c.Transport().API(c.Transport().HTTPClient(), domainURL+"/crm/v2").
		SetHeader("Authorization", "Zoho-oauthtoken "+cred.Tokens.AccessToken)
}

type records struct {
	Data []map[string]any `json:"data"`
	Info struct {
		MoreRecords bool `json:"more_records"`
	} `json:"info"`
}

// all pages through a module list or search. Zoho answers an empty search
// with 204 and no body.
func all(ctx context.Context, api *connectors.APIClient, path string, query url.Values) ([]map[string]any, error) {
	var out []map[string]any
	for page := 1; page <= maxPages; page++ {
		q := url.Values{"per_page": {strconv.Itoa(perPage)}, "page": {strconv.Itoa(page)}}
		for k, v := range query {
			q[k] = v
		}
		var resp records
		if err := api.Get(ctx, path, q, &resp); err != nil {
			return nil, err
		}
		out = append(out, resp.Data...)
		if !resp.Info.MoreRecords {
			break
		}
	}
	return out, nil
}

func amount(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case string:
		f, _ := strconv.ParseFloat(n, 64)
		return f
	}
	return 0
}

// FetchMetrics counts converted leads and demo tasks, and sums closed-won
// deal amounts.
func (c *Connector) FetchMetrics(ctx context.Context, cred *driven.Credential) (*domain.Metrics, error) {
	api := c.crm(cred)

	leads, err := all(ctx, api, "/Leads", url.Values{"converted": {"true"}})
	if err != nil {
		return nil, err
	}
	deals, err := all(ctx, api, "/Deals/search", url.Values{"criteria": {"(Stage:equals:Closed Won)"}})
	if err != nil {
		return nil, err
	}
	tasks, err := all(ctx, api, "/Tasks/search", url.Values{"criteria": {"(Subject:starts_with:Demo)"}})
	if err != nil {
		return nil, err
	}

	var revenue float64
	for _, d := range deals {
		revenue += amount(d["Amount"])
	}

	m := domain.NewMetrics()
	m.LeadConversions = domain.Count(len(leads))
	m.Revenue = domain.Float(revenue)
	m.Demos = domain.Count(len(tasks))
	return m, nil
}

// Resources lists the read passthroughs.
func (c *Connector) Resources() []string {
	return []string{"deals", "leads"}
}

// ListResource reads one page of a CRM module.
func (c *Connector) ListResource(ctx context.Context, cred *driven.Credential, resource string, params url.Values) (json.RawMessage, error) {
	module, ok := modules[resource]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedResource, resource)
	}
	query := url.Values{"per_page": {strconv.Itoa(connectors.Limit(params, 50, perPage))}}
	if p := params.Get("page"); p != "" {
		query.Set("page", p)
	}
	var resp records
	if err := c.crm(cred).Get(ctx, "/"+module, query, &resp); err != nil {
		return nil, err
	}
	if resp.Data == nil {
		resp.Data = []map[string]any{}
	}
	return connectors.Reshape(map[string]any{resource: resp.Data, "moreRecords": resp.Info.MoreRecords})
}
