// Package salesforce connects Salesforce orgs and reads CRM data over SOQL.
package salesforce

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/oauth2"

	"github.com/custodia-labs/integrations-core/internal/adapters/driven/connectors"
	"github.com/custodia-labs/integrations-core/internal/core/domain"
	"github.com/custodia-labs/integrations-core/internal/core/ports/driven"
)

const (
	apiVersion = "v59.0"
	window     = "LAST_N_DAYS:90"
)

// Endpoint is the production login endpoint. Sandboxes use test.salesforce.com.
var Endpoint = oauth2.Endpoint{
	AuthURL:   "https://login.salesforce.com/services/oauth2/authorize",
	TokenURL:  "https://login.salesforce.com/services/oauth2/token",
	AuthStyle: oauth2.AuthStyleInParams,
}

// Metric queries. Each runs over the trailing 90 days.
const (
	revenueQuery   = "SELECT SUM(Amount) total FROM Opportunity WHERE IsWon = true AND CloseDate = " + window
	convertedQuery = "SELECT COUNT() FROM Lead WHERE IsConverted = true AND ConvertedDate = " + window
	contactsQuery  = "SELECT COUNT() FROM Contact WHERE CreatedDate = " + window
	demosQuery     = "SELECT COUNT() FROM Event WHERE Subject LIKE '%Demo%' AND CreatedDate = " + window
)

var listQueries = map[string]string{
	"accounts":      "SELECT Id, Name, Industry, Type, AnnualRevenue, CreatedDate FROM Account ORDER BY CreatedDate DESC LIMIT %d",
	"opportunities": "SELECT Id, Name, StageName, Amount, CloseDate, IsWon FROM Opportunity ORDER BY CloseDate DESC LIMIT %d",
}

// Ensure Connector implements the interfaces.
var (
	_ driven.Connector      = (*Connector)(nil)
	_ driven.ResourceLister = (*Connector)(nil)
)

// Connector is the Salesforce connector.
type Connector struct {
	*connectors.OAuth2Flow
}

// New creates a Salesforce connector. The flow uses PKCE.
func New(opts connectors.Options) *Connector {
	flow := connectors.NewOAuth2Flow(connectors.NewTransport(domain.IntegrationSalesforce, opts), Endpoint, "api", "refresh_token")
	flow.PKCE = true
	flow.ResolveExtras = func(token *oauth2.Token) map[string]string {
		return map[string]string{"instanceUrl": connectors.ExtraString(token, "instance_url")}
	}
	return &Connector{OAuth2Flow: flow}
}

func (c *Connector) api(cred *driven.Credential) (*connectors.APIClient, error) {
	corr, ok := cred.Correlation.(*domain.SalesforceCorrelation)
	if !ok || corr.InstanceURL == "" {
		return nil, fmt.Errorf("%w: Salesforce instance URL not found", domain.ErrInvalidInput)
	}
	base := strings.TrimSuffix(corr.InstanceURL, "/") + "/services/data/" + apiVersion
	return c.Transport().Bearer(base, cred.Tokens.AccessToken), nil
}

type queryResult struct {
	TotalSize int               `json:"totalSize"`
	Done      bool              `json:"done"`
	Records   []json.RawMessage `json:"records"`
}

func soql(ctx context.Context, api *connectors.APIClient, q string) (*queryResult, error) {
	var res queryResult
	if err := api.Get(ctx, "/query", url.Values{"q": {q}}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func count(ctx context.Context, api *connectors.APIClient, q string) (int, error) {
	res, err := soql(ctx, api, q)
	if err != nil {
		return 0, err
	}
	return res.TotalSize, nil
}

// FetchMetrics runs the four metric queries.
func (c *Connector) FetchMetrics(ctx context.Context, cred *driven.Credential) (*domain.Metrics, error) {
	api, err := c.api(cred)
	if err != nil {
		return nil, err
	}

	res, err := soql(ctx, api, revenueQuery)
	if err != nil {
		return nil, err
	}
	var revenue float64
	if len(res.Records) > 0 {
		var agg struct {
			Total *float64 `json:"total"`
		}
		if err := json.Unmarshal(res.Records[0], &agg); err != nil {
			return nil, fmt.Errorf("decode Salesforce revenue: %w", err)
		}
		if agg.Total != nil {
			revenue = *agg.Total
		}
	}

	converted, err := count(ctx, api, convertedQuery)
	if err != nil {
		return nil, err
	}
	contacts, err := count(ctx, api, contactsQuery)
	if err != nil {
		return nil, err
	}
	demos, err := count(ctx, api, demosQuery)
	if err != nil {
		return nil, err
	}

	m := domain.NewMetrics()
	m.Revenue = domain.Float(revenue)
	m.LeadConversions = domain.Count(converted)
	m.UserGrowth = domain.Count(contacts)
	m.Demos = domain.Count(demos)
	return m, nil
}

// Resources lists the read passthroughs.
func (c *Connector) Resources() []string {
	return []string{"accounts", "opportunities"}
}

// ListResource runs a fixed listing query.
func (c *Connector) ListResource(ctx context.Context, cred *driven.Credential, resource string, params url.Values) (json.RawMessage, error) {
	q, ok := listQueries[resource]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedResource, resource)
	}
	api, err := c.api(cred)
	if err != nil {
		return nil, err
	}
	res, err := soql(ctx, api, fmt.Sprintf(q, connectors.Limit(params, 50, 200)))
	if err != nil {
		return nil, err
	}
	return connectors.Reshape(map[string]any{resource: res.Records, "totalSize": res.TotalSize})
}
