// Package quickbooks connects QuickBooks Online companies.
package quickbooks

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
	defaultBaseURL = "https://quickbooks.api.intuit.com"
	minorVersion   = "65"
	windowDays     = 90
	maxResults     = 1000
)

// Endpoint is Intuit's OAuth 2.0 endpoint.
var Endpoint = oauth2.Endpoint{
	AuthURL:   "https://appcenter.intuit.com/connect/oauth2",
	TokenURL:  "https://oauth.platform.intuit.com/oauth2/v1/tokens/bearer",
	AuthStyle: oauth2.AuthStyleInHeader,
}

// entities maps query resources to QuickBooks entity names.
var entities = map[string]string{
	"accounts":  "Account",
	"customers": "Customer",
	"invoices":  "Invoice",
	"payments":  "Payment",
}

// reports lists the report types the "reports" resource may request.
var reports = map[string]bool{
	"AgedPayables":    true,
	"AgedReceivables": true,
	"BalanceSheet":    true,
	"CashFlow":        true,
	"GeneralLedger":   true,
	"ProfitAndLoss":   true,
	"TrialBalance":    true,
}

// Ensure Connector implements the interfaces.
var (
	_ driven.Connector      = (*Connector)(nil)
	_ driven.ResourceLister = (*Connector)(nil)
)

// Connector is the QuickBooks Online connector.
type Connector struct {
	*connectors.OAuth2Flow

	// BaseURL is the accounting API host, or the sandbox host in development.
	BaseURL string

	now func() time.Time
}

// New creates a QuickBooks connector.
func New(opts connectors.Options) *Connector {
	return &Connector{
		OAuth2Flow: connectors.NewOAuth2Flow(connectors.NewTransport(domain.IntegrationQuickBooks, opts), Endpoint, "com.intuit.quickbooks.accounting"),
		BaseURL:    defaultBaseURL,
		now:        time.Now,
	}
}

// Exchange trades the code. The company (realm) id arrives as a callback
// query parameter, not in the token response.
func (c *Connector) Exchange(ctx context.Context, app *domain.ProviderApp, req driven.ExchangeRequest) (*driven.TokenGrant, error) {
	grant, err := c.OAuth2Flow.Exchange(ctx, app, req)
	if err != nil {
		return nil, err
	}
	if realm := req.Query.Get("realmId"); realm != "" {
		grant.Resolved = map[string]string{"realmId": realm}
	}
	return grant, nil
}

// company returns a client rooted at the connected company.
func (c *Connector) company(cred *driven.Credential) (*connectors.APIClient, string, error) {
	corr, ok := cred.Correlation.(*domain.QuickBooksCorrelation)
	if !ok || corr.RealmID == "" {
		return nil, "", fmt.Errorf("%w: QuickBooks realm ID not found", domain.ErrInvalidInput)
	}
	base := c.BaseURL + "/v3/company/" + url.PathEscape(corr.RealmID)
	return c.Transport().Bearer(base, cred.Tokens.AccessToken), corr.RealmID, nil
}

// report is the subset of a QuickBooks report body used for summaries.
type report struct {
	Rows struct {
		Row []reportRow `json:"Row"`
	} `json:"Rows"`
}

type reportRow struct {
	Group   string `json:"group"`
	Summary struct {
		ColData []struct {
			Value string `json:"value"`
		} `json:"ColData"`
	} `json:"Summary"`
}

// totals returns the summary amount of each top-level group.
func (r *report) totals() map[string]float64 {
	out := make(map[string]float64)
	for _, row := range r.Rows.Row {
		cols := row.Summary.ColData
		if row.Group == "" || len(cols) < 2 {
			continue
		}
		if v, err := strconv.ParseFloat(strings.TrimSpace(cols[len(cols)-1].Value), 64); err == nil {
			out[row.Group] = v
		}
	}
	return out
}

func (c *Connector) query(ctx context.Context, api *connectors.APIClient, q string) (map[string]json.RawMessage, error) {
	var resp struct {
		QueryResponse map[string]json.RawMessage `json:"QueryResponse"`
	}
	params := url.Values{"query": {q}, "minorversion": {minorVersion}}
	if err := api.Get(ctx, "/query", params, &resp); err != nil {
		return nil, err
	}
	return resp.QueryResponse, nil
}

// cashBalance sums the current balance of bank accounts.
func (c *Connector) cashBalance(ctx context.Context, api *connectors.APIClient) (float64, error) {
	resp, err := c.query(ctx, api, "select * from Account where AccountType = 'Bank'")
	if err != nil {
		return 0, err
	}
	var accounts []struct {
		CurrentBalance float64 `json:"CurrentBalance"`
	}
	if raw, ok := resp["Account"]; ok {
		if err := json.Unmarshal(raw, &accounts); err != nil {
			return 0, fmt.Errorf("decode QuickBooks accounts: %w", err)
		}
	}
	var cash float64
	for _, a := range accounts {
		cash += a.CurrentBalance
	}
	return cash, nil
}

// FetchMetrics summarizes the 90 day profit and loss report. Runway is set
// only while the company is losing money.
func (c *Connector) FetchMetrics(ctx context.Context, cred *driven.Credential) (*domain.Metrics, error) {
	api, _, err := c.company(cred)
	if err != nil {
		return nil, err
	}

	now := c.now()
	params := url.Values{
		"start_date":        {connectors.Since(now, windowDays).Format(time.DateOnly)},
		"end_date":          {now.Format(time.DateOnly)},
		"accounting_method": {"Accrual"},
		"minorversion":      {minorVersion},
	}
	var pnl report
	if err := api.Get(ctx, "/reports/ProfitAndLoss", params, &pnl); err != nil {
		return nil, err
	}
	totals := pnl.totals()

	months := float64(windowDays) / 30
	income, expenses := totals["Income"], totals["Expenses"]
	net, ok := totals["NetIncome"]
	if !ok {
		net = income - expenses
	}

	m := domain.NewMetrics()
	m.Revenue = domain.Float(income)
	m.BurnRate = domain.Float(round(expenses / months))

	if net < 0 {
		cash, err := c.cashBalance(ctx, api)
		if err != nil {
			return nil, err
		}
		m.Runway = domain.Float(round(cash / (-net / months)))
	}
	return m, nil
}

func round(v float64) float64 {
	return math.Round(v*100) / 100
}

// Resources lists the read passthroughs.
func (c *Connector) Resources() []string {
	return []string{"accounts", "company-info", "customers", "invoices", "payments", "reports"}
}

// ListResource runs an entity query, generates a report or reads the company
// profile.
func (c *Connector) ListResource(ctx context.Context, cred *driven.Credential, resource string, params url.Values) (json.RawMessage, error) {
	if resource == "reports" {
		return c.report(ctx, cred, params)
	}
	if resource == "company-info" {
		api, realm, err := c.company(cred)
		if err != nil {
			return nil, err
		}
		var info struct {
			CompanyInfo json.RawMessage `json:"CompanyInfo"`
		}
		if err := api.Get(ctx, "/companyinfo/"+url.PathEscape(realm), url.Values{"minorversion": {minorVersion}}, &info); err != nil {
			return nil, err
		}
		return connectors.Reshape(map[string]any{"companyInfo": info.CompanyInfo})
	}

	entity, ok := entities[resource]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedResource, resource)
	}
	api, _, err := c.company(cred)
	if err != nil {
		return nil, err
	}
	limit := connectors.Limit(params, maxResults, maxResults)
	resp, err := c.query(ctx, api, fmt.Sprintf("select * from %s MAXRESULTS %d", entity, limit))
	if err != nil {
		return nil, err
	}
	rows, ok := resp[entity]
	if !ok {
		rows = json.RawMessage("[]")
	}
	return connectors.Reshape(map[string]any{resource: rows})
}

// report generates one report. The type parameter defaults to ProfitAndLoss
// and the period to the trailing 90 days.
func (c *Connector) report(ctx context.Context, cred *driven.Credential, params url.Values) (json.RawMessage, error) {
	kind := params.Get("type")
	if kind == "" {
		kind = "ProfitAndLoss"
	}
	if !reports[kind] {
		return nil, fmt.Errorf("%w: unknown report type %q", domain.ErrInvalidInput, kind)
	}

	now := c.now()
	query := url.Values{
		"start_date":   {connectors.Since(now, windowDays).Format(time.DateOnly)},
		"end_date":     {now.Format(time.DateOnly)},
		"minorversion": {minorVersion},
	}
	for param, key := range map[string]string{"startDate": "start_date", "endDate": "end_date"} {
		v := params.Get(param)
		if v == "" {
			continue
		}
		if _, err := time.Parse(time.DateOnly, v); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", domain.ErrInvalidInput, param, err)
		}
		query.Set(key, v)
	}
	if method := params.Get("accountingMethod"); method != "" {
		query.Set("accounting_method", method)
	}

	api, _, err := c.company(cred)
	if err != nil {
		return nil, err
	}
	var out json.RawMessage
	if err := api.Get(ctx, "/reports/"+kind, query, &out); err != nil {
		return nil, err
	}
	return connectors.Reshape(map[string]any{"report": out})
}
