package quickbooks

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/custodia-labs/integrations-core/internal/adapters/driven/connectors"
	"github.com/custodia-labs/integrations-core/internal/core/domain"
	"github.com/custodia-labs/integrations-core/internal/core/ports/driven"
)

var fixedNow = time.Date(2024, 3, 31, 12, 0, 0, 0, time.UTC)

const pnlBody = `{"Header":{"ReportName":"ProfitAndLoss"},"Rows":{"Row":[
	{"group":"Income","Summary":{"ColData":[{"value":"Total Income"},{"value":"9000.00"}]}},
	{"group":"GrossProfit","Summary":{"ColData":[{"value":"Gross Profit"},{"value":"9000.00"}]}},
	{"group":"Expenses","Summary":{"ColData":[{"value":"Total Expenses"},{"value":"15000.00"}]}},
	{"group":"NetIncome","Summary":{"ColData":[{"value":"Net Income"},{"value":"-6000.00"}]}}
]}}`

func newTestConnector(t *testing.T, handler http.Handler) *Connector {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := New(connectors.Options{RateLimit: 1000})
	c.BaseURL = srv.URL
	c.Endpoint = oauth2.Endpoint{TokenURL: srv.URL + "/tokens/bearer", AuthStyle: oauth2.AuthStyleInHeader}
	c.now = func() time.Time { return fixedNow }
	return c
}

func credential(realm string) *driven.Credential {
	return &driven.Credential{
		UserID:      "user-1",
		Tokens:      domain.Tokens{AccessToken: "qb-token"},
		Correlation: &domain.QuickBooksCorrelation{RealmID: realm},
	}
}

func TestConnector_ExchangeReadsRealmFromQuery(t *testing.T) {
	c := newTestConnector(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _, ok := r.BasicAuth()
		assert.True(t, ok)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"access_token":"at","refresh_token":"rt","expires_in":3600,"x_refresh_token_expires_in":8726400}`)
	}))

	grant, err := c.Exchange(context.Background(), &domain.ProviderApp{ClientID: "c", ClientSecret: "s"}, driven.ExchangeRequest{
		Code:  "code",
		Query: url.Values{"realmId": {"4620816365"}},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"realmId": "4620816365"}, grant.Resolved)
}

func TestConnector_FetchMetrics(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v3/company/123/reports/ProfitAndLoss", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "2024-01-01", r.URL.Query().Get("start_date"))
		assert.Equal(t, "2024-03-31", r.URL.Query().Get("end_date"))
		_, _ = io.WriteString(w, pnlBody)
	})
	mux.HandleFunc("/v3/company/123/query", func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Query().Get("query"), "AccountType = 'Bank'")
		_, _ = io.WriteString(w, `{"QueryResponse":{"Account":[{"Name":"Checking","CurrentBalance":30000},{"Name":"Savings","CurrentBalance":10000}]}}`)
	})
	c := newTestConnector(t, mux)

	m, err := c.FetchMetrics(context.Background(), credential("123"))
	require.NoError(t, err)
	assert.Equal(t, 9000.0, *m.Revenue)
	assert.Equal(t, 5000.0, *m.BurnRate)
	// 40000 cash over a 2000/month net loss.
	assert.Equal(t, 20.0, *m.Runway)
}

func TestConnector_FetchMetrics_ProfitableHasNoRunway(t *testing.T) {
	c := newTestConnector(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v3/company/123/reports/ProfitAndLoss", r.URL.Path)
		_, _ = io.WriteString(w, `{"Rows":{"Row":[
			{"group":"Income","Summary":{"ColData":[{"value":"Total Income"},{"value":"3000"}]}},
			{"group":"Expenses","Summary":{"ColData":[{"value":"Total Expenses"},{"value":"300"}]}}
		]}}`)
	}))

	m, err := c.FetchMetrics(context.Background(), credential("123"))
	require.NoError(t, err)
	assert.Equal(t, 100.0, *m.BurnRate)
	assert.Nil(t, m.Runway)
}

func TestConnector_MissingRealm(t *testing.T) {
	c := New(connectors.Options{})
	_, err := c.FetchMetrics(context.Background(), credential(""))
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestConnector_ListResource(t *testing.T) {
	c := newTestConnector(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v3/company/123/query":
			assert.Equal(t, "select * from Customer MAXRESULTS 10", r.URL.Query().Get("query"))
			_, _ = io.WriteString(w, `{"QueryResponse":{"Customer":[{"Id":"1","DisplayName":"Acme"}],"maxResults":1}}`)
		case "/v3/company/123/companyinfo/123":
			_, _ = io.WriteString(w, `{"CompanyInfo":{"CompanyName":"Sandbox Co"}}`)
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))

	out, err := c.ListResource(context.Background(), credential("123"), "customers", url.Values{"limit": {"10"}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"customers":[{"Id":"1","DisplayName":"Acme"}]}`, string(out))

	out, err = c.ListResource(context.Background(), credential("123"), "company-info", nil)
	require.NoError(t, err)
	var info map[string]map[string]string
	require.NoError(t, json.Unmarshal(out, &info))
	assert.Equal(t, "Sandbox Co", info["companyInfo"]["CompanyName"])

	_, err = c.ListResource(context.Background(), credential("123"), "bills", nil)
	assert.ErrorIs(t, err, domain.ErrUnsupportedResource)
}

func TestConnector_Reports(t *testing.T) {
	c := newTestConnector(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		switch r.URL.Path {
		case "/v3/company/123/reports/ProfitAndLoss":
			assert.Equal(t, "2024-01-01", q.Get("start_date"))
			assert.Equal(t, "2024-03-31", q.Get("end_date"))
		case "/v3/company/123/reports/BalanceSheet":
			assert.Equal(t, "2023-01-01", q.Get("start_date"))
			assert.Equal(t, "2023-12-31", q.Get("end_date"))
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		_, _ = io.WriteString(w, `{"Header":{"ReportName":"`+path.Base(r.URL.Path)+`"}}`)
	}))

	out, err := c.ListResource(context.Background(), credential("123"), "reports", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"report":{"Header":{"ReportName":"ProfitAndLoss"}}}`, string(out))

	params := url.Values{"type": {"BalanceSheet"}, "startDate": {"2023-01-01"}, "endDate": {"2023-12-31"}}
	out, err = c.ListResource(context.Background(), credential("123"), "reports", params)
	require.NoError(t, err)
	assert.JSONEq(t, `{"report":{"Header":{"ReportName":"BalanceSheet"}}}`, string(out))

	_, err = c.ListResource(context.Background(), credential("123"), "reports", url.Values{"type": {"../query"}})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = c.ListResource(context.Background(), credential("123"), "reports", url.Values{"startDate": {"last year"}})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}
