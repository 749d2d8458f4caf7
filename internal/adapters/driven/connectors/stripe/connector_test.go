package stripe

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
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

func newTestConnector(t *testing.T, handler http.Handler) *Connector {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := New(connectors.Options{RateLimit: 1000})
	c.BaseURL = srv.URL
	c.Endpoint = oauth2.Endpoint{TokenURL: srv.URL + "/oauth/token", AuthStyle: oauth2.AuthStyleInParams}
	c.now = func() time.Time { return fixedNow }
	return c
}

func credential() *driven.Credential {
	return &driven.Credential{
		UserID:      "user-1",
		Tokens:      domain.Tokens{AccessToken: "sk_acct"},
		Correlation: &domain.StripeCorrelation{StripeUserID: "acct_1"},
	}
}

func TestConnector_AuthURL(t *testing.T) {
	c := New(connectors.Options{})
	res, err := c.AuthURL(context.Background(), &domain.ProviderApp{ClientID: "ca_1"}, driven.AuthURLRequest{State: "s"})
	require.NoError(t, err)

	u, err := url.Parse(res.URL)
	require.NoError(t, err)
	assert.Equal(t, "connect.stripe.com", u.Host)
	assert.Equal(t, "read_write", u.Query().Get("scope"))
}

func TestConnector_ExchangeResolvesAccount(t *testing.T) {
	c := newTestConnector(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"access_token":"sk_acct","refresh_token":"rt_1","token_type":"bearer","stripe_user_id":"acct_9","livemode":false}`)
	}))

	grant, err := c.Exchange(context.Background(), &domain.ProviderApp{ClientID: "ca", ClientSecret: "sk"}, driven.ExchangeRequest{Code: "ac_1"})
	require.NoError(t, err)
	assert.Equal(t, "acct_9", grant.Resolved["stripeUserId"])
}

func TestConnector_FetchMetrics(t *testing.T) {
	since := strconv.FormatInt(fixedNow.AddDate(0, 0, -30).Unix(), 10)

	mux := http.NewServeMux()
	mux.HandleFunc("/charges", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, since, r.URL.Query().Get("created[gte]"))
		if r.URL.Query().Get("starting_after") == "" {
			_, _ = io.WriteString(w, `{"object":"list","has_more":true,"data":[
				{"id":"ch_1","amount":10000,"status":"succeeded","paid":true},
				{"id":"ch_2","amount":5000,"amount_refunded":5000,"status":"succeeded","paid":true,"refunded":true}
			]}`)
			return
		}
		assert.Equal(t, "ch_2", r.URL.Query().Get("starting_after"))
		_, _ = io.WriteString(w, `{"object":"list","has_more":false,"data":[
			{"id":"ch_3","amount":2550,"status":"succeeded","paid":true},
			{"id":"ch_4","amount":999,"status":"failed","paid":false}
		]}`)
	})
	mux.HandleFunc("/customers", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"object":"list","has_more":false,"data":[{"id":"cus_1"},{"id":"cus_2"},{"id":"cus_3"}]}`)
	})
	mux.HandleFunc("/subscriptions", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "active", r.URL.Query().Get("status"))
		_, _ = io.WriteString(w, `{"object":"list","has_more":false,"data":[{"id":"sub_1","status":"active"}]}`)
	})
	c := newTestConnector(t, mux)

	m, err := c.FetchMetrics(context.Background(), credential())
	require.NoError(t, err)
	assert.Equal(t, 125.5, *m.Revenue)
	assert.Equal(t, 3.0, *m.UserGrowth)
	assert.Equal(t, 1.0, *m.MonthlyActiveUsers)
	assert.Equal(t, 25.0, *m.ChurnRate)
}

func TestConnector_ListCustomers(t *testing.T) {
	c := newTestConnector(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/customers", r.URL.Path)
		assert.Equal(t, "2", r.URL.Query().Get("limit"))
		_, _ = io.WriteString(w, `{"object":"list","has_more":true,"data":[{"id":"cus_1","email":"a@b.co"},{"id":"cus_2"}]}`)
	}))

	out, err := c.ListResource(context.Background(), credential(), "customers", url.Values{"limit": {"2"}})
	require.NoError(t, err)
	assert.Contains(t, string(out), `"id":"cus_1"`)

	_, err = c.ListResource(context.Background(), credential(), "payouts", nil)
	assert.ErrorIs(t, err, domain.ErrUnsupportedResource)
}
