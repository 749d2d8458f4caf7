package calendly

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/custodia-labs/integrations-core/internal/adapters/driven/connectors"
	"github.com/custodia-labs/integrations-core/internal/core/domain"
	"github.com/custodia-labs/integrations-core/internal/core/ports/driven"
)

func TestConnector_ExchangeResolvesOwner(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"access_token":"at","refresh_token":"rt","expires_in":7200,
			"owner":"https://api.calendly.com/users/U1",
			"organization":"https://api.calendly.com/organizations/O1"
		}`)
	}))
	defer srv.Close()

	c := New(connectors.Options{})
	c.Endpoint = oauth2.Endpoint{TokenURL: srv.URL, AuthStyle: oauth2.AuthStyleInParams}

	grant, err := c.Exchange(context.Background(), &domain.ProviderApp{ClientID: "id", ClientSecret: "s"}, driven.ExchangeRequest{Code: "c"})
	require.NoError(t, err)
	assert.Equal(t, "https://api.calendly.com/users/U1", grant.Resolved["userUri"])
	assert.Equal(t, "https://api.calendly.com/organizations/O1", grant.Resolved["organizationUri"])
}

func TestConnector_FetchMetrics(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/users/me", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"resource":{"uri":"https://api.calendly.com/users/U1"}}`)
	})
	mux.HandleFunc("/scheduled_events", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "https://api.calendly.com/users/U1", r.URL.Query().Get("user"))
		assert.Equal(t, "2024-05-02T00:00:00Z", r.URL.Query().Get("min_start_time"))
		_, _ = io.WriteString(w, `{"collection":[
			{"uri":"e1","status":"active","invitees_counter":{"total":1,"active":1}},
			{"uri":"e2","status":"active","invitees_counter":{"total":0,"active":0}},
			{"uri":"e3","status":"canceled","invitees_counter":{"total":1,"active":0}},
			{"uri":"e4","status":"active","invitees_counter":{"total":2,"active":2}}
		]}`)
	})
	mux.HandleFunc("/event_types", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"collection":[{"uri":"t1","active":true},{"uri":"t2","active":false},{"uri":"t3","active":true}]}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := New(connectors.Options{RateLimit: 1000})
	c.BaseURL = srv.URL
	c.now = func() time.Time { return time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC) }

	m, err := c.FetchMetrics(context.Background(), &driven.Credential{Tokens: domain.Tokens{AccessToken: "at"}})
	require.NoError(t, err)
	assert.Equal(t, 3.0, *m.Demos)
	assert.Equal(t, 50.0, *m.LeadConversions)
	assert.Equal(t, 2.0, *m.NewFeatures)
}

func TestConnector_Resources(t *testing.T) {
	c := New(connectors.Options{})
	assert.Equal(t, []string{"event-types", "scheduled-events"}, c.Resources())
}
