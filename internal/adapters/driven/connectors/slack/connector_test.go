package slack

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/custodia-labs/integrations-core/internal/adapters/driven/connectors"
	"github.com/custodia-labs/integrations-core/internal/core/domain"
	"github.com/custodia-labs/integrations-core/internal/core/ports/driven"
)

func newTestConnector(t *testing.T, handler http.Handler) *Connector {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := New(connectors.Options{RateLimit: 1000})
	c.BaseURL = srv.URL
	c.Endpoint = oauth2.Endpoint{TokenURL: srv.URL + "/oauth.v2.access", AuthStyle: oauth2.AuthStyleInParams}
	return c
}

func credential() *driven.Credential {
	return &driven.Credential{
		UserID:      "user-1",
		Tokens:      domain.Tokens{AccessToken: "xoxb-1"},
		Correlation: &domain.SlackCorrelation{TeamID: "T1"},
	}
}

func TestConnector_AuthURLCommaScopes(t *testing.T) {
	c := New(connectors.Options{})
	res, err := c.AuthURL(context.Background(), &domain.ProviderApp{ClientID: "c"}, driven.AuthURLRequest{State: "s"})
	require.NoError(t, err)

	u, err := url.Parse(res.URL)
	require.NoError(t, err)
	assert.Equal(t, "channels:read,chat:write,team:read,users:read", u.Query().Get("scope"))
}

func TestConnector_ExchangeResolvesTeam(t *testing.T) {
	c := newTestConnector(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"ok":true,"access_token":"xoxb-2","token_type":"bot","team":{"id":"T42","name":"Acme"}}`)
	}))

	grant, err := c.Exchange(context.Background(), &domain.ProviderApp{ClientID: "c", ClientSecret: "s"}, driven.ExchangeRequest{Code: "code"})
	require.NoError(t, err)
	assert.Equal(t, "xoxb-2", grant.Tokens.AccessToken)
	assert.Equal(t, "T42", grant.Resolved["teamId"])
	assert.Nil(t, grant.ExpiresAt)
}

func TestConnector_FetchMetrics(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/team.info", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"ok":true,"team":{"id":"T1","name":"Acme"}}`)
	})
	mux.HandleFunc("/users.list", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("cursor") == "" {
			_, _ = io.WriteString(w, `{"ok":true,"members":[
				{"id":"U1","name":"ana"},
				{"id":"U2","name":"bot","is_bot":true},
				{"id":"USLACKBOT","name":"slackbot"}
			],"response_metadata":{"next_cursor":"page2"}}`)
			return
		}
		_, _ = io.WriteString(w, `{"ok":true,"members":[{"id":"U3","name":"ben"},{"id":"U4","name":"gone","deleted":true}],"response_metadata":{"next_cursor":""}}`)
	})
	mux.HandleFunc("/conversations.list", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "true", r.URL.Query().Get("exclude_archived"))
		_, _ = io.WriteString(w, `{"ok":true,"channels":[{"id":"C1","num_members":10},{"id":"C2","num_members":5}]}`)
	})
	c := newTestConnector(t, mux)

	m, err := c.FetchMetrics(context.Background(), credential())
	require.NoError(t, err)
	assert.Equal(t, 2.0, *m.UserGrowth)
	assert.Equal(t, 8.0, *m.MonthlyActiveUsers)
}

func TestConnector_NotOK(t *testing.T) {
	c := newTestConnector(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"ok":false,"error":"invalid_auth"}`)
	}))

	_, err := c.FetchMetrics(context.Background(), credential())
	var perr *domain.ProviderError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, http.StatusUnauthorized, perr.StatusCode)
	assert.Contains(t, perr.Body, "invalid_auth")
}

func TestConnector_PostMessage(t *testing.T) {
	c := newTestConnector(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/chat.postMessage", r.URL.Path)
		var msg NewMessage
		require.NoError(t, json.NewDecoder(r.Body).Decode(&msg))
		assert.Equal(t, "C1", msg.Channel)
		_, _ = io.WriteString(w, `{"ok":true,"channel":"C1","ts":"1700000000.0001"}`)
	}))

	out, err := c.CreateResource(context.Background(), credential(), "messages", json.RawMessage(`{"channel":"C1","text":"hello"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"message":{"channel":"C1","ts":"1700000000.0001"}}`, string(out))

	_, err = c.CreateResource(context.Background(), credential(), "messages", json.RawMessage(`{"channel":"C1"}`))
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = c.CreateResource(context.Background(), credential(), "reactions", json.RawMessage(`{}`))
	assert.ErrorIs(t, err, domain.ErrUnsupportedResource)
}
