package connectors

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/integrations-core/internal/core/domain"
)

func TestAPIClient_DecodesJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		assert.Equal(t, "/v1/items", r.URL.Path)
		assert.Equal(t, "2", r.URL.Query().Get("limit"))
		_, _ = io.WriteString(w, `{"items":["a","b"]}`)
	}))
	defer srv.Close()

	api := NewTransport(domain.IntegrationAsana, Options{RateLimit: 1000}).Bearer(srv.URL+"/v1/", "tok")

	var out struct {
		Items []string `json:"items"`
	}
	require.NoError(t, api.Get(context.Background(), "/items", url.Values{"limit": {"2"}}, &out))
	assert.Equal(t, []string{"a", "b"}, out.Items)
}

func TestAPIClient_PostSendsJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"name":"x"}`, string(body))
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"id":"1"}`)
	}))
	defer srv.Close()

	api := NewTransport(domain.IntegrationAsana, Options{RateLimit: 1000}).Bearer(srv.URL, "tok")
	var out map[string]string
	require.NoError(t, api.Post(context.Background(), "/things", map[string]string{"name": "x"}, &out))
	assert.Equal(t, "1", out["id"])
}

func TestAPIClient_ProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = io.WriteString(w, strings.Repeat("x", maxErrorBody+10))
	}))
	defer srv.Close()

	api := NewTransport(domain.IntegrationStripe, Options{RateLimit: 1000}).Bearer(srv.URL, "tok")
	err := api.Get(context.Background(), "/charges", nil, nil)

	var perr *domain.ProviderError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, domain.IntegrationStripe, perr.Provider)
	assert.Equal(t, http.StatusBadGateway, perr.StatusCode)
	assert.Len(t, perr.Body, maxErrorBody)
}

func TestAPIClient_RetriesTooManyRequests(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = io.WriteString(w, `{"ok":true}`)
	}))
	defer srv.Close()

	api := NewTransport(domain.IntegrationSlack, Options{RateLimit: 1000}).Bearer(srv.URL, "tok")
	var out map[string]bool
	require.NoError(t, api.Get(context.Background(), "/ping", nil, &out))
	assert.True(t, out["ok"])
	assert.Equal(t, int32(2), calls.Load())
}

func TestAPIClient_GivesUpAfterRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Retry-After", "0")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	api := NewTransport(domain.IntegrationSlack, Options{RateLimit: 1000}).Bearer(srv.URL, "tok")
	err := api.Get(context.Background(), "/ping", nil, nil)

	var perr *domain.ProviderError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, http.StatusTooManyRequests, perr.StatusCode)
	assert.Equal(t, int32(maxRetries+1), calls.Load())
}

func TestTransport_RateLimits(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{}`)
	}))
	defer srv.Close()

	api := NewTransport(domain.IntegrationHubSpot, Options{RateLimit: 10, Burst: 1}).Bearer(srv.URL, "tok")

	start := time.Now()
	for range 3 {
		require.NoError(t, api.Get(context.Background(), "/", nil, nil))
	}
	// One token up front, then two more at 100ms each.
	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
}

func TestTransport_ContextCancelsWait(t *testing.T) {
	api := NewTransport(domain.IntegrationHubSpot, Options{RateLimit: 0.001, Burst: 1}).Bearer("http://127.0.0.1:1", "tok")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := api.Get(ctx, "/", nil, nil)
	require.Error(t, err)
}

func TestRetryAfter(t *testing.T) {
	assert.Equal(t, 3*time.Second, retryAfter("3", 0))
	assert.Equal(t, maxRetryAfter, retryAfter("3600", 0))
	assert.Equal(t, 2*time.Second, retryAfter("", 1))
	assert.Equal(t, time.Second, retryAfter("Wed, 21 Oct 2015 07:28:00 GMT", 0))
}
