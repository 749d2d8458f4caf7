package mocks

import (
	"context"
	"encoding/json"
	"net/url"
	"sync"
	"time"

	"github.com/custodia-labs/integrations-core/internal/core/domain"
	"github.com/custodia-labs/integrations-core/internal/core/ports/driven"
)

// MockConnector is a Connector whose behaviour is set per test.
type MockConnector struct {
	mu sync.Mutex

	IntegrationType domain.IntegrationType

	AuthURLFn      func(req driven.AuthURLRequest) (*driven.AuthURLResult, error)
	ExchangeFn     func(req driven.ExchangeRequest) (*driven.TokenGrant, error)
	RefreshFn      func(refreshToken string) (*driven.TokenGrant, error)
	FetchMetricsFn func(cred *driven.Credential) (*domain.Metrics, error)
	ListResourceFn func(cred *driven.Credential, resource string) (json.RawMessage, error)
	CreateFn       func(cred *driven.Credential, resource string, body json.RawMessage) (json.RawMessage, error)

	RefreshCalls  int
	FetchCalls    int
	LastCredToken string
}

// NewMockConnector returns a connector that succeeds with fixed tokens.
func NewMockConnector(t domain.IntegrationType) *MockConnector {
	return &MockConnector{IntegrationType: t}
}

func (m *MockConnector) Type() domain.IntegrationType {
	return m.IntegrationType
}

func (m *MockConnector) AuthURL(ctx context.Context, app *domain.ProviderApp, req driven.AuthURLRequest) (*driven.AuthURLResult, error) {
	if m.AuthURLFn != nil {
		return m.AuthURLFn(req)
	}
	u := url.URL{Scheme: "https", Host: "provider.example.com", Path: "/authorize"}
	q := url.Values{}
	q.Set("client_id", app.ClientID)
	q.Set("redirect_uri", req.RedirectURI)
	q.Set("response_type", "code")
	q.Set("state", req.State)
	u.RawQuery = q.Encode()
	return &driven.AuthURLResult{URL: u.String()}, nil
}

func (m *MockConnector) Exchange(ctx context.Context, app *domain.ProviderApp, req driven.ExchangeRequest) (*driven.TokenGrant, error) {
	if m.ExchangeFn != nil {
		return m.ExchangeFn(req)
	}
	expiry := time.Now().Add(time.Hour)
	return &driven.TokenGrant{
		Tokens:    domain.Tokens{AccessToken: "access-" + req.Code, RefreshToken: "refresh-" + req.Code},
		ExpiresAt: &expiry,
	}, nil
}

func (m *MockConnector) Refresh(ctx context.Context, app *domain.ProviderApp, refreshToken string) (*driven.TokenGrant, error) {
	m.mu.Lock()
	m.RefreshCalls++
	m.mu.Unlock()
	if m.RefreshFn != nil {
		return m.RefreshFn(refreshToken)
	}
	expiry := time.Now().Add(time.Hour)
	return &driven.TokenGrant{
		Tokens:    domain.Tokens{AccessToken: "refreshed-access", RefreshToken: "refreshed-refresh"},
		ExpiresAt: &expiry,
	}, nil
}

func (m *MockConnector) FetchMetrics(ctx context.Context, cred *driven.Credential) (*domain.Metrics, error) {
	m.mu.Lock()
	m.FetchCalls++
	m.LastCredToken = cred.Tokens.AccessToken
	m.mu.Unlock()
	if m.FetchMetricsFn != nil {
		return m.FetchMetricsFn(cred)
	}
	metrics := domain.NewMetrics()
	metrics.Revenue = domain.Float(1000)
	return metrics, nil
}

func (m *MockConnector) Resources() []string {
	return []string{"items"}
}

func (m *MockConnector) ListResource(ctx context.Context, cred *driven.Credential, resource string, params url.Values) (json.RawMessage, error) {
	if m.ListResourceFn != nil {
		return m.ListResourceFn(cred, resource)
	}
	if resource != "items" {
		return nil, domain.ErrUnsupportedResource
	}
	return json.RawMessage(`{"items":[]}`), nil
}

func (m *MockConnector) CreateResource(ctx context.Context, cred *driven.Credential, resource string, body json.RawMessage) (json.RawMessage, error) {
	if m.CreateFn != nil {
		return m.CreateFn(cred, resource, body)
	}
	if resource != "items" {
		return nil, domain.ErrUnsupportedResource
	}
	return body, nil
}

// MockConnectorRegistry maps providers to connectors.
type MockConnectorRegistry struct {
	Connectors map[domain.IntegrationType]driven.Connector
}

// NewMockConnectorRegistry registers the given connectors.
func NewMockConnectorRegistry(connectors ...driven.Connector) *MockConnectorRegistry {
	r := &MockConnectorRegistry{Connectors: make(map[domain.IntegrationType]driven.Connector)}
	for _, c := range connectors {
		r.Connectors[c.Type()] = c
	}
	return r
}

func (r *MockConnectorRegistry) Get(t domain.IntegrationType) (driven.Connector, error) {
	c, ok := r.Connectors[t]
	if !ok {
		return nil, domain.ErrUnsupportedProvider
	}
	return c, nil
}

// MockProviderAppStore returns configured apps for the listed providers.
type MockProviderAppStore struct {
	Apps map[domain.IntegrationType]*domain.ProviderApp
}

// NewMockProviderAppStore configures a test app for every given provider.
func NewMockProviderAppStore(types ...domain.IntegrationType) *MockProviderAppStore {
	s := &MockProviderAppStore{Apps: make(map[domain.IntegrationType]*domain.ProviderApp)}
	for _, t := range types {
		s.Apps[t] = &domain.ProviderApp{
			Type:         t,
			ClientID:     "client-" + t.Slug(),
			ClientSecret: "secret-" + t.Slug(),
			RedirectURI:  "https://app.example.com/api/v1/integrations/" + t.Slug() + "/callback",
		}
	}
	return s
}

func (s *MockProviderAppStore) Get(t domain.IntegrationType) *domain.ProviderApp {
	if app, ok := s.Apps[t]; ok {
		return app
	}
	return &domain.ProviderApp{Type: t}
}
