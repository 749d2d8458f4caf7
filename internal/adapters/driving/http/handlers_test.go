package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/swaggo/swag"

	"github.com/custodia-labs/integrations-core/internal/core/domain"
	"github.com/custodia-labs/integrations-core/internal/core/ports/driven"
	"github.com/custodia-labs/integrations-core/internal/core/ports/driving"
	"github.com/custodia-labs/integrations-core/internal/worker"
)

// Mock services for testing

type stubVerifier struct {
	sessions map[string]*domain.AuthContext
}

func (v *stubVerifier) Verify(_ context.Context, token string) (*domain.AuthContext, error) {
	if token == "expired" {
		return nil, domain.ErrTokenExpired
	}
	if a, ok := v.sessions[token]; ok {
		return a, nil
	}
	return nil, domain.ErrTokenInvalid
}

type mockConnectService struct {
	authorizeFn func(ctx context.Context, req driving.AuthorizeRequest) (*driving.AuthorizeResponse, error)
	callbackFn  func(ctx context.Context, req driving.CallbackRequest) (*driving.CallbackResponse, error)
}

func (m *mockConnectService) Authorize(ctx context.Context, req driving.AuthorizeRequest) (*driving.AuthorizeResponse, error) {
	if m.authorizeFn != nil {
		return m.authorizeFn(ctx, req)
	}
	return nil, errors.New("not implemented")
}

func (m *mockConnectService) Callback(ctx context.Context, req driving.CallbackRequest) (*driving.CallbackResponse, error) {
	if m.callbackFn != nil {
		return m.callbackFn(ctx, req)
	}
	return nil, errors.New("not implemented")
}

type mockIntegrationService struct {
	statusFn     func(ctx context.Context, userID string, t domain.IntegrationType) (*domain.ConnectionStatus, error)
	dataFn       func(ctx context.Context, userID string, t domain.IntegrationType) (*driving.IntegrationDataResponse, error)
	deleteFn     func(ctx context.Context, userID string, t domain.IntegrationType) (int64, error)
	deleteByIDFn func(ctx context.Context, userID, id string) error
	connectedFn  func(ctx context.Context, userID string) ([]domain.ConnectedIntegration, error)
	trailsFn     func(ctx context.Context, userID string) ([]domain.TypedDatatrail, error)
	listFn       func(ctx context.Context, userID string, t domain.IntegrationType, resource string, params url.Values) (json.RawMessage, error)
	createFn     func(ctx context.Context, userID string, t domain.IntegrationType, resource string, body json.RawMessage) (json.RawMessage, error)
}

func (m *mockIntegrationService) Status(ctx context.Context, userID string, t domain.IntegrationType) (*domain.ConnectionStatus, error) {
	if m.statusFn != nil {
		return m.statusFn(ctx, userID, t)
	}
	return nil, domain.ErrNotFound
}

func (m *mockIntegrationService) Data(ctx context.Context, userID string, t domain.IntegrationType) (*driving.IntegrationDataResponse, error) {
	if m.dataFn != nil {
		return m.dataFn(ctx, userID, t)
	}
	return nil, domain.ErrNotFound
}

func (m *mockIntegrationService) Delete(ctx context.Context, userID string, t domain.IntegrationType) (int64, error) {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, userID, t)
	}
	return 0, domain.ErrNotFound
}

func (m *mockIntegrationService) DeleteByID(ctx context.Context, userID, id string) error {
	if m.deleteByIDFn != nil {
		return m.deleteByIDFn(ctx, userID, id)
	}
	return domain.ErrNotFound
}

func (m *mockIntegrationService) ListConnected(ctx context.Context, userID string) ([]domain.ConnectedIntegration, error) {
	if m.connectedFn != nil {
		return m.connectedFn(ctx, userID)
	}
	return nil, nil
}

func (m *mockIntegrationService) Datatrails(ctx context.Context, userID string) ([]domain.TypedDatatrail, error) {
	if m.trailsFn != nil {
		return m.trailsFn(ctx, userID)
	}
	return nil, nil
}

func (m *mockIntegrationService) ListResource(ctx context.Context, userID string, t domain.IntegrationType, resource string, params url.Values) (json.RawMessage, error) {
	if m.listFn != nil {
		return m.listFn(ctx, userID, t, resource, params)
	}
	return nil, errors.New("not implemented")
}

func (m *mockIntegrationService) CreateResource(ctx context.Context, userID string, t domain.IntegrationType, resource string, body json.RawMessage) (json.RawMessage, error) {
	if m.createFn != nil {
		return m.createFn(ctx, userID, t, resource, body)
	}
	return nil, errors.New("not implemented")
}

type mockMetricsService struct {
	scheduled []domain.IntegrationType
}

func (m *mockMetricsService) Schedule(_ context.Context, _ string, t domain.IntegrationType) error {
	m.scheduled = append(m.scheduled, t)
	return nil
}

func (m *mockMetricsService) FetchAndStore(context.Context, string, domain.IntegrationType) error {
	return nil
}

func (m *mockMetricsService) FetchAttempt(context.Context, *domain.Task) error {
	return nil
}

type mockProviderService struct{}

func (mockProviderService) List(context.Context) ([]*driving.ProviderListItem, error) {
	return []*driving.ProviderListItem{
		{ProviderInfo: domain.ProviderInfo{Type: domain.IntegrationXero}},
	}, nil
}

func (mockProviderService) Get(_ context.Context, t domain.IntegrationType) (*driving.ProviderListItem, error) {
	return &driving.ProviderListItem{ProviderInfo: domain.ProviderInfo{Type: t}}, nil
}

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("connection refused") }

type okPinger struct{}

func (okPinger) Ping(context.Context) error { return nil }

const testToken = "session-token"

type testEnv struct {
	connect      *mockConnectService
	integrations *mockIntegrationService
	metrics      *mockMetricsService
	cfg          Config
	deps         Deps
}

func newTestEnv() *testEnv {
	return &testEnv{
		connect:      &mockConnectService{},
		integrations: &mockIntegrationService{},
		metrics:      &mockMetricsService{},
		cfg:          DefaultConfig(),
	}
}

func (e *testEnv) handler() http.Handler {
	deps := e.deps
	deps.Connect = e.connect
	deps.Integrations = e.integrations
	deps.Metrics = e.metrics
	deps.Providers = mockProviderService{}
	deps.Sessions = &stubVerifier{sessions: map[string]*domain.AuthContext{
		testToken: {UserID: "user-1", Email: "founder@example.com"},
	}}
	if deps.DB == nil {
		deps.DB = okPinger{}
	}
	return NewServer(e.cfg, deps).Handler()
}

func (e *testEnv) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	if req.Header.Get("Authorization") == "" {
		req.Header.Set("Authorization", "Bearer "+testToken)
	}
	rec := httptest.NewRecorder()
	e.handler().ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

// Health endpoints

func TestHandleHealth(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestEnv().handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestHandleVersion(t *testing.T) {
	env := newTestEnv()
	env.cfg.Version = "1.2.3"

	rec := httptest.NewRecorder()
	env.handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/version", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"version":"1.2.3"}`, rec.Body.String())
}

type staticDoc string

func (d staticDoc) ReadDoc() string { return string(d) }

func TestHandleSwaggerDoc(t *testing.T) {
	env := newTestEnv()

	rec := httptest.NewRecorder()
	env.handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/swagger/doc.json", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	swag.Register(swag.Name, staticDoc(`{"swagger":"2.0"}`))

	rec = httptest.NewRecorder()
	env.handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/swagger/doc.json", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"swagger":"2.0"}`, rec.Body.String())
}

func TestHandleReady(t *testing.T) {
	env := newTestEnv()
	env.deps.Redis = failingPinger{}

	rec := httptest.NewRecorder()
	env.handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var resp ReadyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "not ready", resp.Status)
	assert.Equal(t, "ok", resp.Checks["database"])
	assert.Equal(t, "unavailable", resp.Checks["redis"])
	_, hasQueue := resp.Checks["queue"]
	assert.False(t, hasQueue)
}

type stubWorker worker.Health

func (w stubWorker) Health(context.Context) worker.Health { return worker.Health(w) }

func TestHandleWorkerHealth(t *testing.T) {
	get := func(env *testEnv) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		env.handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/worker", nil))
		return rec
	}

	t.Run("no worker", func(t *testing.T) {
		assert.Equal(t, http.StatusNotFound, get(newTestEnv()).Code)
	})

	t.Run("healthy", func(t *testing.T) {
		env := newTestEnv()
		env.deps.Worker = stubWorker{
			Running:     true,
			QueueHealth: true,
			Queue:       &driven.QueueStats{Queued: 3, Dead: 1},
			Processed:   10,
		}
		rec := get(env)
		assert.Equal(t, http.StatusOK, rec.Code)

		var h worker.Health
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &h))
		assert.True(t, h.Running)
		assert.Equal(t, int64(10), h.Processed)
		require.NotNil(t, h.Queue)
		assert.Equal(t, int64(3), h.Queue.Queued)
	})

	t.Run("queue down", func(t *testing.T) {
		env := newTestEnv()
		env.deps.Worker = stubWorker{Running: true, Error: "connection refused"}
		rec := get(env)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Contains(t, rec.Body.String(), "connection refused")
	})
}

// Connect flow

func TestHandleAuthorize_Redirects(t *testing.T) {
	env := newTestEnv()
	var got driving.AuthorizeRequest
	env.connect.authorizeFn = func(_ context.Context, req driving.AuthorizeRequest) (*driving.AuthorizeResponse, error) {
		got = req
		return &driving.AuthorizeResponse{AuthorizationURL: "https://app.asana.com/-/oauth_authorize?state=x"}, nil
	}

	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/integrations/asana/auth?workspaceId=123", nil))

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://app.asana.com/-/oauth_authorize?state=x", rec.Header().Get("Location"))
	assert.Equal(t, "user-1", got.UserID)
	assert.Equal(t, domain.IntegrationAsana, got.IntegrationType)
	assert.Equal(t, map[string]string{"workspaceId": "123"}, got.Hints)
}

func TestHandleAuthorize_JSON(t *testing.T) {
	env := newTestEnv()
	env.connect.authorizeFn = func(_ context.Context, req driving.AuthorizeRequest) (*driving.AuthorizeResponse, error) {
		return &driving.AuthorizeResponse{AuthorizationURL: "https://login.xero.com/authorize", State: "s"}, nil
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/integrations/XERO/auth", nil)
	req.Header.Set("Accept", "application/json")
	rec := env.do(t, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp driving.AuthorizeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "https://login.xero.com/authorize", resp.AuthorizationURL)
}

func TestHandleAuthorize_NotConfigured(t *testing.T) {
	env := newTestEnv()
	env.connect.authorizeFn = func(context.Context, driving.AuthorizeRequest) (*driving.AuthorizeResponse, error) {
		return nil, domain.ErrProviderNotConfigured
	}

	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/integrations/stripe/auth", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "server configuration error", decodeError(t, rec).Error)
}

func TestHandleAuthorize_UnsupportedProvider(t *testing.T) {
	rec := newTestEnv().do(t, httptest.NewRequest(http.MethodGet, "/api/v1/integrations/myspace/auth", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "unsupported provider", decodeError(t, rec).Error)
}

func TestHandleCallback_Query(t *testing.T) {
	env := newTestEnv()
	var got driving.CallbackRequest
	env.connect.callbackFn = func(_ context.Context, req driving.CallbackRequest) (*driving.CallbackResponse, error) {
		got = req
		return &driving.CallbackResponse{Success: true, Message: "QuickBooks connected"}, nil
	}

	rec := env.do(t, httptest.NewRequest(http.MethodGet,
		"/api/v1/integrations/quickbooks/callback?code=abc&state=csrf&realmId=9130", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "user-1", got.UserID)
	assert.Equal(t, domain.IntegrationQuickBooks, got.IntegrationType)
	assert.Equal(t, "abc", got.Code)
	assert.Equal(t, "csrf", got.State)
	assert.Equal(t, "9130", got.Query.Get("realmId"))
	assert.Empty(t, got.Query.Get("code"))

	var resp driving.CallbackResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
}

func TestHandleCallback_OAuth1Verifier(t *testing.T) {
	env := newTestEnv()
	var got driving.CallbackRequest
	env.connect.callbackFn = func(_ context.Context, req driving.CallbackRequest) (*driving.CallbackResponse, error) {
		got = req
		return &driving.CallbackResponse{Success: true}, nil
	}

	rec := env.do(t, httptest.NewRequest(http.MethodGet,
		"/api/v1/integrations/trello/callback?state=csrf&oauth_token=req-token&oauth_verifier=ver", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ver", got.Code)
	assert.Equal(t, "req-token", got.Query.Get("oauth_token"))
}

func TestHandleCallback_JSONBody(t *testing.T) {
	env := newTestEnv()
	var got driving.CallbackRequest
	env.connect.callbackFn = func(_ context.Context, req driving.CallbackRequest) (*driving.CallbackResponse, error) {
		got = req
		return &driving.CallbackResponse{Success: true}, nil
	}

	body := bytes.NewBufferString(`{"code":"c1","state":"{\"csrfToken\":\"t\"}","workspaceId":42}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/integrations/asana/callback", body)
	req.Header.Set("Content-Type", "application/json")
	rec := env.do(t, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "c1", got.Code)
	assert.Equal(t, `{"csrfToken":"t"}`, got.State)
	assert.Equal(t, "42", got.Query.Get("workspaceId"))
}

func TestHandleCallback_FormBody(t *testing.T) {
	env := newTestEnv()
	var got driving.CallbackRequest
	env.connect.callbackFn = func(_ context.Context, req driving.CallbackRequest) (*driving.CallbackResponse, error) {
		got = req
		return &driving.CallbackResponse{Success: true}, nil
	}

	form := url.Values{"code": {"c2"}, "state": {"csrf"}}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/integrations/salesforce/callback", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := env.do(t, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "c2", got.Code)
	assert.Equal(t, domain.IntegrationSalesforce, got.IntegrationType)
}

func TestHandleCallback_RedirectsToFrontend(t *testing.T) {
	env := newTestEnv()
	env.cfg.FrontendCallbackURL = "https://app.example.com/integrations"
	env.connect.callbackFn = func(context.Context, driving.CallbackRequest) (*driving.CallbackResponse, error) {
		return &driving.CallbackResponse{Success: true}, nil
	}

	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/integrations/google-analytics/callback?code=a&state=b", nil))

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://app.example.com/integrations?integration=google-analytics&status=connected", rec.Header().Get("Location"))
}

func TestHandleCallback_Errors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantError  string
		wantDetail string
	}{
		{
			name:       "invalid state",
			err:        driving.ErrOAuthInvalidState,
			wantStatus: http.StatusBadRequest,
			wantError:  "invalid_state",
			wantDetail: "The state parameter is invalid or expired",
		},
		{
			name:       "provider error parameter",
			err:        &driving.OAuthError{Code: "access_denied", Description: "The user denied access", Upstream: true},
			wantStatus: http.StatusBadRequest,
			wantError:  "access_denied",
			wantDetail: "The user denied access",
		},
		{
			name: "provider rejects code",
			err: &driving.OAuthError{Code: "exchange_failed", Upstream: true, Err: &domain.ProviderError{
				Provider: domain.IntegrationXero, StatusCode: http.StatusBadRequest, Body: `{"error":"invalid_grant"}`,
			}},
			wantStatus: http.StatusBadRequest,
			wantError:  "exchange_failed",
			wantDetail: `{"error":"invalid_grant"}`,
		},
		{
			name: "provider outage",
			err: &driving.OAuthError{Code: "exchange_failed", Upstream: true, Err: &domain.ProviderError{
				Provider: domain.IntegrationXero, StatusCode: http.StatusServiceUnavailable, Body: "upstream down",
			}},
			wantStatus: http.StatusBadGateway,
			wantError:  "exchange_failed",
			wantDetail: "upstream down",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv()
			env.connect.callbackFn = func(context.Context, driving.CallbackRequest) (*driving.CallbackResponse, error) {
				return nil, tt.err
			}

			rec := env.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/integrations/xero/callback?code=a&state=b", nil))

			assert.Equal(t, tt.wantStatus, rec.Code)
			resp := decodeError(t, rec)
			assert.Equal(t, tt.wantError, resp.Error)
			assert.Equal(t, tt.wantDetail, resp.Details)
		})
	}
}

// Stored integration

func TestHandleConnectionStatus(t *testing.T) {
	env := newTestEnv()
	created := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	env.integrations.statusFn = func(_ context.Context, userID string, it domain.IntegrationType) (*domain.ConnectionStatus, error) {
		require.Equal(t, "user-1", userID)
		require.Equal(t, domain.IntegrationStripe, it)
		return &domain.ConnectionStatus{ConnectedStatus: true, CreatedAt: created, UpdatedAt: created, FetchStatus: domain.FetchStatusComplete}, nil
	}

	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/integrations/stripe/fetch-connection-status", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, true, resp["connectedStatus"])
	assert.Equal(t, "complete", resp["fetchStatus"])
}

func TestHandleConnectionStatus_NotFound(t *testing.T) {
	rec := newTestEnv().do(t, httptest.NewRequest(http.MethodGet, "/api/v1/integrations/hubspot/fetch-connection-status", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "HubSpot integration not found", decodeError(t, rec).Error)
}

func TestHandleIntegrationData(t *testing.T) {
	env := newTestEnv()
	env.integrations.dataFn = func(context.Context, string, domain.IntegrationType) (*driving.IntegrationDataResponse, error) {
		return &driving.IntegrationDataResponse{
			IntegrationData: json.RawMessage(`{"revenue":1200}`),
			Datatrails:      []domain.Datatrail{{Event: "Stripe connected"}},
			FetchStatus:     domain.FetchStatusComplete,
		}, nil
	}

	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/integrations/stripe/fetch-integration-data", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		IntegrationData map[string]float64 `json:"integrationData"`
		Datatrails      []domain.Datatrail `json:"datatrails"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1200.0, resp.IntegrationData["revenue"])
	require.Len(t, resp.Datatrails, 1)
	assert.Equal(t, "Stripe connected", resp.Datatrails[0].Event)
}

func TestHandleRefreshData(t *testing.T) {
	env := newTestEnv()
	env.integrations.statusFn = func(context.Context, string, domain.IntegrationType) (*domain.ConnectionStatus, error) {
		return &domain.ConnectionStatus{ConnectedStatus: true}, nil
	}

	rec := env.do(t, httptest.NewRequest(http.MethodPost, "/api/v1/integrations/notion/refresh-integration-data", nil))

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []domain.IntegrationType{domain.IntegrationNotion}, env.metrics.scheduled)
}

func TestHandleRefreshData_NotConnected(t *testing.T) {
	env := newTestEnv()

	rec := env.do(t, httptest.NewRequest(http.MethodPost, "/api/v1/integrations/notion/refresh-integration-data", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Empty(t, env.metrics.scheduled)
}

func TestHandleDelete(t *testing.T) {
	env := newTestEnv()
	env.integrations.deleteFn = func(_ context.Context, _ string, it domain.IntegrationType) (int64, error) {
		require.Equal(t, domain.IntegrationMonday, it)
		return 1, nil
	}
	env.integrations.deleteByIDFn = func(_ context.Context, userID, id string) error {
		require.Equal(t, "user-1", userID)
		if id == "rec-1" {
			return nil
		}
		return domain.ErrNotFound
	}

	rec := env.do(t, httptest.NewRequest(http.MethodDelete, "/api/v1/integrations/monday/delete", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true,"deleted":1}`, rec.Body.String())

	rec = env.do(t, httptest.NewRequest(http.MethodDelete, "/api/v1/integrations/records/rec-1", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, httptest.NewRequest(http.MethodDelete, "/api/v1/integrations/records/rec-2", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "integration not found", decodeError(t, rec).Error)

	rec = env.do(t, httptest.NewRequest(http.MethodDelete, "/api/v1/integrations/monday/everything", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// Cross-integration endpoints

func TestHandleListConnected_Empty(t *testing.T) {
	rec := newTestEnv().do(t, httptest.NewRequest(http.MethodGet, "/api/v1/integrations/connected", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"integrations":[]}`, rec.Body.String())
}

func TestHandleListDatatrails(t *testing.T) {
	env := newTestEnv()
	at := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	env.integrations.trailsFn = func(context.Context, string) ([]domain.TypedDatatrail, error) {
		return []domain.TypedDatatrail{{
			IntegrationType: domain.IntegrationSlack,
			Datatrail:       domain.Datatrail{Event: "Slack connected", Timestamp: at},
		}}, nil
	}

	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/integrations/datatrails", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp DatatrailsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Datatrails, 1)
	assert.Equal(t, domain.IntegrationSlack, resp.Datatrails[0].IntegrationType)
}

func TestHandleListProviders(t *testing.T) {
	rec := newTestEnv().do(t, httptest.NewRequest(http.MethodGet, "/api/v1/providers", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"XERO"`)
}

// Provider passthrough

func TestHandleListResource(t *testing.T) {
	env := newTestEnv()
	env.integrations.listFn = func(_ context.Context, _ string, it domain.IntegrationType, resource string, params url.Values) (json.RawMessage, error) {
		require.Equal(t, domain.IntegrationHubSpot, it)
		require.Equal(t, "contacts", resource)
		require.Equal(t, "5", params.Get("limit"))
		return json.RawMessage(`{"contacts":[]}`), nil
	}

	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/integrations/hubspot/resources/contacts?limit=5", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"contacts":[]}`, rec.Body.String())
}

func TestHandleListResource_Errors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantError  string
	}{
		{"unsupported resource", fmt.Errorf("%w: portfolios", domain.ErrUnsupportedResource), http.StatusNotFound, "unsupported resource"},
		{"refresh failed", fmt.Errorf("%w: invalid_grant", domain.ErrTokenRefresh), http.StatusBadGateway, "failed to refresh token"},
		{"refresh in progress", domain.ErrRefreshInProgress, http.StatusServiceUnavailable, "token refresh in progress"},
		{"provider forbidden", fmt.Errorf("list projects: %w", &domain.ProviderError{
			Provider: domain.IntegrationAsana, StatusCode: http.StatusForbidden, Body: "Not authorized",
		}), http.StatusBadRequest, "Asana request failed"},
		{"provider 500", &domain.ProviderError{Provider: domain.IntegrationAsana, StatusCode: 500}, http.StatusBadGateway, "Asana request failed"},
		{"not connected", domain.ErrNotFound, http.StatusNotFound, "Asana integration not found"},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError, "internal server error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv()
			env.integrations.listFn = func(context.Context, string, domain.IntegrationType, string, url.Values) (json.RawMessage, error) {
				return nil, tt.err
			}

			rec := env.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/integrations/asana/resources/projects", nil))

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantError, decodeError(t, rec).Error)
		})
	}
}

func TestHandleCreateResource(t *testing.T) {
	env := newTestEnv()
	env.integrations.createFn = func(_ context.Context, _ string, it domain.IntegrationType, resource string, body json.RawMessage) (json.RawMessage, error) {
		require.Equal(t, domain.IntegrationSlack, it)
		require.Equal(t, "messages", resource)
		assert.JSONEq(t, `{"channel":"C1","text":"hi"}`, string(body))
		return json.RawMessage(`{"message":{"ts":"1.0"}}`), nil
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/integrations/slack/resources/messages",
		strings.NewReader(`{"channel":"C1","text":"hi"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := env.do(t, req)

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.JSONEq(t, `{"message":{"ts":"1.0"}}`, rec.Body.String())
}

func TestHandleCreateResource_InvalidBody(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/integrations/slack/resources/messages", strings.NewReader(`{not json`))
	rec := newTestEnv().do(t, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid request body", decodeError(t, rec).Error)
}
