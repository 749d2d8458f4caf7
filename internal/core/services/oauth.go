package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/custodia-labs/integrations-core/internal/core/domain"
	"github.com/custodia-labs/integrations-core/internal/core/ports/driven"
	"github.com/custodia-labs/integrations-core/internal/core/ports/driving"
)

// Ensure connectService implements ConnectService
var _ driving.ConnectService = (*connectService)(nil)

// ConnectServiceConfig holds configuration for the connect service.
type ConnectServiceConfig struct {
	// Apps resolves provider client credentials.
	Apps driven.ProviderAppStore

	// States manages pending authorization state.
	States driven.OAuthStateStore

	// Store persists integrations.
	Store driven.IntegrationStore

	// Connectors provides the per-provider OAuth flows.
	Connectors driven.ConnectorRegistry

	// Metrics schedules the post-connect fetch.
	Metrics driving.MetricsService

	Logger *slog.Logger
}

// connectService implements the ConnectService interface.
type connectService struct {
	apps       driven.ProviderAppStore
	states     driven.OAuthStateStore
	store      driven.IntegrationStore
	connectors driven.ConnectorRegistry
	metrics    driving.MetricsService
	logger     *slog.Logger
}

// NewConnectService creates a new connect service.
func NewConnectService(cfg ConnectServiceConfig) driving.ConnectService {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &connectService{
		apps:       cfg.Apps,
		states:     cfg.States,
		store:      cfg.Store,
		connectors: cfg.Connectors,
		metrics:    cfg.Metrics,
		logger:     logger,
	}
}

// Authorize starts an authorization flow.
// It stores the pending state and returns the provider URL.
func (s *connectService) Authorize(ctx context.Context, req driving.AuthorizeRequest) (*driving.AuthorizeResponse, error) {
	if req.UserID == "" {
		return nil, domain.ErrUnauthorized
	}

	app := s.apps.Get(req.IntegrationType)
	if !app.IsConfigured() {
		return nil, domain.ErrProviderNotConfigured
	}

	connector, err := s.connectors.Get(req.IntegrationType)
	if err != nil {
		return nil, err
	}

	// Keep only hints the provider's correlation declares.
	correlation, err := domain.NewCorrelation(req.IntegrationType, req.Hints)
	if err != nil {
		return nil, err
	}
	hints := domain.CorrelationValues(correlation)

	csrf, err := generateRandomString(32)
	if err != nil {
		return nil, fmt.Errorf("generate state: %w", err)
	}

	codeVerifier, err := generateRandomString(64)
	if err != nil {
		return nil, fmt.Errorf("generate code verifier: %w", err)
	}

	state, err := encodeState(csrf, hints)
	if err != nil {
		return nil, err
	}

	result, err := connector.AuthURL(ctx, app, driven.AuthURLRequest{
		State:        state,
		RedirectURI:  app.RedirectURI,
		CodeVerifier: codeVerifier,
	})
	if err != nil {
		return nil, &driving.OAuthError{
			Code:        "authorization_failed",
			Description: err.Error(),
			Upstream:    true,
			Err:         err,
		}
	}

	now := time.Now()
	pending := &driven.OAuthState{
		State:           csrf,
		UserID:          req.UserID,
		IntegrationType: req.IntegrationType,
		Hints:           hints,
		CodeVerifier:    codeVerifier,
		RequestSecret:   result.RequestSecret,
		RedirectURI:     app.RedirectURI,
		CreatedAt:       now,
		ExpiresAt:       now.Add(driven.OAuthStateTTL),
	}
	if err := s.states.Save(ctx, pending); err != nil {
		return nil, fmt.Errorf("save oauth state: %w", err)
	}

	return &driving.AuthorizeResponse{
		AuthorizationURL: result.URL,
		State:            state,
		ExpiresAt:        pending.ExpiresAt.Format(time.RFC3339),
	}, nil
}

// Callback handles the provider redirect.
// It validates state, exchanges the code, upserts the integration and
// schedules a metrics fetch. A failing fetch never fails the callback.
func (s *connectService) Callback(ctx context.Context, req driving.CallbackRequest) (*driving.CallbackResponse, error) {
	if req.Error != "" {
		return nil, &driving.OAuthError{
			Code:        req.Error,
			Description: req.ErrorDescription,
			Upstream:    true,
		}
	}
	if req.Code == "" || req.State == "" {
		return nil, driving.ErrOAuthMissingParams
	}

	csrf, stateHints := decodeState(req.State)
	if csrf == "" {
		return nil, driving.ErrOAuthInvalidState
	}

	// Validate and consume state (single-use)
	pending, err := s.states.GetAndDelete(ctx, csrf)
	if err != nil {
		return nil, fmt.Errorf("get oauth state: %w", err)
	}
	if pending == nil {
		return nil, driving.ErrOAuthInvalidState
	}
	// The flow must finish in the session and provider it started in.
	if pending.UserID != req.UserID || pending.IntegrationType != req.IntegrationType {
		s.logger.Warn("oauth state does not match session",
			"integration_type", req.IntegrationType,
			"state_integration_type", pending.IntegrationType,
		)
		return nil, driving.ErrOAuthInvalidState
	}

	t := pending.IntegrationType
	app := s.apps.Get(t)
	if !app.IsConfigured() {
		return nil, domain.ErrProviderNotConfigured
	}

	connector, err := s.connectors.Get(t)
	if err != nil {
		return nil, err
	}

	grant, err := connector.Exchange(ctx, app, driven.ExchangeRequest{
		Code:          req.Code,
		RedirectURI:   pending.RedirectURI,
		CodeVerifier:  pending.CodeVerifier,
		RequestSecret: pending.RequestSecret,
		Query:         req.Query,
	})
	if err != nil {
		return nil, &driving.OAuthError{
			Code:        "exchange_failed",
			Description: err.Error(),
			Upstream:    true,
			Err:         err,
		}
	}

	correlation, err := domain.NewCorrelation(t, mergeValues(stateHints, pending.Hints, grant.Resolved))
	if err != nil {
		return nil, err
	}

	integration := &domain.Integration{
		UserID:          req.UserID,
		Type:            t,
		ConnectedStatus: true,
		Correlation:     correlation,
	}
	integration.ApplyTokens(grant.Tokens, grant.ExpiresAt)
	integration.AppendDatatrail(domain.NewDatatrail(t.DisplayName()+" connected", nil))

	if err := s.store.Upsert(ctx, integration); err != nil {
		return nil, fmt.Errorf("save integration: %w", err)
	}

	s.logger.Info("integration connected",
		"integration_id", integration.ID,
		"integration_type", t,
		"user_id", req.UserID,
	)

	if s.metrics != nil {
		if err := s.metrics.Schedule(ctx, req.UserID, t); err != nil {
			s.logger.Warn("failed to schedule metrics fetch",
				"integration_id", integration.ID,
				"error", err,
			)
		}
		// Schedule moves the fetch status on; report the stored record.
		if fresh, err := s.store.Get(ctx, integration.ID); err == nil && fresh != nil {
			integration = fresh
		}
	}

	return &driving.CallbackResponse{
		Success:     true,
		Message:     t.DisplayName() + " connected",
		Integration: integration.ToSummary(),
	}, nil
}

// encodeState builds the state value sent to the provider: a JSON object
// with the CSRF token plus the client's hints.
func encodeState(csrf string, hints map[string]string) (string, error) {
	payload := make(map[string]string, len(hints)+1)
	for k, v := range hints {
		payload[k] = v
	}
	payload["csrfToken"] = csrf
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode state: %w", err)
	}
	return string(raw), nil
}

// decodeState extracts the CSRF token and any extra values from a state
// parameter. A state that is not a JSON object is taken as the bare token.
func decodeState(state string) (string, map[string]string) {
	var payload map[string]any
	if err := json.Unmarshal([]byte(state), &payload); err != nil {
		return state, nil
	}

	values := make(map[string]string, len(payload))
	for k, v := range payload {
		switch val := v.(type) {
		case string:
			values[k] = val
		case float64:
			values[k] = strconv.FormatFloat(val, 'f', -1, 64)
		case bool:
			values[k] = strconv.FormatBool(val)
		}
	}
	csrf := values["csrfToken"]
	delete(values, "csrfToken")
	return csrf, values
}

// mergeValues layers maps left to right; later maps win.
func mergeValues(layers ...map[string]string) map[string]string {
	out := make(map[string]string)
	for _, layer := range layers {
		for k, v := range layer {
			if v != "" {
				out[k] = v
			}
		}
	}
	return out
}

// generateRandomString generates a cryptographically secure random string.
func generateRandomString(length int) (string, error) {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes)[:length], nil
}
