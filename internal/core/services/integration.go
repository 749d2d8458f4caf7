package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sort"

	"github.com/custodia-labs/integrations-core/internal/core/domain"
	"github.com/custodia-labs/integrations-core/internal/core/ports/driven"
	"github.com/custodia-labs/integrations-core/internal/core/ports/driving"
)

// Ensure integrationService implements IntegrationService
var _ driving.IntegrationService = (*integrationService)(nil)

// IntegrationServiceConfig holds configuration for the integration service.
type IntegrationServiceConfig struct {
	Store      driven.IntegrationStore
	Connectors driven.ConnectorRegistry
	Tokens     driving.TokenService
	Logger     *slog.Logger
}

type integrationService struct {
	store      driven.IntegrationStore
	connectors driven.ConnectorRegistry
	tokens     driving.TokenService
	logger     *slog.Logger
}

// NewIntegrationService creates a new integration service.
func NewIntegrationService(cfg IntegrationServiceConfig) driving.IntegrationService {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &integrationService{
		store:      cfg.Store,
		connectors: cfg.Connectors,
		tokens:     cfg.Tokens,
		logger:     logger,
	}
}

// Status returns the connection status.
func (s *integrationService) Status(ctx context.Context, userID string, t domain.IntegrationType) (*domain.ConnectionStatus, error) {
	integration, err := s.store.GetByUserAndType(ctx, userID, t)
	if err != nil {
		return nil, err
	}
	return integration.ToStatus(), nil
}

// Data returns the stored snapshot. An integration that has never been
// fetched reports an empty object.
func (s *integrationService) Data(ctx context.Context, userID string, t domain.IntegrationType) (*driving.IntegrationDataResponse, error) {
	integration, err := s.store.GetByUserAndType(ctx, userID, t)
	if err != nil {
		return nil, err
	}

	data := integration.IntegrationData
	if len(data) == 0 {
		data = json.RawMessage("{}")
	}
	trails := integration.Datatrails
	if trails == nil {
		trails = []domain.Datatrail{}
	}

	return &driving.IntegrationDataResponse{
		IntegrationData: data,
		Datatrails:      trails,
		FetchStatus:     integration.FetchStatus,
	}, nil
}

// Delete removes every record for the user and provider.
func (s *integrationService) Delete(ctx context.Context, userID string, t domain.IntegrationType) (int64, error) {
	n, err := s.store.DeleteByUserAndType(ctx, userID, t)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, domain.ErrNotFound
	}

	s.logger.Info("integration deleted",
		"integration_type", t,
		"user_id", userID,
		"rows", n,
	)
	return n, nil
}

// DeleteByID removes a single record owned by the user.
func (s *integrationService) DeleteByID(ctx context.Context, userID, id string) error {
	if id == "" {
		return domain.ErrInvalidInput
	}
	n, err := s.store.DeleteByID(ctx, userID, id)
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListConnected returns the providers the user has connected.
func (s *integrationService) ListConnected(ctx context.Context, userID string) ([]domain.ConnectedIntegration, error) {
	integrations, err := s.store.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	result := make([]domain.ConnectedIntegration, 0, len(integrations))
	for _, integration := range integrations {
		if !integration.ConnectedStatus {
			continue
		}
		result = append(result, domain.ConnectedIntegration{
			ID:       integration.Type.Slug(),
			Category: integration.Type.Category(),
		})
	}
	return result, nil
}

// Datatrails flattens every integration's log, newest first.
func (s *integrationService) Datatrails(ctx context.Context, userID string) ([]domain.TypedDatatrail, error) {
	integrations, err := s.store.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	result := make([]domain.TypedDatatrail, 0)
	for _, integration := range integrations {
		for _, trail := range integration.Datatrails {
			result = append(result, domain.TypedDatatrail{
				IntegrationType: integration.Type,
				Datatrail:       trail,
			})
		}
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Timestamp.After(result[j].Timestamp)
	})
	return result, nil
}

// ListResource reads a provider resource with a fresh token.
func (s *integrationService) ListResource(ctx context.Context, userID string, t domain.IntegrationType, resource string, params url.Values) (json.RawMessage, error) {
	connector, err := s.connectors.Get(t)
	if err != nil {
		return nil, err
	}
	lister, ok := connector.(driven.ResourceLister)
	if !ok || !supportsResource(lister.Resources(), resource) {
		return nil, fmt.Errorf("%w: %s %s", domain.ErrUnsupportedResource, t.DisplayName(), resource)
	}

	cred, err := s.tokens.Credential(ctx, userID, t)
	if err != nil {
		return nil, err
	}

	return lister.ListResource(ctx, cred, resource, params)
}

// CreateResource creates a provider resource with a fresh token.
func (s *integrationService) CreateResource(ctx context.Context, userID string, t domain.IntegrationType, resource string, body json.RawMessage) (json.RawMessage, error) {
	connector, err := s.connectors.Get(t)
	if err != nil {
		return nil, err
	}
	creator, ok := connector.(driven.ResourceCreator)
	if !ok {
		return nil, fmt.Errorf("%w: %s %s", domain.ErrUnsupportedResource, t.DisplayName(), resource)
	}
	if len(body) == 0 || !json.Valid(body) {
		return nil, fmt.Errorf("%w: request body must be JSON", domain.ErrInvalidInput)
	}

	cred, err := s.tokens.Credential(ctx, userID, t)
	if err != nil {
		return nil, err
	}

	created, err := creator.CreateResource(ctx, cred, resource, body)
	if err != nil {
		return nil, err
	}

	trail := domain.NewDatatrail(t.DisplayName()+" "+resource+" created", nil)
	if integration, getErr := s.store.GetByUserAndType(ctx, userID, t); getErr == nil {
		if err := s.store.AppendDatatrail(ctx, integration.ID, trail); err != nil {
			s.logger.Warn("failed to record resource creation", "integration_id", integration.ID, "error", err)
		}
	}
	return created, nil
}

func supportsResource(resources []string, resource string) bool {
	for _, r := range resources {
		if r == resource {
			return true
		}
	}
	return false
}
