package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/custodia-labs/integrations-core/internal/core/domain"
	"github.com/custodia-labs/integrations-core/internal/core/ports/driven"
	"github.com/custodia-labs/integrations-core/internal/core/ports/driving"
)

// Ensure metricsService implements MetricsService
var _ driving.MetricsService = (*metricsService)(nil)

// MetricsServiceConfig holds configuration for the metrics service.
type MetricsServiceConfig struct {
	Store      driven.IntegrationStore
	Connectors driven.ConnectorRegistry
	Tokens     driving.TokenService

	// Queue is optional. Without it, Schedule fetches inline.
	Queue driven.TaskQueue

	Logger *slog.Logger
}

type metricsService struct {
	store      driven.IntegrationStore
	connectors driven.ConnectorRegistry
	tokens     driving.TokenService
	queue      driven.TaskQueue
	logger     *slog.Logger
}

// NewMetricsService creates a new metrics service.
func NewMetricsService(cfg MetricsServiceConfig) driving.MetricsService {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &metricsService{
		store:      cfg.Store,
		connectors: cfg.Connectors,
		tokens:     cfg.Tokens,
		queue:      cfg.Queue,
		logger:     logger,
	}
}

// Schedule marks the fetch pending and hands it to the queue.
func (s *metricsService) Schedule(ctx context.Context, userID string, t domain.IntegrationType) error {
	integration, err := s.store.GetByUserAndType(ctx, userID, t)
	if err != nil {
		return err
	}

	if err := s.store.SetFetchStatus(ctx, integration.ID, domain.FetchStatusPending, ""); err != nil {
		return fmt.Errorf("mark fetch pending: %w", err)
	}

	if s.queue == nil {
		if err := s.FetchAndStore(ctx, userID, t); err != nil {
			s.logger.Warn("inline metrics fetch failed",
				"integration_type", t,
				"user_id", userID,
				"error", err,
			)
		}
		return nil
	}

	task := domain.NewFetchMetricsTask(userID, t)
	if err := s.queue.Enqueue(ctx, task); err != nil {
		if statusErr := s.store.SetFetchStatus(ctx, integration.ID, domain.FetchStatusFailed, "could not schedule fetch"); statusErr != nil {
			s.logger.Warn("failed to record fetch status", "integration_id", integration.ID, "error", statusErr)
		}
		return fmt.Errorf("enqueue metrics fetch: %w", err)
	}

	s.logger.Info("metrics fetch scheduled",
		"task_id", task.ID,
		"integration_type", t,
		"user_id", userID,
	)
	return nil
}

// FetchAndStore pulls a snapshot now. A successful fetch replaces the stored
// snapshot; a failed one leaves it untouched.
func (s *metricsService) FetchAndStore(ctx context.Context, userID string, t domain.IntegrationType) error {
	return s.fetchAndStore(ctx, userID, t, false)
}

// FetchAttempt runs one attempt of a queued fetch task.
func (s *metricsService) FetchAttempt(ctx context.Context, task *domain.Task) error {
	return s.fetchAndStore(ctx, task.UserID, task.Integration, !task.LastAttempt())
}

func (s *metricsService) fetchAndStore(ctx context.Context, userID string, t domain.IntegrationType, retrying bool) error {
	integration, err := s.store.GetByUserAndType(ctx, userID, t)
	if err != nil {
		return err
	}

	logger := s.logger.With("integration_id", integration.ID, "integration_type", t)

	metrics, err := s.fetch(ctx, userID, t)
	if err != nil {
		logger.Error("metrics fetch failed", "will_retry", retrying, "error", err)
		s.recordFailure(ctx, integration, err, retrying)
		return err
	}

	snapshot, err := metrics.Snapshot()
	if err != nil {
		s.recordFailure(ctx, integration, err, retrying)
		return fmt.Errorf("encode metrics snapshot: %w", err)
	}

	fields := metrics.PopulatedFields()
	trail := domain.NewDatatrail(t.DisplayName()+" data fetched", map[string]any{
		"fieldsPopulated": fields,
	})
	if err := s.store.SaveSnapshot(ctx, integration.ID, snapshot, trail); err != nil {
		return fmt.Errorf("save metrics snapshot: %w", err)
	}

	logger.Info("metrics snapshot stored", "fields_populated", len(fields))
	return nil
}

func (s *metricsService) fetch(ctx context.Context, userID string, t domain.IntegrationType) (*domain.Metrics, error) {
	connector, err := s.connectors.Get(t)
	if err != nil {
		return nil, err
	}

	cred, err := s.tokens.Credential(ctx, userID, t)
	if err != nil {
		return nil, err
	}

	return connector.FetchMetrics(ctx, cred)
}

// recordFailure logs a failed fetch in the datatrail. The status turns failed
// only when no retry follows.
func (s *metricsService) recordFailure(ctx context.Context, integration *domain.Integration, cause error, retrying bool) {
	if !retrying {
		if err := s.store.SetFetchStatus(ctx, integration.ID, domain.FetchStatusFailed, cause.Error()); err != nil {
			s.logger.Warn("failed to record fetch status", "integration_id", integration.ID, "error", err)
		}
	}
	trail := domain.NewDatatrail(integration.Type.DisplayName()+" data fetch failed", map[string]any{
		"error":     cause.Error(),
		"willRetry": retrying,
	})
	if err := s.store.AppendDatatrail(ctx, integration.ID, trail); err != nil {
		s.logger.Warn("failed to record fetch failure", "integration_id", integration.ID, "error", err)
	}
}
