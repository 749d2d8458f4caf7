package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/integrations-core/internal/core/domain"
	"github.com/custodia-labs/integrations-core/internal/core/ports/driven"
	"github.com/custodia-labs/integrations-core/internal/core/ports/driven/mocks"
)

func newMetricsFixture(t *testing.T, queue driven.TaskQueue) (*mocks.MockIntegrationStore, *mocks.MockConnector, *domain.Integration, *metricsService) {
	t.Helper()

	store := mocks.NewMockIntegrationStore()
	connector := mocks.NewMockConnector(domain.IntegrationStripe)
	registry := mocks.NewMockConnectorRegistry(connector)
	apps := mocks.NewMockProviderAppStore(domain.IntegrationStripe)

	expiry := time.Now().Add(time.Hour)
	integration := &domain.Integration{
		UserID:          "user-1",
		Type:            domain.IntegrationStripe,
		Tokens:          domain.Tokens{AccessToken: "sk-access"},
		TokenExpiresAt:  &expiry,
		ConnectedStatus: true,
		IntegrationData: json.RawMessage(`{"revenue":1}`),
	}
	store.Put(integration)

	tokens := NewTokenService(TokenServiceConfig{Store: store, Connectors: registry, Apps: apps})
	svc := NewMetricsService(MetricsServiceConfig{
		Store:      store,
		Connectors: registry,
		Tokens:     tokens,
		Queue:      queue,
	}).(*metricsService)

	return store, connector, integration, svc
}

func TestMetricsService_FetchAndStore(t *testing.T) {
	store, connector, integration, svc := newMetricsFixture(t, nil)
	connector.FetchMetricsFn = func(cred *driven.Credential) (*domain.Metrics, error) {
		m := domain.NewMetrics()
		m.Revenue = domain.Float(2500.456)
		m.UserGrowth = domain.Count(12)
		return m, nil
	}

	err := svc.FetchAndStore(context.Background(), "user-1", domain.IntegrationStripe)
	require.NoError(t, err)

	assert.Equal(t, "sk-access", connector.LastCredToken)

	stored, err := store.Get(context.Background(), integration.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.FetchStatusComplete, stored.FetchStatus)
	assert.NotNil(t, stored.LastFetchedAt)

	var data map[string]any
	require.NoError(t, json.Unmarshal(stored.IntegrationData, &data))
	assert.Equal(t, 2500.46, data["revenue"])
	assert.Equal(t, float64(12), data["userGrowth"])
	assert.Nil(t, data["burnRate"])

	require.Len(t, stored.Datatrails, 1)
	trail := stored.Datatrails[0]
	assert.Equal(t, "Stripe data fetched", trail.Event)
	assert.Equal(t, []string{"revenue", "userGrowth"}, trail.Details["fieldsPopulated"])
}

func TestMetricsService_FetchAndStore_FailureKeepsSnapshot(t *testing.T) {
	store, connector, integration, svc := newMetricsFixture(t, nil)
	connector.FetchMetricsFn = func(*driven.Credential) (*domain.Metrics, error) {
		return nil, &domain.ProviderError{Provider: domain.IntegrationStripe, StatusCode: 500, Body: "boom"}
	}

	err := svc.FetchAndStore(context.Background(), "user-1", domain.IntegrationStripe)
	require.Error(t, err)

	stored, err := store.Get(context.Background(), integration.ID)
	require.NoError(t, err)
	assert.JSONEq(t, `{"revenue":1}`, string(stored.IntegrationData))
	assert.Equal(t, domain.FetchStatusFailed, stored.FetchStatus)
	assert.Contains(t, stored.LastFetchError, "500")

	require.Len(t, stored.Datatrails, 1)
	assert.Equal(t, "Stripe data fetch failed", stored.Datatrails[0].Event)
	assert.Contains(t, stored.Datatrails[0].Details["error"], "boom")
}

func TestMetricsService_FetchAndStore_NotConnected(t *testing.T) {
	_, _, _, svc := newMetricsFixture(t, nil)

	err := svc.FetchAndStore(context.Background(), "someone-else", domain.IntegrationStripe)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMetricsService_Schedule_Enqueues(t *testing.T) {
	queue := mocks.NewMockTaskQueue()
	store, connector, integration, svc := newMetricsFixture(t, queue)

	err := svc.Schedule(context.Background(), "user-1", domain.IntegrationStripe)
	require.NoError(t, err)

	pending := queue.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, domain.TaskFetchMetrics, pending[0].Kind)
	assert.Equal(t, "user-1", pending[0].UserID)
	assert.Equal(t, domain.IntegrationStripe, pending[0].Integration)

	stored, err := store.Get(context.Background(), integration.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.FetchStatusPending, stored.FetchStatus)
	assert.Equal(t, 0, connector.FetchCalls)
}

func TestMetricsService_Schedule_EnqueueFailure(t *testing.T) {
	queue := mocks.NewMockTaskQueue()
	queue.EnqueueFn = func(*domain.Task) error { return errors.New("queue unavailable") }
	store, _, integration, svc := newMetricsFixture(t, queue)

	err := svc.Schedule(context.Background(), "user-1", domain.IntegrationStripe)
	require.Error(t, err)

	stored, err := store.Get(context.Background(), integration.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.FetchStatusFailed, stored.FetchStatus)
}

func TestMetricsService_Schedule_EnqueueFailureLogsStatusError(t *testing.T) {
	queue := mocks.NewMockTaskQueue()
	queue.EnqueueFn = func(*domain.Task) error { return errors.New("queue unavailable") }
	store, _, _, svc := newMetricsFixture(t, queue)
	store.SetFetchStatusFn = func(_ string, status domain.FetchStatus) error {
		if status == domain.FetchStatusFailed {
			return errors.New("database gone")
		}
		return nil
	}
	var logs bytes.Buffer
	svc.logger = slog.New(slog.NewTextHandler(&logs, nil))

	err := svc.Schedule(context.Background(), "user-1", domain.IntegrationStripe)
	require.ErrorContains(t, err, "queue unavailable")
	assert.Contains(t, logs.String(), "failed to record fetch status")
	assert.Contains(t, logs.String(), "database gone")
}

func TestMetricsService_FetchAttempt_RetryKeepsPending(t *testing.T) {
	store, connector, integration, svc := newMetricsFixture(t, nil)
	connector.FetchMetricsFn = func(*driven.Credential) (*domain.Metrics, error) {
		return nil, errors.New("provider down")
	}
	require.NoError(t, store.SetFetchStatus(context.Background(), integration.ID, domain.FetchStatusPending, ""))

	task := domain.NewFetchMetricsTask("user-1", domain.IntegrationStripe)
	task.Start(time.Now())
	require.Error(t, svc.FetchAttempt(context.Background(), task))

	stored, err := store.Get(context.Background(), integration.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.FetchStatusPending, stored.FetchStatus)
	assert.Empty(t, stored.LastFetchError)
	require.Len(t, stored.Datatrails, 1)
	assert.Equal(t, true, stored.Datatrails[0].Details["willRetry"])
}

func TestMetricsService_FetchAttempt_LastAttemptFails(t *testing.T) {
	store, connector, integration, svc := newMetricsFixture(t, nil)
	connector.FetchMetricsFn = func(*driven.Credential) (*domain.Metrics, error) {
		return nil, errors.New("provider down")
	}

	task := domain.NewFetchMetricsTask("user-1", domain.IntegrationStripe)
	for range task.MaxAttempts {
		task.Start(time.Now())
	}
	require.True(t, task.LastAttempt())
	require.Error(t, svc.FetchAttempt(context.Background(), task))

	stored, err := store.Get(context.Background(), integration.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.FetchStatusFailed, stored.FetchStatus)
	assert.Equal(t, "provider down", stored.LastFetchError)
	require.Len(t, stored.Datatrails, 1)
	assert.Equal(t, false, stored.Datatrails[0].Details["willRetry"])
}

func TestMetricsService_Schedule_InlineWithoutQueue(t *testing.T) {
	store, connector, integration, svc := newMetricsFixture(t, nil)
	connector.FetchMetricsFn = func(*driven.Credential) (*domain.Metrics, error) {
		return nil, errors.New("provider down")
	}

	// Inline failures are logged, not returned.
	err := svc.Schedule(context.Background(), "user-1", domain.IntegrationStripe)
	require.NoError(t, err)
	assert.Equal(t, 1, connector.FetchCalls)

	stored, err := store.Get(context.Background(), integration.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.FetchStatusFailed, stored.FetchStatus)
}
