package driving

import (
	"context"
	"encoding/json"
	"net/url"

	"github.com/custodia-labs/integrations-core/internal/core/domain"
	"github.com/custodia-labs/integrations-core/internal/core/ports/driven"
)

// IntegrationService serves the read, delete and passthrough endpoints over
// stored integrations. Every method is scoped to one user.
type IntegrationService interface {
	// Status returns the connection status.
	// Returns domain.ErrNotFound if the provider is not connected.
	Status(ctx context.Context, userID string, t domain.IntegrationType) (*domain.ConnectionStatus, error)

	// Data returns the metrics snapshot and datatrails.
	// Returns domain.ErrNotFound if the provider is not connected.
	Data(ctx context.Context, userID string, t domain.IntegrationType) (*IntegrationDataResponse, error)

	// Delete removes every record for (user, provider).
	// Returns domain.ErrNotFound if nothing was deleted.
	Delete(ctx context.Context, userID string, t domain.IntegrationType) (int64, error)

	// DeleteByID removes one record by ID.
	// Returns domain.ErrNotFound if nothing was deleted.
	DeleteByID(ctx context.Context, userID, id string) error

	// ListConnected returns the user's connected providers with categories.
	ListConnected(ctx context.Context, userID string) ([]domain.ConnectedIntegration, error)

	// Datatrails returns all of the user's datatrail entries, newest first.
	Datatrails(ctx context.Context, userID string) ([]domain.TypedDatatrail, error)

	// ListResource reads a provider resource using a fresh token.
	ListResource(ctx context.Context, userID string, t domain.IntegrationType, resource string, params url.Values) (json.RawMessage, error)

	// CreateResource creates a provider resource using a fresh token.
	CreateResource(ctx context.Context, userID string, t domain.IntegrationType, resource string, body json.RawMessage) (json.RawMessage, error)
}

// IntegrationDataResponse is the snapshot projection.
// @Description Latest metrics snapshot and datatrails for an integration
type IntegrationDataResponse struct {
	IntegrationData json.RawMessage    `json:"integrationData" swaggertype:"object"`
	Datatrails      []domain.Datatrail `json:"datatrails"`
	FetchStatus     domain.FetchStatus `json:"fetchStatus,omitempty" example:"complete"`
}

// MetricsService fetches and stores provider metrics snapshots.
type MetricsService interface {
	// Schedule marks the fetch pending and enqueues it.
	// Without a queue the fetch runs inline and failures are only logged.
	Schedule(ctx context.Context, userID string, t domain.IntegrationType) error

	// FetchAndStore runs one fetch now. On failure the previous snapshot is
	// kept, the status is set to failed and the error is returned.
	FetchAndStore(ctx context.Context, userID string, t domain.IntegrationType) error

	// FetchAttempt runs one claimed attempt of a queued fetch. A failed
	// attempt that will be retried leaves the status pending; only the last
	// attempt marks it failed.
	FetchAttempt(ctx context.Context, task *domain.Task) error
}

// TokenService hands out credentials with a valid access token.
type TokenService interface {
	// Credential loads the user's credential for a provider, refreshing the
	// access token first when it is expired or about to expire.
	Credential(ctx context.Context, userID string, t domain.IntegrationType) (*driven.Credential, error)
}
