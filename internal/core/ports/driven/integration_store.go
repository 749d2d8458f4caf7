package driven

import (
	"context"
	"encoding/json"
	"time"

	"github.com/custodia-labs/integrations-core/internal/core/domain"
)

// IntegrationStore persists integration records with encrypted tokens.
// There is at most one record per (user, integration type).
type IntegrationStore interface {
	// Get retrieves an integration by ID with decrypted tokens.
	// Returns domain.ErrNotFound if the record doesn't exist.
	Get(ctx context.Context, id string) (*domain.Integration, error)

	// GetByUserAndType retrieves the user's record for a provider.
	// Returns domain.ErrNotFound if the user has not connected it.
	GetByUserAndType(ctx context.Context, userID string, t domain.IntegrationType) (*domain.Integration, error)

	// ListByUser retrieves all of a user's integrations.
	ListByUser(ctx context.Context, userID string) ([]*domain.Integration, error)

	// Upsert creates the (user, type) record or updates the existing one in place.
	// Tokens are encrypted before storage. On update, the stored ID, CreatedAt,
	// IntegrationData and Datatrails are kept and new Datatrails are appended.
	// The integration is updated with the stored ID and timestamps.
	Upsert(ctx context.Context, integration *domain.Integration) error

	// UpdateTokens stores refreshed tokens only if the stored expiry still equals
	// expectedExpiry. Returns false when another writer got there first.
	UpdateTokens(ctx context.Context, id string, tokens domain.Tokens, expiresAt, expectedExpiry *time.Time) (bool, error)

	// SaveSnapshot overwrites the metrics snapshot, appends a datatrail entry and
	// marks the fetch as complete.
	SaveSnapshot(ctx context.Context, id string, data json.RawMessage, trail domain.Datatrail) error

	// SetFetchStatus records the state of the most recent metrics fetch.
	SetFetchStatus(ctx context.Context, id string, status domain.FetchStatus, errMsg string) error

	// AppendDatatrail appends one entry to the record's datatrails.
	AppendDatatrail(ctx context.Context, id string, trail domain.Datatrail) error

	// DeleteByUserAndType removes every record for (user, type).
	// Returns the number of rows removed.
	DeleteByUserAndType(ctx context.Context, userID string, t domain.IntegrationType) (int64, error)

	// DeleteByID removes a record owned by the user.
	// Returns the number of rows removed.
	DeleteByID(ctx context.Context, userID, id string) (int64, error)

	// Ping checks if the store backend is healthy.
	Ping(ctx context.Context) error
}
