package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/custodia-labs/integrations-core/internal/adapters/driven/secrets"
	"github.com/custodia-labs/integrations-core/internal/core/domain"
	"github.com/custodia-labs/integrations-core/internal/core/ports/driven"
)

// Ensure IntegrationStore implements the interface.
var _ driven.IntegrationStore = (*IntegrationStore)(nil)

// IntegrationStore implements driven.IntegrationStore using PostgreSQL.
// Tokens are encrypted with the cipher before every write.
type IntegrationStore struct {
	db     *sql.DB
	cipher driven.SecretCipher
}

// NewIntegrationStore creates a new PostgreSQL-backed integration store.
func NewIntegrationStore(db *sql.DB, cipher driven.SecretCipher) *IntegrationStore {
	return &IntegrationStore{
		db:     db,
		cipher: cipher,
	}
}

const integrationColumns = `
	id, user_id, integration_type, access_token, refresh_token, token_secret,
	token_expires_at, connected_status, correlation, integration_data, datatrails,
	fetch_status, last_fetch_error, last_fetched_at, created_at, updated_at
`

// Get retrieves an integration by ID.
func (s *IntegrationStore) Get(ctx context.Context, id string) (*domain.Integration, error) {
	query := `SELECT ` + integrationColumns + ` FROM integrations WHERE id = $1`
	return s.scanOne(s.db.QueryRowContext(ctx, query, id))
}

// GetByUserAndType retrieves the user's integration for a provider.
func (s *IntegrationStore) GetByUserAndType(ctx context.Context, userID string, t domain.IntegrationType) (*domain.Integration, error) {
	query := `SELECT ` + integrationColumns + ` FROM integrations WHERE user_id = $1 AND integration_type = $2`
	return s.scanOne(s.db.QueryRowContext(ctx, query, userID, t))
}

// ListByUser retrieves all of a user's integrations.
func (s *IntegrationStore) ListByUser(ctx context.Context, userID string) ([]*domain.Integration, error) {
	query := `SELECT ` + integrationColumns + ` FROM integrations WHERE user_id = $1 ORDER BY created_at ASC`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list integrations: %w", err)
	}
	defer rows.Close()

	var integrations []*domain.Integration
	for rows.Next() {
		integration, err := s.scan(rows)
		if err != nil {
			return nil, err
		}
		integrations = append(integrations, integration)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate integrations: %w", err)
	}

	return integrations, nil
}

// Upsert creates or updates the single row for (user, type).
// The existing ID, creation time and snapshot survive; new datatrails are appended.
func (s *IntegrationStore) Upsert(ctx context.Context, integration *domain.Integration) error {
	sealed, err := secrets.SealTokens(s.cipher, integration.Tokens)
	if err != nil {
		return err
	}

	correlation, err := domain.MarshalCorrelation(integration.Correlation)
	if err != nil {
		return fmt.Errorf("marshal correlation: %w", err)
	}

	trails, err := marshalDatatrails(integration.Datatrails)
	if err != nil {
		return err
	}

	if integration.ID == "" {
		integration.ID = domain.GenerateID()
	}
	now := time.Now().UTC()

	query := `
		INSERT INTO integrations (
			id, user_id, integration_type, access_token, refresh_token, token_secret,
			token_expires_at, connected_status, correlation, datatrails, fetch_status,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)
		ON CONFLICT (user_id, integration_type) DO UPDATE SET
			access_token = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			token_secret = EXCLUDED.token_secret,
			token_expires_at = EXCLUDED.token_expires_at,
			connected_status = EXCLUDED.connected_status,
			correlation = EXCLUDED.correlation,
			datatrails = integrations.datatrails || EXCLUDED.datatrails,
			fetch_status = CASE WHEN EXCLUDED.fetch_status = '' THEN integrations.fetch_status ELSE EXCLUDED.fetch_status END,
			updated_at = EXCLUDED.updated_at
		RETURNING id, integration_data, datatrails, fetch_status, created_at, updated_at
	`

	var data, storedTrails []byte
	var fetchStatus string
	err = s.db.QueryRowContext(ctx, query,
		integration.ID,
		integration.UserID,
		integration.Type,
		sealed.AccessToken,
		sealed.RefreshToken,
		sealed.TokenSecret,
		nullMicros(integration.TokenExpiresAt),
		integration.ConnectedStatus,
		string(correlation),
		string(trails),
		integration.FetchStatus,
		now,
	).Scan(&integration.ID, &data, &storedTrails, &fetchStatus, &integration.CreatedAt, &integration.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert integration: %w", err)
	}

	integration.IntegrationData = data
	integration.FetchStatus = domain.FetchStatus(fetchStatus)
	integration.TokenExpiresAt = timeOrNil(nullMicros(integration.TokenExpiresAt))
	if err := json.Unmarshal(storedTrails, &integration.Datatrails); err != nil {
		return fmt.Errorf("unmarshal datatrails: %w", err)
	}

	return nil
}

// UpdateTokens replaces the tokens only if the stored expiry still equals
// expectedExpiry. It returns false when another writer got there first.
func (s *IntegrationStore) UpdateTokens(ctx context.Context, id string, tokens domain.Tokens, expiresAt, expectedExpiry *time.Time) (bool, error) {
	sealed, err := secrets.SealTokens(s.cipher, tokens)
	if err != nil {
		return false, err
	}

	query := `
		UPDATE integrations
		SET access_token = $2, refresh_token = $3, token_secret = $4,
			token_expires_at = $5, updated_at = NOW()
		WHERE id = $1 AND token_expires_at IS NOT DISTINCT FROM $6
	`

	result, err := s.db.ExecContext(ctx, query,
		id,
		sealed.AccessToken,
		sealed.RefreshToken,
		sealed.TokenSecret,
		nullMicros(expiresAt),
		nullMicros(expectedExpiry),
	)
	if err != nil {
		return false, fmt.Errorf("update tokens: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 1 {
		return true, nil
	}

	if err := s.exists(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

// SaveSnapshot overwrites the snapshot, appends the trail and marks the
// fetch complete.
func (s *IntegrationStore) SaveSnapshot(ctx context.Context, id string, data json.RawMessage, trail domain.Datatrail) error {
	trails, err := marshalDatatrails([]domain.Datatrail{trail})
	if err != nil {
		return err
	}

	query := `
		UPDATE integrations
		SET integration_data = $2,
			datatrails = datatrails || $3::jsonb,
			fetch_status = $4,
			last_fetch_error = '',
			last_fetched_at = NOW(),
			updated_at = NOW()
		WHERE id = $1
	`

	return s.execOne(ctx, "save snapshot", query, id, string(data), string(trails), domain.FetchStatusComplete)
}

// SetFetchStatus records the outcome of a fetch attempt.
func (s *IntegrationStore) SetFetchStatus(ctx context.Context, id string, status domain.FetchStatus, errMsg string) error {
	query := `
		UPDATE integrations
		SET fetch_status = $2, last_fetch_error = $3, updated_at = NOW()
		WHERE id = $1
	`
	return s.execOne(ctx, "set fetch status", query, id, status, errMsg)
}

// AppendDatatrail adds one entry to the end of the log.
func (s *IntegrationStore) AppendDatatrail(ctx context.Context, id string, trail domain.Datatrail) error {
	trails, err := marshalDatatrails([]domain.Datatrail{trail})
	if err != nil {
		return err
	}

	query := `UPDATE integrations SET datatrails = datatrails || $2::jsonb WHERE id = $1`
	return s.execOne(ctx, "append datatrail", query, id, string(trails))
}

// DeleteByUserAndType removes every row for (user, type).
func (s *IntegrationStore) DeleteByUserAndType(ctx context.Context, userID string, t domain.IntegrationType) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM integrations WHERE user_id = $1 AND integration_type = $2`, userID, t)
	if err != nil {
		return 0, fmt.Errorf("delete integration: %w", err)
	}
	return result.RowsAffected()
}

// DeleteByID removes one row owned by the user.
func (s *IntegrationStore) DeleteByID(ctx context.Context, userID, id string) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM integrations WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return 0, fmt.Errorf("delete integration: %w", err)
	}
	return result.RowsAffected()
}

// Ping checks database connectivity.
func (s *IntegrationStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *IntegrationStore) exists(ctx context.Context, id string) error {
	var found int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM integrations WHERE id = $1`, id).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("check integration: %w", err)
	}
	return nil
}

func (s *IntegrationStore) execOne(ctx context.Context, op, query string, args ...any) error {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *IntegrationStore) scanOne(row *sql.Row) (*domain.Integration, error) {
	integration, err := s.scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return integration, err
}

func (s *IntegrationStore) scan(row rowScanner) (*domain.Integration, error) {
	var integration domain.Integration
	var sealed domain.Tokens
	var integrationType, fetchStatus string
	var correlation, data, trails []byte
	var expiresAt, lastFetchedAt sql.NullTime

	err := row.Scan(
		&integration.ID,
		&integration.UserID,
		&integrationType,
		&sealed.AccessToken,
		&sealed.RefreshToken,
		&sealed.TokenSecret,
		&expiresAt,
		&integration.ConnectedStatus,
		&correlation,
		&data,
		&trails,
		&fetchStatus,
		&integration.LastFetchError,
		&lastFetchedAt,
		&integration.CreatedAt,
		&integration.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan integration: %w", err)
	}

	integration.Type = domain.IntegrationType(integrationType)
	integration.FetchStatus = domain.FetchStatus(fetchStatus)
	integration.TokenExpiresAt = timeOrNil(expiresAt)
	integration.LastFetchedAt = timeOrNil(lastFetchedAt)
	if len(data) > 0 {
		integration.IntegrationData = json.RawMessage(data)
	}

	if integration.Tokens, err = secrets.OpenTokens(s.cipher, sealed); err != nil {
		return nil, err
	}

	if integration.Correlation, err = domain.UnmarshalCorrelation(integration.Type, correlation); err != nil {
		return nil, fmt.Errorf("unmarshal correlation: %w", err)
	}

	if err := json.Unmarshal(trails, &integration.Datatrails); err != nil {
		return nil, fmt.Errorf("unmarshal datatrails: %w", err)
	}

	return &integration, nil
}

// marshalDatatrails encodes trails as a JSON array. Callers pass the result
// as a string: lib/pq sends []byte as bytea, which JSONB rejects.
func marshalDatatrails(trails []domain.Datatrail) ([]byte, error) {
	if trails == nil {
		trails = []domain.Datatrail{}
	}
	b, err := json.Marshal(trails)
	if err != nil {
		return nil, fmt.Errorf("marshal datatrails: %w", err)
	}
	return b, nil
}
