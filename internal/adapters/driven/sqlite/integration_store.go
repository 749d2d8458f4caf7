package sqlite

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

var _ driven.IntegrationStore = (*IntegrationStore)(nil)

const integrationColumns = `
	id, user_id, integration_type, access_token, refresh_token, token_secret,
	token_expires_at, connected_status, correlation, integration_data, datatrails,
	fetch_status, last_fetch_error, last_fetched_at, created_at, updated_at
`

// IntegrationStore implements driven.IntegrationStore on SQLite.
type IntegrationStore struct {
	db     *sql.DB
	cipher driven.SecretCipher
}

// NewIntegrationStore creates a SQLite-backed integration store.
func NewIntegrationStore(db *DB, cipher driven.SecretCipher) *IntegrationStore {
	return &IntegrationStore{db: db.DB, cipher: cipher}
}

// Get retrieves an integration by ID.
func (s *IntegrationStore) Get(ctx context.Context, id string) (*domain.Integration, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+integrationColumns+` FROM integrations WHERE id = ?`, id)
	return s.scanOne(row)
}

// GetByUserAndType retrieves the user's integration for a provider.
func (s *IntegrationStore) GetByUserAndType(ctx context.Context, userID string, t domain.IntegrationType) (*domain.Integration, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+integrationColumns+` FROM integrations WHERE user_id = ? AND integration_type = ?`,
		userID, string(t))
	return s.scanOne(row)
}

// ListByUser retrieves all of a user's integrations.
func (s *IntegrationStore) ListByUser(ctx context.Context, userID string) ([]*domain.Integration, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+integrationColumns+` FROM integrations WHERE user_id = ? ORDER BY created_at ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("listing integrations: %w", err)
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
		return nil, fmt.Errorf("iterating integrations: %w", err)
	}
	return integrations, nil
}

// Upsert creates or updates the single row for (user, type).
func (s *IntegrationStore) Upsert(ctx context.Context, integration *domain.Integration) error {
	sealed, err := secrets.SealTokens(s.cipher, integration.Tokens)
	if err != nil {
		return err
	}
	correlation, err := domain.MarshalCorrelation(integration.Correlation)
	if err != nil {
		return fmt.Errorf("marshalling correlation: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var existing string
	err = tx.QueryRowContext(ctx,
		`SELECT datatrails FROM integrations WHERE user_id = ? AND integration_type = ?`,
		integration.UserID, string(integration.Type)).Scan(&existing)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("reading datatrails: %w", err)
	}

	var trails []domain.Datatrail
	if existing != "" {
		if err := json.Unmarshal([]byte(existing), &trails); err != nil {
			return fmt.Errorf("unmarshalling datatrails: %w", err)
		}
	}
	trails = append(trails, integration.Datatrails...)
	trailsJSON, err := marshalDatatrails(trails)
	if err != nil {
		return err
	}

	if integration.ID == "" {
		integration.ID = domain.GenerateID()
	}
	now := toMicros(time.Now())

	var data sql.NullString
	var fetchStatus string
	var createdAt, updatedAt int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO integrations (
			id, user_id, integration_type, access_token, refresh_token, token_secret,
			token_expires_at, connected_status, correlation, datatrails, fetch_status,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, integration_type) DO UPDATE SET
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			token_secret = excluded.token_secret,
			token_expires_at = excluded.token_expires_at,
			connected_status = excluded.connected_status,
			correlation = excluded.correlation,
			datatrails = excluded.datatrails,
			fetch_status = CASE WHEN excluded.fetch_status = '' THEN integrations.fetch_status ELSE excluded.fetch_status END,
			updated_at = excluded.updated_at
		RETURNING id, integration_data, fetch_status, created_at, updated_at
	`,
		integration.ID, integration.UserID, string(integration.Type),
		sealed.AccessToken, sealed.RefreshToken, sealed.TokenSecret,
		nullMicros(integration.TokenExpiresAt), integration.ConnectedStatus,
		string(correlation), string(trailsJSON), string(integration.FetchStatus),
		now, now,
	).Scan(&integration.ID, &data, &fetchStatus, &createdAt, &updatedAt)
	if err != nil {
		return fmt.Errorf("upserting integration: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing upsert: %w", err)
	}

	integration.Datatrails = trails
	integration.FetchStatus = domain.FetchStatus(fetchStatus)
	integration.CreatedAt = fromMicros(createdAt)
	integration.UpdatedAt = fromMicros(updatedAt)
	integration.TokenExpiresAt = timePtr(nullMicros(integration.TokenExpiresAt))
	if data.Valid {
		integration.IntegrationData = json.RawMessage(data.String)
	}
	return nil
}

// UpdateTokens replaces the tokens only if the stored expiry still equals
// expectedExpiry.
func (s *IntegrationStore) UpdateTokens(ctx context.Context, id string, tokens domain.Tokens, expiresAt, expectedExpiry *time.Time) (bool, error) {
	sealed, err := secrets.SealTokens(s.cipher, tokens)
	if err != nil {
		return false, err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE integrations
		SET access_token = ?, refresh_token = ?, token_secret = ?,
			token_expires_at = ?, updated_at = ?
		WHERE id = ? AND token_expires_at IS ?
	`,
		sealed.AccessToken, sealed.RefreshToken, sealed.TokenSecret,
		nullMicros(expiresAt), toMicros(time.Now()),
		id, nullMicros(expectedExpiry),
	)
	if err != nil {
		return false, fmt.Errorf("updating tokens: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("getting rows affected: %w", err)
	}
	if rows == 1 {
		return true, nil
	}

	var found int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM integrations WHERE id = ?`, id).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return false, domain.ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("checking integration: %w", err)
	}
	return false, nil
}

// SaveSnapshot overwrites the snapshot, appends the trail and marks the
// fetch complete.
func (s *IntegrationStore) SaveSnapshot(ctx context.Context, id string, data json.RawMessage, trail domain.Datatrail) error {
	entry, err := json.Marshal(trail)
	if err != nil {
		return fmt.Errorf("marshalling datatrail: %w", err)
	}
	now := toMicros(time.Now())

	return s.execOne(ctx, "saving snapshot", `
		UPDATE integrations
		SET integration_data = ?,
			datatrails = json_insert(datatrails, '$[#]', json(?)),
			fetch_status = ?,
			last_fetch_error = '',
			last_fetched_at = ?,
			updated_at = ?
		WHERE id = ?
	`, string(data), string(entry), string(domain.FetchStatusComplete), now, now, id)
}

// SetFetchStatus records the outcome of a fetch attempt.
func (s *IntegrationStore) SetFetchStatus(ctx context.Context, id string, status domain.FetchStatus, errMsg string) error {
	return s.execOne(ctx, "setting fetch status", `
		UPDATE integrations SET fetch_status = ?, last_fetch_error = ?, updated_at = ? WHERE id = ?
	`, string(status), errMsg, toMicros(time.Now()), id)
}

// AppendDatatrail adds one entry to the end of the log.
func (s *IntegrationStore) AppendDatatrail(ctx context.Context, id string, trail domain.Datatrail) error {
	entry, err := json.Marshal(trail)
	if err != nil {
		return fmt.Errorf("marshalling datatrail: %w", err)
	}
	return s.execOne(ctx, "appending datatrail", `
		UPDATE integrations SET datatrails = json_insert(datatrails, '$[#]', json(?)) WHERE id = ?
	`, string(entry), id)
}

// DeleteByUserAndType removes every row for (user, type).
func (s *IntegrationStore) DeleteByUserAndType(ctx context.Context, userID string, t domain.IntegrationType) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM integrations WHERE user_id = ? AND integration_type = ?`, userID, string(t))
	if err != nil {
		return 0, fmt.Errorf("deleting integration: %w", err)
	}
	return result.RowsAffected()
}

// DeleteByID removes one row owned by the user.
func (s *IntegrationStore) DeleteByID(ctx context.Context, userID, id string) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM integrations WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return 0, fmt.Errorf("deleting integration: %w", err)
	}
	return result.RowsAffected()
}

// Ping checks database connectivity.
func (s *IntegrationStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *IntegrationStore) execOne(ctx context.Context, op, query string, args ...any) error {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
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
	var integrationType, fetchStatus, correlation, trails string
	var data sql.NullString
	var expiresAt, lastFetchedAt sql.NullInt64
	var createdAt, updatedAt int64

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
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning integration: %w", err)
	}

	integration.Type = domain.IntegrationType(integrationType)
	integration.FetchStatus = domain.FetchStatus(fetchStatus)
	integration.TokenExpiresAt = timePtr(expiresAt)
	integration.LastFetchedAt = timePtr(lastFetchedAt)
	integration.CreatedAt = fromMicros(createdAt)
	integration.UpdatedAt = fromMicros(updatedAt)
	if data.Valid {
		integration.IntegrationData = json.RawMessage(data.String)
	}

	if integration.Tokens, err = secrets.OpenTokens(s.cipher, sealed); err != nil {
		return nil, err
	}
	if integration.Correlation, err = domain.UnmarshalCorrelation(integration.Type, []byte(correlation)); err != nil {
		return nil, fmt.Errorf("unmarshalling correlation: %w", err)
	}
	if err := json.Unmarshal([]byte(trails), &integration.Datatrails); err != nil {
		return nil, fmt.Errorf("unmarshalling datatrails: %w", err)
	}

	return &integration, nil
}

func marshalDatatrails(trails []domain.Datatrail) ([]byte, error) {
	if trails == nil {
		trails = []domain.Datatrail{}
	}
	b, err := json.Marshal(trails)
	if err != nil {
		return nil, fmt.Errorf("marshalling datatrails: %w", err)
	}
	return b, nil
}
