package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/custodia-labs/integrations-core/internal/core/ports/driven"
)

var _ driven.OAuthStateStore = (*OAuthStateStore)(nil)

const oauthStateColumns = `state, user_id, integration_type, hints, code_verifier,
	request_secret, redirect_uri, created_at, expires_at`

// OAuthStateStore keeps pending authorizations in the oauth_states table.
// Rows are consumed with DELETE ... RETURNING so each state is single use.
type OAuthStateStore struct {
	db *sql.DB
}

func NewOAuthStateStore(db *sql.DB) *OAuthStateStore {
	return &OAuthStateStore{db: db}
}

func (s *OAuthStateStore) Save(ctx context.Context, pending *driven.OAuthState) error {
	pending.Stamp(time.Now())

	hints := "{}"
	if len(pending.Hints) > 0 {
		raw, err := json.Marshal(pending.Hints)
		if err != nil {
			return fmt.Errorf("encode hints: %w", err)
		}
		hints = string(raw)
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO oauth_states (`+oauthStateColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		pending.State, pending.UserID, pending.IntegrationType, hints, pending.CodeVerifier,
		pending.RequestSecret, pending.RedirectURI, pending.CreatedAt, pending.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("insert oauth state: %w", err)
	}
	return nil
}

// GetAndDelete returns nil, nil for unknown or expired states.
func (s *OAuthStateStore) GetAndDelete(ctx context.Context, state string) (*driven.OAuthState, error) {
	row := s.db.QueryRowContext(ctx,
		`DELETE FROM oauth_states WHERE state = $1 AND expires_at > NOW() RETURNING `+oauthStateColumns,
		state,
	)

	var (
		pending driven.OAuthState
		hints   []byte
	)
	err := row.Scan(
		&pending.State, &pending.UserID, &pending.IntegrationType, &hints, &pending.CodeVerifier,
		&pending.RequestSecret, &pending.RedirectURI, &pending.CreatedAt, &pending.ExpiresAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("consume oauth state: %w", err)
	}
	if len(hints) > 0 {
		if err := json.Unmarshal(hints, &pending.Hints); err != nil {
			return nil, fmt.Errorf("decode hints: %w", err)
		}
	}
	return &pending, nil
}

// Cleanup deletes every row past its expiry.
func (s *OAuthStateStore) Cleanup(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM oauth_states WHERE expires_at <= NOW()`); err != nil {
		return fmt.Errorf("purge oauth states: %w", err)
	}
	return nil
}
