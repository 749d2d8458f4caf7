package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/custodia-labs/integrations-core/internal/core/domain"
	"github.com/custodia-labs/integrations-core/internal/core/ports/driven"
)

var _ driven.OAuthStateStore = (*OAuthStateStore)(nil)

// OAuthStateStore implements driven.OAuthStateStore on SQLite.
type OAuthStateStore struct {
	db *sql.DB
}

// NewOAuthStateStore creates a SQLite-backed OAuth state store.
func NewOAuthStateStore(db *DB) *OAuthStateStore {
	return &OAuthStateStore{db: db.DB}
}

// Save stores a new OAuth state.
func (s *OAuthStateStore) Save(ctx context.Context, state *driven.OAuthState) error {
	state.Stamp(time.Now())

	hints := []byte("{}")
	if state.Hints != nil {
		var err error
		if hints, err = json.Marshal(state.Hints); err != nil {
			return fmt.Errorf("marshalling hints: %w", err)
		}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO oauth_states (
			state, user_id, integration_type, hints, code_verifier,
			request_secret, redirect_uri, created_at, expires_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		state.State, state.UserID, string(state.IntegrationType), string(hints),
		state.CodeVerifier, state.RequestSecret, state.RedirectURI,
		toMicros(state.CreatedAt), toMicros(state.ExpiresAt),
	)
	if err != nil {
		return fmt.Errorf("saving oauth state: %w", err)
	}
	return nil
}

// GetAndDelete removes and returns an unexpired state in one statement.
func (s *OAuthStateStore) GetAndDelete(ctx context.Context, state string) (*driven.OAuthState, error) {
	var pending driven.OAuthState
	var integrationType, hints string
	var createdAt, expiresAt int64

	err := s.db.QueryRowContext(ctx, `
		DELETE FROM oauth_states
		WHERE state = ? AND expires_at > ?
		RETURNING state, user_id, integration_type, hints, code_verifier,
			request_secret, redirect_uri, created_at, expires_at
	`, state, toMicros(time.Now())).Scan(
		&pending.State,
		&pending.UserID,
		&integrationType,
		&hints,
		&pending.CodeVerifier,
		&pending.RequestSecret,
		&pending.RedirectURI,
		&createdAt,
		&expiresAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("consuming oauth state: %w", err)
	}

	pending.IntegrationType = domain.IntegrationType(integrationType)
	pending.CreatedAt = fromMicros(createdAt)
	pending.ExpiresAt = fromMicros(expiresAt)
	if err := json.Unmarshal([]byte(hints), &pending.Hints); err != nil {
		return nil, fmt.Errorf("unmarshalling hints: %w", err)
	}
	return &pending, nil
}

// Cleanup removes expired states.
func (s *OAuthStateStore) Cleanup(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM oauth_states WHERE expires_at <= ?`, toMicros(time.Now()))
	if err != nil {
		return fmt.Errorf("cleaning up oauth states: %w", err)
	}
	return nil
}
