package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/custodia-labs/integrations-core/internal/core/ports/driven"
)

var _ driven.OAuthStateStore = (*OAuthStateStore)(nil)

const oauthStatePrefix = "integrations:oauth-state:"

// OAuthStateStore keeps pending authorizations as JSON values whose key TTL
// matches the state's expiry.
type OAuthStateStore struct {
	client *redis.Client
}

func NewOAuthStateStore(client *redis.Client) *OAuthStateStore {
	return &OAuthStateStore{client: client}
}

func (s *OAuthStateStore) Save(ctx context.Context, pending *driven.OAuthState) error {
	pending.Stamp(time.Now())

	remaining := time.Until(pending.ExpiresAt)
	if remaining <= 0 {
		return nil
	}

	body, err := json.Marshal(pending)
	if err != nil {
		return fmt.Errorf("encode oauth state: %w", err)
	}
	if err := s.client.Set(ctx, oauthStatePrefix+pending.State, body, remaining).Err(); err != nil {
		return fmt.Errorf("save oauth state: %w", err)
	}
	return nil
}

// GetAndDelete consumes the state with GETDEL, so a replayed callback finds
// nothing.
func (s *OAuthStateStore) GetAndDelete(ctx context.Context, state string) (*driven.OAuthState, error) {
	body, err := s.client.GetDel(ctx, oauthStatePrefix+state).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("consume oauth state: %w", err)
	}

	pending := new(driven.OAuthState)
	if err := json.Unmarshal(body, pending); err != nil {
		return nil, fmt.Errorf("decode oauth state: %w", err)
	}
	if pending.Expired(time.Now()) {
		return nil, nil
	}
	return pending, nil
}

// Cleanup does nothing; keys expire on their own.
func (s *OAuthStateStore) Cleanup(context.Context) error {
	return nil
}
