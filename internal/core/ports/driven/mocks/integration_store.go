package mocks

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/custodia-labs/integrations-core/internal/core/domain"
)

// MockIntegrationStore is an in-memory IntegrationStore. Records are copied
// on the way in and out so callers cannot mutate stored state.
type MockIntegrationStore struct {
	mu      sync.RWMutex
	records map[string]*domain.Integration

	// Err, when set, is returned by every call.
	Err error

	// SetFetchStatusFn, when set, may fail a status write before it lands.
	SetFetchStatusFn func(id string, status domain.FetchStatus) error

	UpdateTokensCalls int
}

// NewMockIntegrationStore creates an empty store.
func NewMockIntegrationStore() *MockIntegrationStore {
	return &MockIntegrationStore{records: make(map[string]*domain.Integration)}
}

func clone(i *domain.Integration) *domain.Integration {
	c := *i
	c.Datatrails = append([]domain.Datatrail(nil), i.Datatrails...)
	if i.IntegrationData != nil {
		c.IntegrationData = append(json.RawMessage(nil), i.IntegrationData...)
	}
	return &c
}

func (m *MockIntegrationStore) Get(ctx context.Context, id string) (*domain.Integration, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return clone(rec), nil
}

func (m *MockIntegrationStore) findLocked(userID string, t domain.IntegrationType) *domain.Integration {
	for _, rec := range m.records {
		if rec.UserID == userID && rec.Type == t {
			return rec
		}
	}
	return nil
}

func (m *MockIntegrationStore) GetByUserAndType(ctx context.Context, userID string, t domain.IntegrationType) (*domain.Integration, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec := m.findLocked(userID, t)
	if rec == nil {
		return nil, domain.ErrNotFound
	}
	return clone(rec), nil
}

func (m *MockIntegrationStore) ListByUser(ctx context.Context, userID string) ([]*domain.Integration, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.Integration
	for _, rec := range m.records {
		if rec.UserID == userID {
			out = append(out, clone(rec))
		}
	}
	return out, nil
}

func (m *MockIntegrationStore) Upsert(ctx context.Context, integration *domain.Integration) error {
	if m.Err != nil {
		return m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	if existing := m.findLocked(integration.UserID, integration.Type); existing != nil {
		existing.Tokens = integration.Tokens
		existing.TokenExpiresAt = integration.TokenExpiresAt
		existing.ConnectedStatus = integration.ConnectedStatus
		existing.Correlation = integration.Correlation
		existing.Datatrails = append(existing.Datatrails, integration.Datatrails...)
		if integration.FetchStatus != domain.FetchStatusNone {
			existing.FetchStatus = integration.FetchStatus
		}
		existing.UpdatedAt = now

		integration.ID = existing.ID
		integration.CreatedAt = existing.CreatedAt
		integration.UpdatedAt = now
		integration.IntegrationData = existing.IntegrationData
		integration.Datatrails = append([]domain.Datatrail(nil), existing.Datatrails...)
		return nil
	}

	if integration.ID == "" {
		integration.ID = domain.GenerateID()
	}
	integration.CreatedAt = now
	integration.UpdatedAt = now
	m.records[integration.ID] = clone(integration)
	return nil
}

func (m *MockIntegrationStore) UpdateTokens(ctx context.Context, id string, tokens domain.Tokens, expiresAt, expectedExpiry *time.Time) (bool, error) {
	if m.Err != nil {
		return false, m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.UpdateTokensCalls++

	rec, ok := m.records[id]
	if !ok {
		return false, domain.ErrNotFound
	}
	if !sameInstant(rec.TokenExpiresAt, expectedExpiry) {
		return false, nil
	}
	rec.Tokens = tokens
	rec.TokenExpiresAt = expiresAt
	rec.UpdatedAt = time.Now()
	return true, nil
}

func (m *MockIntegrationStore) SaveSnapshot(ctx context.Context, id string, data json.RawMessage, trail domain.Datatrail) error {
	if m.Err != nil {
		return m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return domain.ErrNotFound
	}
	now := time.Now()
	rec.IntegrationData = append(json.RawMessage(nil), data...)
	rec.Datatrails = append(rec.Datatrails, trail)
	rec.FetchStatus = domain.FetchStatusComplete
	rec.LastFetchError = ""
	rec.LastFetchedAt = &now
	rec.UpdatedAt = now
	return nil
}

func (m *MockIntegrationStore) SetFetchStatus(ctx context.Context, id string, status domain.FetchStatus, errMsg string) error {
	if m.Err != nil {
		return m.Err
	}
	if m.SetFetchStatusFn != nil {
		if err := m.SetFetchStatusFn(id, status); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return domain.ErrNotFound
	}
	rec.FetchStatus = status
	rec.LastFetchError = errMsg
	rec.UpdatedAt = time.Now()
	return nil
}

func (m *MockIntegrationStore) AppendDatatrail(ctx context.Context, id string, trail domain.Datatrail) error {
	if m.Err != nil {
		return m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return domain.ErrNotFound
	}
	rec.Datatrails = append(rec.Datatrails, trail)
	return nil
}

func (m *MockIntegrationStore) DeleteByUserAndType(ctx context.Context, userID string, t domain.IntegrationType) (int64, error) {
	if m.Err != nil {
		return 0, m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, rec := range m.records {
		if rec.UserID == userID && rec.Type == t {
			delete(m.records, id)
			n++
		}
	}
	return n, nil
}

func (m *MockIntegrationStore) DeleteByID(ctx context.Context, userID, id string) (int64, error) {
	if m.Err != nil {
		return 0, m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok || rec.UserID != userID {
		return 0, nil
	}
	delete(m.records, id)
	return 1, nil
}

func (m *MockIntegrationStore) Ping(ctx context.Context) error {
	return m.Err
}

// Put stores a record directly, bypassing upsert semantics (test setup).
func (m *MockIntegrationStore) Put(integration *domain.Integration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if integration.ID == "" {
		integration.ID = domain.GenerateID()
	}
	m.records[integration.ID] = clone(integration)
}

// Count returns the number of stored records for (user, type).
func (m *MockIntegrationStore) Count(userID string, t domain.IntegrationType) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, rec := range m.records {
		if rec.UserID == userID && rec.Type == t {
			n++
		}
	}
	return n
}

func sameInstant(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
