package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/custodia-labs/integrations-core/internal/core/ports/driven"
)

var _ driven.OAuthStateStore = (*MockOAuthStateStore)(nil)

// MockOAuthStateStore holds pending states in memory.
type MockOAuthStateStore struct {
	mu      sync.Mutex
	pending map[string]driven.OAuthState

	// CleanupErr, when set, fails every Cleanup.
	CleanupErr   error
	cleanupCalls int
}

func NewMockOAuthStateStore() *MockOAuthStateStore {
	return &MockOAuthStateStore{pending: map[string]driven.OAuthState{}}
}

func (m *MockOAuthStateStore) Save(_ context.Context, s *driven.OAuthState) error {
	s.Stamp(time.Now())
	m.mu.Lock()
	m.pending[s.State] = *s
	m.mu.Unlock()
	return nil
}

func (m *MockOAuthStateStore) GetAndDelete(_ context.Context, state string) (*driven.OAuthState, error) {
	m.mu.Lock()
	s, ok := m.pending[state]
	delete(m.pending, state)
	m.mu.Unlock()

	if !ok || s.Expired(time.Now()) {
		return nil, nil
	}
	return &s, nil
}

func (m *MockOAuthStateStore) Cleanup(context.Context) error {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleanupCalls++
	if m.CleanupErr != nil {
		return m.CleanupErr
	}
	for key, s := range m.pending {
		if s.Expired(now) {
			delete(m.pending, key)
		}
	}
	return nil
}

// Len counts stored states, expired ones included.
func (m *MockOAuthStateStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// CleanupCalls counts Cleanup invocations.
func (m *MockOAuthStateStore) CleanupCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cleanupCalls
}
