package mocks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/custodia-labs/integrations-core/internal/core/ports/driven"
)

var _ driven.DistributedLock = (*MockDistributedLock)(nil)

// MockDistributedLock keeps leases in a map with real expiry times.
type MockDistributedLock struct {
	mu    sync.Mutex
	until map[string]time.Time

	// AcquireFn, ReleaseFn and PingFn replace the built-in behaviour when set.
	AcquireFn func(name string, ttl time.Duration) (bool, error)
	ReleaseFn func(name string) error
	PingFn    func() error

	AcquireCalls int
	ReleaseCalls int
	extendCalls  int
}

func NewMockDistributedLock() *MockDistributedLock {
	return &MockDistributedLock{until: map[string]time.Time{}}
}

func (m *MockDistributedLock) heldLocked(name string) bool {
	deadline, ok := m.until[name]
	return ok && time.Now().Before(deadline)
}

func (m *MockDistributedLock) Acquire(_ context.Context, name string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	m.AcquireCalls++
	fn := m.AcquireFn
	if fn == nil && !m.heldLocked(name) {
		m.until[name] = time.Now().Add(ttl)
		m.mu.Unlock()
		return true, nil
	}
	m.mu.Unlock()

	if fn != nil {
		return fn(name, ttl)
	}
	return false, nil
}

func (m *MockDistributedLock) Release(_ context.Context, name string) error {
	m.mu.Lock()
	m.ReleaseCalls++
	fn := m.ReleaseFn
	if fn == nil {
		delete(m.until, name)
	}
	m.mu.Unlock()

	if fn != nil {
		return fn(name)
	}
	return nil
}

func (m *MockDistributedLock) Extend(_ context.Context, name string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.extendCalls++
	if !m.heldLocked(name) {
		return fmt.Errorf("lease %s not held", name)
	}
	m.until[name] = time.Now().Add(ttl)
	return nil
}

func (m *MockDistributedLock) Ping(context.Context) error {
	if m.PingFn == nil {
		return nil
	}
	return m.PingFn()
}

// IsHeld reports whether name is leased and unexpired.
func (m *MockDistributedLock) IsHeld(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.heldLocked(name)
}

// SetLockHeld makes name look leased by someone else for ttl.
func (m *MockDistributedLock) SetLockHeld(name string, ttl time.Duration) {
	m.mu.Lock()
	m.until[name] = time.Now().Add(ttl)
	m.mu.Unlock()
}

// ExtendCalls counts Extend invocations.
func (m *MockDistributedLock) ExtendCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.extendCalls
}
